package scope

import (
	"sync"

	"github.com/coachpo/arbwatch/internal/domain/schema"
)

// DefaultHistoryLimit bounds each scope's notification log.
const DefaultHistoryLimit = 500

// History is a bounded, newest-last ring of notifications. It survives scope
// switches and is safe for concurrent readers.
type History struct {
	mu    sync.RWMutex
	buf   []schema.Notification
	start int
	size  int
}

// NewHistory allocates a ring holding up to limit entries.
func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &History{buf: make([]schema.Notification, limit)}
}

// Add appends n, evicting the oldest entry when full.
func (h *History) Add(n schema.Notification) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.size < len(h.buf) {
		h.buf[(h.start+h.size)%len(h.buf)] = n
		h.size++
		return
	}
	h.buf[h.start] = n
	h.start = (h.start + 1) % len(h.buf)
}

// Recent returns up to limit entries, newest first. limit <= 0 returns all.
func (h *History) Recent(limit int) []schema.Notification {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if limit <= 0 || limit > h.size {
		limit = h.size
	}
	out := make([]schema.Notification, 0, limit)
	for i := 0; i < limit; i++ {
		idx := (h.start + h.size - 1 - i) % len(h.buf)
		out = append(out, h.buf[idx])
	}
	return out
}

// Len returns the number of retained entries.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.size
}
