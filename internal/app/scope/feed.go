package scope

import (
	"sort"
	"sync"

	"github.com/coachpo/arbwatch/internal/domain/schema"
	"github.com/coachpo/arbwatch/internal/infra/config"
)

// ConfigChange announces a new configuration for one scope.
type ConfigChange struct {
	Previous config.ScopeConfig
	Current  config.ScopeConfig
}

// InstrumentsChanged reports whether the monitored instrument set differs.
func (c ConfigChange) InstrumentsChanged() bool {
	return !sameInstruments(c.Previous.Instruments, c.Current.Instruments)
}

// ConfigFeed is a typed observable of scope configuration changes. Listeners
// run synchronously on the publishing goroutine and must not block.
type ConfigFeed struct {
	mu        sync.RWMutex
	listeners map[int]func(ConfigChange)
	next      int
}

// NewConfigFeed returns a feed with no listeners.
func NewConfigFeed() *ConfigFeed {
	return &ConfigFeed{listeners: make(map[int]func(ConfigChange))}
}

// Subscribe registers fn and returns a function that removes it.
func (f *ConfigFeed) Subscribe(fn func(ConfigChange)) func() {
	f.mu.Lock()
	id := f.next
	f.next++
	f.listeners[id] = fn
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.listeners, id)
			f.mu.Unlock()
		})
	}
}

// Publish delivers change to every listener.
func (f *ConfigFeed) Publish(change ConfigChange) {
	f.mu.RLock()
	listeners := make([]func(ConfigChange), 0, len(f.listeners))
	for _, fn := range f.listeners {
		listeners = append(listeners, fn)
	}
	f.mu.RUnlock()
	for _, fn := range listeners {
		fn(change)
	}
}

func sameInstruments(a, b []schema.Instrument) bool {
	if len(a) != len(b) {
		return false
	}
	key := func(in []schema.Instrument) []string {
		out := make([]string, 0, len(in))
		for _, inst := range in {
			n := inst.Normalized()
			out = append(out, n.Provider+"|"+n.Symbol+"|"+n.Segment)
		}
		sort.Strings(out)
		return out
	}
	ka, kb := key(a), key(b)
	for i := range ka {
		if ka[i] != kb[i] {
			return false
		}
	}
	return true
}
