package ordermonitor

import "github.com/coachpo/arbwatch/internal/domain/schema"

// DedupKey identifies one forwarded transition.
type DedupKey struct {
	OrderID     string
	Type        schema.NotificationType
	Description string
}

// KeyOf derives the dedup key of a notification.
func KeyOf(n schema.Notification) DedupKey {
	return DedupKey{OrderID: n.OrderID, Type: n.Type, Description: n.Description}
}

// DedupGuard remembers forwarded transitions until reset.
// Not safe for concurrent use; the owning scope serialises access.
type DedupGuard struct {
	seen map[DedupKey]struct{}
}

// NewDedupGuard returns an empty guard.
func NewDedupGuard() *DedupGuard {
	return &DedupGuard{seen: make(map[DedupKey]struct{})}
}

// Admit records n and reports whether it was not seen before.
func (g *DedupGuard) Admit(n schema.Notification) bool {
	key := KeyOf(n)
	if _, ok := g.seen[key]; ok {
		return false
	}
	g.seen[key] = struct{}{}
	return true
}

// Seen reports whether key was already admitted.
func (g *DedupGuard) Seen(key DedupKey) bool {
	_, ok := g.seen[key]
	return ok
}

// Reset forgets every admitted key.
func (g *DedupGuard) Reset() {
	g.seen = make(map[DedupKey]struct{})
}

// Len returns the number of remembered keys.
func (g *DedupGuard) Len() int { return len(g.seen) }
