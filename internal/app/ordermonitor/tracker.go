// Package ordermonitor turns successive order snapshots into deduplicated
// lifecycle notifications.
package ordermonitor

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/coachpo/arbwatch/internal/domain/schema"
	"github.com/coachpo/arbwatch/internal/observability"
)

var (
	// FillEpsilon is the smallest filled-quantity change that counts as a fill.
	FillEpsilon = decimal.New(1, -8)
	// FilledRemainder is the remaining fraction at or below which an order is
	// reported as filled rather than partially filled.
	FilledRemainder = decimal.New(1, -2)
)

// Scope is the monitoring context a snapshot is evaluated against.
type Scope struct {
	ID          string
	Instruments []schema.Instrument
	// Lookback drops orders placed earlier than now-Lookback from the
	// initial pass; dropped orders stay ignored until Reset. Zero keeps
	// everything.
	Lookback time.Duration
}

// Tracker holds per-order state between polls. Not safe for concurrent use.
type Tracker struct {
	orders      map[string]schema.MonitoredOrder
	stale       map[string]struct{}
	dedup       *DedupGuard
	initialized bool
	now         func() time.Time
	newID       func() string
	logger      observability.Logger
}

// Option customises a Tracker.
type Option func(*Tracker)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// WithIDs overrides notification ID generation.
func WithIDs(newID func() string) Option {
	return func(t *Tracker) {
		if newID != nil {
			t.newID = newID
		}
	}
}

// WithLogger sets the tracker logger.
func WithLogger(logger observability.Logger) Option {
	return func(t *Tracker) {
		t.logger = observability.OrGlobal(logger)
	}
}

// NewTracker returns a tracker awaiting its initial pass.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		orders: make(map[string]schema.MonitoredOrder),
		stale:  make(map[string]struct{}),
		dedup:  NewDedupGuard(),
		now:    time.Now,
		newID:  uuid.NewString,
		logger: observability.Log(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t
}

// Reset drops tracked orders and the dedup set; the next Observe is an
// initial pass again.
func (t *Tracker) Reset() {
	t.orders = make(map[string]schema.MonitoredOrder)
	t.stale = make(map[string]struct{})
	t.dedup.Reset()
	t.initialized = false
}

// Len returns the number of tracked orders.
func (t *Tracker) Len() int { return len(t.orders) }

// Tracked returns the tracked orders sorted by ID.
func (t *Tracker) Tracked() []schema.MonitoredOrder {
	out := make([]schema.MonitoredOrder, 0, len(t.orders))
	for _, o := range t.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out
}

// IsTracked reports whether orderID is tracked.
func (t *Tracker) IsTracked(orderID string) bool {
	_, ok := t.orders[orderID]
	return ok
}

// Observe applies one poll snapshot and returns the notifications to forward,
// already filtered through the dedup guard. An order yields at most one
// notification per call.
func (t *Tracker) Observe(scope Scope, snapshot []schema.Order) []schema.Notification {
	now := t.now()
	initial := !t.initialized
	t.initialized = true

	matcher := NewMatcher(scope.Instruments)
	current := make(map[string]schema.Order, len(snapshot))
	for _, o := range snapshot {
		id := strings.TrimSpace(o.OrderID)
		if id == "" {
			continue
		}
		inst, kind := matcher.Match(o)
		if kind == NoMatch {
			continue
		}
		if kind == LooseMatch {
			t.logger.Debug("order matched ignoring segment",
				observability.F("scope", scope.ID),
				observability.F("order_id", id),
				observability.F("symbol", o.Symbol),
				observability.F("instrument", inst.Symbol))
		}
		o.OrderID = id
		current[id] = o
	}

	var out []schema.Notification
	emit := func(n schema.Notification) {
		if !t.dedup.Admit(n) {
			return
		}
		out = append(out, n)
	}

	for _, id := range sortedIDs(t.orders) {
		prev := t.orders[id]
		o, ok := current[id]
		if !ok {
			delete(t.orders, id)
			t.logger.Info("tracked order no longer reported",
				observability.F("scope", scope.ID),
				observability.F("order_id", id),
				observability.F("last_status", string(prev.Status)))
			continue
		}
		delete(current, id)

		n, changed, next := t.advance(scope.ID, prev, o, now)
		if changed {
			emit(n)
		}
		if next.Status.Terminal() {
			delete(t.orders, id)
			continue
		}
		t.orders[id] = next
	}

	cutoff := time.Time{}
	if initial && scope.Lookback > 0 {
		cutoff = now.Add(-scope.Lookback)
	}
	for id := range t.stale {
		if _, ok := current[id]; !ok {
			delete(t.stale, id)
		}
	}
	for _, id := range sortedOrderIDs(current) {
		o := current[id]
		if _, ok := t.stale[id]; ok {
			continue
		}
		if placed := o.PlacedAt(); !cutoff.IsZero() && !placed.IsZero() && placed.Before(cutoff) {
			t.stale[id] = struct{}{}
			continue
		}
		mo := schema.MonitorOrder(o, now)
		if mo.Status.Terminal() {
			emit(t.notification(scope.ID, mo, schema.StatusNotificationType(mo.Status), statusDescription(mo.Status), mo.Filled, now))
			continue
		}
		t.orders[id] = mo
		emit(t.notification(scope.ID, mo, schema.NotifyCreated, createdDescription(mo), decimal.Zero, now))
	}
	return out
}

// advance compares a tracked order with its latest snapshot entry.
func (t *Tracker) advance(scopeID string, prev schema.MonitoredOrder, o schema.Order, now time.Time) (schema.Notification, bool, schema.MonitoredOrder) {
	next := prev
	next.Status = o.NormalizedStatus()
	next.Filled = o.Filled
	if !o.Amount.IsZero() {
		next.Requested = o.Amount
	}
	if !o.Price.IsZero() {
		next.Price = o.Price
	}
	next.UpdatedAt = now

	delta := o.Filled.Sub(prev.Filled)
	filledMoved := delta.Abs().GreaterThan(FillEpsilon)

	if next.Status != prev.Status {
		if !filledMoved {
			delta = decimal.Zero
		}
		return t.notification(scopeID, next, schema.StatusNotificationType(next.Status), statusDescription(next.Status), delta, now), true, next
	}
	if filledMoved {
		typ := schema.NotifyPartialFilled
		if fullyFilled(next.Filled, next.Requested) {
			typ = schema.NotifyFilled
		}
		desc := fmt.Sprintf("filled %s (%s of %s)", delta.String(), next.Filled.String(), next.Requested.String())
		return t.notification(scopeID, next, typ, desc, delta, now), true, next
	}
	return schema.Notification{}, false, next
}

func (t *Tracker) notification(scopeID string, mo schema.MonitoredOrder, typ schema.NotificationType, desc string, delta decimal.Decimal, now time.Time) schema.Notification {
	return schema.Notification{
		ID:          t.newID(),
		Scope:       scopeID,
		OrderID:     mo.OrderID,
		Provider:    mo.Provider,
		Instrument:  mo.Instrument,
		Side:        mo.Side,
		Type:        typ,
		Description: desc,
		FilledDelta: delta,
		Price:       mo.Price,
		Severity:    severityOf(typ),
		At:          now,
	}
}

// fullyFilled reports whether remaining quantity is at most 1% of requested.
func fullyFilled(filled, requested decimal.Decimal) bool {
	if !requested.IsPositive() {
		return true
	}
	remaining := requested.Sub(filled)
	return remaining.LessThanOrEqual(requested.Mul(FilledRemainder))
}

func statusDescription(status schema.OrderStatus) string {
	return "status changed to " + string(status)
}

func createdDescription(mo schema.MonitoredOrder) string {
	side := mo.Side
	if side == "" {
		side = "order"
	}
	return fmt.Sprintf("%s %s %s @ %s", side, mo.Requested.String(), mo.Instrument, mo.Price.String())
}

func severityOf(typ schema.NotificationType) string {
	switch typ {
	case schema.NotifyCanceled, schema.NotifyExpired, schema.NotifyWarning:
		return schema.SeverityWarn
	case schema.NotifyRejected, schema.NotifyError:
		return schema.SeverityError
	default:
		return schema.SeverityInfo
	}
}

func sortedIDs(m map[string]schema.MonitoredOrder) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func sortedOrderIDs(m map[string]schema.Order) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
