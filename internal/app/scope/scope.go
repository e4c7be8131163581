// Package scope runs isolated monitoring contexts. Each Scope owns its order
// tracker, its position list and its notification history, and only the
// active scope polls collaborators.
package scope

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"

	"github.com/coachpo/arbwatch/errs"
	"github.com/coachpo/arbwatch/internal/app/ordermonitor"
	"github.com/coachpo/arbwatch/internal/app/positionmonitor"
	"github.com/coachpo/arbwatch/internal/domain/schema"
	"github.com/coachpo/arbwatch/internal/infra/config"
	"github.com/coachpo/arbwatch/internal/observability"
)

const (
	opOrders    = "orders"
	opPositions = "positions"

	condNoCredentials = "no_credentials"
	condNoInstruments = "no_instruments"

	defaultOrderInterval    = 5 * time.Second
	defaultPositionInterval = 10 * time.Second
	seedConcurrency         = 4
)

var errStopped = errs.New("scope", errs.CodeUnavailable, errs.WithMessage("scope stopped"))

// OrderQuerier returns a snapshot of orders for the monitored instruments.
type OrderQuerier interface {
	QueryOrders(ctx context.Context, instruments []schema.Instrument, creds []schema.Credential) ([]schema.Order, error)
}

// PositionQuerier returns raw position records for the configured accounts.
type PositionQuerier interface {
	QueryPositions(ctx context.Context, creds []schema.Credential) ([]schema.PositionRecord, error)
}

// PriceQuerier returns last prices for a batch of pairs.
type PriceQuerier interface {
	QueryPrices(ctx context.Context, symbols []schema.SymbolRef) (schema.PriceTable, error)
}

// CredentialSource exposes the configured credential references.
type CredentialSource interface {
	Credentials() []schema.Credential
}

// Sink receives every forwarded notification.
type Sink interface {
	Record(n schema.Notification)
}

// Deps are the collaborators shared by every scope.
type Deps struct {
	Orders      OrderQuerier
	Positions   PositionQuerier
	Prices      PriceQuerier
	Credentials CredentialSource
	Cache       *positionmonitor.PriceCache
	Feed        *ConfigFeed
	Sink        Sink
	Logger      observability.Logger
	Now         func() time.Time
	NewID       func() string
}

// Options tune polling cadence and history size.
type Options struct {
	OrderInterval    time.Duration
	PositionInterval time.Duration
	HistoryLimit     int
}

// View is a point-in-time snapshot of a scope for display.
type View struct {
	ID               string                  `json:"id"`
	Name             string                  `json:"name,omitempty"`
	Active           bool                    `json:"active"`
	Config           config.ScopeConfig      `json:"config"`
	Positions        []schema.Position       `json:"positions"`
	PriceOnly        bool                    `json:"priceOnly"`
	PositionsError   string                  `json:"positionsError,omitempty"`
	OrdersError      string                  `json:"ordersError,omitempty"`
	TrackedOrders    []schema.MonitoredOrder `json:"trackedOrders"`
	LastOrderPoll    time.Time               `json:"lastOrderPoll"`
	LastPositionPoll time.Time               `json:"lastPositionPoll"`
	SkippedPolls     int                     `json:"skippedPolls"`
	UpdatedAt        time.Time               `json:"updatedAt"`
}

// Scope is an actor: all mutable state below the divider is touched only by
// the Run goroutine.
type Scope struct {
	id      string
	deps    Deps
	logger  observability.Logger
	history *History
	metrics *scopeMetrics

	ops     chan func()
	stopped chan struct{}
	running atomic.Bool
	pending atomic.Bool

	watchMu  sync.Mutex
	watchers map[chan positionmonitor.Update]struct{}

	// actor state
	runCtx   context.Context
	cfg      config.ScopeConfig
	active   bool
	tracker  *ordermonitor.Tracker
	merger   *positionmonitor.Merger
	orders   *poller
	position *poller
	warned   map[string]bool
	ordErr   error
	posErr   error
	last     positionmonitor.Update
}

// New builds a scope for cfg. Call Run before issuing commands.
func New(cfg config.ScopeConfig, deps Deps, opts Options) *Scope {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}
	if deps.Cache == nil {
		deps.Cache = positionmonitor.NewPriceCache(cfg.Quote)
	}
	if opts.OrderInterval <= 0 {
		opts.OrderInterval = defaultOrderInterval
	}
	if opts.PositionInterval <= 0 {
		opts.PositionInterval = defaultPositionInterval
	}
	logger := observability.OrGlobal(deps.Logger)

	s := &Scope{
		id:       cfg.ID,
		deps:     deps,
		logger:   logger,
		history:  NewHistory(opts.HistoryLimit),
		metrics:  newScopeMetrics(cfg.ID),
		ops:      make(chan func(), 64),
		stopped:  make(chan struct{}),
		watchers: make(map[chan positionmonitor.Update]struct{}),
		cfg:      cfg.Clone(),
		tracker: ordermonitor.NewTracker(
			ordermonitor.WithClock(deps.Now),
			ordermonitor.WithIDs(deps.NewID),
			ordermonitor.WithLogger(logger),
		),
		merger: positionmonitor.NewMerger(deps.Now),
		warned: make(map[string]bool),
	}
	s.orders = &poller{
		name:     opOrders,
		interval: opts.OrderInterval,
		plan:     s.planOrders,
		post:     s.post,
		observe:  s.metrics.observePoll,
		onSkip:   s.metrics.recordSkip,
	}
	s.position = &poller{
		name:     opPositions,
		interval: opts.PositionInterval,
		plan:     s.planPositions,
		post:     s.post,
		observe:  s.metrics.observePoll,
		onSkip:   s.metrics.recordSkip,
	}
	return s
}

// ID returns the scope identifier.
func (s *Scope) ID() string { return s.id }

// History returns the scope's notification log.
func (s *Scope) History() *History { return s.history }

// Run processes commands until ctx is cancelled.
func (s *Scope) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errs.New("scope", errs.CodeInvalid, errs.WithMessage("scope already running"))
	}
	s.runCtx = ctx
	if s.deps.Feed != nil {
		unsubscribe := s.deps.Feed.Subscribe(func(change ConfigChange) {
			if change.Current.ID != s.id {
				return
			}
			s.post(func() { s.applyConfig(change) })
		})
		defer unsubscribe()
	}
	defer s.shutdown()

	for {
		select {
		case <-ctx.Done():
			return nil
		case fn := <-s.ops:
			fn()
		}
	}
}

// Activate starts polling. Tracking always starts from an empty state.
func (s *Scope) Activate(ctx context.Context) error {
	return s.do(ctx, func() {
		if s.active {
			return
		}
		s.active = true
		s.tracker.Reset()
		s.warned = make(map[string]bool)
		s.orders.start(s.runCtx)
		s.position.start(s.runCtx)
		s.logger.Info("scope activated", observability.F("scope", s.id))
	})
}

// Deactivate stops polling and forgets tracked orders. History is kept.
func (s *Scope) Deactivate(ctx context.Context) error {
	return s.do(ctx, func() {
		if !s.active {
			return
		}
		s.active = false
		s.orders.stop()
		s.position.stop()
		s.tracker.Reset()
		s.logger.Info("scope deactivated", observability.F("scope", s.id))
	})
}

// PollNow triggers both polls immediately. A poll already in flight is
// skipped rather than queued.
func (s *Scope) PollNow(ctx context.Context) error {
	return s.do(ctx, func() {
		s.orders.trigger()
		s.position.trigger()
	})
}

// PriceChanged requests a price overlay. Calls coalesce while one is queued,
// and it never blocks the caller.
func (s *Scope) PriceChanged() {
	if !s.pending.CompareAndSwap(false, true) {
		return
	}
	select {
	case s.ops <- func() {
		s.pending.Store(false)
		s.overlay()
	}:
	default:
		s.pending.Store(false)
	}
}

// View returns a snapshot of the scope state.
func (s *Scope) View(ctx context.Context) (View, error) {
	var v View
	err := s.do(ctx, func() {
		v = View{
			ID:               s.id,
			Name:             s.cfg.Name,
			Active:           s.active,
			Config:           s.cfg.Clone(),
			Positions:        s.merger.Positions(),
			PriceOnly:        s.last.PriceOnly,
			TrackedOrders:    s.tracker.Tracked(),
			LastOrderPoll:    s.orders.lastRun,
			LastPositionPoll: s.position.lastRun,
			SkippedPolls:     s.orders.skipped + s.position.skipped,
			UpdatedAt:        s.last.At,
		}
		if s.posErr != nil {
			v.PositionsError = s.posErr.Error()
		}
		if s.ordErr != nil {
			v.OrdersError = s.ordErr.Error()
		}
	})
	return v, err
}

// Updates streams position updates until ctx is done. Slow readers miss
// intermediate updates.
func (s *Scope) Updates(ctx context.Context) <-chan positionmonitor.Update {
	ch := make(chan positionmonitor.Update, 8)
	s.watchMu.Lock()
	s.watchers[ch] = struct{}{}
	s.watchMu.Unlock()
	go func() {
		<-ctx.Done()
		s.watchMu.Lock()
		delete(s.watchers, ch)
		s.watchMu.Unlock()
		close(ch)
	}()
	return ch
}

func (s *Scope) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	wrapped := func() {
		defer close(done)
		fn()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopped:
		return errStopped
	case s.ops <- wrapped:
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopped:
		return errStopped
	case <-done:
		return nil
	}
}

func (s *Scope) post(fn func()) bool {
	select {
	case <-s.stopped:
		return false
	case s.ops <- fn:
		return true
	}
}

func (s *Scope) shutdown() {
	s.orders.stop()
	s.position.stop()
	close(s.stopped)
}

func (s *Scope) applyConfig(change ConfigChange) {
	s.cfg = change.Current.Clone()
	if !change.InstrumentsChanged() {
		return
	}
	s.tracker.Reset()
	if s.active {
		s.orders.start(s.runCtx)
		s.position.start(s.runCtx)
	}
	s.logger.Info("scope instruments changed",
		observability.F("scope", s.id),
		observability.F("instruments", len(s.cfg.Instruments)))
}

func (s *Scope) planOrders() job {
	cfg := s.cfg.Clone()
	creds := usable(s.deps.Credentials)
	if len(creds) == 0 {
		return s.configJob(condNoCredentials, "no usable credentials configured; order and position polling paused")
	}
	s.clearWarning(condNoCredentials)
	if len(cfg.Instruments) == 0 {
		return s.configJob(condNoInstruments, "no instruments configured; order polling paused")
	}
	s.clearWarning(condNoInstruments)
	if s.deps.Orders == nil {
		return nil
	}

	querier := s.deps.Orders
	return func(ctx context.Context) func() {
		orders, err := querier.QueryOrders(ctx, cfg.Instruments, creds)
		return func() { s.applyOrders(cfg, orders, err) }
	}
}

func (s *Scope) applyOrders(cfg config.ScopeConfig, orders []schema.Order, err error) {
	if err != nil {
		s.ordErr = err
		s.metrics.recordResult(opOrders, "error")
		s.logger.Warn("order poll failed", observability.F("scope", s.id), observability.Err(err))
		return
	}
	s.ordErr = nil
	s.metrics.recordResult(opOrders, "ok")
	notes := s.tracker.Observe(ordermonitor.Scope{
		ID:          s.id,
		Instruments: cfg.Instruments,
		Lookback:    cfg.Lookback,
	}, orders)
	for _, n := range notes {
		s.forward(n)
	}
}

func (s *Scope) planPositions() job {
	quote := s.cfg.Quote
	creds := usable(s.deps.Credentials)
	if len(creds) == 0 {
		return s.configJob(condNoCredentials, "no usable credentials configured; order and position polling paused")
	}
	if s.deps.Positions == nil {
		return nil
	}

	querier := s.deps.Positions
	return func(ctx context.Context) func() {
		records, err := querier.QueryPositions(ctx, creds)
		if err != nil {
			return func() { s.applyPositions(nil, err) }
		}
		positions := positionmonitor.Aggregate(records, quote, s.deps.Now())
		s.seedPrices(ctx, positions, quote)
		return func() { s.applyPositions(positions, nil) }
	}
}

func (s *Scope) applyPositions(positions []schema.Position, err error) {
	if err != nil {
		s.posErr = err
		s.metrics.recordResult(opPositions, "error")
		s.logger.Warn("position poll failed", observability.F("scope", s.id), observability.Err(err))
		s.publish(s.merger.Clear(err))
		return
	}
	s.posErr = nil
	s.metrics.recordResult(opPositions, "ok")
	s.publish(s.merger.Replace(positions, s.prices()))
}

// seedPrices fills cache gaps for positions no stream has priced yet.
func (s *Scope) seedPrices(ctx context.Context, positions []schema.Position, quote string) {
	if s.deps.Prices == nil || len(positions) == 0 {
		return
	}
	byExchange := make(map[string][]schema.SymbolRef)
	segments := make(map[string]string)
	for _, p := range positions {
		if _, ok := s.deps.Cache.LookupFor(p, quote); ok {
			continue
		}
		keys := positionmonitor.PriceKeys(p, quote)
		if len(keys) == 0 {
			continue
		}
		k := keys[0]
		byExchange[k.Provider] = append(byExchange[k.Provider], schema.SymbolRef{Exchange: k.Provider, Symbol: k.Pair})
		segments[k.Provider+"|"+k.Pair] = k.Segment
	}
	if len(byExchange) == 0 {
		return
	}

	querier := s.deps.Prices
	p := pool.New().WithContext(ctx).WithMaxGoroutines(seedConcurrency)
	for exchange, refs := range byExchange {
		p.Go(func(ctx context.Context) error {
			table, err := querier.QueryPrices(ctx, refs)
			if err != nil {
				return err
			}
			now := s.deps.Now()
			for pair, price := range table[exchange] {
				segment, ok := segments[exchange+"|"+pair]
				if !ok {
					segment = seedSegment(pair)
				}
				s.deps.Cache.Set(exchange, segment, pair, price, now)
			}
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		s.logger.Debug("price seeding incomplete", observability.F("scope", s.id), observability.Err(err))
	}
}

// seedSegment guesses the segment of a pair the price collaborator echoed
// back in a different spelling.
func seedSegment(pair string) string {
	if schema.HasSettlement(pair) {
		return schema.SegmentFutures
	}
	return schema.SegmentSpot
}

// prices binds the shared cache to this scope's quote currency.
func (s *Scope) prices() positionmonitor.PriceLookup {
	return s.deps.Cache.For(s.cfg.Quote)
}

func (s *Scope) overlay() {
	if !s.active {
		return
	}
	up, ok := s.merger.Overlay(s.prices())
	if !ok {
		return
	}
	s.metrics.recordOverlay()
	s.publish(up)
}

func (s *Scope) publish(up positionmonitor.Update) {
	s.last = up
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	for ch := range s.watchers {
		select {
		case ch <- up:
		default:
		}
	}
}

func (s *Scope) forward(n schema.Notification) {
	s.history.Add(n)
	if s.deps.Sink != nil {
		s.deps.Sink.Record(n)
	}
	s.metrics.recordNotification(n.Type)
	s.logger.Info("notification",
		observability.F("scope", n.Scope),
		observability.F("type", string(n.Type)),
		observability.F("order_id", n.OrderID),
		observability.F("description", n.Description))
}

// configJob emits one warning per condition until the condition clears.
func (s *Scope) configJob(cond, message string) job {
	if s.warned[cond] {
		return nil
	}
	s.warned[cond] = true
	err := errs.New("scope", errs.CodeConfiguration, errs.WithMessage(message), errs.WithField("scope", s.id))
	s.logger.Warn("scope misconfigured", observability.F("scope", s.id), observability.Err(err))
	s.forward(schema.Notification{
		ID:          s.deps.NewID(),
		Scope:       s.id,
		Type:        schema.NotifyWarning,
		Description: message,
		Severity:    schema.SeverityWarn,
		At:          s.deps.Now(),
	})
	return nil
}

func (s *Scope) clearWarning(cond string) {
	delete(s.warned, cond)
}

func usable(src CredentialSource) []schema.Credential {
	if src == nil {
		return nil
	}
	all := src.Credentials()
	out := make([]schema.Credential, 0, len(all))
	for _, c := range all {
		if c.Usable() {
			out = append(out, c)
		}
	}
	return out
}

// IsStopped reports whether err came from a stopped scope.
func IsStopped(err error) bool {
	return errors.Is(err, errStopped)
}
