package scope

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/coachpo/arbwatch/errs"
	"github.com/coachpo/arbwatch/internal/app/positionmonitor"
	"github.com/coachpo/arbwatch/internal/domain/schema"
	"github.com/coachpo/arbwatch/internal/domain/subscription"
	"github.com/coachpo/arbwatch/internal/infra/config"
	"github.com/coachpo/arbwatch/internal/infra/stream"
	"github.com/coachpo/arbwatch/internal/observability"
)

// StreamController is the subset of *stream.Controller the supervisor drives.
type StreamController interface {
	Channel() subscription.Channel
	Run(ctx context.Context) error
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Reconnect(ctx context.Context) error
	SetDesired(ctx context.Context, keys []subscription.Key) error
	State() stream.State
	Active() []subscription.Key
	Desired() []subscription.Key
}

// SupervisorDeps wires the supervisor to configuration, collaborators and streams.
type SupervisorDeps struct {
	Store       *config.AppConfigStore
	Orders      OrderQuerier
	Positions   PositionQuerier
	Prices      PriceQuerier
	Cache       *positionmonitor.PriceCache
	Sink        Sink
	Logger      observability.Logger
	Now         func() time.Time
	NewID       func() string
	Options     Options
	Controllers []StreamController
}

// ConnectionView summarises one stream connection.
type ConnectionView struct {
	Channel subscription.Channel `json:"channel"`
	State   string               `json:"state"`
	Active  []string             `json:"active"`
	Desired []string             `json:"desired"`
}

// Supervisor owns every scope and keeps the stream subscriptions in line with
// the active scope's instruments.
type Supervisor struct {
	deps   SupervisorDeps
	logger observability.Logger
	feed   *ConfigFeed

	// switchMu serialises Activate and UpdateConfig; mu guards the maps and
	// is never held across scope or stream round-trips.
	switchMu    sync.Mutex
	mu          sync.Mutex
	scopes      map[string]*Scope
	controllers map[subscription.Channel]StreamController
	active      string
	runCtx      context.Context
	wg          conc.WaitGroup

	activeScope atomic.Pointer[Scope]
}

// NewSupervisor validates deps and builds a supervisor. Call Run to start it.
func NewSupervisor(deps SupervisorDeps) (*Supervisor, error) {
	if deps.Store == nil {
		return nil, errs.New("scope/supervisor", errs.CodeInvalid, errs.WithMessage("config store required"))
	}
	if deps.Cache == nil {
		deps.Cache = positionmonitor.NewPriceCache(schema.DefaultQuote)
	}
	s := &Supervisor{
		deps:        deps,
		logger:      observability.OrGlobal(deps.Logger),
		feed:        NewConfigFeed(),
		scopes:      make(map[string]*Scope),
		controllers: make(map[subscription.Channel]StreamController),
	}
	for _, c := range deps.Controllers {
		if err := s.Attach(c); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Attach registers a stream controller. It must be called before Run.
func (s *Supervisor) Attach(c StreamController) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runCtx != nil {
		return errs.New("scope/supervisor", errs.CodeInvalid, errs.WithMessage("supervisor already running"))
	}
	if _, exists := s.controllers[c.Channel()]; exists {
		return errs.New("scope/supervisor", errs.CodeInvalid,
			errs.WithMessage("duplicate controller"), errs.WithField("channel", string(c.Channel())))
	}
	s.controllers[c.Channel()] = c
	return nil
}

// Feed returns the configuration change feed.
func (s *Supervisor) Feed() *ConfigFeed { return s.feed }

// Cache returns the shared price cache.
func (s *Supervisor) Cache() *positionmonitor.PriceCache { return s.deps.Cache }

// Run starts every controller and scope, connects the streams, activates the
// configured scope and blocks until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.runCtx != nil {
		s.mu.Unlock()
		return errs.New("scope/supervisor", errs.CodeInvalid, errs.WithMessage("supervisor already running"))
	}
	s.runCtx = ctx
	for _, c := range s.controllers {
		s.wg.Go(func() {
			if err := c.Run(ctx); err != nil {
				s.logger.Error("stream controller stopped", observability.F("channel", string(c.Channel())), observability.Err(err))
			}
		})
	}
	for _, cfg := range s.deps.Store.Snapshot().Scopes {
		s.spawnLocked(cfg)
	}
	controllers := s.controllerList()
	s.mu.Unlock()

	for _, c := range controllers {
		if err := c.Connect(ctx); err != nil {
			s.logger.Warn("stream connect failed", observability.F("channel", string(c.Channel())), observability.Err(err))
		}
	}
	if id := s.deps.Store.Snapshot().ActiveScope; id != "" {
		if err := s.Activate(ctx, id); err != nil {
			s.logger.Warn("initial scope activation failed", observability.F("scope", id), observability.Err(err))
		}
	}

	<-ctx.Done()
	s.wg.Wait()
	return nil
}

// Activate switches monitoring to scope id. The previous scope stops polling
// and forgets its tracked orders; its history stays.
func (s *Supervisor) Activate(ctx context.Context, id string) error {
	s.switchMu.Lock()
	defer s.switchMu.Unlock()

	s.mu.Lock()
	next, ok := s.scopes[id]
	active := s.active
	prev, hasPrev := s.scopes[active]
	s.mu.Unlock()

	if !ok {
		return errs.New("scope/supervisor", errs.CodeNotFound,
			errs.WithMessage("unknown scope"), errs.WithField("scope", id))
	}
	if active == id {
		return nil
	}
	if hasPrev {
		if err := prev.Deactivate(ctx); err != nil {
			return err
		}
	}
	if err := next.Activate(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.active = id
	s.mu.Unlock()
	s.activeScope.Store(next)
	if err := s.deps.Store.SetActiveScope(id); err != nil {
		s.logger.Warn("persist active scope failed", observability.F("scope", id), observability.Err(err))
	}
	cfg, _ := s.deps.Store.Scope(id)
	s.reconcile(ctx, cfg)
	return nil
}

// ActiveID returns the active scope identifier.
func (s *Supervisor) ActiveID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// UpdateConfig stores cfg and propagates it. A new scope is created inactive.
func (s *Supervisor) UpdateConfig(ctx context.Context, cfg config.ScopeConfig) (config.ScopeConfig, error) {
	s.switchMu.Lock()
	defer s.switchMu.Unlock()

	prev, existed := s.deps.Store.Scope(cfg.ID)
	saved, err := s.deps.Store.SetScope(cfg)
	if err != nil {
		return config.ScopeConfig{}, errs.New("scope/supervisor", errs.CodeInvalid,
			errs.WithMessage("invalid scope configuration"), errs.WithField("scope", cfg.ID), errs.WithCause(err))
	}
	if !existed {
		s.mu.Lock()
		if s.runCtx != nil {
			s.spawnLocked(saved)
		}
		s.mu.Unlock()
		return saved, nil
	}
	s.feed.Publish(ConfigChange{Previous: prev, Current: saved})
	if s.ActiveID() == saved.ID {
		s.reconcile(ctx, saved)
	}
	return saved, nil
}

// HandleUpdate routes a stream update into the price cache and nudges the
// active scope when a price moved. It runs on controller goroutines.
func (s *Supervisor) HandleUpdate(u stream.Update) {
	if u.Key.Channel != subscription.ChannelTick && u.Key.Channel != subscription.ChannelCandle {
		return
	}
	price, err := positionmonitor.TickPrice(u.Payload)
	if err != nil {
		s.logger.Debug("update without price", observability.F("key", u.Key.String()), observability.Err(err))
		return
	}
	at := u.ReceivedAt
	if at.IsZero() && s.deps.Now != nil {
		at = s.deps.Now()
	}
	if !s.deps.Cache.Set(u.Key.Provider, u.Key.Segment, u.Key.Instrument, price, at) {
		return
	}
	if sc := s.activeScope.Load(); sc != nil {
		sc.PriceChanged()
	}
}

// Scope looks up a scope by id.
func (s *Supervisor) Scope(id string) (*Scope, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.scopes[id]
	return sc, ok
}

// Views returns a snapshot of every scope, ordered by id.
func (s *Supervisor) Views(ctx context.Context) ([]View, error) {
	s.mu.Lock()
	scopes := make([]*Scope, 0, len(s.scopes))
	for _, sc := range s.scopes {
		scopes = append(scopes, sc)
	}
	s.mu.Unlock()
	sort.Slice(scopes, func(i, j int) bool { return scopes[i].ID() < scopes[j].ID() })

	views := make([]View, 0, len(scopes))
	for _, sc := range scopes {
		v, err := sc.View(ctx)
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, nil
}

// Connections summarises every stream controller.
func (s *Supervisor) Connections() []ConnectionView {
	s.mu.Lock()
	controllers := s.controllerList()
	s.mu.Unlock()

	out := make([]ConnectionView, 0, len(controllers))
	for _, c := range controllers {
		out = append(out, ConnectionView{
			Channel: c.Channel(),
			State:   c.State().String(),
			Active:  keyStrings(c.Active()),
			Desired: keyStrings(c.Desired()),
		})
	}
	return out
}

// Reconnect forces the controller for channel to redial.
func (s *Supervisor) Reconnect(ctx context.Context, channel subscription.Channel) error {
	s.mu.Lock()
	c, ok := s.controllers[channel]
	s.mu.Unlock()
	if !ok {
		return errs.New("scope/supervisor", errs.CodeNotFound,
			errs.WithMessage("unknown channel"), errs.WithField("channel", string(channel)))
	}
	return c.Reconnect(ctx)
}

// DesiredKeys derives the subscription keys a scope needs, per channel.
// Instruments that cannot form a valid key are skipped.
func DesiredKeys(cfg config.ScopeConfig) map[subscription.Channel][]subscription.Key {
	out := make(map[subscription.Channel][]subscription.Key)
	add := func(key subscription.Key, err error) {
		if err != nil {
			return
		}
		out[key.Channel] = append(out[key.Channel], key)
	}
	for _, inst := range cfg.Instruments {
		n := inst.Normalized()
		add(subscription.TickKey(n.Provider, n.Symbol, n.Segment))
		for _, iv := range cfg.CandleIntervals {
			add(subscription.NewKey(n.Provider, n.Symbol, n.Segment, subscription.ChannelCandle, iv, 0))
		}
		for _, lv := range cfg.DepthLevels {
			add(subscription.NewKey(n.Provider, n.Symbol, n.Segment, subscription.ChannelDepth, "", lv))
		}
	}
	return out
}

// reconcile pushes cfg's keys to every controller. Callers hold switchMu.
func (s *Supervisor) reconcile(ctx context.Context, cfg config.ScopeConfig) {
	keys := DesiredKeys(cfg)
	s.mu.Lock()
	controllers := s.controllerList()
	s.mu.Unlock()

	var failures []error
	for _, c := range controllers {
		channel := c.Channel()
		if err := c.SetDesired(ctx, keys[channel]); err != nil {
			failures = append(failures, fmt.Errorf("%s: %w", channel, err))
		}
	}
	_ = observability.AggregateErrors(s.logger, "stream reconcile", failures, observability.F("scope", cfg.ID))
}

func (s *Supervisor) spawnLocked(cfg config.ScopeConfig) {
	if _, exists := s.scopes[cfg.ID]; exists {
		return
	}
	sc := New(cfg, Deps{
		Orders:      s.deps.Orders,
		Positions:   s.deps.Positions,
		Prices:      s.deps.Prices,
		Credentials: s.deps.Store,
		Cache:       s.deps.Cache,
		Feed:        s.feed,
		Sink:        s.deps.Sink,
		Logger:      s.logger,
		Now:         s.deps.Now,
		NewID:       s.deps.NewID,
	}, s.deps.Options)
	s.scopes[cfg.ID] = sc
	ctx := s.runCtx
	s.wg.Go(func() {
		if err := sc.Run(ctx); err != nil {
			s.logger.Error("scope stopped", observability.F("scope", sc.ID()), observability.Err(err))
		}
	})
}

func (s *Supervisor) controllerList() []StreamController {
	out := make([]StreamController, 0, len(s.controllers))
	for _, c := range s.controllers {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Channel() < out[j].Channel() })
	return out
}

func keyStrings(keys []subscription.Key) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k.String())
	}
	return out
}
