// Package stream maintains one websocket connection per data channel and keeps
// its server-side subscriptions equal to a desired key set.
package stream

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	json "github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/coachpo/arbwatch/errs"
	"github.com/coachpo/arbwatch/internal/domain/subscription"
	"github.com/coachpo/arbwatch/internal/observability"
)

const (
	defaultReconnectDelay = 3 * time.Second
	defaultControlRate    = 5
	defaultControlBurst   = 5
	defaultWriteTimeout   = 5 * time.Second
	opsBuffer             = 256
	watchBuffer           = 16
)

// State is the lifecycle state of a controller's connection.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// Update is one data message for an active subscription.
type Update struct {
	Key        subscription.Key
	Payload    json.RawMessage
	ReceivedAt time.Time
}

// Handler receives updates on the controller goroutine and must not block.
type Handler func(Update)

// Options configures a Controller.
type Options struct {
	Channel        subscription.Channel
	URL            string
	Dialer         Dialer
	Handler        Handler
	ReconnectDelay time.Duration
	ControlRate    float64
	ControlBurst   int
	WriteTimeout   time.Duration
	Logger         observability.Logger
}

// Controller owns one connection. All mutable state below the divider is
// touched only by the goroutine running Run.
type Controller struct {
	channel      subscription.Channel
	url          string
	dialer       Dialer
	handler      Handler
	backoff      *backoff.ConstantBackOff
	limiter      *rate.Limiter
	writeTimeout time.Duration
	logger       observability.Logger
	metrics      *streamMetrics

	ops     chan func()
	stopped chan struct{}
	running atomic.Bool
	state   atomic.Int32

	activeSnap  atomic.Pointer[[]subscription.Key]
	desiredSnap atomic.Pointer[[]subscription.Key]

	watchMu  sync.Mutex
	watchers map[int]chan State
	watchSeq int

	// actor-owned
	runCtx   context.Context
	enabled  bool
	desired  subscription.Set
	active   subscription.Set
	conn     Conn
	gen      uint64
	timer    *time.Timer
	timerSeq uint64
}

// NewController validates options and builds an idle controller.
func NewController(opts Options) (*Controller, error) {
	if !opts.Channel.Valid() {
		return nil, errs.New("stream", errs.CodeInvalid, errs.WithMessage("unknown channel "+string(opts.Channel)))
	}
	url := strings.TrimSpace(opts.URL)
	if url == "" {
		return nil, errs.New("stream", errs.CodeInvalid, errs.WithMessage("endpoint url required"),
			errs.WithField("channel", string(opts.Channel)))
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = WebsocketDialer{}
	}
	delay := opts.ReconnectDelay
	if delay <= 0 {
		delay = defaultReconnectDelay
	}
	ratePerSec := opts.ControlRate
	if ratePerSec <= 0 {
		ratePerSec = defaultControlRate
	}
	burst := opts.ControlBurst
	if burst <= 0 {
		burst = defaultControlBurst
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	handler := opts.Handler
	if handler == nil {
		handler = func(Update) {}
	}

	c := &Controller{
		channel:      opts.Channel,
		url:          url,
		dialer:       dialer,
		handler:      handler,
		backoff:      backoff.NewConstantBackOff(delay),
		limiter:      rate.NewLimiter(rate.Limit(ratePerSec), burst),
		writeTimeout: writeTimeout,
		logger:       observability.OrGlobal(opts.Logger),
		metrics:      newStreamMetrics(string(opts.Channel)),
		ops:          make(chan func(), opsBuffer),
		stopped:      make(chan struct{}),
		watchers:     make(map[int]chan State),
		runCtx:       context.Background(),
	}
	c.publishSnapshots()
	return c, nil
}

// Channel reports the data channel this controller serves.
func (c *Controller) Channel() subscription.Channel { return c.channel }

// Run processes commands until ctx is cancelled, then closes the connection.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errs.New("stream", errs.CodeUnavailable, errs.WithMessage("controller already running"),
			errs.WithField("channel", string(c.channel)))
	}
	c.runCtx = ctx
	defer close(c.stopped)
	defer c.shutdown()

	for {
		select {
		case <-ctx.Done():
			return nil
		case fn := <-c.ops:
			fn()
		}
	}
}

// Connect enables the connection and dials unless already open or connecting.
func (c *Controller) Connect(ctx context.Context) error {
	return c.do(ctx, func() {
		c.enabled = true
		switch c.currentState() {
		case StateOpen, StateConnecting:
			return
		}
		c.cancelTimer()
		c.dial()
	})
}

// Disconnect disables the connection, cancels any pending reconnect and closes
// the socket.
func (c *Controller) Disconnect(ctx context.Context) error {
	return c.do(ctx, func() {
		c.enabled = false
		c.cancelTimer()
		c.dropConnection()
		c.setState(StateDisconnected)
	})
}

// Reconnect replaces the current connection with a fresh dial, regardless of
// whether the controller is enabled.
func (c *Controller) Reconnect(ctx context.Context) error {
	return c.do(ctx, func() {
		c.cancelTimer()
		c.dropConnection()
		c.dial()
	})
}

// SetDesired replaces the desired key set. While open, only the difference is
// sent; otherwise the new set is applied by the next open sweep.
func (c *Controller) SetDesired(ctx context.Context, keys []subscription.Key) error {
	next := subscription.NewSet(keys...)
	for _, key := range keys {
		if key.Channel != c.channel {
			return errs.New("stream", errs.CodeInvalid,
				errs.WithMessage("key channel does not match controller"),
				errs.WithField("channel", string(c.channel)),
				errs.WithField("key", key.String()))
		}
	}
	var sendErr error
	err := c.do(ctx, func() {
		delta := subscription.Diff(c.desired, next)
		c.desired = next.Clone()
		defer c.publishSnapshots()
		if delta.Empty() || c.currentState() != StateOpen {
			return
		}
		sendErr = c.apply(delta)
	})
	if err != nil {
		return err
	}
	return sendErr
}

// State returns the current connection state.
func (c *Controller) State() State { return c.currentState() }

// Active returns the keys subscribed on the live connection, sorted.
func (c *Controller) Active() []subscription.Key { return cloneKeys(c.activeSnap.Load()) }

// Desired returns the keys the controller should be subscribed to, sorted.
func (c *Controller) Desired() []subscription.Key { return cloneKeys(c.desiredSnap.Load()) }

// Watch streams state changes until ctx is done. The current state is sent
// first. Slow readers miss intermediate states.
func (c *Controller) Watch(ctx context.Context) <-chan State {
	ch := make(chan State, watchBuffer)
	ch <- c.currentState()

	c.watchMu.Lock()
	id := c.watchSeq
	c.watchSeq++
	c.watchers[id] = ch
	c.watchMu.Unlock()

	go func() {
		<-ctx.Done()
		c.watchMu.Lock()
		delete(c.watchers, id)
		close(ch)
		c.watchMu.Unlock()
	}()
	return ch
}

func (c *Controller) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	wrapped := func() {
		defer close(done)
		fn()
	}
	select {
	case c.ops <- wrapped:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stopped:
		return c.errStopped()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stopped:
		select {
		case <-done:
			return nil
		default:
		}
		return c.errStopped()
	}
}

func (c *Controller) post(fn func()) bool {
	select {
	case c.ops <- fn:
		return true
	case <-c.stopped:
		return false
	}
}

func (c *Controller) errStopped() error {
	return errs.New("stream", errs.CodeUnavailable, errs.WithMessage("controller stopped"),
		errs.WithField("channel", string(c.channel)))
}

func (c *Controller) currentState() State { return State(c.state.Load()) }

func (c *Controller) setState(next State) {
	prev := State(c.state.Swap(int32(next)))
	if prev == next {
		return
	}
	c.metrics.recordState(next)
	c.logger.Debug("stream state changed",
		observability.F("channel", string(c.channel)),
		observability.F("from", prev.String()),
		observability.F("to", next.String()))

	c.watchMu.Lock()
	for _, ch := range c.watchers {
		select {
		case ch <- next:
		default:
		}
	}
	c.watchMu.Unlock()
}

func (c *Controller) dial() {
	c.gen++
	gen := c.gen
	ctx := c.runCtx
	c.setState(StateConnecting)
	go func() {
		conn, err := c.dialer.Dial(ctx, c.url)
		if !c.post(func() { c.onDialed(gen, conn, err) }) && conn != nil {
			_ = conn.Close()
		}
	}()
}

func (c *Controller) onDialed(gen uint64, conn Conn, err error) {
	if gen != c.gen {
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		c.logger.Warn("stream dial failed",
			observability.F("channel", string(c.channel)),
			observability.F("url", c.url),
			observability.Err(err))
		c.setState(StateDisconnected)
		c.scheduleReconnect()
		return
	}

	c.conn = conn
	c.setState(StateOpen)
	c.backoff.Reset()
	c.logger.Info("stream connected",
		observability.F("channel", string(c.channel)),
		observability.F("desired", c.desired.Len()))

	go c.readLoop(c.runCtx, gen, conn)

	c.clearActive()
	for _, key := range c.desired.Keys() {
		if err := c.send(opSubscribe, key); err != nil {
			c.failConnection(err)
			return
		}
		c.active.Add(key)
		c.metrics.adjustActive(1)
	}
	c.publishSnapshots()
}

func (c *Controller) readLoop(ctx context.Context, gen uint64, conn Conn) {
	for {
		raw, err := conn.Read(ctx)
		if err != nil {
			c.post(func() { c.onReadError(gen, err) })
			return
		}
		if !c.post(func() { c.onFrame(gen, raw) }) {
			return
		}
	}
}

func (c *Controller) onReadError(gen uint64, err error) {
	if gen != c.gen || c.conn == nil {
		return
	}
	c.failConnection(err)
}

func (c *Controller) onFrame(gen uint64, raw []byte) {
	if gen != c.gen || c.conn == nil {
		return
	}
	frame, err := decodeInbound(c.channel, raw)
	if err != nil {
		c.metrics.recordDrop("parse")
		c.logger.Debug("stream frame dropped",
			observability.F("channel", string(c.channel)),
			observability.Err(err))
		return
	}
	switch frame.kind {
	case frameUpdate:
		if !c.active.Has(frame.key) {
			c.metrics.recordDrop("inactive")
			return
		}
		c.metrics.recordMessage()
		c.handler(Update{Key: frame.key, Payload: frame.payload, ReceivedAt: time.Now()})
	case frameConfirmed:
		c.logger.Debug("subscription confirmed",
			observability.F("channel", string(c.channel)),
			observability.F("key", frame.key.String()))
	case frameError:
		c.logger.Warn("stream endpoint error",
			observability.F("channel", string(c.channel)),
			observability.F("message", frame.message))
	default:
		c.metrics.recordDrop("unknown")
	}
}

func (c *Controller) apply(delta subscription.Delta) error {
	for _, key := range delta.Remove {
		if !c.active.Has(key) {
			continue
		}
		if err := c.send(opUnsubscribe, key); err != nil {
			c.failConnection(err)
			return err
		}
		c.active.Remove(key)
		c.metrics.adjustActive(-1)
	}
	for _, key := range delta.Add {
		if err := c.send(opSubscribe, key); err != nil {
			c.failConnection(err)
			return err
		}
		c.active.Add(key)
		c.metrics.adjustActive(1)
	}
	return nil
}

func (c *Controller) send(op string, key subscription.Key) error {
	if c.conn == nil {
		return errs.New("stream", errs.CodeTransport, errs.WithMessage("no connection"))
	}
	data, err := encodeControl(op, key)
	if err != nil {
		return err
	}
	if err := c.limiter.Wait(c.runCtx); err != nil {
		return errs.New("stream", errs.CodeTransport, errs.WithMessage("pace "+op), errs.WithCause(err))
	}
	ctx, cancel := context.WithTimeout(c.runCtx, c.writeTimeout)
	defer cancel()
	if err := c.conn.Write(ctx, data); err != nil {
		return err
	}
	c.metrics.recordControl(op)
	c.logger.Debug("stream control sent",
		observability.F("channel", string(c.channel)),
		observability.F("type", op),
		observability.F("key", key.String()))
	return nil
}

// failConnection drops a broken connection and arms the reconnect timer.
func (c *Controller) failConnection(err error) {
	c.logger.Warn("stream connection lost",
		observability.F("channel", string(c.channel)),
		observability.Err(err))
	c.dropConnection()
	c.setState(StateDisconnected)
	c.scheduleReconnect()
}

func (c *Controller) dropConnection() {
	c.gen++
	if c.conn != nil {
		c.setState(StateClosing)
		if err := c.conn.Close(); err != nil {
			c.logger.Debug("stream close failed",
				observability.F("channel", string(c.channel)),
				observability.Err(err))
		}
		c.conn = nil
	}
	c.clearActive()
	c.publishSnapshots()
}

func (c *Controller) clearActive() {
	c.metrics.adjustActive(-c.active.Len())
	c.active.Clear()
}

func (c *Controller) scheduleReconnect() {
	if !c.enabled {
		return
	}
	c.cancelTimer()
	seq := c.timerSeq
	delay := c.backoff.NextBackOff()
	c.metrics.recordReconnect()
	c.logger.Info("stream reconnect scheduled",
		observability.F("channel", string(c.channel)),
		observability.F("delay", delay.String()))
	c.timer = time.AfterFunc(delay, func() {
		c.post(func() { c.onTimer(seq) })
	})
}

func (c *Controller) onTimer(seq uint64) {
	if seq != c.timerSeq {
		return
	}
	c.timer = nil
	if !c.enabled || c.currentState() != StateDisconnected {
		return
	}
	c.dial()
}

func (c *Controller) cancelTimer() {
	c.timerSeq++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// timerPending reports whether a reconnect is armed.
func (c *Controller) timerPending() bool { return c.timer != nil }

func (c *Controller) shutdown() {
	c.enabled = false
	c.cancelTimer()
	c.dropConnection()
	c.setState(StateDisconnected)
}

func (c *Controller) publishSnapshots() {
	active := c.active.Keys()
	desired := c.desired.Keys()
	c.activeSnap.Store(&active)
	c.desiredSnap.Store(&desired)
}

func cloneKeys(keys *[]subscription.Key) []subscription.Key {
	if keys == nil || len(*keys) == 0 {
		return nil
	}
	out := make([]subscription.Key, len(*keys))
	copy(out, *keys)
	return out
}
