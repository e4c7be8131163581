package scope

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coachpo/arbwatch/internal/domain/schema"
	"github.com/coachpo/arbwatch/internal/domain/subscription"
	"github.com/coachpo/arbwatch/internal/infra/stream"
)

var testNow = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func testIDs() func() string {
	var seq atomic.Int64
	return func() string { return "n" + strconv.FormatInt(seq.Add(1), 10) }
}

type staticCreds []schema.Credential

func (c staticCreds) Credentials() []schema.Credential { return c }

func someCreds() staticCreds {
	return staticCreds{{Exchange: "binance", APIKey: "key", APISecret: "secret"}}
}

type fakeOrders struct {
	mu     sync.Mutex
	orders []schema.Order
	err    error
	gate   chan struct{}
	calls  atomic.Int32
}

func (f *fakeOrders) set(orders ...schema.Order) {
	f.mu.Lock()
	f.orders = orders
	f.err = nil
	f.mu.Unlock()
}

func (f *fakeOrders) fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeOrders) QueryOrders(ctx context.Context, _ []schema.Instrument, _ []schema.Credential) ([]schema.Order, error) {
	f.calls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]schema.Order(nil), f.orders...), f.err
}

type fakePositions struct {
	mu      sync.Mutex
	records []schema.PositionRecord
	err     error
	calls   atomic.Int32
}

func (f *fakePositions) set(records ...schema.PositionRecord) {
	f.mu.Lock()
	f.records = records
	f.err = nil
	f.mu.Unlock()
}

func (f *fakePositions) fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakePositions) QueryPositions(context.Context, []schema.Credential) ([]schema.PositionRecord, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]schema.PositionRecord(nil), f.records...), nil
}

type fakePrices struct {
	table schema.PriceTable
	mu    sync.Mutex
	asked []schema.SymbolRef
}

func (f *fakePrices) QueryPrices(_ context.Context, symbols []schema.SymbolRef) (schema.PriceTable, error) {
	f.mu.Lock()
	f.asked = append(f.asked, symbols...)
	f.mu.Unlock()
	if f.table == nil {
		return nil, errors.New("no prices")
	}
	return f.table, nil
}

type recordingSink struct {
	mu    sync.Mutex
	notes []schema.Notification
}

func (s *recordingSink) Record(n schema.Notification) {
	s.mu.Lock()
	s.notes = append(s.notes, n)
	s.mu.Unlock()
}

func (s *recordingSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.notes)
}

type fakeController struct {
	channel subscription.Channel

	mu         sync.Mutex
	desired    []subscription.Key
	sets       int
	connects   int
	reconnects int

	gate    chan struct{}
	entered chan struct{}
}

func newFakeController(channel subscription.Channel) *fakeController {
	return &fakeController{channel: channel}
}

func (c *fakeController) Channel() subscription.Channel { return c.channel }

func (c *fakeController) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (c *fakeController) Connect(context.Context) error {
	c.mu.Lock()
	c.connects++
	c.mu.Unlock()
	return nil
}

func (c *fakeController) Disconnect(context.Context) error { return nil }

func (c *fakeController) Reconnect(context.Context) error {
	c.mu.Lock()
	c.reconnects++
	c.mu.Unlock()
	return nil
}

// hold makes the next SetDesired calls block until the returned release runs.
// entered receives once per blocked call.
func (c *fakeController) hold() (entered <-chan struct{}, release func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gate = make(chan struct{})
	c.entered = make(chan struct{}, 8)
	gate := c.gate
	return c.entered, func() { close(gate) }
}

func (c *fakeController) SetDesired(_ context.Context, keys []subscription.Key) error {
	c.mu.Lock()
	gate, entered := c.gate, c.entered
	c.mu.Unlock()
	if gate != nil {
		entered <- struct{}{}
		<-gate
	}
	c.mu.Lock()
	c.desired = append([]subscription.Key(nil), keys...)
	c.sets++
	c.mu.Unlock()
	return nil
}

func (c *fakeController) State() stream.State { return stream.StateOpen }

func (c *fakeController) Active() []subscription.Key { return c.Desired() }

func (c *fakeController) Desired() []subscription.Key {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]subscription.Key(nil), c.desired...)
}

func spotOrder(id, status string, amount, filled int64) schema.Order {
	return schema.Order{
		OrderID:    id,
		Exchange:   "binance",
		Symbol:     "BTC/USDT",
		Status:     status,
		Side:       "buy",
		Amount:     decimal.NewFromInt(amount),
		Filled:     decimal.NewFromInt(filled),
		Price:      decimal.NewFromInt(64000),
		MarketType: "spot",
		OrderTime:  testNow.Add(-time.Minute).UnixMilli(),
	}
}
