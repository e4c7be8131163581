package scope

import (
	"context"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/arbwatch/errs"
	"github.com/coachpo/arbwatch/internal/app/positionmonitor"
	"github.com/coachpo/arbwatch/internal/domain/schema"
	"github.com/coachpo/arbwatch/internal/domain/subscription"
	"github.com/coachpo/arbwatch/internal/infra/config"
	"github.com/coachpo/arbwatch/internal/infra/stream"
)

type supervisorFixture struct {
	sup    *Supervisor
	store  *config.AppConfigStore
	tick   *fakeController
	candle *fakeController
	depth  *fakeController
}

func startSupervisor(t *testing.T) supervisorFixture {
	t.Helper()
	cfg := config.DefaultAppConfig()
	cfg.Scopes = []config.ScopeConfig{
		{
			ID:              "p1",
			Instruments:     []schema.Instrument{{Provider: "binance", Symbol: "BTC/USDT", Segment: "spot"}},
			CandleIntervals: []string{"1m"},
		},
		{
			ID:          "p2",
			Instruments: []schema.Instrument{{Provider: "bybit", Symbol: "ETH/USDT", Segment: "futures"}},
			DepthLevels: []int{5},
		},
	}
	cfg.ActiveScope = "p1"
	store, err := config.NewAppConfigStore(cfg, nil)
	require.NoError(t, err)

	f := supervisorFixture{
		store:  store,
		tick:   newFakeController(subscription.ChannelTick),
		candle: newFakeController(subscription.ChannelCandle),
		depth:  newFakeController(subscription.ChannelDepth),
	}
	f.sup, err = NewSupervisor(SupervisorDeps{
		Store:       store,
		Cache:       positionmonitor.NewPriceCache("USDT"),
		Now:         func() time.Time { return testNow },
		NewID:       testIDs(),
		Options:     Options{OrderInterval: time.Hour, PositionInterval: time.Hour},
		Controllers: []StreamController{f.tick, f.candle, f.depth},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = f.sup.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	require.Eventually(t, func() bool { return f.sup.ActiveID() == "p1" }, waitFor, tick)
	return f
}

func keyStringsOf(c *fakeController) []string {
	return keyStrings(c.Desired())
}

func TestDesiredKeysPerChannel(t *testing.T) {
	cfg := config.ScopeConfig{
		ID: "p1",
		Instruments: []schema.Instrument{
			{Provider: "binance", Symbol: "BTC/USDT", Segment: "spot"},
			{Provider: "bybit", Symbol: "ETH/USDT", Segment: "futures"},
		},
		CandleIntervals: []string{"1m", "5m"},
		DepthLevels:     []int{10},
	}
	cfg.Normalise()

	keys := DesiredKeys(cfg)
	require.Len(t, keys[subscription.ChannelTick], 2)
	require.Len(t, keys[subscription.ChannelCandle], 4)
	require.Len(t, keys[subscription.ChannelDepth], 2)
	require.Equal(t, "binance|BTC/USDT|spot|tick||0", keys[subscription.ChannelTick][0].String())
	require.Equal(t, "bybit|ETH/USDT|futures|depth||10", keys[subscription.ChannelDepth][1].String())
}

func TestSupervisorStartsWithActiveScopeSubscriptions(t *testing.T) {
	f := startSupervisor(t)

	require.Equal(t, []string{"binance|BTC/USDT|spot|tick||0"}, keyStringsOf(f.tick))
	require.Equal(t, []string{"binance|BTC/USDT|spot|candle|1m|0"}, keyStringsOf(f.candle))
	require.Empty(t, f.depth.Desired())
	f.tick.mu.Lock()
	require.Equal(t, 1, f.tick.connects)
	f.tick.mu.Unlock()
}

func TestSupervisorSwitchScopes(t *testing.T) {
	f := startSupervisor(t)

	require.NoError(t, f.sup.Activate(context.Background(), "p2"))
	require.Equal(t, "p2", f.sup.ActiveID())
	require.Equal(t, "p2", f.store.Snapshot().ActiveScope)
	require.Equal(t, []string{"bybit|ETH/USDT|futures|tick||0"}, keyStringsOf(f.tick))
	require.Empty(t, f.candle.Desired())
	require.Equal(t, []string{"bybit|ETH/USDT|futures|depth||5"}, keyStringsOf(f.depth))

	views, err := f.sup.Views(context.Background())
	require.NoError(t, err)
	require.Len(t, views, 2)
	require.False(t, views[0].Active)
	require.True(t, views[1].Active)

	err = f.sup.Activate(context.Background(), "missing")
	require.True(t, errs.IsCode(err, errs.CodeNotFound))
}

func TestSupervisorUpdateConfigResubscribesActiveScope(t *testing.T) {
	f := startSupervisor(t)

	next, ok := f.store.Scope("p1")
	require.True(t, ok)
	next.Instruments = append(next.Instruments, schema.Instrument{Provider: "okx", Symbol: "SOL/USDT", Segment: "spot"})
	saved, err := f.sup.UpdateConfig(context.Background(), next)
	require.NoError(t, err)
	require.Len(t, saved.Instruments, 2)
	require.Len(t, f.tick.Desired(), 2)

	sc, ok := f.sup.Scope("p1")
	require.True(t, ok)
	require.Eventually(t, func() bool {
		v, err := sc.View(context.Background())
		return err == nil && len(v.Config.Instruments) == 2
	}, waitFor, tick)
}

func TestSupervisorUpdateConfigCreatesInactiveScope(t *testing.T) {
	f := startSupervisor(t)
	before := keyStringsOf(f.tick)

	_, err := f.sup.UpdateConfig(context.Background(), config.ScopeConfig{
		ID:          "p3",
		Instruments: []schema.Instrument{{Provider: "okx", Symbol: "SOL/USDT"}},
	})
	require.NoError(t, err)

	sc, ok := f.sup.Scope("p3")
	require.True(t, ok)
	v, err := sc.View(context.Background())
	require.NoError(t, err)
	require.False(t, v.Active)
	require.Equal(t, before, keyStringsOf(f.tick))

	_, err = f.sup.UpdateConfig(context.Background(), config.ScopeConfig{ID: "bad id"})
	require.True(t, errs.IsCode(err, errs.CodeInvalid))
}

func TestHandleUpdateFeedsPriceCache(t *testing.T) {
	f := startSupervisor(t)
	key, err := subscription.TickKey("binance", "BTC/USDT", "spot")
	require.NoError(t, err)

	f.sup.HandleUpdate(stream.Update{Key: key, Payload: json.RawMessage(`{"price":"64000.5"}`), ReceivedAt: testNow})
	q, ok := f.sup.Cache().Get("binance", "spot", "BTC/USDT")
	require.True(t, ok)
	require.True(t, q.Price.Equal(decimal.RequireFromString("64000.5")))

	depth, err := subscription.NewKey("binance", "BTC/USDT", "spot", subscription.ChannelDepth, "", 5)
	require.NoError(t, err)
	f.sup.HandleUpdate(stream.Update{Key: depth, Payload: json.RawMessage(`{"price":"1"}`)})
	q, _ = f.sup.Cache().Get("binance", "spot", "BTC/USDT")
	require.True(t, q.Price.Equal(decimal.RequireFromString("64000.5")))
}

func TestHandleUpdateKeepsSpotAndPerpTicksApart(t *testing.T) {
	f := startSupervisor(t)
	spot, err := subscription.TickKey("binance", "BTC/USDT", "spot")
	require.NoError(t, err)
	perp, err := subscription.TickKey("binance", "BTC/USDT", "futures")
	require.NoError(t, err)

	cache := f.sup.Cache()
	for i := 0; i < 3; i++ {
		f.sup.HandleUpdate(stream.Update{Key: perp, Payload: json.RawMessage(`{"price":"100"}`), ReceivedAt: testNow})
		f.sup.HandleUpdate(stream.Update{Key: spot, Payload: json.RawMessage(`{"price":"90"}`), ReceivedAt: testNow})
	}
	require.Equal(t, uint64(2), cache.Version())

	futures := schema.Position{Provider: "binance", Instrument: "BTC/USDT", Segment: "futures", RawSymbol: "BTC/USDT:USDT"}
	price, ok := cache.Lookup(futures)
	require.True(t, ok)
	require.True(t, price.Equal(decimal.NewFromInt(100)), price.String())

	holding := schema.Position{Provider: "binance", Instrument: "BTC/USDT", Segment: "spot", RawSymbol: "BTC"}
	price, ok = cache.Lookup(holding)
	require.True(t, ok)
	require.True(t, price.Equal(decimal.NewFromInt(90)), price.String())
}

func TestActivateDoesNotBlockReadsDuringReconcile(t *testing.T) {
	f := startSupervisor(t)
	entered, release := f.tick.hold()

	activated := make(chan error, 1)
	go func() { activated <- f.sup.Activate(context.Background(), "p2") }()

	select {
	case <-entered:
	case <-time.After(waitFor):
		t.Fatal("reconcile never reached the tick controller")
	}

	reads := make(chan struct{})
	go func() {
		_, _ = f.sup.Scope("p1")
		_ = f.sup.Connections()
		_, _ = f.sup.Views(context.Background())
		_ = f.sup.ActiveID()
		close(reads)
	}()
	select {
	case <-reads:
	case <-time.After(waitFor):
		t.Fatal("reads blocked behind stream reconcile")
	}
	require.Equal(t, "p2", f.sup.ActiveID())

	release()
	select {
	case err := <-activated:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("activate did not finish")
	}
	require.Equal(t, []string{"bybit|ETH/USDT|futures|tick||0"}, keyStringsOf(f.tick))
}

func TestSupervisorReconnectAndConnections(t *testing.T) {
	f := startSupervisor(t)

	require.NoError(t, f.sup.Reconnect(context.Background(), subscription.ChannelTick))
	f.tick.mu.Lock()
	require.Equal(t, 1, f.tick.reconnects)
	f.tick.mu.Unlock()

	err := f.sup.Reconnect(context.Background(), subscription.Channel("trades"))
	require.True(t, errs.IsCode(err, errs.CodeNotFound))

	conns := f.sup.Connections()
	require.Len(t, conns, 3)
	require.Equal(t, subscription.ChannelCandle, conns[0].Channel)
	require.Equal(t, "open", conns[0].State)
}

func TestAttachRejectsDuplicateChannel(t *testing.T) {
	store, err := config.NewAppConfigStore(config.DefaultAppConfig(), nil)
	require.NoError(t, err)
	_, err = NewSupervisor(SupervisorDeps{
		Store:       store,
		Controllers: []StreamController{newFakeController(subscription.ChannelTick), newFakeController(subscription.ChannelTick)},
	})
	require.Error(t, err)
}
