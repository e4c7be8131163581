package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/arbwatch/internal/domain/subscription"
)

// echoServer answers every subscribe frame with a confirmation and one update.
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		ctx := r.Context()
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			if !strings.Contains(string(data), `"subscribe"`) {
				continue
			}
			body := `"provider":"binance","instrument":"BTC/USDT","marketSegment":"spot"`
			_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"tick_subscription_confirmed","data":{`+body+`}}`))
			_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"tick_update","data":{`+body+`,"payload":{"price":"101.5"}}}`))
		}
	}))
}

func TestWebsocketDialerRoundTrip(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	updates := make(chan Update, 4)
	c, err := NewController(Options{
		Channel: subscription.ChannelTick,
		URL:     "ws" + strings.TrimPrefix(srv.URL, "http"),
		Dialer:  WebsocketDialer{PingInterval: time.Second},
		Handler: func(u Update) { updates <- u },
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	key := tickKey(t, "binance", "BTC/USDT")
	require.NoError(t, c.SetDesired(ctx, []subscription.Key{key}))
	require.NoError(t, c.Connect(ctx))

	select {
	case u := <-updates:
		require.Equal(t, key, u.Key)
		require.JSONEq(t, `{"price":"101.5"}`, string(u.Payload))
	case <-time.After(5 * time.Second):
		t.Fatal("no update received")
	}
}

func TestWebsocketDialerFailsOnBadURL(t *testing.T) {
	_, err := WebsocketDialer{HandshakeTimeout: 200 * time.Millisecond}.Dial(context.Background(), "ws://127.0.0.1:1/ws")
	require.Error(t, err)
}
