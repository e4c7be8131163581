package stream

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/coachpo/arbwatch/errs"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultPingInterval     = 30 * time.Second
	defaultPingTimeout      = 5 * time.Second
	defaultReadLimit        = 2 * 1024 * 1024
)

// ErrClosed is returned by Conn.Read after a normal closure.
var ErrClosed = errors.New("stream connection closed")

// Conn is one live transport connection.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close() error
}

// Dialer opens transport connections.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebsocketDialer dials text websocket connections with keepalive pings.
type WebsocketDialer struct {
	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	PingTimeout      time.Duration
	ReadLimit        int64
	Header           http.Header
	HTTPClient       *http.Client
}

// Dial performs the websocket handshake.
func (d WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	handshake := d.HandshakeTimeout
	if handshake <= 0 {
		handshake = defaultHandshakeTimeout
	}
	dialCtx, cancel := context.WithTimeout(ctx, handshake)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, url, &websocket.DialOptions{
		HTTPClient: d.HTTPClient,
		HTTPHeader: d.Header,
	})
	if err != nil {
		return nil, errs.New("stream/dial", errs.CodeTransport, errs.WithMessage("dial "+url), errs.WithCause(err))
	}
	limit := d.ReadLimit
	if limit <= 0 {
		limit = defaultReadLimit
	}
	conn.SetReadLimit(limit)

	pingCtx, stop := context.WithCancel(context.Background())
	wc := &wsConn{conn: conn, stop: stop}
	interval := d.PingInterval
	if interval <= 0 {
		interval = defaultPingInterval
	}
	timeout := d.PingTimeout
	if timeout <= 0 {
		timeout = defaultPingTimeout
	}
	go wc.pingLoop(pingCtx, interval, timeout)
	return wc, nil
}

type wsConn struct {
	conn      *websocket.Conn
	stop      context.CancelFunc
	closeOnce sync.Once
}

func (c *wsConn) Read(ctx context.Context) ([]byte, error) {
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, net.ErrClosed) {
				return nil, ErrClosed
			}
			if status := websocket.CloseStatus(err); status == websocket.StatusNormalClosure {
				return nil, ErrClosed
			}
			return nil, errs.New("stream/read", errs.CodeTransport, errs.WithCause(err))
		}
		if typ != websocket.MessageText {
			continue
		}
		return data, nil
	}
}

func (c *wsConn) Write(ctx context.Context, data []byte) error {
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return errs.New("stream/write", errs.CodeTransport, errs.WithCause(err))
	}
	return nil
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.stop()
		err = c.conn.Close(websocket.StatusNormalClosure, "")
	})
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return errs.New("stream/close", errs.CodeTransport, errs.WithCause(err))
	}
	return nil
}

// pingLoop detects stale sockets; a failed ping closes the connection so the
// pending Read fails and the controller takes its reconnect path.
func (c *wsConn) pingLoop(ctx context.Context, interval, timeout time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, timeout)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil && ctx.Err() == nil {
				_ = c.conn.Close(websocket.StatusGoingAway, "ping timeout")
				return
			}
		}
	}
}
