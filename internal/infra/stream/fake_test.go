package stream

import (
	"context"
	"errors"
	"sync"

	json "github.com/goccy/go-json"
)

type fakeConn struct {
	mu      sync.Mutex
	writes  []controlFrame
	inbound chan []byte
	closed  chan struct{}
	once    sync.Once
	failOn  int
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbound: make(chan []byte, 64), closed: make(chan struct{})}
}

func (c *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case raw := <-c.inbound:
		return raw, nil
	case <-c.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Write(_ context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failOn > 0 && len(c.writes)+1 >= c.failOn {
		return errors.New("broken pipe")
	}
	var frame controlFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return err
	}
	c.writes = append(c.writes, frame)
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// drop simulates the peer going away.
func (c *fakeConn) drop() { c.Close() }

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) frames() []controlFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]controlFrame, len(c.writes))
	copy(out, c.writes)
	return out
}

func (c *fakeConn) count(op string) int {
	n := 0
	for _, f := range c.frames() {
		if f.Type == op {
			n++
		}
	}
	return n
}

func (c *fakeConn) push(v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	c.inbound <- raw
}

type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	fail  bool
	dials int
	gate  chan struct{}
}

func (d *fakeDialer) Dial(ctx context.Context, _ string) (Conn, error) {
	d.mu.Lock()
	gate := d.gate
	d.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.fail {
		return nil, errors.New("connection refused")
	}
	conn := newFakeConn()
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) setFail(fail bool) {
	d.mu.Lock()
	d.fail = fail
	d.mu.Unlock()
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) connCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}
