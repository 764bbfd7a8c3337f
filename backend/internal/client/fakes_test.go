package client

import (
	"context"
	"errors"
	"sync"
)

var errFakeClosed = errors.New("fake connection closed")

// fakeConn is an in-memory Conn. Frames pushed with deliver are read by the
// transport; frames the transport writes are kept in written.
type fakeConn struct {
	incoming chan []byte
	done     chan struct{}
	once     sync.Once

	mu      sync.Mutex
	written [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{incoming: make(chan []byte, 16), done: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-c.incoming:
		return 1, data, nil
	case <-c.done:
		return 0, nil, errFakeClosed
	}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	select {
	case <-c.done:
		return errFakeClosed
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *fakeConn) deliver(data string) { c.incoming <- []byte(data) }

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *fakeConn) frames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.written))
	for i, f := range c.written {
		out[i] = string(f)
	}
	return out
}

// fakeDialer hands out connections through a hook.
type fakeDialer struct {
	mu    sync.Mutex
	dials []string
	conns []*fakeConn
	hook  func(url string) (Conn, error)
}

func (d *fakeDialer) Dial(_ context.Context, url string) (Conn, error) {
	d.mu.Lock()
	d.dials = append(d.dials, url)
	hook := d.hook
	d.mu.Unlock()

	var (
		c   Conn
		err error
	)
	if hook != nil {
		c, err = hook(url)
	} else {
		c = newFakeConn()
	}
	if fc, ok := c.(*fakeConn); ok && err == nil {
		d.mu.Lock()
		d.conns = append(d.conns, fc)
		d.mu.Unlock()
	}
	return c, err
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.dials)
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.conns) {
		return nil
	}
	return d.conns[i]
}
