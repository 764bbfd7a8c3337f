package client

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var ErrNotConnected = errors.New("not connected")

// DefaultBackoff is the fixed delay before reconnecting after a drop.
const DefaultBackoff = 2000 * time.Millisecond

type State int

const (
	Disconnected State = iota
	Connecting
	Open
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	}
	return "unknown"
}

// Conn is the part of a websocket connection the transport uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebsocketDialer dials with gorilla/websocket.
type WebsocketDialer struct {
	Dialer *websocket.Dialer
	Header http.Header
}

func (d WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	c, _, err := dialer.DialContext(ctx, url, d.Header)
	if err != nil {
		return nil, err
	}
	return c, nil
}

type TransportOptions struct {
	Backoff     time.Duration
	DialTimeout time.Duration
	Clock       clock.Clock
	Logger      *zap.Logger

	// Hello builds the first frame of every connection (the join).
	Hello func() ([]byte, error)
	// OnMessage gets frames of the current connection only. It must not
	// call Connect or Disconnect.
	OnMessage func(data []byte)
	// OnState is called with the transport locked; it must not call back
	// into the transport.
	OnState func(State)
}

// Transport keeps one live connection to a board URL and reconnects after
// unexpected drops. Every connection attempt gets a generation number;
// anything that arrives from an older generation is discarded.
type Transport struct {
	dialer Dialer
	opts   TransportOptions

	// deliver is held for reading while a frame is handed to OnMessage and
	// for writing while the generation changes.
	deliver sync.RWMutex

	mu       sync.Mutex
	gen      uint64
	url      string
	conn     Conn
	state    State
	wantOpen bool
	timer    *clock.Timer

	writeMu sync.Mutex
}

func NewTransport(dialer Dialer, opts TransportOptions) *Transport {
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultBackoff
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 10 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Transport{dialer: dialer, opts: opts}
}

// Connect starts a connection to url, superseding any current connection
// and cancelling a pending reconnect.
func (t *Transport) Connect(url string) {
	t.deliver.Lock()
	t.mu.Lock()
	t.gen++
	gen := t.gen
	t.url = url
	t.wantOpen = true
	t.stopTimerLocked()
	old := t.conn
	t.conn = nil
	t.setStateLocked(Connecting)
	t.mu.Unlock()
	t.deliver.Unlock()

	if old != nil {
		_ = old.Close()
	}
	go t.dial(gen, url)
}

// Disconnect closes the connection on purpose; no reconnect follows.
func (t *Transport) Disconnect() {
	t.deliver.Lock()
	t.mu.Lock()
	t.gen++
	t.wantOpen = false
	t.stopTimerLocked()
	old := t.conn
	t.conn = nil
	t.setStateLocked(Disconnected)
	t.mu.Unlock()
	t.deliver.Unlock()

	if old != nil {
		_ = old.Close()
	}
}

// Send writes one frame on the current connection. Frames are never queued:
// without an open connection Send returns ErrNotConnected.
func (t *Transport) Send(data []byte) error {
	t.mu.Lock()
	conn, state := t.conn, t.state
	t.mu.Unlock()
	if state != Open || conn == nil {
		return ErrNotConnected
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Generation returns the number of the current connection attempt.
func (t *Transport) Generation() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.gen
}

func (t *Transport) dial(gen uint64, url string) {
	ctx, cancel := context.WithTimeout(context.Background(), t.opts.DialTimeout)
	conn, err := t.dialer.Dial(ctx, url)
	cancel()

	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		t.setStateLocked(Disconnected)
		t.scheduleLocked(gen)
		t.mu.Unlock()
		t.opts.Logger.Debug("dial failed", zap.String("url", url), zap.Error(err))
		return
	}
	t.conn = conn
	t.mu.Unlock()

	if t.opts.Hello != nil {
		hello, err := t.opts.Hello()
		if err == nil {
			t.writeMu.Lock()
			err = conn.WriteMessage(websocket.TextMessage, hello)
			t.writeMu.Unlock()
		}
		if err != nil {
			t.opts.Logger.Warn("hello failed", zap.Error(err))
			_ = conn.Close()
			t.closed(gen)
			return
		}
	}

	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		_ = conn.Close()
		return
	}
	t.setStateLocked(Open)
	t.mu.Unlock()

	go t.readLoop(gen, conn)
}

func (t *Transport) readLoop(gen uint64, conn Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.closed(gen)
			return
		}
		if !t.deliverFrame(gen, data) {
			_ = conn.Close()
			return
		}
	}
}

func (t *Transport) deliverFrame(gen uint64, data []byte) bool {
	t.deliver.RLock()
	defer t.deliver.RUnlock()
	if !t.current(gen) {
		return false
	}
	if t.opts.OnMessage != nil {
		t.opts.OnMessage(data)
	}
	return true
}

// closed handles the end of connection gen. Ends of superseded connections
// change nothing.
func (t *Transport) closed(gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if gen != t.gen {
		return
	}
	t.conn = nil
	t.setStateLocked(Disconnected)
	if t.wantOpen {
		t.scheduleLocked(gen)
	}
}

func (t *Transport) scheduleLocked(gen uint64) {
	t.stopTimerLocked()
	t.timer = t.opts.Clock.AfterFunc(t.opts.Backoff, func() { t.reconnect(gen) })
}

func (t *Transport) reconnect(gen uint64) {
	t.mu.Lock()
	if gen != t.gen || !t.wantOpen {
		t.mu.Unlock()
		return
	}
	url := t.url
	t.mu.Unlock()
	t.opts.Logger.Info("reconnecting", zap.String("url", url))
	t.Connect(url)
}

func (t *Transport) stopTimerLocked() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

func (t *Transport) current(gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return gen == t.gen
}

func (t *Transport) setStateLocked(s State) {
	if t.state == s {
		return
	}
	t.state = s
	if t.opts.OnState != nil {
		t.opts.OnState(s)
	}
}
