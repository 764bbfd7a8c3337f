package client

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const wait = 2 * time.Second
const tick = 5 * time.Millisecond

type inbox struct {
	mu     sync.Mutex
	frames []string
}

func (b *inbox) add(data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frames = append(b.frames, string(data))
}

func (b *inbox) all() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.frames...)
}

func newTestTransport(t *testing.T, d Dialer, mock *clock.Mock, box *inbox) *Transport {
	return NewTransport(d, TransportOptions{
		Clock:     mock,
		Logger:    zap.NewNop(),
		Hello:     func() ([]byte, error) { return []byte(`{"type":"join","userId":"me"}`), nil },
		OnMessage: box.add,
	})
}

func TestTransportOpensAndSendsHelloFirst(t *testing.T) {
	d := &fakeDialer{}
	box := &inbox{}
	tr := newTestTransport(t, d, clock.NewMock(), box)

	assert.ErrorIs(t, tr.Send([]byte("early")), ErrNotConnected)

	tr.Connect("ws://relay/ws/b1")
	require.Eventually(t, func() bool { return tr.State() == Open }, wait, tick)

	require.NoError(t, tr.Send([]byte(`{"type":"cursor"}`)))
	conn := d.conn(0)
	assert.Equal(t, []string{`{"type":"join","userId":"me"}`, `{"type":"cursor"}`}, conn.frames())

	conn.deliver(`{"type":"welcome"}`)
	require.Eventually(t, func() bool { return len(box.all()) == 1 }, wait, tick)
}

func TestTransportReconnectsAfterDrop(t *testing.T) {
	d := &fakeDialer{}
	mock := clock.NewMock()
	tr := newTestTransport(t, d, mock, &inbox{})

	tr.Connect("ws://relay/ws/b1")
	require.Eventually(t, func() bool { return tr.State() == Open }, wait, tick)

	d.conn(0).Close()
	require.Eventually(t, func() bool { return tr.State() == Disconnected }, wait, tick)
	assert.Equal(t, 1, d.dialCount())

	mock.Add(DefaultBackoff - time.Millisecond)
	assert.Equal(t, 1, d.dialCount())

	mock.Add(time.Millisecond)
	require.Eventually(t, func() bool { return tr.State() == Open && d.dialCount() == 2 }, wait, tick)
	// the join is sent again on the new connection
	assert.Equal(t, []string{`{"type":"join","userId":"me"}`}, d.conn(1).frames())
}

func TestTransportDisconnectSuppressesReconnect(t *testing.T) {
	d := &fakeDialer{}
	mock := clock.NewMock()
	tr := newTestTransport(t, d, mock, &inbox{})

	tr.Connect("ws://relay/ws/b1")
	require.Eventually(t, func() bool { return tr.State() == Open }, wait, tick)

	tr.Disconnect()
	assert.Equal(t, Disconnected, tr.State())
	assert.True(t, d.conn(0).isClosed())

	mock.Add(10 * DefaultBackoff)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, d.dialCount())
	assert.Equal(t, Disconnected, tr.State())
}

func TestTransportRetriesFailedDial(t *testing.T) {
	var mu sync.Mutex
	failures := 1
	d := &fakeDialer{}
	d.hook = func(string) (Conn, error) {
		mu.Lock()
		defer mu.Unlock()
		if failures > 0 {
			failures--
			return nil, errors.New("connection refused")
		}
		return newFakeConn(), nil
	}
	mock := clock.NewMock()
	tr := newTestTransport(t, d, mock, &inbox{})

	tr.Connect("ws://relay/ws/b1")
	require.Eventually(t, func() bool { return d.dialCount() == 1 && tr.State() == Disconnected }, wait, tick)

	mock.Add(DefaultBackoff)
	require.Eventually(t, func() bool { return tr.State() == Open }, wait, tick)
}

func TestTransportSupersededConnectionIsInert(t *testing.T) {
	release := make(chan struct{})
	stale := newFakeConn()
	d := &fakeDialer{}
	d.hook = func(url string) (Conn, error) {
		if url == "ws://relay/ws/old" {
			<-release
			return stale, nil
		}
		return newFakeConn(), nil
	}
	mock := clock.NewMock()
	box := &inbox{}
	tr := newTestTransport(t, d, mock, box)

	tr.Connect("ws://relay/ws/old")
	require.Eventually(t, func() bool { return d.dialCount() == 1 }, wait, tick)

	tr.Connect("ws://relay/ws/new")
	require.Eventually(t, func() bool { return tr.State() == Open }, wait, tick)
	gen := tr.Generation()

	// the old dial completes late: its connection is closed, never used
	close(release)
	require.Eventually(t, stale.isClosed, wait, tick)
	assert.Empty(t, stale.frames())

	mock.Add(10 * DefaultBackoff)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, Open, tr.State())
	assert.Equal(t, gen, tr.Generation())
	assert.Equal(t, 2, d.dialCount())

	live := d.conn(1)
	if live == stale {
		live = d.conn(0)
	}
	live.deliver(`{"type":"sync","objects":{}}`)
	require.Eventually(t, func() bool { return len(box.all()) == 1 }, wait, tick)
}

func TestTransportOldConnectionCloseAfterSwitch(t *testing.T) {
	d := &fakeDialer{}
	mock := clock.NewMock()
	box := &inbox{}
	tr := newTestTransport(t, d, mock, box)

	tr.Connect("ws://relay/ws/a")
	require.Eventually(t, func() bool { return tr.State() == Open }, wait, tick)
	first := d.conn(0)

	tr.Connect("ws://relay/ws/b")
	require.Eventually(t, func() bool { return tr.State() == Open && d.dialCount() == 2 }, wait, tick)
	assert.True(t, first.isClosed())

	// frames that race in on the replaced connection go nowhere
	select {
	case first.incoming <- []byte(`{"type":"leave","userId":"x"}`):
	default:
	}
	mock.Add(10 * DefaultBackoff)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, box.all())
	assert.Equal(t, 2, d.dialCount())
	assert.Equal(t, Open, tr.State())
}

func TestTransportNewConnectCancelsPendingReconnect(t *testing.T) {
	d := &fakeDialer{}
	mock := clock.NewMock()
	tr := newTestTransport(t, d, mock, &inbox{})

	tr.Connect("ws://relay/ws/a")
	require.Eventually(t, func() bool { return tr.State() == Open }, wait, tick)
	d.conn(0).Close()
	require.Eventually(t, func() bool { return tr.State() == Disconnected }, wait, tick)

	tr.Connect("ws://relay/ws/b")
	require.Eventually(t, func() bool { return tr.State() == Open && d.dialCount() == 2 }, wait, tick)

	mock.Add(DefaultBackoff)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 2, d.dialCount())
}
