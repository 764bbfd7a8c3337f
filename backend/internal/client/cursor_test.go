package client

import (
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type points struct {
	mu  sync.Mutex
	got [][2]float64
}

func (p *points) emit(x, y float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.got = append(p.got, [2]float64{x, y})
}

func (p *points) all() [][2]float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][2]float64(nil), p.got...)
}

func TestCursorThrottleLeadingAndTrailing(t *testing.T) {
	mock := clock.NewMock()
	p := &points{}
	th := NewCursorThrottle(DefaultCursorInterval, mock, p.emit)

	th.Move(1, 1)
	assert.Equal(t, [][2]float64{{1, 1}}, p.all())

	mock.Add(10 * time.Millisecond)
	th.Move(2, 2)
	th.Move(3, 3)
	assert.Len(t, p.all(), 1)

	mock.Add(23 * time.Millisecond)
	require.Eventually(t, func() bool { return len(p.all()) == 2 }, wait, tick)
	assert.Equal(t, [2]float64{3, 3}, p.all()[1])
}

func TestCursorThrottleSpacedMovesPassThrough(t *testing.T) {
	mock := clock.NewMock()
	p := &points{}
	th := NewCursorThrottle(DefaultCursorInterval, mock, p.emit)

	th.Move(1, 1)
	mock.Add(DefaultCursorInterval)
	th.Move(2, 2)
	mock.Add(DefaultCursorInterval)
	th.Move(3, 3)

	assert.Equal(t, [][2]float64{{1, 1}, {2, 2}, {3, 3}}, p.all())
}

func TestCursorThrottleStopDropsHeldPosition(t *testing.T) {
	mock := clock.NewMock()
	p := &points{}
	th := NewCursorThrottle(DefaultCursorInterval, mock, p.emit)

	th.Move(1, 1)
	th.Move(2, 2)
	th.Stop()

	mock.Add(time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, [][2]float64{{1, 1}}, p.all())
}
