package client

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// DefaultCursorInterval keeps cursor traffic near 30 frames a second.
const DefaultCursorInterval = 33 * time.Millisecond

// CursorThrottle forwards at most one position per interval. A position
// that arrives too soon is held and sent when the interval ends, replacing
// any earlier held one.
type CursorThrottle struct {
	interval time.Duration
	clock    clock.Clock
	emit     func(x, y float64)

	mu      sync.Mutex
	last    time.Time
	pending *[2]float64
	timer   *clock.Timer
}

func NewCursorThrottle(interval time.Duration, clk clock.Clock, emit func(x, y float64)) *CursorThrottle {
	if interval <= 0 {
		interval = DefaultCursorInterval
	}
	if clk == nil {
		clk = clock.New()
	}
	return &CursorThrottle{interval: interval, clock: clk, emit: emit}
}

func (c *CursorThrottle) Move(x, y float64) {
	c.mu.Lock()
	now := c.clock.Now()
	if c.last.IsZero() || now.Sub(c.last) >= c.interval {
		c.last = now
		c.pending = nil
		c.mu.Unlock()
		c.emit(x, y)
		return
	}
	c.pending = &[2]float64{x, y}
	if c.timer == nil {
		c.timer = c.clock.AfterFunc(c.interval-now.Sub(c.last), c.flush)
	}
	c.mu.Unlock()
}

// Stop drops any held position.
func (c *CursorThrottle) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.pending = nil
}

func (c *CursorThrottle) flush() {
	c.mu.Lock()
	c.timer = nil
	p := c.pending
	c.pending = nil
	if p != nil {
		c.last = c.clock.Now()
	}
	c.mu.Unlock()
	if p != nil {
		c.emit(p[0], p[1])
	}
}
