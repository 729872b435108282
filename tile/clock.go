package tile

import (
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
)

// Clock is the engine's frame counter and elapsed time.
type Clock struct {
	clk   clock.Clock
	start time.Time
	frame atomic.Uint64
}

// NewClock returns a clock starting at frame 0. A nil clk uses wall time.
func NewClock(clk clock.Clock) *Clock {
	if clk == nil {
		clk = clock.New()
	}
	return &Clock{clk: clk, start: clk.Now()}
}

// Frame returns the current frame number.
func (c *Clock) Frame() uint64 { return c.frame.Load() }

// Tick starts a new frame and returns its number.
func (c *Clock) Tick() uint64 { return c.frame.Add(1) }

// Elapsed returns the time since the clock was created.
func (c *Clock) Elapsed() time.Duration { return c.clk.Since(c.start) }

// Now returns the current time.
func (c *Clock) Now() time.Time { return c.clk.Now() }
