package tdcsim

import (
	"time"

	"github.com/benbjohnson/clock"
)

// Clock is a mock clock whose Sleep advances simulated time instead of
// blocking, so a single goroutine can drive the Device and the Chip.
//
// Every advance still costs about 1ms of wall time: clock.Mock.Add yields
// with a real sleep after each call. A 1µs chip select settle delay is one
// advance, so a register transaction takes roughly 2ms on the sim backend
// regardless of its simulated duration.
type Clock struct {
	*clock.Mock
}

// NewClock returns a Clock starting at the Unix epoch.
func NewClock() *Clock {
	return &Clock{Mock: clock.NewMock()}
}

// Sleep advances the clock by d.
func (c *Clock) Sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	c.Add(d)
}
