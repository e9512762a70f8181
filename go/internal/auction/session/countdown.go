package session

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultCountdownSec is the inactivity window restored on start, reset and
// every accepted bid.
const DefaultCountdownSec = 30

// countdown is a restartable one-second tick source. Its fields are guarded by
// the owning Session's mutex; only the ticker goroutine runs outside it, and
// that goroutine touches nothing but its own channels.
type countdown struct {
	clock     clockwork.Clock
	duration  int
	remaining int
	running   bool

	// gen identifies the current ticker. Ticks from a replaced ticker that
	// were already in flight carry an older gen and are discarded.
	gen  uint64
	stop chan struct{}
}

func newCountdown(clock clockwork.Clock, duration int) *countdown {
	return &countdown{clock: clock, duration: duration}
}

// restart cancels any running ticker, resets to the full duration and starts
// a fresh ticker that calls onTick once per second with its generation.
func (c *countdown) restart(onTick func(gen uint64)) {
	c.cancel()

	c.gen++
	c.remaining = c.duration
	c.running = true

	gen := c.gen
	stop := make(chan struct{})
	c.stop = stop

	// Created before returning so a fake clock advanced right after restart
	// is guaranteed to see it.
	ticker := c.clock.NewTicker(time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.Chan():
				onTick(gen)
			case <-stop:
				return
			}
		}
	}()
}

// cancel stops the ticker. It never waits for the ticker goroutine, so it is
// safe to call while holding the session lock that onTick also acquires.
func (c *countdown) cancel() {
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
	c.running = false
}

// tick applies one elapsed second. ok is false for a stale or stopped ticker.
func (c *countdown) tick(gen uint64) (remaining int, ok bool) {
	if !c.running || gen != c.gen {
		return 0, false
	}
	if c.remaining > 0 {
		c.remaining--
	}
	return c.remaining, true
}
