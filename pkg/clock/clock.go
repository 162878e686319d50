// Package clock lets the feed schedule its poll ticker and toast expiry
// timers against an injectable time source. Production code uses Real();
// tests use Fake() and move time forward with Advance.
package clock

import "time"

// Clock is the subset of the time package the feed depends on.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) *Timer
	NewTicker(d time.Duration) *Ticker
}

// Ticker mirrors time.Ticker.
type Ticker struct {
	C <-chan time.Time

	stopFunc func()
}

// Stop turns off the ticker. No more ticks are delivered afterwards.
func (t *Ticker) Stop() { t.stopFunc() }

// Timer mirrors the AfterFunc flavour of time.Timer.
type Timer struct {
	stopFunc func() bool
}

// Stop prevents the callback from running. It reports whether the call
// stopped the timer before it fired.
func (t *Timer) Stop() bool { return t.stopFunc() }
