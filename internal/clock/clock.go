// Package clock provides the drift-compensating tick source shared by the
// mixer and IVR 20ms media loops, and a monotonic elapsed-time stopwatch.
package clock

import "time"

// Ticker fires at a fixed interval whose deadlines are computed by adding
// the interval to the previous deadline rather than to "now", so that
// processing jitter on one tick does not accumulate drift over time. This is
// the same pattern the teacher's mixer.mixLoop uses.
type Ticker struct {
	interval time.Duration
	next     time.Time
	timer    *time.Timer
	C        chan time.Time
	stop     chan struct{}
}

// NewTicker creates and starts a drift-compensating ticker.
func NewTicker(interval time.Duration) *Ticker {
	t := &Ticker{
		interval: interval,
		next:     time.Now().Add(interval),
		C:        make(chan time.Time, 1),
		stop:     make(chan struct{}),
	}
	t.timer = time.NewTimer(interval)
	go t.run()
	return t
}

func (t *Ticker) run() {
	for {
		select {
		case <-t.stop:
			t.timer.Stop()
			return
		case now := <-t.timer.C:
			select {
			case t.C <- now:
			default:
			}
			t.next = t.next.Add(t.interval)
			d := time.Until(t.next)
			if d < 0 {
				// We've fallen behind by more than one interval; resync to
				// now + interval rather than firing a burst of catch-up ticks.
				t.next = time.Now().Add(t.interval)
				d = t.interval
			}
			t.timer.Reset(d)
		}
	}
}

// Stop halts the ticker. Safe to call once.
func (t *Ticker) Stop() {
	close(t.stop)
}

// Stopwatch is a monotonic elapsed-time counter, reset on demand.
type Stopwatch struct {
	start time.Time
}

// NewStopwatch returns a stopwatch started now.
func NewStopwatch() *Stopwatch {
	return &Stopwatch{start: time.Now()}
}

// Reset restarts the stopwatch at zero.
func (s *Stopwatch) Reset() {
	s.start = time.Now()
}

// Elapsed returns the time since the last Reset (or creation).
func (s *Stopwatch) Elapsed() time.Duration {
	return time.Since(s.start)
}
