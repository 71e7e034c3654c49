package manager

import (
	"sync"
	"time"
)

// Debounce policy defaults.
const (
	DefaultDebounce = 100 * time.Millisecond
	DefaultMaxWait  = 500 * time.Millisecond
)

// Timer is a cancellable scheduled callback.
type Timer interface {
	Stop() bool
}

// Clock abstracts time for the debouncer.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// RealClock uses the time package.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

func (RealClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// Debouncer fires an automatic request after a quiet period, or at the latest
// MaxWait after the first Schedule of the current streak, so continuous typing
// still produces suggestions.
type Debouncer struct {
	clock    Clock
	debounce time.Duration
	maxWait  time.Duration
	fire     func(gen uint64)

	mu          sync.Mutex
	timer       Timer
	seq         uint64
	pending     bool
	streakStart time.Time
}

// NewDebouncer returns a debouncer that calls fire on the clock's goroutine.
// Zero durations select the defaults.
func NewDebouncer(clock Clock, debounce, maxWait time.Duration, fire func(gen uint64)) *Debouncer {
	if clock == nil {
		clock = RealClock{}
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWait
	}
	return &Debouncer{clock: clock, debounce: debounce, maxWait: maxWait, fire: fire}
}

// Schedule replaces any pending fire with one for gen.
func (d *Debouncer) Schedule(gen uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clock.Now()
	if !d.pending {
		d.streakStart = now
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	delay := d.debounce
	if remaining := d.maxWait - now.Sub(d.streakStart); remaining < delay {
		delay = max(remaining, 0)
	}
	d.pending = true
	d.seq++
	seq := d.seq
	d.timer = d.clock.AfterFunc(delay, func() {
		d.mu.Lock()
		if seq != d.seq || !d.pending {
			d.mu.Unlock()
			return
		}
		d.pending = false
		d.timer = nil
		d.mu.Unlock()
		d.fire(gen)
	})
}

// Cancel drops the pending fire, if any, and ends the streak.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.pending = false
	d.seq++
}

// Pending reports whether a fire is scheduled.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}
