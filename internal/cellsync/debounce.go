package cellsync

import (
	"sync"
	"time"
)

const (
	// DefaultDebounceInterval is the quiet period before an edit is flushed.
	DefaultDebounceInterval = 1000 * time.Millisecond

	// DefaultBlurGrace is how long editing outlives a blur.
	DefaultBlurGrace = 200 * time.Millisecond
)

// Timer is a pending callback that can be stopped.
type Timer interface {
	Stop() bool
}

// Scheduler runs f after d. The real implementation is time.AfterFunc.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// RealScheduler schedules on the wall clock.
var RealScheduler Scheduler = realScheduler{}

type debounced struct {
	timer Timer
	gen   uint64
}

// Debouncer keeps at most one timer per key. Scheduling a key again stops
// the previous timer and bumps its generation, so a callback that was already
// on its way is recognized as superseded by Claim.
type Debouncer struct {
	interval  time.Duration
	scheduler Scheduler
	fire      func(key string, gen uint64)

	mu     sync.Mutex
	timers map[string]debounced
	gen    uint64
}

// NewDebouncer creates a debouncer that calls fire(key, gen) on the
// scheduler's goroutine once key has been quiet for interval.
func NewDebouncer(interval time.Duration, scheduler Scheduler, fire func(key string, gen uint64)) *Debouncer {
	if scheduler == nil {
		scheduler = RealScheduler
	}
	return &Debouncer{
		interval:  interval,
		scheduler: scheduler,
		fire:      fire,
		timers:    make(map[string]debounced),
	}
}

// Schedule (re)starts the timer for key and returns its generation.
func (d *Debouncer) Schedule(key string) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	if prev, ok := d.timers[key]; ok {
		prev.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.timers[key] = debounced{
		timer: d.scheduler.AfterFunc(d.interval, func() { d.fire(key, gen) }),
		gen:   gen,
	}
	return gen
}

// Claim reports whether gen is still the live generation for key and, if so,
// forgets the timer. A false result means the callback was superseded or
// cancelled and must be ignored.
func (d *Debouncer) Claim(key string, gen uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	cur, ok := d.timers[key]
	if !ok || cur.gen != gen {
		return false
	}
	delete(d.timers, key)
	return true
}

// Cancel stops the timer for key. It reports whether one was pending.
func (d *Debouncer) Cancel(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	cur, ok := d.timers[key]
	if !ok {
		return false
	}
	cur.timer.Stop()
	delete(d.timers, key)
	return true
}

// CancelAll stops every timer.
func (d *Debouncer) CancelAll() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for key, cur := range d.timers {
		cur.timer.Stop()
		delete(d.timers, key)
	}
}

// Pending reports whether key has a live timer.
func (d *Debouncer) Pending(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.timers[key]
	return ok
}

// Len returns the number of live timers.
func (d *Debouncer) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.timers)
}
