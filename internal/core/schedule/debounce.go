package schedule

import (
	"sync"
	"time"
)

// Debouncer coalesces bursts of triggers per key into a single callback once
// the key has been quiet for the configured delay. Used to batch WhatsApp
// message arrivals per chat before running extraction.
type Debouncer struct {
	mu      sync.Mutex
	delay   time.Duration
	timers  map[string]*time.Timer
	fn      func(key string)
	stopped bool
}

// NewDebouncer creates a debouncer that calls fn(key) after delay has passed
// without another trigger for that key. The callback must be idempotent: a
// trigger racing the timer going off can fire the key twice.
func NewDebouncer(delay time.Duration, fn func(key string)) *Debouncer {
	if delay <= 0 {
		delay = 5 * time.Second
	}
	return &Debouncer{
		delay:  delay,
		timers: make(map[string]*time.Timer),
		fn:     fn,
	}
}

// Trigger starts the key's quiet-period timer, restarting it if one is
// already pending.
func (d *Debouncer) Trigger(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	if timer, ok := d.timers[key]; ok {
		timer.Stop()
	}
	d.timers[key] = time.AfterFunc(d.delay, func() { d.fire(key) })
}

// Cancel drops any pending timer for the key.
func (d *Debouncer) Cancel(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if timer, ok := d.timers[key]; ok {
		timer.Stop()
		delete(d.timers, key)
	}
}

// Pending reports how many keys have a timer waiting.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.timers)
}

// Stop cancels all pending timers. Further triggers are ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	for key, timer := range d.timers {
		timer.Stop()
		delete(d.timers, key)
	}
}

func (d *Debouncer) fire(key string) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	delete(d.timers, key)
	d.mu.Unlock()

	d.fn(key)
}
