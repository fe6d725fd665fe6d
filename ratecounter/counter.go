// Package ratecounter implements a sliding-window throughput meter with
// an optional absolute cap, used for per-torrent upload/download/swarm
// rates.
package ratecounter

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// window is how far back samples are kept for the rate average. This
// matches the ~10 second window the original torrent engine uses.
const window = 10 * time.Second

type sample struct {
	bytes int64
	when  time.Time
}

// Counter is a sliding-window byte counter. It is safe for concurrent
// use; callers normally still hold the owning Torrent's write lock when
// calling Record, matching the original's single-writer discipline, but
// the internal mutex makes Rate safe to call from readers too.
type Counter struct {
	mu      sync.Mutex
	samples []sample
	total   int64

	limiter *rate.Limiter
}

// New returns a Counter with no cap.
func New() *Counter {
	return &Counter{}
}

// Record adds n bytes transferred at time when to the window.
func (c *Counter) Record(n int64, when time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.samples = append(c.samples, sample{bytes: n, when: when})
	c.total += n
	c.trim(when)
}

// trim drops samples older than the window relative to now. Caller must
// hold c.mu.
func (c *Counter) trim(now time.Time) {
	cutoff := now.Add(-window)
	i := 0
	for i < len(c.samples) && c.samples[i].when.Before(cutoff) {
		i++
	}
	if i > 0 {
		c.samples = c.samples[i:]
	}
}

// Rate returns the current throughput in bytes/second, averaged over
// the trailing window.
func (c *Counter) Rate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.samples) == 0 {
		return 0
	}

	c.trim(time.Now())
	if len(c.samples) == 0 {
		return 0
	}

	var sum int64
	for _, s := range c.samples {
		sum += s.bytes
	}

	span := window.Seconds()
	if len(c.samples) > 1 {
		if d := c.samples[len(c.samples)-1].when.Sub(c.samples[0].when).Seconds(); d > 0 {
			span = d
		}
	}

	return float64(sum) / span
}

// SetLimit installs (or clears, with limit <= 0) an absolute cap in
// bytes/second on top of the observed rate. The cap is advisory here:
// this package only tracks throughput, it does not itself schedule I/O,
// so the limiter is exposed via Allow for a caller's send/receive
// loop to consult.
func (c *Counter) SetLimit(bytesPerSec int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if bytesPerSec <= 0 {
		c.limiter = nil
		return
	}
	c.limiter = rate.NewLimiter(rate.Limit(bytesPerSec), bytesPerSec)
}

// Allow reports whether n bytes may be transferred right now without
// exceeding the configured cap. With no cap installed, it always
// returns true.
func (c *Counter) Allow(n int) bool {
	c.mu.Lock()
	limiter := c.limiter
	c.mu.Unlock()

	if limiter == nil {
		return true
	}
	return limiter.AllowN(time.Now(), n)
}

// Reset clears all recorded samples and the running total.
func (c *Counter) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.samples = nil
	c.total = 0
}

// Close releases the counter's cap, if any. Counter holds no other
// resources; Close exists to mirror the original's explicit
// construct/destroy pairing for every component.
func (c *Counter) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.limiter = nil
}

// Total returns the cumulative number of bytes recorded since
// construction or the last Reset.
func (c *Counter) Total() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}
