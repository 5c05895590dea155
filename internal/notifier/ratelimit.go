package notifier

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// RateLimitConfig caps sends on one channel.
type RateLimitConfig struct {
	MaxPerWindow int           // default 10
	Window       time.Duration // default 1m
	Enabled      bool
}

// RateLimitStats is a point-in-time view of a RateLimiter.
type RateLimitStats struct {
	Dropped      int64
	CurrentCount int
	MaxPerWindow int
	Window       time.Duration
	Enabled      bool
}

// RateLimiter is a sliding window log of send times. Unlike a token bucket it
// never lets a burst exceed MaxPerWindow within any Window-long span, which
// is what provider quotas are usually expressed as.
type RateLimiter struct {
	mu      sync.Mutex
	cfg     RateLimitConfig
	sent    []time.Time // ascending
	dropped int64
	now     func() time.Time
}

// NewRateLimiter creates a limiter, filling in defaults.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.MaxPerWindow <= 0 {
		cfg.MaxPerWindow = 10
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	return &RateLimiter{
		cfg:  cfg,
		sent: make([]time.Time, 0, cfg.MaxPerWindow),
		now:  time.Now,
	}
}

// Allow records a send and reports whether it fits in the window.
func (r *RateLimiter) Allow() bool {
	ok, _ := r.Reserve()
	return ok
}

// Reserve is Allow that also returns, on refusal, how long until the oldest
// send in the window expires.
func (r *RateLimiter) Reserve() (bool, time.Duration) {
	if !r.cfg.Enabled {
		return true, 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.expire(now)
	if len(r.sent) >= r.cfg.MaxPerWindow {
		r.dropped++
		return false, r.sent[0].Add(r.cfg.Window).Sub(now)
	}
	r.sent = append(r.sent, now)
	return true, 0
}

// Release gives back the most recent reservation after a failed send.
func (r *RateLimiter) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n := len(r.sent); n > 0 {
		r.sent = r.sent[:n-1]
	}
}

// expire drops entries older than the window. Caller holds mu.
func (r *RateLimiter) expire(now time.Time) {
	cutoff := now.Add(-r.cfg.Window)
	i := sort.Search(len(r.sent), func(i int) bool { return !r.sent[i].Before(cutoff) })
	if i > 0 {
		r.sent = append(r.sent[:0], r.sent[i:]...)
	}
}

// Dropped returns the number of refused sends.
func (r *RateLimiter) Dropped() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Stats returns the limiter's counters.
func (r *RateLimiter) Stats() RateLimitStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RateLimitStats{
		Dropped:      r.dropped,
		CurrentCount: len(r.sent),
		MaxPerWindow: r.cfg.MaxPerWindow,
		Window:       r.cfg.Window,
		Enabled:      r.cfg.Enabled,
	}
}

// Reset clears the window and counters.
func (r *RateLimiter) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = r.sent[:0]
	r.dropped = 0
}

// Throttled wraps an adapter with a per-channel send budget. Refused sends
// fail with ErrRateLimited and go through the normal retry schedule.
type Throttled struct {
	Adapter
	limiter *RateLimiter
}

// Throttle wraps a with a sliding window limiter.
func Throttle(a Adapter, cfg RateLimitConfig) *Throttled {
	return &Throttled{Adapter: a, limiter: NewRateLimiter(cfg)}
}

// Send consumes a slot and refunds it when the inner send fails.
func (t *Throttled) Send(ctx context.Context, msg *Message) (*Receipt, error) {
	if ok, wait := t.limiter.Reserve(); !ok {
		return nil, &DeliveryError{
			Channel: t.Channel(),
			Err:     fmt.Errorf("%w, next slot in %s", ErrRateLimited, wait.Round(time.Second)),
		}
	}
	receipt, err := t.Adapter.Send(ctx, msg)
	if err != nil {
		t.limiter.Release()
	}
	return receipt, err
}

// Stats returns the limiter statistics.
func (t *Throttled) Stats() RateLimitStats {
	return t.limiter.Stats()
}

var _ Adapter = (*Throttled)(nil)
