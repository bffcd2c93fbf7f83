// Package ratelimit bounds how many probes are launched per time window.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/mclock"
)

// DefaultWindow is the length of the rolling window.
const DefaultWindow = time.Minute

// Window admits at most cap launches within any rolling window.
//
// It keeps the times of the last cap launches. When the log is full the next
// launch has to wait until the oldest entry falls out of the window.
type Window struct {
	mu     sync.Mutex
	clock  mclock.Clock
	window time.Duration
	cap    int

	launches []mclock.AbsTime // ring buffer, len == cap
	head     int              // index of the oldest entry
	count    int
}

// New creates a limiter admitting perWindow launches every window.
func New(clock mclock.Clock, perWindow int, window time.Duration) *Window {
	if perWindow <= 0 {
		perWindow = 1
	}
	if window <= 0 {
		window = DefaultWindow
	}
	if clock == nil {
		clock = mclock.System{}
	}
	return &Window{
		clock:    clock,
		window:   window,
		cap:      perWindow,
		launches: make([]mclock.AbsTime, perWindow),
	}
}

// Delay returns how long the caller must wait before the next launch is
// admitted. Zero means a launch may proceed now.
func (w *Window) Delay() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.clock.Now()
	w.expire(now)
	if w.count < w.cap {
		return 0
	}
	return w.launches[w.head].Add(w.window).Sub(now)
}

// Wait blocks until a launch is admitted or ctx is done.
func (w *Window) Wait(ctx context.Context) error {
	for {
		d := w.Delay()
		if d <= 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.clock.After(d):
		}
	}
}

// Record counts one launch at the current time. Only initial sends are
// recorded; resends of the same probe are not.
func (w *Window) Record() {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.clock.Now()
	w.expire(now)
	if w.count == w.cap {
		// Caller skipped Wait; drop the oldest so the log stays bounded.
		w.head = (w.head + 1) % w.cap
		w.count--
	}
	w.launches[(w.head+w.count)%w.cap] = now
	w.count++
}

// Used returns the number of launches inside the current window.
func (w *Window) Used() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.expire(w.clock.Now())
	return w.count
}

// Cap returns the configured per-window limit.
func (w *Window) Cap() int { return w.cap }

func (w *Window) expire(now mclock.AbsTime) {
	for w.count > 0 && now.Sub(w.launches[w.head]) >= w.window {
		w.head = (w.head + 1) % w.cap
		w.count--
	}
}
