// Package clock abstracts time for components whose correctness depends on
// it: circuit-breaker recovery, key-pool quota resets, and retry backoff all
// read the same injected clock so tests can drive them deterministically.
package clock

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"
)

// Clock supplies the current time and context-aware sleeping.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type systemClock struct{}

// Real returns the system clock. Now always reports UTC.
func Real() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

func (systemClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// BackoffDelay returns the delay before retry number attempt (0-based):
// min(cap, base*factor^attempt), scaled by a uniform factor in [0.5, 1)
// when jitter is requested.
func BackoffDelay(attempt int, base time.Duration, factor float64, max time.Duration, jitter bool) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	if factor < 1 {
		factor = 1
	}
	scaled := float64(base) * math.Pow(factor, float64(attempt))
	if max > 0 && scaled > float64(max) {
		scaled = float64(max)
	}
	if jitter {
		scaled *= 0.5 + rand.Float64()/2
	}
	return time.Duration(scaled)
}

// NextUTCMidnight returns the start of the next UTC day after now. Daily
// quota windows reset on this boundary.
func NextUTCMidnight(now time.Time) time.Time {
	utc := now.UTC()
	day := time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC)
	return day.Add(24 * time.Hour)
}

// Manual is a test clock. Sleep advances the clock by the requested duration
// instead of blocking, so retry loops run instantly while still observing
// cancellation.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual returns a Manual clock starting at the provided instant.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start.UTC()}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d > 0 {
		m.Advance(d)
	}
	return nil
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// Set moves the clock to the provided instant.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t.UTC()
}
