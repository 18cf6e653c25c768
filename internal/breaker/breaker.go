// Package breaker provides per-source circuit breaking for the acquisition
// pipelines. Each source owns a three-state machine (closed, open, half-open)
// driven by consecutive failure counts and a recovery timeout.
package breaker

import (
	"sync"
	"time"

	"mediaharvest/internal/clock"
)

// State enumerates the breaker positions.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

const (
	defaultFailureThreshold = 5
	defaultRecoveryTimeout  = 5 * time.Minute
)

// Config tunes breaker behaviour. Zero values fall back to defaults.
type Config struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
	Clock            clock.Clock
}

// Status is a point-in-time view of one source's breaker entry.
type Status struct {
	State            State     `json:"state"`
	Failures         int       `json:"failures"`
	LastFailure      time.Time `json:"lastFailure,omitempty"`
	FailureThreshold int       `json:"failureThreshold"`
	RecoveryTimeout  string    `json:"recoveryTimeout"`
}

type entry struct {
	state       State
	failures    int
	lastFailure time.Time
}

// Breaker tracks failure state for every source it has seen. Entries are
// created lazily on first use. All mutation happens under one lock; the
// source population is small and contention negligible.
type Breaker struct {
	mu        sync.Mutex
	threshold int
	recovery  time.Duration
	clk       clock.Clock
	entries   map[string]*entry
}

// New constructs a Breaker from cfg.
func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = defaultFailureThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = defaultRecoveryTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	return &Breaker{
		threshold: cfg.FailureThreshold,
		recovery:  cfg.RecoveryTimeout,
		clk:       cfg.Clock,
		entries:   make(map[string]*entry),
	}
}

func (b *Breaker) entryLocked(source string) *entry {
	e, ok := b.entries[source]
	if !ok {
		e = &entry{state: StateClosed}
		b.entries[source] = e
	}
	return e
}

// Allow reports whether a call to the source may proceed. It never blocks.
// An open entry whose recovery timeout has elapsed transitions to half-open
// and admits the caller.
func (b *Breaker) Allow(source string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	e := b.entryLocked(source)
	switch e.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if b.clk.Now().Sub(e.lastFailure) >= b.recovery {
			e.state = StateHalfOpen
			return true
		}
		return false
	}
	return true
}

// RecordSuccess closes the entry and zeroes its failure counter.
func (b *Breaker) RecordSuccess(source string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e := b.entryLocked(source)
	e.state = StateClosed
	e.failures = 0
}

// RecordFailure increments the consecutive failure counter and opens the
// entry when the threshold is reached. A failure during half-open reopens
// immediately.
func (b *Breaker) RecordFailure(source string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e := b.entryLocked(source)
	e.failures++
	e.lastFailure = b.clk.Now()
	if e.state == StateHalfOpen || e.failures >= b.threshold {
		e.state = StateOpen
	}
}

// FailureCount returns the consecutive failure count for the source.
func (b *Breaker) FailureCount(source string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e, ok := b.entries[source]; ok {
		return e.failures
	}
	return 0
}

// Snapshot returns the current status of every tracked source.
func (b *Breaker) Snapshot() map[string]Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]Status, len(b.entries))
	for source, e := range b.entries {
		out[source] = Status{
			State:            e.state,
			Failures:         e.failures,
			LastFailure:      e.lastFailure,
			FailureThreshold: b.threshold,
			RecoveryTimeout:  b.recovery.String(),
		}
	}
	return out
}

// OpenCount returns how many tracked sources are currently open.
func (b *Breaker) OpenCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	open := 0
	for _, e := range b.entries {
		if e.state == StateOpen {
			open++
		}
	}
	return open
}

// Reset closes the entry for one source and zeroes its counters.
func (b *Breaker) Reset(source string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e, ok := b.entries[source]; ok {
		e.state = StateClosed
		e.failures = 0
		e.lastFailure = time.Time{}
	}
}

// ResetAll closes every entry.
func (b *Breaker) ResetAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.entries {
		e.state = StateClosed
		e.failures = 0
		e.lastFailure = time.Time{}
	}
}
