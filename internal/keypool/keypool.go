// Package keypool rotates provider API keys. Keys exhausted by quota
// responses are benched until the provider's UTC midnight reset, then
// revived automatically. Raw key material never appears in logs or status
// output; keys are identified by a short blake2b digest.
package keypool

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"

	"mediaharvest/internal/clock"
	"mediaharvest/internal/harvest"
)

// Key is one pool member. The digest is stable for the key's lifetime and
// safe to log.
type Key struct {
	value  string
	digest string
}

// Value returns the raw key for use in outbound requests.
func (k Key) Value() string { return k.value }

// Digest returns the 8-hex-character identifier for the key.
func (k Key) Digest() string { return k.digest }

// Zero reports whether the key is the zero value.
func (k Key) Zero() bool { return k.value == "" }

// Digest computes the short identifier used for a raw key value.
func Digest(value string) string {
	sum := blake2b.Sum256([]byte(value))
	return fmt.Sprintf("%x", sum[:4])
}

// KeyStatus describes one key's availability and accounting.
type KeyStatus struct {
	Index          int        `json:"index"`
	Digest         string     `json:"digest"`
	Requests       uint64     `json:"requests"`
	Exhausted      bool       `json:"exhausted"`
	ExhaustedUntil *time.Time `json:"exhaustedUntil,omitempty"`
	LastError      string     `json:"lastError,omitempty"`
}

// PoolStatus aggregates per-key state for the control surface.
type PoolStatus struct {
	Keys      []KeyStatus `json:"keys"`
	Available int         `json:"available"`
	Exhausted int         `json:"exhausted"`
	NextReset *time.Time  `json:"nextReset,omitempty"`
}

type entry struct {
	key            Key
	requests       uint64
	exhaustedUntil time.Time
	lastError      string
}

// Pool hands out keys round-robin, skipping exhausted entries.
type Pool struct {
	mu      sync.Mutex
	clk     clock.Clock
	entries []*entry
	next    int
}

// New builds a pool from raw key values. Values are trimmed and
// deduplicated; ordering of first appearance is preserved.
func New(values []string, clk clock.Clock) *Pool {
	if clk == nil {
		clk = clock.Real()
	}
	p := &Pool{clk: clk}
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		p.entries = append(p.entries, &entry{key: Key{value: v, digest: Digest(v)}})
	}
	return p
}

// Len returns the number of keys in the pool, exhausted or not.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

func (p *Pool) reviveLocked(now time.Time) {
	for _, e := range p.entries {
		if !e.exhaustedUntil.IsZero() && !now.Before(e.exhaustedUntil) {
			e.exhaustedUntil = time.Time{}
		}
	}
}

// Acquire returns the next available key in rotation order. When every key
// is exhausted (or the pool is empty) it returns a quota-exhausted error.
func (p *Pool) Acquire() (Key, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.entries) == 0 {
		return Key{}, &harvest.Error{Kind: harvest.KindQuotaExhausted, Err: harvest.ErrNoKeysConfigured}
	}
	p.reviveLocked(p.clk.Now())
	for i := 0; i < len(p.entries); i++ {
		idx := (p.next + i) % len(p.entries)
		e := p.entries[idx]
		if e.exhaustedUntil.IsZero() {
			p.next = (idx + 1) % len(p.entries)
			return e.key, nil
		}
	}
	return Key{}, &harvest.Error{Kind: harvest.KindQuotaExhausted, Err: harvest.ErrAllKeysExhausted}
}

// RecordResult accounts for one upstream call made with the key. A failure
// classified as quota exhaustion benches the key until the next UTC
// midnight; any other failure leaves it in rotation.
func (p *Pool) RecordResult(k Key, success bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e := p.findLocked(k)
	if e == nil {
		return
	}
	e.requests++
	if success {
		e.lastError = ""
		return
	}
	if err != nil {
		e.lastError = err.Error()
		if harvest.KindOf(err) == harvest.KindQuotaExhausted {
			e.exhaustedUntil = clock.NextUTCMidnight(p.clk.Now())
		}
	}
}

// MarkExhausted benches the key until the next UTC midnight relative to the
// pool clock. Unknown keys are ignored.
func (p *Pool) MarkExhausted(k Key) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e := p.findLocked(k); e != nil {
		e.exhaustedUntil = clock.NextUTCMidnight(p.clk.Now())
	}
}

func (p *Pool) findLocked(k Key) *entry {
	for _, e := range p.entries {
		if e.key.value == k.value {
			return e
		}
	}
	return nil
}

// AvailableCount returns how many keys are currently usable.
func (p *Pool) AvailableCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reviveLocked(p.clk.Now())
	n := 0
	for _, e := range p.entries {
		if e.exhaustedUntil.IsZero() {
			n++
		}
	}
	return n
}

// Status reports every key in pool order plus aggregate availability. The
// next-reset instant is the earliest revival among exhausted keys.
func (p *Pool) Status() PoolStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reviveLocked(p.clk.Now())
	status := PoolStatus{Keys: make([]KeyStatus, 0, len(p.entries))}
	for i, e := range p.entries {
		ks := KeyStatus{
			Index:     i,
			Digest:    e.key.digest,
			Requests:  e.requests,
			LastError: e.lastError,
		}
		if e.exhaustedUntil.IsZero() {
			status.Available++
		} else {
			ks.Exhausted = true
			until := e.exhaustedUntil
			ks.ExhaustedUntil = &until
			status.Exhausted++
			if status.NextReset == nil || until.Before(*status.NextReset) {
				reset := until
				status.NextReset = &reset
			}
		}
		status.Keys = append(status.Keys, ks)
	}
	return status
}

// Reset clears all exhaustion marks and restarts rotation from the first key.
func (p *Pool) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.entries {
		e.exhaustedUntil = time.Time{}
		e.lastError = ""
	}
	p.next = 0
}

// ResetKey clears the exhaustion mark for the key with the given digest.
// It reports whether a key with that digest exists.
func (p *Pool) ResetKey(digest string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.entries {
		if e.key.digest == digest {
			e.exhaustedUntil = time.Time{}
			e.lastError = ""
			return true
		}
	}
	return false
}

// LoadKeyFile reads one key per line from path. Blank lines and lines
// starting with '#' are skipped.
func LoadKeyFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open key file: %w", err)
	}
	defer f.Close()

	var keys []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		keys = append(keys, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	return keys, nil
}
