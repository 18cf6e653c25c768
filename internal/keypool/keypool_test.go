package keypool

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"mediaharvest/internal/clock"
	"mediaharvest/internal/harvest"
)

func TestAcquireRoundRobin(t *testing.T) {
	pool := New([]string{"alpha", "beta", "gamma"}, nil)
	want := []string{"alpha", "beta", "gamma", "alpha"}
	for i, expected := range want {
		key, err := pool.Acquire()
		if err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
		if key.Value() != expected {
			t.Fatalf("acquire %d = %q, want %q", i, key.Value(), expected)
		}
	}
}

func TestQuotaFailureRotatesToNextKey(t *testing.T) {
	manual := clock.NewManual(time.Date(2024, 3, 1, 18, 0, 0, 0, time.UTC))
	pool := New([]string{"k1", "k2"}, manual)

	first, err := pool.Acquire()
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if first.Value() != "k1" {
		t.Fatalf("first key = %q, want k1", first.Value())
	}

	quotaErr := harvest.NewError(harvest.KindQuotaExhausted, "tube-search", errors.New("403 quotaExceeded"))
	pool.RecordResult(first, false, quotaErr)

	second, err := pool.Acquire()
	if err != nil {
		t.Fatalf("acquire after exhaustion: %v", err)
	}
	if second.Value() != "k2" {
		t.Fatalf("second key = %q, want k2", second.Value())
	}

	status := pool.Status()
	if status.Available != 1 || status.Exhausted != 1 {
		t.Fatalf("status = %d available / %d exhausted, want 1/1", status.Available, status.Exhausted)
	}
	if status.NextReset == nil {
		t.Fatalf("expected next reset instant while a key is benched")
	}
	midnight := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)
	if !status.NextReset.Equal(midnight) {
		t.Fatalf("next reset = %v, want %v", status.NextReset, midnight)
	}
}

func TestNonQuotaFailureKeepsKeyAvailable(t *testing.T) {
	pool := New([]string{"k1"}, nil)
	key, err := pool.Acquire()
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	pool.RecordResult(key, false, harvest.NewError(harvest.KindUpstreamTransient, "tube-search", errors.New("boom")))
	if got := pool.AvailableCount(); got != 1 {
		t.Fatalf("available = %d, want 1 after transient failure", got)
	}
	status := pool.Status()
	if status.Keys[0].LastError == "" {
		t.Fatalf("expected last error recorded")
	}
	if status.Keys[0].Requests != 1 {
		t.Fatalf("requests = %d, want 1", status.Keys[0].Requests)
	}
}

func TestAllExhaustedThenReset(t *testing.T) {
	manual := clock.NewManual(time.Date(2024, 3, 1, 18, 0, 0, 0, time.UTC))
	pool := New([]string{"k1", "k2"}, manual)
	for _, raw := range []string{"k1", "k2"} {
		pool.MarkExhausted(Key{value: raw})
	}
	if _, err := pool.Acquire(); !errors.Is(err, harvest.ErrAllKeysExhausted) {
		t.Fatalf("expected ErrAllKeysExhausted, got %v", err)
	}

	pool.Reset()
	key, err := pool.Acquire()
	if err != nil {
		t.Fatalf("acquire after reset: %v", err)
	}
	if key.Value() != "k1" {
		t.Fatalf("rotation should restart at the first key, got %q", key.Value())
	}
}

func TestExhaustionExpiresAtUTCMidnight(t *testing.T) {
	manual := clock.NewManual(time.Date(2024, 3, 1, 23, 30, 0, 0, time.UTC))
	pool := New([]string{"k1"}, manual)
	key, _ := pool.Acquire()
	pool.MarkExhausted(key)
	if got := pool.AvailableCount(); got != 0 {
		t.Fatalf("available = %d, want 0 while benched", got)
	}

	manual.Advance(31 * time.Minute)
	if got := pool.AvailableCount(); got != 1 {
		t.Fatalf("available = %d, want 1 after midnight revival", got)
	}
}

func TestAcquireEmptyPool(t *testing.T) {
	pool := New(nil, nil)
	if _, err := pool.Acquire(); !errors.Is(err, harvest.ErrNoKeysConfigured) {
		t.Fatalf("expected ErrNoKeysConfigured, got %v", err)
	}
}

func TestDigestNeverExposesRawValue(t *testing.T) {
	pool := New([]string{"super-secret-key"}, nil)
	status := pool.Status()
	if len(status.Keys) != 1 {
		t.Fatalf("expected one key, got %d", len(status.Keys))
	}
	digest := status.Keys[0].Digest
	if len(digest) != 8 {
		t.Fatalf("digest length = %d, want 8", len(digest))
	}
	if digest == "super-se" {
		t.Fatalf("digest must not leak the raw prefix")
	}
}

func TestLoadKeyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.txt")
	contents := "# provider keys\nkey-one\n\n  key-two  \n# trailing comment\n"
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write key file: %v", err)
	}
	keys, err := LoadKeyFile(path)
	if err != nil {
		t.Fatalf("load key file: %v", err)
	}
	if len(keys) != 2 || keys[0] != "key-one" || keys[1] != "key-two" {
		t.Fatalf("keys = %v, want [key-one key-two]", keys)
	}
}

func TestResetKeyByDigest(t *testing.T) {
	pool := New([]string{"k1", "k2"}, nil)
	key, _ := pool.Acquire()
	pool.MarkExhausted(key)
	if !pool.ResetKey(key.Digest()) {
		t.Fatalf("expected digest %q to resolve a key", key.Digest())
	}
	if got := pool.AvailableCount(); got != 2 {
		t.Fatalf("available = %d, want 2 after per-key reset", got)
	}
	if pool.ResetKey("ffffffff") {
		t.Fatalf("unknown digest should report false")
	}
}
