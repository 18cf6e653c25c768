package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"mediaharvest/internal/testsupport/redisstub"
)

func newRedisCache(t *testing.T, cfg RedisCacheConfig) FingerprintCache {
	t.Helper()
	cache, err := NewRedisFingerprintCache(cfg)
	if err != nil {
		t.Fatalf("NewRedisFingerprintCache returned error: %v", err)
	}
	t.Cleanup(func() { cache.Close() })
	return cache
}

func TestRedisFingerprintCacheRoundTrip(t *testing.T) {
	stub, err := redisstub.Start(redisstub.Options{})
	if err != nil {
		t.Fatalf("start redis stub: %v", err)
	}
	t.Cleanup(func() { stub.Close() })

	cache := newRedisCache(t, RedisCacheConfig{Addr: stub.Addr()})
	ctx := context.Background()

	seen, err := cache.Seen(ctx, "article", []string{"https://example.com/a", "https://example.com/b"})
	if err != nil {
		t.Fatalf("Seen returned error: %v", err)
	}
	if seen[0] || seen[1] {
		t.Fatalf("expected no fingerprints cached yet, got %v", seen)
	}

	if err := cache.Add(ctx, "article", []string{"https://example.com/a"}); err != nil {
		t.Fatalf("Add returned error: %v", err)
	}

	seen, err = cache.Seen(ctx, "article", []string{"https://example.com/a", "https://example.com/b"})
	if err != nil {
		t.Fatalf("Seen returned error: %v", err)
	}
	if !seen[0] || seen[1] {
		t.Fatalf("expected only the first fingerprint cached, got %v", seen)
	}

	// Kinds are separate sets.
	seen, err = cache.Seen(ctx, "video", []string{"https://example.com/a"})
	if err != nil {
		t.Fatalf("Seen returned error: %v", err)
	}
	if seen[0] {
		t.Fatalf("expected video set untouched by article adds")
	}
}

func TestRedisFingerprintCacheAuth(t *testing.T) {
	stub, err := redisstub.Start(redisstub.Options{Password: "cache-pass"})
	if err != nil {
		t.Fatalf("start redis stub: %v", err)
	}
	t.Cleanup(func() { stub.Close() })

	cache := newRedisCache(t, RedisCacheConfig{Addr: stub.Addr(), Password: "cache-pass"})
	if err := cache.Add(context.Background(), "article", []string{"fp-1"}); err != nil {
		t.Fatalf("Add with auth returned error: %v", err)
	}

	denied := newRedisCache(t, RedisCacheConfig{Addr: stub.Addr(), Password: "wrong"})
	if err := denied.Add(context.Background(), "article", []string{"fp-2"}); err == nil {
		t.Fatalf("expected auth failure with wrong password")
	}
}

func TestRedisFingerprintCacheTLS(t *testing.T) {
	stub, err := redisstub.Start(redisstub.Options{EnableTLS: true})
	if err != nil {
		t.Fatalf("start redis stub: %v", err)
	}
	t.Cleanup(func() { stub.Close() })

	caPath := filepath.Join(t.TempDir(), "ca.pem")
	if err := os.WriteFile(caPath, stub.CertPEM(), 0o600); err != nil {
		t.Fatalf("write ca: %v", err)
	}

	cache := newRedisCache(t, RedisCacheConfig{
		Addr: stub.Addr(),
		TLS:  RedisTLSConfig{CAFile: caPath, ServerName: "127.0.0.1"},
	})
	ctx := context.Background()
	if err := cache.Add(ctx, "video", []string{"vid-1"}); err != nil {
		t.Fatalf("Add over TLS returned error: %v", err)
	}
	seen, err := cache.Seen(ctx, "video", []string{"vid-1"})
	if err != nil {
		t.Fatalf("Seen over TLS returned error: %v", err)
	}
	if !seen[0] {
		t.Fatalf("expected fingerprint cached over TLS")
	}
}
