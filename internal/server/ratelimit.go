package server

import (
	"fmt"
	"sync"
	"time"
)

// RateLimitConfig tunes the global request bucket and the per-client
// throttle on trigger endpoints. A RedisAddr moves trigger accounting into
// Redis so multiple replicas share one budget.
type RateLimitConfig struct {
	GlobalRPS     float64
	GlobalBurst   int
	TriggerLimit  int
	TriggerWindow time.Duration
	RedisAddr     string
	RedisPassword string
	RedisTimeout  time.Duration
}

type rateLimiter struct {
	global         *tokenBucket
	triggerLimit   int
	triggerWindow  time.Duration
	triggerMu      sync.Mutex
	triggerBuckets map[string]*ipLimiter
	store          tokenStore
}

type ipLimiter struct {
	bucket   *tokenBucket
	lastSeen time.Time
}

type tokenStore interface {
	Allow(key string, limit int, window time.Duration) (bool, time.Duration, error)
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	rl := &rateLimiter{
		triggerLimit:   cfg.TriggerLimit,
		triggerWindow:  cfg.TriggerWindow,
		triggerBuckets: make(map[string]*ipLimiter),
	}
	if cfg.GlobalRPS > 0 {
		burst := cfg.GlobalBurst
		if burst <= 0 {
			burst = int(cfg.GlobalRPS)
			if burst < 1 {
				burst = 1
			}
		}
		rl.global = newTokenBucket(cfg.GlobalRPS, burst)
	}
	if rl.triggerLimit <= 0 {
		rl.triggerLimit = 0
	}
	if rl.triggerWindow <= 0 {
		rl.triggerWindow = time.Minute
	}
	if cfg.RedisAddr != "" && rl.triggerLimit > 0 {
		timeout := cfg.RedisTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		rl.store = newRedisStore(cfg.RedisAddr, cfg.RedisPassword, timeout)
	}
	return rl
}

func (r *rateLimiter) AllowRequest() bool {
	if r == nil || r.global == nil {
		return true
	}
	return r.global.Allow()
}

func (r *rateLimiter) AllowTrigger(key string) (bool, time.Duration, error) {
	if r == nil || r.triggerLimit <= 0 {
		return true, 0, nil
	}
	if r.store != nil {
		return r.store.Allow(fmt.Sprintf("mediaharvest:trigger:%s", key), r.triggerLimit, r.triggerWindow)
	}
	if key == "" {
		key = "unknown"
	}
	r.triggerMu.Lock()
	bucket, exists := r.triggerBuckets[key]
	if !exists {
		rate := float64(r.triggerLimit) / r.triggerWindow.Seconds()
		if rate <= 0 {
			rate = 1 / r.triggerWindow.Seconds()
		}
		bucket = &ipLimiter{bucket: newTokenBucket(rate, r.triggerLimit)}
		r.triggerBuckets[key] = bucket
	}
	bucket.lastSeen = time.Now()
	r.cleanupLocked()
	r.triggerMu.Unlock()

	if bucket.bucket.Allow() {
		return true, 0, nil
	}
	return false, time.Second, nil
}

func (r *rateLimiter) cleanupLocked() {
	if len(r.triggerBuckets) == 0 {
		return
	}
	cutoff := time.Now().Add(-2 * r.triggerWindow)
	for key, bucket := range r.triggerBuckets {
		if bucket.lastSeen.Before(cutoff) {
			delete(r.triggerBuckets, key)
		}
	}
}

type tokenBucket struct {
	mu        sync.Mutex
	rate      float64
	capacity  float64
	tokens    float64
	lastCheck time.Time
}

func newTokenBucket(rate float64, burst int) *tokenBucket {
	if rate <= 0 {
		rate = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &tokenBucket{
		rate:      rate,
		capacity:  float64(burst),
		tokens:    float64(burst),
		lastCheck: time.Now(),
	}
}

func (tb *tokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	now := time.Now()
	elapsed := now.Sub(tb.lastCheck).Seconds()
	tb.lastCheck = now
	tb.tokens += elapsed * tb.rate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	if tb.tokens < 1 {
		return false
	}
	tb.tokens -= 1
	return true
}
