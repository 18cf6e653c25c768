package storage

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const fingerprintKeyPrefix = "mediaharvest:fingerprints:"

// FingerprintCache answers "has this identity been stored before" without a
// repository round trip. A cache miss is never authoritative; the repository
// unique constraint remains the source of truth.
type FingerprintCache interface {
	// Seen reports, per fingerprint, whether it is already cached.
	Seen(ctx context.Context, kind string, fingerprints []string) ([]bool, error)
	// Add caches fingerprints after a successful insert.
	Add(ctx context.Context, kind string, fingerprints []string) error
	Close() error
}

// RedisTLSConfig controls TLS behaviour for Redis connections.
type RedisTLSConfig struct {
	CAFile             string
	CertFile           string
	KeyFile            string
	ServerName         string
	InsecureSkipVerify bool
}

// RedisCacheConfig configures the Redis-backed fingerprint cache.
type RedisCacheConfig struct {
	Addr         string
	Addrs        []string
	Username     string
	Password     string
	MasterName   string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	TTL          time.Duration
	TLS          RedisTLSConfig
}

type redisFingerprintCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisFingerprintCache connects a fingerprint cache to Redis. The set per
// content kind expires after the configured TTL so the cache self-prunes.
func NewRedisFingerprintCache(cfg RedisCacheConfig) (FingerprintCache, error) {
	addrs := make([]string, 0, len(cfg.Addrs)+1)
	for _, addr := range cfg.Addrs {
		if trimmed := strings.TrimSpace(addr); trimmed != "" {
			addrs = append(addrs, trimmed)
		}
	}
	if addr := strings.TrimSpace(cfg.Addr); addr != "" {
		addrs = append(addrs, addr)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("redis addr is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 7 * 24 * time.Hour
	}
	tlsConfig, err := buildTLSConfig(cfg.TLS)
	if err != nil {
		return nil, err
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        addrs,
		MasterName:   strings.TrimSpace(cfg.MasterName),
		Username:     strings.TrimSpace(cfg.Username),
		Password:     cfg.Password,
		TLSConfig:    tlsConfig,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	})
	return &redisFingerprintCache{client: client, ttl: cfg.TTL}, nil
}

func (c *redisFingerprintCache) Seen(ctx context.Context, kind string, fingerprints []string) ([]bool, error) {
	if len(fingerprints) == 0 {
		return nil, nil
	}
	members := make([]interface{}, len(fingerprints))
	for i, fp := range fingerprints {
		members[i] = fp
	}
	seen, err := c.client.SMIsMember(ctx, fingerprintKeyPrefix+kind, members...).Result()
	if err != nil {
		return nil, fmt.Errorf("check fingerprints: %w", err)
	}
	return seen, nil
}

func (c *redisFingerprintCache) Add(ctx context.Context, kind string, fingerprints []string) error {
	if len(fingerprints) == 0 {
		return nil
	}
	members := make([]interface{}, len(fingerprints))
	for i, fp := range fingerprints {
		members[i] = fp
	}
	key := fingerprintKeyPrefix + kind
	if err := c.client.SAdd(ctx, key, members...).Err(); err != nil {
		return fmt.Errorf("cache fingerprints: %w", err)
	}
	if err := c.client.Expire(ctx, key, c.ttl).Err(); err != nil {
		return fmt.Errorf("refresh fingerprint ttl: %w", err)
	}
	return nil
}

func (c *redisFingerprintCache) Close() error {
	return c.client.Close()
}

type memoryFingerprintCache struct {
	mu   sync.RWMutex
	sets map[string]map[string]struct{}
}

// NewMemoryFingerprintCache returns a process-local fingerprint cache, used
// when no Redis endpoint is configured.
func NewMemoryFingerprintCache() FingerprintCache {
	return &memoryFingerprintCache{sets: make(map[string]map[string]struct{})}
}

func (c *memoryFingerprintCache) Seen(_ context.Context, kind string, fingerprints []string) ([]bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	set := c.sets[kind]
	out := make([]bool, len(fingerprints))
	for i, fp := range fingerprints {
		_, out[i] = set[fp]
	}
	return out, nil
}

func (c *memoryFingerprintCache) Add(_ context.Context, kind string, fingerprints []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.sets[kind]
	if !ok {
		set = make(map[string]struct{})
		c.sets[kind] = set
	}
	for _, fp := range fingerprints {
		set[fp] = struct{}{}
	}
	return nil
}

func (c *memoryFingerprintCache) Close() error { return nil }

func buildTLSConfig(cfg RedisTLSConfig) (*tls.Config, error) {
	if cfg.CAFile == "" && cfg.CertFile == "" && cfg.KeyFile == "" && cfg.ServerName == "" && !cfg.InsecureSkipVerify {
		return nil, nil
	}
	tlsCfg := &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}
	if cfg.ServerName != "" {
		tlsCfg.ServerName = cfg.ServerName
	}
	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read redis tls ca: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("redis tls ca is invalid")
		}
		tlsCfg.RootCAs = pool
	}
	if cfg.CertFile != "" || cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load redis tls certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	return tlsCfg, nil
}
