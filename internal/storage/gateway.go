package storage

import (
	"context"
	"strings"
	"sync"
	"time"

	"mediaharvest/internal/models"
	"mediaharvest/internal/observability/logging"
)

// Gateway fronts a Repository with a fingerprint fast path and a per-process
// source-ID cache. Harvest runs talk to the gateway; the repository unique
// constraints still back-stop anything the cache misses.
type Gateway struct {
	repo  Repository
	cache FingerprintCache

	mu        sync.Mutex
	sourceIDs map[string]string
}

// NewGateway wraps a repository. A nil cache falls back to an in-memory one.
func NewGateway(repo Repository, cache FingerprintCache) *Gateway {
	if cache == nil {
		cache = NewMemoryFingerprintCache()
	}
	return &Gateway{
		repo:      repo,
		cache:     cache,
		sourceIDs: make(map[string]string),
	}
}

// Ping delegates to the underlying repository.
func (g *Gateway) Ping(ctx context.Context) error {
	return g.repo.Ping(ctx)
}

// ResolveSource memoizes repository source resolution per (type, platform).
func (g *Gateway) ResolveSource(ctx context.Context, sourceType models.SourceType, platform, baseURL, credibility string) (string, error) {
	key := sourceKey(sourceType, platform)

	g.mu.Lock()
	if id, ok := g.sourceIDs[key]; ok {
		g.mu.Unlock()
		return id, nil
	}
	g.mu.Unlock()

	id, err := g.repo.ResolveSource(ctx, sourceType, platform, baseURL, credibility)
	if err != nil {
		return "", err
	}

	g.mu.Lock()
	g.sourceIDs[key] = id
	g.mu.Unlock()
	return id, nil
}

// StoreArticles resolves the source, screens the batch against the
// fingerprint cache, and inserts the remainder. Cache hits are reported as
// duplicates without touching the repository.
func (g *Gateway) StoreArticles(ctx context.Context, platform, baseURL, credibility string, articles []models.Article) (BatchResult, error) {
	if len(articles) == 0 {
		return BatchResult{}, nil
	}
	sourceID, err := g.ResolveSource(ctx, models.SourceTypeArticle, platform, baseURL, credibility)
	if err != nil {
		return BatchResult{}, err
	}

	fingerprints := make([]string, len(articles))
	for i, article := range articles {
		fingerprints[i] = strings.TrimSpace(article.Fingerprint)
	}
	seen := g.seenFingerprints(ctx, string(models.KindArticle), fingerprints)

	result := BatchResult{}
	pending := make([]models.Article, 0, len(articles))
	for i, article := range articles {
		if seen != nil && seen[i] {
			result.Duplicates++
			continue
		}
		pending = append(pending, article)
	}

	if len(pending) > 0 {
		inserted, err := g.repo.InsertArticleBatch(ctx, sourceID, pending)
		if err != nil {
			return result, err
		}
		result.InsertedIDs = inserted.InsertedIDs
		result.Duplicates += inserted.Duplicates
		result.Errors += inserted.Errors

		g.cacheFingerprints(ctx, string(models.KindArticle), pending, inserted)
	}
	return result, nil
}

// StoreVideo resolves the source and inserts one video, consulting the
// fingerprint cache for a fast duplicate answer first.
func (g *Gateway) StoreVideo(ctx context.Context, platform, baseURL, credibility string, video models.Video) (VideoResult, error) {
	sourceID, err := g.ResolveSource(ctx, models.SourceTypeVideo, platform, baseURL, credibility)
	if err != nil {
		return VideoResult{Outcome: VideoError, Message: err.Error()}, err
	}

	fingerprint := strings.TrimSpace(video.VideoID)
	if fingerprint != "" {
		if seen := g.seenFingerprints(ctx, string(models.KindVideo), []string{fingerprint}); len(seen) == 1 && seen[0] {
			return VideoResult{Outcome: VideoDuplicate}, nil
		}
	}

	result, err := g.repo.InsertVideo(ctx, sourceID, video)
	if err != nil {
		return result, err
	}
	if result.Outcome == VideoInserted && fingerprint != "" {
		if cacheErr := g.cache.Add(ctx, string(models.KindVideo), []string{fingerprint}); cacheErr != nil {
			logging.WithContext(ctx, nil).Warn("fingerprint cache update failed", "error", cacheErr)
		}
	}
	return result, nil
}

// seenFingerprints asks the cache which fingerprints were stored before. A
// cache failure degrades to "none seen" so the repository decides.
func (g *Gateway) seenFingerprints(ctx context.Context, kind string, fingerprints []string) []bool {
	seen, err := g.cache.Seen(ctx, kind, fingerprints)
	if err != nil {
		logging.WithContext(ctx, nil).Warn("fingerprint cache lookup failed", "error", err)
		return nil
	}
	if len(seen) != len(fingerprints) {
		return nil
	}
	return seen
}

func (g *Gateway) cacheFingerprints(ctx context.Context, kind string, submitted []models.Article, result BatchResult) {
	if len(result.InsertedIDs) == 0 {
		return
	}
	fingerprints := make([]string, 0, len(submitted))
	for _, article := range submitted {
		if fp := strings.TrimSpace(article.Fingerprint); fp != "" {
			fingerprints = append(fingerprints, fp)
		}
	}
	if len(fingerprints) == 0 {
		return
	}
	if err := g.cache.Add(ctx, kind, fingerprints); err != nil {
		logging.WithContext(ctx, nil).Warn("fingerprint cache update failed", "error", err)
	}
}

// InsertArticleBatch delegates to the repository without the cache fast path.
func (g *Gateway) InsertArticleBatch(ctx context.Context, sourceID string, articles []models.Article) (BatchResult, error) {
	return g.repo.InsertArticleBatch(ctx, sourceID, articles)
}

// InsertVideo delegates to the repository without the cache fast path.
func (g *Gateway) InsertVideo(ctx context.Context, sourceID string, video models.Video) (VideoResult, error) {
	return g.repo.InsertVideo(ctx, sourceID, video)
}

func (g *Gateway) CountsByPlatform(ctx context.Context) ([]PlatformCount, error) {
	return g.repo.CountsByPlatform(ctx)
}

func (g *Gateway) RecentActivity(ctx context.Context, window time.Duration, buckets int) ([]ActivityBucket, error) {
	return g.repo.RecentActivity(ctx, window, buckets)
}

func (g *Gateway) LanguageDistribution(ctx context.Context) ([]LanguageCount, error) {
	return g.repo.LanguageDistribution(ctx)
}

func (g *Gateway) SearchContent(ctx context.Context, query string, kind models.ContentKind, limit int) ([]ContentSummary, error) {
	return g.repo.SearchContent(ctx, query, kind, limit)
}

func (g *Gateway) ContentBySource(ctx context.Context, sourceName string, limit int) ([]ContentSummary, error) {
	return g.repo.ContentBySource(ctx, sourceName, limit)
}

// Close releases the cache and, when the repository supports it, the
// repository connections.
func (g *Gateway) Close(ctx context.Context) error {
	var first error
	if err := g.cache.Close(); err != nil {
		first = err
	}
	if closer, ok := g.repo.(interface{ Close(context.Context) error }); ok {
		if err := closer.Close(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}
