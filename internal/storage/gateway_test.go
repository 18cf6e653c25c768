package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"

	"mediaharvest/internal/models"
)

type countingRepository struct {
	Repository
	articleBatches atomic.Int64
	videoInserts   atomic.Int64
	sourceResolves atomic.Int64
}

func (r *countingRepository) ResolveSource(ctx context.Context, sourceType models.SourceType, platform, baseURL, credibility string) (string, error) {
	r.sourceResolves.Add(1)
	return r.Repository.ResolveSource(ctx, sourceType, platform, baseURL, credibility)
}

func (r *countingRepository) InsertArticleBatch(ctx context.Context, sourceID string, articles []models.Article) (BatchResult, error) {
	r.articleBatches.Add(1)
	return r.Repository.InsertArticleBatch(ctx, sourceID, articles)
}

func (r *countingRepository) InsertVideo(ctx context.Context, sourceID string, video models.Video) (VideoResult, error) {
	r.videoInserts.Add(1)
	return r.Repository.InsertVideo(ctx, sourceID, video)
}

type failingCache struct{}

func (failingCache) Seen(context.Context, string, []string) ([]bool, error) {
	return nil, errors.New("cache down")
}
func (failingCache) Add(context.Context, string, []string) error { return errors.New("cache down") }
func (failingCache) Close() error                                { return nil }

func newCountingGateway(t *testing.T, cache FingerprintCache) (*Gateway, *countingRepository) {
	t.Helper()
	store, err := NewStorage(filepath.Join(t.TempDir(), "store.json"))
	if err != nil {
		t.Fatalf("NewStorage returned error: %v", err)
	}
	repo := &countingRepository{Repository: store}
	return NewGateway(repo, cache), repo
}

func TestGatewayStoreArticlesCacheShortCircuit(t *testing.T) {
	gateway, repo := newCountingGateway(t, nil)
	ctx := context.Background()

	articles := []models.Article{
		{Fingerprint: "https://example.com/one", Title: "One"},
		{Fingerprint: "https://example.com/two", Title: "Two"},
	}
	first, err := gateway.StoreArticles(ctx, "dailystar", "", "mainstream", articles)
	if err != nil {
		t.Fatalf("StoreArticles returned error: %v", err)
	}
	if len(first.InsertedIDs) != 2 {
		t.Fatalf("expected 2 inserts, got %+v", first)
	}
	if got := repo.articleBatches.Load(); got != 1 {
		t.Fatalf("expected 1 repository batch, got %d", got)
	}

	second, err := gateway.StoreArticles(ctx, "dailystar", "", "mainstream", articles)
	if err != nil {
		t.Fatalf("StoreArticles returned error: %v", err)
	}
	if second.Duplicates != 2 || len(second.InsertedIDs) != 0 {
		t.Fatalf("expected cache to report duplicates, got %+v", second)
	}
	if got := repo.articleBatches.Load(); got != 1 {
		t.Fatalf("expected cache hit to skip the repository, got %d batches", got)
	}
}

func TestGatewayResolveSourceMemoized(t *testing.T) {
	gateway, repo := newCountingGateway(t, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := gateway.ResolveSource(ctx, models.SourceTypeArticle, "prothomalo", "", ""); err != nil {
			t.Fatalf("ResolveSource returned error: %v", err)
		}
	}
	if got := repo.sourceResolves.Load(); got != 1 {
		t.Fatalf("expected 1 repository resolve, got %d", got)
	}
}

func TestGatewayCacheFailureFallsThroughToRepository(t *testing.T) {
	gateway, repo := newCountingGateway(t, failingCache{})
	ctx := context.Background()

	articles := []models.Article{{Fingerprint: "https://example.com/one", Title: "One"}}
	first, err := gateway.StoreArticles(ctx, "dailystar", "", "", articles)
	if err != nil {
		t.Fatalf("StoreArticles returned error: %v", err)
	}
	if len(first.InsertedIDs) != 1 {
		t.Fatalf("expected insert despite cache failure, got %+v", first)
	}

	second, err := gateway.StoreArticles(ctx, "dailystar", "", "", articles)
	if err != nil {
		t.Fatalf("StoreArticles returned error: %v", err)
	}
	if second.Duplicates != 1 {
		t.Fatalf("expected the repository to catch the duplicate, got %+v", second)
	}
	if got := repo.articleBatches.Load(); got != 2 {
		t.Fatalf("expected both calls to reach the repository, got %d", got)
	}
}

func TestGatewayStoreVideoUsesCache(t *testing.T) {
	gateway, repo := newCountingGateway(t, nil)
	ctx := context.Background()

	video := models.Video{VideoID: "abc123", Title: "Clip"}
	first, err := gateway.StoreVideo(ctx, "youtube", "", "", video)
	if err != nil {
		t.Fatalf("StoreVideo returned error: %v", err)
	}
	if first.Outcome != VideoInserted {
		t.Fatalf("expected inserted outcome, got %+v", first)
	}

	second, err := gateway.StoreVideo(ctx, "youtube", "", "", video)
	if err != nil {
		t.Fatalf("StoreVideo returned error: %v", err)
	}
	if second.Outcome != VideoDuplicate {
		t.Fatalf("expected duplicate outcome, got %+v", second)
	}
	if got := repo.videoInserts.Load(); got != 1 {
		t.Fatalf("expected cache hit to skip the repository, got %d inserts", got)
	}
}

func TestMemoryFingerprintCacheSeen(t *testing.T) {
	cache := NewMemoryFingerprintCache()
	ctx := context.Background()

	seen, err := cache.Seen(ctx, "article", []string{"a", "b"})
	if err != nil {
		t.Fatalf("Seen returned error: %v", err)
	}
	if seen[0] || seen[1] {
		t.Fatalf("expected empty cache, got %v", seen)
	}

	if err := cache.Add(ctx, "article", []string{"a"}); err != nil {
		t.Fatalf("Add returned error: %v", err)
	}
	seen, err = cache.Seen(ctx, "article", []string{"a", "b"})
	if err != nil {
		t.Fatalf("Seen returned error: %v", err)
	}
	if !seen[0] || seen[1] {
		t.Fatalf("expected only the cached fingerprint, got %v", seen)
	}

	// Kinds keep separate namespaces.
	seen, err = cache.Seen(ctx, "video", []string{"a"})
	if err != nil {
		t.Fatalf("Seen returned error: %v", err)
	}
	if seen[0] {
		t.Fatalf("expected no cross-kind hit")
	}
}
