package storage

import (
	"context"
	"time"

	"mediaharvest/internal/models"
)

// BatchResult summarizes one article batch insert. InsertedIDs preserve the
// order of the submitted items; duplicates and per-item errors are tallied
// without aborting the batch.
type BatchResult struct {
	InsertedIDs []string `json:"insertedIds"`
	Duplicates  int      `json:"duplicates"`
	Errors      int      `json:"errors"`
}

// VideoOutcome enumerates the result of a single video insert.
type VideoOutcome string

const (
	VideoInserted  VideoOutcome = "inserted"
	VideoDuplicate VideoOutcome = "duplicate"
	VideoError     VideoOutcome = "error"
)

// VideoResult reports one video insert attempt.
type VideoResult struct {
	Outcome VideoOutcome `json:"outcome"`
	ID      string       `json:"id,omitempty"`
	Message string       `json:"message,omitempty"`
}

// PlatformCount reports stored content volume for one platform and kind.
type PlatformCount struct {
	Platform string `json:"platform"`
	Kind     string `json:"kind"`
	Count    int    `json:"count"`
}

// ActivityBucket is one slot of the recent-ingestion histogram.
type ActivityBucket struct {
	Start time.Time `json:"start"`
	Count int       `json:"count"`
}

// LanguageCount reports how many videos carry a detected language.
type LanguageCount struct {
	Language string `json:"language"`
	Count    int    `json:"count"`
}

// ContentSummary is the projection returned by search and per-source reads.
type ContentSummary struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	Title       string    `json:"title"`
	SourceName  string    `json:"sourceName,omitempty"`
	PublishedAt string    `json:"publishedAt,omitempty"`
	IngestedAt  time.Time `json:"ingestedAt"`
	Snippet     string    `json:"snippet,omitempty"`
}

// Repository exposes the datastore operations required by the acquisition
// pipeline and the control surface.
type Repository interface {
	Ping(ctx context.Context) error

	// ResolveSource idempotently creates the (type, platform) source record
	// and returns its ID.
	ResolveSource(ctx context.Context, sourceType models.SourceType, platform, baseURL, credibility string) (string, error)

	// InsertArticleBatch inserts articles with conflict-skip semantics on
	// the fingerprint. At most one row ever exists per fingerprint.
	InsertArticleBatch(ctx context.Context, sourceID string, articles []models.Article) (BatchResult, error)

	// InsertVideo inserts one video, idempotent on the upstream video ID.
	InsertVideo(ctx context.Context, sourceID string, video models.Video) (VideoResult, error)

	CountsByPlatform(ctx context.Context) ([]PlatformCount, error)
	RecentActivity(ctx context.Context, window time.Duration, buckets int) ([]ActivityBucket, error)
	LanguageDistribution(ctx context.Context) ([]LanguageCount, error)
	SearchContent(ctx context.Context, query string, kind models.ContentKind, limit int) ([]ContentSummary, error)
	ContentBySource(ctx context.Context, sourceName string, limit int) ([]ContentSummary, error)
}

var _ Repository = (*Storage)(nil)
var _ Repository = (*postgresRepository)(nil)
var _ Repository = (*Gateway)(nil)
