package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mediaharvest/internal/models"
)

type postgresRepository struct {
	pool *pgxpool.Pool
	cfg  PostgresConfig
	now  func() time.Time
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS sources (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		platform TEXT NOT NULL,
		base_url TEXT NOT NULL DEFAULT '',
		credibility TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		UNIQUE (type, platform)
	)`,
	`CREATE TABLE IF NOT EXISTS articles (
		id TEXT PRIMARY KEY,
		source_id TEXT NOT NULL REFERENCES sources (id),
		fingerprint TEXT NOT NULL UNIQUE,
		title TEXT NOT NULL,
		published_at TEXT NOT NULL DEFAULT '',
		body TEXT NOT NULL DEFAULT '',
		summary TEXT NOT NULL DEFAULT '',
		author TEXT NOT NULL DEFAULT '',
		source_name TEXT NOT NULL DEFAULT '',
		section TEXT NOT NULL DEFAULT '',
		tags TEXT[] NOT NULL DEFAULT '{}',
		media JSONB,
		raw JSONB,
		ingested_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS videos (
		id TEXT PRIMARY KEY,
		source_id TEXT NOT NULL REFERENCES sources (id),
		video_id TEXT NOT NULL UNIQUE,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		channel_id TEXT NOT NULL DEFAULT '',
		channel_handle TEXT NOT NULL DEFAULT '',
		channel_title TEXT NOT NULL DEFAULT '',
		published_at TEXT NOT NULL DEFAULT '',
		thumbnail_url TEXT NOT NULL DEFAULT '',
		duration_seconds INTEGER NOT NULL DEFAULT 0,
		view_count BIGINT NOT NULL DEFAULT 0,
		like_count BIGINT NOT NULL DEFAULT 0,
		comment_count BIGINT NOT NULL DEFAULT 0,
		tags TEXT[] NOT NULL DEFAULT '{}',
		language TEXT NOT NULL DEFAULT '',
		comments TEXT[] NOT NULL DEFAULT '{}',
		transcript_english TEXT NOT NULL DEFAULT '',
		transcript_bengali TEXT NOT NULL DEFAULT '',
		transcript_languages TEXT[] NOT NULL DEFAULT '{}',
		raw JSONB,
		ingested_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS articles_ingested_at_idx ON articles (ingested_at DESC)`,
	`CREATE INDEX IF NOT EXISTS videos_ingested_at_idx ON videos (ingested_at DESC)`,
	`CREATE INDEX IF NOT EXISTS articles_source_id_idx ON articles (source_id)`,
	`CREATE INDEX IF NOT EXISTS videos_source_id_idx ON videos (source_id)`,
}

// NewPostgresRepository opens a Postgres-backed repository and applies the
// schema migration idempotently.
func NewPostgresRepository(dsn string, opts ...Option) (Repository, error) {
	cfg := newPostgresConfig(dsn, opts...)
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections >= 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckInterval > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckInterval
	}
	if cfg.AcquireTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.AcquireTimeout
	}
	if cfg.ApplicationName != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	ctx := context.Background()
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}

	repo := &postgresRepository{pool: pool, cfg: cfg, now: cfg.Clock}
	if err := repo.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return repo, nil
}

func (r *postgresRepository) migrate(ctx context.Context) error {
	for _, stmt := range postgresSchema {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// Close drains the connection pool, honouring the context deadline.
func (r *postgresRepository) Close(ctx context.Context) error {
	if r == nil || r.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		r.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (r *postgresRepository) Ping(ctx context.Context) error {
	if r.pool == nil {
		return fmt.Errorf("postgres pool not configured")
	}
	return r.pool.Ping(ctx)
}

func (r *postgresRepository) ResolveSource(ctx context.Context, sourceType models.SourceType, platform, baseURL, credibility string) (string, error) {
	platform = strings.TrimSpace(platform)
	if platform == "" {
		return "", fmt.Errorf("source platform required")
	}

	var id string
	err := r.pool.QueryRow(ctx, `
SELECT id FROM sources WHERE type = $1 AND lower(platform) = lower($2)
`, string(sourceType), platform).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("lookup source: %w", err)
	}

	id, err = generateID()
	if err != nil {
		return "", err
	}
	err = r.pool.QueryRow(ctx, `
INSERT INTO sources (id, type, platform, base_url, credibility, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (type, platform) DO NOTHING
RETURNING id
`, id, string(sourceType), platform, strings.TrimSpace(baseURL), strings.TrimSpace(credibility), r.now()).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("insert source: %w", err)
	}

	// A concurrent resolver won the insert race; read its row.
	err = r.pool.QueryRow(ctx, `
SELECT id FROM sources WHERE type = $1 AND lower(platform) = lower($2)
`, string(sourceType), platform).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("reread source: %w", err)
	}
	return id, nil
}

func (r *postgresRepository) InsertArticleBatch(ctx context.Context, sourceID string, articles []models.Article) (BatchResult, error) {
	result := BatchResult{}
	for _, article := range articles {
		fingerprint := strings.TrimSpace(article.Fingerprint)
		if fingerprint == "" {
			result.Errors++
			continue
		}
		id, err := generateID()
		if err != nil {
			result.Errors++
			continue
		}
		ingested := article.IngestedAt
		if ingested.IsZero() {
			ingested = r.now()
		}
		tags := article.Tags
		if tags == nil {
			tags = []string{}
		}
		var insertedID string
		err = r.pool.QueryRow(ctx, `
INSERT INTO articles (id, source_id, fingerprint, title, published_at, body, summary, author, source_name, section, tags, media, raw, ingested_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (fingerprint) DO NOTHING
RETURNING id
`, id, sourceID, fingerprint, article.Title, article.PublishedAt, article.Body, article.Summary, article.Author, article.SourceName, article.Section, tags, article.Media, article.Raw, ingested).Scan(&insertedID)
		switch {
		case err == nil:
			result.InsertedIDs = append(result.InsertedIDs, insertedID)
		case errors.Is(err, pgx.ErrNoRows):
			result.Duplicates++
		default:
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			result.Errors++
		}
	}
	return result, nil
}

func (r *postgresRepository) InsertVideo(ctx context.Context, sourceID string, video models.Video) (VideoResult, error) {
	videoID := strings.TrimSpace(video.VideoID)
	if videoID == "" {
		return VideoResult{Outcome: VideoError, Message: "video id required"}, nil
	}
	id, err := generateID()
	if err != nil {
		return VideoResult{Outcome: VideoError, Message: err.Error()}, err
	}
	ingested := video.IngestedAt
	if ingested.IsZero() {
		ingested = r.now()
	}
	tags := video.Tags
	if tags == nil {
		tags = []string{}
	}
	comments := video.Comments
	if comments == nil {
		comments = []string{}
	}
	transcriptLangs := video.TranscriptLanguages
	if transcriptLangs == nil {
		transcriptLangs = []string{}
	}
	var insertedID string
	err = r.pool.QueryRow(ctx, `
INSERT INTO videos (id, source_id, video_id, title, description, channel_id, channel_handle, channel_title, published_at, thumbnail_url, duration_seconds, view_count, like_count, comment_count, tags, language, comments, transcript_english, transcript_bengali, transcript_languages, raw, ingested_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
ON CONFLICT (video_id) DO NOTHING
RETURNING id
`, id, sourceID, videoID, video.Title, video.Description, video.ChannelID, video.ChannelHandle, video.ChannelTitle, video.PublishedAt, video.ThumbnailURL, video.DurationSeconds, video.ViewCount, video.LikeCount, video.CommentCount, tags, video.Language, comments, video.TranscriptEnglish, video.TranscriptBengali, transcriptLangs, video.Raw, ingested).Scan(&insertedID)
	switch {
	case err == nil:
		return VideoResult{Outcome: VideoInserted, ID: insertedID}, nil
	case errors.Is(err, pgx.ErrNoRows):
		return VideoResult{Outcome: VideoDuplicate}, nil
	default:
		if ctx.Err() != nil {
			return VideoResult{Outcome: VideoError, Message: err.Error()}, ctx.Err()
		}
		return VideoResult{Outcome: VideoError, Message: err.Error()}, fmt.Errorf("insert video: %w", err)
	}
}

func (r *postgresRepository) CountsByPlatform(ctx context.Context) ([]PlatformCount, error) {
	rows, err := r.pool.Query(ctx, `
SELECT s.platform, c.kind, c.total FROM (
	SELECT source_id, 'article' AS kind, count(*) AS total FROM articles GROUP BY source_id
	UNION ALL
	SELECT source_id, 'video' AS kind, count(*) AS total FROM videos GROUP BY source_id
) c
JOIN sources s ON s.id = c.source_id
ORDER BY s.platform, c.kind
`)
	if err != nil {
		return nil, fmt.Errorf("count by platform: %w", err)
	}
	defer rows.Close()

	var out []PlatformCount
	for rows.Next() {
		var entry PlatformCount
		var total int64
		if err := rows.Scan(&entry.Platform, &entry.Kind, &total); err != nil {
			return nil, fmt.Errorf("scan platform count: %w", err)
		}
		entry.Count = int(total)
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (r *postgresRepository) RecentActivity(ctx context.Context, window time.Duration, buckets int) ([]ActivityBucket, error) {
	if buckets <= 0 {
		buckets = 1
	}
	if window <= 0 {
		window = time.Hour
	}
	end := r.now()
	start := end.Add(-window)
	step := window / time.Duration(buckets)

	out := make([]ActivityBucket, buckets)
	for i := range out {
		out[i].Start = start.Add(step * time.Duration(i))
	}

	rows, err := r.pool.Query(ctx, `
SELECT ingested_at FROM articles WHERE ingested_at >= $1 AND ingested_at <= $2
UNION ALL
SELECT ingested_at FROM videos WHERE ingested_at >= $1 AND ingested_at <= $2
`, start, end)
	if err != nil {
		return nil, fmt.Errorf("recent activity: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var at time.Time
		if err := rows.Scan(&at); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		idx := int(at.Sub(start) / step)
		if idx < 0 {
			continue
		}
		if idx >= buckets {
			idx = buckets - 1
		}
		out[idx].Count++
	}
	return out, rows.Err()
}

func (r *postgresRepository) LanguageDistribution(ctx context.Context) ([]LanguageCount, error) {
	rows, err := r.pool.Query(ctx, `
SELECT CASE WHEN language = '' THEN 'unknown' ELSE language END AS lang, count(*) AS total
FROM videos
GROUP BY lang
ORDER BY total DESC, lang
`)
	if err != nil {
		return nil, fmt.Errorf("language distribution: %w", err)
	}
	defer rows.Close()

	var out []LanguageCount
	for rows.Next() {
		var entry LanguageCount
		var total int64
		if err := rows.Scan(&entry.Language, &total); err != nil {
			return nil, fmt.Errorf("scan language count: %w", err)
		}
		entry.Count = int(total)
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (r *postgresRepository) SearchContent(ctx context.Context, query string, kind models.ContentKind, limit int) ([]ContentSummary, error) {
	limit = clampLimit(limit)
	pattern := "%" + strings.TrimSpace(query) + "%"

	var out []ContentSummary
	if kind == "" || kind == models.KindArticle {
		rows, err := r.pool.Query(ctx, `
SELECT id, title, source_name, published_at, ingested_at, COALESCE(NULLIF(summary, ''), body)
FROM articles
WHERE title ILIKE $1 OR summary ILIKE $1 OR body ILIKE $1
ORDER BY ingested_at DESC
LIMIT $2
`, pattern, limit)
		if err != nil {
			return nil, fmt.Errorf("search articles: %w", err)
		}
		summaries, err := scanSummaries(rows, models.KindArticle)
		if err != nil {
			return nil, err
		}
		out = append(out, summaries...)
	}
	if kind == "" || kind == models.KindVideo {
		rows, err := r.pool.Query(ctx, `
SELECT id, title, channel_title, published_at, ingested_at, description
FROM videos
WHERE title ILIKE $1 OR description ILIKE $1 OR transcript_english ILIKE $1 OR transcript_bengali ILIKE $1
ORDER BY ingested_at DESC
LIMIT $2
`, pattern, limit)
		if err != nil {
			return nil, fmt.Errorf("search videos: %w", err)
		}
		summaries, err := scanSummaries(rows, models.KindVideo)
		if err != nil {
			return nil, err
		}
		out = append(out, summaries...)
	}
	sortSummaries(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *postgresRepository) ContentBySource(ctx context.Context, sourceName string, limit int) ([]ContentSummary, error) {
	name := strings.TrimSpace(sourceName)
	if name == "" {
		return nil, fmt.Errorf("source name required")
	}
	limit = clampLimit(limit)

	articleRows, err := r.pool.Query(ctx, `
SELECT a.id, a.title, a.source_name, a.published_at, a.ingested_at, COALESCE(NULLIF(a.summary, ''), a.body)
FROM articles a
JOIN sources s ON s.id = a.source_id
WHERE lower(s.platform) = lower($1) OR lower(a.source_name) = lower($1)
ORDER BY a.ingested_at DESC
LIMIT $2
`, name, limit)
	if err != nil {
		return nil, fmt.Errorf("list articles by source: %w", err)
	}
	out, err := scanSummaries(articleRows, models.KindArticle)
	if err != nil {
		return nil, err
	}

	videoRows, err := r.pool.Query(ctx, `
SELECT v.id, v.title, v.channel_title, v.published_at, v.ingested_at, v.description
FROM videos v
JOIN sources s ON s.id = v.source_id
WHERE lower(s.platform) = lower($1) OR lower(v.channel_title) = lower($1) OR lower(v.channel_handle) = lower($1)
ORDER BY v.ingested_at DESC
LIMIT $2
`, name, limit)
	if err != nil {
		return nil, fmt.Errorf("list videos by source: %w", err)
	}
	videos, err := scanSummaries(videoRows, models.KindVideo)
	if err != nil {
		return nil, err
	}
	out = append(out, videos...)

	sortSummaries(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func scanSummaries(rows pgx.Rows, kind models.ContentKind) ([]ContentSummary, error) {
	defer rows.Close()
	var out []ContentSummary
	for rows.Next() {
		var entry ContentSummary
		var snippet string
		if err := rows.Scan(&entry.ID, &entry.Title, &entry.SourceName, &entry.PublishedAt, &entry.IngestedAt, &snippet); err != nil {
			return nil, fmt.Errorf("scan content summary: %w", err)
		}
		entry.Kind = string(kind)
		entry.Snippet = snippetOf(snippet)
		out = append(out, entry)
	}
	return out, rows.Err()
}
