package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"

	"mediaharvest/internal/models"
)

// Snapshot captures a complete JSON-serialisable view of the datastore,
// grouping each collection by its primary identifier so it can be exported
// from the JSON backend and replayed into Postgres.
type Snapshot struct {
	Sources  map[string]models.Source  `json:"sources"`
	Articles map[string]models.Article `json:"articles"`
	Videos   map[string]models.Video   `json:"videos"`
}

// SnapshotCounts summarises the size of each collection in a Snapshot.
type SnapshotCounts struct {
	Sources  int
	Articles int
	Videos   int
}

// Counts tallies the snapshot collections.
func (s *Snapshot) Counts() SnapshotCounts {
	if s == nil {
		return SnapshotCounts{}
	}
	return SnapshotCounts{
		Sources:  len(s.Sources),
		Articles: len(s.Articles),
		Videos:   len(s.Videos),
	}
}

func (s *Snapshot) ensureInitialized() {
	if s.Sources == nil {
		s.Sources = make(map[string]models.Source)
	}
	if s.Articles == nil {
		s.Articles = make(map[string]models.Article)
	}
	if s.Videos == nil {
		s.Videos = make(map[string]models.Video)
	}
}

// LoadSnapshotFromJSON reads a JSON datastore file from disk as a Snapshot.
func LoadSnapshotFromJSON(path string) (*Snapshot, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot %s: %w", path, err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	var snapshot Snapshot
	if err := decoder.Decode(&snapshot); err != nil {
		if err == io.EOF {
			snapshot.ensureInitialized()
			return &snapshot, nil
		}
		return nil, fmt.Errorf("decode snapshot %s: %w", path, err)
	}
	snapshot.ensureInitialized()
	return &snapshot, nil
}

// ExportSnapshot returns a deep-copied Snapshot of the JSON datastore.
func (s *Storage) ExportSnapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := &Snapshot{
		Sources:  make(map[string]models.Source, len(s.data.Sources)),
		Articles: make(map[string]models.Article, len(s.data.Articles)),
		Videos:   make(map[string]models.Video, len(s.data.Videos)),
	}
	for id, source := range s.data.Sources {
		snapshot.Sources[id] = source
	}
	for id, article := range s.data.Articles {
		cloned := article
		cloned.Tags = append([]string(nil), article.Tags...)
		cloned.Media = append([]models.MediaRef(nil), article.Media...)
		snapshot.Articles[id] = cloned
	}
	for id, video := range s.data.Videos {
		cloned := video
		cloned.Tags = append([]string(nil), video.Tags...)
		cloned.Comments = append([]string(nil), video.Comments...)
		cloned.TranscriptLanguages = append([]string(nil), video.TranscriptLanguages...)
		snapshot.Videos[id] = cloned
	}
	return snapshot
}

// ImportSnapshotToPostgres replays a Snapshot into a Postgres-backed
// repository. Sources insert first so content rows satisfy their foreign
// keys; duplicate rows are skipped.
func ImportSnapshotToPostgres(ctx context.Context, repo Repository, snapshot *Snapshot) error {
	pg, ok := repo.(*postgresRepository)
	if !ok {
		return fmt.Errorf("snapshot import requires a postgres repository")
	}
	if snapshot == nil {
		return nil
	}
	return pg.importSnapshot(ctx, snapshot)
}

func (r *postgresRepository) importSnapshot(ctx context.Context, snapshot *Snapshot) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin snapshot transaction: %w", err)
	}
	defer rollbackTx(ctx, tx)

	for _, id := range sortedKeys(snapshot.Sources) {
		source := snapshot.Sources[id]
		_, err := tx.Exec(ctx, `
INSERT INTO sources (id, type, platform, base_url, credibility, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (type, platform) DO NOTHING
`, strings.TrimSpace(source.ID), string(source.Type), strings.TrimSpace(source.Platform), strings.TrimSpace(source.BaseURL), strings.TrimSpace(source.Credibility), source.CreatedAt.UTC())
		if err != nil {
			return fmt.Errorf("import source %s: %w", id, err)
		}
	}

	for _, id := range sortedKeys(snapshot.Articles) {
		article := snapshot.Articles[id]
		tags := article.Tags
		if tags == nil {
			tags = []string{}
		}
		_, err := tx.Exec(ctx, `
INSERT INTO articles (id, source_id, fingerprint, title, published_at, body, summary, author, source_name, section, tags, media, raw, ingested_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (fingerprint) DO NOTHING
`, strings.TrimSpace(article.ID), strings.TrimSpace(article.SourceID), strings.TrimSpace(article.Fingerprint), article.Title, article.PublishedAt, article.Body, article.Summary, article.Author, article.SourceName, article.Section, tags, article.Media, article.Raw, article.IngestedAt.UTC())
		if err != nil {
			return fmt.Errorf("import article %s: %w", id, err)
		}
	}

	for _, id := range sortedKeys(snapshot.Videos) {
		video := snapshot.Videos[id]
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
		_, err := tx.Exec(ctx, `
INSERT INTO videos (id, source_id, video_id, title, description, channel_id, channel_handle, channel_title, published_at, thumbnail_url, duration_seconds, view_count, like_count, comment_count, tags, language, comments, transcript_english, transcript_bengali, transcript_languages, raw, ingested_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
ON CONFLICT (video_id) DO NOTHING
`, strings.TrimSpace(video.ID), strings.TrimSpace(video.SourceID), strings.TrimSpace(video.VideoID), video.Title, video.Description, video.ChannelID, video.ChannelHandle, video.ChannelTitle, video.PublishedAt, video.ThumbnailURL, video.DurationSeconds, video.ViewCount, video.LikeCount, video.CommentCount, tags, video.Language, comments, video.TranscriptEnglish, video.TranscriptBengali, transcriptLangs, video.Raw, video.IngestedAt.UTC())
		if err != nil {
			return fmt.Errorf("import video %s: %w", id, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit snapshot import: %w", err)
	}
	return nil
}

func rollbackTx(ctx context.Context, tx pgx.Tx) {
	_ = tx.Rollback(ctx)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
