package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"mediaharvest/internal/models"
)

const snippetLength = 160

type dataset struct {
	Sources  map[string]models.Source  `json:"sources"`
	Articles map[string]models.Article `json:"articles"`
	Videos   map[string]models.Video   `json:"videos"`
}

// Storage is the JSON-file-backed repository. All reads and writes hold the
// dataset in memory; mutations persist the full dataset with a temp-file
// rename so a crash never leaves a truncated store on disk.
type Storage struct {
	mu       sync.RWMutex
	filePath string
	data     dataset
	// persistOverride allows tests to intercept persist operations.
	persistOverride func(dataset) error
	now             func() time.Time

	// Derived indexes, rebuilt on load and maintained on insert.
	fingerprints map[string]string
	videoIDs     map[string]string
	sourceKeys   map[string]string
}

func newDataset() dataset {
	return dataset{
		Sources:  make(map[string]models.Source),
		Articles: make(map[string]models.Article),
		Videos:   make(map[string]models.Video),
	}
}

func (s *Storage) ensureDatasetInitializedLocked() {
	if s.data.Sources == nil {
		s.data.Sources = make(map[string]models.Source)
	}
	if s.data.Articles == nil {
		s.data.Articles = make(map[string]models.Article)
	}
	if s.data.Videos == nil {
		s.data.Videos = make(map[string]models.Video)
	}
}

func NewStorage(path string, opts ...Option) (*Storage, error) {
	store := &Storage{
		filePath: path,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt.applyJSON(store)
		}
	}
	if err := store.load(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *Storage) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.filePath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	file, err := os.Open(s.filePath)
	if errors.Is(err, os.ErrNotExist) {
		s.data = newDataset()
		s.rebuildIndexesLocked()
		return nil
	} else if err != nil {
		return fmt.Errorf("open store file: %w", err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&s.data); err != nil {
		if errors.Is(err, io.EOF) {
			s.data = newDataset()
			s.rebuildIndexesLocked()
			return nil
		}
		return fmt.Errorf("decode store file: %w", err)
	}

	s.ensureDatasetInitializedLocked()
	s.rebuildIndexesLocked()

	return nil
}

func (s *Storage) rebuildIndexesLocked() {
	s.fingerprints = make(map[string]string, len(s.data.Articles))
	for id, article := range s.data.Articles {
		if article.Fingerprint != "" {
			s.fingerprints[article.Fingerprint] = id
		}
	}
	s.videoIDs = make(map[string]string, len(s.data.Videos))
	for id, video := range s.data.Videos {
		if video.VideoID != "" {
			s.videoIDs[video.VideoID] = id
		}
	}
	s.sourceKeys = make(map[string]string, len(s.data.Sources))
	for id, source := range s.data.Sources {
		s.sourceKeys[sourceKey(source.Type, source.Platform)] = id
	}
}

func sourceKey(sourceType models.SourceType, platform string) string {
	return string(sourceType) + "|" + strings.ToLower(strings.TrimSpace(platform))
}

func (s *Storage) persist() error {
	return s.persistDataset(s.data)
}

func (s *Storage) persistDataset(data dataset) error {
	if s.persistOverride != nil {
		return s.persistOverride(data)
	}

	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, "store-*.json")
	if err != nil {
		return fmt.Errorf("create temp store file: %w", err)
	}
	tmpPath := tmpFile.Name()
	success := false
	defer func() {
		if !success {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	encoder := json.NewEncoder(tmpFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encode store file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("flush store file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp store file: %w", err)
	}

	if err := os.Rename(tmpPath, s.filePath); err != nil {
		return fmt.Errorf("replace store file: %w", err)
	}
	success = true
	return nil
}

// Ping reports whether the backing file's directory is writable.
func (s *Storage) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := filepath.Dir(s.filePath)
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("stat data dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("data path %s is not a directory", dir)
	}
	return nil
}

// ResolveSource returns the ID of the (type, platform) source record,
// creating it on first use. Repeated calls return the same ID.
func (s *Storage) ResolveSource(ctx context.Context, sourceType models.SourceType, platform, baseURL, credibility string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	platform = strings.TrimSpace(platform)
	if platform == "" {
		return "", fmt.Errorf("source platform required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := sourceKey(sourceType, platform)
	if id, ok := s.sourceKeys[key]; ok {
		return id, nil
	}

	id, err := generateID()
	if err != nil {
		return "", err
	}
	source := models.Source{
		ID:          id,
		Type:        sourceType,
		Platform:    platform,
		BaseURL:     strings.TrimSpace(baseURL),
		Credibility: strings.TrimSpace(credibility),
		CreatedAt:   s.now(),
	}
	s.data.Sources[id] = source
	s.sourceKeys[key] = id
	if err := s.persist(); err != nil {
		delete(s.data.Sources, id)
		delete(s.sourceKeys, key)
		return "", err
	}
	return id, nil
}

// InsertArticleBatch stores articles under fingerprint identity. Articles
// whose fingerprint already exists count as duplicates; articles without a
// fingerprint count as errors. The dataset persists once per batch.
func (s *Storage) InsertArticleBatch(ctx context.Context, sourceID string, articles []models.Article) (BatchResult, error) {
	result := BatchResult{}
	if err := ctx.Err(); err != nil {
		return result, err
	}
	if len(articles) == 0 {
		return result, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	inserted := make([]string, 0, len(articles))
	for _, article := range articles {
		fingerprint := strings.TrimSpace(article.Fingerprint)
		if fingerprint == "" {
			result.Errors++
			continue
		}
		if _, exists := s.fingerprints[fingerprint]; exists {
			result.Duplicates++
			continue
		}
		id, err := generateID()
		if err != nil {
			result.Errors++
			continue
		}
		article.ID = id
		article.SourceID = sourceID
		article.Fingerprint = fingerprint
		if article.IngestedAt.IsZero() {
			article.IngestedAt = s.now()
		}
		s.data.Articles[id] = article
		s.fingerprints[fingerprint] = id
		inserted = append(inserted, id)
		result.InsertedIDs = append(result.InsertedIDs, id)
	}

	if len(inserted) > 0 {
		if err := s.persist(); err != nil {
			for _, id := range inserted {
				delete(s.fingerprints, s.data.Articles[id].Fingerprint)
				delete(s.data.Articles, id)
			}
			return BatchResult{Errors: len(articles)}, err
		}
	}
	return result, nil
}

// InsertVideo stores one video under its upstream video ID.
func (s *Storage) InsertVideo(ctx context.Context, sourceID string, video models.Video) (VideoResult, error) {
	if err := ctx.Err(); err != nil {
		return VideoResult{Outcome: VideoError, Message: err.Error()}, err
	}
	videoID := strings.TrimSpace(video.VideoID)
	if videoID == "" {
		return VideoResult{Outcome: VideoError, Message: "video id required"}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.videoIDs[videoID]; exists {
		return VideoResult{Outcome: VideoDuplicate}, nil
	}
	id, err := generateID()
	if err != nil {
		return VideoResult{Outcome: VideoError, Message: err.Error()}, err
	}
	video.ID = id
	video.SourceID = sourceID
	video.VideoID = videoID
	if video.IngestedAt.IsZero() {
		video.IngestedAt = s.now()
	}
	s.data.Videos[id] = video
	s.videoIDs[videoID] = id
	if err := s.persist(); err != nil {
		delete(s.data.Videos, id)
		delete(s.videoIDs, videoID)
		return VideoResult{Outcome: VideoError, Message: err.Error()}, err
	}
	return VideoResult{Outcome: VideoInserted, ID: id}, nil
}

// CountsByPlatform aggregates stored content per source platform and kind.
func (s *Storage) CountsByPlatform(ctx context.Context) ([]PlatformCount, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	type bucket struct {
		platform string
		kind     string
	}
	counts := make(map[bucket]int)
	for _, article := range s.data.Articles {
		counts[bucket{s.platformForLocked(article.SourceID, article.SourceName), string(models.KindArticle)}]++
	}
	for _, video := range s.data.Videos {
		counts[bucket{s.platformForLocked(video.SourceID, video.ChannelTitle), string(models.KindVideo)}]++
	}

	out := make([]PlatformCount, 0, len(counts))
	for key, count := range counts {
		out = append(out, PlatformCount{Platform: key.platform, Kind: key.kind, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Platform != out[j].Platform {
			return out[i].Platform < out[j].Platform
		}
		return out[i].Kind < out[j].Kind
	})
	return out, nil
}

func (s *Storage) platformForLocked(sourceID, fallback string) string {
	if source, ok := s.data.Sources[sourceID]; ok && source.Platform != "" {
		return source.Platform
	}
	if fallback != "" {
		return fallback
	}
	return "unknown"
}

// RecentActivity returns an ingestion histogram covering the trailing window,
// oldest bucket first.
func (s *Storage) RecentActivity(ctx context.Context, window time.Duration, buckets int) ([]ActivityBucket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if buckets <= 0 {
		buckets = 1
	}
	if window <= 0 {
		window = time.Hour
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	end := s.now()
	start := end.Add(-window)
	step := window / time.Duration(buckets)
	out := make([]ActivityBucket, buckets)
	for i := range out {
		out[i].Start = start.Add(step * time.Duration(i))
	}

	record := func(at time.Time) {
		if at.Before(start) || at.After(end) {
			return
		}
		idx := int(at.Sub(start) / step)
		if idx >= buckets {
			idx = buckets - 1
		}
		out[idx].Count++
	}
	for _, article := range s.data.Articles {
		record(article.IngestedAt)
	}
	for _, video := range s.data.Videos {
		record(video.IngestedAt)
	}
	return out, nil
}

// LanguageDistribution counts videos per detected language. Videos without a
// detected language report as "unknown".
func (s *Storage) LanguageDistribution(ctx context.Context) ([]LanguageCount, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int)
	for _, video := range s.data.Videos {
		lang := video.Language
		if lang == "" {
			lang = "unknown"
		}
		counts[lang]++
	}
	out := make([]LanguageCount, 0, len(counts))
	for lang, count := range counts {
		out = append(out, LanguageCount{Language: lang, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Language < out[j].Language
	})
	return out, nil
}

// SearchContent performs a case-insensitive substring match over titles and
// body text, newest ingested first.
func (s *Storage) SearchContent(ctx context.Context, query string, kind models.ContentKind, limit int) ([]ContentSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	needle := strings.ToLower(strings.TrimSpace(query))
	limit = clampLimit(limit)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ContentSummary
	if kind == "" || kind == models.KindArticle {
		for _, article := range s.data.Articles {
			if needle != "" && !matchesArticle(article, needle) {
				continue
			}
			out = append(out, articleSummary(article))
		}
	}
	if kind == "" || kind == models.KindVideo {
		for _, video := range s.data.Videos {
			if needle != "" && !matchesVideo(video, needle) {
				continue
			}
			out = append(out, videoSummary(video))
		}
	}
	sortSummaries(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ContentBySource lists stored content produced by the named source, matching
// the source platform or the per-item publisher name.
func (s *Storage) ContentBySource(ctx context.Context, sourceName string, limit int) ([]ContentSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name := strings.ToLower(strings.TrimSpace(sourceName))
	if name == "" {
		return nil, fmt.Errorf("source name required")
	}
	limit = clampLimit(limit)

	s.mu.RLock()
	defer s.mu.RUnlock()

	sourceIDs := make(map[string]struct{})
	for id, source := range s.data.Sources {
		if strings.ToLower(source.Platform) == name {
			sourceIDs[id] = struct{}{}
		}
	}

	var out []ContentSummary
	for _, article := range s.data.Articles {
		if _, ok := sourceIDs[article.SourceID]; ok || strings.ToLower(article.SourceName) == name {
			out = append(out, articleSummary(article))
		}
	}
	for _, video := range s.data.Videos {
		if _, ok := sourceIDs[video.SourceID]; ok || strings.ToLower(video.ChannelTitle) == name || strings.ToLower(video.ChannelHandle) == name {
			out = append(out, videoSummary(video))
		}
	}
	sortSummaries(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func matchesArticle(article models.Article, needle string) bool {
	return strings.Contains(strings.ToLower(article.Title), needle) ||
		strings.Contains(strings.ToLower(article.Summary), needle) ||
		strings.Contains(strings.ToLower(article.Body), needle)
}

func matchesVideo(video models.Video, needle string) bool {
	return strings.Contains(strings.ToLower(video.Title), needle) ||
		strings.Contains(strings.ToLower(video.Description), needle) ||
		strings.Contains(strings.ToLower(video.TranscriptEnglish), needle) ||
		strings.Contains(strings.ToLower(video.TranscriptBengali), needle)
}

func articleSummary(article models.Article) ContentSummary {
	return ContentSummary{
		ID:          article.ID,
		Kind:        string(models.KindArticle),
		Title:       article.Title,
		SourceName:  article.SourceName,
		PublishedAt: article.PublishedAt,
		IngestedAt:  article.IngestedAt,
		Snippet:     snippetOf(article.Summary, article.Body),
	}
}

func videoSummary(video models.Video) ContentSummary {
	return ContentSummary{
		ID:          video.ID,
		Kind:        string(models.KindVideo),
		Title:       video.Title,
		SourceName:  video.ChannelTitle,
		PublishedAt: video.PublishedAt,
		IngestedAt:  video.IngestedAt,
		Snippet:     snippetOf(video.Description),
	}
}

func snippetOf(candidates ...string) string {
	for _, text := range candidates {
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		runes := []rune(text)
		if len(runes) <= snippetLength {
			return text
		}
		return string(runes[:snippetLength])
	}
	return ""
}

func sortSummaries(out []ContentSummary) {
	sort.Slice(out, func(i, j int) bool {
		if !out[i].IngestedAt.Equal(out[j].IngestedAt) {
			return out[i].IngestedAt.After(out[j].IngestedAt)
		}
		return out[i].ID < out[j].ID
	})
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 500 {
		return 500
	}
	return limit
}
