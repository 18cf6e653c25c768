package models

import (
	"encoding/json"
	"time"
)

// ContentKind distinguishes the two acquisition pipelines.
type ContentKind string

const (
	KindArticle ContentKind = "article"
	KindVideo   ContentKind = "video"
)

// SourceType classifies a publisher record.
type SourceType string

const (
	SourceTypeArticle SourceType = "article-publisher"
	SourceTypeVideo   SourceType = "video-channel"
)

// MediaRef points at an image or other asset attached to an article.
type MediaRef struct {
	URL     string `json:"url"`
	Caption string `json:"caption,omitempty"`
	Kind    string `json:"kind,omitempty"`
}

// Article is a normalized piece of text content. Fingerprint (the canonical
// URL) is the system-wide identity; ID is assigned by storage on insert.
// PublishedAt holds an RFC 3339 UTC timestamp when the upstream value was
// parseable and the raw upstream string otherwise.
type Article struct {
	ID          string          `json:"id,omitempty"`
	SourceID    string          `json:"sourceId,omitempty"`
	Fingerprint string          `json:"fingerprint"`
	Title       string          `json:"title"`
	PublishedAt string          `json:"publishedAt,omitempty"`
	Body        string          `json:"body,omitempty"`
	Summary     string          `json:"summary,omitempty"`
	Author      string          `json:"author,omitempty"`
	Media       []MediaRef      `json:"media,omitempty"`
	SourceName  string          `json:"sourceName"`
	Tags        []string        `json:"tags,omitempty"`
	Section     string          `json:"section,omitempty"`
	Raw         json.RawMessage `json:"raw,omitempty"`
	IngestedAt  time.Time       `json:"ingestedAt,omitempty"`
}

// Video is normalized video metadata. VideoID (the upstream platform's
// identifier) is the system-wide identity; ID is assigned by storage.
type Video struct {
	ID                  string          `json:"id,omitempty"`
	SourceID            string          `json:"sourceId,omitempty"`
	VideoID             string          `json:"videoId"`
	Title               string          `json:"title"`
	Description         string          `json:"description,omitempty"`
	ChannelID           string          `json:"channelId,omitempty"`
	ChannelHandle       string          `json:"channelHandle,omitempty"`
	ChannelTitle        string          `json:"channelTitle,omitempty"`
	PublishedAt         string          `json:"publishedAt,omitempty"`
	ThumbnailURL        string          `json:"thumbnailUrl,omitempty"`
	DurationSeconds     int             `json:"durationSeconds"`
	ViewCount           int64           `json:"viewCount"`
	LikeCount           int64           `json:"likeCount"`
	CommentCount        int64           `json:"commentCount"`
	Tags                []string        `json:"tags,omitempty"`
	Language            string          `json:"language,omitempty"`
	Comments            []string        `json:"comments,omitempty"`
	TranscriptEnglish   string          `json:"transcriptEnglish,omitempty"`
	TranscriptBengali   string          `json:"transcriptBengali,omitempty"`
	TranscriptLanguages []string        `json:"transcriptLanguages,omitempty"`
	Raw                 json.RawMessage `json:"raw,omitempty"`
	IngestedAt          time.Time       `json:"ingestedAt,omitempty"`
}

// Fingerprint returns the identity under which a video is deduplicated.
func (v Video) Fingerprint() string {
	return v.VideoID
}

// Source identifies a publisher. Records are created idempotently on first
// use, keyed by (Type, Platform).
type Source struct {
	ID          string     `json:"id"`
	Type        SourceType `json:"type"`
	Platform    string     `json:"platform"`
	BaseURL     string     `json:"baseUrl,omitempty"`
	Credibility string     `json:"credibility,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}
