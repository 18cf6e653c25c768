package harvest

import (
	"context"
	"encoding/json"
	"time"

	"mediaharvest/internal/models"
)

// Query carries every parameter an adapter may honor. Fields an adapter does
// not understand are ignored; the record is closed so per-adapter
// configuration cannot grow ad hoc shapes.
type Query struct {
	Keyword  string `json:"keyword,omitempty"`
	Page     int    `json:"page,omitempty"`
	PageSize int    `json:"pageSize,omitempty"`
	// Limit caps the cumulative item count across pages for one run.
	Limit           int       `json:"limit,omitempty"`
	PublishedAfter  time.Time `json:"publishedAfter,omitempty"`
	PublishedBefore time.Time `json:"publishedBefore,omitempty"`
	Keywords        []string  `json:"keywords,omitempty"`
	Hashtags        []string  `json:"hashtags,omitempty"`

	IncludeComments    bool `json:"includeComments,omitempty"`
	IncludeTranscripts bool `json:"includeTranscripts,omitempty"`
	MinDurationSeconds int  `json:"minDurationSeconds,omitempty"`
	MaxDurationSeconds int  `json:"maxDurationSeconds,omitempty"`

	// APIKey is filled in by the runner when the adapter requires a
	// credential. Adapters must never log it.
	APIKey string `json:"-"`
}

// Harvester fetches one page of raw items from a remote source. Harvesters
// are stateless across calls and must honor context cancellation at every
// I/O boundary. A zero-length result with a nil error means end of results;
// adapters that consider an empty page suspicious must return an error.
type Harvester interface {
	Harvest(ctx context.Context, query Query) ([]RawItem, error)
}

// RawArticle is the article shape produced by adapters before normalization.
type RawArticle struct {
	URL         string            `json:"url"`
	Title       string            `json:"title"`
	PublishedAt string            `json:"publishedAt,omitempty"`
	Content     string            `json:"content,omitempty"`
	Summary     string            `json:"summary,omitempty"`
	Author      string            `json:"author,omitempty"`
	Media       []models.MediaRef `json:"media,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
	Section     string            `json:"section,omitempty"`
	Raw         json.RawMessage   `json:"raw,omitempty"`
}

// RawVideo is the video shape produced by adapters before normalization.
type RawVideo struct {
	VideoID             string          `json:"videoId"`
	Title               string          `json:"title"`
	Description         string          `json:"description,omitempty"`
	ChannelID           string          `json:"channelId,omitempty"`
	ChannelHandle       string          `json:"channelHandle,omitempty"`
	ChannelTitle        string          `json:"channelTitle,omitempty"`
	PublishedAt         string          `json:"publishedAt,omitempty"`
	ThumbnailURL        string          `json:"thumbnailUrl,omitempty"`
	DurationSeconds     int             `json:"durationSeconds,omitempty"`
	ViewCount           int64           `json:"viewCount,omitempty"`
	LikeCount           int64           `json:"likeCount,omitempty"`
	CommentCount        int64           `json:"commentCount,omitempty"`
	Tags                []string        `json:"tags,omitempty"`
	Language            string          `json:"language,omitempty"`
	Comments            []string        `json:"comments,omitempty"`
	TranscriptEnglish   string          `json:"transcriptEnglish,omitempty"`
	TranscriptBengali   string          `json:"transcriptBengali,omitempty"`
	TranscriptLanguages []string        `json:"transcriptLanguages,omitempty"`
	Raw                 json.RawMessage `json:"raw,omitempty"`
}

// RawItem is the union an adapter emits: exactly one of Article or Video is
// set.
type RawItem struct {
	Article *RawArticle
	Video   *RawVideo
}

// Kind reports which half of the union is populated.
func (i RawItem) Kind() models.ContentKind {
	if i.Video != nil {
		return models.KindVideo
	}
	return models.KindArticle
}

// Fingerprint returns the identity the item deduplicates under: the
// canonical URL for articles, the upstream video ID for videos.
func (i RawItem) Fingerprint() string {
	switch {
	case i.Article != nil:
		return CanonicalURL(i.Article.URL)
	case i.Video != nil:
		return i.Video.VideoID
	default:
		return ""
	}
}

// ArticleItem wraps a RawArticle into a RawItem.
func ArticleItem(a RawArticle) RawItem {
	return RawItem{Article: &a}
}

// VideoItem wraps a RawVideo into a RawItem.
func VideoItem(v RawVideo) RawItem {
	return RawItem{Video: &v}
}
