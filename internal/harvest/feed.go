package harvest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"mediaharvest/internal/models"
)

const (
	defaultFeedTimeout  = 20 * time.Second
	defaultFeedPageSize = 20
	maxFeedBodyBytes    = 8 << 20
)

// FeedConfig configures a generic JSON feed adapter. Publishers that expose
// a structured feed endpoint all share this implementation; only the base
// URL and content kind differ.
type FeedConfig struct {
	SourceName string
	Kind       models.ContentKind
	BaseURL    string
	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient *http.Client
	// Parameter names for pagination and search; blanks use q/page/size.
	QueryParam string
	PageParam  string
	SizeParam  string
}

// HTTPFeedHarvester fetches pages from a JSON feed endpoint and maps them to
// raw items. The wire shape is {"items": [...]} where each entry carries
// either the article or the video field set.
type HTTPFeedHarvester struct {
	cfg    FeedConfig
	client *http.Client
}

// NewHTTPFeedHarvester builds a feed adapter from cfg.
func NewHTTPFeedHarvester(cfg FeedConfig) *HTTPFeedHarvester {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultFeedTimeout}
	}
	if cfg.QueryParam == "" {
		cfg.QueryParam = "q"
	}
	if cfg.PageParam == "" {
		cfg.PageParam = "page"
	}
	if cfg.SizeParam == "" {
		cfg.SizeParam = "size"
	}
	return &HTTPFeedHarvester{cfg: cfg, client: client}
}

// FeedFactory returns a Factory producing feed adapters for cfg.
func FeedFactory(cfg FeedConfig) Factory {
	return func() Harvester {
		return NewHTTPFeedHarvester(cfg)
	}
}

type feedEnvelope struct {
	Items []feedItem `json:"items"`
}

// feedItem is the flattened wire shape: article and video fields share one
// record because Title, PublishedAt, Tags, and Raw overlap between the two.
type feedItem struct {
	Title       string          `json:"title"`
	PublishedAt string          `json:"publishedAt"`
	Tags        []string        `json:"tags"`
	Raw         json.RawMessage `json:"raw"`

	URL     string            `json:"url"`
	Content string            `json:"content"`
	Summary string            `json:"summary"`
	Author  string            `json:"author"`
	Media   []models.MediaRef `json:"media"`
	Section string            `json:"section"`

	VideoID             string   `json:"videoId"`
	Description         string   `json:"description"`
	ChannelID           string   `json:"channelId"`
	ChannelHandle       string   `json:"channelHandle"`
	ChannelTitle        string   `json:"channelTitle"`
	ThumbnailURL        string   `json:"thumbnailUrl"`
	DurationSeconds     int      `json:"durationSeconds"`
	ViewCount           int64    `json:"viewCount"`
	LikeCount           int64    `json:"likeCount"`
	CommentCount        int64    `json:"commentCount"`
	Language            string   `json:"language"`
	Comments            []string `json:"comments"`
	TranscriptEnglish   string   `json:"transcriptEnglish"`
	TranscriptBengali   string   `json:"transcriptBengali"`
	TranscriptLanguages []string `json:"transcriptLanguages"`
}

func (f feedItem) article() RawArticle {
	return RawArticle{
		URL:         f.URL,
		Title:       f.Title,
		PublishedAt: f.PublishedAt,
		Content:     f.Content,
		Summary:     f.Summary,
		Author:      f.Author,
		Media:       f.Media,
		Tags:        f.Tags,
		Section:     f.Section,
		Raw:         f.Raw,
	}
}

func (f feedItem) video() RawVideo {
	return RawVideo{
		VideoID:             f.VideoID,
		Title:               f.Title,
		Description:         f.Description,
		ChannelID:           f.ChannelID,
		ChannelHandle:       f.ChannelHandle,
		ChannelTitle:        f.ChannelTitle,
		PublishedAt:         f.PublishedAt,
		ThumbnailURL:        f.ThumbnailURL,
		DurationSeconds:     f.DurationSeconds,
		ViewCount:           f.ViewCount,
		LikeCount:           f.LikeCount,
		CommentCount:        f.CommentCount,
		Tags:                f.Tags,
		Language:            f.Language,
		Comments:            f.Comments,
		TranscriptEnglish:   f.TranscriptEnglish,
		TranscriptBengali:   f.TranscriptBengali,
		TranscriptLanguages: f.TranscriptLanguages,
		Raw:                 f.Raw,
	}
}

// Harvest fetches one page from the feed endpoint.
func (h *HTTPFeedHarvester) Harvest(ctx context.Context, query Query) ([]RawItem, error) {
	endpoint, err := h.buildURL(query)
	if err != nil {
		return nil, NewError(KindConfigError, h.cfg.SourceName, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, NewError(KindConfigError, h.cfg.SourceName, err)
	}
	req.Header.Set("Accept", "application/json")
	if query.APIKey != "" {
		req.Header.Set("X-Api-Key", query.APIKey)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, NewError(KindUpstreamTransient, h.cfg.SourceName, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBodyBytes))
	if err != nil {
		return nil, NewError(KindUpstreamTransient, h.cfg.SourceName, err)
	}

	if kind := KindFromHTTPStatus(resp.StatusCode, string(body)); kind != "" {
		return nil, NewError(kind, h.cfg.SourceName, fmt.Errorf("feed returned status %d", resp.StatusCode))
	}

	var envelope feedEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, NewError(KindParseError, h.cfg.SourceName, fmt.Errorf("decode feed page: %w", err))
	}

	items := make([]RawItem, 0, len(envelope.Items))
	for _, entry := range envelope.Items {
		if h.cfg.Kind == models.KindVideo {
			if entry.VideoID == "" {
				continue
			}
			items = append(items, VideoItem(entry.video()))
			continue
		}
		if entry.URL == "" {
			continue
		}
		items = append(items, ArticleItem(entry.article()))
	}
	return items, nil
}

func (h *HTTPFeedHarvester) buildURL(query Query) (string, error) {
	parsed, err := url.Parse(h.cfg.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse feed base url: %w", err)
	}
	size := query.PageSize
	if size <= 0 {
		size = defaultFeedPageSize
	}
	values := parsed.Query()
	if query.Keyword != "" {
		values.Set(h.cfg.QueryParam, query.Keyword)
	}
	values.Set(h.cfg.PageParam, strconv.Itoa(query.Page))
	values.Set(h.cfg.SizeParam, strconv.Itoa(size))
	parsed.RawQuery = values.Encode()
	return parsed.String(), nil
}
