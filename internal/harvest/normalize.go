package harvest

import (
	"html"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"mediaharvest/internal/models"
)

// CanonicalURL normalizes a URL into the fingerprint form articles
// deduplicate under: NFC text, trimmed whitespace, lowercase scheme and
// host, no fragment. Query parameter order is preserved exactly as
// received. Unparseable input is returned trimmed so the caller still has a
// stable (if opaque) identity.
func CanonicalURL(raw string) string {
	trimmed := norm.NFC.String(strings.TrimSpace(raw))
	if trimmed == "" {
		return ""
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return trimmed
	}
	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.ToLower(parsed.Host)
	parsed.Fragment = ""
	return parsed.String()
}

var (
	scriptBlockPattern = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	tagPattern         = regexp.MustCompile(`(?s)<[^>]*>`)
	whitespacePattern  = regexp.MustCompile(`\s+`)
)

// CleanHTML strips markup from upstream article bodies: script and style
// blocks are removed entirely, remaining tags are dropped, entities are
// decoded, and runs of whitespace collapse to single spaces.
func CleanHTML(input string) string {
	if strings.TrimSpace(input) == "" {
		return ""
	}
	cleaned := scriptBlockPattern.ReplaceAllString(input, " ")
	cleaned = tagPattern.ReplaceAllString(cleaned, " ")
	cleaned = html.UnescapeString(cleaned)
	cleaned = whitespacePattern.ReplaceAllString(cleaned, " ")
	return strings.TrimSpace(cleaned)
}

// timestampLayouts covers the formats the tracked publishers actually emit.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	time.RFC1123Z,
	time.RFC1123,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02 Jan 2006, 15:04",
	"Jan 2, 2006 3:04 PM",
	"January 2, 2006",
}

// NormalizeTimestamp parses an upstream timestamp into RFC 3339 UTC. When no
// layout matches, the trimmed raw string is returned unchanged so provenance
// is never lost.
func NormalizeTimestamp(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, trimmed); err == nil {
			return parsed.UTC().Format(time.RFC3339)
		}
	}
	return trimmed
}

// NormalizeLanguage canonicalizes an upstream language hint to its BCP-47
// base ("bn", "en"). Unparseable hints are lowercased and trimmed.
func NormalizeLanguage(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	tag, err := language.Parse(trimmed)
	if err != nil {
		return strings.ToLower(trimmed)
	}
	base, conf := tag.Base()
	if conf == language.No {
		return strings.ToLower(trimmed)
	}
	return base.String()
}

// NormalizeLanguages canonicalizes a transcript-language list, dropping
// blanks and duplicates while preserving first-appearance order.
func NormalizeLanguages(raw []string) []string {
	if len(raw) == 0 {
		return nil
	}
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, entry := range raw {
		normalized := NormalizeLanguage(entry)
		if normalized == "" {
			continue
		}
		if _, dup := seen[normalized]; dup {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// NormalizeTags lowercases, trims, deduplicates, and sorts a tag set.
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	normalized := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		trimmed := strings.TrimSpace(strings.ToLower(tag))
		if trimmed == "" {
			continue
		}
		if _, exists := seen[trimmed]; exists {
			continue
		}
		seen[trimmed] = struct{}{}
		normalized = append(normalized, trimmed)
	}
	if len(normalized) == 0 {
		return nil
	}
	sort.Strings(normalized)
	return normalized
}

// NormalizeArticle converts a raw article into the stored content model. The
// canonical URL becomes the fingerprint; markup is stripped from body and
// summary; the published timestamp is normalized when parseable.
func NormalizeArticle(raw RawArticle, sourceName string) models.Article {
	return models.Article{
		Fingerprint: CanonicalURL(raw.URL),
		Title:       strings.TrimSpace(raw.Title),
		PublishedAt: NormalizeTimestamp(raw.PublishedAt),
		Body:        CleanHTML(raw.Content),
		Summary:     CleanHTML(raw.Summary),
		Author:      strings.TrimSpace(raw.Author),
		Media:       append([]models.MediaRef(nil), raw.Media...),
		SourceName:  sourceName,
		Tags:        NormalizeTags(raw.Tags),
		Section:     strings.TrimSpace(raw.Section),
		Raw:         raw.Raw,
	}
}

// NormalizeVideo converts a raw video into the stored content model with
// canonicalized language fields.
func NormalizeVideo(raw RawVideo) models.Video {
	return models.Video{
		VideoID:             strings.TrimSpace(raw.VideoID),
		Title:               strings.TrimSpace(raw.Title),
		Description:         strings.TrimSpace(raw.Description),
		ChannelID:           strings.TrimSpace(raw.ChannelID),
		ChannelHandle:       strings.TrimSpace(raw.ChannelHandle),
		ChannelTitle:        strings.TrimSpace(raw.ChannelTitle),
		PublishedAt:         NormalizeTimestamp(raw.PublishedAt),
		ThumbnailURL:        strings.TrimSpace(raw.ThumbnailURL),
		DurationSeconds:     raw.DurationSeconds,
		ViewCount:           raw.ViewCount,
		LikeCount:           raw.LikeCount,
		CommentCount:        raw.CommentCount,
		Tags:                NormalizeTags(raw.Tags),
		Language:            NormalizeLanguage(raw.Language),
		Comments:            append([]string(nil), raw.Comments...),
		TranscriptEnglish:   raw.TranscriptEnglish,
		TranscriptBengali:   raw.TranscriptBengali,
		TranscriptLanguages: NormalizeLanguages(raw.TranscriptLanguages),
		Raw:                 raw.Raw,
	}
}
