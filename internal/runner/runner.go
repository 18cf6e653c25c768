// Package runner drives the acquisition pipeline for one source and fans
// batches of sources out across a bounded worker set.
package runner

import (
	"context"
	"log/slog"
	"time"

	"mediaharvest/internal/breaker"
	"mediaharvest/internal/classifier"
	"mediaharvest/internal/clock"
	"mediaharvest/internal/harvest"
	"mediaharvest/internal/keypool"
	"mediaharvest/internal/models"
	"mediaharvest/internal/observability/logging"
	"mediaharvest/internal/observability/metrics"
	"mediaharvest/internal/storage"
)

const (
	defaultTimeoutPerSource = 3 * time.Minute
	defaultMaxRetries       = 3
	defaultBackoffBase      = 2 * time.Second
	defaultBackoffFactor    = 2.0
	defaultBackoffCap       = 30 * time.Second
)

const (
	skipDurationTooShort    = "durationTooShort"
	skipDurationTooLong     = "durationTooLong"
	skipNoEnglishTranscript = "noEnglishTranscript"
)

// Store is the slice of the storage gateway the runner needs.
type Store interface {
	StoreArticles(ctx context.Context, platform, baseURL, credibility string, articles []models.Article) (storage.BatchResult, error)
	StoreVideo(ctx context.Context, platform, baseURL, credibility string, video models.Video) (storage.VideoResult, error)
}

// Config assembles the runner's collaborators and retry tuning.
type Config struct {
	Registry   *harvest.Registry
	Store      Store
	Breaker    *breaker.Breaker
	Keys       *keypool.Pool
	Classifier *classifier.Dispatcher
	Clock      clock.Clock
	Logger     *slog.Logger
	Metrics    *metrics.Recorder

	TimeoutPerSource time.Duration
	MaxRetries       int
	BackoffBase      time.Duration
	BackoffFactor    float64
	BackoffCap       time.Duration
	BackoffJitter    bool
}

// Runner executes the full pipeline for a single source: breaker gate, key
// acquisition, pagination with retry, dedupe, policy filters, storage, and
// classification.
type Runner struct {
	cfg Config
}

// New builds a Runner, filling unset tuning with defaults.
func New(cfg Config) *Runner {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Default()
	}
	if cfg.TimeoutPerSource <= 0 {
		cfg.TimeoutPerSource = defaultTimeoutPerSource
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = defaultBackoffBase
	}
	if cfg.BackoffFactor <= 1 {
		cfg.BackoffFactor = defaultBackoffFactor
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = defaultBackoffCap
	}
	return &Runner{cfg: cfg}
}

// PreviewItems carries the normalized, deduped content of a preview run.
type PreviewItems struct {
	Articles []models.Article `json:"articles,omitempty"`
	Videos   []models.Video   `json:"videos,omitempty"`
}

// Run executes the full pipeline for one source and returns its report.
func (r *Runner) Run(ctx context.Context, source string, query harvest.Query) RunReport {
	report, _ := r.run(ctx, source, query, true)
	return report
}

// Preview collects, normalizes, and dedupes without storing or classifying.
// The breaker and key pool are still consulted so previews reflect what a
// real run would do.
func (r *Runner) Preview(ctx context.Context, source string, query harvest.Query) (RunReport, PreviewItems) {
	return r.run(ctx, source, query, false)
}

func (r *Runner) run(ctx context.Context, source string, query harvest.Query, persist bool) (RunReport, PreviewItems) {
	start := r.cfg.Clock.Now()
	report := RunReport{Source: source, Status: StatusSuccess, PolicySkipped: map[string]int{}}
	items := PreviewItems{}

	ctx = logging.ContextWithSource(ctx, source)
	logger := logging.WithContext(ctx, r.cfg.Logger)

	r.cfg.Metrics.RunStarted()
	defer func() {
		report.Duration = r.cfg.Clock.Now().Sub(start)
		r.cfg.Metrics.RunCompleted(string(report.Kind), string(report.Status))
		logger.Info("source run finished",
			"status", report.Status,
			"scraped", report.Scraped,
			"inserted", report.Inserted,
			"duplicates", report.DuplicatesSkipped,
			"quota_used", report.QuotaUsed,
		)
	}()

	desc, err := r.cfg.Registry.Lookup(source)
	if err != nil {
		report.fail(StatusError, harvest.NewError(harvest.KindUnknownSource, source, err))
		r.recordFailure(source)
		return report, items
	}
	report.Kind = desc.Kind

	if r.cfg.Breaker != nil && !r.cfg.Breaker.Allow(source) {
		r.cfg.Metrics.ObserveBreakerTransition("rejected")
		report.fail(StatusCircuitOpen, harvest.NewError(harvest.KindCircuitOpen, source, harvest.ErrCircuitOpen))
		return report, items
	}

	var key keypool.Key
	if desc.RequiresKey {
		if r.cfg.Keys == nil {
			report.fail(StatusError, harvest.NewError(harvest.KindQuotaExhausted, source, harvest.ErrNoKeysConfigured))
			r.recordFailure(source)
			return report, items
		}
		key, err = r.cfg.Keys.Acquire()
		if err != nil {
			r.cfg.Metrics.ObserveKeyExhaustion()
			report.fail(StatusError, err)
			r.recordFailure(source)
			return report, items
		}
		query.APIKey = key.Value()
	}

	collected, runErr := r.paginate(ctx, desc, query, &report)
	if runErr != nil {
		r.finishWithError(source, key, runErr, &report)
		return report, items
	}

	deduped := dedupe(collected, &report)

	if desc.Kind == models.KindVideo {
		items.Videos = r.normalizeVideos(deduped, query, &report)
	} else {
		items.Articles = normalizeArticles(deduped, desc.Name)
	}
	if !persist {
		r.recordSuccess(source, key)
		return report, items
	}

	contentIDs, storeErr := r.store(ctx, desc, items, &report)
	if storeErr != nil {
		r.finishWithError(source, key, harvest.NewError(harvest.KindStorageError, source, storeErr), &report)
		return report, PreviewItems{}
	}

	if len(contentIDs) > 0 {
		result := r.cfg.Classifier.Dispatch(ctx, desc.Kind, contentIDs)
		report.Classified = result.Successful
		report.ClassificationFailed = result.Failed
	}

	r.recordSuccess(source, key)
	return report, PreviewItems{}
}

// paginate walks increasing page numbers under the per-source deadline,
// retrying transient page errors with jittered exponential backoff.
func (r *Runner) paginate(ctx context.Context, desc harvest.Descriptor, query harvest.Query, report *RunReport) ([]harvest.RawItem, error) {
	runCtx, cancel := context.WithTimeout(ctx, r.cfg.TimeoutPerSource)
	defer cancel()

	harvester := desc.New()
	page := query.Page
	if page <= 0 {
		page = 1
	}
	limit := query.Limit
	if limit <= 0 {
		limit = query.PageSize
	}

	var collected []harvest.RawItem
	attempt := 0
	for {
		if err := runCtx.Err(); err != nil {
			return nil, harvest.NewError(harvest.KindTimeout, desc.Name, err)
		}
		pageQuery := query
		pageQuery.Page = page

		items, err := harvester.Harvest(runCtx, pageQuery)
		if query.APIKey != "" {
			report.QuotaUsed++
		}
		if err != nil {
			kind := harvest.KindOf(err)
			if kind == harvest.KindTimeout && runCtx.Err() != nil {
				return nil, harvest.NewError(harvest.KindTimeout, desc.Name, err)
			}
			if harvest.Retriable(kind) && attempt < r.cfg.MaxRetries {
				delay := clock.BackoffDelay(attempt, r.cfg.BackoffBase, r.cfg.BackoffFactor, r.cfg.BackoffCap, r.cfg.BackoffJitter)
				attempt++
				if sleepErr := r.cfg.Clock.Sleep(runCtx, delay); sleepErr != nil {
					return nil, harvest.NewError(harvest.KindTimeout, desc.Name, sleepErr)
				}
				continue
			}
			return nil, err
		}
		attempt = 0
		if len(items) == 0 {
			break
		}
		collected = append(collected, items...)
		report.Scraped = len(collected)
		if limit > 0 && len(collected) >= limit {
			collected = collected[:limit]
			report.Scraped = len(collected)
			break
		}
		page++
	}
	return collected, nil
}

func dedupe(items []harvest.RawItem, report *RunReport) []harvest.RawItem {
	seen := make(map[string]struct{}, len(items))
	out := items[:0]
	for _, item := range items {
		fp := item.Fingerprint()
		if fp == "" {
			report.Errors++
			continue
		}
		if _, dup := seen[fp]; dup {
			continue
		}
		seen[fp] = struct{}{}
		out = append(out, item)
	}
	report.Deduped = len(out)
	return out
}

func normalizeArticles(items []harvest.RawItem, sourceName string) []models.Article {
	articles := make([]models.Article, 0, len(items))
	for _, item := range items {
		if item.Article == nil {
			continue
		}
		articles = append(articles, harvest.NormalizeArticle(*item.Article, sourceName))
	}
	return articles
}

// normalizeVideos applies the per-item policy filters before normalization.
func (r *Runner) normalizeVideos(items []harvest.RawItem, query harvest.Query, report *RunReport) []models.Video {
	videos := make([]models.Video, 0, len(items))
	for _, item := range items {
		if item.Video == nil {
			continue
		}
		raw := *item.Video
		if query.MinDurationSeconds > 0 && raw.DurationSeconds < query.MinDurationSeconds {
			report.PolicySkipped[skipDurationTooShort]++
			continue
		}
		if query.MaxDurationSeconds > 0 && raw.DurationSeconds > query.MaxDurationSeconds {
			report.PolicySkipped[skipDurationTooLong]++
			continue
		}
		if query.IncludeTranscripts && raw.TranscriptEnglish == "" {
			report.PolicySkipped[skipNoEnglishTranscript]++
			continue
		}
		videos = append(videos, harvest.NormalizeVideo(raw))
	}
	return videos
}

func (r *Runner) store(ctx context.Context, desc harvest.Descriptor, items PreviewItems, report *RunReport) ([]string, error) {
	var contentIDs []string
	if desc.Kind == models.KindVideo {
		for _, video := range items.Videos {
			result, err := r.cfg.Store.StoreVideo(ctx, desc.Platform, desc.BaseURL, desc.Credibility, video)
			if err != nil {
				return nil, err
			}
			switch result.Outcome {
			case storage.VideoInserted:
				report.Inserted++
				contentIDs = append(contentIDs, result.ID)
			case storage.VideoDuplicate:
				report.DuplicatesSkipped++
			default:
				report.Errors++
			}
		}
	} else if len(items.Articles) > 0 {
		result, err := r.cfg.Store.StoreArticles(ctx, desc.Platform, desc.BaseURL, desc.Credibility, items.Articles)
		if err != nil {
			return nil, err
		}
		report.Inserted = len(result.InsertedIDs)
		report.DuplicatesSkipped += result.Duplicates
		report.Errors += result.Errors
		contentIDs = result.InsertedIDs
	}
	r.cfg.Metrics.ObserveItems("scraped", report.Scraped)
	r.cfg.Metrics.ObserveItems("inserted", report.Inserted)
	r.cfg.Metrics.ObserveItems("duplicates", report.DuplicatesSkipped)
	return contentIDs, nil
}

// finishWithError routes a pipeline failure into the report, the breaker,
// and the key pool. Circuit-open rejections never reach here.
func (r *Runner) finishWithError(source string, key keypool.Key, err error, report *RunReport) {
	kind := harvest.KindOf(err)
	status := StatusError
	if kind == harvest.KindTimeout {
		status = StatusTimeout
	}
	report.fail(status, err)
	r.recordFailure(source)
	if !key.Zero() {
		r.cfg.Keys.RecordResult(key, false, err)
		if kind == harvest.KindQuotaExhausted {
			r.cfg.Metrics.ObserveKeyExhaustion()
		}
	}
}

func (r *Runner) recordSuccess(source string, key keypool.Key) {
	if r.cfg.Breaker != nil {
		r.cfg.Breaker.RecordSuccess(source)
	}
	if !key.Zero() {
		r.cfg.Keys.RecordResult(key, true, nil)
	}
}

func (r *Runner) recordFailure(source string) {
	if r.cfg.Breaker != nil {
		r.cfg.Breaker.RecordFailure(source)
	}
}
