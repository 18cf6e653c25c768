// Package classifier forwards newly stored content IDs to the external
// classification service.
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"mediaharvest/internal/models"
	"mediaharvest/internal/observability/logging"
	"mediaharvest/internal/observability/metrics"
)

// maxBatchSize is the hard cap the classifier service enforces per request.
const maxBatchSize = 5

const defaultTimeout = 30 * time.Second

// Config wires the dispatcher to the per-kind classifier endpoints. An empty
// endpoint disables dispatch for that kind.
type Config struct {
	ArticleEndpoint string
	VideoEndpoint   string
	Token           string
	Timeout         time.Duration
	HTTPClient      *http.Client
	Logger          *slog.Logger
	Metrics         *metrics.Recorder
}

// Result aggregates the outcome of one Dispatch call across its batches.
type Result struct {
	Successful      int `json:"successful"`
	Failed          int `json:"failed"`
	TotalClassified int `json:"totalClassified"`
	Skipped         int `json:"skipped"`
}

// Merge folds another result into this one.
func (r *Result) Merge(other Result) {
	r.Successful += other.Successful
	r.Failed += other.Failed
	r.TotalClassified += other.TotalClassified
	r.Skipped += other.Skipped
}

// HealthStatus reports one classifier endpoint's reachability.
type HealthStatus struct {
	Component string `json:"component"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

// Dispatcher batches content IDs to the classifier service. It holds no
// per-call state, so concurrent Dispatch calls are safe; batches within one
// call run serially in insertion order.
type Dispatcher struct {
	cfg     Config
	client  *http.Client
	logger  *slog.Logger
	metrics *metrics.Recorder
}

// New builds a dispatcher. Returns nil when neither endpoint is configured;
// a nil dispatcher is a no-op.
func New(cfg Config) *Dispatcher {
	if cfg.ArticleEndpoint == "" && cfg.VideoEndpoint == "" {
		return nil
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}
	return &Dispatcher{cfg: cfg, client: client, logger: logger, metrics: recorder}
}

func (d *Dispatcher) endpoint(kind models.ContentKind) string {
	if d == nil {
		return ""
	}
	switch kind {
	case models.KindVideo:
		return d.cfg.VideoEndpoint
	default:
		return d.cfg.ArticleEndpoint
	}
}

// Enabled reports whether dispatch is configured for the kind.
func (d *Dispatcher) Enabled(kind models.ContentKind) bool {
	return d.endpoint(kind) != ""
}

type dispatchRequest struct {
	ContentIDs []string `json:"contentIds"`
}

type dispatchResponse struct {
	Results         json.RawMessage `json:"results"`
	TotalClassified int             `json:"total_classified"`
}

// Dispatch forwards ids to the kind's endpoint in batches of at most five.
// Failures are absorbed into the result; Dispatch never returns an error.
func (d *Dispatcher) Dispatch(ctx context.Context, kind models.ContentKind, ids []string) Result {
	result := Result{}
	if d == nil || len(ids) == 0 {
		return result
	}
	endpoint := d.endpoint(kind)
	if endpoint == "" {
		return result
	}

	logger := logging.WithContext(ctx, d.logger)
	for start := 0; start < len(ids); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		batch := ids[start:end]
		if err := ctx.Err(); err != nil {
			result.Failed += len(ids) - start
			d.metrics.ObserveClassifierBatch(string(kind), "failed")
			return result
		}
		outcome := d.dispatchBatch(ctx, endpoint, kind, batch, &result)
		d.metrics.ObserveClassifierBatch(string(kind), outcome)
		if outcome == "failed" {
			logger.Warn("classifier batch failed",
				"kind", kind,
				"batch_size", len(batch),
			)
		}
	}
	return result
}

func (d *Dispatcher) dispatchBatch(ctx context.Context, endpoint string, kind models.ContentKind, batch []string, result *Result) string {
	body, err := json.Marshal(dispatchRequest{ContentIDs: batch})
	if err != nil {
		result.Failed += len(batch)
		return "failed"
	}

	reqCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		result.Failed += len(batch)
		return "failed"
	}
	req.Header.Set("Content-Type", "application/json")
	if d.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+d.cfg.Token)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		result.Failed += len(batch)
		return "failed"
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
		_ = resp.Body.Close()
	}()

	switch resp.StatusCode {
	case http.StatusOK:
		var parsed dispatchResponse
		if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&parsed); err != nil {
			result.Failed += len(batch)
			return "failed"
		}
		classified := parsed.TotalClassified
		if classified < 0 {
			classified = 0
		}
		if classified > len(batch) {
			classified = len(batch)
		}
		result.Successful += classified
		result.Failed += len(batch) - classified
		result.TotalClassified += parsed.TotalClassified
		return "classified"
	case http.StatusAccepted:
		result.Successful += len(batch)
		result.TotalClassified += len(batch)
		return "classified"
	case http.StatusNotFound:
		result.Skipped += len(batch)
		return "skipped"
	default:
		// 400 and anything unexpected fail the whole batch; no retry.
		result.Failed += len(batch)
		return "failed"
	}
}

// Health probes each configured endpoint. Any HTTP response counts as
// reachable; only transport failures degrade the status.
func (d *Dispatcher) Health(ctx context.Context) []HealthStatus {
	endpoints := []struct {
		component string
		url       string
	}{
		{"classifier_articles", d.endpoint(models.KindArticle)},
		{"classifier_videos", d.endpoint(models.KindVideo)},
	}

	out := make([]HealthStatus, 0, len(endpoints))
	for _, ep := range endpoints {
		if ep.url == "" {
			out = append(out, HealthStatus{Component: ep.component, Status: "disabled"})
			continue
		}
		out = append(out, d.probe(ctx, ep.component, ep.url))
	}
	return out
}

func (d *Dispatcher) probe(ctx context.Context, component, url string) HealthStatus {
	reqCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return HealthStatus{Component: component, Status: "error", Error: err.Error()}
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return HealthStatus{Component: component, Status: "error", Error: fmt.Sprintf("probe failed: %v", err)}
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<10))
	_ = resp.Body.Close()
	return HealthStatus{Component: component, Status: "ok"}
}
