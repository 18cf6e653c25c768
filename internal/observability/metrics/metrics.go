package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type requestLabel struct {
	method string
	path   string
	status string
}

type runLabel struct {
	kind   string
	status string
}

type batchLabel struct {
	kind    string
	outcome string
}

type firingLabel struct {
	job    string
	result string
}

// Recorder aggregates in-memory metrics counters and gauges for HTTP
// requests, acquisition runs, item throughput, classifier dispatch, breaker
// transitions, key-pool exhaustion, and scheduler firings. It coordinates
// concurrent writers via a RWMutex while exposing a thread-safe gauge for
// active run tracking.
type Recorder struct {
	mu                 sync.RWMutex
	requestCount       map[requestLabel]uint64
	requestDuration    map[requestLabel]time.Duration
	runCount           map[runLabel]uint64
	itemCount          map[string]uint64
	classifierBatches  map[batchLabel]uint64
	breakerTransitions map[string]uint64
	keyExhaustions     uint64
	jobFirings         map[firingLabel]uint64
	activeRuns         atomic.Int64
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps so callers
// can immediately record metrics without additional setup.
func New() *Recorder {
	return &Recorder{
		requestCount:       make(map[requestLabel]uint64),
		requestDuration:    make(map[requestLabel]time.Duration),
		runCount:           make(map[runLabel]uint64),
		itemCount:          make(map[string]uint64),
		classifierBatches:  make(map[batchLabel]uint64),
		breakerTransitions: make(map[string]uint64),
		jobFirings:         make(map[firingLabel]uint64),
	}
}

// Default returns the singleton Recorder instance shared across helper
// functions for packages that do not require custom instrumentation
// pipelines.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest normalizes the request label set and accumulates totals for
// request count and cumulative duration by HTTP method, normalized path, and
// status code.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{
		method: strings.ToUpper(method),
		path:   normalizePath(path),
		status: fmt.Sprintf("%d", status),
	}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// RunStarted increments the active acquisition-run gauge.
func (r *Recorder) RunStarted() {
	r.activeRuns.Add(1)
}

// RunCompleted records the terminal status of one source run and decrements
// the active gauge, guarding against negative counts when updates race.
func (r *Recorder) RunCompleted(kind, status string) {
	label := runLabel{kind: normalizeName(kind), status: normalizeName(status)}
	r.mu.Lock()
	r.runCount[label]++
	r.mu.Unlock()
	r.decrementGauge(&r.activeRuns)
}

// ObserveItems accumulates item throughput by event (scraped, deduped,
// inserted, duplicate, policy_skipped, error).
func (r *Recorder) ObserveItems(event string, count int) {
	if count <= 0 {
		return
	}
	normalized := normalizeName(event)
	r.mu.Lock()
	r.itemCount[normalized] += uint64(count)
	r.mu.Unlock()
}

// ObserveClassifierBatch records one classifier HTTP batch by content kind
// and outcome (classified, accepted, skipped, failed).
func (r *Recorder) ObserveClassifierBatch(kind, outcome string) {
	label := batchLabel{kind: normalizeName(kind), outcome: normalizeName(outcome)}
	r.mu.Lock()
	r.classifierBatches[label]++
	r.mu.Unlock()
}

// ObserveBreakerTransition records a circuit-breaker state transition keyed
// by the destination state.
func (r *Recorder) ObserveBreakerTransition(state string) {
	normalized := normalizeName(state)
	r.mu.Lock()
	r.breakerTransitions[normalized]++
	r.mu.Unlock()
}

// ObserveKeyExhaustion records one API key being benched by a quota denial.
func (r *Recorder) ObserveKeyExhaustion() {
	r.mu.Lock()
	r.keyExhaustions++
	r.mu.Unlock()
}

// ObserveJobFiring records a scheduler firing by job name and result
// (completed, failed, skipped, coalesced, dropped).
func (r *Recorder) ObserveJobFiring(job, result string) {
	label := firingLabel{job: normalizeName(job), result: normalizeName(result)}
	r.mu.Lock()
	r.jobFirings[label]++
	r.mu.Unlock()
}

// ActiveRuns exposes the current gauge of concurrently executing source runs.
func (r *Recorder) ActiveRuns() int64 {
	return r.activeRuns.Load()
}

// RunCounts returns a copy of the per-status run counters for testing and
// reporting purposes.
func (r *Recorder) RunCounts() map[string]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]uint64, len(r.runCount))
	for label, count := range r.runCount {
		out[label.kind+"/"+label.status] = count
	}
	return out
}

// ItemCounts returns a copy of the item throughput counters.
func (r *Recorder) ItemCounts() map[string]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]uint64, len(r.itemCount))
	for event, count := range r.itemCount {
		out[event] = count
	}
	return out
}

func (r *Recorder) decrementGauge(gauge *atomic.Int64) {
	for {
		current := gauge.Load()
		if current <= 0 {
			return
		}
		if gauge.CompareAndSwap(current, current-1) {
			return
		}
	}
}

// Reset clears all counters and gauges on the recorder. It is intended for
// test setups.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.runCount = make(map[runLabel]uint64)
	r.itemCount = make(map[string]uint64)
	r.classifierBatches = make(map[batchLabel]uint64)
	r.breakerTransitions = make(map[string]uint64)
	r.keyExhaustions = 0
	r.jobFirings = make(map[firingLabel]uint64)
	r.activeRuns.Store(0)
}

// Handler exposes the Recorder as an http.Handler that writes Prometheus
// text exposition data with the appropriate content type.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the Recorder's metrics in Prometheus text format, sorting
// label sets to provide stable output for scrapes and tests.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := r.sortedRequestLabels()
	runLabels := r.sortedRunLabels()
	itemEvents := sortedKeys(r.itemCount)
	batchLabels := r.sortedBatchLabels()
	breakerStates := sortedKeys(r.breakerTransitions)
	firingLabels := r.sortedFiringLabels()

	fmt.Fprintln(w, "# HELP mediaharvest_http_requests_total Total number of HTTP requests processed by the control API")
	fmt.Fprintln(w, "# TYPE mediaharvest_http_requests_total counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "mediaharvest_http_requests_total{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, r.requestCount[label])
	}

	fmt.Fprintln(w, "# HELP mediaharvest_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE mediaharvest_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "mediaharvest_http_request_duration_seconds_sum{method=\"%s\",path=\"%s\",status=\"%s\"} %f\n", label.method, label.path, label.status, r.requestDuration[label].Seconds())
	}

	fmt.Fprintln(w, "# HELP mediaharvest_http_request_duration_seconds_count Total number of observations for request durations")
	fmt.Fprintln(w, "# TYPE mediaharvest_http_request_duration_seconds_count counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "mediaharvest_http_request_duration_seconds_count{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, r.requestCount[label])
	}

	fmt.Fprintln(w, "# HELP mediaharvest_runs_total Source acquisition runs by content kind and terminal status")
	fmt.Fprintln(w, "# TYPE mediaharvest_runs_total counter")
	for _, label := range runLabels {
		fmt.Fprintf(w, "mediaharvest_runs_total{kind=\"%s\",status=\"%s\"} %d\n", label.kind, label.status, r.runCount[label])
	}

	fmt.Fprintln(w, "# HELP mediaharvest_active_runs Current number of executing source runs")
	fmt.Fprintln(w, "# TYPE mediaharvest_active_runs gauge")
	fmt.Fprintf(w, "mediaharvest_active_runs %d\n", r.activeRuns.Load())

	fmt.Fprintln(w, "# HELP mediaharvest_items_total Item throughput by pipeline event")
	fmt.Fprintln(w, "# TYPE mediaharvest_items_total counter")
	for _, event := range itemEvents {
		fmt.Fprintf(w, "mediaharvest_items_total{event=\"%s\"} %d\n", event, r.itemCount[event])
	}

	fmt.Fprintln(w, "# HELP mediaharvest_classifier_batches_total Classifier dispatch batches by content kind and outcome")
	fmt.Fprintln(w, "# TYPE mediaharvest_classifier_batches_total counter")
	for _, label := range batchLabels {
		fmt.Fprintf(w, "mediaharvest_classifier_batches_total{kind=\"%s\",outcome=\"%s\"} %d\n", label.kind, label.outcome, r.classifierBatches[label])
	}

	fmt.Fprintln(w, "# HELP mediaharvest_breaker_transitions_total Circuit breaker transitions by destination state")
	fmt.Fprintln(w, "# TYPE mediaharvest_breaker_transitions_total counter")
	for _, state := range breakerStates {
		fmt.Fprintf(w, "mediaharvest_breaker_transitions_total{state=\"%s\"} %d\n", state, r.breakerTransitions[state])
	}

	fmt.Fprintln(w, "# HELP mediaharvest_key_exhaustions_total API keys benched by upstream quota denials")
	fmt.Fprintln(w, "# TYPE mediaharvest_key_exhaustions_total counter")
	fmt.Fprintf(w, "mediaharvest_key_exhaustions_total %d\n", r.keyExhaustions)

	fmt.Fprintln(w, "# HELP mediaharvest_job_firings_total Scheduler job firings by job and result")
	fmt.Fprintln(w, "# TYPE mediaharvest_job_firings_total counter")
	for _, label := range firingLabels {
		fmt.Fprintf(w, "mediaharvest_job_firings_total{job=\"%s\",result=\"%s\"} %d\n", label.job, label.result, r.jobFirings[label])
	}
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func (r *Recorder) sortedRunLabels() []runLabel {
	labels := make([]runLabel, 0, len(r.runCount))
	for label := range r.runCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].kind != labels[j].kind {
			return labels[i].kind < labels[j].kind
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func (r *Recorder) sortedBatchLabels() []batchLabel {
	labels := make([]batchLabel, 0, len(r.classifierBatches))
	for label := range r.classifierBatches {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].kind != labels[j].kind {
			return labels[i].kind < labels[j].kind
		}
		return labels[i].outcome < labels[j].outcome
	})
	return labels
}

func (r *Recorder) sortedFiringLabels() []firingLabel {
	labels := make([]firingLabel, 0, len(r.jobFirings))
	for label := range r.jobFirings {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].job != labels[j].job {
			return labels[i].job < labels[j].job
		}
		return labels[i].result < labels[j].result
	})
	return labels
}

func sortedKeys(m map[string]uint64) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func normalizeName(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

// normalizePath bounds label cardinality by collapsing the variable segments
// of parameterized control-surface routes.
func normalizePath(path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "/"
	}
	if strings.HasPrefix(trimmed, "/api/scheduler/jobs/") {
		rest := strings.TrimPrefix(trimmed, "/api/scheduler/jobs/")
		if strings.HasSuffix(rest, "/trigger") {
			return "/api/scheduler/jobs/:job/trigger"
		}
		return "/api/scheduler/jobs/:job"
	}
	return trimmed
}
