// Package scheduler fires the periodic article and video harvest jobs.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"mediaharvest/internal/clock"
	"mediaharvest/internal/harvest"
	"mediaharvest/internal/observability/logging"
	"mediaharvest/internal/observability/metrics"
	"mediaharvest/internal/runner"
)

// JobArticles and JobVideos are the two scheduled job names.
const (
	JobArticles = "articles"
	JobVideos   = "videos"
)

var (
	// ErrUnknownJob is returned for job names outside the fixed pair.
	ErrUnknownJob = errors.New("unknown job")
	// ErrJobBusy is returned when a manual trigger would exceed the job's
	// instance cap.
	ErrJobBusy = errors.New("job already running at max instances")
)

// Ticker abstracts time.Ticker so tests drive firings manually.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFactory builds a Ticker for an interval.
type TickerFactory func(time.Duration) Ticker

type timeTicker struct {
	ticker *time.Ticker
}

func (t timeTicker) C() <-chan time.Time { return t.ticker.C }
func (t timeTicker) Stop()               { t.ticker.Stop() }

func defaultTickerFactory(d time.Duration) Ticker {
	return timeTicker{ticker: time.NewTicker(d)}
}

// JobConfig tunes one periodic job.
type JobConfig struct {
	Sources      []string      `json:"sources"`
	Query        harvest.Query `json:"query"`
	Interval     time.Duration `json:"intervalNanos"`
	MaxInstances int           `json:"maxInstances"`
	Coalesce     bool          `json:"coalesce"`
	MisfireGrace time.Duration `json:"misfireGraceNanos"`
	Jitter       time.Duration `json:"jitterNanos"`
	StartDelay   time.Duration `json:"startDelayNanos"`
}

func (c JobConfig) validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be positive")
	}
	if c.MaxInstances < 0 {
		return fmt.Errorf("maxInstances must not be negative")
	}
	if len(c.Sources) == 0 {
		return fmt.Errorf("at least one source is required")
	}
	return nil
}

func (c JobConfig) maxInstances() int {
	if c.MaxInstances <= 0 {
		return 1
	}
	return c.MaxInstances
}

// JobStats is the accumulated execution record of one job.
type JobStats struct {
	Firings       int             `json:"firings"`
	Completed     int             `json:"completed"`
	Succeeded     int             `json:"succeeded"`
	Failed        int             `json:"failed"`
	Coalesced     int             `json:"coalesced"`
	Dropped       int             `json:"dropped"`
	Misfires      int             `json:"misfires"`
	Active        int             `json:"active"`
	TotalDuration time.Duration   `json:"totalDurationNanos"`
	LastStarted   time.Time       `json:"lastStarted,omitempty"`
	LastFinished  time.Time       `json:"lastFinished,omitempty"`
	LastError     string          `json:"lastError,omitempty"`
	LastSummary   *runner.Summary `json:"lastSummary,omitempty"`
	NextFire      time.Time       `json:"nextFire,omitempty"`
}

type job struct {
	name     string
	cfg      JobConfig
	stats    JobStats
	active   int
	pending  bool
	reload   chan struct{}
	nextFire time.Time
}

// Config assembles the scheduler.
type Config struct {
	Coordinator *runner.Coordinator
	Clock       clock.Clock
	Logger      *slog.Logger
	Metrics     *metrics.Recorder
	NewTicker   TickerFactory
	Articles    JobConfig
	Videos      JobConfig
}

// Scheduler owns the two job state machines. All shared state lives under
// one mutex; executions run outside it.
type Scheduler struct {
	coordinator *runner.Coordinator
	clk         clock.Clock
	logger      *slog.Logger
	metrics     *metrics.Recorder
	newTicker   TickerFactory

	mu      sync.Mutex
	jobs    map[string]*job
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New builds a stopped scheduler.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Coordinator == nil {
		return nil, fmt.Errorf("coordinator is required")
	}
	if err := cfg.Articles.validate(); err != nil {
		return nil, fmt.Errorf("articles job: %w", err)
	}
	if err := cfg.Videos.validate(); err != nil {
		return nil, fmt.Errorf("videos job: %w", err)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Default()
	}
	if cfg.NewTicker == nil {
		cfg.NewTicker = defaultTickerFactory
	}
	return &Scheduler{
		coordinator: cfg.Coordinator,
		clk:         cfg.Clock,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
		newTicker:   cfg.NewTicker,
		jobs: map[string]*job{
			JobArticles: {name: JobArticles, cfg: cfg.Articles, reload: make(chan struct{}, 1)},
			JobVideos:   {name: JobVideos, cfg: cfg.Videos, reload: make(chan struct{}, 1)},
		},
	}, nil
}

// Start launches both job loops. Starting a running scheduler is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true
	for _, j := range s.jobs {
		j.nextFire = s.clk.Now().Add(j.cfg.StartDelay + j.cfg.Interval)
		j.stats.NextFire = j.nextFire
		s.wg.Add(1)
		go s.loop(ctx, j)
	}
	s.logger.Info("scheduler started")
}

// Stop cancels the job loops and waits for in-flight executions, bounded by
// ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

// Running reports whether the job loops are live.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) loop(ctx context.Context, j *job) {
	defer s.wg.Done()

	s.mu.Lock()
	delay := j.cfg.StartDelay
	interval := j.cfg.Interval
	s.mu.Unlock()

	if delay > 0 {
		if err := s.clk.Sleep(ctx, delay); err != nil {
			return
		}
	}

	ticker := s.newTicker(interval)
	defer func() { ticker.Stop() }()

	for {
		select {
		case <-ctx.Done():
			return
		case <-j.reload:
			ticker.Stop()
			s.mu.Lock()
			interval = j.cfg.Interval
			j.nextFire = s.clk.Now().Add(interval)
			j.stats.NextFire = j.nextFire
			s.mu.Unlock()
			ticker = s.newTicker(interval)
		case <-ticker.C():
			s.fire(ctx, j)
		}
	}
}

// fire applies the admission rules for one elapsed interval.
func (s *Scheduler) fire(ctx context.Context, j *job) {
	s.mu.Lock()
	now := s.clk.Now()
	expected := j.nextFire
	j.nextFire = now.Add(j.cfg.Interval)
	j.stats.NextFire = j.nextFire

	if j.cfg.MisfireGrace > 0 && !expected.IsZero() && now.Sub(expected) > j.cfg.MisfireGrace {
		j.stats.Misfires++
		s.mu.Unlock()
		s.metrics.ObserveJobFiring(j.name, "misfire")
		return
	}

	if j.active >= j.cfg.maxInstances() {
		if j.cfg.Coalesce {
			if !j.pending {
				j.pending = true
				j.stats.Coalesced++
			}
			s.mu.Unlock()
			s.metrics.ObserveJobFiring(j.name, "coalesced")
			return
		}
		j.stats.Dropped++
		s.mu.Unlock()
		s.metrics.ObserveJobFiring(j.name, "dropped")
		return
	}

	s.admitLocked(ctx, j)
	s.mu.Unlock()
}

// admitLocked starts one execution goroutine. Caller holds s.mu.
func (s *Scheduler) admitLocked(ctx context.Context, j *job) {
	j.active++
	j.stats.Active = j.active
	j.stats.Firings++
	j.stats.LastStarted = s.clk.Now()
	cfg := j.cfg

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.execute(ctx, j, cfg)
	}()
}

func (s *Scheduler) execute(ctx context.Context, j *job, cfg JobConfig) {
	runCtx := logging.ContextWithCorrelationID(ctx, logging.NewCorrelationID())
	logger := logging.WithContext(runCtx, s.logger).With("job", j.name)

	if cfg.Jitter > 0 {
		shift := time.Duration(rand.Int63n(int64(cfg.Jitter)))
		if err := s.clk.Sleep(runCtx, shift); err != nil {
			s.finish(runCtx, j, nil)
			return
		}
	}

	logger.Info("job firing", "sources", len(cfg.Sources))
	s.metrics.ObserveJobFiring(j.name, "fired")
	summary := s.coordinator.RunBatch(runCtx, cfg.Sources, cfg.Query)
	logger.Info("job finished",
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"inserted", summary.TotalInserted,
	)
	s.finish(runCtx, j, &summary)
}

// finish records completion and replays one coalesced firing when capacity
// frees up.
func (s *Scheduler) finish(ctx context.Context, j *job, summary *runner.Summary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j.active--
	j.stats.Active = j.active
	j.stats.Completed++
	j.stats.LastFinished = s.clk.Now()
	if summary != nil {
		j.stats.LastSummary = summary
		j.stats.TotalDuration += summary.Duration
		if summary.Failed > 0 {
			j.stats.Failed++
			j.stats.LastError = firstReportError(summary)
		} else {
			j.stats.Succeeded++
			j.stats.LastError = ""
		}
	}
	if j.pending && j.active < j.cfg.maxInstances() && ctx.Err() == nil {
		j.pending = false
		s.admitLocked(context.WithoutCancel(ctx), j)
	}
}

func firstReportError(summary *runner.Summary) string {
	for _, report := range summary.Reports {
		if report.Status != runner.StatusSuccess && report.Error != "" {
			return report.Error
		}
	}
	return ""
}

// TriggerNow fires a job immediately, bypassing interval timing but still
// honoring MaxInstances. It runs synchronously and returns the summary.
func (s *Scheduler) TriggerNow(ctx context.Context, name string) (runner.Summary, error) {
	s.mu.Lock()
	j, ok := s.jobs[name]
	if !ok {
		s.mu.Unlock()
		return runner.Summary{}, ErrUnknownJob
	}
	if j.active >= j.cfg.maxInstances() {
		s.mu.Unlock()
		return runner.Summary{}, ErrJobBusy
	}
	j.active++
	j.stats.Active = j.active
	j.stats.Firings++
	j.stats.LastStarted = s.clk.Now()
	cfg := j.cfg
	s.mu.Unlock()

	runCtx := ctx
	if _, ok := logging.CorrelationIDFromContext(runCtx); !ok {
		runCtx = logging.ContextWithCorrelationID(runCtx, logging.NewCorrelationID())
	}
	logger := logging.WithContext(runCtx, s.logger).With("job", name)
	logger.Info("job triggered manually", "sources", len(cfg.Sources))
	s.metrics.ObserveJobFiring(name, "manual")

	summary := s.coordinator.RunBatch(runCtx, cfg.Sources, cfg.Query)
	s.finish(runCtx, j, &summary)
	return summary, nil
}

// Reconfigure swaps a job's configuration. The new trigger takes effect on
// the next loop iteration; in-flight executions are untouched.
func (s *Scheduler) Reconfigure(name string, cfg JobConfig) error {
	if err := cfg.validate(); err != nil {
		return err
	}
	s.mu.Lock()
	j, ok := s.jobs[name]
	if !ok {
		s.mu.Unlock()
		return ErrUnknownJob
	}
	j.cfg = cfg
	running := s.running
	s.mu.Unlock()

	if running {
		select {
		case j.reload <- struct{}{}:
		default:
		}
	}
	s.logger.Info("job reconfigured", "job", name, "interval", cfg.Interval)
	return nil
}

// Config returns a job's current configuration.
func (s *Scheduler) Config(name string) (JobConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[name]
	if !ok {
		return JobConfig{}, ErrUnknownJob
	}
	return j.cfg, nil
}

// Stats snapshots both jobs' statistics.
func (s *Scheduler) Stats() map[string]JobStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]JobStats, len(s.jobs))
	for name, j := range s.jobs {
		out[name] = j.stats
	}
	return out
}

// ActiveExecutions reports the number of in-flight executions per job.
func (s *Scheduler) ActiveExecutions() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.jobs))
	for name, j := range s.jobs {
		out[name] = j.active
	}
	return out
}
