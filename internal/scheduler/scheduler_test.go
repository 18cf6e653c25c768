package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"mediaharvest/internal/breaker"
	"mediaharvest/internal/clock"
	"mediaharvest/internal/harvest"
	"mediaharvest/internal/models"
	"mediaharvest/internal/observability/metrics"
	"mediaharvest/internal/runner"
	"mediaharvest/internal/storage"
)

type harvesterFunc func(ctx context.Context, query harvest.Query) ([]harvest.RawItem, error)

func (f harvesterFunc) Harvest(ctx context.Context, query harvest.Query) ([]harvest.RawItem, error) {
	return f(ctx, query)
}

type manualTicker struct {
	ch chan time.Time
}

func (m *manualTicker) C() <-chan time.Time { return m.ch }
func (m *manualTicker) Stop()               {}

// tickerControl hands out manual tickers keyed by interval so each job's
// loop can be driven independently.
type tickerControl struct {
	mu      sync.Mutex
	tickers map[time.Duration]*manualTicker
}

func newTickerControl() *tickerControl {
	return &tickerControl{tickers: make(map[time.Duration]*manualTicker)}
}

func (c *tickerControl) factory(d time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTicker{ch: make(chan time.Time)}
	c.tickers[d] = t
	return t
}

func (c *tickerControl) has(d time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.tickers[d]
	return ok
}

func (c *tickerControl) tick(t *testing.T, d time.Duration) {
	t.Helper()
	waitFor(t, func() bool { return c.has(d) })
	c.mu.Lock()
	ticker := c.tickers[d]
	c.mu.Unlock()
	select {
	case ticker.ch <- time.Now():
	case <-time.After(5 * time.Second):
		t.Fatalf("job loop did not consume tick for interval %v", d)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within deadline")
}

type fixture struct {
	scheduler *Scheduler
	tickers   *tickerControl
	clk       *clock.Manual
}

// newFixture builds a scheduler over a single registered source whose
// harvester is supplied by the test.
func newFixture(t *testing.T, articles, videos JobConfig, fn harvesterFunc) *fixture {
	t.Helper()
	registry := harvest.NewRegistry()
	err := registry.Register(harvest.Descriptor{
		Name:     "demo",
		Kind:     models.KindArticle,
		Platform: "demo",
		New:      func() harvest.Harvester { return fn },
	})
	if err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	store, err := storage.NewStorage(filepath.Join(t.TempDir(), "store.json"))
	if err != nil {
		t.Fatalf("NewStorage returned error: %v", err)
	}
	clk := clock.NewManual(time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC))
	r := runner.New(runner.Config{
		Registry:         registry,
		Store:            storage.NewGateway(store, nil),
		Breaker:          breaker.New(breaker.Config{Clock: clk}),
		Clock:            clk,
		Metrics:          metrics.New(),
		TimeoutPerSource: time.Minute,
		MaxRetries:       1,
	})
	tickers := newTickerControl()
	if articles.Sources == nil {
		articles.Sources = []string{"demo"}
	}
	if videos.Sources == nil {
		videos.Sources = []string{"demo"}
	}
	sched, err := New(Config{
		Coordinator: runner.NewCoordinator(r, 4, nil),
		Clock:       clk,
		Metrics:     metrics.New(),
		NewTicker:   tickers.factory,
		Articles:    articles,
		Videos:      videos,
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := sched.Stop(ctx); err != nil {
			t.Errorf("Stop returned error: %v", err)
		}
	})
	return &fixture{scheduler: sched, tickers: tickers, clk: clk}
}

func oneItem(ctx context.Context, query harvest.Query) ([]harvest.RawItem, error) {
	if query.Page > 1 {
		return nil, nil
	}
	return []harvest.RawItem{harvest.ArticleItem(harvest.RawArticle{
		URL:   "https://example.com/story",
		Title: "story",
	})}, nil
}

func TestFiringRunsBatchAndRecordsStats(t *testing.T) {
	fx := newFixture(t,
		JobConfig{Interval: time.Minute, Query: harvest.Query{Limit: 1}},
		JobConfig{Interval: time.Hour},
		oneItem,
	)
	fx.scheduler.Start()
	if !fx.scheduler.Running() {
		t.Fatalf("expected scheduler to report running")
	}

	fx.tickers.tick(t, time.Minute)
	waitFor(t, func() bool { return fx.scheduler.Stats()[JobArticles].Completed == 1 })

	stats := fx.scheduler.Stats()[JobArticles]
	if stats.Firings != 1 {
		t.Fatalf("expected 1 firing, got %+v", stats)
	}
	if stats.LastSummary == nil || stats.LastSummary.TotalInserted != 1 {
		t.Fatalf("expected recorded summary with 1 insert, got %+v", stats.LastSummary)
	}
	if stats.Succeeded != 1 || stats.Failed != 0 || stats.LastError != "" {
		t.Fatalf("expected 1 clean run, got %+v", stats)
	}
	if got := fx.scheduler.Stats()[JobVideos].Firings; got != 0 {
		t.Fatalf("videos job fired without a tick: %d", got)
	}
}

func TestCoalescedFiringReplaysOnceOnIdle(t *testing.T) {
	release := make(chan struct{})
	blocking := func(ctx context.Context, query harvest.Query) ([]harvest.RawItem, error) {
		select {
		case <-release:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	fx := newFixture(t,
		JobConfig{Interval: time.Minute, Coalesce: true},
		JobConfig{Interval: time.Hour},
		blocking,
	)
	fx.scheduler.Start()

	fx.tickers.tick(t, time.Minute)
	waitFor(t, func() bool { return fx.scheduler.ActiveExecutions()[JobArticles] == 1 })
	fx.tickers.tick(t, time.Minute)
	waitFor(t, func() bool { return fx.scheduler.Stats()[JobArticles].Coalesced == 1 })

	close(release)
	waitFor(t, func() bool { return fx.scheduler.Stats()[JobArticles].Completed == 2 })

	stats := fx.scheduler.Stats()[JobArticles]
	if stats.Firings != 2 {
		t.Fatalf("expected 2 firings (one original, one replayed), got %d", stats.Firings)
	}
	if stats.Dropped != 0 {
		t.Fatalf("expected no drops, got %d", stats.Dropped)
	}
}

func TestFiringDroppedWithoutCoalesce(t *testing.T) {
	release := make(chan struct{})
	blocking := func(ctx context.Context, query harvest.Query) ([]harvest.RawItem, error) {
		select {
		case <-release:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	fx := newFixture(t,
		JobConfig{Interval: time.Minute},
		JobConfig{Interval: time.Hour},
		blocking,
	)
	fx.scheduler.Start()

	fx.tickers.tick(t, time.Minute)
	waitFor(t, func() bool { return fx.scheduler.ActiveExecutions()[JobArticles] == 1 })
	fx.tickers.tick(t, time.Minute)
	fx.tickers.tick(t, time.Minute)
	waitFor(t, func() bool { return fx.scheduler.Stats()[JobArticles].Dropped == 2 })

	close(release)
	waitFor(t, func() bool { return fx.scheduler.Stats()[JobArticles].Completed == 1 })

	if got := fx.scheduler.Stats()[JobArticles].Firings; got != 1 {
		t.Fatalf("expected 1 firing, got %d", got)
	}
}

func TestMaxInstancesAdmitsSecondExecution(t *testing.T) {
	release := make(chan struct{})
	blocking := func(ctx context.Context, query harvest.Query) ([]harvest.RawItem, error) {
		select {
		case <-release:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	fx := newFixture(t,
		JobConfig{Interval: time.Minute, MaxInstances: 2},
		JobConfig{Interval: time.Hour},
		blocking,
	)
	fx.scheduler.Start()

	fx.tickers.tick(t, time.Minute)
	fx.tickers.tick(t, time.Minute)
	waitFor(t, func() bool { return fx.scheduler.ActiveExecutions()[JobArticles] == 2 })

	fx.tickers.tick(t, time.Minute)
	waitFor(t, func() bool { return fx.scheduler.Stats()[JobArticles].Dropped == 1 })

	close(release)
	waitFor(t, func() bool { return fx.scheduler.Stats()[JobArticles].Completed == 2 })
}

func TestMisfireBeyondGraceIsDropped(t *testing.T) {
	fx := newFixture(t,
		JobConfig{Interval: time.Minute, MisfireGrace: time.Minute},
		JobConfig{Interval: time.Hour},
		oneItem,
	)
	fx.scheduler.Start()

	fx.clk.Advance(10 * time.Minute)
	fx.tickers.tick(t, time.Minute)

	waitFor(t, func() bool { return fx.scheduler.Stats()[JobArticles].Misfires == 1 })
	if got := fx.scheduler.Stats()[JobArticles].Firings; got != 0 {
		t.Fatalf("misfired tick should not execute, got %d firings", got)
	}

	// The next on-time tick executes normally.
	fx.tickers.tick(t, time.Minute)
	waitFor(t, func() bool { return fx.scheduler.Stats()[JobArticles].Completed == 1 })
}

func TestTriggerNowRunsWithoutTicks(t *testing.T) {
	fx := newFixture(t,
		JobConfig{Interval: time.Hour, Query: harvest.Query{Limit: 1}},
		JobConfig{Interval: 2 * time.Hour},
		oneItem,
	)

	summary, err := fx.scheduler.TriggerNow(context.Background(), JobArticles)
	if err != nil {
		t.Fatalf("TriggerNow returned error: %v", err)
	}
	if summary.Succeeded != 1 || summary.TotalInserted != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if got := fx.scheduler.Stats()[JobArticles].Completed; got != 1 {
		t.Fatalf("expected trigger recorded in stats, got %d completed", got)
	}
}

func TestTriggerNowRespectsMaxInstances(t *testing.T) {
	release := make(chan struct{})
	blocking := func(ctx context.Context, query harvest.Query) ([]harvest.RawItem, error) {
		select {
		case <-release:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	fx := newFixture(t,
		JobConfig{Interval: time.Hour},
		JobConfig{Interval: 2 * time.Hour},
		blocking,
	)

	done := make(chan error, 1)
	go func() {
		_, err := fx.scheduler.TriggerNow(context.Background(), JobArticles)
		done <- err
	}()
	waitFor(t, func() bool { return fx.scheduler.ActiveExecutions()[JobArticles] == 1 })

	if _, err := fx.scheduler.TriggerNow(context.Background(), JobArticles); !errors.Is(err, ErrJobBusy) {
		t.Fatalf("expected ErrJobBusy, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first trigger returned error: %v", err)
	}
}

func TestTriggerNowUnknownJob(t *testing.T) {
	fx := newFixture(t,
		JobConfig{Interval: time.Hour},
		JobConfig{Interval: 2 * time.Hour},
		oneItem,
	)
	if _, err := fx.scheduler.TriggerNow(context.Background(), "nightly"); !errors.Is(err, ErrUnknownJob) {
		t.Fatalf("expected ErrUnknownJob, got %v", err)
	}
}

func TestReconfigureSwapsTicker(t *testing.T) {
	fx := newFixture(t,
		JobConfig{Interval: time.Minute},
		JobConfig{Interval: time.Hour},
		oneItem,
	)
	fx.scheduler.Start()
	waitFor(t, func() bool { return fx.tickers.has(time.Minute) })

	next := JobConfig{Sources: []string{"demo"}, Interval: 30 * time.Second}
	if err := fx.scheduler.Reconfigure(JobArticles, next); err != nil {
		t.Fatalf("Reconfigure returned error: %v", err)
	}
	waitFor(t, func() bool { return fx.tickers.has(30 * time.Second) })

	got, err := fx.scheduler.Config(JobArticles)
	if err != nil {
		t.Fatalf("Config returned error: %v", err)
	}
	if got.Interval != 30*time.Second {
		t.Fatalf("expected interval swapped, got %v", got.Interval)
	}

	fx.tickers.tick(t, 30*time.Second)
	waitFor(t, func() bool { return fx.scheduler.Stats()[JobArticles].Completed == 1 })
}

func TestReconfigureRejectsInvalidConfig(t *testing.T) {
	fx := newFixture(t,
		JobConfig{Interval: time.Hour},
		JobConfig{Interval: 2 * time.Hour},
		oneItem,
	)
	if err := fx.scheduler.Reconfigure(JobArticles, JobConfig{Sources: []string{"demo"}}); err == nil {
		t.Fatalf("expected error for zero interval")
	}
	if err := fx.scheduler.Reconfigure("nightly", JobConfig{Sources: []string{"demo"}, Interval: time.Hour}); !errors.Is(err, ErrUnknownJob) {
		t.Fatalf("expected ErrUnknownJob, got %v", err)
	}
}

func TestStopCancelsInFlightExecutions(t *testing.T) {
	started := make(chan struct{}, 1)
	blocking := func(ctx context.Context, query harvest.Query) ([]harvest.RawItem, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}
	fx := newFixture(t,
		JobConfig{Interval: time.Minute},
		JobConfig{Interval: time.Hour},
		blocking,
	)
	fx.scheduler.Start()
	fx.tickers.tick(t, time.Minute)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fx.scheduler.Stop(ctx); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if fx.scheduler.Running() {
		t.Fatalf("expected stopped scheduler")
	}
	if got := fx.scheduler.ActiveExecutions()[JobArticles]; got != 0 {
		t.Fatalf("expected no active executions after stop, got %d", got)
	}
}

func TestNewValidatesJobs(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error without coordinator")
	}
}
