package runner

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"mediaharvest/internal/harvest"
	"mediaharvest/internal/observability/logging"
)

// Coordinator fans a batch of sources out across a bounded set of runner
// goroutines and collects their reports in input order.
type Coordinator struct {
	runner        *Runner
	maxConcurrent int64
	logger        *slog.Logger
}

// NewCoordinator bounds concurrent runs at maxConcurrent (minimum 1).
func NewCoordinator(r *Runner, maxConcurrent int, logger *slog.Logger) *Coordinator {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{runner: r, maxConcurrent: int64(maxConcurrent), logger: logger}
}

// RunBatch runs every source with the shared query, waiting for all of them
// even when some fail. Cancelling ctx propagates into in-flight runs; a
// source still waiting on the semaphore reports an error instead of hanging.
func (c *Coordinator) RunBatch(ctx context.Context, sources []string, query harvest.Query) Summary {
	start := c.runner.cfg.Clock.Now()
	reports := make([]RunReport, len(sources))
	sem := semaphore.NewWeighted(c.maxConcurrent)

	var wg sync.WaitGroup
	for i, source := range sources {
		wg.Add(1)
		go func(idx int, name string) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				report := RunReport{Source: name}
				report.fail(StatusError, harvest.NewError(harvest.KindTimeout, name, err))
				reports[idx] = report
				return
			}
			defer sem.Release(1)
			reports[idx] = c.runner.Run(ctx, name, query)
		}(i, source)
	}
	wg.Wait()

	summary := summarize(reports, c.runner.cfg.Clock.Now().Sub(start))
	logging.WithContext(ctx, c.logger).Info("batch finished",
		"processed", summary.Processed,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"inserted", summary.TotalInserted,
		"duplicates", summary.TotalDuplicates,
		"quota_used", summary.QuotaUsed,
	)
	return summary
}
