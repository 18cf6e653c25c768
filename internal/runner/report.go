package runner

import (
	"time"

	"mediaharvest/internal/models"
)

// Status is the terminal state of one source run.
type Status string

const (
	StatusSuccess     Status = "success"
	StatusError       Status = "error"
	StatusTimeout     Status = "timeout"
	StatusCircuitOpen Status = "circuitOpen"
)

// RunReport describes everything one source run did. Err is kept off the
// wire; Error carries its message for JSON consumers.
type RunReport struct {
	Source               string             `json:"source"`
	Kind                 models.ContentKind `json:"kind"`
	Scraped              int                `json:"scraped"`
	Deduped              int                `json:"deduped"`
	Inserted             int                `json:"inserted"`
	DuplicatesSkipped    int                `json:"duplicatesSkipped"`
	PolicySkipped        map[string]int     `json:"policySkipped,omitempty"`
	Errors               int                `json:"errors"`
	Classified           int                `json:"classified"`
	ClassificationFailed int                `json:"classificationFailed"`
	Status               Status             `json:"status"`
	Error                string             `json:"error,omitempty"`
	Duration             time.Duration      `json:"durationNanos"`
	QuotaUsed            int                `json:"quotaUsed"`

	Err error `json:"-"`
}

func (r *RunReport) fail(status Status, err error) {
	r.Status = status
	r.Err = err
	if err != nil {
		r.Error = err.Error()
	}
}

// Summary aggregates a batch of run reports, preserving input order.
type Summary struct {
	Processed                 int           `json:"processed"`
	Succeeded                 int           `json:"succeeded"`
	Failed                    int           `json:"failed"`
	TotalScraped              int           `json:"totalScraped"`
	TotalInserted             int           `json:"totalInserted"`
	TotalDuplicates           int           `json:"totalDuplicates"`
	TotalClassified           int           `json:"totalClassified"`
	TotalClassificationFailed int           `json:"totalClassificationFailed"`
	QuotaUsed                 int           `json:"quotaUsed"`
	Duration                  time.Duration `json:"durationNanos"`
	Reports                   []RunReport   `json:"reports"`
}

func summarize(reports []RunReport, duration time.Duration) Summary {
	summary := Summary{
		Processed: len(reports),
		Duration:  duration,
		Reports:   reports,
	}
	for _, report := range reports {
		if report.Status == StatusSuccess {
			summary.Succeeded++
		} else {
			summary.Failed++
		}
		summary.TotalScraped += report.Scraped
		summary.TotalInserted += report.Inserted
		summary.TotalDuplicates += report.DuplicatesSkipped
		summary.TotalClassified += report.Classified
		summary.TotalClassificationFailed += report.ClassificationFailed
		summary.QuotaUsed += report.QuotaUsed
	}
	return summary
}
