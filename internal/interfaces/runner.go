package interfaces

import (
	"context"

	"github.com/ternarybob/slideflow/internal/models"
)

// ProgressSink receives progress reports from a running job. Implementations
// must be safe for use from the runner's goroutine.
type ProgressSink interface {
	Report(processed, total int, message string)
}

// RunResult is the successful outcome of a runner invocation.
type RunResult struct {
	OutputPath string
	Summary    map[string]interface{}
}

// JobRunner executes one job to completion. Run must honor ctx cancellation
// promptly and return ctx.Err() when cancelled. A panic inside Run is
// recovered by the scheduler and recorded as a runner crash.
type JobRunner interface {
	Type() string
	Run(ctx context.Context, job models.JobView, sink ProgressSink) (*RunResult, error)
}

// RunnerRegistry resolves job type tags to runners.
type RunnerRegistry interface {
	Register(runner JobRunner)
	Get(jobType string) (JobRunner, bool)
	Has(jobType string) bool
	Types() []string
}
