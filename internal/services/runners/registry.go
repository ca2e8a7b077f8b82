package runners

import (
	"sort"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/slideflow/internal/interfaces"
)

// Registry maps job type tags to runners. Registration happens during
// startup; lookups happen on every dispatch.
type Registry struct {
	runners map[string]interfaces.JobRunner
	mu      sync.RWMutex
	logger  arbor.ILogger
}

// NewRegistry creates an empty runner registry
func NewRegistry(logger arbor.ILogger) *Registry {
	return &Registry{
		runners: make(map[string]interfaces.JobRunner),
		logger:  logger,
	}
}

// Register adds a runner, replacing any previous runner for the same type
func (r *Registry) Register(runner interfaces.JobRunner) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.runners[runner.Type()] = runner
	r.logger.Info().
		Str("job_type", runner.Type()).
		Msg("Runner registered")
}

// Get returns the runner for a job type
func (r *Registry) Get(jobType string) (interfaces.JobRunner, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	runner, ok := r.runners[jobType]
	return runner, ok
}

// Has reports whether a runner is registered for the type
func (r *Registry) Has(jobType string) bool {
	_, ok := r.Get(jobType)
	return ok
}

// Types returns the registered type tags, sorted
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.runners))
	for t := range r.runners {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
