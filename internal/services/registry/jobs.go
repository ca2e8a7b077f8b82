package registry

import (
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/slideflow/internal/interfaces"
	"github.com/ternarybob/slideflow/internal/models"
)

// JobService is the in-memory job store. It is the single writer for job
// records; everything handed out is a clone.
type JobService struct {
	jobs             map[string]*models.Job
	byWorkflow       map[string][]string
	byUser           map[string][]string
	minProgressDelta float64
	mu               sync.RWMutex
	logger           arbor.ILogger
}

// NewJobService creates a new job registry
func NewJobService(minProgressDelta float64, logger arbor.ILogger) interfaces.JobRegistry {
	return &JobService{
		jobs:             make(map[string]*models.Job),
		byWorkflow:       make(map[string][]string),
		byUser:           make(map[string][]string),
		minProgressDelta: minProgressDelta,
		logger:           logger,
	}
}

// Add registers a new job record
func (s *JobService) Add(job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return models.NewError(models.ErrInvalidTransition, "job %s already registered", job.ID)
	}

	s.jobs[job.ID] = job.Clone()
	s.byWorkflow[job.WorkflowID] = append(s.byWorkflow[job.WorkflowID], job.ID)
	s.byUser[job.UserID] = append(s.byUser[job.UserID], job.ID)
	return nil
}

// Get returns a snapshot of the job
func (s *JobService) Get(jobID string) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, models.NewError(models.ErrUnknownJob, "job %s not found", jobID)
	}
	return job.Clone(), nil
}

// GetByWorkflow returns snapshots of the workflow's jobs in insertion order
func (s *JobService) GetByWorkflow(workflowID string) []*models.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byWorkflow[workflowID]
	jobs := make([]*models.Job, 0, len(ids))
	for _, id := range ids {
		if job, ok := s.jobs[id]; ok {
			jobs = append(jobs, job.Clone())
		}
	}
	return jobs
}

// GetByUser returns snapshots of the user's jobs in insertion order
func (s *JobService) GetByUser(userID string) []*models.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byUser[userID]
	jobs := make([]*models.Job, 0, len(ids))
	for _, id := range ids {
		if job, ok := s.jobs[id]; ok {
			jobs = append(jobs, job.Clone())
		}
	}
	return jobs
}

// Transition moves the job through its state machine, stamping timestamps
// and error details. Terminal states are absorbing.
func (s *JobService) Transition(jobID string, to models.JobStatus, errKind models.ErrorKind, errMsg string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, models.NewError(models.ErrUnknownJob, "job %s not found", jobID)
	}

	if !job.Status.CanTransition(to) {
		return nil, models.NewError(models.ErrInvalidTransition,
			"job %s cannot move from %s to %s", jobID, job.Status, to)
	}

	now := time.Now().UTC()
	from := job.Status
	job.Status = to

	switch to {
	case models.JobRunning:
		job.StartedAt = &now
	case models.JobSucceeded:
		job.FinishedAt = &now
		job.ProgressPercent = 100
		if job.TilesTotal > 0 {
			job.TilesProcessed = job.TilesTotal
		}
	case models.JobFailed, models.JobCancelled:
		job.FinishedAt = &now
		job.ErrorKind = errKind
		job.ErrorMessage = errMsg
	}

	s.logger.Debug().
		Str("job_id", jobID).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("Job transitioned")

	return job.Clone(), nil
}

// UpdateProgress records tile counts. The percentage is clamped to [0,100]
// and never moves backwards while the job runs; updates that move it by less
// than the configured delta are coalesced away unless they hit a boundary.
// Coalesced or rejected updates return (nil, nil).
func (s *JobService) UpdateProgress(jobID string, processed, total int) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, models.NewError(models.ErrUnknownJob, "job %s not found", jobID)
	}

	// Progress from a job that already finished is stale; ignore it.
	if job.Status != models.JobRunning {
		return nil, nil
	}

	if processed < 0 {
		processed = 0
	}
	if total > 0 && processed > total {
		processed = total
	}

	percent := 0.0
	if total > 0 {
		percent = float64(processed) / float64(total) * 100
	}
	if percent > 100 {
		percent = 100
	}

	// A runner reporting less than it already did is misbehaving; progress
	// only ever moves forward.
	if percent < job.ProgressPercent {
		return nil, nil
	}

	delta := percent - job.ProgressPercent
	boundary := percent == 0 || percent == 100
	if delta < s.minProgressDelta && !boundary {
		return nil, nil
	}

	job.TilesProcessed = processed
	job.TilesTotal = total
	job.ProgressPercent = percent

	return job.Clone(), nil
}

// SetOutputPath records where the job's result document was written
func (s *JobService) SetOutputPath(jobID, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return models.NewError(models.ErrUnknownJob, "job %s not found", jobID)
	}
	job.OutputPath = path
	return nil
}

// NonTerminalCountByUser counts the user's jobs not yet in a terminal state
func (s *JobService) NonTerminalCountByUser(userID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, id := range s.byUser[userID] {
		if job, ok := s.jobs[id]; ok && !job.Status.IsTerminal() {
			count++
		}
	}
	return count
}

// CountByStatus counts jobs currently in the given status
func (s *JobService) CountByStatus(status models.JobStatus) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, job := range s.jobs {
		if job.Status == status {
			count++
		}
	}
	return count
}
