package interfaces

import (
	"github.com/ternarybob/slideflow/internal/models"
)

// JobRegistry is the in-memory record store for jobs. All mutations go
// through transition methods so the state machine cannot be bypassed.
type JobRegistry interface {
	Add(job *models.Job) error
	Get(jobID string) (*models.Job, error)
	GetByWorkflow(workflowID string) []*models.Job
	GetByUser(userID string) []*models.Job

	// Transition moves the job to the given status, recording timestamps and,
	// for failures and cancellations, the error kind and message. Returns an
	// INVALID_TRANSITION error when the state machine forbids the move.
	Transition(jobID string, to models.JobStatus, errKind models.ErrorKind, errMsg string) (*models.Job, error)

	// UpdateProgress records tile counts and returns the job when the percent
	// moved by at least the configured delta or a boundary (0, 100) was hit;
	// returns nil when the update was coalesced away.
	UpdateProgress(jobID string, processed, total int) (*models.Job, error)

	SetOutputPath(jobID, path string) error

	// NonTerminalCountByUser returns the user's count of jobs not yet in a
	// terminal state, across all their workflows.
	NonTerminalCountByUser(userID string) int
	CountByStatus(status models.JobStatus) int
}

// WorkflowRegistry is the in-memory record store for workflows.
type WorkflowRegistry interface {
	Add(workflow *models.Workflow) error
	Get(workflowID string) (*models.Workflow, error)
	GetByUser(userID string) []*models.Workflow
	List() []*models.Workflow

	// Refresh re-derives the workflow's status and progress from its jobs and
	// returns the updated record. changed reports whether either moved.
	Refresh(workflowID string) (wf *models.Workflow, changed bool, err error)
}
