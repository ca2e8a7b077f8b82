package interfaces

import (
	"github.com/ternarybob/slideflow/internal/models"
)

// Scheduler owns job dispatch: it admits workflows, enforces the worker and
// tenant caps, runs jobs through registered runners, and applies the
// branch-local failure policy.
type Scheduler interface {
	Start() error
	Stop()

	// SubmitWorkflow validates and registers a workflow submission for the
	// user and wakes the dispatch loop. The returned workflow is a snapshot.
	SubmitWorkflow(userID string, submission *models.WorkflowCreate) (*models.Workflow, error)

	// CancelWorkflow cancels every non-terminal job of the workflow:
	// PENDING jobs move to CANCELLED directly, RUNNING jobs get their
	// contexts cancelled and finish asynchronously.
	CancelWorkflow(workflowID string) error

	// CancelJob cancels a single job by the same rules.
	CancelJob(jobID string) error

	RunningCount() int
	PendingCount() int
	MaxWorkers() int
}

// StatusService assembles system snapshots and broadcasts them periodically.
type StatusService interface {
	Snapshot() models.SystemStatus
	Start() error
	Stop()
}
