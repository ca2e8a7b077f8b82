package models

import (
	"time"
)

// JobStatus is the lifecycle state of a single job.
type JobStatus string

const (
	JobPending   JobStatus = "PENDING"
	JobRunning   JobStatus = "RUNNING"
	JobSucceeded JobStatus = "SUCCEEDED"
	JobFailed    JobStatus = "FAILED"
	JobCancelled JobStatus = "CANCELLED"
)

// IsTerminal reports whether the status is absorbing.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobSucceeded, JobFailed, JobCancelled:
		return true
	}
	return false
}

// CanTransition validates the job state machine:
// PENDING -> {RUNNING, CANCELLED}; RUNNING -> {SUCCEEDED, FAILED, CANCELLED};
// terminal states are absorbing.
func (s JobStatus) CanTransition(to JobStatus) bool {
	switch s {
	case JobPending:
		return to == JobRunning || to == JobCancelled
	case JobRunning:
		return to == JobSucceeded || to == JobFailed || to == JobCancelled
	}
	return false
}

// Job is the unit the scheduler dispatches. One job maps to one runner
// invocation. Jobs are owned by their workflow and referenced by id only.
type Job struct {
	ID         string `json:"id"`
	WorkflowID string `json:"workflow_id"`
	BranchID   string `json:"branch_id"`
	Position   int    `json:"position"` // 0-based index within the branch
	UserID     string `json:"user_id"`

	Type           string                 `json:"type"` // Opaque tag resolved through the runner registry
	InputImagePath string                 `json:"input_image_path"`
	Params         map[string]interface{} `json:"params"`

	Status          JobStatus `json:"status"`
	ProgressPercent float64   `json:"progress_percent"`
	TilesProcessed  int       `json:"tiles_processed"`
	TilesTotal      int       `json:"tiles_total"`

	OutputPath   string    `json:"output_path,omitempty"`
	ErrorKind    ErrorKind `json:"error_kind,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Clone returns a copy safe to hand outside the registry.
func (j *Job) Clone() *Job {
	c := *j
	if j.Params != nil {
		c.Params = make(map[string]interface{}, len(j.Params))
		for k, v := range j.Params {
			c.Params[k] = v
		}
	}
	return &c
}

// JobView is the read-only projection handed to runners.
type JobView struct {
	ID             string
	WorkflowID     string
	BranchID       string
	Type           string
	InputImagePath string
	Params         map[string]interface{}
}

// View returns the runner-facing projection of the job.
func (j *Job) View() JobView {
	return JobView{
		ID:             j.ID,
		WorkflowID:     j.WorkflowID,
		BranchID:       j.BranchID,
		Type:           j.Type,
		InputImagePath: j.InputImagePath,
		Params:         j.Params,
	}
}

// JobResponse is the API representation of a job.
type JobResponse struct {
	ID              string     `json:"id"`
	WorkflowID      string     `json:"workflow_id"`
	BranchID        string     `json:"branch_id"`
	Position        int        `json:"position"`
	Type            string     `json:"type"`
	Status          JobStatus  `json:"status"`
	ProgressPercent float64    `json:"progress_percent"`
	TilesProcessed  int        `json:"tiles_processed"`
	TilesTotal      int        `json:"tiles_total"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	ResultAvailable bool       `json:"result_available"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
}

// ToResponse converts the job to its API representation.
func (j *Job) ToResponse() JobResponse {
	return JobResponse{
		ID:              j.ID,
		WorkflowID:      j.WorkflowID,
		BranchID:        j.BranchID,
		Position:        j.Position,
		Type:            j.Type,
		Status:          j.Status,
		ProgressPercent: j.ProgressPercent,
		TilesProcessed:  j.TilesProcessed,
		TilesTotal:      j.TilesTotal,
		ErrorMessage:    j.ErrorMessage,
		ResultAvailable: j.Status == JobSucceeded && j.OutputPath != "",
		CreatedAt:       j.CreatedAt,
		StartedAt:       j.StartedAt,
		FinishedAt:      j.FinishedAt,
	}
}
