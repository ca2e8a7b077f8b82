package models

import (
	"time"
)

// WorkflowStatus is the derived lifecycle state of a workflow.
type WorkflowStatus string

const (
	WorkflowPending   WorkflowStatus = "PENDING"
	WorkflowRunning   WorkflowStatus = "RUNNING"
	WorkflowSucceeded WorkflowStatus = "SUCCEEDED"
	WorkflowFailed    WorkflowStatus = "FAILED"
	WorkflowCancelled WorkflowStatus = "CANCELLED"
)

// IsTerminal reports whether the status is absorbing.
func (s WorkflowStatus) IsTerminal() bool {
	switch s {
	case WorkflowSucceeded, WorkflowFailed, WorkflowCancelled:
		return true
	}
	return false
}

// Branch is an ordered chain of job ids executed sequentially. Branches of
// the same workflow are independent of each other.
type Branch struct {
	ID     string   `json:"id"`
	JobIDs []string `json:"job_ids"`
}

// Workflow groups the branches submitted in a single request. Its status is
// never set directly; it is derived from the statuses of its jobs.
type Workflow struct {
	ID       string   `json:"id"`
	UserID   string   `json:"user_id"`
	Name     string   `json:"name,omitempty"`
	Branches []Branch `json:"branches"`

	Status          WorkflowStatus `json:"status"`
	ProgressPercent float64        `json:"progress_percent"`

	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// JobIDs returns every job id in the workflow in branch order.
func (w *Workflow) JobIDs() []string {
	var ids []string
	for _, b := range w.Branches {
		ids = append(ids, b.JobIDs...)
	}
	return ids
}

// JobCount returns the total number of jobs across all branches.
func (w *Workflow) JobCount() int {
	n := 0
	for _, b := range w.Branches {
		n += len(b.JobIDs)
	}
	return n
}

// Clone returns a copy safe to hand outside the registry.
func (w *Workflow) Clone() *Workflow {
	c := *w
	c.Branches = make([]Branch, len(w.Branches))
	for i, b := range w.Branches {
		jobIDs := make([]string, len(b.JobIDs))
		copy(jobIDs, b.JobIDs)
		c.Branches[i] = Branch{ID: b.ID, JobIDs: jobIDs}
	}
	return &c
}

// DeriveStatus computes the workflow status from its jobs' statuses.
// Any RUNNING job makes the workflow RUNNING; once all jobs are terminal the
// workflow is FAILED if any failed, else CANCELLED if any were cancelled,
// else SUCCEEDED.
func DeriveStatus(jobs []*Job) WorkflowStatus {
	if len(jobs) == 0 {
		return WorkflowPending
	}

	allTerminal := true
	anyStarted := false
	anyFailed := false
	anyCancelled := false

	for _, j := range jobs {
		switch j.Status {
		case JobRunning:
			return WorkflowRunning
		case JobFailed:
			anyFailed = true
		case JobCancelled:
			anyCancelled = true
		case JobSucceeded:
			anyStarted = true
		case JobPending:
			allTerminal = false
		}
	}

	if !allTerminal {
		if anyStarted || anyFailed || anyCancelled {
			// Some jobs finished but others still wait; the workflow is in flight.
			return WorkflowRunning
		}
		return WorkflowPending
	}

	if anyFailed {
		return WorkflowFailed
	}
	if anyCancelled {
		return WorkflowCancelled
	}
	return WorkflowSucceeded
}

// DeriveProgress computes the workflow progress as the unweighted mean of its
// jobs' progress percentages.
func DeriveProgress(jobs []*Job) float64 {
	if len(jobs) == 0 {
		return 0
	}
	sum := 0.0
	for _, j := range jobs {
		sum += j.ProgressPercent
	}
	return sum / float64(len(jobs))
}

// JobCounters breaks a workflow's jobs down by status. The per-status
// counts always sum to Total.
type JobCounters struct {
	Total     int `json:"total_jobs"`
	Pending   int `json:"pending_jobs"`
	Running   int `json:"running_jobs"`
	Succeeded int `json:"succeeded_jobs"`
	Failed    int `json:"failed_jobs"`
	Cancelled int `json:"cancelled_jobs"`
}

// DeriveCounters tallies the workflow's jobs by status.
func DeriveCounters(jobs []*Job) JobCounters {
	c := JobCounters{Total: len(jobs)}
	for _, j := range jobs {
		switch j.Status {
		case JobPending:
			c.Pending++
		case JobRunning:
			c.Running++
		case JobSucceeded:
			c.Succeeded++
		case JobFailed:
			c.Failed++
		case JobCancelled:
			c.Cancelled++
		}
	}
	return c
}

// BranchResponse is the API representation of a branch.
type BranchResponse struct {
	ID   string        `json:"id"`
	Jobs []JobResponse `json:"jobs"`
}

// WorkflowResponse is the API representation of a workflow with its jobs.
type WorkflowResponse struct {
	ID              string           `json:"id"`
	UserID          string           `json:"user_id"`
	Name            string           `json:"name,omitempty"`
	Status          WorkflowStatus   `json:"status"`
	ProgressPercent float64          `json:"progress_percent"`
	JobCounters
	Branches   []BranchResponse `json:"branches"`
	CreatedAt  time.Time        `json:"created_at"`
	StartedAt  *time.Time       `json:"started_at,omitempty"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
}
