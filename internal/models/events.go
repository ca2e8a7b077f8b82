package models

import "time"

// Event types published on the bus and forwarded to WebSocket clients.
const (
	EventJobProgress      = "progress"
	EventWorkflowProgress = "workflow_progress"
	EventSystemStatus     = "system_status"
	EventQueueOverflow    = "queue_overflow"
)

// ProgressUpdate is the per-job progress payload.
type ProgressUpdate struct {
	JobID           string    `json:"job_id"`
	WorkflowID      string    `json:"workflow_id"`
	Status          JobStatus `json:"status"`
	ProgressPercent float64   `json:"progress_percent"`
	TilesProcessed  int       `json:"tiles_processed"`
	TilesTotal      int       `json:"tiles_total"`
	Message         string    `json:"message,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// WorkflowProgressUpdate is the aggregated workflow progress payload.
type WorkflowProgressUpdate struct {
	WorkflowID      string         `json:"workflow_id"`
	Status          WorkflowStatus `json:"status"`
	ProgressPercent float64        `json:"progress_percent"`
	JobsTotal       int            `json:"jobs_total"`
	JobsCompleted   int            `json:"jobs_completed"`
	JobsFailed      int            `json:"jobs_failed"`
	Timestamp       time.Time      `json:"timestamp"`
}

// SchedulerStatus is the scheduler half of the system snapshot.
type SchedulerStatus struct {
	RunningJobs int `json:"running_jobs"`
	PendingJobs int `json:"pending_jobs"`
	MaxWorkers  int `json:"max_workers"`
}

// TenantManagerStatus is the admission half of the system snapshot.
type TenantManagerStatus struct {
	ActiveUsers    int      `json:"active_users"`
	MaxActiveUsers int      `json:"max_active_users"`
	QueuedUsers    []string `json:"queued_users"`
}

// SystemStatus is the full system snapshot served by /api/status and
// broadcast periodically on the system topic.
type SystemStatus struct {
	Scheduler     SchedulerStatus     `json:"scheduler"`
	TenantManager TenantManagerStatus `json:"tenant_manager"`
	Timestamp     time.Time           `json:"timestamp"`
}
