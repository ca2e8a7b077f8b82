package common

import (
	"github.com/google/uuid"
)

// NewWorkflowID generates a unique workflow ID with the "wf_" prefix
// Format: wf_<uuid>
func NewWorkflowID() string {
	return "wf_" + uuid.New().String()
}

// NewJobID generates a unique job ID with the "job_" prefix
// Format: job_<uuid>
func NewJobID() string {
	return "job_" + uuid.New().String()
}
