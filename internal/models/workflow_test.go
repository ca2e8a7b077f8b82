package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveCounters(t *testing.T) {
	jobs := []*Job{
		{Status: JobPending},
		{Status: JobRunning},
		{Status: JobSucceeded},
		{Status: JobSucceeded},
		{Status: JobFailed},
		{Status: JobCancelled},
	}

	c := DeriveCounters(jobs)
	assert.Equal(t, 6, c.Total)
	assert.Equal(t, 1, c.Pending)
	assert.Equal(t, 1, c.Running)
	assert.Equal(t, 2, c.Succeeded)
	assert.Equal(t, 1, c.Failed)
	assert.Equal(t, 1, c.Cancelled)
	assert.Equal(t, c.Total, c.Pending+c.Running+c.Succeeded+c.Failed+c.Cancelled)
}

func TestDeriveStatusTerminalPriority(t *testing.T) {
	tests := []struct {
		name     string
		statuses []JobStatus
		want     WorkflowStatus
	}{
		{"all succeeded", []JobStatus{JobSucceeded, JobSucceeded}, WorkflowSucceeded},
		{"failure outranks cancellation", []JobStatus{JobSucceeded, JobFailed, JobCancelled}, WorkflowFailed},
		{"cancellation outranks success", []JobStatus{JobSucceeded, JobCancelled}, WorkflowCancelled},
		{"any running wins", []JobStatus{JobFailed, JobRunning}, WorkflowRunning},
		{"all pending", []JobStatus{JobPending, JobPending}, WorkflowPending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobs := make([]*Job, len(tt.statuses))
			for i, st := range tt.statuses {
				jobs[i] = &Job{Status: st}
			}
			assert.Equal(t, tt.want, DeriveStatus(jobs))
		})
	}
}
