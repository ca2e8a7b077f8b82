package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/slideflow/internal/interfaces"
	"github.com/ternarybob/slideflow/internal/models"
)

func newTestJob(id, workflowID, userID string) *models.Job {
	return &models.Job{
		ID:             id,
		WorkflowID:     workflowID,
		BranchID:       "b0",
		UserID:         userID,
		Type:           "SEGMENTATION",
		InputImagePath: "slide.svs",
		Status:         models.JobPending,
		CreatedAt:      time.Now().UTC(),
	}
}

func TestJobTransitions(t *testing.T) {
	jobs := NewJobService(1.0, arbor.NewLogger())
	require.NoError(t, jobs.Add(newTestJob("job_1", "wf_1", "alice")))

	tests := []struct {
		name    string
		from    models.JobStatus
		to      models.JobStatus
		wantErr bool
	}{
		{"pending to running", models.JobPending, models.JobRunning, false},
		{"running to succeeded", models.JobRunning, models.JobSucceeded, false},
		{"succeeded is absorbing", models.JobSucceeded, models.JobRunning, true},
		{"succeeded to cancelled rejected", models.JobSucceeded, models.JobCancelled, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job, err := jobs.Transition("job_1", tt.to, "", "")
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, models.ErrInvalidTransition, models.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.to, job.Status)
		})
	}
}

func TestJobTransitionTimestampsAndErrors(t *testing.T) {
	jobs := NewJobService(1.0, arbor.NewLogger())
	require.NoError(t, jobs.Add(newTestJob("job_f", "wf_1", "alice")))

	running, err := jobs.Transition("job_f", models.JobRunning, "", "")
	require.NoError(t, err)
	require.NotNil(t, running.StartedAt)

	failed, err := jobs.Transition("job_f", models.JobFailed, models.ErrRunnerCrash, "panic: boom")
	require.NoError(t, err)
	require.NotNil(t, failed.FinishedAt)
	assert.Equal(t, models.ErrRunnerCrash, failed.ErrorKind)
	assert.Equal(t, "panic: boom", failed.ErrorMessage)
}

func TestJobSuccessSnapsProgressToFull(t *testing.T) {
	jobs := NewJobService(1.0, arbor.NewLogger())
	require.NoError(t, jobs.Add(newTestJob("job_s", "wf_1", "alice")))

	_, err := jobs.Transition("job_s", models.JobRunning, "", "")
	require.NoError(t, err)
	_, err = jobs.UpdateProgress("job_s", 40, 100)
	require.NoError(t, err)

	done, err := jobs.Transition("job_s", models.JobSucceeded, "", "")
	require.NoError(t, err)
	assert.Equal(t, 100.0, done.ProgressPercent)
	assert.Equal(t, 100, done.TilesProcessed)
}

func TestProgressCoalescing(t *testing.T) {
	jobs := NewJobService(1.0, arbor.NewLogger())
	require.NoError(t, jobs.Add(newTestJob("job_p", "wf_1", "alice")))
	_, err := jobs.Transition("job_p", models.JobRunning, "", "")
	require.NoError(t, err)

	// 1 of 1000 tiles is 0.1%, below the delta: coalesced.
	job, err := jobs.UpdateProgress("job_p", 1, 1000)
	require.NoError(t, err)
	assert.Nil(t, job)

	// 25 of 1000 is 2.5%, above the delta: reported.
	job, err = jobs.UpdateProgress("job_p", 25, 1000)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.InDelta(t, 2.5, job.ProgressPercent, 0.001)
	assert.Equal(t, 25, job.TilesProcessed)
	assert.Equal(t, 1000, job.TilesTotal)

	// 100% is a boundary and always reported.
	job, err = jobs.UpdateProgress("job_p", 1000, 1000)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, 100.0, job.ProgressPercent)
}

func TestProgressClampedToBounds(t *testing.T) {
	jobs := NewJobService(1.0, arbor.NewLogger())
	require.NoError(t, jobs.Add(newTestJob("job_c", "wf_1", "alice")))
	_, err := jobs.Transition("job_c", models.JobRunning, "", "")
	require.NoError(t, err)

	// A runner reporting more tiles than exist gets clamped to the total.
	job, err := jobs.UpdateProgress("job_c", 15, 10)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, 100.0, job.ProgressPercent)
	assert.Equal(t, 10, job.TilesProcessed)
	assert.Equal(t, 10, job.TilesTotal)
}

func TestProgressNeverMovesBackwards(t *testing.T) {
	jobs := NewJobService(1.0, arbor.NewLogger())
	require.NoError(t, jobs.Add(newTestJob("job_m", "wf_1", "alice")))
	_, err := jobs.Transition("job_m", models.JobRunning, "", "")
	require.NoError(t, err)

	job, err := jobs.UpdateProgress("job_m", 5, 10)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, 50.0, job.ProgressPercent)

	// A lower report is dropped and the stored value keeps its high-water mark.
	job, err = jobs.UpdateProgress("job_m", 3, 10)
	require.NoError(t, err)
	assert.Nil(t, job)

	stored, err := jobs.Get("job_m")
	require.NoError(t, err)
	assert.Equal(t, 50.0, stored.ProgressPercent)
	assert.Equal(t, 5, stored.TilesProcessed)
}

func TestProgressIgnoredAfterTerminal(t *testing.T) {
	jobs := NewJobService(1.0, arbor.NewLogger())
	require.NoError(t, jobs.Add(newTestJob("job_t", "wf_1", "alice")))
	_, err := jobs.Transition("job_t", models.JobRunning, "", "")
	require.NoError(t, err)
	_, err = jobs.Transition("job_t", models.JobCancelled, models.ErrCancelledByRequest, "cancelled")
	require.NoError(t, err)

	job, err := jobs.UpdateProgress("job_t", 50, 100)
	require.NoError(t, err)
	assert.Nil(t, job, "stale progress after a terminal state must be dropped")
}

func TestNonTerminalCountByUser(t *testing.T) {
	jobs := NewJobService(1.0, arbor.NewLogger())
	require.NoError(t, jobs.Add(newTestJob("job_a", "wf_1", "alice")))
	require.NoError(t, jobs.Add(newTestJob("job_b", "wf_2", "alice")))
	require.NoError(t, jobs.Add(newTestJob("job_c", "wf_3", "bob")))

	assert.Equal(t, 2, jobs.NonTerminalCountByUser("alice"))

	_, err := jobs.Transition("job_a", models.JobCancelled, models.ErrCancelledByRequest, "cancelled")
	require.NoError(t, err)
	assert.Equal(t, 1, jobs.NonTerminalCountByUser("alice"))

	_, err = jobs.Transition("job_b", models.JobRunning, "", "")
	require.NoError(t, err)
	_, err = jobs.Transition("job_b", models.JobSucceeded, "", "")
	require.NoError(t, err)
	assert.Equal(t, 0, jobs.NonTerminalCountByUser("alice"))
	assert.Equal(t, 1, jobs.NonTerminalCountByUser("bob"))
}

func TestUnknownJobLookups(t *testing.T) {
	jobs := NewJobService(1.0, arbor.NewLogger())

	_, err := jobs.Get("job_missing")
	assert.Equal(t, models.ErrUnknownJob, models.KindOf(err))

	_, err = jobs.Transition("job_missing", models.JobRunning, "", "")
	assert.Equal(t, models.ErrUnknownJob, models.KindOf(err))
}

func newTestRegistries(t *testing.T) (interfaces.JobRegistry, interfaces.WorkflowRegistry) {
	t.Helper()
	logger := arbor.NewLogger()
	jobs := NewJobService(1.0, logger)
	workflows := NewWorkflowService(jobs, logger)
	return jobs, workflows
}

func addWorkflowWithJobs(t *testing.T, jobs interfaces.JobRegistry, workflows interfaces.WorkflowRegistry, wfID, userID string, jobIDs ...string) {
	t.Helper()
	wf := &models.Workflow{
		ID:        wfID,
		UserID:    userID,
		Branches:  []models.Branch{{ID: "b0", JobIDs: jobIDs}},
		Status:    models.WorkflowPending,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, workflows.Add(wf))
	for _, id := range jobIDs {
		require.NoError(t, jobs.Add(newTestJob(id, wfID, userID)))
	}
}

func TestWorkflowStatusDerivation(t *testing.T) {
	jobs, workflows := newTestRegistries(t)
	addWorkflowWithJobs(t, jobs, workflows, "wf_1", "alice", "job_1", "job_2")

	wf, _, err := workflows.Refresh("wf_1")
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowPending, wf.Status)

	_, err = jobs.Transition("job_1", models.JobRunning, "", "")
	require.NoError(t, err)
	wf, changed, err := workflows.Refresh("wf_1")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, models.WorkflowRunning, wf.Status)
	require.NotNil(t, wf.StartedAt)

	_, err = jobs.Transition("job_1", models.JobSucceeded, "", "")
	require.NoError(t, err)
	wf, _, err = workflows.Refresh("wf_1")
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowRunning, wf.Status, "workflow stays in flight while jobs remain pending")

	_, err = jobs.Transition("job_2", models.JobRunning, "", "")
	require.NoError(t, err)
	_, err = jobs.Transition("job_2", models.JobSucceeded, "", "")
	require.NoError(t, err)
	wf, _, err = workflows.Refresh("wf_1")
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowSucceeded, wf.Status)
	require.NotNil(t, wf.FinishedAt)
}

func TestWorkflowFailureOutranksCancellation(t *testing.T) {
	jobs, workflows := newTestRegistries(t)
	addWorkflowWithJobs(t, jobs, workflows, "wf_m", "alice", "job_x", "job_y", "job_z")

	_, err := jobs.Transition("job_x", models.JobRunning, "", "")
	require.NoError(t, err)
	_, err = jobs.Transition("job_x", models.JobFailed, models.ErrRunnerCrash, "boom")
	require.NoError(t, err)
	_, err = jobs.Transition("job_y", models.JobCancelled, models.ErrSkippedDueToPredecessor, "skipped")
	require.NoError(t, err)
	_, err = jobs.Transition("job_z", models.JobRunning, "", "")
	require.NoError(t, err)
	_, err = jobs.Transition("job_z", models.JobSucceeded, "", "")
	require.NoError(t, err)

	wf, _, err := workflows.Refresh("wf_m")
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowFailed, wf.Status)
}

func TestWorkflowProgressIsMeanOfJobs(t *testing.T) {
	jobs, workflows := newTestRegistries(t)
	addWorkflowWithJobs(t, jobs, workflows, "wf_p", "alice", "job_1", "job_2")

	_, err := jobs.Transition("job_1", models.JobRunning, "", "")
	require.NoError(t, err)
	_, err = jobs.UpdateProgress("job_1", 50, 100)
	require.NoError(t, err)

	wf, _, err := workflows.Refresh("wf_p")
	require.NoError(t, err)
	assert.InDelta(t, 25.0, wf.ProgressPercent, 0.001)
}

func TestWorkflowListNewestFirst(t *testing.T) {
	jobs, workflows := newTestRegistries(t)

	older := &models.Workflow{ID: "wf_old", UserID: "alice", CreatedAt: time.Now().UTC().Add(-time.Hour), Status: models.WorkflowPending}
	newer := &models.Workflow{ID: "wf_new", UserID: "alice", CreatedAt: time.Now().UTC(), Status: models.WorkflowPending}
	require.NoError(t, workflows.Add(older))
	require.NoError(t, workflows.Add(newer))
	_ = jobs

	list := workflows.GetByUser("alice")
	require.Len(t, list, 2)
	assert.Equal(t, "wf_new", list[0].ID)
	assert.Equal(t, "wf_old", list[1].ID)
}

func TestUnknownWorkflowRefresh(t *testing.T) {
	_, workflows := newTestRegistries(t)
	_, _, err := workflows.Refresh("wf_missing")
	assert.Equal(t, models.ErrUnknownWorkflow, models.KindOf(err))
}
