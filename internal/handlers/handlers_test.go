package handlers

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/slideflow/internal/common"
	"github.com/ternarybob/slideflow/internal/interfaces"
	"github.com/ternarybob/slideflow/internal/models"
	"github.com/ternarybob/slideflow/internal/services/events"
	"github.com/ternarybob/slideflow/internal/services/registry"
	"github.com/ternarybob/slideflow/internal/services/runners"
	"github.com/ternarybob/slideflow/internal/services/scheduler"
	"github.com/ternarybob/slideflow/internal/services/status"
	"github.com/ternarybob/slideflow/internal/services/tenants"
)

type testEnv struct {
	workflowHandler *WorkflowHandler
	jobHandler      *JobHandler
	statusHandler   *StatusHandler
	uploadHandler   *UploadHandler
	wsHandler       *WebSocketHandler
	scheduler       *scheduler.Service
	jobs            interfaces.JobRegistry
	workflows       interfaces.WorkflowRegistry
	events          interfaces.EventService
	resultsDir      string
	uploadsDir      string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := arbor.NewLogger()

	resultsDir := t.TempDir()
	uploadsDir := t.TempDir()

	jobs := registry.NewJobService(1.0, logger)
	workflows := registry.NewWorkflowService(jobs, logger)
	tenantMgr := tenants.NewManager(3, logger)
	bus := events.NewService(64, logger)
	t.Cleanup(bus.Shutdown)

	runnersConfig := common.RunnersConfig{TileSize: 1024, Overlap: 128, BatchSize: 4, BatchDelay: "1ms"}
	reg := runners.NewRegistry(logger)
	reg.Register(runners.NewSegmentationRunner(runnersConfig, resultsDir, logger))
	reg.Register(runners.NewTissueMaskRunner(runnersConfig, resultsDir, logger))

	sched := scheduler.NewService(
		common.SchedulerConfig{MaxWorkers: 5, MaxActiveUsers: 3},
		jobs, workflows, tenantMgr, reg, bus, logger,
	)
	require.NoError(t, sched.Start())
	t.Cleanup(sched.Stop)

	statusSvc := status.NewService(common.StatusConfig{Schedule: "@every 1h"}, sched, tenantMgr, bus, logger)

	wsConfig := common.WebSocketConfig{ProgressThrottle: "1ms", WriteTimeout: "5s"}

	return &testEnv{
		workflowHandler: NewWorkflowHandler(sched, workflows, jobs, logger),
		jobHandler:      NewJobHandler(sched, jobs, resultsDir, logger),
		statusHandler:   NewStatusHandler(statusSvc, logger),
		uploadHandler:   NewUploadHandler(uploadsDir, logger),
		wsHandler:       NewWebSocketHandler(bus, jobs, workflows, wsConfig, logger),
		scheduler:       sched,
		jobs:            jobs,
		workflows:       workflows,
		events:          bus,
		resultsDir:      resultsDir,
		uploadsDir:      uploadsDir,
	}
}

func submissionBody(t *testing.T) *bytes.Buffer {
	t.Helper()
	body, err := json.Marshal(models.WorkflowCreate{
		Name: "case-001 analysis",
		Branches: []models.BranchSpec{
			{
				ID: "main",
				Jobs: []models.JobSpec{
					{
						Type:           runners.TypeSegmentation,
						InputImagePath: "slides/case-001.svs",
						Params:         map[string]interface{}{"image_width": 2048, "image_height": 2048},
					},
				},
			},
		},
	})
	require.NoError(t, err)
	return bytes.NewBuffer(body)
}

func createWorkflow(t *testing.T, env *testEnv, userID string) models.WorkflowResponse {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/workflows", submissionBody(t))
	req.Header.Set(UserIDHeader, userID)
	rec := httptest.NewRecorder()
	env.workflowHandler.CreateWorkflowHandler(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp models.WorkflowResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestCreateWorkflow(t *testing.T) {
	env := newTestEnv(t)

	resp := createWorkflow(t, env, "alice")
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, "alice", resp.UserID)
	assert.Equal(t, 1, resp.Total)
	require.Len(t, resp.Branches, 1)
	require.Len(t, resp.Branches[0].Jobs, 1)
	assert.Equal(t, runners.TypeSegmentation, resp.Branches[0].Jobs[0].Type)
}

func TestCreateWorkflowRequiresUserHeader(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/workflows", submissionBody(t))
	rec := httptest.NewRecorder()
	env.workflowHandler.CreateWorkflowHandler(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateWorkflowRejectsBadPayloads(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", "{not json"},
		{"no branches", `{"branches": []}`},
		{"unknown type", `{"branches": [{"jobs": [{"type": "NOPE", "input_image_path": "a.svs"}]}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/workflows", bytes.NewBufferString(tt.body))
			req.Header.Set(UserIDHeader, "alice")
			rec := httptest.NewRecorder()
			env.workflowHandler.CreateWorkflowHandler(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestGetWorkflowNotFound(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/api/workflows/wf_missing", nil)
	rec := httptest.NewRecorder()
	env.workflowHandler.GetWorkflowHandler(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListWorkflowsIsPerUser(t *testing.T) {
	env := newTestEnv(t)

	createWorkflow(t, env, "alice")
	createWorkflow(t, env, "bob")

	req := httptest.NewRequest(http.MethodGet, "/api/workflows", nil)
	req.Header.Set(UserIDHeader, "alice")
	rec := httptest.NewRecorder()
	env.workflowHandler.ListWorkflowsHandler(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Workflows []models.WorkflowResponse `json:"workflows"`
		Count     int                       `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
	assert.Equal(t, "alice", resp.Workflows[0].UserID)
}

func waitWorkflowDone(t *testing.T, env *testEnv, workflowID string) {
	t.Helper()
	require.Eventually(t, func() bool {
		wf, _, err := env.workflows.Refresh(workflowID)
		return err == nil && wf.Status.IsTerminal()
	}, 10*time.Second, 20*time.Millisecond)
}

func TestJobResultServedAfterCompletion(t *testing.T) {
	env := newTestEnv(t)

	resp := createWorkflow(t, env, "alice")
	jobID := resp.Branches[0].Jobs[0].ID
	waitWorkflowDone(t, env, resp.ID)

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/"+jobID+"/result", nil)
	req.Header.Set(UserIDHeader, "alice")
	rec := httptest.NewRecorder()
	env.jobHandler.GetJobResultHandler(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, true, doc["complete"])
	assert.Equal(t, jobID, doc["job_id"])
}

func TestJobResultMissingBeforeCompletion(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/job_missing/result", nil)
	rec := httptest.NewRecorder()
	env.jobHandler.GetJobResultHandler(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestJobResultHiddenAfterCancellation(t *testing.T) {
	env := newTestEnv(t)

	// A runner can write its result document just before the cancellation
	// lands; the job still ends CANCELLED and the document stays unserved.
	outputPath := filepath.Join(env.resultsDir, "job_late.json")
	require.NoError(t, os.WriteFile(outputPath, []byte(`{"complete": true}`), 0o644))

	job := &models.Job{
		ID:             "job_late",
		WorkflowID:     "wf_late",
		BranchID:       "b0",
		UserID:         "alice",
		Type:           runners.TypeSegmentation,
		InputImagePath: "slides/case-001.svs",
		Status:         models.JobPending,
		CreatedAt:      time.Now().UTC(),
	}
	require.NoError(t, env.jobs.Add(job))
	_, err := env.jobs.Transition(job.ID, models.JobRunning, "", "")
	require.NoError(t, err)
	require.NoError(t, env.jobs.SetOutputPath(job.ID, outputPath))
	_, err = env.jobs.Transition(job.ID, models.JobCancelled, models.ErrCancelledByRequest, "cancelled")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/"+job.ID+"/result", nil)
	req.Header.Set(UserIDHeader, "alice")
	rec := httptest.NewRecorder()
	env.jobHandler.GetJobResultHandler(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelFinishedJobConflicts(t *testing.T) {
	env := newTestEnv(t)

	resp := createWorkflow(t, env, "alice")
	jobID := resp.Branches[0].Jobs[0].ID
	waitWorkflowDone(t, env, resp.ID)

	req := httptest.NewRequest(http.MethodPost, "/api/jobs/"+jobID+"/cancel", nil)
	req.Header.Set(UserIDHeader, "alice")
	rec := httptest.NewRecorder()
	env.jobHandler.CancelJobHandler(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestForeignUserForbidden(t *testing.T) {
	env := newTestEnv(t)

	resp := createWorkflow(t, env, "alice")
	jobID := resp.Branches[0].Jobs[0].ID

	req := httptest.NewRequest(http.MethodGet, "/api/workflows/"+resp.ID, nil)
	req.Header.Set(UserIDHeader, "mallory")
	rec := httptest.NewRecorder()
	env.workflowHandler.GetWorkflowHandler(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/jobs/"+jobID, nil)
	req.Header.Set(UserIDHeader, "mallory")
	rec = httptest.NewRecorder()
	env.jobHandler.GetJobHandler(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestListWorkflowJobs(t *testing.T) {
	env := newTestEnv(t)

	resp := createWorkflow(t, env, "alice")

	req := httptest.NewRequest(http.MethodGet, "/api/workflows/"+resp.ID+"/jobs", nil)
	req.Header.Set(UserIDHeader, "alice")
	rec := httptest.NewRecorder()
	env.workflowHandler.ListWorkflowJobsHandler(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var listing struct {
		WorkflowID string               `json:"workflow_id"`
		Jobs       []models.JobResponse `json:"jobs"`
		Count      int                  `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	assert.Equal(t, resp.ID, listing.WorkflowID)
	require.Equal(t, 1, listing.Count)
	assert.Equal(t, runners.TypeSegmentation, listing.Jobs[0].Type)
}

func TestStatusEndpointShape(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	env.statusHandler.GetStatusHandler(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var snap models.SystemStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, 5, snap.Scheduler.MaxWorkers)
	assert.Equal(t, 3, snap.TenantManager.MaxActiveUsers)
}

func TestUploadAndListFiles(t *testing.T) {
	env := newTestEnv(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "case-007.svs")
	require.NoError(t, err)
	_, err = fw.Write([]byte("fake slide bytes"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/uploads", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(UserIDHeader, "alice")
	rec := httptest.NewRecorder()
	env.uploadHandler.UploadFileHandler(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	listReq := httptest.NewRequest(http.MethodGet, "/api/uploads", nil)
	listRec := httptest.NewRecorder()
	env.uploadHandler.ListFilesHandler(listRec, listReq)
	require.Equal(t, http.StatusOK, listRec.Code)

	var resp struct {
		Files []struct {
			Filename  string `json:"filename"`
			SizeBytes int64  `json:"size_bytes"`
		} `json:"files"`
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(listRec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "case-007.svs", resp.Files[0].Filename)
	assert.Equal(t, int64(len("fake slide bytes")), resp.Files[0].SizeBytes)
}

func TestCheckFileReportsExistence(t *testing.T) {
	env := newTestEnv(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "case-009.svs")
	require.NoError(t, err)
	_, err = fw.Write([]byte("fake slide bytes"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/uploads", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(UserIDHeader, "alice")
	rec := httptest.NewRecorder()
	env.uploadHandler.UploadFileHandler(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	check := func(filename string) bool {
		body, err := json.Marshal(map[string]string{"filename": filename})
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodPost, "/api/uploads/check", bytes.NewBuffer(body))
		rec := httptest.NewRecorder()
		env.uploadHandler.CheckFileHandler(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Exists bool `json:"exists"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		return resp.Exists
	}

	assert.True(t, check("case-009.svs"))
	assert.False(t, check("case-404.svs"))
}

func TestUploadRejectsUnsupportedFormat(t *testing.T) {
	env := newTestEnv(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "notes.txt")
	require.NoError(t, err)
	_, err = fw.Write([]byte("not a slide"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/uploads", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(UserIDHeader, "alice")
	rec := httptest.NewRecorder()
	env.uploadHandler.UploadFileHandler(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
