package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/slideflow/internal/interfaces"
	"github.com/ternarybob/slideflow/internal/models"
)

// WorkflowService is the in-memory workflow store. Workflow status and
// progress are never written directly; Refresh derives them from the jobs.
type WorkflowService struct {
	workflows map[string]*models.Workflow
	byUser    map[string][]string
	jobs      interfaces.JobRegistry
	mu        sync.RWMutex
	logger    arbor.ILogger
}

// NewWorkflowService creates a new workflow registry backed by the job registry
func NewWorkflowService(jobs interfaces.JobRegistry, logger arbor.ILogger) interfaces.WorkflowRegistry {
	return &WorkflowService{
		workflows: make(map[string]*models.Workflow),
		byUser:    make(map[string][]string),
		jobs:      jobs,
		logger:    logger,
	}
}

// Add registers a new workflow record
func (s *WorkflowService) Add(workflow *models.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.workflows[workflow.ID]; exists {
		return models.NewError(models.ErrInvalidTransition, "workflow %s already registered", workflow.ID)
	}

	s.workflows[workflow.ID] = workflow.Clone()
	s.byUser[workflow.UserID] = append(s.byUser[workflow.UserID], workflow.ID)
	return nil
}

// Get returns a snapshot of the workflow
func (s *WorkflowService) Get(workflowID string) (*models.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wf, ok := s.workflows[workflowID]
	if !ok {
		return nil, models.NewError(models.ErrUnknownWorkflow, "workflow %s not found", workflowID)
	}
	return wf.Clone(), nil
}

// GetByUser returns snapshots of the user's workflows, newest first
func (s *WorkflowService) GetByUser(userID string) []*models.Workflow {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byUser[userID]
	workflows := make([]*models.Workflow, 0, len(ids))
	for _, id := range ids {
		if wf, ok := s.workflows[id]; ok {
			workflows = append(workflows, wf.Clone())
		}
	}
	sortNewestFirst(workflows)
	return workflows
}

// List returns snapshots of every workflow, newest first
func (s *WorkflowService) List() []*models.Workflow {
	s.mu.RLock()
	defer s.mu.RUnlock()

	workflows := make([]*models.Workflow, 0, len(s.workflows))
	for _, wf := range s.workflows {
		workflows = append(workflows, wf.Clone())
	}
	sortNewestFirst(workflows)
	return workflows
}

// Refresh re-derives the workflow's status and progress from its jobs
func (s *WorkflowService) Refresh(workflowID string) (*models.Workflow, bool, error) {
	jobs := s.jobs.GetByWorkflow(workflowID)

	s.mu.Lock()
	defer s.mu.Unlock()

	wf, ok := s.workflows[workflowID]
	if !ok {
		return nil, false, models.NewError(models.ErrUnknownWorkflow, "workflow %s not found", workflowID)
	}

	status := models.DeriveStatus(jobs)
	progress := models.DeriveProgress(jobs)

	changed := status != wf.Status || progress != wf.ProgressPercent
	if !changed {
		return wf.Clone(), false, nil
	}

	now := time.Now().UTC()
	if wf.StartedAt == nil && status != models.WorkflowPending {
		wf.StartedAt = &now
	}
	if wf.FinishedAt == nil && status.IsTerminal() {
		wf.FinishedAt = &now
	}

	if status != wf.Status {
		s.logger.Debug().
			Str("workflow_id", workflowID).
			Str("from", string(wf.Status)).
			Str("to", string(status)).
			Msg("Workflow status derived")
	}

	wf.Status = status
	wf.ProgressPercent = progress

	return wf.Clone(), true, nil
}

func sortNewestFirst(workflows []*models.Workflow) {
	sort.Slice(workflows, func(i, j int) bool {
		if workflows[i].CreatedAt.Equal(workflows[j].CreatedAt) {
			return workflows[i].ID > workflows[j].ID
		}
		return workflows[i].CreatedAt.After(workflows[j].CreatedAt)
	})
}
