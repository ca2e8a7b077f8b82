package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/slideflow/internal/common"
	"github.com/ternarybob/slideflow/internal/interfaces"
	"github.com/ternarybob/slideflow/internal/models"
)

// Service dispatches jobs through registered runners while enforcing the
// global worker cap and the tenant admission cap. A single coordinator
// goroutine performs all dispatch decisions; per-job worker goroutines only
// run the runner and report back.
type Service struct {
	config    common.SchedulerConfig
	jobs      interfaces.JobRegistry
	workflows interfaces.WorkflowRegistry
	tenants   interfaces.TenantManager
	runners   interfaces.RunnerRegistry
	events    interfaces.EventService
	logger    arbor.ILogger

	mu            sync.Mutex
	running       map[string]context.CancelFunc
	cancelReasons map[string]models.ErrorKind
	started       bool

	notify chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewService creates a new scheduler
func NewService(
	config common.SchedulerConfig,
	jobs interfaces.JobRegistry,
	workflows interfaces.WorkflowRegistry,
	tenants interfaces.TenantManager,
	runners interfaces.RunnerRegistry,
	events interfaces.EventService,
	logger arbor.ILogger,
) *Service {
	return &Service{
		config:        config,
		jobs:          jobs,
		workflows:     workflows,
		tenants:       tenants,
		runners:       runners,
		events:        events,
		logger:        logger,
		running:       make(map[string]context.CancelFunc),
		cancelReasons: make(map[string]models.ErrorKind),
		notify:        make(chan struct{}, 1),
		stopCh:        make(chan struct{}),
	}
}

// Start launches the coordinator goroutine
func (s *Service) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}
	s.started = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.coordinate()

	s.logger.Info().
		Int("max_workers", s.config.MaxWorkers).
		Int("max_active_users", s.config.MaxActiveUsers).
		Msg("Scheduler started")
	return nil
}

// Stop cancels all running jobs and waits for workers to exit
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	close(s.stopCh)
	for jobID, cancel := range s.running {
		s.cancelReasons[jobID] = models.ErrCancelledByRequest
		cancel()
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info().Msg("Scheduler stopped")
}

// SubmitWorkflow validates a submission, registers the workflow and its
// jobs, requests tenant admission, and wakes the dispatcher.
func (s *Service) SubmitWorkflow(userID string, submission *models.WorkflowCreate) (*models.Workflow, error) {
	if err := submission.Validate(s.runners.Has); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	wf := &models.Workflow{
		ID:        common.NewWorkflowID(),
		UserID:    userID,
		Name:      submission.Name,
		Status:    models.WorkflowPending,
		CreatedAt: now,
	}

	var jobs []*models.Job
	for i, branchSpec := range submission.Branches {
		branchID := branchSpec.ID
		if branchID == "" {
			branchID = fmt.Sprintf("branch-%d", i)
		}
		branch := models.Branch{ID: branchID}
		for pos, jobSpec := range branchSpec.Jobs {
			job := &models.Job{
				ID:             common.NewJobID(),
				WorkflowID:     wf.ID,
				BranchID:       branchID,
				Position:       pos,
				UserID:         userID,
				Type:           jobSpec.Type,
				InputImagePath: jobSpec.InputImagePath,
				Params:         jobSpec.Params,
				Status:         models.JobPending,
				CreatedAt:      now,
			}
			branch.JobIDs = append(branch.JobIDs, job.ID)
			jobs = append(jobs, job)
		}
		wf.Branches = append(wf.Branches, branch)
	}

	if err := s.workflows.Add(wf); err != nil {
		return nil, err
	}
	for _, job := range jobs {
		if err := s.jobs.Add(job); err != nil {
			return nil, err
		}
	}

	admitted := s.tenants.Admit(userID)

	s.logger.Info().
		Str("workflow_id", wf.ID).
		Str("user_id", userID).
		Int("jobs", len(jobs)).
		Bool("admitted", admitted).
		Msg("Workflow submitted")

	s.wake()
	return wf.Clone(), nil
}

// CancelWorkflow cancels every non-terminal job of the workflow
func (s *Service) CancelWorkflow(workflowID string) error {
	wf, err := s.workflows.Get(workflowID)
	if err != nil {
		return err
	}

	for _, job := range s.jobs.GetByWorkflow(wf.ID) {
		if job.Status.IsTerminal() {
			continue
		}
		s.cancelOne(job, models.ErrCancelledByRequest, "workflow cancelled by request")
	}

	s.refreshAndBroadcast(workflowID)

	// PENDING jobs cancel synchronously; if that settled the user's last work
	// their admission slot (or queue position) must be given up now, not left
	// for a worker that will never run.
	s.finishJobCleanup(wf.UserID)

	s.wake()
	return nil
}

// CancelJob cancels a single job. Later jobs in the same branch lose their
// predecessor and are skipped.
func (s *Service) CancelJob(jobID string) error {
	job, err := s.jobs.Get(jobID)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return models.NewError(models.ErrInvalidTransition,
			"job %s is already %s", jobID, job.Status)
	}

	s.cancelOne(job, models.ErrCancelledByRequest, "job cancelled by request")

	// A cancelled PENDING job is terminal immediately; sweep its branch now.
	// A RUNNING job sweeps on completion.
	if job.Status == models.JobPending {
		s.skipSuccessors(job)
		s.finishJobCleanup(job.UserID)
	}

	s.refreshAndBroadcast(job.WorkflowID)
	s.wake()
	return nil
}

// cancelOne moves a PENDING job straight to CANCELLED, or signals a RUNNING
// job's context and records the reason for its worker to apply.
func (s *Service) cancelOne(job *models.Job, kind models.ErrorKind, msg string) {
	switch job.Status {
	case models.JobPending:
		if updated, err := s.jobs.Transition(job.ID, models.JobCancelled, kind, msg); err == nil {
			s.publishJobEvent(updated)
		}
	case models.JobRunning:
		s.mu.Lock()
		if cancel, ok := s.running[job.ID]; ok {
			if _, exists := s.cancelReasons[job.ID]; !exists {
				s.cancelReasons[job.ID] = kind
			}
			cancel()
		}
		s.mu.Unlock()
	}
}

// RunningCount returns the number of jobs currently executing
func (s *Service) RunningCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}

// PendingCount returns the number of jobs waiting for dispatch
func (s *Service) PendingCount() int {
	return s.jobs.CountByStatus(models.JobPending)
}

// MaxWorkers returns the configured global worker cap
func (s *Service) MaxWorkers() int {
	return s.config.MaxWorkers
}

// wake nudges the coordinator; a pending nudge is enough.
func (s *Service) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Service) coordinate() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopCh:
			return
		case <-s.notify:
			s.dispatch()
		}
	}
}

// dispatch fills free worker slots with ready jobs until either runs out.
func (s *Service) dispatch() {
	for {
		s.mu.Lock()
		free := s.config.MaxWorkers - len(s.running)
		s.mu.Unlock()
		if free <= 0 {
			return
		}

		job := s.nextReadyJob()
		if job == nil {
			return
		}
		if !s.startJob(job) {
			// Transition raced with a cancel; look for another candidate.
			continue
		}
	}
}

// nextReadyJob surveys branch heads across admitted tenants. Tenants are
// visited in admission order, their workflows oldest first, branches in
// lexicographic id order; within a branch a job is ready only when every
// predecessor has SUCCEEDED.
func (s *Service) nextReadyJob() *models.Job {
	for _, userID := range s.tenants.ActiveUsers() {
		wfs := s.workflows.GetByUser(userID)
		// GetByUser is newest first; dispatch wants oldest first.
		for i := len(wfs) - 1; i >= 0; i-- {
			wf := wfs[i]
			if wf.Status.IsTerminal() {
				continue
			}

			jobsByID := make(map[string]*models.Job)
			for _, job := range s.jobs.GetByWorkflow(wf.ID) {
				jobsByID[job.ID] = job
			}

			branches := make([]models.Branch, len(wf.Branches))
			copy(branches, wf.Branches)
			sort.Slice(branches, func(i, j int) bool { return branches[i].ID < branches[j].ID })

			for _, branch := range branches {
				for _, jobID := range branch.JobIDs {
					job, ok := jobsByID[jobID]
					if !ok {
						break
					}
					if job.Status == models.JobSucceeded {
						continue
					}
					if job.Status == models.JobPending {
						return job
					}
					// RUNNING blocks the branch; FAILED or CANCELLED heads leave
					// nothing runnable behind them.
					break
				}
			}
		}
	}
	return nil
}

// startJob transitions the job to RUNNING and hands it to a worker.
func (s *Service) startJob(job *models.Job) bool {
	updated, err := s.jobs.Transition(job.ID, models.JobRunning, "", "")
	if err != nil {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.running[job.ID] = cancel
	s.mu.Unlock()

	s.publishJobEvent(updated)
	s.refreshAndBroadcast(job.WorkflowID)

	s.logger.Info().
		Str("job_id", job.ID).
		Str("workflow_id", job.WorkflowID).
		Str("job_type", job.Type).
		Msg("Job dispatched")

	s.wg.Add(1)
	go s.runJob(ctx, updated)
	return true
}

// runJob executes the runner and settles the job's terminal state.
func (s *Service) runJob(ctx context.Context, job *models.Job) {
	defer s.wg.Done()

	var result *interfaces.RunResult
	var runErr error

	func() {
		defer func() {
			if r := recover(); r != nil {
				runErr = models.NewError(models.ErrRunnerCrash, "runner panicked: %v", r)
			}
		}()

		runner, ok := s.runners.Get(job.Type)
		if !ok {
			runErr = models.NewError(models.ErrInvalidDAG, "no runner registered for type %q", job.Type)
			return
		}

		sink := &progressSink{scheduler: s, job: job}
		result, runErr = runner.Run(ctx, job.View(), sink)
	}()

	s.mu.Lock()
	delete(s.running, job.ID)
	reason, hadReason := s.cancelReasons[job.ID]
	delete(s.cancelReasons, job.ID)
	s.mu.Unlock()

	var settled *models.Job
	switch {
	case runErr == nil:
		if result != nil && result.OutputPath != "" {
			if err := s.jobs.SetOutputPath(job.ID, result.OutputPath); err != nil {
				s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to record output path")
			}
		}
		settled, _ = s.jobs.Transition(job.ID, models.JobSucceeded, "", "")

	case ctx.Err() != nil:
		if !hadReason {
			reason = models.ErrCancelledByRequest
		}
		settled, _ = s.jobs.Transition(job.ID, models.JobCancelled, reason, "job cancelled")

	default:
		kind := models.KindOf(runErr)
		if kind == "" {
			kind = models.ErrRunnerCrash
		}
		settled, _ = s.jobs.Transition(job.ID, models.JobFailed, kind, runErr.Error())
		s.logger.Warn().
			Err(runErr).
			Str("job_id", job.ID).
			Msg("Job failed")
	}

	if settled != nil {
		s.publishJobEvent(settled)
		if settled.Status != models.JobSucceeded {
			s.skipSuccessors(settled)
		}
	}

	s.refreshAndBroadcast(job.WorkflowID)
	s.finishJobCleanup(job.UserID)
	s.wake()
}

// skipSuccessors cancels later PENDING jobs in the same branch once their
// predecessor failed or was cancelled.
func (s *Service) skipSuccessors(job *models.Job) {
	wf, err := s.workflows.Get(job.WorkflowID)
	if err != nil {
		return
	}

	for _, branch := range wf.Branches {
		if branch.ID != job.BranchID {
			continue
		}
		for _, successorID := range branch.JobIDs {
			successor, err := s.jobs.Get(successorID)
			if err != nil || successor.Position <= job.Position {
				continue
			}
			if successor.Status != models.JobPending {
				continue
			}
			updated, err := s.jobs.Transition(successorID, models.JobCancelled,
				models.ErrSkippedDueToPredecessor,
				fmt.Sprintf("predecessor %s finished as %s", job.ID, job.Status))
			if err == nil {
				s.publishJobEvent(updated)
			}
		}
		return
	}
}

// finishJobCleanup releases the user's tenant slot (or queue position) once
// their last non-terminal job settles, promoting the queue head. A promoted
// user whose work was cancelled while queued holds nothing runnable, so the
// chain keeps releasing until a user with remaining work, or nobody, holds
// the slot.
func (s *Service) finishJobCleanup(userID string) {
	for userID != "" && s.jobs.NonTerminalCountByUser(userID) == 0 {
		promoted := s.tenants.Release(userID)
		if promoted != "" {
			s.logger.Info().
				Str("user_id", promoted).
				Msg("Promoted user from admission queue")
		}
		userID = promoted
	}
}

// refreshAndBroadcast re-derives workflow state and publishes it when moved.
func (s *Service) refreshAndBroadcast(workflowID string) {
	wf, changed, err := s.workflows.Refresh(workflowID)
	if err != nil || !changed {
		return
	}

	counters := models.DeriveCounters(s.jobs.GetByWorkflow(workflowID))

	s.events.Publish(interfaces.Event{
		Topic: interfaces.WorkflowTopic(workflowID),
		Type:  models.EventWorkflowProgress,
		Payload: models.WorkflowProgressUpdate{
			WorkflowID:      wf.ID,
			Status:          wf.Status,
			ProgressPercent: wf.ProgressPercent,
			JobsTotal:       counters.Total,
			JobsCompleted:   counters.Succeeded + counters.Failed + counters.Cancelled,
			JobsFailed:      counters.Failed,
			Timestamp:       time.Now().UTC(),
		},
	})
}

func (s *Service) publishJobEvent(job *models.Job) {
	update := models.ProgressUpdate{
		JobID:           job.ID,
		WorkflowID:      job.WorkflowID,
		Status:          job.Status,
		ProgressPercent: job.ProgressPercent,
		TilesProcessed:  job.TilesProcessed,
		TilesTotal:      job.TilesTotal,
		Message:         job.ErrorMessage,
		Timestamp:       time.Now().UTC(),
	}
	s.events.Publish(interfaces.Event{
		Topic:   interfaces.JobTopic(job.ID),
		Type:    models.EventJobProgress,
		Payload: update,
	})
	// Workflow subscribers see their jobs' progress too.
	s.events.Publish(interfaces.Event{
		Topic:   interfaces.WorkflowTopic(job.WorkflowID),
		Type:    models.EventJobProgress,
		Payload: update,
	})
}

// progressSink forwards runner progress into the registry and the bus.
type progressSink struct {
	scheduler *Service
	job       *models.Job
}

// Report records tile counts; coalesced updates publish nothing.
func (p *progressSink) Report(processed, total int, message string) {
	updated, err := p.scheduler.jobs.UpdateProgress(p.job.ID, processed, total)
	if err != nil || updated == nil {
		return
	}

	update := models.ProgressUpdate{
		JobID:           updated.ID,
		WorkflowID:      updated.WorkflowID,
		Status:          updated.Status,
		ProgressPercent: updated.ProgressPercent,
		TilesProcessed:  updated.TilesProcessed,
		TilesTotal:      updated.TilesTotal,
		Message:         message,
		Timestamp:       time.Now().UTC(),
	}
	p.scheduler.events.Publish(interfaces.Event{
		Topic:   interfaces.JobTopic(updated.ID),
		Type:    models.EventJobProgress,
		Payload: update,
	})
	p.scheduler.events.Publish(interfaces.Event{
		Topic:   interfaces.WorkflowTopic(updated.WorkflowID),
		Type:    models.EventJobProgress,
		Payload: update,
	})

	p.scheduler.refreshAndBroadcast(updated.WorkflowID)
}
