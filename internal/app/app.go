package app

import (
	"context"
	"fmt"
	"os"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/slideflow/internal/common"
	"github.com/ternarybob/slideflow/internal/handlers"
	"github.com/ternarybob/slideflow/internal/interfaces"
	"github.com/ternarybob/slideflow/internal/services/events"
	"github.com/ternarybob/slideflow/internal/services/registry"
	"github.com/ternarybob/slideflow/internal/services/runners"
	"github.com/ternarybob/slideflow/internal/services/scheduler"
	"github.com/ternarybob/slideflow/internal/services/status"
	"github.com/ternarybob/slideflow/internal/services/tenants"
)

// App holds all application components and dependencies
type App struct {
	Config    *common.Config
	Logger    arbor.ILogger
	ctx       context.Context
	cancelCtx context.CancelFunc

	// Core services
	EventService     interfaces.EventService
	JobRegistry      interfaces.JobRegistry
	WorkflowRegistry interfaces.WorkflowRegistry
	TenantManager    interfaces.TenantManager
	RunnerRegistry   interfaces.RunnerRegistry
	Scheduler        *scheduler.Service
	StatusService    *status.Service

	// HTTP handlers
	WorkflowHandler *handlers.WorkflowHandler
	JobHandler      *handlers.JobHandler
	UploadHandler   *handlers.UploadHandler
	StatusHandler   *handlers.StatusHandler
	WSHandler       *handlers.WebSocketHandler
}

// New creates the application, wiring services and handlers together
func New(config *common.Config, logger arbor.ILogger) (*App, error) {
	ctx, cancel := context.WithCancel(context.Background())

	a := &App{
		Config:    config,
		Logger:    logger,
		ctx:       ctx,
		cancelCtx: cancel,
	}

	for _, dir := range []string{config.Storage.Uploads, config.Storage.Results} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			cancel()
			return nil, fmt.Errorf("failed to create storage directory %s: %w", dir, err)
		}
	}

	a.EventService = events.NewService(config.Events.QueueCapacity, logger)
	a.JobRegistry = registry.NewJobService(config.Events.MinProgressDelta, logger)
	a.WorkflowRegistry = registry.NewWorkflowService(a.JobRegistry, logger)
	a.TenantManager = tenants.NewManager(config.Scheduler.MaxActiveUsers, logger)

	runnerRegistry := runners.NewRegistry(logger)
	runnerRegistry.Register(runners.NewSegmentationRunner(config.Runners, config.Storage.Results, logger))
	runnerRegistry.Register(runners.NewTissueMaskRunner(config.Runners, config.Storage.Results, logger))
	a.RunnerRegistry = runnerRegistry

	a.Scheduler = scheduler.NewService(
		config.Scheduler,
		a.JobRegistry,
		a.WorkflowRegistry,
		a.TenantManager,
		a.RunnerRegistry,
		a.EventService,
		logger,
	)

	a.StatusService = status.NewService(
		config.Status,
		a.Scheduler,
		a.TenantManager,
		a.EventService,
		logger,
	)

	a.WorkflowHandler = handlers.NewWorkflowHandler(a.Scheduler, a.WorkflowRegistry, a.JobRegistry, logger)
	a.JobHandler = handlers.NewJobHandler(a.Scheduler, a.JobRegistry, config.Storage.Results, logger)
	a.UploadHandler = handlers.NewUploadHandler(config.Storage.Uploads, logger)
	a.StatusHandler = handlers.NewStatusHandler(a.StatusService, logger)
	a.WSHandler = handlers.NewWebSocketHandler(a.EventService, a.JobRegistry, a.WorkflowRegistry, config.WebSocket, logger)

	return a, nil
}

// Start launches the background services
func (a *App) Start() error {
	if err := a.Scheduler.Start(); err != nil {
		return err
	}
	if err := a.StatusService.Start(); err != nil {
		a.Scheduler.Stop()
		return err
	}

	a.Logger.Info().
		Int("max_workers", a.Config.Scheduler.MaxWorkers).
		Int("max_active_users", a.Config.Scheduler.MaxActiveUsers).
		Strs("runner_types", a.RunnerRegistry.Types()).
		Msg("Application started")
	return nil
}

// Shutdown stops background services and closes the event bus
func (a *App) Shutdown() {
	a.Logger.Info().Msg("Shutting down application...")

	a.StatusService.Stop()
	a.Scheduler.Stop()
	a.EventService.Shutdown()
	a.cancelCtx()

	a.Logger.Info().Msg("Application stopped")
}
