package status

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/slideflow/internal/common"
	"github.com/ternarybob/slideflow/internal/interfaces"
	"github.com/ternarybob/slideflow/internal/models"
)

// Service assembles system snapshots on demand and broadcasts them on the
// system topic on a cron schedule.
type Service struct {
	config    common.StatusConfig
	scheduler interfaces.Scheduler
	tenants   interfaces.TenantManager
	events    interfaces.EventService
	cron      *cron.Cron
	entryID   cron.EntryID
	logger    arbor.ILogger
}

// NewService creates a new status service
func NewService(
	config common.StatusConfig,
	scheduler interfaces.Scheduler,
	tenants interfaces.TenantManager,
	events interfaces.EventService,
	logger arbor.ILogger,
) *Service {
	return &Service{
		config:    config,
		scheduler: scheduler,
		tenants:   tenants,
		events:    events,
		cron:      cron.New(),
		logger:    logger,
	}
}

// Snapshot assembles the current system status
func (s *Service) Snapshot() models.SystemStatus {
	return models.SystemStatus{
		Scheduler: models.SchedulerStatus{
			RunningJobs: s.scheduler.RunningCount(),
			PendingJobs: s.scheduler.PendingCount(),
			MaxWorkers:  s.scheduler.MaxWorkers(),
		},
		TenantManager: models.TenantManagerStatus{
			ActiveUsers:    s.tenants.ActiveCount(),
			MaxActiveUsers: s.tenants.MaxActiveUsers(),
			QueuedUsers:    s.tenants.QueuedUsers(),
		},
		Timestamp: time.Now().UTC(),
	}
}

// Start schedules the periodic broadcast
func (s *Service) Start() error {
	entryID, err := s.cron.AddFunc(s.config.Schedule, s.broadcast)
	if err != nil {
		return fmt.Errorf("invalid status schedule %q: %w", s.config.Schedule, err)
	}
	s.entryID = entryID
	s.cron.Start()

	s.logger.Info().
		Str("schedule", s.config.Schedule).
		Msg("Status broadcast scheduled")
	return nil
}

// Stop halts the periodic broadcast
func (s *Service) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Service) broadcast() {
	s.events.Publish(interfaces.Event{
		Topic:   interfaces.TopicSystem,
		Type:    models.EventSystemStatus,
		Payload: s.Snapshot(),
	})
}
