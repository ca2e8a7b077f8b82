package status

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/slideflow/internal/common"
	"github.com/ternarybob/slideflow/internal/interfaces"
	"github.com/ternarybob/slideflow/internal/models"
	"github.com/ternarybob/slideflow/internal/services/events"
)

type stubScheduler struct {
	running, pending, max int
}

func (s *stubScheduler) Start() error { return nil }
func (s *stubScheduler) Stop()        {}
func (s *stubScheduler) SubmitWorkflow(userID string, submission *models.WorkflowCreate) (*models.Workflow, error) {
	return nil, nil
}
func (s *stubScheduler) CancelWorkflow(workflowID string) error { return nil }
func (s *stubScheduler) CancelJob(jobID string) error           { return nil }
func (s *stubScheduler) RunningCount() int                      { return s.running }
func (s *stubScheduler) PendingCount() int                      { return s.pending }
func (s *stubScheduler) MaxWorkers() int                        { return s.max }

type stubTenants struct {
	active, max int
	queued      []string
}

func (s *stubTenants) Admit(userID string) bool                     { return true }
func (s *stubTenants) Release(userID string) string                 { return "" }
func (s *stubTenants) StateOf(userID string) interfaces.TenantState { return interfaces.TenantIdle }
func (s *stubTenants) ActiveCount() int                             { return s.active }
func (s *stubTenants) ActiveUsers() []string                        { return nil }
func (s *stubTenants) QueuedUsers() []string                        { return s.queued }
func (s *stubTenants) MaxActiveUsers() int                          { return s.max }

func TestSnapshotShape(t *testing.T) {
	logger := arbor.NewLogger()
	bus := events.NewService(8, logger)
	defer bus.Shutdown()

	svc := NewService(
		common.StatusConfig{Schedule: "@every 1h"},
		&stubScheduler{running: 3, pending: 7, max: 5},
		&stubTenants{active: 2, max: 3, queued: []string{"dave", "erin"}},
		bus,
		logger,
	)

	snap := svc.Snapshot()
	assert.Equal(t, 3, snap.Scheduler.RunningJobs)
	assert.Equal(t, 7, snap.Scheduler.PendingJobs)
	assert.Equal(t, 5, snap.Scheduler.MaxWorkers)
	assert.Equal(t, 2, snap.TenantManager.ActiveUsers)
	assert.Equal(t, 3, snap.TenantManager.MaxActiveUsers)
	assert.Equal(t, []string{"dave", "erin"}, snap.TenantManager.QueuedUsers)
	assert.False(t, snap.Timestamp.IsZero())
}

func TestPeriodicBroadcast(t *testing.T) {
	logger := arbor.NewLogger()
	bus := events.NewService(8, logger)
	defer bus.Shutdown()

	sub := bus.Subscribe(interfaces.TopicSystem)
	defer sub.Close()

	svc := NewService(
		common.StatusConfig{Schedule: "@every 100ms"},
		&stubScheduler{max: 5},
		&stubTenants{max: 3},
		bus,
		logger,
	)
	require.NoError(t, svc.Start())
	defer svc.Stop()

	select {
	case ev := <-sub.Events():
		assert.Equal(t, models.EventSystemStatus, ev.Type)
		snap, ok := ev.Payload.(models.SystemStatus)
		require.True(t, ok)
		assert.Equal(t, 5, snap.Scheduler.MaxWorkers)
	case <-time.After(2 * time.Second):
		t.Fatal("no system status broadcast arrived")
	}
}

func TestInvalidScheduleRejected(t *testing.T) {
	logger := arbor.NewLogger()
	bus := events.NewService(8, logger)
	defer bus.Shutdown()

	svc := NewService(
		common.StatusConfig{Schedule: "not-a-schedule"},
		&stubScheduler{},
		&stubTenants{},
		bus,
		logger,
	)
	assert.Error(t, svc.Start())
}
