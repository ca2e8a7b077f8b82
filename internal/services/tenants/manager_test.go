package tenants

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/slideflow/internal/interfaces"
)

func TestAdmitUpToCap(t *testing.T) {
	m := NewManager(2, arbor.NewLogger())

	assert.True(t, m.Admit("alice"))
	assert.True(t, m.Admit("bob"))
	assert.False(t, m.Admit("carol"), "third user must queue behind the cap")

	assert.Equal(t, 2, m.ActiveCount())
	assert.Equal(t, []string{"carol"}, m.QueuedUsers())
	assert.Equal(t, interfaces.TenantActive, m.StateOf("alice"))
	assert.Equal(t, interfaces.TenantQueued, m.StateOf("carol"))
	assert.Equal(t, interfaces.TenantIdle, m.StateOf("dave"))
}

func TestAdmitIsIdempotent(t *testing.T) {
	m := NewManager(1, arbor.NewLogger())

	assert.True(t, m.Admit("alice"))
	assert.True(t, m.Admit("alice"), "active user re-admits without consuming a slot")

	assert.False(t, m.Admit("bob"))
	assert.False(t, m.Admit("bob"), "queued user must not be enqueued twice")
	assert.Equal(t, []string{"bob"}, m.QueuedUsers())
}

func TestReleasePromotesFIFO(t *testing.T) {
	m := NewManager(1, arbor.NewLogger())

	require.True(t, m.Admit("alice"))
	require.False(t, m.Admit("bob"))
	require.False(t, m.Admit("carol"))

	promoted := m.Release("alice")
	assert.Equal(t, "bob", promoted, "queue head is promoted first")
	assert.Equal(t, interfaces.TenantActive, m.StateOf("bob"))
	assert.Equal(t, []string{"carol"}, m.QueuedUsers())

	promoted = m.Release("bob")
	assert.Equal(t, "carol", promoted)
	assert.Empty(t, m.QueuedUsers())

	promoted = m.Release("carol")
	assert.Equal(t, "", promoted, "empty queue promotes nobody")
	assert.Equal(t, 0, m.ActiveCount())
}

func TestReleaseOfQueuedUserLeavesQueue(t *testing.T) {
	m := NewManager(1, arbor.NewLogger())

	require.True(t, m.Admit("alice"))
	require.False(t, m.Admit("bob"))
	require.False(t, m.Admit("carol"))

	// A queued user whose jobs all got cancelled before admission simply
	// leaves the queue; no slot changes hands.
	promoted := m.Release("bob")
	assert.Equal(t, "", promoted)
	assert.Equal(t, []string{"carol"}, m.QueuedUsers())
	assert.Equal(t, interfaces.TenantIdle, m.StateOf("bob"))

	promoted = m.Release("alice")
	assert.Equal(t, "carol", promoted)
}

func TestActiveUsersKeepsAdmissionOrder(t *testing.T) {
	m := NewManager(2, arbor.NewLogger())

	require.True(t, m.Admit("alice"))
	require.True(t, m.Admit("bob"))
	require.False(t, m.Admit("carol"))
	assert.Equal(t, []string{"alice", "bob"}, m.ActiveUsers())

	// Promotion appends: carol becomes the newest slot holder, bob keeps
	// his seniority.
	m.Release("alice")
	assert.Equal(t, []string{"bob", "carol"}, m.ActiveUsers())
}

func TestReleaseOfIdleUserIsNoop(t *testing.T) {
	m := NewManager(2, arbor.NewLogger())
	require.True(t, m.Admit("alice"))

	assert.Equal(t, "", m.Release("ghost"))
	assert.Equal(t, 1, m.ActiveCount())
}
