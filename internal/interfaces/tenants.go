package interfaces

// TenantState is the admission state of one user.
type TenantState string

const (
	TenantIdle   TenantState = "IDLE"
	TenantActive TenantState = "ACTIVE"
	TenantQueued TenantState = "QUEUED"
)

// TenantManager enforces the max_active_users cap with strict FIFO admission.
// A user occupies a slot from first admission until their last non-terminal
// job reaches a terminal state.
type TenantManager interface {
	// Admit requests a slot for the user. Returns true when the user is (or
	// already was) ACTIVE; false when the user was placed or remains in the
	// FIFO queue.
	Admit(userID string) bool

	// Release gives up the user's slot and promotes the queue head, if any.
	// Returns the promoted user id, or "" when the queue was empty.
	Release(userID string) string

	StateOf(userID string) TenantState
	ActiveCount() int

	// ActiveUsers returns slot holders in admission order; the scheduler
	// surveys ready work in this order so earlier-admitted tenants dispatch
	// first.
	ActiveUsers() []string

	QueuedUsers() []string
	MaxActiveUsers() int
}
