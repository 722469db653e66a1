package agent

import (
	"context"
	"time"

	"github.com/mkre153/dealfinder-pro-sub000/internal/domain"
)

// Repository defines the data access contract for agents, their clients, and
// their matches. Implementations must be safe for concurrent use.
type Repository interface {
	// FindClientByEmail returns ErrClientNotFound when no client has the
	// email.
	FindClientByEmail(ctx context.Context, email string) (*domain.Client, error)

	// CreateClient inserts a new client and returns its ID.
	CreateClient(ctx context.Context, c *domain.Client) (string, error)

	// GetClient returns a single client. Returns ErrClientNotFound if
	// absent.
	GetClient(ctx context.Context, id string) (*domain.Client, error)

	// ListClients returns all clients, newest first.
	ListClients(ctx context.Context) ([]domain.Client, error)

	// CreateAgent persists the agent and its criteria row in one
	// transaction. a.Criteria must be non-nil.
	CreateAgent(ctx context.Context, a *domain.Agent) (string, error)

	// GetAgent returns an agent with its criteria populated. Returns
	// ErrNotFound if absent.
	GetAgent(ctx context.Context, id string) (*domain.Agent, error)

	// ListAgents returns agents matching the filter, newest first, with the
	// unpaginated total.
	ListAgents(ctx context.Context, f ListFilter) ([]domain.Agent, int, error)

	// UpdateAgentStatus transitions id from one status to another and writes
	// next_check_at (nil clears it). Returns ErrIllegalTransition when the
	// agent is no longer in the from status.
	UpdateAgentStatus(ctx context.Context, id string, from, to domain.AgentStatus, nextCheckAt *time.Time) error

	// UpdateNotifyPrefs applies the non-nil preference fields.
	UpdateNotifyPrefs(ctx context.Context, id string, u NotifyUpdate) error

	// DueAgentIDs returns ids of active agents whose next_check_at is at or
	// before now, oldest due first.
	DueAgentIDs(ctx context.Context, now time.Time, limit int) ([]string, error)

	// ActiveAgentIDs returns the ids of all active agents.
	ActiveAgentIDs(ctx context.Context) ([]string, error)

	// AgentMatches returns the agent's matches keyed by property_key.
	AgentMatches(ctx context.Context, agentID string) (map[string]domain.Match, error)

	// ListMatches returns the agent's matches, newest first.
	ListMatches(ctx context.Context, agentID string) ([]domain.Match, error)

	// UpdateMatchDelivery sets a match's delivery status. Returns
	// ErrMatchNotFound if absent.
	UpdateMatchDelivery(ctx context.Context, matchID string, status domain.MatchDeliveryStatus) error

	// ApplyCheckResult commits one successful check atomically: new match
	// rows, captured-price updates, outbox inserts, last/next check times,
	// counter increments, and the failure-streak reset. A failure leaves the
	// agent exactly as it was before the call.
	ApplyCheckResult(ctx context.Context, res *CheckResult) error

	// RecordCheckFailure bumps the failure streak and health after a failed
	// check. nextCheckAt nil preserves the current schedule.
	RecordCheckFailure(ctx context.Context, agentID string, nextCheckAt *time.Time, consecutiveFailures int, health domain.AgentHealth) error

	// AgentHealthCounts returns how many agents are active and how many of
	// those are degraded.
	AgentHealthCounts(ctx context.Context) (active, degraded int, err error)
}

// ListFilter controls filtering and pagination for agent lists.
type ListFilter struct {
	Status string
	Limit  int
	Offset int
}

// NotifyUpdate holds the mutable notification preferences. Nil fields are
// not applied.
type NotifyUpdate struct {
	Email *bool `json:"notification_email"`
	SMS   *bool `json:"notification_sms"`
	Chat  *bool `json:"notification_chat"`
}

// Empty reports whether the update carries no changes.
func (u NotifyUpdate) Empty() bool {
	return u.Email == nil && u.SMS == nil && u.Chat == nil
}

// PriceDropUpdate lowers a stored match's captured price.
type PriceDropUpdate struct {
	MatchID  string
	NewPrice int64
}

// CheckResult is everything one successful check writes. NextCheckAt nil
// preserves the agent's cadence (force checks); scheduled checks set it to
// now + interval + jitter.
type CheckResult struct {
	AgentID     string
	NewMatches  []domain.Match
	PriceDrops  []PriceDropUpdate
	Outbox      []domain.OutboxEvent
	LastCheckAt time.Time
	NextCheckAt *time.Time
}
