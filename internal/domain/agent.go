package domain

import (
	"time"
)

// AgentStatus enumerates the lifecycle states of a search agent.
type AgentStatus string

const (
	AgentActive    AgentStatus = "active"
	AgentPaused    AgentStatus = "paused"
	AgentCancelled AgentStatus = "cancelled"
	AgentCompleted AgentStatus = "completed"
)

// AgentHealth reflects the outcome of recent checks. Degraded is set after
// three consecutive check failures and cleared by the next success.
type AgentHealth string

const (
	HealthOK       AgentHealth = "ok"
	HealthDegraded AgentHealth = "degraded"
)

// Agent is a persistent per-client search configuration that is checked
// against the property corpus on a fixed cadence.
type Agent struct {
	ID                  string      `json:"id" db:"id"`
	ClientID            string      `json:"client_id" db:"client_id"`
	CriteriaID          string      `json:"criteria_id" db:"criteria_id"`
	Status              AgentStatus `json:"status" db:"status"`
	Health              AgentHealth `json:"health" db:"health"`
	ConsecutiveFailures int         `json:"consecutive_failures" db:"consecutive_failures"`
	NotifyEmail         bool        `json:"notification_email" db:"notify_email"`
	NotifySMS           bool        `json:"notification_sms" db:"notify_sms"`
	NotifyChat          bool        `json:"notification_chat" db:"notify_chat"`
	CheckCount          int         `json:"check_count" db:"check_count"`
	MatchCount          int         `json:"match_count" db:"match_count"`
	LastCheckAt         *time.Time  `json:"last_check_at" db:"last_check_at"`
	NextCheckAt         *time.Time  `json:"next_check_at" db:"next_check_at"`
	CreatedAt           time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time   `json:"updated_at" db:"updated_at"`

	// Criteria is populated on reads for API convenience; the row itself
	// lives in its own table and is immutable.
	Criteria *Criteria `json:"criteria,omitempty" db:"-"`
}

// IsTerminal returns true if the agent is in a final state. Terminal agents
// are never scheduled and reject all lifecycle commands.
func (a *Agent) IsTerminal() bool {
	return a.Status == AgentCancelled || a.Status == AgentCompleted
}

// CheckSummary is returned by a synchronous force-check.
type CheckSummary struct {
	NewMatches int   `json:"new_matches"`
	PriceDrops int   `json:"price_drops"`
	TookMS     int64 `json:"took_ms"`
}
