package domain

import (
	"time"
)

// MatchDeliveryStatus tracks how far a match has travelled toward the client.
type MatchDeliveryStatus string

const (
	MatchNew       MatchDeliveryStatus = "new"
	MatchSent      MatchDeliveryStatus = "sent"
	MatchViewed    MatchDeliveryStatus = "viewed"
	MatchContacted MatchDeliveryStatus = "contacted"
	MatchClosed    MatchDeliveryStatus = "closed"
)

// ValidMatchDeliveryStatus reports whether s is a known delivery status.
func ValidMatchDeliveryStatus(s MatchDeliveryStatus) bool {
	switch s {
	case MatchNew, MatchSent, MatchViewed, MatchContacted, MatchClosed:
		return true
	}
	return false
}

// Match records that an agent has been notified about a property. Exactly one
// Match exists per (agent, property key); later price changes update
// CapturedPrice instead of creating a second row.
type Match struct {
	ID             string              `json:"id" db:"id"`
	AgentID        string              `json:"agent_id" db:"agent_id"`
	PropertyKey    string              `json:"property_key" db:"property_key"`
	Score          int                 `json:"match_score" db:"match_score"`
	Reasons        []string            `json:"reasons" db:"reasons"`
	Property       Property            `json:"property" db:"property"`
	CapturedPrice  int64               `json:"captured_price" db:"captured_price"`
	DeliveryStatus MatchDeliveryStatus `json:"delivery_status" db:"delivery_status"`
	MatchedAt      time.Time           `json:"matched_at" db:"matched_at"`
	UpdatedAt      time.Time           `json:"updated_at" db:"updated_at"`
}
