package domain

import (
	"time"
)

// OutboxEventType distinguishes the two kinds of CRM deliveries.
type OutboxEventType string

const (
	EventNewMatch  OutboxEventType = "new_match"
	EventPriceDrop OutboxEventType = "price_drop"
)

// OutboxStatus enumerates the lifecycle of a queued CRM delivery.
type OutboxStatus string

const (
	OutboxQueued  OutboxStatus = "queued"
	OutboxSending OutboxStatus = "sending"
	OutboxSent    OutboxStatus = "sent"
	OutboxFailed  OutboxStatus = "failed"
)

// EventPayload is the JSON body stored with an outbox row. It captures
// everything the CRM transform needs so delivery never re-reads the corpus.
type EventPayload struct {
	Property Property `json:"property"`
	Score    int      `json:"score"`
	Reasons  []string `json:"reasons"`
	OldPrice *int64   `json:"old_price,omitempty"`
	NewPrice *int64   `json:"new_price,omitempty"`
}

// OutboxEvent is one durable CRM delivery. Rows are inserted in the same
// transaction as their match row; the bigserial id gives per-agent FIFO
// order.
type OutboxEvent struct {
	ID          int64           `json:"id" db:"id"`
	AgentID     string          `json:"agent_id" db:"agent_id"`
	MatchID     string          `json:"match_id" db:"match_id"`
	EventType   OutboxEventType `json:"event_type" db:"event_type"`
	Payload     EventPayload    `json:"payload" db:"payload"`
	NotifyEmail bool            `json:"notify_email" db:"notify_email"`
	NotifySMS   bool            `json:"notify_sms" db:"notify_sms"`
	NotifyChat  bool            `json:"notify_chat" db:"notify_chat"`
	Status      OutboxStatus    `json:"status" db:"status"`
	Attempts    int             `json:"attempts" db:"attempts"`
	LastError   *string         `json:"last_error,omitempty" db:"last_error"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}
