package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mkre153/dealfinder-pro-sub000/internal/domain"
)

// OutboxRepo manages the durable CRM delivery queue. Events are inserted by
// ApplyCheckResult in the same transaction as their match rows; this type
// covers the delivery side.
type OutboxRepo struct{ db *sql.DB }

// NewOutboxRepo creates a Postgres-backed outbox repository.
func NewOutboxRepo(db *sql.DB) *OutboxRepo { return &OutboxRepo{db: db} }

// Claim atomically moves up to limit queued events into the sending state
// and returns them. At most one event per agent is claimed, and agents with
// an event already in flight are skipped, so deliveries for one agent always
// leave in insertion order while different agents proceed in parallel.
func (r *OutboxRepo) Claim(ctx context.Context, limit int) ([]domain.OutboxEvent, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `
		UPDATE monitor_crm_outbox o
		SET status = 'sending', updated_at = NOW()
		FROM (
			SELECT id FROM (
				SELECT DISTINCT ON (agent_id) id
				FROM monitor_crm_outbox
				WHERE status = 'queued'
				  AND agent_id NOT IN (
				      SELECT agent_id FROM monitor_crm_outbox WHERE status = 'sending'
				  )
				ORDER BY agent_id, id
			) heads
			ORDER BY id
			LIMIT $1
		) pick
		WHERE o.id = pick.id AND o.status = 'queued'
		RETURNING o.id, o.agent_id, o.match_id, o.event_type, o.payload,
		          o.notify_email, o.notify_sms, o.notify_chat, o.status,
		          o.attempts, o.created_at, o.updated_at
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("claim outbox events: %w", err)
	}
	defer rows.Close()

	var out []domain.OutboxEvent
	for rows.Next() {
		var ev domain.OutboxEvent
		var payload []byte
		if err := rows.Scan(
			&ev.ID, &ev.AgentID, &ev.MatchID, &ev.EventType, &payload,
			&ev.NotifyEmail, &ev.NotifySMS, &ev.NotifyChat, &ev.Status,
			&ev.Attempts, &ev.CreatedAt, &ev.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &ev.Payload); err != nil {
				return nil, fmt.Errorf("decode payload: %w", err)
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// MarkSent finishes a delivered event.
func (r *OutboxRepo) MarkSent(ctx context.Context, id int64, attempts int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE monitor_crm_outbox
		SET status = 'sent', attempts = $2, last_error = NULL, updated_at = NOW()
		WHERE id = $1
	`, id, attempts)
	if err != nil {
		return fmt.Errorf("mark outbox sent: %w", err)
	}
	return nil
}

// MarkFailed parks an event after its delivery attempts are exhausted or a
// permanent rejection. Failed events stay visible for operators; they are
// never retried automatically.
func (r *OutboxRepo) MarkFailed(ctx context.Context, id int64, attempts int, lastErr string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE monitor_crm_outbox
		SET status = 'failed', attempts = $2, last_error = $3, updated_at = NOW()
		WHERE id = $1
	`, id, attempts, lastErr)
	if err != nil {
		return fmt.Errorf("mark outbox failed: %w", err)
	}
	return nil
}

// RequeueStale returns events stuck in sending back to queued. An event goes
// stale when the worker that claimed it died mid-delivery.
func (r *OutboxRepo) RequeueStale(ctx context.Context, olderThan time.Duration) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE monitor_crm_outbox
		SET status = 'queued', updated_at = NOW()
		WHERE status = 'sending' AND updated_at < $1
	`, time.Now().UTC().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("requeue stale events: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// CountPending reports the delivery backlog (queued plus in flight).
func (r *OutboxRepo) CountPending(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM monitor_crm_outbox WHERE status IN ('queued','sending')
	`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending events: %w", err)
	}
	return n, nil
}

// MarkMatchSent upgrades a freshly delivered match from new to sent without
// clobbering a later manual status such as viewed or contacted.
func (r *OutboxRepo) MarkMatchSent(ctx context.Context, matchID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE monitor_matches SET delivery_status = 'sent', updated_at = NOW()
		WHERE id = $1 AND delivery_status = 'new'
	`, matchID)
	if err != nil {
		return fmt.Errorf("mark match sent: %w", err)
	}
	return nil
}

