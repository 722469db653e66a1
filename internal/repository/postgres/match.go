package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mkre153/dealfinder-pro-sub000/internal/domain"
	"github.com/mkre153/dealfinder-pro-sub000/internal/service/agent"
)

const matchColumns = `
	id, agent_id, property_key, match_score, reasons, property,
	captured_price, delivery_status, matched_at, updated_at`

func scanMatch(row interface {
	Scan(dest ...interface{}) error
}) (domain.Match, error) {
	var m domain.Match
	var reasons, property []byte
	err := row.Scan(
		&m.ID, &m.AgentID, &m.PropertyKey, &m.Score, &reasons, &property,
		&m.CapturedPrice, &m.DeliveryStatus, &m.MatchedAt, &m.UpdatedAt,
	)
	if err != nil {
		return m, err
	}
	if err := unmarshalList(reasons, &m.Reasons); err != nil {
		return m, fmt.Errorf("decode reasons: %w", err)
	}
	if len(property) > 0 {
		if err := json.Unmarshal(property, &m.Property); err != nil {
			return m, fmt.Errorf("decode property: %w", err)
		}
	}
	return m, nil
}

func (r *AgentRepo) AgentMatches(ctx context.Context, agentID string) (map[string]domain.Match, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+matchColumns+`
		FROM monitor_matches
		WHERE agent_id = $1
	`, agentID)
	if err != nil {
		return nil, fmt.Errorf("agent matches: %w", err)
	}
	defer rows.Close()

	out := make(map[string]domain.Match)
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		out[m.PropertyKey] = m
	}
	return out, rows.Err()
}

func (r *AgentRepo) ListMatches(ctx context.Context, agentID string) ([]domain.Match, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+matchColumns+`
		FROM monitor_matches
		WHERE agent_id = $1
		ORDER BY matched_at DESC, id
	`, agentID)
	if err != nil {
		return nil, fmt.Errorf("list matches: %w", err)
	}
	defer rows.Close()

	var out []domain.Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *AgentRepo) UpdateMatchDelivery(ctx context.Context, matchID string, status domain.MatchDeliveryStatus) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE monitor_matches SET delivery_status = $1, updated_at = NOW()
		WHERE id = $2
	`, status, matchID)
	if err != nil {
		return fmt.Errorf("update match delivery: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return agent.ErrMatchNotFound
	}
	return nil
}

// ApplyCheckResult writes everything a successful check produced in one
// transaction so a crash can never record a check without its matches or
// queue an event without its match row.
func (r *AgentRepo) ApplyCheckResult(ctx context.Context, res *agent.CheckResult) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin check result: %w", err)
	}
	defer tx.Rollback()

	for _, m := range res.NewMatches {
		reasons, err := json.Marshal(m.Reasons)
		if err != nil {
			return fmt.Errorf("marshal reasons: %w", err)
		}
		property, err := json.Marshal(m.Property)
		if err != nil {
			return fmt.Errorf("marshal property: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO monitor_matches
				(id, agent_id, property_key, match_score, reasons, property,
				 captured_price, delivery_status, matched_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		`, m.ID, m.AgentID, m.PropertyKey, m.Score, reasons, property,
			m.CapturedPrice, m.DeliveryStatus, m.MatchedAt)
		if err != nil {
			return fmt.Errorf("insert match: %w", err)
		}
	}

	for _, pd := range res.PriceDrops {
		_, err := tx.ExecContext(ctx, `
			UPDATE monitor_matches SET captured_price = $1, updated_at = NOW()
			WHERE id = $2
		`, pd.NewPrice, pd.MatchID)
		if err != nil {
			return fmt.Errorf("update captured price: %w", err)
		}
	}

	for _, ev := range res.Outbox {
		payload, err := json.Marshal(ev.Payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO monitor_crm_outbox
				(agent_id, match_id, event_type, payload,
				 notify_email, notify_sms, notify_chat, status, attempts, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, NOW(), NOW())
		`, ev.AgentID, ev.MatchID, ev.EventType, payload,
			ev.NotifyEmail, ev.NotifySMS, ev.NotifyChat, ev.Status)
		if err != nil {
			return fmt.Errorf("insert outbox event: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE monitor_agents
		SET last_check_at = $1,
		    next_check_at = COALESCE($2, next_check_at),
		    check_count = check_count + 1,
		    match_count = match_count + $3,
		    consecutive_failures = 0,
		    health = 'ok',
		    updated_at = NOW()
		WHERE id = $4
	`, res.LastCheckAt, res.NextCheckAt, len(res.NewMatches), res.AgentID)
	if err != nil {
		return fmt.Errorf("update agent counters: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit check result: %w", err)
	}
	return nil
}

// RecordCheckFailure never touches last_check_at; a nil nextCheckAt leaves
// the schedule alone so force-check failures cannot disturb the cadence.
func (r *AgentRepo) RecordCheckFailure(ctx context.Context, agentID string, nextCheckAt *time.Time, consecutiveFailures int, health domain.AgentHealth) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE monitor_agents
		SET consecutive_failures = $1,
		    health = $2,
		    next_check_at = COALESCE($3, next_check_at),
		    updated_at = NOW()
		WHERE id = $4
	`, consecutiveFailures, health, nextCheckAt, agentID)
	if err != nil {
		return fmt.Errorf("record check failure: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return agent.ErrNotFound
	}
	return nil
}
