// Package postgres implements the service repositories against PostgreSQL
// using lib/pq. Criteria lists, match reasons, and property snapshots are
// stored as JSONB and round-tripped through encoding/json.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mkre153/dealfinder-pro-sub000/internal/domain"
	"github.com/mkre153/dealfinder-pro-sub000/internal/service/agent"
)

// AgentRepo implements agent.Repository against PostgreSQL.
type AgentRepo struct{ db *sql.DB }

// NewAgentRepo creates a Postgres-backed agent repository.
func NewAgentRepo(db *sql.DB) *AgentRepo { return &AgentRepo{db: db} }

func (r *AgentRepo) FindClientByEmail(ctx context.Context, email string) (*domain.Client, error) {
	c := &domain.Client{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, COALESCE(email,''), COALESCE(phone,''), COALESCE(notes,''), status, created_at
		FROM monitor_clients
		WHERE email = $1
	`, email).Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.Notes, &c.Status, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, agent.ErrClientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find client by email: %w", err)
	}
	return c, nil
}

func (r *AgentRepo) CreateClient(ctx context.Context, c *domain.Client) (string, error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO monitor_clients (id, name, email, phone, notes, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
	`, c.ID, c.Name, c.Email, c.Phone, c.Notes, c.Status)
	if err != nil {
		return "", fmt.Errorf("create client: %w", err)
	}
	return c.ID, nil
}

func (r *AgentRepo) GetClient(ctx context.Context, id string) (*domain.Client, error) {
	c := &domain.Client{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, COALESCE(email,''), COALESCE(phone,''), COALESCE(notes,''), status, created_at
		FROM monitor_clients
		WHERE id = $1
	`, id).Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.Notes, &c.Status, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, agent.ErrClientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get client: %w", err)
	}
	return c, nil
}

// ClientEmailForAgent resolves the owning client's name and email for one
// agent. Used by the notifier; an agent without a client email yields an
// empty string, not an error.
func (r *AgentRepo) ClientEmailForAgent(ctx context.Context, agentID string) (string, string, error) {
	var name, email string
	err := r.db.QueryRowContext(ctx, `
		SELECT c.name, COALESCE(c.email,'')
		FROM monitor_agents a
		JOIN monitor_clients c ON c.id = a.client_id
		WHERE a.id = $1
	`, agentID).Scan(&name, &email)
	if err == sql.ErrNoRows {
		return "", "", agent.ErrNotFound
	}
	if err != nil {
		return "", "", fmt.Errorf("client email for agent: %w", err)
	}
	return name, email, nil
}

func (r *AgentRepo) ListClients(ctx context.Context) ([]domain.Client, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, COALESCE(email,''), COALESCE(phone,''), COALESCE(notes,''), status, created_at
		FROM monitor_clients
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	defer rows.Close()

	var out []domain.Client
	for rows.Next() {
		var c domain.Client
		if err := rows.Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.Notes, &c.Status, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan client: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *AgentRepo) CreateAgent(ctx context.Context, a *domain.Agent) (string, error) {
	if a.Criteria == nil {
		return "", fmt.Errorf("create agent: criteria missing")
	}
	if a.ID == "" {
		a.ID = uuid.New().String()
	}

	locations, err := json.Marshal(a.Criteria.Locations)
	if err != nil {
		return "", fmt.Errorf("marshal locations: %w", err)
	}
	types, err := json.Marshal(a.Criteria.PropertyTypes)
	if err != nil {
		return "", fmt.Errorf("marshal property types: %w", err)
	}
	quality, err := json.Marshal(a.Criteria.DealQuality)
	if err != nil {
		return "", fmt.Errorf("marshal deal quality: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin create agent: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO monitor_criteria
			(id, locations, price_min, price_max, bedrooms_min, bathrooms_min,
			 property_types, deal_quality, min_score, investment_type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
	`, a.Criteria.ID, locations, a.Criteria.PriceMin, a.Criteria.PriceMax,
		a.Criteria.BedroomsMin, a.Criteria.BathroomsMin, types, quality,
		a.Criteria.MinScore, a.Criteria.InvestmentType)
	if err != nil {
		return "", fmt.Errorf("insert criteria: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO monitor_agents
			(id, client_id, criteria_id, status, health, consecutive_failures,
			 notify_email, notify_sms, notify_chat, check_count, match_count,
			 next_check_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, $6, $7, $8, 0, 0, $9, NOW(), NOW())
	`, a.ID, a.ClientID, a.CriteriaID, a.Status, a.Health,
		a.NotifyEmail, a.NotifySMS, a.NotifyChat, a.NextCheckAt)
	if err != nil {
		return "", fmt.Errorf("insert agent: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit create agent: %w", err)
	}
	return a.ID, nil
}

const agentColumns = `
	a.id, a.client_id, a.criteria_id, a.status, a.health, a.consecutive_failures,
	a.notify_email, a.notify_sms, a.notify_chat, a.check_count, a.match_count,
	a.last_check_at, a.next_check_at, a.created_at, a.updated_at,
	c.locations, c.price_min, c.price_max, c.bedrooms_min, c.bathrooms_min,
	c.property_types, c.deal_quality, c.min_score, COALESCE(c.investment_type,'')`

func (r *AgentRepo) scanAgent(row interface {
	Scan(dest ...interface{}) error
}) (*domain.Agent, error) {
	a := &domain.Agent{Criteria: &domain.Criteria{}}
	var locations, types, quality []byte
	err := row.Scan(
		&a.ID, &a.ClientID, &a.CriteriaID, &a.Status, &a.Health, &a.ConsecutiveFailures,
		&a.NotifyEmail, &a.NotifySMS, &a.NotifyChat, &a.CheckCount, &a.MatchCount,
		&a.LastCheckAt, &a.NextCheckAt, &a.CreatedAt, &a.UpdatedAt,
		&locations, &a.Criteria.PriceMin, &a.Criteria.PriceMax,
		&a.Criteria.BedroomsMin, &a.Criteria.BathroomsMin,
		&types, &quality, &a.Criteria.MinScore, &a.Criteria.InvestmentType,
	)
	if err != nil {
		return nil, err
	}
	a.Criteria.ID = a.CriteriaID
	if err := unmarshalList(locations, &a.Criteria.Locations); err != nil {
		return nil, fmt.Errorf("decode locations: %w", err)
	}
	if err := unmarshalList(types, &a.Criteria.PropertyTypes); err != nil {
		return nil, fmt.Errorf("decode property types: %w", err)
	}
	if err := unmarshalList(quality, &a.Criteria.DealQuality); err != nil {
		return nil, fmt.Errorf("decode deal quality: %w", err)
	}
	return a, nil
}

func (r *AgentRepo) GetAgent(ctx context.Context, id string) (*domain.Agent, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+agentColumns+`
		FROM monitor_agents a
		JOIN monitor_criteria c ON c.id = a.criteria_id
		WHERE a.id = $1
	`, id)
	a, err := r.scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, agent.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return a, nil
}

func (r *AgentRepo) ListAgents(ctx context.Context, f agent.ListFilter) ([]domain.Agent, int, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	countQ := `SELECT COUNT(*) FROM monitor_agents`
	var args []interface{}
	if f.Status != "" {
		countQ += ` WHERE status = $1`
		args = append(args, f.Status)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, countQ, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count agents: %w", err)
	}

	q := `
		SELECT ` + agentColumns + `
		FROM monitor_agents a
		JOIN monitor_criteria c ON c.id = a.criteria_id`
	qArgs := []interface{}{}
	idx := 1
	if f.Status != "" {
		q += fmt.Sprintf(" WHERE a.status = $%d", idx)
		qArgs = append(qArgs, f.Status)
		idx++
	}
	q += fmt.Sprintf(" ORDER BY a.created_at DESC LIMIT $%d OFFSET $%d", idx, idx+1)
	qArgs = append(qArgs, limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, q, qArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var out []domain.Agent
	for rows.Next() {
		a, err := r.scanAgent(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan agent: %w", err)
		}
		out = append(out, *a)
	}
	return out, total, rows.Err()
}

func (r *AgentRepo) UpdateAgentStatus(ctx context.Context, id string, from, to domain.AgentStatus, nextCheckAt *time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE monitor_agents
		SET status = $1, next_check_at = $2, updated_at = NOW()
		WHERE id = $3 AND status = $4
	`, to, nextCheckAt, id, from)
	if err != nil {
		return fmt.Errorf("update agent status: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		// The caller read the agent moments ago, so a miss means the row
		// changed state underneath us, not that it vanished.
		return agent.ErrIllegalTransition
	}
	return nil
}

func (r *AgentRepo) UpdateNotifyPrefs(ctx context.Context, id string, u agent.NotifyUpdate) error {
	if u.Empty() {
		return nil
	}

	sets := []string{}
	args := []interface{}{}
	idx := 1
	add := func(col string, val interface{}) {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, idx))
		args = append(args, val)
		idx++
	}

	if u.Email != nil {
		add("notify_email", *u.Email)
	}
	if u.SMS != nil {
		add("notify_sms", *u.SMS)
	}
	if u.Chat != nil {
		add("notify_chat", *u.Chat)
	}

	q := fmt.Sprintf("UPDATE monitor_agents SET %s, updated_at = NOW() WHERE id = $%d",
		joinComma(sets), idx)
	args = append(args, id)

	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("update notify prefs: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return agent.ErrNotFound
	}
	return nil
}

func (r *AgentRepo) DueAgentIDs(ctx context.Context, now time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id FROM monitor_agents
		WHERE status = 'active' AND next_check_at IS NOT NULL AND next_check_at <= $1
		ORDER BY next_check_at
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("due agents: %w", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

func (r *AgentRepo) ActiveAgentIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id FROM monitor_agents WHERE status = 'active' ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("active agents: %w", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

func (r *AgentRepo) AgentHealthCounts(ctx context.Context) (int, int, error) {
	var active, degraded int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE health = 'degraded')
		FROM monitor_agents
		WHERE status = 'active'
	`).Scan(&active, &degraded)
	if err != nil {
		return 0, 0, fmt.Errorf("agent health counts: %w", err)
	}
	return active, degraded, nil
}

func scanIDs(rows *sql.Rows) ([]string, error) {
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// unmarshalList decodes a JSONB array column, treating NULL as empty.
func unmarshalList(raw []byte, dst *[]string) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

func joinComma(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}
