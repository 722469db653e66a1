// Package memory implements the agent repository and the CRM outbox over
// in-process maps. It backs handler and scenario tests and the demo mode of
// cmd/server; production deployments use the postgres package. Claim
// semantics mirror the Postgres queries, including the one-in-flight-per-
// agent rule.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mkre153/dealfinder-pro-sub000/internal/domain"
	"github.com/mkre153/dealfinder-pro-sub000/internal/service/agent"
)

// Repo holds all monitor state in memory. Safe for concurrent use.
type Repo struct {
	mu      sync.Mutex
	clients map[string]*domain.Client
	agents  map[string]*domain.Agent
	matches map[string]*domain.Match
	outbox  []*domain.OutboxEvent
	nextID  int64
}

// NewRepo creates an empty in-memory repository.
func NewRepo() *Repo {
	return &Repo{
		clients: make(map[string]*domain.Client),
		agents:  make(map[string]*domain.Agent),
		matches: make(map[string]*domain.Match),
	}
}

// ====== CLIENTS ======

func (r *Repo) FindClientByEmail(_ context.Context, email string) (*domain.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.clients {
		if c.Email == email {
			cp := *c
			return &cp, nil
		}
	}
	return nil, agent.ErrClientNotFound
}

func (r *Repo) CreateClient(_ context.Context, c *domain.Client) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *c
	r.clients[cp.ID] = &cp
	return cp.ID, nil
}

func (r *Repo) GetClient(_ context.Context, id string) (*domain.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[id]
	if !ok {
		return nil, agent.ErrClientNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *Repo) ListClients(_ context.Context) ([]domain.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ====== AGENTS ======

func (r *Repo) CreateAgent(_ context.Context, a *domain.Agent) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := copyAgent(a)
	r.agents[cp.ID] = cp
	return cp.ID, nil
}

func (r *Repo) GetAgent(_ context.Context, id string) (*domain.Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[id]
	if !ok {
		return nil, agent.ErrNotFound
	}
	return copyAgent(a), nil
}

func (r *Repo) ListAgents(_ context.Context, f agent.ListFilter) ([]domain.Agent, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	matched := make([]domain.Agent, 0, len(r.agents))
	for _, a := range r.agents {
		if f.Status != "" && string(a.Status) != f.Status {
			continue
		}
		matched = append(matched, *copyAgent(a))
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})

	total := len(matched)
	if f.Offset > 0 {
		if f.Offset >= total {
			return []domain.Agent{}, total, nil
		}
		matched = matched[f.Offset:]
	}
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return matched, total, nil
}

func (r *Repo) UpdateAgentStatus(_ context.Context, id string, from, to domain.AgentStatus, next *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[id]
	if !ok {
		return agent.ErrNotFound
	}
	if a.Status != from {
		return agent.ErrIllegalTransition
	}
	a.Status = to
	a.NextCheckAt = next
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *Repo) UpdateNotifyPrefs(_ context.Context, id string, u agent.NotifyUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[id]
	if !ok {
		return agent.ErrNotFound
	}
	if u.Email != nil {
		a.NotifyEmail = *u.Email
	}
	if u.SMS != nil {
		a.NotifySMS = *u.SMS
	}
	if u.Chat != nil {
		a.NotifyChat = *u.Chat
	}
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *Repo) DueAgentIDs(_ context.Context, now time.Time, limit int) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	type due struct {
		id string
		at time.Time
	}
	var dues []due
	for _, a := range r.agents {
		if a.Status == domain.AgentActive && a.NextCheckAt != nil && !a.NextCheckAt.After(now) {
			dues = append(dues, due{a.ID, *a.NextCheckAt})
		}
	}
	sort.Slice(dues, func(i, j int) bool {
		if !dues[i].at.Equal(dues[j].at) {
			return dues[i].at.Before(dues[j].at)
		}
		return dues[i].id < dues[j].id
	})
	ids := make([]string, 0, len(dues))
	for _, d := range dues {
		ids = append(ids, d.id)
	}
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (r *Repo) ActiveAgentIDs(_ context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for _, a := range r.agents {
		if a.Status == domain.AgentActive {
			ids = append(ids, a.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *Repo) AgentHealthCounts(_ context.Context) (int, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var active, degraded int
	for _, a := range r.agents {
		if a.Status != domain.AgentActive {
			continue
		}
		active++
		if a.Health == domain.HealthDegraded {
			degraded++
		}
	}
	return active, degraded, nil
}

// ClientEmailForAgent resolves the owning client's name and email, for the
// notifier.
func (r *Repo) ClientEmailForAgent(_ context.Context, agentID string) (string, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[agentID]
	if !ok {
		return "", "", agent.ErrNotFound
	}
	c, ok := r.clients[a.ClientID]
	if !ok {
		return "", "", agent.ErrClientNotFound
	}
	return c.Name, c.Email, nil
}

// ====== MATCHES ======

func (r *Repo) AgentMatches(_ context.Context, agentID string) (map[string]domain.Match, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]domain.Match)
	for _, m := range r.matches {
		if m.AgentID == agentID {
			out[m.PropertyKey] = *m
		}
	}
	return out, nil
}

func (r *Repo) ListMatches(_ context.Context, agentID string) ([]domain.Match, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Match
	for _, m := range r.matches {
		if m.AgentID == agentID {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].MatchedAt.Equal(out[j].MatchedAt) {
			return out[i].MatchedAt.After(out[j].MatchedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *Repo) UpdateMatchDelivery(_ context.Context, matchID string, status domain.MatchDeliveryStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.matches[matchID]
	if !ok {
		return agent.ErrMatchNotFound
	}
	m.DeliveryStatus = status
	m.UpdatedAt = time.Now().UTC()
	return nil
}

// ====== CHECK RESULTS ======

func (r *Repo) ApplyCheckResult(_ context.Context, res *agent.CheckResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[res.AgentID]
	if !ok {
		return agent.ErrNotFound
	}
	for _, nm := range res.NewMatches {
		cp := nm
		r.matches[cp.ID] = &cp
	}
	for _, pd := range res.PriceDrops {
		if m, ok := r.matches[pd.MatchID]; ok {
			m.CapturedPrice = pd.NewPrice
			m.UpdatedAt = time.Now().UTC()
		}
	}
	for _, ev := range res.Outbox {
		r.nextID++
		cp := ev
		cp.ID = r.nextID
		if cp.Status == "" {
			cp.Status = domain.OutboxQueued
		}
		r.outbox = append(r.outbox, &cp)
	}
	last := res.LastCheckAt
	a.LastCheckAt = &last
	if res.NextCheckAt != nil {
		a.NextCheckAt = res.NextCheckAt
	}
	a.CheckCount++
	a.MatchCount += len(res.NewMatches)
	a.ConsecutiveFailures = 0
	a.Health = domain.HealthOK
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *Repo) RecordCheckFailure(_ context.Context, agentID string, next *time.Time, failures int, health domain.AgentHealth) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[agentID]
	if !ok {
		return agent.ErrNotFound
	}
	if next != nil {
		a.NextCheckAt = next
	}
	a.ConsecutiveFailures = failures
	a.Health = health
	a.UpdatedAt = time.Now().UTC()
	return nil
}

// ====== OUTBOX ======

// Claim moves up to limit queued events into sending, at most one per agent,
// skipping agents that already have a delivery in flight.
func (r *Repo) Claim(_ context.Context, limit int) ([]domain.OutboxEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit <= 0 {
		limit = 20
	}

	inFlight := make(map[string]bool)
	for _, ev := range r.outbox {
		if ev.Status == domain.OutboxSending {
			inFlight[ev.AgentID] = true
		}
	}

	var claimed []domain.OutboxEvent
	picked := make(map[string]bool)
	for _, ev := range r.outbox {
		if len(claimed) >= limit {
			break
		}
		if ev.Status != domain.OutboxQueued || inFlight[ev.AgentID] || picked[ev.AgentID] {
			continue
		}
		ev.Status = domain.OutboxSending
		ev.UpdatedAt = time.Now().UTC()
		picked[ev.AgentID] = true
		claimed = append(claimed, *ev)
	}
	return claimed, nil
}

func (r *Repo) MarkSent(_ context.Context, id int64, attempts int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ev := r.findEvent(id); ev != nil {
		ev.Status = domain.OutboxSent
		ev.Attempts = attempts
		ev.LastError = nil
		ev.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (r *Repo) MarkFailed(_ context.Context, id int64, attempts int, lastErr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ev := r.findEvent(id); ev != nil {
		ev.Status = domain.OutboxFailed
		ev.Attempts = attempts
		ev.LastError = &lastErr
		ev.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (r *Repo) RequeueStale(_ context.Context, olderThan time.Duration) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := time.Now().UTC().Add(-olderThan)
	n := 0
	for _, ev := range r.outbox {
		if ev.Status == domain.OutboxSending && ev.UpdatedAt.Before(cutoff) {
			ev.Status = domain.OutboxQueued
			ev.UpdatedAt = time.Now().UTC()
			n++
		}
	}
	return n, nil
}

func (r *Repo) CountPending(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.outbox {
		if ev.Status == domain.OutboxQueued || ev.Status == domain.OutboxSending {
			n++
		}
	}
	return n, nil
}

func (r *Repo) MarkMatchSent(_ context.Context, matchID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.matches[matchID]; ok && m.DeliveryStatus == domain.MatchNew {
		m.DeliveryStatus = domain.MatchSent
		m.UpdatedAt = time.Now().UTC()
	}
	return nil
}

// OutboxEvents returns a copy of every outbox row in insertion order, for
// assertions.
func (r *Repo) OutboxEvents() []domain.OutboxEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.OutboxEvent, 0, len(r.outbox))
	for _, ev := range r.outbox {
		out = append(out, *ev)
	}
	return out
}

func (r *Repo) findEvent(id int64) *domain.OutboxEvent {
	for _, ev := range r.outbox {
		if ev.ID == id {
			return ev
		}
	}
	return nil
}

func copyAgent(a *domain.Agent) *domain.Agent {
	cp := *a
	if a.Criteria != nil {
		crit := *a.Criteria
		cp.Criteria = &crit
	}
	return cp
}
