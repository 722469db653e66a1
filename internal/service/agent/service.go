package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mkre153/dealfinder-pro-sub000/internal/corpus"
	"github.com/mkre153/dealfinder-pro-sub000/internal/domain"
	"github.com/mkre153/dealfinder-pro-sub000/internal/match"
	"github.com/mkre153/dealfinder-pro-sub000/internal/pkg/distlock"
)

// LockFactory builds the distributed lock guarding one key. Wired to Redis
// when available, Postgres advisory locks otherwise.
type LockFactory func(key string, ttl time.Duration) distlock.DistLock

// Options tunes the check machinery. Zero values fall back to the defaults
// the scheduler config carries.
type Options struct {
	CheckInterval time.Duration // cadence between scheduled checks
	JitterMax     time.Duration // upper bound added to NextCheckAt
	CheckTimeout  time.Duration // wall-clock budget per check
	LockTTL       time.Duration // must exceed CheckTimeout
}

func (o *Options) fillDefaults() {
	if o.CheckInterval <= 0 {
		o.CheckInterval = 4 * time.Hour
	}
	if o.JitterMax < 0 || o.JitterMax > 5*time.Minute {
		o.JitterMax = 5 * time.Minute
	}
	if o.CheckTimeout <= 0 {
		o.CheckTimeout = 60 * time.Second
	}
	if o.LockTTL <= o.CheckTimeout {
		o.LockTTL = o.CheckTimeout + 30*time.Second
	}
}

// Service implements agent business logic: creation with client resolution,
// the lifecycle state machine, and the locked check procedure. All public
// methods are safe for concurrent use if the repository is.
type Service struct {
	repo   Repository
	corpus *corpus.Store
	locks  LockFactory
	opts   Options
}

// NewService creates an agent service.
func NewService(repo Repository, store *corpus.Store, locks LockFactory, opts Options) *Service {
	opts.fillDefaults()
	return &Service{repo: repo, corpus: store, locks: locks, opts: opts}
}

// CriteriaInput is the criteria block of a create request. MinScore is a
// pointer so an explicit 0 (admit everything the filter passes) is
// distinguishable from an omitted value, which defaults to 70.
type CriteriaInput struct {
	Locations      []string `json:"locations"`
	PriceMin       *int64   `json:"price_min"`
	PriceMax       *int64   `json:"price_max"`
	BedroomsMin    *int     `json:"bedrooms_min"`
	BathroomsMin   *float64 `json:"bathrooms_min"`
	PropertyTypes  []string `json:"property_types"`
	DealQuality    []string `json:"deal_quality"`
	MinScore       *int     `json:"min_score"`
	InvestmentType string   `json:"investment_type"`
}

func (in CriteriaInput) toCriteria() domain.Criteria {
	c := domain.Criteria{
		Locations:      in.Locations,
		PriceMin:       in.PriceMin,
		PriceMax:       in.PriceMax,
		BedroomsMin:    in.BedroomsMin,
		BathroomsMin:   in.BathroomsMin,
		PropertyTypes:  in.PropertyTypes,
		DealQuality:    in.DealQuality,
		MinScore:       domain.DefaultMinScore,
		InvestmentType: in.InvestmentType,
	}
	if in.MinScore != nil {
		c.MinScore = *in.MinScore
	}
	for i, q := range c.DealQuality {
		c.DealQuality[i] = strings.ToUpper(strings.TrimSpace(q))
	}
	return c
}

// CreateInput holds the fields for registering a new agent.
type CreateInput struct {
	ClientName  string        `json:"client_name"`
	ClientEmail string        `json:"client_email"`
	ClientPhone string        `json:"client_phone"`
	Criteria    CriteriaInput `json:"criteria"`

	// Notification preferences; email defaults to on.
	NotificationEmail *bool `json:"notification_email"`
	NotificationSMS   *bool `json:"notification_sms"`
	NotificationChat  *bool `json:"notification_chat"`
}

// Create validates the criteria, resolves or creates the owning client, and
// persists a new active agent with its first check already scheduled.
// Invalid criteria return a *match.ValidationError; nothing is written.
func (s *Service) Create(ctx context.Context, input CreateInput) (*domain.Agent, error) {
	var problems []domain.FieldError
	if strings.TrimSpace(input.ClientName) == "" {
		problems = append(problems, domain.FieldError{Field: "client_name", Message: "is required"})
	}

	criteria := input.Criteria.toCriteria()
	criteria.ID = uuid.New().String()
	problems = append(problems, criteria.Problems()...)
	if len(problems) > 0 {
		return nil, &match.ValidationError{Fields: problems}
	}

	client, err := s.resolveClient(ctx, input)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	next := s.nextCheckTime(now)
	a := &domain.Agent{
		ID:          uuid.New().String(),
		ClientID:    client.ID,
		CriteriaID:  criteria.ID,
		Status:      domain.AgentActive,
		Health:      domain.HealthOK,
		NotifyEmail: boolOr(input.NotificationEmail, true),
		NotifySMS:   boolOr(input.NotificationSMS, false),
		NotifyChat:  boolOr(input.NotificationChat, false),
		NextCheckAt: &next,
		CreatedAt:   now,
		Criteria:    &criteria,
	}

	if _, err := s.repo.CreateAgent(ctx, a); err != nil {
		return nil, fmt.Errorf("create agent: %w", err)
	}

	log.Printf("[agent.Service] created agent %s for client %s, first check at %s",
		a.ID, client.ID, next.Format(time.RFC3339))
	return a, nil
}

func (s *Service) resolveClient(ctx context.Context, input CreateInput) (*domain.Client, error) {
	if input.ClientEmail != "" {
		c, err := s.repo.FindClientByEmail(ctx, input.ClientEmail)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, ErrClientNotFound) {
			return nil, fmt.Errorf("resolve client: %w", err)
		}
	}

	c := &domain.Client{
		ID:        uuid.New().String(),
		Name:      strings.TrimSpace(input.ClientName),
		Email:     input.ClientEmail,
		Phone:     input.ClientPhone,
		Status:    domain.ClientActive,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := s.repo.CreateClient(ctx, c); err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}
	return c, nil
}

// Get returns a single agent with its criteria.
func (s *Service) Get(ctx context.Context, id string) (*domain.Agent, error) {
	return s.repo.GetAgent(ctx, id)
}

// List returns agents matching the filter.
func (s *Service) List(ctx context.Context, f ListFilter) ([]domain.Agent, int, error) {
	return s.repo.ListAgents(ctx, f)
}

// Clients returns all registered clients.
func (s *Service) Clients(ctx context.Context) ([]domain.Client, error) {
	return s.repo.ListClients(ctx)
}

// UpdatePrefs applies a partial notification-preference update.
func (s *Service) UpdatePrefs(ctx context.Context, id string, u NotifyUpdate) (*domain.Agent, error) {
	if _, err := s.repo.GetAgent(ctx, id); err != nil {
		return nil, err
	}
	if !u.Empty() {
		if err := s.repo.UpdateNotifyPrefs(ctx, id, u); err != nil {
			return nil, fmt.Errorf("update preferences: %w", err)
		}
	}
	return s.repo.GetAgent(ctx, id)
}

// Pause suspends scheduling. The pending check is cancelled; an in-flight
// check finishes on its own.
func (s *Service) Pause(ctx context.Context, id string) (*domain.Agent, error) {
	return s.transition(ctx, id, domain.AgentActive, domain.AgentPaused, nil)
}

// Resume reschedules a paused agent at now + interval. Missed checks are not
// backfilled.
func (s *Service) Resume(ctx context.Context, id string) (*domain.Agent, error) {
	next := time.Now().UTC().Add(s.opts.CheckInterval)
	return s.transition(ctx, id, domain.AgentPaused, domain.AgentActive, &next)
}

// Cancel terminally stops an agent from either live state.
func (s *Service) Cancel(ctx context.Context, id string) (*domain.Agent, error) {
	a, err := s.repo.GetAgent(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.IsTerminal() {
		return nil, ErrTerminalState
	}
	if err := s.repo.UpdateAgentStatus(ctx, id, a.Status, domain.AgentCancelled, nil); err != nil {
		return nil, err
	}
	return s.repo.GetAgent(ctx, id)
}

// Complete marks an active agent's search as fulfilled. Completion is always
// an explicit command, never automatic.
func (s *Service) Complete(ctx context.Context, id string) (*domain.Agent, error) {
	return s.transition(ctx, id, domain.AgentActive, domain.AgentCompleted, nil)
}

func (s *Service) transition(ctx context.Context, id string, from, to domain.AgentStatus, next *time.Time) (*domain.Agent, error) {
	a, err := s.repo.GetAgent(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.IsTerminal() {
		return nil, ErrTerminalState
	}
	if a.Status != from {
		return nil, ErrIllegalTransition
	}
	if err := s.repo.UpdateAgentStatus(ctx, id, from, to, next); err != nil {
		return nil, err
	}
	return s.repo.GetAgent(ctx, id)
}

// Matches lists an agent's matches, newest first.
func (s *Service) Matches(ctx context.Context, agentID string) ([]domain.Match, error) {
	if _, err := s.repo.GetAgent(ctx, agentID); err != nil {
		return nil, err
	}
	return s.repo.ListMatches(ctx, agentID)
}

// UpdateMatchDelivery moves a match along new → sent → viewed → contacted →
// closed. Any known status is accepted; this is a CRM-facing bookkeeping
// field, not a state machine.
func (s *Service) UpdateMatchDelivery(ctx context.Context, matchID string, status domain.MatchDeliveryStatus) error {
	if !domain.ValidMatchDeliveryStatus(status) {
		return ErrInvalidDeliveryStatus
	}
	return s.repo.UpdateMatchDelivery(ctx, matchID, status)
}

// Counts reports active and degraded agent totals for /health.
func (s *Service) Counts(ctx context.Context) (active, degraded int, err error) {
	return s.repo.AgentHealthCounts(ctx)
}

// DueAgentIDs exposes the scheduler's claim query.
func (s *Service) DueAgentIDs(ctx context.Context, now time.Time, limit int) ([]string, error) {
	return s.repo.DueAgentIDs(ctx, now, limit)
}

// ActiveAgentIDs lists every active agent, for corpus-wide sweeps.
func (s *Service) ActiveAgentIDs(ctx context.Context) ([]string, error) {
	return s.repo.ActiveAgentIDs(ctx)
}

// RunCheck executes the check procedure for one agent: take the per-agent
// lock, read the current snapshot, evaluate, and commit the outcome in a
// single transaction. force preserves the agent's cadence (NextCheckAt is
// untouched); scheduled runs push it to now + interval + jitter.
//
// Failures never mutate last_check_at. Scheduled failures still advance
// next_check_at so a broken agent cannot fast-loop, and three consecutive
// failures mark the agent degraded until a success clears it.
func (s *Service) RunCheck(ctx context.Context, agentID string, force bool) (*domain.CheckSummary, error) {
	a, err := s.repo.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if a.IsTerminal() {
		return nil, ErrTerminalState
	}
	if force && a.Status != domain.AgentActive {
		return nil, ErrIllegalTransition
	}

	lock := s.locks(distlock.CheckKey(agentID), s.opts.LockTTL)
	acquired, err := lock.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire check lock: %w", err)
	}
	if !acquired {
		return nil, ErrBusy
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := lock.Release(releaseCtx); err != nil {
			log.Printf("[agent.Service] release lock agent=%s: %v", agentID, err)
		}
	}()

	checkCtx, cancel := context.WithTimeout(ctx, s.opts.CheckTimeout)
	defer cancel()

	start := time.Now()
	summary, err := s.runLocked(checkCtx, a, force, start)
	if err != nil {
		s.recordFailure(a, force, err)
		return nil, err
	}

	summary.TookMS = time.Since(start).Milliseconds()
	log.Printf("[agent.Service] check agent=%s new_matches=%d price_drops=%d took=%dms force=%v",
		agentID, summary.NewMatches, summary.PriceDrops, summary.TookMS, force)
	return summary, nil
}

func (s *Service) runLocked(ctx context.Context, a *domain.Agent, force bool, now time.Time) (*domain.CheckSummary, error) {
	if a.Criteria == nil {
		return nil, fmt.Errorf("agent %s has no criteria row", a.ID)
	}

	snap, err := s.corpus.Current()
	if err != nil {
		return nil, err
	}

	existing, err := s.repo.AgentMatches(ctx, a.ID)
	if err != nil {
		return nil, fmt.Errorf("load match set: %w", err)
	}

	res, err := match.Evaluate(*a.Criteria, snap, existing)
	if err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}

	outcome := &CheckResult{AgentID: a.ID, LastCheckAt: now.UTC()}
	if !force {
		next := s.nextCheckTime(now.UTC())
		outcome.NextCheckAt = &next
	}

	for _, cand := range res.NewMatches {
		m := domain.Match{
			ID:             uuid.New().String(),
			AgentID:        a.ID,
			PropertyKey:    cand.Key,
			Score:          cand.Score,
			Reasons:        cand.Reasons,
			Property:       cand.Property,
			DeliveryStatus: domain.MatchNew,
			MatchedAt:      now.UTC(),
		}
		if cand.Property.ListPrice != nil {
			m.CapturedPrice = *cand.Property.ListPrice
		}
		outcome.NewMatches = append(outcome.NewMatches, m)
		outcome.Outbox = append(outcome.Outbox, s.outboxEvent(a, m.ID, domain.EventNewMatch, domain.EventPayload{
			Property: cand.Property,
			Score:    cand.Score,
			Reasons:  cand.Reasons,
		}))
	}

	for _, drop := range res.PriceDrops {
		outcome.PriceDrops = append(outcome.PriceDrops, PriceDropUpdate{
			MatchID:  drop.MatchID,
			NewPrice: drop.NewPrice,
		})
		stored := existing[drop.Key]
		oldPrice, newPrice := drop.OldPrice, drop.NewPrice
		outcome.Outbox = append(outcome.Outbox, s.outboxEvent(a, drop.MatchID, domain.EventPriceDrop, domain.EventPayload{
			Property: drop.Property,
			Score:    stored.Score,
			Reasons:  stored.Reasons,
			OldPrice: &oldPrice,
			NewPrice: &newPrice,
		}))
	}

	if err := s.repo.ApplyCheckResult(ctx, outcome); err != nil {
		return nil, fmt.Errorf("apply check result: %w", err)
	}

	return &domain.CheckSummary{
		NewMatches: len(outcome.NewMatches),
		PriceDrops: len(outcome.PriceDrops),
	}, nil
}

func (s *Service) outboxEvent(a *domain.Agent, matchID string, kind domain.OutboxEventType, payload domain.EventPayload) domain.OutboxEvent {
	return domain.OutboxEvent{
		AgentID:     a.ID,
		MatchID:     matchID,
		EventType:   kind,
		Payload:     payload,
		NotifyEmail: a.NotifyEmail,
		NotifySMS:   a.NotifySMS,
		NotifyChat:  a.NotifyChat,
		Status:      domain.OutboxQueued,
	}
}

// recordFailure runs on its own context: the check's context is often
// already dead (timeout) by the time bookkeeping happens.
func (s *Service) recordFailure(a *domain.Agent, force bool, cause error) {
	failures := a.ConsecutiveFailures + 1
	health := domain.HealthOK
	if failures >= 3 {
		health = domain.HealthDegraded
	}

	var next *time.Time
	if !force {
		t := time.Now().UTC().Add(s.opts.CheckInterval)
		next = &t
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.repo.RecordCheckFailure(ctx, a.ID, next, failures, health); err != nil {
		log.Printf("[agent.Service] record failure agent=%s: %v", a.ID, err)
	}
	log.Printf("[agent.Service] check failed agent=%s consecutive=%d health=%s: %v",
		a.ID, failures, health, cause)
}

func (s *Service) nextCheckTime(from time.Time) time.Time {
	next := from.Add(s.opts.CheckInterval)
	if s.opts.JitterMax > 0 {
		next = next.Add(time.Duration(rand.Int63n(int64(s.opts.JitterMax))))
	}
	return next
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
