package agent_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkre153/dealfinder-pro-sub000/internal/corpus"
	"github.com/mkre153/dealfinder-pro-sub000/internal/domain"
	"github.com/mkre153/dealfinder-pro-sub000/internal/match"
	"github.com/mkre153/dealfinder-pro-sub000/internal/pkg/distlock"
	"github.com/mkre153/dealfinder-pro-sub000/internal/service/agent"
)

// memRepo is an in-memory repository for unit testing the service.
type memRepo struct {
	mu      sync.Mutex
	clients map[string]*domain.Client
	agents  map[string]*domain.Agent
	matches map[string]*domain.Match
	outbox  []domain.OutboxEvent
	nextID  int64
}

func newMemRepo() *memRepo {
	return &memRepo{
		clients: make(map[string]*domain.Client),
		agents:  make(map[string]*domain.Agent),
		matches: make(map[string]*domain.Match),
	}
}

func (m *memRepo) FindClientByEmail(_ context.Context, email string) (*domain.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.clients {
		if c.Email == email {
			cp := *c
			return &cp, nil
		}
	}
	return nil, agent.ErrClientNotFound
}

func (m *memRepo) CreateClient(_ context.Context, c *domain.Client) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.clients[cp.ID] = &cp
	return cp.ID, nil
}

func (m *memRepo) GetClient(_ context.Context, id string) (*domain.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[id]
	if !ok {
		return nil, agent.ErrClientNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memRepo) ListClients(_ context.Context) ([]domain.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Client
	for _, c := range m.clients {
		out = append(out, *c)
	}
	return out, nil
}

func (m *memRepo) CreateAgent(_ context.Context, a *domain.Agent) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	crit := *a.Criteria
	cp.Criteria = &crit
	m.agents[cp.ID] = &cp
	return cp.ID, nil
}

func (m *memRepo) GetAgent(_ context.Context, id string) (*domain.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok {
		return nil, agent.ErrNotFound
	}
	cp := *a
	crit := *a.Criteria
	cp.Criteria = &crit
	return &cp, nil
}

func (m *memRepo) ListAgents(_ context.Context, f agent.ListFilter) ([]domain.Agent, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Agent
	for _, a := range m.agents {
		if f.Status != "" && string(a.Status) != f.Status {
			continue
		}
		out = append(out, *a)
	}
	return out, len(out), nil
}

func (m *memRepo) UpdateAgentStatus(_ context.Context, id string, from, to domain.AgentStatus, next *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok {
		return agent.ErrNotFound
	}
	if a.Status != from {
		return agent.ErrIllegalTransition
	}
	a.Status = to
	a.NextCheckAt = next
	return nil
}

func (m *memRepo) UpdateNotifyPrefs(_ context.Context, id string, u agent.NotifyUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
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
	return nil
}

func (m *memRepo) DueAgentIDs(_ context.Context, now time.Time, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for _, a := range m.agents {
		if a.Status == domain.AgentActive && a.NextCheckAt != nil && !a.NextCheckAt.After(now) {
			ids = append(ids, a.ID)
		}
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (m *memRepo) ActiveAgentIDs(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for _, a := range m.agents {
		if a.Status == domain.AgentActive {
			ids = append(ids, a.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *memRepo) AgentMatches(_ context.Context, agentID string) (map[string]domain.Match, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]domain.Match)
	for _, mt := range m.matches {
		if mt.AgentID == agentID {
			out[mt.PropertyKey] = *mt
		}
	}
	return out, nil
}

func (m *memRepo) ListMatches(_ context.Context, agentID string) ([]domain.Match, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Match
	for _, mt := range m.matches {
		if mt.AgentID == agentID {
			out = append(out, *mt)
		}
	}
	return out, nil
}

func (m *memRepo) UpdateMatchDelivery(_ context.Context, matchID string, status domain.MatchDeliveryStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mt, ok := m.matches[matchID]
	if !ok {
		return agent.ErrMatchNotFound
	}
	mt.DeliveryStatus = status
	return nil
}

func (m *memRepo) ApplyCheckResult(_ context.Context, res *agent.CheckResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[res.AgentID]
	if !ok {
		return agent.ErrNotFound
	}
	for _, nm := range res.NewMatches {
		cp := nm
		m.matches[cp.ID] = &cp
	}
	for _, pd := range res.PriceDrops {
		if mt, ok := m.matches[pd.MatchID]; ok {
			mt.CapturedPrice = pd.NewPrice
		}
	}
	for _, ev := range res.Outbox {
		m.nextID++
		ev.ID = m.nextID
		m.outbox = append(m.outbox, ev)
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
	return nil
}

func (m *memRepo) RecordCheckFailure(_ context.Context, agentID string, next *time.Time, failures int, health domain.AgentHealth) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[agentID]
	if !ok {
		return agent.ErrNotFound
	}
	if next != nil {
		a.NextCheckAt = next
	}
	a.ConsecutiveFailures = failures
	a.Health = health
	return nil
}

func (m *memRepo) AgentHealthCounts(_ context.Context) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var active, degraded int
	for _, a := range m.agents {
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

// stubLock implements distlock.DistLock with a canned answer.
type stubLock struct {
	available bool
}

func (l *stubLock) Acquire(context.Context) (bool, error) { return l.available, nil }
func (l *stubLock) Release(context.Context) error         { return nil }

func openLocks(string, time.Duration) distlock.DistLock { return &stubLock{available: true} }

func heldLocks(string, time.Duration) distlock.DistLock { return &stubLock{available: false} }

func testOptions() agent.Options {
	return agent.Options{
		CheckInterval: 4 * time.Hour,
		JitterMax:     0,
		CheckTimeout:  time.Second,
		LockTTL:       2 * time.Second,
	}
}

func validCreateInput() agent.CreateInput {
	pmin, pmax := int64(600000), int64(1200000)
	beds, baths := 3, 2.0
	return agent.CreateInput{
		ClientName:  "Dana Rivera",
		ClientEmail: "dana@example.com",
		Criteria: agent.CriteriaInput{
			Locations:    []string{"92128"},
			PriceMin:     &pmin,
			PriceMax:     &pmax,
			BedroomsMin:  &beds,
			BathroomsMin: &baths,
		},
	}
}

func corpusWith(price int64, extras ...func(*domain.Property)) *corpus.Store {
	p := domain.Property{
		Street:    "123 Main St",
		City:      "San Diego",
		Zip:       "92128",
		ListPrice: &price,
		Status:    domain.PropertyActive,
	}
	beds, baths, dom := 3, 2.0, 10
	p.Bedrooms, p.Bathrooms, p.DaysOnMarket = &beds, &baths, &dom
	for _, fn := range extras {
		fn(&p)
	}

	store := corpus.NewStore()
	_ = store.Swap(&domain.Snapshot{GeneratedAt: time.Now().UTC(), Properties: []domain.Property{p}})
	return store
}

func TestCreateAgent(t *testing.T) {
	repo := newMemRepo()
	svc := agent.NewService(repo, corpus.NewStore(), openLocks, testOptions())

	a, err := svc.Create(context.Background(), validCreateInput())
	require.NoError(t, err)

	assert.Equal(t, domain.AgentActive, a.Status)
	assert.Equal(t, domain.HealthOK, a.Health)
	assert.True(t, a.NotifyEmail, "email notifications default on")
	assert.False(t, a.NotifySMS)
	require.NotNil(t, a.NextCheckAt)
	assert.WithinDuration(t, time.Now().Add(4*time.Hour), *a.NextCheckAt, time.Minute)
	require.NotNil(t, a.Criteria)
	assert.Equal(t, domain.DefaultMinScore, a.Criteria.MinScore, "min_score defaults when omitted")
}

func TestCreateAgentExplicitZeroMinScore(t *testing.T) {
	repo := newMemRepo()
	svc := agent.NewService(repo, corpus.NewStore(), openLocks, testOptions())

	input := validCreateInput()
	zero := 0
	input.Criteria.MinScore = &zero

	a, err := svc.Create(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, 0, a.Criteria.MinScore)
}

func TestCreateAgentInvalidCriteria(t *testing.T) {
	repo := newMemRepo()
	svc := agent.NewService(repo, corpus.NewStore(), openLocks, testOptions())

	input := validCreateInput()
	input.Criteria.Locations = nil

	_, err := svc.Create(context.Background(), input)
	require.Error(t, err)
	assert.True(t, errors.Is(err, match.ErrInvalidCriteria))

	var verr *match.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "locations", verr.Fields[0].Field)

	agents, _, _ := repo.ListAgents(context.Background(), agent.ListFilter{})
	assert.Empty(t, agents, "no state is created on invalid criteria")
	clients, _ := repo.ListClients(context.Background())
	assert.Empty(t, clients)
}

func TestCreateAgentReusesClientByEmail(t *testing.T) {
	repo := newMemRepo()
	svc := agent.NewService(repo, corpus.NewStore(), openLocks, testOptions())

	first, err := svc.Create(context.Background(), validCreateInput())
	require.NoError(t, err)
	second, err := svc.Create(context.Background(), validCreateInput())
	require.NoError(t, err)

	assert.Equal(t, first.ClientID, second.ClientID)
	clients, _ := repo.ListClients(context.Background())
	assert.Len(t, clients, 1)
}

func TestLifecycleTransitions(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	svc := agent.NewService(repo, corpus.NewStore(), openLocks, testOptions())

	a, err := svc.Create(ctx, validCreateInput())
	require.NoError(t, err)

	// active → paused clears the pending check.
	paused, err := svc.Pause(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AgentPaused, paused.Status)
	assert.Nil(t, paused.NextCheckAt)

	// pause again is illegal.
	_, err = svc.Pause(ctx, a.ID)
	assert.ErrorIs(t, err, agent.ErrIllegalTransition)

	// paused → active reschedules without backfill.
	resumed, err := svc.Resume(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, resumed.NextCheckAt)
	assert.WithinDuration(t, time.Now().Add(4*time.Hour), *resumed.NextCheckAt, time.Minute)

	// resume on an active agent is illegal.
	_, err = svc.Resume(ctx, a.ID)
	assert.ErrorIs(t, err, agent.ErrIllegalTransition)

	// active → completed.
	done, err := svc.Complete(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AgentCompleted, done.Status)
	assert.Nil(t, done.NextCheckAt)

	// Terminal agents reject every lifecycle command.
	_, err = svc.Pause(ctx, a.ID)
	assert.ErrorIs(t, err, agent.ErrTerminalState)
	_, err = svc.Resume(ctx, a.ID)
	assert.ErrorIs(t, err, agent.ErrTerminalState)
	_, err = svc.Cancel(ctx, a.ID)
	assert.ErrorIs(t, err, agent.ErrTerminalState)
	_, err = svc.RunCheck(ctx, a.ID, true)
	assert.ErrorIs(t, err, agent.ErrTerminalState)
}

func TestCancelFromPaused(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	svc := agent.NewService(repo, corpus.NewStore(), openLocks, testOptions())

	a, err := svc.Create(ctx, validCreateInput())
	require.NoError(t, err)
	_, err = svc.Pause(ctx, a.ID)
	require.NoError(t, err)

	got, err := svc.Cancel(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AgentCancelled, got.Status)
	assert.Nil(t, got.NextCheckAt)

	// No terminal agent ever has a pending check.
	ids, err := repo.DueAgentIDs(ctx, time.Now().Add(100*time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestCompleteFromPausedIsIllegal(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	svc := agent.NewService(repo, corpus.NewStore(), openLocks, testOptions())

	a, err := svc.Create(ctx, validCreateInput())
	require.NoError(t, err)
	_, err = svc.Pause(ctx, a.ID)
	require.NoError(t, err)

	_, err = svc.Complete(ctx, a.ID)
	assert.ErrorIs(t, err, agent.ErrIllegalTransition)
}

func TestRunCheckFirstMatch(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	store := corpusWith(900000)
	svc := agent.NewService(repo, store, openLocks, testOptions())

	a, err := svc.Create(ctx, validCreateInput())
	require.NoError(t, err)
	scheduledNext := *a.NextCheckAt

	summary, err := svc.RunCheck(ctx, a.ID, true)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.NewMatches)
	assert.Equal(t, 0, summary.PriceDrops)

	got, err := svc.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.MatchCount)
	assert.Equal(t, 1, got.CheckCount)
	require.NotNil(t, got.LastCheckAt)
	require.NotNil(t, got.NextCheckAt)
	assert.True(t, got.NextCheckAt.Equal(scheduledNext), "force-check must not disturb the cadence")

	matches, err := svc.Matches(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, 90, matches[0].Score)
	assert.Equal(t, "123 MAIN ST|92128", matches[0].PropertyKey)
	assert.Equal(t, int64(900000), matches[0].CapturedPrice)
	assert.Equal(t, domain.MatchNew, matches[0].DeliveryStatus)

	require.Len(t, repo.outbox, 1)
	assert.Equal(t, domain.EventNewMatch, repo.outbox[0].EventType)
	assert.True(t, repo.outbox[0].NotifyEmail)
}

func TestRunCheckDuplicateSuppression(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	svc := agent.NewService(repo, corpusWith(900000), openLocks, testOptions())

	a, err := svc.Create(ctx, validCreateInput())
	require.NoError(t, err)

	_, err = svc.RunCheck(ctx, a.ID, true)
	require.NoError(t, err)
	before, _ := svc.Get(ctx, a.ID)

	summary, err := svc.RunCheck(ctx, a.ID, true)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.NewMatches)
	assert.Equal(t, 0, summary.PriceDrops)

	after, err := svc.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, before.MatchCount, after.MatchCount, "match_count unchanged")
	assert.Equal(t, before.CheckCount+1, after.CheckCount)
	assert.True(t, after.LastCheckAt.After(*before.LastCheckAt) || after.LastCheckAt.Equal(*before.LastCheckAt))
	assert.Len(t, repo.outbox, 1, "no second event for the same property")
}

func TestRunCheckPriceDrop(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	store := corpusWith(900000)
	svc := agent.NewService(repo, store, openLocks, testOptions())

	a, err := svc.Create(ctx, validCreateInput())
	require.NoError(t, err)
	_, err = svc.RunCheck(ctx, a.ID, true)
	require.NoError(t, err)

	// Same property, lower price.
	price := int64(850000)
	next := &domain.Snapshot{GeneratedAt: time.Now().UTC().Add(time.Minute)}
	cur, _ := store.Current()
	p := cur.Properties[0]
	p.ListPrice = &price
	next.Properties = []domain.Property{p}
	require.NoError(t, store.Swap(next))

	summary, err := svc.RunCheck(ctx, a.ID, true)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.NewMatches)
	assert.Equal(t, 1, summary.PriceDrops)

	matches, err := svc.Matches(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, int64(850000), matches[0].CapturedPrice)

	require.Len(t, repo.outbox, 2)
	drop := repo.outbox[1]
	assert.Equal(t, domain.EventPriceDrop, drop.EventType)
	require.NotNil(t, drop.Payload.OldPrice)
	assert.Equal(t, int64(900000), *drop.Payload.OldPrice)
	assert.Equal(t, int64(850000), *drop.Payload.NewPrice)

	got, _ := svc.Get(ctx, a.ID)
	assert.Equal(t, 1, got.MatchCount, "price drops do not create matches")
}

func TestRunCheckBusy(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	svc := agent.NewService(repo, corpusWith(900000), heldLocks, testOptions())

	a, err := svc.Create(ctx, validCreateInput())
	require.NoError(t, err)

	_, err = svc.RunCheck(ctx, a.ID, true)
	assert.ErrorIs(t, err, agent.ErrBusy)

	got, _ := svc.Get(ctx, a.ID)
	assert.Equal(t, 0, got.CheckCount, "a busy check never runs or counts")
}

func TestRunCheckScheduledAdvancesCadence(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	svc := agent.NewService(repo, corpusWith(900000), openLocks, testOptions())

	a, err := svc.Create(ctx, validCreateInput())
	require.NoError(t, err)

	_, err = svc.RunCheck(ctx, a.ID, false)
	require.NoError(t, err)

	got, _ := svc.Get(ctx, a.ID)
	require.NotNil(t, got.NextCheckAt)
	assert.WithinDuration(t, time.Now().Add(4*time.Hour), *got.NextCheckAt, time.Minute)
}

func TestRunCheckNoCorpusCountsAsFailure(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	store := corpus.NewStore()
	svc := agent.NewService(repo, store, openLocks, testOptions())

	a, err := svc.Create(ctx, validCreateInput())
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		_, err = svc.RunCheck(ctx, a.ID, false)
		require.ErrorIs(t, err, corpus.ErrNoCorpus)

		got, _ := svc.Get(ctx, a.ID)
		assert.Equal(t, i, got.ConsecutiveFailures)
		assert.Nil(t, got.LastCheckAt, "failures never touch last_check_at")
	}

	got, _ := svc.Get(ctx, a.ID)
	assert.Equal(t, domain.HealthDegraded, got.Health, "three consecutive failures degrade health")

	// A later success clears the flag.
	price := int64(900000)
	beds, baths := 3, 2.0
	snap := &domain.Snapshot{
		GeneratedAt: time.Now().UTC(),
		Properties: []domain.Property{{
			Street: "123 Main St", Zip: "92128", ListPrice: &price,
			Bedrooms: &beds, Bathrooms: &baths, Status: domain.PropertyActive,
		}},
	}
	require.NoError(t, store.Swap(snap))

	_, err = svc.RunCheck(ctx, a.ID, false)
	require.NoError(t, err)
	got, _ = svc.Get(ctx, a.ID)
	assert.Equal(t, domain.HealthOK, got.Health)
	assert.Equal(t, 0, got.ConsecutiveFailures)
}

func TestForceCheckOnPausedIsIllegal(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	svc := agent.NewService(repo, corpusWith(900000), openLocks, testOptions())

	a, err := svc.Create(ctx, validCreateInput())
	require.NoError(t, err)
	_, err = svc.Pause(ctx, a.ID)
	require.NoError(t, err)

	_, err = svc.RunCheck(ctx, a.ID, true)
	assert.ErrorIs(t, err, agent.ErrIllegalTransition)
}

func TestUpdateMatchDelivery(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	svc := agent.NewService(repo, corpusWith(900000), openLocks, testOptions())

	a, err := svc.Create(ctx, validCreateInput())
	require.NoError(t, err)
	_, err = svc.RunCheck(ctx, a.ID, true)
	require.NoError(t, err)

	matches, _ := svc.Matches(ctx, a.ID)
	require.Len(t, matches, 1)

	require.NoError(t, svc.UpdateMatchDelivery(ctx, matches[0].ID, domain.MatchViewed))

	err = svc.UpdateMatchDelivery(ctx, matches[0].ID, "bogus")
	assert.ErrorIs(t, err, agent.ErrInvalidDeliveryStatus)

	err = svc.UpdateMatchDelivery(ctx, "missing", domain.MatchViewed)
	assert.ErrorIs(t, err, agent.ErrMatchNotFound)
}

func TestGetMissingAgent(t *testing.T) {
	svc := agent.NewService(newMemRepo(), corpus.NewStore(), openLocks, testOptions())

	_, err := svc.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, agent.ErrNotFound)
}
