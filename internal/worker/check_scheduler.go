package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mkre153/dealfinder-pro-sub000/internal/domain"
	"github.com/mkre153/dealfinder-pro-sub000/internal/service/agent"
)

// =============================================================================
// CHECK SCHEDULER WORKER
// =============================================================================
// This worker polls for active agents whose next_check_at has arrived and
// dispatches their checks to a bounded pool. One process-wide ticker drives
// the cadence; the per-agent distributed lock inside RunCheck keeps multiple
// replicas from double-checking the same agent.
//
// Key Features:
// - Bounded concurrency: at most MaxConcurrent checks in flight
// - Startup recovery: overdue agents (service downtime) are checked once,
//   never backfilled
// - Force fan-out: a corpus-wide scan enqueues every active agent through
//   the same pool

const (
	// DefaultCheckPollInterval is how often to look for due agents.
	DefaultCheckPollInterval = 30 * time.Second

	// DefaultMaxConcurrentChecks caps the in-flight check pool.
	DefaultMaxConcurrentChecks = 8
)

// CheckRunner is the slice of the agent service the scheduler drives.
type CheckRunner interface {
	DueAgentIDs(ctx context.Context, now time.Time, limit int) ([]string, error)
	ActiveAgentIDs(ctx context.Context) ([]string, error)
	RunCheck(ctx context.Context, agentID string, force bool) (*domain.CheckSummary, error)
}

// CheckScheduler polls for due agents and runs their checks.
type CheckScheduler struct {
	svc           CheckRunner
	pollInterval  time.Duration
	maxConcurrent int

	// Stats
	checksRun   int64
	checksBusy  int64
	checkErrors int64
	matchesSeen int64

	// Control
	sem     chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.RWMutex
}

// NewCheckScheduler creates a scheduler over the agent service.
// pollInterval and maxConcurrent fall back to the defaults when zero.
func NewCheckScheduler(svc CheckRunner, pollInterval time.Duration, maxConcurrent int) *CheckScheduler {
	if pollInterval <= 0 {
		pollInterval = DefaultCheckPollInterval
	}
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentChecks
	}
	return &CheckScheduler{
		svc:           svc,
		pollInterval:  pollInterval,
		maxConcurrent: maxConcurrent,
		sem:           make(chan struct{}, maxConcurrent),
	}
}

// Start begins the polling loop. The first pass runs immediately so agents
// that came due while the process was down are checked right away.
func (cs *CheckScheduler) Start() error {
	cs.mu.Lock()
	if cs.running {
		cs.mu.Unlock()
		return fmt.Errorf("check scheduler already running")
	}
	cs.running = true
	cs.ctx, cs.cancel = context.WithCancel(context.Background())
	cs.mu.Unlock()

	log.Printf("[CheckScheduler] Starting (poll: %v, pool: %d)", cs.pollInterval, cs.maxConcurrent)

	cs.wg.Add(1)
	go cs.schedulerLoop()

	cs.wg.Add(1)
	go cs.heartbeatLoop()

	return nil
}

// Stop cancels the loop and waits for in-flight checks to finish.
func (cs *CheckScheduler) Stop() {
	cs.mu.Lock()
	if !cs.running {
		cs.mu.Unlock()
		return
	}
	cs.running = false
	cs.mu.Unlock()

	log.Printf("[CheckScheduler] Stopping...")
	cs.cancel()
	cs.wg.Wait()
	log.Printf("[CheckScheduler] Stopped. Checks: %d run, %d busy, %d errors",
		atomic.LoadInt64(&cs.checksRun), atomic.LoadInt64(&cs.checksBusy), atomic.LoadInt64(&cs.checkErrors))
}

func (cs *CheckScheduler) schedulerLoop() {
	defer cs.wg.Done()

	// Recovery pass: agents overdue after downtime run once, at most one
	// interval behind. RunCheck reschedules them forward, never backfills.
	cs.processDueAgents()

	ticker := time.NewTicker(cs.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-cs.ctx.Done():
			return
		case <-ticker.C:
			cs.processDueAgents()
		}
	}
}

// processDueAgents claims one batch of due agents and dispatches them.
// It returns once the whole batch is dispatched; a full pool makes it wait,
// which naturally paces claiming to check throughput.
func (cs *CheckScheduler) processDueAgents() {
	ctx, cancel := context.WithTimeout(cs.ctx, 10*time.Second)
	ids, err := cs.svc.DueAgentIDs(ctx, time.Now().UTC(), 4*cs.maxConcurrent)
	cancel()
	if err != nil {
		log.Printf("[CheckScheduler] Error claiming due agents: %v", err)
		atomic.AddInt64(&cs.checkErrors, 1)
		return
	}
	if len(ids) == 0 {
		return
	}

	log.Printf("[CheckScheduler] %d agents due", len(ids))
	cs.dispatch(ids, false)
}

// ScanAll enqueues a force-check for every active agent and returns the
// count without waiting for the checks to finish. Cadence is preserved:
// forced runs never touch next_check_at.
func (cs *CheckScheduler) ScanAll(ctx context.Context) (int, error) {
	cs.mu.RLock()
	running := cs.running
	cs.mu.RUnlock()
	if !running {
		return 0, fmt.Errorf("check scheduler not running")
	}

	ids, err := cs.svc.ActiveAgentIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing active agents: %w", err)
	}

	cs.wg.Add(1)
	go func() {
		defer cs.wg.Done()
		cs.dispatch(ids, true)
	}()

	return len(ids), nil
}

// dispatch fans agent IDs out to the bounded pool and waits for the batch.
func (cs *CheckScheduler) dispatch(ids []string, force bool) {
	var batch sync.WaitGroup
	for _, id := range ids {
		select {
		case <-cs.ctx.Done():
			batch.Wait()
			return
		case cs.sem <- struct{}{}:
		}

		batch.Add(1)
		go func(agentID string) {
			defer batch.Done()
			defer func() { <-cs.sem }()
			cs.runOne(agentID, force)
		}(id)
	}
	batch.Wait()
}

func (cs *CheckScheduler) runOne(agentID string, force bool) {
	summary, err := cs.svc.RunCheck(cs.ctx, agentID, force)
	switch {
	case err == nil:
		atomic.AddInt64(&cs.checksRun, 1)
		atomic.AddInt64(&cs.matchesSeen, int64(summary.NewMatches))
	case errors.Is(err, agent.ErrBusy):
		// Another replica holds the lock; its run covers this cycle.
		atomic.AddInt64(&cs.checksBusy, 1)
	case errors.Is(err, agent.ErrTerminalState), errors.Is(err, agent.ErrNotFound):
		// Agent was cancelled or completed between claim and run.
	default:
		atomic.AddInt64(&cs.checkErrors, 1)
		log.Printf("[CheckScheduler] Check failed for agent %s: %v", agentID, err)
	}
}

func (cs *CheckScheduler) heartbeatLoop() {
	defer cs.wg.Done()

	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-cs.ctx.Done():
			return
		case <-ticker.C:
			log.Printf("[CheckScheduler] Heartbeat: run=%d busy=%d errors=%d new_matches=%d in_flight=%d",
				atomic.LoadInt64(&cs.checksRun),
				atomic.LoadInt64(&cs.checksBusy),
				atomic.LoadInt64(&cs.checkErrors),
				atomic.LoadInt64(&cs.matchesSeen),
				len(cs.sem))
		}
	}
}

// Stats reports cumulative counters for observability endpoints.
func (cs *CheckScheduler) Stats() (run, busy, errs int64) {
	return atomic.LoadInt64(&cs.checksRun),
		atomic.LoadInt64(&cs.checksBusy),
		atomic.LoadInt64(&cs.checkErrors)
}
