package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mkre153/dealfinder-pro-sub000/internal/crm"
	"github.com/mkre153/dealfinder-pro-sub000/internal/domain"
)

// =============================================================================
// CRM SYNC WORKER
// =============================================================================
// This worker drains the durable outbox into the external CRM. The claim
// query hands out at most one queued event per agent, so deliveries stay
// FIFO within an agent while running in parallel across agents.
//
// Key Features:
// - At-least-once: events survive crashes; stale 'sending' rows are requeued
//   at startup
// - Retry ladder lives inside crm.Client; one claim cycle is one terminal
//   outcome (sent or failed)
// - 401/403 from the CRM flips the auth-degraded flag until a delivery
//   succeeds again

const (
	// DefaultCRMPollInterval is the outbox poll tick.
	DefaultCRMPollInterval = 5 * time.Second

	// DefaultCRMMaxParallel caps concurrent deliveries across agents.
	DefaultCRMMaxParallel = 4

	// StaleSendingAge is how old a 'sending' row must be before startup
	// recovery assumes its worker died and requeues it.
	StaleSendingAge = 10 * time.Minute

	// deliveryBudget bounds one full delivery cycle, retries and rate-limit
	// waits included, so a slot cannot stall on an absurd Retry-After.
	deliveryBudget = 5 * time.Minute
)

// OutboxQueue is the durable event store the worker drains.
type OutboxQueue interface {
	Claim(ctx context.Context, limit int) ([]domain.OutboxEvent, error)
	MarkSent(ctx context.Context, id int64, attempts int) error
	MarkFailed(ctx context.Context, id int64, attempts int, lastErr string) error
	RequeueStale(ctx context.Context, olderThan time.Duration) (int, error)
	CountPending(ctx context.Context) (int, error)
	MarkMatchSent(ctx context.Context, matchID string) error
}

// DealSender delivers one opportunity; *crm.Client in production.
type DealSender interface {
	CreateDeal(ctx context.Context, opp crm.Opportunity) error
}

// MatchNotifier sends the client-facing alert for an event. Optional.
type MatchNotifier interface {
	MatchAlert(ctx context.Context, ev domain.OutboxEvent) error
}

// CRMSyncWorker polls the outbox and delivers events to the CRM.
type CRMSyncWorker struct {
	queue        OutboxQueue
	sender       DealSender
	transform    *crm.Transformer
	notifier     MatchNotifier // nil when notifications are disabled
	pollInterval time.Duration
	maxParallel  int

	// Stats
	delivered int64
	failed    int64

	// Auth-degraded flag; set on 401/403, cleared by the next success.
	authFailed int32

	// Control
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.RWMutex
}

// NewCRMSyncWorker creates the sync worker. pollInterval and maxParallel
// fall back to defaults when zero.
func NewCRMSyncWorker(queue OutboxQueue, sender DealSender, transform *crm.Transformer, pollInterval time.Duration, maxParallel int) *CRMSyncWorker {
	if pollInterval <= 0 {
		pollInterval = DefaultCRMPollInterval
	}
	if maxParallel <= 0 {
		maxParallel = DefaultCRMMaxParallel
	}
	return &CRMSyncWorker{
		queue:        queue,
		sender:       sender,
		transform:    transform,
		pollInterval: pollInterval,
		maxParallel:  maxParallel,
	}
}

// SetNotifier wires the optional alert sender.
func (w *CRMSyncWorker) SetNotifier(n MatchNotifier) {
	w.notifier = n
}

// Start requeues stale rows left by a dead worker, then begins polling.
func (w *CRMSyncWorker) Start() error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("crm sync worker already running")
	}
	w.running = true
	w.ctx, w.cancel = context.WithCancel(context.Background())
	w.mu.Unlock()

	log.Printf("[CRMSyncWorker] Starting (poll: %v, parallel: %d)", w.pollInterval, w.maxParallel)

	recoverCtx, cancel := context.WithTimeout(w.ctx, 10*time.Second)
	if n, err := w.queue.RequeueStale(recoverCtx, StaleSendingAge); err != nil {
		log.Printf("[CRMSyncWorker] Warning: stale requeue failed: %v", err)
	} else if n > 0 {
		log.Printf("[CRMSyncWorker] Requeued %d stale sending events", n)
	}
	cancel()

	w.wg.Add(1)
	go w.syncLoop()

	return nil
}

// Stop cancels the loop and waits for in-flight deliveries.
func (w *CRMSyncWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	log.Printf("[CRMSyncWorker] Stopping...")
	w.cancel()
	w.wg.Wait()
	log.Printf("[CRMSyncWorker] Stopped. Delivered: %d, failed: %d",
		atomic.LoadInt64(&w.delivered), atomic.LoadInt64(&w.failed))
}

func (w *CRMSyncWorker) syncLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		default:
			n := w.processBatch()
			if n == 0 {
				select {
				case <-w.ctx.Done():
					return
				case <-time.After(w.pollInterval):
				}
			}
		}
	}
}

// processBatch claims up to maxParallel events (one per agent) and delivers
// them in parallel. Returns the number of events claimed.
func (w *CRMSyncWorker) processBatch() int {
	claimCtx, cancel := context.WithTimeout(w.ctx, 5*time.Second)
	events, err := w.queue.Claim(claimCtx, w.maxParallel)
	cancel()
	if err != nil {
		log.Printf("[CRMSyncWorker] Error claiming events: %v", err)
		return 0
	}
	if len(events) == 0 {
		return 0
	}

	var batch sync.WaitGroup
	for _, ev := range events {
		batch.Add(1)
		go func(ev domain.OutboxEvent) {
			defer batch.Done()
			w.deliver(ev)
		}(ev)
	}
	batch.Wait()

	return len(events)
}

// deliver pushes one event to a terminal outcome and does the follow-up
// bookkeeping: match delivery status on success, the auth flag, and the
// best-effort client alert.
func (w *CRMSyncWorker) deliver(ev domain.OutboxEvent) {
	ctx, cancel := context.WithTimeout(w.ctx, deliveryBudget)
	defer cancel()

	opp := w.transform.FromEvent(ev)
	err := w.sender.CreateDeal(ctx, opp)
	attempts := ev.Attempts + 1

	if err != nil {
		atomic.AddInt64(&w.failed, 1)
		if errors.Is(err, crm.ErrAuthFailed) {
			atomic.StoreInt32(&w.authFailed, 1)
			log.Printf("[CRMSyncWorker] CRM auth rejected; health degraded until a delivery succeeds")
		}
		log.Printf("[CRMSyncWorker] Event %d (agent %s) failed: %v", ev.ID, ev.AgentID, err)
		w.mark(func(c context.Context) error { return w.queue.MarkFailed(c, ev.ID, attempts, err.Error()) })
	} else {
		atomic.AddInt64(&w.delivered, 1)
		atomic.StoreInt32(&w.authFailed, 0)
		w.mark(func(c context.Context) error { return w.queue.MarkSent(c, ev.ID, attempts) })
		if ev.EventType == domain.EventNewMatch {
			w.mark(func(c context.Context) error { return w.queue.MarkMatchSent(c, ev.MatchID) })
		}
	}

	// The client hears about their match regardless of CRM health. One
	// attempt, never requeued.
	if w.notifier != nil && ev.NotifyEmail {
		notifyCtx, cancelNotify := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancelNotify()
		if nerr := w.notifier.MatchAlert(notifyCtx, ev); nerr != nil {
			log.Printf("[CRMSyncWorker] Alert for event %d not sent: %v", ev.ID, nerr)
		}
	}
}

// mark runs a status write on its own context; the delivery context may
// already be spent by the time bookkeeping happens.
func (w *CRMSyncWorker) mark(fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		log.Printf("[CRMSyncWorker] Status write failed: %v", err)
	}
}

// AuthDegraded reports whether the last CRM response was a credential
// rejection.
func (w *CRMSyncWorker) AuthDegraded() bool {
	return atomic.LoadInt32(&w.authFailed) == 1
}

// QueueDepth counts events still awaiting delivery, for /health.
func (w *CRMSyncWorker) QueueDepth(ctx context.Context) (int, error) {
	return w.queue.CountPending(ctx)
}

// Stats returns cumulative delivery counters.
func (w *CRMSyncWorker) Stats() (delivered, failed int64) {
	return atomic.LoadInt64(&w.delivered), atomic.LoadInt64(&w.failed)
}
