// Package timer is a persistent, idempotent delayed-job scheduler.
//
// Callers schedule firings under a stable external id of the form
// "<kind>:<jobID>[:<attempt>]", so scheduling the same logical event twice
// collapses to one entry. Entries survive restarts; delivery is
// at-least-once, and handlers are expected to be idempotent (the job state
// machine guards make redelivery a no-op).
package timer

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/okello/airlift/internal/metrics"
	"github.com/okello/airlift/internal/model"
)

// Handler processes a fired timer entry. A non-nil error is logged; the
// entry stays FIRED either way and can be re-armed via Requeue if needed.
type Handler func(ctx context.Context, entry model.TimerEntry) error

// Store is the persistent backend for timer entries.
type Store interface {
	// Schedule creates the entry, or re-arms it when a previous entry with
	// the same external id already fired or was cancelled. Scheduling over
	// an entry that is still SCHEDULED is a no-op. Returns whether the
	// entry was created or re-armed.
	Schedule(ctx context.Context, entry model.TimerEntry) (bool, error)
	// Cancel flips SCHEDULED → CANCELLED. Returns whether a row changed.
	Cancel(ctx context.Context, externalID string) (bool, error)
	// ClaimDue atomically marks up to limit due SCHEDULED entries as FIRED
	// and returns them in fire_at order. Concurrent dispatchers never claim
	// the same entry twice.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]model.TimerEntry, error)
	// CountDue returns the number of due SCHEDULED entries (backlog gauge).
	CountDue(ctx context.Context, now time.Time) (int, error)
	// Requeue re-arms a FIRED entry for immediate delivery. Operator tool
	// for entries whose handler kept failing.
	Requeue(ctx context.Context, externalID string) (bool, error)
}

// ─── External IDs ───────────────────────────────────────────

// CloseBiddingID returns the stable external id for a job's close-bidding
// firing.
func CloseBiddingID(jobID string) string {
	return fmt.Sprintf("%s:%s", model.TimerCloseBidding, jobID)
}

// AcceptanceTimeoutID returns the stable external id for one acceptance
// attempt of a job.
func AcceptanceTimeoutID(jobID string, attempt int) string {
	return fmt.Sprintf("%s:%s:%d", model.TimerAcceptanceTimeout, jobID, attempt)
}

// ─── Service ────────────────────────────────────────────────

// Service schedules entries and dispatches due firings to registered
// handlers from a polling loop.
type Service struct {
	store        Store
	pollInterval time.Duration
	batchSize    int

	handlersMu sync.RWMutex
	handlers   map[model.TimerKind]Handler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a timer service over the given store.
func New(store Store, pollInterval time.Duration, batchSize int) *Service {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		store:        store,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		handlers:     make(map[model.TimerKind]Handler),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Register installs the handler for a timer kind. Must be called before Start.
func (s *Service) Register(kind model.TimerKind, h Handler) {
	s.handlersMu.Lock()
	s.handlers[kind] = h
	s.handlersMu.Unlock()
}

// Schedule persists a firing under the given stable external id.
// A fireAt in the past is delivered on the next poll tick.
func (s *Service) Schedule(ctx context.Context, externalID string, kind model.TimerKind, payload []byte, fireAt time.Time) error {
	created, err := s.store.Schedule(ctx, model.TimerEntry{
		ExternalID: externalID,
		Kind:       kind,
		Payload:    payload,
		FireAt:     fireAt,
		State:      model.TimerScheduled,
	})
	if err != nil {
		return fmt.Errorf("timer: schedule %s: %w", externalID, err)
	}
	if created {
		log.Printf("[timer] scheduled %s for %s", externalID, fireAt.Format(time.RFC3339))
	}
	return nil
}

// Cancel drops a scheduled firing. Cancelling an entry that already fired
// (or never existed) is not an error: a late firing is harmless by guard.
func (s *Service) Cancel(ctx context.Context, externalID string) error {
	cancelled, err := s.store.Cancel(ctx, externalID)
	if err != nil {
		return fmt.Errorf("timer: cancel %s: %w", externalID, err)
	}
	if cancelled {
		log.Printf("[timer] cancelled %s", externalID)
	}
	return nil
}

// Requeue re-arms a fired entry for immediate redelivery.
func (s *Service) Requeue(ctx context.Context, externalID string) error {
	ok, err := s.store.Requeue(ctx, externalID)
	if err != nil {
		return fmt.Errorf("timer: requeue %s: %w", externalID, err)
	}
	if !ok {
		return fmt.Errorf("timer: requeue %s: no fired entry", externalID)
	}
	log.Printf("[timer] requeued %s", externalID)
	return nil
}

// Backlog returns the number of due-but-undelivered entries.
func (s *Service) Backlog(ctx context.Context) (int, error) {
	return s.store.CountDue(ctx, time.Now())
}

// Start launches the dispatch loop.
func (s *Service) Start() {
	s.wg.Add(1)
	go s.dispatchLoop()
	log.Printf("[timer] dispatch loop started (poll=%s batch=%d)", s.pollInterval, s.batchSize)
}

// Stop halts dispatching and waits for the in-flight tick to finish.
func (s *Service) Stop() {
	s.cancel()
	s.wg.Wait()
	log.Printf("[timer] dispatch loop stopped")
}

func (s *Service) dispatchLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// tick claims and dispatches one batch of due entries. Claiming marks the
// entries FIRED before the handler runs, so a crash mid-handler loses the
// in-memory dispatch but not the state machine: the guarded transitions
// tolerate both redelivery and non-delivery (admin Requeue covers the rest).
func (s *Service) tick() {
	now := time.Now()

	if n, err := s.store.CountDue(s.ctx, now); err == nil {
		metrics.TimerBacklog.Set(float64(n))
	}

	entries, err := s.store.ClaimDue(s.ctx, now, s.batchSize)
	if err != nil {
		log.Printf("[timer] claim due: %v", err)
		return
	}

	for _, entry := range entries {
		s.dispatch(entry)
	}
}

func (s *Service) dispatch(entry model.TimerEntry) {
	s.handlersMu.RLock()
	h, ok := s.handlers[entry.Kind]
	s.handlersMu.RUnlock()

	if !ok {
		log.Printf("[timer] no handler for kind %s (entry %s) — discarded", entry.Kind, entry.ExternalID)
		metrics.TimerFirings.WithLabelValues(string(entry.Kind), "error").Inc()
		return
	}

	if err := h(s.ctx, entry); err != nil {
		log.Printf("[timer] handler %s failed: %v", entry.ExternalID, err)
		metrics.TimerFirings.WithLabelValues(string(entry.Kind), "error").Inc()
		return
	}
	metrics.TimerFirings.WithLabelValues(string(entry.Kind), "applied").Inc()
}
