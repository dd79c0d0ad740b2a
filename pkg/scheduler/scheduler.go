package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-pkgz/lgr"
	"golang.org/x/sync/errgroup"

	"github.com/wakewatch/wakewatch/pkg/domain"
	"github.com/wakewatch/wakewatch/pkg/pinger"
)

// Scheduler drives the periodic due-check-and-ping cycle. One tick asks the
// store which endpoints are due, pings each with bounded concurrency, records
// the outcome and escalates once the consecutive-failure threshold is crossed.
type Scheduler struct {
	store         Store
	pinger        Pinger
	notifier      Notifier
	connectivity  Connectivity
	tickInterval  time.Duration
	maxBackoff    time.Duration
	maxWorkers    int
	failThreshold int

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	inflightMu sync.Mutex
	inflight   map[int64]struct{} // at most one in-flight ping per endpoint id
}

// Store interface for scheduler operations
type Store interface {
	ListDue(ctx context.Context, now time.Time) ([]domain.Endpoint, error)
	Get(ctx context.Context, id int64) (*domain.Endpoint, error)
	UpdateStatus(ctx context.Context, id int64, status domain.Status, errDetail string, t time.Time) (*domain.Endpoint, error)
}

// Pinger interface for liveness checks
type Pinger interface {
	Ping(ctx context.Context, url string) domain.PingOutcome
}

// Notifier interface for threshold escalation
type Notifier interface {
	FailureThreshold(ctx context.Context, ep domain.Endpoint, consecutiveFailures int)
}

// Connectivity reports whether the host has network access. Ticks are
// deferred while offline instead of failing every endpoint.
type Connectivity interface {
	Online() bool
}

// Config holds scheduler configuration
type Config struct {
	TickInterval  time.Duration
	MaxBackoff    time.Duration
	MaxWorkers    int
	FailThreshold int
}

// NewScheduler creates a new scheduler instance
func NewScheduler(store Store, png Pinger, notif Notifier, conn Connectivity, cfg Config) *Scheduler {
	if cfg.TickInterval == 0 {
		cfg.TickInterval = 30 * time.Second
	}
	if cfg.MaxBackoff == 0 {
		cfg.MaxBackoff = 5 * time.Minute
	}
	if cfg.MaxWorkers == 0 {
		cfg.MaxWorkers = 5
	}
	if cfg.FailThreshold == 0 {
		cfg.FailThreshold = 3
	}
	if conn == nil {
		conn = &InterfaceConnectivity{}
	}

	return &Scheduler{
		store:         store,
		pinger:        png,
		notifier:      notif,
		connectivity:  conn,
		tickInterval:  cfg.TickInterval,
		maxBackoff:    cfg.MaxBackoff,
		maxWorkers:    cfg.MaxWorkers,
		failThreshold: cfg.FailThreshold,
		inflight:      make(map[int64]struct{}),
	}
}

// Start begins the poll loop. Idempotent, repeated calls while running are
// no-ops so "ensure scheduled" can be invoked freely after restarts.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		lgr.Printf("[DEBUG] scheduler already running, start ignored")
		return
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.pollLoop(ctx)

	lgr.Printf("[INFO] scheduler started, tick %v, %d workers, threshold %d failures",
		s.tickInterval, s.maxWorkers, s.failThreshold)
}

// Stop gracefully stops the scheduler and waits for in-flight pings
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	lgr.Printf("[INFO] stopping scheduler...")
	s.cancel()
	s.started = false
	s.mu.Unlock()

	s.wg.Wait()
	lgr.Printf("[INFO] scheduler stopped")
}

// pollLoop runs ticks at the configured cadence. A failed cycle doubles the
// delay up to maxBackoff, any clean cycle resets it to the base interval.
func (s *Scheduler) pollLoop(ctx context.Context) {
	defer s.wg.Done()

	delay := s.tickInterval
	timer := time.NewTimer(0) // first tick right away
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if err := s.runTick(ctx); err != nil {
			delay = min(delay*2, s.maxBackoff)
			lgr.Printf("[ERROR] poll cycle failed, next tick in %v: %v", delay, err)
		} else {
			delay = s.tickInterval
		}

		timer.Reset(delay)
	}
}

// runTick executes one due-check-and-ping cycle
func (s *Scheduler) runTick(ctx context.Context) error {
	if !s.connectivity.Online() {
		lgr.Printf("[DEBUG] no network connectivity, tick deferred")
		return nil
	}

	now := time.Now()
	due, err := s.store.ListDue(ctx, now)
	if err != nil {
		return fmt.Errorf("list due endpoints: %w", err)
	}
	if len(due) == 0 {
		return nil
	}

	lgr.Printf("[INFO] pinging %d due endpoints", len(due))

	var okCount atomic.Int64
	var g errgroup.Group
	g.SetLimit(s.maxWorkers)
	for _, ep := range due {
		g.Go(func() error {
			ok, err := s.pingEndpoint(ctx, ep)
			if ok {
				okCount.Add(1)
			}
			// ping failures stay local to the endpoint, store write
			// failures fail the whole cycle and engage the backoff
			return err
		})
	}
	err = g.Wait()

	lgr.Printf("[INFO] tick completed, %d/%d successful", okCount.Load(), len(due))
	if err != nil {
		return fmt.Errorf("record ping outcomes: %w", err)
	}
	return nil
}

// pingEndpoint runs the ping-update-notify path for a single endpoint. It
// reports whether the ping succeeded and returns an error only when the
// outcome could not be persisted.
func (s *Scheduler) pingEndpoint(ctx context.Context, ep domain.Endpoint) (success bool, err error) {
	if !s.markInflight(ep.ID) {
		lgr.Printf("[DEBUG] ping for endpoint %d already in flight, skipped", ep.ID)
		return false, nil
	}
	defer s.clearInflight(ep.ID)

	target := pinger.Normalize(ep.URL)
	outcome := s.pinger.Ping(ctx, target)

	status := domain.StatusSuccess
	if !outcome.Success {
		status = domain.StatusError
		lgr.Printf("[WARN] ping failed for %s: %s", target, outcome.ErrorDetail)
	} else {
		lgr.Printf("[DEBUG] ping ok for %s, status %d", target, outcome.HTTPStatus)
	}

	updated, err := s.store.UpdateStatus(ctx, ep.ID, status, outcome.ErrorDetail, time.Now())
	if err != nil {
		lgr.Printf("[ERROR] failed to record ping result for endpoint %d: %v", ep.ID, err)
		return outcome.Success, fmt.Errorf("update status for endpoint %d: %w", ep.ID, err)
	}
	if updated == nil {
		lgr.Printf("[DEBUG] endpoint %d deleted mid-flight, result discarded", ep.ID)
		return outcome.Success, nil
	}

	// edge-triggered: escalate on the exact crossing, not on every failure past it
	if !outcome.Success && updated.FailCount == s.failThreshold {
		lgr.Printf("[WARN] endpoint %s reached %d consecutive failures, notifying", updated.URL, updated.FailCount)
		s.notifier.FailureThreshold(ctx, *updated, updated.FailCount)
	}

	return outcome.Success, nil
}

// PingNow triggers an immediate poll of a single endpoint outside the normal
// tick, following the same ping-update-notify path.
func (s *Scheduler) PingNow(ctx context.Context, id int64) error {
	ep, err := s.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("get endpoint: %w", err)
	}

	if _, err := s.pingEndpoint(ctx, *ep); err != nil {
		return err
	}
	return nil
}

func (s *Scheduler) markInflight(id int64) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[id]; ok {
		return false
	}
	s.inflight[id] = struct{}{}
	return true
}

func (s *Scheduler) clearInflight(id int64) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, id)
}
