package services

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	defaultSweepInterval = 10 * time.Second
	sweepTimeout         = 30 * time.Second
	// deadlines this close after the earliest share one timer-driven sweep
	sweepCoalesceWindow = time.Second
)

// HoldExpirer frees lapsed holds
type HoldExpirer interface {
	ExpireHolds(ctx context.Context, now time.Time) (int, error)
}

// PaymentReconciler resolves payments stuck in PAYMENT_PENDING
type PaymentReconciler interface {
	ReconcilePendingPayments(ctx context.Context) (int, error)
}

// SweepResult reports one expiration cycle
type SweepResult struct {
	Expired    int       `json:"expired"`
	Reconciled int       `json:"reconciled"`
	RanAt      time.Time `json:"ran_at"`
}

// HoldExpirationService frees expired holds in the background. A periodic
// sweep bounds every hold's lifetime by ttl + interval, and a timer armed
// for each new hold deadline frees most holds within a second of their ttl.
type HoldExpirationService struct {
	ledger   HoldExpirer
	payments PaymentReconciler
	clock    Clock
	logger   *logrus.Logger
	interval time.Duration

	runMu sync.Mutex // one sweep at a time

	mu        sync.Mutex
	deadlines deadlineHeap
	timer     *time.Timer
	armedFor  time.Time
	stopped   bool
	last      SweepResult
	runs      int
	expired   int

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewHoldExpirationService creates a new hold expiration service. payments
// may be nil when no orchestrator is wired.
func NewHoldExpirationService(
	ledger HoldExpirer,
	payments PaymentReconciler,
	interval time.Duration,
	clock Clock,
	logger *logrus.Logger,
) *HoldExpirationService {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if clock == nil {
		clock = time.Now
	}
	return &HoldExpirationService{
		ledger:   ledger,
		payments: payments,
		clock:    clock,
		logger:   logger,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the background sweep
func (s *HoldExpirationService) Start() {
	s.logger.WithField("interval", s.interval.String()).Info("Starting hold expiration service")
	s.wg.Add(1)
	go s.run()
}

// Stop stops the sweep and any pending deadline timer, then waits for a
// running periodic or deadline sweep to finish
func (s *HoldExpirationService) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info("Stopping hold expiration service")
		s.mu.Lock()
		s.stopped = true
		if s.timer != nil {
			s.timer.Stop()
		}
		s.mu.Unlock()
		close(s.stopCh)
	})
	s.wg.Wait()
}

func (s *HoldExpirationService) run() {
	defer s.wg.Done()

	// Run immediately on start to catch holds that lapsed while down
	s.sweep("startup")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep("interval")
		case <-s.stopCh:
			s.logger.Info("Hold expiration service stopped")
			return
		}
	}
}

func (s *HoldExpirationService) sweep(trigger string) {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	res, err := s.RunOnce(ctx)
	if err != nil {
		s.logger.WithError(err).WithField("trigger", trigger).Error("Hold sweep failed")
		return
	}
	if res.Expired > 0 || res.Reconciled > 0 {
		s.logger.WithFields(logrus.Fields{
			"trigger":    trigger,
			"expired":    res.Expired,
			"reconciled": res.Reconciled,
		}).Info("Hold sweep completed")
	}
}

// RunOnce runs a single expiration cycle followed by payment reconciliation
func (s *HoldExpirationService) RunOnce(ctx context.Context) (SweepResult, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	// 1. Free every hold past its deadline
	res := SweepResult{RanAt: s.clock()}
	n, err := s.ledger.ExpireHolds(ctx, res.RanAt)
	res.Expired = n
	if err != nil {
		s.record(res)
		return res, err
	}

	// 2. Resolve charges whose outcome never arrived
	if s.payments != nil {
		reconciled, err := s.payments.ReconcilePendingPayments(ctx)
		if err != nil {
			s.logger.WithError(err).Warn("Payment reconciliation failed")
		}
		res.Reconciled = reconciled
	}

	s.record(res)
	return res, nil
}

func (s *HoldExpirationService) record(res SweepResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = res
	s.runs++
	s.expired += res.Expired
}

// ============================================================================
// DEADLINE TIMER
// ============================================================================

// ScheduleSweep arms a one-shot sweep for a hold deadline. Deadlines are
// kept in a min-heap and the timer always points at the earliest one.
func (s *HoldExpirationService) ScheduleSweep(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	heap.Push(&s.deadlines, at)
	s.armLocked()
}

// armLocked points the timer at the earliest pending deadline, pushed out
// to the last deadline inside the coalesce window
func (s *HoldExpirationService) armLocked() {
	if s.deadlines.Len() == 0 {
		return
	}
	next := s.deadlines[0]
	limit := next.Add(sweepCoalesceWindow)
	for _, d := range s.deadlines[1:] {
		if d.After(next) && !d.After(limit) {
			next = d
		}
	}
	if s.timer != nil && next.Equal(s.armedFor) {
		return
	}

	delay := next.Sub(s.clock())
	if delay < 0 {
		delay = 0
	}
	if s.timer == nil {
		s.timer = time.AfterFunc(delay, s.onDeadline)
	} else {
		s.timer.Stop()
		s.timer.Reset(delay)
	}
	s.armedFor = next
}

// onDeadline sweeps for the deadlines that are due and re-arms for the rest.
// The sweep runs at a clock reading taken after the pop, so every popped
// deadline is covered by it.
func (s *HoldExpirationService) onDeadline() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	defer s.wg.Done()

	now := s.clock()
	due := 0
	for s.deadlines.Len() > 0 && !s.deadlines[0].After(now) {
		heap.Pop(&s.deadlines)
		due++
	}
	s.armedFor = time.Time{}
	s.mu.Unlock()

	if due > 0 {
		s.sweep("deadline")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stopped {
		s.armLocked()
	}
}

// PendingDeadlines returns how many hold deadlines are still armed
func (s *HoldExpirationService) PendingDeadlines() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deadlines.Len()
}

// GetStats returns statistics about the sweep (for admin dashboard)
func (s *HoldExpirationService) GetStats() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	return map[string]interface{}{
		"interval":          s.interval.String(),
		"runs":              s.runs,
		"expired_total":     s.expired,
		"last_run":          s.last.RanAt,
		"last_expired":      s.last.Expired,
		"last_reconciled":   s.last.Reconciled,
		"pending_deadlines": s.deadlines.Len(),
	}
}

// deadlineHeap is a min-heap of hold deadlines
type deadlineHeap []time.Time

func (h deadlineHeap) Len() int           { return len(h) }
func (h deadlineHeap) Less(i, j int) bool { return h[i].Before(h[j]) }
func (h deadlineHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *deadlineHeap) Push(x interface{}) {
	*h = append(*h, x.(time.Time))
}

func (h *deadlineHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
