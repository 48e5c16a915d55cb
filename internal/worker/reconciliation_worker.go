package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ayo6706/custody-ledger/internal/observability"
	"github.com/ayo6706/custody-ledger/internal/service"
	"go.uber.org/zap"
)

// Reconciler checks the ledger once.
type Reconciler interface {
	Run(ctx context.Context) (service.ReconciliationReport, error)
}

var _ Reconciler = (*service.ReconciliationService)(nil)

// ReconciliationWorker compares every wallet balance with its transaction
// log on a fixed interval. The first pass runs at start.
type ReconciliationWorker struct {
	svc      Reconciler
	interval time.Duration
	timeout  time.Duration

	running atomic.Bool
	mu      sync.Mutex
	last    *service.ReconciliationReport

	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewReconciliationWorker(svc Reconciler) *ReconciliationWorker {
	return &ReconciliationWorker{
		svc:      svc,
		interval: 24 * time.Hour,
		timeout:  30 * time.Minute,
		stopCh:   make(chan struct{}),
	}
}

func (w *ReconciliationWorker) WithInterval(interval time.Duration) *ReconciliationWorker {
	if interval > 0 {
		w.interval = interval
	}
	return w
}

// WithTimeout bounds a single pass.
func (w *ReconciliationWorker) WithTimeout(timeout time.Duration) *ReconciliationWorker {
	if timeout > 0 {
		w.timeout = timeout
	}
	return w
}

func (w *ReconciliationWorker) String() string {
	return fmt.Sprintf("reconciliation(interval=%s)", w.interval)
}

// LastReport returns the most recent successful pass.
func (w *ReconciliationWorker) LastReport() (service.ReconciliationReport, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.last == nil {
		return service.ReconciliationReport{}, false
	}
	return *w.last, true
}

func (w *ReconciliationWorker) Start(ctx context.Context) {
	zap.L().Info("worker starting", zap.Stringer("worker", w))
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.ReconcileOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			zap.L().Info("worker stopped", zap.Stringer("worker", w), zap.Error(ctx.Err()))
			return
		case <-w.stopCh:
			zap.L().Info("worker stopped", zap.Stringer("worker", w))
			return
		case <-ticker.C:
			w.ReconcileOnce(ctx)
		}
	}
}

func (w *ReconciliationWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// Run starts the worker in a goroutine and returns its stop function.
func (w *ReconciliationWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

// ReconcileOnce runs one pass unless another is still in progress, which
// it reports by returning false.
func (w *ReconciliationWorker) ReconcileOnce(ctx context.Context) bool {
	if !w.running.CompareAndSwap(false, true) {
		zap.L().Warn("reconciliation pass skipped, previous pass still running")
		return false
	}
	defer w.running.Store(false)

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	started := time.Now()
	report, err := w.svc.Run(ctx)
	if err != nil {
		observability.IncrementWorkerRun("reconciliation", "failed")
		zap.L().Error("reconciliation pass failed", zap.Error(err), zap.Duration("elapsed", time.Since(started)))
		return true
	}

	w.mu.Lock()
	w.last = &report
	w.mu.Unlock()

	result := "success"
	if len(report.Imbalances) > 0 {
		result = "imbalanced"
	}
	observability.IncrementWorkerRun("reconciliation", result)
	zap.L().Info("reconciliation pass finished",
		zap.Int("wallets", report.Wallets),
		zap.Int("imbalances", len(report.Imbalances)),
		zap.Duration("elapsed", time.Since(started)))
	return true
}
