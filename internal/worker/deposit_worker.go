package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ayo6706/custody-ledger/internal/observability"
	"github.com/ayo6706/custody-ledger/internal/service"
	"go.uber.org/zap"
)

// DepositObserver is the part of the deposit pipeline the worker drives.
type DepositObserver interface {
	ObserveDue(ctx context.Context, limit int32, interval time.Duration) (checked, credited int, err error)
}

var _ DepositObserver = (*service.DepositPipeline)(nil)

// DepositWorker polls deposit addresses whose last check is older than the
// recheck interval.
type DepositWorker struct {
	pipeline     DepositObserver
	pollInterval time.Duration
	recheck      time.Duration
	batchSize    int32
	stopCh       chan struct{}
	stopOnce     sync.Once
}

func NewDepositWorker(pipeline DepositObserver) *DepositWorker {
	return &DepositWorker{
		pipeline:     pipeline,
		pollInterval: 30 * time.Second,
		recheck:      2 * time.Minute,
		batchSize:    50,
		stopCh:       make(chan struct{}),
	}
}

func (w *DepositWorker) WithPollInterval(interval time.Duration) *DepositWorker {
	if interval > 0 {
		w.pollInterval = interval
	}
	return w
}

// WithRecheck sets how long an address rests between two checks.
func (w *DepositWorker) WithRecheck(interval time.Duration) *DepositWorker {
	if interval > 0 {
		w.recheck = interval
	}
	return w
}

func (w *DepositWorker) WithBatchSize(size int32) *DepositWorker {
	if size > 0 {
		w.batchSize = size
	}
	return w
}

// Start blocks and observes due addresses every poll interval.
func (w *DepositWorker) Start(ctx context.Context) {
	zap.L().Info("deposit worker starting",
		zap.Duration("interval", w.pollInterval),
		zap.Duration("recheck", w.recheck))
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("deposit worker context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("deposit worker stop signal received")
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

func (w *DepositWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

func (w *DepositWorker) String() string {
	return fmt.Sprintf("DepositWorker(interval=%v, recheck=%v, batch=%d)", w.pollInterval, w.recheck, w.batchSize)
}

// Run starts the worker in a goroutine and returns a stop function.
func (w *DepositWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

func (w *DepositWorker) runOnce(ctx context.Context) {
	checked, credited, err := w.pipeline.ObserveDue(ctx, w.batchSize, w.recheck)
	if err != nil {
		observability.IncrementWorkerRun("deposit", "failed")
		zap.L().Error("deposit observation run failed", zap.Error(err))
		return
	}
	observability.IncrementWorkerRun("deposit", "success")
	if credited > 0 {
		zap.L().Info("deposits credited",
			zap.Int("addresses", checked),
			zap.Int("credited", credited))
	}
}
