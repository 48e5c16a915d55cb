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

// WithdrawDispatcher is the part of the withdraw service the worker drives.
type WithdrawDispatcher interface {
	ProcessBatch(ctx context.Context, limit int32) (int, error)
}

// WithdrawWorker dispatches pending withdraw requests in the background.
// Several instances may run at once; claimed rows are locked with
// FOR UPDATE SKIP LOCKED.
type WithdrawWorker struct {
	svc          WithdrawDispatcher
	pollInterval time.Duration
	batchSize    int32
	stopCh       chan struct{}
	stopOnce     sync.Once
}

var _ WithdrawDispatcher = (*service.WithdrawService)(nil)

// NewWithdrawWorker creates a worker polling every 10 seconds for batches
// of 10 requests.
func NewWithdrawWorker(svc WithdrawDispatcher) *WithdrawWorker {
	return &WithdrawWorker{
		svc:          svc,
		pollInterval: 10 * time.Second,
		batchSize:    10,
		stopCh:       make(chan struct{}),
	}
}

// WithPollInterval sets the poll interval for the worker.
func (w *WithdrawWorker) WithPollInterval(interval time.Duration) *WithdrawWorker {
	if interval > 0 {
		w.pollInterval = interval
	}
	return w
}

// WithBatchSize sets the batch size for the worker.
func (w *WithdrawWorker) WithBatchSize(size int32) *WithdrawWorker {
	if size > 0 {
		w.batchSize = size
	}
	return w
}

// Start runs until Stop is called or ctx is canceled.
func (w *WithdrawWorker) Start(ctx context.Context) {
	zap.L().Info("withdraw worker starting",
		zap.Duration("interval", w.pollInterval),
		zap.Int32("batch_size", w.batchSize))

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("withdraw worker context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("withdraw worker stop signal received")
			return
		case <-ticker.C:
			w.processBatch(ctx)
		}
	}
}

// Stop signals the worker to stop. It is safe to call more than once.
func (w *WithdrawWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

func (w *WithdrawWorker) processBatch(ctx context.Context) {
	if _, err := w.ProcessOnce(ctx); err != nil {
		zap.L().Error("withdraw batch failed", zap.Error(err))
	}
}

// ProcessOnce dispatches a single batch immediately.
func (w *WithdrawWorker) ProcessOnce(ctx context.Context) (int, error) {
	n, err := w.svc.ProcessBatch(ctx, w.batchSize)
	if err != nil {
		observability.IncrementWorkerRun("withdraw", "failed")
		return n, err
	}
	observability.IncrementWorkerRun("withdraw", "success")
	if n > 0 {
		zap.L().Info("withdraw batch dispatched", zap.Int("advanced", n))
	}
	return n, nil
}

// Run starts the worker in a goroutine and returns a stop function.
func (w *WithdrawWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

func (w *WithdrawWorker) String() string {
	return fmt.Sprintf("WithdrawWorker(interval=%v, batch=%d)", w.pollInterval, w.batchSize)
}
