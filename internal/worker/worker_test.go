package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ayo6706/custody-ledger/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDispatcher struct {
	calls atomic.Int32
	limit atomic.Int32
	err   error
}

func (f *fakeDispatcher) ProcessBatch(_ context.Context, limit int32) (int, error) {
	f.calls.Add(1)
	f.limit.Store(limit)
	return int(limit), f.err
}

type fakeObserver struct{ calls atomic.Int32 }

func (f *fakeObserver) ObserveDue(context.Context, int32, time.Duration) (int, int, error) {
	f.calls.Add(1)
	return 1, 0, nil
}

type fakeReconciler struct {
	calls atomic.Int32
	block chan struct{}
	err   error
}

func (f *fakeReconciler) Run(ctx context.Context) (service.ReconciliationReport, error) {
	f.calls.Add(1)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return service.ReconciliationReport{}, ctx.Err()
		}
	}
	if f.err != nil {
		return service.ReconciliationReport{}, f.err
	}
	return service.ReconciliationReport{
		Wallets:    3,
		Imbalances: []service.Imbalance{{Currency: "usdt"}},
	}, nil
}

func TestWithdrawWorkerProcessOnce(t *testing.T) {
	d := &fakeDispatcher{}
	w := NewWithdrawWorker(d).WithBatchSize(25)

	n, err := w.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 25, n)
	assert.EqualValues(t, 25, d.limit.Load())

	d.err = errors.New("database unavailable")
	_, err = w.ProcessOnce(context.Background())
	assert.Error(t, err)
}

func TestWorkersTickUntilStopped(t *testing.T) {
	d := &fakeDispatcher{}
	o := &fakeObserver{}
	r := &fakeReconciler{}
	ctx := context.Background()

	stops := []func(){
		NewWithdrawWorker(d).WithPollInterval(5 * time.Millisecond).Run(ctx),
		NewDepositWorker(o).WithPollInterval(5 * time.Millisecond).Run(ctx),
		NewReconciliationWorker(r).WithInterval(time.Hour).Run(ctx),
	}

	assert.Eventually(t, func() bool {
		return d.calls.Load() > 1 && o.calls.Load() > 1 && r.calls.Load() == 1
	}, time.Second, 5*time.Millisecond)

	for _, stop := range stops {
		stop()
		stop()
	}
}

func TestWorkerStopsOnContextCancel(t *testing.T) {
	o := &fakeObserver{}
	w := NewDepositWorker(o).WithPollInterval(time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}

func TestReconcileOnceKeepsLastReport(t *testing.T) {
	r := &fakeReconciler{}
	w := NewReconciliationWorker(r)

	_, ok := w.LastReport()
	assert.False(t, ok)

	require.True(t, w.ReconcileOnce(context.Background()))
	report, ok := w.LastReport()
	require.True(t, ok)
	assert.Equal(t, 3, report.Wallets)
	assert.Len(t, report.Imbalances, 1)

	r.err = errors.New("database unavailable")
	require.True(t, w.ReconcileOnce(context.Background()))
	report, ok = w.LastReport()
	require.True(t, ok, "a failed pass keeps the previous report")
	assert.Equal(t, 3, report.Wallets)
}

func TestReconcileOnceSkipsOverlappingPass(t *testing.T) {
	r := &fakeReconciler{block: make(chan struct{})}
	w := NewReconciliationWorker(r)

	done := make(chan bool)
	go func() { done <- w.ReconcileOnce(context.Background()) }()
	require.Eventually(t, func() bool { return r.calls.Load() == 1 }, time.Second, time.Millisecond)

	assert.False(t, w.ReconcileOnce(context.Background()))
	close(r.block)
	assert.True(t, <-done)
	assert.EqualValues(t, 1, r.calls.Load())
}

func TestReconcileOnceTimesOut(t *testing.T) {
	r := &fakeReconciler{block: make(chan struct{})}
	w := NewReconciliationWorker(r).WithTimeout(10 * time.Millisecond)

	require.True(t, w.ReconcileOnce(context.Background()))
	_, ok := w.LastReport()
	assert.False(t, ok)
}
