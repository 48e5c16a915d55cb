package settlement

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/ayo6706/custody-ledger/internal/domain"
)

// MockBackend simulates a provider for testnets. It sleeps between MinDelay
// and MaxDelay and fails with probability FailureRate.
type MockBackend struct {
	FailureRate float64
	MinDelay    time.Duration
	MaxDelay    time.Duration
	method      Method

	mu      sync.Mutex
	settled map[string]State
}

// NewMockBackend returns a mock with a 2-5s delay and a 10% failure rate.
func NewMockBackend() *MockBackend {
	return &MockBackend{
		FailureRate: 0.1,
		MinDelay:    2 * time.Second,
		MaxDelay:    5 * time.Second,
		method:      Mock,
		settled:     make(map[string]State),
	}
}

// As makes the mock answer for another method, which lets testnets run the
// fiat flow without provider credentials.
func (m *MockBackend) As(method Method) *MockBackend {
	clone := NewMockBackend()
	clone.FailureRate, clone.MinDelay, clone.MaxDelay = m.FailureRate, m.MinDelay, m.MaxDelay
	clone.method = method
	return clone
}

func (m *MockBackend) Method() Method { return m.method }

func (m *MockBackend) Settle(ctx context.Context, req Request) (string, error) {
	if err := m.sleep(ctx); err != nil {
		return "", err
	}
	if rand.Float64() < m.FailureRate {
		return "", fmt.Errorf("%w: provider temporarily unavailable", domain.ErrExternalQueryFailed)
	}

	// MOCK-YYYYMMDD-HHMMSS-XXXXX
	ref := fmt.Sprintf("MOCK-%s-%05d", time.Now().Format("20060102-150405"), rand.Intn(100000))
	m.mu.Lock()
	m.settled[ref] = StateDone
	m.mu.Unlock()
	return ref, nil
}

func (m *MockBackend) Status(ctx context.Context, ref string) (State, error) {
	if err := ctx.Err(); err != nil {
		return StateUnknown, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.settled[ref]
	if !ok {
		return StateUnknown, nil
	}
	return state, nil
}

func (m *MockBackend) sleep(ctx context.Context) error {
	delay := m.MinDelay
	if span := m.MaxDelay - m.MinDelay; span > 0 {
		delay += time.Duration(rand.Int63n(int64(span)))
	}
	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("settlement call canceled: %w", ctx.Err())
	}
}
