package settlement

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ayo6706/custody-ledger/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMethod(t *testing.T) {
	m, err := ParseMethod(" Jibit_V2 ")
	require.NoError(t, err)
	assert.Equal(t, JibitV2, m)
	assert.True(t, m.Fiat())
	assert.False(t, HotWallet.Fiat())

	_, err = ParseMethod("paypal")
	assert.ErrorIs(t, err, domain.ErrUnsupportedSettlementMethod)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(NewMockBackend(), NewMockBackend().As(Vandar))

	b, err := r.Get(Vandar)
	require.NoError(t, err)
	assert.Equal(t, Vandar, b.Method())
	assert.Equal(t, []Method{Vandar, Mock}, r.Methods())

	_, err = r.Get(Toman)
	assert.ErrorIs(t, err, domain.ErrUnsupportedSettlementMethod)
}

func TestTrackingURL(t *testing.T) {
	id := uuid.MustParse("7b4f4c1e-5a8b-4f8e-9c1a-1d2e3f4a5b6c")
	assert.Equal(t, "custody://app/wallet/rls/transaction/WJ"+id.String(), TrackingURL(Jibit, id, "r-1"))
	assert.Equal(t, "custody://app/wallet/rls/transaction/WP991", TrackingURL(PayIR, id, "991"))
	assert.Empty(t, TrackingURL(HotWallet, id, "x"))
}

func TestParseState(t *testing.T) {
	tests := map[string]State{
		"SUCCESS":     StateDone,
		"settled":     StateDone,
		"Rejected":    StateFailed,
		"in_progress": StatePending,
		"":            StateUnknown,
		"weird":       StateUnknown,
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, ParseState(in))
		})
	}
}

func TestHTTPProviderSettleConvertsToToman(t *testing.T) {
	var got transferRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/transfers", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"ref":"V-1","state":"pending"}`))
	}))
	defer srv.Close()

	p := NewHTTPProvider(ProviderConfig{Method: Vandar, BaseURL: srv.URL, Token: "tok", Timeout: time.Second})
	id := uuid.New()
	ref, err := p.Settle(context.Background(), Request{WithdrawID: id, Amount: decimal.NewFromInt(1_000_005), Destination: "IR01"})
	require.NoError(t, err)
	assert.Equal(t, "V-1", ref)
	assert.Equal(t, id.String(), got.TrackID)
	assert.Equal(t, "100001", got.Amount.String())
	assert.Equal(t, "IR01", got.Destination)
}

func TestHTTPProviderPayIRReusesExistingTransfer(t *testing.T) {
	posted := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			posted = true
		}
		assert.NotEmpty(t, r.URL.Query().Get("track_id"))
		_, _ = w.Write([]byte(`{"ref":"P-7","state":"done"}`))
	}))
	defer srv.Close()

	p := NewHTTPProvider(ProviderConfig{Method: PayIR, BaseURL: srv.URL})
	ref, err := p.Settle(context.Background(), Request{WithdrawID: uuid.New(), Amount: decimal.NewFromInt(500)})
	require.NoError(t, err)
	assert.Equal(t, "P-7", ref)
	assert.False(t, posted)
}

func TestHTTPProviderPayIRSubmitsWhenTrackUnknown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"ref":"P-8","state":"submitted"}`))
	}))
	defer srv.Close()

	p := NewHTTPProvider(ProviderConfig{Method: PayIR, BaseURL: srv.URL})
	ref, err := p.Settle(context.Background(), Request{WithdrawID: uuid.New(), Amount: decimal.NewFromInt(500)})
	require.NoError(t, err)
	assert.Equal(t, "P-8", ref)
}

func TestHTTPProviderErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusBadGateway, `{}`},
		{"no reference", http.StatusOK, `{"state":"pending"}`},
		{"rejected", http.StatusOK, `{"ref":"J-1","state":"rejected"}`},
		{"bad json", http.StatusOK, `not json`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			p := NewHTTPProvider(ProviderConfig{Method: Jibit, BaseURL: srv.URL})
			_, err := p.Settle(context.Background(), Request{WithdrawID: uuid.New(), Amount: decimal.NewFromInt(1)})
			assert.ErrorIs(t, err, domain.ErrExternalQueryFailed)
		})
	}
}

func TestHTTPProviderStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/transfers/T-3", r.URL.Path)
		_, _ = w.Write([]byte(`{"ref":"T-3","state":"paid"}`))
	}))
	defer srv.Close()

	state, err := NewHTTPProvider(ProviderConfig{Method: Toman, BaseURL: srv.URL}).Status(context.Background(), "T-3")
	require.NoError(t, err)
	assert.Equal(t, StateDone, state)
}

func TestMockBackend(t *testing.T) {
	m := NewMockBackend()
	m.MinDelay, m.MaxDelay, m.FailureRate = 0, 0, 0

	ref, err := m.Settle(context.Background(), Request{WithdrawID: uuid.New()})
	require.NoError(t, err)
	assert.Regexp(t, `^MOCK-\d{8}-\d{6}-\d{5}$`, ref)

	state, err := m.Status(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, StateDone, state)

	state, err = m.Status(context.Background(), "nope")
	require.NoError(t, err)
	assert.Equal(t, StateUnknown, state)

	m.FailureRate = 1
	_, err = m.Settle(context.Background(), Request{})
	assert.ErrorIs(t, err, domain.ErrExternalQueryFailed)
}

func TestMockBackendRespectsCancellation(t *testing.T) {
	m := NewMockBackend()
	m.MinDelay, m.MaxDelay = time.Minute, time.Minute
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Settle(ctx, Request{})
	assert.ErrorIs(t, err, context.Canceled)
}
