package chain

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ayo6706/custody-ledger/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetWalletTransactions_List(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/addresses/addr-1/transactions", r.URL.Path)
		assert.Equal(t, "btc", r.URL.Query().Get("currency"))
		assert.Equal(t, "BTC", r.URL.Query().Get("network"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`[
			{"hash":"abc","timestamp":"2024-05-01T10:00:00Z","value":"1.5","confirmations":2,"from_addresses":["src"]},
			{"hash":"def","timestamp":"yesterday","value":"2","confirmations":1},
			{"hash":"ghi","timestamp":1714557600,"value":"3","tag":12345}
		]`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "secret", time.Second)
	got, err := c.GetWalletTransactions(context.Background(), "addr-1", "btc", "BTC", "")
	require.NoError(t, err)
	require.Len(t, got["btc"], 3)

	first := got["btc"][0]
	assert.Equal(t, "abc", first.Hash)
	assert.Equal(t, "1.5", first.Value.String())
	require.NotNil(t, first.Timestamp)
	assert.Equal(t, []string{"src"}, first.FromAddresses)

	assert.Nil(t, got["btc"][1].Timestamp, "unparseable timestamps are dropped")
	require.NotNil(t, got["btc"][2].Timestamp)
	assert.Equal(t, "12345", got["btc"][2].Tag)
}

func TestGetWalletTransactions_Grouped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ETH":[{"hash":"0x1","value":"1"}],"usdt":[{"hash":"0x2","value":"10"}]}`))
	}))
	defer srv.Close()

	got, err := NewHTTPClient(srv.URL, "", time.Second).GetWalletTransactions(context.Background(), "0xabc", "eth", "ETH", "")
	require.NoError(t, err)
	assert.Len(t, got["eth"], 1)
	assert.Len(t, got["usdt"], 1)
}

func TestGetWalletTransactions_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewHTTPClient(srv.URL, "", time.Second).GetWalletTransactions(context.Background(), "a", "btc", "", "")
	assert.ErrorIs(t, err, domain.ErrExternalQueryFailed)
}

func TestGetWalletsBalance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var req balancesRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"a1", "a2"}, req.Addresses)
		_, _ = w.Write([]byte(`[{"address":"a1","received":"5","sent":"1"},{"address":"a2","received":"0","sent":"0"}]`))
	}))
	defer srv.Close()

	got, err := NewHTTPClient(srv.URL, "", time.Second).GetWalletsBalance(context.Background(), []string{"a1", "a2"}, "trx", "TRX")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "5", got[0].Received.String())
	assert.Equal(t, "1", got[0].Sent.String())
}

func TestGetInvoiceStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/invoices/lnbc1", r.URL.Path)
		_, _ = w.Write([]byte(`{"state":"settled"}`))
	}))
	defer srv.Close()

	state, err := NewHTTPClient(srv.URL, "", time.Second).GetInvoiceStatus(context.Background(), "lnbc1")
	require.NoError(t, err)
	assert.Equal(t, InvoiceSettled, state)
}
