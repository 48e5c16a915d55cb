package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/ayo6706/custody-ledger/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sign(key, payload []byte) string {
	h := hmac.New(sha256.New, key)
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

func TestVerifyHMAC(t *testing.T) {
	key := []byte("callback-secret")
	payload := []byte(`{"reference":"JB-1","state":"done"}`)

	assert.True(t, verifyHMAC(key, payload, sign(key, payload)))
	assert.False(t, verifyHMAC(key, payload, sign([]byte("other"), payload)))
	assert.False(t, verifyHMAC(key, []byte(`{"reference":"JB-2"}`), sign(key, payload)))
	assert.False(t, verifyHMAC(nil, payload, sign(nil, payload)))
	assert.False(t, verifyHMAC(key, payload, ""))
}

func TestHandleSettlementCallback(t *testing.T) {
	env := newWithdrawEnv(t)
	ctx := context.Background()
	owner := uuid.New()
	w := seedWallet(t, env.store, owner, domain.RLS)
	fund(t, env.ledger, w, "10000000")
	account := seedBankAccount(t, env.store, owner, true)
	req := env.verified(t, CreateWithdrawRequest{WalletID: w.ID, Amount: amount("10000000"), TargetAccountID: &account.ID})

	res, err := env.svc.Dispatch(ctx, req.ID)
	require.NoError(t, err)
	require.True(t, res.Sent)

	key := []byte("callback-secret")
	payload := []byte(`{"reference":"JB-1","state":"success","tracking_url":"https://bank.example/track/JB-1","message":"paid"}`)

	_, err = env.svc.HandleSettlementCallback(ctx, "jibit", payload, sign([]byte("wrong"), payload), key)
	require.ErrorIs(t, err, domain.ErrInvalidSignature)

	out, err := env.svc.HandleSettlementCallback(ctx, "jibit", payload, sign(key, payload), key)
	require.NoError(t, err)
	assert.Equal(t, req.ID.String(), out.WithdrawID)
	assert.Equal(t, "done", out.Status)

	stored, err := env.svc.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawDone, stored.Status)
	assert.Equal(t, "https://bank.example/track/JB-1", stored.BlockchainURL)
	assert.Contains(t, stored.Updates, "jibit: paid")

	// Redelivery keeps the request done and moves no money.
	out, err = env.svc.HandleSettlementCallback(ctx, "jibit", payload, sign(key, payload), key)
	require.NoError(t, err)
	assert.Equal(t, "done", out.Status)
	assert.True(t, walletBalance(t, env.store, w.ID).IsZero())
}

func TestHandleSettlementCallbackUnknownReference(t *testing.T) {
	env := newWithdrawEnv(t)
	key := []byte("callback-secret")
	payload := []byte(`{"reference":"missing","state":"done"}`)

	_, err := env.svc.HandleSettlementCallback(context.Background(), "jibit", payload, sign(key, payload), key)
	assert.ErrorIs(t, err, domain.ErrWithdrawNotFound)

	empty := []byte(`{"reference":" ","state":"done"}`)
	_, err = env.svc.HandleSettlementCallback(context.Background(), "jibit", empty, sign(key, empty), key)
	assert.ErrorIs(t, err, domain.ErrInvalidCallback)
}
