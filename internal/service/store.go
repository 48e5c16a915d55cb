package service

import (
	"context"

	"github.com/ayo6706/custody-ledger/internal/repository"
)

// QueryStore is the data access services need: plain queries and a
// transaction runner. Anything that mutates a balance goes through RunInTx.
type QueryStore interface {
	Queries() *repository.Queries
	RunInTx(ctx context.Context, fn func(q *repository.Queries) error) error
}

var _ QueryStore = (*repository.Store)(nil)
