package price

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const cacheKeyPrefix = "custody:price:"

// CachedEstimator caches the unit price per currency in redis and falls
// back to the wrapped estimator on a miss or a redis failure.
type CachedEstimator struct {
	next   Estimator
	client *redis.Client
	ttl    time.Duration
}

func NewCachedEstimator(next Estimator, client *redis.Client, ttl time.Duration) *CachedEstimator {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CachedEstimator{next: next, client: client, ttl: ttl}
}

func (c *CachedEstimator) EstimateFiatValue(ctx context.Context, amount decimal.Decimal, currency string) (decimal.Decimal, error) {
	unit, err := c.unitPrice(ctx, strings.ToLower(currency))
	if err != nil {
		return decimal.Zero, err
	}
	return amount.Mul(unit).Round(0), nil
}

func (c *CachedEstimator) unitPrice(ctx context.Context, currency string) (decimal.Decimal, error) {
	key := cacheKeyPrefix + currency
	cached, err := c.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		if d, perr := decimal.NewFromString(cached); perr == nil {
			return d, nil
		}
	case !errors.Is(err, redis.Nil):
		zap.L().Warn("price cache read failed", zap.String("currency", currency), zap.Error(err))
	}

	unit, err := c.next.EstimateFiatValue(ctx, decimal.NewFromInt(1), currency)
	if err != nil {
		return decimal.Zero, err
	}
	if err := c.client.Set(ctx, key, unit.String(), c.ttl).Err(); err != nil {
		zap.L().Warn("price cache write failed", zap.String("currency", currency), zap.Error(err))
	}
	return unit, nil
}
