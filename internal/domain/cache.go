package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PriceCache keeps the last known good quote per symbol.
type PriceCache interface {
	SetPrice(ctx context.Context, symbol string, price decimal.Decimal, ts time.Time) error
	GetPrice(ctx context.Context, symbol string) (decimal.Decimal, time.Time, error)
}

// RateLimiter bounds how often an action keyed by name may run inside a
// sliding window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
