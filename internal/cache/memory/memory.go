// Package memory implements the domain cache interfaces on process-local
// state, for installs that run without Redis.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openperps/perpdesk/internal/domain"
)

type quoteEntry struct {
	price decimal.Decimal
	ts    time.Time
}

// PriceCache is an in-memory domain.PriceCache. Entries never expire;
// readers judge freshness from the stored timestamp.
type PriceCache struct {
	mu     sync.RWMutex
	quotes map[string]quoteEntry
}

var _ domain.PriceCache = (*PriceCache)(nil)

// NewPriceCache creates an empty PriceCache.
func NewPriceCache() *PriceCache {
	return &PriceCache{quotes: make(map[string]quoteEntry)}
}

// SetPrice stores the latest quote and timestamp for a market symbol.
func (pc *PriceCache) SetPrice(_ context.Context, symbol string, price decimal.Decimal, ts time.Time) error {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	pc.quotes[symbol] = quoteEntry{price: price, ts: ts}
	return nil
}

// GetPrice retrieves the latest quote and timestamp for a market symbol.
// It returns domain.ErrNotFound when no quote has been cached.
func (pc *PriceCache) GetPrice(_ context.Context, symbol string) (decimal.Decimal, time.Time, error) {
	pc.mu.RLock()
	defer pc.mu.RUnlock()

	entry, ok := pc.quotes[symbol]
	if !ok {
		return decimal.Zero, time.Time{}, domain.ErrNotFound
	}
	return entry.price, entry.ts, nil
}

// RateLimiter is an in-memory sliding-window domain.RateLimiter. Each key
// keeps the timestamps of its admitted requests; requests older than the
// window are pruned on every call.
type RateLimiter struct {
	mu      sync.Mutex
	windows map[string][]time.Time
	now     func() time.Time
}

var _ domain.RateLimiter = (*RateLimiter)(nil)

// NewRateLimiter creates an empty RateLimiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{windows: make(map[string][]time.Time), now: time.Now}
}

// Allow checks whether a request for the given key is permitted under the
// sliding window rate limit. It returns true if the request is allowed (and
// the request is counted), or false if the limit has been reached.
func (rl *RateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	cutoff := now.Add(-window)

	kept := rl.windows[key][:0]
	for _, ts := range rl.windows[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= limit {
		rl.windows[key] = kept
		return false, nil
	}

	rl.windows[key] = append(kept, now)
	return true, nil
}
