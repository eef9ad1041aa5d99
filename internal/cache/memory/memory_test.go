package memory

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/openperps/perpdesk/internal/domain"
)

func TestPriceCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	pc := NewPriceCache()

	_, _, err := pc.GetPrice(ctx, "BTC-PERP")
	require.ErrorIs(t, err, domain.ErrNotFound)

	ts := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, pc.SetPrice(ctx, "BTC-PERP", decimal.NewFromInt(97000), ts))

	price, got, err := pc.GetPrice(ctx, "BTC-PERP")
	require.NoError(t, err)
	require.True(t, price.Equal(decimal.NewFromInt(97000)))
	require.True(t, got.Equal(ts))

	// Overwrites replace the previous quote.
	require.NoError(t, pc.SetPrice(ctx, "BTC-PERP", decimal.NewFromInt(98000), ts.Add(time.Second)))
	price, _, err = pc.GetPrice(ctx, "BTC-PERP")
	require.NoError(t, err)
	require.True(t, price.Equal(decimal.NewFromInt(98000)))
}

func TestRateLimiterWindow(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	rl := NewRateLimiter()
	rl.now = func() time.Time { return now }

	// One request per 5s window.
	allowed, err := rl.Allow(ctx, "quote:BTC-PERP", 1, 5*time.Second)
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, err = rl.Allow(ctx, "quote:BTC-PERP", 1, 5*time.Second)
	require.NoError(t, err)
	require.False(t, allowed)

	// A different key has its own window.
	allowed, err = rl.Allow(ctx, "quote:ETH-PERP", 1, 5*time.Second)
	require.NoError(t, err)
	require.True(t, allowed)

	// After the window slides past, the key admits again.
	now = now.Add(5*time.Second + time.Millisecond)
	allowed, err = rl.Allow(ctx, "quote:BTC-PERP", 1, 5*time.Second)
	require.NoError(t, err)
	require.True(t, allowed)
}

func TestRateLimiterHigherLimit(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	rl := NewRateLimiter()
	rl.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		allowed, err := rl.Allow(ctx, "k", 3, time.Minute)
		require.NoError(t, err)
		require.True(t, allowed)
		now = now.Add(time.Second)
	}

	allowed, err := rl.Allow(ctx, "k", 3, time.Minute)
	require.NoError(t, err)
	require.False(t, allowed)

	// Denied requests are not counted, so one slot frees exactly when the
	// oldest admitted request ages out.
	now = now.Add(57*time.Second + time.Millisecond)
	allowed, err = rl.Allow(ctx, "k", 3, time.Minute)
	require.NoError(t, err)
	require.True(t, allowed)
}
