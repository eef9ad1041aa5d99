package domain

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestTradeRequestValidate(t *testing.T) {
	valid := TradeRequest{
		Market:    "XLM-PERP",
		Direction: DirectionLong,
		Size:      decimal.NewFromInt(100),
		Leverage:  10,
	}
	require.NoError(t, valid.Validate())

	cases := []struct {
		name   string
		mutate func(*TradeRequest)
	}{
		{"empty market", func(r *TradeRequest) { r.Market = "" }},
		{"bad direction", func(r *TradeRequest) { r.Direction = "sideways" }},
		{"zero size", func(r *TradeRequest) { r.Size = decimal.Zero }},
		{"negative size", func(r *TradeRequest) { r.Size = decimal.NewFromInt(-5) }},
		{"leverage too low", func(r *TradeRequest) { r.Leverage = 0 }},
		{"leverage too high", func(r *TradeRequest) { r.Leverage = 101 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := valid
			tc.mutate(&r)
			err := r.Validate()
			require.Error(t, err)
			require.True(t, errors.Is(err, ErrInvalidTrade), "want ErrInvalidTrade, got %v", err)
		})
	}
}

func TestTradeRequestLeverageBounds(t *testing.T) {
	r := TradeRequest{Market: "BTC-PERP", Direction: DirectionShort, Size: decimal.NewFromInt(1)}
	r.Leverage = MinLeverage
	require.NoError(t, r.Validate())
	r.Leverage = MaxLeverage
	require.NoError(t, r.Validate())
}

func TestTradeRequestNotional(t *testing.T) {
	r := TradeRequest{Size: decimal.RequireFromString("2.5"), Leverage: 4}
	require.True(t, r.Notional().Equal(decimal.NewFromInt(10)))
}
