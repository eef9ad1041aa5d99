package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Direction indicates which side of a perp position a trade opens.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// Leverage bounds accepted by the venue contract.
const (
	MinLeverage = 1
	MaxLeverage = 100
)

// TradeRequest describes one position the user wants to open.
type TradeRequest struct {
	Market    string
	Direction Direction
	Size      decimal.Decimal
	Leverage  int
}

// Validate checks the request against local rules. It runs before
// anything touches the network; a request that fails here produces no
// ledger traffic at all.
func (r TradeRequest) Validate() error {
	if r.Market == "" {
		return fmt.Errorf("trade: market is required: %w", ErrInvalidTrade)
	}
	if r.Direction != DirectionLong && r.Direction != DirectionShort {
		return fmt.Errorf("trade: direction must be long or short, got %q: %w", r.Direction, ErrInvalidTrade)
	}
	if !r.Size.IsPositive() {
		return fmt.Errorf("trade: size must be positive, got %s: %w", r.Size, ErrInvalidTrade)
	}
	if r.Leverage < MinLeverage || r.Leverage > MaxLeverage {
		return fmt.Errorf("trade: leverage must be between %d and %d, got %d: %w",
			MinLeverage, MaxLeverage, r.Leverage, ErrInvalidTrade)
	}
	return nil
}

// Notional returns size multiplied by leverage.
func (r TradeRequest) Notional() decimal.Decimal {
	return r.Size.Mul(decimal.NewFromInt(int64(r.Leverage)))
}

// TradeOutcome is what the orchestrator hands back after a trade or
// vault operation. Fallback marks results produced by the local demo
// ledger after the real path failed, so the UI can label them.
type TradeOutcome struct {
	Hash     string             `json:"hash"`
	Fallback bool               `json:"fallback"`
	Attempt  TransactionAttempt `json:"attempt"`
}
