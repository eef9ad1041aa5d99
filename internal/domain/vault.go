package domain

import "github.com/shopspring/decimal"

// Vault mirrors the liquidity-vault accounting the venue contract
// keeps, held locally for the demo ledger.
type Vault struct {
	TotalLiquidity decimal.Decimal `json:"totalLiquidity"`
	TotalShares    decimal.Decimal `json:"totalShares"`
	UserShares     decimal.Decimal `json:"userShares"`
	UserDeposited  decimal.Decimal `json:"userDeposited"`
}

// UserValue returns the redeemable value of the user's shares:
// userShares / totalShares * totalLiquidity, zero when the vault has no
// shares outstanding.
func (v Vault) UserValue() decimal.Decimal {
	if v.TotalShares.IsZero() {
		return decimal.Zero
	}
	return v.UserShares.Div(v.TotalShares).Mul(v.TotalLiquidity)
}

// VaultUpdate is what deposits and withdrawals hand back: the refreshed
// vault accounting, the caller's new token balance, and the transaction
// that applied the change.
type VaultUpdate struct {
	Vault    Vault           `json:"vault"`
	Balance  decimal.Decimal `json:"balance"`
	Hash     string          `json:"hash"`
	Fallback bool            `json:"fallback"`
}

// SimLedger is the complete local demo-ledger state for one session.
type SimLedger struct {
	TokenBalance decimal.Decimal `json:"tokenBalance"`
	Vault        Vault           `json:"vault"`
}

// DefaultSimLedger returns the seeded state every fresh session starts
// from.
func DefaultSimLedger() SimLedger {
	return SimLedger{
		TokenBalance: decimal.NewFromInt(1000),
		Vault: Vault{
			TotalLiquidity: decimal.NewFromInt(150000),
			TotalShares:    decimal.NewFromInt(100000),
		},
	}
}
