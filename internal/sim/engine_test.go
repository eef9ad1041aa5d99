package sim

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/openperps/perpdesk/internal/config"
	"github.com/openperps/perpdesk/internal/domain"
	"github.com/openperps/perpdesk/internal/store"
	"github.com/openperps/perpdesk/internal/store/memory"
)

func newTestEngine(t *testing.T) (*Engine, *store.Repository) {
	t.Helper()
	repo := store.NewRepository(memory.New(), "", "")
	cfg := config.Defaults().Sim
	cfg.Delay.Duration = 0
	return NewEngine(repo, cfg, slog.New(slog.DiscardHandler)), repo
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestTradeAlwaysFills(t *testing.T) {
	e, _ := newTestEngine(t)

	attempt, err := e.Trade(context.Background(), domain.TradeRequest{
		Market:    "BTC-PERP",
		Direction: domain.DirectionShort,
		Size:      dec("25"),
		Leverage:  5,
	})
	require.NoError(t, err)
	require.Equal(t, domain.AttemptSuccess, attempt.Status)
	require.Equal(t, "create_position", attempt.Function)
	require.Len(t, attempt.Hash, 64)
}

func TestTradeValidatesFirst(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.Trade(context.Background(), domain.TradeRequest{
		Market:    "BTC-PERP",
		Direction: "sideways",
		Size:      dec("25"),
		Leverage:  5,
	})
	require.ErrorIs(t, err, domain.ErrInvalidTrade)
}

func TestTradeDelayHonoursCancellation(t *testing.T) {
	repo := store.NewRepository(memory.New(), "", "")
	cfg := config.Defaults().Sim
	cfg.Delay.Duration = time.Minute
	e := NewEngine(repo, cfg, slog.New(slog.DiscardHandler))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempt, err := e.Trade(ctx, domain.TradeRequest{
		Market:    "BTC-PERP",
		Direction: domain.DirectionLong,
		Size:      dec("1"),
		Leverage:  1,
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, domain.AttemptFailed, attempt.Status)
}

func TestDepositDefaultVault(t *testing.T) {
	e, repo := newTestEngine(t)
	ctx := context.Background()

	// 150 into 150000 liquidity / 100000 shares mints exactly 100 shares.
	require.NoError(t, e.Deposit(ctx, dec("150")))

	ledger, err := repo.LoadSimLedger(ctx)
	require.NoError(t, err)
	require.True(t, ledger.TokenBalance.Equal(dec("850")))
	require.True(t, ledger.Vault.TotalLiquidity.Equal(dec("150150")))
	require.True(t, ledger.Vault.TotalShares.Equal(dec("100100")))
	require.True(t, ledger.Vault.UserShares.Equal(dec("100")))
	require.True(t, ledger.Vault.UserDeposited.Equal(dec("150")))
}

func TestDepositExceedingBalance(t *testing.T) {
	e, repo := newTestEngine(t)
	ctx := context.Background()

	err := e.Deposit(ctx, dec("1001"))
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)

	// Nothing was persisted.
	_, err = repo.LoadSimLedger(ctx)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestEmptyVaultBootstrapsOneToOne(t *testing.T) {
	e, repo := newTestEngine(t)
	ctx := context.Background()

	// Start from an empty vault rather than the seeded default.
	require.NoError(t, repo.SaveSimLedger(ctx, domain.SimLedger{
		TokenBalance: dec("1000"),
		Vault:        domain.Vault{},
	}))

	require.NoError(t, e.Deposit(ctx, dec("500")))

	ledger, err := repo.LoadSimLedger(ctx)
	require.NoError(t, err)
	require.True(t, ledger.Vault.TotalShares.Equal(dec("500")))
	require.True(t, ledger.Vault.UserShares.Equal(dec("500")))
	require.True(t, ledger.Vault.TotalLiquidity.Equal(dec("500")))
}

func TestWithdrawRoundTrip(t *testing.T) {
	e, repo := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, repo.SaveSimLedger(ctx, domain.SimLedger{
		TokenBalance: dec("1000"),
		Vault:        domain.Vault{},
	}))
	require.NoError(t, e.Deposit(ctx, dec("500")))

	// Sole depositor: share price is exactly 1, so a 200 withdrawal burns
	// exactly 200 shares.
	require.NoError(t, e.Withdraw(ctx, dec("200")))

	ledger, err := repo.LoadSimLedger(ctx)
	require.NoError(t, err)
	require.True(t, ledger.TokenBalance.Equal(dec("700")))
	require.True(t, ledger.Vault.TotalLiquidity.Equal(dec("300")))
	require.True(t, ledger.Vault.TotalShares.Equal(dec("300")))
	require.True(t, ledger.Vault.UserShares.Equal(dec("300")))
	require.True(t, ledger.Vault.UserDeposited.Equal(dec("300")))

	// Withdrawing the full remaining value empties the vault.
	require.NoError(t, e.Withdraw(ctx, dec("300")))
	ledger, err = repo.LoadSimLedger(ctx)
	require.NoError(t, err)
	require.True(t, ledger.TokenBalance.Equal(dec("1000")))
	require.True(t, ledger.Vault.TotalShares.IsZero())
	require.True(t, ledger.Vault.UserShares.IsZero())
}

func TestWithdrawExceedingPosition(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	// Default vault: the user holds no shares, so any withdrawal fails.
	err := e.Withdraw(ctx, dec("1"))
	require.ErrorIs(t, err, domain.ErrInsufficientPosition)

	balance, err := e.Balance(ctx)
	require.NoError(t, err)
	require.True(t, balance.Equal(dec("1000")))
}

func TestReadsServeDefaultsBeforeFirstWrite(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	balance, err := e.Balance(ctx)
	require.NoError(t, err)
	require.True(t, balance.Equal(dec("1000")))

	vault, err := e.VaultInfo(ctx)
	require.NoError(t, err)
	require.True(t, vault.TotalLiquidity.Equal(dec("150000")))
	require.True(t, vault.TotalShares.Equal(dec("100000")))
	require.True(t, vault.UserValue().IsZero())
}

func TestCloseProducesSubmitAttempt(t *testing.T) {
	e, _ := newTestEngine(t)

	attempt, err := e.Close(context.Background(), "XLM-PERP")
	require.NoError(t, err)
	require.Equal(t, "submit", attempt.Function)
	require.Equal(t, domain.AttemptSuccess, attempt.Status)
}
