// Package sim implements the local demo ledger: instant-fill trades and
// a share-based vault, persisted between runs. It keeps the dashboard
// usable when the real ledger is unreachable or simulation mode is
// forced.
package sim

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/openperps/perpdesk/internal/config"
	"github.com/openperps/perpdesk/internal/domain"
)

// Attempt labels match the real contract entry points so simulated
// results render the same way in the dashboard.
const (
	labelTrade  = "create_position"
	labelSubmit = "submit"
)

// LedgerRepository persists the demo ledger between runs.
type LedgerRepository interface {
	LoadSimLedger(ctx context.Context) (domain.SimLedger, error)
	SaveSimLedger(ctx context.Context, ledger domain.SimLedger) error
}

// Engine mutates the demo ledger. Every mutation is computed in full and
// persisted as one snapshot under the engine mutex, so no partial state
// is ever observable.
type Engine struct {
	mu     sync.Mutex
	repo   LedgerRepository
	cfg    config.SimConfig
	logger *slog.Logger
}

// NewEngine creates an Engine over repo.
func NewEngine(repo LedgerRepository, cfg config.SimConfig, logger *slog.Logger) *Engine {
	return &Engine{repo: repo, cfg: cfg, logger: logger}
}

// Trade fills req instantly after the configured artificial delay. The
// returned attempt is always successful with a random hash; position
// tracking stays on the venue side even in demo mode.
func (e *Engine) Trade(ctx context.Context, req domain.TradeRequest) (domain.TransactionAttempt, error) {
	if err := req.Validate(); err != nil {
		return domain.TransactionAttempt{}, err
	}

	attempt, err := e.fill(ctx, labelTrade)
	if err != nil {
		return attempt, err
	}

	e.logger.InfoContext(ctx, "sim: trade filled",
		slog.String("market", req.Market),
		slog.String("direction", string(req.Direction)),
		slog.String("size", req.Size.String()),
		slog.Int("leverage", req.Leverage),
		slog.String("hash", attempt.Hash),
	)
	return attempt, nil
}

// Close unwinds a demo position on market.
func (e *Engine) Close(ctx context.Context, market string) (domain.TransactionAttempt, error) {
	if market == "" {
		return domain.TransactionAttempt{}, fmt.Errorf("sim: close requires a market: %w", domain.ErrInvalidTrade)
	}

	attempt, err := e.fill(ctx, labelSubmit)
	if err != nil {
		return attempt, err
	}

	e.logger.InfoContext(ctx, "sim: position closed",
		slog.String("market", market),
		slog.String("hash", attempt.Hash),
	)
	return attempt, nil
}

// Deposit moves amount from the demo balance into the vault, minting
// shares pro rata against current liquidity (1:1 when the vault is
// empty).
func (e *Engine) Deposit(ctx context.Context, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("sim: deposit amount must be positive: %w", domain.ErrInvalidTrade)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	ledger, err := e.loadLocked(ctx)
	if err != nil {
		return err
	}

	if amount.GreaterThan(ledger.TokenBalance) {
		return fmt.Errorf("sim: deposit %s exceeds balance %s: %w",
			amount, ledger.TokenBalance, domain.ErrInsufficientBalance)
	}

	v := ledger.Vault
	newShares := amount
	if v.TotalShares.IsPositive() && v.TotalLiquidity.IsPositive() {
		newShares = amount.Div(v.TotalLiquidity).Mul(v.TotalShares)
	}

	ledger.TokenBalance = ledger.TokenBalance.Sub(amount)
	v.TotalLiquidity = v.TotalLiquidity.Add(amount)
	v.TotalShares = v.TotalShares.Add(newShares)
	v.UserShares = v.UserShares.Add(newShares)
	v.UserDeposited = v.UserDeposited.Add(amount)
	ledger.Vault = v

	if err := e.repo.SaveSimLedger(ctx, ledger); err != nil {
		return fmt.Errorf("sim: persist ledger: %w", err)
	}

	e.logger.InfoContext(ctx, "sim: vault deposit",
		slog.String("amount", amount.String()),
		slog.String("shares", newShares.String()),
	)
	return nil
}

// Withdraw redeems amount of vault value back to the demo balance,
// burning shares pro rata. Withdrawing more than the user's current
// share value fails with ErrInsufficientPosition.
func (e *Engine) Withdraw(ctx context.Context, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("sim: withdraw amount must be positive: %w", domain.ErrInvalidTrade)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	ledger, err := e.loadLocked(ctx)
	if err != nil {
		return err
	}

	v := ledger.Vault
	userValue := v.UserValue()
	if amount.GreaterThan(userValue) {
		return fmt.Errorf("sim: withdraw %s exceeds position value %s: %w",
			amount, userValue, domain.ErrInsufficientPosition)
	}

	sharesToBurn := decimal.Zero
	if v.TotalLiquidity.IsPositive() {
		sharesToBurn = amount.Div(v.TotalLiquidity).Mul(v.TotalShares)
	}

	v.TotalLiquidity = clampZero(v.TotalLiquidity.Sub(amount))
	v.TotalShares = clampZero(v.TotalShares.Sub(sharesToBurn))
	v.UserShares = clampZero(v.UserShares.Sub(sharesToBurn))
	v.UserDeposited = clampZero(v.UserDeposited.Sub(amount))
	ledger.Vault = v
	ledger.TokenBalance = ledger.TokenBalance.Add(amount)

	if err := e.repo.SaveSimLedger(ctx, ledger); err != nil {
		return fmt.Errorf("sim: persist ledger: %w", err)
	}

	e.logger.InfoContext(ctx, "sim: vault withdrawal",
		slog.String("amount", amount.String()),
		slog.String("sharesBurned", sharesToBurn.String()),
	)
	return nil
}

// Balance returns the demo token balance.
func (e *Engine) Balance(ctx context.Context) (decimal.Decimal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ledger, err := e.loadLocked(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return ledger.TokenBalance, nil
}

// VaultInfo returns the demo vault snapshot.
func (e *Engine) VaultInfo(ctx context.Context) (domain.Vault, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ledger, err := e.loadLocked(ctx)
	if err != nil {
		return domain.Vault{}, err
	}
	return ledger.Vault, nil
}

// fill runs the artificial delay and produces a successful attempt with
// a random hash, walking the same stages a real invocation sees.
func (e *Engine) fill(ctx context.Context, label string) (domain.TransactionAttempt, error) {
	attempt := domain.NewAttempt(uuid.NewString(), label)

	if err := e.delay(ctx); err != nil {
		attempt.Fail(err)
		return attempt, err
	}

	_ = attempt.Transition(domain.AttemptSimulated)
	_ = attempt.Transition(domain.AttemptSigned)
	_ = attempt.Transition(domain.AttemptSubmitted)
	_ = attempt.Transition(domain.AttemptSuccess)
	attempt.Hash = randomHash()
	return attempt, nil
}

// delay pauses for the configured fill delay, honouring cancellation.
// A zero or negative delay skips the pause.
func (e *Engine) delay(ctx context.Context) error {
	d := e.cfg.Delay.Duration
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (e *Engine) loadLocked(ctx context.Context) (domain.SimLedger, error) {
	ledger, err := e.repo.LoadSimLedger(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.DefaultSimLedger(), nil
	}
	if err != nil {
		return domain.SimLedger{}, fmt.Errorf("sim: load ledger: %w", err)
	}
	return ledger, nil
}

func randomHash() string {
	var b [32]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

func clampZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
