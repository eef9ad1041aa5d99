// Package orchestrator coordinates passkey identity, the remote ledger
// gateway, and the local demo ledger behind one API-facing surface.
//
// Mutating operations run the real network path first and fall back to
// the demo ledger on non-auth failures, tagging the outcome so the UI
// can tell real fills from demo continuity. Reads never fail; they
// degrade from the real ledger to local values.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/openperps/perpdesk/internal/domain"
	"github.com/openperps/perpdesk/internal/metrics"
)

// IdentityService manages the passkey credential and the persisted
// session.
type IdentityService interface {
	Register(ctx context.Context, username string) (domain.Session, error)
	Authenticate(ctx context.Context) (domain.Session, error)
	Current(ctx context.Context) (domain.Session, error)
	SignOut(ctx context.Context) error
}

// LedgerGateway executes contract invocations against the real network.
type LedgerGateway interface {
	ExecuteTrade(ctx context.Context, sess domain.Session, req domain.TradeRequest) (domain.TransactionAttempt, error)
	ClosePosition(ctx context.Context, sess domain.Session, market string) (domain.TransactionAttempt, error)
	Deposit(ctx context.Context, sess domain.Session, amount decimal.Decimal) (domain.TransactionAttempt, error)
	Withdraw(ctx context.Context, sess domain.Session, amount decimal.Decimal) (domain.TransactionAttempt, error)
	Balance(ctx context.Context, sess domain.Session) (decimal.Decimal, error)
	VaultInfo(ctx context.Context, sess domain.Session) (domain.Vault, error)
	FundAccount(ctx context.Context, address string) error
}

// DemoLedger is the locally persisted simulation that serves forced
// simulation mode and the fallback path.
type DemoLedger interface {
	Trade(ctx context.Context, req domain.TradeRequest) (domain.TransactionAttempt, error)
	Close(ctx context.Context, market string) (domain.TransactionAttempt, error)
	Deposit(ctx context.Context, amount decimal.Decimal) error
	Withdraw(ctx context.Context, amount decimal.Decimal) error
	Balance(ctx context.Context) (decimal.Decimal, error)
	VaultInfo(ctx context.Context) (domain.Vault, error)
}

// QuoteSource serves market prices. Quote never fails; the source field
// on the returned quote says how fresh the number is.
type QuoteSource interface {
	Quote(ctx context.Context, symbol string) domain.Quote
}

// EventSink fans operation events out to connected stream clients.
type EventSink interface {
	Broadcast(event string, payload any)
}

// Orchestrator is the single entry point the API layer talks to.
type Orchestrator struct {
	accounts  IdentityService
	gateway   LedgerGateway
	demo      DemoLedger
	quotes    QuoteSource
	markets   *domain.MarketSet
	audit     domain.AuditStore
	events    EventSink
	simForced bool
	logger    *slog.Logger

	// opLock serializes register and authenticate; the loser gets
	// ErrOperationInProgress immediately instead of queueing a second
	// authenticator prompt.
	opLock   atomic.Bool
	authCall singleflight.Group
	now      func() time.Time
}

// New creates an Orchestrator. audit and events may be nil when those
// subsystems are disabled.
func New(
	accounts IdentityService,
	gateway LedgerGateway,
	demo DemoLedger,
	quotes QuoteSource,
	markets *domain.MarketSet,
	audit domain.AuditStore,
	events EventSink,
	simForced bool,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		accounts:  accounts,
		gateway:   gateway,
		demo:      demo,
		quotes:    quotes,
		markets:   markets,
		audit:     audit,
		events:    events,
		simForced: simForced,
		logger:    logger,
		now:       time.Now,
	}
}

// Register creates a passkey credential for username, derives the
// ledger account from it, and funds that account best-effort. Only one
// register or authenticate may run at a time.
func (o *Orchestrator) Register(ctx context.Context, username string) (domain.Session, error) {
	if !o.opLock.CompareAndSwap(false, true) {
		return domain.Session{}, fmt.Errorf("orchestrator: register: %w", domain.ErrOperationInProgress)
	}
	defer o.opLock.Store(false)

	start := o.now()
	sess, err := o.accounts.Register(ctx, username)
	o.observe("register", start, err, false)
	if err != nil {
		return domain.Session{}, fmt.Errorf("orchestrator: register: %w", err)
	}

	// Fund the derived account so it can transact. The faucet is
	// best-effort: a forced-sim deployment has none configured.
	if fundErr := o.gateway.FundAccount(ctx, sess.Address()); fundErr != nil {
		o.logger.WarnContext(ctx, "orchestrator: account funding failed",
			slog.String("address", sess.Address()),
			slog.String("error", fundErr.Error()),
		)
	}

	o.auditLog(ctx, "register", map[string]any{
		"username": sess.Username,
		"address":  sess.Address(),
	})
	o.emit("session", map[string]any{"authenticated": true, "username": sess.Username})

	o.logger.InfoContext(ctx, "orchestrator: registered",
		slog.String("username", sess.Username),
		slog.String("address", sess.Address()),
	)
	return sanitize(sess), nil
}

// Authenticate asserts the stored passkey and refreshes the session.
// Concurrent calls coalesce onto one authenticator prompt and share its
// result; a register already in flight fails it immediately.
func (o *Orchestrator) Authenticate(ctx context.Context) (domain.Session, error) {
	start := o.now()
	v, err, _ := o.authCall.Do("authenticate", func() (any, error) {
		if !o.opLock.CompareAndSwap(false, true) {
			return nil, domain.ErrOperationInProgress
		}
		defer o.opLock.Store(false)

		sess, err := o.accounts.Authenticate(ctx)
		if err != nil {
			return nil, err
		}
		return sess, nil
	})
	o.observe("authenticate", start, err, false)
	if err != nil {
		return domain.Session{}, fmt.Errorf("orchestrator: authenticate: %w", err)
	}
	sess := v.(domain.Session)

	o.auditLog(ctx, "authenticate", map[string]any{
		"username": sess.Username,
		"address":  sess.Address(),
	})
	o.emit("session", map[string]any{"authenticated": true, "username": sess.Username})
	return sanitize(sess), nil
}

// Session returns the current session with the signing secret
// stripped. ErrNoCredential when nothing is registered,
// ErrSessionExpired when the last authentication is stale.
func (o *Orchestrator) Session(ctx context.Context) (domain.Session, error) {
	sess, err := o.requireSession(ctx)
	if err != nil {
		return domain.Session{}, fmt.Errorf("orchestrator: session: %w", err)
	}
	return sanitize(sess), nil
}

// SignOut purges the persisted session.
func (o *Orchestrator) SignOut(ctx context.Context) error {
	start := o.now()
	err := o.accounts.SignOut(ctx)
	o.observe("sign_out", start, err, false)
	if err != nil {
		return fmt.Errorf("orchestrator: sign out: %w", err)
	}
	o.auditLog(ctx, "sign_out", nil)
	o.emit("session", map[string]any{"authenticated": false})
	return nil
}

// PlaceOrder validates and executes one leveraged order. The real path
// runs first unless simulation is forced; a non-auth real failure falls
// back to the demo ledger with Fallback set on the outcome.
func (o *Orchestrator) PlaceOrder(ctx context.Context, req domain.TradeRequest) (domain.TradeOutcome, error) {
	start := o.now()
	outcome, err := o.placeOrder(ctx, req)
	o.observe("place_order", start, err, outcome.Fallback)
	return outcome, err
}

func (o *Orchestrator) placeOrder(ctx context.Context, req domain.TradeRequest) (domain.TradeOutcome, error) {
	if err := req.Validate(); err != nil {
		return domain.TradeOutcome{}, fmt.Errorf("orchestrator: place order: %w", err)
	}
	if _, err := o.markets.Get(req.Market); err != nil {
		return domain.TradeOutcome{}, fmt.Errorf("orchestrator: place order: market %q: %w", req.Market, err)
	}
	sess, err := o.requireSession(ctx)
	if err != nil {
		return domain.TradeOutcome{}, fmt.Errorf("orchestrator: place order: %w", err)
	}

	outcome, err := o.runTrade(ctx, sess,
		func() (domain.TransactionAttempt, error) { return o.gateway.ExecuteTrade(ctx, sess, req) },
		func() (domain.TransactionAttempt, error) { return o.demo.Trade(ctx, req) },
	)
	if err != nil {
		return domain.TradeOutcome{}, fmt.Errorf("orchestrator: place order: %w", err)
	}

	detail := map[string]any{
		"market":    req.Market,
		"direction": string(req.Direction),
		"size":      req.Size.String(),
		"leverage":  req.Leverage,
		"hash":      outcome.Hash,
		"fallback":  outcome.Fallback,
	}
	o.auditLog(ctx, "order_submitted", detail)
	o.emit("order_submitted", detail)
	return outcome, nil
}

// ClosePosition closes the open position on market via the contract's
// generic entry point, with the same dual-path rules as PlaceOrder.
func (o *Orchestrator) ClosePosition(ctx context.Context, market string) (domain.TradeOutcome, error) {
	start := o.now()
	outcome, err := o.closePosition(ctx, market)
	o.observe("close_position", start, err, outcome.Fallback)
	return outcome, err
}

func (o *Orchestrator) closePosition(ctx context.Context, market string) (domain.TradeOutcome, error) {
	if _, err := o.markets.Get(market); err != nil {
		return domain.TradeOutcome{}, fmt.Errorf("orchestrator: close position: market %q: %w", market, err)
	}
	sess, err := o.requireSession(ctx)
	if err != nil {
		return domain.TradeOutcome{}, fmt.Errorf("orchestrator: close position: %w", err)
	}

	outcome, err := o.runTrade(ctx, sess,
		func() (domain.TransactionAttempt, error) { return o.gateway.ClosePosition(ctx, sess, market) },
		func() (domain.TransactionAttempt, error) { return o.demo.Close(ctx, market) },
	)
	if err != nil {
		return domain.TradeOutcome{}, fmt.Errorf("orchestrator: close position: %w", err)
	}

	detail := map[string]any{
		"market":   market,
		"hash":     outcome.Hash,
		"fallback": outcome.Fallback,
	}
	o.auditLog(ctx, "position_closed", detail)
	o.emit("position_closed", detail)
	return outcome, nil
}

// runTrade executes real and demo closures per the effective mode. In
// forced simulation the demo result is authoritative, not a fallback.
func (o *Orchestrator) runTrade(
	ctx context.Context,
	sess domain.Session,
	real, demo func() (domain.TransactionAttempt, error),
) (domain.TradeOutcome, error) {
	if o.simForced {
		attempt, err := demo()
		if err != nil {
			return domain.TradeOutcome{}, err
		}
		return domain.TradeOutcome{Hash: attempt.Hash, Attempt: attempt}, nil
	}

	attempt, err := real()
	if err == nil {
		return domain.TradeOutcome{Hash: attempt.Hash, Attempt: attempt}, nil
	}
	if isAuthError(err) {
		return domain.TradeOutcome{}, err
	}

	o.logger.WarnContext(ctx, "orchestrator: real path failed, continuing on demo ledger",
		slog.String("address", sess.Address()),
		slog.String("error", err.Error()),
	)
	fallback, demoErr := demo()
	if demoErr != nil {
		return domain.TradeOutcome{}, errors.Join(err, demoErr)
	}
	return domain.TradeOutcome{Hash: fallback.Hash, Fallback: true, Attempt: fallback}, nil
}

// DepositVault moves amount from the user's token balance into the
// liquidity vault and returns the refreshed vault state.
func (o *Orchestrator) DepositVault(ctx context.Context, amount decimal.Decimal) (domain.VaultUpdate, error) {
	start := o.now()
	update, err := o.vaultOp(ctx, "deposit", amount,
		func(sess domain.Session) (domain.TransactionAttempt, error) { return o.gateway.Deposit(ctx, sess, amount) },
		func() error { return o.demo.Deposit(ctx, amount) },
	)
	o.observe("vault_deposit", start, err, update.Fallback)
	if err != nil {
		return domain.VaultUpdate{}, err
	}
	o.auditVault(ctx, "vault_deposit", amount, update)
	return update, nil
}

// WithdrawVault redeems amount of vault value back to the user's token
// balance and returns the refreshed vault state.
func (o *Orchestrator) WithdrawVault(ctx context.Context, amount decimal.Decimal) (domain.VaultUpdate, error) {
	start := o.now()
	update, err := o.vaultOp(ctx, "withdraw", amount,
		func(sess domain.Session) (domain.TransactionAttempt, error) { return o.gateway.Withdraw(ctx, sess, amount) },
		func() error { return o.demo.Withdraw(ctx, amount) },
	)
	o.observe("vault_withdraw", start, err, update.Fallback)
	if err != nil {
		return domain.VaultUpdate{}, err
	}
	o.auditVault(ctx, "vault_withdraw", amount, update)
	return update, nil
}

// vaultOp runs one vault mutation through the dual path, then re-reads
// vault and balance so the caller observes its own write.
func (o *Orchestrator) vaultOp(
	ctx context.Context,
	op string,
	amount decimal.Decimal,
	real func(domain.Session) (domain.TransactionAttempt, error),
	demo func() error,
) (domain.VaultUpdate, error) {
	if !amount.IsPositive() {
		return domain.VaultUpdate{}, fmt.Errorf("orchestrator: %s: amount must be positive, got %s: %w",
			op, amount, domain.ErrInvalidTrade)
	}
	sess, err := o.requireSession(ctx)
	if err != nil {
		return domain.VaultUpdate{}, fmt.Errorf("orchestrator: %s: %w", op, err)
	}

	if o.simForced {
		if err := demo(); err != nil {
			return domain.VaultUpdate{}, fmt.Errorf("orchestrator: %s: %w", op, err)
		}
		return o.refreshDemoVault(ctx, "", false), nil
	}

	attempt, err := real(sess)
	if err == nil {
		return o.refreshRealVault(ctx, sess, attempt.Hash), nil
	}
	if isAuthError(err) {
		return domain.VaultUpdate{}, fmt.Errorf("orchestrator: %s: %w", op, err)
	}

	o.logger.WarnContext(ctx, "orchestrator: real path failed, continuing on demo ledger",
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
	if demoErr := demo(); demoErr != nil {
		return domain.VaultUpdate{}, fmt.Errorf("orchestrator: %s: %w", op, errors.Join(err, demoErr))
	}
	return o.refreshDemoVault(ctx, "", true), nil
}

// refreshRealVault reads post-operation vault and balance from the
// network. Read failures degrade to local values rather than failing an
// operation that already succeeded.
func (o *Orchestrator) refreshRealVault(ctx context.Context, sess domain.Session, hash string) domain.VaultUpdate {
	update := domain.VaultUpdate{Hash: hash}

	vault, err := o.gateway.VaultInfo(ctx, sess)
	if err != nil {
		o.logger.WarnContext(ctx, "orchestrator: vault refresh failed, serving local state",
			slog.String("error", err.Error()))
		return o.refreshDemoVault(ctx, hash, false)
	}
	update.Vault = vault

	balance, err := o.gateway.Balance(ctx, sess)
	if err != nil {
		o.logger.WarnContext(ctx, "orchestrator: balance refresh failed",
			slog.String("error", err.Error()))
		balance = o.demoBalance(ctx)
	}
	update.Balance = balance
	return update
}

// refreshDemoVault reads post-operation vault and balance from the demo
// ledger.
func (o *Orchestrator) refreshDemoVault(ctx context.Context, hash string, fallback bool) domain.VaultUpdate {
	update := domain.VaultUpdate{Hash: hash, Fallback: fallback}

	vault, err := o.demo.VaultInfo(ctx)
	if err != nil {
		o.logger.WarnContext(ctx, "orchestrator: demo vault read failed",
			slog.String("error", err.Error()))
		vault = domain.DefaultSimLedger().Vault
	}
	update.Vault = vault
	update.Balance = o.demoBalance(ctx)
	return update
}

// Balance returns the user's token balance. It never fails: the real
// ledger answers when a valid session exists, then the demo ledger,
// then the seeded default.
func (o *Orchestrator) Balance(ctx context.Context) decimal.Decimal {
	if !o.simForced {
		if sess, err := o.requireSession(ctx); err == nil {
			balance, err := o.gateway.Balance(ctx, sess)
			if err == nil {
				return balance
			}
			o.logger.WarnContext(ctx, "orchestrator: real balance read failed, serving local state",
				slog.String("error", err.Error()))
		}
	}
	return o.demoBalance(ctx)
}

// VaultInfo returns the vault accounting. It never fails, degrading the
// same way Balance does.
func (o *Orchestrator) VaultInfo(ctx context.Context) domain.Vault {
	if !o.simForced {
		if sess, err := o.requireSession(ctx); err == nil {
			vault, err := o.gateway.VaultInfo(ctx, sess)
			if err == nil {
				return vault
			}
			o.logger.WarnContext(ctx, "orchestrator: real vault read failed, serving local state",
				slog.String("error", err.Error()))
		}
	}
	vault, err := o.demo.VaultInfo(ctx)
	if err != nil {
		o.logger.WarnContext(ctx, "orchestrator: demo vault read failed",
			slog.String("error", err.Error()))
		return domain.DefaultSimLedger().Vault
	}
	return vault
}

// Price returns the current quote for symbol. It never fails; the quote
// source degrades from live feed to cache to a synthetic walk.
func (o *Orchestrator) Price(ctx context.Context, symbol string) domain.Quote {
	return o.quotes.Quote(ctx, symbol)
}

// Markets returns the configured allow-list in display order.
func (o *Orchestrator) Markets() []domain.Market {
	return o.markets.List()
}

// SupportsMarket reports whether symbol is on the allow-list.
func (o *Orchestrator) SupportsMarket(symbol string) bool {
	return o.markets.Contains(symbol)
}

// AuditTrail returns the most recent audit entries, newest first. It
// serves the dashboard's activity panel; an empty slice when auditing
// is disabled.
func (o *Orchestrator) AuditTrail(ctx context.Context, limit int) ([]domain.AuditEntry, error) {
	if o.audit == nil {
		return nil, nil
	}
	entries, err := o.audit.ListRecent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: audit trail: %w", err)
	}
	return entries, nil
}

// requireSession loads the persisted session and checks freshness.
func (o *Orchestrator) requireSession(ctx context.Context) (domain.Session, error) {
	sess, err := o.accounts.Current(ctx)
	if err != nil {
		return domain.Session{}, err
	}
	if !sess.Valid(o.now()) {
		return domain.Session{}, fmt.Errorf("last authenticated %s: %w",
			sess.LastAuth.Format(time.RFC3339), domain.ErrSessionExpired)
	}
	return sess, nil
}

func (o *Orchestrator) demoBalance(ctx context.Context) decimal.Decimal {
	balance, err := o.demo.Balance(ctx)
	if err != nil {
		o.logger.WarnContext(ctx, "orchestrator: demo balance read failed",
			slog.String("error", err.Error()))
		return domain.DefaultSimLedger().TokenBalance
	}
	return balance
}

func (o *Orchestrator) auditVault(ctx context.Context, event string, amount decimal.Decimal, update domain.VaultUpdate) {
	detail := map[string]any{
		"amount":   amount.String(),
		"hash":     update.Hash,
		"fallback": update.Fallback,
		"balance":  update.Balance.String(),
	}
	o.auditLog(ctx, event, detail)
	o.emit("vault_update", map[string]any{
		"vault":    update.Vault,
		"balance":  update.Balance.String(),
		"fallback": update.Fallback,
	})
}

func (o *Orchestrator) auditLog(ctx context.Context, event string, detail map[string]any) {
	if o.audit == nil {
		return
	}
	if err := o.audit.Log(ctx, event, detail); err != nil {
		o.logger.WarnContext(ctx, "orchestrator: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (o *Orchestrator) emit(event string, payload any) {
	if o.events == nil {
		return
	}
	o.events.Broadcast(event, payload)
}

func (o *Orchestrator) observe(op string, start time.Time, err error, fallback bool) {
	outcome := metrics.OutcomeOK
	switch {
	case err != nil:
		outcome = metrics.OutcomeError
	case fallback:
		outcome = metrics.OutcomeFallback
	}
	metrics.OperationsTotal.WithLabelValues(op, outcome).Inc()
	metrics.OperationDuration.WithLabelValues(op).Observe(o.now().Sub(start).Seconds())
}

// isAuthError reports whether err means the user is not (or no longer)
// authenticated. The demo fallback never masks these.
func isAuthError(err error) bool {
	return errors.Is(err, domain.ErrUnauthenticated) ||
		errors.Is(err, domain.ErrNoCredential) ||
		errors.Is(err, domain.ErrSessionExpired)
}

// sanitize strips the signing secret before a session crosses the API
// boundary.
func sanitize(sess domain.Session) domain.Session {
	sess.Secret = ""
	return sess
}
