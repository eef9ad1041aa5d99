package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/openperps/perpdesk/internal/config"
	"github.com/openperps/perpdesk/internal/crypto"
	"github.com/openperps/perpdesk/internal/domain"
)

// Contract entry points. create_position is the dedicated trade
// function; submit is the older generic entry point kept for fallback
// and for closes (a zero-size submit closes the open position).
const (
	fnCreatePosition = "create_position"
	fnSubmit         = "submit"
	fnDeposit        = "deposit"
	fnWithdraw       = "withdraw"
	fnBalance        = "balance"
	fnVaultInfo      = "vault_info"

	defaultPriceFunction = "lastprice"
	defaultMaxPolls      = 10
	defaultPollInterval  = 2 * time.Second
)

// rpcNode is the slice of the RPC client the gateway depends on.
type rpcNode interface {
	GetAccount(ctx context.Context, address string) (Account, error)
	SimulateTransaction(ctx context.Context, inv Invocation) (SimulationResult, error)
	SendTransaction(ctx context.Context, signed SignedInvocation) (SendResult, error)
	GetTransaction(ctx context.Context, hash string) (TxResult, error)
}

var _ rpcNode = (*Client)(nil)

// Gateway drives contract invocations through the node: build, simulate,
// sign, send, poll. Reads go through simulation only and are never
// signed.
type Gateway struct {
	node       rpcNode
	cfg        config.LedgerConfig
	logger     *slog.Logger
	httpClient *http.Client
}

// NewGateway creates a Gateway over the given node.
func NewGateway(node rpcNode, cfg config.LedgerConfig, logger *slog.Logger) *Gateway {
	timeout := cfg.RequestTimeout.Duration
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Gateway{
		node:       node,
		cfg:        cfg,
		logger:     logger,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// ExecuteTrade opens a position for req. The dedicated create_position
// entry point is tried first; when that attempt fails in simulation or
// submission, one retry goes through the generic submit entry point, and
// a double failure reports both causes. Timeouts are not retried: the
// first transaction may still land, and a second submission could fill
// twice.
func (g *Gateway) ExecuteTrade(ctx context.Context, sess domain.Session, req domain.TradeRequest) (domain.TransactionAttempt, error) {
	if err := req.Validate(); err != nil {
		return domain.TransactionAttempt{}, err
	}

	args := []Arg{
		AddressArg(sess.Address()),
		SymbolArg(req.Market),
		I128Arg(ScaleAmount(req.Size)),
		U32Arg(uint32(req.Leverage)),
		BoolArg(req.Direction == domain.DirectionLong),
	}

	attempt, err := g.execute(ctx, sess, fnCreatePosition, args)
	if err == nil {
		return attempt, nil
	}
	if !retryable(err) {
		return attempt, err
	}

	g.logger.WarnContext(ctx, "ledger: create_position failed, retrying via submit",
		slog.String("market", req.Market),
		slog.String("error", err.Error()),
	)

	fallback, fallbackErr := g.execute(ctx, sess, fnSubmit, args)
	if fallbackErr != nil {
		return fallback, fmt.Errorf("ledger: both entry points failed: %w", errors.Join(err, fallbackErr))
	}
	return fallback, nil
}

// retryable reports whether a failed create_position attempt should be
// retried through submit. Timeouts are excluded because the transaction
// may still land; auth failures are excluded because the retry would
// fail identically.
func retryable(err error) bool {
	return !errors.Is(err, domain.ErrTransactionTimeout) &&
		!errors.Is(err, domain.ErrUnauthenticated)
}

// Deposit adds amount to the vault from the session account.
func (g *Gateway) Deposit(ctx context.Context, sess domain.Session, amount decimal.Decimal) (domain.TransactionAttempt, error) {
	if !amount.IsPositive() {
		return domain.TransactionAttempt{}, fmt.Errorf("ledger: deposit amount must be positive: %w", domain.ErrInvalidTrade)
	}
	args := []Arg{AddressArg(sess.Address()), I128Arg(ScaleAmount(amount))}
	return g.execute(ctx, sess, fnDeposit, args)
}

// Withdraw removes amount of vault value back to the session account.
func (g *Gateway) Withdraw(ctx context.Context, sess domain.Session, amount decimal.Decimal) (domain.TransactionAttempt, error) {
	if !amount.IsPositive() {
		return domain.TransactionAttempt{}, fmt.Errorf("ledger: withdraw amount must be positive: %w", domain.ErrInvalidTrade)
	}
	args := []Arg{AddressArg(sess.Address()), I128Arg(ScaleAmount(amount))}
	return g.execute(ctx, sess, fnWithdraw, args)
}

// ClosePosition unwinds the open position on market through the generic
// entry point: a zero-size submit closes instead of opening.
func (g *Gateway) ClosePosition(ctx context.Context, sess domain.Session, market string) (domain.TransactionAttempt, error) {
	if market == "" {
		return domain.TransactionAttempt{}, fmt.Errorf("ledger: close requires a market: %w", domain.ErrInvalidTrade)
	}
	args := []Arg{
		AddressArg(sess.Address()),
		SymbolArg(market),
		I128Arg(big.NewInt(0)),
		U32Arg(1),
		BoolArg(true),
	}
	return g.execute(ctx, sess, fnSubmit, args)
}

// Balance reads the session account's token balance via simulation.
func (g *Gateway) Balance(ctx context.Context, sess domain.Session) (decimal.Decimal, error) {
	res, err := g.simulateCall(ctx, sess.Address(), g.contractFor(sess), fnBalance, []Arg{AddressArg(sess.Address())})
	if err != nil {
		return decimal.Zero, err
	}
	v, err := res.I128()
	if err != nil {
		return decimal.Zero, err
	}
	return UnscaleAmount(v), nil
}

// VaultInfo reads the vault totals and the session account's share via
// simulation.
func (g *Gateway) VaultInfo(ctx context.Context, sess domain.Session) (domain.Vault, error) {
	res, err := g.simulateCall(ctx, sess.Address(), g.contractFor(sess), fnVaultInfo, []Arg{AddressArg(sess.Address())})
	if err != nil {
		return domain.Vault{}, err
	}
	return decodeVault(res)
}

// ContractPrice reads the venue's own price for market through the
// configured price function.
func (g *Gateway) ContractPrice(ctx context.Context, market string) (decimal.Decimal, error) {
	fn := g.cfg.PriceFunction
	if fn == "" {
		fn = defaultPriceFunction
	}
	res, err := g.simulateCall(ctx, g.cfg.ContractID, g.cfg.ContractID, fn, []Arg{SymbolArg(market)})
	if err != nil {
		return decimal.Zero, err
	}
	v, err := res.I128()
	if err != nil {
		return decimal.Zero, err
	}
	return UnscaleAmount(v), nil
}

// FundAccount asks the faucet to create and seed address. Funding an
// already-funded account is a no-op on the faucet side, so the call is
// idempotent. A blank faucet URL disables funding.
func (g *Gateway) FundAccount(ctx context.Context, address string) error {
	if g.cfg.FaucetURL == "" {
		return nil
	}

	endpoint := g.cfg.FaucetURL + "?addr=" + url.QueryEscape(address)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("ledger: create faucet request: %w", err)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ledger: faucet request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 300 {
		return fmt.Errorf("ledger: faucet returned HTTP %d: %s", resp.StatusCode, body)
	}
	return nil
}

// execute drives one mutation through the full lifecycle. The returned
// attempt records how far it got; an invocation that fails simulation is
// never signed, and an unsigned invocation never reaches the network.
func (g *Gateway) execute(ctx context.Context, sess domain.Session, fn string, args []Arg) (domain.TransactionAttempt, error) {
	attempt := domain.NewAttempt(uuid.NewString(), fn)

	acct, err := g.node.GetAccount(ctx, sess.Address())
	if err != nil {
		failErr := fmt.Errorf("ledger: %s: get account: %w", fn, err)
		attempt.Fail(failErr)
		return attempt, failErr
	}

	inv := Invocation{
		Source:   sess.Address(),
		Sequence: acct.Sequence + 1,
		Fee:      g.baseFee(),
		Contract: g.contractFor(sess),
		Function: fn,
		Args:     args,
	}

	sim, err := g.node.SimulateTransaction(ctx, inv)
	if err != nil {
		failErr := fmt.Errorf("ledger: %s: simulate: %w", fn, err)
		attempt.Fail(failErr)
		return attempt, failErr
	}
	if sim.Error != "" {
		failErr := fmt.Errorf("ledger: %s: %w: %s", fn, domain.ErrSimulationFailed, sim.Error)
		attempt.Fail(failErr)
		return attempt, failErr
	}
	_ = attempt.Transition(domain.AttemptSimulated)

	signed, err := g.sign(sess, inv)
	if err != nil {
		attempt.Fail(err)
		return attempt, err
	}
	_ = attempt.Transition(domain.AttemptSigned)

	send, err := g.node.SendTransaction(ctx, signed)
	if err != nil {
		failErr := fmt.Errorf("ledger: %s: send: %w", fn, err)
		attempt.Fail(failErr)
		return attempt, failErr
	}
	_ = attempt.Transition(domain.AttemptSubmitted)
	attempt.Hash = send.Hash

	switch send.Status {
	case SendStatusSuccess:
		_ = attempt.Transition(domain.AttemptSuccess)
		g.logger.InfoContext(ctx, "ledger: transaction confirmed",
			slog.String("function", fn),
			slog.String("hash", attempt.Hash),
		)
		return attempt, nil
	case SendStatusPending:
		_ = attempt.Transition(domain.AttemptPending)
	default:
		failErr := fmt.Errorf("ledger: %s: %w: status %s: %s", fn, domain.ErrSubmissionFailed, send.Status, send.Error)
		attempt.Fail(failErr)
		return attempt, failErr
	}

	return g.track(ctx, fn, attempt)
}

// track polls a pending transaction to a terminal status. Exhausting the
// poll budget leaves the attempt pending, not failed: the transaction
// may still land, which is what ErrTransactionTimeout tells the caller.
func (g *Gateway) track(ctx context.Context, fn string, attempt domain.TransactionAttempt) (domain.TransactionAttempt, error) {
	maxPolls := g.cfg.MaxPolls
	if maxPolls <= 0 {
		maxPolls = defaultMaxPolls
	}
	interval := g.cfg.PollInterval.Duration
	if interval <= 0 {
		interval = defaultPollInterval
	}

	for i := 0; i < maxPolls; i++ {
		if err := sleepCtx(ctx, interval); err != nil {
			return attempt, fmt.Errorf("ledger: %s: tracking %s: %w", fn, attempt.Hash, err)
		}
		attempt.Polls = i + 1

		res, err := g.node.GetTransaction(ctx, attempt.Hash)
		if err != nil {
			// Transient node trouble must not abandon a live transaction.
			g.logger.WarnContext(ctx, "ledger: poll failed",
				slog.String("hash", attempt.Hash),
				slog.String("error", err.Error()),
			)
			continue
		}

		switch res.Status {
		case TxStatusSuccess:
			_ = attempt.Transition(domain.AttemptSuccess)
			g.logger.InfoContext(ctx, "ledger: transaction confirmed",
				slog.String("function", fn),
				slog.String("hash", attempt.Hash),
				slog.Int("polls", attempt.Polls),
			)
			return attempt, nil
		case TxStatusFailed:
			failErr := fmt.Errorf("ledger: %s: %w: transaction %s failed on-chain", fn, domain.ErrSubmissionFailed, attempt.Hash)
			attempt.Fail(failErr)
			return attempt, failErr
		}
		// NOT_FOUND and PENDING keep polling.
	}

	return attempt, fmt.Errorf("ledger: %s: %w after %d polls (hash %s)", fn, domain.ErrTransactionTimeout, attempt.Polls, attempt.Hash)
}

// simulateCall builds and simulates a read-only invocation, returning
// the first result. Reads never get signed or submitted.
func (g *Gateway) simulateCall(ctx context.Context, source, contract, fn string, args []Arg) (SimResult, error) {
	inv := Invocation{
		Source:   source,
		Sequence: 0,
		Fee:      g.baseFee(),
		Contract: contract,
		Function: fn,
		Args:     args,
	}

	sim, err := g.node.SimulateTransaction(ctx, inv)
	if err != nil {
		return SimResult{}, fmt.Errorf("ledger: %s: simulate: %w", fn, err)
	}
	if sim.Error != "" {
		return SimResult{}, fmt.Errorf("ledger: %s: %w: %s", fn, domain.ErrSimulationFailed, sim.Error)
	}
	if len(sim.Results) == 0 {
		return SimResult{}, fmt.Errorf("ledger: %s: empty simulation result", fn)
	}
	return sim.Results[0], nil
}

// sign restores the session keypair and signs the invocation digest.
func (g *Gateway) sign(sess domain.Session, inv Invocation) (SignedInvocation, error) {
	if sess.Secret == "" {
		return SignedInvocation{}, fmt.Errorf("ledger: session has no signing secret: %w", domain.ErrUnauthenticated)
	}

	kp, err := crypto.KeypairFromSeed(sess.Secret)
	if err != nil {
		return SignedInvocation{}, fmt.Errorf("ledger: restore keypair: %w", err)
	}

	digest, err := inv.Digest(g.cfg.NetworkPassphrase)
	if err != nil {
		return SignedInvocation{}, err
	}

	sig, err := kp.Sign(digest)
	if err != nil {
		return SignedInvocation{}, fmt.Errorf("ledger: sign digest: %w", err)
	}

	return SignedInvocation{
		Invocation: inv,
		PublicKey:  kp.PublicKeyHex(),
		Signature:  sig,
	}, nil
}

func (g *Gateway) contractFor(sess domain.Session) string {
	if sess.ContractID != "" {
		return sess.ContractID
	}
	return g.cfg.ContractID
}

func (g *Gateway) baseFee() int64 {
	if g.cfg.BaseFee > 0 {
		return g.cfg.BaseFee
	}
	return 100
}

// decodeVault parses the vault_info return value: four string-encoded
// i128 fields in ledger units.
func decodeVault(res SimResult) (domain.Vault, error) {
	var wire struct {
		TotalLiquidity string `json:"totalLiquidity"`
		TotalShares    string `json:"totalShares"`
		UserShares     string `json:"userShares"`
		UserDeposited  string `json:"userDeposited"`
	}
	if err := json.Unmarshal(res.Value, &wire); err != nil {
		return domain.Vault{}, fmt.Errorf("ledger: decode vault info: %w", err)
	}

	var vault domain.Vault
	for _, f := range []struct {
		name  string
		raw   string
		field *decimal.Decimal
	}{
		{"totalLiquidity", wire.TotalLiquidity, &vault.TotalLiquidity},
		{"totalShares", wire.TotalShares, &vault.TotalShares},
		{"userShares", wire.UserShares, &vault.UserShares},
		{"userDeposited", wire.UserDeposited, &vault.UserDeposited},
	} {
		v, ok := new(big.Int).SetString(f.raw, 10)
		if !ok {
			return domain.Vault{}, fmt.Errorf("ledger: vault info: invalid %s %q", f.name, f.raw)
		}
		*f.field = UnscaleAmount(v)
	}
	return vault, nil
}

// sleepCtx pauses for d, honouring context cancellation.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
