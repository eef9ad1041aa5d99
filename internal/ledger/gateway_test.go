package ledger

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/openperps/perpdesk/internal/config"
	"github.com/openperps/perpdesk/internal/crypto"
	"github.com/openperps/perpdesk/internal/domain"
)

type fakeNode struct {
	sequence   int64
	accountErr error

	simErrs  map[string]string // function name -> simulation error text
	simValue json.RawMessage   // read-call return value
	simErr   error

	sendStatus string
	sendErr    error

	pollStatuses []string // consumed by successive GetTransaction calls
	pollErrs     []error

	accountCalls int
	simCalls     int
	sendCalls    int
	pollCalls    int

	invocations []Invocation
	signed      []SignedInvocation
}

func (f *fakeNode) GetAccount(_ context.Context, address string) (Account, error) {
	f.accountCalls++
	if f.accountErr != nil {
		return Account{}, f.accountErr
	}
	return Account{Address: address, Sequence: f.sequence}, nil
}

func (f *fakeNode) SimulateTransaction(_ context.Context, inv Invocation) (SimulationResult, error) {
	f.simCalls++
	f.invocations = append(f.invocations, inv)
	if f.simErr != nil {
		return SimulationResult{}, f.simErr
	}
	if msg, ok := f.simErrs[inv.Function]; ok {
		return SimulationResult{Error: msg}, nil
	}
	value := f.simValue
	if value == nil {
		value = json.RawMessage(`"0"`)
	}
	return SimulationResult{Results: []SimResult{{Value: value}}, LatestLedger: 100}, nil
}

func (f *fakeNode) SendTransaction(_ context.Context, signed SignedInvocation) (SendResult, error) {
	f.sendCalls++
	f.signed = append(f.signed, signed)
	if f.sendErr != nil {
		return SendResult{}, f.sendErr
	}
	status := f.sendStatus
	if status == "" {
		status = SendStatusSuccess
	}
	return SendResult{Hash: "deadbeef", Status: status}, nil
}

func (f *fakeNode) GetTransaction(_ context.Context, _ string) (TxResult, error) {
	i := f.pollCalls
	f.pollCalls++
	if i < len(f.pollErrs) && f.pollErrs[i] != nil {
		return TxResult{}, f.pollErrs[i]
	}
	if i < len(f.pollStatuses) {
		return TxResult{Status: f.pollStatuses[i]}, nil
	}
	return TxResult{Status: TxStatusNotFound}, nil
}

func testGateway(node *fakeNode) *Gateway {
	cfg := config.Defaults().Ledger
	cfg.ContractID = "CCONTRACT"
	cfg.MaxPolls = 4
	cfg.PollInterval.Duration = time.Millisecond
	return NewGateway(node, cfg, slog.New(slog.DiscardHandler))
}

func gatewaySession() domain.Session {
	kp := crypto.DeriveKeypair("cred-9", "user-9")
	return domain.Session{
		UserID:       "user-9",
		CredentialID: "cred-9",
		PublicKey:    kp.PublicKeyHex(),
		Secret:       kp.SeedHex(),
		ContractID:   "CCONTRACT",
		LastAuth:     time.Now(),
	}
}

func validTrade() domain.TradeRequest {
	return domain.TradeRequest{
		Market:    "BTC-PERP",
		Direction: domain.DirectionLong,
		Size:      decimal.NewFromInt(100),
		Leverage:  10,
	}
}

func TestExecuteTradeHappyPath(t *testing.T) {
	node := &fakeNode{sequence: 41}
	g := testGateway(node)

	attempt, err := g.ExecuteTrade(context.Background(), gatewaySession(), validTrade())
	require.NoError(t, err)
	require.Equal(t, domain.AttemptSuccess, attempt.Status)
	require.Equal(t, fnCreatePosition, attempt.Function)
	require.Equal(t, "deadbeef", attempt.Hash)
	require.Equal(t, 1, node.sendCalls)
	require.Equal(t, 0, node.pollCalls)

	inv := node.invocations[0]
	require.Equal(t, int64(42), inv.Sequence)
	require.Equal(t, "CCONTRACT", inv.Contract)
	require.Equal(t, []Arg{
		AddressArg(gatewaySession().Address()),
		SymbolArg("BTC-PERP"),
		{Kind: KindI128, Value: "1000000000"},
		U32Arg(10),
		BoolArg(true),
	}, inv.Args)
}

func TestSignedEnvelopeVerifies(t *testing.T) {
	node := &fakeNode{}
	g := testGateway(node)
	sess := gatewaySession()

	_, err := g.ExecuteTrade(context.Background(), sess, validTrade())
	require.NoError(t, err)
	require.Len(t, node.signed, 1)

	signed := node.signed[0]
	digest, err := signed.Invocation.Digest(config.Defaults().Ledger.NetworkPassphrase)
	require.NoError(t, err)

	kp, err := crypto.KeypairFromSeed(sess.Secret)
	require.NoError(t, err)
	require.Equal(t, kp.PublicKeyHex(), signed.PublicKey)
	require.True(t, kp.Verify(digest, signed.Signature))
}

func TestFailedSimulationNeverSubmits(t *testing.T) {
	node := &fakeNode{simErrs: map[string]string{
		fnCreatePosition: "contract error: underfunded",
		fnSubmit:         "contract error: underfunded",
	}}
	g := testGateway(node)

	attempt, err := g.ExecuteTrade(context.Background(), gatewaySession(), validTrade())
	require.ErrorIs(t, err, domain.ErrSimulationFailed)
	require.Equal(t, domain.AttemptFailed, attempt.Status)
	require.Equal(t, 0, node.sendCalls)

	// Both entry points were tried and both causes surface.
	require.Equal(t, 2, node.simCalls)
	require.Contains(t, err.Error(), fnCreatePosition)
	require.Contains(t, err.Error(), fnSubmit)
}

func TestInvalidTradeSkipsRPC(t *testing.T) {
	node := &fakeNode{}
	g := testGateway(node)

	req := validTrade()
	req.Leverage = 200

	_, err := g.ExecuteTrade(context.Background(), gatewaySession(), req)
	require.ErrorIs(t, err, domain.ErrInvalidTrade)
	require.Equal(t, 0, node.accountCalls)
	require.Equal(t, 0, node.simCalls)
	require.Equal(t, 0, node.sendCalls)
}

func TestFallbackEntryPointUsedOnce(t *testing.T) {
	node := &fakeNode{simErrs: map[string]string{
		fnCreatePosition: "unknown function",
	}}
	g := testGateway(node)

	attempt, err := g.ExecuteTrade(context.Background(), gatewaySession(), validTrade())
	require.NoError(t, err)
	require.Equal(t, fnSubmit, attempt.Function)
	require.Equal(t, domain.AttemptSuccess, attempt.Status)
	require.Equal(t, 2, node.simCalls)
	require.Equal(t, 1, node.sendCalls)
}

func TestPendingPollsToSuccess(t *testing.T) {
	node := &fakeNode{
		sendStatus:   SendStatusPending,
		pollStatuses: []string{TxStatusNotFound, TxStatusNotFound, TxStatusSuccess},
	}
	g := testGateway(node)

	attempt, err := g.Deposit(context.Background(), gatewaySession(), decimal.NewFromInt(50))
	require.NoError(t, err)
	require.Equal(t, domain.AttemptSuccess, attempt.Status)
	require.Equal(t, 3, attempt.Polls)
	require.Equal(t, 3, node.pollCalls)
}

func TestPollExhaustionLeavesPending(t *testing.T) {
	node := &fakeNode{sendStatus: SendStatusPending}
	g := testGateway(node)

	attempt, err := g.Deposit(context.Background(), gatewaySession(), decimal.NewFromInt(50))
	require.ErrorIs(t, err, domain.ErrTransactionTimeout)

	// Pending, not failed: the transaction may still land.
	require.Equal(t, domain.AttemptPending, attempt.Status)
	require.Equal(t, 4, attempt.Polls)
	require.Equal(t, "deadbeef", attempt.Hash)
}

func TestTimeoutNotRetriedThroughFallback(t *testing.T) {
	node := &fakeNode{sendStatus: SendStatusPending}
	g := testGateway(node)

	_, err := g.ExecuteTrade(context.Background(), gatewaySession(), validTrade())
	require.ErrorIs(t, err, domain.ErrTransactionTimeout)

	// No second submission: the first transaction could still fill.
	require.Equal(t, 1, node.sendCalls)
}

func TestOnChainFailureDuringPoll(t *testing.T) {
	node := &fakeNode{
		sendStatus:   SendStatusPending,
		pollStatuses: []string{TxStatusFailed},
	}
	g := testGateway(node)

	attempt, err := g.Withdraw(context.Background(), gatewaySession(), decimal.NewFromInt(10))
	require.ErrorIs(t, err, domain.ErrSubmissionFailed)
	require.Equal(t, domain.AttemptFailed, attempt.Status)
	require.Equal(t, 1, node.pollCalls)
}

func TestPollSurvivesTransientNodeErrors(t *testing.T) {
	node := &fakeNode{
		sendStatus:   SendStatusPending,
		pollErrs:     []error{context.DeadlineExceeded, nil},
		pollStatuses: []string{"", TxStatusSuccess},
	}
	g := testGateway(node)

	attempt, err := g.Deposit(context.Background(), gatewaySession(), decimal.NewFromInt(50))
	require.NoError(t, err)
	require.Equal(t, domain.AttemptSuccess, attempt.Status)
	require.Equal(t, 2, attempt.Polls)
}

func TestSendRejectionFailsAttempt(t *testing.T) {
	node := &fakeNode{sendStatus: SendStatusError}
	g := testGateway(node)

	attempt, err := g.Deposit(context.Background(), gatewaySession(), decimal.NewFromInt(50))
	require.ErrorIs(t, err, domain.ErrSubmissionFailed)
	require.Equal(t, domain.AttemptFailed, attempt.Status)
	require.Equal(t, 0, node.pollCalls)
}

func TestMissingSecretIsAuthFailure(t *testing.T) {
	node := &fakeNode{}
	g := testGateway(node)

	sess := gatewaySession()
	sess.Secret = ""

	_, err := g.Deposit(context.Background(), sess, decimal.NewFromInt(50))
	require.ErrorIs(t, err, domain.ErrUnauthenticated)
	require.Equal(t, 0, node.sendCalls)
}

func TestClosePositionSubmitsZeroSize(t *testing.T) {
	node := &fakeNode{}
	g := testGateway(node)

	attempt, err := g.ClosePosition(context.Background(), gatewaySession(), "ETH-PERP")
	require.NoError(t, err)
	require.Equal(t, fnSubmit, attempt.Function)

	inv := node.invocations[0]
	require.Equal(t, fnSubmit, inv.Function)
	require.Equal(t, Arg{Kind: KindI128, Value: "0"}, inv.Args[2])
}

func TestBalanceReadsViaSimulation(t *testing.T) {
	node := &fakeNode{simValue: json.RawMessage(`"10000000000"`)}
	g := testGateway(node)

	balance, err := g.Balance(context.Background(), gatewaySession())
	require.NoError(t, err)
	require.True(t, balance.Equal(decimal.NewFromInt(1000)))

	// Reads are never signed or submitted.
	require.Equal(t, 0, node.sendCalls)
	require.Empty(t, node.signed)
	require.Equal(t, fnBalance, node.invocations[0].Function)
}

func TestVaultInfoDecodes(t *testing.T) {
	node := &fakeNode{simValue: json.RawMessage(`{
		"totalLiquidity": "1500000000000",
		"totalShares":    "1000000000000",
		"userShares":     "10000000000",
		"userDeposited":  "10000000000"
	}`)}
	g := testGateway(node)

	vault, err := g.VaultInfo(context.Background(), gatewaySession())
	require.NoError(t, err)
	require.True(t, vault.TotalLiquidity.Equal(decimal.NewFromInt(150000)))
	require.True(t, vault.TotalShares.Equal(decimal.NewFromInt(100000)))
	require.True(t, vault.UserShares.Equal(decimal.NewFromInt(1000)))
	require.True(t, vault.UserValue().Equal(decimal.NewFromInt(1500)))
}

func TestContractPriceUsesConfiguredFunction(t *testing.T) {
	node := &fakeNode{simValue: json.RawMessage(`"3900000"`)}
	g := testGateway(node)

	price, err := g.ContractPrice(context.Background(), "XLM-PERP")
	require.NoError(t, err)
	require.True(t, price.Equal(decimal.RequireFromString("0.39")))

	inv := node.invocations[0]
	require.Equal(t, "lastprice", inv.Function)
	require.Equal(t, []Arg{SymbolArg("XLM-PERP")}, inv.Args)
}

func TestFundAccount(t *testing.T) {
	var gotAddr string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAddr = r.URL.Query().Get("addr")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := config.Defaults().Ledger
	cfg.FaucetURL = srv.URL
	g := NewGateway(&fakeNode{}, cfg, slog.New(slog.DiscardHandler))

	require.NoError(t, g.FundAccount(context.Background(), "pubkey-hex"))
	require.Equal(t, "pubkey-hex", gotAddr)

	// A blank faucet URL disables funding without error.
	cfg.FaucetURL = ""
	g = NewGateway(&fakeNode{}, cfg, slog.New(slog.DiscardHandler))
	require.NoError(t, g.FundAccount(context.Background(), "pubkey-hex"))
}

func TestFundAccountSurfacesFaucetError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "out of lumens", http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := config.Defaults().Ledger
	cfg.FaucetURL = srv.URL
	g := NewGateway(&fakeNode{}, cfg, slog.New(slog.DiscardHandler))

	err := g.FundAccount(context.Background(), "pubkey-hex")
	require.Error(t, err)
	require.Contains(t, err.Error(), "500")
}
