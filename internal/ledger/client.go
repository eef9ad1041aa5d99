package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/openperps/perpdesk/internal/domain"
)

// Statuses reported by sendTransaction.
const (
	SendStatusSuccess  = "SUCCESS"
	SendStatusPending  = "PENDING"
	SendStatusError    = "ERROR"
	SendStatusTryAgain = "TRY_AGAIN_LATER"
)

// Statuses reported by getTransaction.
const (
	TxStatusNotFound = "NOT_FOUND"
	TxStatusSuccess  = "SUCCESS"
	TxStatusFailed   = "FAILED"
)

// Account is the on-ledger account record invocations are built against.
type Account struct {
	Address  string `json:"address"`
	Sequence int64  `json:"sequence"`
}

// SimulationResult is the node's response to simulateTransaction. A
// non-empty Error means the invocation would fail on-chain and must not
// be signed or submitted.
type SimulationResult struct {
	Error        string      `json:"error,omitempty"`
	Results      []SimResult `json:"results,omitempty"`
	LatestLedger int64       `json:"latestLedger"`
}

// SimResult carries one simulated return value in wire form.
type SimResult struct {
	Value json.RawMessage `json:"value"`
}

// I128 decodes the result as a string-encoded 128-bit integer.
func (r SimResult) I128() (*big.Int, error) {
	var s string
	if err := json.Unmarshal(r.Value, &s); err != nil {
		return nil, fmt.Errorf("ledger: decode i128 result: %w", err)
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("ledger: invalid i128 %q", s)
	}
	return v, nil
}

// SendResult is the node's response to sendTransaction.
type SendResult struct {
	Hash   string `json:"hash"`
	Status string `json:"status"`
	Error  string `json:"errorResult,omitempty"`
}

// TxResult is the node's response to getTransaction.
type TxResult struct {
	Status      string          `json:"status"`
	ReturnValue json.RawMessage `json:"returnValue,omitempty"`
}

// Client is a JSON-RPC 2.0 client for the ledger node.
type Client struct {
	endpoint   string
	httpClient *http.Client
	nextID     atomic.Int64
}

// NewClient creates a Client for the given RPC endpoint. A non-positive
// timeout selects 30 seconds.
func NewClient(endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// GetAccount fetches the account record for address.
func (c *Client) GetAccount(ctx context.Context, address string) (Account, error) {
	var acct Account
	if err := c.call(ctx, "getAccount", map[string]any{"address": address}, &acct); err != nil {
		return Account{}, fmt.Errorf("ledger: get account: %w", err)
	}
	return acct, nil
}

// SimulateTransaction runs the invocation against current ledger state
// without committing it.
func (c *Client) SimulateTransaction(ctx context.Context, inv Invocation) (SimulationResult, error) {
	var result SimulationResult
	if err := c.call(ctx, "simulateTransaction", map[string]any{"transaction": inv}, &result); err != nil {
		return SimulationResult{}, fmt.Errorf("ledger: simulate transaction: %w", err)
	}
	return result, nil
}

// SendTransaction submits a signed invocation to the network.
func (c *Client) SendTransaction(ctx context.Context, signed SignedInvocation) (SendResult, error) {
	var result SendResult
	if err := c.call(ctx, "sendTransaction", map[string]any{"transaction": signed}, &result); err != nil {
		return SendResult{}, fmt.Errorf("ledger: send transaction: %w", err)
	}
	return result, nil
}

// GetTransaction fetches the current status of a submitted transaction.
func (c *Client) GetTransaction(ctx context.Context, hash string) (TxResult, error) {
	var result TxResult
	if err := c.call(ctx, "getTransaction", map[string]any{"hash": hash}, &result); err != nil {
		return TxResult{}, fmt.Errorf("ledger: get transaction: %w", err)
	}
	return result, nil
}

// Health verifies the node answers RPC at all.
func (c *Client) Health(ctx context.Context) error {
	var result struct {
		Sequence int64 `json:"sequence"`
	}
	if err := c.call(ctx, "getLatestLedger", nil, &result); err != nil {
		return fmt.Errorf("ledger: health: %w", err)
	}
	return nil
}

// call performs one JSON-RPC round trip and decodes the result into out.
func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	reqBody, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return err
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if out != nil {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
	}
	return nil
}

// checkHTTPStatus maps non-2xx status codes to appropriate domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthenticated, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}
