package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openperps/perpdesk/internal/domain"
)

func TestClientRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "2.0", req.JSONRPC)
		require.Equal(t, "getAccount", req.Method)

		params, ok := req.Params.(map[string]any)
		require.True(t, ok)
		require.Equal(t, "pubkey", params["address"])

		resp := map[string]any{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  Account{Address: "pubkey", Sequence: 7},
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	acct, err := c.GetAccount(context.Background(), "pubkey")
	require.NoError(t, err)
	require.Equal(t, Account{Address: "pubkey", Sequence: 7}, acct)
}

func TestClientSurfacesRPCError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		resp := map[string]any{
			"jsonrpc": "2.0",
			"id":      1,
			"error":   map[string]any{"code": -32601, "message": "method not found"},
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	_, err := c.GetTransaction(context.Background(), "deadbeef")
	require.Error(t, err)
	require.Contains(t, err.Error(), "method not found")
}

func TestClientMapsHTTPStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"rate limited", http.StatusTooManyRequests, domain.ErrRateLimited},
		{"unauthorized", http.StatusUnauthorized, domain.ErrUnauthenticated},
		{"not found", http.StatusNotFound, domain.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			c := NewClient(srv.URL, time.Second)
			err := c.Health(context.Background())
			require.ErrorIs(t, err, tt.want)
		})
	}
}
