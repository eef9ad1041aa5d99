package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openperps/perpdesk/internal/cache/memory"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
}

func TestAuthDisabledPassesThrough(t *testing.T) {
	h := Auth("")(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/balance", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthRejectsMissingToken(t *testing.T) {
	h := Auth("sekrit")(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/balance", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success":false`)
}

func TestAuthAcceptsToken(t *testing.T) {
	tests := []struct {
		name  string
		apply func(r *http.Request)
	}{
		{"bearer header", func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer sekrit")
		}},
		{"api key header", func(r *http.Request) {
			r.Header.Set("X-API-Key", "sekrit")
		}},
		{"query parameter", func(r *http.Request) {
			q := r.URL.Query()
			q.Set("api_key", "sekrit")
			r.URL.RawQuery = q.Encode()
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := Auth("sekrit")(okHandler())
			req := httptest.NewRequest(http.MethodGet, "/api/balance", nil)
			tt.apply(req)

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusOK, rec.Code)
		})
	}
}

func TestAuthRejectsWrongToken(t *testing.T) {
	h := Auth("sekrit")(okHandler())
	req := httptest.NewRequest(http.MethodGet, "/api/balance", nil)
	req.Header.Set("X-API-Key", "wrong")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthExemptPaths(t *testing.T) {
	h := Auth("sekrit")(okHandler())

	for _, path := range []string{"/api/health", "/metrics"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, "path %s should not require a key", path)
	}
}

func TestRateLimitBlocksAfterBudget(t *testing.T) {
	limiter := memory.NewRateLimiter()
	h := RateLimit(limiter, 2, time.Minute)(okHandler())

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/balance", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/balance", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	// A different client keeps its own budget.
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/balance", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitFailsOpenOnLimiterError(t *testing.T) {
	h := RateLimit(errLimiter{}, 1, time.Minute)(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/balance", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

type errLimiter struct{}

func (errLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	return false, context.DeadlineExceeded
}

func TestExtractClientIP(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(r *http.Request)
		expect string
	}{
		{"forwarded chain", func(r *http.Request) {
			r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
		}, "203.0.113.7"},
		{"real ip", func(r *http.Request) {
			r.Header.Set("X-Real-IP", "203.0.113.8")
		}, "203.0.113.8"},
		{"remote addr", func(r *http.Request) {
			r.RemoteAddr = "203.0.113.9:4444"
		}, "203.0.113.9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			tt.setup(req)
			assert.Equal(t, tt.expect, extractClientIP(req))
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	h := CORS([]string{"https://app.example.com"})(okHandler())

	req := httptest.NewRequest(http.MethodOptions, "/api/orders", nil)
	req.Header.Set("Origin", "https://app.example.com")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSRejectsUnknownOrigin(t *testing.T) {
	h := CORS([]string{"https://app.example.com"})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/markets", nil)
	req.Header.Set("Origin", "https://evil.example.com")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
