// Package server assembles the dashboard's HTTP API: routes, middleware
// chain, and lifecycle.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/openperps/perpdesk/internal/domain"
	"github.com/openperps/perpdesk/internal/metrics"
	"github.com/openperps/perpdesk/internal/server/handler"
	"github.com/openperps/perpdesk/internal/server/middleware"
	"github.com/openperps/perpdesk/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	RateLimit   int    // requests per minute per client IP; 0 disables
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health   *handler.HealthHandler
	Auth     *handler.AuthHandler
	Trades   *handler.TradeHandler
	Vault    *handler.VaultHandler
	Markets  *handler.MarketHandler
	Activity *handler.ActivityHandler
}

// Server is the HTTP + WebSocket API server for the dashboard.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (CORS, logging, metrics, rate limiting, auth) and
// attaches the WebSocket hub. limiter may be nil when rate limiting is off.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check and metrics (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.Handle("GET /metrics", metrics.Handler())

	// Passkey identity endpoints.
	mux.HandleFunc("POST /api/auth/register", handlers.Auth.Register)
	mux.HandleFunc("POST /api/auth/login", handlers.Auth.Login)
	mux.HandleFunc("POST /api/auth/logout", handlers.Auth.Logout)
	mux.HandleFunc("GET /api/auth/session", handlers.Auth.Session)

	// Trading endpoints.
	mux.HandleFunc("POST /api/orders", handlers.Trades.Create)
	mux.HandleFunc("POST /api/positions/close", handlers.Trades.Close)

	// Vault and balance endpoints.
	mux.HandleFunc("POST /api/vault/deposit", handlers.Vault.Deposit)
	mux.HandleFunc("POST /api/vault/withdraw", handlers.Vault.Withdraw)
	mux.HandleFunc("GET /api/vault", handlers.Vault.Info)
	mux.HandleFunc("GET /api/balance", handlers.Vault.Balance)

	// Market data endpoints.
	mux.HandleFunc("GET /api/markets", handlers.Markets.List)
	mux.HandleFunc("GET /api/prices/{symbol}", handlers.Markets.Price)

	// Recent activity endpoints.
	mux.HandleFunc("GET /api/activity", handlers.Activity.List)
	mux.HandleFunc("GET /api/activity/archives", handlers.Activity.Archives)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Middleware chain, innermost first: auth, rate limiting, metrics,
	// logging, CORS.
	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey)(h)
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, time.Minute)(h)
	}
	h = metrics.Middleware(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
