package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/openperps/perpdesk/internal/domain"
)

// AuthService is the identity surface the auth handlers need.
type AuthService interface {
	Register(ctx context.Context, username string) (domain.Session, error)
	Authenticate(ctx context.Context) (domain.Session, error)
	Session(ctx context.Context) (domain.Session, error)
	SignOut(ctx context.Context) error
}

// AuthHandler serves passkey registration and login endpoints.
type AuthHandler struct {
	svc    AuthService
	logger *slog.Logger
}

func NewAuthHandler(svc AuthService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{svc: svc, logger: logger}
}

type registerRequest struct {
	Username string `json:"username"`
}

// Register creates a passkey credential and derives the trading
// account. POST /api/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" {
		writeError(w, http.StatusBadRequest, "username is required")
		return
	}

	sess, err := h.svc.Register(r.Context(), req.Username)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "registration failed",
			slog.String("username", req.Username),
			slog.String("error", err.Error()))
		writeDomainError(w, err)
		return
	}
	writeSuccess(w, http.StatusCreated, map[string]any{"session": sess})
}

// Login re-asserts an existing passkey and refreshes the session.
// POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	sess, err := h.svc.Authenticate(r.Context())
	if err != nil {
		h.logger.WarnContext(r.Context(), "authentication failed",
			slog.String("error", err.Error()))
		writeDomainError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"session": sess})
}

// Session reports the current session if one is still fresh.
// GET /api/auth/session
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	sess, err := h.svc.Session(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"session": sess})
}

// Logout clears the stored session. POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.SignOut(r.Context()); err != nil {
		writeDomainError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"authenticated": false})
}
