package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/openperps/perpdesk/internal/domain"
)

// VaultService is the liquidity-vault surface the vault handlers need.
type VaultService interface {
	DepositVault(ctx context.Context, amount decimal.Decimal) (domain.VaultUpdate, error)
	WithdrawVault(ctx context.Context, amount decimal.Decimal) (domain.VaultUpdate, error)
	VaultInfo(ctx context.Context) domain.Vault
	Balance(ctx context.Context) decimal.Decimal
}

// VaultHandler serves vault deposit, withdrawal, and balance endpoints.
type VaultHandler struct {
	svc    VaultService
	logger *slog.Logger
}

func NewVaultHandler(svc VaultService, logger *slog.Logger) *VaultHandler {
	return &VaultHandler{svc: svc, logger: logger}
}

type vaultRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// Deposit adds liquidity to the vault. POST /api/vault/deposit
func (h *VaultHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "deposit", h.svc.DepositVault)
}

// Withdraw redeems vault shares. POST /api/vault/withdraw
func (h *VaultHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "withdraw", h.svc.WithdrawVault)
}

func (h *VaultHandler) mutate(
	w http.ResponseWriter,
	r *http.Request,
	op string,
	fn func(context.Context, decimal.Decimal) (domain.VaultUpdate, error),
) {
	var req vaultRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	update, err := fn(r.Context(), req.Amount)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "vault operation failed",
			slog.String("op", op),
			slog.String("amount", req.Amount.String()),
			slog.String("error", err.Error()))
		writeDomainError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{
		"vault":     update.Vault,
		"userValue": update.Vault.UserValue(),
		"balance":   update.Balance,
		"hash":      update.Hash,
		"fallback":  update.Fallback,
	})
}

// Info reports vault accounting for the current user. GET /api/vault
func (h *VaultHandler) Info(w http.ResponseWriter, r *http.Request) {
	vault := h.svc.VaultInfo(r.Context())
	writeSuccess(w, http.StatusOK, map[string]any{
		"vault":     vault,
		"userValue": vault.UserValue(),
	})
}

// Balance reports the user's token balance. GET /api/balance
func (h *VaultHandler) Balance(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, map[string]any{
		"balance": h.svc.Balance(r.Context()),
	})
}
