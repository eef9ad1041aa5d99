package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/openperps/perpdesk/internal/domain"
)

// MarketService is the market-data surface the market handlers need.
type MarketService interface {
	Markets() []domain.Market
	SupportsMarket(symbol string) bool
	Price(ctx context.Context, symbol string) domain.Quote
}

// MarketHandler serves the market list and price endpoints.
type MarketHandler struct {
	svc    MarketService
	logger *slog.Logger
}

func NewMarketHandler(svc MarketService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{svc: svc, logger: logger}
}

// List returns the configured markets. GET /api/markets
func (h *MarketHandler) List(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, map[string]any{
		"markets": h.svc.Markets(),
	})
}

// Price returns the current quote for one market.
// GET /api/prices/{symbol}
func (h *MarketHandler) Price(w http.ResponseWriter, r *http.Request) {
	symbol := pathParam(r, "symbol")
	if !h.svc.SupportsMarket(symbol) {
		writeError(w, http.StatusNotFound, "unknown market: "+symbol)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{
		"quote": h.svc.Price(r.Context(), symbol),
	})
}
