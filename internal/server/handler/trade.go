package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/openperps/perpdesk/internal/domain"
)

// TradeService is the trading surface the order handlers need.
type TradeService interface {
	PlaceOrder(ctx context.Context, req domain.TradeRequest) (domain.TradeOutcome, error)
	ClosePosition(ctx context.Context, market string) (domain.TradeOutcome, error)
}

// TradeHandler serves order placement and position close endpoints.
type TradeHandler struct {
	svc    TradeService
	logger *slog.Logger
}

func NewTradeHandler(svc TradeService, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{svc: svc, logger: logger}
}

type orderRequest struct {
	Market    string           `json:"market"`
	Direction domain.Direction `json:"direction"`
	Size      decimal.Decimal  `json:"size"`
	Leverage  int              `json:"leverage"`
}

// Create opens a position. POST /api/orders
func (h *TradeHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	outcome, err := h.svc.PlaceOrder(r.Context(), domain.TradeRequest{
		Market:    req.Market,
		Direction: req.Direction,
		Size:      req.Size,
		Leverage:  req.Leverage,
	})
	if err != nil {
		h.logger.ErrorContext(r.Context(), "order failed",
			slog.String("market", req.Market),
			slog.String("error", err.Error()))
		writeDomainError(w, err)
		return
	}
	writeSuccess(w, http.StatusCreated, map[string]any{"result": outcome})
}

type closeRequest struct {
	Market string `json:"market"`
}

// Close flattens the position in one market. POST /api/positions/close
func (h *TradeHandler) Close(w http.ResponseWriter, r *http.Request) {
	var req closeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Market == "" {
		writeError(w, http.StatusBadRequest, "market is required")
		return
	}

	outcome, err := h.svc.ClosePosition(r.Context(), req.Market)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "close failed",
			slog.String("market", req.Market),
			slog.String("error", err.Error()))
		writeDomainError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"result": outcome})
}
