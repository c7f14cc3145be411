package http

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

type StockService interface {
	GetStock(ctx context.Context, productID int64) (int, error)
	SetStock(ctx context.Context, productID int64, stock int) error
}

type StockHandler struct {
	stock   StockService
	timeout time.Duration
	log     *zap.Logger
}

func NewStockHandler(stock StockService, timeout time.Duration, log *zap.Logger) *StockHandler {
	return &StockHandler{stock: stock, timeout: timeout, log: log}
}

type SetStockRequestDTO struct {
	Stock *int `json:"stock"`
}

// GET /api/admin/products/{productId}/stock
func (h *StockHandler) GetStock(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	productID, ok := productIDParam(w, r)
	if !ok {
		return
	}

	stock, err := h.stock.GetStock(ctx, productID)
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	respondOK(w, http.StatusOK, envelope{"productId": productID, "stock": stock})
}

// PUT /api/admin/products/{productId}/stock
func (h *StockHandler) SetStock(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	productID, ok := productIDParam(w, r)
	if !ok {
		return
	}

	var req SetStockRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Stock == nil {
		respondError(w, http.StatusBadRequest, "stock is required")
		return
	}

	if err := h.stock.SetStock(ctx, productID, *req.Stock); err != nil {
		handleError(w, r, h.log, err)
		return
	}
	respondOK(w, http.StatusOK, envelope{"productId": productID, "stock": *req.Stock})
}
