package http

import (
	"context"
	"net/http"
	"time"

	"github.com/fjod/go_shop/internal/auth"
	"github.com/fjod/go_shop/internal/domain"
	"github.com/fjod/go_shop/internal/settlement"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type PaymentService interface {
	CreatePaymentOrder(ctx context.Context, id auth.Identity, orderID uuid.UUID, method domain.PaymentMethod) (*settlement.PaymentOrder, error)
	ConfirmPayment(ctx context.Context, id auth.Identity, req settlement.ConfirmRequest) (*settlement.Settlement, error)
	HandlePaymentFailure(ctx context.Context, id auth.Identity, transactionID string) (*domain.Payment, error)
	InitiateRefund(ctx context.Context, id auth.Identity, orderID uuid.UUID) (*domain.Order, *domain.Payment, error)
}

type PaymentHandler struct {
	payments PaymentService
	timeout  time.Duration
	log      *zap.Logger
}

func NewPaymentHandler(payments PaymentService, timeout time.Duration, log *zap.Logger) *PaymentHandler {
	return &PaymentHandler{payments: payments, timeout: timeout, log: log}
}

type CreatePaymentRequestDTO struct {
	OrderID       string `json:"orderId"`
	PaymentMethod string `json:"paymentMethod"`
}

// ConfirmPaymentRequestDTO accepts the field names the checkout widget posts
// back as well as the shorter paymentId/paymentSignature pair.
type ConfirmPaymentRequestDTO struct {
	RazorpayOrderID   string `json:"razorpay_order_id"`
	RazorpayPaymentID string `json:"razorpay_payment_id"`
	RazorpaySignature string `json:"razorpay_signature"`
	PaymentID         string `json:"paymentId"`
	PaymentSignature  string `json:"paymentSignature"`
}

type FailPaymentRequestDTO struct {
	PaymentID string `json:"paymentId"`
}

// POST /api/payment/create
func (h *PaymentHandler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id, ok := identityFrom(w, r)
	if !ok {
		return
	}

	var req CreatePaymentRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}
	orderID, err := uuid.Parse(req.OrderID)
	if err != nil {
		respondError(w, http.StatusBadRequest, "orderId must be a valid UUID")
		return
	}

	po, err := h.payments.CreatePaymentOrder(ctx, id, orderID, domain.PaymentMethod(req.PaymentMethod))
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}

	respondOK(w, http.StatusOK, envelope{
		"orderId":   po.IntentID,
		"paymentId": po.PaymentID.String(),
		"amount":    po.AmountMinor,
		"currency":  po.Currency,
	})
}

// POST /api/payment/confirm
func (h *PaymentHandler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id, ok := identityFrom(w, r)
	if !ok {
		return
	}

	var req ConfirmPaymentRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}
	confirm := settlement.ConfirmRequest{
		ProviderOrderID:   req.RazorpayOrderID,
		ProviderPaymentID: req.RazorpayPaymentID,
		Signature:         req.RazorpaySignature,
	}
	if confirm.ProviderPaymentID == "" {
		confirm.ProviderPaymentID = req.PaymentID
	}
	if confirm.Signature == "" {
		confirm.Signature = req.PaymentSignature
	}
	if confirm.ProviderPaymentID == "" {
		respondError(w, http.StatusBadRequest, "razorpay_payment_id is required")
		return
	}

	res, err := h.payments.ConfirmPayment(ctx, id, confirm)
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}

	respondOK(w, http.StatusOK, envelope{
		"message": "Payment completed successfully",
		"payment": toPaymentDTO(res.Payment),
		"order":   toOrderDTO(res.Order),
	})
}

// POST /api/payment/fail
func (h *PaymentHandler) FailPayment(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id, ok := identityFrom(w, r)
	if !ok {
		return
	}

	var req FailPaymentRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.PaymentID == "" {
		respondError(w, http.StatusBadRequest, "paymentId is required")
		return
	}

	p, err := h.payments.HandlePaymentFailure(ctx, id, req.PaymentID)
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	respondOK(w, http.StatusOK, envelope{"message": "Payment failed", "payment": toPaymentDTO(p)})
}

// POST /api/payment/refund/{orderId}
func (h *PaymentHandler) Refund(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id, ok := identityFrom(w, r)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(w, r, "orderId")
	if !ok {
		return
	}

	o, p, err := h.payments.InitiateRefund(ctx, id, orderID)
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	respondOK(w, http.StatusOK, envelope{
		"message": "Refund issued",
		"order":   toOrderDTO(o),
		"payment": toPaymentDTO(p),
	})
}
