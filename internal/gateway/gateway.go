// Package gateway talks to the external payment provider. Every failure is
// reported as either domain.ErrGatewayUnavailable (retryable) or
// domain.ErrGatewayRejected (not retryable).
package gateway

import (
	"context"
	"time"

	"github.com/fjod/go_shop/internal/domain"
)

const StatusCaptured = "captured"

type IntentRequest struct {
	AmountMinor int64
	Currency    string
	Receipt     string
	Notes       map[string]string
}

type Intent struct {
	ID          string
	AmountMinor int64
	Currency    string
	Receipt     string
	Status      string
	Notes       map[string]string
	CreatedAt   time.Time
}

func (i *Intent) Payload() *domain.IntentPayload {
	return &domain.IntentPayload{
		IntentID:    i.ID,
		AmountMinor: i.AmountMinor,
		Currency:    i.Currency,
		Receipt:     i.Receipt,
		Status:      i.Status,
		Notes:       i.Notes,
		CreatedAt:   i.CreatedAt,
	}
}

type Capture struct {
	PaymentID   string
	OrderRef    string
	Status      string
	AmountMinor int64
	Currency    string
	Method      string
	Email       string
	CreatedAt   time.Time
}

func (c *Capture) Captured() bool {
	return c.Status == StatusCaptured
}

func (c *Capture) Payload() *domain.CapturePayload {
	return &domain.CapturePayload{
		PaymentID:   c.PaymentID,
		OrderRef:    c.OrderRef,
		Status:      c.Status,
		AmountMinor: c.AmountMinor,
		Currency:    c.Currency,
		Method:      c.Method,
		Email:       c.Email,
		CapturedAt:  c.CreatedAt,
	}
}

type Refund struct {
	ID          string
	PaymentID   string
	Status      string
	AmountMinor int64
	CreatedAt   time.Time
}

func (r *Refund) Payload() *domain.RefundPayload {
	return &domain.RefundPayload{
		RefundID:    r.ID,
		PaymentID:   r.PaymentID,
		Status:      r.Status,
		AmountMinor: r.AmountMinor,
		IssuedAt:    r.CreatedAt,
	}
}

type Gateway interface {
	CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error)
	FetchCapture(ctx context.Context, paymentID string) (*Capture, error)
	Refund(ctx context.Context, paymentID string, amountMinor int64) (*Refund, error)
	// VerifySignature checks the checkout signature the provider hands the
	// client after payment.
	VerifySignature(orderRef, paymentID, signature string) error
}
