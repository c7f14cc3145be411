package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// IntentPayload is what the gateway returned when the intent was created.
type IntentPayload struct {
	IntentID    string            `json:"intent_id"`
	AmountMinor int64             `json:"amount_minor"`
	Currency    string            `json:"currency"`
	Receipt     string            `json:"receipt,omitempty"`
	Status      string            `json:"status"`
	Notes       map[string]string `json:"notes,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// CapturePayload is the gateway's view of a captured payment.
type CapturePayload struct {
	PaymentID   string    `json:"payment_id"`
	OrderRef    string    `json:"order_ref"`
	Status      string    `json:"status"`
	AmountMinor int64     `json:"amount_minor"`
	Currency    string    `json:"currency"`
	Method      string    `json:"method,omitempty"`
	Email       string    `json:"email,omitempty"`
	CapturedAt  time.Time `json:"captured_at"`
}

// RefundPayload records an issued refund.
type RefundPayload struct {
	RefundID    string    `json:"refund_id"`
	PaymentID   string    `json:"payment_id"`
	Status      string    `json:"status"`
	AmountMinor int64     `json:"amount_minor"`
	IssuedAt    time.Time `json:"issued_at"`
}

type Payment struct {
	ID                uuid.UUID
	UserID            string
	OrderID           uuid.UUID
	PaymentMethod     PaymentMethod
	Amount            decimal.Decimal
	Status            PaymentStatus
	TransactionID     string
	ProviderPaymentID string
	Intent            *IntentPayload
	Capture           *CapturePayload
	Refund            *RefundPayload
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
