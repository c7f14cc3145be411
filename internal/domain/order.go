package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PaymentMethod string

const (
	PaymentMethodRazorpay   PaymentMethod = "razorpay"
	PaymentMethodCreditCard PaymentMethod = "creditCard"
	PaymentMethodPaypal     PaymentMethod = "paypal"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodRazorpay, PaymentMethodCreditCard, PaymentMethodPaypal:
		return true
	}
	return false
}

// OrderItem is the price snapshot taken when the order is placed.
type OrderItem struct {
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
}

func (i OrderItem) Subtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type ShippingAddress struct {
	Name       string `json:"name"`
	City       string `json:"city"`
	Country    string `json:"country"`
	PostalCode string `json:"postal_code"`
}

func (a ShippingAddress) Validate() error {
	switch {
	case a.Name == "":
		return fmt.Errorf("%w: shipping name is required", ErrValidation)
	case a.City == "":
		return fmt.Errorf("%w: shipping city is required", ErrValidation)
	case a.Country == "":
		return fmt.Errorf("%w: shipping country is required", ErrValidation)
	case a.PostalCode == "":
		return fmt.Errorf("%w: shipping postal code is required", ErrValidation)
	}
	return nil
}

type Order struct {
	ID               uuid.UUID
	UserID           string
	Email            string
	Items            []OrderItem
	TotalPrice       decimal.Decimal
	Shipping         ShippingAddress
	ProviderOrderRef string
	PaymentStatus    OrderPaymentStatus
	OrderStatus      OrderStatus
	PaymentMethod    PaymentMethod
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// OwnedBy reports whether userID placed the order.
func (o *Order) OwnedBy(userID string) bool {
	return o.UserID == userID
}

// ComputeTotal sums quantity x unit price over the line items.
func ComputeTotal(items []OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Subtotal())
	}
	return total
}

// ToMinorUnits converts a rupee amount to paise.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// FromMinorUnits converts paise back to rupees.
func FromMinorUnits(amount int64) decimal.Decimal {
	return decimal.New(amount, -2)
}
