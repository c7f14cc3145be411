package http

import (
	"time"

	"github.com/fjod/go_shop/internal/domain"
	"github.com/shopspring/decimal"
)

type OrderItemDTO struct {
	ProductID   int64   `json:"product"`
	ProductName string  `json:"productName"`
	Quantity    int     `json:"quantity"`
	Price       float64 `json:"price"`
}

type ShippingAddressDTO struct {
	Name       string `json:"name"`
	City       string `json:"city"`
	Country    string `json:"country"`
	PostalCode string `json:"postalCode"`
}

type OrderDTO struct {
	ID               string             `json:"id"`
	UserID           string             `json:"user"`
	Products         []OrderItemDTO     `json:"products"`
	TotalPrice       float64            `json:"totalPrice"`
	ShippingAddress  ShippingAddressDTO `json:"shippingAddress"`
	ProviderOrderRef string             `json:"razorpayOrderId,omitempty"`
	PaymentStatus    string             `json:"paymentStatus"`
	OrderStatus      string             `json:"orderStatus"`
	PaymentMethod    string             `json:"paymentMethod"`
	CreatedAt        string             `json:"createdAt"`
	UpdatedAt        string             `json:"updatedAt"`
}

type PaymentDTO struct {
	ID                string  `json:"id"`
	UserID            string  `json:"user"`
	OrderID           string  `json:"orderId"`
	PaymentMethod     string  `json:"paymentMethod"`
	Amount            float64 `json:"amount"`
	PaymentStatus     string  `json:"paymentStatus"`
	TransactionID     string  `json:"transactionId"`
	ProviderPaymentID string  `json:"providerPaymentId,omitempty"`
	RefundID          string  `json:"refundId,omitempty"`
	CreatedAt         string  `json:"createdAt"`
	UpdatedAt         string  `json:"updatedAt"`
}

type CartItemDTO struct {
	ProductID int64   `json:"product"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
}

type CartDTO struct {
	UserID string        `json:"user"`
	Items  []CartItemDTO `json:"items"`
	Total  float64       `json:"total"`
}

func money(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}

func timestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func toOrderDTO(o *domain.Order) OrderDTO {
	items := make([]OrderItemDTO, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, OrderItemDTO{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			Price:       money(item.Price),
		})
	}
	return OrderDTO{
		ID:       o.ID.String(),
		UserID:   o.UserID,
		Products: items,
		ShippingAddress: ShippingAddressDTO{
			Name:       o.Shipping.Name,
			City:       o.Shipping.City,
			Country:    o.Shipping.Country,
			PostalCode: o.Shipping.PostalCode,
		},
		TotalPrice:       money(o.TotalPrice),
		ProviderOrderRef: o.ProviderOrderRef,
		PaymentStatus:    string(o.PaymentStatus),
		OrderStatus:      string(o.OrderStatus),
		PaymentMethod:    string(o.PaymentMethod),
		CreatedAt:        timestamp(o.CreatedAt),
		UpdatedAt:        timestamp(o.UpdatedAt),
	}
}

func toOrderDTOs(orders []*domain.Order) []OrderDTO {
	out := make([]OrderDTO, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrderDTO(o))
	}
	return out
}

func toPaymentDTO(p *domain.Payment) PaymentDTO {
	dto := PaymentDTO{
		ID:                p.ID.String(),
		UserID:            p.UserID,
		OrderID:           p.OrderID.String(),
		PaymentMethod:     string(p.PaymentMethod),
		Amount:            money(p.Amount),
		PaymentStatus:     string(p.Status),
		TransactionID:     p.TransactionID,
		ProviderPaymentID: p.ProviderPaymentID,
		CreatedAt:         timestamp(p.CreatedAt),
		UpdatedAt:         timestamp(p.UpdatedAt),
	}
	if p.Refund != nil {
		dto.RefundID = p.Refund.RefundID
	}
	return dto
}

func toCartDTO(c *domain.Cart) CartDTO {
	items := make([]CartItemDTO, 0, len(c.Items))
	for _, item := range c.Items {
		items = append(items, CartItemDTO{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Price:     money(item.Price),
		})
	}
	return CartDTO{UserID: c.UserID, Items: items, Total: money(c.Total())}
}
