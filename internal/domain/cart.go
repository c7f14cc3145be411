package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type CartItem struct {
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

// StockReservation is a quantity settlement took from stock for an order.
type StockReservation struct {
	ProductID int64
	Quantity  int
}

type Cart struct {
	ID        int64      `json:"id"`
	UserID    string     `json:"user_id"`
	Items     []CartItem `json:"items"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (c *Cart) IsEmpty() bool {
	return c == nil || len(c.Items) == 0
}

func (c *Cart) Total() decimal.Decimal {
	total := decimal.Zero
	for _, item := range c.Items {
		total = total.Add(item.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return total
}

type Product struct {
	ID              int64
	Name            string
	Price           decimal.Decimal
	DiscountedPrice decimal.Decimal
	Stock           int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// EffectivePrice is the discounted price when one is set.
func (p *Product) EffectivePrice() decimal.Decimal {
	if p.DiscountedPrice.IsPositive() {
		return p.DiscountedPrice
	}
	return p.Price
}
