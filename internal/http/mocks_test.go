package http

import (
	"context"
	"time"

	"github.com/fjod/go_shop/internal/auth"
	"github.com/fjod/go_shop/internal/domain"
	"github.com/fjod/go_shop/internal/order"
	"github.com/fjod/go_shop/internal/settlement"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderServiceMock struct {
	order   *domain.Order
	orders  []*domain.Order
	err     error
	created order.CreateRequest
	caller  auth.Identity
	status  domain.OrderStatus
	force   bool
}

func (m *OrderServiceMock) CreateOrder(_ context.Context, id auth.Identity, req order.CreateRequest) (*domain.Order, error) {
	m.caller, m.created = id, req
	return m.order, m.err
}

func (m *OrderServiceMock) GetOrder(_ context.Context, id auth.Identity, _ uuid.UUID) (*domain.Order, error) {
	m.caller = id
	return m.order, m.err
}

func (m *OrderServiceMock) ListOrders(_ context.Context, id auth.Identity) ([]*domain.Order, error) {
	m.caller = id
	return m.orders, m.err
}

func (m *OrderServiceMock) ListAllOrders(_ context.Context, id auth.Identity) ([]*domain.Order, error) {
	m.caller = id
	return m.orders, m.err
}

func (m *OrderServiceMock) DeleteOrder(_ context.Context, id auth.Identity, _ uuid.UUID) error {
	m.caller = id
	return m.err
}

func (m *OrderServiceMock) UpdateOrderStatus(_ context.Context, id auth.Identity, _ uuid.UUID, status domain.OrderStatus, force bool) (*domain.Order, error) {
	m.caller, m.status, m.force = id, status, force
	return m.order, m.err
}

func (m *OrderServiceMock) CancelOrder(_ context.Context, id auth.Identity, _ uuid.UUID) (*domain.Order, error) {
	m.caller = id
	return m.order, m.err
}

type PaymentServiceMock struct {
	paymentOrder *settlement.PaymentOrder
	settlement   *settlement.Settlement
	order        *domain.Order
	payment      *domain.Payment
	err          error
	confirm      settlement.ConfirmRequest
	failedID     string
}

func (m *PaymentServiceMock) CreatePaymentOrder(context.Context, auth.Identity, uuid.UUID, domain.PaymentMethod) (*settlement.PaymentOrder, error) {
	return m.paymentOrder, m.err
}

func (m *PaymentServiceMock) ConfirmPayment(_ context.Context, _ auth.Identity, req settlement.ConfirmRequest) (*settlement.Settlement, error) {
	m.confirm = req
	return m.settlement, m.err
}

func (m *PaymentServiceMock) HandlePaymentFailure(_ context.Context, _ auth.Identity, transactionID string) (*domain.Payment, error) {
	m.failedID = transactionID
	return m.payment, m.err
}

func (m *PaymentServiceMock) InitiateRefund(context.Context, auth.Identity, uuid.UUID) (*domain.Order, *domain.Payment, error) {
	return m.order, m.payment, m.err
}

type CartServiceMock struct {
	cart  *domain.Cart
	err   error
	added []int64
}

func (m *CartServiceMock) GetCart(_ context.Context, userID string) (*domain.Cart, error) {
	if m.cart == nil {
		return &domain.Cart{UserID: userID}, nil
	}
	return m.cart, nil
}

func (m *CartServiceMock) AddItem(_ context.Context, _ string, productID int64, _ int) error {
	m.added = append(m.added, productID)
	return m.err
}

func (m *CartServiceMock) UpdateQuantity(context.Context, string, int64, int) error { return m.err }
func (m *CartServiceMock) RemoveItem(context.Context, string, int64) error { return m.err }
func (m *CartServiceMock) ClearCart(context.Context, string) error { return m.err }

type StockServiceMock struct {
	stock map[int64]int
	err   error
}

func (m *StockServiceMock) GetStock(_ context.Context, productID int64) (int, error) {
	if m.err != nil {
		return 0, m.err
	}
	return m.stock[productID], nil
}

func (m *StockServiceMock) SetStock(_ context.Context, productID int64, stock int) error {
	if m.err != nil {
		return m.err
	}
	m.stock[productID] = stock
	return nil
}

type PingerMock struct {
	err error
}

func (m PingerMock) Ping(context.Context) error { return m.err }

func sampleOrder() *domain.Order {
	items := []domain.OrderItem{
		{ProductID: 1, ProductName: "Kettle", Quantity: 3, Price: decimal.NewFromInt(100)},
		{ProductID: 2, ProductName: "Cup", Quantity: 1, Price: decimal.NewFromInt(50)},
	}
	return &domain.Order{
		ID:            uuid.MustParse("6f1c2a3e-1d4b-4c59-9a55-0d5b8f6a9e01"),
		UserID:        "user-1",
		Email:         "asha@example.com",
		Items:         items,
		TotalPrice:    domain.ComputeTotal(items),
		Shipping:      domain.ShippingAddress{Name: "Asha", City: "Pune", Country: "IN", PostalCode: "411001"},
		PaymentStatus: domain.OrderPaymentPending,
		OrderStatus:   domain.OrderStatusPending,
		PaymentMethod: domain.PaymentMethodRazorpay,
		CreatedAt:     time.Date(2026, 2, 12, 10, 0, 0, 0, time.UTC),
		UpdatedAt:     time.Date(2026, 2, 12, 10, 0, 0, 0, time.UTC),
	}
}

func samplePayment(status domain.PaymentStatus) *domain.Payment {
	return &domain.Payment{
		ID:            uuid.MustParse("0b7e9a52-5f77-4a3c-8d2e-7c4b1e2f3a10"),
		UserID:        "user-1",
		OrderID:       sampleOrder().ID,
		PaymentMethod: domain.PaymentMethodRazorpay,
		Amount:        decimal.NewFromInt(350),
		Status:        status,
		TransactionID: "order_N1",
	}
}
