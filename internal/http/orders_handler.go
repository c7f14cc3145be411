package http

import (
	"context"
	"net/http"
	"time"

	"github.com/fjod/go_shop/internal/auth"
	"github.com/fjod/go_shop/internal/domain"
	"github.com/fjod/go_shop/internal/order"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type OrderService interface {
	CreateOrder(ctx context.Context, id auth.Identity, req order.CreateRequest) (*domain.Order, error)
	GetOrder(ctx context.Context, id auth.Identity, orderID uuid.UUID) (*domain.Order, error)
	ListOrders(ctx context.Context, id auth.Identity) ([]*domain.Order, error)
	ListAllOrders(ctx context.Context, id auth.Identity) ([]*domain.Order, error)
	DeleteOrder(ctx context.Context, id auth.Identity, orderID uuid.UUID) error
	UpdateOrderStatus(ctx context.Context, id auth.Identity, orderID uuid.UUID, status domain.OrderStatus, force bool) (*domain.Order, error)
	CancelOrder(ctx context.Context, id auth.Identity, orderID uuid.UUID) (*domain.Order, error)
}

type OrdersHandler struct {
	orders  OrderService
	timeout time.Duration
	log     *zap.Logger
}

func NewOrdersHandler(orders OrderService, timeout time.Duration, log *zap.Logger) *OrdersHandler {
	return &OrdersHandler{orders: orders, timeout: timeout, log: log}
}

type CreateOrderLineDTO struct {
	ProductID int64           `json:"product"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

type CreateOrderRequestDTO struct {
	Products        []CreateOrderLineDTO `json:"products"`
	ShippingAddress *ShippingAddressDTO  `json:"shippingAddress"`
	PaymentMethod   string               `json:"paymentMethod"`
}

type UpdateOrderStatusRequestDTO struct {
	OrderStatus string `json:"orderStatus"`
	Force       bool   `json:"force"`
}

// POST /api/order/create
func (h *OrdersHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id, ok := identityFrom(w, r)
	if !ok {
		return
	}

	var req CreateOrderRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ShippingAddress == nil {
		respondError(w, http.StatusBadRequest, "shippingAddress is required")
		return
	}

	lines := make([]order.Line, 0, len(req.Products))
	for _, p := range req.Products {
		lines = append(lines, order.Line{ProductID: p.ProductID, Quantity: p.Quantity, Price: p.Price})
	}

	created, err := h.orders.CreateOrder(ctx, id, order.CreateRequest{
		Lines: lines,
		Shipping: domain.ShippingAddress{
			Name:       req.ShippingAddress.Name,
			City:       req.ShippingAddress.City,
			Country:    req.ShippingAddress.Country,
			PostalCode: req.ShippingAddress.PostalCode,
		},
		PaymentMethod: domain.PaymentMethod(req.PaymentMethod),
	})
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}

	respondOK(w, http.StatusCreated, envelope{"orderId": created.ID.String(), "order": toOrderDTO(created)})
}

// GET /api/order/orders/mine
func (h *OrdersHandler) ListMyOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id, ok := identityFrom(w, r)
	if !ok {
		return
	}

	orders, err := h.orders.ListOrders(ctx, id)
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	respondOK(w, http.StatusOK, envelope{"orders": toOrderDTOs(orders)})
}

// GET /api/order/orders
func (h *OrdersHandler) ListAllOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id, ok := identityFrom(w, r)
	if !ok {
		return
	}

	orders, err := h.orders.ListAllOrders(ctx, id)
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	respondOK(w, http.StatusOK, envelope{"orders": toOrderDTOs(orders)})
}

// GET /api/order/orders/{id}
func (h *OrdersHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id, ok := identityFrom(w, r)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(w, r, "id")
	if !ok {
		return
	}

	o, err := h.orders.GetOrder(ctx, id, orderID)
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	respondOK(w, http.StatusOK, envelope{"order": toOrderDTO(o)})
}

// PUT /api/order/orders/{id}
func (h *OrdersHandler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id, ok := identityFrom(w, r)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(w, r, "id")
	if !ok {
		return
	}

	var req UpdateOrderStatusRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.OrderStatus == "" {
		respondError(w, http.StatusBadRequest, "orderStatus is required")
		return
	}

	updated, err := h.orders.UpdateOrderStatus(ctx, id, orderID, domain.OrderStatus(req.OrderStatus), req.Force)
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	respondOK(w, http.StatusOK, envelope{"order": toOrderDTO(updated)})
}

// PUT /api/order/orders/cancel/{id}
func (h *OrdersHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id, ok := identityFrom(w, r)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(w, r, "id")
	if !ok {
		return
	}

	cancelled, err := h.orders.CancelOrder(ctx, id, orderID)
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	respondOK(w, http.StatusOK, envelope{"message": "Order cancelled", "order": toOrderDTO(cancelled)})
}

// DELETE /api/order/orders/{id}
func (h *OrdersHandler) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id, ok := identityFrom(w, r)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(w, r, "id")
	if !ok {
		return
	}

	if err := h.orders.DeleteOrder(ctx, id, orderID); err != nil {
		handleError(w, r, h.log, err)
		return
	}
	respondOK(w, http.StatusOK, envelope{"message": "Order deleted"})
}

func orderIDParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	orderID, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		respondError(w, http.StatusBadRequest, "order id must be a valid UUID")
		return uuid.Nil, false
	}
	return orderID, true
}
