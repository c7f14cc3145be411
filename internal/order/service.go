// Package order owns the order record: checkout, reads, the admin status
// workflow and cancellation.
package order

import (
	"context"
	"fmt"

	"github.com/fjod/go_shop/internal/auth"
	"github.com/fjod/go_shop/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Store interface {
	GetProducts(ctx context.Context, ids []int64) (map[int64]*domain.Product, error)
	CreateOrder(ctx context.Context, order *domain.Order) error
	GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	ListOrdersByUser(ctx context.Context, userID string) ([]*domain.Order, error)
	ListOrders(ctx context.Context) ([]*domain.Order, error)
	DeleteOrder(ctx context.Context, id uuid.UUID) error
	InTx(ctx context.Context, fn func(Tx) error) error
}

type Tx interface {
	GetOrderForUpdate(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	SetOrderStatus(ctx context.Context, id uuid.UUID, status domain.OrderStatus) (*domain.Order, error)
	CancelOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	FailPendingPayments(ctx context.Context, orderID uuid.UUID) (int64, error)
}

// Refunder runs the refund flow for orders that were already paid.
type Refunder interface {
	InitiateRefund(ctx context.Context, id auth.Identity, orderID uuid.UUID) (*domain.Order, *domain.Payment, error)
}

// Line is one requested checkout line. Price is what the client saw and must
// match the catalog.
type Line struct {
	ProductID int64
	Quantity  int
	Price     decimal.Decimal
}

type CreateRequest struct {
	Lines         []Line
	Shipping      domain.ShippingAddress
	PaymentMethod domain.PaymentMethod
}

type Service struct {
	store    Store
	refunder Refunder
	log      *zap.Logger
}

func NewService(store Store, refunder Refunder, log *zap.Logger) *Service {
	return &Service{store: store, refunder: refunder, log: log}
}

func (s *Service) CreateOrder(ctx context.Context, id auth.Identity, req CreateRequest) (*domain.Order, error) {
	if err := validateCreate(req); err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(req.Lines))
	for _, l := range req.Lines {
		ids = append(ids, l.ProductID)
	}
	products, err := s.store.GetProducts(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load products: %w", err)
	}

	items := make([]domain.OrderItem, 0, len(req.Lines))
	for _, l := range req.Lines {
		p, ok := products[l.ProductID]
		if !ok {
			return nil, fmt.Errorf("product %d %w", l.ProductID, domain.ErrNotFound)
		}
		price := p.EffectivePrice()
		if !l.Price.Equal(price) {
			return nil, fmt.Errorf("%w: price of product %d changed to %s", domain.ErrValidation, p.ID, price.StringFixed(2))
		}
		items = append(items, domain.OrderItem{
			ProductID:   p.ID,
			ProductName: p.Name,
			Quantity:    l.Quantity,
			Price:       price,
		})
	}

	order := &domain.Order{
		ID:            uuid.New(),
		UserID:        id.UserID,
		Email:         id.Email,
		Items:         items,
		TotalPrice:    domain.ComputeTotal(items),
		Shipping:      req.Shipping,
		PaymentStatus: domain.OrderPaymentPending,
		OrderStatus:   domain.OrderStatusPending,
		PaymentMethod: req.PaymentMethod,
	}
	if err := s.store.CreateOrder(ctx, order); err != nil {
		return nil, err
	}

	s.log.Info("order created",
		zap.String("order_id", order.ID.String()),
		zap.String("user_id", order.UserID),
		zap.String("total", order.TotalPrice.StringFixed(2)),
		zap.Int("items", len(order.Items)))
	return order, nil
}

func validateCreate(req CreateRequest) error {
	if len(req.Lines) == 0 {
		return fmt.Errorf("%w: order has no products", domain.ErrValidation)
	}
	seen := make(map[int64]bool, len(req.Lines))
	for _, l := range req.Lines {
		if l.ProductID <= 0 {
			return fmt.Errorf("%w: invalid product id %d", domain.ErrValidation, l.ProductID)
		}
		if seen[l.ProductID] {
			return fmt.Errorf("%w: product %d listed twice", domain.ErrValidation, l.ProductID)
		}
		seen[l.ProductID] = true
		if l.Quantity <= 0 {
			return fmt.Errorf("%w: quantity of product %d must be positive", domain.ErrValidation, l.ProductID)
		}
		if !l.Price.IsPositive() {
			return fmt.Errorf("%w: price of product %d must be positive", domain.ErrValidation, l.ProductID)
		}
	}
	if err := req.Shipping.Validate(); err != nil {
		return err
	}
	if req.PaymentMethod == "" {
		return fmt.Errorf("%w: payment method is required", domain.ErrValidation)
	}
	if !req.PaymentMethod.Valid() {
		return fmt.Errorf("%w: unknown payment method %q", domain.ErrValidation, req.PaymentMethod)
	}
	return nil
}

func (s *Service) GetOrder(ctx context.Context, id auth.Identity, orderID uuid.UUID) (*domain.Order, error) {
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !id.CanAccess(order.UserID) {
		return nil, fmt.Errorf("%w: order %s belongs to another user", domain.ErrForbidden, orderID)
	}
	return order, nil
}

// ListOrders returns the caller's own orders, newest first.
func (s *Service) ListOrders(ctx context.Context, id auth.Identity) ([]*domain.Order, error) {
	return s.store.ListOrdersByUser(ctx, id.UserID)
}

func (s *Service) ListAllOrders(ctx context.Context, id auth.Identity) ([]*domain.Order, error) {
	if !id.IsAdmin() {
		return nil, fmt.Errorf("%w: admin access required", domain.ErrForbidden)
	}
	return s.store.ListOrders(ctx)
}

func (s *Service) DeleteOrder(ctx context.Context, id auth.Identity, orderID uuid.UUID) error {
	if !id.IsAdmin() {
		return fmt.Errorf("%w: admin access required", domain.ErrForbidden)
	}
	if err := s.store.DeleteOrder(ctx, orderID); err != nil {
		return err
	}
	s.log.Warn("order deleted", zap.String("order_id", orderID.String()), zap.String("admin_id", id.UserID))
	return nil
}

// UpdateOrderStatus moves an order along the fulfillment workflow. With force
// set an admin may write any status; the override is logged.
func (s *Service) UpdateOrderStatus(ctx context.Context, id auth.Identity, orderID uuid.UUID, status domain.OrderStatus, force bool) (*domain.Order, error) {
	if !id.IsAdmin() {
		return nil, fmt.Errorf("%w: admin access required", domain.ErrForbidden)
	}
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown order status %q", domain.ErrValidation, status)
	}

	var updated *domain.Order
	err := s.store.InTx(ctx, func(tx Tx) error {
		current, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}

		if !current.OrderStatus.CanTransitionTo(status) {
			if !force {
				return fmt.Errorf("%w: cannot move order from %s to %s", domain.ErrInvalidState, current.OrderStatus, status)
			}
			s.log.Warn("order status override",
				zap.String("order_id", orderID.String()),
				zap.String("from", current.OrderStatus.String()),
				zap.String("to", status.String()),
				zap.String("admin_id", id.UserID))
		}
		if status == domain.OrderStatusCancelled && current.PaymentStatus == domain.OrderPaymentCompleted && !force {
			return fmt.Errorf("%w: order %s is paid, cancel it to issue a refund", domain.ErrInvalidState, orderID)
		}

		updated, err = tx.SetOrderStatus(ctx, orderID, status)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("order status updated",
		zap.String("order_id", orderID.String()),
		zap.String("status", status.String()))
	return updated, nil
}

// CancelOrder cancels an order for its owner or an admin. A paid order goes
// through the refund flow; an unpaid one is cancelled directly and its
// pending payment attempts are failed.
func (s *Service) CancelOrder(ctx context.Context, id auth.Identity, orderID uuid.UUID) (*domain.Order, error) {
	order, err := s.GetOrder(ctx, id, orderID)
	if err != nil {
		return nil, err
	}
	if err := checkCancellable(order); err != nil {
		return nil, err
	}

	if order.PaymentStatus == domain.OrderPaymentCompleted {
		refunded, _, err := s.refunder.InitiateRefund(ctx, id, orderID)
		return refunded, err
	}

	var cancelled *domain.Order
	err = s.store.InTx(ctx, func(tx Tx) error {
		current, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if err := checkCancellable(current); err != nil {
			return err
		}
		// settled between the read above and the lock
		if current.PaymentStatus == domain.OrderPaymentCompleted {
			return fmt.Errorf("%w: order %s was paid meanwhile, retry", domain.ErrConflict, orderID)
		}

		cancelled, err = tx.CancelOrder(ctx, orderID)
		if err != nil {
			return err
		}
		failed, err := tx.FailPendingPayments(ctx, orderID)
		if err != nil {
			return err
		}
		if failed > 0 {
			s.log.Info("pending payments failed on cancel",
				zap.String("order_id", orderID.String()),
				zap.Int64("count", failed))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("order cancelled", zap.String("order_id", orderID.String()), zap.String("by", id.UserID))
	return cancelled, nil
}

func checkCancellable(order *domain.Order) error {
	switch order.OrderStatus {
	case domain.OrderStatusDelivered, domain.OrderStatusCancelled:
		return fmt.Errorf("%w: order %s is already %s", domain.ErrInvalidState, order.ID, order.OrderStatus)
	}
	return nil
}
