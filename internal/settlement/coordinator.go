// Package settlement drives an order from payment intent to settled stock
// and back out through refunds. Every state change that touches more than
// one row happens inside one store transaction; the gateway is called
// before that transaction opens, except for refunds which must not commit
// without the provider's answer.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/fjod/go_shop/internal/auth"
	"github.com/fjod/go_shop/internal/domain"
	"github.com/fjod/go_shop/internal/gateway"
	"github.com/fjod/go_shop/internal/inventory"
	"github.com/fjod/go_shop/internal/notify"
	"github.com/fjod/go_shop/pkg/logger"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/fjod/go_shop/internal/settlement"

type Store interface {
	GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	GetPaymentByTransactionID(ctx context.Context, transactionID string) (*domain.Payment, error)
	InTx(ctx context.Context, fn func(Tx) error) error
}

// Tx is everything settlement writes. It doubles as the inventory scope so
// stock moves commit or roll back with the payment and order rows.
type Tx interface {
	inventory.Scope

	GetOrderForUpdate(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	SetProviderOrderRef(ctx context.Context, id uuid.UUID, ref string) error
	CompleteOrder(ctx context.Context, id uuid.UUID, userID, providerOrderRef string) (*domain.Order, error)
	CancelOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error)

	InsertPayment(ctx context.Context, p *domain.Payment) error
	LockPayment(ctx context.Context, transactionID string) (*domain.Payment, error)
	CompletePayment(ctx context.Context, transactionID, providerPaymentID string, capture *domain.CapturePayload) (*domain.Payment, error)
	FailPayment(ctx context.Context, transactionID string) (*domain.Payment, error)
	RefundPayment(ctx context.Context, id uuid.UUID, refund *domain.RefundPayload) (*domain.Payment, error)
	RefundCapture(ctx context.Context, id uuid.UUID, providerPaymentID string, capture *domain.CapturePayload, refund *domain.RefundPayload) (*domain.Payment, error)

	RecordReservations(ctx context.Context, orderID uuid.UUID, lines []domain.StockReservation) error
	TakeReservations(ctx context.Context, orderID uuid.UUID) ([]domain.StockReservation, error)

	LockCart(ctx context.Context, userID string) (*domain.Cart, error)
	ClearCart(ctx context.Context, cartID int64) error
}

// CartInvalidator drops cached carts after settlement cleared them.
type CartInvalidator interface {
	Invalidate(userID string)
}

type Coordinator struct {
	store    Store
	gateway  gateway.Gateway
	ledger   *inventory.Ledger
	notifier *notify.Notifier
	carts    CartInvalidator
	currency string
	log      *zap.Logger
	tracer   trace.Tracer
}

func NewCoordinator(
	store Store,
	gw gateway.Gateway,
	ledger *inventory.Ledger,
	notifier *notify.Notifier,
	carts CartInvalidator,
	currency string,
	log *zap.Logger,
) *Coordinator {
	if currency == "" {
		currency = "INR"
	}
	return &Coordinator{
		store:    store,
		gateway:  gw,
		ledger:   ledger,
		notifier: notifier,
		carts:    carts,
		currency: currency,
		log:      log,
		tracer:   otel.Tracer(tracerName),
	}
}

// PaymentOrder is what the client needs to open the provider checkout.
type PaymentOrder struct {
	IntentID    string
	PaymentID   uuid.UUID
	OrderID     uuid.UUID
	AmountMinor int64
	Currency    string
}

// ConfirmRequest carries the identifiers the provider checkout returns.
// Signature is optional; when present it is verified before anything else.
type ConfirmRequest struct {
	ProviderOrderID   string
	ProviderPaymentID string
	Signature         string
}

type Settlement struct {
	Order   *domain.Order
	Payment *domain.Payment
}

// CreatePaymentOrder opens a provider intent for the order's stored total and
// records it as a pending payment attempt. Earlier attempts stay pending: the
// customer may still complete any of them, and the order swap in
// ConfirmPayment lets only the first capture settle.
func (c *Coordinator) CreatePaymentOrder(ctx context.Context, id auth.Identity, orderID uuid.UUID, method domain.PaymentMethod) (_ *PaymentOrder, err error) {
	ctx, span := c.tracer.Start(ctx, "settlement.CreatePaymentOrder",
		trace.WithAttributes(attribute.String("order.id", orderID.String())))
	defer func() { endSpan(span, err) }()
	log := logger.WithTrace(ctx, c.log)

	order, err := c.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.OwnedBy(id.UserID) {
		return nil, fmt.Errorf("%w: order %s belongs to another user", domain.ErrForbidden, orderID)
	}
	if err := checkPayable(order); err != nil {
		return nil, err
	}
	if method == "" {
		method = order.PaymentMethod
	}
	if !method.Valid() {
		return nil, fmt.Errorf("%w: unknown payment method %q", domain.ErrValidation, method)
	}

	amount := domain.ToMinorUnits(order.TotalPrice)
	span.SetAttributes(attribute.Int64("payment.amount_minor", amount))

	intent, err := c.gateway.CreateIntent(ctx, gateway.IntentRequest{
		AmountMinor: amount,
		Currency:    c.currency,
		Receipt:     "order_rcptid_" + orderID.String(),
		Notes: map[string]string{
			"userId":  id.UserID,
			"orderId": orderID.String(),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}

	payment := &domain.Payment{
		ID:            uuid.New(),
		UserID:        id.UserID,
		OrderID:       orderID,
		PaymentMethod: method,
		Amount:        order.TotalPrice,
		Status:        domain.PaymentStatusPending,
		TransactionID: intent.ID,
		Intent:        intent.Payload(),
	}

	err = c.store.InTx(ctx, func(tx Tx) error {
		current, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if err := checkPayable(current); err != nil {
			return err
		}
		if err := tx.InsertPayment(ctx, payment); err != nil {
			return err
		}
		return tx.SetProviderOrderRef(ctx, orderID, intent.ID)
	})
	if err != nil {
		return nil, err
	}

	log.Info("payment intent created",
		zap.String("order_id", orderID.String()),
		zap.String("intent_id", intent.ID),
		zap.String("payment_id", payment.ID.String()),
		zap.Int64("amount_minor", amount))

	return &PaymentOrder{
		IntentID:    intent.ID,
		PaymentID:   payment.ID,
		OrderID:     orderID,
		AmountMinor: amount,
		Currency:    c.currency,
	}, nil
}

func checkPayable(order *domain.Order) error {
	if order.PaymentStatus == domain.OrderPaymentCompleted {
		return fmt.Errorf("%w: order %s is already paid", domain.ErrInvalidState, order.ID)
	}
	if order.OrderStatus == domain.OrderStatusCancelled {
		return fmt.Errorf("%w: order %s is cancelled", domain.ErrInvalidState, order.ID)
	}
	return nil
}

// ConfirmPayment settles a captured payment: payment and order complete,
// stock for every cart line is reserved and recorded against the order, and
// the cart is cleared, all in one transaction. Calling it again for the same
// intent fails with domain.ErrConflict and changes nothing.
//
// A capture that can no longer settle, because its attempt failed or its
// order was paid by another attempt or cancelled, is refunded at the provider
// and recorded; the call still fails with domain.ErrConflict.
func (c *Coordinator) ConfirmPayment(ctx context.Context, id auth.Identity, req ConfirmRequest) (_ *Settlement, err error) {
	ctx, span := c.tracer.Start(ctx, "settlement.ConfirmPayment",
		trace.WithAttributes(attribute.String("payment.provider_id", req.ProviderPaymentID)))
	defer func() { endSpan(span, err) }()
	log := logger.WithTrace(ctx, c.log)

	if req.ProviderPaymentID == "" {
		return nil, fmt.Errorf("%w: provider payment id is required", domain.ErrValidation)
	}
	if req.Signature != "" {
		if req.ProviderOrderID == "" {
			return nil, fmt.Errorf("%w: provider order id is required with a signature", domain.ErrValidation)
		}
		if err := c.gateway.VerifySignature(req.ProviderOrderID, req.ProviderPaymentID, req.Signature); err != nil {
			return nil, err
		}
	}

	capture, err := c.gateway.FetchCapture(ctx, req.ProviderPaymentID)
	if err != nil {
		return nil, fmt.Errorf("fetch capture: %w", err)
	}
	if !capture.Captured() {
		return nil, fmt.Errorf("%w: payment %s is %s", domain.ErrPaymentNotCaptured, req.ProviderPaymentID, capture.Status)
	}

	ref := capture.OrderRef
	switch {
	case ref == "":
		ref = req.ProviderOrderID
	case req.ProviderOrderID != "" && req.ProviderOrderID != ref:
		return nil, fmt.Errorf("%w: payment %s does not belong to order %s", domain.ErrValidation, req.ProviderPaymentID, req.ProviderOrderID)
	}
	if ref == "" {
		return nil, fmt.Errorf("%w: provider order id is required", domain.ErrValidation)
	}
	span.SetAttributes(attribute.String("payment.intent_id", ref))

	var (
		result   Settlement
		stranded *gateway.Refund
	)
	err = c.store.InTx(ctx, func(tx Tx) error {
		payment, err := tx.LockPayment(ctx, ref)
		if err != nil {
			return err
		}
		if payment.UserID != id.UserID {
			return fmt.Errorf("%w: payment %s belongs to another user", domain.ErrForbidden, ref)
		}
		if payment.Status == domain.PaymentStatusCompleted || payment.Status == domain.PaymentStatusRefunded {
			return fmt.Errorf("%w: payment %s is already %s", domain.ErrConflict, ref, payment.Status)
		}
		if capture.AmountMinor != domain.ToMinorUnits(payment.Amount) {
			return fmt.Errorf("%w: captured %d, expected %d", domain.ErrInvalidState,
				capture.AmountMinor, domain.ToMinorUnits(payment.Amount))
		}

		settleable, err := canSettle(ctx, tx, payment)
		if err != nil {
			return err
		}
		if !settleable {
			stranded, err = c.gateway.Refund(ctx, capture.PaymentID, capture.AmountMinor)
			if err != nil {
				return fmt.Errorf("refund unsettled capture: %w", err)
			}
			_, err = tx.RefundCapture(ctx, payment.ID, capture.PaymentID, capture.Payload(), stranded.Payload())
			return err
		}

		payment, err = tx.CompletePayment(ctx, ref, capture.PaymentID, capture.Payload())
		if err != nil {
			return err
		}
		order, err := tx.CompleteOrder(ctx, payment.OrderID, id.UserID, ref)
		if err != nil {
			return err
		}

		cart, err := tx.LockCart(ctx, id.UserID)
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("%w: user %s has no cart", domain.ErrEmptyCart, id.UserID)
		}
		if err != nil {
			return err
		}
		if cart.IsEmpty() {
			return fmt.Errorf("%w: cart of user %s is empty", domain.ErrEmptyCart, id.UserID)
		}

		// one lock order for every settlement avoids deadlocks between carts
		// sharing products
		items := append([]domain.CartItem(nil), cart.Items...)
		sort.Slice(items, func(i, j int) bool { return items[i].ProductID < items[j].ProductID })
		reserved := make([]domain.StockReservation, 0, len(items))
		for _, item := range items {
			if err := c.ledger.Reserve(ctx, tx, item.ProductID, item.Quantity); err != nil {
				return err
			}
			reserved = append(reserved, domain.StockReservation{ProductID: item.ProductID, Quantity: item.Quantity})
		}
		if err := tx.RecordReservations(ctx, order.ID, reserved); err != nil {
			return err
		}

		if err := tx.ClearCart(ctx, cart.ID); err != nil {
			return err
		}

		result = Settlement{Order: order, Payment: payment}
		return nil
	})
	if err != nil {
		if stranded != nil {
			log.Error("refund issued but not recorded",
				zap.String("intent_id", ref),
				zap.String("refund_id", stranded.ID),
				zap.Error(err))
		}
		log.Warn("settlement aborted",
			zap.String("intent_id", ref),
			zap.String("provider_payment_id", req.ProviderPaymentID),
			zap.Error(err))
		return nil, err
	}
	if stranded != nil {
		log.Warn("capture refunded, order no longer payable",
			zap.String("intent_id", ref),
			zap.String("provider_payment_id", capture.PaymentID),
			zap.String("refund_id", stranded.ID))
		return nil, fmt.Errorf("%w: order of intent %s can no longer take payment, capture refunded", domain.ErrConflict, ref)
	}

	log.Info("payment settled",
		zap.String("order_id", result.Order.ID.String()),
		zap.String("payment_id", result.Payment.ID.String()),
		zap.String("provider_payment_id", capture.PaymentID))

	c.carts.Invalidate(id.UserID)
	c.notifier.Notify(ctx, notify.PurchaseConfirmation(result.Order))
	return &result, nil
}

// canSettle reports whether a captured attempt may still pay for its order.
func canSettle(ctx context.Context, tx Tx, payment *domain.Payment) (bool, error) {
	if payment.Status != domain.PaymentStatusPending {
		return false, nil
	}
	order, err := tx.GetOrderForUpdate(ctx, payment.OrderID)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return checkPayable(order) == nil, nil
}

// HandlePaymentFailure marks a pending payment attempt failed. Nothing was
// reserved for it, so order, cart and stock stay as they are.
func (c *Coordinator) HandlePaymentFailure(ctx context.Context, id auth.Identity, transactionID string) (_ *domain.Payment, err error) {
	ctx, span := c.tracer.Start(ctx, "settlement.HandlePaymentFailure",
		trace.WithAttributes(attribute.String("payment.intent_id", transactionID)))
	defer func() { endSpan(span, err) }()

	if transactionID == "" {
		return nil, fmt.Errorf("%w: payment id is required", domain.ErrValidation)
	}

	payment, err := c.store.GetPaymentByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if !id.CanAccess(payment.UserID) {
		return nil, fmt.Errorf("%w: payment %s belongs to another user", domain.ErrForbidden, transactionID)
	}
	if payment.Status != domain.PaymentStatusPending {
		return nil, fmt.Errorf("%w: payment %s is %s", domain.ErrInvalidState, transactionID, payment.Status)
	}

	var failed *domain.Payment
	err = c.store.InTx(ctx, func(tx Tx) error {
		failed, err = tx.FailPayment(ctx, transactionID)
		return err
	})
	if errors.Is(err, domain.ErrConflict) {
		return nil, fmt.Errorf("%w: payment %s is no longer pending", domain.ErrInvalidState, transactionID)
	}
	if err != nil {
		return nil, err
	}

	logger.WithTrace(ctx, c.log).Info("payment failed",
		zap.String("intent_id", transactionID),
		zap.String("order_id", failed.OrderID.String()))
	return failed, nil
}

// InitiateRefund refunds the payment that settled an order and cancels it.
// Goods that never left the warehouse go back to stock, exactly as reserved
// at settlement. The provider refund runs inside the transaction so nothing
// commits without it.
func (c *Coordinator) InitiateRefund(ctx context.Context, id auth.Identity, orderID uuid.UUID) (_ *domain.Order, _ *domain.Payment, err error) {
	ctx, span := c.tracer.Start(ctx, "settlement.InitiateRefund",
		trace.WithAttributes(attribute.String("order.id", orderID.String())))
	defer func() { endSpan(span, err) }()
	log := logger.WithTrace(ctx, c.log)

	order, err := c.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	if !id.CanAccess(order.UserID) {
		return nil, nil, fmt.Errorf("%w: order %s belongs to another user", domain.ErrForbidden, orderID)
	}
	if order.OrderStatus == domain.OrderStatusDelivered {
		return nil, nil, fmt.Errorf("%w: delivered orders are not refundable", domain.ErrInvalidState)
	}

	var (
		cancelled *domain.Order
		refunded  *domain.Payment
		issued    *gateway.Refund
	)
	err = c.store.InTx(ctx, func(tx Tx) error {
		current, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if current.OrderStatus == domain.OrderStatusDelivered {
			return fmt.Errorf("%w: delivered orders are not refundable", domain.ErrInvalidState)
		}

		if current.ProviderOrderRef == "" {
			return fmt.Errorf("%w: order %s has no completed payment", domain.ErrInvalidState, orderID)
		}
		payment, err := tx.LockPayment(ctx, current.ProviderOrderRef)
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("%w: order %s has no completed payment", domain.ErrInvalidState, orderID)
		}
		if err != nil {
			return err
		}
		if payment.OrderID != orderID {
			return fmt.Errorf("%w: intent %s does not belong to order %s", domain.ErrConflict, payment.TransactionID, orderID)
		}
		switch payment.Status {
		case domain.PaymentStatusCompleted:
		case domain.PaymentStatusRefunded:
			return fmt.Errorf("%w: payment %s is already refunded", domain.ErrInvalidState, payment.ID)
		default:
			return fmt.Errorf("%w: order %s has no completed payment", domain.ErrInvalidState, orderID)
		}

		issued, err = c.gateway.Refund(ctx, payment.ProviderPaymentID, domain.ToMinorUnits(payment.Amount))
		if err != nil {
			return fmt.Errorf("refund payment: %w", err)
		}

		refunded, err = tx.RefundPayment(ctx, payment.ID, issued.Payload())
		if err != nil {
			return err
		}

		cancelled = current
		if current.OrderStatus != domain.OrderStatusCancelled {
			cancelled, err = tx.CancelOrder(ctx, orderID)
			if err != nil {
				return err
			}
		}

		if current.OrderStatus.InWarehouse() {
			reserved, err := tx.TakeReservations(ctx, orderID)
			if err != nil {
				return err
			}
			for _, line := range reserved {
				if err := c.ledger.Release(ctx, tx, line.ProductID, line.Quantity); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		if issued != nil {
			// the provider already paid out; this needs manual reconciliation
			log.Error("refund issued but not recorded",
				zap.String("order_id", orderID.String()),
				zap.String("refund_id", issued.ID),
				zap.Error(err))
		}
		return nil, nil, err
	}

	log.Info("payment refunded",
		zap.String("order_id", orderID.String()),
		zap.String("payment_id", refunded.ID.String()),
		zap.String("refund_id", issued.ID))

	c.notifier.Notify(ctx, notify.RefundConfirmation(cancelled, refunded))
	return cancelled, refunded, nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
