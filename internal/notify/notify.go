// Package notify hands settlement outcomes to the mail pipeline. Delivery is
// best effort: failures are logged and never reach the caller.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fjod/go_shop/internal/domain"
	"go.uber.org/zap"
)

type Kind string

const (
	KindPurchaseConfirmation Kind = "purchase_confirmation"
	KindRefundConfirmation   Kind = "refund_confirmation"
)

type Message struct {
	Kind    Kind      `json:"kind"`
	OrderID string    `json:"order_id"`
	UserID  string    `json:"user_id"`
	To      string    `json:"to"`
	Subject string    `json:"subject"`
	Body    string    `json:"body"`
	SentAt  time.Time `json:"sent_at"`
}

type Sink interface {
	Send(ctx context.Context, msg Message) error
}

// Notifier bounds each send with a timeout and swallows the error after
// logging it.
type Notifier struct {
	sink    Sink
	timeout time.Duration
	log     *zap.Logger
}

func NewNotifier(sink Sink, timeout time.Duration, log *zap.Logger) *Notifier {
	if timeout == 0 {
		timeout = 3 * time.Second
	}
	return &Notifier{sink: sink, timeout: timeout, log: log}
}

func (n *Notifier) Notify(ctx context.Context, msg Message) {
	if msg.To == "" {
		n.log.Warn("notification skipped, no recipient",
			zap.String("kind", string(msg.Kind)),
			zap.String("order_id", msg.OrderID))
		return
	}

	// detached from the request so a finished response does not cancel it
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
	defer cancel()

	msg.SentAt = time.Now().UTC()
	if err := n.sink.Send(sendCtx, msg); err != nil {
		n.log.Error("notification failed",
			zap.String("kind", string(msg.Kind)),
			zap.String("order_id", msg.OrderID),
			zap.Error(err))
		return
	}
	n.log.Info("notification sent",
		zap.String("kind", string(msg.Kind)),
		zap.String("order_id", msg.OrderID))
}

func PurchaseConfirmation(order *domain.Order) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s,\n\nThank you for your order %s.\n\n", order.Shipping.Name, order.ID)
	for _, item := range order.Items {
		fmt.Fprintf(&b, "  %d x %s @ %s\n", item.Quantity, item.ProductName, item.Price.StringFixed(2))
	}
	fmt.Fprintf(&b, "\nTotal paid: %s\n", order.TotalPrice.StringFixed(2))
	fmt.Fprintf(&b, "Shipping to: %s, %s, %s\n", order.Shipping.City, order.Shipping.Country, order.Shipping.PostalCode)

	return Message{
		Kind:    KindPurchaseConfirmation,
		OrderID: order.ID.String(),
		UserID:  order.UserID,
		To:      order.Email,
		Subject: "Your order is confirmed",
		Body:    b.String(),
	}
}

func RefundConfirmation(order *domain.Order, payment *domain.Payment) Message {
	body := fmt.Sprintf("Hi %s,\n\nWe refunded %s for order %s. It can take 5-7 business days to appear on your statement.\n",
		order.Shipping.Name, payment.Amount.StringFixed(2), order.ID)

	return Message{
		Kind:    KindRefundConfirmation,
		OrderID: order.ID.String(),
		UserID:  order.UserID,
		To:      order.Email,
		Subject: "Your refund has been issued",
		Body:    body,
	}
}
