package domain

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusPacked     OrderStatus = "packed"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusInTransit  OrderStatus = "in-transit"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusReturned   OrderStatus = "returned"
	OrderStatusRefunded   OrderStatus = "refunded"
)

// fulfillment lists the allowed next states. Forward through fulfillment,
// sideways into cancelled before shipping and into returned after it.
var fulfillment = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusPacked, OrderStatusCancelled},
	OrderStatusPacked:     {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:    {OrderStatusInTransit, OrderStatusReturned},
	OrderStatusInTransit:  {OrderStatusDelivered, OrderStatusReturned},
	OrderStatusDelivered:  {OrderStatusReturned},
	OrderStatusReturned:   {OrderStatusRefunded},
}

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusPacked, OrderStatusShipped,
		OrderStatusInTransit, OrderStatusDelivered, OrderStatusCancelled, OrderStatusReturned,
		OrderStatusRefunded:
		return true
	}
	return false
}

func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCancelled || s == OrderStatusRefunded
}

func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range fulfillment[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// InWarehouse reports whether the goods have not left yet, so a refund
// should put the quantities back on the shelf.
func (s OrderStatus) InWarehouse() bool {
	return s == OrderStatusPending || s == OrderStatusProcessing || s == OrderStatusPacked
}

// String representation (for logging)
func (s OrderStatus) String() string {
	return string(s)
}

// OrderPaymentStatus is the payment summary carried on the order itself.
type OrderPaymentStatus string

const (
	OrderPaymentPending   OrderPaymentStatus = "pending"
	OrderPaymentCompleted OrderPaymentStatus = "completed"
	OrderPaymentFailed    OrderPaymentStatus = "failed"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	switch s {
	case PaymentStatusPending:
		return next == PaymentStatusCompleted || next == PaymentStatusFailed || next == PaymentStatusRefunded
	case PaymentStatusFailed, PaymentStatusCompleted:
		return next == PaymentStatusRefunded
	}
	return false
}

func (s PaymentStatus) String() string {
	return string(s)
}
