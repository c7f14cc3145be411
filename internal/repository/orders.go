package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fjod/go_shop/internal/domain"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

const orderColumns = `id, user_id, email, items, total_price, shipping, provider_order_ref,
	payment_status, order_status, payment_method, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var order domain.Order
	var itemsJSON, shippingJSON []byte
	var ref sql.NullString
	err := row.Scan(
		&order.ID,
		&order.UserID,
		&order.Email,
		&itemsJSON,
		&order.TotalPrice,
		&shippingJSON,
		&ref,
		&order.PaymentStatus,
		&order.OrderStatus,
		&order.PaymentMethod,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	order.ProviderOrderRef = ref.String

	if err := json.Unmarshal(itemsJSON, &order.Items); err != nil {
		return nil, fmt.Errorf("unmarshal order items: %w", err)
	}
	if err := json.Unmarshal(shippingJSON, &order.Shipping); err != nil {
		return nil, fmt.Errorf("unmarshal shipping address: %w", err)
	}
	return &order, nil
}

func (r *Repository) CreateOrder(ctx context.Context, order *domain.Order) error {
	itemsJSON, err := json.Marshal(order.Items)
	if err != nil {
		return fmt.Errorf("failed to marshal order items: %w", err)
	}
	shippingJSON, err := json.Marshal(order.Shipping)
	if err != nil {
		return fmt.Errorf("failed to marshal shipping address: %w", err)
	}

	query := `INSERT INTO orders (id, user_id, email, items, total_price, shipping, payment_status, order_status, payment_method, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
	          RETURNING created_at, updated_at`

	insertErr := r.db.QueryRowContext(ctx, query,
		order.ID,
		order.UserID,
		order.Email,
		itemsJSON,
		order.TotalPrice,
		shippingJSON,
		order.PaymentStatus,
		order.OrderStatus,
		order.PaymentMethod,
	).Scan(&order.CreatedAt, &order.UpdatedAt)
	if insertErr != nil {
		var pqErr *pq.Error
		if errors.As(insertErr, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("%w: order %s already exists", domain.ErrConflict, order.ID)
		}
		return fmt.Errorf("insert order: %w", insertErr)
	}
	return nil
}

func getOrder(ctx context.Context, q queryer, id uuid.UUID, lock bool) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}

	order, err := scanOrder(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order by id: %w", err)
	}
	return order, nil
}

func (r *Repository) GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return getOrder(ctx, r.db, id, false)
}

func (r *Repository) ListOrdersByUser(ctx context.Context, userID string) ([]*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE user_id = $1 ORDER BY created_at DESC`
	return r.listOrders(ctx, query, userID)
}

func (r *Repository) ListOrders(ctx context.Context) ([]*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders ORDER BY created_at DESC`
	return r.listOrders(ctx, query)
}

func (r *Repository) listOrders(ctx context.Context, query string, args ...any) ([]*domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	orders := make([]*domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return orders, nil
}

func (r *Repository) DeleteOrder(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete order rows affected: %w", err)
	}
	if n == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (t *Tx) GetOrderForUpdate(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return getOrder(ctx, t.tx, id, true)
}

// SetOrderStatus writes the fulfillment status unconditionally. Callers
// check the transition on a row they locked first.
func (t *Tx) SetOrderStatus(ctx context.Context, id uuid.UUID, status domain.OrderStatus) (*domain.Order, error) {
	query := `UPDATE orders SET order_status = $2, updated_at = NOW()
	          WHERE id = $1
	          RETURNING ` + orderColumns

	order, err := scanOrder(t.tx.QueryRowContext(ctx, query, id, status))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update order status: %w", err)
	}
	return order, nil
}

func (t *Tx) SetProviderOrderRef(ctx context.Context, id uuid.UUID, ref string) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE orders SET provider_order_ref = $2, updated_at = NOW() WHERE id = $1`, id, ref)
	if err != nil {
		return fmt.Errorf("set provider order ref: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set provider order ref rows affected: %w", err)
	}
	if n == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// CompleteOrder is the settlement compare-and-swap: it only matches an order
// of userID that still waits for payment, and records the intent that paid.
// Any pending attempt of the order may win; the swap lets exactly one.
func (t *Tx) CompleteOrder(ctx context.Context, id uuid.UUID, userID, providerOrderRef string) (*domain.Order, error) {
	query := `UPDATE orders SET payment_status = 'completed', provider_order_ref = $3, updated_at = NOW()
	          WHERE id = $1 AND user_id = $2
	            AND payment_status = 'pending' AND order_status <> 'cancelled'
	          RETURNING ` + orderColumns

	order, err := scanOrder(t.tx.QueryRowContext(ctx, query, id, userID, providerOrderRef))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: order %s is not waiting for payment", domain.ErrConflict, id)
	}
	if err != nil {
		return nil, fmt.Errorf("complete order: %w", err)
	}
	return order, nil
}

// CancelOrder moves a not yet delivered order to cancelled.
func (t *Tx) CancelOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	query := `UPDATE orders SET order_status = 'cancelled', updated_at = NOW()
	          WHERE id = $1 AND order_status NOT IN ('delivered', 'cancelled')
	          RETURNING ` + orderColumns

	order, err := scanOrder(t.tx.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: order %s cannot be cancelled", domain.ErrInvalidState, id)
	}
	if err != nil {
		return nil, fmt.Errorf("cancel order: %w", err)
	}
	return order, nil
}
