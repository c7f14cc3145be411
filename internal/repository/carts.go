package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fjod/go_shop/internal/domain"
)

func loadCart(ctx context.Context, q queryer, userID string, lock bool) (*domain.Cart, error) {
	query := `SELECT id, user_id, created_at, updated_at FROM carts WHERE user_id = $1`
	if lock {
		query += ` FOR UPDATE`
	}

	var cart domain.Cart
	err := q.QueryRowContext(ctx, query, userID).Scan(&cart.ID, &cart.UserID, &cart.CreatedAt, &cart.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCartNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query cart: %w", err)
	}

	rows, err := q.QueryContext(ctx,
		`SELECT product_id, quantity, price FROM cart_items WHERE cart_id = $1 ORDER BY product_id`, cart.ID)
	if err != nil {
		return nil, fmt.Errorf("query cart items: %w", err)
	}
	defer rows.Close()

	cart.Items = make([]domain.CartItem, 0)
	for rows.Next() {
		var item domain.CartItem
		if err := rows.Scan(&item.ProductID, &item.Quantity, &item.Price); err != nil {
			return nil, fmt.Errorf("scan cart item: %w", err)
		}
		cart.Items = append(cart.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return &cart, nil
}

func (r *Repository) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	return loadCart(ctx, r.db, userID, false)
}

// LockCart loads the user's cart and locks its row. Items come back ordered
// by product id, which is also the order stock rows get locked in.
func (t *Tx) LockCart(ctx context.Context, userID string) (*domain.Cart, error) {
	return loadCart(ctx, t.tx, userID, true)
}

// EnsureCart creates the user's cart on first use and returns it locked.
func (t *Tx) EnsureCart(ctx context.Context, userID string) (*domain.Cart, error) {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO carts (user_id, created_at, updated_at) VALUES ($1, NOW(), NOW())
		 ON CONFLICT (user_id) DO NOTHING`, userID)
	if err != nil {
		return nil, fmt.Errorf("create cart: %w", err)
	}
	return loadCart(ctx, t.tx, userID, true)
}

func (t *Tx) UpsertCartItem(ctx context.Context, cartID int64, item domain.CartItem) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO cart_items (cart_id, product_id, quantity, price, added_at)
		 VALUES ($1, $2, $3, $4, NOW())
		 ON CONFLICT (cart_id, product_id) DO UPDATE SET quantity = EXCLUDED.quantity, price = EXCLUDED.price`,
		cartID, item.ProductID, item.Quantity, item.Price)
	if err != nil {
		return fmt.Errorf("upsert cart item: %w", err)
	}
	return t.touchCart(ctx, cartID)
}

func (t *Tx) DeleteCartItem(ctx context.Context, cartID, productID int64) error {
	res, err := t.tx.ExecContext(ctx,
		`DELETE FROM cart_items WHERE cart_id = $1 AND product_id = $2`, cartID, productID)
	if err != nil {
		return fmt.Errorf("delete cart item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete cart item rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("cart item %d %w", productID, domain.ErrNotFound)
	}
	return t.touchCart(ctx, cartID)
}

// ClearCart empties the cart and keeps the cart row.
func (t *Tx) ClearCart(ctx context.Context, cartID int64) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cartID); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return t.touchCart(ctx, cartID)
}

func (t *Tx) touchCart(ctx context.Context, cartID int64) error {
	if _, err := t.tx.ExecContext(ctx, `UPDATE carts SET updated_at = NOW() WHERE id = $1`, cartID); err != nil {
		return fmt.Errorf("touch cart: %w", err)
	}
	return nil
}
