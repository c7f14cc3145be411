package repository

import (
	"context"
	"fmt"
	"sort"

	"github.com/fjod/go_shop/internal/domain"
	"github.com/google/uuid"
)

// RecordReservations stores the quantities a settlement took from stock for
// an order. Lines for the same product are summed.
func (t *Tx) RecordReservations(ctx context.Context, orderID uuid.UUID, lines []domain.StockReservation) error {
	for _, line := range lines {
		_, err := t.tx.ExecContext(ctx,
			`INSERT INTO stock_reservations (order_id, product_id, quantity)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (order_id, product_id)
			 DO UPDATE SET quantity = stock_reservations.quantity + EXCLUDED.quantity`,
			orderID, line.ProductID, line.Quantity)
		if err != nil {
			return fmt.Errorf("record reservation for product %d: %w", line.ProductID, err)
		}
	}
	return nil
}

// TakeReservations removes and returns an order's reservations, ordered by
// product id. An order that never settled has none.
func (t *Tx) TakeReservations(ctx context.Context, orderID uuid.UUID) ([]domain.StockReservation, error) {
	rows, err := t.tx.QueryContext(ctx,
		`DELETE FROM stock_reservations WHERE order_id = $1 RETURNING product_id, quantity`, orderID)
	if err != nil {
		return nil, fmt.Errorf("take reservations: %w", err)
	}
	defer rows.Close()

	var lines []domain.StockReservation
	for rows.Next() {
		var line domain.StockReservation
		if err := rows.Scan(&line.ProductID, &line.Quantity); err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reservations: %w", err)
	}

	sort.Slice(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })
	return lines, nil
}
