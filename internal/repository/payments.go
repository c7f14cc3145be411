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

const paymentColumns = `id, user_id, order_id, payment_method, amount, payment_status, transaction_id,
	provider_payment_id, intent, capture, refund, created_at, updated_at`

func scanPayment(row rowScanner) (*domain.Payment, error) {
	var p domain.Payment
	var providerPaymentID sql.NullString
	var intentJSON, captureJSON, refundJSON []byte
	err := row.Scan(
		&p.ID,
		&p.UserID,
		&p.OrderID,
		&p.PaymentMethod,
		&p.Amount,
		&p.Status,
		&p.TransactionID,
		&providerPaymentID,
		&intentJSON,
		&captureJSON,
		&refundJSON,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.ProviderPaymentID = providerPaymentID.String

	if err := unmarshalPayload(intentJSON, &p.Intent); err != nil {
		return nil, fmt.Errorf("unmarshal intent payload: %w", err)
	}
	if err := unmarshalPayload(captureJSON, &p.Capture); err != nil {
		return nil, fmt.Errorf("unmarshal capture payload: %w", err)
	}
	if err := unmarshalPayload(refundJSON, &p.Refund); err != nil {
		return nil, fmt.Errorf("unmarshal refund payload: %w", err)
	}
	return &p, nil
}

func unmarshalPayload[T any](data []byte, dst **T) error {
	if len(data) == 0 {
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*dst = &v
	return nil
}

// marshalPayload returns an untyped nil for a nil payload so the column
// stays NULL; a nil []byte would reach the driver as an empty string.
func marshalPayload[T any](v *T) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (r *Repository) GetPaymentByTransactionID(ctx context.Context, transactionID string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE transaction_id = $1`

	p, err := scanPayment(r.db.QueryRowContext(ctx, query, transactionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query payment by transaction id: %w", err)
	}
	return p, nil
}

func (t *Tx) InsertPayment(ctx context.Context, p *domain.Payment) error {
	intentJSON, err := marshalPayload(p.Intent)
	if err != nil {
		return fmt.Errorf("failed to marshal intent payload: %w", err)
	}

	query := `INSERT INTO payments (id, user_id, order_id, payment_method, amount, payment_status, transaction_id, intent, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
	          RETURNING created_at, updated_at`

	insertErr := t.tx.QueryRowContext(ctx, query,
		p.ID,
		p.UserID,
		p.OrderID,
		p.PaymentMethod,
		p.Amount,
		p.Status,
		p.TransactionID,
		intentJSON,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if insertErr != nil {
		var pqErr *pq.Error
		if errors.As(insertErr, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateIntent
		}
		return fmt.Errorf("insert payment: %w", insertErr)
	}
	return nil
}

// FailPendingPayments marks every still pending attempt of an order failed
// and reports how many rows changed.
func (t *Tx) FailPendingPayments(ctx context.Context, orderID uuid.UUID) (int64, error) {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE payments SET payment_status = 'failed', updated_at = NOW()
		 WHERE order_id = $1 AND payment_status = 'pending'`, orderID)
	if err != nil {
		return 0, fmt.Errorf("fail pending payments: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("fail pending payments rows affected: %w", err)
	}
	return n, nil
}

// transitionPayment updates a payment only while it is in status from. A
// missed match is reported as not found or as a conflict depending on
// whether the row exists.
func (t *Tx) transitionPayment(ctx context.Context, where string, key any, from domain.PaymentStatus, set string, args ...any) (*domain.Payment, error) {
	query := fmt.Sprintf(`UPDATE payments SET %s, updated_at = NOW()
	          WHERE %s = $1 AND payment_status = $2
	          RETURNING %s`, set, where, paymentColumns)

	p, err := scanPayment(t.tx.QueryRowContext(ctx, query, append([]any{key, from}, args...)...))
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("update payment: %w", err)
	}

	var current domain.PaymentStatus
	lookup := fmt.Sprintf(`SELECT payment_status FROM payments WHERE %s = $1`, where)
	lookupErr := t.tx.QueryRowContext(ctx, lookup, key).Scan(&current)
	if errors.Is(lookupErr, sql.ErrNoRows) {
		return nil, ErrPaymentNotFound
	}
	if lookupErr != nil {
		return nil, fmt.Errorf("query payment status: %w", lookupErr)
	}
	return nil, fmt.Errorf("%w: payment is %s, expected %s", domain.ErrConflict, current, from)
}

// CompletePayment moves the pending payment for an intent to completed.
func (t *Tx) CompletePayment(ctx context.Context, transactionID, providerPaymentID string, capture *domain.CapturePayload) (*domain.Payment, error) {
	captureJSON, err := marshalPayload(capture)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal capture payload: %w", err)
	}
	return t.transitionPayment(ctx, "transaction_id", transactionID, domain.PaymentStatusPending,
		"payment_status = 'completed', provider_payment_id = $3, capture = $4",
		providerPaymentID, captureJSON)
}

func (t *Tx) FailPayment(ctx context.Context, transactionID string) (*domain.Payment, error) {
	return t.transitionPayment(ctx, "transaction_id", transactionID, domain.PaymentStatusPending,
		"payment_status = 'failed'")
}

func (t *Tx) RefundPayment(ctx context.Context, id uuid.UUID, refund *domain.RefundPayload) (*domain.Payment, error) {
	refundJSON, err := marshalPayload(refund)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal refund payload: %w", err)
	}
	return t.transitionPayment(ctx, "id", id, domain.PaymentStatusCompleted,
		"payment_status = 'refunded', refund = $3", refundJSON)
}

// LockPayment locks the attempt recorded for a provider intent.
func (t *Tx) LockPayment(ctx context.Context, transactionID string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE transaction_id = $1 FOR UPDATE`

	p, err := scanPayment(t.tx.QueryRowContext(ctx, query, transactionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock payment: %w", err)
	}
	return p, nil
}

// RefundCapture records a capture that was paid back without settling: the
// attempt goes straight from pending or failed to refunded.
func (t *Tx) RefundCapture(ctx context.Context, id uuid.UUID, providerPaymentID string, capture *domain.CapturePayload, refund *domain.RefundPayload) (*domain.Payment, error) {
	captureJSON, err := marshalPayload(capture)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal capture payload: %w", err)
	}
	refundJSON, err := marshalPayload(refund)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal refund payload: %w", err)
	}

	query := `UPDATE payments SET payment_status = 'refunded', provider_payment_id = $2, capture = $3, refund = $4, updated_at = NOW()
	          WHERE id = $1 AND payment_status IN ('pending', 'failed')
	          RETURNING ` + paymentColumns
	p, err := scanPayment(t.tx.QueryRowContext(ctx, query, id, providerPaymentID, captureJSON, refundJSON))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: payment %s is already settled", domain.ErrConflict, id)
	}
	if err != nil {
		return nil, fmt.Errorf("refund capture: %w", err)
	}
	return p, nil
}
