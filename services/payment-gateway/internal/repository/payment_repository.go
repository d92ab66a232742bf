// services/payment-gateway/internal/repository/payment_repository.go
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"globalpay/services/payment-gateway/internal/models"
)

type PaymentRepository struct {
	db *sql.DB
}

func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// CreatePending registers a checkout attempt. It reports false when the
// merchant transaction id is already known.
func (r *PaymentRepository) CreatePending(ctx context.Context, payment *models.Payment) (bool, error) {
	query := `
		INSERT INTO payments (
			id, order_id, user_id, merchant_trans_id, amount, status,
			description, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (merchant_trans_id) DO NOTHING
	`

	res, err := r.db.ExecContext(ctx, query,
		payment.ID,
		payment.OrderID,
		payment.UserID,
		payment.MerchantTransID,
		payment.Amount,
		payment.Status,
		payment.Description,
		payment.CreatedAt,
		payment.UpdatedAt,
	)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Verify resolves the order behind a merchant transaction and checks that it
// is still unpaid and that amount matches exactly.
func (r *PaymentRepository) Verify(ctx context.Context, merchantTransID string, amount decimal.Decimal) (string, error) {
	query := `
		SELECT p.order_id, p.amount, p.status,
		       EXISTS (
		           SELECT 1 FROM payments c
		           WHERE c.order_id = p.order_id AND c.status = 'completed'
		       )
		FROM payments p
		WHERE p.merchant_trans_id = $1
	`

	var (
		orderID     string
		stored      decimal.Decimal
		status      models.PaymentStatus
		orderIsPaid bool
	)
	err := r.db.QueryRowContext(ctx, query, merchantTransID).Scan(&orderID, &stored, &status, &orderIsPaid)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("%w: unknown merchant transaction %s", models.ErrOrderMismatch, merchantTransID)
	}
	if err != nil {
		return "", err
	}

	switch {
	case status != models.PaymentStatusPending:
		return "", fmt.Errorf("%w: payment is %s", models.ErrOrderMismatch, status)
	case orderIsPaid:
		return "", fmt.Errorf("%w: order %s already paid", models.ErrOrderMismatch, orderID)
	case !stored.Equal(amount):
		return "", fmt.Errorf("%w: amount %s, expected %s", models.ErrOrderMismatch, amount, stored)
	}

	return orderID, nil
}

// Capture marks the payment completed. Repeating a capture with the same
// gateway transaction is a no-op.
func (r *PaymentRepository) Capture(ctx context.Context, req models.CaptureRequest) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	lockQuery := `
		SELECT status, gateway_trans_id, amount
		FROM payments
		WHERE merchant_trans_id = $1 AND order_id = $2
		FOR UPDATE
	`
	var (
		status         models.PaymentStatus
		gatewayTransID string
		amount         decimal.Decimal
	)
	err = tx.QueryRowContext(ctx, lockQuery, req.MerchantTransID, req.OrderID).Scan(&status, &gatewayTransID, &amount)
	if err == sql.ErrNoRows {
		return models.ErrPaymentNotFound
	}
	if err != nil {
		return err
	}

	switch status {
	case models.PaymentStatusCompleted:
		if gatewayTransID == req.GatewayTransID {
			return nil
		}
		return fmt.Errorf("%w: already captured by %s", models.ErrCaptureConflict, gatewayTransID)
	case models.PaymentStatusPending:
	default:
		return fmt.Errorf("%w: payment is %s", models.ErrCaptureConflict, status)
	}

	if !amount.Equal(req.Amount) {
		return fmt.Errorf("%w: amount %s, expected %s", models.ErrCaptureConflict, req.Amount, amount)
	}

	updateQuery := `
		UPDATE payments
		SET status = $1, gateway_trans_id = $2, completed_at = $3, updated_at = $3
		WHERE merchant_trans_id = $4
	`
	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, updateQuery, models.PaymentStatusCompleted, req.GatewayTransID, now, req.MerchantTransID); err != nil {
		return err
	}

	return tx.Commit()
}

// MarkFailed moves a pending payment to failed. Other states are left alone.
func (r *PaymentRepository) MarkFailed(ctx context.Context, merchantTransID, reason string) error {
	query := `
		UPDATE payments
		SET status = $1, failure_reason = $2, updated_at = $3
		WHERE merchant_trans_id = $4 AND status = $5
	`
	_, err := r.db.ExecContext(ctx, query,
		models.PaymentStatusFailed,
		reason,
		time.Now().UTC(),
		merchantTransID,
		models.PaymentStatusPending,
	)
	return err
}

// GetByTransaction looks a payment up by order id or merchant transaction id,
// preferring a completed attempt, then the newest one.
func (r *PaymentRepository) GetByTransaction(ctx context.Context, id string) (*models.Payment, error) {
	query := `
		SELECT id, order_id, user_id, merchant_trans_id, amount, status,
		       description, gateway_trans_id, failure_reason,
		       created_at, updated_at, completed_at
		FROM payments
		WHERE order_id = $1 OR merchant_trans_id = $1
		ORDER BY (status = 'completed') DESC, created_at DESC
		LIMIT 1
	`

	payment := &models.Payment{}
	var completedAt sql.NullTime
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&payment.ID,
		&payment.OrderID,
		&payment.UserID,
		&payment.MerchantTransID,
		&payment.Amount,
		&payment.Status,
		&payment.Description,
		&payment.GatewayTransID,
		&payment.FailureReason,
		&payment.CreatedAt,
		&payment.UpdatedAt,
		&completedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}

	if completedAt.Valid {
		payment.CompletedAt = &completedAt.Time
	}
	return payment, nil
}

// Ping checks the database connection for readiness probes.
func (r *PaymentRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
