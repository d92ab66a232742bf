// services/payment-gateway/internal/repository/reconciliation_repository.go
package repository

import (
	"context"
	"database/sql"
	"time"

	"globalpay/services/payment-gateway/internal/models"
)

// ReconciliationRepository is the durable queue of captures that need a
// retry or a human.
type ReconciliationRepository struct {
	db *sql.DB
}

func NewReconciliationRepository(db *sql.DB) *ReconciliationRepository {
	return &ReconciliationRepository{db: db}
}

func (r *ReconciliationRepository) Enqueue(ctx context.Context, rec *models.CaptureReconciliation) error {
	query := `
		INSERT INTO capture_reconciliations
		(id, order_id, merchant_trans_id, gateway_trans_id, amount, last_error, attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.ExecContext(ctx, query,
		rec.ID,
		rec.OrderID,
		rec.MerchantTransID,
		rec.GatewayTransID,
		rec.Amount,
		rec.LastError,
		rec.Attempts,
		rec.CreatedAt,
	)
	return err
}

func (r *ReconciliationRepository) ListUnresolved(ctx context.Context, limit int) ([]*models.CaptureReconciliation, error) {
	query := `
		SELECT id, order_id, merchant_trans_id, gateway_trans_id, amount, last_error, attempts, created_at
		FROM capture_reconciliations
		WHERE resolved_at IS NULL
		ORDER BY created_at ASC
		LIMIT $1
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pending []*models.CaptureReconciliation
	for rows.Next() {
		rec := &models.CaptureReconciliation{}
		err := rows.Scan(
			&rec.ID,
			&rec.OrderID,
			&rec.MerchantTransID,
			&rec.GatewayTransID,
			&rec.Amount,
			&rec.LastError,
			&rec.Attempts,
			&rec.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		pending = append(pending, rec)
	}

	return pending, rows.Err()
}

func (r *ReconciliationRepository) MarkResolved(ctx context.Context, id string) error {
	query := `
		UPDATE capture_reconciliations
		SET resolved_at = $1
		WHERE id = $2
	`
	_, err := r.db.ExecContext(ctx, query, time.Now().UTC(), id)
	return err
}

func (r *ReconciliationRepository) RecordAttempt(ctx context.Context, id, lastError string) error {
	query := `
		UPDATE capture_reconciliations
		SET attempts = attempts + 1, last_error = $1
		WHERE id = $2
	`
	_, err := r.db.ExecContext(ctx, query, lastError, id)
	return err
}
