// services/payment-gateway/internal/service/reconciliation.go
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"globalpay/services/payment-gateway/internal/models"
)

type ReconciliationStore interface {
	Enqueue(ctx context.Context, rec *models.CaptureReconciliation) error
	ListUnresolved(ctx context.Context, limit int) ([]*models.CaptureReconciliation, error)
	MarkResolved(ctx context.Context, id string) error
	RecordAttempt(ctx context.Context, id, lastError string) error
}

// ReconciliationService keeps captures that failed after Click confirmed the
// payment, and retries them until they land.
type ReconciliationService struct {
	store    ReconciliationStore
	capturer CaptureExecutor
	metrics  *Metrics
	logger   *zap.Logger
}

func NewReconciliationService(store ReconciliationStore, capturer CaptureExecutor, metrics *Metrics, logger *zap.Logger) *ReconciliationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReconciliationService{
		store:    store,
		capturer: capturer,
		metrics:  metrics,
		logger:   logger,
	}
}

// Escalate queues a failed capture.
func (s *ReconciliationService) Escalate(ctx context.Context, req models.CaptureRequest, cause error) error {
	lastError := ""
	if cause != nil {
		lastError = cause.Error()
	}

	rec := &models.CaptureReconciliation{
		ID:              uuid.New().String(),
		OrderID:         req.OrderID,
		MerchantTransID: req.MerchantTransID,
		GatewayTransID:  req.GatewayTransID,
		Amount:          req.Amount,
		LastError:       lastError,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.store.Enqueue(ctx, rec); err != nil {
		return fmt.Errorf("failed to enqueue reconciliation: %w", err)
	}
	return nil
}

// RetryPending re-runs up to limit queued captures and returns how many
// were resolved. A capture conflict is left queued for an operator.
func (s *ReconciliationService) RetryPending(ctx context.Context, limit int) (int, error) {
	pending, err := s.store.ListUnresolved(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list reconciliations: %w", err)
	}

	resolved := 0
	for _, rec := range pending {
		if err := ctx.Err(); err != nil {
			return resolved, err
		}

		log := s.logger.With(
			zap.String("reconciliation_id", rec.ID),
			zap.String("order_id", rec.OrderID),
			zap.String("merchant_trans_id", rec.MerchantTransID),
			zap.Int("attempts", rec.Attempts))

		captureErr := s.capturer.Capture(ctx, models.CaptureRequest{
			OrderID:         rec.OrderID,
			MerchantTransID: rec.MerchantTransID,
			GatewayTransID:  rec.GatewayTransID,
			Amount:          rec.Amount,
		})
		if captureErr != nil {
			s.metrics.IncReconciled("failed")
			if errors.Is(captureErr, models.ErrCaptureConflict) {
				log.Error("reconciliation needs manual review", zap.Error(captureErr))
			} else {
				log.Warn("reconciliation capture failed", zap.Error(captureErr))
			}
			if err := s.store.RecordAttempt(ctx, rec.ID, captureErr.Error()); err != nil {
				log.Error("failed to record reconciliation attempt", zap.Error(err))
			}
			continue
		}

		if err := s.store.MarkResolved(ctx, rec.ID); err != nil {
			log.Error("capture succeeded but reconciliation not resolved", zap.Error(err))
			continue
		}
		s.metrics.IncReconciled("resolved")
		log.Info("reconciliation resolved")
		resolved++
	}

	return resolved, nil
}

// Run calls RetryPending every interval until ctx is done.
func (s *ReconciliationService) Run(ctx context.Context, interval time.Duration, batch int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			resolved, err := s.RetryPending(ctx, batch)
			if err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("reconciliation run failed", zap.Error(err))
				continue
			}
			if resolved > 0 {
				s.logger.Info("reconciliation run complete", zap.Int("resolved", resolved))
			}
		}
	}
}
