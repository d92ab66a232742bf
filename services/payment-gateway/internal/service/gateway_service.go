// services/payment-gateway/internal/service/gateway_service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"globalpay/services/payment-gateway/internal/models"
	"globalpay/shared/pkg/logger"
)

var tracer = otel.Tracer("globalpay/payment-gateway/service")

// PrepareLedger holds reservations between Prepare and Complete.
type PrepareLedger interface {
	Put(ctx context.Context, rec *models.PrepareRecord) error
	Consume(ctx context.Context, prepareID, merchantTransID string, amount decimal.Decimal, token string) (*models.PrepareRecord, error)
}

// OrderVerifier resolves the order behind a merchant transaction. It returns
// models.ErrOrderMismatch when the order is unknown, already paid, or the
// amount differs.
type OrderVerifier interface {
	Verify(ctx context.Context, merchantTransID string, amount decimal.Decimal) (string, error)
}

// CaptureExecutor marks an order paid. Repeating a capture must be harmless.
type CaptureExecutor interface {
	Capture(ctx context.Context, req models.CaptureRequest) error
}

type PaymentStore interface {
	CreatePending(ctx context.Context, payment *models.Payment) (bool, error)
	MarkFailed(ctx context.Context, merchantTransID, reason string) error
	GetByTransaction(ctx context.Context, id string) (*models.Payment, error)
}

// Escalator records captures that could not be completed inline.
type Escalator interface {
	Escalate(ctx context.Context, req models.CaptureRequest, cause error) error
}

type GatewayConfig struct {
	ServiceID     string
	MerchantID    string
	SecretKey     string
	PaymentURL    string
	RetryAttempts int
	RetryDelay    time.Duration
}

// GatewayService runs the Click checkout and two-phase webhook protocol.
type GatewayService struct {
	cfg       GatewayConfig
	signer    *SignatureVerifier
	ledger    PrepareLedger
	orders    OrderVerifier
	capturer  CaptureExecutor
	payments  PaymentStore
	escalator Escalator
	metrics   *Metrics
	logger    *zap.Logger
}

func NewGatewayService(
	cfg GatewayConfig,
	ledger PrepareLedger,
	orders OrderVerifier,
	capturer CaptureExecutor,
	payments PaymentStore,
	escalator Escalator,
	metrics *Metrics,
	log *zap.Logger,
) *GatewayService {
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = defaultRetryAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &GatewayService{
		cfg:       cfg,
		signer:    NewSignatureVerifier(cfg.SecretKey),
		ledger:    ledger,
		orders:    orders,
		capturer:  capturer,
		payments:  payments,
		escalator: escalator,
		metrics:   metrics,
		logger:    log,
	}
}

// CreatePayment builds the processor redirect URL for a checkout. It has no
// side effects.
func (s *GatewayService) CreatePayment(req *models.PaymentRequest) (string, error) {
	if err := validatePaymentRequest(req); err != nil {
		return "", err
	}

	u, err := url.Parse(s.cfg.PaymentURL)
	if err != nil {
		return "", fmt.Errorf("invalid payment url: %w", err)
	}

	q := u.Query()
	q.Set("service_id", s.cfg.ServiceID)
	q.Set("merchant_id", s.cfg.MerchantID)
	q.Set("amount", req.Amount.String())
	q.Set("transaction_param", req.MerchantTransID)
	if req.ReturnURL != "" {
		q.Set("return_url", req.ReturnURL)
	}
	if req.CancelURL != "" {
		q.Set("cancel_url", req.CancelURL)
	}
	u.RawQuery = q.Encode()

	s.logger.Info("payment url created",
		zap.String("order_id", req.OrderID),
		zap.String("merchant_trans_id", req.MerchantTransID),
		zap.String("amount", req.Amount.String()))

	return u.String(), nil
}

// InitiateCheckout registers a pending payment and returns where to send the
// customer. Repeating the call for the same merchant transaction returns the
// existing attempt.
func (s *GatewayService) InitiateCheckout(ctx context.Context, req *models.PaymentRequest) (*models.PaymentResponse, error) {
	ctx, span := tracer.Start(ctx, "GatewayService.InitiateCheckout")
	defer span.End()

	paymentURL, err := s.CreatePayment(req)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	payment := &models.Payment{
		ID:              uuid.New().String(),
		OrderID:         req.OrderID,
		UserID:          req.UserID,
		MerchantTransID: req.MerchantTransID,
		Amount:          req.Amount,
		Status:          models.PaymentStatusPending,
		Description:     req.Description,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	var created bool
	err = retry(ctx, s.cfg.RetryAttempts, s.cfg.RetryDelay, func() error {
		var err error
		created, err = s.payments.CreatePending(ctx, payment)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to register payment: %w", err)
	}

	status := models.PaymentStatusPending
	if !created {
		existing, err := s.payments.GetByTransaction(ctx, req.MerchantTransID)
		if err != nil {
			return nil, fmt.Errorf("failed to load existing payment: %w", err)
		}
		if existing.OrderID != req.OrderID || !existing.Amount.Equal(req.Amount) {
			return nil, fmt.Errorf("%w: merchant_trans_id %s belongs to another checkout", models.ErrInvalidRequest, req.MerchantTransID)
		}
		status = existing.Status
	}

	span.SetAttributes(
		attribute.String("merchant_trans_id", req.MerchantTransID),
		attribute.Bool("created", created))

	return &models.PaymentResponse{
		PaymentURL:      paymentURL,
		MerchantTransID: req.MerchantTransID,
		Status:          status,
	}, nil
}

// HandlePrepare answers Click's Prepare callback by reserving the order.
func (s *GatewayService) HandlePrepare(ctx context.Context, cb *models.ClickCallback) WebhookResult {
	ctx, span := tracer.Start(ctx, "GatewayService.HandlePrepare", webhookSpanAttributes(cb))
	defer span.End()

	start := time.Now()
	res := s.prepare(ctx, cb)
	s.metrics.ObserveWebhook(models.ActionPrepare, res.Outcome, time.Since(start))
	span.SetAttributes(attribute.String("click.outcome", res.Outcome.String()))
	return res
}

// HandleComplete answers Click's Complete callback. At most one Complete per
// reservation reaches the capture step.
func (s *GatewayService) HandleComplete(ctx context.Context, cb *models.ClickCallback) WebhookResult {
	ctx, span := tracer.Start(ctx, "GatewayService.HandleComplete", webhookSpanAttributes(cb))
	defer span.End()

	start := time.Now()
	res := s.complete(ctx, cb)
	s.metrics.ObserveWebhook(models.ActionComplete, res.Outcome, time.Since(start))
	span.SetAttributes(attribute.String("click.outcome", res.Outcome.String()))
	return res
}

func (s *GatewayService) prepare(ctx context.Context, cb *models.ClickCallback) WebhookResult {
	res := WebhookResult{ClickTransID: cb.ClickTransID, MerchantTransID: cb.MerchantTransID}
	log := s.callbackLogger(cb)

	amount, outcome, ok := s.checkCallback(cb, models.ActionPrepare, log)
	if !ok {
		res.Outcome = outcome
		return res
	}

	var orderID string
	err := retry(ctx, s.cfg.RetryAttempts, s.cfg.RetryDelay, func() error {
		var err error
		orderID, err = s.orders.Verify(ctx, cb.MerchantTransID, amount)
		return err
	})
	if errors.Is(err, models.ErrOrderMismatch) {
		log.Warn("order rejected", zap.Error(err))
		res.Outcome = OutcomeOrderMismatch
		return res
	}
	if err != nil {
		log.Error("order verification failed", zap.Error(err))
		res.Outcome = OutcomeInternal
		return res
	}

	rec := &models.PrepareRecord{
		PrepareID:       cb.MerchantTransID + "-" + uuid.New().String(),
		MerchantTransID: cb.MerchantTransID,
		GatewayTransID:  cb.ClickTransID,
		OrderID:         orderID,
		Amount:          amount,
		CreatedAt:       time.Now().UTC(),
	}
	err = retry(ctx, s.cfg.RetryAttempts, s.cfg.RetryDelay, func() error {
		return s.ledger.Put(ctx, rec)
	})
	if err != nil {
		log.Error("failed to store prepare record", zap.Error(err))
		res.Outcome = OutcomeInternal
		return res
	}

	log.Info("payment prepared",
		zap.String("order_id", orderID),
		zap.String("prepare_id", rec.PrepareID))

	res.PrepareID = rec.PrepareID
	res.Outcome = OutcomeOK
	return res
}

func (s *GatewayService) complete(ctx context.Context, cb *models.ClickCallback) WebhookResult {
	res := WebhookResult{ClickTransID: cb.ClickTransID, MerchantTransID: cb.MerchantTransID}
	log := s.callbackLogger(cb).With(zap.String("prepare_id", cb.MerchantPrepareID))

	amount, outcome, ok := s.checkCallback(cb, models.ActionComplete, log)
	if !ok {
		res.Outcome = outcome
		return res
	}

	if cb.MerchantPrepareID == "" {
		log.Info("complete without prepare id")
		res.Outcome = OutcomeNotFound
		return res
	}

	token := uuid.New().String()
	var rec *models.PrepareRecord
	err := retry(ctx, s.cfg.RetryAttempts, s.cfg.RetryDelay, func() error {
		var err error
		rec, err = s.ledger.Consume(ctx, cb.MerchantPrepareID, cb.MerchantTransID, amount, token)
		return err
	})
	if errors.Is(err, models.ErrPrepareNotFound) || errors.Is(err, models.ErrPrepareMismatch) {
		log.Info("no matching prepare record", zap.Error(err))
		res.Outcome = OutcomeNotFound
		return res
	}
	if err != nil {
		log.Error("failed to consume prepare record", zap.Error(err))
		res.Outcome = OutcomeInternal
		return res
	}

	// The reservation is gone from here on; finish even if the caller hangs up.
	ctx = context.WithoutCancel(ctx)

	if cb.Error < 0 {
		reason := fmt.Sprintf("click error %d: %s", cb.Error, cb.ErrorNote)
		err := retry(ctx, s.cfg.RetryAttempts, s.cfg.RetryDelay, func() error {
			return s.payments.MarkFailed(ctx, rec.MerchantTransID, reason)
		})
		if err != nil {
			log.Error("failed to mark payment failed", zap.Error(err))
		}
		log.Info("payment cancelled by processor",
			zap.Int("click_error", cb.Error),
			zap.String("click_error_note", cb.ErrorNote))
		res.Outcome = OutcomeCancelled
		return res
	}

	req := models.CaptureRequest{
		OrderID:         rec.OrderID,
		MerchantTransID: rec.MerchantTransID,
		GatewayTransID:  cb.ClickTransID,
		Amount:          rec.Amount,
	}
	err = retry(ctx, s.cfg.RetryAttempts, s.cfg.RetryDelay, func() error {
		return s.capturer.Capture(ctx, req)
	})
	if err != nil {
		s.escalate(ctx, req, err, log)
	} else {
		log.Info("payment captured", zap.String("order_id", rec.OrderID))
	}

	res.PrepareID = rec.PrepareID
	res.Outcome = OutcomeOK
	return res
}

// escalate hands a failed capture to reconciliation. Click has already
// moved the funds, so the callback is still answered with success.
func (s *GatewayService) escalate(ctx context.Context, req models.CaptureRequest, cause error, log *zap.Logger) {
	s.metrics.IncEscalation()

	fields := []zap.Field{
		zap.String("order_id", req.OrderID),
		zap.String("amount", req.Amount.String()),
		zap.NamedError("capture_error", cause),
	}

	if s.escalator == nil {
		log.Error("capture failed after prepare was consumed; no reconciliation queue", fields...)
		return
	}

	err := retry(ctx, s.cfg.RetryAttempts, s.cfg.RetryDelay, func() error {
		return s.escalator.Escalate(ctx, req, cause)
	})
	if err != nil {
		log.Error("capture failed and could not be queued for reconciliation",
			append(fields, zap.NamedError("escalation_error", err))...)
		return
	}

	log.Error("capture failed after prepare was consumed; queued for reconciliation", fields...)
}

// GetPaymentStatus reports where a payment stands. Lookup failures are
// reported as failed with a note, never as an error.
func (s *GatewayService) GetPaymentStatus(ctx context.Context, transactionID string) *models.PaymentStatusResult {
	ctx, span := tracer.Start(ctx, "GatewayService.GetPaymentStatus")
	defer span.End()

	payment, err := s.payments.GetByTransaction(ctx, transactionID)
	if errors.Is(err, models.ErrPaymentNotFound) {
		return &models.PaymentStatusResult{Status: models.PaymentStatusFailed, Note: "payment not found"}
	}
	if err != nil {
		s.logger.Warn("payment status lookup failed",
			zap.String("transaction_id", transactionID),
			zap.Error(err))
		return &models.PaymentStatusResult{
			Status: models.PaymentStatusFailed,
			Note:   "status lookup failed: " + err.Error(),
		}
	}

	result := &models.PaymentStatusResult{Status: payment.Status}
	if payment.Status == models.PaymentStatusCompleted {
		amount := payment.Amount
		result.Amount = &amount
	}
	if payment.FailureReason != "" {
		result.Note = payment.FailureReason
	}
	return result
}

// checkCallback runs the checks shared by both phases: signature, action and
// amount format.
func (s *GatewayService) checkCallback(cb *models.ClickCallback, want models.Action, log *zap.Logger) (decimal.Decimal, Outcome, bool) {
	if !s.signer.Verify(cb) {
		log.Warn("invalid click signature", zap.String("sign_string", logger.MaskSecret(cb.SignString)))
		return decimal.Zero, OutcomeInvalidSignature, false
	}

	if cb.Action != want {
		log.Warn("unexpected click action", zap.Stringer("action", cb.Action))
		return decimal.Zero, OutcomeActionNotFound, false
	}

	amount, err := decimal.NewFromString(cb.Amount)
	if err != nil || !amount.IsPositive() {
		log.Warn("invalid click amount", zap.String("amount", cb.Amount))
		return decimal.Zero, OutcomeBadAmount, false
	}

	return amount, OutcomeOK, true
}

func webhookSpanAttributes(cb *models.ClickCallback) trace.SpanStartOption {
	return trace.WithAttributes(
		attribute.String("click.trans_id", cb.ClickTransID),
		attribute.String("click.merchant_trans_id", cb.MerchantTransID),
		attribute.Int("click.action", int(cb.Action)))
}

func (s *GatewayService) callbackLogger(cb *models.ClickCallback) *zap.Logger {
	return s.logger.With(
		zap.String("click_trans_id", cb.ClickTransID),
		zap.String("merchant_trans_id", cb.MerchantTransID),
		zap.String("amount", cb.Amount))
}

func validatePaymentRequest(req *models.PaymentRequest) error {
	switch {
	case req == nil:
		return fmt.Errorf("%w: empty request", models.ErrInvalidRequest)
	case !req.Amount.IsPositive():
		return fmt.Errorf("%w: amount must be positive", models.ErrInvalidRequest)
	case req.OrderID == "":
		return fmt.Errorf("%w: order_id is required", models.ErrInvalidRequest)
	case req.UserID == "":
		return fmt.Errorf("%w: user_id is required", models.ErrInvalidRequest)
	case req.MerchantTransID == "":
		return fmt.Errorf("%w: merchant_trans_id is required", models.ErrInvalidRequest)
	}
	return nil
}
