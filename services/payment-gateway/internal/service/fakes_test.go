package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"globalpay/services/payment-gateway/internal/models"
	"globalpay/services/payment-gateway/internal/repository"
	"globalpay/shared/pkg/redis"
)

const (
	testServiceID  = "svc-1"
	testMerchantID = "merchant-1"
	testSecret     = "s3cret"
	testPaymentURL = "https://my.click.uz/services/pay"
	testSignTime   = "2026-10-18 12:00:00"
)

// orderBook is an in-memory stand-in for the payments table.
type orderBook struct {
	mu         sync.Mutex
	payments   map[string]*models.Payment
	captures   int
	captureErr error
	lookupErr  error
}

func newOrderBook() *orderBook {
	return &orderBook{payments: make(map[string]*models.Payment)}
}

func (b *orderBook) add(orderID, merchantTransID, amount string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.payments[merchantTransID] = &models.Payment{
		ID:              "p-" + merchantTransID,
		OrderID:         orderID,
		UserID:          "u1",
		MerchantTransID: merchantTransID,
		Amount:          decimal.RequireFromString(amount),
		Status:          models.PaymentStatusPending,
		CreatedAt:       time.Now(),
	}
}

func (b *orderBook) captureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.captures
}

func (b *orderBook) Verify(_ context.Context, merchantTransID string, amount decimal.Decimal) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.payments[merchantTransID]
	if !ok || p.Status != models.PaymentStatusPending || !p.Amount.Equal(amount) {
		return "", models.ErrOrderMismatch
	}
	return p.OrderID, nil
}

func (b *orderBook) Capture(_ context.Context, req models.CaptureRequest) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.captureErr != nil {
		return b.captureErr
	}
	p, ok := b.payments[req.MerchantTransID]
	if !ok {
		return models.ErrPaymentNotFound
	}
	if p.Status == models.PaymentStatusCompleted {
		if p.GatewayTransID == req.GatewayTransID {
			return nil
		}
		return models.ErrCaptureConflict
	}
	now := time.Now()
	p.Status = models.PaymentStatusCompleted
	p.GatewayTransID = req.GatewayTransID
	p.CompletedAt = &now
	b.captures++
	return nil
}

func (b *orderBook) CreatePending(_ context.Context, payment *models.Payment) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.payments[payment.MerchantTransID]; ok {
		return false, nil
	}
	cp := *payment
	b.payments[payment.MerchantTransID] = &cp
	return true, nil
}

func (b *orderBook) MarkFailed(_ context.Context, merchantTransID, reason string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.payments[merchantTransID]; ok && p.Status == models.PaymentStatusPending {
		p.Status = models.PaymentStatusFailed
		p.FailureReason = reason
	}
	return nil
}

func (b *orderBook) GetByTransaction(_ context.Context, id string) (*models.Payment, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.lookupErr != nil {
		return nil, b.lookupErr
	}
	var found *models.Payment
	for _, p := range b.payments {
		if p.OrderID != id && p.MerchantTransID != id {
			continue
		}
		if found == nil || p.Status == models.PaymentStatusCompleted {
			found = p
		}
	}
	if found == nil {
		return nil, models.ErrPaymentNotFound
	}
	cp := *found
	return &cp, nil
}

type fakeEscalator struct {
	mu       sync.Mutex
	requests []models.CaptureRequest
	err      error
}

func (e *fakeEscalator) Escalate(_ context.Context, req models.CaptureRequest, _ error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.requests = append(e.requests, req)
	return nil
}

func (e *fakeEscalator) escalated() []models.CaptureRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]models.CaptureRequest(nil), e.requests...)
}

// flakyLedger fails the first failures calls with a transient error.
type flakyLedger struct {
	PrepareLedger
	mu       sync.Mutex
	failures int
	calls    int
}

var errStoreDown = errors.New("dial tcp: connection refused")

func (l *flakyLedger) fail() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	return l.calls <= l.failures
}

func (l *flakyLedger) Put(ctx context.Context, rec *models.PrepareRecord) error {
	if l.fail() {
		return errStoreDown
	}
	return l.PrepareLedger.Put(ctx, rec)
}

func (l *flakyLedger) Consume(ctx context.Context, prepareID, merchantTransID string, amount decimal.Decimal, token string) (*models.PrepareRecord, error) {
	if l.fail() {
		return nil, errStoreDown
	}
	return l.PrepareLedger.Consume(ctx, prepareID, merchantTransID, amount, token)
}

type testEnv struct {
	svc       *GatewayService
	ledger    *repository.PrepareLedger
	orders    *orderBook
	escalator *fakeEscalator
	metrics   *Metrics
	mr        *miniredis.Miniredis
	logs      *observer.ObservedLogs
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewRedisClient(mr.Addr(), "")
	t.Cleanup(func() { client.Close() })

	core, logs := observer.New(zapcore.InfoLevel)
	env := &testEnv{
		ledger:    repository.NewPrepareLedger(client, 30*time.Minute),
		orders:    newOrderBook(),
		escalator: &fakeEscalator{},
		metrics:   NewMetrics(prometheus.NewRegistry()),
		mr:        mr,
		logs:      logs,
	}
	env.svc = env.newService(env.ledger, zap.New(core))
	return env
}

func (e *testEnv) newService(ledger PrepareLedger, log *zap.Logger) *GatewayService {
	return NewGatewayService(
		GatewayConfig{
			ServiceID:     testServiceID,
			MerchantID:    testMerchantID,
			SecretKey:     testSecret,
			PaymentURL:    testPaymentURL,
			RetryAttempts: 3,
			RetryDelay:    time.Millisecond,
		},
		ledger,
		e.orders,
		e.orders,
		e.orders,
		e.escalator,
		e.metrics,
		log,
	)
}

func signed(cb models.ClickCallback) *models.ClickCallback {
	cb.SignString = NewSignatureVerifier(testSecret).Sign(&cb)
	return &cb
}

func prepareCallback(merchantTransID, amount string) *models.ClickCallback {
	return signed(models.ClickCallback{
		ClickTransID:    "9001",
		ServiceID:       testServiceID,
		ClickPaydocID:   "7001",
		MerchantTransID: merchantTransID,
		Amount:          amount,
		Action:          models.ActionPrepare,
		SignTime:        testSignTime,
	})
}

func completeCallback(prepareID, merchantTransID, amount string) *models.ClickCallback {
	return signed(models.ClickCallback{
		ClickTransID:      "9001",
		ServiceID:         testServiceID,
		ClickPaydocID:     "7001",
		MerchantTransID:   merchantTransID,
		MerchantPrepareID: prepareID,
		Amount:            amount,
		Action:            models.ActionComplete,
		SignTime:          testSignTime,
	})
}
