// services/payment-gateway/internal/models/payment.go
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusCancelled PaymentStatus = "cancelled"
)

// Payment is one checkout attempt for an order. MerchantTransID is unique.
type Payment struct {
	ID              string          `json:"id" db:"id"`
	OrderID         string          `json:"order_id" db:"order_id"`
	UserID          string          `json:"user_id" db:"user_id"`
	MerchantTransID string          `json:"merchant_trans_id" db:"merchant_trans_id"`
	Amount          decimal.Decimal `json:"amount" db:"amount"`
	Status          PaymentStatus   `json:"status" db:"status"`
	Description     string          `json:"description" db:"description"`
	GatewayTransID  string          `json:"gateway_trans_id,omitempty" db:"gateway_trans_id"`
	FailureReason   string          `json:"failure_reason,omitempty" db:"failure_reason"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
}

// PaymentRequest is the checkout API body.
type PaymentRequest struct {
	Amount          decimal.Decimal `json:"amount"`
	OrderID         string          `json:"order_id" binding:"required"`
	UserID          string          `json:"user_id" binding:"required"`
	Description     string          `json:"description"`
	ReturnURL       string          `json:"return_url" binding:"omitempty,url"`
	CancelURL       string          `json:"cancel_url" binding:"omitempty,url"`
	MerchantTransID string          `json:"merchant_trans_id" binding:"required"`
}

type PaymentResponse struct {
	PaymentURL      string        `json:"payment_url"`
	MerchantTransID string        `json:"merchant_trans_id"`
	Status          PaymentStatus `json:"status"`
}

// PaymentStatusResult answers a status query. Note carries diagnostics.
type PaymentStatusResult struct {
	Status PaymentStatus    `json:"status"`
	Amount *decimal.Decimal `json:"amount,omitempty"`
	Note   string           `json:"note,omitempty"`
}

// CaptureRequest identifies the payment a Complete callback settles.
type CaptureRequest struct {
	OrderID         string
	MerchantTransID string
	GatewayTransID  string
	Amount          decimal.Decimal
}

// CaptureReconciliation is a capture that failed after its reservation was consumed.
type CaptureReconciliation struct {
	ID              string          `json:"id" db:"id"`
	OrderID         string          `json:"order_id" db:"order_id"`
	MerchantTransID string          `json:"merchant_trans_id" db:"merchant_trans_id"`
	GatewayTransID  string          `json:"gateway_trans_id" db:"gateway_trans_id"`
	Amount          decimal.Decimal `json:"amount" db:"amount"`
	LastError       string          `json:"last_error" db:"last_error"`
	Attempts        int             `json:"attempts" db:"attempts"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	ResolvedAt      *time.Time      `json:"resolved_at,omitempty" db:"resolved_at"`
}

// Database schema
const PaymentSchema = `
CREATE TABLE IF NOT EXISTS payments (
    id VARCHAR(36) PRIMARY KEY,
    order_id VARCHAR(64) NOT NULL,
    user_id VARCHAR(64) NOT NULL,
    merchant_trans_id VARCHAR(128) NOT NULL UNIQUE,
    amount DECIMAL(19, 2) NOT NULL,
    status VARCHAR(20) NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    gateway_trans_id VARCHAR(64) NOT NULL DEFAULT '',
    failure_reason TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
    completed_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_payments_order_id ON payments (order_id);
CREATE INDEX IF NOT EXISTS idx_payments_status ON payments (status);
`

const ReconciliationSchema = `
CREATE TABLE IF NOT EXISTS capture_reconciliations (
    id VARCHAR(36) PRIMARY KEY,
    order_id VARCHAR(64) NOT NULL,
    merchant_trans_id VARCHAR(128) NOT NULL,
    gateway_trans_id VARCHAR(64) NOT NULL,
    amount DECIMAL(19, 2) NOT NULL,
    last_error TEXT NOT NULL,
    attempts INT NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL DEFAULT NOW(),
    resolved_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_capture_reconciliations_unresolved
    ON capture_reconciliations (created_at) WHERE resolved_at IS NULL;
`
