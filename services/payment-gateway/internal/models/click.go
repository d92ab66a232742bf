// services/payment-gateway/internal/models/click.go
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Action is the phase code Click sends in the `action` field.
type Action int

const (
	ActionPrepare  Action = 0
	ActionComplete Action = 1
)

func (a Action) String() string {
	switch a {
	case ActionPrepare:
		return "prepare"
	case ActionComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// ClickCallback is the form-encoded body of a Prepare or Complete webhook.
// Amount is kept exactly as received because it is part of the signed string.
type ClickCallback struct {
	ClickTransID      string `form:"click_trans_id" json:"click_trans_id"`
	ServiceID         string `form:"service_id" json:"service_id"`
	ClickPaydocID     string `form:"click_paydoc_id" json:"click_paydoc_id"`
	MerchantTransID   string `form:"merchant_trans_id" json:"merchant_trans_id"`
	MerchantPrepareID string `form:"merchant_prepare_id" json:"merchant_prepare_id"`
	Amount            string `form:"amount" json:"amount"`
	Action            Action `form:"action" json:"action"`
	Error             int    `form:"error" json:"error"`
	ErrorNote         string `form:"error_note" json:"error_note"`
	SignTime          string `form:"sign_time" json:"sign_time"`
	SignString        string `form:"sign_string" json:"sign_string"`
}

type ClickPrepareResponse struct {
	ClickTransID      string `json:"click_trans_id"`
	MerchantTransID   string `json:"merchant_trans_id"`
	MerchantPrepareID string `json:"merchant_prepare_id"`
	Error             int    `json:"error"`
	ErrorNote         string `json:"error_note"`
}

type ClickCompleteResponse struct {
	ClickTransID      string `json:"click_trans_id"`
	MerchantTransID   string `json:"merchant_trans_id"`
	MerchantConfirmID string `json:"merchant_confirm_id"`
	Error             int    `json:"error"`
	ErrorNote         string `json:"error_note"`
}

// PrepareRecord is an in-flight reservation created by a successful Prepare.
type PrepareRecord struct {
	PrepareID       string
	MerchantTransID string
	GatewayTransID  string
	OrderID         string
	Amount          decimal.Decimal
	CreatedAt       time.Time
}
