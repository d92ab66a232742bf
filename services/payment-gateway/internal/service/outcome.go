// services/payment-gateway/internal/service/outcome.go
package service

// Outcome is the result of handling a Click callback. The HTTP layer maps it
// to Click's wire codes.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeInvalidSignature
	OutcomeBadAmount
	OutcomeActionNotFound
	OutcomeOrderMismatch
	OutcomeNotFound
	OutcomeInternal
	OutcomeBadRequest
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "success"
	case OutcomeInvalidSignature:
		return "invalid_signature"
	case OutcomeBadAmount:
		return "invalid_amount"
	case OutcomeActionNotFound:
		return "action_not_found"
	case OutcomeOrderMismatch:
		return "order_mismatch"
	case OutcomeNotFound:
		return "transaction_not_found"
	case OutcomeInternal:
		return "internal_error"
	case OutcomeBadRequest:
		return "bad_request"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// WebhookResult is what a Prepare or Complete callback resolved to.
// PrepareID is set only on a successful Prepare or Complete.
type WebhookResult struct {
	Outcome         Outcome
	ClickTransID    string
	MerchantTransID string
	PrepareID       string
}
