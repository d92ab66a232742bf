// services/payment-gateway/internal/service/retry.go
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"globalpay/services/payment-gateway/internal/models"
)

const (
	defaultRetryAttempts = 3
	defaultRetryDelay    = 100 * time.Millisecond
)

// retry runs fn up to attempts times, doubling delay between tries. Domain
// sentinel errors are returned immediately since repeating cannot change them.
func retry(ctx context.Context, attempts int, delay time.Duration, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay << (attempt - 1)):
			case <-ctx.Done():
				return fmt.Errorf("%w (last error: %v)", ctx.Err(), lastErr)
			}
		}

		lastErr = fn()
		if lastErr == nil || isPermanent(lastErr) {
			return lastErr
		}
	}

	return fmt.Errorf("gave up after %d attempts: %w", attempts, lastErr)
}

func isPermanent(err error) bool {
	return errors.Is(err, models.ErrOrderMismatch) ||
		errors.Is(err, models.ErrPrepareNotFound) ||
		errors.Is(err, models.ErrPrepareMismatch) ||
		errors.Is(err, models.ErrPaymentNotFound) ||
		errors.Is(err, models.ErrCaptureConflict) ||
		errors.Is(err, models.ErrInvalidRequest) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
