package models

import "errors"

var (
	ErrInvalidRequest  = errors.New("invalid payment request")
	ErrOrderMismatch   = errors.New("order not found, already paid or amount mismatch")
	ErrPrepareNotFound = errors.New("prepare record not found")
	ErrPrepareMismatch = errors.New("prepare record does not match callback")
	ErrPaymentNotFound = errors.New("payment not found")
	ErrCaptureConflict = errors.New("payment is not capturable")
)
