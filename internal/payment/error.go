package payment

import (
	"errors"
	"fmt"
)

var (
	ErrPaymentNotFound = errors.New("payment not found")
	ErrPaymentExpired  = errors.New("payment expired")
)

// ValidationError covers missing or out-of-range input. Never persisted.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// StateConflictError is an illegal transition attempt: confirming a
// non-PENDING payment, refunding beyond the captured balance. The
// operation is a no-op.
type StateConflictError struct {
	PaymentID string
	Current   Status
	Message   string
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("payment %s in status %s: %s", e.PaymentID, e.Current, e.Message)
}

func IsStateConflict(err error) bool {
	var sc *StateConflictError
	return errors.As(err, &sc)
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
