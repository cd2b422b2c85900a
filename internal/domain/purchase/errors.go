package purchase

import (
	"errors"
	"fmt"
)

// Domain errors for the checkout flow. Handlers and orchestrators decide
// phase transitions from these; sub-components only report them upward.
var (
	// ErrPaymentMethod is the distinguished backend failure (code 508)
	// that routes the flow into billing recovery.
	ErrPaymentMethod = errors.New("payment method required or invalid")

	// ErrProductUnavailable means the backend rejected the product outright.
	// Terminal: the caller should refresh its source list.
	ErrProductUnavailable = errors.New("product is no longer available")

	// ErrRecoveryExhausted means billing recovery already ran once for this
	// submission and the retry failed with the same payment error.
	ErrRecoveryExhausted = errors.New("payment failed again after billing update")

	ErrPersonRequired    = errors.New("a person must be selected first")
	ErrAddOnRequired     = errors.New("at least one add-on must be selected")
	ErrSignatureRequired = errors.New("agreement must be signed before purchase")
	ErrPricingStale      = errors.New("pricing must be resolved first")
	ErrSessionClosed     = errors.New("checkout session is closed")
)

// ErrTransient marks recoverable network or backend failures. The pending
// purchase is left untouched so the same operation can be retried.
var ErrTransient = errors.New("transient failure")

// Transient wraps err so errors.Is(err, ErrTransient) holds.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrTransient, err)
}

// ValidationError reports locally recoverable bad input. The flow stays in
// place and no state is discarded.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Validation builds a ValidationError.
func Validation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// TransitionError reports a phase change the state machine does not allow.
type TransitionError struct {
	From string
	To   string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot transition checkout from %s to %s", e.From, e.To)
}
