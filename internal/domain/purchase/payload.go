package purchase

import (
	"errors"
	"time"
)

// Recovery states for the billing recovery sub-flow.
const (
	RecoveryDetected        = "detected"
	RecoveryAwaitingBilling = "awaiting_billing_update"
	RecoveryRetrying        = "retrying"
	RecoveryResolved        = "resolved"
	RecoveryAbandoned       = "abandoned"
)

// CreatePayload is the assembled create-purchase request. It is retained
// verbatim in the retry context so a billing recovery resubmits exactly
// what failed.
type CreatePayload struct {
	ClientID        int
	LocationID      int
	ProductID       int
	RegistrationID  int
	AddOnIDs        []int
	PersonClientID  *int
	PersonID        string
	PromoCode       string
	GiftCard        string
	ClientSignature string
	StartDate       string
	Spot            *int
}

// RetryContext is set when a submission hits a payment-method failure.
// It bounds the automatic retry to exactly one cycle. Once Terminal it is
// retained rather than cleared: the snapshot reports how recovery ended,
// and the retried flag keeps a finished context from ever re-arming.
type RetryContext struct {
	Payload   CreatePayload
	State     string
	EnteredAt time.Time
	retried   bool
}

// NewRetryContext captures the failed payload at the moment the backend
// flags a payment-method failure.
func NewRetryContext(payload CreatePayload, now time.Time) *RetryContext {
	return &RetryContext{Payload: payload, State: RecoveryDetected, EnteredAt: now}
}

// AwaitBilling moves the recovery into the billing-update sub-flow.
// PRE: State is RecoveryDetected
// POST: State is RecoveryAwaitingBilling
func (r *RetryContext) AwaitBilling() error {
	if r.State != RecoveryDetected {
		return errors.New("recovery is not awaiting detection")
	}
	r.State = RecoveryAwaitingBilling
	return nil
}

// BeginRetry marks the single automatic resubmission.
// PRE: Billing info was updated successfully
// POST: State is RecoveryRetrying; a second call returns an error
// INVARIANT: At most one automatic retry per recovery
func (r *RetryContext) BeginRetry() error {
	if r.retried {
		return ErrRecoveryExhausted
	}
	if r.State != RecoveryAwaitingBilling {
		return errors.New("billing info has not been updated")
	}
	r.retried = true
	r.State = RecoveryRetrying
	return nil
}

// Resolve marks the recovery as finished successfully.
func (r *RetryContext) Resolve() {
	r.State = RecoveryResolved
}

// Abandon marks the recovery as terminally failed.
func (r *RetryContext) Abandon() {
	r.State = RecoveryAbandoned
}

// Terminal reports whether the recovery has finished either way.
func (r *RetryContext) Terminal() bool {
	return r.State == RecoveryResolved || r.State == RecoveryAbandoned
}
