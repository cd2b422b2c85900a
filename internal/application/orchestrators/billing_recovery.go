package orchestrators

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"studiobook/internal/domain/billing"
	"studiobook/internal/domain/purchase"
	"studiobook/internal/metrics"
)

// UpdateBilling replaces the stored payment method and moves the checkout
// forward. Inside billing recovery a successful update triggers the single
// automatic resubmission of the retained payload. During pricing review it
// handles the pricing-stage payment failure: the card is replaced and the
// total re-resolved, with no recovery cycle consumed.
// PRE: card passes local validation
// POST: in recovery, the session ends up in Success, Failed, or back in
// ReviewingPricing after a transient retry failure
// INVARIANT: at most one automatic resubmission per recovery
func (s *Session) UpdateBilling(ctx context.Context, card billing.CardUpdate) error {
	if err := card.Validate(s.deps.Now()); err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return purchase.ErrSessionClosed
	}
	phase := s.pending.Phase
	if phase != purchase.PhaseBillingRecovery && phase != purchase.PhaseReviewingPricing {
		s.mu.Unlock()
		return &purchase.TransitionError{From: phase, To: purchase.PhaseBillingRecovery}
	}
	clientID := s.pending.Self.ClientID
	personID := s.pending.Self.PersonID
	sessionID := s.pending.SessionID
	s.mu.Unlock()

	normalized := card
	normalized.CardNumber = card.Normalized()
	if err := s.deps.API.UpdateBilling(ctx, clientID, personID, normalized); err != nil {
		slog.Warn("billing_update_failed", "session_id", sessionID, "error", err.Error())
		return purchase.Transient(err)
	}
	slog.Info("billing_updated", "session_id", sessionID)
	s.deps.Events.RecordEvent(ctx, EventLogParams{
		ClientID:  clientID,
		EventType: EventBillingUpdate,
		PersonID:  personID,
	})

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return purchase.ErrSessionClosed
	}
	if s.pending.Phase != phase {
		// The session moved on while the billing call was in flight.
		s.mu.Unlock()
		return nil
	}

	if phase == purchase.PhaseReviewingPricing {
		// Pricing-stage failure: the fixed card just needs a fresh total.
		s.pending.PricingStale = true
		s.mu.Unlock()
		return s.ResolvePricing(ctx)
	}

	retry := s.pending.Retry
	if err := retry.BeginRetry(); err != nil {
		s.mu.Unlock()
		return err
	}
	if err := s.pending.Transition(purchase.PhaseSubmitting); err != nil {
		s.mu.Unlock()
		return err
	}
	payload := retry.Payload
	s.mu.Unlock()

	slog.Info("billing_recovery_resubmitting", "session_id", sessionID)
	timer := prometheus.NewTimer(metrics.SubmitDuration)
	result, err := s.deps.Builder.Submit(ctx, s.deps.API, payload)
	timer.ObserveDuration()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return purchase.ErrSessionClosed
	}
	return s.settleSubmitLocked(ctx, payload, result, err)
}

// AbandonRecovery gives up on billing recovery without cancelling the
// whole session, moving the checkout to Failed.
// PRE: phase is BillingRecovery
func (s *Session) AbandonRecovery(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return purchase.ErrSessionClosed
	}
	if s.pending.Phase != purchase.PhaseBillingRecovery {
		return &purchase.TransitionError{From: s.pending.Phase, To: purchase.PhaseFailed}
	}
	s.pending.Retry.Abandon()
	return s.failLocked(ctx, "billing recovery abandoned", nil)
}
