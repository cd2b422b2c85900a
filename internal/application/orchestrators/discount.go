package orchestrators

import (
	"context"
	"log/slog"

	"studiobook/internal/domain/purchase"
)

// ApplyDiscount activates a promo code or gift card and re-resolves
// pricing against the backend, which is the sole authority on whether
// the code is any good.
// PRE: phase is ReviewingPricing
// POST: on success the quote reflects the discount; a rejected code
// restores the previous discount and quote untouched
// INVARIANT: at most one discount kind is ever active
func (s *Session) ApplyDiscount(ctx context.Context, kind, code string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return purchase.ErrSessionClosed
	}
	if s.pending.Phase != purchase.PhaseReviewingPricing {
		s.mu.Unlock()
		return &purchase.TransitionError{From: s.pending.Phase, To: purchase.PhaseReviewingPricing}
	}
	prevDiscount := s.pending.Discount
	prevQuote := s.pending.Quote
	prevStale := s.pending.PricingStale
	if err := s.pending.SetDiscount(kind, code); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	err := s.ResolvePricing(ctx)
	if err == nil {
		s.recordDiscountEvent(ctx, EventDiscountApply)
		return nil
	}
	if !purchase.IsValidation(err) {
		// Transient or payment failure: the discount stays on and the
		// stale flag keeps the submit gate shut until a clean resolve.
		return err
	}

	// The backend rejected the code. Roll back, but only if no newer
	// discount change landed while we were resolving.
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.pending.Discount
	if d != nil && d.Kind == kind && d.Code == code {
		s.pending.Discount = prevDiscount
		s.pending.Quote = prevQuote
		s.pending.PricingStale = prevStale
		slog.Info("discount_rejected", "session_id", s.pending.SessionID, "kind", kind)
	}
	return err
}

// ClearDiscount removes the active code. It always succeeds: when the
// undiscounted quote is cached it is restored without a backend call,
// otherwise a best-effort re-resolve runs and any failure just leaves
// pricing stale.
func (s *Session) ClearDiscount(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return purchase.ErrSessionClosed
	}
	hadDiscount := s.pending.Discount != nil
	s.pending.ClearDiscount()
	if s.baseQuote != nil {
		s.pending.SetQuote(s.baseQuote)
		s.mu.Unlock()
		if hadDiscount {
			s.recordDiscountEvent(ctx, EventDiscountRemove)
		}
		return nil
	}
	needsResolve := s.pending.Phase == purchase.PhaseReviewingPricing
	sessionID := s.pending.SessionID
	s.mu.Unlock()

	if needsResolve {
		if err := s.ResolvePricing(ctx); err != nil {
			slog.Warn("clear_discount_resolve_deferred", "session_id", sessionID, "error", err.Error())
		}
	}
	if hadDiscount {
		s.recordDiscountEvent(ctx, EventDiscountRemove)
	}
	return nil
}

// recordDiscountEvent reports a discount change to analytics. Called
// without the lock held.
func (s *Session) recordDiscountEvent(ctx context.Context, eventType string) {
	s.mu.Lock()
	p := EventLogParams{
		ClientID:       s.pending.Self.ClientID,
		EventType:      eventType,
		PersonID:       s.pending.Self.PersonID,
		ProductID:      s.pending.Product.ID,
		RegistrationID: s.pending.Product.RegistrationID,
	}
	s.mu.Unlock()
	s.deps.Events.RecordEvent(ctx, p)
}
