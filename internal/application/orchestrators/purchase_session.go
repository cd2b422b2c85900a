package orchestrators

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"studiobook/internal/adapters/storage/checkoutlog"
	"studiobook/internal/domain/person"
	"studiobook/internal/domain/pricing"
	"studiobook/internal/domain/product"
	"studiobook/internal/domain/purchase"
	"studiobook/internal/metrics"
)

// Analytics event types reported to the studio backend.
const (
	EventPurchaseInitiate = "purchase_initiate"
	EventPurchaseSuccess  = "purchase_success"
	EventPurchaseFail     = "purchase_fail"
	EventPurchaseCancel   = "purchase_cancel"
	EventBillingUpdate    = "billing_update"
	EventDiscountApply    = "discount_apply"
	EventDiscountRemove   = "discount_remove"
)

// SessionDeps holds the collaborators of a checkout session.
type SessionDeps struct {
	API     BackendAPI
	Events  EventRecorder
	Log     checkoutlog.Store
	Builder PayloadBuilder
	Now     func() time.Time
}

// Session drives one pending purchase from open to a terminal phase. All
// methods are safe for concurrent use; the mutex is released across every
// network call so a slow backend never wedges the session, and sequence
// counters drop responses that arrive after the state they priced is gone.
type Session struct {
	mu   sync.Mutex
	deps SessionDeps

	pending   *purchase.Pending
	eligible  []person.Person
	addOnMenu []product.AddOn
	// baseQuote is the last quote resolved with no discount applied. It
	// lets ClearDiscount restore pricing without another backend call.
	baseQuote  *pricing.Quote
	pricingSeq uint64
	closed     bool
}

// OpenInput carries everything needed to open a checkout.
type OpenInput struct {
	Product product.Product
	Self    person.Person
	Spot    *int // class spot selection, when the studio uses spot booking
}

// ExecuteOpenCheckout opens a checkout session for a product and advances
// it past any selection phase that has nothing to select.
// PRE: input.Product came from the studio catalog; input.Self is signed in
// POST: Session phase is SelectingPerson, SelectingAddOns, or
// ReviewingPricing with a resolution already attempted
func ExecuteOpenCheckout(ctx context.Context, input OpenInput, deps SessionDeps) (*Session, error) {
	if err := input.Product.Validate(); err != nil {
		return nil, err
	}
	if err := input.Self.Validate(); err != nil {
		return nil, err
	}
	if deps.Builder == nil {
		deps.Builder = StandardPurchase{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	now := deps.Now()
	s := &Session{
		deps:    deps,
		pending: purchase.New(uuid.New().String(), input.Product, input.Self, now),
	}
	s.pending.Spot = input.Spot
	if input.Product.AllowStartDate {
		s.pending.StartDate = input.Product.DefaultStartDate(now)
	}

	metrics.CheckoutsOpened.Inc()
	slog.Info("checkout_opened",
		"session_id", s.pending.SessionID,
		"product_id", input.Product.ID,
		"product_kind", input.Product.Kind,
		"client_id", input.Self.ClientID)
	deps.Events.RecordEvent(ctx, EventLogParams{
		ClientID:       input.Self.ClientID,
		EventType:      EventPurchaseInitiate,
		PersonID:       input.Self.PersonID,
		ProductID:      input.Product.ID,
		RegistrationID: input.Product.RegistrationID,
	})

	if input.Product.RequiresPersonSelection() {
		eligible := ExecuteListEligible(ctx, ListEligibleInput{
			Self:       input.Self,
			ClientID:   input.Product.ClientID,
			LocationID: input.Product.LocationID,
		}, ListEligibleDeps{API: deps.API})
		s.eligible = eligible
		if len(eligible) > 1 {
			if err := s.pending.Transition(purchase.PhaseSelectingPerson); err != nil {
				return nil, err
			}
			return s, nil
		}
		// Only the account holder: selecting would be a no-op screen
		s.pending.ResolveSelf()
	}

	if err := s.enterNextPhase(ctx); err != nil {
		return nil, err
	}
	if s.pending.Phase == purchase.PhaseReviewingPricing {
		if err := s.ResolvePricing(ctx); err != nil {
			// Transient and payment errors leave the session usable;
			// only an unavailable product kills it at open.
			if isFatal(err) {
				return nil, err
			}
			slog.Warn("checkout_open_pricing_deferred", "session_id", s.pending.SessionID, "error", err.Error())
		}
	}
	return s, nil
}

// enterNextPhase moves from a selection phase into add-on selection or
// pricing review, loading the add-on menu when the product supports it.
// Callers hold no lock during Open; later callers hold s.mu.
func (s *Session) enterNextPhase(ctx context.Context) error {
	if s.pending.Product.SupportsAddOns &&
		s.pending.Phase != purchase.PhaseSelectingAddOns {
		if err := s.pending.Transition(purchase.PhaseSelectingAddOns); err != nil {
			return err
		}
		menu, err := ExecuteListAddOns(ctx, ListAddOnsInput{
			ClientID:   s.pending.Product.ClientID,
			LocationID: s.pending.Product.LocationID,
		}, ListAddOnsDeps{API: s.deps.API})
		if err != nil {
			slog.Warn("addon_menu_fetch_failed", "session_id", s.pending.SessionID, "error", err.Error())
			menu = nil
		}
		s.addOnMenu = menu
		return nil
	}
	return s.pending.Transition(purchase.PhaseReviewingPricing)
}

// isFatal reports whether the error ends the session.
func isFatal(err error) bool {
	return errors.Is(err, purchase.ErrProductUnavailable) ||
		errors.Is(err, purchase.ErrRecoveryExhausted) ||
		errors.Is(err, purchase.ErrSessionClosed)
}

// Eligible returns the people this purchase may apply to.
func (s *Session) Eligible() []person.Person {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]person.Person, len(s.eligible))
	copy(out, s.eligible)
	return out
}

// AddOnMenu returns the add-ons offered alongside this purchase.
func (s *Session) AddOnMenu() []product.AddOn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]product.AddOn, len(s.addOnMenu))
	copy(out, s.addOnMenu)
	return out
}

// SelectPerson records who the purchase is for and advances the flow.
// PRE: phase is SelectingPerson and who is in the eligible list
func (s *Session) SelectPerson(ctx context.Context, who person.Person) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return purchase.ErrSessionClosed
	}
	if s.pending.Phase != purchase.PhaseSelectingPerson {
		s.mu.Unlock()
		return &purchase.TransitionError{From: s.pending.Phase, To: purchase.PhaseSelectingAddOns}
	}
	found := false
	for _, p := range s.eligible {
		if p.Same(who) {
			who = p
			found = true
			break
		}
	}
	if !found {
		s.mu.Unlock()
		return purchase.Validation("person", "not in the eligible family list")
	}
	if err := s.pending.SetTargetPerson(who); err != nil {
		s.mu.Unlock()
		return err
	}
	if err := s.enterNextPhase(ctx); err != nil {
		s.mu.Unlock()
		return err
	}
	reached := s.pending.Phase == purchase.PhaseReviewingPricing
	s.mu.Unlock()

	if reached {
		return s.ResolvePricing(ctx)
	}
	return nil
}

// ContinueMyself selects the account holder without consulting the
// eligible list.
func (s *Session) ContinueMyself(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return purchase.ErrSessionClosed
	}
	if s.pending.Phase != purchase.PhaseSelectingPerson {
		s.mu.Unlock()
		return &purchase.TransitionError{From: s.pending.Phase, To: purchase.PhaseSelectingAddOns}
	}
	s.pending.ResolveSelf()
	if err := s.enterNextPhase(ctx); err != nil {
		s.mu.Unlock()
		return err
	}
	reached := s.pending.Phase == purchase.PhaseReviewingPricing
	s.mu.Unlock()

	if reached {
		return s.ResolvePricing(ctx)
	}
	return nil
}

// ToggleAddOn adds or removes one add-on from the selection.
// PRE: phase is SelectingAddOns and productID is on the menu
// POST: pricing is marked stale
func (s *Session) ToggleAddOn(productID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return purchase.ErrSessionClosed
	}
	if s.pending.Phase != purchase.PhaseSelectingAddOns {
		return &purchase.TransitionError{From: s.pending.Phase, To: purchase.PhaseSelectingAddOns}
	}
	for _, a := range s.addOnMenu {
		if a.ProductID == productID {
			s.pending.ToggleAddOn(a)
			return nil
		}
	}
	return purchase.Validation("add-on", fmt.Sprintf("product %d is not offered here", productID))
}

// ContinueAddOns moves from add-on selection into pricing review.
// PRE: at least one add-on is selected when the product requires them
func (s *Session) ContinueAddOns(ctx context.Context) error {
	return s.leaveAddOns(ctx, false)
}

// SkipAddOns moves past add-on selection without selecting anything,
// discarding any toggles made so far.
func (s *Session) SkipAddOns(ctx context.Context) error {
	return s.leaveAddOns(ctx, true)
}

func (s *Session) leaveAddOns(ctx context.Context, skip bool) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return purchase.ErrSessionClosed
	}
	if s.pending.Phase != purchase.PhaseSelectingAddOns {
		s.mu.Unlock()
		return &purchase.TransitionError{From: s.pending.Phase, To: purchase.PhaseReviewingPricing}
	}
	if skip {
		if s.pending.Product.AddOnsRequired {
			s.mu.Unlock()
			return purchase.ErrAddOnRequired
		}
		s.pending.AddOns = nil
		s.pending.PricingStale = true
	} else if s.pending.Product.AddOnsRequired && len(s.pending.AddOns) == 0 {
		s.mu.Unlock()
		return purchase.ErrAddOnRequired
	}
	if err := s.pending.Transition(purchase.PhaseReviewingPricing); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	return s.ResolvePricing(ctx)
}

// SetStartDate sets the contract start date for products that allow one.
func (s *Session) SetStartDate(date string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return purchase.ErrSessionClosed
	}
	if !s.pending.Product.AllowStartDate {
		return purchase.Validation("start date", "this product starts immediately")
	}
	if !s.pending.Product.StartDateAllowed(date, s.deps.Now()) {
		return purchase.Validation("start date", "outside the allowed window")
	}
	s.pending.StartDate = date
	return nil
}

// ResolvePricing asks the backend for the current total. The lock is
// released across the network call; a response is committed only if no
// newer resolution started while it was in flight and the session is
// still reviewing pricing.
// POST: on success the quote is current and PricingStale is false
// INVARIANT: a stale response never overwrites a newer quote or touches
// a session that left ReviewingPricing
func (s *Session) ResolvePricing(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return purchase.ErrSessionClosed
	}
	if s.pending.Phase != purchase.PhaseReviewingPricing {
		s.mu.Unlock()
		return &purchase.TransitionError{From: s.pending.Phase, To: purchase.PhaseReviewingPricing}
	}
	params := PurchaseTotalParams{
		ClientID:   s.pending.Product.ClientID,
		LocationID: s.pending.Product.LocationID,
		ProductID:  s.pending.Product.ID,
		AddOnIDs:   s.pending.AddOnIDs(),
		PromoCode:  s.pending.PromoCode(),
		GiftCard:   s.pending.GiftCard(),
	}
	hadDiscount := s.pending.Discount != nil
	s.pricingSeq++
	seq := s.pricingSeq
	sessionID := s.pending.SessionID
	s.mu.Unlock()

	result, err := s.deps.API.GetPurchaseTotal(ctx, params)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return purchase.ErrSessionClosed
	}
	if seq != s.pricingSeq {
		slog.Debug("pricing_response_superseded", "session_id", sessionID, "seq", seq)
		return nil
	}
	if s.pending.Phase != purchase.PhaseReviewingPricing {
		// The session moved on (a submit started or finished) while this
		// resolution was in flight. Its result no longer applies.
		slog.Debug("pricing_response_dropped", "session_id", sessionID, "phase", s.pending.Phase)
		return nil
	}
	if err != nil {
		slog.Warn("pricing_resolve_failed", "session_id", sessionID, "error", err.Error())
		return purchase.Transient(err)
	}
	if !result.Success {
		switch result.Code {
		case ErrCodePaymentMethod:
			// The stored card failed at pricing time. The session stays in
			// review; UpdateBilling re-resolves once the card is fixed.
			slog.Warn("pricing_payment_method_failed", "session_id", sessionID)
			return purchase.ErrPaymentMethod
		case ErrCodeProductUnavailable:
			s.closed = true
			s.recordOutcomeLocked(ctx, checkoutlog.OutcomeFailed, "product unavailable at pricing")
			metrics.PurchasesFailed.Inc()
			return purchase.ErrProductUnavailable
		default:
			return purchase.Validation("pricing", result.Message)
		}
	}
	if result.Quote == nil {
		return purchase.Transient(fmt.Errorf("pricing response carried no totals"))
	}
	if err := result.Quote.Validate(); err != nil {
		return purchase.Transient(err)
	}
	s.pending.SetQuote(result.Quote)
	if !hadDiscount {
		s.baseQuote = result.Quote
	}
	slog.Info("pricing_resolved",
		"session_id", sessionID,
		"grand_total", pricing.FormatAmount(result.Quote.GrandTotal),
		"discount_total", pricing.FormatAmount(result.Quote.DiscountTotal))
	return nil
}

// BeginSigning opens the agreement signing surface.
// PRE: pricing is current and the quote owes an agreement
func (s *Session) BeginSigning() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return purchase.ErrSessionClosed
	}
	if s.pending.Quote == nil || s.pending.PricingStale {
		return purchase.ErrPricingStale
	}
	if !s.pending.Quote.AgreementRequired() {
		return purchase.Validation("agreement", "no agreement is owed for this purchase")
	}
	return s.pending.Transition(purchase.PhaseSigning)
}

// Sign captures the agreement signature. The session stays in Signing so
// the buyer can review before submitting; backing out keeps the signature.
func (s *Session) Sign(image string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return purchase.ErrSessionClosed
	}
	if s.pending.Phase != purchase.PhaseSigning {
		return &purchase.TransitionError{From: s.pending.Phase, To: purchase.PhaseSigning}
	}
	sig, err := ExecuteCaptureSignature(CaptureSignatureInput{Image: image}, s.deps.Now())
	if err != nil {
		return err
	}
	return s.pending.SetSignature(sig.Image, sig.SignedAt)
}

// BackOut returns from signing to pricing review. The signature, if
// captured, is preserved.
func (s *Session) BackOut() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return purchase.ErrSessionClosed
	}
	if s.pending.Phase != purchase.PhaseSigning {
		return &purchase.TransitionError{From: s.pending.Phase, To: purchase.PhaseReviewingPricing}
	}
	return s.pending.Transition(purchase.PhaseReviewingPricing)
}

// Submit sends the purchase to the backend. A second call while one is in
// flight is a no-op. A payment-method failure routes into billing
// recovery; a transient failure reverts to pricing review so the buyer
// can try again with nothing lost.
func (s *Session) Submit(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return purchase.ErrSessionClosed
	}
	if s.pending.Phase == purchase.PhaseSubmitting {
		sessionID := s.pending.SessionID
		s.mu.Unlock()
		slog.Warn("submit_already_in_flight", "session_id", sessionID)
		return nil
	}
	if err := s.pending.CanSubmit(); err != nil {
		s.mu.Unlock()
		return err
	}
	if err := s.pending.Transition(purchase.PhaseSubmitting); err != nil {
		s.mu.Unlock()
		return err
	}
	payload := s.deps.Builder.Build(s.pending)
	s.mu.Unlock()

	timer := prometheus.NewTimer(metrics.SubmitDuration)
	result, err := s.deps.Builder.Submit(ctx, s.deps.API, payload)
	timer.ObserveDuration()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		// Cancelled while in flight: the result is dropped.
		return purchase.ErrSessionClosed
	}
	return s.settleSubmitLocked(ctx, payload, result, err)
}

// settleSubmitLocked applies the outcome of a terminal create call. It is
// shared between Submit and the automatic billing-recovery resubmission.
// PRE: s.mu held, phase is Submitting
func (s *Session) settleSubmitLocked(ctx context.Context, payload purchase.CreatePayload, result CreatePurchaseResult, err error) error {
	sessionID := s.pending.SessionID
	if err != nil {
		slog.Warn("submit_transient_failure", "session_id", sessionID, "error", err.Error())
		if terr := s.pending.Transition(purchase.PhaseReviewingPricing); terr != nil {
			return terr
		}
		return purchase.Transient(err)
	}

	if result.Success {
		if err := s.pending.Transition(purchase.PhaseSuccess); err != nil {
			return err
		}
		if s.pending.Retry != nil {
			s.pending.Retry.Resolve()
		}
		metrics.PurchasesCompleted.Inc()
		slog.Info("purchase_completed", "session_id", sessionID, "product_id", s.pending.Product.ID)
		s.recordOutcomeLocked(ctx, checkoutlog.OutcomeSuccess, "")
		if s.pending.Self.Email != "" && s.pending.Quote != nil {
			s.deps.Events.EnqueueReceipt(ctx, ReceiptPayload{
				To:            s.pending.Self.Email,
				BuyerName:     s.pending.Self.DisplayName(),
				ProductName:   s.pending.Product.DisplayName(),
				GrandTotal:    s.pending.Quote.GrandTotal,
				DiscountTotal: s.pending.Quote.DiscountTotal,
				SessionID:     sessionID,
			})
		}
		s.deps.Events.RecordEvent(ctx, EventLogParams{
			ClientID:       s.pending.Self.ClientID,
			EventType:      EventPurchaseSuccess,
			PersonID:       s.pending.Self.PersonID,
			ProductID:      s.pending.Product.ID,
			RegistrationID: s.pending.Product.RegistrationID,
		})
		return nil
	}

	switch result.Code {
	case ErrCodePaymentMethod:
		if s.pending.Retry != nil {
			// The retried submission failed on payment again. Recovery is
			// single-shot, so the checkout is over.
			s.pending.Retry.Abandon()
			return s.failLocked(ctx, "payment failed after billing update", purchase.ErrRecoveryExhausted)
		}
		retry := purchase.NewRetryContext(payload, s.deps.Now())
		if err := retry.AwaitBilling(); err != nil {
			return err
		}
		s.pending.Retry = retry
		if err := s.pending.Transition(purchase.PhaseBillingRecovery); err != nil {
			return err
		}
		metrics.BillingRecoveries.Inc()
		slog.Warn("billing_recovery_entered", "session_id", sessionID)
		return purchase.ErrPaymentMethod
	case ErrCodeProductUnavailable:
		return s.failLocked(ctx, "product unavailable at purchase", purchase.ErrProductUnavailable)
	default:
		slog.Warn("submit_rejected", "session_id", sessionID, "code", result.Code, "message", result.Message)
		if terr := s.pending.Transition(purchase.PhaseReviewingPricing); terr != nil {
			return terr
		}
		s.pending.PricingStale = true
		return purchase.Validation("purchase", result.Message)
	}
}

// failLocked moves the session to Failed and records the outcome.
// PRE: s.mu held, the phase table allows a transition to Failed
func (s *Session) failLocked(ctx context.Context, detail string, cause error) error {
	if err := s.pending.Transition(purchase.PhaseFailed); err != nil {
		return err
	}
	metrics.PurchasesFailed.Inc()
	slog.Warn("purchase_failed", "session_id", s.pending.SessionID, "detail", detail)
	s.recordOutcomeLocked(ctx, checkoutlog.OutcomeFailed, detail)
	s.deps.Events.RecordEvent(ctx, EventLogParams{
		ClientID:       s.pending.Self.ClientID,
		EventType:      EventPurchaseFail,
		PersonID:       s.pending.Self.PersonID,
		ProductID:      s.pending.Product.ID,
		RegistrationID: s.pending.Product.RegistrationID,
	})
	return cause
}

// Cancel abandons the checkout. Valid in any phase before a terminal one;
// any in-flight backend response is dropped when it lands.
func (s *Session) Cancel(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || purchase.Terminal(s.pending.Phase) {
		return purchase.ErrSessionClosed
	}
	s.closed = true
	if s.pending.Retry != nil && !s.pending.Retry.Terminal() {
		s.pending.Retry.Abandon()
	}
	slog.Info("checkout_cancelled", "session_id", s.pending.SessionID, "phase", s.pending.Phase)
	s.recordOutcomeLocked(ctx, checkoutlog.OutcomeCancelled, "cancelled in "+s.pending.Phase)
	s.deps.Events.RecordEvent(ctx, EventLogParams{
		ClientID:       s.pending.Self.ClientID,
		EventType:      EventPurchaseCancel,
		PersonID:       s.pending.Self.PersonID,
		ProductID:      s.pending.Product.ID,
		RegistrationID: s.pending.Product.RegistrationID,
	})
	return nil
}

// recordOutcomeLocked writes the terminal audit row.
// PRE: s.mu held
func (s *Session) recordOutcomeLocked(ctx context.Context, outcome, detail string) {
	if s.deps.Log == nil {
		return
	}
	rec := checkoutlog.Record{
		ID:          uuid.New().String(),
		SessionID:   s.pending.SessionID,
		ClientID:    s.pending.Self.ClientID,
		PersonID:    s.pending.Self.PersonID,
		ProductID:   s.pending.Product.ID,
		ProductName: s.pending.Product.DisplayName(),
		Outcome:     outcome,
		Detail:      detail,
		CreatedAt:   s.deps.Now(),
	}
	if q := s.pending.Quote; q != nil {
		rec.GrandTotal = q.GrandTotal
		rec.DiscountTotal = q.DiscountTotal
	}
	if err := s.deps.Log.Save(ctx, rec); err != nil {
		slog.Error("checkout_log_save_failed", "session_id", s.pending.SessionID, "error", err.Error())
	}
}
