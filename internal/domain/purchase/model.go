package purchase

import (
	"time"

	"studiobook/internal/domain/person"
	"studiobook/internal/domain/pricing"
	"studiobook/internal/domain/product"
)

// Phase constants for one checkout session. Transitions are forward-only
// with two exceptions: the bounded BillingRecovery -> Submitting retry
// loop, and the revert to ReviewingPricing after a transient submit
// failure so the user can try again without losing input.
const (
	PhaseIdle             = "idle"
	PhaseSelectingPerson  = "selecting_person"
	PhaseSelectingAddOns  = "selecting_add_ons"
	PhaseReviewingPricing = "reviewing_pricing"
	PhaseSigning          = "signing"
	PhaseSubmitting       = "submitting"
	PhaseBillingRecovery  = "billing_recovery"
	PhaseSuccess          = "success"
	PhaseFailed           = "failed"
)

// Discount kinds. At most one code is active at a time.
const (
	DiscountPromo    = "promo"
	DiscountGiftCard = "gift_card"
)

// Discount is the active promo code or gift card value.
type Discount struct {
	Kind string
	Code string
}

var allowedTransitions = map[string][]string{
	PhaseIdle:             {PhaseSelectingPerson, PhaseSelectingAddOns, PhaseReviewingPricing},
	PhaseSelectingPerson:  {PhaseSelectingAddOns, PhaseReviewingPricing},
	PhaseSelectingAddOns:  {PhaseReviewingPricing},
	PhaseReviewingPricing: {PhaseSigning, PhaseSubmitting},
	PhaseSigning:          {PhaseReviewingPricing, PhaseSubmitting},
	PhaseSubmitting:       {PhaseSuccess, PhaseFailed, PhaseBillingRecovery, PhaseReviewingPricing},
	PhaseBillingRecovery:  {PhaseSubmitting, PhaseFailed},
	PhaseSuccess:          {},
	PhaseFailed:           {},
}

// Terminal reports whether a phase ends the session.
func Terminal(phase string) bool {
	return phase == PhaseSuccess || phase == PhaseFailed
}

// Pending is the in-memory record of one in-progress checkout. It is owned
// by a single orchestration session for its whole lifetime and is never
// mutated except through the methods below.
type Pending struct {
	SessionID string
	Product   product.Product
	Self      person.Person

	TargetPerson *person.Person
	Spot         *int
	AddOns       []product.AddOn
	Quote        *pricing.Quote
	PricingStale bool
	Discount     *Discount
	Signature    string
	SignedAt     time.Time
	StartDate    string
	Retry        *RetryContext

	Phase    string
	OpenedAt time.Time
}

// New creates the pending record for a freshly opened checkout.
// PRE: prod validated, self identifies the signed-in account
// POST: Phase is Idle, pricing marked stale
func New(sessionID string, prod product.Product, self person.Person, now time.Time) *Pending {
	return &Pending{
		SessionID:    sessionID,
		Product:      prod,
		Self:         self,
		Phase:        PhaseIdle,
		PricingStale: true,
		OpenedAt:     now,
	}
}

// CanTransition reports whether the state machine allows moving to the
// given phase from the current one.
func (p *Pending) CanTransition(to string) bool {
	for _, t := range allowedTransitions[p.Phase] {
		if t == to {
			return true
		}
	}
	return false
}

// Transition moves the session to the given phase.
// PRE: the transition is allowed by the phase table
// POST: Phase updated, or a TransitionError
func (p *Pending) Transition(to string) error {
	if !p.CanTransition(to) {
		return &TransitionError{From: p.Phase, To: to}
	}
	p.Phase = to
	return nil
}

// SetTargetPerson records who the purchase applies to.
// INVARIANT: exactly one identity is active once the person phase passes
func (p *Pending) SetTargetPerson(who person.Person) error {
	if err := who.Validate(); err != nil {
		return err
	}
	p.TargetPerson = &who
	return nil
}

// ResolveSelf records the account holder as the target.
func (p *Pending) ResolveSelf() {
	self := p.Self
	p.TargetPerson = &self
}

// ToggleAddOn adds or removes an add-on by product id and invalidates
// pricing. Quantity is fixed at 1 in this flow.
// POST: AddOns contains no duplicate product ids; PricingStale is true
func (p *Pending) ToggleAddOn(a product.AddOn) {
	for i, existing := range p.AddOns {
		if existing.ProductID == a.ProductID {
			p.AddOns = append(p.AddOns[:i], p.AddOns[i+1:]...)
			p.PricingStale = true
			return
		}
	}
	if a.Count < 1 {
		a.Count = 1
	}
	p.AddOns = append(p.AddOns, a)
	p.PricingStale = true
}

// AddOnIDs returns the selected add-on product ids in selection order.
func (p *Pending) AddOnIDs() []int {
	ids := make([]int, 0, len(p.AddOns))
	for _, a := range p.AddOns {
		ids = append(ids, a.ProductID)
	}
	return ids
}

// SetDiscount activates a promo code or gift card. Selecting one kind
// clears the other, and any change invalidates pricing.
// INVARIANT: Discount and Quote.DiscountTotal only agree after a re-resolve
func (p *Pending) SetDiscount(kind, code string) error {
	if kind != DiscountPromo && kind != DiscountGiftCard {
		return Validation("discount kind", "must be promo or gift_card")
	}
	if code == "" {
		return Validation("discount code", "cannot be empty")
	}
	p.Discount = &Discount{Kind: kind, Code: code}
	p.PricingStale = true
	return nil
}

// ClearDiscount removes the active code and invalidates pricing.
// Always succeeds.
func (p *Pending) ClearDiscount() {
	if p.Discount != nil {
		p.Discount = nil
		p.PricingStale = true
	}
}

// PromoCode returns the active promo code, or empty.
func (p *Pending) PromoCode() string {
	if p.Discount != nil && p.Discount.Kind == DiscountPromo {
		return p.Discount.Code
	}
	return ""
}

// GiftCard returns the active gift card value, or empty.
func (p *Pending) GiftCard() string {
	if p.Discount != nil && p.Discount.Kind == DiscountGiftCard {
		return p.Discount.Code
	}
	return ""
}

// SetQuote commits a freshly resolved quote.
// POST: PricingStale is false
func (p *Pending) SetQuote(q *pricing.Quote) {
	p.Quote = q
	p.PricingStale = false
}

// SetSignature records the captured signature artifact.
// PRE: pricing has been computed at least once this session
// POST: Signature set, or ErrPricingStale when no quote exists yet
func (p *Pending) SetSignature(image string, now time.Time) error {
	if p.Quote == nil {
		return ErrPricingStale
	}
	p.Signature = image
	p.SignedAt = now
	return nil
}

// AgreementSatisfied reports whether the signing precondition for
// submission holds: either no agreement is owed, or a signature exists.
func (p *Pending) AgreementSatisfied() bool {
	if !p.Quote.AgreementRequired() {
		return true
	}
	return p.Signature != ""
}

// CanSubmit checks every submission precondition.
// POST: nil when the assembled payload may be sent to the backend
func (p *Pending) CanSubmit() error {
	if p.Phase != PhaseReviewingPricing && p.Phase != PhaseSigning {
		return &TransitionError{From: p.Phase, To: PhaseSubmitting}
	}
	if p.Quote == nil || p.PricingStale {
		return ErrPricingStale
	}
	if p.Product.RequiresPersonSelection() && p.TargetPerson == nil {
		return ErrPersonRequired
	}
	if p.Product.AddOnsRequired && len(p.AddOns) == 0 {
		return ErrAddOnRequired
	}
	if !p.AgreementSatisfied() {
		return ErrSignatureRequired
	}
	return nil
}

// BuildPayload assembles the create-purchase request from current state.
// PRE: CanSubmit returned nil
func (p *Pending) BuildPayload() CreatePayload {
	payload := CreatePayload{
		ClientID:        p.Product.ClientID,
		LocationID:      p.Product.LocationID,
		ProductID:       p.Product.ID,
		RegistrationID:  p.Product.RegistrationID,
		AddOnIDs:        p.AddOnIDs(),
		PromoCode:       p.PromoCode(),
		GiftCard:        p.GiftCard(),
		ClientSignature: p.Signature,
		StartDate:       p.StartDate,
		Spot:            p.Spot,
	}
	if p.TargetPerson != nil {
		clientID := p.TargetPerson.ClientID
		payload.PersonClientID = &clientID
		payload.PersonID = p.TargetPerson.PersonID
	}
	return payload
}
