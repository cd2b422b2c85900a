package orchestrators

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studiobook/internal/adapters/storage/checkoutlog"
	"studiobook/internal/domain/agreement"
	"studiobook/internal/domain/billing"
	"studiobook/internal/domain/person"
	"studiobook/internal/domain/pricing"
	"studiobook/internal/domain/product"
	"studiobook/internal/domain/purchase"
)

var fixedTime = time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return fixedTime }

// mockAPI is a scripted stand-in for the studio backend.
type mockAPI struct {
	mu sync.Mutex

	totalFn   func(PurchaseTotalParams) (PurchaseTotalResult, error)
	createFn  func(purchase.CreatePayload) (CreatePurchaseResult, error)
	billingFn func(billing.CardUpdate) error
	family    []person.Person
	familyErr error
	addOns    []product.AddOn
	addOnsErr error

	totalCalls   []PurchaseTotalParams
	createCalls  []purchase.CreatePayload
	billingCalls int
}

func (m *mockAPI) GetPurchaseTotal(_ context.Context, p PurchaseTotalParams) (PurchaseTotalResult, error) {
	m.mu.Lock()
	m.totalCalls = append(m.totalCalls, p)
	fn := m.totalFn
	m.mu.Unlock()
	if fn == nil {
		return okTotal(12900, 0), nil
	}
	return fn(p)
}

func (m *mockAPI) CreatePurchase(_ context.Context, p purchase.CreatePayload) (CreatePurchaseResult, error) {
	m.mu.Lock()
	m.createCalls = append(m.createCalls, p)
	fn := m.createFn
	m.mu.Unlock()
	if fn == nil {
		return CreatePurchaseResult{Success: true, Code: 200}, nil
	}
	return fn(p)
}

func (m *mockAPI) CreatePurchaseAddOns(ctx context.Context, p purchase.CreatePayload) (CreatePurchaseResult, error) {
	return m.CreatePurchase(ctx, p)
}

func (m *mockAPI) UpdateBilling(_ context.Context, _ int, _ string, card billing.CardUpdate) error {
	m.mu.Lock()
	m.billingCalls++
	fn := m.billingFn
	m.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(card)
}

func (m *mockAPI) GetUserFamily(_ context.Context, _ int, _ string) ([]person.Person, error) {
	return m.family, m.familyErr
}

func (m *mockAPI) GetStudioAddOns(_ context.Context, _, _ int) ([]product.AddOn, error) {
	return m.addOns, m.addOnsErr
}

func (m *mockAPI) CreateEventLog(_ context.Context, _ EventLogParams) error { return nil }

func (m *mockAPI) createCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.createCalls)
}

func (m *mockAPI) totalCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.totalCalls)
}

// okTotal builds a successful pricing response.
func okTotal(grandTotal, discount int64) PurchaseTotalResult {
	return PurchaseTotalResult{
		Success: true,
		Code:    200,
		Quote: &pricing.Quote{
			SubTotal:      grandTotal + discount,
			DiscountTotal: discount,
			GrandTotal:    grandTotal,
			ResolvedAt:    fixedTime,
		},
	}
}

// mockEvents records fire-and-forget side effects.
type mockEvents struct {
	mu       sync.Mutex
	events   []EventLogParams
	receipts []ReceiptPayload
}

func (m *mockEvents) RecordEvent(_ context.Context, p EventLogParams) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, p)
}

func (m *mockEvents) EnqueueReceipt(_ context.Context, r ReceiptPayload) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.receipts = append(m.receipts, r)
}

func (m *mockEvents) eventTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var types []string
	for _, e := range m.events {
		types = append(types, e.EventType)
	}
	return types
}

// mockCheckoutLog records terminal outcomes.
type mockCheckoutLog struct {
	mu      sync.Mutex
	records []checkoutlog.Record
}

func (m *mockCheckoutLog) Save(_ context.Context, r checkoutlog.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, r)
	return nil
}

func (m *mockCheckoutLog) ListBySessionID(_ context.Context, sessionID string) ([]checkoutlog.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []checkoutlog.Record
	for _, r := range m.records {
		if r.SessionID == sessionID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockCheckoutLog) ListRecent(_ context.Context, limit int) ([]checkoutlog.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.records) > limit {
		return m.records[len(m.records)-limit:], nil
	}
	return m.records, nil
}

func (m *mockCheckoutLog) outcomes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, r := range m.records {
		out = append(out, r.Outcome)
	}
	return out
}

type testHarness struct {
	api    *mockAPI
	events *mockEvents
	log    *mockCheckoutLog
}

func newHarness() *testHarness {
	return &testHarness{api: &mockAPI{}, events: &mockEvents{}, log: &mockCheckoutLog{}}
}

func (h *testHarness) deps() SessionDeps {
	return SessionDeps{API: h.api, Events: h.events, Log: h.log, Now: fixedNow}
}

func membershipProduct() product.Product {
	return product.Product{ID: 100, ClientID: 77, LocationID: 3, Kind: product.KindMembership, Name: "Unlimited Monthly", Price: 12900}
}

func classProduct() product.Product {
	return product.Product{ID: 200, ClientID: 77, LocationID: 3, RegistrationID: 9, Kind: product.KindClass, Name: "Morning Flow"}
}

func self() person.Person {
	return person.Person{ClientID: 77, PersonID: "p-1", FirstName: "Ana", LastName: "Reyes", Email: "ana@example.com"}
}

func openMembership(t *testing.T, h *testHarness) *Session {
	t.Helper()
	s, err := ExecuteOpenCheckout(context.Background(), OpenInput{Product: membershipProduct(), Self: self()}, h.deps())
	require.NoError(t, err)
	return s
}

// --- opening ---

func TestOpenCheckout_MembershipGoesStraightToPricing(t *testing.T) {
	h := newHarness()
	s := openMembership(t, h)

	v := s.Snapshot()
	assert.Equal(t, purchase.PhaseReviewingPricing, v.Phase)
	require.NotNil(t, v.Quote)
	assert.Equal(t, "$129.00", v.Quote.GrandTotal)
	assert.False(t, v.Quote.Stale)
	assert.Contains(t, h.events.eventTypes(), EventPurchaseInitiate)
}

func TestOpenCheckout_ClassWithFamilyAsksForPerson(t *testing.T) {
	h := newHarness()
	h.api.family = []person.Person{
		{ClientID: 77, PersonID: "p-2", FirstName: "Milo", LastName: "Reyes"},
	}
	s, err := ExecuteOpenCheckout(context.Background(), OpenInput{Product: classProduct(), Self: self()}, h.deps())
	require.NoError(t, err)

	v := s.Snapshot()
	assert.Equal(t, purchase.PhaseSelectingPerson, v.Phase)
	require.Len(t, v.Eligible, 2)
	assert.True(t, v.Eligible[0].IsSelf, "account holder should come first")
}

func TestOpenCheckout_ClassAloneSkipsPersonScreen(t *testing.T) {
	h := newHarness()
	h.api.familyErr = errors.New("backend down")
	s, err := ExecuteOpenCheckout(context.Background(), OpenInput{Product: classProduct(), Self: self()}, h.deps())
	require.NoError(t, err)

	v := s.Snapshot()
	assert.Equal(t, purchase.PhaseReviewingPricing, v.Phase)
	require.NotNil(t, v.SelectedPerson)
	assert.True(t, v.SelectedPerson.IsSelf)
}

func TestOpenCheckout_RejectsInvalidProduct(t *testing.T) {
	h := newHarness()
	p := membershipProduct()
	p.Kind = "mystery"
	_, err := ExecuteOpenCheckout(context.Background(), OpenInput{Product: p, Self: self()}, h.deps())
	require.Error(t, err)
}

func TestOpenCheckout_PricingFailureLeavesSessionUsable(t *testing.T) {
	h := newHarness()
	h.api.totalFn = func(PurchaseTotalParams) (PurchaseTotalResult, error) {
		return PurchaseTotalResult{}, errors.New("timeout")
	}
	s, err := ExecuteOpenCheckout(context.Background(), OpenInput{Product: membershipProduct(), Self: self()}, h.deps())
	require.NoError(t, err, "a transient pricing failure must not kill the open")

	h.api.mu.Lock()
	h.api.totalFn = nil
	h.api.mu.Unlock()
	require.NoError(t, s.ResolvePricing(context.Background()))
	assert.NotNil(t, s.Snapshot().Quote)
}

// --- person selection ---

func TestSelectPerson_MustBeEligible(t *testing.T) {
	h := newHarness()
	h.api.family = []person.Person{{ClientID: 77, PersonID: "p-2", FirstName: "Milo"}}
	s, err := ExecuteOpenCheckout(context.Background(), OpenInput{Product: classProduct(), Self: self()}, h.deps())
	require.NoError(t, err)

	err = s.SelectPerson(context.Background(), person.Person{ClientID: 99, PersonID: "stranger"})
	assert.True(t, purchase.IsValidation(err))
	assert.Equal(t, purchase.PhaseSelectingPerson, s.Phase())

	require.NoError(t, s.SelectPerson(context.Background(), person.Person{ClientID: 77, PersonID: "p-2"}))
	v := s.Snapshot()
	assert.Equal(t, purchase.PhaseReviewingPricing, v.Phase)
	assert.Equal(t, "Milo", v.SelectedPerson.Name)
}

func TestContinueMyself(t *testing.T) {
	h := newHarness()
	h.api.family = []person.Person{{ClientID: 77, PersonID: "p-2", FirstName: "Milo"}}
	s, err := ExecuteOpenCheckout(context.Background(), OpenInput{Product: classProduct(), Self: self()}, h.deps())
	require.NoError(t, err)

	require.NoError(t, s.ContinueMyself(context.Background()))
	assert.True(t, s.Snapshot().SelectedPerson.IsSelf)
}

// --- add-ons ---

func addOnProduct() product.Product {
	p := membershipProduct()
	p.SupportsAddOns = true
	return p
}

func TestAddOns_ToggleAndContinue(t *testing.T) {
	h := newHarness()
	h.api.addOns = []product.AddOn{{ProductID: 5, Heading: "Towel Service", Price: 500}}
	s, err := ExecuteOpenCheckout(context.Background(), OpenInput{Product: addOnProduct(), Self: self()}, h.deps())
	require.NoError(t, err)
	assert.Equal(t, purchase.PhaseSelectingAddOns, s.Phase())

	err = s.ToggleAddOn(999)
	assert.True(t, purchase.IsValidation(err), "unknown add-on must be rejected")

	require.NoError(t, s.ToggleAddOn(5))
	require.NoError(t, s.ContinueAddOns(context.Background()))

	v := s.Snapshot()
	assert.Equal(t, purchase.PhaseReviewingPricing, v.Phase)
	require.Len(t, v.AddOns, 1)
	assert.True(t, v.AddOns[0].Selected)

	h.api.mu.Lock()
	last := h.api.totalCalls[len(h.api.totalCalls)-1]
	h.api.mu.Unlock()
	assert.Equal(t, []int{5}, last.AddOnIDs, "pricing must include the selected add-on")
}

func TestAddOns_RequiredBlocksContinueAndSkip(t *testing.T) {
	h := newHarness()
	p := addOnProduct()
	p.AddOnsRequired = true
	h.api.addOns = []product.AddOn{{ProductID: 5, Heading: "Towel Service", Price: 500}}
	s, err := ExecuteOpenCheckout(context.Background(), OpenInput{Product: p, Self: self()}, h.deps())
	require.NoError(t, err)

	assert.ErrorIs(t, s.ContinueAddOns(context.Background()), purchase.ErrAddOnRequired)
	assert.ErrorIs(t, s.SkipAddOns(context.Background()), purchase.ErrAddOnRequired)

	require.NoError(t, s.ToggleAddOn(5))
	require.NoError(t, s.ContinueAddOns(context.Background()))
}

func TestAddOns_SkipDiscardsToggles(t *testing.T) {
	h := newHarness()
	h.api.addOns = []product.AddOn{{ProductID: 5, Heading: "Towel Service", Price: 500}}
	s, err := ExecuteOpenCheckout(context.Background(), OpenInput{Product: addOnProduct(), Self: self()}, h.deps())
	require.NoError(t, err)

	require.NoError(t, s.ToggleAddOn(5))
	require.NoError(t, s.SkipAddOns(context.Background()))

	v := s.Snapshot()
	for _, a := range v.AddOns {
		assert.False(t, a.Selected)
	}
}

// --- pricing ---

func TestResolvePricing_StaleResponseNeverWins(t *testing.T) {
	h := newHarness()
	s := openMembership(t, h)

	release := make(chan struct{})
	slowStarted := make(chan struct{})
	first := true
	h.api.mu.Lock()
	h.api.totalFn = func(PurchaseTotalParams) (PurchaseTotalResult, error) {
		h.api.mu.Lock()
		isFirst := first
		first = false
		h.api.mu.Unlock()
		if isFirst {
			close(slowStarted)
			<-release
			return okTotal(11100, 0), nil // stale total
		}
		return okTotal(22200, 0), nil // current total
	}
	h.api.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- s.ResolvePricing(context.Background()) }()
	<-slowStarted

	require.NoError(t, s.ResolvePricing(context.Background()))
	close(release)
	require.NoError(t, <-done, "a superseded resolution is dropped, not an error")

	assert.Equal(t, "$222.00", s.Snapshot().Quote.GrandTotal)
}

func TestResolvePricing_LateResponseAfterSubmitIsDropped(t *testing.T) {
	h := newHarness()
	s := openMembership(t, h)

	release := make(chan struct{})
	started := make(chan struct{})
	h.api.mu.Lock()
	h.api.totalFn = func(PurchaseTotalParams) (PurchaseTotalResult, error) {
		close(started)
		<-release
		return okTotal(55500, 0), nil
	}
	h.api.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- s.ResolvePricing(context.Background()) }()
	<-started

	// The buyer submits while the redundant resolution is in flight
	require.NoError(t, s.Submit(context.Background()))
	require.Equal(t, purchase.PhaseSuccess, s.Phase())

	close(release)
	require.NoError(t, <-done, "a resolution landing after submit is dropped, not an error")

	v := s.Snapshot()
	assert.Equal(t, purchase.PhaseSuccess, v.Phase)
	assert.Equal(t, "$129.00", v.Quote.GrandTotal, "the completed purchase keeps the quote it was charged against")
	assert.Equal(t, []string{checkoutlog.OutcomeSuccess}, h.log.outcomes())
}

func TestResolvePricing_Late410NeverFailsACompletedPurchase(t *testing.T) {
	h := newHarness()
	s := openMembership(t, h)

	release := make(chan struct{})
	started := make(chan struct{})
	h.api.mu.Lock()
	h.api.totalFn = func(PurchaseTotalParams) (PurchaseTotalResult, error) {
		close(started)
		<-release
		return PurchaseTotalResult{Code: ErrCodeProductUnavailable, Message: "gone"}, nil
	}
	h.api.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- s.ResolvePricing(context.Background()) }()
	<-started

	require.NoError(t, s.Submit(context.Background()))
	close(release)
	require.NoError(t, <-done)

	v := s.Snapshot()
	assert.Equal(t, purchase.PhaseSuccess, v.Phase)
	assert.False(t, v.Closed, "a late unavailable code must not close a purchased session")
	assert.Equal(t, []string{checkoutlog.OutcomeSuccess}, h.log.outcomes(),
		"exactly one terminal outcome, and it is the purchase")
}

func TestResolvePricing_PaymentFailureStaysInReview(t *testing.T) {
	h := newHarness()
	s := openMembership(t, h)

	h.api.mu.Lock()
	h.api.totalFn = func(PurchaseTotalParams) (PurchaseTotalResult, error) {
		return PurchaseTotalResult{Code: ErrCodePaymentMethod, Message: "card declined"}, nil
	}
	h.api.mu.Unlock()

	err := s.ResolvePricing(context.Background())
	assert.ErrorIs(t, err, purchase.ErrPaymentMethod)
	assert.Equal(t, purchase.PhaseReviewingPricing, s.Phase())

	// Fixing the card outside recovery re-resolves without a retry cycle
	h.api.mu.Lock()
	h.api.totalFn = nil
	h.api.mu.Unlock()
	card := billing.CardUpdate{CardNumber: "4532015112830366", ExpMonth: "12", ExpYear: "2028"}
	require.NoError(t, s.UpdateBilling(context.Background(), card))
	assert.Equal(t, 1, h.api.billingCalls)
	assert.Nil(t, s.Snapshot().Quote.Contract)
	assert.False(t, s.Snapshot().Quote.Stale)
}

func TestResolvePricing_ProductGoneEndsSession(t *testing.T) {
	h := newHarness()
	s := openMembership(t, h)

	h.api.mu.Lock()
	h.api.totalFn = func(PurchaseTotalParams) (PurchaseTotalResult, error) {
		return PurchaseTotalResult{Code: ErrCodeProductUnavailable, Message: "gone"}, nil
	}
	h.api.mu.Unlock()

	err := s.ResolvePricing(context.Background())
	assert.ErrorIs(t, err, purchase.ErrProductUnavailable)
	assert.True(t, s.Done())
	assert.Equal(t, []string{checkoutlog.OutcomeFailed}, h.log.outcomes())
}

// --- discounts ---

func TestApplyDiscount_RepricesWithCode(t *testing.T) {
	h := newHarness()
	s := openMembership(t, h)

	h.api.mu.Lock()
	h.api.totalFn = func(p PurchaseTotalParams) (PurchaseTotalResult, error) {
		if p.PromoCode == "SUMMER" {
			return okTotal(9900, 3000), nil
		}
		return okTotal(12900, 0), nil
	}
	h.api.mu.Unlock()

	require.NoError(t, s.ApplyDiscount(context.Background(), purchase.DiscountPromo, "SUMMER"))
	v := s.Snapshot()
	assert.Equal(t, "$99.00", v.Quote.GrandTotal)
	assert.Equal(t, "$30.00", v.Quote.DiscountTotal)
	assert.Equal(t, purchase.DiscountPromo, v.DiscountKind)
	assert.Contains(t, h.events.eventTypes(), EventDiscountApply)
}

func TestApplyDiscount_RejectedCodeRollsBack(t *testing.T) {
	h := newHarness()
	s := openMembership(t, h)

	h.api.mu.Lock()
	h.api.totalFn = func(p PurchaseTotalParams) (PurchaseTotalResult, error) {
		if p.PromoCode != "" {
			return PurchaseTotalResult{Code: 400, Message: "invalid promo code"}, nil
		}
		return okTotal(12900, 0), nil
	}
	h.api.mu.Unlock()

	err := s.ApplyDiscount(context.Background(), purchase.DiscountPromo, "BOGUS")
	assert.True(t, purchase.IsValidation(err))

	v := s.Snapshot()
	assert.Empty(t, v.DiscountKind, "rejected code must not stick")
	assert.Equal(t, "$129.00", v.Quote.GrandTotal, "previous quote must survive")
	assert.False(t, v.Quote.Stale)
}

func TestClearDiscount_RestoresBaseQuoteWithoutBackendCall(t *testing.T) {
	h := newHarness()
	s := openMembership(t, h)

	h.api.mu.Lock()
	h.api.totalFn = func(p PurchaseTotalParams) (PurchaseTotalResult, error) {
		if p.GiftCard != "" {
			return okTotal(2900, 10000), nil
		}
		return okTotal(12900, 0), nil
	}
	h.api.mu.Unlock()
	require.NoError(t, s.ApplyDiscount(context.Background(), purchase.DiscountGiftCard, "GC-1"))

	calls := h.api.totalCount()
	require.NoError(t, s.ClearDiscount(context.Background()))
	assert.Equal(t, calls, h.api.totalCount(), "clear must not hit the backend")

	v := s.Snapshot()
	assert.Empty(t, v.DiscountKind)
	assert.Equal(t, "$129.00", v.Quote.GrandTotal)
	assert.False(t, v.Quote.Stale)
	assert.Contains(t, h.events.eventTypes(), EventDiscountRemove)
}

func TestApplyDiscount_GiftCardDisplacesPromo(t *testing.T) {
	h := newHarness()
	s := openMembership(t, h)

	require.NoError(t, s.ApplyDiscount(context.Background(), purchase.DiscountPromo, "SUMMER"))
	require.NoError(t, s.ApplyDiscount(context.Background(), purchase.DiscountGiftCard, "GC-1"))

	v := s.Snapshot()
	assert.Equal(t, purchase.DiscountGiftCard, v.DiscountKind)

	h.api.mu.Lock()
	last := h.api.totalCalls[len(h.api.totalCalls)-1]
	h.api.mu.Unlock()
	assert.Empty(t, last.PromoCode, "promo must not ride along with a gift card")
	assert.Equal(t, "GC-1", last.GiftCard)
}

// --- signing ---

func agreementTotal() PurchaseTotalResult {
	r := okTotal(12900, 0)
	r.Quote.AgreementTerms = "## Membership Terms"
	return r
}

func TestSigning_FullPath(t *testing.T) {
	h := newHarness()
	h.api.totalFn = func(PurchaseTotalParams) (PurchaseTotalResult, error) { return agreementTotal(), nil }
	s := openMembership(t, h)

	v := s.Snapshot()
	assert.True(t, v.AgreementRequired)
	assert.Contains(t, v.AgreementHTML, "Membership Terms")

	// Submit before signing is blocked
	assert.ErrorIs(t, s.Submit(context.Background()), purchase.ErrSignatureRequired)

	require.NoError(t, s.BeginSigning())
	assert.ErrorIs(t, s.Sign("   "), agreement.ErrEmptyInput)
	require.NoError(t, s.Sign("sig-data"))

	// Backing out preserves the signature
	require.NoError(t, s.BackOut())
	assert.True(t, s.Snapshot().Signed)

	require.NoError(t, s.Submit(context.Background()))
	assert.Equal(t, purchase.PhaseSuccess, s.Phase())

	h.api.mu.Lock()
	payload := h.api.createCalls[0]
	h.api.mu.Unlock()
	assert.Equal(t, "sig-data", payload.ClientSignature)
}

func TestBeginSigning_NoAgreementOwed(t *testing.T) {
	h := newHarness()
	s := openMembership(t, h)
	err := s.BeginSigning()
	assert.True(t, purchase.IsValidation(err))
}

// --- submission ---

func TestSubmit_Success(t *testing.T) {
	h := newHarness()
	s := openMembership(t, h)

	require.NoError(t, s.Submit(context.Background()))
	assert.Equal(t, purchase.PhaseSuccess, s.Phase())
	assert.Equal(t, []string{checkoutlog.OutcomeSuccess}, h.log.outcomes())
	assert.Contains(t, h.events.eventTypes(), EventPurchaseSuccess)

	require.Len(t, h.events.receipts, 1)
	assert.Equal(t, "ana@example.com", h.events.receipts[0].To)
	assert.Equal(t, int64(12900), h.events.receipts[0].GrandTotal)
}

func TestSubmit_TransientFailureRevertsToReview(t *testing.T) {
	h := newHarness()
	s := openMembership(t, h)

	h.api.mu.Lock()
	h.api.createFn = func(purchase.CreatePayload) (CreatePurchaseResult, error) {
		return CreatePurchaseResult{}, errors.New("connection reset")
	}
	h.api.mu.Unlock()

	err := s.Submit(context.Background())
	assert.ErrorIs(t, err, purchase.ErrTransient)
	assert.Equal(t, purchase.PhaseReviewingPricing, s.Phase())

	// Nothing was lost; a retry succeeds
	h.api.mu.Lock()
	h.api.createFn = nil
	h.api.mu.Unlock()
	require.NoError(t, s.Submit(context.Background()))
	assert.Equal(t, purchase.PhaseSuccess, s.Phase())
}

func TestSubmit_RejectionInvalidatesPricing(t *testing.T) {
	h := newHarness()
	s := openMembership(t, h)

	h.api.mu.Lock()
	h.api.createFn = func(purchase.CreatePayload) (CreatePurchaseResult, error) {
		return CreatePurchaseResult{Code: 400, Message: "registration full"}, nil
	}
	h.api.mu.Unlock()

	err := s.Submit(context.Background())
	assert.True(t, purchase.IsValidation(err))
	assert.Equal(t, purchase.PhaseReviewingPricing, s.Phase())
	assert.True(t, s.Snapshot().Quote.Stale, "a rejection means our view of the order is off")
}

func TestSubmit_DuplicateWhileInFlightIsNoOp(t *testing.T) {
	h := newHarness()
	s := openMembership(t, h)

	release := make(chan struct{})
	started := make(chan struct{})
	h.api.mu.Lock()
	h.api.createFn = func(purchase.CreatePayload) (CreatePurchaseResult, error) {
		close(started)
		<-release
		return CreatePurchaseResult{Success: true, Code: 200}, nil
	}
	h.api.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- s.Submit(context.Background()) }()
	<-started

	require.NoError(t, s.Submit(context.Background()), "duplicate submit must be ignored")
	close(release)
	require.NoError(t, <-done)

	assert.Equal(t, 1, h.api.createCount(), "the backend must see exactly one create")
	assert.Equal(t, purchase.PhaseSuccess, s.Phase())
}

func TestSubmit_ProductGone(t *testing.T) {
	h := newHarness()
	s := openMembership(t, h)

	h.api.mu.Lock()
	h.api.createFn = func(purchase.CreatePayload) (CreatePurchaseResult, error) {
		return CreatePurchaseResult{Code: ErrCodeProductUnavailable, Message: "gone"}, nil
	}
	h.api.mu.Unlock()

	err := s.Submit(context.Background())
	assert.ErrorIs(t, err, purchase.ErrProductUnavailable)
	assert.Equal(t, purchase.PhaseFailed, s.Phase())
	assert.Contains(t, h.events.eventTypes(), EventPurchaseFail)
}

// --- billing recovery ---

func validCard() billing.CardUpdate {
	return billing.CardUpdate{CardNumber: "4532015112830366", ExpMonth: "12", ExpYear: "2028"}
}

func enterRecovery(t *testing.T, h *testHarness) *Session {
	t.Helper()
	s := openMembership(t, h)
	h.api.mu.Lock()
	h.api.createFn = func(purchase.CreatePayload) (CreatePurchaseResult, error) {
		return CreatePurchaseResult{Code: ErrCodePaymentMethod, Message: "card declined"}, nil
	}
	h.api.mu.Unlock()
	err := s.Submit(context.Background())
	require.ErrorIs(t, err, purchase.ErrPaymentMethod)
	require.Equal(t, purchase.PhaseBillingRecovery, s.Phase())
	return s
}

func TestBillingRecovery_UpdateAndRetrySucceeds(t *testing.T) {
	h := newHarness()
	s := enterRecovery(t, h)

	assert.Equal(t, purchase.RecoveryAwaitingBilling, s.Snapshot().RecoveryState)

	h.api.mu.Lock()
	h.api.createFn = nil // card fixed, retry will succeed
	h.api.mu.Unlock()

	require.NoError(t, s.UpdateBilling(context.Background(), validCard()))
	assert.Equal(t, purchase.PhaseSuccess, s.Phase())
	assert.Equal(t, purchase.RecoveryResolved, s.Snapshot().RecoveryState)
	assert.Equal(t, 1, h.api.billingCalls)
	assert.Equal(t, 2, h.api.createCount(), "original submit plus one automatic retry")
}

func TestBillingRecovery_RetryResubmitsSamePayload(t *testing.T) {
	h := newHarness()
	s := openMembership(t, h)
	require.NoError(t, s.ApplyDiscount(context.Background(), purchase.DiscountPromo, "SUMMER"))

	h.api.mu.Lock()
	declined := true
	h.api.createFn = func(purchase.CreatePayload) (CreatePurchaseResult, error) {
		h.api.mu.Lock()
		d := declined
		declined = false
		h.api.mu.Unlock()
		if d {
			return CreatePurchaseResult{Code: ErrCodePaymentMethod}, nil
		}
		return CreatePurchaseResult{Success: true, Code: 200}, nil
	}
	h.api.mu.Unlock()

	require.ErrorIs(t, s.Submit(context.Background()), purchase.ErrPaymentMethod)
	require.NoError(t, s.UpdateBilling(context.Background(), validCard()))

	h.api.mu.Lock()
	defer h.api.mu.Unlock()
	require.Len(t, h.api.createCalls, 2)
	assert.Equal(t, h.api.createCalls[0], h.api.createCalls[1], "the retry must resubmit exactly what failed")
}

func TestBillingRecovery_SecondDeclineEndsCheckout(t *testing.T) {
	h := newHarness()
	s := enterRecovery(t, h)

	// The card is "updated" but the backend still declines
	err := s.UpdateBilling(context.Background(), validCard())
	assert.ErrorIs(t, err, purchase.ErrRecoveryExhausted)
	assert.Equal(t, purchase.PhaseFailed, s.Phase())
	assert.Equal(t, purchase.RecoveryAbandoned, s.Snapshot().RecoveryState)
	assert.Equal(t, []string{checkoutlog.OutcomeFailed}, h.log.outcomes())
}

func TestBillingRecovery_InvalidCardNeverReachesBackend(t *testing.T) {
	h := newHarness()
	s := enterRecovery(t, h)

	bad := validCard()
	bad.CardNumber = "1234"
	err := s.UpdateBilling(context.Background(), bad)
	assert.ErrorIs(t, err, billing.ErrCardNumber)
	assert.Equal(t, 0, h.api.billingCalls)
	assert.Equal(t, purchase.PhaseBillingRecovery, s.Phase())
}

func TestBillingRecovery_SubmitBlockedUntilBillingUpdated(t *testing.T) {
	h := newHarness()
	s := enterRecovery(t, h)

	err := s.Submit(context.Background())
	var te *purchase.TransitionError
	assert.ErrorAs(t, err, &te)
}

func TestBillingRecovery_Abandon(t *testing.T) {
	h := newHarness()
	s := enterRecovery(t, h)

	require.NoError(t, s.AbandonRecovery(context.Background()))
	assert.Equal(t, purchase.PhaseFailed, s.Phase())
}

// --- cancellation ---

func TestCancel_ClosesSession(t *testing.T) {
	h := newHarness()
	s := openMembership(t, h)

	require.NoError(t, s.Cancel(context.Background()))
	assert.True(t, s.Done())
	assert.Equal(t, []string{checkoutlog.OutcomeCancelled}, h.log.outcomes())
	assert.Contains(t, h.events.eventTypes(), EventPurchaseCancel)

	assert.ErrorIs(t, s.Submit(context.Background()), purchase.ErrSessionClosed)
	assert.ErrorIs(t, s.ResolvePricing(context.Background()), purchase.ErrSessionClosed)
	assert.ErrorIs(t, s.Cancel(context.Background()), purchase.ErrSessionClosed)
}

func TestCancel_DropsInFlightSubmit(t *testing.T) {
	h := newHarness()
	s := openMembership(t, h)

	release := make(chan struct{})
	started := make(chan struct{})
	h.api.mu.Lock()
	h.api.createFn = func(purchase.CreatePayload) (CreatePurchaseResult, error) {
		close(started)
		<-release
		return CreatePurchaseResult{Success: true, Code: 200}, nil
	}
	h.api.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- s.Submit(context.Background()) }()
	<-started

	require.NoError(t, s.Cancel(context.Background()))
	close(release)

	assert.ErrorIs(t, <-done, purchase.ErrSessionClosed, "a result landing after cancel is dropped")
	assert.NotEqual(t, purchase.PhaseSuccess, s.Phase())
}

// --- start dates ---

func TestSetStartDate(t *testing.T) {
	h := newHarness()
	p := membershipProduct()
	p.AllowStartDate = true
	s, err := ExecuteOpenCheckout(context.Background(), OpenInput{Product: p, Self: self()}, h.deps())
	require.NoError(t, err)

	assert.Equal(t, "2026-05-10", s.Snapshot().StartDate, "defaults to today")

	require.NoError(t, s.SetStartDate("2026-06-01"))
	assert.Equal(t, "2026-06-01", s.Snapshot().StartDate)

	err = s.SetStartDate("2027-01-01")
	assert.True(t, purchase.IsValidation(err), "outside the window")

	s2 := openMembership(t, h)
	err = s2.SetStartDate("2026-06-01")
	assert.True(t, purchase.IsValidation(err), "product without start dates")
}
