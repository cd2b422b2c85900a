package orchestrators

import (
	"context"

	"studiobook/internal/domain/billing"
	"studiobook/internal/domain/person"
	"studiobook/internal/domain/pricing"
	"studiobook/internal/domain/product"
	"studiobook/internal/domain/purchase"
)

// Error codes surfaced in studio backend responses.
const (
	// ErrCodePaymentMethod means the stored payment method is required or
	// invalid. It is the only code that routes into billing recovery.
	ErrCodePaymentMethod = 508

	// ErrCodeProductUnavailable means the product no longer exists at the
	// studio. Terminal for the checkout.
	ErrCodeProductUnavailable = 410
)

// PurchaseTotalParams identifies one product + discount combination to price.
type PurchaseTotalParams struct {
	ClientID   int
	LocationID int
	ProductID  int
	AddOnIDs   []int
	PromoCode  string
	GiftCard   string
}

// PurchaseTotalResult is the backend's pricing response. Quote is set only
// when Success is true.
type PurchaseTotalResult struct {
	Success bool
	Code    int
	Message string
	Quote   *pricing.Quote
}

// PurchaseDetails is the backend's record of a completed purchase.
type PurchaseDetails struct {
	ProductID            int
	ProductDescription   string
	SubTotal             int64
	SubTotalWithDiscount int64
	DiscountTotal        int64
	TaxTotal             int64
	GrandTotal           int64
}

// CreatePurchaseResult is the backend's response to a create-purchase call.
type CreatePurchaseResult struct {
	Success bool
	Code    int
	Message string
	Details *PurchaseDetails
}

// EventLogParams describes one fire-and-forget analytics event.
type EventLogParams struct {
	ClientID       int
	EventType      string
	PersonID       string
	ProductID      int
	RegistrationID int
}

// BackendAPI is the narrow contract to the remote studio backend. The
// orchestration core never reaches the network except through it.
type BackendAPI interface {
	GetPurchaseTotal(ctx context.Context, p PurchaseTotalParams) (PurchaseTotalResult, error)
	CreatePurchase(ctx context.Context, payload purchase.CreatePayload) (CreatePurchaseResult, error)
	CreatePurchaseAddOns(ctx context.Context, payload purchase.CreatePayload) (CreatePurchaseResult, error)
	UpdateBilling(ctx context.Context, clientID int, personID string, card billing.CardUpdate) error
	GetUserFamily(ctx context.Context, clientID int, personID string) ([]person.Person, error)
	GetStudioAddOns(ctx context.Context, clientID, locationID int) ([]product.AddOn, error)
	CreateEventLog(ctx context.Context, p EventLogParams) error
}

// PayloadBuilder parameterizes the terminal create call so the standard
// purchase flow and the add-on-only flow share one orchestration core.
type PayloadBuilder interface {
	// Build assembles the create payload from the pending record.
	Build(p *purchase.Pending) purchase.CreatePayload
	// Submit issues the terminal backend call for this payload shape.
	Submit(ctx context.Context, api BackendAPI, payload purchase.CreatePayload) (CreatePurchaseResult, error)
}

// StandardPurchase is the default builder: the primary product plus any
// selected add-ons in one create-purchase call.
type StandardPurchase struct{}

// Build assembles the standard create payload.
func (StandardPurchase) Build(p *purchase.Pending) purchase.CreatePayload {
	return p.BuildPayload()
}

// Submit issues the create-purchase call.
func (StandardPurchase) Submit(ctx context.Context, api BackendAPI, payload purchase.CreatePayload) (CreatePurchaseResult, error) {
	return api.CreatePurchase(ctx, payload)
}

// AddOnPurchase buys add-ons against an existing booking without a primary
// product charge.
type AddOnPurchase struct{}

// Build assembles the add-on payload. The signature and start date never
// apply to add-on-only purchases.
func (AddOnPurchase) Build(p *purchase.Pending) purchase.CreatePayload {
	payload := p.BuildPayload()
	payload.ClientSignature = ""
	payload.StartDate = ""
	return payload
}

// Submit issues the create-purchase-addons call.
func (AddOnPurchase) Submit(ctx context.Context, api BackendAPI, payload purchase.CreatePayload) (CreatePurchaseResult, error) {
	return api.CreatePurchaseAddOns(ctx, payload)
}
