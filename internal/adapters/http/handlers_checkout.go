package web

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"studiobook/internal/application/orchestrators"
	"studiobook/internal/domain/agreement"
	"studiobook/internal/domain/billing"
	"studiobook/internal/domain/person"
	"studiobook/internal/domain/product"
	"studiobook/internal/domain/purchase"
)

// internalError logs the real error and returns a generic message to the client.
// This prevents leaking internal details per OWASP A05.
func internalError(w http.ResponseWriter, err error) {
	slog.Error("internal_error", "error", err.Error())
	http.Error(w, "internal server error", http.StatusInternalServerError)
}

// strictDecode decodes JSON from the request body, rejecting unknown fields.
func strictDecode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// checkoutResponse is the uniform response body: the current snapshot,
// plus an error message when the operation did not go through.
type checkoutResponse struct {
	Checkout orchestrators.View `json:"checkout"`
	Error    string             `json:"error,omitempty"`
}

// writeOutcome maps a domain error onto the API's status vocabulary and
// always carries the current snapshot so the client can resync.
//
//	402 payment method failure (recoverable via billing update)
//	409 operation not allowed in the current phase
//	410 checkout is over: product gone, recovery exhausted, cancelled
//	422 rejected input, nothing lost
//	502 transient backend failure, safe to retry
func writeOutcome(w http.ResponseWriter, s *orchestrators.Session, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, checkoutResponse{Checkout: s.Snapshot()})
		return
	}
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, purchase.ErrPaymentMethod):
		status = http.StatusPaymentRequired
	case errors.Is(err, purchase.ErrRecoveryExhausted),
		errors.Is(err, purchase.ErrProductUnavailable),
		errors.Is(err, purchase.ErrSessionClosed):
		status = http.StatusGone
	case errors.Is(err, purchase.ErrTransient):
		status = http.StatusBadGateway
	case purchase.IsValidation(err),
		errors.Is(err, purchase.ErrPricingStale),
		errors.Is(err, purchase.ErrPersonRequired),
		errors.Is(err, purchase.ErrAddOnRequired),
		errors.Is(err, purchase.ErrSignatureRequired),
		errors.Is(err, agreement.ErrEmptyInput),
		errors.Is(err, billing.ErrCardNumber),
		errors.Is(err, billing.ErrExpMonth),
		errors.Is(err, billing.ErrExpYear),
		errors.Is(err, billing.ErrExpired):
		status = http.StatusUnprocessableEntity
	default:
		var te *purchase.TransitionError
		if errors.As(err, &te) {
			status = http.StatusConflict
		} else {
			internalError(w, err)
			return
		}
	}
	writeJSON(w, status, checkoutResponse{Checkout: s.Snapshot(), Error: err.Error()})
}

// lookupCheckout resolves the path id to a live session or writes 404.
func lookupCheckout(w http.ResponseWriter, r *http.Request) (*orchestrators.Session, bool) {
	s, ok := checkouts.Get(r.PathValue("id"))
	if !ok {
		http.Error(w, "checkout not found", http.StatusNotFound)
		return nil, false
	}
	return s, true
}

type openCheckoutRequest struct {
	Product struct {
		ID             int      `json:"id"`
		ClientID       int      `json:"clientId"`
		LocationID     int      `json:"locationId"`
		RegistrationID int      `json:"registrationId"`
		Kind           string   `json:"kind"`
		Name           string   `json:"name"`
		Heading        string   `json:"heading"`
		FinePrint      string   `json:"finePrint"`
		PriceCents     int64    `json:"priceCents"`
		SupportsAddOns bool     `json:"supportsAddOns"`
		AddOnsRequired bool     `json:"addOnsRequired"`
		AllowStartDate bool     `json:"allowStartDate"`
		StartDates     *struct {
			StartDate        string   `json:"startDate"`
			EndDate          string   `json:"endDate"`
			AvailableDates   []string `json:"availableDates"`
			UnavailableDates []string `json:"unavailableDates"`
		} `json:"startDates"`
	} `json:"product"`
	Self struct {
		ClientID  int    `json:"clientId"`
		PersonID  string `json:"personId"`
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
		Email     string `json:"email"`
	} `json:"self"`
	Spot *int `json:"spot"`
}

// handleOpenCheckout opens a new checkout session for a catalog product.
func handleOpenCheckout(w http.ResponseWriter, r *http.Request) {
	var req openCheckoutRequest
	if err := strictDecode(r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	var startDates *product.StartDateOptions
	if req.Product.StartDates != nil {
		startDates = &product.StartDateOptions{
			StartDate:        req.Product.StartDates.StartDate,
			EndDate:          req.Product.StartDates.EndDate,
			AvailableDates:   req.Product.StartDates.AvailableDates,
			UnavailableDates: req.Product.StartDates.UnavailableDates,
		}
	}
	input := orchestrators.OpenInput{
		Product: product.Product{
			ID:             req.Product.ID,
			ClientID:       req.Product.ClientID,
			LocationID:     req.Product.LocationID,
			RegistrationID: req.Product.RegistrationID,
			Kind:           req.Product.Kind,
			Name:           req.Product.Name,
			Heading:        req.Product.Heading,
			FinePrint:      req.Product.FinePrint,
			Price:          req.Product.PriceCents,
			SupportsAddOns: req.Product.SupportsAddOns,
			AddOnsRequired: req.Product.AddOnsRequired,
			AllowStartDate: req.Product.AllowStartDate,
			StartDates:     startDates,
		},
		Self: person.Person{
			ClientID:  req.Self.ClientID,
			PersonID:  req.Self.PersonID,
			FirstName: req.Self.FirstName,
			LastName:  req.Self.LastName,
			Email:     req.Self.Email,
		},
		Spot: req.Spot,
	}

	s, err := orchestrators.ExecuteOpenCheckout(r.Context(), input, orchestrators.SessionDeps{
		API:    deps.API,
		Events: deps.Events,
		Log:    deps.Log,
		Now:    deps.Now,
	})
	if err != nil {
		switch {
		case purchase.IsValidation(err):
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		case errors.Is(err, purchase.ErrProductUnavailable):
			http.Error(w, err.Error(), http.StatusGone)
		default:
			internalError(w, err)
		}
		return
	}

	checkouts.Put(s)
	writeJSON(w, http.StatusCreated, checkoutResponse{Checkout: s.Snapshot()})
}

func handleGetCheckout(w http.ResponseWriter, r *http.Request) {
	s, ok := lookupCheckout(w, r)
	if !ok {
		return
	}
	writeOutcome(w, s, nil)
}

func handleCancelCheckout(w http.ResponseWriter, r *http.Request) {
	s, ok := lookupCheckout(w, r)
	if !ok {
		return
	}
	err := s.Cancel(r.Context())
	checkouts.Delete(s.ID())
	writeOutcome(w, s, err)
}

type selectPersonRequest struct {
	Myself   bool   `json:"myself"`
	ClientID int    `json:"clientId"`
	PersonID string `json:"personId"`
}

func handleSelectPerson(w http.ResponseWriter, r *http.Request) {
	s, ok := lookupCheckout(w, r)
	if !ok {
		return
	}
	var req selectPersonRequest
	if err := strictDecode(r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	var err error
	if req.Myself {
		err = s.ContinueMyself(r.Context())
	} else {
		err = s.SelectPerson(r.Context(), person.Person{ClientID: req.ClientID, PersonID: req.PersonID})
	}
	writeOutcome(w, s, err)
}

type toggleAddOnRequest struct {
	ProductID int `json:"productId"`
}

func handleToggleAddOn(w http.ResponseWriter, r *http.Request) {
	s, ok := lookupCheckout(w, r)
	if !ok {
		return
	}
	var req toggleAddOnRequest
	if err := strictDecode(r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	writeOutcome(w, s, s.ToggleAddOn(req.ProductID))
}

type confirmAddOnsRequest struct {
	Skip bool `json:"skip"`
}

func handleConfirmAddOns(w http.ResponseWriter, r *http.Request) {
	s, ok := lookupCheckout(w, r)
	if !ok {
		return
	}
	var req confirmAddOnsRequest
	if err := strictDecode(r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	var err error
	if req.Skip {
		err = s.SkipAddOns(r.Context())
	} else {
		err = s.ContinueAddOns(r.Context())
	}
	writeOutcome(w, s, err)
}

type discountRequest struct {
	Kind string `json:"kind"`
	Code string `json:"code"`
}

func handleApplyDiscount(w http.ResponseWriter, r *http.Request) {
	s, ok := lookupCheckout(w, r)
	if !ok {
		return
	}
	var req discountRequest
	if err := strictDecode(r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	writeOutcome(w, s, s.ApplyDiscount(r.Context(), req.Kind, req.Code))
}

func handleClearDiscount(w http.ResponseWriter, r *http.Request) {
	s, ok := lookupCheckout(w, r)
	if !ok {
		return
	}
	writeOutcome(w, s, s.ClearDiscount(r.Context()))
}

func handleResolvePricing(w http.ResponseWriter, r *http.Request) {
	s, ok := lookupCheckout(w, r)
	if !ok {
		return
	}
	writeOutcome(w, s, s.ResolvePricing(r.Context()))
}

type startDateRequest struct {
	Date string `json:"date"`
}

func handleSetStartDate(w http.ResponseWriter, r *http.Request) {
	s, ok := lookupCheckout(w, r)
	if !ok {
		return
	}
	var req startDateRequest
	if err := strictDecode(r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	writeOutcome(w, s, s.SetStartDate(req.Date))
}

func handleBeginSigning(w http.ResponseWriter, r *http.Request) {
	s, ok := lookupCheckout(w, r)
	if !ok {
		return
	}
	writeOutcome(w, s, s.BeginSigning())
}

type signatureRequest struct {
	Image string `json:"image"`
}

func handleSignature(w http.ResponseWriter, r *http.Request) {
	s, ok := lookupCheckout(w, r)
	if !ok {
		return
	}
	var req signatureRequest
	if err := strictDecode(r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	writeOutcome(w, s, s.Sign(req.Image))
}

func handleBackOut(w http.ResponseWriter, r *http.Request) {
	s, ok := lookupCheckout(w, r)
	if !ok {
		return
	}
	writeOutcome(w, s, s.BackOut())
}

func handleSubmit(w http.ResponseWriter, r *http.Request) {
	s, ok := lookupCheckout(w, r)
	if !ok {
		return
	}
	writeOutcome(w, s, s.Submit(r.Context()))
}

type billingRequest struct {
	CardNumber string `json:"cardNumber"`
	ExpMonth   string `json:"expMonth"`
	ExpYear    string `json:"expYear"`
}

func handleUpdateBilling(w http.ResponseWriter, r *http.Request) {
	s, ok := lookupCheckout(w, r)
	if !ok {
		return
	}
	var req billingRequest
	if err := strictDecode(r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	card := billing.CardUpdate{
		CardNumber: req.CardNumber,
		ExpMonth:   req.ExpMonth,
		ExpYear:    req.ExpYear,
	}
	writeOutcome(w, s, s.UpdateBilling(r.Context(), card))
}

func handleAbandonRecovery(w http.ResponseWriter, r *http.Request) {
	s, ok := lookupCheckout(w, r)
	if !ok {
		return
	}
	writeOutcome(w, s, s.AbandonRecovery(r.Context()))
}
