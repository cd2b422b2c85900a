package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/avast/retry-go"

	"studiobook/internal/application/orchestrators"
	"studiobook/internal/domain/billing"
	"studiobook/internal/domain/person"
	"studiobook/internal/domain/pricing"
	"studiobook/internal/domain/product"
	"studiobook/internal/domain/purchase"
)

// Client talks to the remote studio backend over HTTPS. It implements
// orchestrators.BackendAPI. Money arrives as decimal strings and is
// converted to cents at this boundary; nothing above it sees a float.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// New creates a backend client.
// PRE: baseURL has no trailing slash; apiKey authenticates this app
func New(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

// envelope is the backend's uniform response wrapper. Code 200 means
// success; anything else carries a domain error code.
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

const codeOK = 200

// contractWire mirrors the backend's recurring-contract block.
type contractWire struct {
	FirstPaymentSubtotal string `json:"firstPaymentSubtotal"`
	FirstPaymentDiscount string `json:"firstPaymentDiscountTotal"`
	FirstPaymentTotal    string `json:"firstPaymentTotal"`
	RecurPaymentTotal    string `json:"recurPaymentTotal"`
}

// totalsWire mirrors the backend's pricing response body.
type totalsWire struct {
	SubTotal             string        `json:"subTotal"`
	SubTotalWithDiscount string        `json:"subTotalwithDiscount"`
	DiscountTotal        string        `json:"discountTotal"`
	TaxTotal             string        `json:"taxTotal"`
	GrandTotal           string        `json:"grandTotal"`
	CardAmount           string        `json:"cardAmount"`
	GiftCardAmount       string        `json:"giftCardAmount"`
	GiftCardBalance      string        `json:"giftCardBalance"`
	Contract             *contractWire `json:"contract"`
	AgreementTerms       string        `json:"contractTerms"`
}

// GetPurchaseTotal prices one product + discount combination.
// POST: a non-200 backend code comes back in the result, not as an error;
// errors mean the call itself failed
func (c *Client) GetPurchaseTotal(ctx context.Context, p orchestrators.PurchaseTotalParams) (orchestrators.PurchaseTotalResult, error) {
	body := map[string]any{
		"clientId":   p.ClientID,
		"locationId": p.LocationID,
		"productId":  p.ProductID,
		"addonIds":   p.AddOnIDs,
	}
	if p.PromoCode != "" {
		body["promoCode"] = p.PromoCode
	}
	if p.GiftCard != "" {
		body["giftCard"] = p.GiftCard
	}

	env, err := c.post(ctx, "/purchase/total", body)
	if err != nil {
		return orchestrators.PurchaseTotalResult{}, err
	}
	result := orchestrators.PurchaseTotalResult{
		Success: env.Code == codeOK,
		Code:    env.Code,
		Message: env.Message,
	}
	if !result.Success {
		return result, nil
	}

	var wire totalsWire
	if err := json.Unmarshal(env.Data, &wire); err != nil {
		return orchestrators.PurchaseTotalResult{}, fmt.Errorf("decode purchase total: %w", err)
	}
	quote, err := quoteFromWire(wire)
	if err != nil {
		return orchestrators.PurchaseTotalResult{}, err
	}
	result.Quote = quote
	return result, nil
}

func quoteFromWire(w totalsWire) (*pricing.Quote, error) {
	q := &pricing.Quote{AgreementTerms: w.AgreementTerms, ResolvedAt: time.Now()}
	fields := []struct {
		dst *int64
		src string
	}{
		{&q.SubTotal, w.SubTotal},
		{&q.SubTotalWithDiscount, w.SubTotalWithDiscount},
		{&q.DiscountTotal, w.DiscountTotal},
		{&q.TaxTotal, w.TaxTotal},
		{&q.GrandTotal, w.GrandTotal},
		{&q.CardAmount, w.CardAmount},
		{&q.GiftCardAmount, w.GiftCardAmount},
		{&q.GiftCardBalance, w.GiftCardBalance},
	}
	for _, f := range fields {
		v, err := pricing.ParseAmount(f.src)
		if err != nil {
			return nil, fmt.Errorf("parse purchase total: %w", err)
		}
		*f.dst = v
	}
	if w.Contract != nil {
		ct := &pricing.ContractTerms{}
		cfields := []struct {
			dst *int64
			src string
		}{
			{&ct.FirstPaymentSubtotal, w.Contract.FirstPaymentSubtotal},
			{&ct.FirstPaymentDiscount, w.Contract.FirstPaymentDiscount},
			{&ct.FirstPaymentTotal, w.Contract.FirstPaymentTotal},
			{&ct.RecurPaymentTotal, w.Contract.RecurPaymentTotal},
		}
		for _, f := range cfields {
			v, err := pricing.ParseAmount(f.src)
			if err != nil {
				return nil, fmt.Errorf("parse contract terms: %w", err)
			}
			*f.dst = v
		}
		q.Contract = ct
	}
	return q, nil
}

// detailsWire mirrors the backend's completed-purchase record.
type detailsWire struct {
	ProductID            int    `json:"productId"`
	ProductDescription   string `json:"productDescription"`
	SubTotal             string `json:"subTotal"`
	SubTotalWithDiscount string `json:"subTotalwithDiscount"`
	DiscountTotal        string `json:"discountTotal"`
	TaxTotal             string `json:"taxTotal"`
	GrandTotal           string `json:"grandTotal"`
}

func payloadBody(p purchase.CreatePayload) map[string]any {
	body := map[string]any{
		"clientId":       p.ClientID,
		"locationId":     p.LocationID,
		"productId":      p.ProductID,
		"registrationId": p.RegistrationID,
		"addonIds":       p.AddOnIDs,
	}
	if p.PersonClientID != nil {
		body["personClientId"] = *p.PersonClientID
		body["personId"] = p.PersonID
	}
	if p.PromoCode != "" {
		body["promoCode"] = p.PromoCode
	}
	if p.GiftCard != "" {
		body["giftCard"] = p.GiftCard
	}
	if p.ClientSignature != "" {
		body["clientSignature"] = p.ClientSignature
	}
	if p.StartDate != "" {
		body["startDate"] = p.StartDate
	}
	if p.Spot != nil {
		body["spotId"] = *p.Spot
	}
	return body
}

// CreatePurchase submits the terminal create-purchase call. Never retried
// here: the orchestration layer owns resubmission semantics.
func (c *Client) CreatePurchase(ctx context.Context, p purchase.CreatePayload) (orchestrators.CreatePurchaseResult, error) {
	return c.createAt(ctx, "/purchase/create", p)
}

// CreatePurchaseAddOns submits an add-on-only purchase against an
// existing booking.
func (c *Client) CreatePurchaseAddOns(ctx context.Context, p purchase.CreatePayload) (orchestrators.CreatePurchaseResult, error) {
	return c.createAt(ctx, "/purchase/create-addons", p)
}

func (c *Client) createAt(ctx context.Context, path string, p purchase.CreatePayload) (orchestrators.CreatePurchaseResult, error) {
	env, err := c.post(ctx, path, payloadBody(p))
	if err != nil {
		return orchestrators.CreatePurchaseResult{}, err
	}
	result := orchestrators.CreatePurchaseResult{
		Success: env.Code == codeOK,
		Code:    env.Code,
		Message: env.Message,
	}
	if !result.Success || len(env.Data) == 0 {
		return result, nil
	}

	var wire detailsWire
	if err := json.Unmarshal(env.Data, &wire); err != nil {
		return orchestrators.CreatePurchaseResult{}, fmt.Errorf("decode purchase details: %w", err)
	}
	details := &orchestrators.PurchaseDetails{
		ProductID:          wire.ProductID,
		ProductDescription: wire.ProductDescription,
	}
	fields := []struct {
		dst *int64
		src string
	}{
		{&details.SubTotal, wire.SubTotal},
		{&details.SubTotalWithDiscount, wire.SubTotalWithDiscount},
		{&details.DiscountTotal, wire.DiscountTotal},
		{&details.TaxTotal, wire.TaxTotal},
		{&details.GrandTotal, wire.GrandTotal},
	}
	for _, f := range fields {
		v, err := pricing.ParseAmount(f.src)
		if err != nil {
			return orchestrators.CreatePurchaseResult{}, fmt.Errorf("parse purchase details: %w", err)
		}
		*f.dst = v
	}
	result.Details = details
	return result, nil
}

// UpdateBilling replaces the stored payment method for a person.
func (c *Client) UpdateBilling(ctx context.Context, clientID int, personID string, card billing.CardUpdate) error {
	env, err := c.post(ctx, "/billing/update", map[string]any{
		"clientId":   clientID,
		"personId":   personID,
		"cardNumber": card.CardNumber,
		"expMonth":   card.ExpMonth,
		"expYear":    card.ExpYear,
	})
	if err != nil {
		return err
	}
	if env.Code != codeOK {
		return fmt.Errorf("billing update rejected: %s (code %d)", env.Message, env.Code)
	}
	return nil
}

// personWire mirrors one family member.
type personWire struct {
	ClientID  int    `json:"clientId"`
	PersonID  string `json:"personId"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// GetUserFamily fetches the family members attached to an account.
// Idempotent, so transient failures are retried in place.
func (c *Client) GetUserFamily(ctx context.Context, clientID int, personID string) ([]person.Person, error) {
	q := url.Values{}
	q.Set("clientId", strconv.Itoa(clientID))
	q.Set("personId", personID)

	var wires []personWire
	if err := c.getJSON(ctx, "/family", q, &wires); err != nil {
		return nil, err
	}
	people := make([]person.Person, 0, len(wires))
	for _, w := range wires {
		people = append(people, person.Person{
			ClientID:  w.ClientID,
			PersonID:  w.PersonID,
			FirstName: w.FirstName,
			LastName:  w.LastName,
		})
	}
	return people, nil
}

// addOnWire mirrors one studio add-on.
type addOnWire struct {
	ProductID int    `json:"productId"`
	Heading   string `json:"heading"`
	Price     string `json:"price"`
}

// GetStudioAddOns fetches the add-ons a studio offers alongside purchases.
func (c *Client) GetStudioAddOns(ctx context.Context, clientID, locationID int) ([]product.AddOn, error) {
	q := url.Values{}
	q.Set("clientId", strconv.Itoa(clientID))
	q.Set("locationId", strconv.Itoa(locationID))

	var wires []addOnWire
	if err := c.getJSON(ctx, "/addons", q, &wires); err != nil {
		return nil, err
	}
	addOns := make([]product.AddOn, 0, len(wires))
	for _, w := range wires {
		price, err := pricing.ParseAmount(w.Price)
		if err != nil {
			return nil, fmt.Errorf("parse add-on price: %w", err)
		}
		addOns = append(addOns, product.AddOn{
			ProductID: w.ProductID,
			Heading:   w.Heading,
			Price:     price,
			Count:     1,
		})
	}
	return addOns, nil
}

// CreateEventLog reports an analytics event.
func (c *Client) CreateEventLog(ctx context.Context, p orchestrators.EventLogParams) error {
	env, err := c.post(ctx, "/eventlog", map[string]any{
		"clientId":       p.ClientID,
		"eventType":      p.EventType,
		"personId":       p.PersonID,
		"productId":      p.ProductID,
		"registrationId": p.RegistrationID,
	})
	if err != nil {
		return err
	}
	if env.Code != codeOK {
		return fmt.Errorf("event log rejected: %s (code %d)", env.Message, env.Code)
	}
	return nil
}

// post issues one JSON POST and decodes the envelope. Write-path calls
// are never retried at this layer.
func (c *Client) post(ctx context.Context, path string, body any) (envelope, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return envelope{}, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return envelope{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

// getJSON issues a GET with a short retry for transient failures and
// decodes the envelope data into out.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	var env envelope
	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+query.Encode(), nil)
			if err != nil {
				return err
			}
			env, err = c.do(req)
			return err
		},
		retry.Attempts(3),
		retry.Delay(250*time.Millisecond),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return err
	}
	if env.Code != codeOK {
		return fmt.Errorf("backend returned code %d: %s", env.Code, env.Message)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (c *Client) do(req *http.Request) (envelope, error) {
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return envelope{}, fmt.Errorf("backend request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return envelope{}, fmt.Errorf("read backend response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return envelope{}, fmt.Errorf("backend returned HTTP %d for %s", resp.StatusCode, req.URL.Path)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return envelope{}, fmt.Errorf("decode backend envelope: %w", err)
	}
	slog.Debug("backend_call",
		"path", req.URL.Path,
		"code", env.Code,
		"duration_ms", time.Since(start).Milliseconds())
	return env, nil
}
