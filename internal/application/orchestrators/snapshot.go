package orchestrators

import (
	"log/slog"
	"time"

	"studiobook/internal/domain/pricing"
	"studiobook/internal/domain/purchase"
)

// PersonView is one selectable person in the snapshot.
type PersonView struct {
	ClientID int    `json:"clientId"`
	PersonID string `json:"personId"`
	Name     string `json:"name"`
	IsSelf   bool   `json:"isSelf"`
}

// AddOnView is one add-on in the snapshot, with selection state.
type AddOnView struct {
	ProductID int    `json:"productId"`
	Heading   string `json:"heading"`
	Price     string `json:"price"`
	Selected  bool   `json:"selected"`
}

// StartDateView is the allowed contract start date window.
type StartDateView struct {
	StartDate        string   `json:"startDate"`
	EndDate          string   `json:"endDate"`
	AvailableDates   []string `json:"availableDates,omitempty"`
	UnavailableDates []string `json:"unavailableDates,omitempty"`
}

// ContractView is the recurring-payment breakdown.
type ContractView struct {
	FirstPaymentSubtotal string `json:"firstPaymentSubtotal"`
	FirstPaymentDiscount string `json:"firstPaymentDiscount"`
	FirstPaymentTotal    string `json:"firstPaymentTotal"`
	RecurPaymentTotal    string `json:"recurPaymentTotal"`
}

// QuoteView is the pricing breakdown, amounts formatted for display with
// the raw cents alongside.
type QuoteView struct {
	SubTotal             string        `json:"subTotal"`
	SubTotalWithDiscount string        `json:"subTotalWithDiscount"`
	DiscountTotal        string        `json:"discountTotal"`
	TaxTotal             string        `json:"taxTotal"`
	GrandTotal           string        `json:"grandTotal"`
	GrandTotalCents      int64         `json:"grandTotalCents"`
	CardAmount           string        `json:"cardAmount,omitempty"`
	GiftCardAmount       string        `json:"giftCardAmount,omitempty"`
	GiftCardBalance      string        `json:"giftCardBalance,omitempty"`
	Contract             *ContractView `json:"contract,omitempty"`
	ChargeSummary        string        `json:"chargeSummary"`
	Stale                bool          `json:"stale"`
}

// View is the full snapshot of a checkout session, shaped for the JSON
// surface. It is a copy: mutating it never touches the session.
type View struct {
	SessionID         string         `json:"sessionId"`
	Phase             string         `json:"phase"`
	Closed            bool           `json:"closed"`
	ProductID         int            `json:"productId"`
	ProductName       string         `json:"productName"`
	ProductKind       string         `json:"productKind"`
	Eligible          []PersonView   `json:"eligible,omitempty"`
	SelectedPerson    *PersonView    `json:"selectedPerson,omitempty"`
	AddOns            []AddOnView    `json:"addOns,omitempty"`
	Quote             *QuoteView     `json:"quote,omitempty"`
	AgreementRequired bool           `json:"agreementRequired"`
	AgreementHTML     string         `json:"agreementHtml,omitempty"`
	Signed            bool           `json:"signed"`
	DiscountKind      string         `json:"discountKind,omitempty"`
	DiscountCode      string         `json:"discountCode,omitempty"`
	StartDate         string         `json:"startDate,omitempty"`
	StartDates        *StartDateView `json:"startDates,omitempty"`
	RecoveryState     string         `json:"recoveryState,omitempty"`
	OpenedAt          time.Time      `json:"openedAt"`
}

// Snapshot returns the current state of the session.
func (s *Session) Snapshot() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.pending
	v := View{
		SessionID:   p.SessionID,
		Phase:       p.Phase,
		Closed:      s.closed,
		ProductID:   p.Product.ID,
		ProductName: p.Product.DisplayName(),
		ProductKind: p.Product.Kind,
		Signed:      p.Signature != "",
		StartDate:   p.StartDate,
		OpenedAt:    p.OpenedAt,
	}
	if p.Product.AllowStartDate && p.Product.StartDates != nil {
		v.StartDates = &StartDateView{
			StartDate:        p.Product.StartDates.StartDate,
			EndDate:          p.Product.StartDates.EndDate,
			AvailableDates:   p.Product.StartDates.AvailableDates,
			UnavailableDates: p.Product.StartDates.UnavailableDates,
		}
	}
	for _, e := range s.eligible {
		v.Eligible = append(v.Eligible, PersonView{
			ClientID: e.ClientID,
			PersonID: e.PersonID,
			Name:     e.DisplayName(),
			IsSelf:   e.Same(p.Self),
		})
	}
	if p.TargetPerson != nil {
		v.SelectedPerson = &PersonView{
			ClientID: p.TargetPerson.ClientID,
			PersonID: p.TargetPerson.PersonID,
			Name:     p.TargetPerson.DisplayName(),
			IsSelf:   p.TargetPerson.Same(p.Self),
		}
	}
	selected := make(map[int]bool, len(p.AddOns))
	for _, a := range p.AddOns {
		selected[a.ProductID] = true
	}
	for _, a := range s.addOnMenu {
		v.AddOns = append(v.AddOns, AddOnView{
			ProductID: a.ProductID,
			Heading:   a.Heading,
			Price:     pricing.FormatAmount(a.Price),
			Selected:  selected[a.ProductID],
		})
	}
	if p.Discount != nil {
		v.DiscountKind = p.Discount.Kind
		v.DiscountCode = p.Discount.Code
	}
	if p.Retry != nil {
		v.RecoveryState = p.Retry.State
	}
	if q := p.Quote; q != nil {
		v.Quote = quoteView(q, p.PricingStale)
		v.AgreementRequired = q.AgreementRequired()
		if v.AgreementRequired {
			html, err := RenderAgreementHTML(q.AgreementTerms)
			if err != nil {
				slog.Error("agreement_render_failed", "session_id", p.SessionID, "error", err.Error())
			} else {
				v.AgreementHTML = html
			}
		}
	}
	return v
}

func quoteView(q *pricing.Quote, stale bool) *QuoteView {
	v := &QuoteView{
		SubTotal:             pricing.FormatAmount(q.SubTotal),
		SubTotalWithDiscount: pricing.FormatAmount(q.SubTotalWithDiscount),
		DiscountTotal:        pricing.FormatAmount(q.DiscountTotal),
		TaxTotal:             pricing.FormatAmount(q.TaxTotal),
		GrandTotal:           pricing.FormatAmount(q.GrandTotal),
		GrandTotalCents:      q.GrandTotal,
		ChargeSummary:        q.ChargeSummary(),
		Stale:                stale,
	}
	if q.GiftCardAmount != 0 {
		v.CardAmount = pricing.FormatAmount(q.CardAmount)
		v.GiftCardAmount = pricing.FormatAmount(q.GiftCardAmount)
		v.GiftCardBalance = pricing.FormatAmount(q.GiftCardBalance)
	}
	if q.Contract != nil {
		v.Contract = &ContractView{
			FirstPaymentSubtotal: pricing.FormatAmount(q.Contract.FirstPaymentSubtotal),
			FirstPaymentDiscount: pricing.FormatAmount(q.Contract.FirstPaymentDiscount),
			FirstPaymentTotal:    pricing.FormatAmount(q.Contract.FirstPaymentTotal),
			RecurPaymentTotal:    pricing.FormatAmount(q.Contract.RecurPaymentTotal),
		}
	}
	return v
}

// Phase returns the current phase without the full snapshot copy.
func (s *Session) Phase() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending.Phase
}

// ID returns the session id.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending.SessionID
}

// Done reports whether the session reached a terminal phase or was
// cancelled.
func (s *Session) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed || purchase.Terminal(s.pending.Phase)
}
