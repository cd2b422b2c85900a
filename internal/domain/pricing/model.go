package pricing

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ContractTerms carries the per-period breakdown for recurring products.
// All amounts are cents.
type ContractTerms struct {
	FirstPaymentSubtotal int64
	FirstPaymentDiscount int64
	FirstPaymentTotal    int64
	RecurPaymentTotal    int64
}

// Quote is the computed total for one product + discount combination.
// All amounts are cents.
type Quote struct {
	SubTotal             int64
	SubTotalWithDiscount int64
	DiscountTotal        int64
	TaxTotal             int64
	GrandTotal           int64
	CardAmount           int64
	GiftCardAmount       int64
	GiftCardBalance      int64
	Contract             *ContractTerms
	AgreementTerms       string // non-empty when a signed agreement is owed
	ResolvedAt           time.Time
}

// AgreementRequired reports whether this quote obliges the buyer to sign
// an agreement before purchase.
func (q *Quote) AgreementRequired() bool {
	return q != nil && strings.TrimSpace(q.AgreementTerms) != ""
}

// ChargeSummary describes what the buyer will actually be charged, in the
// order the original receipts present it: contract first payment, gift card
// split, then the plain grand total.
func (q *Quote) ChargeSummary() string {
	switch {
	case q.Contract != nil:
		s := fmt.Sprintf("You will be charged %s today.", FormatAmount(q.Contract.FirstPaymentTotal))
		if q.Contract.FirstPaymentDiscount > 0 {
			s += fmt.Sprintf(" A %s discount has been applied.", FormatAmount(q.Contract.FirstPaymentDiscount))
		}
		return s + fmt.Sprintf(" Your recurring payment will be %s.", FormatAmount(q.Contract.RecurPaymentTotal))
	case q.GiftCardAmount != 0:
		return fmt.Sprintf("Your gift card balance is %s. Your card will be charged %s.",
			FormatAmount(q.GiftCardBalance), FormatAmount(q.CardAmount))
	default:
		return fmt.Sprintf("You will be charged %s.", FormatAmount(q.GrandTotal))
	}
}

// ParseAmount converts a backend decimal string ("45.00", "5", "45.5")
// to cents. Empty strings parse as zero.
// PRE: s is a decimal money string with at most two fraction digits
// POST: Returns the amount in cents or an error for malformed input
func ParseAmount(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	// ParseInt alone would accept a sign inside either part ("45.-5")
	if !allDigits(whole) || (frac != "" && !allDigits(frac)) {
		return 0, fmt.Errorf("malformed amount %q", s)
	}
	dollars, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed amount %q", s)
	}
	cents := int64(0)
	if frac != "" {
		if len(frac) > 2 {
			frac = frac[:2]
		}
		for len(frac) < 2 {
			frac += "0"
		}
		cents, err = strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("malformed amount %q", s)
		}
	}
	total := dollars*100 + cents
	if neg {
		total = -total
	}
	return total, nil
}

func allDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return len(s) > 0
}

// FormatAmount renders cents as a dollar string for display and logs.
func FormatAmount(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s$%d.%02d", sign, cents/100, cents%100)
}

// Validate checks basic consistency of a quote.
// PRE: Quote was populated from a backend response
// POST: Returns error if totals are inconsistent
func (q *Quote) Validate() error {
	if q.GrandTotal < 0 {
		return errors.New("grand total cannot be negative")
	}
	if q.DiscountTotal < 0 {
		return errors.New("discount total cannot be negative")
	}
	return nil
}
