package product

import (
	"errors"
	"time"
)

// Kind constants for the purchasable product types.
const (
	KindClass       = "class"
	KindAppointment = "appointment"
	KindPackage     = "package"
	KindMembership  = "membership"
)

// MaxStartDateWindowDays bounds how far out a contract start date may be chosen.
const MaxStartDateWindowDays = 60

const dateLayout = "2006-01-02"

// StartDateOptions describes the allowed contract start dates for a product.
// An empty AvailableDates list means any date inside the window is allowed
// unless it appears in UnavailableDates.
type StartDateOptions struct {
	StartDate        string // YYYY-MM-DD, earliest allowed
	EndDate          string // YYYY-MM-DD, latest allowed
	AvailableDates   []string
	UnavailableDates []string
}

// Product holds state for the item being booked or bought.
type Product struct {
	ID             int
	ClientID       int
	LocationID     int
	RegistrationID int // class/appointment registration, 0 when not applicable
	Kind           string
	Name           string
	Heading        string
	FinePrint      string
	Price          int64 // cents
	SupportsAddOns bool
	AddOnsRequired bool
	AllowStartDate bool
	StartDates     *StartDateOptions
}

// AddOn is an optional secondary product purchasable alongside the primary one.
type AddOn struct {
	ProductID int
	Heading   string
	Price     int64 // cents
	Count     int
}

// Validate checks if the Product has valid data.
// PRE: Product struct is initialized
// POST: Returns error if validation fails, nil otherwise
func (p *Product) Validate() error {
	if p.ID == 0 {
		return errors.New("product id must be set")
	}
	if p.ClientID == 0 {
		return errors.New("product client id must be set")
	}
	switch p.Kind {
	case KindClass, KindAppointment, KindPackage, KindMembership:
	default:
		return errors.New("unknown product kind")
	}
	if p.Price < 0 {
		return errors.New("price cannot be negative")
	}
	return nil
}

// RequiresPersonSelection reports whether this product is booked for a
// specific person (self or a family member).
func (p *Product) RequiresPersonSelection() bool {
	return p.Kind == KindClass || p.Kind == KindAppointment
}

// DisplayName returns the heading when set, falling back to the name.
func (p *Product) DisplayName() string {
	if p.Heading != "" {
		return p.Heading
	}
	return p.Name
}

// StartDateAllowed reports whether the given date may be chosen as a
// contract start date. Days are compared in UTC; the window opens one
// day before the UTC day so a buyer west of UTC can still pick their
// local today.
// PRE: date is YYYY-MM-DD
// POST: Returns false for dates outside the option window or past dates
// INVARIANT: Start dates are never more than MaxStartDateWindowDays out
func (p *Product) StartDateAllowed(date string, now time.Time) bool {
	if !p.AllowStartDate {
		return false
	}
	day, err := time.Parse(dateLayout, date)
	if err != nil {
		return false
	}
	today := now.Truncate(24 * time.Hour)
	if day.Before(today.Add(-24 * time.Hour)) {
		return false
	}
	if day.After(today.AddDate(0, 0, MaxStartDateWindowDays)) {
		return false
	}
	opts := p.StartDates
	if opts == nil {
		return true
	}
	if opts.StartDate != "" {
		if min, err := time.Parse(dateLayout, opts.StartDate); err == nil && day.Before(min) {
			return false
		}
	}
	if opts.EndDate != "" {
		if max, err := time.Parse(dateLayout, opts.EndDate); err == nil && day.After(max) {
			return false
		}
	}
	for _, d := range opts.UnavailableDates {
		if d == date {
			return false
		}
	}
	if len(opts.AvailableDates) > 0 {
		for _, d := range opts.AvailableDates {
			if d == date {
				return true
			}
		}
		return false
	}
	return true
}

// DefaultStartDate returns the first available date, or today when the
// product does not constrain start dates.
func (p *Product) DefaultStartDate(now time.Time) string {
	if p.StartDates != nil && len(p.StartDates.AvailableDates) > 0 {
		return p.StartDates.AvailableDates[0]
	}
	return now.Format(dateLayout)
}
