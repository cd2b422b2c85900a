package billing

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

// Domain errors.
var (
	ErrCardNumber = errors.New("card number is invalid")
	ErrExpMonth   = errors.New("expiration month is invalid")
	ErrExpYear    = errors.New("expiration year is invalid")
	ErrExpired    = errors.New("expiration date must be in the future")
)

// CardUpdate carries replacement payment method details.
type CardUpdate struct {
	CardNumber string // digits, spaces allowed on input
	ExpMonth   string // "1".."12", zero padding allowed
	ExpYear    string // four digit year
}

// Normalized returns the card number with formatting spaces removed.
func (c CardUpdate) Normalized() string {
	return strings.ReplaceAll(c.CardNumber, " ", "")
}

// Validate checks the card details before they are sent to the backend.
// PRE: CardUpdate is populated from user input
// POST: Returns a domain error naming the first invalid field
// INVARIANT: Expiry must be the current month or later
func (c CardUpdate) Validate(now time.Time) error {
	number := c.Normalized()
	if len(number) < 13 || len(number) > 19 || !luhnValid(number) {
		return ErrCardNumber
	}
	month, err := strconv.Atoi(c.ExpMonth)
	if err != nil || month < 1 || month > 12 {
		return ErrExpMonth
	}
	year, err := strconv.Atoi(c.ExpYear)
	if err != nil || year < 1000 || year > 9999 {
		return ErrExpYear
	}
	if year < now.Year() || (year == now.Year() && month < int(now.Month())) {
		return ErrExpired
	}
	return nil
}

// luhnValid runs the standard mod-10 check over a digit string.
func luhnValid(number string) bool {
	sum := 0
	double := false
	for i := len(number) - 1; i >= 0; i-- {
		ch := number[i]
		if ch < '0' || ch > '9' {
			return false
		}
		d := int(ch - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}
