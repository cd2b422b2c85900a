package agreement

import (
	"errors"
	"strings"
	"time"
)

// ErrEmptyInput is returned when a signature is captured with no input.
var ErrEmptyInput = errors.New("a signature is required")

// Agreement is the legal text a buyer must sign before certain purchases.
type Agreement struct {
	Terms string // markup as delivered by the backend
}

// Normalize strips the empty paragraphs the backend pads agreements with.
func (a Agreement) Normalize() string {
	return strings.ReplaceAll(a.Terms, "<p>&nbsp;</p>", "")
}

// Required reports whether the agreement actually contains terms to sign.
func (a Agreement) Required() bool {
	return strings.TrimSpace(a.Terms) != ""
}

// Signature is the captured proof-of-consent artifact.
type Signature struct {
	Image    string // opaque encoded signature image
	SignedAt time.Time
}

// Validate checks that the signature carries input.
// PRE: Signature was produced by a capture surface
// POST: Returns ErrEmptyInput when the pad was left blank
func (s Signature) Validate() error {
	if strings.TrimSpace(s.Image) == "" {
		return ErrEmptyInput
	}
	if s.SignedAt.IsZero() {
		return errors.New("signed date must be set")
	}
	return nil
}
