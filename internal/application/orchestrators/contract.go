package orchestrators

import (
	"bytes"
	"fmt"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/renderer/html"

	"studiobook/internal/domain/agreement"
)

// Agreement terms are trusted studio-authored content, so raw HTML blocks
// are rendered as-is rather than stripped.
var agreementMarkdown = goldmark.New(goldmark.WithRendererOptions(html.WithUnsafe()))

// CaptureSignatureInput carries the signature pad output.
type CaptureSignatureInput struct {
	Image string // opaque encoded signature image
}

// ExecuteCaptureSignature validates a captured signature artifact.
// PRE: the user explicitly confirmed the capture surface
// POST: Returns the signature, or agreement.ErrEmptyInput for a blank pad
func ExecuteCaptureSignature(input CaptureSignatureInput, now time.Time) (agreement.Signature, error) {
	sig := agreement.Signature{Image: input.Image, SignedAt: now}
	if err := sig.Validate(); err != nil {
		return agreement.Signature{}, err
	}
	return sig, nil
}

// RenderAgreementHTML normalizes agreement terms and renders them to HTML
// for display surfaces. Terms arriving as plain markdown and terms already
// carrying markup both pass through goldmark, which leaves raw HTML blocks
// intact.
// PRE: terms came from a pricing response
// POST: Returns rendered HTML, or empty string when no agreement is owed
func RenderAgreementHTML(terms string) (string, error) {
	a := agreement.Agreement{Terms: terms}
	if !a.Required() {
		return "", nil
	}
	var buf bytes.Buffer
	if err := agreementMarkdown.Convert([]byte(a.Normalize()), &buf); err != nil {
		return "", fmt.Errorf("render agreement: %w", err)
	}
	return buf.String(), nil
}
