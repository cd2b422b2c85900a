package web

import (
	"crypto/rand"
	"encoding/hex"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"studiobook/internal/adapters/http/middleware"
	checkoutLogStore "studiobook/internal/adapters/storage/checkoutlog"
	outboxStore "studiobook/internal/adapters/storage/outbox"
	"studiobook/internal/application/orchestrators"
)

// Deps holds the collaborators handlers need.
type Deps struct {
	API       orchestrators.BackendAPI
	Events    orchestrators.EventRecorder
	Log       checkoutLogStore.Store
	Outbox    outboxStore.Store
	Processor *orchestrators.Processor
	Now       func() time.Time
}

// loadCSRFKey reads the CSRF secret from STUDIOBOOK_CSRF_KEY (hex-encoded, 32 bytes).
// In production, the key MUST be set. In development, a random key is generated per startup.
func loadCSRFKey() []byte {
	if keyHex := os.Getenv("STUDIOBOOK_CSRF_KEY"); keyHex != "" {
		key, err := hex.DecodeString(keyHex)
		if err != nil || len(key) != 32 {
			log.Fatal("STUDIOBOOK_CSRF_KEY must be 64 hex characters (32 bytes)")
		}
		return key
	}
	if os.Getenv("STUDIOBOOK_ENV") == "production" {
		log.Fatal("STUDIOBOOK_CSRF_KEY is required in production")
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		log.Fatalf("failed to generate CSRF key: %v", err)
	}
	log.Println("WARNING: using random CSRF key. Set STUDIOBOOK_CSRF_KEY for production.")
	return key
}

// Global deps instance (set by NewMux)
var deps *Deps

// Global checkout registry instance (set by NewMux)
var checkouts *Registry

// RateLimitPerSecond controls the per-IP rate limit. Tests can increase this.
var RateLimitPerSecond = 10

// NewMux wires HTTP handlers for the service.
func NewMux(d *Deps) http.Handler {
	deps = d
	if deps.Now == nil {
		deps.Now = time.Now
	}
	checkouts = NewRegistry()

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	registerRoutes(mux)

	// CSRF key: 32-byte hex-encoded secret from env var
	csrfKey := loadCSRFKey()

	// Rate limiter: configurable requests per second per IP (OWASP A04)
	limiter := middleware.NewRateLimiter(RateLimitPerSecond, time.Second)

	// Apply middleware: SecurityHeaders -> CSRF -> RateLimit -> Timing -> Mux
	return middleware.Chain(mux,
		middleware.SecurityHeaders,
		middleware.CSRF(csrfKey),
		middleware.RateLimit(limiter),
		middleware.Timing,
	)
}

// registerRoutes maps the checkout API onto the mux.
func registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/checkout", handleOpenCheckout)
	mux.HandleFunc("GET /api/checkout/{id}", handleGetCheckout)
	mux.HandleFunc("DELETE /api/checkout/{id}", handleCancelCheckout)
	mux.HandleFunc("POST /api/checkout/{id}/person", handleSelectPerson)
	mux.HandleFunc("POST /api/checkout/{id}/addons", handleToggleAddOn)
	mux.HandleFunc("POST /api/checkout/{id}/addons/confirm", handleConfirmAddOns)
	mux.HandleFunc("POST /api/checkout/{id}/discount", handleApplyDiscount)
	mux.HandleFunc("DELETE /api/checkout/{id}/discount", handleClearDiscount)
	mux.HandleFunc("POST /api/checkout/{id}/pricing", handleResolvePricing)
	mux.HandleFunc("POST /api/checkout/{id}/startdate", handleSetStartDate)
	mux.HandleFunc("POST /api/checkout/{id}/signing", handleBeginSigning)
	mux.HandleFunc("POST /api/checkout/{id}/signature", handleSignature)
	mux.HandleFunc("POST /api/checkout/{id}/signing/back", handleBackOut)
	mux.HandleFunc("POST /api/checkout/{id}/submit", handleSubmit)
	mux.HandleFunc("POST /api/checkout/{id}/billing", handleUpdateBilling)
	mux.HandleFunc("POST /api/checkout/{id}/billing/abandon", handleAbandonRecovery)
	mux.HandleFunc("GET /api/admin/checkouts", handleListCheckoutLog)
	mux.HandleFunc("GET /api/admin/outbox", handleListOutbox)
	mux.HandleFunc("POST /api/admin/outbox/{id}/retry", handleRetryOutbox)
	mux.HandleFunc("POST /api/admin/outbox/{id}/abandon", handleAbandonOutbox)
}
