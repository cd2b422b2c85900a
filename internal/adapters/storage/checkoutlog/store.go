package checkoutlog

import (
	"context"
	"time"
)

// Record is a terminal-state audit row for one checkout session.
type Record struct {
	ID            string
	SessionID     string
	ClientID      int
	PersonID      string
	ProductID     int
	ProductName   string
	Outcome       string // success, failed, cancelled
	GrandTotal    int64  // cents
	DiscountTotal int64  // cents
	Detail        string
	CreatedAt     time.Time
}

// Outcome constants.
const (
	OutcomeSuccess   = "success"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

// Store persists checkout audit records.
type Store interface {
	Save(ctx context.Context, r Record) error
	ListBySessionID(ctx context.Context, sessionID string) ([]Record, error)
	ListRecent(ctx context.Context, limit int) ([]Record, error)
}
