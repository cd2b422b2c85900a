package checkoutlog

import (
	"context"
	"database/sql"
	"time"

	"studiobook/internal/adapters/storage"
)

const dateLayout = "2006-01-02T15:04:05.999999999Z07:00"

const recordColumns = "id, session_id, client_id, person_id, product_id, product_name, outcome, grand_total, discount_total, detail, created_at"

// SQLiteStore implements the checkout log Store using SQLite.
type SQLiteStore struct {
	db storage.SQLDB
}

// NewSQLiteStore creates a new checkout log store.
func NewSQLiteStore(db storage.SQLDB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Save persists a checkout audit record.
// PRE: r has an ID and a session ID
// POST: Record is inserted
func (s *SQLiteStore) Save(ctx context.Context, r Record) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO checkout_log ("+recordColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		r.ID, r.SessionID, r.ClientID, r.PersonID, r.ProductID, r.ProductName,
		r.Outcome, r.GrandTotal, r.DiscountTotal, r.Detail, r.CreatedAt.Format(dateLayout))
	return err
}

// ListBySessionID returns the audit trail for one session.
// PRE: sessionID is non-empty
// POST: Returns matching records oldest first
func (s *SQLiteStore) ListBySessionID(ctx context.Context, sessionID string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+recordColumns+" FROM checkout_log WHERE session_id = ? ORDER BY created_at ASC", sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

// ListRecent returns the most recent terminal checkouts.
// PRE: limit > 0
// POST: Returns up to limit records newest first
func (s *SQLiteStore) ListRecent(ctx context.Context, limit int) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+recordColumns+" FROM checkout_log ORDER BY created_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	var records []Record
	for rows.Next() {
		var r Record
		var createdAt string
		if err := rows.Scan(&r.ID, &r.SessionID, &r.ClientID, &r.PersonID, &r.ProductID,
			&r.ProductName, &r.Outcome, &r.GrandTotal, &r.DiscountTotal, &r.Detail, &createdAt); err != nil {
			return nil, err
		}
		r.CreatedAt, _ = time.Parse(dateLayout, createdAt)
		records = append(records, r)
	}
	return records, rows.Err()
}
