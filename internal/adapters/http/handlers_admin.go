package web

import (
	"net/http"
	"strconv"

	checkoutLogStore "studiobook/internal/adapters/storage/checkoutlog"
	"studiobook/internal/domain/pricing"
)

// checkoutLogRow is one audit entry shaped for the admin surface.
type checkoutLogRow struct {
	SessionID     string `json:"sessionId"`
	ClientID      int    `json:"clientId"`
	ProductID     int    `json:"productId"`
	ProductName   string `json:"productName"`
	Outcome       string `json:"outcome"`
	GrandTotal    string `json:"grandTotal"`
	DiscountTotal string `json:"discountTotal"`
	Detail        string `json:"detail,omitempty"`
	CreatedAt     string `json:"createdAt"`
}

// handleListCheckoutLog lists recent terminal checkout outcomes, newest
// first. Optional query params: limit (default 50), session for a single
// session's history.
func handleListCheckoutLog(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			http.Error(w, "limit must be between 1 and 500", http.StatusBadRequest)
			return
		}
		limit = n
	}

	var err error
	records, err := listRecords(r, limit)
	if err != nil {
		internalError(w, err)
		return
	}

	rows := make([]checkoutLogRow, 0, len(records))
	for _, rec := range records {
		rows = append(rows, checkoutLogRow{
			SessionID:     rec.SessionID,
			ClientID:      rec.ClientID,
			ProductID:     rec.ProductID,
			ProductName:   rec.ProductName,
			Outcome:       rec.Outcome,
			GrandTotal:    pricing.FormatAmount(rec.GrandTotal),
			DiscountTotal: pricing.FormatAmount(rec.DiscountTotal),
			Detail:        rec.Detail,
			CreatedAt:     rec.CreatedAt.Format("2006-01-02 15:04:05"),
		})
	}
	writeJSON(w, http.StatusOK, rows)
}

func listRecords(r *http.Request, limit int) ([]checkoutLogStore.Record, error) {
	if sessionID := r.URL.Query().Get("session"); sessionID != "" {
		return deps.Log.ListBySessionID(r.Context(), sessionID)
	}
	return deps.Log.ListRecent(r.Context(), limit)
}
