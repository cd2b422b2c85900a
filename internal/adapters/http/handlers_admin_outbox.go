package web

import (
	"net/http"
	"strconv"

	"studiobook/internal/domain/outbox"
)

// handleListOutbox lists outbox entries for the admin surface. By default
// only failed entries are shown; status=all includes everything pending.
func handleListOutbox(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}

	var entries []outbox.Entry
	var err error
	if r.URL.Query().Get("status") == "all" {
		entries, err = deps.Outbox.ListPending(ctx, limit)
	} else {
		entries, err = deps.Outbox.ListFailed(ctx, limit)
	}
	if err != nil {
		internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleRetryOutbox forces immediate delivery of one entry.
func handleRetryOutbox(w http.ResponseWriter, r *http.Request) {
	if err := deps.Processor.ProcessSingle(r.Context(), r.PathValue("id")); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "retry triggered"})
}

// handleAbandonOutbox marks one entry as permanently abandoned.
func handleAbandonOutbox(w http.ResponseWriter, r *http.Request) {
	if err := deps.Processor.AbandonEntry(r.Context(), r.PathValue("id")); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "abandoned"})
}
