// Package admin exposes the operator-facing HTTP API: undelivered messages,
// recent call records, and tenant upserts. It is mounted next to the health
// and metrics endpoints and carries no call-path traffic.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/voxsec/voxsec/internal/callog"
	"github.com/voxsec/voxsec/internal/config"
	"github.com/voxsec/voxsec/internal/store"
)

const defaultRecordLimit = 50

// Directory is the slice of the store the admin API needs. *store.Store
// satisfies it.
type Directory interface {
	UndeliveredMessages(ctx context.Context, tenantID string) ([]store.Message, error)
	MarkMessageDelivered(ctx context.Context, id int64) error
	RecentRecords(ctx context.Context, tenantID string, limit int) ([]callog.Record, error)
	UpsertTenant(ctx context.Context, t *config.Tenant) error
}

// Handler returns the admin API rooted at /admin/.
func Handler(d Directory) http.Handler {
	mux := http.NewServeMux()
	a := &api{dir: d}
	mux.HandleFunc("GET /admin/tenants/{tenant}/messages", a.listMessages)
	mux.HandleFunc("POST /admin/messages/{id}/delivered", a.markDelivered)
	mux.HandleFunc("GET /admin/tenants/{tenant}/calls", a.listCalls)
	mux.HandleFunc("PUT /admin/tenants/{tenant}", a.upsertTenant)
	return mux
}

type api struct {
	dir Directory
}

func (a *api) listMessages(w http.ResponseWriter, r *http.Request) {
	tenant := r.PathValue("tenant")
	msgs, err := a.dir.UndeliveredMessages(r.Context(), tenant)
	if err != nil {
		fail(w, "list messages", err)
		return
	}
	if msgs == nil {
		msgs = []store.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (a *api) markDelivered(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "message id must be an integer", http.StatusBadRequest)
		return
	}
	if err := a.dir.MarkMessageDelivered(r.Context(), id); err != nil {
		fail(w, "mark delivered", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"delivered": id})
}

func (a *api) listCalls(w http.ResponseWriter, r *http.Request) {
	tenant := r.PathValue("tenant")
	limit := defaultRecordLimit
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 1 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	recs, err := a.dir.RecentRecords(r.Context(), tenant, limit)
	if err != nil {
		fail(w, "list calls", err)
		return
	}
	if recs == nil {
		recs = []callog.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"calls": recs})
}

func (a *api) upsertTenant(w http.ResponseWriter, r *http.Request) {
	var t config.Tenant
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		http.Error(w, "tenant body is not valid json", http.StatusBadRequest)
		return
	}
	// The path is authoritative for the id; a mismatching body is rejected
	// rather than silently rewritten.
	id := r.PathValue("tenant")
	if t.ID == "" {
		t.ID = id
	} else if t.ID != id {
		http.Error(w, "tenant id in body does not match path", http.StatusBadRequest)
		return
	}
	if err := a.dir.UpsertTenant(r.Context(), &t); err != nil {
		fail(w, "upsert tenant", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tenant": t.ID})
}

func fail(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	slog.Error("admin: "+op, "err", err)
	http.Error(w, "store unavailable", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Debug("admin: encode response", "err", err)
	}
}
