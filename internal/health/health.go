// Package health serves the liveness and readiness probes for the call
// server.
//
// /healthz answers 200 whenever the process can serve HTTP at all. /readyz
// additionally probes the call path's dependencies: the switch control
// channel and, when configured, the record store. A server that lost its
// switch connection must drop out of the load balancer even though the
// process itself is fine.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// probeTimeout caps a single dependency probe. Readiness is polled often,
// so a hanging dependency must not stall the endpoint.
const probeTimeout = 3 * time.Second

// Checker probes one dependency of the call path.
type Checker struct {
	// Name keys the probe's verdict in the response ("switch", "database").
	Name string

	// Check returns nil while the dependency can carry calls. It must
	// honor ctx.
	Check func(ctx context.Context) error
}

// report is the JSON body of both probe endpoints.
type report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler answers the probe endpoints. The checker set is fixed at
// construction; the handler itself is stateless.
type Handler struct {
	checkers []Checker
}

// New builds a Handler over the given dependency probes. /readyz runs them
// in order on every request.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Healthz reports process liveness. Reaching the handler is the check.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	respond(w, http.StatusOK, report{Status: "ok"})
}

// Readyz reports whether the server could take a call right now. Any failing
// probe turns the verdict to 503 with the failure spelled out per check.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	rep := report{Status: "ok", Checks: make(map[string]string, len(h.checkers))}
	code := http.StatusOK

	for _, c := range h.checkers {
		if err := h.probe(r.Context(), c); err != nil {
			rep.Checks[c.Name] = "fail: " + err.Error()
			rep.Status = "fail"
			code = http.StatusServiceUnavailable
		} else {
			rep.Checks[c.Name] = "ok"
		}
	}
	respond(w, code, rep)
}

func (h *Handler) probe(ctx context.Context, c Checker) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	return c.Check(ctx)
}

// Register mounts both probes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func respond(w http.ResponseWriter, status int, rep report) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(rep); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
