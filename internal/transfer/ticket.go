package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Ticket is a callback request created when a transfer could not be
// completed.
type Ticket struct {
	CallUUID    string `json:"call_uuid"`
	TenantID    string `json:"tenant_id"`
	CallerID    string `json:"caller_id"`
	CallerName  string `json:"caller_name,omitempty"`
	Destination string `json:"destination"`
	Reason      string `json:"reason,omitempty"`
}

// Ticketer creates tickets in an external system. Implementations return
// the created ticket's identifier.
type Ticketer interface {
	Create(ctx context.Context, t Ticket) (string, error)
}

// HTTPTicketer posts tickets to a configured endpoint.
type HTTPTicketer struct {
	url       string
	authToken string
	client    *http.Client
}

var _ Ticketer = (*HTTPTicketer)(nil)

// NewHTTPTicketer creates a Ticketer posting to url. authToken, when
// non-empty, is sent as a bearer token.
func NewHTTPTicketer(url, authToken string) *HTTPTicketer {
	return &HTTPTicketer{
		url:       url,
		authToken: authToken,
		client:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Create implements [Ticketer]. The endpoint replies with the ticket id in
// a JSON body {"id": "..."}.
func (h *HTTPTicketer) Create(ctx context.Context, t Ticket) (string, error) {
	body, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("transfer: marshal ticket: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("transfer: build ticket request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", t.CallUUID)
	if h.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+h.authToken)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("transfer: post ticket: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("transfer: ticket endpoint replied %s", resp.Status)
	}
	var reply struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&reply); err != nil {
		return "", fmt.Errorf("transfer: decode ticket reply: %w", err)
	}
	return reply.ID, nil
}
