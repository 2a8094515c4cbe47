package callog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const (
	sinkMaxAttempts = 5
	sinkTimeout     = 10 * time.Second
)

// HTTPSink posts finished call records to an external endpoint.
//
// Delivery is at-least-once: the Idempotency-Key header carries the call
// uuid so the receiver can deduplicate retries. Attempts are paced by a
// rate limiter shared across calls so a flapping endpoint does not get
// hammered by every teardown at once.
type HTTPSink struct {
	url       string
	authToken string
	client    *http.Client
	limiter   *rate.Limiter
}

// NewHTTPSink creates a sink posting to url. authToken, when non-empty, is
// sent as a bearer token.
func NewHTTPSink(url, authToken string) *HTTPSink {
	return &HTTPSink{
		url:       url,
		authToken: authToken,
		client:    &http.Client{Timeout: sinkTimeout},
		// Two deliveries per second sustained, small burst for quiet periods.
		limiter: rate.NewLimiter(rate.Limit(2), 4),
	}
}

var _ Sink = (*HTTPSink)(nil)

// Deliver implements [Sink]. It retries transient failures with backoff;
// a 2xx or 409 (already recorded) reply is success.
func (s *HTTPSink) Deliver(ctx context.Context, rec *Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("callog: marshal record: %w", err)
	}

	var lastErr error
	backoff := 250 * time.Millisecond
	for attempt := 1; attempt <= sinkMaxAttempts; attempt++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("callog: sink pacing: %w", err)
		}

		lastErr = s.post(ctx, rec.CallUUID, body)
		if lastErr == nil {
			return nil
		}

		if attempt < sinkMaxAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}
	return fmt.Errorf("callog: deliver %s after %d attempts: %w",
		rec.CallUUID, sinkMaxAttempts, lastErr)
}

func (s *HTTPSink) post(ctx context.Context, callUUID string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("callog: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", callUUID)
	if s.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.authToken)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("callog: post: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusConflict:
		// The receiver already has this record.
		return nil
	default:
		return fmt.Errorf("callog: sink replied %s", resp.Status)
	}
}
