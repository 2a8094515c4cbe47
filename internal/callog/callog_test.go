package callog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/voxsec/voxsec/internal/bus"
)

type captureSink struct {
	mu      sync.Mutex
	records []*Record
	err     error
}

func (s *captureSink) Deliver(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, rec)
	return nil
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func testMeta() Meta {
	return Meta{
		CallUUID:    "uuid-1",
		TenantID:    "acme",
		SecretaryID: "reception",
		CallerID:    "+49301234567",
		CallerName:  "Schmidt",
	}
}

func TestLogger_AccumulatesTimelineFromBus(t *testing.T) {
	b := bus.New("call-1")
	defer b.Close()
	sink := &captureSink{}
	l := NewLogger(b, testMeta(), sink)

	b.Publish(bus.Event{Kind: bus.CallConnected, Source: "switch"})
	b.Publish(bus.Event{Kind: bus.StateChanged, Payload: map[string]any{"new": "active.listening"}})
	b.Publish(bus.Event{Kind: bus.UserDTMF, Payload: map[string]any{"digit": "1"}})
	// Audio chunk kinds are deliberately not recorded: too hot.
	b.Publish(bus.Event{Kind: bus.AIAudioChunk})

	rec := l.Snapshot()
	if len(rec.Events) != 3 {
		t.Fatalf("timeline = %d events, want 3", len(rec.Events))
	}
	if rec.Events[0].Kind != "call.connected" {
		t.Errorf("events[0] = %s", rec.Events[0].Kind)
	}
	if rec.Events[2].Data["digit"] != "1" {
		t.Errorf("dtmf data = %v", rec.Events[2].Data)
	}
}

func TestLogger_HarvestsToolInvocations(t *testing.T) {
	b := bus.New("call-1")
	defer b.Close()
	l := NewLogger(b, testMeta(), nil)

	b.Publish(bus.Event{Kind: bus.ToolCompleted, Payload: map[string]any{
		"tool": "take_message", "input": `{"caller_name":"X"}`, "output": `{"status":"ok"}`,
		"duration_ms": int64(12), "success": true,
	}})
	b.Publish(bus.Event{Kind: bus.ToolFailed, Payload: map[string]any{
		"tool": "request_handoff", "input": "{}", "output": `{"status":"error"}`,
		"duration_ms": int64(3), "success": false,
	}})

	rec := l.Snapshot()
	if len(rec.Tools) != 2 {
		t.Fatalf("tools = %d, want 2", len(rec.Tools))
	}
	if rec.Tools[0].Name != "take_message" || !rec.Tools[0].Success {
		t.Errorf("tools[0] = %+v", rec.Tools[0])
	}
	if rec.Tools[0].DurationMS != 12 {
		t.Errorf("tools[0].duration = %d", rec.Tools[0].DurationMS)
	}
	if rec.Tools[1].Name != "request_handoff" || rec.Tools[1].Success {
		t.Errorf("tools[1] = %+v", rec.Tools[1])
	}
}

func TestLogger_FinishFlushesExactlyOnce(t *testing.T) {
	b := bus.New("call-1")
	defer b.Close()
	sink := &captureSink{}
	l := NewLogger(b, testMeta(), sink)

	l.SetFinalState("ended")
	l.SetOutcome(OutcomeMessageTaken)
	l.AddMetric("frames_in", 1200)

	l.Finish(context.Background())
	l.Finish(context.Background())
	l.Finish(context.Background())

	if sink.count() != 1 {
		t.Fatalf("sink received %d records, want exactly 1", sink.count())
	}
	rec := sink.records[0]
	if rec.Outcome != OutcomeMessageTaken {
		t.Errorf("outcome = %q", rec.Outcome)
	}
	if rec.FinalState != "ended" {
		t.Errorf("final_state = %q", rec.FinalState)
	}
	if rec.Metrics["frames_in"] != 1200 {
		t.Errorf("metrics = %v", rec.Metrics)
	}
	if rec.DurationMS < 0 {
		t.Errorf("duration_ms = %d", rec.DurationMS)
	}
	if rec.EndedAt.Before(rec.StartedAt) {
		t.Error("ended_at before started_at")
	}
}

func TestLogger_IgnoresEventsAfterFinish(t *testing.T) {
	b := bus.New("call-1")
	defer b.Close()
	l := NewLogger(b, testMeta(), nil)

	l.Finish(context.Background())
	b.Publish(bus.Event{Kind: bus.CallEnded})
	l.SetOutcome(OutcomeError)
	l.AddMetric("late", true)

	rec := l.Snapshot()
	if len(rec.Events) != 0 {
		t.Errorf("timeline grew after Finish: %d events", len(rec.Events))
	}
	if rec.Outcome == OutcomeError {
		t.Error("outcome mutated after Finish")
	}
	if _, ok := rec.Metrics["late"]; ok {
		t.Error("metric added after Finish")
	}
}

func TestFanout_DeliversToAllSinks(t *testing.T) {
	ok1, ok2 := &captureSink{}, &captureSink{}
	failing := &captureSink{err: context.DeadlineExceeded}

	sink := Fanout(ok1, failing, ok2)
	err := sink.Deliver(context.Background(), &Record{CallUUID: "uuid-fan"})
	if err == nil {
		t.Fatal("expected joined error from failing sink")
	}
	if ok1.count() != 1 || ok2.count() != 1 {
		t.Errorf("deliveries = %d, %d, want 1 each", ok1.count(), ok2.count())
	}
}

func TestHTTPSink_PostsWithIdempotencyKey(t *testing.T) {
	var mu sync.Mutex
	var keys []string
	var auths []string
	var bodies []Record

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		keys = append(keys, r.Header.Get("Idempotency-Key"))
		auths = append(auths, r.Header.Get("Authorization"))
		var rec Record
		json.NewDecoder(r.Body).Decode(&rec)
		bodies = append(bodies, rec)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	sink := NewHTTPSink(srv.URL, "token-123")
	rec := &Record{CallUUID: "uuid-9", TenantID: "acme", Outcome: OutcomeCompleted}
	if err := sink.Deliver(context.Background(), rec); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(keys) != 1 {
		t.Fatalf("requests = %d, want 1", len(keys))
	}
	if keys[0] != "uuid-9" {
		t.Errorf("Idempotency-Key = %q", keys[0])
	}
	if auths[0] != "Bearer token-123" {
		t.Errorf("Authorization = %q", auths[0])
	}
	if bodies[0].CallUUID != "uuid-9" || bodies[0].Outcome != OutcomeCompleted {
		t.Errorf("body = %+v", bodies[0])
	}
}

func TestHTTPSink_RetriesTransientFailures(t *testing.T) {
	var mu sync.Mutex
	attempts := 0

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := NewHTTPSink(srv.URL, "")
	if err := sink.Deliver(context.Background(), &Record{CallUUID: "uuid-r"}); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestHTTPSink_ConflictIsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	sink := NewHTTPSink(srv.URL, "")
	if err := sink.Deliver(context.Background(), &Record{CallUUID: "uuid-dup"}); err != nil {
		t.Errorf("409 should be treated as already delivered, got %v", err)
	}
}

func TestHTTPSink_GivesUpAfterMaxAttempts(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		attempts++
		mu.Unlock()
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	sink := NewHTTPSink(srv.URL, "")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := sink.Deliver(ctx, &Record{CallUUID: "uuid-f"}); err == nil {
		t.Fatal("expected delivery failure")
	}
	mu.Lock()
	defer mu.Unlock()
	if attempts != 5 {
		t.Errorf("attempts = %d, want 5", attempts)
	}
}
