package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func get(t *testing.T, h http.HandlerFunc, path string) (*httptest.ResponseRecorder, report) {
	t.Helper()
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest("GET", path, nil))
	var rep report
	if err := json.NewDecoder(rec.Body).Decode(&rep); err != nil {
		t.Fatalf("decode %s body: %v", path, err)
	}
	return rec, rep
}

func TestHealthz_AlwaysOK(t *testing.T) {
	rec, rep := get(t, New().Healthz, "/healthz")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
	if rep.Status != "ok" {
		t.Errorf("body status = %q", rep.Status)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestReadyz_Verdicts(t *testing.T) {
	pass := func(context.Context) error { return nil }
	tests := []struct {
		name       string
		checkers   []Checker
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantCode:   http.StatusOK,
			wantStatus: "ok",
		},
		{
			name: "all dependencies up",
			checkers: []Checker{
				{Name: "switch", Check: pass},
				{Name: "database", Check: pass},
			},
			wantCode:   http.StatusOK,
			wantStatus: "ok",
			wantChecks: map[string]string{"switch": "ok", "database": "ok"},
		},
		{
			name: "switch control channel down",
			checkers: []Checker{
				{Name: "switch", Check: func(context.Context) error {
					return errors.New("control channel down")
				}},
				{Name: "database", Check: pass},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
			wantChecks: map[string]string{
				"switch":   "fail: control channel down",
				"database": "ok",
			},
		},
		{
			name: "everything down",
			checkers: []Checker{
				{Name: "switch", Check: func(context.Context) error {
					return errors.New("dial tcp: refused")
				}},
				{Name: "database", Check: func(context.Context) error {
					return errors.New("pool exhausted")
				}},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
			wantChecks: map[string]string{
				"switch":   "fail: dial tcp: refused",
				"database": "fail: pool exhausted",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, rep := get(t, New(tt.checkers...).Readyz, "/readyz")
			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if rep.Status != tt.wantStatus {
				t.Errorf("body status = %q, want %q", rep.Status, tt.wantStatus)
			}
			for name, want := range tt.wantChecks {
				if rep.Checks[name] != want {
					t.Errorf("check %q = %q, want %q", name, rep.Checks[name], want)
				}
			}
		})
	}
}

func TestReadyz_CancelledRequestFails(t *testing.T) {
	h := New(Checker{Name: "switch", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestRegister_MountsBothProbes(t *testing.T) {
	mux := http.NewServeMux()
	New(Checker{Name: "switch", Check: func(context.Context) error { return nil }}).Register(mux)

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s status = %d", path, rec.Code)
		}
	}
}
