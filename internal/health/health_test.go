package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

func ok(context.Context) error { return nil }

func failing(msg string) func(context.Context) error {
	return func(context.Context) error { return errors.New(msg) }
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) Report {
	t.Helper()
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	var rep Report
	if err := json.NewDecoder(rec.Body).Decode(&rep); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return rep
}

func TestHealthz_ReportsUptime(t *testing.T) {
	t.Parallel()
	h := New(Checker{Name: "llm", Check: failing("down")})
	h.started = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return h.started.Add(90*time.Minute + 1500*time.Millisecond) }

	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, liveness ignores checkers", rec.Code)
	}
	rep := decode(t, rec)
	if rep.Status != StatusOK || rep.Uptime != "1h30m1s" {
		t.Errorf("report = %+v", rep)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		checkers   []Checker
		wantCode   int
		wantStatus string
		wantChecks map[string]CheckResult
	}{
		{
			name:       "no checkers",
			wantCode:   http.StatusOK,
			wantStatus: StatusOK,
		},
		{
			name:       "all pass",
			checkers:   []Checker{{Name: "llm", Check: ok}, {Name: "cache", Check: ok, Optional: true}},
			wantCode:   http.StatusOK,
			wantStatus: StatusOK,
			wantChecks: map[string]CheckResult{
				"llm":   {Status: StatusOK},
				"cache": {Status: StatusOK, Optional: true},
			},
		},
		{
			name:       "optional failure degrades",
			checkers:   []Checker{{Name: "llm", Check: ok}, {Name: "cache", Check: failing("connection refused"), Optional: true}},
			wantCode:   http.StatusOK,
			wantStatus: StatusDegraded,
			wantChecks: map[string]CheckResult{
				"llm":   {Status: StatusOK},
				"cache": {Status: StatusFail, Error: "connection refused", Optional: true},
			},
		},
		{
			name:       "required failure fails",
			checkers:   []Checker{{Name: "llm", Check: failing("circuit breaker is open")}, {Name: "cache", Check: ok, Optional: true}},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: StatusFail,
			wantChecks: map[string]CheckResult{
				"llm":   {Status: StatusFail, Error: "circuit breaker is open"},
				"cache": {Status: StatusOK, Optional: true},
			},
		},
		{
			name:       "required failure outranks optional",
			checkers:   []Checker{{Name: "llm", Check: failing("x")}, {Name: "cache", Check: failing("y"), Optional: true}},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: StatusFail,
			wantChecks: map[string]CheckResult{
				"llm":   {Status: StatusFail, Error: "x"},
				"cache": {Status: StatusFail, Error: "y", Optional: true},
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := New(tc.checkers...)
			h.now = func() time.Time { return time.Time{} }

			rec := httptest.NewRecorder()
			h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			if rec.Code != tc.wantCode {
				t.Errorf("code = %d, want %d", rec.Code, tc.wantCode)
			}
			rep := decode(t, rec)
			if rep.Status != tc.wantStatus {
				t.Errorf("status = %q, want %q", rep.Status, tc.wantStatus)
			}
			if len(rep.Checks) != len(tc.wantChecks) {
				t.Fatalf("checks = %+v, want %+v", rep.Checks, tc.wantChecks)
			}
			for name, want := range tc.wantChecks {
				if got := rep.Checks[name]; got != want {
					t.Errorf("check %s = %+v, want %+v", name, got, want)
				}
			}
		})
	}
}

func TestEvaluate_RunsChecksConcurrently(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	wait := func(context.Context) error {
		started <- struct{}{}
		<-release
		return nil
	}
	h := New(Checker{Name: "cache", Check: wait}, Checker{Name: "llm", Check: wait})

	go func() {
		<-started
		<-started
		close(release)
	}()
	if rep := h.Evaluate(context.Background()); rep.Status != StatusOK {
		t.Errorf("status = %q", rep.Status)
	}
}

func TestEvaluate_Timeout(t *testing.T) {
	t.Parallel()
	h := New(Checker{Name: "llm", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	h.timeout = 10 * time.Millisecond

	rep := h.Evaluate(context.Background())
	if rep.Status != StatusFail || rep.Checks["llm"].Error != context.DeadlineExceeded.Error() {
		t.Errorf("report = %+v, want a deadline failure", rep)
	}
}

func TestEvaluate_CanceledRequest(t *testing.T) {
	t.Parallel()
	h := New(Checker{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if rep := h.Evaluate(ctx); rep.Status != StatusFail {
		t.Errorf("status = %q, want fail", rep.Status)
	}
}

func TestRegister(t *testing.T) {
	t.Parallel()
	r := chi.NewRouter()
	New(Checker{Name: "llm", Check: ok}).Register(r)

	for path, want := range map[string]int{
		"/healthz": http.StatusOK,
		"/readyz":  http.StatusOK,
		"/livez":   http.StatusNotFound,
	} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != want {
			t.Errorf("GET %s = %d, want %d", path, rec.Code, want)
		}
	}
}
