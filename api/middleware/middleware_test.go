package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/circulation-backend/pkg/logger"
)

func TestActorSeedsContext(t *testing.T) {
	var got string
	handler := Actor(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = ActorIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/loans/1/pay", nil)
	req.Header.Set("X-Staff-Id", "  staff-42 ")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if got != "staff-42" {
		t.Fatalf("expected staff-42, got %q", got)
	}

	got = "unset"
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if got != "" {
		t.Fatalf("expected empty actor, got %q", got)
	}
}

func TestRateLimitRejectsBurst(t *testing.T) {
	handler := RateLimit(0.001, 1, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, httptest.NewRequest(http.MethodPost, "/", nil))
	if first.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", first.Code)
	}
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, httptest.NewRequest(http.MethodPost, "/", nil))
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 got %d", second.Code)
	}
}

func TestRateLimitDisabled(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	if got := RateLimit(0, 10, nil)(next); got == nil {
		t.Fatalf("expected passthrough handler")
	}
}

type fakeWindow struct {
	counts map[string]int64
}

func (f *fakeWindow) FixedWindowAllow(_ context.Context, scope string, limit int64, _ time.Duration) (bool, int64, error) {
	f.counts[scope]++
	return f.counts[scope] <= limit, f.counts[scope], nil
}

func TestStaffRateLimitCountsPerActor(t *testing.T) {
	store := &fakeWindow{counts: map[string]int64{}}
	handler := StaffRateLimit(store, 1, time.Minute, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(actor string) int {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		if actor != "" {
			req = req.WithContext(WithActorID(req.Context(), actor))
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := send("a"); code != http.StatusOK {
		t.Fatalf("expected 200 got %d", code)
	}
	if code := send("a"); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 got %d", code)
	}
	if code := send("b"); code != http.StatusOK {
		t.Fatalf("expected 200 for second actor got %d", code)
	}
	if code := send(""); code != http.StatusOK {
		t.Fatalf("expected anonymous request to pass got %d", code)
	}
}

type recordedObservation struct {
	method string
	route  string
	status int
}

type fakeObserver struct {
	seen []recordedObservation
}

func (f *fakeObserver) Observe(method, route string, status int, _ time.Duration) {
	f.seen = append(f.seen, recordedObservation{method: method, route: route, status: status})
}

func TestMetricsUsesRoutePattern(t *testing.T) {
	observer := &fakeObserver{}
	r := chi.NewRouter()
	r.Use(Metrics(observer))
	r.Get("/api/v1/loans/{loanId}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/loans/abc", nil))
	if len(observer.seen) != 1 {
		t.Fatalf("expected one observation, got %d", len(observer.seen))
	}
	got := observer.seen[0]
	if got.route != "/api/v1/loans/{loanId}" || got.status != http.StatusNotFound || got.method != http.MethodGet {
		t.Fatalf("unexpected observation %+v", got)
	}
}

func TestRequestIDReplacesUnusableHeader(t *testing.T) {
	var seen []string
	handler := RequestID(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	for _, inbound := range []string{"desk-7-checkout", "", "forged\nlevel=error", strings.Repeat("a", maxRequestIDLen+1)} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/loans", nil)
		req.Header.Set(requestIDHeader, inbound)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		seen = append(seen, rec.Header().Get(requestIDHeader))
	}
	if seen[0] != "desk-7-checkout" {
		t.Fatalf("expected caller id echoed, got %q", seen[0])
	}
	for _, id := range seen[1:] {
		if _, err := uuid.Parse(id); err != nil {
			t.Fatalf("expected minted uuid, got %q", id)
		}
	}
}

func TestLoggingWarnsOnRejectedMutation(t *testing.T) {
	t.Setenv("LIBRARY_LOG_FORMAT", "json")
	var buf bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "api-test", Output: &buf})
	r := chi.NewRouter()
	r.Use(Logging(logg))
	r.Post("/api/v1/loans/{loanId}/pay", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})
	r.Get("/api/v1/loans/{loanId}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/loans/abc/pay", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/loans/abc", nil))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected one line per request, got %d: %s", len(lines), buf.String())
	}
	var pay, read map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &pay); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if err := json.Unmarshal([]byte(lines[1]), &read); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if pay["level"] != "warn" || pay["route"] != "/api/v1/loans/{loanId}/pay" {
		t.Fatalf("unexpected mutation log %v", pay)
	}
	if read["level"] != "info" {
		t.Fatalf("reads should log at info, got %v", read)
	}
}
