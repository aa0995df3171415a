package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
)

func TestHealthzReturnsOK(t *testing.T) {
	srv := NewServer(":0", func() Status { return Status{} }, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Body.String(); got != "ok\n" {
		t.Fatalf("unexpected body %q", got)
	}
}

func TestStatusReportsSnapshot(t *testing.T) {
	srv := NewServer(":0", func() Status {
		return Status{
			App:          "crosswatcher",
			Symbols:      []string{"BTCUSDT", "ETHUSDT"},
			Timeframe:    "4h",
			Strategy:     "MA_7 crossing MA_25, MA_99",
			Ticks:        12,
			AlertsSent:   3,
			ActiveAlerts: 1,
		}
	}, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type %q", ct)
	}

	var got Status
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if got.App != "crosswatcher" {
		t.Fatalf("unexpected app %q", got.App)
	}
	if len(got.Symbols) != 2 || got.Symbols[0] != "BTCUSDT" {
		t.Fatalf("unexpected symbols %v", got.Symbols)
	}
	if got.Ticks != 12 || got.AlertsSent != 3 || got.ActiveAlerts != 1 {
		t.Fatalf("unexpected counters %+v", got)
	}
}
