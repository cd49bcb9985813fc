package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/voxrelay/voxrelay/pkg/relay/config"
	"github.com/voxrelay/voxrelay/pkg/relay/diag"
	"github.com/voxrelay/voxrelay/pkg/relay/sessions"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRelayConfig() config.Config {
	return config.Config{
		GCPProjectID: "proj",
		GCPRegion:    "us-central1",
		GeminiModel:  "gemini-live-2.5-flash-native-audio",
		Voice:        "Puck",
	}
}

func getJSON(t *testing.T, h http.Handler, path string) map[string]any {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", rec.Code)
	}
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	return out
}

func TestRootHandler(t *testing.T) {
	body := getJSON(t, RootHandler{Config: testRelayConfig()}, "/")
	if body["status"] != "running" {
		t.Fatalf("status=%v", body["status"])
	}
	if body["model"] != "gemini-live-2.5-flash-native-audio" {
		t.Fatalf("model=%v", body["model"])
	}
}

func TestHealthHandler(t *testing.T) {
	tracker := sessions.NewTracker()
	tracker.Register("s1", sessions.Handle{})
	sink := diag.NewSink(10, quietLogger())
	sink.Record("s1", diag.CategoryTransport, "broken pipe", "")

	body := getJSON(t, HealthHandler{Config: testRelayConfig(), Tracker: tracker, Diag: sink}, "/health")
	if body["active_sessions"] != float64(1) {
		t.Fatalf("active_sessions=%v, want 1", body["active_sessions"])
	}
	if body["total_errors"] != float64(1) {
		t.Fatalf("total_errors=%v, want 1", body["total_errors"])
	}
	if body["gemini_configured"] != true {
		t.Fatalf("gemini_configured=%v, want true", body["gemini_configured"])
	}
}

func TestHealthHandler_Unconfigured(t *testing.T) {
	cfg := testRelayConfig()
	cfg.GCPProjectID = ""
	body := getJSON(t, HealthHandler{Config: cfg, Tracker: sessions.NewTracker(), Diag: diag.NewSink(10, quietLogger())}, "/health")
	if body["gemini_configured"] != false {
		t.Fatalf("gemini_configured=%v, want false", body["gemini_configured"])
	}
}

func TestErrorsHandler(t *testing.T) {
	sink := diag.NewSink(50, quietLogger())
	body := getJSON(t, ErrorsHandler{Diag: sink}, "/errors")
	if recent, ok := body["recent_errors"].([]any); !ok || len(recent) != 0 {
		t.Fatalf("recent_errors=%v, want empty list", body["recent_errors"])
	}

	for i := 0; i < 25; i++ {
		sink.Record("s1", diag.CategoryToolExecution, "failed", "")
	}
	body = getJSON(t, ErrorsHandler{Diag: sink}, "/errors")
	recent := body["recent_errors"].([]any)
	if len(recent) != 20 {
		t.Fatalf("len(recent_errors)=%d, want 20", len(recent))
	}
	if body["total_errors"] != float64(25) {
		t.Fatalf("total_errors=%v, want 25", body["total_errors"])
	}
}
