package server

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/voxrelay/voxrelay/pkg/relay/auth"
	"github.com/voxrelay/voxrelay/pkg/relay/config"
	"github.com/voxrelay/voxrelay/pkg/relay/diag"
	"github.com/voxrelay/voxrelay/pkg/relay/sessions"
	"github.com/voxrelay/voxrelay/pkg/relay/tools"
	"github.com/voxrelay/voxrelay/pkg/relay/transcript"
)

func newTestServer() *Server {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Config{
		GCPProjectID: "proj",
		GCPRegion:    "us-central1",
		GeminiModel:  "gemini-live-2.5-flash-native-audio",
		Voice:        "Puck",
	}
	return New(cfg, logger, Options{
		Token:      auth.StaticTokenFunc("tok"),
		Tools:      tools.NewDefaultRegistry(),
		Tracker:    sessions.NewTracker(),
		Diag:       diag.NewSink(50, logger),
		Transcript: transcript.NewAppender("", logger),
	})
}

func TestServer_Routes(t *testing.T) {
	h := newTestServer().Handler()

	tests := []struct {
		path       string
		wantStatus int
		wantBody   string
	}{
		{"/", http.StatusOK, "Speech-to-Speech"},
		{"/health", http.StatusOK, `"status":"running"`},
		{"/errors", http.StatusOK, `"recent_errors"`},
		{"/metrics", http.StatusOK, "voxrelay_active_sessions"},
		{"/nope", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rec.Code != tt.wantStatus {
				t.Fatalf("status=%d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantBody != "" && !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Fatalf("body %q missing %q", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestServer_RequestIDOnResponses(t *testing.T) {
	h := newTestServer().Handler()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected X-Request-ID header on response")
	}
}
