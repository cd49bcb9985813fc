package config

import (
	"testing"
	"time"
)

func TestLoadFromEnv_Defaults(t *testing.T) {
	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.Addr != ":8000" {
		t.Errorf("Addr=%q, want :8000", cfg.Addr)
	}
	if cfg.GCPRegion != "us-central1" {
		t.Errorf("GCPRegion=%q, want us-central1", cfg.GCPRegion)
	}
	if cfg.SetupTimeout != 10*time.Second {
		t.Errorf("SetupTimeout=%v, want 10s", cfg.SetupTimeout)
	}
	if cfg.Voice != "Puck" {
		t.Errorf("Voice=%q, want Puck", cfg.Voice)
	}
	if cfg.DiagHistory != 200 {
		t.Errorf("DiagHistory=%d, want 200", cfg.DiagHistory)
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	t.Setenv("VOXRELAY_ADDR", ":9999")
	t.Setenv("VOXRELAY_GCP_PROJECT_ID", "demo-project")
	t.Setenv("VOXRELAY_SETUP_TIMEOUT", "3s")
	t.Setenv("VOXRELAY_CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.Addr != ":9999" {
		t.Errorf("Addr=%q, want :9999", cfg.Addr)
	}
	if cfg.SetupTimeout != 3*time.Second {
		t.Errorf("SetupTimeout=%v, want 3s", cfg.SetupTimeout)
	}
	if !cfg.Configured() {
		t.Errorf("Configured()=false, want true")
	}
	if _, ok := cfg.CORSAllowedOrigins["https://a.example"]; !ok {
		t.Errorf("missing CORS origin https://a.example")
	}
	if _, ok := cfg.CORSAllowedOrigins["https://b.example"]; !ok {
		t.Errorf("missing CORS origin https://b.example")
	}
}

func TestLoadFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		key string
		val string
	}{
		{"VOXRELAY_SETUP_TIMEOUT", "-1s"},
		{"VOXRELAY_WS_WRITE_TIMEOUT", "0s"},
		{"VOXRELAY_DIAG_HISTORY", "0"},
		{"VOXRELAY_SHUTDOWN_GRACE_PERIOD", "-5s"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			if _, err := LoadFromEnv(); err == nil {
				t.Fatalf("LoadFromEnv with %s=%q: expected error", tt.key, tt.val)
			}
		})
	}
}

func TestConfigured(t *testing.T) {
	cfg := Config{GCPRegion: "us-central1"}
	if cfg.Configured() {
		t.Fatalf("Configured()=true without project id")
	}
	cfg.GCPProjectID = "p"
	if !cfg.Configured() {
		t.Fatalf("Configured()=false with project id and region")
	}
}
