package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr string

	// Vertex AI target for the upstream live session.
	GCPProjectID          string
	GCPRegion             string
	GeminiModel           string
	Voice                 string
	ServiceAccountKeyPath string

	// Upstream handshake bound: the setup ack must arrive within this window.
	SetupTimeout time.Duration

	// WebSocket write discipline on both connections.
	WSWriteTimeout time.Duration

	// Inbound audio frame ceiling from the client (bytes, 0 = unlimited).
	MaxAudioFrameBytes int

	// Diagnostics sink retention (most recent N events kept in memory).
	DiagHistory int

	// Phases slower than this are flagged to the diagnostics sink.
	SlowPhaseThreshold time.Duration

	TranscriptPath string

	// CORS
	CORSAllowedOrigins map[string]struct{} // empty => same-origin only

	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                  envOr("VOXRELAY_ADDR", ":8000"),
		GCPProjectID:          envOr("VOXRELAY_GCP_PROJECT_ID", ""),
		GCPRegion:             envOr("VOXRELAY_GCP_REGION", "us-central1"),
		GeminiModel:           envOr("VOXRELAY_GEMINI_MODEL", "gemini-live-2.5-flash-native-audio"),
		Voice:                 envOr("VOXRELAY_VOICE", "Puck"),
		ServiceAccountKeyPath: envOr("VOXRELAY_SERVICE_ACCOUNT_KEY", "service-account-key.json"),
		SetupTimeout:          envDurationOr("VOXRELAY_SETUP_TIMEOUT", 10*time.Second),
		WSWriteTimeout:        envDurationOr("VOXRELAY_WS_WRITE_TIMEOUT", 5*time.Second),
		MaxAudioFrameBytes:    envIntOr("VOXRELAY_MAX_AUDIO_FRAME_BYTES", 64*1024),
		DiagHistory:           envIntOr("VOXRELAY_DIAG_HISTORY", 200),
		SlowPhaseThreshold:    envDurationOr("VOXRELAY_SLOW_PHASE_THRESHOLD", 10*time.Second),
		TranscriptPath:        envOr("VOXRELAY_TRANSCRIPT_PATH", "conversation_log.txt"),
		CORSAllowedOrigins:    make(map[string]struct{}),
		ReadHeaderTimeout:     envDurationOr("VOXRELAY_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod:   envDurationOr("VOXRELAY_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	for _, origin := range splitCSV(os.Getenv("VOXRELAY_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	if strings.TrimSpace(cfg.GCPRegion) == "" {
		return Config{}, fmt.Errorf("VOXRELAY_GCP_REGION must not be empty")
	}
	if strings.TrimSpace(cfg.GeminiModel) == "" {
		return Config{}, fmt.Errorf("VOXRELAY_GEMINI_MODEL must not be empty")
	}
	if strings.TrimSpace(cfg.Voice) == "" {
		return Config{}, fmt.Errorf("VOXRELAY_VOICE must not be empty")
	}
	if cfg.SetupTimeout <= 0 {
		return Config{}, fmt.Errorf("VOXRELAY_SETUP_TIMEOUT must be > 0")
	}
	if cfg.WSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("VOXRELAY_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.MaxAudioFrameBytes < 0 {
		return Config{}, fmt.Errorf("VOXRELAY_MAX_AUDIO_FRAME_BYTES must be >= 0")
	}
	if cfg.DiagHistory <= 0 {
		return Config{}, fmt.Errorf("VOXRELAY_DIAG_HISTORY must be > 0")
	}
	if cfg.SlowPhaseThreshold <= 0 {
		return Config{}, fmt.Errorf("VOXRELAY_SLOW_PHASE_THRESHOLD must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("VOXRELAY_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("VOXRELAY_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

// Configured reports whether the upstream target is fully specified.
func (c Config) Configured() bool {
	return strings.TrimSpace(c.GCPProjectID) != "" && strings.TrimSpace(c.GCPRegion) != ""
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
