package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/voxrelay/voxrelay/pkg/relay/auth"
	"github.com/voxrelay/voxrelay/pkg/relay/config"
	"github.com/voxrelay/voxrelay/pkg/relay/diag"
	"github.com/voxrelay/voxrelay/pkg/relay/session"
	"github.com/voxrelay/voxrelay/pkg/relay/sessions"
	"github.com/voxrelay/voxrelay/pkg/relay/tools"
	"github.com/voxrelay/voxrelay/pkg/relay/transcript"
	"github.com/voxrelay/voxrelay/pkg/relay/upstream"
)

// WSHandler upgrades /ws connections and runs one relay session per socket.
type WSHandler struct {
	Config     config.Config
	Token      auth.TokenFunc
	Tools      *tools.Registry
	Tracker    *sessions.Tracker
	Diag       *diag.Sink
	Transcript *transcript.Appender
	Logger     *slog.Logger

	// UpstreamEndpoint overrides the Vertex AI URL; used by tests.
	UpstreamEndpoint string
}

func (h WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return h.originAllowed(r) },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		h.logger().Warn("websocket upgrade failed", "error", err)
		return
	}

	sessionID := uuid.NewString()
	h.logger().Info("new websocket connection", "session_id", sessionID, "remote", r.RemoteAddr)

	up := upstream.NewClient(upstream.Config{
		ProjectID:    h.Config.GCPProjectID,
		Region:       h.Config.GCPRegion,
		Model:        h.Config.GeminiModel,
		Voice:        h.Config.Voice,
		SetupTimeout: h.Config.SetupTimeout,
		Declarations: h.Tools.Declarations(),
		Endpoint:     h.UpstreamEndpoint,
	}, sessionID, h.logger())

	relay := session.New(session.Options{
		SessionID:          sessionID,
		Client:             conn,
		Upstream:           up,
		Token:              h.Token,
		Tools:              h.Tools,
		Transcript:         h.Transcript,
		Diag:               h.Diag,
		Tracker:            h.Tracker,
		Logger:             h.logger(),
		WriteTimeout:       h.Config.WSWriteTimeout,
		MaxAudioFrameBytes: int64(h.Config.MaxAudioFrameBytes),
		SlowPhaseThreshold: h.Config.SlowPhaseThreshold,
	})

	// Run blocks for the life of the session and always tears down.
	_ = relay.Run(r.Context())
}

// originAllowed mirrors the CORS allowlist; an empty allowlist keeps the
// open-by-default posture the browser demo expects.
func (h WSHandler) originAllowed(r *http.Request) bool {
	if len(h.Config.CORSAllowedOrigins) == 0 {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	_, ok := h.Config.CORSAllowedOrigins[origin]
	return ok
}

func (h WSHandler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}
