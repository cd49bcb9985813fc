// Package server assembles the relay's HTTP routes and middleware chain.
package server

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxrelay/voxrelay/pkg/relay/auth"
	"github.com/voxrelay/voxrelay/pkg/relay/config"
	"github.com/voxrelay/voxrelay/pkg/relay/diag"
	"github.com/voxrelay/voxrelay/pkg/relay/handlers"
	"github.com/voxrelay/voxrelay/pkg/relay/mw"
	"github.com/voxrelay/voxrelay/pkg/relay/sessions"
	"github.com/voxrelay/voxrelay/pkg/relay/tools"
	"github.com/voxrelay/voxrelay/pkg/relay/transcript"
)

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	token      auth.TokenFunc
	tools      *tools.Registry
	tracker    *sessions.Tracker
	diag       *diag.Sink
	transcript *transcript.Appender

	// upstreamEndpoint overrides the Vertex AI URL; used by tests.
	upstreamEndpoint string
}

// Options carries the shared relay dependencies into the server.
type Options struct {
	Token      auth.TokenFunc
	Tools      *tools.Registry
	Tracker    *sessions.Tracker
	Diag       *diag.Sink
	Transcript *transcript.Appender

	UpstreamEndpoint string
}

func New(cfg config.Config, logger *slog.Logger, opts Options) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:              cfg,
		logger:           logger,
		mux:              http.NewServeMux(),
		token:            opts.Token,
		tools:            opts.Tools,
		tracker:          opts.Tracker,
		diag:             opts.Diag,
		transcript:       opts.Transcript,
		upstreamEndpoint: opts.UpstreamEndpoint,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("/{$}", handlers.RootHandler{Config: s.cfg})
	s.mux.Handle("/health", handlers.HealthHandler{
		Config:  s.cfg,
		Tracker: s.tracker,
		Diag:    s.diag,
	})
	s.mux.Handle("/errors", handlers.ErrorsHandler{Diag: s.diag})
	s.mux.Handle("/metrics", promhttp.Handler())

	s.mux.Handle("/ws", handlers.WSHandler{
		Config:           s.cfg,
		Token:            s.token,
		Tools:            s.tools,
		Tracker:          s.tracker,
		Diag:             s.diag,
		Transcript:       s.transcript,
		Logger:           s.logger,
		UpstreamEndpoint: s.upstreamEndpoint,
	})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.CORS(s.cfg.CORSAllowedOrigins, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}
