package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/voxrelay/voxrelay/internal/dotenv"
	"github.com/voxrelay/voxrelay/pkg/relay/auth"
	"github.com/voxrelay/voxrelay/pkg/relay/config"
	"github.com/voxrelay/voxrelay/pkg/relay/diag"
	relayserver "github.com/voxrelay/voxrelay/pkg/relay/server"
	"github.com/voxrelay/voxrelay/pkg/relay/sessions"
	"github.com/voxrelay/voxrelay/pkg/relay/tools"
	"github.com/voxrelay/voxrelay/pkg/relay/transcript"
)

type relayDeps struct {
	loadConfig   func() (config.Config, error)
	newToken     func(cfg config.Config, logger *slog.Logger) auth.TokenFunc
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultRelayDeps() relayDeps {
	return relayDeps{
		loadConfig: config.LoadFromEnv,
		newToken:   newTokenFunc,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

// newTokenFunc prefers the configured service account key and falls back to
// application default credentials when no key file is present.
func newTokenFunc(cfg config.Config, logger *slog.Logger) auth.TokenFunc {
	if _, err := os.Stat(cfg.ServiceAccountKeyPath); err == nil {
		fn, err := auth.ServiceAccountTokenFunc(cfg.ServiceAccountKeyPath)
		if err == nil {
			return fn
		}
		logger.Error("service account key unusable", "path", cfg.ServiceAccountKeyPath, "error", err)
	}
	logger.Warn("using application default credentials", "key_path", cfg.ServiceAccountKeyPath)
	return auth.DefaultTokenFunc()
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func runRelay(ctx context.Context, logger *slog.Logger, deps relayDeps) error {
	if deps.loadConfig == nil {
		return errors.New("missing loadConfig dependency")
	}
	if deps.newToken == nil {
		return errors.New("missing newToken dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if !cfg.Configured() {
		logger.Warn("GCP project or region not configured; sessions will fail to connect upstream")
	}

	tracker := sessions.NewTracker()
	sink := diag.NewSink(cfg.DiagHistory, logger)
	srv := relayserver.New(cfg, logger, relayserver.Options{
		Token:      deps.newToken(cfg, logger),
		Tools:      tools.NewDefaultRegistry(),
		Tracker:    tracker,
		Diag:       sink,
		Transcript: transcript.NewAppender(cfg.TranscriptPath, logger),
	})
	httpSrv := buildHTTPServer(cfg, srv.Handler())

	logger.Info("starting relay", "addr", cfg.Addr, "model", cfg.GeminiModel, "region", cfg.GCPRegion)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	notified := tracker.NotifyAll("Server is shutting down")
	if notified > 0 {
		logger.Info("notified live sessions", "count", notified)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer waitCancel()
	if !tracker.Wait(waitCtx) {
		canceled := tracker.CancelAll()
		logger.Warn("grace period expired, canceled remaining sessions", "count", canceled)
		tracker.Wait(context.Background())
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("relay stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, deps relayDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	if err := dotenv.Load(".env"); err != nil {
		fmt.Fprintf(stderr, "voxrelay: %v\n", err)
		return 1
	}

	if err := runRelay(ctx, logger, deps); err != nil {
		fmt.Fprintf(stderr, "voxrelay: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultRelayDeps()))
}
