// Package session binds one client WebSocket to one upstream Gemini session
// and pumps frames between them until either side ends.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/voxrelay/voxrelay/pkg/relay/auth"
	"github.com/voxrelay/voxrelay/pkg/relay/diag"
	"github.com/voxrelay/voxrelay/pkg/relay/protocol"
	"github.com/voxrelay/voxrelay/pkg/relay/sessions"
	"github.com/voxrelay/voxrelay/pkg/relay/tools"
	"github.com/voxrelay/voxrelay/pkg/relay/transcript"
	"github.com/voxrelay/voxrelay/pkg/relay/upstream"
)

// errSessionEnded marks a normal pump exit so Run can tell clean teardown
// from transport failures.
var errSessionEnded = errors.New("session ended")

// ClientConn is the subset of *websocket.Conn the relay touches.
type ClientConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadLimit(limit int64)
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Upstream is the session-facing surface of the upstream client.
type Upstream interface {
	Connect(ctx context.Context, token string) error
	SendAudioChunk(audio []byte) error
	SendEndOfTurn() error
	SendToolResults(responses []upstream.FunctionResponse) error
	Interrupt()
	Events() <-chan upstream.Event
	Close() error
}

// Options wires one relay session.
type Options struct {
	SessionID  string
	Client     ClientConn
	Upstream   Upstream
	Token      auth.TokenFunc
	Tools      *tools.Registry
	Transcript *transcript.Appender
	Diag       *diag.Sink
	Tracker    *sessions.Tracker
	Logger     *slog.Logger

	WriteTimeout       time.Duration
	MaxAudioFrameBytes int64
	SlowPhaseThreshold time.Duration
}

// Relay is one live duplex session. Create with New, drive with Run; Close
// is safe from any goroutine and idempotent.
type Relay struct {
	id         string
	client     ClientConn
	upstream   Upstream
	token      auth.TokenFunc
	tools      *tools.Registry
	transcript *transcript.Appender
	diag       *diag.Sink
	tracker    *sessions.Tracker
	logger     *slog.Logger

	writeTimeout time.Duration
	maxFrame     int64
	slowPhase    time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once

	cancelMu sync.Mutex
	cancel   context.CancelFunc
}

func New(opts Options) *Relay {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	return &Relay{
		id:           opts.SessionID,
		client:       opts.Client,
		upstream:     opts.Upstream,
		token:        opts.Token,
		tools:        opts.Tools,
		transcript:   opts.Transcript,
		diag:         opts.Diag,
		tracker:      opts.Tracker,
		logger:       logger,
		writeTimeout: writeTimeout,
		maxFrame:     opts.MaxAudioFrameBytes,
		slowPhase:    opts.SlowPhaseThreshold,
	}
}

// Run executes the session: token, upstream connect, session id ack, then
// both pumps until one side ends. It always tears down before returning.
func (r *Relay) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	r.cancelMu.Lock()
	r.cancel = cancel
	r.cancelMu.Unlock()
	defer cancel()
	defer r.teardown()

	if r.maxFrame > 0 {
		r.client.SetReadLimit(r.maxFrame)
	}
	r.diag.TrackConnectionStart(r.id)
	defer r.diag.ForgetConnection(r.id)

	token, err := r.token(ctx)
	if err != nil {
		r.diag.Record(r.id, diag.CategoryCredential, "failed to acquire access token", err.Error())
		r.sendError("Failed to acquire credentials",
			"Ensure GCP credentials are configured correctly.")
		return fmt.Errorf("acquire token: %w", err)
	}

	if err := r.upstream.Connect(ctx, token); err != nil {
		r.diag.Record(r.id, diag.CategoryUpstreamConnect, "failed to connect to Gemini", err.Error())
		r.sendError("Failed to connect to Gemini: "+err.Error(),
			"Check backend logs for more details. Ensure GCP credentials are configured correctly.")
		return fmt.Errorf("connect upstream: %w", err)
	}
	r.diag.ObservePhase(r.id, "gemini_connect", r.slowPhase)

	if err := r.writeJSON(protocol.NewSessionID(r.id)); err != nil {
		return fmt.Errorf("send session id: %w", err)
	}

	unregister := func() {}
	if r.tracker != nil {
		unregister = r.tracker.Register(r.id, sessions.Handle{
			Cancel: cancel,
			Notify: func(message string) error {
				return r.writeJSON(protocol.NewError(message, ""))
			},
		})
	}
	defer unregister()

	diag.ActiveSessions.Inc()
	defer diag.ActiveSessions.Dec()

	r.logger.Info("relay session started", "session_id", r.id)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.clientPump(gctx) })
	g.Go(func() error { return r.upstreamPump(gctx) })
	g.Go(func() error {
		// Both pumps block in reads; closing the sockets is what unblocks
		// them once the group context ends.
		<-gctx.Done()
		r.teardown()
		return nil
	})

	err = g.Wait()
	if errors.Is(err, errSessionEnded) || errors.Is(err, context.Canceled) {
		err = nil
	}
	if err != nil {
		r.logger.Error("relay session ended", "session_id", r.id, "error", err)
	} else {
		r.logger.Info("relay session ended", "session_id", r.id)
	}
	return err
}

// Close cancels the session and closes both connections. Idempotent.
func (r *Relay) Close() error {
	r.cancelMu.Lock()
	cancel := r.cancel
	r.cancelMu.Unlock()
	if cancel != nil {
		cancel()
	}
	r.teardown()
	return nil
}

func (r *Relay) teardown() {
	r.closeOnce.Do(func() {
		_ = r.upstream.Close()
		_ = r.client.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(r.writeTimeout),
		)
		_ = r.client.Close()
	})
}

// clientPump reads browser frames: binary audio goes upstream, text frames
// are control commands.
func (r *Relay) clientPump(ctx context.Context) error {
	for {
		msgType, data, err := r.client.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || isExpectedClose(err) {
				return errSessionEnded
			}
			r.diag.Record(r.id, diag.CategoryTransport, "client read failed", err.Error())
			return fmt.Errorf("client read: %w", err)
		}

		switch msgType {
		case websocket.BinaryMessage:
			if err := r.upstream.SendAudioChunk(data); err != nil {
				if errors.Is(err, upstream.ErrNotConnected) {
					r.diag.Record(r.id, diag.CategoryProtocolDefect, "audio frame before upstream active", err.Error())
					continue
				}
				r.diag.Record(r.id, diag.CategoryTransport, "upstream audio write failed", err.Error())
				return fmt.Errorf("forward audio: %w", err)
			}
		case websocket.TextMessage:
			if err := r.handleControl(data); err != nil {
				return err
			}
		}
	}
}

func (r *Relay) handleControl(data []byte) error {
	cmd, err := protocol.DecodeControl(data)
	if err != nil {
		r.diag.Record(r.id, diag.CategoryMalformedControl, "undecodable control frame", err.Error())
		return nil
	}

	switch c := cmd.(type) {
	case protocol.InterruptCommand:
		r.logger.Info("interrupt command received", "session_id", r.id)
		r.upstream.Interrupt()
		return r.ackOrFail(protocol.NewInterrupted())

	case protocol.EndOfTurnCommand:
		r.logger.Info("end of turn received", "session_id", r.id)
		if err := r.upstream.SendEndOfTurn(); err != nil {
			if errors.Is(err, upstream.ErrNotConnected) {
				r.diag.Record(r.id, diag.CategoryProtocolDefect, "end of turn before upstream active", err.Error())
				return nil
			}
			r.diag.Record(r.id, diag.CategoryTransport, "end of turn write failed", err.Error())
			return fmt.Errorf("end of turn: %w", err)
		}
		return r.ackOrFail(protocol.NewTurnEnded())

	case protocol.PingCommand:
		return r.ackOrFail(protocol.NewPong())

	case protocol.UnknownCommand:
		r.logger.Warn("ignoring unknown control command", "session_id", r.id, "command_type", c.Type)
		return nil
	}
	return nil
}

func (r *Relay) ackOrFail(msg any) error {
	if err := r.writeJSON(msg); err != nil {
		r.diag.Record(r.id, diag.CategoryTransport, "client ack write failed", err.Error())
		return fmt.Errorf("client ack: %w", err)
	}
	return nil
}

// upstreamPump relays model output: audio as binary frames, transcripts to
// the log file, tool calls through the registry.
func (r *Relay) upstreamPump(ctx context.Context) error {
	firstAudio := false
	for {
		select {
		case <-ctx.Done():
			return errSessionEnded
		case ev, ok := <-r.upstream.Events():
			if !ok {
				return errSessionEnded
			}

			switch e := ev.(type) {
			case upstream.AudioChunkEvent:
				if !firstAudio {
					firstAudio = true
					r.diag.ObservePhase(r.id, "first_audio", r.slowPhase)
				}
				if err := r.writeBinary(e.Data); err != nil {
					r.diag.Record(r.id, diag.CategoryTransport, "client audio write failed", err.Error())
					return fmt.Errorf("client audio write: %w", err)
				}

			case upstream.TranscriptEvent:
				r.transcript.Append(r.id, "AI", e.Text)

			case upstream.TurnCompleteEvent:
				r.logger.Debug("model turn complete", "session_id", r.id)

			case upstream.ToolCallRequestEvent:
				if err := r.handleToolCalls(ctx, e.Calls); err != nil {
					return err
				}

			case upstream.ConnectionClosedEvent:
				r.logger.Info("upstream connection closed", "session_id", r.id, "reason", e.Reason)
				return errSessionEnded

			case upstream.ProtocolErrorEvent:
				r.diag.Record(r.id, diag.CategoryProtocolDefect, "undecodable upstream frame", e.Err.Error())
				return fmt.Errorf("upstream protocol: %w", e.Err)

			case upstream.UnknownEvent:
				r.logger.Debug("unrecognized upstream frame", "session_id", r.id)
			}
		}
	}
}

// handleToolCalls executes every call from one request in arrival order and
// sends exactly one aggregated result frame. A failing call contributes an
// error payload for its id instead of failing the batch.
func (r *Relay) handleToolCalls(ctx context.Context, calls []upstream.FunctionCall) error {
	responses := make([]upstream.FunctionResponse, 0, len(calls))
	for _, call := range calls {
		result, err := r.tools.Execute(ctx, call.Name, call.Args)
		var payload map[string]any
		switch {
		case err != nil:
			r.diag.Record(r.id, diag.CategoryToolExecution, "tool call failed: "+call.Name, err.Error())
			payload = map[string]any{"error": err.Error()}
		default:
			if m, ok := result.(map[string]any); ok {
				payload = m
			} else {
				payload = map[string]any{"result": result}
			}
		}
		responses = append(responses, upstream.FunctionResponse{
			ID:       call.ID,
			Name:     call.Name,
			Response: payload,
		})
	}

	if err := r.upstream.SendToolResults(responses); err != nil {
		if errors.Is(err, upstream.ErrNotConnected) {
			r.diag.Record(r.id, diag.CategoryProtocolDefect, "tool results after upstream closed", err.Error())
			return nil
		}
		r.diag.Record(r.id, diag.CategoryTransport, "tool results write failed", err.Error())
		return fmt.Errorf("send tool results: %w", err)
	}
	r.logger.Info("tool results sent", "session_id", r.id, "calls", len(calls))
	return nil
}

func (r *Relay) sendError(message, details string) {
	_ = r.writeJSON(protocol.NewError(message, details))
}

func (r *Relay) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal client frame: %w", err)
	}
	return r.write(websocket.TextMessage, data)
}

func (r *Relay) writeBinary(data []byte) error {
	return r.write(websocket.BinaryMessage, data)
}

func (r *Relay) write(msgType int, data []byte) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	_ = r.client.SetWriteDeadline(time.Now().Add(r.writeTimeout))
	return r.client.WriteMessage(msgType, data)
}

func isExpectedClose(err error) bool {
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		return true
	}
	return errors.Is(err, net.ErrClosed)
}
