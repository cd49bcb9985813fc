// Package upstream owns the WebSocket session to the Vertex AI Gemini Live
// API (BidiGenerateContent). One Client maps to exactly one upstream
// connection; it never reconnects.
package upstream

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxrelay/voxrelay/pkg/relay/tools"
)

const defaultSetupTimeout = 10 * time.Second

// ErrNotConnected is returned when an operation requires the Active state.
var ErrNotConnected = errors.New("upstream session is not active")

// ErrSetupTimeout is returned when the setup acknowledgment does not arrive
// within the configured bound.
var ErrSetupTimeout = errors.New("upstream setup timed out")

// ConnectError is a typed connection-establishment failure: transport
// errors, rejected handshakes, and setup failures all surface as one.
type ConnectError struct {
	Reason string
	Err    error
}

func (e *ConnectError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *ConnectError) Unwrap() error { return e.Err }

// State is the connection lifecycle phase.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateAwaitingSetupAck
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAwaitingSetupAck:
		return "awaiting_setup_ack"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Config describes the upstream target and session parameters.
type Config struct {
	ProjectID    string
	Region       string
	Model        string
	Voice        string
	SetupTimeout time.Duration
	Declarations []tools.Declaration

	// Endpoint overrides the Vertex AI URL; used by tests.
	Endpoint string
}

// Client is the upstream session client. All exported methods are safe for
// concurrent use; writes to the socket are serialized internally.
type Client struct {
	cfg       Config
	sessionID string
	logger    *slog.Logger

	conn  *websocket.Conn
	state atomic.Int32

	writeMu sync.Mutex

	events chan Event
	stop   chan struct{}
	done   chan struct{}

	closeOnce   sync.Once
	loopStarted atomic.Bool

	responseInProgress atomic.Bool
}

// NewClient returns a client in the Disconnected state.
func NewClient(cfg Config, sessionID string, logger *slog.Logger) *Client {
	if cfg.SetupTimeout <= 0 {
		cfg.SetupTimeout = defaultSetupTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:       cfg,
		sessionID: sessionID,
		logger:    logger,
		events:    make(chan Event, 256),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// State returns the current lifecycle phase.
func (c *Client) State() State {
	return State(c.state.Load())
}

// ResponseInProgress reports whether a model response is expected or being
// streamed.
func (c *Client) ResponseInProgress() bool {
	return c.responseInProgress.Load()
}

func (c *Client) endpointURL() string {
	if c.cfg.Endpoint != "" {
		return c.cfg.Endpoint
	}
	return fmt.Sprintf(
		"wss://%s-aiplatform.googleapis.com/ws/google.cloud.aiplatform.v1.LlmBidiService/BidiGenerateContent",
		c.cfg.Region,
	)
}

func (c *Client) modelPath() string {
	return fmt.Sprintf(
		"projects/%s/locations/%s/publishers/google/models/%s",
		c.cfg.ProjectID, c.cfg.Region, c.cfg.Model,
	)
}

// Connect dials the upstream endpoint with the bearer token, sends the setup
// frame, and waits for the setup acknowledgment. On success the client is
// Active and Events() starts producing; any failure leaves it Closed.
func (c *Client) Connect(ctx context.Context, token string) error {
	if !c.state.CompareAndSwap(int32(StateDisconnected), int32(StateConnecting)) {
		return fmt.Errorf("connect called in state %s", c.State())
	}

	dialCtx := ctx
	var cancel context.CancelFunc
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		dialCtx, cancel = context.WithTimeout(ctx, c.cfg.SetupTimeout)
		defer cancel()
	}

	headers := make(http.Header)
	headers.Set("Authorization", "Bearer "+token)

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.SetupTimeout}
	endpoint := c.endpointURL()
	conn, resp, err := dialer.DialContext(dialCtx, endpoint, headers)
	if err != nil {
		c.state.Store(int32(StateClosed))
		if resp != nil {
			return &ConnectError{
				Reason: fmt.Sprintf("upstream rejected connection (status %d)", resp.StatusCode),
				Err:    err,
			}
		}
		return &ConnectError{Reason: "upstream dial failed", Err: err}
	}
	c.conn = conn

	setup := setupMessage{
		Setup: setupPayload{
			Model: c.modelPath(),
			GenerationConfig: generationConfig{
				ResponseModalities: []string{"AUDIO"},
				SpeechConfig: speechConfig{
					VoiceConfig: voiceConfig{
						PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: c.cfg.Voice},
					},
				},
			},
		},
	}
	if len(c.cfg.Declarations) > 0 {
		setup.Setup.Tools = []toolDeclarations{{FunctionDeclarations: c.cfg.Declarations}}
	}
	if err := conn.WriteJSON(setup); err != nil {
		c.abortConnect()
		return &ConnectError{Reason: "send setup frame failed", Err: err}
	}
	c.state.Store(int32(StateAwaitingSetupAck))

	_ = conn.SetReadDeadline(time.Now().Add(c.cfg.SetupTimeout))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		c.abortConnect()
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return &ConnectError{
				Reason: fmt.Sprintf("no setup ack within %s", c.cfg.SetupTimeout),
				Err:    ErrSetupTimeout,
			}
		}
		return &ConnectError{Reason: "upstream closed during setup", Err: err}
	}
	_ = conn.SetReadDeadline(time.Time{})

	events, err := decodeServerFrame(payload)
	if err != nil {
		c.abortConnect()
		return &ConnectError{Reason: "undecodable setup response", Err: err}
	}
	if len(events) != 1 {
		c.abortConnect()
		return &ConnectError{Reason: "unexpected setup response"}
	}
	if _, ok := events[0].(SetupCompleteEvent); !ok {
		c.abortConnect()
		return &ConnectError{Reason: "unexpected setup response"}
	}

	c.state.Store(int32(StateActive))
	c.loopStarted.Store(true)
	go c.readLoop()

	c.logger.Info("upstream session active", "session_id", c.sessionID, "model", c.cfg.Model)
	return nil
}

func (c *Client) abortConnect() {
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.state.Store(int32(StateClosed))
}

// SendAudioChunk wraps raw PCM in the media-chunk envelope and transmits.
// Back-pressure is the transport's blocking write; there is no buffering.
func (c *Client) SendAudioChunk(audio []byte) error {
	msg := realtimeInputMessage{
		RealtimeInput: realtimeInput{
			MediaChunks: []mediaChunk{{
				MimeType: pcmMimeType,
				Data:     base64.StdEncoding.EncodeToString(audio),
			}},
		},
	}
	return c.sendJSON(msg)
}

// SendEndOfTurn transmits the turn-completion marker, signaling the model to
// start generating. It does not wait for a reply.
func (c *Client) SendEndOfTurn() error {
	msg := clientContentMessage{
		ClientContent: clientContent{
			Turns:        []clientTurn{{Role: "user", Parts: []any{}}},
			TurnComplete: true,
		},
	}
	if err := c.sendJSON(msg); err != nil {
		return err
	}
	c.responseInProgress.Store(true)
	return nil
}

// SendToolResults transmits aggregated function-call results keyed by call id.
func (c *Client) SendToolResults(responses []FunctionResponse) error {
	msg := toolResponseMessage{
		ToolResponse: toolResponse{FunctionResponses: responses},
	}
	return c.sendJSON(msg)
}

// Interrupt handles barge-in. It only clears the local response-in-progress
// flag: the Live API stops generation on its own when new audio arrives
// while it is responding, and exposes no explicit cancel frame.
func (c *Client) Interrupt() {
	c.responseInProgress.Store(false)
	c.logger.Debug("interrupt processed", "session_id", c.sessionID)
}

func (c *Client) sendJSON(v any) error {
	if c.State() != StateActive {
		return fmt.Errorf("%w (state %s)", ErrNotConnected, c.State())
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

// Events yields decoded upstream events until the connection ends. The
// channel terminates after a final ConnectionClosedEvent or
// ProtocolErrorEvent and is then closed.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Close is idempotent. It sends a best-effort close handshake, tears down
// the socket, and waits for the read loop to finish.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosing))
		close(c.stop)
		if c.conn != nil {
			_ = c.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(2*time.Second),
			)
			_ = c.conn.Close()
		}
		c.state.Store(int32(StateClosed))
		c.logger.Info("upstream session closed", "session_id", c.sessionID)
	})
	if c.loopStarted.Load() {
		<-c.done
	}
	return nil
}

func (c *Client) readLoop() {
	defer close(c.done)
	defer close(c.events)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.emit(ConnectionClosedEvent{Reason: closeReason(err)})
			return
		}

		events, decodeErr := decodeServerFrame(data)
		if decodeErr != nil {
			c.emit(ProtocolErrorEvent{Err: decodeErr})
			return
		}
		for _, ev := range events {
			if _, ok := ev.(TurnCompleteEvent); ok {
				c.responseInProgress.Store(false)
			}
			if !c.emit(ev) {
				return
			}
		}
	}
}

// emit delivers one event, or reports false when the client is closing and
// the consumer is gone.
func (c *Client) emit(ev Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.stop:
		return false
	}
}

func closeReason(err error) string {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		if closeErr.Text != "" {
			return closeErr.Text
		}
		return fmt.Sprintf("close code %d", closeErr.Code)
	}
	return err.Error()
}
