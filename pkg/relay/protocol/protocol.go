// Package protocol defines the JSON frames exchanged with browser clients.
// Binary WebSocket frames carry raw PCM audio and never pass through here;
// text frames are the control channel this package decodes and encodes.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ControlCommand is a decoded client control frame. The set of variants is
// closed; frames with an unrecognized type decode to UnknownCommand.
type ControlCommand interface {
	commandType() string
}

// InterruptCommand requests barge-in: stop the current model response.
type InterruptCommand struct{}

func (InterruptCommand) commandType() string { return "interrupt" }

// EndOfTurnCommand marks the end of the user's speech for this turn.
type EndOfTurnCommand struct{}

func (EndOfTurnCommand) commandType() string { return "end_of_turn" }

// PingCommand is a keep-alive probe; it is answered with a pong frame.
type PingCommand struct{}

func (PingCommand) commandType() string { return "ping" }

// UnknownCommand preserves the type tag of an unrecognized control frame.
type UnknownCommand struct {
	Type string
}

func (UnknownCommand) commandType() string { return "unknown" }

type controlEnvelope struct {
	Type string `json:"type"`
}

// DecodeControl parses one text frame into its command variant. Malformed
// JSON and frames without a type tag are errors; callers log and drop them
// without ending the session.
func DecodeControl(data []byte) (ControlCommand, error) {
	var env controlEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode control frame: %w", err)
	}
	switch env.Type {
	case "interrupt":
		return InterruptCommand{}, nil
	case "end_of_turn":
		return EndOfTurnCommand{}, nil
	case "ping":
		return PingCommand{}, nil
	case "":
		return nil, fmt.Errorf("control frame missing type tag")
	default:
		return UnknownCommand{Type: env.Type}, nil
	}
}

// Server → client frames.

// SessionIDMessage is the first frame of a relay session, acknowledging the
// duplex path is live.
type SessionIDMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

func NewSessionID(id string) SessionIDMessage {
	return SessionIDMessage{Type: "session_id", SessionID: id}
}

// ErrorMessage reports a session-fatal failure before teardown.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func NewError(message, details string) ErrorMessage {
	return ErrorMessage{Type: "error", Message: message, Details: details}
}

// InterruptedMessage acknowledges an interrupt command.
type InterruptedMessage struct {
	Type string `json:"type"`
}

func NewInterrupted() InterruptedMessage {
	return InterruptedMessage{Type: "interrupted"}
}

// TurnEndedMessage acknowledges an end-of-turn command.
type TurnEndedMessage struct {
	Type string `json:"type"`
}

func NewTurnEnded() TurnEndedMessage {
	return TurnEndedMessage{Type: "turn_ended"}
}

// PongMessage answers a ping command.
type PongMessage struct {
	Type string `json:"type"`
}

func NewPong() PongMessage {
	return PongMessage{Type: "pong"}
}
