package upstream

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/voxrelay/voxrelay/pkg/relay/tools"
)

const pcmMimeType = "audio/pcm"

// Client → Gemini frames.

type setupMessage struct {
	Setup setupPayload `json:"setup"`
}

type setupPayload struct {
	Model            string             `json:"model"`
	GenerationConfig generationConfig   `json:"generation_config"`
	Tools            []toolDeclarations `json:"tools,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string     `json:"response_modalities"`
	SpeechConfig       speechConfig `json:"speech_config"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voice_config"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuilt_voice_config"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voice_name"`
}

type toolDeclarations struct {
	FunctionDeclarations []tools.Declaration `json:"function_declarations"`
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtime_input"`
}

type realtimeInput struct {
	MediaChunks []mediaChunk `json:"media_chunks"`
}

type mediaChunk struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type clientContentMessage struct {
	ClientContent clientContent `json:"client_content"`
}

type clientContent struct {
	Turns        []clientTurn `json:"turns"`
	TurnComplete bool         `json:"turn_complete"`
}

type clientTurn struct {
	Role  string `json:"role"`
	Parts []any  `json:"parts"`
}

type toolResponseMessage struct {
	ToolResponse toolResponse `json:"tool_response"`
}

type toolResponse struct {
	FunctionResponses []FunctionResponse `json:"function_responses"`
}

// FunctionResponse carries one function-call result back upstream, keyed by
// the call id the model assigned.
type FunctionResponse struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name,omitempty"`
	Response map[string]any `json:"response"`
}

// Gemini → client frames.

type serverFrame struct {
	SetupComplete json.RawMessage `json:"setupComplete,omitempty"`
	ServerContent *serverContent  `json:"serverContent,omitempty"`
}

type serverContent struct {
	ModelTurn    *modelTurn `json:"modelTurn,omitempty"`
	TurnComplete bool       `json:"turnComplete,omitempty"`
	ToolCall     *toolCall  `json:"toolCall,omitempty"`
}

type modelTurn struct {
	Parts []serverPart `json:"parts,omitempty"`
}

type serverPart struct {
	InlineData *inlineData `json:"inlineData,omitempty"`
	Text       string      `json:"text,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

type toolCall struct {
	FunctionCalls []FunctionCall `json:"functionCalls"`
}

// FunctionCall is one requested function invocation from the model.
type FunctionCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// Event is a decoded upstream frame variant consumed by the orchestrator.
type Event interface {
	eventType() string
}

type SetupCompleteEvent struct{}

func (SetupCompleteEvent) eventType() string { return "setup_complete" }

// AudioChunkEvent carries decoded PCM bytes from an inlineData part.
type AudioChunkEvent struct {
	Data []byte
}

func (AudioChunkEvent) eventType() string { return "audio_chunk" }

// TranscriptEvent carries model text from a part without audio.
type TranscriptEvent struct {
	Text string
}

func (TranscriptEvent) eventType() string { return "transcript" }

type TurnCompleteEvent struct{}

func (TurnCompleteEvent) eventType() string { return "turn_complete" }

// ToolCallRequestEvent enumerates every call from one toolCall frame. Calls
// are never split across events; consumers fan out.
type ToolCallRequestEvent struct {
	Calls []FunctionCall
}

func (ToolCallRequestEvent) eventType() string { return "tool_call_request" }

// ConnectionClosedEvent is the terminal event after the upstream socket
// closed or the transport failed.
type ConnectionClosedEvent struct {
	Reason string
}

func (ConnectionClosedEvent) eventType() string { return "connection_closed" }

// ProtocolErrorEvent is the terminal event after an undecodable frame.
type ProtocolErrorEvent struct {
	Err error
}

func (ProtocolErrorEvent) eventType() string { return "protocol_error" }

// UnknownEvent preserves frames with no recognized tag instead of dropping
// them silently.
type UnknownEvent struct {
	Raw json.RawMessage
}

func (UnknownEvent) eventType() string { return "unknown" }

// decodeServerFrame translates one upstream JSON frame into its events.
// Within a frame, audio and transcript parts come first, then turn
// completion, then the tool-call request.
func decodeServerFrame(data []byte) ([]Event, error) {
	var frame serverFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("decode upstream frame: %w", err)
	}

	if frame.SetupComplete != nil {
		return []Event{SetupCompleteEvent{}}, nil
	}
	if frame.ServerContent == nil {
		return []Event{UnknownEvent{Raw: append(json.RawMessage(nil), data...)}}, nil
	}

	sc := frame.ServerContent
	var events []Event

	if sc.ModelTurn != nil {
		for _, part := range sc.ModelTurn.Parts {
			if part.InlineData != nil && strings.HasPrefix(part.InlineData.MimeType, pcmMimeType) && part.InlineData.Data != "" {
				audio, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
				if err != nil {
					return nil, fmt.Errorf("decode inline audio: %w", err)
				}
				events = append(events, AudioChunkEvent{Data: audio})
			}
			if part.Text != "" {
				events = append(events, TranscriptEvent{Text: part.Text})
			}
		}
	}
	if sc.TurnComplete {
		events = append(events, TurnCompleteEvent{})
	}
	if sc.ToolCall != nil && len(sc.ToolCall.FunctionCalls) > 0 {
		calls := append([]FunctionCall(nil), sc.ToolCall.FunctionCalls...)
		events = append(events, ToolCallRequestEvent{Calls: calls})
	}

	if len(events) == 0 {
		return []Event{UnknownEvent{Raw: append(json.RawMessage(nil), data...)}}, nil
	}
	return events, nil
}
