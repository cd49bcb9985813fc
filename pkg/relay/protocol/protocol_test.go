package protocol

import (
	"encoding/json"
	"testing"
)

func TestDecodeControl(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want ControlCommand
	}{
		{"interrupt", `{"type":"interrupt"}`, InterruptCommand{}},
		{"end_of_turn", `{"type":"end_of_turn"}`, EndOfTurnCommand{}},
		{"ping", `{"type":"ping"}`, PingCommand{}},
		{"unknown tag", `{"type":"dance"}`, UnknownCommand{Type: "dance"}},
		{"extra fields ignored", `{"type":"ping","extra":1}`, PingCommand{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeControl([]byte(tt.in))
			if err != nil {
				t.Fatalf("DecodeControl(%s): %v", tt.in, err)
			}
			if got != tt.want {
				t.Fatalf("got=%#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestDecodeControl_Errors(t *testing.T) {
	for _, in := range []string{`not json`, `{"type":""}`, `{}`, `[1,2]`} {
		if _, err := DecodeControl([]byte(in)); err == nil {
			t.Fatalf("DecodeControl(%s): expected error", in)
		}
	}
}

func TestOutboundFrames(t *testing.T) {
	tests := []struct {
		name string
		msg  any
		want string
	}{
		{"session_id", NewSessionID("abc-123"), `{"type":"session_id","session_id":"abc-123"}`},
		{"error with details", NewError("boom", "check logs"), `{"type":"error","message":"boom","details":"check logs"}`},
		{"error without details", NewError("boom", ""), `{"type":"error","message":"boom"}`},
		{"interrupted", NewInterrupted(), `{"type":"interrupted"}`},
		{"turn_ended", NewTurnEnded(), `{"type":"turn_ended"}`},
		{"pong", NewPong(), `{"type":"pong"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := json.Marshal(tt.msg)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			if string(got) != tt.want {
				t.Fatalf("got=%s, want %s", got, tt.want)
			}
		})
	}
}
