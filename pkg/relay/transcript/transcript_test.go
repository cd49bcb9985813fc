package transcript

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestAppender_WritesTimestampedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conversation_log.txt")
	a := NewAppender(path, nil)
	fixed := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return fixed }

	a.Append("sess-1", "AI", "hello caller")
	a.Append("sess-1", "AI", "second line")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read transcript: %v", err)
	}
	got := string(data)
	want := "[2026-08-23T12:00:00Z] [sess-1] AI: hello caller"
	if !strings.Contains(got, want) {
		t.Fatalf("transcript=%q, want substring %q", got, want)
	}
	if strings.Count(got, "AI:") != 2 {
		t.Fatalf("line count wrong: %q", got)
	}
}

func TestAppender_DisabledAndEmpty(t *testing.T) {
	a := NewAppender("", nil)
	a.Append("sess-1", "AI", "dropped")

	path := filepath.Join(t.TempDir(), "log.txt")
	b := NewAppender(path, nil)
	b.Append("sess-1", "AI", "")
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("empty text should not create the file, stat err=%v", err)
	}

	var nilAppender *Appender
	nilAppender.Append("sess-1", "AI", "no panic")
}
