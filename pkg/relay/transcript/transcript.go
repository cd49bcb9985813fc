// Package transcript appends conversation text to a shared log file.
package transcript

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Appender writes timestamped transcript lines. One Appender is shared by
// all sessions; writes are serialized so lines never interleave.
type Appender struct {
	path   string
	logger *slog.Logger

	mu sync.Mutex
	// now is swappable for tests.
	now func() time.Time
}

// NewAppender returns an appender for the given file path. The file is
// created on first append. An empty path disables appending.
func NewAppender(path string, logger *slog.Logger) *Appender {
	if logger == nil {
		logger = slog.Default()
	}
	return &Appender{path: path, logger: logger, now: time.Now}
}

// Append writes one `[ts] [session] role: text` line. Failures are logged
// and swallowed; a broken transcript file must not end a live call.
func (a *Appender) Append(sessionID, role, text string) {
	if a == nil || a.path == "" || text == "" {
		return
	}

	line := fmt.Sprintf("\n[%s] [%s] %s: %s\n",
		a.now().Format(time.RFC3339), sessionID, role, text)

	a.mu.Lock()
	defer a.mu.Unlock()

	f, err := os.OpenFile(a.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		a.logger.Error("transcript open failed", "path", a.path, "error", err)
		return
	}
	defer f.Close()

	if _, err := f.WriteString(line); err != nil {
		a.logger.Error("transcript write failed", "path", a.path, "error", err)
	}
}
