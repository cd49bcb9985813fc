// Package diag records timestamped per-session diagnostic events and tracks
// connection phase latency. The sink owns retention: a bounded in-memory
// history with the most recent N events exposed for inspection.
package diag

import (
	"log/slog"
	"sync"
	"time"
)

// Event categories. One category per failure class so operators can filter
// the history without parsing messages.
const (
	CategoryCredential       = "CREDENTIAL_ERROR"
	CategoryUpstreamConnect  = "UPSTREAM_CONNECT_ERROR"
	CategoryTransport        = "TRANSPORT_ERROR"
	CategoryMalformedControl = "MALFORMED_CONTROL_MESSAGE"
	CategoryToolExecution    = "TOOL_EXECUTION_ERROR"
	CategoryProtocolDefect   = "PROTOCOL_DEFECT"
	CategorySlowPhase        = "SLOW_PHASE"
)

// Event is one diagnostic record. Detail is optional free-form context.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id"`
	Category  string    `json:"category"`
	Message   string    `json:"message"`
	Detail    string    `json:"detail,omitempty"`
}

// Sink is an append-only bounded event history. Safe for concurrent use.
type Sink struct {
	logger *slog.Logger
	limit  int

	mu     sync.Mutex
	events []Event
	total  int64
	starts map[string]time.Time
}

// NewSink returns a sink retaining at most limit events.
func NewSink(limit int, logger *slog.Logger) *Sink {
	if limit <= 0 {
		limit = 200
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{
		logger: logger,
		limit:  limit,
		starts: make(map[string]time.Time),
	}
}

// Record appends an event, trimming the oldest entries past the retention
// limit.
func (s *Sink) Record(sessionID, category, message, detail string) {
	if s == nil {
		return
	}
	ev := Event{
		Timestamp: time.Now(),
		SessionID: sessionID,
		Category:  category,
		Message:   message,
		Detail:    detail,
	}

	s.mu.Lock()
	s.events = append(s.events, ev)
	if over := len(s.events) - s.limit; over > 0 {
		s.events = append(s.events[:0:0], s.events[over:]...)
	}
	s.total++
	s.mu.Unlock()

	relayErrorsTotal.WithLabelValues(category).Inc()
	s.logger.Error("diagnostic event",
		"session_id", sessionID,
		"category", category,
		"message", message,
		"detail", detail,
	)
}

// Recent returns up to n of the most recent events, oldest first.
func (s *Sink) Recent(n int) []Event {
	if s == nil || n <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > len(s.events) {
		n = len(s.events)
	}
	out := make([]Event, n)
	copy(out, s.events[len(s.events)-n:])
	return out
}

// Total returns the count of all events ever recorded, including trimmed ones.
func (s *Sink) Total() int64 {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// TrackConnectionStart marks the connection-start time for a session so later
// phases can be measured against it.
func (s *Sink) TrackConnectionStart(sessionID string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.starts[sessionID] = time.Now()
	s.mu.Unlock()
}

// ObservePhase measures elapsed time since the session's connection start and
// flags the phase when it exceeds threshold. It returns the elapsed duration,
// or zero when the session was never tracked.
func (s *Sink) ObservePhase(sessionID, phase string, threshold time.Duration) time.Duration {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	start, ok := s.starts[sessionID]
	s.mu.Unlock()
	if !ok {
		return 0
	}

	elapsed := time.Since(start)
	phaseSeconds.WithLabelValues(phase).Observe(elapsed.Seconds())
	if threshold > 0 && elapsed > threshold {
		s.logger.Warn("phase exceeded threshold",
			"session_id", sessionID,
			"phase", phase,
			"elapsed", elapsed,
		)
		s.Record(sessionID, CategorySlowPhase, phase+" exceeded latency threshold", elapsed.String())
	}
	return elapsed
}

// ForgetConnection drops latency bookkeeping for a finished session.
func (s *Sink) ForgetConnection(sessionID string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	delete(s.starts, sessionID)
	s.mu.Unlock()
}
