// Package sessions tracks live relay sessions for the health surface and for
// coordinated shutdown.
package sessions

import (
	"context"
	"sync"
)

// Handle is what the tracker can do to a registered session. Cancel tears
// the session down; Notify delivers a final notice to the client before a
// shutdown, best effort.
type Handle struct {
	Cancel func()
	Notify func(message string) error
}

// Tracker is a mutex-guarded id to handle map with drain support. The zero
// value is not usable; construct with NewTracker.
type Tracker struct {
	mu      sync.Mutex
	entries map[string]*tracked
	wg      sync.WaitGroup
}

type tracked struct {
	handle Handle
	once   sync.Once
}

func NewTracker() *Tracker {
	return &Tracker{entries: make(map[string]*tracked)}
}

// Register inserts a session and returns its idempotent unregister func.
// Re-registering an id evicts and releases the previous entry.
func (t *Tracker) Register(sessionID string, h Handle) (unregister func()) {
	if t == nil {
		return func() {}
	}

	entry := &tracked{handle: h}

	t.mu.Lock()
	if t.entries == nil {
		t.entries = make(map[string]*tracked)
	}
	old := t.entries[sessionID]
	t.entries[sessionID] = entry
	t.wg.Add(1)
	t.mu.Unlock()

	if old != nil {
		t.unregister(sessionID, old)
	}

	return func() { t.unregister(sessionID, entry) }
}

func (t *Tracker) unregister(sessionID string, entry *tracked) {
	if t == nil || entry == nil {
		return
	}
	entry.once.Do(func() {
		t.mu.Lock()
		if t.entries != nil && t.entries[sessionID] == entry {
			delete(t.entries, sessionID)
		}
		t.mu.Unlock()
		t.wg.Done()
	})
}

// Count returns the number of live sessions.
func (t *Tracker) Count() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// NotifyAll sends a notice to every session that registered a Notify func.
func (t *Tracker) NotifyAll(message string) (sent int) {
	if t == nil {
		return 0
	}

	var notifies []func(message string) error
	t.mu.Lock()
	for _, entry := range t.entries {
		if entry == nil || entry.handle.Notify == nil {
			continue
		}
		notifies = append(notifies, entry.handle.Notify)
	}
	t.mu.Unlock()

	for _, notify := range notifies {
		_ = notify(message)
		sent++
	}
	return sent
}

// CancelAll tears down every live session. Cancel funcs run outside the
// tracker lock so they may unregister themselves.
func (t *Tracker) CancelAll() (canceled int) {
	if t == nil {
		return 0
	}

	var cancels []func()
	t.mu.Lock()
	for _, entry := range t.entries {
		if entry == nil || entry.handle.Cancel == nil {
			continue
		}
		cancels = append(cancels, entry.handle.Cancel)
	}
	t.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
		canceled++
	}
	return canceled
}

// Wait blocks until every registered session has unregistered, or until the
// context ends. It reports whether the drain completed.
func (t *Tracker) Wait(ctx context.Context) bool {
	if t == nil {
		return true
	}
	if ctx == nil {
		t.wg.Wait()
		return true
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		t.wg.Wait()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
