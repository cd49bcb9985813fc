package sessions

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestTracker_RegisterUnregister(t *testing.T) {
	tr := NewTracker()
	if tr.Count() != 0 {
		t.Fatalf("initial count=%d, want 0", tr.Count())
	}

	u1 := tr.Register("s1", Handle{})
	u2 := tr.Register("s2", Handle{})
	if tr.Count() != 2 {
		t.Fatalf("count=%d, want 2", tr.Count())
	}

	u1()
	u1() // idempotent
	if tr.Count() != 1 {
		t.Fatalf("count=%d, want 1", tr.Count())
	}

	u2()
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if !tr.Wait(ctx) {
		t.Fatalf("expected drain to complete")
	}
}

func TestTracker_ReRegisterEvictsOld(t *testing.T) {
	tr := NewTracker()
	tr.Register("dup", Handle{})
	u2 := tr.Register("dup", Handle{})
	if tr.Count() != 1 {
		t.Fatalf("count=%d, want 1", tr.Count())
	}

	u2()
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if !tr.Wait(ctx) {
		t.Fatalf("eviction should release the old entry's wait slot")
	}
}

func TestTracker_CancelAll(t *testing.T) {
	tr := NewTracker()
	var c1, c2 atomic.Int64
	tr.Register("s1", Handle{Cancel: func() { c1.Add(1) }})
	tr.Register("s2", Handle{Cancel: func() { c2.Add(1) }})

	if n := tr.CancelAll(); n != 2 {
		t.Fatalf("canceled=%d, want 2", n)
	}
	if c1.Load() != 1 || c2.Load() != 1 {
		t.Fatalf("cancel calls=%d/%d, want 1/1", c1.Load(), c2.Load())
	}
}

func TestTracker_NotifyAll_BestEffort(t *testing.T) {
	tr := NewTracker()
	var n1, n2 atomic.Int64
	tr.Register("s1", Handle{Notify: func(message string) error {
		n1.Add(1)
		return nil
	}})
	tr.Register("s2", Handle{Notify: func(message string) error {
		n2.Add(1)
		return errors.New("gone")
	}})
	tr.Register("s3", Handle{})

	if sent := tr.NotifyAll("shutting down"); sent != 2 {
		t.Fatalf("sent=%d, want 2", sent)
	}
	if n1.Load() != 1 || n2.Load() != 1 {
		t.Fatalf("notify calls=%d/%d, want 1/1", n1.Load(), n2.Load())
	}
}

func TestTracker_WaitTimesOut(t *testing.T) {
	tr := NewTracker()
	tr.Register("stuck", Handle{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if tr.Wait(ctx) {
		t.Fatalf("Wait should report false while a session is live")
	}
}
