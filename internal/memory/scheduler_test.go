package memory

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/xpert-ai/xpert-sub004/internal/log"
)

func TestSchedulerRunsAfterDebounce(t *testing.T) {
	s := NewScheduler(10*time.Millisecond, log.NewNop())
	defer s.Close()

	done := make(chan struct{})
	s.Schedule(uuid.New(), func(context.Context) { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job never ran")
	}
}

func TestSchedulerCancelPreventsRun(t *testing.T) {
	s := NewScheduler(50*time.Millisecond, log.NewNop())
	defer s.Close()

	id := uuid.New()
	var ran atomic.Bool
	s.Schedule(id, func(context.Context) { ran.Store(true) })

	if !s.Cancel(id) {
		t.Fatal("Cancel should report a pending job")
	}

	time.Sleep(150 * time.Millisecond)
	if ran.Load() {
		t.Error("canceled job must not run")
	}
	if s.Cancel(id) {
		t.Error("second Cancel should report nothing pending")
	}
}

func TestSchedulerRescheduleReplacesPending(t *testing.T) {
	s := NewScheduler(30*time.Millisecond, log.NewNop())
	defer s.Close()

	id := uuid.New()
	var runs atomic.Int32
	job := func(context.Context) { runs.Add(1) }

	// Re-scheduling within the window must collapse into one run.
	s.Schedule(id, job)
	time.Sleep(10 * time.Millisecond)
	s.Schedule(id, job)
	time.Sleep(10 * time.Millisecond)
	s.Schedule(id, job)

	time.Sleep(200 * time.Millisecond)
	if got := runs.Load(); got != 1 {
		t.Errorf("job ran %d times, want exactly 1", got)
	}
}

func TestSchedulerIndependentKeys(t *testing.T) {
	s := NewScheduler(10*time.Millisecond, log.NewNop())
	defer s.Close()

	var runs atomic.Int32
	a, b := uuid.New(), uuid.New()
	s.Schedule(a, func(context.Context) { runs.Add(1) })
	s.Schedule(b, func(context.Context) { runs.Add(1) })

	// Canceling one key must not touch the other.
	s.Cancel(a)

	time.Sleep(150 * time.Millisecond)
	if got := runs.Load(); got != 1 {
		t.Errorf("runs = %d, want 1", got)
	}
}

func TestSchedulerFiredTimerLosesToReplacement(t *testing.T) {
	s := NewScheduler(50*time.Millisecond, log.NewNop())
	defer s.Close()

	id := uuid.New()
	var staleRan, freshRan atomic.Bool
	s.Schedule(id, func(context.Context) { staleRan.Store(true) })

	// Let the timer fire while the callback cannot take the lock, then
	// disarm the key the way a new turn's Cancel would.
	s.mu.Lock()
	time.Sleep(100 * time.Millisecond)
	delete(s.pending, id)
	s.mu.Unlock()

	s.Schedule(id, func(context.Context) { freshRan.Store(true) })
	if !s.Cancel(id) {
		t.Error("Cancel should find the replacement job pending")
	}

	time.Sleep(100 * time.Millisecond)
	if staleRan.Load() {
		t.Error("stale job ran after its key was disarmed")
	}
	if freshRan.Load() {
		t.Error("replacement job ran after Cancel")
	}
}

func TestSchedulerCloseStopsPending(t *testing.T) {
	s := NewScheduler(50*time.Millisecond, log.NewNop())

	var ran atomic.Bool
	s.Schedule(uuid.New(), func(context.Context) { ran.Store(true) })
	s.Close()

	time.Sleep(150 * time.Millisecond)
	if ran.Load() {
		t.Error("pending job must not run after Close")
	}

	// Schedule after Close is a no-op, not a panic.
	s.Schedule(uuid.New(), func(context.Context) { ran.Store(true) })
}
