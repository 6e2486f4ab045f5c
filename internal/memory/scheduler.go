package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultDebounce is the delay between a conversation reaching idle and
// its summarization job running.
const DefaultDebounce = 30 * time.Second

// Job is a summarization task executed after the debounce window.
type Job func(ctx context.Context)

// Scheduler runs debounced background jobs keyed by conversation id.
// At most one job is pending per key: scheduling again replaces the
// pending job, and Cancel disarms it. A new turn on a conversation must
// cancel its pending job before processing begins.
//
// Scheduler is safe for concurrent use.
type Scheduler struct {
	debounce time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[uuid.UUID]*time.Timer
	closed  bool

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewScheduler creates a scheduler. A debounce of 0 selects the default.
func NewScheduler(debounce time.Duration, logger *slog.Logger) *Scheduler {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		debounce: debounce,
		logger:   logger,
		pending:  make(map[uuid.UUID]*time.Timer),
		baseCtx:  ctx,
		cancel:   cancel,
	}
}

// Schedule arms a debounced job for the conversation, replacing any
// pending one.
func (s *Scheduler) Schedule(id uuid.UUID, job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	if timer, ok := s.pending[id]; ok {
		timer.Stop()
	}

	// The callback only runs its job while it is still the registered
	// timer for the key: a Cancel or reschedule that races a fired timer
	// wins, and the stale callback backs off.
	var timer *time.Timer
	timer = time.AfterFunc(s.debounce, func() {
		s.mu.Lock()
		if s.closed || s.pending[id] != timer {
			s.mu.Unlock()
			return
		}
		delete(s.pending, id)
		s.wg.Add(1)
		s.mu.Unlock()

		defer s.wg.Done()
		s.logger.Debug("running summarization job", "conversation_id", id)
		job(s.baseCtx)
	})
	s.pending[id] = timer
	s.logger.Debug("scheduled summarization job", "conversation_id", id, "debounce", s.debounce)
}

// Cancel disarms the pending job for the conversation, if any. Returns
// whether a job was pending. A job whose callback has already begun
// runs to completion; one whose timer merely fired is still disarmed.
func (s *Scheduler) Cancel(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	timer, ok := s.pending[id]
	if !ok {
		return false
	}
	timer.Stop()
	delete(s.pending, id)
	s.logger.Debug("canceled summarization job", "conversation_id", id)
	return true
}

// Close disarms all pending jobs, cancels the base context of running
// jobs and waits for them to finish.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	for id, timer := range s.pending {
		timer.Stop()
		delete(s.pending, id)
	}
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}
