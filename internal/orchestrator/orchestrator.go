// Package orchestrator drives one conversational turn end to end: it
// persists the turn's records, invokes the agent graph engine, translates
// engine events into protocol envelopes pushed at the caller's sink, and
// settles the turn exactly once no matter how the stream ends.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/xpert-ai/xpert-sub004/internal/chat"
	"github.com/xpert-ai/xpert-sub004/internal/graph"
	"github.com/xpert-ai/xpert-sub004/internal/memory"
	"github.com/xpert-ai/xpert-sub004/internal/protocol"
	"github.com/xpert-ai/xpert-sub004/internal/store"
)

// Sink receives protocol envelopes in emission order. A sink error means
// the client is gone; the turn is then settled as aborted.
type Sink func(protocol.Envelope) error

// MemorySearcher is the slice of the memory store used for the
// memory-reply short circuit.
type MemorySearcher interface {
	Search(ctx context.Context, namespace, query string, limit int) ([]memory.ScoredItem, error)
}

// Scheduler debounces background summarization per conversation.
type Scheduler interface {
	Schedule(id uuid.UUID, job memory.Job)
	Cancel(id uuid.UUID) bool
}

// Summarizer condenses a finished turn into long-term memory.
type Summarizer interface {
	SummarizeTurn(ctx context.Context, namespace string, human, ai *chat.Message) error
}

// Config wires the orchestrator's optional collaborators. Memory,
// Scheduler and Summarizer may each be nil; the corresponding features
// are then disabled.
type Config struct {
	Memory     MemorySearcher
	Scheduler  Scheduler
	Summarizer Summarizer

	// ReplyThreshold is the minimum similarity for answering from memory
	// without invoking the engine. Zero selects the default.
	ReplyThreshold float64
}

// Orchestrator executes conversational turns.
type Orchestrator struct {
	store  store.Store
	engine graph.Engine
	cfg    Config
	logger *slog.Logger
}

// New creates an Orchestrator.
func New(st store.Store, engine graph.Engine, cfg Config, logger *slog.Logger) (*Orchestrator, error) {
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}
	if engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if cfg.ReplyThreshold <= 0 {
		cfg.ReplyThreshold = memory.DefaultReplyThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{store: st, engine: engine, cfg: cfg, logger: logger}, nil
}

// outcome classifies how a turn ended.
type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeError
	outcomeInterrupted
	outcomeAborted
)

var errClientClosed = errors.New("client closed stream")

// turn is the mutable state of one in-flight turn.
type turn struct {
	conv  *chat.Conversation
	human *chat.Message // nil only when it cannot be reloaded on resume
	msg   *chat.Message
	exec  *chat.Execution

	input   string
	sink    Sink
	started time.Time

	canvasOpen bool
	clientGone bool
	finalized  bool

	// terminal completion payload captured from the engine
	outputs map[string]any
	tokens  int
	title   string
}

// emit pushes one envelope at the sink. After the first sink failure
// further emissions are dropped and the turn is settled as aborted.
func (t *turn) emit(env protocol.Envelope) {
	if t.clientGone {
		return
	}
	if err := t.sink(env); err != nil {
		t.clientGone = true
	}
}

// RunTurn executes one turn to completion. The returned error covers
// request validation and turn setup only; once streaming has started all
// failures are settled internally and reported through the envelope
// stream.
func (o *Orchestrator) RunTurn(ctx context.Context, req TurnRequest, sink Sink) error {
	if err := req.Validate(); err != nil {
		return err
	}
	// Disarm any pending summarization before touching the conversation,
	// so a stale summary never races the new turn.
	if req.ConversationID != nil && o.cfg.Scheduler != nil {
		o.cfg.Scheduler.Cancel(*req.ConversationID)
	}

	var (
		t      *turn
		resume *graph.ResumeSignal
		err    error
	)
	if req.Kind() == TurnNewInput {
		t, err = o.beginTurn(ctx, req, sink)
	} else {
		t, resume, err = o.resumeTurn(ctx, req, sink)
	}
	if err != nil {
		return err
	}

	o.consume(ctx, t, resume, req.Kind())
	return nil
}

// beginTurn sets up a new-input turn: loads or creates the conversation,
// persists the human message, the execution record and the AI thinking
// placeholder, then announces the turn on the stream. Every record is
// durable before the first engine event can arrive.
func (o *Orchestrator) beginTurn(ctx context.Context, req TurnRequest, sink Sink) (*turn, error) {
	now := time.Now()

	var conv *chat.Conversation
	if req.ConversationID != nil {
		var err error
		conv, err = o.store.GetConversation(ctx, *req.ConversationID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrConversationNotFound, *req.ConversationID)
		}
		if err != nil {
			return nil, fmt.Errorf("loading conversation: %w", err)
		}
		if conv.Status == chat.ConversationBusy {
			return nil, fmt.Errorf("%w: %s", ErrConversationBusy, conv.ID)
		}
	} else {
		id := uuid.New()
		conv = &chat.Conversation{
			ID:        id,
			AgentKey:  req.AgentKey,
			ThreadID:  id.String(),
			CreatedAt: now,
		}
		if o.cfg.Memory != nil {
			conv.Options.EnableFeature(chat.FeatureMemoryReply)
		}
		if o.cfg.Scheduler != nil && o.cfg.Summarizer != nil {
			conv.Options.EnableFeature(chat.FeatureLongTermMemory)
		}
	}
	conv.Status = chat.ConversationBusy
	conv.Error = ""
	if err := o.store.UpsertConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("persisting conversation: %w", err)
	}

	human := &chat.Message{
		ID:             uuid.New(),
		ConversationID: conv.ID,
		Role:           chat.RoleHuman,
		Content:        req.Input,
		Status:         chat.MessageSuccess,
		Attachments:    req.Files,
		CreatedAt:      now,
	}
	if err := o.store.UpsertMessage(ctx, human); err != nil {
		return nil, fmt.Errorf("persisting human message: %w", err)
	}

	exec := &chat.Execution{
		ID:             uuid.New(),
		ConversationID: conv.ID,
		AgentKey:       conv.AgentKey,
		Status:         chat.ExecutionRunning,
		Inputs:         map[string]any{"input": req.Input},
		CreatedAt:      now,
	}
	if err := o.store.UpsertExecution(ctx, exec); err != nil {
		return nil, fmt.Errorf("persisting execution: %w", err)
	}

	msg := &chat.Message{
		ID:             uuid.New(),
		ConversationID: conv.ID,
		Role:           chat.RoleAI,
		Status:         chat.MessageThinking,
		ExecutionID:    exec.ID,
		CreatedAt:      now.Add(time.Millisecond),
	}
	if err := o.store.UpsertMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("persisting placeholder message: %w", err)
	}

	t := &turn{
		conv: conv, human: human, msg: msg, exec: exec,
		input: req.Input, sink: sink, started: now,
	}
	t.emit(protocol.ConversationEvent(protocol.EventConversationStart, conv))
	t.emit(protocol.MessageEvent(protocol.EventMessageStart, msg))
	return t, nil
}

// resumeTurn sets up a confirm/reject/retry turn. The last AI message and
// its execution are reloaded and the execution resumes under its original
// id: approving or retrying continues the same computation.
func (o *Orchestrator) resumeTurn(ctx context.Context, req TurnRequest, sink Sink) (*turn, *graph.ResumeSignal, error) {
	conv, err := o.store.GetConversation(ctx, *req.ConversationID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, fmt.Errorf("%w: %s", ErrConversationNotFound, *req.ConversationID)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("loading conversation: %w", err)
	}

	var resume *graph.ResumeSignal
	switch req.Kind() {
	case TurnConfirm:
		if conv.Operation == nil {
			return nil, nil, fmt.Errorf("%w: %s", ErrNoPendingOperation, conv.ID)
		}
		resume = &graph.ResumeSignal{Confirmed: true, ToolCalls: req.ToolCalls}
	case TurnReject:
		if conv.Operation == nil {
			return nil, nil, fmt.Errorf("%w: %s", ErrNoPendingOperation, conv.ID)
		}
		resume = &graph.ResumeSignal{Rejected: true}
	case TurnRetry:
		// The engine replays the failed run from its thread checkpoint;
		// no approval payload is attached.
	}

	msg, err := o.store.LastAIMessage(ctx, conv.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("loading last ai message: %w", err)
	}
	exec, err := o.store.GetExecution(ctx, msg.ExecutionID)
	if err != nil {
		return nil, nil, fmt.Errorf("loading execution: %w", err)
	}
	// The resumed turn still summarizes against the utterance that
	// started it; losing it only disables summarization for this turn.
	human, err := o.store.LastHumanMessage(ctx, conv.ID)
	if err != nil {
		o.logger.Warn("loading last human message failed", "error", err, "conversation_id", conv.ID)
		human = nil
	}

	conv.Status = chat.ConversationBusy
	conv.Operation = nil
	conv.Error = ""
	if err := o.store.UpsertConversation(ctx, conv); err != nil {
		return nil, nil, fmt.Errorf("persisting conversation: %w", err)
	}

	exec.Status = chat.ExecutionRunning
	exec.Error = ""
	if err := o.store.UpsertExecution(ctx, exec); err != nil {
		return nil, nil, fmt.Errorf("persisting execution: %w", err)
	}

	msg.Status = chat.MessageThinking
	msg.Error = ""
	if err := o.store.UpsertMessage(ctx, msg); err != nil {
		return nil, nil, fmt.Errorf("persisting message: %w", err)
	}

	input, _ := exec.Inputs["input"].(string)
	t := &turn{
		conv: conv, human: human, msg: msg, exec: exec,
		input: input, sink: sink, started: time.Now(),
	}
	t.emit(protocol.ConversationEvent(protocol.EventConversationStart, conv))
	t.emit(protocol.MessageEvent(protocol.EventMessageStart, msg))
	return t, resume, nil
}

// consume runs the streaming phase: memory short circuit, engine
// invocation, the event loop, and the deferred finalize that settles the
// turn exactly once on every exit path.
func (o *Orchestrator) consume(ctx context.Context, t *turn, resume *graph.ResumeSignal, kind TurnKind) {
	result := outcomeSuccess
	var termErr error
	defer func() {
		o.finalize(ctx, t, result, termErr)
	}()

	// Only a fresh utterance may be answered from memory; a retry replays
	// the engine run the user asked to repeat.
	if kind == TurnNewInput && o.answerFromMemory(ctx, t) {
		return
	}

	// The engine gets its own cancel scope so an early exit (sink gone,
	// engine error) releases its stream goroutine.
	engineCtx, stopEngine := context.WithCancel(ctx)
	defer stopEngine()

	events, err := o.engine.Invoke(engineCtx, t.conv.ThreadID, t.input, resume)
	if err != nil {
		result, termErr = outcomeError, err
		return
	}

	for {
		select {
		case <-ctx.Done():
			result, termErr = outcomeAborted, ctx.Err()
			return
		case ev, ok := <-events:
			if !ok {
				// Stream closed without a terminal event: treat as
				// complete with whatever was accumulated.
				return
			}
			switch ev.Type {
			case graph.EventError:
				result, termErr = outcomeError, ev.Err
				return
			case graph.EventComplete:
				t.outputs = ev.Outputs
				t.tokens = ev.TokensUsed
				t.title = ev.Title
				return
			case graph.EventInterrupt:
				o.handleInterrupt(ctx, t, ev)
				result = outcomeInterrupted
				return
			default:
				o.handleEvent(ctx, t, ev)
			}
			if t.clientGone {
				result, termErr = outcomeAborted, errClientClosed
				return
			}
		}
	}
}

// answerFromMemory serves the turn straight from long-term memory when a
// stored item matches the input closely enough, skipping the engine.
func (o *Orchestrator) answerFromMemory(ctx context.Context, t *turn) bool {
	if o.cfg.Memory == nil || !t.conv.Options.Feature(chat.FeatureMemoryReply) {
		return false
	}
	items, err := o.cfg.Memory.Search(ctx, t.conv.AgentKey, t.input, 1)
	if err != nil {
		o.logger.Warn("memory lookup failed", "error", err, "conversation_id", t.conv.ID)
		return false
	}
	if len(items) == 0 || items[0].Score < o.cfg.ReplyThreshold {
		return false
	}
	answer, _ := items[0].Value["answer"].(string)
	if answer == "" {
		return false
	}

	o.logger.Info("answering from memory",
		"conversation_id", t.conv.ID, "score", items[0].Score, "key", items[0].Key)
	t.msg.Status = chat.MessageAnswering
	t.msg.AppendText(answer)
	t.emit(protocol.TextMessage(answer))
	t.outputs = map[string]any{"memory_reply": true, "memory_key": items[0].Key}
	return true
}

// handleEvent translates one non-terminal engine event into message
// mutations and protocol envelopes.
func (o *Orchestrator) handleEvent(ctx context.Context, t *turn, ev graph.Event) {
	switch ev.Type {
	case graph.EventTextDelta:
		if t.msg.Status == chat.MessageThinking {
			t.msg.Status = chat.MessageAnswering
		}
		t.msg.AppendText(ev.Text)
		t.emit(protocol.TextMessage(ev.Text))

	case graph.EventContent:
		if ev.Block == nil {
			return
		}
		if t.msg.Status == chat.MessageThinking {
			t.msg.Status = chat.MessageAnswering
		}
		t.msg.AppendBlock(*ev.Block)
		t.emit(protocol.BlockMessage(*ev.Block))

	case graph.EventAgentStart, graph.EventAgentEnd:
		if ev.Execution == nil {
			return
		}
		sub := *ev.Execution
		if sub.ID == uuid.Nil {
			sub.ID = uuid.New()
		}
		sub.ConversationID = t.conv.ID
		sub.ParentID = &t.exec.ID
		if sub.CreatedAt.IsZero() {
			sub.CreatedAt = time.Now()
		}
		t.msg.UpsertSubExecution(sub)
		name := protocol.EventAgentStart
		if ev.Type == graph.EventAgentEnd {
			name = protocol.EventAgentEnd
		}
		t.emit(protocol.ExecutionEvent(name, &sub))

	case graph.EventToolMessage:
		if ev.Step == nil {
			return
		}
		step := *ev.Step
		if step.ID == uuid.Nil {
			step.ID = uuid.New()
		}
		if step.CreatedAt.IsZero() {
			step.CreatedAt = time.Now()
		}
		t.msg.AddStep(step)
		if !t.canvasOpen {
			t.canvasOpen = true
			t.emit(protocol.ChatEvent(map[string]any{"canvas": "opened"}))
		}
		t.emit(protocol.StepEvent(&step))

	case graph.EventChat:
		for k, v := range ev.Data {
			if enabled, ok := v.(bool); ok {
				if enabled {
					t.conv.Options.EnableFeature(k)
				}
				continue
			}
			if t.conv.Options.Parameters == nil {
				t.conv.Options.Parameters = make(map[string]any)
			}
			t.conv.Options.Parameters[k] = v
		}
		if err := o.store.UpsertConversation(ctx, t.conv); err != nil {
			o.logger.Error("persisting conversation options failed",
				"error", err, "conversation_id", t.conv.ID)
		}
		t.emit(protocol.ChatEvent(ev.Data))
	}
}

// handleInterrupt pauses the turn on a sensitive operation. The engine
// holds the run at its checkpoint; a later confirm/reject resumes it.
func (o *Orchestrator) handleInterrupt(ctx context.Context, t *turn, ev graph.Event) {
	op := &chat.SensitiveOperation{}
	if ev.Operation != nil {
		*op = *ev.Operation
	}
	op.MessageID = t.msg.ID
	if op.AgentKey == "" {
		op.AgentKey = t.conv.AgentKey
	}
	t.conv.Operation = op
	t.msg.Status = chat.MessageInterrupted
	t.emit(protocol.InterruptEvent(op))
}

// finalize settles the turn exactly once: it fixes the terminal statuses
// of execution, message and conversation, persists them, emits the
// closing message-end/conversation-end events and, when the conversation
// lands idle with long-term memory enabled, schedules summarization.
//
// Finalization survives caller cancellation (persistence runs on a
// detached context) and is idempotent across crash-replay: a stored
// execution already in a terminal status is left untouched.
func (o *Orchestrator) finalize(ctx context.Context, t *turn, result outcome, termErr error) {
	if t == nil || t.finalized {
		return
	}
	t.finalized = true
	ctx = context.WithoutCancel(ctx)

	if stored, err := o.store.GetExecution(ctx, t.exec.ID); err == nil && stored.Terminal() {
		o.logger.Debug("execution already settled", "execution_id", t.exec.ID, "status", stored.Status)
		return
	}

	t.exec.Elapsed = time.Since(t.started)
	t.exec.TokensUsed = t.tokens
	if t.outputs != nil {
		t.exec.Outputs = t.outputs
	}

	switch result {
	case outcomeSuccess:
		t.exec.Status = chat.ExecutionSuccess
		t.msg.Status = chat.MessageSuccess
		t.conv.Status = chat.ConversationIdle
		t.conv.Operation = nil
		t.conv.Error = ""

	case outcomeAborted:
		// The partial answer stands as a complete message; only the
		// execution records why the run stopped short.
		t.exec.Status = chat.ExecutionError
		t.exec.Error = fmt.Sprintf("aborted: %v", termErr)
		t.msg.Status = chat.MessageSuccess
		t.conv.Status = chat.ConversationIdle
		t.conv.Operation = nil
		t.conv.Error = ""

	case outcomeError:
		t.exec.Status = chat.ExecutionError
		t.exec.Error = termErr.Error()
		t.msg.Status = chat.MessageError
		t.msg.Error = termErr.Error()
		t.conv.Status = chat.ConversationError
		t.conv.Error = termErr.Error()

	case outcomeInterrupted:
		t.exec.Status = chat.ExecutionInterrupted
		t.conv.Status = chat.ConversationInterrupted
	}

	if t.conv.Title == "" {
		switch {
		case t.title != "":
			t.conv.Title = t.title
		case t.input != "":
			t.conv.Title = chat.TruncateTitle(t.input)
		}
	}

	if err := o.store.UpsertExecution(ctx, t.exec); err != nil {
		o.logger.Error("persisting terminal execution failed", "error", err, "execution_id", t.exec.ID)
	}
	if err := o.store.UpsertMessage(ctx, t.msg); err != nil {
		o.logger.Error("persisting terminal message failed", "error", err, "message_id", t.msg.ID)
	}
	if err := o.store.UpsertConversation(ctx, t.conv); err != nil {
		o.logger.Error("persisting terminal conversation failed", "error", err, "conversation_id", t.conv.ID)
	}

	t.emit(protocol.MessageEvent(protocol.EventMessageEnd, t.msg))
	t.emit(protocol.ConversationEvent(protocol.EventConversationEnd, t.conv))

	o.logger.Info("turn settled",
		"conversation_id", t.conv.ID,
		"execution_id", t.exec.ID,
		"status", t.exec.Status,
		"elapsed", t.exec.Elapsed,
	)

	if t.conv.Status == chat.ConversationIdle &&
		t.conv.Options.Feature(chat.FeatureLongTermMemory) &&
		o.cfg.Scheduler != nil && o.cfg.Summarizer != nil && t.human != nil {
		human, ai, namespace := t.human, t.msg, t.conv.AgentKey
		convID := t.conv.ID
		o.cfg.Scheduler.Schedule(convID, func(jobCtx context.Context) {
			if err := o.cfg.Summarizer.SummarizeTurn(jobCtx, namespace, human, ai); err != nil {
				o.logger.Error("turn summarization failed", "error", err, "conversation_id", convID)
			}
		})
	}
}
