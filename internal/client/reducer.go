// Package client maintains a local projection of one conversation from
// the server's envelope stream, and drives turns over a pluggable
// transport. The projection converges to the server's persisted state by
// applying envelopes in arrival order.
package client

import (
	"log/slog"
	"sync"

	"github.com/xpert-ai/xpert-sub004/internal/chat"
	"github.com/xpert-ai/xpert-sub004/internal/protocol"
)

// Reducer folds an envelope stream into a local conversation projection.
// All mutation goes through Apply under a single mutex, so one Reducer
// owns one conversation.
type Reducer struct {
	mu            sync.Mutex
	conv          *chat.Conversation
	messages      []*chat.Message
	answering     bool
	canvasOpen    bool
	sawMessageEnd bool
	logger        *slog.Logger
}

// NewReducer creates an empty projection.
func NewReducer(logger *slog.Logger) *Reducer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reducer{logger: logger}
}

// Conversation returns the current conversation snapshot, nil before the
// first conversation-start.
func (r *Reducer) Conversation() *chat.Conversation {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conv == nil {
		return nil
	}
	c := *r.conv
	return &c
}

// Messages returns copies of the projected messages in order.
func (r *Reducer) Messages() []chat.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]chat.Message, len(r.messages))
	for i, m := range r.messages {
		out[i] = *m
	}
	return out
}

// Answering reports whether a turn stream is currently producing output.
func (r *Reducer) Answering() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.answering
}

// CanvasOpen reports whether the side panel for tool output has been
// opened during the current conversation.
func (r *Reducer) CanvasOpen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.canvasOpen
}

// PendingOperation returns the sensitive operation awaiting a decision,
// if any.
func (r *Reducer) PendingOperation() *chat.SensitiveOperation {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conv == nil || r.conv.Operation == nil {
		return nil
	}
	op := *r.conv.Operation
	return &op
}

// AddHumanMessage appends the user's utterance locally before the stream
// opens, so the UI renders it immediately.
func (r *Reducer) AddHumanMessage(m chat.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m.Role = chat.RoleHuman
	r.messages = append(r.messages, &m)
}

// Apply folds one envelope into the projection.
func (r *Reducer) Apply(env protocol.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch env.Kind {
	case protocol.KindMessage:
		msg := r.currentAI()
		if msg == nil {
			r.logger.Warn("dropping content delta with no open ai message")
			return
		}
		if env.Block != nil {
			msg.AppendBlock(*env.Block)
		} else {
			msg.AppendText(env.Text)
		}
		if msg.Status == chat.MessageThinking {
			msg.Status = chat.MessageAnswering
		}
		r.answering = true

	case protocol.KindEvent:
		r.applyEvent(env)
	}
}

func (r *Reducer) applyEvent(env protocol.Envelope) {
	switch env.Event {
	case protocol.EventConversationStart:
		if env.Conversation != nil {
			c := *env.Conversation
			r.conv = &c
		}
		r.answering = true
		r.sawMessageEnd = false

	case protocol.EventMessageStart:
		if env.Message == nil {
			return
		}
		m := *env.Message
		// A resumed turn restarts the message it interrupted; a fresh
		// turn introduces a new one.
		if last := r.lastAI(); last != nil && last.ID == m.ID {
			*last = m
			return
		}
		r.messages = append(r.messages, &m)

	case protocol.EventMessageEnd:
		if env.Message == nil {
			return
		}
		m := *env.Message
		for i := range r.messages {
			if r.messages[i].ID == m.ID {
				r.messages[i] = &m
				r.sawMessageEnd = true
				return
			}
		}
		r.messages = append(r.messages, &m)
		r.sawMessageEnd = true

	case protocol.EventConversationEnd:
		if env.Conversation != nil {
			c := *env.Conversation
			r.conv = &c
		}
		r.answering = false

	case protocol.EventAgentStart, protocol.EventAgentEnd:
		if msg := r.currentAI(); msg != nil && env.Execution != nil {
			msg.UpsertSubExecution(*env.Execution)
		}

	case protocol.EventToolMessage:
		if msg := r.currentAI(); msg != nil && env.Step != nil {
			msg.AddStep(*env.Step)
			// Tool output renders on the side panel; open it if needed.
			r.canvasOpen = true
		}

	case protocol.EventInterrupt:
		if r.conv != nil && env.Operation != nil {
			op := *env.Operation
			r.conv.Operation = &op
			r.conv.Status = chat.ConversationInterrupted
		}
		if msg := r.currentAI(); msg != nil {
			msg.Status = chat.MessageInterrupted
		}

	case protocol.EventChat:
		if env.Data["canvas"] == "opened" {
			r.canvasOpen = true
		}
		if r.conv == nil {
			return
		}
		for k, v := range env.Data {
			if enabled, ok := v.(bool); ok {
				if enabled {
					r.conv.Options.EnableFeature(k)
				}
				continue
			}
			if r.conv.Options.Parameters == nil {
				r.conv.Options.Parameters = make(map[string]any)
			}
			r.conv.Options.Parameters[k] = v
		}
	}
}

// FinishStream marks the end of one turn stream. On an abnormal close
// (no message-end arrived) a message stuck in a streaming status is
// promoted to success so the partial answer renders as a complete one.
func (r *Reducer) FinishStream() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.answering = false
	if r.sawMessageEnd {
		return
	}
	if msg := r.lastAI(); msg != nil {
		switch msg.Status {
		case chat.MessageThinking, chat.MessageAnswering, chat.MessageReasoning:
			msg.Status = chat.MessageSuccess
		}
	}
	if r.conv != nil && r.conv.Status == chat.ConversationBusy {
		r.conv.Status = chat.ConversationIdle
	}
}

// currentAI returns the last AI message if it is still open for content.
func (r *Reducer) currentAI() *chat.Message {
	msg := r.lastAI()
	if msg == nil {
		return nil
	}
	switch msg.Status {
	case chat.MessageThinking, chat.MessageAnswering, chat.MessageReasoning, chat.MessageInterrupted:
		return msg
	}
	return nil
}

func (r *Reducer) lastAI() *chat.Message {
	for i := len(r.messages) - 1; i >= 0; i-- {
		if r.messages[i].Role == chat.RoleAI {
			return r.messages[i]
		}
	}
	return nil
}
