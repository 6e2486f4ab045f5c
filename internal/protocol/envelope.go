// Package protocol defines the wire contract for one conversational turn:
// an ordered stream of envelopes carrying either content deltas (MESSAGE)
// or lifecycle markers (EVENT), framed as Server-Sent Events.
package protocol

import (
	"github.com/xpert-ai/xpert-sub004/internal/chat"
)

// Kind discriminates the two envelope families.
type Kind string

const (
	KindMessage Kind = "message"
	KindEvent   Kind = "event"
)

// EventName is the closed set of lifecycle event names.
type EventName string

const (
	EventConversationStart EventName = "conversation-start"
	EventConversationEnd   EventName = "conversation-end"
	EventMessageStart      EventName = "message-start"
	EventMessageEnd        EventName = "message-end"
	EventAgentStart        EventName = "agent-start"
	EventAgentEnd          EventName = "agent-end"
	EventToolMessage       EventName = "tool-message"
	EventInterrupt         EventName = "interrupt"
	EventChat              EventName = "chat-event"
)

// Envelope is one protocol frame. For KindMessage exactly one of Text or
// Block is set; for KindEvent, Event names the lifecycle marker and the
// matching snapshot field carries the entity state.
type Envelope struct {
	Kind Kind `json:"type"`

	// MESSAGE payload: a raw text delta or a structured content block.
	Text  string             `json:"text,omitempty"`
	Block *chat.ContentBlock `json:"block,omitempty"`

	// EVENT payload.
	Event        EventName                `json:"event,omitempty"`
	Conversation *chat.Conversation       `json:"conversation,omitempty"`
	Message      *chat.Message            `json:"message,omitempty"`
	Execution    *chat.Execution          `json:"execution,omitempty"`
	Step         *chat.Step               `json:"step,omitempty"`
	Operation    *chat.SensitiveOperation `json:"operation,omitempty"`
	Data         map[string]any           `json:"data,omitempty"`
}

// TextMessage wraps a text delta to append to the streaming text block.
func TextMessage(delta string) Envelope {
	return Envelope{Kind: KindMessage, Text: delta}
}

// BlockMessage wraps a structured content block.
func BlockMessage(b chat.ContentBlock) Envelope {
	return Envelope{Kind: KindMessage, Block: &b}
}

// ConversationEvent wraps a conversation snapshot.
func ConversationEvent(name EventName, c *chat.Conversation) Envelope {
	return Envelope{Kind: KindEvent, Event: name, Conversation: c}
}

// MessageEvent wraps a message snapshot.
func MessageEvent(name EventName, m *chat.Message) Envelope {
	return Envelope{Kind: KindEvent, Event: name, Message: m}
}

// ExecutionEvent wraps an execution snapshot (agent-start/agent-end).
func ExecutionEvent(name EventName, e *chat.Execution) Envelope {
	return Envelope{Kind: KindEvent, Event: name, Execution: e}
}

// StepEvent wraps a tool step.
func StepEvent(s *chat.Step) Envelope {
	return Envelope{Kind: KindEvent, Event: EventToolMessage, Step: s}
}

// InterruptEvent wraps a sensitive operation awaiting approval.
func InterruptEvent(op *chat.SensitiveOperation) Envelope {
	return Envelope{Kind: KindEvent, Event: EventInterrupt, Operation: op}
}

// ChatEvent wraps a generic out-of-band event payload.
func ChatEvent(data map[string]any) Envelope {
	return Envelope{Kind: KindEvent, Event: EventChat, Data: data}
}
