// Package chat defines the domain model for conversational turns:
// conversations, messages with typed content blocks, executions (runs),
// tool steps and sensitive operations awaiting user approval.
package chat

import (
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/google/uuid"
)

// ConversationStatus is the lifecycle state of a conversation.
type ConversationStatus string

const (
	ConversationIdle        ConversationStatus = "idle"
	ConversationBusy        ConversationStatus = "busy"
	ConversationError       ConversationStatus = "error"
	ConversationInterrupted ConversationStatus = "interrupted"
)

// MessageStatus is the lifecycle state of a single message.
type MessageStatus string

const (
	MessageThinking    MessageStatus = "thinking"
	MessageAnswering   MessageStatus = "answering"
	MessageReasoning   MessageStatus = "reasoning"
	MessageSuccess     MessageStatus = "success"
	MessageError       MessageStatus = "error"
	MessageAborted     MessageStatus = "aborted"
	MessageInterrupted MessageStatus = "interrupted"
)

// Role identifies the author of a message.
type Role string

const (
	RoleHuman Role = "human"
	RoleAI    Role = "ai"
)

// ExecutionStatus is the lifecycle state of one agent run.
type ExecutionStatus string

const (
	ExecutionRunning     ExecutionStatus = "running"
	ExecutionSuccess     ExecutionStatus = "success"
	ExecutionError       ExecutionStatus = "error"
	ExecutionInterrupted ExecutionStatus = "interrupted"
)

// Options holds the per-conversation settings selected by the user plus
// feature flags merged in by out-of-band engine events.
type Options struct {
	KnowledgeBases []string        `json:"knowledgeBases,omitempty"`
	Toolsets       []string        `json:"toolsets,omitempty"`
	Parameters     map[string]any  `json:"parameters,omitempty"`
	Features       map[string]bool `json:"features,omitempty"`
}

// Well-known feature flags.
const (
	// FeatureMemoryReply allows answering straight from long-term memory
	// when a stored item matches the input closely enough.
	FeatureMemoryReply = "memory_reply"
	// FeatureLongTermMemory enables summarizing finished turns into
	// long-term memory.
	FeatureLongTermMemory = "long_term_memory"
)

// Feature reports whether the named feature is enabled.
func (o Options) Feature(name string) bool {
	return o.Features[name]
}

// EnableFeature turns the named feature on, allocating the map if needed.
func (o *Options) EnableFeature(name string) {
	if o.Features == nil {
		o.Features = make(map[string]bool)
	}
	o.Features[name] = true
}

// Conversation is the durable record of one chat thread.
//
// ThreadID correlates the conversation with the agent graph engine's own
// checkpoint so an interrupted run can be resumed by thread.
type Conversation struct {
	ID        uuid.UUID           `json:"id"`
	Status    ConversationStatus  `json:"status"`
	Title     string              `json:"title,omitempty"`
	AgentKey  string              `json:"agentKey"`
	ThreadID  string              `json:"threadId"`
	Options   Options             `json:"options"`
	Operation *SensitiveOperation `json:"operation,omitempty"`
	Error     string              `json:"error,omitempty"`
	CreatedAt time.Time           `json:"createdAt"`
	UpdatedAt time.Time           `json:"updatedAt"`
}

// Message is one utterance in a conversation. The human message is
// persisted verbatim when a turn starts; the AI message is persisted as an
// empty thinking placeholder before streaming begins and mutated in place
// as deltas arrive.
//
// Content and Blocks are mutually exclusive: a message carries either
// plain text or an ordered list of typed content blocks.
type Message struct {
	ID             uuid.UUID      `json:"id"`
	ConversationID uuid.UUID      `json:"conversationId"`
	Role           Role           `json:"role"`
	Content        string         `json:"content,omitempty"`
	Blocks         []ContentBlock `json:"blocks,omitempty"`
	Status         MessageStatus  `json:"status"`
	ExecutionID    uuid.UUID      `json:"executionId,omitempty"`
	Steps          []Step         `json:"steps,omitempty"`
	SubExecutions  []Execution    `json:"subExecutions,omitempty"`
	Attachments    []string       `json:"attachments,omitempty"`
	Error          string         `json:"error,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// AppendText appends a streamed text delta. Plain-text content is
// concatenated; block content extends the last text block or pushes a new
// one. Earlier blocks are never modified.
func (m *Message) AppendText(delta string) {
	if delta == "" {
		return
	}
	if len(m.Blocks) == 0 {
		m.Content += delta
		return
	}
	last := &m.Blocks[len(m.Blocks)-1]
	if last.Type == BlockText {
		last.Text += delta
		return
	}
	m.Blocks = append(m.Blocks, ContentBlock{Type: BlockText, Text: delta})
}

// AppendBlock appends a structured content block, merging into the open
// last block when the block's merge rule allows it. If the message still
// holds plain text, the text is converted into a leading text block first.
func (m *Message) AppendBlock(b ContentBlock) {
	if m.Content != "" && len(m.Blocks) == 0 {
		m.Blocks = []ContentBlock{{Type: BlockText, Text: m.Content}}
		m.Content = ""
	}
	if n := len(m.Blocks); n > 0 {
		last := &m.Blocks[n-1]
		if last.CanMerge(b) {
			last.Merge(b)
			return
		}
	}
	m.Blocks = append(m.Blocks, b)
}

// Text returns the message's textual content, flattening blocks.
func (m *Message) Text() string {
	if len(m.Blocks) == 0 {
		return m.Content
	}
	var out string
	for _, b := range m.Blocks {
		if b.Type == BlockText {
			out += b.Text
		}
	}
	return out
}

// AddStep appends a tool step. Steps are append-only.
func (m *Message) AddStep(s Step) {
	m.Steps = append(m.Steps, s)
}

// UpsertSubExecution replaces the sub-execution with the same id or
// appends it when unseen. Sub-executions represent delegated agents or
// tool invocations nested inside one turn.
func (m *Message) UpsertSubExecution(e Execution) {
	for i := range m.SubExecutions {
		if m.SubExecutions[i].ID == e.ID {
			m.SubExecutions[i] = e
			return
		}
	}
	m.SubExecutions = append(m.SubExecutions, e)
}

// Execution is the record of one underlying agent computation (a "run").
// A confirm/reject/retry continues the same execution id because it
// resumes the same computation rather than starting a new one.
type Execution struct {
	ID             uuid.UUID       `json:"id"`
	ConversationID uuid.UUID       `json:"conversationId"`
	AgentKey       string          `json:"agentKey"`
	Status         ExecutionStatus `json:"status"`
	Inputs         map[string]any  `json:"inputs,omitempty"`
	Outputs        map[string]any  `json:"outputs,omitempty"`
	Elapsed        time.Duration   `json:"elapsed"`
	TokensUsed     int             `json:"tokensUsed"`
	ParentID       *uuid.UUID      `json:"parentId,omitempty"`
	Error          string          `json:"error,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// Terminal reports whether the execution has reached a terminal status.
func (e *Execution) Terminal() bool {
	return e.Status != ExecutionRunning
}

// Step is one tool output appended to the AI message during a turn.
type Step struct {
	ID        uuid.UUID      `json:"id"`
	ToolName  string         `json:"toolName"`
	Message   string         `json:"message,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// ToolCall is one proposed tool/agent invocation inside a sensitive
// operation. Schema declares the call's parameters so the client can
// render and validate edits before confirming.
type ToolCall struct {
	ID        string             `json:"id"`
	Name      string             `json:"name"`
	Arguments map[string]any     `json:"arguments,omitempty"`
	Schema    *jsonschema.Schema `json:"schema,omitempty"`
}

// SensitiveOperation is the interrupt payload: the set of proposed calls
// the engine paused on, awaiting user confirmation or rejection. While
// present the conversation status is interrupted.
type SensitiveOperation struct {
	MessageID uuid.UUID  `json:"messageId"`
	AgentKey  string     `json:"agentKey"`
	ToolCalls []ToolCall `json:"toolCalls"`
}
