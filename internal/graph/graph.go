// Package graph defines the collaborator interface for the agent graph
// engine: the external component that, given a turn's input and prior
// thread state, emits an ordered stream of domain events and eventually
// completes, errors, or is cancelled. The engine's internal planning and
// tool-calling logic is out of scope; this package only fixes the
// contract the orchestrator consumes.
package graph

import (
	"context"

	"github.com/xpert-ai/xpert-sub004/internal/chat"
)

// EventType discriminates engine events.
type EventType int

const (
	// EventTextDelta carries a partial text chunk of the answer.
	EventTextDelta EventType = iota
	// EventContent carries a structured content block (tool artifact,
	// chart, file reference), possibly an incremental update to the
	// previous block of the same component.
	EventContent
	// EventAgentStart marks a delegated sub-agent or tool run starting.
	EventAgentStart
	// EventAgentEnd marks a delegated run finishing.
	EventAgentEnd
	// EventToolMessage carries one tool output step.
	EventToolMessage
	// EventInterrupt pauses the run for human approval of sensitive calls.
	EventInterrupt
	// EventChat is an out-of-band engine notification, e.g. a sandbox
	// was provisioned; the payload is merged into conversation options.
	EventChat
	// EventError terminates the stream with an upstream failure.
	EventError
	// EventComplete terminates the stream successfully.
	EventComplete
)

// Event is one engine emission. Exactly the fields matching Type are set.
type Event struct {
	Type EventType

	Text      string
	Block     *chat.ContentBlock
	Execution *chat.Execution
	Step      *chat.Step
	Operation *chat.SensitiveOperation
	Data      map[string]any

	Err error

	// Terminal completion payload.
	Outputs    map[string]any
	TokensUsed int
	Title      string
}

// ResumeSignal carries the user's decision when re-entering a previously
// interrupted run. Confirmed runs may carry edited tool call arguments.
type ResumeSignal struct {
	Confirmed bool
	Rejected  bool
	ToolCalls []chat.ToolCall
}

// Engine is the agent graph engine collaborator. Invoke opens the event
// stream for one turn; events are delivered in emission order and the
// channel closes after a terminal event or when ctx is cancelled. Resuming
// an interrupted run reuses the same thread id with a non-nil resume
// signal.
type Engine interface {
	Invoke(ctx context.Context, threadID, input string, resume *ResumeSignal) (<-chan Event, error)
}
