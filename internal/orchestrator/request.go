package orchestrator

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/xpert-ai/xpert-sub004/internal/chat"
)

var (
	// ErrConversationBusy indicates a new-input turn targeted a
	// conversation that already has a running execution.
	ErrConversationBusy = errors.New("conversation is busy")

	// ErrConversationNotFound indicates the referenced conversation does
	// not exist.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrNoPendingOperation indicates a confirm/reject arrived while no
	// sensitive operation was awaiting approval.
	ErrNoPendingOperation = errors.New("no pending operation")

	// ErrInvalidRequest indicates a malformed turn request.
	ErrInvalidRequest = errors.New("invalid turn request")
)

// TurnKind classifies a turn request.
type TurnKind int

const (
	TurnNewInput TurnKind = iota
	TurnConfirm
	TurnReject
	TurnRetry
)

// TurnRequest is one client request entering the turn pipeline: either a
// new human utterance, or a confirm/reject/retry against an existing
// conversation. Confirm may carry edited tool call arguments.
type TurnRequest struct {
	ConversationID *uuid.UUID      `json:"conversationId,omitempty"`
	AgentKey       string          `json:"agentId,omitempty"`
	Input          string          `json:"input,omitempty"`
	Files          []string        `json:"files,omitempty"`
	Confirm        bool            `json:"confirm,omitempty"`
	ToolCalls      []chat.ToolCall `json:"toolCalls,omitempty"`
	Reject         bool            `json:"reject,omitempty"`
	Retry          bool            `json:"retry,omitempty"`
}

// Kind classifies the request. Confirm/reject/retry are mutually
// exclusive; when none is set the request is a new-input turn.
func (r TurnRequest) Kind() TurnKind {
	switch {
	case r.Confirm:
		return TurnConfirm
	case r.Reject:
		return TurnReject
	case r.Retry:
		return TurnRetry
	default:
		return TurnNewInput
	}
}

// Validate checks structural validity of the request.
func (r TurnRequest) Validate() error {
	set := 0
	for _, b := range []bool{r.Confirm, r.Reject, r.Retry} {
		if b {
			set++
		}
	}
	if set > 1 {
		return fmt.Errorf("%w: confirm, reject and retry are mutually exclusive", ErrInvalidRequest)
	}
	if r.Kind() == TurnNewInput {
		if r.Input == "" {
			return fmt.Errorf("%w: input is required", ErrInvalidRequest)
		}
		return nil
	}
	if r.ConversationID == nil {
		return fmt.Errorf("%w: conversationId is required", ErrInvalidRequest)
	}
	return nil
}
