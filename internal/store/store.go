// Package store provides the persistence collaborator for conversations,
// messages and executions. All upserts are idempotent: re-upserting with
// the same id overwrites, never duplicates.
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/xpert-ai/xpert-sub004/internal/chat"
)

// ErrNotFound indicates the requested row does not exist.
var ErrNotFound = errors.New("not found")

// Store is the interface consumed by the orchestrator. Defined here by
// the consumer side; implementations live in this package (Postgres,
// in-memory).
type Store interface {
	UpsertConversation(ctx context.Context, c *chat.Conversation) error
	GetConversation(ctx context.Context, id uuid.UUID) (*chat.Conversation, error)

	UpsertMessage(ctx context.Context, m *chat.Message) error
	GetMessage(ctx context.Context, id uuid.UUID) (*chat.Message, error)
	// LastAIMessage and LastHumanMessage return the most recent message
	// of each role for the conversation, used when a confirm/reject/retry
	// re-enters a turn.
	LastAIMessage(ctx context.Context, conversationID uuid.UUID) (*chat.Message, error)
	LastHumanMessage(ctx context.Context, conversationID uuid.UUID) (*chat.Message, error)

	UpsertExecution(ctx context.Context, e *chat.Execution) error
	GetExecution(ctx context.Context, id uuid.UUID) (*chat.Execution, error)
	CountExecutions(ctx context.Context, conversationID uuid.UUID) (int, error)
}
