package memory

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xpert-ai/xpert-sub004/internal/chat"
)

// Putter is the slice of Store the summarizer needs.
type Putter interface {
	Put(ctx context.Context, namespace, key string, value map[string]any) error
}

// Summarizer condenses a finished turn into a QA memory item keyed by the
// human message id and stores it under the agent's namespace.
type Summarizer struct {
	store  Putter
	logger *slog.Logger
}

// NewSummarizer creates a Summarizer.
func NewSummarizer(store Putter, logger *slog.Logger) *Summarizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Summarizer{store: store, logger: logger}
}

// SummarizeTurn stores the question/answer pair of a completed turn.
func (s *Summarizer) SummarizeTurn(ctx context.Context, namespace string, human, ai *chat.Message) error {
	if human == nil || ai == nil {
		return fmt.Errorf("both messages are required")
	}
	answer := ai.Text()
	if answer == "" {
		return nil // nothing worth remembering
	}

	value := map[string]any{
		"question":        human.Content,
		"answer":          answer,
		"conversation_id": human.ConversationID.String(),
	}
	if err := s.store.Put(ctx, namespace, human.ID.String(), value); err != nil {
		return fmt.Errorf("storing turn summary: %w", err)
	}
	s.logger.Debug("summarized turn", "namespace", namespace, "message_id", human.ID)
	return nil
}
