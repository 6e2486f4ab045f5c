package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/xpert-ai/xpert-sub004/internal/chat"
)

// Memory is an in-process Store used by tests and storeless development
// mode. Safe for concurrent use. Values are deep-copied on the way in and
// out so callers cannot alias stored state.
type Memory struct {
	mu            sync.RWMutex
	conversations map[uuid.UUID]*chat.Conversation
	messages      map[uuid.UUID]*chat.Message
	order         []uuid.UUID // message insertion order
	executions    map[uuid.UUID]*chat.Execution
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		conversations: make(map[uuid.UUID]*chat.Conversation),
		messages:      make(map[uuid.UUID]*chat.Message),
		executions:    make(map[uuid.UUID]*chat.Execution),
	}
}

func clone[T any](v *T) *T {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("store: clone marshal: %v", err))
	}
	out := new(T)
	if err := json.Unmarshal(data, out); err != nil {
		panic(fmt.Sprintf("store: clone unmarshal: %v", err))
	}
	return out
}

func (s *Memory) UpsertConversation(_ context.Context, c *chat.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[c.ID] = clone(c)
	return nil
}

func (s *Memory) GetConversation(_ context.Context, id uuid.UUID) (*chat.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	return clone(c), nil
}

func (s *Memory) UpsertMessage(_ context.Context, m *chat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[m.ID]; !ok {
		s.order = append(s.order, m.ID)
	}
	s.messages[m.ID] = clone(m)
	return nil
}

func (s *Memory) GetMessage(_ context.Context, id uuid.UUID) (*chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	return clone(m), nil
}

func (s *Memory) LastAIMessage(_ context.Context, conversationID uuid.UUID) (*chat.Message, error) {
	return s.lastByRole(conversationID, chat.RoleAI)
}

func (s *Memory) LastHumanMessage(_ context.Context, conversationID uuid.UUID) (*chat.Message, error) {
	return s.lastByRole(conversationID, chat.RoleHuman)
}

func (s *Memory) lastByRole(conversationID uuid.UUID, role chat.Role) (*chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.order) - 1; i >= 0; i-- {
		m := s.messages[s.order[i]]
		if m.ConversationID == conversationID && m.Role == role {
			return clone(m), nil
		}
	}
	return nil, fmt.Errorf("%s message for conversation %s: %w", role, conversationID, ErrNotFound)
}

func (s *Memory) UpsertExecution(_ context.Context, e *chat.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions[e.ID] = clone(e)
	return nil
}

func (s *Memory) GetExecution(_ context.Context, id uuid.UUID) (*chat.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.executions[id]
	if !ok {
		return nil, fmt.Errorf("execution %s: %w", id, ErrNotFound)
	}
	return clone(e), nil
}

func (s *Memory) CountExecutions(_ context.Context, conversationID uuid.UUID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, e := range s.executions {
		if e.ConversationID == conversationID {
			n++
		}
	}
	return n, nil
}

// Messages returns all messages of a conversation in insertion order.
// Test helper; the production read path goes through the API layer.
func (s *Memory) Messages(conversationID uuid.UUID) []*chat.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*chat.Message
	for _, id := range s.order {
		m := s.messages[id]
		if m.ConversationID == conversationID {
			out = append(out, clone(m))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
