package memory

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/xpert-ai/xpert-sub004/internal/chat"
	"github.com/xpert-ai/xpert-sub004/internal/log"
)

type fakePutter struct {
	namespace string
	key       string
	value     map[string]any
	calls     int
}

func (p *fakePutter) Put(_ context.Context, namespace, key string, value map[string]any) error {
	p.calls++
	p.namespace, p.key, p.value = namespace, key, value
	return nil
}

func TestSummarizeTurn(t *testing.T) {
	putter := &fakePutter{}
	s := NewSummarizer(putter, log.NewNop())

	convID := uuid.New()
	human := &chat.Message{ID: uuid.New(), ConversationID: convID, Role: chat.RoleHuman, Content: "capital of France?"}
	ai := &chat.Message{ID: uuid.New(), ConversationID: convID, Role: chat.RoleAI, Content: "Paris."}

	if err := s.SummarizeTurn(context.Background(), "helper", human, ai); err != nil {
		t.Fatalf("SummarizeTurn() error = %v", err)
	}
	if putter.namespace != "helper" {
		t.Errorf("namespace = %q", putter.namespace)
	}
	if putter.key != human.ID.String() {
		t.Errorf("key = %q, want human message id", putter.key)
	}
	if putter.value["question"] != "capital of France?" || putter.value["answer"] != "Paris." {
		t.Errorf("value = %v", putter.value)
	}
}

func TestSummarizeTurnSkipsEmptyAnswer(t *testing.T) {
	putter := &fakePutter{}
	s := NewSummarizer(putter, log.NewNop())

	human := &chat.Message{ID: uuid.New(), Content: "hello"}
	ai := &chat.Message{ID: uuid.New()}
	if err := s.SummarizeTurn(context.Background(), "helper", human, ai); err != nil {
		t.Fatalf("SummarizeTurn() error = %v", err)
	}
	if putter.calls != 0 {
		t.Errorf("Put called %d times for empty answer, want 0", putter.calls)
	}
}

func TestSummarizeTurnFlattensBlocks(t *testing.T) {
	putter := &fakePutter{}
	s := NewSummarizer(putter, log.NewNop())

	human := &chat.Message{ID: uuid.New(), Content: "chart please"}
	ai := &chat.Message{ID: uuid.New(), Blocks: []chat.ContentBlock{
		{Type: chat.BlockText, Text: "Here is the chart."},
		{Type: chat.BlockComponent, Component: "chart", Data: map[string]any{"series": 1}},
	}}
	if err := s.SummarizeTurn(context.Background(), "helper", human, ai); err != nil {
		t.Fatalf("SummarizeTurn() error = %v", err)
	}
	if putter.value["answer"] != "Here is the chart." {
		t.Errorf("answer = %v, want flattened text", putter.value["answer"])
	}
}

func TestSummarizeTurnRequiresMessages(t *testing.T) {
	s := NewSummarizer(&fakePutter{}, log.NewNop())
	if err := s.SummarizeTurn(context.Background(), "helper", nil, nil); err == nil {
		t.Error("SummarizeTurn() error = nil, want error for nil messages")
	}
}
