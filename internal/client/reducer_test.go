package client

import (
	"testing"

	"github.com/google/uuid"

	"github.com/xpert-ai/xpert-sub004/internal/chat"
	"github.com/xpert-ai/xpert-sub004/internal/log"
	"github.com/xpert-ai/xpert-sub004/internal/protocol"
)

func streamFixtures() (*chat.Conversation, *chat.Message) {
	convID := uuid.New()
	conv := &chat.Conversation{ID: convID, Status: chat.ConversationBusy, AgentKey: "helper", ThreadID: convID.String()}
	msg := &chat.Message{ID: uuid.New(), ConversationID: convID, Role: chat.RoleAI, Status: chat.MessageThinking, ExecutionID: uuid.New()}
	return conv, msg
}

func TestReducerHappyStream(t *testing.T) {
	conv, msg := streamFixtures()
	r := NewReducer(log.NewNop())

	r.Apply(protocol.ConversationEvent(protocol.EventConversationStart, conv))
	r.Apply(protocol.MessageEvent(protocol.EventMessageStart, msg))
	r.Apply(protocol.TextMessage("Hi"))
	r.Apply(protocol.TextMessage(" there"))

	if !r.Answering() {
		t.Error("Answering() = false during stream")
	}
	msgs := r.Messages()
	if len(msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(msgs))
	}
	if msgs[0].Content != "Hi there" {
		t.Errorf("content = %q, want deltas concatenated", msgs[0].Content)
	}
	if msgs[0].Status != chat.MessageAnswering {
		t.Errorf("status = %q, want answering", msgs[0].Status)
	}

	final := *msg
	final.Content = "Hi there"
	final.Status = chat.MessageSuccess
	r.Apply(protocol.MessageEvent(protocol.EventMessageEnd, &final))
	endConv := *conv
	endConv.Status = chat.ConversationIdle
	endConv.Title = "Hi"
	r.Apply(protocol.ConversationEvent(protocol.EventConversationEnd, &endConv))

	if r.Answering() {
		t.Error("Answering() = true after conversation-end")
	}
	msgs = r.Messages()
	if msgs[0].Status != chat.MessageSuccess {
		t.Errorf("status = %q, want snapshot replaced to success", msgs[0].Status)
	}
	got := r.Conversation()
	if got.Status != chat.ConversationIdle || got.Title != "Hi" {
		t.Errorf("conversation = %+v, want idle with title", got)
	}
}

func TestReducerMessageStartMergesOnResume(t *testing.T) {
	conv, msg := streamFixtures()
	r := NewReducer(log.NewNop())

	r.Apply(protocol.ConversationEvent(protocol.EventConversationStart, conv))
	r.Apply(protocol.MessageEvent(protocol.EventMessageStart, msg))
	r.Apply(protocol.TextMessage("before interrupt"))

	// Resumed turn restarts the same message id: no duplicate entry.
	resumed := *msg
	resumed.Content = "before interrupt"
	r.Apply(protocol.ConversationEvent(protocol.EventConversationStart, conv))
	r.Apply(protocol.MessageEvent(protocol.EventMessageStart, &resumed))
	r.Apply(protocol.TextMessage(" and after"))

	msgs := r.Messages()
	if len(msgs) != 1 {
		t.Fatalf("messages = %d, want 1 across resume", len(msgs))
	}
	if msgs[0].Content != "before interrupt and after" {
		t.Errorf("content = %q", msgs[0].Content)
	}
}

func TestReducerNewTurnAppendsNewMessage(t *testing.T) {
	conv, msg := streamFixtures()
	r := NewReducer(log.NewNop())

	r.Apply(protocol.ConversationEvent(protocol.EventConversationStart, conv))
	r.Apply(protocol.MessageEvent(protocol.EventMessageStart, msg))
	done := *msg
	done.Status = chat.MessageSuccess
	r.Apply(protocol.MessageEvent(protocol.EventMessageEnd, &done))

	second := &chat.Message{ID: uuid.New(), ConversationID: conv.ID, Role: chat.RoleAI, Status: chat.MessageThinking}
	r.Apply(protocol.ConversationEvent(protocol.EventConversationStart, conv))
	r.Apply(protocol.MessageEvent(protocol.EventMessageStart, second))

	if got := len(r.Messages()); got != 2 {
		t.Errorf("messages = %d, want 2 for a fresh turn", got)
	}
}

func TestReducerAbnormalCloseRepairs(t *testing.T) {
	conv, msg := streamFixtures()
	r := NewReducer(log.NewNop())

	r.Apply(protocol.ConversationEvent(protocol.EventConversationStart, conv))
	r.Apply(protocol.MessageEvent(protocol.EventMessageStart, msg))
	r.Apply(protocol.TextMessage("partial"))
	r.FinishStream()

	msgs := r.Messages()
	if msgs[0].Status != chat.MessageSuccess {
		t.Errorf("status = %q, want success after abnormal close", msgs[0].Status)
	}
	if msgs[0].Content != "partial" {
		t.Errorf("content = %q, want partial preserved", msgs[0].Content)
	}
	if r.Conversation().Status != chat.ConversationIdle {
		t.Errorf("conversation status = %q, want idle", r.Conversation().Status)
	}
	if r.Answering() {
		t.Error("Answering() = true after close")
	}
}

func TestReducerNormalCloseDoesNotRepair(t *testing.T) {
	conv, msg := streamFixtures()
	r := NewReducer(log.NewNop())

	r.Apply(protocol.ConversationEvent(protocol.EventConversationStart, conv))
	r.Apply(protocol.MessageEvent(protocol.EventMessageStart, msg))
	failed := *msg
	failed.Status = chat.MessageError
	failed.Error = "model unavailable"
	r.Apply(protocol.MessageEvent(protocol.EventMessageEnd, &failed))
	r.FinishStream()

	if got := r.Messages()[0].Status; got != chat.MessageError {
		t.Errorf("status = %q, want error snapshot kept", got)
	}
}

func TestReducerInterrupt(t *testing.T) {
	conv, msg := streamFixtures()
	r := NewReducer(log.NewNop())

	r.Apply(protocol.ConversationEvent(protocol.EventConversationStart, conv))
	r.Apply(protocol.MessageEvent(protocol.EventMessageStart, msg))

	op := &chat.SensitiveOperation{
		MessageID: msg.ID,
		AgentKey:  "helper",
		ToolCalls: []chat.ToolCall{{ID: "c1", Name: "delete_file"}},
	}
	r.Apply(protocol.InterruptEvent(op))

	pending := r.PendingOperation()
	if pending == nil || len(pending.ToolCalls) != 1 {
		t.Fatalf("pending operation = %+v, want one tool call", pending)
	}
	if got := r.Messages()[0].Status; got != chat.MessageInterrupted {
		t.Errorf("message status = %q, want interrupted", got)
	}
	if r.Conversation().Status != chat.ConversationInterrupted {
		t.Errorf("conversation status = %q, want interrupted", r.Conversation().Status)
	}
}

func TestReducerSubExecutionsMergeByID(t *testing.T) {
	conv, msg := streamFixtures()
	r := NewReducer(log.NewNop())

	r.Apply(protocol.ConversationEvent(protocol.EventConversationStart, conv))
	r.Apply(protocol.MessageEvent(protocol.EventMessageStart, msg))

	sub := chat.Execution{ID: uuid.New(), AgentKey: "researcher", Status: chat.ExecutionRunning}
	r.Apply(protocol.ExecutionEvent(protocol.EventAgentStart, &sub))
	sub.Status = chat.ExecutionSuccess
	r.Apply(protocol.ExecutionEvent(protocol.EventAgentEnd, &sub))

	subs := r.Messages()[0].SubExecutions
	if len(subs) != 1 {
		t.Fatalf("sub executions = %d, want 1 merged by id", len(subs))
	}
	if subs[0].Status != chat.ExecutionSuccess {
		t.Errorf("sub execution status = %q, want success", subs[0].Status)
	}
}

func TestReducerStepsAndCanvas(t *testing.T) {
	conv, msg := streamFixtures()
	r := NewReducer(log.NewNop())

	r.Apply(protocol.ConversationEvent(protocol.EventConversationStart, conv))
	r.Apply(protocol.MessageEvent(protocol.EventMessageStart, msg))
	r.Apply(protocol.ChatEvent(map[string]any{"canvas": "opened"}))
	r.Apply(protocol.StepEvent(&chat.Step{ID: uuid.New(), ToolName: "search", Message: "3 results"}))
	r.Apply(protocol.StepEvent(&chat.Step{ID: uuid.New(), ToolName: "fetch", Message: "ok"}))

	if !r.CanvasOpen() {
		t.Error("CanvasOpen() = false after canvas event")
	}
	steps := r.Messages()[0].Steps
	if len(steps) != 2 || steps[0].ToolName != "search" {
		t.Errorf("steps = %+v, want two in order", steps)
	}
}

func TestReducerToolMessageOpensCanvas(t *testing.T) {
	conv, msg := streamFixtures()
	r := NewReducer(log.NewNop())

	r.Apply(protocol.ConversationEvent(protocol.EventConversationStart, conv))
	r.Apply(protocol.MessageEvent(protocol.EventMessageStart, msg))

	// Tool output alone opens the workspace surface, with no separate
	// canvas event required.
	r.Apply(protocol.StepEvent(&chat.Step{ID: uuid.New(), ToolName: "search", Message: "3 results"}))

	if !r.CanvasOpen() {
		t.Error("CanvasOpen() = false after tool output")
	}
}

func TestReducerChatEventMergesOptions(t *testing.T) {
	conv, _ := streamFixtures()
	r := NewReducer(log.NewNop())
	r.Apply(protocol.ConversationEvent(protocol.EventConversationStart, conv))
	r.Apply(protocol.ChatEvent(map[string]any{"sandbox": true, "sandbox_url": "https://sbx.local"}))

	got := r.Conversation()
	if !got.Options.Feature("sandbox") {
		t.Error("sandbox feature not merged")
	}
	if got.Options.Parameters["sandbox_url"] != "https://sbx.local" {
		t.Errorf("sandbox_url = %v", got.Options.Parameters["sandbox_url"])
	}
}

func TestReducerDropsDeltaWithoutOpenMessage(t *testing.T) {
	r := NewReducer(log.NewNop())
	r.Apply(protocol.TextMessage("orphan"))
	if got := len(r.Messages()); got != 0 {
		t.Errorf("messages = %d, want orphan delta dropped", got)
	}
}
