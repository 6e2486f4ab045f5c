package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xpert-ai/xpert-sub004/internal/chat"
	"github.com/xpert-ai/xpert-sub004/internal/orchestrator"
	"github.com/xpert-ai/xpert-sub004/internal/protocol"
)

// ErrNoConversation indicates a turn method that needs an existing
// conversation was called before any turn completed.
var ErrNoConversation = errors.New("no conversation")

// Transport opens the envelope stream for one turn request. The returned
// reader yields SSE frames until the server closes the turn.
type Transport interface {
	OpenTurn(ctx context.Context, req orchestrator.TurnRequest) (io.ReadCloser, error)
}

// Client drives turns against a server and folds the resulting streams
// into its Reducer projection. One Client owns one conversation.
type Client struct {
	*Reducer
	transport Transport
	agentKey  string
	logger    *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// New creates a Client for one conversation.
func New(transport Transport, agentKey string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		Reducer:   NewReducer(logger),
		transport: transport,
		agentKey:  agentKey,
		logger:    logger,
	}
}

// Send runs a new-input turn and blocks until the stream ends.
func (c *Client) Send(ctx context.Context, text string, files ...string) error {
	req := orchestrator.TurnRequest{AgentKey: c.agentKey, Input: text, Files: files}
	if conv := c.Conversation(); conv != nil {
		req.ConversationID = &conv.ID
	}
	c.AddHumanMessage(chat.Message{
		ID:          uuid.New(),
		Content:     text,
		Status:      chat.MessageSuccess,
		Attachments: files,
		CreatedAt:   time.Now(),
	})
	return c.runTurn(ctx, req)
}

// Confirm approves the pending sensitive operation, optionally with
// edited tool calls, and resumes the interrupted run.
func (c *Client) Confirm(ctx context.Context, toolCalls []chat.ToolCall) error {
	conv := c.Conversation()
	if conv == nil {
		return ErrNoConversation
	}
	return c.runTurn(ctx, orchestrator.TurnRequest{
		ConversationID: &conv.ID, Confirm: true, ToolCalls: toolCalls,
	})
}

// Reject declines the pending sensitive operation.
func (c *Client) Reject(ctx context.Context) error {
	conv := c.Conversation()
	if conv == nil {
		return ErrNoConversation
	}
	return c.runTurn(ctx, orchestrator.TurnRequest{ConversationID: &conv.ID, Reject: true})
}

// Retry re-runs the last failed turn.
func (c *Client) Retry(ctx context.Context) error {
	conv := c.Conversation()
	if conv == nil {
		return ErrNoConversation
	}
	return c.runTurn(ctx, orchestrator.TurnRequest{ConversationID: &conv.ID, Retry: true})
}

// Cancel drops the in-flight stream. The local projection settles
// immediately; the server finalizes the turn on its side when it observes
// the disconnect.
func (c *Client) Cancel() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.FinishStream()
}

func (c *Client) runTurn(ctx context.Context, req orchestrator.TurnRequest) error {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	defer func() {
		cancel()
		c.mu.Lock()
		c.cancel = nil
		c.mu.Unlock()
	}()

	body, err := c.transport.OpenTurn(ctx, req)
	if err != nil {
		return fmt.Errorf("opening turn: %w", err)
	}
	defer body.Close()

	dec := protocol.NewDecoder(body)
	for {
		env, err := dec.Next()
		if err != nil {
			// EOF is the normal end; anything else (including a dropped
			// connection) still settles the projection.
			c.FinishStream()
			if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("reading stream: %w", err)
		}
		c.Apply(env)
	}
}

// HTTPTransport opens turns against the chat endpoint of an HTTP server.
type HTTPTransport struct {
	BaseURL string
	Client  *http.Client
}

// OpenTurn posts the request and returns the SSE body.
func (t *HTTPTransport) OpenTurn(ctx context.Context, req orchestrator.TurnRequest) (io.ReadCloser, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.BaseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("open turn: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if resp.StatusCode == http.StatusConflict {
			return nil, fmt.Errorf("%w: %s", orchestrator.ErrConversationBusy, bytes.TrimSpace(msg))
		}
		return nil, fmt.Errorf("turn rejected: status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return resp.Body, nil
}
