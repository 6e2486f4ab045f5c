package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xpert-ai/xpert-sub004/internal/chat"
)

// Postgres is the production Store backed by PostgreSQL.
//
// Postgres is safe for concurrent use by multiple goroutines.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgres creates a Postgres store.
func NewPostgres(pool *pgxpool.Pool, logger *slog.Logger) (*Postgres, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Postgres{pool: pool, logger: logger}, nil
}

const upsertConversationSQL = `INSERT INTO conversations
	(id, status, title, agent_key, thread_id, options, operation, error, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
	ON CONFLICT (id) DO UPDATE SET
		status = EXCLUDED.status, title = EXCLUDED.title,
		options = EXCLUDED.options, operation = EXCLUDED.operation,
		error = EXCLUDED.error, updated_at = now()`

func (s *Postgres) UpsertConversation(ctx context.Context, c *chat.Conversation) error {
	options, err := json.Marshal(c.Options)
	if err != nil {
		return fmt.Errorf("marshal options: %w", err)
	}
	var operation []byte
	if c.Operation != nil {
		if operation, err = json.Marshal(c.Operation); err != nil {
			return fmt.Errorf("marshal operation: %w", err)
		}
	}
	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = s.pool.Exec(ctx, upsertConversationSQL,
		c.ID, string(c.Status), c.Title, c.AgentKey, c.ThreadID, options, operation, c.Error, createdAt)
	if err != nil {
		return fmt.Errorf("upsert conversation %s: %w", c.ID, err)
	}
	s.logger.Debug("upserted conversation", "id", c.ID, "status", c.Status)
	return nil
}

const selectConversationSQL = `SELECT id, status, title, agent_key, thread_id, options, operation, error, created_at, updated_at
	FROM conversations WHERE id = $1`

func (s *Postgres) GetConversation(ctx context.Context, id uuid.UUID) (*chat.Conversation, error) {
	return scanConversation(s.pool.QueryRow(ctx, selectConversationSQL, id))
}

func scanConversation(row pgx.Row) (*chat.Conversation, error) {
	var (
		c                  chat.Conversation
		status             string
		options, operation []byte
	)
	err := row.Scan(&c.ID, &status, &c.Title, &c.AgentKey, &c.ThreadID, &options, &operation, &c.Error, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("conversation: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation: %w", err)
	}
	c.Status = chat.ConversationStatus(status)
	if len(options) > 0 {
		if err := json.Unmarshal(options, &c.Options); err != nil {
			return nil, fmt.Errorf("unmarshal options: %w", err)
		}
	}
	if len(operation) > 0 {
		c.Operation = &chat.SensitiveOperation{}
		if err := json.Unmarshal(operation, c.Operation); err != nil {
			return nil, fmt.Errorf("unmarshal operation: %w", err)
		}
	}
	return &c, nil
}

const upsertMessageSQL = `INSERT INTO messages
	(id, conversation_id, role, content, blocks, status, execution_id, steps, sub_executions, attachments, error, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	ON CONFLICT (id) DO UPDATE SET
		content = EXCLUDED.content, blocks = EXCLUDED.blocks,
		status = EXCLUDED.status, steps = EXCLUDED.steps,
		sub_executions = EXCLUDED.sub_executions, error = EXCLUDED.error`

func (s *Postgres) UpsertMessage(ctx context.Context, m *chat.Message) error {
	blocks, err := marshalNullable(m.Blocks)
	if err != nil {
		return fmt.Errorf("marshal blocks: %w", err)
	}
	steps, err := marshalNullable(m.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}
	subs, err := marshalNullable(m.SubExecutions)
	if err != nil {
		return fmt.Errorf("marshal sub executions: %w", err)
	}
	createdAt := m.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	var execID any
	if m.ExecutionID != uuid.Nil {
		execID = m.ExecutionID
	}

	_, err = s.pool.Exec(ctx, upsertMessageSQL,
		m.ID, m.ConversationID, string(m.Role), m.Content, blocks, string(m.Status),
		execID, steps, subs, m.Attachments, m.Error, createdAt)
	if err != nil {
		return fmt.Errorf("upsert message %s: %w", m.ID, err)
	}
	s.logger.Debug("upserted message", "id", m.ID, "status", m.Status)
	return nil
}

const selectMessageSQL = `SELECT id, conversation_id, role, content, blocks, status, execution_id, steps, sub_executions, attachments, error, created_at
	FROM messages WHERE id = $1`

const selectLastByRoleSQL = `SELECT id, conversation_id, role, content, blocks, status, execution_id, steps, sub_executions, attachments, error, created_at
	FROM messages WHERE conversation_id = $1 AND role = $2
	ORDER BY created_at DESC LIMIT 1`

func (s *Postgres) GetMessage(ctx context.Context, id uuid.UUID) (*chat.Message, error) {
	return scanMessage(s.pool.QueryRow(ctx, selectMessageSQL, id))
}

func (s *Postgres) LastAIMessage(ctx context.Context, conversationID uuid.UUID) (*chat.Message, error) {
	return scanMessage(s.pool.QueryRow(ctx, selectLastByRoleSQL, conversationID, string(chat.RoleAI)))
}

func (s *Postgres) LastHumanMessage(ctx context.Context, conversationID uuid.UUID) (*chat.Message, error) {
	return scanMessage(s.pool.QueryRow(ctx, selectLastByRoleSQL, conversationID, string(chat.RoleHuman)))
}

func scanMessage(row pgx.Row) (*chat.Message, error) {
	var (
		m                  chat.Message
		role, status       string
		blocks, steps, sub []byte
		execID             *uuid.UUID
	)
	err := row.Scan(&m.ID, &m.ConversationID, &role, &m.Content, &blocks, &status, &execID, &steps, &sub, &m.Attachments, &m.Error, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("message: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan message: %w", err)
	}
	m.Role = chat.Role(role)
	m.Status = chat.MessageStatus(status)
	if execID != nil {
		m.ExecutionID = *execID
	}
	if err := unmarshalNullable(blocks, &m.Blocks); err != nil {
		return nil, fmt.Errorf("unmarshal blocks: %w", err)
	}
	if err := unmarshalNullable(steps, &m.Steps); err != nil {
		return nil, fmt.Errorf("unmarshal steps: %w", err)
	}
	if err := unmarshalNullable(sub, &m.SubExecutions); err != nil {
		return nil, fmt.Errorf("unmarshal sub executions: %w", err)
	}
	return &m, nil
}

const upsertExecutionSQL = `INSERT INTO executions
	(id, conversation_id, agent_key, status, inputs, outputs, elapsed_ms, tokens_used, parent_id, error, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	ON CONFLICT (id) DO UPDATE SET
		status = EXCLUDED.status, outputs = EXCLUDED.outputs,
		elapsed_ms = EXCLUDED.elapsed_ms, tokens_used = EXCLUDED.tokens_used,
		error = EXCLUDED.error`

func (s *Postgres) UpsertExecution(ctx context.Context, e *chat.Execution) error {
	inputs, err := marshalNullable(e.Inputs)
	if err != nil {
		return fmt.Errorf("marshal inputs: %w", err)
	}
	outputs, err := marshalNullable(e.Outputs)
	if err != nil {
		return fmt.Errorf("marshal outputs: %w", err)
	}
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = s.pool.Exec(ctx, upsertExecutionSQL,
		e.ID, e.ConversationID, e.AgentKey, string(e.Status), inputs, outputs,
		e.Elapsed.Milliseconds(), e.TokensUsed, e.ParentID, e.Error, createdAt)
	if err != nil {
		return fmt.Errorf("upsert execution %s: %w", e.ID, err)
	}
	s.logger.Debug("upserted execution", "id", e.ID, "status", e.Status)
	return nil
}

const selectExecutionSQL = `SELECT id, conversation_id, agent_key, status, inputs, outputs, elapsed_ms, tokens_used, parent_id, error, created_at
	FROM executions WHERE id = $1`

func (s *Postgres) GetExecution(ctx context.Context, id uuid.UUID) (*chat.Execution, error) {
	var (
		e               chat.Execution
		status          string
		inputs, outputs []byte
		elapsedMS       int64
	)
	err := s.pool.QueryRow(ctx, selectExecutionSQL, id).Scan(
		&e.ID, &e.ConversationID, &e.AgentKey, &status, &inputs, &outputs,
		&elapsedMS, &e.TokensUsed, &e.ParentID, &e.Error, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("execution: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan execution: %w", err)
	}
	e.Status = chat.ExecutionStatus(status)
	e.Elapsed = time.Duration(elapsedMS) * time.Millisecond
	if err := unmarshalNullable(inputs, &e.Inputs); err != nil {
		return nil, fmt.Errorf("unmarshal inputs: %w", err)
	}
	if err := unmarshalNullable(outputs, &e.Outputs); err != nil {
		return nil, fmt.Errorf("unmarshal outputs: %w", err)
	}
	return &e, nil
}

func (s *Postgres) CountExecutions(ctx context.Context, conversationID uuid.UUID) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM executions WHERE conversation_id = $1`, conversationID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count executions: %w", err)
	}
	return n, nil
}

func marshalNullable(v any) ([]byte, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case []chat.ContentBlock:
		if len(t) == 0 {
			return nil, nil
		}
	case []chat.Step:
		if len(t) == 0 {
			return nil, nil
		}
	case []chat.Execution:
		if len(t) == 0 {
			return nil, nil
		}
	case map[string]any:
		if len(t) == 0 {
			return nil, nil
		}
	}
	return json.Marshal(v)
}

func unmarshalNullable(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}
