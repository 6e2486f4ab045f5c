// Package memory provides the long-term memory collaborator: a pgvector
// similarity store shared across all conversations of the same agent, and
// the debounced summarization scheduler that feeds it.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"google.golang.org/genai"
)

const (
	// VectorDimension is the embedding width stored in the memories table.
	VectorDimension = 768

	// EmbedTimeout bounds a single embedding call.
	EmbedTimeout = 15 * time.Second

	// DefaultDedupThreshold is the similarity above which a new memory is
	// treated as a near-duplicate of an existing one and dropped. Applied
	// best-effort before insert, not as a uniqueness constraint.
	DefaultDedupThreshold = 0.90

	// DefaultReplyThreshold is the similarity above which a stored answer
	// short-circuits the engine for a matching question.
	DefaultReplyThreshold = 0.80
)

// ScoredItem is one similarity search hit.
type ScoredItem struct {
	Key   string
	Value map[string]any
	Score float64
}

// Store manages persistent memory backed by PostgreSQL + pgvector.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool           *pgxpool.Pool
	embedder       ai.Embedder
	dedupThreshold float64
	logger         *slog.Logger
}

// NewStore creates a memory Store. A dedupThreshold of 0 selects the default.
func NewStore(pool *pgxpool.Pool, embedder ai.Embedder, dedupThreshold float64, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if dedupThreshold == 0 {
		dedupThreshold = DefaultDedupThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, embedder: embedder, dedupThreshold: dedupThreshold, logger: logger}, nil
}

// embed generates a vector embedding for the given text.
func (s *Store) embed(ctx context.Context, text string) (pgvector.Vector, error) {
	dim := int32(VectorDimension)
	resp, err := s.embedder.Embed(ctx, &ai.EmbedRequest{
		Input:   []*ai.Document{ai.DocumentFromText(text, nil)},
		Options: &genai.EmbedContentConfig{OutputDimensionality: &dim},
	})
	if err != nil {
		return pgvector.Vector{}, fmt.Errorf("embedding text: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return pgvector.Vector{}, fmt.Errorf("empty embedding response")
	}
	return pgvector.NewVector(resp.Embeddings[0].Embedding), nil
}

// Search returns the stored items of a namespace most similar to query,
// ordered by descending cosine similarity.
func (s *Store) Search(ctx context.Context, namespace, query string, limit int) ([]ScoredItem, error) {
	if limit <= 0 {
		limit = 5
	}

	embedCtx, cancel := context.WithTimeout(ctx, EmbedTimeout)
	defer cancel()
	vec, err := s.embed(embedCtx, query)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT key, value, 1 - (embedding <=> $2) AS score
		 FROM memories WHERE namespace = $1
		 ORDER BY embedding <=> $2 LIMIT $3`,
		namespace, vec, limit)
	if err != nil {
		return nil, fmt.Errorf("searching memories: %w", err)
	}
	defer rows.Close()

	var items []ScoredItem
	for rows.Next() {
		var (
			item  ScoredItem
			value []byte
		)
		if err := rows.Scan(&item.Key, &value, &item.Score); err != nil {
			return nil, fmt.Errorf("scanning memory row: %w", err)
		}
		if err := json.Unmarshal(value, &item.Value); err != nil {
			s.logger.Warn("skipping malformed memory value", "key", item.Key, "error", err)
			continue
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Put stores a value under (namespace, key). A near-duplicate of an
// existing memory (similarity >= dedup threshold) is dropped rather than
// inserted; this is a best-effort rule serialized per namespace with an
// advisory lock, not a transactional uniqueness constraint.
func (s *Store) Put(ctx context.Context, namespace, key string, value map[string]any) error {
	text := embeddableText(value)
	if text == "" {
		return fmt.Errorf("value has no embeddable text")
	}

	embedCtx, cancel := context.WithTimeout(ctx, EmbedTimeout)
	defer cancel()
	vec, err := s.embed(embedCtx, text)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshaling value: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Debug("transaction rollback", "error", rbErr)
		}
	}()

	// Serialize concurrent Put() calls for the same namespace.
	// pg_advisory_xact_lock releases automatically at commit/rollback.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, namespace); err != nil {
		return fmt.Errorf("acquiring advisory lock: %w", err)
	}

	var similarity float64
	err = tx.QueryRow(ctx,
		`SELECT 1 - (embedding <=> $2) FROM memories
		 WHERE namespace = $1 ORDER BY embedding <=> $2 LIMIT 1`,
		namespace, vec).Scan(&similarity)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		// First memory in the namespace.
	case err != nil:
		return fmt.Errorf("finding nearest memory: %w", err)
	case similarity >= s.dedupThreshold:
		s.logger.Debug("dropping near-duplicate memory",
			"namespace", namespace, "key", key, "similarity", similarity)
		return tx.Commit(ctx)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO memories (namespace, key, value, embedding)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (namespace, key) DO UPDATE SET
			value = EXCLUDED.value, embedding = EXCLUDED.embedding`,
		namespace, key, payload, vec); err != nil {
		return fmt.Errorf("inserting memory: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing memory insert: %w", err)
	}
	s.logger.Debug("stored memory", "namespace", namespace, "key", key)
	return nil
}

// Delete removes the memory stored under (namespace, key).
func (s *Store) Delete(ctx context.Context, namespace, key string) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM memories WHERE namespace = $1 AND key = $2`, namespace, key); err != nil {
		return fmt.Errorf("deleting memory: %w", err)
	}
	return nil
}

// embeddableText extracts the text to embed from a memory value: the
// question for QA pairs, falling back to a generic text field, then to
// the JSON encoding of the whole value.
func embeddableText(value map[string]any) string {
	if q, ok := value["question"].(string); ok && q != "" {
		return q
	}
	if t, ok := value["text"].(string); ok && t != "" {
		return t
	}
	data, err := json.Marshal(value)
	if err != nil || len(data) <= 2 {
		return ""
	}
	return string(data)
}
