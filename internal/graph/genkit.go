package graph

import (
	"context"
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// GenkitEngine is a minimal engine backed by a single streaming model
// call. It emits text deltas and a completion with token usage; it never
// delegates, calls tools or interrupts. Deployments with a full agent
// graph plug in their own Engine instead.
type GenkitEngine struct {
	g         *genkit.Genkit
	modelName string
	logger    *slog.Logger
}

// NewGenkitEngine creates a GenkitEngine. modelName may be empty to use
// the genkit default model.
func NewGenkitEngine(g *genkit.Genkit, modelName string, logger *slog.Logger) *GenkitEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &GenkitEngine{g: g, modelName: modelName, logger: logger}
}

// Invoke streams one model generation. This engine holds no per-thread
// checkpoint, so a resume signal replays nothing: a rejected or
// confirmed operation cannot occur because it never interrupts.
func (e *GenkitEngine) Invoke(ctx context.Context, threadID, input string, resume *ResumeSignal) (<-chan Event, error) {
	ch := make(chan Event)
	go func() {
		defer close(ch)
		send := func(ev Event) bool {
			select {
			case ch <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		opts := []ai.GenerateOption{
			ai.WithPrompt(input),
			ai.WithStreaming(func(_ context.Context, chunk *ai.ModelResponseChunk) error {
				if !send(Event{Type: EventTextDelta, Text: chunk.Text()}) {
					return ctx.Err()
				}
				return nil
			}),
		}
		if e.modelName != "" {
			opts = append(opts, ai.WithModelName(e.modelName))
		}

		resp, err := genkit.Generate(ctx, e.g, opts...)
		if err != nil {
			e.logger.Error("generation failed", "thread_id", threadID, "error", err)
			send(Event{Type: EventError, Err: err})
			return
		}

		done := Event{Type: EventComplete}
		if resp.Usage != nil {
			done.TokensUsed = resp.Usage.TotalTokens
		}
		send(done)
	}()
	return ch, nil
}
