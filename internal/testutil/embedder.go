package testutil

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"sync"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
)

// VectorEmbedder is a deterministic ai.Embedder for tests. Unknown text
// embeds to a hash-derived unit vector; explicit vectors can be
// registered to control the exact cosine similarity between inputs.
//
// Safe for concurrent use.
type VectorEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
	dim     int
}

// NewVectorEmbedder creates an embedder producing vectors of the given
// dimension.
func NewVectorEmbedder(dim int) *VectorEmbedder {
	return &VectorEmbedder{vectors: make(map[string][]float32), dim: dim}
}

// SetVector registers the exact vector returned for a text.
func (e *VectorEmbedder) SetVector(text string, vec []float32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vectors[text] = vec
}

// Name implements ai.Embedder.
func (e *VectorEmbedder) Name() string { return "test/vector-embedder" }

// Register implements ai.Embedder; the test embedder never registers
// with a Genkit registry.
func (e *VectorEmbedder) Register(api.Registry) {}

// Embed implements ai.Embedder.
func (e *VectorEmbedder) Embed(_ context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	embeddings := make([]*ai.Embedding, len(req.Input))
	for i, doc := range req.Input {
		embeddings[i] = &ai.Embedding{Embedding: e.vectorFor(documentText(doc))}
	}
	return &ai.EmbedResponse{Embeddings: embeddings}, nil
}

func (e *VectorEmbedder) vectorFor(text string) []float32 {
	e.mu.Lock()
	if v, ok := e.vectors[text]; ok {
		e.mu.Unlock()
		return v
	}
	e.mu.Unlock()

	// Hash-derived unit vector: stable per text, near-orthogonal across
	// distinct texts at this dimensionality.
	sum := sha256.Sum256([]byte(text))
	vec := make([]float32, e.dim)
	var norm float64
	for i := range vec {
		var buf [12]byte
		copy(buf[:8], sum[(i%4)*8:(i%4)*8+8])
		binary.LittleEndian.PutUint32(buf[8:], uint32(i))
		h := sha256.Sum256(buf[:])
		f := float64(int32(binary.LittleEndian.Uint32(h[:4])))
		vec[i] = float32(f)
		norm += f * f
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}

func documentText(doc *ai.Document) string {
	var out string
	for _, part := range doc.Content {
		out += part.Text
	}
	return out
}
