//go:build integration

package memory

import (
	"context"
	"fmt"
	"log"
	"math"
	"os"
	"sync"
	"testing"

	xlog "github.com/xpert-ai/xpert-sub004/internal/log"
	"github.com/xpert-ai/xpert-sub004/internal/testutil"
)

var sharedDB *testutil.TestDB

func TestMain(m *testing.M) {
	var cleanup func()
	var err error
	sharedDB, cleanup, err = testutil.SetupTestDBForMain()
	if err != nil {
		log.Fatalf("starting test database: %v", err)
	}
	code := m.Run()
	cleanup()
	os.Exit(code)
}

func setupStore(t *testing.T) (*Store, *testutil.VectorEmbedder) {
	t.Helper()
	testutil.CleanTables(t, sharedDB.Pool)
	embedder := testutil.NewVectorEmbedder(VectorDimension)
	s, err := NewStore(sharedDB.Pool, embedder, 0, xlog.NewNop())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	return s, embedder
}

// axisVector returns the unit vector along one axis.
func axisVector(axis int) []float32 {
	vec := make([]float32, VectorDimension)
	vec[axis] = 1
	return vec
}

// mixVector returns a unit vector whose cosine similarity to
// axisVector(0) is exactly sim.
func mixVector(sim float64) []float32 {
	vec := make([]float32, VectorDimension)
	vec[0] = float32(sim)
	vec[1] = float32(math.Sqrt(1 - sim*sim))
	return vec
}

func countMemories(t *testing.T) int {
	t.Helper()
	var n int
	err := sharedDB.Pool.QueryRow(context.Background(), `SELECT count(*) FROM memories`).Scan(&n)
	if err != nil {
		t.Fatalf("counting memories: %v", err)
	}
	return n
}

func TestStorePutAndSearch(t *testing.T) {
	s, embedder := setupStore(t)
	ctx := context.Background()

	embedder.SetVector("capital of France?", axisVector(0))
	embedder.SetVector("tallest mountain?", axisVector(1))

	if err := s.Put(ctx, "helper", "k1", map[string]any{
		"question": "capital of France?", "answer": "Paris",
	}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := s.Put(ctx, "helper", "k2", map[string]any{
		"question": "tallest mountain?", "answer": "Everest",
	}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	items, err := s.Search(ctx, "helper", "capital of France?", 2)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("items = %d, want 2", len(items))
	}
	if items[0].Key != "k1" || items[0].Value["answer"] != "Paris" {
		t.Errorf("top hit = %+v, want the matching question", items[0])
	}
	if items[0].Score < 0.99 {
		t.Errorf("top score = %v, want ~1 for an identical embedding", items[0].Score)
	}
	if items[1].Score > 0.1 {
		t.Errorf("second score = %v, want ~0 for an orthogonal embedding", items[1].Score)
	}

	// Namespaces are isolated.
	other, err := s.Search(ctx, "analyst", "capital of France?", 2)
	if err != nil {
		t.Fatalf("Search(other namespace) error = %v", err)
	}
	if len(other) != 0 {
		t.Errorf("cross-namespace hits = %d, want 0", len(other))
	}
}

func TestStorePutDropsNearDuplicate(t *testing.T) {
	s, embedder := setupStore(t)
	ctx := context.Background()

	embedder.SetVector("what is the capital of France?", axisVector(0))
	embedder.SetVector("France capital?", mixVector(0.95))

	if err := s.Put(ctx, "helper", "k1", map[string]any{
		"question": "what is the capital of France?", "answer": "Paris",
	}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	// Similarity 0.95 >= the 0.90 dedup threshold: dropped, not stored.
	if err := s.Put(ctx, "helper", "k2", map[string]any{
		"question": "France capital?", "answer": "Paris, France",
	}); err != nil {
		t.Fatalf("Put(near-duplicate) error = %v", err)
	}

	if n := countMemories(t); n != 1 {
		t.Fatalf("memories = %d, want near-duplicate dropped", n)
	}
	items, err := s.Search(ctx, "helper", "what is the capital of France?", 1)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(items) != 1 || items[0].Key != "k1" || items[0].Value["answer"] != "Paris" {
		t.Errorf("surviving memory = %+v, want the original", items)
	}
}

func TestStorePutBelowThresholdStoresBoth(t *testing.T) {
	s, embedder := setupStore(t)
	ctx := context.Background()

	embedder.SetVector("q1", axisVector(0))
	embedder.SetVector("q2", mixVector(0.5))

	for i, q := range []string{"q1", "q2"} {
		if err := s.Put(ctx, "helper", fmt.Sprintf("k%d", i), map[string]any{
			"question": q, "answer": "a",
		}); err != nil {
			t.Fatalf("Put(%s) error = %v", q, err)
		}
	}
	if n := countMemories(t); n != 2 {
		t.Errorf("memories = %d, want distinct questions kept", n)
	}
}

func TestStorePutSameKeyUpserts(t *testing.T) {
	s, embedder := setupStore(t)
	ctx := context.Background()

	embedder.SetVector("old question", axisVector(0))
	embedder.SetVector("new question", mixVector(0.5))

	if err := s.Put(ctx, "helper", "k1", map[string]any{
		"question": "old question", "answer": "old",
	}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := s.Put(ctx, "helper", "k1", map[string]any{
		"question": "new question", "answer": "new",
	}); err != nil {
		t.Fatalf("Put(same key) error = %v", err)
	}

	if n := countMemories(t); n != 1 {
		t.Fatalf("memories = %d, want same-key upsert to overwrite", n)
	}
	items, err := s.Search(ctx, "helper", "new question", 1)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(items) != 1 || items[0].Value["answer"] != "new" {
		t.Errorf("search hits = %+v, want the updated value", items)
	}
}

func TestStoreDelete(t *testing.T) {
	s, embedder := setupStore(t)
	ctx := context.Background()

	embedder.SetVector("q", axisVector(0))
	if err := s.Put(ctx, "helper", "k1", map[string]any{"question": "q", "answer": "a"}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := s.Delete(ctx, "helper", "k1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if n := countMemories(t); n != 0 {
		t.Errorf("memories = %d, want 0 after delete", n)
	}
}

func TestStoreConcurrentPutsSerializedByAdvisoryLock(t *testing.T) {
	s, embedder := setupStore(t)
	ctx := context.Background()

	// All writers carry the same embedding; without serialization each
	// would pass the dedup check before any insert lands.
	embedder.SetVector("same question", axisVector(0))

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.Put(ctx, "helper", fmt.Sprintf("k%d", i), map[string]any{
				"question": "same question", "answer": "a",
			})
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("Put(%d) error = %v", i, err)
		}
	}

	if n := countMemories(t); n != 1 {
		t.Errorf("memories = %d, want concurrent duplicates collapsed to 1", n)
	}
}
