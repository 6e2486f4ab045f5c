package graph

import (
	"context"
	"sync"
)

// Invocation records one Invoke call on a ScriptedEngine.
type Invocation struct {
	ThreadID string
	Input    string
	Resume   *ResumeSignal
}

// ScriptedEngine plays back fixed event scripts, one per Invoke call, in
// order. It is the test double for the engine collaborator: orchestrator
// and api tests drive it with exact event sequences.
type ScriptedEngine struct {
	mu          sync.Mutex
	scripts     [][]Event
	invocations []Invocation

	// Block, when non-nil, is closed by the test to release an Invoke
	// whose script has the Wait flag; used to simulate a long-running
	// engine for cancellation tests.
	Block chan struct{}
}

// NewScriptedEngine creates an engine that plays the given scripts.
func NewScriptedEngine(scripts ...[]Event) *ScriptedEngine {
	return &ScriptedEngine{scripts: scripts}
}

// Invocations returns a copy of the recorded Invoke calls.
func (e *ScriptedEngine) Invocations() []Invocation {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Invocation, len(e.invocations))
	copy(out, e.invocations)
	return out
}

// Invoke plays the next script. Events are sent on an unbuffered channel
// so the consumer observes them strictly in order; the channel closes
// after the last event or when ctx is done.
func (e *ScriptedEngine) Invoke(ctx context.Context, threadID, input string, resume *ResumeSignal) (<-chan Event, error) {
	e.mu.Lock()
	e.invocations = append(e.invocations, Invocation{ThreadID: threadID, Input: input, Resume: resume})
	var script []Event
	if len(e.scripts) > 0 {
		script = e.scripts[0]
		e.scripts = e.scripts[1:]
	}
	block := e.Block
	e.mu.Unlock()

	ch := make(chan Event)
	go func() {
		defer close(ch)
		for _, ev := range script {
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
		if block != nil {
			select {
			case <-block:
			case <-ctx.Done():
			}
		}
	}()
	return ch, nil
}
