package memory

import "testing"

func TestEmbeddableText(t *testing.T) {
	tests := []struct {
		name  string
		value map[string]any
		want  string
	}{
		{"question preferred", map[string]any{"question": "what?", "answer": "this"}, "what?"},
		{"text fallback", map[string]any{"text": "note"}, "note"},
		{"json fallback", map[string]any{"answer": "only"}, `{"answer":"only"}`},
		{"empty", map[string]any{}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := embeddableText(tt.value); got != tt.want {
				t.Errorf("embeddableText = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestThresholdDefaults(t *testing.T) {
	if DefaultDedupThreshold <= DefaultReplyThreshold {
		t.Errorf("dedup threshold (%v) should be stricter than reply threshold (%v)",
			DefaultDedupThreshold, DefaultReplyThreshold)
	}
}
