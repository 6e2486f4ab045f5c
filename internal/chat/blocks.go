package chat

// BlockType discriminates the content block union.
type BlockType string

const (
	BlockText      BlockType = "text"
	BlockReasoning BlockType = "reasoning"
	BlockComponent BlockType = "component"
)

// ContentBlock is one typed unit of AI message content. Exactly one
// variant is populated per Type: Text for text and reasoning blocks,
// Component/Data for structured artifacts (tool results, charts, files).
type ContentBlock struct {
	Type      BlockType      `json:"type"`
	Text      string         `json:"text,omitempty"`
	Component string         `json:"component,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// CanMerge reports whether next may extend this block in place. Only the
// last block of a message is ever offered for merging: text extends text,
// reasoning extends reasoning, and a component chunk merges into the open
// block when it targets the same component.
func (b ContentBlock) CanMerge(next ContentBlock) bool {
	if b.Type != next.Type {
		return false
	}
	switch b.Type {
	case BlockText, BlockReasoning:
		return true
	case BlockComponent:
		return b.Component == next.Component
	default:
		return false
	}
}

// Merge extends the block with next. Callers must check CanMerge first.
func (b *ContentBlock) Merge(next ContentBlock) {
	switch b.Type {
	case BlockText, BlockReasoning:
		b.Text += next.Text
	case BlockComponent:
		if b.Data == nil {
			b.Data = make(map[string]any, len(next.Data))
		}
		for k, v := range next.Data {
			b.Data[k] = v
		}
	}
}
