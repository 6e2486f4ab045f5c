package chat

import "strings"

// TitleMaxLength is the maximum length for auto-generated conversation titles.
const TitleMaxLength = 50

// TruncateTitle derives a conversation title from the first human input.
// Rules:
//   - Max 50 runes (not bytes - supports UTF-8)
//   - Truncates at a word boundary when possible
//   - Adds "..." if truncated
func TruncateTitle(input string) string {
	input = strings.TrimSpace(input)
	runes := []rune(input)
	if len(runes) <= TitleMaxLength {
		return input
	}

	truncated := string(runes[:TitleMaxLength])
	lastSpace := strings.LastIndex(truncated, " ")
	if lastSpace > TitleMaxLength/2 {
		truncated = truncated[:lastSpace]
	}

	return strings.TrimSpace(truncated) + "..."
}
