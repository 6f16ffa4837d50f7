package engine

import "strings"

const (
	replyOpen  = "<reply>"
	replyClose = "</reply>"
)

// ExtractAnswer pulls the user-facing answer out of a model response.
// Text inside the reply delimiters is the answer; everything outside is
// the model's commentary and is not shown. A response without
// delimiters is returned whole.
func ExtractAnswer(text string) string {
	start := strings.Index(text, replyOpen)
	if start < 0 {
		return strings.TrimSpace(text)
	}
	rest := text[start+len(replyOpen):]
	end := strings.Index(rest, replyClose)
	if end < 0 {
		return strings.TrimSpace(rest)
	}
	return strings.TrimSpace(rest[:end])
}
