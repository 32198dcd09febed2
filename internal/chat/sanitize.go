package chat

import (
	"regexp"
	"strings"
)

// thinkBlockPattern matches reasoning blocks some models leak into their
// final output despite being asked not to.
var thinkBlockPattern = regexp.MustCompile(`(?s)<think>.*?</think>`)

// Sanitize cleans model output before it is persisted or returned to the
// client: strips leaked <think> reasoning blocks, NUL bytes, and surrounding
// whitespace.
func Sanitize(s string) string {
	s = thinkBlockPattern.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "\x00", "")
	return strings.TrimSpace(s)
}
