package providers

import (
	"bufio"
	"io"
	"strings"
)

// DoneEvent is the sentinel payload OpenAI-compatible streams send as their
// final SSE event.
const DoneEvent = "[DONE]"

// maxEventSize bounds a single SSE line. Provider deltas are small, but
// message_start events can carry the full echoed prompt.
const maxEventSize = 1024 * 1024

// ScanEvents reads server-sent events from body, invoking fn once per
// `data: ` payload. Lines without the data prefix (event names, comments,
// keepalives) are skipped. fn returns false to stop early. The returned
// error reflects transport failures only; a consumer stop is not an error.
func ScanEvents(body io.Reader, fn func(data string) bool) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventSize)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		if !fn(strings.TrimPrefix(line, "data: ")) {
			return nil
		}
	}
	return scanner.Err()
}
