// Package chat defines the provider-agnostic message model shared by every
// backend adapter: roles, the text-or-parts content sum, streaming chunks,
// and the unified request/response envelopes. Provider adapters translate
// these types into their backend-specific wire formats and back.
package chat

import "fmt"

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Part is one element of multimodal message content. The set of
// implementations is closed: TextPart and ImagePart.
type Part interface {
	isPart()
}

// TextPart is a plain text segment of a multimodal message.
type TextPart struct {
	Text string
}

// ImagePart references an image by URL. URL is either an https:// URL or a
// data:<mime>;base64,<payload> URL. Detail is a provider hint ("low",
// "high", "auto"); empty means provider default.
type ImagePart struct {
	URL    string
	Detail string
}

func (TextPart) isPart()  {}
func (ImagePart) isPart() {}

// Content is the message body: either plain text or an ordered list of
// parts. Exactly one of the two forms is populated; conversion code must
// handle both branches explicitly.
type Content struct {
	text    string
	parts   []Part
	isParts bool
}

// TextContent wraps a plain string as message content.
func TextContent(s string) Content {
	return Content{text: s}
}

// PartsContent wraps an ordered part list as message content. The list must
// contain at least one part.
func PartsContent(parts []Part) (Content, error) {
	if len(parts) == 0 {
		return Content{}, fmt.Errorf("parts content requires at least one part")
	}
	return Content{parts: parts, isParts: true}, nil
}

// IsParts reports whether the content is the multipart form.
func (c Content) IsParts() bool { return c.isParts }

// Text returns the plain-text form. Empty for multipart content.
func (c Content) Text() string { return c.text }

// Parts returns the part list. Nil for plain-text content.
func (c Content) Parts() []Part { return c.parts }

// HasImages reports whether the content carries at least one image part.
func (c Content) HasImages() bool {
	for _, p := range c.parts {
		if _, ok := p.(ImagePart); ok {
			return true
		}
	}
	return false
}

// Message is a single turn in a conversation.
type Message struct {
	Role    Role
	Content Content
}

// Request is the unified envelope an adapter receives. Temperature and
// MaxTokens are clamped by the caller (see ClampTemperature/ClampMaxTokens);
// adapters pass them through unmodified.
type Request struct {
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// Response is the terminal value of a non-streaming chat call. Cost is the
// flat per-model price in smallest currency units, not a usage-metered
// figure; the router fills it in after the adapter returns.
type Response struct {
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Cost             string
}

// StreamChunk is one increment of a streaming reply. A stream is terminated
// by exactly one chunk with Done=true (possibly carrying empty Text). Err is
// set on transport failures mid-stream; such a chunk is also terminal.
type StreamChunk struct {
	Text string
	Done bool
	Err  error
}

// Temperature and token bounds enforced at the orchestrator boundary.
const (
	MinTemperature = 0.0
	MaxTemperature = 2.0
	MinMaxTokens   = 256
	MaxMaxTokens   = 2048
)

// ClampTemperature bounds t to [0, 2].
func ClampTemperature(t float64) float64 {
	if t < MinTemperature {
		return MinTemperature
	}
	if t > MaxTemperature {
		return MaxTemperature
	}
	return t
}

// ClampMaxTokens bounds n to [256, 2048].
func ClampMaxTokens(n int) int {
	if n < MinMaxTokens {
		return MinMaxTokens
	}
	if n > MaxMaxTokens {
		return MaxMaxTokens
	}
	return n
}
