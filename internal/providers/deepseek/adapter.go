// Package deepseek adapts the unified chat contract to DeepSeek's
// OpenAI-compatible chat completions API. DeepSeek models are text-only:
// multimodal content is flattened before it reaches the wire, so an image
// part never leaves this process toward this backend.
package deepseek

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/chatgate-io/chatgate/internal/chat"
	"github.com/chatgate-io/chatgate/internal/providers"
)

// Adapter implements router.Adapter for DeepSeek.
type Adapter struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// New creates a DeepSeek adapter. baseURL is typically
// "https://api.deepseek.com".
func New(apiKey, baseURL string, opts ...Option) *Adapter {
	a := &Adapter{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithHTTPClient replaces the HTTP client (used to inject an OTel transport
// or test doubles).
func WithHTTPClient(c *http.Client) Option {
	return func(a *Adapter) { a.client = c }
}

func (a *Adapter) Name() string { return "deepseek" }

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type streamEvent struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

// toWireMessages flattens every message to plain text. Image-only content
// becomes the fixed placeholder, never an empty string.
func toWireMessages(msgs []chat.Message) []wireMessage {
	out := make([]wireMessage, len(msgs))
	for i, m := range msgs {
		out[i] = wireMessage{
			Role:    string(m.Role),
			Content: chat.FlattenText(m.Content),
		}
	}
	return out
}

func (a *Adapter) buildRequest(req chat.Request, stream bool) chatRequest {
	return chatRequest{
		Model:       req.Model,
		Messages:    toWireMessages(req.Messages),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      stream,
	}
}

func (a *Adapter) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + a.apiKey}
}

// Chat sends a non-streaming completion request.
func (a *Adapter) Chat(ctx context.Context, req chat.Request) (*chat.Response, error) {
	var resp chatResponse
	url := a.baseURL + "/chat/completions"
	if err := providers.PostJSON(ctx, a.client, url, a.buildRequest(req, false), &resp, a.headers()); err != nil {
		return nil, err
	}
	var content string
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
	}
	return &chat.Response{
		Content:          content,
		Model:            req.Model,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}, nil
}

// StreamChat opens an SSE stream and forwards text deltas. A literal
// `data: [DONE]` event terminates the stream with Done=true. Malformed event
// JSON is logged and skipped. The upstream body is released on natural
// completion and on consumer cancellation.
func (a *Adapter) StreamChat(ctx context.Context, req chat.Request) (<-chan chat.StreamChunk, error) {
	url := a.baseURL + "/chat/completions"
	body, err := providers.PostStream(ctx, a.client, url, a.buildRequest(req, true), a.headers())
	if err != nil {
		return nil, err
	}

	ch := make(chan chat.StreamChunk)
	go func() {
		defer close(ch)
		defer func() { _ = body.Close() }()

		done := false
		err := providers.ScanEvents(body, func(data string) bool {
			if data == providers.DoneEvent {
				done = true
				emit(ctx, ch, chat.StreamChunk{Done: true})
				return false
			}
			var ev streamEvent
			if err := json.Unmarshal([]byte(data), &ev); err != nil {
				slog.Warn("deepseek: skipping malformed stream event", slog.String("error", err.Error()))
				return true
			}
			if len(ev.Choices) == 0 || ev.Choices[0].Delta.Content == "" {
				return true
			}
			return emit(ctx, ch, chat.StreamChunk{Text: ev.Choices[0].Delta.Content})
		})
		if done {
			return
		}
		if err != nil {
			emit(ctx, ch, chat.StreamChunk{Done: true, Err: err})
			return
		}
		// Upstream closed without [DONE]; still terminate the sequence.
		emit(ctx, ch, chat.StreamChunk{Done: true})
	}()
	return ch, nil
}

// emit delivers a chunk unless the consumer has gone away.
func emit(ctx context.Context, ch chan<- chat.StreamChunk, c chat.StreamChunk) bool {
	select {
	case ch <- c:
		return true
	case <-ctx.Done():
		return false
	}
}
