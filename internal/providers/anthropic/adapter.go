// Package anthropic adapts the unified chat contract to Anthropic's Messages
// API. Anthropic differs from the OpenAI-style backends in three ways: the
// system role moves out of the message array into a top-level field,
// max_tokens is required, and content is an array of typed blocks: image
// parts become {type:"image"} blocks with a base64 or url source.
package anthropic

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/chatgate-io/chatgate/internal/chat"
	"github.com/chatgate-io/chatgate/internal/providers"
)

const apiVersion = "2023-06-01"

// Adapter implements router.Adapter for Anthropic.
type Adapter struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// New creates an Anthropic adapter. baseURL is typically
// "https://api.anthropic.com/v1".
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

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(a *Adapter) { a.client = c }
}

func (a *Adapter) Name() string { return "anthropic" }

type wireMessage struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type   string       `json:"type"`
	Text   string       `json:"text,omitempty"`
	Source *imageSource `json:"source,omitempty"`
}

type imageSource struct {
	Type      string `json:"type"` // "base64" or "url"
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	System      string        `json:"system,omitempty"`
	Messages    []wireMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// streamEvent is the decode wrapper for Anthropic's named SSE events. Only
// the fields relevant to the event's type are populated.
type streamEvent struct {
	Type  string `json:"type"`
	Delta *struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta,omitempty"`
}

// toBlocks converts unified content to Anthropic content blocks. Image data
// URLs become base64 sources; other URLs become url sources.
func toBlocks(c chat.Content) []contentBlock {
	if !c.IsParts() {
		return []contentBlock{{Type: "text", Text: c.Text()}}
	}
	blocks := make([]contentBlock, 0, len(c.Parts()))
	for _, p := range c.Parts() {
		switch part := p.(type) {
		case chat.TextPart:
			blocks = append(blocks, contentBlock{Type: "text", Text: part.Text})
		case chat.ImagePart:
			block := contentBlock{Type: "image"}
			if mediaType, data, ok := chat.ParseDataURL(part.URL); ok {
				block.Source = &imageSource{Type: "base64", MediaType: mediaType, Data: data}
			} else {
				block.Source = &imageSource{Type: "url", URL: part.URL}
			}
			blocks = append(blocks, block)
		}
	}
	return blocks
}

// buildRequest lifts system messages out of the array into the top-level
// system field and converts the rest to typed blocks.
func (a *Adapter) buildRequest(req chat.Request, stream bool) chatRequest {
	var system []string
	var messages []wireMessage
	for _, m := range req.Messages {
		if m.Role == chat.RoleSystem {
			system = append(system, chat.FlattenText(m.Content))
			continue
		}
		messages = append(messages, wireMessage{
			Role:    string(m.Role),
			Content: toBlocks(m.Content),
		})
	}
	return chatRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		System:      strings.Join(system, "\n"),
		Messages:    messages,
		Temperature: req.Temperature,
		Stream:      stream,
	}
}

func (a *Adapter) headers() map[string]string {
	return map[string]string{
		"x-api-key":         a.apiKey,
		"anthropic-version": apiVersion,
	}
}

// Chat sends a non-streaming request to the Messages API.
func (a *Adapter) Chat(ctx context.Context, req chat.Request) (*chat.Response, error) {
	var resp chatResponse
	url := a.baseURL + "/messages"
	if err := providers.PostJSON(ctx, a.client, url, a.buildRequest(req, false), &resp, a.headers()); err != nil {
		return nil, err
	}
	var content string
	for _, block := range resp.Content {
		if block.Type == "text" {
			content = block.Text
			break
		}
	}
	return &chat.Response{
		Content:          content,
		Model:            req.Model,
		PromptTokens:     resp.Usage.InputTokens,
		CompletionTokens: resp.Usage.OutputTokens,
		TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
	}, nil
}

// StreamChat opens an SSE stream. Text arrives in content_block_delta
// events; message_stop terminates the sequence. A `data: [DONE]` sentinel is
// honored as well for parity with the OpenAI-style backends.
func (a *Adapter) StreamChat(ctx context.Context, req chat.Request) (<-chan chat.StreamChunk, error) {
	url := a.baseURL + "/messages"
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
				slog.Warn("anthropic: skipping malformed stream event", slog.String("error", err.Error()))
				return true
			}
			switch ev.Type {
			case "content_block_delta":
				if ev.Delta == nil || ev.Delta.Text == "" {
					return true
				}
				return emit(ctx, ch, chat.StreamChunk{Text: ev.Delta.Text})
			case "message_stop":
				done = true
				emit(ctx, ch, chat.StreamChunk{Done: true})
				return false
			}
			return true
		})
		if done {
			return
		}
		if err != nil {
			emit(ctx, ch, chat.StreamChunk{Done: true, Err: err})
			return
		}
		emit(ctx, ch, chat.StreamChunk{Done: true})
	}()
	return ch, nil
}

func emit(ctx context.Context, ch chan<- chat.StreamChunk, c chat.StreamChunk) bool {
	select {
	case ch <- c:
		return true
	case <-ctx.Done():
		return false
	}
}
