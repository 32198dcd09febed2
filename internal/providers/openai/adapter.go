// Package openai adapts the unified chat contract to OpenAI's chat
// completions API. OpenAI's multimodal wire format matches the internal
// part model closely, so multipart content passes through as tagged
// {type:"text"} / {type:"image_url"} objects.
package openai

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/chatgate-io/chatgate/internal/chat"
	"github.com/chatgate-io/chatgate/internal/providers"
)

// Adapter implements router.Adapter for OpenAI.
type Adapter struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// New creates an OpenAI adapter. baseURL is typically
// "https://api.openai.com/v1".
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

func (a *Adapter) Name() string { return "openai" }

// wireMessage carries content as either a plain string or a part array,
// matching OpenAI's union content field.
type wireMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
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
	} `json:"choices"`
}

// toWireMessage converts one unified message. Plain text stays a string;
// part lists become the tagged part array.
func toWireMessage(m chat.Message) wireMessage {
	if !m.Content.IsParts() {
		return wireMessage{Role: string(m.Role), Content: m.Content.Text()}
	}
	parts := make([]contentPart, 0, len(m.Content.Parts()))
	for _, p := range m.Content.Parts() {
		switch part := p.(type) {
		case chat.TextPart:
			parts = append(parts, contentPart{Type: "text", Text: part.Text})
		case chat.ImagePart:
			parts = append(parts, contentPart{
				Type:     "image_url",
				ImageURL: &imageURL{URL: part.URL, Detail: part.Detail},
			})
		}
	}
	return wireMessage{Role: string(m.Role), Content: parts}
}

func (a *Adapter) buildRequest(req chat.Request, stream bool) chatRequest {
	messages := make([]wireMessage, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = toWireMessage(m)
	}
	return chatRequest{
		Model:       req.Model,
		Messages:    messages,
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

// StreamChat opens an SSE stream and forwards text deltas until the
// `data: [DONE]` terminator.
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
				slog.Warn("openai: skipping malformed stream event", slog.String("error", err.Error()))
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
