package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatgate-io/chatgate/internal/chat"
	"github.com/chatgate-io/chatgate/internal/providers"
)

func TestTextContentStaysAString(t *testing.T) {
	var raw map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-oa", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		_, _ = fmt.Fprint(w, `{"choices":[{"message":{"content":"hello"}}],"usage":{"prompt_tokens":5,"completion_tokens":2,"total_tokens":7}}`)
	}))
	defer srv.Close()

	a := New("sk-oa", srv.URL)
	resp, err := a.Chat(context.Background(), chat.Request{
		Model:    "gpt-4o",
		Messages: []chat.Message{{Role: chat.RoleUser, Content: chat.TextContent("hi")}},
	})
	require.NoError(t, err)

	msgs := raw["messages"].([]any)
	require.Len(t, msgs, 1)
	first := msgs[0].(map[string]any)
	// The content field is a plain string for text-only turns, not a part
	// array.
	assert.Equal(t, "hi", first["content"])

	assert.Equal(t, "hello", resp.Content)
	assert.Equal(t, 7, resp.TotalTokens)
}

func TestMultimodalContentBecomesPartArray(t *testing.T) {
	var raw map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		_, _ = fmt.Fprint(w, `{"choices":[{"message":{"content":"a dog"}}]}`)
	}))
	defer srv.Close()

	content, err := chat.PartsContent([]chat.Part{
		chat.TextPart{Text: "what is this?"},
		chat.ImagePart{URL: "data:image/jpeg;base64,cGhvdG8=", Detail: "high"},
	})
	require.NoError(t, err)

	a := New("sk-oa", srv.URL)
	_, err = a.Chat(context.Background(), chat.Request{
		Model:    "gpt-4o",
		Messages: []chat.Message{{Role: chat.RoleUser, Content: content}},
	})
	require.NoError(t, err)

	msgs := raw["messages"].([]any)
	require.Len(t, msgs, 1)
	parts := msgs[0].(map[string]any)["content"].([]any)
	require.Len(t, parts, 2)

	text := parts[0].(map[string]any)
	assert.Equal(t, "text", text["type"])
	assert.Equal(t, "what is this?", text["text"])

	image := parts[1].(map[string]any)
	assert.Equal(t, "image_url", image["type"])
	imageURL := image["image_url"].(map[string]any)
	assert.Equal(t, "data:image/jpeg;base64,cGhvdG8=", imageURL["url"])
	assert.Equal(t, "high", imageURL["detail"])
}

func TestStreamChatForwardsDeltas(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = fmt.Fprint(w, `data: {"choices":[{"delta":{"content":"Hel"}}]}`+"\n\n")
		_, _ = fmt.Fprint(w, `data: {"choices":[{"delta":{"content":"lo"}}]}`+"\n\n")
		_, _ = fmt.Fprint(w, "data: "+providers.DoneEvent+"\n\n")
	}))
	defer srv.Close()

	a := New("sk-oa", srv.URL)
	ch, err := a.StreamChat(context.Background(), chat.Request{
		Model:    "gpt-4o",
		Messages: []chat.Message{{Role: chat.RoleUser, Content: chat.TextContent("hi")}},
	})
	require.NoError(t, err)

	var full strings.Builder
	done := false
	for c := range ch {
		require.NoError(t, c.Err)
		full.WriteString(c.Text)
		if c.Done {
			done = true
		}
	}
	assert.Equal(t, "Hello", full.String())
	assert.True(t, done)
}

func TestStreamRequestError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"bad key"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	a := New("sk-oa", srv.URL)
	_, err := a.StreamChat(context.Background(), chat.Request{Model: "gpt-4o"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}
