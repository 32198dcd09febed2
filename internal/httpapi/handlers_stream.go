package httpapi

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chatgate-io/chatgate/internal/chat"
	"github.com/chatgate-io/chatgate/internal/router"
	"github.com/chatgate-io/chatgate/internal/store"
	"github.com/chatgate-io/chatgate/internal/x402"
)

// streamEvent is one SSE payload sent to the client.
type streamEvent struct {
	Text   string `json:"text,omitempty"`
	Done   bool   `json:"done,omitempty"`
	Error  string `json:"error,omitempty"`
	ChatID string `json:"chatId,omitempty"`
}

// streamChat relays provider chunks to the client as SSE. The settlement
// receipt header must be attached before the first byte of the body; once
// streaming starts the status line is immutable, so provider errors are
// reported as an in-stream event.
func streamChat(w http.ResponseWriter, r *http.Request, d Dependencies, req chat.Request, model router.Model, chatID string, outcome x402.Outcome, start time.Time) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		jsonError(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	ch, err := d.Router.StreamChat(ctx, req)
	if err != nil {
		recordRequest(d, req.Model, model.Provider, float64(time.Since(start).Milliseconds()), false)
		jsonErrorDetails(w, "upstream provider error", err.Error(), http.StatusBadGateway)
		return
	}

	h := w.Header()
	x402.AttachReceipt(h, outcome.Settlement, outcome.Requirements.Network)
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("Access-Control-Expose-Headers", x402.ResponseHeader)
	w.WriteHeader(http.StatusOK)

	send := func(ev streamEvent) bool {
		data, err := json.Marshal(ev)
		if err != nil {
			return false
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	var full strings.Builder
	completed := false

	for chunk := range ch {
		if chunk.Err != nil {
			slog.Warn("stream interrupted",
				slog.String("model", req.Model),
				slog.String("error", chunk.Err.Error()))
			send(streamEvent{Error: "stream interrupted"})
			recordRequest(d, req.Model, model.Provider, float64(time.Since(start).Milliseconds()), false)
			return
		}
		if chunk.Text != "" {
			full.WriteString(chunk.Text)
			if !send(streamEvent{Text: chunk.Text}) {
				// Client went away; the adapter unwinds via ctx cancel.
				return
			}
		}
		if chunk.Done {
			completed = true
			break
		}
	}

	if !completed || ctx.Err() != nil {
		// Disconnected or the channel closed without a terminal chunk:
		// nothing durable to record for the assistant turn.
		return
	}

	content := chat.Sanitize(full.String())
	if err := d.Store.SaveMessage(ctx, store.Message{
		ID:            uuid.NewString(),
		ChatID:        chatID,
		Role:          string(chat.RoleAssistant),
		Content:       content,
		Model:         req.Model,
		PaymentStatus: store.StatusFree,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		slog.Error("assistant message write failed", slog.String("chat_id", chatID), slog.String("error", err.Error()))
	}
	recordRequest(d, req.Model, model.Provider, float64(time.Since(start).Milliseconds()), true)

	send(streamEvent{Done: true, ChatID: chatID})
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}
