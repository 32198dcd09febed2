package httpapi

import (
	"context"
	"encoding/json"
	"errors"
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

// maxChatMessages caps the stored turns per chat. Checked before payment is
// taken so a capped chat is rejected for free.
const maxChatMessages = 80

const systemPrompt = "You are a helpful assistant. Answer concisely and accurately."

// Defaults applied when the client omits generation parameters.
const (
	defaultTemperature = 0.7
	defaultMaxTokens   = 1024
)

// ChatRequest is the JSON body of POST /v1/chat.
type ChatRequest struct {
	Message       string       `json:"message"`
	WalletAddress string       `json:"walletAddress"`
	ChatID        string       `json:"chatId,omitempty"`
	Model         string       `json:"model"`
	Temperature   *float64     `json:"temperature,omitempty"`
	MaxTokens     *int         `json:"maxTokens,omitempty"`
	Stream        bool         `json:"stream,omitempty"`
	Files         []FileUpload `json:"files,omitempty"`
}

// TokenUsage mirrors the upstream token accounting field names.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResponse is the JSON body of a successful non-streaming call.
type ChatResponse struct {
	Message    string     `json:"message"`
	Model      string     `json:"model"`
	ChatID     string     `json:"chatId"`
	TokenUsage TokenUsage `json:"tokenUsage"`
	Cost       string     `json:"cost"`
	Timestamp  string     `json:"timestamp"`
}

// ChatHandler sequences one gated chat request: validate, load history,
// drive the payment gate, dispatch to the provider, sanitize, persist,
// attach the settlement receipt.
func ChatHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, "bad json", http.StatusBadRequest)
			return
		}

		if req.WalletAddress == "" {
			jsonError(w, "walletAddress is required", http.StatusBadRequest)
			return
		}
		if strings.TrimSpace(req.Message) == "" && len(req.Files) == 0 {
			jsonError(w, "message or files required", http.StatusBadRequest)
			return
		}
		if err := validateFiles(req.Files); err != nil {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		model, err := d.Router.Lookup(req.Model)
		if err != nil {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}

		ctx := r.Context()

		// Resolve or create the chat. Done before payment so ownership and
		// cap violations are rejected for free.
		chatID := req.ChatID
		newChat := false
		if chatID != "" {
			stored, err := d.Store.GetChat(ctx, chatID)
			if errors.Is(err, store.ErrNotFound) {
				jsonError(w, "chat not found", http.StatusNotFound)
				return
			}
			if err != nil {
				slog.Error("chat lookup failed", slog.String("error", err.Error()))
				jsonError(w, "internal error", http.StatusInternalServerError)
				return
			}
			if stored.WalletAddress != req.WalletAddress {
				jsonError(w, "chat not found", http.StatusNotFound)
				return
			}
			count, err := d.Store.CountMessages(ctx, chatID)
			if err != nil {
				slog.Error("message count failed", slog.String("error", err.Error()))
				jsonError(w, "internal error", http.StatusInternalServerError)
				return
			}
			if count >= maxChatMessages {
				jsonError(w, fmt.Sprintf("chat message limit reached (%d)", maxChatMessages), http.StatusBadRequest)
				return
			}
		} else {
			chatID = uuid.NewString()
			newChat = true
		}

		userContent, err := buildUserContent(req.Message, req.Files, d.ExtractPDF)
		if err != nil {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}

		// Vision pricing is driven by what this request actually carries.
		hasVision := model.Vision && hasImageFiles(req.Files)

		// --- Payment gate ---
		resource := "https://" + r.Host + r.URL.Path
		outcome, err := d.Gate.DrivePayment(ctx, r.Header, req.Model, hasVision, resource)
		if err != nil {
			// Requirements could not be built: configuration problem, not a
			// payment rejection. Details stay server-side.
			slog.Error("payment requirements unavailable", slog.String("model", req.Model), slog.String("error", err.Error()))
			jsonError(w, "internal error", http.StatusInternalServerError)
			return
		}
		// Every pass through the gate builds a quote, granted or not.
		if d.Metrics != nil {
			d.Metrics.PaymentsQuoted.Inc()
		}
		if !outcome.Granted {
			if d.Metrics != nil {
				d.Metrics.PaymentsRejected.WithLabelValues(string(outcome.Stage)).Inc()
			}
			x402.WritePaymentRequired(w, outcome.Reply)
			return
		}
		if d.Metrics != nil {
			d.Metrics.PaymentsVerified.Inc()
			d.Metrics.PaymentsSettled.Inc()
			if amt, err := parseBaseUnits(outcome.Settlement.Amount); err == nil {
				d.Metrics.RevenueBaseUnits.WithLabelValues(req.Model, outcome.Requirements.Network).Add(amt)
			}
		}

		// --- Build the unified message list ---
		messages, err := buildMessages(ctx, d, chatID, newChat, model, userContent)
		if err != nil {
			slog.Error("history load failed", slog.String("chat_id", chatID), slog.String("error", err.Error()))
			jsonError(w, "internal error", http.StatusInternalServerError)
			return
		}

		temperature := defaultTemperature
		if req.Temperature != nil {
			temperature = *req.Temperature
		}
		maxTokens := defaultMaxTokens
		if req.MaxTokens != nil {
			maxTokens = *req.MaxTokens
		}
		unified := chat.Request{
			Model:       req.Model,
			Messages:    messages,
			Temperature: chat.ClampTemperature(temperature),
			MaxTokens:   chat.ClampMaxTokens(maxTokens),
		}

		// Persist the chat row and the paid user turn now that settlement
		// succeeded. The durable receipt id comes from the settlement.
		persistUserTurn(ctx, d, chatID, newChat, req, outcome)

		if req.Stream {
			streamChat(w, r, d, unified, model, chatID, outcome, start)
			return
		}

		resp, err := d.Router.Chat(ctx, unified)
		latency := float64(time.Since(start).Milliseconds())
		if err != nil {
			// Payment has already settled; the charge stands. Known gap: no
			// refund path to the facilitator on upstream failure.
			recordRequest(d, req.Model, model.Provider, latency, false)
			jsonErrorDetails(w, "upstream provider error", err.Error(), http.StatusBadGateway)
			return
		}
		recordRequest(d, req.Model, model.Provider, latency, true)

		content := chat.Sanitize(resp.Content)
		now := time.Now().UTC()

		// The assistant turn is the primary write: its failure fails the
		// request even though the model already answered.
		if err := d.Store.SaveMessage(ctx, store.Message{
			ID:            uuid.NewString(),
			ChatID:        chatID,
			Role:          string(chat.RoleAssistant),
			Content:       content,
			Model:         req.Model,
			PaymentStatus: store.StatusFree,
			CreatedAt:     now,
		}); err != nil {
			slog.Error("assistant message write failed", slog.String("chat_id", chatID), slog.String("error", err.Error()))
			jsonError(w, "failed to persist response", http.StatusInternalServerError)
			return
		}

		x402.AttachReceipt(w.Header(), outcome.Settlement, outcome.Requirements.Network)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(ChatResponse{
			Message: content,
			Model:   req.Model,
			ChatID:  chatID,
			TokenUsage: TokenUsage{
				PromptTokens:     resp.PromptTokens,
				CompletionTokens: resp.CompletionTokens,
				TotalTokens:      resp.TotalTokens,
			},
			// The cost reported is the price that was quoted and settled,
			// not a re-derivation from the outbound messages: history
			// images reconstructed into the message list must not inflate
			// the cost of a text-only turn.
			Cost:      outcome.Requirements.MaxAmountRequired,
			Timestamp: now.Format(time.RFC3339),
		})
	}
}

// buildMessages assembles system prompt, reconstructed history, and the
// current user turn.
func buildMessages(ctx context.Context, d Dependencies, chatID string, newChat bool, model router.Model, userContent chat.Content) ([]chat.Message, error) {
	messages := []chat.Message{{Role: chat.RoleSystem, Content: chat.TextContent(systemPrompt)}}

	if !newChat {
		history, err := d.Store.ListMessages(ctx, chatID, maxChatMessages)
		if err != nil {
			return nil, err
		}
		for _, m := range history {
			content := chat.TextContent(m.Content)
			if m.Role == string(chat.RoleUser) {
				atts, err := d.Store.ListAttachments(ctx, m.ID)
				if err != nil {
					// History images are an enrichment; degrade to text.
					warnOnErr("list_attachments", err)
				}
				var urls []string
				for _, a := range atts {
					if strings.HasPrefix(a.MimeType, "image/") {
						urls = append(urls, a.DataURL)
					}
				}
				content = chat.Reconstruct(m.Content, urls, model.Vision)
			}
			messages = append(messages, chat.Message{Role: chat.Role(m.Role), Content: content})
		}
	}

	return append(messages, chat.Message{Role: chat.RoleUser, Content: userContent}), nil
}

// persistUserTurn writes the chat row (when new), the paid user message,
// its attachments, the payment record, and the usage bump. All of these are
// best-effort secondary writes: a storage hiccup must not void a settled
// payment or block the reply.
func persistUserTurn(ctx context.Context, d Dependencies, chatID string, newChat bool, req ChatRequest, outcome x402.Outcome) {
	now := time.Now().UTC()
	if newChat {
		title := strings.TrimSpace(req.Message)
		if len(title) > 64 {
			title = title[:64]
		}
		warnOnErr("create_chat", d.Store.CreateChat(ctx, store.Chat{
			ID:            chatID,
			WalletAddress: req.WalletAddress,
			Title:         title,
			CreatedAt:     now,
		}))
	}

	userMsgID := uuid.NewString()
	warnOnErr("save_user_message", d.Store.SaveMessage(ctx, store.Message{
		ID:            userMsgID,
		ChatID:        chatID,
		Role:          string(chat.RoleUser),
		Content:       req.Message,
		Model:         req.Model,
		PaymentStatus: store.StatusPaid,
		TransactionID: outcome.Settlement.Transaction,
		CreatedAt:     now,
	}))

	for _, f := range req.Files {
		mediaType, _, _ := chat.ParseDataURL(f.DataURL)
		warnOnErr("save_attachment", d.Store.SaveAttachment(ctx, store.Attachment{
			ID:        uuid.NewString(),
			MessageID: userMsgID,
			Name:      f.Name,
			MimeType:  mediaType,
			Size:      f.Size,
			DataURL:   f.DataURL,
		}))
	}

	warnOnErr("record_payment", d.Store.RecordPayment(ctx, store.Payment{
		Transaction: outcome.Settlement.Transaction,
		Network:     outcome.Requirements.Network,
		Amount:      outcome.Settlement.Amount,
		Payer:       outcome.Payer,
		Model:       req.Model,
		CreatedAt:   now,
	}))
	warnOnErr("bump_usage", d.Store.BumpUsage(ctx, req.WalletAddress, outcome.Requirements.MaxAmountRequired))
}

func parseBaseUnits(s string) (float64, error) {
	var v float64
	_, err := fmt.Sscanf(s, "%f", &v)
	return v, err
}
