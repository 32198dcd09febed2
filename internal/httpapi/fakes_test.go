package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/chatgate-io/chatgate/internal/chat"
	"github.com/chatgate-io/chatgate/internal/metrics"
	"github.com/chatgate-io/chatgate/internal/router"
	"github.com/chatgate-io/chatgate/internal/store"
	"github.com/chatgate-io/chatgate/internal/x402"
)

// memStore is an in-memory store.Store for handler tests.
type memStore struct {
	mu          sync.Mutex
	chats       map[string]store.Chat
	messages    []store.Message
	attachments map[string][]store.Attachment
	payments    map[string]store.Payment
	usage       map[string]int

	failSaveMessage bool
}

func newMemStore() *memStore {
	return &memStore{
		chats:       map[string]store.Chat{},
		attachments: map[string][]store.Attachment{},
		payments:    map[string]store.Payment{},
		usage:       map[string]int{},
	}
}

func (s *memStore) Migrate(context.Context) error { return nil }

func (s *memStore) CreateChat(_ context.Context, c store.Chat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats[c.ID] = c
	return nil
}

func (s *memStore) GetChat(_ context.Context, id string) (*store.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (s *memStore) CountMessages(_ context.Context, chatID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.messages {
		if m.ChatID == chatID {
			n++
		}
	}
	return n, nil
}

func (s *memStore) ListMessages(_ context.Context, chatID string, limit int) ([]store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.Message
	for _, m := range s.messages {
		if m.ChatID == chatID {
			out = append(out, m)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *memStore) SaveMessage(_ context.Context, m store.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSaveMessage && m.Role == string(chat.RoleAssistant) {
		return errors.New("disk full")
	}
	s.messages = append(s.messages, m)
	return nil
}

func (s *memStore) SaveAttachment(_ context.Context, a store.Attachment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attachments[a.MessageID] = append(s.attachments[a.MessageID], a)
	return nil
}

func (s *memStore) ListAttachments(_ context.Context, messageID string) ([]store.Attachment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attachments[messageID], nil
}

func (s *memStore) RecordPayment(_ context.Context, p store.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payments[p.Transaction] = p
	return nil
}

func (s *memStore) BumpUsage(_ context.Context, wallet, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage[wallet]++
	return nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) messagesByRole(role string) []store.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.Message
	for _, m := range s.messages {
		if m.Role == role {
			out = append(out, m)
		}
	}
	return out
}

// fakeAdapter implements router.Adapter with canned replies.
type fakeAdapter struct {
	name    string
	reply   string
	chunks  []string
	err     error
	lastReq chat.Request
	mu      sync.Mutex
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) Chat(_ context.Context, req chat.Request) (*chat.Response, error) {
	f.mu.Lock()
	f.lastReq = req
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &chat.Response{
		Content:          f.reply,
		Model:            req.Model,
		PromptTokens:     10,
		CompletionTokens: 5,
		TotalTokens:      15,
	}, nil
}

func (f *fakeAdapter) StreamChat(ctx context.Context, req chat.Request) (<-chan chat.StreamChunk, error) {
	f.mu.Lock()
	f.lastReq = req
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	ch := make(chan chat.StreamChunk)
	go func() {
		defer close(ch)
		for _, c := range f.chunks {
			select {
			case ch <- chat.StreamChunk{Text: c}:
			case <-ctx.Done():
				return
			}
		}
		select {
		case ch <- chat.StreamChunk{Done: true}:
		case <-ctx.Done():
		}
	}()
	return ch, nil
}

func (f *fakeAdapter) request() chat.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastReq
}

// facilitatorStub serves /verify and /settle with canned results and counts
// calls.
type facilitatorStub struct {
	srv         *httptest.Server
	verifyCalls atomic.Int64
	settleCalls atomic.Int64

	verify x402.VerificationResult
	settle x402.SettlementResult
}

func newFacilitatorStub(t *testing.T) *facilitatorStub {
	t.Helper()
	f := &facilitatorStub{
		verify: x402.VerificationResult{IsValid: true, Payer: "wallet-1"},
		settle: x402.SettlementResult{Success: true, Transaction: "tx-abc", Amount: "30000", NetworkID: "solana-devnet"},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/verify", func(w http.ResponseWriter, r *http.Request) {
		f.verifyCalls.Add(1)
		_ = json.NewEncoder(w).Encode(f.verify)
	})
	mux.HandleFunc("/settle", func(w http.ResponseWriter, r *http.Request) {
		f.settleCalls.Add(1)
		_ = json.NewEncoder(w).Encode(f.settle)
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

// testEnv wires a chi router with fakes for one test.
type testEnv struct {
	handler  http.Handler
	store    *memStore
	fac      *facilitatorStub
	deepseek *fakeAdapter
	claude   *fakeAdapter
	metrics  *metrics.Registry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	ds := &fakeAdapter{name: "deepseek", reply: "canned reply"}
	cl := &fakeAdapter{name: "anthropic", reply: "claude reply"}
	rt, err := router.New(router.DefaultModels(), ds, cl, &fakeAdapter{name: "openai", reply: "gpt reply"})
	if err != nil {
		t.Fatalf("router.New: %v", err)
	}

	fac := newFacilitatorStub(t)
	gate := x402.NewGate(
		x402.NewFacilitatorClient(fac.srv.URL),
		x402.NewRequirementsBuilder(x402.Config{
			Network:           "solana-devnet",
			PayTo:             "treasury-1",
			Asset:             "mint-1",
			MaxTimeoutSeconds: 60,
		}, rt),
	)

	st := newMemStore()
	m := metrics.New()
	r := chi.NewRouter()
	MountRoutes(r, Dependencies{
		Router:  rt,
		Gate:    gate,
		Store:   st,
		Metrics: m,
	})

	return &testEnv{handler: r, store: st, fac: fac, deepseek: ds, claude: cl, metrics: m}
}

// paymentHeader builds a well-formed encoded proof.
func paymentHeader(t *testing.T) string {
	t.Helper()
	raw, err := x402.EncodePayload(&x402.PaymentPayload{
		X402Version: x402.Version,
		Scheme:      x402.Scheme,
		Network:     "solana-devnet",
		Payload: x402.ExactPayload{
			Signature: "sig-1",
			Authorization: x402.Authorization{
				From:  "wallet-1",
				To:    "treasury-1",
				Value: "30000",
				Nonce: "nonce-1",
			},
		},
	})
	if err != nil {
		t.Fatalf("EncodePayload: %v", err)
	}
	return raw
}
