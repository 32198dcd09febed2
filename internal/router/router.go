// Package router dispatches unified chat calls to the backend adapter
// registered for a model id, and owns the model table: display names, vision
// capability, and the flat per-message prices quoted to the payment gate.
package router

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/chatgate-io/chatgate/internal/chat"
)

// Adapter is implemented by each backend. Adapters translate the unified
// request into their wire format; they never see pricing.
type Adapter interface {
	Name() string
	Chat(ctx context.Context, req chat.Request) (*chat.Response, error)
	StreamChat(ctx context.Context, req chat.Request) (<-chan chat.StreamChunk, error)
}

// Model describes one routable model.
type Model struct {
	ID          string
	DisplayName string
	Provider    string // adapter name this model routes to
	Vision      bool   // accepts image parts
	BasePrice   string // per-message price, smallest currency units
	VisionPrice string // price when the request carries images; >= BasePrice
}

// UnsupportedModelError names a requested model id that is not in the table.
type UnsupportedModelError struct {
	Requested string
	Supported []string
}

func (e *UnsupportedModelError) Error() string {
	return fmt.Sprintf("unsupported model %q (supported: %s)", e.Requested, strings.Join(e.Supported, ", "))
}

// Router maps model ids to adapters. Adapters are constructed once at
// startup and passed in; the router holds no lazily-initialized state and is
// safe for concurrent use.
type Router struct {
	adapters map[string]Adapter
	models   map[string]Model
	ids      []string
}

// New builds a router from a model table and the adapters the table refers
// to. A model whose Provider has no registered adapter is a wiring bug.
func New(models []Model, adapters ...Adapter) (*Router, error) {
	r := &Router{
		adapters: make(map[string]Adapter, len(adapters)),
		models:   make(map[string]Model, len(models)),
	}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
	}
	for _, m := range models {
		if _, ok := r.adapters[m.Provider]; !ok {
			return nil, fmt.Errorf("model %q references unregistered adapter %q", m.ID, m.Provider)
		}
		r.models[m.ID] = m
		r.ids = append(r.ids, m.ID)
	}
	sort.Strings(r.ids)
	return r, nil
}

// Lookup returns the model table entry for an id.
func (r *Router) Lookup(modelID string) (Model, error) {
	m, ok := r.models[modelID]
	if !ok {
		return Model{}, &UnsupportedModelError{Requested: modelID, Supported: r.ids}
	}
	return m, nil
}

func (r *Router) lookup(modelID string) (Model, Adapter, error) {
	m, ok := r.models[modelID]
	if !ok {
		return Model{}, nil, &UnsupportedModelError{Requested: modelID, Supported: r.ids}
	}
	return m, r.adapters[m.Provider], nil
}

// Chat dispatches a non-streaming call. The response Cost is the flat price
// for the outbound message list (vision price when any message carries
// images), regardless of actual token usage. Callers that quoted a price
// before dispatch report that quote instead: reconstructed history images
// can make this derivation exceed what was charged for the current turn.
func (r *Router) Chat(ctx context.Context, req chat.Request) (*chat.Response, error) {
	m, a, err := r.lookup(req.Model)
	if err != nil {
		return nil, err
	}
	resp, err := a.Chat(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", a.Name(), err)
	}
	resp.Cost = priceFor(m, hasVisionContent(req.Messages))
	return resp, nil
}

// StreamChat dispatches a streaming call. Chunk order is preserved as
// received from the adapter; no buffering or reordering happens here.
func (r *Router) StreamChat(ctx context.Context, req chat.Request) (<-chan chat.StreamChunk, error) {
	_, a, err := r.lookup(req.Model)
	if err != nil {
		return nil, err
	}
	ch, err := a.StreamChat(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", a.Name(), err)
	}
	return ch, nil
}

// Price returns the per-message price for a model. hasVision selects the
// vision price when the model defines one.
func (r *Router) Price(modelID string, hasVision bool) (string, error) {
	m, ok := r.models[modelID]
	if !ok {
		return "", &UnsupportedModelError{Requested: modelID, Supported: r.ids}
	}
	return priceFor(m, hasVision), nil
}

// DisplayName returns the human-readable model name.
func (r *Router) DisplayName(modelID string) (string, error) {
	m, ok := r.models[modelID]
	if !ok {
		return "", &UnsupportedModelError{Requested: modelID, Supported: r.ids}
	}
	return m.DisplayName, nil
}

// SupportsVision reports whether a model accepts image parts. Unknown models
// report false.
func (r *Router) SupportsVision(modelID string) bool {
	return r.models[modelID].Vision
}

// Models returns the model table sorted by id.
func (r *Router) Models() []Model {
	out := make([]Model, 0, len(r.ids))
	for _, id := range r.ids {
		out = append(out, r.models[id])
	}
	return out
}

func priceFor(m Model, hasVision bool) string {
	if hasVision && m.VisionPrice != "" {
		return m.VisionPrice
	}
	return m.BasePrice
}

func hasVisionContent(msgs []chat.Message) bool {
	for _, m := range msgs {
		if m.Content.HasImages() {
			return true
		}
	}
	return false
}
