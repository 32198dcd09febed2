// Package httpapi mounts the gateway's HTTP surface: the payment-gated chat
// endpoint, model listing, health, metrics, and the token-guarded admin
// pricing view. The chat handler is the orchestrator that sequences
// validation, history loading, the payment gate, provider dispatch, and
// persistence.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/chatgate-io/chatgate/internal/metrics"
	"github.com/chatgate-io/chatgate/internal/router"
	"github.com/chatgate-io/chatgate/internal/store"
	"github.com/chatgate-io/chatgate/internal/x402"
)

// PDFExtractor turns PDF bytes into plain text. Extraction itself is an
// external collaborator; a nil extractor degrades PDF attachments to a
// named placeholder.
type PDFExtractor func(data []byte) (string, error)

// Dependencies carries everything the handlers need. All fields are
// constructed once at startup; handlers never build clients lazily.
type Dependencies struct {
	Router  *router.Router
	Gate    *x402.Gate
	Store   store.Store
	Metrics *metrics.Registry

	ExtractPDF PDFExtractor

	// AdminTokenHash is the bcrypt hash guarding /admin/v1; empty disables
	// the admin surface.
	AdminTokenHash string
}

func MountRoutes(r chi.Router, d Dependencies) {
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		models := d.Router.Models()
		if len(models) == 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]any{"status": "unhealthy", "models": 0})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "models": len(models)})
	})

	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/models", ModelsHandler(d))
		r.Post("/chat", ChatHandler(d))
		r.Options("/chat", preflight)
	})

	if d.AdminTokenHash != "" {
		r.Route("/admin/v1", func(r chi.Router) {
			r.Use(adminAuth(d.AdminTokenHash))
			r.Get("/pricing", PricingHandler(d))
		})
	}
}

// preflight answers CORS preflight for the gated endpoint so browser
// wallets can send the payment header.
func preflight(w http.ResponseWriter, _ *http.Request) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type, "+x402.PaymentHeader)
	h.Set("Access-Control-Expose-Headers", x402.ResponseHeader)
	w.WriteHeader(http.StatusNoContent)
}
