package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// adminAuth guards the admin surface with a bearer token checked against a
// bcrypt hash. The plaintext token never lives in config.
func adminAuth(tokenHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(auth, "Bearer ")
			if !ok || token == "" {
				jsonError(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if err := bcrypt.CompareHashAndPassword([]byte(tokenHash), []byte(token)); err != nil {
				jsonError(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// PricingHandler exposes the effective model pricing table for operators.
func PricingHandler(d Dependencies) http.HandlerFunc {
	type entry struct {
		Model       string `json:"model"`
		Provider    string `json:"provider"`
		BasePrice   string `json:"basePrice"`
		VisionPrice string `json:"visionPrice,omitempty"`
	}
	return func(w http.ResponseWriter, _ *http.Request) {
		models := d.Router.Models()
		out := make([]entry, 0, len(models))
		for _, m := range models {
			out = append(out, entry{
				Model:       m.ID,
				Provider:    m.Provider,
				BasePrice:   m.BasePrice,
				VisionPrice: m.VisionPrice,
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"pricing": out})
	}
}
