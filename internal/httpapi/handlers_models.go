package httpapi

import (
	"encoding/json"
	"net/http"
)

// ModelInfo is one entry in the public model listing.
type ModelInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Provider    string `json:"provider"`
	Vision      bool   `json:"vision"`
	Price       string `json:"price"`
	VisionPrice string `json:"visionPrice,omitempty"`
}

// ModelsHandler lists the routable models with their per-message prices so
// clients can quote before paying.
func ModelsHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		models := d.Router.Models()
		out := make([]ModelInfo, 0, len(models))
		for _, m := range models {
			out = append(out, ModelInfo{
				ID:          m.ID,
				Name:        m.DisplayName,
				Provider:    m.Provider,
				Vision:      m.Vision,
				Price:       m.BasePrice,
				VisionPrice: m.VisionPrice,
			})
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		_ = json.NewEncoder(w).Encode(map[string]any{"models": out})
	}
}
