package api

import (
	"net/http"

	"github.com/applyforge/applyforge/internal/llm"
)

type providersResponse struct {
	Providers []llm.ProviderStatus `json:"providers"`
	Routes    map[string]string    `json:"routes"`
}

// getLLMProviders reports router availability and the category-to-provider
// routing table. API keys are reduced to a hint upstream.
func (s *Server) getLLMProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, providersResponse{
		Providers: s.providers.Providers(),
		Routes:    s.providers.Routes(),
	})
}
