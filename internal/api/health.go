package api

import "net/http"

// HealthResponse is the unauthenticated liveness view.
type HealthResponse struct {
	Status               string            `json:"status"`
	ModelsLoaded         int               `json:"models_loaded"`
	ProvidersConfigured  int               `json:"providers_configured"`
	CircuitBreakerStates map[string]string `json:"circuit_breaker_states"`
}

// HandleHealth serves GET /health. Exported separately from Routes so the
// server can mount it outside the auth middleware.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	snap := h.registry.Current()

	states := make(map[string]string)
	for _, b := range h.breakers.Snapshots() {
		states[b.Provider] = b.State
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:               "ok",
		ModelsLoaded:         snap.ModelCount(),
		ProvidersConfigured:  snap.ProviderCount(),
		CircuitBreakerStates: states,
	})
}
