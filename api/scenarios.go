/*
scenarios.go - Demo scenario endpoints

PURPOSE:
  Lists the built-in fixtures and loads one into the store. Loading resets
  the store first, so these routes are for development and demos only.

USAGE VIA API:
	GET  /api/scenarios
	GET  /api/scenarios/current
	POST /api/scenarios/load
	{"scenario_id": "standard-city"}

SEE ALSO:
  - seed/seed.go: Fixture format and loader
  - seed/scenarios/: Built-in fixtures
*/
package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/warp/municipal-wallet/seed"
)

// ListScenarios returns the built-in fixtures.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	list, err := seed.Scenarios()
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// GetCurrentScenario returns the id of the last loaded scenario.
// GET /api/scenarios/current
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	current := h.currentScenario
	h.mu.RUnlock()
	writeJSON(w, http.StatusOK, map[string]string{"scenario_id": current})
}

// LoadScenario resets the store and applies a fixture.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	if h.Loader == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "scenario loading is disabled")
		return
	}
	var req LoadScenarioRequest
	if err := decodeAndValidate(r, &req); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	// Loads are serialized.
	h.mu.Lock()
	defer h.mu.Unlock()

	rep, err := h.Loader.LoadScenario(r.Context(), req.ScenarioID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.currentScenario = req.ScenarioID
	h.log.Info("scenario loaded",
		zap.String("scenario", req.ScenarioID),
		zap.Int("transactions", len(rep.Transactions)))
	writeJSON(w, http.StatusOK, rep)
}
