package handler

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/leottami/mindull-sub001/internal/netmon"
)

// NetworkHandler feeds the external connectivity signal into the monitor.
// On device the reachability API calls this; in development it is flipped
// by hand to simulate offline stretches.
type NetworkHandler struct {
	monitor *netmon.Monitor
	logger  *zap.Logger
}

func NewNetworkHandler(monitor *netmon.Monitor, logger *zap.Logger) *NetworkHandler {
	return &NetworkHandler{monitor: monitor, logger: logger}
}

// Set handles PUT /api/v1/network
func (h *NetworkHandler) Set(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Online *bool `json:"online"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Online == nil {
		respondError(w, http.StatusBadRequest, "body must be {\"online\": true|false}")
		return
	}

	h.monitor.Set(*req.Online)
	h.logger.Info("network status updated", zap.Bool("online", *req.Online))
	respondJSON(w, http.StatusOK, map[string]bool{"online": h.monitor.Online()})
}

// Get handles GET /api/v1/network
func (h *NetworkHandler) Get(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]bool{"online": h.monitor.Online()})
}
