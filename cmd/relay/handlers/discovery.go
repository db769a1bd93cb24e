package handlers

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/hairizuanbinnoorazman/browser-relay/discovery"
	"github.com/hairizuanbinnoorazman/browser-relay/logger"
)

// DiscoveryHandler exposes tiered endpoint resolution.
type DiscoveryHandler struct {
	resolver *discovery.Resolver
	logger   logger.Logger
}

// NewDiscoveryHandler creates a new discovery handler.
func NewDiscoveryHandler(resolver *discovery.Resolver, log logger.Logger) *DiscoveryHandler {
	return &DiscoveryHandler{
		resolver: resolver,
		logger:   log,
	}
}

// Resolve looks up the service named in the path across all tiers and
// reports which tier answered.
func (h *DiscoveryHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	serviceName := vars["service"]
	if serviceName == "" {
		respondError(w, http.StatusBadRequest, "service name is required")
		return
	}

	record, err := h.resolver.Discover(r.Context(), serviceName)
	if err != nil {
		if errors.Is(err, discovery.ErrDiscoveryExhausted) {
			respondError(w, http.StatusNotFound, "no endpoint found for service")
			return
		}
		h.logger.Error(r.Context(), "discovery failed", map[string]interface{}{
			"service": serviceName,
			"error":   err.Error(),
		})
		respondError(w, http.StatusInternalServerError, "failed to resolve service")
		return
	}

	respondJSON(w, http.StatusOK, record)
}
