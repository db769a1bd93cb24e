package handlers

import (
	"errors"
	"net/http"

	"github.com/hairizuanbinnoorazman/browser-relay/inputlock"
	"github.com/hairizuanbinnoorazman/browser-relay/logger"
	"github.com/hairizuanbinnoorazman/browser-relay/query"
	"github.com/hairizuanbinnoorazman/browser-relay/site"
	"github.com/hairizuanbinnoorazman/browser-relay/tabpool"
)

// QueryHandler exposes the two-phase protocol over HTTP.
type QueryHandler struct {
	service *query.Service
	logger  logger.Logger
}

// NewQueryHandler creates a new query handler.
func NewQueryHandler(service *query.Service, log logger.Logger) *QueryHandler {
	return &QueryHandler{
		service: service,
		logger:  log,
	}
}

// Submit handles phase one. Retryable pool and lock conditions map to
// 409/429/503 so unattended callers can schedule a retry without
// parsing messages.
func (h *QueryHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req query.SubmitRequest
	if err := parseJSON(r, &req, h.logger); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.service.Submit(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, query.ErrInvalidQuery):
			respondError(w, http.StatusBadRequest, "query text is required")
		case errors.Is(err, site.ErrUnknownServiceType):
			respondError(w, http.StatusBadRequest, "unknown service type")
		case errors.Is(err, tabpool.ErrCapacityExceeded):
			respondError(w, http.StatusTooManyRequests, "tab pool at capacity, retry later")
		case errors.Is(err, tabpool.ErrTabBusy):
			respondError(w, http.StatusConflict, "session tab is busy, retry later")
		case errors.Is(err, inputlock.ErrLockTimeout):
			respondError(w, http.StatusServiceUnavailable, "input lock contested, retry later")
		default:
			h.logger.Error(r.Context(), "submit failed", map[string]interface{}{
				"error": err.Error(),
			})
			respondError(w, http.StatusInternalServerError, "failed to submit query")
		}
		return
	}

	respondJSON(w, http.StatusAccepted, result)
}

// Collect handles phase two. The service always produces a structured
// terminal outcome, so this handler never surfaces a 5xx for a vanished
// tab.
func (h *QueryHandler) Collect(w http.ResponseWriter, r *http.Request) {
	var req query.CollectRequest
	if err := parseJSON(r, &req, h.logger); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TabID == "" {
		respondError(w, http.StatusBadRequest, "tab_id is required")
		return
	}

	result := h.service.Collect(r.Context(), req)
	respondJSON(w, http.StatusOK, result)
}
