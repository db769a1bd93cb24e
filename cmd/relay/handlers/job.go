package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/hairizuanbinnoorazman/browser-relay/logger"
	"github.com/hairizuanbinnoorazman/browser-relay/orchestrator"
)

// JobHandler exposes orchestrator job lifecycle operations.
type JobHandler struct {
	client       *orchestrator.Client
	startTimeout time.Duration
	logger       logger.Logger
}

// NewJobHandler creates a new job handler.
func NewJobHandler(client *orchestrator.Client, startTimeout time.Duration, log logger.Logger) *JobHandler {
	return &JobHandler{
		client:       client,
		startTimeout: startTimeout,
		logger:       log,
	}
}

// Status reports orchestrator state for the named agent job.
func (h *JobHandler) Status(w http.ResponseWriter, r *http.Request) {
	agentID := mux.Vars(r)["agentID"]

	handle, err := h.client.GetJobStatus(r.Context(), agentID)
	if err != nil {
		h.respondJobError(w, r, agentID, err, "failed to get job status")
		return
	}
	respondJSON(w, http.StatusOK, handle)
}

type startJobRequest struct {
	Variant string `json:"variant"`
}

// Start submits the agent job, patching in the requested variant.
func (h *JobHandler) Start(w http.ResponseWriter, r *http.Request) {
	agentID := mux.Vars(r)["agentID"]

	var req startJobRequest
	if err := parseJSON(r, &req, h.logger); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.client.StartJob(r.Context(), agentID, req.Variant)
	if err != nil {
		h.respondJobError(w, r, agentID, err, "failed to start job")
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// Stop deregisters and purges the agent job.
func (h *JobHandler) Stop(w http.ResponseWriter, r *http.Request) {
	agentID := mux.Vars(r)["agentID"]

	result, err := h.client.StopJob(r.Context(), agentID)
	if err != nil {
		h.respondJobError(w, r, agentID, err, "failed to stop job")
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// Ensure brings the agent job to a healthy state on the requested
// variant and returns its resolved address.
func (h *JobHandler) Ensure(w http.ResponseWriter, r *http.Request) {
	agentID := mux.Vars(r)["agentID"]

	var req startJobRequest
	if err := parseJSON(r, &req, h.logger); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.client.EnsureRunning(r.Context(), agentID, h.startTimeout, req.Variant)
	if err != nil {
		h.respondJobError(w, r, agentID, err, "failed to ensure job running")
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (h *JobHandler) respondJobError(w http.ResponseWriter, r *http.Request, agentID string, err error, fallback string) {
	switch {
	case errors.Is(err, orchestrator.ErrInvalidVariant):
		respondError(w, http.StatusBadRequest, "invalid variant name")
	case errors.Is(err, orchestrator.ErrJobNotFound):
		respondError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, orchestrator.ErrJobDead), errors.Is(err, orchestrator.ErrJobUnhealthy):
		respondError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error(r.Context(), fallback, map[string]interface{}{
			"agent_id": agentID,
			"error":    err.Error(),
		})
		respondError(w, http.StatusInternalServerError, fallback)
	}
}
