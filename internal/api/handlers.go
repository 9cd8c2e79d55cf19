package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"
)

// webhookRetryBatchMax caps how many webhook events one retry pass may claim
const webhookRetryBatchMax = 200

// handleHealth reports liveness and uptime
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.startTime).String(),
	})
}

// handleProcessBatch runs one delivery batch. The batchSize parameter
// overrides the configured batch size, capped at the configured maximum.
func (s *Server) handleProcessBatch(w http.ResponseWriter, r *http.Request) {
	limit, err := batchSizeParam(r, s.cfg.Delivery.BatchSize)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if limit > s.cfg.Delivery.BatchSizeMax {
		limit = s.cfg.Delivery.BatchSizeMax
	}

	summary, err := s.deps.Processor.ProcessBatch(r.Context(), limit)
	if err != nil {
		s.logger.Error("batch run failed", "error", err)
		respondError(w, http.StatusInternalServerError, "batch run failed")
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

// handleFollowUps runs one follow-up scheduler pass
func (s *Server) handleFollowUps(w http.ResponseWriter, r *http.Request) {
	result, err := s.deps.Scheduler.Run(r.Context())
	if err != nil {
		s.logger.Error("follow-up pass failed", "error", err)
		respondError(w, http.StatusInternalServerError, "follow-up pass failed")
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// handleWebhookRetries runs one webhook retry pass
func (s *Server) handleWebhookRetries(w http.ResponseWriter, r *http.Request) {
	limit, err := batchSizeParam(r, 50)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if limit > webhookRetryBatchMax {
		limit = webhookRetryBatchMax
	}

	summary, err := s.deps.WebhookProcessor.ProcessRetries(r.Context(), limit)
	if err != nil {
		s.logger.Error("webhook retry pass failed", "error", err)
		respondError(w, http.StatusInternalServerError, "webhook retry pass failed")
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

// batchSizeParam reads the batchSize query parameter, accepting limit as an
// alias, falling back when neither is present.
func batchSizeParam(r *http.Request, fallback int) (int, error) {
	raw := r.URL.Query().Get("batchSize")
	if raw == "" {
		raw = r.URL.Query().Get("limit")
	}
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errors.New("batchSize must be a positive integer")
	}
	return n, nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
