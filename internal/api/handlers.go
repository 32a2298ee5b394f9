// Package api exposes the submission pipeline over HTTP and MCP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/reviewd/internal/gateway"
	"github.com/kalambet/reviewd/internal/review"
	"github.com/kalambet/reviewd/internal/storage"
)

const maxSubmissionBodySize = 1 << 20 // 1MB

// SubmissionService is the gateway capability the API layer needs.
type SubmissionService interface {
	Submit(ctx context.Context, code string) (gateway.Receipt, error)
	Status(ctx context.Context, id int64) (gateway.Status, error)
}

// Deps holds dependencies for the HTTP handler.
type Deps struct {
	Gateway SubmissionService
}

type submitRequest struct {
	Code string `json:"code"`
}

type submitResponse struct {
	SubmissionID int64  `json:"submission_id"`
	Status       string `json:"status"`
}

type feedbackResponse struct {
	SubmissionID int64            `json:"submission_id,omitempty"`
	Status       string           `json:"status"`
	Feedback     []review.Finding `json:"feedback,omitempty"`
}

// NewHandler builds the HTTP router.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Post("/submit-code", handleSubmitCode(deps))
	r.Get("/get-feedback/{id}", handleGetFeedback(deps))
	r.Get("/health", handleHealth())

	return r
}

func handleSubmitCode(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxSubmissionBodySize)
		defer r.Body.Close()

		var req submitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		receipt, err := deps.Gateway.Submit(r.Context(), req.Code)
		if errors.Is(err, gateway.ErrEmptySubmission) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "no code provided")
			return
		}
		if err != nil {
			// The submission is not safely queued; report the failure
			// instead of a false success.
			httpError(w, http.StatusBadGateway, "api_error", "failed to accept submission: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, submitResponse{
			SubmissionID: receipt.SubmissionID,
			Status:       receipt.Status,
		})
	}
}

func handleGetFeedback(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid submission id")
			return
		}

		status, err := deps.Gateway.Status(r.Context(), id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "submission not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load feedback: %v", err)
			return
		}

		if status.State != gateway.StateDone {
			writeJSON(w, http.StatusAccepted, feedbackResponse{Status: gateway.StateProcessing})
			return
		}
		writeJSON(w, http.StatusOK, feedbackResponse{
			SubmissionID: id,
			Status:       gateway.StateDone,
			Feedback:     status.Findings,
		})
	}
}

func handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
