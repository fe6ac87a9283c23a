package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/fablehouse/fable-api/internal/domain"
	"github.com/fablehouse/fable-api/internal/pipeline"
	"github.com/fablehouse/fable-api/internal/service"
	"github.com/fablehouse/fable-api/internal/store"
)

// userKeyHeader identifies the caller. There is no account system; the key
// is an opaque client-chosen identity, typically a device id.
const userKeyHeader = "X-User-Key"

const idempotencyKeyHeader = "Idempotency-Key"

type apiHandler struct {
	books   *service.BookService
	monitor *pipeline.Monitor
	logger  *slog.Logger
}

type errorResponse struct {
	Error string `json:"error"`
}

type createBookResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

func (h *apiHandler) createBook(w http.ResponseWriter, r *http.Request) {
	userKey := r.Header.Get(userKeyHeader)
	if userKey == "" {
		writeError(w, http.StatusBadRequest, "missing "+userKeyHeader+" header")
		return
	}

	var spec domain.BookSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	job, created, err := h.books.CreateBook(r.Context(), userKey,
		r.Header.Get(idempotencyKeyHeader), spec)
	if err != nil {
		h.writeServiceError(r.Context(), w, err)
		return
	}

	status := http.StatusAccepted
	if !created {
		status = http.StatusOK
	}
	writeJSON(w, status, createBookResponse{
		JobID:  job.ID.String(),
		Status: string(job.Status),
	})
}

func (h *apiHandler) getJob(w http.ResponseWriter, r *http.Request) {
	userKey := r.Header.Get(userKeyHeader)
	if userKey == "" {
		writeError(w, http.StatusBadRequest, "missing "+userKeyHeader+" header")
		return
	}

	jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	job, err := h.books.GetJob(r.Context(), userKey, jobID)
	if err != nil {
		h.writeServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *apiHandler) getJobBook(w http.ResponseWriter, r *http.Request) {
	userKey := r.Header.Get(userKeyHeader)
	if userKey == "" {
		writeError(w, http.StatusBadRequest, "missing "+userKeyHeader+" header")
		return
	}

	jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	book, err := h.books.GetBookByJobID(r.Context(), userKey, jobID)
	if err != nil {
		h.writeServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

func (h *apiHandler) getBook(w http.ResponseWriter, r *http.Request) {
	userKey := r.Header.Get(userKeyHeader)
	if userKey == "" {
		writeError(w, http.StatusBadRequest, "missing "+userKeyHeader+" header")
		return
	}

	book, err := h.books.GetBook(r.Context(), userKey, chi.URLParam(r, "bookID"))
	if err != nil {
		h.writeServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

func (h *apiHandler) getCredits(w http.ResponseWriter, r *http.Request) {
	userKey := r.Header.Get(userKeyHeader)
	if userKey == "" {
		writeError(w, http.StatusBadRequest, "missing "+userKeyHeader+" header")
		return
	}

	balance, err := h.books.GetCredits(r.Context(), userKey)
	if err != nil {
		h.writeServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

func (h *apiHandler) getCreditHistory(w http.ResponseWriter, r *http.Request) {
	userKey := r.Header.Get(userKeyHeader)
	if userKey == "" {
		writeError(w, http.StatusBadRequest, "missing "+userKeyHeader+" header")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	history, err := h.books.GetCreditHistory(r.Context(), userKey, limit, offset)
	if err != nil {
		h.writeServiceError(r.Context(), w, err)
		return
	}
	if history == nil {
		history = []*domain.CreditTransaction{}
	}
	writeJSON(w, http.StatusOK, history)
}

func (h *apiHandler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"pipeline": h.monitor.Snapshot(r.Context()),
	})
}

// writeServiceError maps service and store errors onto HTTP statuses
// without leaking internals.
func (h *apiHandler) writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInsufficientCredits):
		writeError(w, http.StatusPaymentRequired, "insufficient credits")
	case store.IsNotFoundError(err):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrEmptyTopic),
		errors.Is(err, domain.ErrInvalidPageCount),
		errors.Is(err, domain.ErrEmptyJobUserKey):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.ErrorContext(ctx, "request failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
