package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/maltedev/market-scraper/internal/jobs"
	"github.com/maltedev/market-scraper/internal/models"
	"github.com/maltedev/market-scraper/internal/ratelimit"
	"github.com/maltedev/market-scraper/internal/scraper"
)

const (
	maxBodyBytes = 1 << 20

	pendingWarnThreshold    = 1000
	deadLetterFailThreshold = 100
)

// ProductParser assembles the record of one product page.
type ProductParser interface {
	ParseProduct(ctx context.Context, url string) (*models.ProductRecord, error)
}

type JobService interface {
	CreateJob(ctx context.Context, req jobs.Request) (*jobs.Job, error)
	GetJob(id string) (*jobs.Job, error)
	ListJobs() []*jobs.Job
	GetStats() *jobs.Stats
}

// OutboxStats reports relay backlog for the health check.
type OutboxStats interface {
	PendingCount(ctx context.Context) (int64, error)
	DeadLetterCount(ctx context.Context) (int64, error)
}

type Handlers struct {
	parser  ProductParser
	jobs    JobService
	sink    scraper.Sink
	outbox  OutboxStats
	limiter *ratelimit.TokenBucket
	logger  *slog.Logger
}

// Deps wires the handlers. Sink, Outbox and Limiter are optional.
type Deps struct {
	Parser  ProductParser
	Jobs    JobService
	Sink    scraper.Sink
	Outbox  OutboxStats
	Limiter *ratelimit.TokenBucket
}

func NewHandlers(deps Deps, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Handlers{
		parser:  deps.Parser,
		jobs:    deps.Jobs,
		sink:    deps.Sink,
		outbox:  deps.Outbox,
		limiter: deps.Limiter,
		logger:  logger.With("component", "api"),
	}
}

// ParseRequest represents a single product parse request
type ParseRequest struct {
	URL string `json:"url"`
	// Persist also hands the record to the configured sinks.
	Persist bool `json:"persist"`
}

// ParseProduct assembles the record of one product page synchronously.
func (h *Handlers) ParseProduct(w http.ResponseWriter, r *http.Request) {
	var req ParseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		h.respondError(w, http.StatusBadRequest, "url is required")
		return
	}

	if h.limiter != nil && !h.limiter.Allow() {
		w.Header().Set("Retry-After", "1")
		h.respondError(w, http.StatusTooManyRequests, "too many parse requests")
		return
	}

	rec, err := h.parser.ParseProduct(r.Context(), req.URL)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, scraper.ErrInvalidURL):
			status = http.StatusBadRequest
		case errors.Is(err, scraper.ErrFetch):
			status = http.StatusBadGateway
		case errors.Is(err, context.DeadlineExceeded):
			status = http.StatusGatewayTimeout
		}
		h.logger.Warn("failed to parse product", "url", req.URL, "status", status, "error", err)
		h.respondError(w, status, err.Error())
		return
	}

	if req.Persist && h.sink != nil {
		if err := h.sink.Write(r.Context(), rec); err != nil {
			h.logger.Error("failed to persist record", "url", req.URL, "error", err)
		}
	}

	h.respondJSON(w, http.StatusOK, rec)
}

// CreateJobResponse represents the job creation response
type CreateJobResponse struct {
	JobID   string      `json:"job_id"`
	Status  jobs.Status `json:"status"`
	Message string      `json:"message"`
}

// CreateJob queues a crawl or parse job.
func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req jobs.Request
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	job, err := h.jobs.CreateJob(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, jobs.ErrInvalidJob):
			h.respondError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, jobs.ErrCrawlUnavailable):
			h.respondError(w, http.StatusNotImplemented, err.Error())
		default:
			h.logger.Error("failed to create job", "error", err)
			h.respondError(w, http.StatusInternalServerError, "failed to create job")
		}
		return
	}

	h.respondJSON(w, http.StatusAccepted, CreateJobResponse{
		JobID:   job.ID,
		Status:  job.Status,
		Message: "Job queued",
	})
}

// GetJob handles job status retrieval
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if jobID == "" {
		h.respondError(w, http.StatusBadRequest, "job ID is required")
		return
	}

	job, err := h.jobs.GetJob(jobID)
	if err != nil {
		h.respondError(w, http.StatusNotFound, "job not found")
		return
	}

	h.respondJSON(w, http.StatusOK, job)
}

func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.jobs.ListJobs())
}

func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.jobs.GetStats())
}

// Health reports ok unless the outbox backlog indicates the relay is stuck.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := map[string]any{"status": "ok"}
	status := http.StatusOK

	if h.outbox != nil {
		pending, err := h.outbox.PendingCount(r.Context())
		if err != nil {
			h.logger.Error("failed to count pending events", "error", err)
			h.respondJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status":  "error",
				"message": "outbox unavailable",
			})
			return
		}
		deadLetter, err := h.outbox.DeadLetterCount(r.Context())
		if err != nil {
			h.logger.Error("failed to count dead letter events", "error", err)
		}

		health["outbox"] = map[string]any{
			"pending":     pending,
			"dead_letter": deadLetter,
		}
		if pending > pendingWarnThreshold {
			health["status"] = "warning"
			health["message"] = "High number of pending outbox events"
		}
		if deadLetter > deadLetterFailThreshold {
			health["status"] = "error"
			health["message"] = "High number of dead letter events"
			status = http.StatusServiceUnavailable
		}
	}

	h.respondJSON(w, status, health)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// Helper methods
func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
