package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/cordontrips/cordontrips/internal/api/middleware"
	"github.com/cordontrips/cordontrips/internal/api/models"
	"github.com/cordontrips/cordontrips/internal/api/response"
	"github.com/cordontrips/cordontrips/internal/runs"
)

// Listing bounds for GET /v1/extractions.
const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// maxBodyBytes caps the submission body; requests carry only URIs.
const maxBodyBytes = 64 << 10

// RunService is the subset of runs.Service the handler needs.
type RunService interface {
	Create(ctx context.Context, req runs.Request) (*runs.Run, error)
	Get(ctx context.Context, id string) (*runs.Run, error)
	List(ctx context.Context, opts runs.ListOptions) ([]*runs.Run, error)
	Fail(ctx context.Context, id string, cause error) (*runs.Run, error)
}

// JobPublisher hands a stored run to the workers.
type JobPublisher interface {
	PublishExtract(ctx context.Context, runID string) error
}

// ExtractionHandler handles extraction run endpoints.
type ExtractionHandler struct {
	runs      RunService
	publisher JobPublisher
	logger    zerolog.Logger
}

// NewExtractionHandler creates a new ExtractionHandler.
func NewExtractionHandler(svc RunService, publisher JobPublisher, logger zerolog.Logger) *ExtractionHandler {
	return &ExtractionHandler{runs: svc, publisher: publisher, logger: logger}
}

// CreateExtraction handles POST /v1/extractions - submit an extraction run.
func (h *ExtractionHandler) CreateExtraction(w http.ResponseWriter, r *http.Request) {
	var input models.CreateExtractionRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&input); err != nil {
		response.MalformedBody(w, r, "invalid JSON body: "+err.Error())
		return
	}

	run, err := h.runs.Create(r.Context(), toRunRequest(input))
	if err != nil {
		var verr *runs.ValidationError
		if errors.As(err, &verr) {
			response.BadRequest(w, r, "extraction request failed validation", verr.Errors)
			return
		}
		h.logger.Error().Err(err).Msg("failed to create run")
		response.InternalError(w, r, "failed to store extraction run")
		return
	}

	log := h.logger.With().
		Str("run_id", run.ID).
		Str("request_id", middleware.GetRequestID(r.Context())).
		Logger()

	if err := h.publisher.PublishExtract(r.Context(), run.ID); err != nil {
		log.Error().Err(err).Msg("failed to enqueue run")
		if _, ferr := h.runs.Fail(r.Context(), run.ID, err); ferr != nil {
			log.Error().Err(ferr).Msg("failed to mark run failed")
		}
		response.ServiceUnavailable(w, r, "extraction queue unavailable")
		return
	}

	log.Info().Str("subject", middleware.GetSubject(r.Context())).Msg("extraction submitted")
	response.Accepted(w, r, "/v1/extractions/"+run.ID, toExtraction(run))
}

// ListExtractions handles GET /v1/extractions - list runs newest first.
func (h *ExtractionHandler) ListExtractions(w http.ResponseWriter, r *http.Request) {
	opts := runs.ListOptions{Limit: DefaultListLimit}
	var fieldErrs []models.FieldError

	q := r.URL.Query()
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > MaxListLimit {
			fieldErrs = append(fieldErrs, models.FieldError{
				Field:   "limit",
				Message: "limit must be an integer between 1 and " + strconv.Itoa(MaxListLimit),
				Code:    "range",
			})
		} else {
			opts.Limit = limit
		}
	}
	if raw := q.Get("status"); raw != "" {
		status := runs.Status(raw)
		switch status {
		case runs.StatusPending, runs.StatusRunning, runs.StatusSucceeded, runs.StatusFailed:
			opts.Status = status
		default:
			fieldErrs = append(fieldErrs, models.FieldError{
				Field:   "status",
				Message: "status must be one of pending, running, succeeded, failed",
				Code:    "oneof",
			})
		}
	}
	if len(fieldErrs) > 0 {
		response.BadRequest(w, r, "invalid query parameters", fieldErrs)
		return
	}

	list, err := h.runs.List(r.Context(), opts)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list runs")
		response.InternalError(w, r, "failed to list extraction runs")
		return
	}

	out := models.ExtractionList{
		Items: make([]models.Extraction, 0, len(list)),
		Meta:  models.PagedResponseMeta{Limit: opts.Limit, Count: len(list)},
	}
	for _, run := range list {
		out.Items = append(out.Items, toExtraction(run))
	}
	response.JSON(w, r, http.StatusOK, out)
}

// GetExtraction handles GET /v1/extractions/{runId} - get one run.
func (h *ExtractionHandler) GetExtraction(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runId")
	if runID == "" {
		response.BadRequest(w, r, "runId is required", nil)
		return
	}

	run, err := h.runs.Get(r.Context(), runID)
	if err != nil {
		if errors.Is(err, runs.ErrRunNotFound) {
			response.NotFound(w, r, "extraction run "+runID+" not found")
			return
		}
		h.logger.Error().Err(err).Str("run_id", runID).Msg("failed to get run")
		response.InternalError(w, r, "failed to load extraction run")
		return
	}
	response.JSON(w, r, http.StatusOK, toExtraction(run))
}

func toRunRequest(in models.CreateExtractionRequest) runs.Request {
	return runs.Request{
		Plans:            in.Plans,
		Network:          in.Network,
		Region:           in.Region,
		Output:           in.Output,
		CRS:              in.CRS,
		Mode:             in.Mode,
		Workers:          in.Workers,
		Landmarks:        in.Landmarks,
		DepartureDefault: in.DepartureDefault,
	}
}

func toExtraction(run *runs.Run) models.Extraction {
	skipped := run.Skipped
	if skipped == nil {
		skipped = map[string]int{}
	}
	return models.Extraction{
		ID:     run.ID,
		Status: string(run.Status),
		Request: models.CreateExtractionRequest{
			Plans:            run.Request.Plans,
			Network:          run.Request.Network,
			Region:           run.Request.Region,
			Output:           run.Request.Output,
			CRS:              run.Request.CRS,
			Mode:             run.Request.Mode,
			Workers:          run.Request.Workers,
			Landmarks:        run.Request.Landmarks,
			DepartureDefault: run.Request.DepartureDefault,
		},
		Processed:     run.Processed,
		Emitted:       run.Emitted,
		Skipped:       skipped,
		BoundaryLinks: run.BoundaryLinks,
		Error:         run.Error,
		CreatedAt:     models.Timestamp(run.CreatedAt),
		StartedAt:     models.TimestampPtr(run.StartedAt),
		FinishedAt:    models.TimestampPtr(run.FinishedAt),
	}
}
