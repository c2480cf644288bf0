package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/AteetVatan/masx-geosignal/internal/api/middleware"
	"github.com/AteetVatan/masx-geosignal/internal/storage"
)

// handleGetRun returns a single run by run_id.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	runID := r.PathValue("run_id")
	if runID == "" {
		WriteErrorResponse(w, r, s.logger, BadRequest("run_id is required"))

		return
	}

	run, err := s.runs.GetRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, storage.ErrRunNotFound) {
			WriteErrorResponse(w, r, s.logger, NotFound("No run exists with the given run_id"))

			return
		}

		s.logger.Error("failed to fetch run",
			slog.String("correlation_id", correlationID),
			slog.String("run_id", runID),
			slog.String("error", err.Error()),
		)

		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to fetch run"))

		return
	}

	s.writeJSON(w, r, http.StatusOK, runResponse(run), correlationID)
}

// handleListRuns returns all runs for a target date (query parameter "date",
// defaulting to today UTC), newest first.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	targetDate := r.URL.Query().Get("date")
	if targetDate == "" {
		targetDate = time.Now().UTC().Format(targetDateLayout)
	} else if _, err := time.Parse(targetDateLayout, targetDate); err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("date must be formatted as YYYY-MM-DD"))

		return
	}

	runs, err := s.runs.ListRunsByDate(r.Context(), targetDate)
	if err != nil {
		s.logger.Error("failed to list runs",
			slog.String("correlation_id", correlationID),
			slog.String("target_date", targetDate),
			slog.String("error", err.Error()),
		)

		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to list runs"))

		return
	}

	resp := RunListResponse{
		TargetDate: targetDate,
		Count:      len(runs),
		Runs:       make([]RunResponse, 0, len(runs)),
	}

	for _, run := range runs {
		resp.Runs = append(resp.Runs, runResponse(run))
	}

	s.writeJSON(w, r, http.StatusOK, resp, correlationID)
}
