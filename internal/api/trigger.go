package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/AteetVatan/masx-geosignal/internal/api/middleware"
	"github.com/AteetVatan/masx-geosignal/internal/config"
)

const targetDateLayout = "2006-01-02"

// Launcher starts a pipeline run for a target date. tier overrides the
// child's configured pipeline tier; empty keeps the deployment default. The
// API process never runs the pipeline in-process: a run can take an hour,
// far beyond any sensible HTTP timeout, so the launcher detaches it.
type Launcher interface {
	Launch(targetDate, tier string) error
}

// ExecLauncher launches the pipeline binary as a detached child process.
type ExecLauncher struct {
	Command string
	Args    []string
	Logger  *slog.Logger
}

// Launch starts the pipeline process and returns without waiting for it.
// The child is reaped in the background so it never turns into a zombie.
func (l *ExecLauncher) Launch(targetDate, tier string) error {
	args := make([]string, 0, len(l.Args)+4)
	args = append(args, l.Args...)
	args = append(args, "--date", targetDate)

	if tier != "" {
		args = append(args, "--tier", tier)
	}

	cmd := exec.Command(l.Command, args...)
	cmd.Env = os.Environ()
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return err
	}

	l.Logger.Info("pipeline process launched",
		slog.String("command", l.Command),
		slog.String("target_date", targetDate),
		slog.String("tier", tier),
		slog.Int("pid", cmd.Process.Pid),
	)

	go func() {
		if err := cmd.Wait(); err != nil {
			l.Logger.Error("pipeline process exited with error",
				slog.String("target_date", targetDate),
				slog.String("error", err.Error()),
			)
		}
	}()

	return nil
}

// handleTriggerRun starts a pipeline run for the requested target date.
//
// Flow: recover stale runs, refuse if a run is already active (409), launch
// the pipeline process, answer 202 Accepted. The caller polls the runs
// endpoints for progress.
func (s *Server) handleTriggerRun(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	targetDate, tier, problem := s.parseTriggerRequest(r)
	if problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	ctx := r.Context()

	if recovered, err := s.runs.MarkStaleRunsFailed(ctx, s.config.StaleRunMaxAge); err != nil {
		s.logger.Error("stale run recovery failed",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)

		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to check run state"))

		return
	} else if recovered > 0 {
		s.logger.Warn("recovered stale runs before trigger",
			slog.String("correlation_id", correlationID),
			slog.Int64("recovered", recovered),
		)
	}

	active, err := s.runs.HasActiveRun(ctx, s.config.StaleRunMaxAge)
	if err != nil {
		s.logger.Error("active run check failed",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)

		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to check run state"))

		return
	}

	if active {
		WriteErrorResponse(w, r, s.logger, Conflict("A pipeline run is already in progress"))

		return
	}

	if err := s.launcher.Launch(targetDate, tier); err != nil {
		s.logger.Error("failed to launch pipeline",
			slog.String("correlation_id", correlationID),
			slog.String("target_date", targetDate),
			slog.String("error", err.Error()),
		)

		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to launch pipeline run"))

		return
	}

	s.logger.Info("pipeline run accepted",
		slog.String("correlation_id", correlationID),
		slog.String("target_date", targetDate),
		slog.String("tier", tier),
	)

	s.writeJSON(w, r, http.StatusAccepted, TriggerResponse{
		Status:        "accepted",
		TargetDate:    targetDate,
		Tier:          tier,
		CorrelationID: correlationID,
	}, correlationID)
}

// parseTriggerRequest resolves the target date and tier override from the
// optional JSON body. The date defaults to today (UTC); the tier defaults to
// empty, meaning the child keeps its configured tier. An unparseable body,
// date or tier yields a 400 problem.
func (s *Server) parseTriggerRequest(r *http.Request) (string, string, *ProblemDetail) {
	targetDate := time.Now().UTC().Format(targetDateLayout)

	if r.Body == nil || r.ContentLength == 0 {
		return targetDate, "", nil
	}

	if !hasJSONContentType(r.Header.Get("Content-Type")) {
		return "", "", BadRequest("Content-Type must be application/json")
	}

	var req TriggerRequest

	body := io.LimitReader(r.Body, s.config.MaxRequestSize)
	if err := json.NewDecoder(body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return "", "", BadRequest("Request body must be valid JSON")
	}

	if req.TargetDate != "" {
		if _, err := time.Parse(targetDateLayout, req.TargetDate); err != nil {
			return "", "", BadRequest("target_date must be formatted as YYYY-MM-DD")
		}

		targetDate = req.TargetDate
	}

	tier := strings.ToUpper(req.Tier)
	if tier != "" && !config.Tier(tier).IsValid() {
		return "", "", BadRequest("tier must be A, B or C")
	}

	return targetDate, tier, nil
}
