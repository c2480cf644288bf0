package api

import (
	"encoding/json"
	"time"

	"github.com/AteetVatan/masx-geosignal/internal/storage"
)

type (
	// HealthStatus represents the health check response structure.
	HealthStatus struct {
		Status      string `json:"status"`
		ServiceName string `json:"serviceName"`
		Version     string `json:"version"`
		Uptime      string `json:"uptime,omitempty"`
	}

	// TriggerRequest is the optional JSON body for POST /api/v1/pipeline/run.
	// Tier overrides the pipeline's configured tier for this run; empty keeps
	// the deployment default.
	TriggerRequest struct {
		TargetDate string `json:"target_date,omitempty"` //nolint: tagliatelle
		Tier       string `json:"tier,omitempty"`
	}

	// TriggerResponse is returned with 202 Accepted when a run is launched.
	TriggerResponse struct {
		Status        string `json:"status"`
		TargetDate    string `json:"target_date"` //nolint: tagliatelle
		Tier          string `json:"tier,omitempty"`
		CorrelationID string `json:"correlation_id"` //nolint: tagliatelle
	}

	// RunResponse is the API view of a processing run.
	RunResponse struct {
		RunID            string          `json:"run_id"`            //nolint: tagliatelle
		Status           string          `json:"status"`
		PipelineTier     string          `json:"pipeline_tier"`     //nolint: tagliatelle
		TargetDate       string          `json:"target_date"`       //nolint: tagliatelle
		TotalEntries     int             `json:"total_entries"`     //nolint: tagliatelle
		ProcessedEntries int             `json:"processed_entries"` //nolint: tagliatelle
		FailedEntries    int             `json:"failed_entries"`    //nolint: tagliatelle
		DedupeSkipped    int             `json:"dedupe_skipped"`    //nolint: tagliatelle
		ClustersCreated  int             `json:"clusters_created"`  //nolint: tagliatelle
		StartedAt        *time.Time      `json:"started_at"`        //nolint: tagliatelle
		CompletedAt      *time.Time      `json:"completed_at"`      //nolint: tagliatelle
		ErrorMessage     string          `json:"error_message,omitempty"` //nolint: tagliatelle
		Metrics          json.RawMessage `json:"metrics,omitempty"`
	}

	// RunListResponse wraps the runs for one target date.
	RunListResponse struct {
		TargetDate string        `json:"target_date"` //nolint: tagliatelle
		Count      int           `json:"count"`
		Runs       []RunResponse `json:"runs"`
	}
)

// runResponse converts a storage run into its API representation.
func runResponse(run *storage.Run) RunResponse {
	resp := RunResponse{
		RunID:            run.RunID,
		Status:           string(run.Status),
		PipelineTier:     run.PipelineTier,
		TargetDate:       run.TargetDate,
		TotalEntries:     run.TotalEntries,
		ProcessedEntries: run.ProcessedEntries,
		FailedEntries:    run.FailedEntries,
		DedupeSkipped:    run.DedupeSkipped,
		ClustersCreated:  run.ClustersCreated,
		StartedAt:        run.StartedAt,
		CompletedAt:      run.CompletedAt,
		ErrorMessage:     run.ErrorMessage,
	}

	if len(run.Metrics) > 0 {
		resp.Metrics = json.RawMessage(run.Metrics)
	}

	return resp
}
