package tools

import (
	"context"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/web2labs/studio-gateway/internal/json"
	"github.com/web2labs/studio-gateway/internal/studio"
)

type projectParams struct {
	ProjectID string `json:"project_id"`
}

func requireProjectID(raw json.RawMessage) (string, error) {
	var params projectParams
	if err := decodeParams(raw, &params); err != nil {
		return "", err
	}
	id := strings.TrimSpace(params.ProjectID)
	if id == "" {
		return "", paramError("project_id is required")
	}
	return id, nil
}

func runStatus(ctx context.Context, tc *Context, raw json.RawMessage) (any, error) {
	projectID, err := requireProjectID(raw)
	if err != nil {
		return nil, err
	}

	status, err := tc.Client.GetProjectStatus(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"projectId":              projectID,
		"status":                 status.Status,
		"progress":               status.Progress,
		"resultsUrl":             status.ResultsURL,
		"retentionTimeRemaining": status.RetentionTimeRemaining,
		"error":                  status.Error,
	}, nil
}

type pollParams struct {
	ProjectID      string  `json:"project_id"`
	TimeoutMinutes float64 `json:"timeout_minutes"`
}

type pollUpdate struct {
	Status   string   `json:"status"`
	Progress *float64 `json:"progress,omitempty"`
}

func runPoll(ctx context.Context, tc *Context, raw json.RawMessage) (any, error) {
	var params pollParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	projectID := strings.TrimSpace(params.ProjectID)
	if projectID == "" {
		return nil, paramError("project_id is required")
	}

	timeoutMinutes := params.TimeoutMinutes
	if timeoutMinutes <= 0 {
		timeoutMinutes = 30
	}
	if timeoutMinutes < 1 {
		timeoutMinutes = 1
	}
	if timeoutMinutes > 180 {
		timeoutMinutes = 180
	}

	var updates []pollUpdate
	final, err := tc.Poller.WaitForCompletion(ctx, projectID,
		time.Duration(timeoutMinutes*float64(time.Minute)),
		func(status string, progress *float64) {
			updates = append(updates, pollUpdate{Status: status, Progress: progress})
		})
	if err != nil {
		return nil, err
	}

	normalized := studio.NormalizeStatus(final.Status)
	return map[string]any{
		"projectId":      projectID,
		"timeoutMinutes": timeoutMinutes,
		"updates":        updates,
		"final":          final,
		"completed":      normalized == studio.StatusCompleted,
		"failed":         normalized == studio.StatusFailed,
	}, nil
}

func runResults(ctx context.Context, tc *Context, raw json.RawMessage) (any, error) {
	projectID, err := requireProjectID(raw)
	if err != nil {
		return nil, err
	}

	results, err := tc.Client.GetProjectResults(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"projectId":  projectID,
		"results":    results,
		"next_steps": nextStepsForResults(gjson.ParseBytes(results)),
	}, nil
}
