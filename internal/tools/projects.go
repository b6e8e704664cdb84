package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/web2labs/studio-gateway/internal/json"
)

type listParams struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

func runProjects(ctx context.Context, tc *Context, raw json.RawMessage) (any, error) {
	var params listParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}

	limit := params.Limit
	if limit == 0 {
		limit = 20
	}
	if limit < 1 {
		limit = 1
	}
	if limit > 100 {
		limit = 100
	}
	offset := params.Offset
	if offset < 0 {
		offset = 0
	}

	projects, err := tc.Client.ListProjects(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"limit":    limit,
		"offset":   offset,
		"projects": projects,
	}, nil
}

func runDelete(ctx context.Context, tc *Context, raw json.RawMessage) (any, error) {
	projectID, err := requireProjectID(raw)
	if err != nil {
		return nil, err
	}

	result, err := tc.Client.DeleteProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"projectId": projectID,
		"deleted":   true,
		"result":    result,
	}, nil
}

type rerenderParams struct {
	ProjectID     string         `json:"project_id"`
	Configuration map[string]any `json:"configuration"`
}

func runRerender(ctx context.Context, tc *Context, raw json.RawMessage) (any, error) {
	var params rerenderParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	projectID := strings.TrimSpace(params.ProjectID)
	if projectID == "" {
		return nil, paramError("project_id is required")
	}
	if len(params.Configuration) == 0 {
		return nil, paramError("configuration is required. Pass the settings to change, e.g. {\"subtitles\": {\"enabled\": false}}")
	}

	result, err := tc.Client.RerenderProject(ctx, projectID, params.Configuration)
	if err != nil {
		return nil, err
	}

	doc := gjson.ParseBytes(result)
	status := doc.Get("status").String()
	if status == "" {
		status = "Editing"
	}
	return map[string]any{
		"projectId": projectID,
		"status":    status,
		"result":    result,
		"next_steps": []NextStep{{
			Tool:    "studio_poll",
			Message: "Track the re-render with studio_poll until completion.",
		}},
	}, nil
}

type analyticsParams struct {
	Period string `json:"period"`
}

var analyticsPeriods = map[string]bool{
	"this_month": true,
	"last_month": true,
	"all_time":   true,
}

var projectMilestones = []int{10, 50, 100}

// analyticsInsights translates all-time volume into milestone callouts.
func analyticsInsights(analytics gjson.Result) []string {
	processed := int(analytics.Get("allTime.projectsProcessed").Int())
	reached := 0
	for _, m := range projectMilestones {
		if processed >= m {
			reached = m
		}
	}
	if reached == 0 {
		return nil
	}
	return []string{fmt.Sprintf("Milestone reached: %d projects processed all time.", reached)}
}

func runAnalytics(ctx context.Context, tc *Context, raw json.RawMessage) (any, error) {
	var params analyticsParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}

	period := strings.ToLower(strings.TrimSpace(params.Period))
	if period == "" {
		period = "this_month"
	}
	if !analyticsPeriods[period] {
		return nil, paramError("period must be one of: this_month, last_month, all_time")
	}

	analytics, err := tc.Client.GetAnalytics(ctx, period)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"period":    period,
		"analytics": analytics,
		"insights":  analyticsInsights(gjson.ParseBytes(analytics)),
	}, nil
}
