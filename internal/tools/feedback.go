package tools

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/web2labs/studio-gateway/internal/json"
)

type feedbackParams struct {
	Type        string `json:"type"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
	ProjectID   string `json:"project_id"`
}

func runFeedback(ctx context.Context, tc *Context, raw json.RawMessage) (any, error) {
	var params feedbackParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}

	feedbackType := strings.ToLower(strings.TrimSpace(params.Type))
	title := strings.TrimSpace(params.Title)
	description := strings.TrimSpace(params.Description)
	if feedbackType == "" || title == "" || description == "" {
		return nil, paramError("type, title, and description are required")
	}

	severity := params.Severity
	if severity == "" {
		severity = "medium"
	}

	payload := map[string]any{
		"type":        feedbackType,
		"title":       title,
		"description": description,
		"severity":    severity,
		"projectId":   nilIfEmpty(params.ProjectID),
		"context": map[string]any{
			"skillVersion": tc.SkillVersion,
			"agent":        "openclaw",
			"os":           runtime.GOOS,
			"timestamp":    time.Now().UTC().Format(time.RFC3339),
		},
	}

	result, err := tc.Client.SubmitFeedback(ctx, payload, map[string]string{
		"X-Agent-Client":  "openclaw",
		"X-Skill-Version": tc.SkillVersion,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"submitted": true,
		"type":      feedbackType,
		"result":    result,
	}, nil
}

func nilIfEmpty(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

type referralParams struct {
	Action string `json:"action"`
	Code   string `json:"code"`
}

func runReferral(ctx context.Context, tc *Context, raw json.RawMessage) (any, error) {
	var params referralParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}

	action := strings.ToLower(strings.TrimSpace(params.Action))
	if action == "" {
		action = "get"
	}

	switch action {
	case "get":
		referral, err := tc.Client.GetReferral(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"action": "get", "referral": referral}, nil

	case "apply":
		code := strings.TrimSpace(params.Code)
		if code == "" {
			return nil, paramError("Referral code is required for action 'apply'.")
		}
		result, err := tc.Client.ApplyReferralCode(ctx, code)
		if err != nil {
			return nil, err
		}
		return map[string]any{"action": "apply", "code": code, "result": result}, nil
	}

	return nil, paramError(fmt.Sprintf("Invalid action %q. Must be \"get\" or \"apply\".", action))
}
