package tools

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/web2labs/studio-gateway/internal/downloader"
	"github.com/web2labs/studio-gateway/internal/json"
	log "github.com/web2labs/studio-gateway/internal/logging"
	"github.com/web2labs/studio-gateway/internal/preset"
	"github.com/web2labs/studio-gateway/internal/spend"
	"github.com/web2labs/studio-gateway/internal/studio"
)

var supportedExtensions = map[string]struct{}{
	".mp4": {}, ".mkv": {}, ".mov": {}, ".avi": {},
	".webm": {}, ".flv": {}, ".wmv": {}, ".m4v": {},
}

type uploadParams struct {
	FilePath        string         `json:"file_path"`
	Name            string         `json:"name"`
	Preset          string         `json:"preset"`
	Configuration   map[string]any `json:"configuration"`
	Priority        string         `json:"priority"`
	WebhookURL      string         `json:"webhook_url"`
	WebhookSecret   string         `json:"webhook_secret"`
	DurationMinutes float64        `json:"duration_minutes"`
	ConfirmSpend    bool           `json:"confirm_spend"`
}

func assertLocalVideo(path string) error {
	if _, err := os.Stat(path); err != nil {
		return paramError(fmt.Sprintf("File not found: %s", path))
	}
	ext := strings.ToLower(filepath.Ext(path))
	if _, ok := supportedExtensions[ext]; !ok {
		exts := make([]string, 0, len(supportedExtensions))
		for e := range supportedExtensions {
			exts = append(exts, e)
		}
		sort.Strings(exts)
		return paramError(fmt.Sprintf("Unsupported file type %s. Supported formats: %s", ext, strings.Join(exts, ", ")))
	}
	return nil
}

// resolveConfiguration picks the effective preset (explicit, then the
// configured default) and layers overrides on top of it.
func resolveConfiguration(defaultPreset, presetName string, overrides map[string]any) (string, map[string]any, error) {
	selected := presetName
	if selected == "" {
		selected = defaultPreset
	}

	config, err := preset.Resolve(selected)
	if err != nil {
		return "", nil, paramError(err.Error())
	}
	if config == nil {
		config = map[string]any{}
	}
	if overrides != nil {
		config = preset.Merge(config, overrides)
	}
	return selected, config, nil
}

func stripExtension(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}

func runUpload(ctx context.Context, tc *Context, raw json.RawMessage) (any, error) {
	var params uploadParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}

	source := strings.TrimSpace(params.FilePath)
	if source == "" {
		return nil, paramError("file_path is required")
	}

	localPath := source
	downloadedFromURL := false
	var sourceTitle string
	var tmpDir string
	defer func() {
		if tmpDir != "" {
			downloader.Cleanup(tmpDir)
		}
	}()

	if downloader.IsURL(source) {
		if !downloader.IsSupportedURL(source) {
			return nil, paramError("Unsupported URL domain. Supported: YouTube, Twitch, Vimeo, Dailymotion, Streamable, Reddit")
		}
		if installed, _ := tc.Downloader.Check(ctx); !installed {
			return nil, paramError("yt-dlp is not installed. Install with: brew install yt-dlp (macOS), pip install yt-dlp (Linux), winget install yt-dlp (Windows).")
		}

		info, err := tc.Downloader.Probe(ctx, source)
		if err != nil {
			return nil, err
		}
		sourceTitle = info.Title

		download, err := tc.Downloader.Download(ctx, source, downloader.DownloadOptions{})
		if err != nil {
			return nil, err
		}
		localPath = download.FilePath
		tmpDir = download.TmpDir
		downloadedFromURL = true
	} else if err := assertLocalVideo(localPath); err != nil {
		return nil, err
	}

	selectedPreset, configuration, err := resolveConfiguration(tc.DefaultPreset, params.Preset, params.Configuration)
	if err != nil {
		return nil, err
	}

	projectName := params.Name
	if projectName == "" {
		projectName = sourceTitle
	}
	if projectName == "" {
		projectName = stripExtension(filepath.Base(localPath))
	}

	priority := params.Priority
	if priority == "" {
		priority = "normal"
	}
	webhookURL := strings.TrimSpace(params.WebhookURL)
	webhookSecret := strings.TrimSpace(params.WebhookSecret)

	estimate := estimateWithFallback(ctx, tc, selectedPreset, priority, configuration, params.DurationMinutes)

	authorization, err := tc.Guard.Authorize(ctx, spend.Request{
		Action:        "upload",
		ActionLabel:   "Upload and process video",
		EstimatedCost: estimate,
		ConfirmSpend:  params.ConfirmSpend,
	})
	if err != nil {
		return nil, err
	}

	result, err := tc.Client.UploadProject(ctx, localPath, studio.UploadOptions{
		Name:          projectName,
		Configuration: configuration,
		Priority:      priority,
		WebhookURL:    webhookURL,
		WebhookSecret: webhookSecret,
	})
	if err != nil {
		return nil, err
	}

	doc := gjson.ParseBytes(result)
	projectID := doc.Get("projectId").String()
	if projectID == "" {
		projectID = doc.Get("id").String()
	}
	status := doc.Get("status").String()
	if status == "" {
		status = "Uploading"
	}
	pollURL := doc.Get("pollUrl").String()
	if pollURL == "" {
		pollURL = fmt.Sprintf("/api/v1/projects/%s/status", projectID)
	}

	webhook := map[string]any{
		"enabled": webhookURL != "",
		"url":     webhookURL,
		"signing": webhookSecret != "",
	}
	if webhookURL != "" {
		webhook["event"] = "project.completed"
	}

	response := map[string]any{
		"projectId":         projectID,
		"status":            status,
		"pollUrl":           pollURL,
		"preset":            selectedPreset,
		"projectName":       projectName,
		"priority":          priority,
		"spendPolicy":       authorization.Policy,
		"estimatedCost":     authorization.EstimatedCost,
		"webhook":           webhook,
		"downloadedFromUrl": downloadedFromURL,
		"next_steps":        nextStepsForUpload(webhookURL != ""),
	}
	if downloadedFromURL {
		response["sourceUrl"] = source
	}
	return response, nil
}

// estimateWithFallback asks the service to price the job; when that fails
// the documented flat rate applies so uploads never block on the estimator.
func estimateWithFallback(ctx context.Context, tc *Context, presetName, priority string, configuration map[string]any, durationMinutes float64) json.RawMessage {
	payload := map[string]any{
		"priority":      priority,
		"configuration": configuration,
	}
	if presetName != "" {
		payload["preset"] = presetName
	}
	if durationMinutes > 0 && !math.IsInf(durationMinutes, 0) {
		payload["durationMinutes"] = int(math.Round(durationMinutes))
	}

	estimate, err := tc.Client.EstimateCost(ctx, payload)
	if err == nil {
		return estimate
	}
	log.WithError(err).Debug("cost estimate unavailable, using flat fallback")

	apiCredits := 1
	if priority == "rush" {
		apiCredits = 2
	}
	fallback, _ := json.Marshal(spend.Cost{APICredits: apiCredits, CreatorCredits: 0})
	return fallback
}
