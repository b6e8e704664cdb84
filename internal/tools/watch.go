package tools

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/web2labs/studio-gateway/internal/downloader"
	"github.com/web2labs/studio-gateway/internal/json"
	log "github.com/web2labs/studio-gateway/internal/logging"
	"github.com/web2labs/studio-gateway/internal/preset"
	"github.com/web2labs/studio-gateway/internal/studio"
	"github.com/web2labs/studio-gateway/internal/watchstore"
)

const watchWarning = "Only watch channels you own or have explicit permission to process."

type watchParams struct {
	Action              string         `json:"action"`
	ID                  string         `json:"id"`
	URL                 string         `json:"url"`
	Preset              string         `json:"preset"`
	Configuration       map[string]any `json:"configuration"`
	PollIntervalMinutes int            `json:"poll_interval_minutes"`
	MaxDurationMinutes  int            `json:"max_duration_minutes"`
	MaxDailyUploads     int            `json:"max_daily_uploads"`
	OutputDir           string         `json:"output_dir"`
}

func runWatch(ctx context.Context, tc *Context, raw json.RawMessage) (any, error) {
	var params watchParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}

	action := strings.ToLower(strings.TrimSpace(params.Action))
	if action == "" {
		action = "list"
	}

	switch action {
	case "add":
		return watchAdd(ctx, tc, params)
	case "list":
		return watchList(tc)
	case "remove":
		return watchRemove(tc, params)
	case "pause", "resume":
		return watchSetEnabled(tc, action, params)
	case "status":
		return watchStatus(tc, params)
	case "check":
		return watchCheck(ctx, tc, params)
	}
	return nil, paramError("Invalid action. Use one of: add, list, remove, check, pause, resume, status.")
}

func watchAdd(ctx context.Context, tc *Context, params watchParams) (any, error) {
	channelURL := strings.TrimSpace(params.URL)
	if channelURL == "" {
		return nil, paramError("url is required when action is 'add'")
	}
	if !downloader.IsSupportedURL(channelURL) {
		return nil, paramError("Unsupported URL. Provide a YouTube or Twitch channel URL.")
	}
	if !watchstore.IsChannelURL(channelURL) {
		return nil, paramError("Provide a channel or user URL, not a single video URL. Examples: https://youtube.com/@username, https://twitch.tv/username")
	}
	if installed, _ := tc.Downloader.Check(ctx); !installed {
		return nil, paramError("yt-dlp is required for watch mode. Install with: brew install yt-dlp (macOS), pip install yt-dlp (Linux), winget install yt-dlp (Windows).")
	}
	if params.Preset != "" {
		if _, err := preset.Resolve(params.Preset); err != nil {
			return nil, paramError(err.Error())
		}
	}

	presetName := params.Preset
	if presetName == "" {
		presetName = tc.DefaultPreset
	}
	watcher, err := tc.Watchers.Add(watchstore.AddParams{
		URL:                 channelURL,
		Preset:              presetName,
		Configuration:       params.Configuration,
		PollIntervalMinutes: params.PollIntervalMinutes,
		MaxDurationMinutes:  params.MaxDurationMinutes,
		MaxDailyUploads:     params.MaxDailyUploads,
		OutputDir:           params.OutputDir,
	})
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"action":  "add",
		"watcher": watcher,
		"warning": watchWarning,
	}, nil
}

func watchList(tc *Context) (any, error) {
	watchers, err := tc.Watchers.List()
	if err != nil {
		return nil, err
	}

	summaries := make([]map[string]any, 0, len(watchers))
	for _, w := range watchers {
		summaries = append(summaries, map[string]any{
			"id":              w.ID,
			"label":           w.Label,
			"url":             w.URL,
			"type":            w.Type,
			"preset":          w.Preset,
			"enabled":         w.Enabled,
			"lastChecked":     w.LastChecked,
			"uploadsToday":    w.UploadsTodayCount(),
			"maxDailyUploads": w.MaxDailyUploads,
		})
	}
	return map[string]any{
		"action":   "list",
		"count":    len(watchers),
		"watchers": summaries,
	}, nil
}

func watchRemove(tc *Context, params watchParams) (any, error) {
	id := strings.TrimSpace(params.ID)
	if id == "" {
		return nil, paramError("id is required when action is 'remove'")
	}
	removed, err := tc.Watchers.Remove(id)
	if err != nil {
		return nil, err
	}
	if !removed {
		return nil, paramError(fmt.Sprintf("Watcher not found: %s", id))
	}
	return map[string]any{"action": "remove", "id": id, "removed": true}, nil
}

func watchSetEnabled(tc *Context, action string, params watchParams) (any, error) {
	id := strings.TrimSpace(params.ID)
	if id == "" {
		return nil, paramError(fmt.Sprintf("id is required when action is '%s'", action))
	}
	watcher, err := tc.Watchers.SetEnabled(id, action == "resume")
	if errors.Is(err, watchstore.ErrNotFound) {
		return nil, paramError(fmt.Sprintf("Watcher not found: %s", id))
	}
	if err != nil {
		return nil, err
	}
	return map[string]any{"action": action, "id": id, "enabled": watcher.Enabled}, nil
}

func watchStatus(tc *Context, params watchParams) (any, error) {
	id := strings.TrimSpace(params.ID)
	if id == "" {
		return nil, paramError("id is required when action is 'status'")
	}
	watcher, err := tc.Watchers.Get(id)
	if errors.Is(err, watchstore.ErrNotFound) {
		return nil, paramError(fmt.Sprintf("Watcher not found: %s", id))
	}
	if err != nil {
		return nil, err
	}

	var nextCheckDue *time.Time
	if watcher.LastChecked != nil && watcher.Enabled {
		due := watcher.LastChecked.Add(time.Duration(watcher.PollIntervalMinutes) * time.Minute)
		nextCheckDue = &due
	}

	return map[string]any{
		"action": "status",
		"watcher": map[string]any{
			"id":                  watcher.ID,
			"label":               watcher.Label,
			"url":                 watcher.URL,
			"type":                watcher.Type,
			"preset":              watcher.Preset,
			"configuration":       watcher.Configuration,
			"pollIntervalMinutes": watcher.PollIntervalMinutes,
			"maxDurationMinutes":  watcher.MaxDurationMinutes,
			"maxDailyUploads":     watcher.MaxDailyUploads,
			"enabled":             watcher.Enabled,
			"lastChecked":         watcher.LastChecked,
			"failedVideos":        watcher.FailedVideos,
			"uploadsToday":        watcher.UploadsTodayCount(),
			"remainingUploads":    watcher.RemainingUploads(),
			"nextCheckDue":        nextCheckDue,
		},
	}, nil
}

// checkResult is the per-watcher outcome of a check pass.
type checkResult struct {
	WatcherID string        `json:"watcherId"`
	Label     string        `json:"label"`
	Skipped   bool          `json:"skipped,omitempty"`
	Reason    string        `json:"reason,omitempty"`
	Error     string        `json:"error,omitempty"`
	Checked   bool          `json:"checked,omitempty"`
	NewVideos int           `json:"newVideos"`
	Uploaded  int           `json:"uploaded"`
	Uploads   []videoUpload `json:"uploads,omitempty"`
}

type videoUpload struct {
	VideoID   string `json:"videoId"`
	Title     string `json:"title"`
	ProjectID string `json:"projectId,omitempty"`
	Status    string `json:"status,omitempty"`
	Error     string `json:"error,omitempty"`
}

func buildVideoURL(watcherType, videoID string) string {
	if watcherType == watchstore.TypeTwitchChannel {
		return "https://www.twitch.tv/videos/" + videoID
	}
	return "https://www.youtube.com/watch?v=" + videoID
}

func watchCheck(ctx context.Context, tc *Context, params watchParams) (any, error) {
	targetID := strings.TrimSpace(params.ID)

	if installed, _ := tc.Downloader.Check(ctx); !installed {
		return nil, paramError("yt-dlp is required for watch mode.")
	}

	all, err := tc.Watchers.List()
	if err != nil {
		return nil, err
	}
	var watchers []*watchstore.Watcher
	for _, w := range all {
		if !w.Enabled {
			continue
		}
		if targetID != "" && w.ID != targetID {
			continue
		}
		watchers = append(watchers, w)
	}
	if targetID != "" && len(watchers) == 0 {
		return nil, paramError(fmt.Sprintf("Watcher not found or disabled: %s", targetID))
	}
	if len(watchers) == 0 {
		return map[string]any{
			"action":    "check",
			"processed": 0,
			"results":   []checkResult{},
			"message":   "No enabled watchers.",
		}, nil
	}

	results := make([]checkResult, 0, len(watchers))
	totalUploaded := 0
	for _, watcher := range watchers {
		result := checkWatcher(ctx, tc, watcher)
		totalUploaded += result.Uploaded
		results = append(results, result)
	}

	return map[string]any{
		"action":        "check",
		"processed":     len(results),
		"totalUploaded": totalUploaded,
		"results":       results,
	}, nil
}

// checkWatcher runs one watcher: list recent uploads, drop known videos,
// download and submit the rest up to the daily cap.
func checkWatcher(ctx context.Context, tc *Context, watcher *watchstore.Watcher) checkResult {
	result := checkResult{WatcherID: watcher.ID, Label: watcher.Label}

	remaining := watcher.RemainingUploads()
	if remaining <= 0 {
		result.Skipped = true
		result.Reason = "daily_upload_cap_reached"
		return result
	}

	listed, err := tc.Downloader.ListChannelVideos(ctx, watcher.URL, 10)
	if err != nil {
		result.Skipped = true
		result.Reason = "list_failed"
		result.Error = err.Error()
		return result
	}

	candidates := make([]watchstore.Video, 0, len(listed))
	for _, v := range listed {
		candidates = append(candidates, watchstore.Video{ID: v.ID, Title: v.Title, Duration: v.Duration})
	}
	fresh := watcher.FilterNewVideos(candidates)
	if len(fresh) > remaining {
		fresh = fresh[:remaining]
	}

	result.Checked = true
	result.NewVideos = len(fresh)
	if len(fresh) == 0 {
		if err := tc.Watchers.Touch(watcher.ID); err != nil {
			log.WithError(err).Warn("could not stamp watcher check time")
		}
		return result
	}

	var uploadedIDs []string
	for _, video := range fresh {
		upload := processWatchedVideo(ctx, tc, watcher, video)
		if upload.Error == "" {
			uploadedIDs = append(uploadedIDs, video.ID)
		}
		result.Uploads = append(result.Uploads, upload)
	}

	if len(uploadedIDs) > 0 {
		if _, err := tc.Watchers.MarkProcessed(watcher.ID, uploadedIDs); err != nil {
			log.WithError(err).Warn("could not record processed videos")
		}
	} else if err := tc.Watchers.Touch(watcher.ID); err != nil {
		log.WithError(err).Warn("could not stamp watcher check time")
	}

	result.Uploaded = len(uploadedIDs)
	return result
}

func processWatchedVideo(ctx context.Context, tc *Context, watcher *watchstore.Watcher, video watchstore.Video) videoUpload {
	upload := videoUpload{VideoID: video.ID, Title: video.Title}

	videoURL := buildVideoURL(watcher.Type, video.ID)
	download, err := tc.Downloader.Download(ctx, videoURL, downloader.DownloadOptions{
		MaxDuration: watcher.MaxDurationMinutes * 60,
	})
	if err != nil {
		upload.Error = err.Error()
		recordWatchFailure(tc, watcher.ID, video)
		return upload
	}
	defer downloader.Cleanup(download.TmpDir)

	configuration, err := preset.Resolve(watcher.Preset)
	if err != nil {
		configuration = map[string]any{}
	}
	if configuration == nil {
		configuration = map[string]any{}
	}
	if len(watcher.Configuration) > 0 {
		configuration = preset.Merge(configuration, watcher.Configuration)
	}

	name := video.Title
	if name == "" {
		name = filepath.Base(download.FilePath)
	}
	resultRaw, err := tc.Client.UploadProject(ctx, download.FilePath, studio.UploadOptions{
		Name:          name,
		Configuration: configuration,
	})
	if err != nil {
		upload.Error = err.Error()
		recordWatchFailure(tc, watcher.ID, video)
		return upload
	}

	doc := gjson.ParseBytes(resultRaw)
	upload.ProjectID = doc.Get("projectId").String()
	if upload.ProjectID == "" {
		upload.ProjectID = doc.Get("id").String()
	}
	upload.Status = doc.Get("status").String()
	if upload.Status == "" {
		upload.Status = "Uploading"
	}
	return upload
}

func recordWatchFailure(tc *Context, watcherID string, video watchstore.Video) {
	if _, err := tc.Watchers.MarkFailed(watcherID, video.ID, video.Title); err != nil {
		log.WithError(err).Warn("could not record failed video")
	}
}
