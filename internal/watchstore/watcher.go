// Package watchstore persists channel watchers and their processing history.
package watchstore

import (
	"crypto/rand"
	"encoding/hex"
	"net/url"
	"strings"
	"time"
)

const (
	// maxProcessedIDs bounds the remembered-video ring per watcher.
	maxProcessedIDs = 500
	// maxFailedAttempts is the retry budget for a failing video.
	maxFailedAttempts = 3

	TypeYouTubeChannel = "youtube_channel"
	TypeTwitchChannel  = "twitch_channel"
)

// Watcher is one monitored channel.
type Watcher struct {
	ID                  string         `json:"id"`
	Type                string         `json:"type"`
	URL                 string         `json:"url"`
	Label               string         `json:"label"`
	Preset              string         `json:"preset"`
	Configuration       map[string]any `json:"configuration"`
	PollIntervalMinutes int            `json:"pollIntervalMinutes"`
	MaxDurationMinutes  int            `json:"maxDurationMinutes"`
	MaxDailyUploads     int            `json:"maxDailyUploads"`
	OutputDir           string         `json:"outputDir,omitempty"`
	Enabled             bool           `json:"enabled"`
	LastChecked         *time.Time     `json:"lastChecked,omitempty"`
	ProcessedIDs        []string       `json:"lastProcessedIds"`
	FailedVideos        []FailedVideo  `json:"failedVideos"`
	UploadsToday        int            `json:"uploadsToday"`
	UploadsTodayDate    string         `json:"uploadsTodayDate,omitempty"`
	CreatedAt           time.Time      `json:"createdAt"`
}

// FailedVideo tracks a video whose processing keeps failing.
type FailedVideo struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Attempts    int       `json:"attempts"`
	LastAttempt time.Time `json:"lastAttempt"`
}

// Video is one discovered upload on a watched channel.
type Video struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	URL      string `json:"url,omitempty"`
	Duration int    `json:"duration"` // seconds
}

func generateID() string {
	buf := make([]byte, 6)
	_, _ = rand.Read(buf)
	return "w_" + hex.EncodeToString(buf)
}

// NormalizeType classifies a channel URL; anything that is not Twitch is
// treated as YouTube.
func NormalizeType(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return TypeYouTubeChannel
	}
	if strings.Contains(strings.ToLower(parsed.Hostname()), "twitch.tv") {
		return TypeTwitchChannel
	}
	return TypeYouTubeChannel
}

// DeriveLabel produces a human label from the last URL path segment.
func DeriveLabel(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Hostname() == "" {
		return "unknown"
	}
	path := strings.TrimRight(parsed.Path, "/")
	segments := strings.FieldsFunc(path, func(r rune) bool { return r == '/' })
	last := parsed.Hostname()
	if len(segments) > 0 {
		last = segments[len(segments)-1]
	}
	return strings.TrimPrefix(last, "@")
}

// IsChannelURL reports whether raw points at a channel rather than a single
// video. YouTube channels live under /@handle, /c/, /channel/ or /user/;
// Twitch channels are any non-video, non-clip path.
func IsChannelURL(raw string) bool {
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := strings.ToLower(parsed.Hostname())
	path := strings.ToLower(parsed.Path)

	if strings.Contains(host, "youtube.com") || strings.Contains(host, "youtu.be") {
		if strings.Contains(path, "/watch") {
			return false
		}
		return strings.HasPrefix(path, "/@") ||
			strings.HasPrefix(path, "/c/") ||
			strings.HasPrefix(path, "/channel/") ||
			strings.HasPrefix(path, "/user/")
	}

	if strings.Contains(host, "twitch.tv") {
		if strings.Contains(path, "/videos") || strings.Contains(path, "/clip") {
			return false
		}
		return len(strings.FieldsFunc(path, func(r rune) bool { return r == '/' })) >= 1
	}

	return false
}

func clampInt(value, def, min, max int) int {
	if value == 0 {
		value = def
	}
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

func today() string {
	return time.Now().UTC().Format("2006-01-02")
}

// UploadsToday returns the watcher's upload count for the current day; a
// stale counter from a previous day reads as zero.
func (w *Watcher) UploadsTodayCount() int {
	if w.UploadsTodayDate != today() {
		return 0
	}
	return w.UploadsToday
}

// RemainingUploads returns how many more videos the watcher may process
// today.
func (w *Watcher) RemainingUploads() int {
	remaining := w.MaxDailyUploads - w.UploadsTodayCount()
	if remaining < 0 {
		return 0
	}
	return remaining
}

// FilterNewVideos drops already-processed videos, known failures, and
// anything over the duration limit.
func (w *Watcher) FilterNewVideos(videos []Video) []Video {
	processed := make(map[string]struct{}, len(w.ProcessedIDs))
	for _, id := range w.ProcessedIDs {
		processed[id] = struct{}{}
	}
	failed := make(map[string]struct{}, len(w.FailedVideos))
	for _, f := range w.FailedVideos {
		failed[f.ID] = struct{}{}
	}

	var fresh []Video
	for _, v := range videos {
		if _, ok := processed[v.ID]; ok {
			continue
		}
		if _, ok := failed[v.ID]; ok {
			continue
		}
		if w.MaxDurationMinutes > 0 && v.Duration > w.MaxDurationMinutes*60 {
			continue
		}
		fresh = append(fresh, v)
	}
	return fresh
}

// RetryableVideos returns failures that still have attempts left.
func (w *Watcher) RetryableVideos() []FailedVideo {
	var retryable []FailedVideo
	for _, f := range w.FailedVideos {
		if f.Attempts < maxFailedAttempts {
			retryable = append(retryable, f)
		}
	}
	return retryable
}
