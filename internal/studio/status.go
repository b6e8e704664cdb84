package studio

import (
	"strings"
	"time"
)

// Project statuses reported by the remote service, normalized to lowercase.
const (
	StatusStart     = "start"
	StatusUploading = "uploading"
	StatusEditing   = "editing"
	StatusManual    = "manual"
	StatusRendering = "rendering"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// defaultPollInterval applies to unknown statuses.
const defaultPollInterval = 10 * time.Second

var pollIntervals = map[string]time.Duration{
	StatusStart:     3 * time.Second,
	StatusUploading: 3 * time.Second,
	StatusEditing:   10 * time.Second,
	StatusManual:    15 * time.Second,
	StatusRendering: 15 * time.Second,
	StatusCompleted: 0,
	StatusFailed:    0,
}

// NormalizeStatus lowercases and trims a remote status string.
func NormalizeStatus(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// IsTerminalStatus reports whether a status admits no further transitions.
func IsTerminalStatus(status string) bool {
	normalized := NormalizeStatus(status)
	return normalized == StatusCompleted || normalized == StatusFailed
}

// IntervalForStatus returns the recommended poll interval for a status.
func IntervalForStatus(status string) time.Duration {
	if interval, ok := pollIntervals[NormalizeStatus(status)]; ok {
		return interval
	}
	return defaultPollInterval
}
