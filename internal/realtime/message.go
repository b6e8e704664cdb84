package realtime

import (
	"github.com/web2labs/studio-gateway/internal/json"
)

// Server-pushed event names.
const (
	EventRenderProgress = "video_render_progress"
	EventRenderEnd      = "video_render_end"
	EventRenderError    = "video_render_error"
	EventProjectUpdated = "video_project_core_updated"

	// Handshake events exchanged right after the socket opens.
	EventVerificationSuccess = "verification_success"
	EventVerificationError   = "verification_error"
)

// Event is the wire frame for the realtime channel. Every message is a JSON
// object carrying the event name and an opaque payload.
type Event struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}
