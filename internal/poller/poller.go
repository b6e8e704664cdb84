package poller

import (
	"context"
	"fmt"
	"net/http"
	"time"

	log "github.com/web2labs/studio-gateway/internal/logging"
	"github.com/web2labs/studio-gateway/internal/realtime"
	"github.com/web2labs/studio-gateway/internal/studio"
)

// DefaultTimeout bounds a completion wait when the caller does not choose.
const DefaultTimeout = 30 * time.Minute

// API is the status surface the poller drives.
type API interface {
	GetSocketToken(ctx context.Context) (*studio.SocketToken, error)
	GetProjectStatus(ctx context.Context, projectID string) (*studio.ProjectStatus, error)
}

// channel is one realtime completion wait. Implemented by realtime.Client;
// swapped out in tests.
type channel interface {
	Connect(ctx context.Context) error
	WaitForCompletion(ctx context.Context, projectID string, timeout time.Duration, onProgress realtime.ProgressFunc) (*studio.ProjectStatus, error)
	Disconnect()
}

// ProgressFunc is invoked when the observed status changes. It never fires
// twice in a row for the same status.
type ProgressFunc func(status string, progress *float64)

// Options configures a Poller.
type Options struct {
	// Realtime carries the websocket endpoint settings.
	Realtime realtime.Options
	// ForceHTTP skips the realtime stage entirely.
	ForceHTTP bool
}

// Poller waits for project completion, preferring the realtime channel and
// falling back to plain HTTP polling when the channel cannot serve.
type Poller struct {
	api         API
	opts        Options
	newChannel  func() channel
	intervalFor func(status string) time.Duration
}

// New builds a Poller over api.
func New(api API, opts Options) *Poller {
	p := &Poller{api: api, opts: opts}
	p.newChannel = func() channel {
		return realtime.NewClient(api, opts.Realtime)
	}
	p.intervalFor = studio.IntervalForStatus
	return p
}

// WaitForCompletion blocks until projectID reaches a terminal status or
// timeout elapses. The realtime stage is best effort: any failure there
// degrades transparently to HTTP polling with a fresh deadline.
func (p *Poller) WaitForCompletion(ctx context.Context, projectID string, timeout time.Duration, onProgress ProgressFunc) (*studio.ProjectStatus, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	lastStatus := ""
	notify := func(status string, progress *float64) {
		status = studio.NormalizeStatus(status)
		if status == "" || status == lastStatus {
			return
		}
		lastStatus = status
		if onProgress != nil {
			onProgress(status, progress)
		}
	}

	if !p.opts.ForceHTTP {
		status, err := p.waitRealtime(ctx, projectID, timeout, notify)
		if err == nil {
			return status, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.WithFields(log.Fields{
			"project_id": projectID,
			"error":      err,
		}).Debug("realtime wait unavailable, polling over http")
	}

	return p.pollHTTP(ctx, projectID, timeout, notify)
}

// waitRealtime runs the realtime stage. Right after connecting it re-checks
// the status over HTTP: a project that finished before the socket opened
// would otherwise never push a terminal event.
func (p *Poller) waitRealtime(ctx context.Context, projectID string, timeout time.Duration, notify ProgressFunc) (*studio.ProjectStatus, error) {
	ch := p.newChannel()
	if err := ch.Connect(ctx); err != nil {
		return nil, err
	}
	defer ch.Disconnect()

	status, err := p.api.GetProjectStatus(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if status.Terminal() {
		return status, nil
	}
	notify(status.Status, status.Progress)

	return ch.WaitForCompletion(ctx, projectID, timeout, realtime.ProgressFunc(notify))
}

// pollHTTP is the fallback loop. The deadline restarts here: a realtime
// stage that burned time does not shrink the polling window.
func (p *Poller) pollHTTP(ctx context.Context, projectID string, timeout time.Duration, notify ProgressFunc) (*studio.ProjectStatus, error) {
	deadline := time.Now().Add(timeout)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		status, err := p.api.GetProjectStatus(ctx, projectID)
		if err != nil {
			return nil, err
		}
		if status.Terminal() {
			return status, nil
		}
		notify(status.Status, status.Progress)

		interval := p.intervalFor(status.Status)
		if time.Now().Add(interval).After(deadline) {
			return nil, studio.NewAPIError(
				fmt.Sprintf("Polling timed out after %.0f minutes; project %s is still %s",
					timeout.Minutes(), projectID, studio.NormalizeStatus(status.Status)),
				studio.CodeTimeout,
				http.StatusRequestTimeout,
			)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
}
