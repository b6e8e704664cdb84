package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	log "github.com/web2labs/studio-gateway/internal/logging"
	"github.com/web2labs/studio-gateway/internal/studio"
)

const (
	// verificationTimeout bounds the wait for the post-connect handshake.
	verificationTimeout = 10 * time.Second

	handshakeTimeout = 15 * time.Second
	eventBuffer      = 64
)

// ErrDisconnected is returned when the socket drops before a terminal
// status arrives. Callers treat it as a signal to fall back to polling.
var ErrDisconnected = errors.New("realtime channel disconnected")

// API is the subset of the HTTP client the realtime channel needs: a
// one-time socket token for the handshake, and status re-fetches because
// pushed payloads are hints, never the source of truth.
type API interface {
	GetSocketToken(ctx context.Context) (*studio.SocketToken, error)
	GetProjectStatus(ctx context.Context, projectID string) (*studio.ProjectStatus, error)
}

// Options configures a realtime Client.
type Options struct {
	// SocketURL overrides the derived websocket endpoint.
	SocketURL string
	// BaseURL is the HTTP API endpoint the socket URL is derived from when
	// SocketURL is empty.
	BaseURL string
	// BasicAuthHeader, when non-empty, is sent on the upgrade request for
	// deployments that sit behind HTTP basic auth.
	BasicAuthHeader string

	Dialer *websocket.Dialer
}

// Client holds one realtime connection. It is built per completion wait and
// not reused across projects; Connect then WaitForCompletion then Disconnect.
type Client struct {
	api     API
	opts    Options
	dialer  *websocket.Dialer

	mu        sync.Mutex
	conn      *websocket.Conn
	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
}

// NewClient builds a realtime client over api.
func NewClient(api API, opts Options) *Client {
	dialer := opts.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	}
	return &Client{api: api, opts: opts, dialer: dialer}
}

// socketEndpoint resolves the websocket URL, swapping the scheme when the
// configured value still carries http(s).
func (c *Client) socketEndpoint() (string, error) {
	raw := strings.TrimSpace(c.opts.SocketURL)
	if raw == "" {
		base := strings.TrimRight(strings.TrimSpace(c.opts.BaseURL), "/")
		if base == "" {
			return "", errors.New("no socket endpoint configured")
		}
		raw = base + "/socket"
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse socket url: %w", err)
	}
	switch parsed.Scheme {
	case "http":
		parsed.Scheme = "ws"
	case "https":
		parsed.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported socket scheme %q", parsed.Scheme)
	}
	return parsed.String(), nil
}

// Connect fetches a one-time token, opens the websocket and waits for the
// server's verification event. Any failure leaves the client disconnected;
// the caller decides whether to fall back to polling.
func (c *Client) Connect(ctx context.Context) error {
	endpoint, err := c.socketEndpoint()
	if err != nil {
		return err
	}

	token, err := c.api.GetSocketToken(ctx)
	if err != nil {
		return fmt.Errorf("fetch socket token: %w", err)
	}
	if token == nil || token.Token == "" {
		return errors.New("empty socket token")
	}

	target, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("parse socket url: %w", err)
	}
	query := target.Query()
	query.Set("token", token.Token)
	target.RawQuery = query.Encode()

	header := http.Header{}
	if c.opts.BasicAuthHeader != "" {
		header.Set("Authorization", c.opts.BasicAuthHeader)
	}

	conn, resp, err := c.dialer.DialContext(ctx, target.String(), header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("socket dial failed with status %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("socket dial failed: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.events = make(chan Event, eventBuffer)
	c.done = make(chan struct{})
	c.closeOnce = sync.Once{}
	c.mu.Unlock()

	go c.readLoop(conn)

	if err := c.awaitVerification(ctx); err != nil {
		c.Disconnect()
		return err
	}
	log.Debug("realtime channel verified")
	return nil
}

// awaitVerification consumes events until the handshake resolves.
func (c *Client) awaitVerification(ctx context.Context) error {
	timer := time.NewTimer(verificationTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return errors.New("socket verification timed out")
		case <-c.done:
			return ErrDisconnected
		case event := <-c.events:
			switch event.Event {
			case EventVerificationSuccess:
				return nil
			case EventVerificationError:
				message := gjson.GetBytes(event.Payload, "message").String()
				if message == "" {
					message = "socket verification rejected"
				}
				return errors.New(message)
			}
			// Anything else before verification is dropped.
		}
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer c.Disconnect()
	for {
		var event Event
		if err := conn.ReadJSON(&event); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.WithError(err).Debug("realtime read loop ended")
			}
			return
		}
		select {
		case c.events <- event:
		case <-c.done:
			return
		}
	}
}

// ProgressFunc receives status updates while a completion wait is running.
type ProgressFunc func(status string, progress *float64)

// WaitForCompletion blocks until projectID reaches a terminal status, the
// timeout elapses, or the socket drops (ErrDisconnected). Terminal events
// never resolve from the pushed payload; the authoritative status is always
// re-fetched over HTTP.
func (c *Client) WaitForCompletion(ctx context.Context, projectID string, timeout time.Duration, onProgress ProgressFunc) (*studio.ProjectStatus, error) {
	c.mu.Lock()
	conn := c.conn
	events := c.events
	done := c.done
	c.mu.Unlock()
	if conn == nil {
		return nil, errors.New("realtime client is not connected")
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, studio.NewAPIError(
				fmt.Sprintf("Timed out after %.0f minutes waiting for project %s", timeout.Minutes(), projectID),
				studio.CodeTimeout,
				http.StatusRequestTimeout,
			)
		case <-done:
			return nil, ErrDisconnected
		case event := <-events:
			status, resolved, err := c.handleEvent(ctx, projectID, event, onProgress)
			if err != nil {
				return nil, err
			}
			if resolved {
				return status, nil
			}
		}
	}
}

// handleEvent processes one pushed event for projectID. Events for other
// projects share the channel and are skipped.
func (c *Client) handleEvent(ctx context.Context, projectID string, event Event, onProgress ProgressFunc) (*studio.ProjectStatus, bool, error) {
	payload := gjson.ParseBytes(event.Payload)
	eventProject := payload.Get("projectId").String()
	if eventProject != "" && eventProject != projectID {
		return nil, false, nil
	}

	switch event.Event {
	case EventRenderProgress:
		// Progress frames carry only a percentage; the status is implied.
		if onProgress != nil {
			var progress *float64
			if p := payload.Get("progress"); p.Exists() {
				value := p.Float()
				progress = &value
			}
			onProgress("rendering", progress)
		}
		return nil, false, nil

	case EventRenderEnd, EventRenderError:
		status, err := c.refetch(ctx, projectID)
		if err != nil {
			return nil, false, err
		}
		return status, true, nil

	case EventProjectUpdated:
		// Core updates only resolve when the pushed status looks terminal,
		// and even then the HTTP status decides. Non-terminal updates still
		// surface as progress.
		if !studio.IsTerminalStatus(payload.Get("status").String()) {
			if onProgress != nil {
				var progress *float64
				if p := payload.Get("progress"); p.Exists() {
					value := p.Float()
					progress = &value
				}
				onProgress(studio.NormalizeStatus(payload.Get("status").String()), progress)
			}
			return nil, false, nil
		}
		status, err := c.refetch(ctx, projectID)
		if err != nil {
			return nil, false, err
		}
		if !status.Terminal() {
			return nil, false, nil
		}
		return status, true, nil
	}
	return nil, false, nil
}

func (c *Client) refetch(ctx context.Context, projectID string) (*studio.ProjectStatus, error) {
	status, err := c.api.GetProjectStatus(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("confirm project status: %w", err)
	}
	return status, nil
}

// Disconnect tears the socket down. Safe to call more than once and from
// concurrent goroutines.
func (c *Client) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	done := c.done
	c.mu.Unlock()
	if conn == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(done)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
	})
}
