package studio

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/web2labs/studio-gateway/internal/json"
)

const (
	uploadTimeout   = 10 * time.Minute
	downloadTimeout = 5 * time.Minute
)

// SocketToken is the one-time credential for the realtime channel.
type SocketToken struct {
	Token string `json:"token"`
}

// ProjectStatus is the remote-owned status of a processing job.
type ProjectStatus struct {
	ProjectID              string          `json:"projectId,omitempty"`
	Status                 string          `json:"status"`
	Progress               *float64        `json:"progress,omitempty"`
	ResultsURL             string          `json:"resultsUrl,omitempty"`
	RetentionTimeRemaining json.RawMessage `json:"retentionTimeRemaining,omitempty"`
	Error                  json.RawMessage `json:"error,omitempty"`
}

// Terminal reports whether the status admits no further transitions.
func (s *ProjectStatus) Terminal() bool {
	return IsTerminalStatus(s.Status)
}

// UploadOptions carries the optional multipart fields for a project upload.
type UploadOptions struct {
	Name          string
	Configuration map[string]any
	Priority      string
	WebhookURL    string
	WebhookSecret string
}

// GetSocketToken requests a one-time realtime channel credential. The
// endpoint lives outside the versioned API surface.
func (c *Client) GetSocketToken(ctx context.Context) (*SocketToken, error) {
	var token SocketToken
	if err := c.RequestJSON(ctx, http.MethodPost, "/api/auth/socket", nil, &token); err != nil {
		return nil, err
	}
	return &token, nil
}

// GetCredits fetches the caller's credit balance.
func (c *Client) GetCredits(ctx context.Context) (json.RawMessage, error) {
	return c.Request(ctx, http.MethodGet, "/credits", nil)
}

// GetPricing fetches the pricing catalog.
func (c *Client) GetPricing(ctx context.Context) (json.RawMessage, error) {
	return c.Request(ctx, http.MethodGet, "/pricing", nil)
}

// EstimateCost asks the service to price a prospective upload.
func (c *Client) EstimateCost(ctx context.Context, payload any) (json.RawMessage, error) {
	return c.Request(ctx, http.MethodPost, "/estimate", jsonBody(payload))
}

// GetAnalytics fetches usage analytics, optionally scoped to a period
// (this_month, last_month, all_time).
func (c *Client) GetAnalytics(ctx context.Context, period string) (json.RawMessage, error) {
	path := "/analytics"
	if period != "" {
		path += "?period=" + url.QueryEscape(period)
	}
	return c.Request(ctx, http.MethodGet, path, nil)
}

// GetBrand fetches the brand kit.
func (c *Client) GetBrand(ctx context.Context) (json.RawMessage, error) {
	return c.Request(ctx, http.MethodGet, "/brand", nil)
}

// UpdateBrand applies brand kit updates.
func (c *Client) UpdateBrand(ctx context.Context, payload any) (json.RawMessage, error) {
	return c.Request(ctx, http.MethodPut, "/brand", jsonBody(payload))
}

// ImportBrand asks the service to derive brand settings from a profile URL.
func (c *Client) ImportBrand(ctx context.Context, profileURL string, apply bool) (json.RawMessage, error) {
	body := map[string]any{
		"url":   strings.TrimSpace(profileURL),
		"apply": apply,
	}
	return c.Request(ctx, http.MethodPost, "/brand/import", jsonBody(body))
}

// ListAssets returns the reusable intro/outro/watermark assets.
func (c *Client) ListAssets(ctx context.Context) (json.RawMessage, error) {
	return c.Request(ctx, http.MethodGet, "/assets", nil)
}

var assetTypes = map[string]bool{"intro": true, "outro": true, "watermark": true}

// UploadAsset uploads a reusable asset of the given type.
func (c *Client) UploadAsset(ctx context.Context, assetType, filePath string) (json.RawMessage, error) {
	normalized := strings.ToLower(strings.TrimSpace(assetType))
	if !assetTypes[normalized] {
		return nil, NewAPIError(
			"assetType must be one of: intro, outro, watermark",
			"invalid_asset_type",
			http.StatusBadRequest,
		)
	}
	if _, err := os.Stat(filePath); err != nil {
		return nil, fmt.Errorf("asset file: %w", err)
	}

	opts, err := multipartOptions(filePath, nil, uploadTimeout)
	if err != nil {
		return nil, err
	}
	return c.Request(ctx, http.MethodPost, "/assets/"+normalized, opts)
}

// DeleteAsset removes an asset by id.
func (c *Client) DeleteAsset(ctx context.Context, assetID string) (json.RawMessage, error) {
	return c.Request(ctx, http.MethodDelete, "/assets/"+url.PathEscape(assetID), nil)
}

// UploadProject uploads a video for processing.
func (c *Client) UploadProject(ctx context.Context, filePath string, options UploadOptions) (json.RawMessage, error) {
	if _, err := os.Stat(filePath); err != nil {
		return nil, fmt.Errorf("project file: %w", err)
	}

	fields := map[string]string{}
	if options.Name != "" {
		fields["name"] = options.Name
	}
	if options.Configuration != nil {
		encoded, err := json.Marshal(options.Configuration)
		if err != nil {
			return nil, fmt.Errorf("encode configuration: %w", err)
		}
		fields["configuration"] = string(encoded)
	}
	if options.Priority != "" {
		fields["priority"] = options.Priority
	}
	if options.WebhookURL != "" {
		fields["webhookUrl"] = options.WebhookURL
	}
	if options.WebhookSecret != "" {
		fields["webhookSecret"] = options.WebhookSecret
	}

	opts, err := multipartOptions(filePath, fields, uploadTimeout)
	if err != nil {
		return nil, err
	}
	return c.Request(ctx, http.MethodPost, "/projects/upload", opts)
}

// GetProjectStatus fetches the authoritative status of a project.
func (c *Client) GetProjectStatus(ctx context.Context, projectID string) (*ProjectStatus, error) {
	var status ProjectStatus
	path := "/projects/" + url.PathEscape(projectID) + "/status"
	if err := c.RequestJSON(ctx, http.MethodGet, path, nil, &status); err != nil {
		return nil, err
	}
	if status.ProjectID == "" {
		status.ProjectID = projectID
	}
	return &status, nil
}

// GetProjectResults fetches output metadata and download URLs.
func (c *Client) GetProjectResults(ctx context.Context, projectID string) (json.RawMessage, error) {
	return c.Request(ctx, http.MethodGet, "/projects/"+url.PathEscape(projectID)+"/results", nil)
}

// ListProjectThumbnails lists generated thumbnail variants.
func (c *Client) ListProjectThumbnails(ctx context.Context, projectID string) (json.RawMessage, error) {
	return c.Request(ctx, http.MethodGet, "/projects/"+url.PathEscape(projectID)+"/thumbnails", nil)
}

// GenerateProjectThumbnails requests thumbnail generation.
func (c *Client) GenerateProjectThumbnails(ctx context.Context, projectID string, payload any) (json.RawMessage, error) {
	path := "/projects/" + url.PathEscape(projectID) + "/thumbnails/generate"
	return c.Request(ctx, http.MethodPost, path, jsonBody(payload))
}

// RerenderProject re-renders a project with configuration overrides.
func (c *Client) RerenderProject(ctx context.Context, projectID string, configuration map[string]any) (json.RawMessage, error) {
	body := map[string]any{"configuration": configuration}
	return c.Request(ctx, http.MethodPost, "/projects/"+url.PathEscape(projectID)+"/rerender", jsonBody(body))
}

// ListProjects pages through the caller's projects.
func (c *Client) ListProjects(ctx context.Context, limit, offset int) (json.RawMessage, error) {
	return c.Request(ctx, http.MethodGet, fmt.Sprintf("/projects?limit=%d&offset=%d", limit, offset), nil)
}

// DeleteProject removes a project.
func (c *Client) DeleteProject(ctx context.Context, projectID string) (json.RawMessage, error) {
	return c.Request(ctx, http.MethodDelete, "/projects/"+url.PathEscape(projectID), nil)
}

// SubmitFeedback sends feedback to the studio team.
func (c *Client) SubmitFeedback(ctx context.Context, payload any, headers map[string]string) (json.RawMessage, error) {
	opts := jsonBody(payload)
	for k, v := range headers {
		opts.Headers[k] = v
	}
	return c.Request(ctx, http.MethodPost, "/feedback", opts)
}

// ListFeedback pages through submitted feedback, optionally by status.
func (c *Client) ListFeedback(ctx context.Context, limit, offset int, status string) (json.RawMessage, error) {
	path := fmt.Sprintf("/feedback?limit=%d&offset=%d", limit, offset)
	if status != "" {
		path += "&status=" + url.QueryEscape(status)
	}
	return c.Request(ctx, http.MethodGet, path, nil)
}

// GetFeedback fetches one feedback entry.
func (c *Client) GetFeedback(ctx context.Context, feedbackID string) (json.RawMessage, error) {
	return c.Request(ctx, http.MethodGet, "/feedback/"+url.PathEscape(feedbackID), nil)
}

// GetReferral returns the caller's referral code and stats.
func (c *Client) GetReferral(ctx context.Context) (json.RawMessage, error) {
	return c.Request(ctx, http.MethodGet, "/referral", nil)
}

// ApplyReferralCode applies a friend's referral code.
func (c *Client) ApplyReferralCode(ctx context.Context, code string) (json.RawMessage, error) {
	body := map[string]any{"code": strings.TrimSpace(code)}
	return c.Request(ctx, http.MethodPost, "/referral/apply", jsonBody(body))
}

// DownloadFile streams urlOrPath (absolute URL or API path) into
// destinationPath, creating parent directories as needed.
func (c *Client) DownloadFile(ctx context.Context, urlOrPath, destinationPath string) error {
	if err := os.MkdirAll(filepath.Dir(destinationPath), 0o755); err != nil {
		return fmt.Errorf("create download directory: %w", err)
	}

	resp, err := c.Stream(ctx, http.MethodGet, urlOrPath, &RequestOptions{Timeout: downloadTimeout})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	out, err := os.Create(destinationPath)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		_ = out.Close()
		_ = os.Remove(destinationPath)
		return fmt.Errorf("write %s: %w", destinationPath, err)
	}
	return out.Close()
}

// jsonBody builds RequestOptions for a JSON payload.
func jsonBody(payload any) *RequestOptions {
	encoded, err := json.Marshal(payload)
	if err != nil {
		// Payloads are gateway-built maps; marshal cannot realistically fail.
		encoded = []byte("{}")
	}
	return &RequestOptions{
		Body:    encoded,
		Headers: map[string]string{"Content-Type": "application/json"},
	}
}

// multipartOptions builds replayable multipart RequestOptions streaming the
// file at filePath under the "file" field, plus any extra form fields. The
// body is rebuilt per retry attempt.
func multipartOptions(filePath string, fields map[string]string, timeout time.Duration) (*RequestOptions, error) {
	boundary := multipart.NewWriter(io.Discard).Boundary()
	contentType := "multipart/form-data; boundary=" + boundary

	getBody := func() (io.ReadCloser, error) {
		file, err := os.Open(filePath)
		if err != nil {
			return nil, err
		}

		pr, pw := io.Pipe()
		writer := multipart.NewWriter(pw)
		if err := writer.SetBoundary(boundary); err != nil {
			_ = file.Close()
			return nil, err
		}

		go func() {
			defer file.Close()
			for k, v := range fields {
				if err := writer.WriteField(k, v); err != nil {
					_ = pw.CloseWithError(err)
					return
				}
			}
			part, err := writer.CreateFormFile("file", filepath.Base(filePath))
			if err != nil {
				_ = pw.CloseWithError(err)
				return
			}
			if _, err := io.Copy(part, file); err != nil {
				_ = pw.CloseWithError(err)
				return
			}
			_ = pw.CloseWithError(writer.Close())
		}()

		return pr, nil
	}

	return &RequestOptions{
		GetBody: getBody,
		Headers: map[string]string{"Content-Type": contentType},
		Timeout: timeout,
	}, nil
}
