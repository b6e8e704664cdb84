// Package authflow implements the one-time setup handshake: magic-link
// sign-in, API key generation, and persisting the key into the local
// openclaw config. It deliberately bypasses the retrying transport client;
// setup requests are interactive one-shots.
package authflow

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/web2labs/studio-gateway/internal/json"
	log "github.com/web2labs/studio-gateway/internal/logging"
	"github.com/web2labs/studio-gateway/internal/studio"
)

const (
	defaultEndpoint = "https://web2labs.com"
	requestTimeout  = 20 * time.Second

	// skillEntry is where the generated key lands in the openclaw config.
	skillEntry = "@web2labs/studio"
)

// Flow drives the setup handshake against one endpoint.
type Flow struct {
	endpoint   string
	basicAuth  string
	httpClient *http.Client

	// configPath overrides the default openclaw config location; tests and
	// the OPENCLAW_CONFIG_PATH variable set it.
	configPath string
}

// New builds a Flow for endpoint. basicAuth is the optional "user:pass"
// pair for gated staging environments.
func New(endpoint, basicAuth string) *Flow {
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	return &Flow{
		endpoint:   endpoint,
		basicAuth:  basicAuth,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

// MagicLinkResult reports a sent sign-in email.
type MagicLinkResult struct {
	Sent  bool   `json:"sent"`
	Email string `json:"email"`
}

// TokenResult is the outcome of exchanging a magic-link code.
type TokenResult struct {
	AccessToken string `json:"accessToken"`
	UserID      string `json:"userId,omitempty"`
	Tier        string `json:"tier,omitempty"`
	ExpiresIn   int64  `json:"expiresIn,omitempty"`
}

// KeyResult is a freshly generated API key.
type KeyResult struct {
	Key         string `json:"key"`
	KeyPrefix   string `json:"keyPrefix,omitempty"`
	FreeCredits int64  `json:"freeCredits"`
	Message     string `json:"message"`
}

// StoreResult reports where the key was persisted.
type StoreResult struct {
	Stored bool   `json:"stored"`
	Path   string `json:"path"`
}

// SendMagicLink asks the service to email a sign-in code.
func (f *Flow) SendMagicLink(ctx context.Context, email string) (*MagicLinkResult, error) {
	status, payload, err := f.post(ctx, "/api/auth/magic/send", map[string]string{"email": email}, "")
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		if status == http.StatusTooManyRequests {
			retryIn := payload.Get("error.details.retryIn").Int()
			if retryIn <= 0 {
				retryIn = 60
			}
			return nil, studio.NewAPIErrorWithDetails(
				fmt.Sprintf("Rate limited. Please wait %d seconds and retry.", retryIn),
				"rate_limited",
				status,
				detailsOf(payload),
			)
		}
		return nil, remoteFlowError(status, payload, "magic_send_failed", "Failed to send magic link")
	}

	sentTo := payload.Get("data.email").String()
	if sentTo == "" {
		sentTo = email
	}
	return &MagicLinkResult{Sent: true, Email: sentTo}, nil
}

// CompleteMagicLinkToken exchanges the emailed code for a bearer token.
func (f *Flow) CompleteMagicLinkToken(ctx context.Context, email, code string) (*TokenResult, error) {
	status, payload, err := f.post(ctx, "/api/auth/magic/token", map[string]string{"state": email, "code": code}, "")
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		if payload.Get("error.code").String() == "invalid_code" {
			return nil, studio.NewAPIErrorWithDetails(
				"Invalid or expired code. Request a new magic link and retry.",
				"invalid_code",
				status,
				detailsOf(payload),
			)
		}
		return nil, remoteFlowError(status, payload, "magic_token_failed", "Authentication failed")
	}

	return &TokenResult{
		AccessToken: payload.Get("data.accessToken").String(),
		UserID:      payload.Get("data.userId").String(),
		Tier:        payload.Get("data.tier").String(),
		ExpiresIn:   payload.Get("data.expiresIn").Int(),
	}, nil
}

// GenerateAPIKey mints a permanent key using the bearer token. Basic auth is
// not sent here; the key endpoint authenticates by bearer alone.
func (f *Flow) GenerateAPIKey(ctx context.Context, accessToken string) (*KeyResult, error) {
	status, payload, err := f.post(ctx, "/api/user/api-key/generate", nil, accessToken)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		if payload.Get("error.code").String() == "key_already_exists" {
			return nil, studio.NewAPIErrorWithDetails(
				"API key already exists. Open https://web2labs.com/user/api to view or regenerate your key.",
				"key_already_exists",
				status,
				detailsOf(payload),
			)
		}
		return nil, remoteFlowError(status, payload, "api_key_generate_failed", "Failed to generate API key")
	}

	message := payload.Get("data.message").String()
	if message == "" {
		message = "API key generated"
	}
	return &KeyResult{
		Key:         payload.Get("data.key").String(),
		KeyPrefix:   payload.Get("data.keyPrefix").String(),
		FreeCredits: payload.Get("data.freeCredits").Int(),
		Message:     message,
	}, nil
}

// ConfigPath resolves the openclaw config location.
func (f *Flow) ConfigPath() string {
	if f.configPath != "" {
		return f.configPath
	}
	if override := strings.TrimSpace(os.Getenv("OPENCLAW_CONFIG_PATH")); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".openclaw", "openclaw.json")
}

// StoreAPIKey writes the key into the openclaw config, creating the file
// when missing and preserving everything else in it.
func (f *Flow) StoreAPIKey(apiKey string) (*StoreResult, error) {
	configPath := f.ConfigPath()

	raw, err := os.ReadFile(configPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if mkErr := os.MkdirAll(filepath.Dir(configPath), 0o755); mkErr != nil {
			return nil, fmt.Errorf("create config directory: %w", mkErr)
		}
		raw = []byte("{}")
	case err != nil:
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	default:
		if !json.Valid(raw) {
			return nil, studio.NewAPIError(
				fmt.Sprintf("Config file %s contains invalid JSON. Please fix or delete it manually.", configPath),
				"config_corrupt",
				http.StatusInternalServerError,
			)
		}
	}

	entry := "skills.entries." + escapeSjsonKey(skillEntry)
	updated, err := sjson.SetBytes(raw, entry+".enabled", true)
	if err == nil {
		updated, err = sjson.SetBytes(updated, entry+".apiKey", apiKey)
	}
	if err != nil {
		return nil, fmt.Errorf("update config: %w", err)
	}

	if err := os.WriteFile(configPath, updated, 0o600); err != nil {
		return nil, fmt.Errorf("write config file %s: %w", configPath, err)
	}
	// Pre-existing files keep their mode on WriteFile; tighten explicitly.
	if err := os.Chmod(configPath, 0o600); err != nil {
		log.WithError(err).Debug("could not tighten config permissions")
	}

	return &StoreResult{Stored: true, Path: configPath}, nil
}

// escapeSjsonKey protects literal dots in a map key from being read as path
// separators.
func escapeSjsonKey(key string) string {
	return strings.ReplaceAll(key, ".", "\\.")
}

// post issues one JSON request and parses whatever comes back. Non-JSON
// bodies parse as an empty document so error mapping still works.
func (f *Flow) post(ctx context.Context, path string, body any, bearer string) (int, gjson.Result, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, gjson.Result{}, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.endpoint+path, reader)
	if err != nil {
		return 0, gjson.Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	} else if f.basicAuth != "" {
		req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(f.basicAuth)))
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			return 0, gjson.Result{}, studio.NewAPIError(
				"Setup request timed out. Please try again.",
				studio.CodeTimeout,
				http.StatusRequestTimeout,
			)
		}
		return 0, gjson.Result{}, studio.NewAPIError(err.Error(), studio.CodeNetworkError, http.StatusServiceUnavailable)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, gjson.Result{}, studio.NewAPIError(err.Error(), studio.CodeNetworkError, http.StatusServiceUnavailable)
	}
	return resp.StatusCode, gjson.ParseBytes(raw), nil
}

func detailsOf(payload gjson.Result) any {
	if details := payload.Get("error.details"); details.Exists() {
		return json.RawMessage(details.Raw)
	}
	return nil
}

func remoteFlowError(status int, payload gjson.Result, fallbackCode, fallbackMessage string) error {
	code := payload.Get("error.code").String()
	if code == "" {
		code = fallbackCode
	}
	message := payload.Get("error.message").String()
	if message == "" {
		message = fallbackMessage
	}
	return studio.NewAPIErrorWithDetails(message, code, status, detailsOf(payload))
}
