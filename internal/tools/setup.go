package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/web2labs/studio-gateway/internal/json"
)

type setupParams struct {
	Action string `json:"action"`
	Email  string `json:"email"`
	Code   string `json:"code"`
	APIKey string `json:"api_key"`
}

func maskAPIKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return key[:2] + "***"
	}
	return key[:8] + "..." + key[len(key)-4:]
}

func validEmail(email string) bool {
	return email != "" && strings.Contains(email, "@") && strings.Contains(email, ".")
}

func runSetup(ctx context.Context, tc *Context, raw json.RawMessage) (any, error) {
	var params setupParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	action := strings.ToLower(strings.TrimSpace(params.Action))
	if action == "" {
		action = "send_magic_link"
	}
	email := strings.ToLower(strings.TrimSpace(params.Email))

	switch action {
	case "send_magic_link":
		if !validEmail(email) {
			return nil, paramError("A valid email is required for setup.")
		}
		result, err := tc.Auth.SendMagicLink(ctx, email)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"action":   "send_magic_link",
			"sent":     true,
			"email":    result.Email,
			"nextStep": "Check your inbox for the Web2Labs magic link, then call studio_setup with action 'complete_setup', your email, and the 6-character code.",
		}, nil

	case "complete_setup":
		if !validEmail(email) {
			return nil, paramError("A valid email is required for setup.")
		}
		code := strings.TrimSpace(params.Code)
		if len(code) < 4 {
			return nil, paramError("A valid code is required. Provide the 6-character code from the magic link email.")
		}

		token, err := tc.Auth.CompleteMagicLinkToken(ctx, email, code)
		if err != nil {
			return nil, err
		}
		key, err := tc.Auth.GenerateAPIKey(ctx, token.AccessToken)
		if err != nil {
			return nil, err
		}
		stored, err := tc.Auth.StoreAPIKey(key.Key)
		if err != nil {
			return nil, err
		}

		// The new key takes over immediately for subsequent tool calls.
		tc.Client.SetAPIKey(key.Key)
		tc.Client.SetBearerToken("")

		prefix := key.KeyPrefix
		if prefix == "" {
			prefix = maskAPIKey(key.Key)
		}
		return map[string]any{
			"action":       "complete_setup",
			"configured":   true,
			"userId":       token.UserID,
			"tier":         token.Tier,
			"apiKeyPrefix": prefix,
			"freeCredits":  key.FreeCredits,
			"configPath":   stored.Path,
			"message":      "Setup complete. Your API key was generated and saved to your OpenClaw config.",
		}, nil

	case "save_api_key":
		apiKey := strings.TrimSpace(params.APIKey)
		if apiKey == "" {
			return nil, paramError("api_key is required when action is 'save_api_key'.")
		}
		stored, err := tc.Auth.StoreAPIKey(apiKey)
		if err != nil {
			return nil, err
		}
		tc.Client.SetAPIKey(apiKey)
		tc.Client.SetBearerToken("")

		return map[string]any{
			"action":       "save_api_key",
			"configured":   true,
			"apiKeyPrefix": maskAPIKey(apiKey),
			"configPath":   stored.Path,
			"message":      "API key saved to OpenClaw config.",
		}, nil
	}

	return nil, paramError(fmt.Sprintf("Invalid action %q. Use one of: send_magic_link, complete_setup, save_api_key.", action))
}
