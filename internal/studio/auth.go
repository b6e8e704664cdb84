package studio

import (
	"encoding/base64"
	"net/http"
)

// AuthContext is an immutable credential set. Rotation produces a new value
// rather than mutating shared state, so in-flight requests keep the
// credentials they started with.
type AuthContext struct {
	apiKey      string
	bearerToken string
	basicAuth   string
}

// NewAuthContext builds an AuthContext from the configured credentials.
func NewAuthContext(apiKey, bearerToken, basicAuth string) AuthContext {
	return AuthContext{apiKey: apiKey, bearerToken: bearerToken, basicAuth: basicAuth}
}

// WithAPIKey returns a copy using key as the API key credential.
func (a AuthContext) WithAPIKey(key string) AuthContext {
	a.apiKey = key
	return a
}

// WithBearerToken returns a copy using token as the bearer credential.
func (a AuthContext) WithBearerToken(token string) AuthContext {
	a.bearerToken = token
	return a
}

// BasicAuth returns the raw "user:password" pair, empty when unset.
func (a AuthContext) BasicAuth() string {
	return a.basicAuth
}

// BasicAuthHeader returns the encoded Basic Authorization value, or "" when
// no Basic credentials are configured.
func (a AuthContext) BasicAuthHeader() string {
	if a.basicAuth == "" {
		return ""
	}
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(a.basicAuth))
}

// apply sets the authentication headers for a request. Bearer tokens occupy
// the Authorization header, so Basic auth cannot be sent simultaneously; it
// only combines with API-key auth. Returns missing_auth when neither
// credential is configured.
func (a AuthContext) apply(h http.Header) error {
	if a.apiKey != "" {
		if basic := a.BasicAuthHeader(); basic != "" {
			h.Set("Authorization", basic)
		}
		h.Set("X-API-Key", a.apiKey)
		return nil
	}
	if a.bearerToken != "" {
		h.Set("Authorization", "Bearer "+a.bearerToken)
		return nil
	}
	return NewAPIError(
		"No authentication configured. Set WEB2LABS_API_KEY or WEB2LABS_BEARER_TOKEN.",
		CodeMissingAuth,
		http.StatusUnauthorized,
	)
}
