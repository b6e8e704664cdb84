package authflow

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tidwall/gjson"

	"github.com/web2labs/studio-gateway/internal/studio"
)

func TestSendMagicLink(t *testing.T) {
	var gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/auth/magic/send" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		raw := make([]byte, r.ContentLength)
		r.Body.Read(raw)
		gotBody = string(raw)
		w.Write([]byte(`{"success":true,"data":{"email":"user@example.com"}}`))
	}))
	defer server.Close()

	result, err := New(server.URL, "").SendMagicLink(context.Background(), "user@example.com")
	if err != nil {
		t.Fatalf("SendMagicLink failed: %v", err)
	}
	if !result.Sent || result.Email != "user@example.com" {
		t.Errorf("unexpected result %+v", result)
	}
	if gjson.Get(gotBody, "email").String() != "user@example.com" {
		t.Errorf("unexpected request body %s", gotBody)
	}
}

func TestSendMagicLinkRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"code":"rate_limited","details":{"retryIn":120}}}`))
	}))
	defer server.Close()

	_, err := New(server.URL, "").SendMagicLink(context.Background(), "user@example.com")
	apiErr, ok := studio.AsAPIError(err)
	if !ok || apiErr.Code != "rate_limited" {
		t.Fatalf("expected rate_limited, got %v", err)
	}
	if !strings.Contains(apiErr.Message, "120 seconds") {
		t.Errorf("message should surface the retry window, got %q", apiErr.Message)
	}
}

func TestCompleteMagicLinkToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/auth/magic/token" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"success":true,"data":{"accessToken":"at-1","userId":"u1","tier":"pro","expiresIn":3600}}`))
	}))
	defer server.Close()

	result, err := New(server.URL, "").CompleteMagicLinkToken(context.Background(), "user@example.com", "123456")
	if err != nil {
		t.Fatalf("CompleteMagicLinkToken failed: %v", err)
	}
	if result.AccessToken != "at-1" || result.Tier != "pro" {
		t.Errorf("unexpected result %+v", result)
	}
}

func TestCompleteMagicLinkTokenInvalidCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"code":"invalid_code","message":"nope"}}`))
	}))
	defer server.Close()

	_, err := New(server.URL, "").CompleteMagicLinkToken(context.Background(), "user@example.com", "000000")
	apiErr, ok := studio.AsAPIError(err)
	if !ok || apiErr.Code != "invalid_code" {
		t.Fatalf("expected invalid_code, got %v", err)
	}
}

func TestGenerateAPIKeyUsesBearerOnly(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"success":true,"data":{"key":"sk-1","keyPrefix":"sk","freeCredits":5}}`))
	}))
	defer server.Close()

	// Basic credentials are configured but must not reach this endpoint.
	result, err := New(server.URL, "u:p").GenerateAPIKey(context.Background(), "at-1")
	if err != nil {
		t.Fatalf("GenerateAPIKey failed: %v", err)
	}
	if gotAuth != "Bearer at-1" {
		t.Errorf("key generation authenticates by bearer alone, got %q", gotAuth)
	}
	if result.Key != "sk-1" || result.FreeCredits != 5 {
		t.Errorf("unexpected result %+v", result)
	}
}

func TestGenerateAPIKeyAlreadyExists(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":{"code":"key_already_exists"}}`))
	}))
	defer server.Close()

	_, err := New(server.URL, "").GenerateAPIKey(context.Background(), "at-1")
	apiErr, ok := studio.AsAPIError(err)
	if !ok || apiErr.Code != "key_already_exists" {
		t.Fatalf("expected key_already_exists, got %v", err)
	}
}

func TestStoreAPIKeyCreatesConfig(t *testing.T) {
	dir := t.TempDir()
	flow := New("", "")
	flow.configPath = filepath.Join(dir, "nested", "openclaw.json")

	result, err := flow.StoreAPIKey("sk-test")
	if err != nil {
		t.Fatalf("StoreAPIKey failed: %v", err)
	}
	if !result.Stored || result.Path != flow.configPath {
		t.Errorf("unexpected result %+v", result)
	}

	raw, err := os.ReadFile(flow.configPath)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	doc := gjson.ParseBytes(raw)
	entry := doc.Get(`skills.entries.\@web2labs/studio`)
	if !entry.Get("enabled").Bool() || entry.Get("apiKey").String() != "sk-test" {
		t.Errorf("unexpected config %s", raw)
	}

	info, _ := os.Stat(flow.configPath)
	if info.Mode().Perm() != 0o600 {
		t.Errorf("config must be 0600, got %v", info.Mode().Perm())
	}
}

func TestStoreAPIKeyPreservesExistingConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "openclaw.json")
	existing := `{"theme":"dark","skills":{"entries":{"other":{"enabled":false}}}}`
	if err := os.WriteFile(path, []byte(existing), 0o644); err != nil {
		t.Fatal(err)
	}

	flow := New("", "")
	flow.configPath = path
	if _, err := flow.StoreAPIKey("sk-new"); err != nil {
		t.Fatalf("StoreAPIKey failed: %v", err)
	}

	raw, _ := os.ReadFile(path)
	doc := gjson.ParseBytes(raw)
	if doc.Get("theme").String() != "dark" {
		t.Error("unrelated settings must survive")
	}
	if doc.Get("skills.entries.other.enabled").Bool() {
		t.Error("sibling skill entries must survive untouched")
	}
	if doc.Get(`skills.entries.\@web2labs/studio.apiKey`).String() != "sk-new" {
		t.Errorf("key not written: %s", raw)
	}
}

func TestStoreAPIKeyRejectsCorruptConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "openclaw.json")
	os.WriteFile(path, []byte("{not json"), 0o644)

	flow := New("", "")
	flow.configPath = path
	_, err := flow.StoreAPIKey("sk-new")
	apiErr, ok := studio.AsAPIError(err)
	if !ok || apiErr.Code != "config_corrupt" {
		t.Fatalf("expected config_corrupt, got %v", err)
	}
}
