package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tidwall/gjson"

	"github.com/web2labs/studio-gateway/internal/spend"
	"github.com/web2labs/studio-gateway/internal/studio"
	"github.com/web2labs/studio-gateway/internal/tools"
)

func newServer(t *testing.T, keys []string, upstream http.HandlerFunc) *Server {
	t.Helper()

	var endpoint string
	if upstream != nil {
		remote := httptest.NewServer(upstream)
		t.Cleanup(remote.Close)
		endpoint = remote.URL
	} else {
		endpoint = "http://127.0.0.1:0"
	}

	client := studio.NewClient(studio.Options{
		Endpoint:   endpoint,
		APIKey:     "sk_test",
		MaxRetries: 0,
	})
	tc := &tools.Context{
		Client: client,
		Guard:  spend.NewGuard(client, nil),
	}
	return NewServer(Options{Port: 0, GatewayKeys: keys}, tc)
}

func do(t *testing.T, s *Server, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s := newServer(t, nil, nil)
	rec := do(t, s, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if gjson.Get(rec.Body.String(), "status").String() != "ok" {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestListTools(t *testing.T) {
	s := newServer(t, nil, nil)
	rec := do(t, s, http.MethodGet, "/v1/tools", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	listed := gjson.Get(rec.Body.String(), "tools").Array()
	if len(listed) != 20 {
		t.Errorf("listed %d tools", len(listed))
	}
}

func TestGatewayKeyRequired(t *testing.T) {
	s := newServer(t, []string{"gk_secret"}, nil)

	rec := do(t, s, http.MethodGet, "/v1/tools", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d", rec.Code)
	}
	if gjson.Get(rec.Body.String(), "code").String() != "unauthorized" {
		t.Errorf("body = %s", rec.Body.String())
	}

	for _, headers := range []map[string]string{
		{"X-Gateway-Key": "gk_secret"},
		{"Authorization": "Bearer gk_secret"},
	} {
		rec = do(t, s, http.MethodGet, "/v1/tools", "", headers)
		if rec.Code != http.StatusOK {
			t.Errorf("authenticated via %v status = %d", headers, rec.Code)
		}
	}

	// Health stays open.
	rec = do(t, s, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("health status = %d", rec.Code)
	}
}

func TestSetGatewayKeys(t *testing.T) {
	s := newServer(t, []string{"old"}, nil)
	s.SetGatewayKeys([]string{"new"})

	rec := do(t, s, http.MethodGet, "/v1/tools", "", map[string]string{"X-Gateway-Key": "old"})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("stale key accepted: %d", rec.Code)
	}
	rec = do(t, s, http.MethodGet, "/v1/tools", "", map[string]string{"X-Gateway-Key": "new"})
	if rec.Code != http.StatusOK {
		t.Errorf("swapped key rejected: %d", rec.Code)
	}
}

func TestInvokeUnknownTool(t *testing.T) {
	s := newServer(t, nil, nil)
	rec := do(t, s, http.MethodPost, "/v1/tools/studio_nope", "{}", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	if gjson.Get(body, "code").String() != "unknown_tool" {
		t.Errorf("body = %s", body)
	}
	if !gjson.Get(body, "error").Bool() {
		t.Errorf("error flag missing: %s", body)
	}
}

func TestInvokeParamError(t *testing.T) {
	s := newServer(t, nil, nil)
	rec := do(t, s, http.MethodPost, "/v1/tools/studio_status", "{}", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if gjson.Get(rec.Body.String(), "code").String() != "invalid_params" {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestInvokeSuccessEnvelope(t *testing.T) {
	s := newServer(t, nil, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/projects/p-1/status" {
			t.Errorf("unexpected upstream path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"data":{"status":"completed"}}`))
	})

	rec := do(t, s, http.MethodPost, "/v1/tools/studio_status", `{"project_id":"p-1"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	if !gjson.Get(body, "success").Bool() {
		t.Errorf("success flag missing: %s", body)
	}
	if gjson.Get(body, "data.status").String() != "completed" {
		t.Errorf("data not forwarded: %s", body)
	}
}

func TestInvokeEmptyBody(t *testing.T) {
	s := newServer(t, nil, nil)
	// Empty body decodes as an empty params object; studio_status then fails
	// validation rather than JSON parsing.
	rec := do(t, s, http.MethodPost, "/v1/tools/studio_status", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(gjson.Get(rec.Body.String(), "message").String(), "project_id") {
		t.Errorf("body = %s", rec.Body.String())
	}
}
