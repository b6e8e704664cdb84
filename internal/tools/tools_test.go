package tools

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"testing"

	"github.com/tidwall/gjson"

	"github.com/web2labs/studio-gateway/internal/json"
	"github.com/web2labs/studio-gateway/internal/spend"
	"github.com/web2labs/studio-gateway/internal/studio"
)

func newTestContext(t *testing.T, handler http.HandlerFunc) (*Context, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := studio.NewClient(studio.Options{
		Endpoint:   server.URL,
		APIKey:     "sk_test",
		MaxRetries: 0,
	})
	return &Context{
		Client:        client,
		Guard:         spend.NewGuard(client, nil),
		DefaultPreset: "youtube",
	}, server
}

func envelope(t *testing.T, w http.ResponseWriter, data any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{"success": true, "data": data}); err != nil {
		t.Errorf("encode envelope: %v", err)
	}
}

func TestMaskAPIKey(t *testing.T) {
	cases := []struct{ in, want string }{
		{"", ""},
		{"short", "sh***"},
		{"12345678", "12***"},
		{"sk_live_abcdef123456", "sk_live_...3456"},
	}
	for _, tc := range cases {
		if got := maskAPIKey(tc.in); got != tc.want {
			t.Errorf("maskAPIKey(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestValidEmail(t *testing.T) {
	for email, want := range map[string]bool{
		"user@example.com": true,
		"user@localhost":   false,
		"no-at.com":        false,
		"":                 false,
	} {
		if got := validEmail(email); got != want {
			t.Errorf("validEmail(%q) = %v, want %v", email, got, want)
		}
	}
}

func TestNormalizeBrandUpdates(t *testing.T) {
	got := normalizeBrandUpdates(map[string]any{
		"action":        "update",
		"updates":       map[string]any{"ignored": true},
		"channel_name":  "My Channel",
		"primary_color": "#ff0000",
		"channelPitch":  "already camel",
		"customField":   42,
	})
	want := map[string]any{
		"channelName":  "My Channel",
		"primaryColor": "#ff0000",
		"channelPitch": "already camel",
		"customField":  42,
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("normalizeBrandUpdates = %#v, want %#v", got, want)
	}
}

func TestNormalizeVariantCount(t *testing.T) {
	cases := []struct {
		in   float64
		want int
	}{
		{0, 1}, {1, 1}, {2.4, 2}, {3, 3}, {7, 3}, {-1, 1},
	}
	for _, tc := range cases {
		if got := normalizeVariantCount(tc.in); got != tc.want {
			t.Errorf("normalizeVariantCount(%v) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestMissingVariantCost(t *testing.T) {
	pricing := json.RawMessage(`{"thumbnails":{"standard":{"costPerVariant":5},"premium":{"costPerVariant":20}}}`)
	existing := gjson.Parse(`[{"variant":"a"},{"variant":"B"}]`)

	requested, missing, credits := missingVariantCost(pricing, existing, 3, false)
	if !reflect.DeepEqual(requested, []string{"A", "B", "C"}) {
		t.Errorf("requested = %v", requested)
	}
	if missing != 1 || credits != 5 {
		t.Errorf("missing=%d credits=%d, want 1 and 5", missing, credits)
	}

	// No catalog falls back to the flat premium rate.
	_, missing, credits = missingVariantCost(nil, gjson.Result{}, 2, true)
	if missing != 2 || credits != 64 {
		t.Errorf("premium fallback missing=%d credits=%d, want 2 and 64", missing, credits)
	}
}

func TestSanitizeName(t *testing.T) {
	cases := []struct{ in, want string }{
		{"My Cool Video", "my-cool-video"},
		{`bad<>:"/\|?*chars`, "bad-chars"},
		{"", "project"},
	}
	for _, tc := range cases {
		if got := sanitizeName(tc.in); got != tc.want {
			t.Errorf("sanitizeName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
	if got := sanitizeName(strings.Repeat("x", 200)); len(got) != 120 {
		t.Errorf("long name not capped: len=%d", len(got))
	}
}

func TestCollectArtifacts(t *testing.T) {
	results := gjson.Parse(`{
		"name": "Demo",
		"mainVideo": {"url": "https://cdn/main.mp4"},
		"shorts": [{"url": "https://cdn/s1.mp4"}, {"url": "https://cdn/s2.mp4", "filename": "clip.mp4"}],
		"subtitles": {"url": "https://cdn/subs"},
		"transcription": {"url": "https://cdn/words"},
		"timelineExports": [{"format": "fcpxml", "url": "https://cdn/tl.fcpxml"}],
		"thumbnails": [{"variant": "A", "imageUrl": "https://cdn/a.png"}]
	}`)

	artifacts := collectArtifacts(results, []string{"all"})
	kinds := map[string]int{}
	for _, a := range artifacts {
		kinds[a.Kind]++
	}
	want := map[string]int{
		"main": 1, "shorts": 2, "subtitles": 1, "transcription": 1,
		"timeline-fcpxml": 1, "thumbnails": 1,
	}
	if !reflect.DeepEqual(kinds, want) {
		t.Errorf("artifact kinds = %v, want %v", kinds, want)
	}

	only := collectArtifacts(results, []string{"shorts"})
	if len(only) != 2 {
		t.Errorf("shorts-only returned %d artifacts", len(only))
	}
	if only[0].FileName != "Demo-short-1.mp4" {
		t.Errorf("generated shorts name = %q", only[0].FileName)
	}
	if only[1].FileName != "clip.mp4" {
		t.Errorf("explicit shorts name = %q", only[1].FileName)
	}
}

func TestBuildVideoURL(t *testing.T) {
	if got := buildVideoURL("twitch_channel", "123"); got != "https://www.twitch.tv/videos/123" {
		t.Errorf("twitch url = %q", got)
	}
	if got := buildVideoURL("youtube_channel", "abc"); got != "https://www.youtube.com/watch?v=abc" {
		t.Errorf("youtube url = %q", got)
	}
}

func TestResolveConfiguration(t *testing.T) {
	name, config, err := resolveConfiguration("youtube", "", map[string]any{"priority": "rush"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if name != "youtube" {
		t.Errorf("selected preset = %q", name)
	}
	if config["priority"] != "rush" {
		t.Errorf("override lost: %v", config["priority"])
	}
	if _, ok := config["subtitles"]; !ok {
		t.Error("preset base configuration missing")
	}

	if _, _, err := resolveConfiguration("youtube", "no-such-preset", nil); err == nil {
		t.Error("unknown preset accepted")
	}
}

func TestRunEstimateValidation(t *testing.T) {
	tc := &Context{DefaultPreset: "youtube"}

	_, err := runEstimate(context.Background(), tc, json.RawMessage(`{"priority":"asap"}`))
	if err == nil || !strings.Contains(err.Error(), "priority") {
		t.Errorf("bad priority not rejected: %v", err)
	}

	_, err = runEstimate(context.Background(), tc, json.RawMessage(`{"duration_minutes": 2000}`))
	if err == nil || !strings.Contains(err.Error(), "duration_minutes") {
		t.Errorf("out-of-range duration not rejected: %v", err)
	}
}

func TestRunEstimate(t *testing.T) {
	var received gjson.Result
	tc, _ := newTestContext(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/estimate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		received = gjson.ParseBytes(body)
		envelope(t, w, map[string]any{"totalCost": map[string]any{"apiCredits": 2, "creatorCredits": 0}})
	})

	result, err := runEstimate(context.Background(), tc, json.RawMessage(`{"priority":"rush","duration_minutes":12.6}`))
	if err != nil {
		t.Fatalf("runEstimate: %v", err)
	}

	if received.Get("durationMinutes").Int() != 13 {
		t.Errorf("duration not rounded: %v", received.Get("durationMinutes"))
	}
	if received.Get("preset").String() != "youtube" {
		t.Errorf("default preset not applied: %v", received.Get("preset"))
	}

	response := result.(map[string]any)
	cost := response["estimatedCost"].(spend.Cost)
	if cost.APICredits != 2 || cost.CreatorCredits != 0 {
		t.Errorf("estimatedCost = %+v", cost)
	}
}

func TestRunBrandUpdate(t *testing.T) {
	var received gjson.Result
	tc, _ := newTestContext(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/api/v1/brand" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		received = gjson.ParseBytes(body)
		envelope(t, w, map[string]any{"channelName": "My Channel"})
	})

	result, err := runBrand(context.Background(), tc, json.RawMessage(`{"action":"update","channel_name":"My Channel","primary_color":"#112233"}`))
	if err != nil {
		t.Fatalf("runBrand: %v", err)
	}

	if received.Get("channelName").String() != "My Channel" {
		t.Errorf("alias not applied: %s", received.Raw)
	}
	if received.Get("channel_name").Exists() {
		t.Error("snake_case key leaked to the API")
	}

	fields := result.(map[string]any)["updatedFields"].([]string)
	want := []string{"channelName", "primaryColor"}
	sort.Strings(fields)
	if !reflect.DeepEqual(fields, want) {
		t.Errorf("updatedFields = %v, want %v", fields, want)
	}
}

func TestRunBrandUpdateEmpty(t *testing.T) {
	tc := &Context{}
	_, err := runBrand(context.Background(), tc, json.RawMessage(`{"action":"update"}`))
	if err == nil {
		t.Fatal("empty update accepted")
	}
}

func TestRunBrandImportValidation(t *testing.T) {
	tc := &Context{}
	for _, raw := range []string{
		`{}`,
		`{"url":"ftp://example.com/profile"}`,
		`{"url":"https://` + strings.Repeat("x", 2050) + `.com"}`,
	} {
		if _, err := runBrandImport(context.Background(), tc, json.RawMessage(raw)); err == nil {
			t.Errorf("params %s accepted", raw)
		}
	}
}

func TestCreditAlerts(t *testing.T) {
	alerts := creditAlerts(spend.Balance{
		APICredits:     1,
		CreatorCredits: 15,
		Subscription:   spend.Subscription{MonthlyLimit: 100, MonthlyUsed: 85},
	}, &spend.MonthlyUsage{ProjectsProcessed: 1})

	kinds := make([]string, len(alerts))
	for i, a := range alerts {
		kinds[i] = a.Kind
	}
	sort.Strings(kinds)
	want := []string{"first_success_expansion", "low_api_credits", "low_creator_credits", "subscription_near_limit"}
	if !reflect.DeepEqual(kinds, want) {
		t.Errorf("alert kinds = %v, want %v", kinds, want)
	}

	if alerts := creditAlerts(spend.Balance{APICredits: 50, CreatorCredits: 500}, nil); len(alerts) != 0 {
		t.Errorf("healthy balance raised alerts: %v", alerts)
	}
}

func TestAnalyticsInsights(t *testing.T) {
	cases := []struct {
		processed int
		want      int // insight count
	}{
		{0, 0}, {9, 0}, {10, 1}, {75, 1}, {150, 1},
	}
	for _, tc := range cases {
		doc := gjson.Parse(`{"allTime":{"projectsProcessed":` + strconv.Itoa(tc.processed) + `}}`)
		got := analyticsInsights(doc)
		if len(got) != tc.want {
			t.Errorf("processed=%d insights=%v", tc.processed, got)
		}
	}

	doc := gjson.Parse(`{"allTime":{"projectsProcessed":75}}`)
	if got := analyticsInsights(doc)[0]; !strings.Contains(got, "50") {
		t.Errorf("milestone should report 50, got %q", got)
	}
}

func TestInvokeUnknownTool(t *testing.T) {
	_, err := Invoke(context.Background(), &Context{}, "studio_bogus", nil)
	apiErr, ok := studio.AsAPIError(err)
	if !ok || apiErr.Code != "unknown_tool" || apiErr.Status != http.StatusNotFound {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNames(t *testing.T) {
	names := Names()
	if len(names) != 20 {
		t.Fatalf("registered %d tools, want 20", len(names))
	}
	if !sort.StringsAreSorted(names) {
		t.Error("names not sorted")
	}
}

func TestNextStepsForCredits(t *testing.T) {
	low := gjson.Parse(`{"apiCredits":{"total":2}}`)
	if steps := nextStepsForCredits(low); len(steps) != 1 || steps[0].Tool != "studio_referral" {
		t.Errorf("low balance steps = %v", steps)
	}
	ok := gjson.Parse(`{"apiCredits":{"total":40}}`)
	if steps := nextStepsForCredits(ok); steps != nil {
		t.Errorf("healthy balance steps = %v", steps)
	}
	empty := gjson.Parse(`{"total":0}`)
	if steps := nextStepsForCredits(empty); steps != nil {
		t.Errorf("zero balance steps = %v", steps)
	}
}
