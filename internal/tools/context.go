// Package tools implements the studio_* tool surface exposed by the gateway.
// Each tool validates its parameters, talks to the remote service through the
// shared client, and returns a JSON-friendly result.
package tools

import (
	"context"
	"fmt"
	"net/http"
	"sort"

	"github.com/web2labs/studio-gateway/internal/authflow"
	"github.com/web2labs/studio-gateway/internal/downloader"
	"github.com/web2labs/studio-gateway/internal/json"
	"github.com/web2labs/studio-gateway/internal/poller"
	"github.com/web2labs/studio-gateway/internal/spend"
	"github.com/web2labs/studio-gateway/internal/studio"
	"github.com/web2labs/studio-gateway/internal/watchstore"
)

// Context carries the shared collaborators every tool runs against.
type Context struct {
	Client     *studio.Client
	Poller     *poller.Poller
	Guard      *spend.Guard
	Watchers   *watchstore.Store
	Downloader *downloader.Downloader
	Auth       *authflow.Flow

	APIEndpoint   string
	DefaultPreset string
	DownloadDir   string
	SkillVersion  string
}

// Handler executes one tool call.
type Handler func(ctx context.Context, tc *Context, params json.RawMessage) (any, error)

var registry = map[string]Handler{
	"studio_setup":        runSetup,
	"studio_upload":       runUpload,
	"studio_status":       runStatus,
	"studio_poll":         runPoll,
	"studio_results":      runResults,
	"studio_download":     runDownload,
	"studio_credits":      runCredits,
	"studio_pricing":      runPricing,
	"studio_estimate":     runEstimate,
	"studio_thumbnails":   runThumbnails,
	"studio_analytics":    runAnalytics,
	"studio_brand":        runBrand,
	"studio_brand_import": runBrandImport,
	"studio_assets":       runAssets,
	"studio_rerender":     runRerender,
	"studio_projects":     runProjects,
	"studio_delete":       runDelete,
	"studio_feedback":     runFeedback,
	"studio_referral":     runReferral,
	"studio_watch":        runWatch,
}

// Names returns the registered tool names, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Invoke dispatches one tool call by name.
func Invoke(ctx context.Context, tc *Context, name string, params json.RawMessage) (any, error) {
	handler, ok := registry[name]
	if !ok {
		return nil, studio.NewAPIError(
			fmt.Sprintf("Unknown tool %q", name),
			"unknown_tool",
			http.StatusNotFound,
		)
	}
	if len(params) == 0 {
		params = json.RawMessage("{}")
	}
	return handler(ctx, tc, params)
}

// decodeParams unmarshals tool parameters, mapping malformed input to a
// caller error rather than a server fault.
func decodeParams(params json.RawMessage, out any) error {
	if err := json.Unmarshal(params, out); err != nil {
		return studio.NewAPIError(
			fmt.Sprintf("Invalid tool parameters: %v", err),
			"invalid_params",
			http.StatusBadRequest,
		)
	}
	return nil
}

func paramError(message string) error {
	return studio.NewAPIError(message, "invalid_params", http.StatusBadRequest)
}
