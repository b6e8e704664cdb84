package tools

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/web2labs/studio-gateway/internal/json"
	log "github.com/web2labs/studio-gateway/internal/logging"
)

// brandFieldAliases maps the snake_case parameter names tools accept onto
// the camelCase field names the brand API expects.
var brandFieldAliases = map[string]string{
	"channel_name":                "channelName",
	"primary_color":               "primaryColor",
	"secondary_color":             "secondaryColor",
	"brand_identity":              "brandIdentity",
	"channel_pitch":               "channelPitch",
	"posting_plan":                "postingPlan",
	"scripts_content_category":    "scriptsContentCategory",
	"scripts_channel_about":       "scriptsChannelAbout",
	"scripts_speaking_style":      "scriptsSpeakingStyle",
	"scripts_viewers_should_feel": "scriptsViewersShouldFeel",
	"scripts_viewers_should_be":   "scriptsViewersShouldBe",
	"subtitle_font_id":            "subtitleFontId",
	"thumbnail_font_id":           "thumbnailFontId",
	"default_intro_enabled":       "defaultIntroEnabled",
	"default_outro_enabled":       "defaultOutroEnabled",
}

// normalizeBrandUpdates renames aliased keys and drops control parameters.
func normalizeBrandUpdates(raw map[string]any) map[string]any {
	normalized := make(map[string]any, len(raw))
	for key, value := range raw {
		if key == "action" || key == "updates" {
			continue
		}
		if mapped, ok := brandFieldAliases[key]; ok {
			key = mapped
		}
		normalized[key] = value
	}
	return normalized
}

func runBrand(ctx context.Context, tc *Context, raw json.RawMessage) (any, error) {
	var params map[string]any
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}

	action := "get"
	if v, ok := params["action"].(string); ok && strings.TrimSpace(v) != "" {
		action = strings.ToLower(strings.TrimSpace(v))
	}

	switch action {
	case "get":
		brand, err := tc.Client.GetBrand(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"action": "get", "brand": brand}, nil

	case "update":
		// Updates come either under an "updates" object or as top-level
		// parameters alongside the action.
		updates, _ := params["updates"].(map[string]any)
		if updates == nil {
			updates = params
		}
		payload := normalizeBrandUpdates(updates)
		if len(payload) == 0 {
			return nil, paramError("No brand fields were provided to update")
		}

		updatedFields := make([]string, 0, len(payload))
		for field := range payload {
			updatedFields = append(updatedFields, field)
		}
		sort.Strings(updatedFields)

		brand, err := tc.Client.UpdateBrand(ctx, payload)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"action":        "update",
			"updatedFields": updatedFields,
			"brand":         brand,
		}, nil
	}

	return nil, paramError(`action must be "get" or "update"`)
}

type brandImportParams struct {
	URL   string `json:"url"`
	Apply bool   `json:"apply"`
}

var httpURLRe = regexp.MustCompile(`(?i)^https?://.+`)

func runBrandImport(ctx context.Context, tc *Context, raw json.RawMessage) (any, error) {
	var params brandImportParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}

	profileURL := strings.TrimSpace(params.URL)
	if profileURL == "" {
		return nil, paramError("url is required")
	}
	if len(profileURL) > 2048 {
		return nil, paramError("URL is too long (max 2048 characters)")
	}
	if !httpURLRe.MatchString(profileURL) {
		return nil, paramError("URL must start with http:// or https://")
	}

	result, err := tc.Client.ImportBrand(ctx, profileURL, params.Apply)
	if err != nil {
		return nil, err
	}

	action := "preview"
	if params.Apply {
		action = "apply"
	}
	return map[string]any{
		"action": action,
		"url":    profileURL,
		"result": result,
	}, nil
}

type assetsParams struct {
	Action    string `json:"action"`
	AssetType string `json:"asset_type"`
	FilePath  string `json:"file_path"`
}

func runAssets(ctx context.Context, tc *Context, raw json.RawMessage) (any, error) {
	var params assetsParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}

	action := strings.ToLower(strings.TrimSpace(params.Action))
	if action == "" {
		action = "list"
	}
	assetType := strings.ToLower(strings.TrimSpace(params.AssetType))

	switch action {
	case "list":
		assets, err := tc.Client.ListAssets(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"action": "list", "assets": assets}, nil

	case "upload":
		filePath := strings.TrimSpace(params.FilePath)
		if filePath == "" {
			return nil, paramError("file_path is required for action=upload")
		}
		result, err := tc.Client.UploadAsset(ctx, assetType, filePath)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"action":    "upload",
			"assetType": assetType,
			"filePath":  filePath,
			"result":    result,
			"assets":    relistAssets(ctx, tc),
		}, nil

	case "delete":
		if assetType == "" {
			return nil, paramError("asset_type is required for action=delete (intro, outro, or watermark)")
		}
		if assetType != "intro" && assetType != "outro" && assetType != "watermark" {
			return nil, paramError("asset_type must be one of: intro, outro, watermark")
		}
		result, err := tc.Client.DeleteAsset(ctx, assetType)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"action":  "delete",
			"assetId": assetType,
			"result":  result,
			"assets":  relistAssets(ctx, tc),
		}, nil
	}

	return nil, paramError(`action must be one of: "list", "upload", "delete"`)
}

// relistAssets refreshes the asset list after a mutation. Failures are
// tolerated since the mutation itself already succeeded.
func relistAssets(ctx context.Context, tc *Context) any {
	latest, err := tc.Client.ListAssets(ctx)
	if err != nil {
		log.WithError(err).Debug("asset re-list failed after mutation")
		return nil
	}
	return gjson.GetBytes(latest, "assets").Value()
}
