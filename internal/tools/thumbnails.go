package tools

import (
	"context"
	"math"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/web2labs/studio-gateway/internal/json"
	log "github.com/web2labs/studio-gateway/internal/logging"
	"github.com/web2labs/studio-gateway/internal/spend"
)

const (
	premiumThumbnailCost  = 32
	standardThumbnailCost = 8
)

type thumbnailsParams struct {
	ProjectID      string  `json:"project_id"`
	Variants       float64 `json:"variants"`
	PremiumQuality bool    `json:"premium_quality"`
	UseBrandColors *bool   `json:"use_brand_colors"`
	UseBrandFaces  *bool   `json:"use_brand_faces"`
	ConfirmSpend   bool    `json:"confirm_spend"`
}

func normalizeVariantCount(value float64) int {
	if math.IsNaN(value) || math.IsInf(value, 0) || value < 1 {
		return 1
	}
	n := int(math.Round(value))
	if n < 1 {
		return 1
	}
	if n > 3 {
		return 3
	}
	return n
}

var thumbnailVariants = []string{"A", "B", "C"}

// missingVariantCost prices only the variants that do not exist yet. The
// per-variant rate comes from the pricing catalog, falling back to the
// published flat rates when the catalog is unavailable.
func missingVariantCost(pricing json.RawMessage, existing gjson.Result, count int, premium bool) (requested []string, missing int, creatorCredits int) {
	requested = thumbnailVariants[:count]

	existingSet := map[string]bool{}
	existing.ForEach(func(_, item gjson.Result) bool {
		variant := strings.ToUpper(strings.TrimSpace(item.Get("variant").String()))
		if variant != "" {
			existingSet[variant] = true
		}
		return true
	})
	for _, variant := range requested {
		if !existingSet[variant] {
			missing++
		}
	}

	perVariant := float64(standardThumbnailCost)
	if premium {
		perVariant = premiumThumbnailCost
	}
	path := "thumbnails.standard.costPerVariant"
	if premium {
		path = "thumbnails.premium.costPerVariant"
	}
	if v := gjson.GetBytes(pricing, path); v.Exists() {
		perVariant = v.Float()
	}

	creatorCredits = int(math.Round(float64(missing) * perVariant))
	if creatorCredits < 0 {
		creatorCredits = 0
	}
	return requested, missing, creatorCredits
}

func runThumbnails(ctx context.Context, tc *Context, raw json.RawMessage) (any, error) {
	var params thumbnailsParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	projectID := strings.TrimSpace(params.ProjectID)
	if projectID == "" {
		return nil, paramError("project_id is required")
	}

	variants := normalizeVariantCount(params.Variants)

	payload := map[string]any{
		"variants":       variants,
		"premiumQuality": params.PremiumQuality,
	}
	if params.UseBrandColors != nil {
		payload["useBrandColors"] = *params.UseBrandColors
	}
	if params.UseBrandFaces != nil {
		payload["useBrandFaces"] = *params.UseBrandFaces
	}

	// Both lookups only sharpen the cost estimate; generation proceeds
	// without them.
	pricing, err := tc.Client.GetPricing(ctx)
	if err != nil {
		log.WithError(err).Debug("pricing unavailable for thumbnail estimate")
		pricing = nil
	}
	var existing gjson.Result
	if listed, err := tc.Client.ListProjectThumbnails(ctx, projectID); err != nil {
		log.WithError(err).Debug("thumbnail listing unavailable for estimate")
	} else {
		existing = gjson.GetBytes(listed, "thumbnails")
	}

	requested, missing, creatorCredits := missingVariantCost(pricing, existing, variants, params.PremiumQuality)

	estimate, _ := json.Marshal(spend.Cost{APICredits: 0, CreatorCredits: creatorCredits})
	authorization, err := tc.Guard.Authorize(ctx, spend.Request{
		Action:        "thumbnails_generate",
		ActionLabel:   "Generate thumbnails",
		EstimatedCost: estimate,
		ConfirmSpend:  params.ConfirmSpend,
		Pricing:       pricing,
	})
	if err != nil {
		return nil, err
	}

	result, err := tc.Client.GenerateProjectThumbnails(ctx, projectID, payload)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"projectId":         projectID,
		"requestedVariants": requested,
		"missingVariants":   missing,
		"spendPolicy":       authorization.Policy,
		"estimatedCost":     authorization.EstimatedCost,
		"result":            result,
	}, nil
}
