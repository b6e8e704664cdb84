package tools

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"github.com/web2labs/studio-gateway/internal/json"
	log "github.com/web2labs/studio-gateway/internal/logging"
	"github.com/web2labs/studio-gateway/internal/spend"
)

type creditAlert struct {
	Kind     string `json:"kind"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// creditAlerts derives the nudges the agent should surface to the user based
// on the normalized balance and the current month's activity.
func creditAlerts(balance spend.Balance, usage *spend.MonthlyUsage) []creditAlert {
	var alerts []creditAlert

	if balance.APICredits <= 2 {
		alerts = append(alerts, creditAlert{
			Kind:     "low_api_credits",
			Severity: "high",
			Message:  fmt.Sprintf("Only %d API credits remaining. Uploads will fail once the balance reaches zero.", balance.APICredits),
		})
	}
	if limit := balance.Subscription.MonthlyLimit; limit > 0 {
		used := float64(balance.Subscription.MonthlyUsed) / float64(limit)
		if used >= 0.8 {
			alerts = append(alerts, creditAlert{
				Kind:     "subscription_near_limit",
				Severity: "medium",
				Message: fmt.Sprintf("You have used %d of %d monthly subscription credits (%.0f%%).",
					balance.Subscription.MonthlyUsed, limit, used*100),
			})
		}
	}
	if balance.CreatorCredits <= 20 && balance.CreatorCredits > 0 {
		alerts = append(alerts, creditAlert{
			Kind:     "low_creator_credits",
			Severity: "medium",
			Message:  fmt.Sprintf("%d Creator Credits remaining. Thumbnails and premium renders draw from this balance.", balance.CreatorCredits),
		})
	}
	if usage != nil && usage.ProjectsProcessed >= 1 && usage.ProjectsProcessed < 2 {
		alerts = append(alerts, creditAlert{
			Kind:     "first_success_expansion",
			Severity: "info",
			Message:  "First project processed this month. Try studio_thumbnails or a brand kit to get more out of each upload.",
		})
	}
	return alerts
}

func runCredits(ctx context.Context, tc *Context, _ json.RawMessage) (any, error) {
	var (
		creditsRaw   json.RawMessage
		pricingRaw   json.RawMessage
		analyticsRaw json.RawMessage
	)

	// Balance is required; pricing and analytics only enrich the answer.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		raw, err := tc.Client.GetCredits(gctx)
		if err != nil {
			return err
		}
		creditsRaw = raw
		return nil
	})
	g.Go(func() error {
		raw, err := tc.Client.GetPricing(gctx)
		if err != nil {
			log.WithError(err).Debug("pricing unavailable for credits report")
			return nil
		}
		pricingRaw = raw
		return nil
	})
	g.Go(func() error {
		raw, err := tc.Client.GetAnalytics(gctx, "this_month")
		if err != nil {
			log.WithError(err).Debug("analytics unavailable for credits report")
			return nil
		}
		analyticsRaw = raw
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	balance := spend.NormalizeBalance(creditsRaw)
	var usage *spend.MonthlyUsage
	if len(analyticsRaw) > 0 {
		normalized := spend.NormalizeMonthlyUsage(analyticsRaw)
		usage = &normalized
	}

	response := map[string]any{
		"balance":    balance,
		"raw":        creditsRaw,
		"alerts":     creditAlerts(balance, usage),
		"next_steps": nextStepsForCredits(gjson.ParseBytes(creditsRaw)),
	}
	if usage != nil {
		response["thisMonth"] = usage
	}
	if len(pricingRaw) > 0 {
		needed := spend.Cost{APICredits: 10, CreatorCredits: 120}
		if links := spend.PurchaseLinksFor(pricingRaw, needed); links != nil {
			response["purchaseLinks"] = links
		}
	}
	return response, nil
}

func runPricing(ctx context.Context, tc *Context, _ json.RawMessage) (any, error) {
	pricingRaw, err := tc.Client.GetPricing(ctx)
	if err != nil {
		return nil, err
	}

	response := map[string]any{
		"pricing": pricingRaw,
	}
	needed := spend.Cost{APICredits: 10, CreatorCredits: 120}
	if links := spend.PurchaseLinksFor(pricingRaw, needed); links != nil {
		response["purchaseLinks"] = links
		if links.Subscriptions != "" {
			response["subscriptionUpgradeUrl"] = links.Subscriptions
		}
	}
	return response, nil
}

type estimateParams struct {
	Preset          string         `json:"preset"`
	Configuration   map[string]any `json:"configuration"`
	Priority        string         `json:"priority"`
	DurationMinutes float64        `json:"duration_minutes"`
}

func runEstimate(ctx context.Context, tc *Context, raw json.RawMessage) (any, error) {
	var params estimateParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}

	priority := strings.ToLower(strings.TrimSpace(params.Priority))
	if priority == "" {
		priority = "normal"
	}
	if priority != "normal" && priority != "rush" {
		return nil, paramError("priority must be 'normal' or 'rush'")
	}

	if params.DurationMinutes < 0 || params.DurationMinutes > 1440 {
		return nil, paramError("duration_minutes must be between 0 and 1440")
	}

	selectedPreset, configuration, err := resolveConfiguration(tc.DefaultPreset, params.Preset, params.Configuration)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"priority":      priority,
		"configuration": configuration,
	}
	if selectedPreset != "" {
		payload["preset"] = selectedPreset
	}
	if params.DurationMinutes > 0 {
		payload["durationMinutes"] = int(math.Round(params.DurationMinutes))
	}

	estimateRaw, err := tc.Client.EstimateCost(ctx, payload)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"preset":        selectedPreset,
		"priority":      priority,
		"estimate":      estimateRaw,
		"estimatedCost": spend.NormalizeCost(estimateRaw),
	}, nil
}
