package spend

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/web2labs/studio-gateway/internal/json"
	"github.com/web2labs/studio-gateway/internal/studio"
)

type fakeFetcher struct {
	credits      string
	pricing      string
	analytics    string
	creditsErr   error
	pricingErr   error
	analyticsErr error

	creditsCalls    int
	pricingCalls    int
	analyticsCalls  int
	analyticsPeriod string
}

func (f *fakeFetcher) GetCredits(ctx context.Context) (json.RawMessage, error) {
	f.creditsCalls++
	return json.RawMessage(f.credits), f.creditsErr
}

func (f *fakeFetcher) GetPricing(ctx context.Context) (json.RawMessage, error) {
	f.pricingCalls++
	return json.RawMessage(f.pricing), f.pricingErr
}

func (f *fakeFetcher) GetAnalytics(ctx context.Context, period string) (json.RawMessage, error) {
	f.analyticsCalls++
	f.analyticsPeriod = period
	return json.RawMessage(f.analytics), f.analyticsErr
}

func guardWith(api Fetcher, mutate func(*Policy)) *Guard {
	policy := DefaultPolicy()
	if mutate != nil {
		mutate(&policy)
	}
	return NewGuard(api, func() Policy { return policy })
}

func cost(api, creator int) json.RawMessage {
	raw, _ := json.Marshal(map[string]int{"apiCredits": api, "creatorCredits": creator})
	return raw
}

const healthyBalance = `{"apiCredits":{"total":10},"creatorCredits":{"total":100},"subscription":{"tier":"pro"}}`

func TestFreeActionSkipsAllFetches(t *testing.T) {
	api := &fakeFetcher{}
	g := guardWith(api, nil)

	auth, err := g.Authorize(context.Background(), Request{
		Action:        "studio_estimate",
		EstimatedCost: cost(0, 0),
	})
	if err != nil {
		t.Fatalf("Authorize failed: %v", err)
	}
	if auth.ConfirmationRequired || auth.Confirmed {
		t.Errorf("free action must pass untouched, got %+v", auth)
	}
	if api.creditsCalls != 0 || api.pricingCalls != 0 || api.analyticsCalls != 0 {
		t.Errorf("free action must not fetch anything: %+v", api)
	}
}

func TestExplicitModeAlwaysAsks(t *testing.T) {
	api := &fakeFetcher{credits: healthyBalance}
	g := guardWith(api, func(p *Policy) { p.Mode = ModeExplicit })

	_, err := g.Authorize(context.Background(), Request{
		Action:        "studio_upload",
		EstimatedCost: cost(1, 0),
	})
	apiErr, ok := studio.AsAPIError(err)
	if !ok || apiErr.Code != studio.CodeConfirmationRequired {
		t.Fatalf("expected confirmation demand, got %v", err)
	}
	if apiErr.Status != http.StatusConflict {
		t.Errorf("expected 409, got %d", apiErr.Status)
	}
	assertTrigger(t, apiErr, TriggerExplicitPolicy)

	auth, err := g.Authorize(context.Background(), Request{
		Action:        "studio_upload",
		EstimatedCost: cost(1, 0),
		ConfirmSpend:  true,
	})
	if err != nil {
		t.Fatalf("confirmed call must authorize, got %v", err)
	}
	if !auth.Confirmed {
		t.Error("authorization must record the caller's confirmation")
	}
}

func TestSmartModeBelowThresholdsAuthorizes(t *testing.T) {
	api := &fakeFetcher{credits: healthyBalance}
	g := guardWith(api, func(p *Policy) { p.Mode = ModeSmart })

	auth, err := g.Authorize(context.Background(), Request{
		Action:        "studio_upload",
		EstimatedCost: cost(1, 0),
	})
	if err != nil {
		t.Fatalf("expected silent authorization, got %v", err)
	}
	if auth.Confirmed {
		t.Error("policy allowed it without asking; confirmed must be false")
	}
	if len(auth.Triggers) != 0 {
		t.Errorf("expected no triggers, got %v", auth.Triggers)
	}
}

func TestSmartModeCostThresholdTriggers(t *testing.T) {
	api := &fakeFetcher{credits: healthyBalance}
	g := guardWith(api, func(p *Policy) {
		p.Mode = ModeSmart
		p.SmartAPIConfirmThreshold = 2
	})

	_, err := g.Authorize(context.Background(), Request{
		Action:        "studio_upload",
		EstimatedCost: cost(2, 0),
	})
	apiErr, ok := studio.AsAPIError(err)
	if !ok || apiErr.Code != studio.CodeConfirmationRequired {
		t.Fatalf("expected confirmation demand, got %v", err)
	}
	assertTrigger(t, apiErr, TriggerAPICostThreshold)
}

func TestSmartModeLowBalanceTriggers(t *testing.T) {
	api := &fakeFetcher{credits: `{"apiCredits":{"total":3},"creatorCredits":{"total":100}}`}
	g := guardWith(api, func(p *Policy) { p.Mode = ModeSmart })

	// 3 - 1 = 2, at the low-balance threshold.
	_, err := g.Authorize(context.Background(), Request{
		Action:        "studio_upload",
		EstimatedCost: cost(1, 0),
	})
	apiErr, ok := studio.AsAPIError(err)
	if !ok || apiErr.Code != studio.CodeConfirmationRequired {
		t.Fatalf("expected confirmation demand, got %v", err)
	}
	assertTrigger(t, apiErr, TriggerLowAPIBalance)
}

func TestInsufficientCreditsRejectsInEveryMode(t *testing.T) {
	for _, mode := range []Mode{ModeExplicit, ModeSmart, ModeAuto} {
		api := &fakeFetcher{credits: `{"apiCredits":{"total":1},"creatorCredits":{"total":0}}`}
		g := guardWith(api, func(p *Policy) { p.Mode = mode })

		_, err := g.Authorize(context.Background(), Request{
			Action:        "studio_upload",
			EstimatedCost: cost(2, 0),
			ConfirmSpend:  true, // confirmation cannot override a real shortfall
		})
		apiErr, ok := studio.AsAPIError(err)
		if !ok || apiErr.Code != studio.CodeInsufficientCredits {
			t.Fatalf("mode %s: expected precheck rejection, got %v", mode, err)
		}
		if apiErr.Status != http.StatusPaymentRequired {
			t.Errorf("mode %s: expected 402, got %d", mode, apiErr.Status)
		}
	}
}

func TestAutoModeActionCapTriggers(t *testing.T) {
	api := &fakeFetcher{
		credits:   `{"apiCredits":{"total":1000},"creatorCredits":{"total":1000}}`,
		analytics: `{"thisMonth":{"apiCreditsUsed":0,"creatorCreditsUsed":0}}`,
	}
	g := guardWith(api, nil) // auto is the default mode

	_, err := g.Authorize(context.Background(), Request{
		Action:        "studio_upload",
		EstimatedCost: cost(3, 0), // cap is 2 per action
	})
	apiErr, ok := studio.AsAPIError(err)
	if !ok || apiErr.Code != studio.CodeConfirmationRequired {
		t.Fatalf("expected confirmation demand, got %v", err)
	}
	assertTrigger(t, apiErr, TriggerAutoAPIActionCap)
}

func TestAutoModeMonthCapTriggers(t *testing.T) {
	api := &fakeFetcher{
		credits:   `{"apiCredits":{"total":1000},"creatorCredits":{"total":1000}}`,
		analytics: `{"thisMonth":{"apiCreditsUsed":79,"creatorCreditsUsed":0}}`,
	}
	g := guardWith(api, nil)

	// 79 used + 2 = 81 > 80 monthly cap.
	_, err := g.Authorize(context.Background(), Request{
		Action:        "studio_upload",
		EstimatedCost: cost(2, 0),
	})
	apiErr, ok := studio.AsAPIError(err)
	if !ok || apiErr.Code != studio.CodeConfirmationRequired {
		t.Fatalf("expected confirmation demand, got %v", err)
	}
	assertTrigger(t, apiErr, TriggerAutoAPIMonthCap)
}

func TestAutoModeUnderCapsAuthorizes(t *testing.T) {
	api := &fakeFetcher{
		credits:   `{"apiCredits":{"total":1000},"creatorCredits":{"total":1000}}`,
		analytics: `{"thisMonth":{"apiCreditsUsed":10,"creatorCreditsUsed":50}}`,
	}
	g := guardWith(api, nil)

	auth, err := g.Authorize(context.Background(), Request{
		Action:        "studio_upload",
		EstimatedCost: cost(2, 40),
	})
	if err != nil {
		t.Fatalf("expected silent authorization, got %v", err)
	}
	if auth.MonthlyUsage == nil || auth.MonthlyUsage.APICreditsUsed != 10 {
		t.Errorf("expected monthly usage on the authorization, got %+v", auth.MonthlyUsage)
	}
	if api.analyticsPeriod != "this_month" {
		t.Errorf("usage fetch period = %q", api.analyticsPeriod)
	}
}

func TestBalanceFetchFailureIsFatal(t *testing.T) {
	api := &fakeFetcher{creditsErr: errors.New("balance endpoint down")}
	g := guardWith(api, nil)

	_, err := g.Authorize(context.Background(), Request{
		Action:        "studio_upload",
		EstimatedCost: cost(1, 0),
	})
	if err == nil {
		t.Fatal("balance fetch failure must propagate")
	}
}

func TestPricingFetchFailureIsSwallowed(t *testing.T) {
	api := &fakeFetcher{
		credits:    `{"apiCredits":{"total":0},"creatorCredits":{"total":0}}`,
		pricingErr: errors.New("pricing endpoint down"),
	}
	g := guardWith(api, nil)

	_, err := g.Authorize(context.Background(), Request{
		Action:        "studio_upload",
		EstimatedCost: cost(1, 0),
	})
	apiErr, ok := studio.AsAPIError(err)
	if !ok || apiErr.Code != studio.CodeInsufficientCredits {
		t.Fatalf("pricing failure must not mask the precheck rejection, got %v", err)
	}
}

func TestPreSuppliedPayloadsSkipFetches(t *testing.T) {
	api := &fakeFetcher{}
	g := guardWith(api, nil)

	auth, err := g.Authorize(context.Background(), Request{
		Action:        "studio_upload",
		EstimatedCost: cost(1, 0),
		Credits:       json.RawMessage(healthyBalance),
		Pricing:       json.RawMessage(`{}`),
		Analytics:     json.RawMessage(`{"thisMonth":{"apiCreditsUsed":0}}`),
	})
	if err != nil {
		t.Fatalf("Authorize failed: %v", err)
	}
	if auth == nil {
		t.Fatal("expected an authorization")
	}
	if api.creditsCalls != 0 || api.pricingCalls != 0 || api.analyticsCalls != 0 {
		t.Errorf("pre-supplied payloads must skip fetches: %+v", api)
	}
}

func assertTrigger(t *testing.T, apiErr *studio.APIError, code string) {
	t.Helper()
	details, ok := apiErr.Details.(map[string]any)
	if !ok {
		t.Fatalf("expected details map, got %T", apiErr.Details)
	}
	triggers, ok := details["triggers"].([]Trigger)
	if !ok {
		t.Fatalf("expected trigger list, got %T", details["triggers"])
	}
	for _, trigger := range triggers {
		if trigger.Code == code {
			return
		}
	}
	t.Errorf("trigger %s not found in %v", code, triggers)
}
