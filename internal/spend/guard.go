package spend

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/web2labs/studio-gateway/internal/json"
	log "github.com/web2labs/studio-gateway/internal/logging"
	"github.com/web2labs/studio-gateway/internal/studio"
)

// Trigger codes a policy evaluation can produce.
const (
	TriggerExplicitPolicy       = "explicit_policy"
	TriggerAPICostThreshold     = "api_cost_threshold"
	TriggerCreatorCostThreshold = "creator_cost_threshold"
	TriggerLowAPIBalance        = "low_api_balance"
	TriggerLowCreatorBalance    = "low_creator_balance"
	TriggerAutoAPIActionCap     = "auto_api_action_cap"
	TriggerAutoCreatorActionCap = "auto_creator_action_cap"
	TriggerAutoAPIMonthCap      = "auto_api_month_cap"
	TriggerAutoCreatorMonthCap  = "auto_creator_month_cap"
)

// Fetcher is the account surface the guard reads. Pre-supplied payloads on
// the request skip the corresponding fetch.
type Fetcher interface {
	GetCredits(ctx context.Context) (json.RawMessage, error)
	GetPricing(ctx context.Context) (json.RawMessage, error)
	GetAnalytics(ctx context.Context, period string) (json.RawMessage, error)
}

// Request describes one proposed paid action.
type Request struct {
	Action        string
	ActionLabel   string
	EstimatedCost json.RawMessage
	ConfirmSpend  bool

	// Optional pre-fetched payloads; when set, the guard does not re-fetch.
	Credits   json.RawMessage
	Pricing   json.RawMessage
	Analytics json.RawMessage
}

// Trigger is one named reason confirmation is demanded.
type Trigger struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Authorization is the successful outcome of a policy evaluation.
type Authorization struct {
	Action               string        `json:"action"`
	ActionLabel          string        `json:"actionLabel"`
	Policy               Mode          `json:"policy"`
	EstimatedCost        Cost          `json:"estimatedCost"`
	Balance              *Balance      `json:"balance,omitempty"`
	MonthlyUsage         *MonthlyUsage `json:"monthlyUsage,omitempty"`
	ConfirmationRequired bool          `json:"confirmationRequired"`
	Confirmed            bool          `json:"confirmed"`
	Triggers             []Trigger     `json:"triggers"`
}

// Guard evaluates the spend policy for proposed actions. Every rejection is
// terminal; the guard never retries.
type Guard struct {
	api    Fetcher
	policy func() Policy
}

// NewGuard builds a Guard. policy is called per authorization so a config
// reload takes effect without rebuilding the guard.
func NewGuard(api Fetcher, policy func() Policy) *Guard {
	if policy == nil {
		fixed := DefaultPolicy()
		policy = func() Policy { return fixed }
	}
	return &Guard{api: api, policy: policy}
}

// Authorize runs the per-action state machine: free actions pass untouched,
// a balance shortfall rejects before any mode logic, caller confirmation
// short-circuits the mode evaluation, and otherwise the mode's triggers
// decide.
func (g *Guard) Authorize(ctx context.Context, req Request) (*Authorization, error) {
	policy := g.policy()
	cost := NormalizeCost(req.EstimatedCost)

	auth := &Authorization{
		Action:        req.Action,
		ActionLabel:   req.ActionLabel,
		Policy:        policy.Mode,
		EstimatedCost: cost,
		Triggers:      []Trigger{},
	}
	if cost.Zero() {
		return auth, nil
	}

	balance, pricing, err := g.fetchAccount(ctx, req)
	if err != nil {
		return nil, err
	}
	auth.Balance = balance

	needed := Cost{
		APICredits:     max(0, cost.APICredits-balance.APICredits),
		CreatorCredits: max(0, cost.CreatorCredits-balance.CreatorCredits),
	}
	if needed.APICredits > 0 || needed.CreatorCredits > 0 {
		return nil, studio.NewAPIErrorWithDetails(
			fmt.Sprintf("Insufficient credits for %s: need %s more", label(req), describeCost(needed)),
			studio.CodeInsufficientCredits,
			http.StatusPaymentRequired,
			map[string]any{
				"estimatedCost": cost,
				"balance":       balance,
				"needed":        needed,
				"purchaseLinks": PurchaseLinksFor(pricing, needed),
			},
		)
	}

	if req.ConfirmSpend {
		auth.Confirmed = true
		return auth, nil
	}

	triggers, usage, err := g.evaluate(ctx, policy, req, cost, balance)
	if err != nil {
		return nil, err
	}
	auth.MonthlyUsage = usage

	if len(triggers) > 0 {
		log.WithFields(log.Fields{
			"action":   req.Action,
			"policy":   policy.Mode,
			"triggers": triggerCodes(triggers),
		}).Debug("spend confirmation required")
		return nil, studio.NewAPIErrorWithDetails(
			fmt.Sprintf("Spending %s on %s requires confirmation", describeCost(cost), label(req)),
			studio.CodeConfirmationRequired,
			http.StatusConflict,
			map[string]any{
				"triggers":      triggers,
				"estimatedCost": cost,
				"balance":       balance,
				"monthlyUsage":  usage,
				"purchaseLinks": PurchaseLinksFor(pricing, cost),
				"nextStep":      fmt.Sprintf("Ask the user to approve spending %s, then retry %s with confirm_spend=true.", describeCost(cost), req.Action),
			},
		)
	}
	return auth, nil
}

// fetchAccount resolves balance and pricing, concurrently when both must be
// fetched. A pricing failure is swallowed; a balance failure is fatal.
func (g *Guard) fetchAccount(ctx context.Context, req Request) (*Balance, json.RawMessage, error) {
	creditsRaw := req.Credits
	pricingRaw := req.Pricing

	group, groupCtx := errgroup.WithContext(ctx)
	if creditsRaw == nil {
		group.Go(func() error {
			raw, err := g.api.GetCredits(groupCtx)
			if err != nil {
				return fmt.Errorf("fetch balance: %w", err)
			}
			creditsRaw = raw
			return nil
		})
	}
	if pricingRaw == nil {
		group.Go(func() error {
			raw, err := g.api.GetPricing(groupCtx)
			if err != nil {
				log.WithError(err).Debug("pricing catalog unavailable, omitting purchase links")
				return nil
			}
			pricingRaw = raw
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, nil, err
	}

	balance := NormalizeBalance(creditsRaw)
	return &balance, pricingRaw, nil
}

// evaluate produces the mode-specific triggers for an unconfirmed action.
func (g *Guard) evaluate(ctx context.Context, policy Policy, req Request, cost Cost, balance *Balance) ([]Trigger, *MonthlyUsage, error) {
	switch policy.Mode {
	case ModeExplicit:
		return []Trigger{{
			Code:    TriggerExplicitPolicy,
			Message: "Spend policy is explicit: every paid action needs approval.",
		}}, nil, nil

	case ModeSmart:
		var triggers []Trigger
		if float64(cost.APICredits) >= policy.SmartAPIConfirmThreshold {
			triggers = append(triggers, Trigger{
				Code:    TriggerAPICostThreshold,
				Message: fmt.Sprintf("Costs %d API credits (confirmation threshold is %.0f).", cost.APICredits, policy.SmartAPIConfirmThreshold),
			})
		}
		if float64(cost.CreatorCredits) >= policy.SmartCreatorConfirmThreshold {
			triggers = append(triggers, Trigger{
				Code:    TriggerCreatorCostThreshold,
				Message: fmt.Sprintf("Costs %d creator credits (confirmation threshold is %.0f).", cost.CreatorCredits, policy.SmartCreatorConfirmThreshold),
			})
		}
		if cost.APICredits > 0 && float64(balance.APICredits-cost.APICredits) <= policy.LowAPIBalanceThreshold {
			triggers = append(triggers, Trigger{
				Code:    TriggerLowAPIBalance,
				Message: fmt.Sprintf("Would leave only %d API credits.", balance.APICredits-cost.APICredits),
			})
		}
		if cost.CreatorCredits > 0 && float64(balance.CreatorCredits-cost.CreatorCredits) <= policy.LowCreatorBalanceThreshold {
			triggers = append(triggers, Trigger{
				Code:    TriggerLowCreatorBalance,
				Message: fmt.Sprintf("Would leave only %d creator credits.", balance.CreatorCredits-cost.CreatorCredits),
			})
		}
		return triggers, nil, nil

	default: // ModeAuto
		var triggers []Trigger
		if float64(cost.APICredits) > policy.AutoMaxAPIPerAction {
			triggers = append(triggers, Trigger{
				Code:    TriggerAutoAPIActionCap,
				Message: fmt.Sprintf("Costs %d API credits; auto-spend allows at most %.0f per action.", cost.APICredits, policy.AutoMaxAPIPerAction),
			})
		}
		if float64(cost.CreatorCredits) > policy.AutoMaxCreatorPerAction {
			triggers = append(triggers, Trigger{
				Code:    TriggerAutoCreatorActionCap,
				Message: fmt.Sprintf("Costs %d creator credits; auto-spend allows at most %.0f per action.", cost.CreatorCredits, policy.AutoMaxCreatorPerAction),
			})
		}

		// The monthly caps need usage; that fetch is as load-bearing as the
		// balance and its failure is fatal.
		usageRaw := req.Analytics
		if usageRaw == nil {
			raw, err := g.api.GetAnalytics(ctx, "this_month")
			if err != nil {
				return nil, nil, fmt.Errorf("fetch monthly usage: %w", err)
			}
			usageRaw = raw
		}
		usage := NormalizeMonthlyUsage(usageRaw)

		if float64(usage.APICreditsUsed+cost.APICredits) > policy.AutoMaxAPIPerMonth {
			triggers = append(triggers, Trigger{
				Code:    TriggerAutoAPIMonthCap,
				Message: fmt.Sprintf("Would bring this month's API spend to %d (cap is %.0f).", usage.APICreditsUsed+cost.APICredits, policy.AutoMaxAPIPerMonth),
			})
		}
		if float64(usage.CreatorCreditsUsed+cost.CreatorCredits) > policy.AutoMaxCreatorPerMonth {
			triggers = append(triggers, Trigger{
				Code:    TriggerAutoCreatorMonthCap,
				Message: fmt.Sprintf("Would bring this month's creator spend to %d (cap is %.0f).", usage.CreatorCreditsUsed+cost.CreatorCredits, policy.AutoMaxCreatorPerMonth),
			})
		}
		return triggers, &usage, nil
	}
}

func label(req Request) string {
	if req.ActionLabel != "" {
		return req.ActionLabel
	}
	return req.Action
}

// describeCost renders a cost for human-readable messages.
func describeCost(cost Cost) string {
	switch {
	case cost.APICredits > 0 && cost.CreatorCredits > 0:
		return fmt.Sprintf("%d API + %d creator credits", cost.APICredits, cost.CreatorCredits)
	case cost.CreatorCredits > 0:
		return fmt.Sprintf("%d creator credits", cost.CreatorCredits)
	default:
		return fmt.Sprintf("%d API credits", cost.APICredits)
	}
}

func triggerCodes(triggers []Trigger) []string {
	codes := make([]string, len(triggers))
	for i, t := range triggers {
		codes[i] = t.Code
	}
	return codes
}
