package spend

import (
	"math"

	"github.com/tidwall/gjson"

	"github.com/web2labs/studio-gateway/internal/json"
)

// Cost is the canonical shape of an action's price.
type Cost struct {
	APICredits     int `json:"apiCredits"`
	CreatorCredits int `json:"creatorCredits"`
}

// Zero reports whether the action is free.
func (c Cost) Zero() bool {
	return c.APICredits == 0 && c.CreatorCredits == 0
}

// Subscription summarizes the caller's plan.
type Subscription struct {
	Tier             string `json:"tier"`
	MonthlyLimit     int    `json:"monthlyLimit,omitempty"`
	MonthlyUsed      int    `json:"monthlyUsed,omitempty"`
	MonthlyRemaining int    `json:"monthlyRemaining,omitempty"`
}

// Balance is the canonical credit balance.
type Balance struct {
	APICredits     int          `json:"apiCredits"`
	CreatorCredits int          `json:"creatorCredits"`
	Subscription   Subscription `json:"subscription"`
}

// MonthlyUsage is the canonical current-month consumption.
type MonthlyUsage struct {
	APICreditsUsed     int `json:"apiCreditsUsed"`
	CreatorCreditsUsed int `json:"creatorCreditsUsed"`
	ProjectsProcessed  int `json:"projectsProcessed"`
}

// roundCredits rounds a raw credit amount and clamps it at zero.
func roundCredits(v float64) int {
	n := int(math.Round(v))
	if n < 0 {
		return 0
	}
	return n
}

// firstNumber returns the first existing numeric field among paths.
func firstNumber(doc gjson.Result, paths ...string) float64 {
	for _, path := range paths {
		if v := doc.Get(path); v.Exists() {
			return v.Float()
		}
	}
	return 0
}

// NormalizeCost maps the upstream cost shapes onto a canonical Cost. The
// remote emits several variants: flat {apiCredits, creatorCredits}, a nested
// {totalCost: {...}} estimate, and the legacy {api, creator: {total}} form.
func NormalizeCost(raw json.RawMessage) Cost {
	doc := gjson.ParseBytes(raw)
	return Cost{
		APICredits:     roundCredits(firstNumber(doc, "apiCredits", "totalCost.apiCredits", "api")),
		CreatorCredits: roundCredits(firstNumber(doc, "creatorCredits", "totalCost.creatorCredits", "creator.total")),
	}
}

// NormalizeBalance maps the credits payload onto a canonical Balance. API
// credits arrive as {apiCredits: {total}} or a bare {total}; the plan tier
// falls back to the legacy membership field.
func NormalizeBalance(raw json.RawMessage) Balance {
	doc := gjson.ParseBytes(raw)

	tier := doc.Get("subscription.tier").String()
	if tier == "" {
		tier = doc.Get("membership").String()
	}
	if tier == "" {
		tier = "unknown"
	}

	return Balance{
		APICredits:     roundCredits(firstNumber(doc, "apiCredits.total", "total")),
		CreatorCredits: roundCredits(firstNumber(doc, "creatorCredits.total")),
		Subscription: Subscription{
			Tier:             tier,
			MonthlyLimit:     int(doc.Get("subscription.monthlyLimit").Int()),
			MonthlyUsed:      int(doc.Get("subscription.monthlyUsed").Int()),
			MonthlyRemaining: int(doc.Get("subscription.monthlyRemaining").Int()),
		},
	}
}

// NormalizeMonthlyUsage extracts current-month consumption from the
// analytics payload.
func NormalizeMonthlyUsage(raw json.RawMessage) MonthlyUsage {
	doc := gjson.ParseBytes(raw)
	return MonthlyUsage{
		APICreditsUsed:     roundCredits(firstNumber(doc, "thisMonth.apiCreditsUsed")),
		CreatorCreditsUsed: roundCredits(firstNumber(doc, "thisMonth.creatorCreditsUsed")),
		ProjectsProcessed:  roundCredits(firstNumber(doc, "thisMonth.projectsProcessed")),
	}
}
