// Package spend implements the credit-spend authorization engine. It decides
// whether a paid action may proceed, needs explicit user confirmation, or must
// be rejected for insufficient funds.
package spend

import (
	"strconv"
	"strings"
	"sync"
)

// Mode selects how aggressively the policy demands confirmation.
type Mode string

const (
	// ModeExplicit requires confirmation for every paid action.
	ModeExplicit Mode = "explicit"
	// ModeSmart requires confirmation above cost thresholds or when the
	// post-spend balance would be low.
	ModeSmart Mode = "smart"
	// ModeAuto allows spending silently below hard per-action and per-month
	// caps.
	ModeAuto Mode = "auto"
)

// Policy carries the spend mode and its numeric knobs. Values are clamped to
// their documented ranges at load time.
type Policy struct {
	Mode                         Mode    `yaml:"mode" json:"mode"`
	SmartAPIConfirmThreshold     float64 `yaml:"smart-api-confirm-threshold" json:"smartApiConfirmThreshold"`
	SmartCreatorConfirmThreshold float64 `yaml:"smart-creator-confirm-threshold" json:"smartCreatorConfirmThreshold"`
	LowAPIBalanceThreshold       float64 `yaml:"low-api-balance-threshold" json:"lowApiBalanceThreshold"`
	LowCreatorBalanceThreshold   float64 `yaml:"low-creator-balance-threshold" json:"lowCreatorBalanceThreshold"`
	AutoMaxAPIPerAction          float64 `yaml:"auto-max-api-per-action" json:"autoMaxApiPerAction"`
	AutoMaxCreatorPerAction      float64 `yaml:"auto-max-creator-per-action" json:"autoMaxCreatorPerAction"`
	AutoMaxAPIPerMonth           float64 `yaml:"auto-max-api-per-month" json:"autoMaxApiPerMonth"`
	AutoMaxCreatorPerMonth       float64 `yaml:"auto-max-creator-per-month" json:"autoMaxCreatorPerMonth"`
}

// Getenv is the environment lookup used by PolicyFromEnv; split out so tests
// can inject a fake environment.
type Getenv func(key string) string

// NormalizeMode lowercases and validates a mode string, defaulting to auto.
func NormalizeMode(mode string) Mode {
	switch Mode(strings.ToLower(strings.TrimSpace(mode))) {
	case ModeExplicit:
		return ModeExplicit
	case ModeSmart:
		return ModeSmart
	case ModeAuto:
		return ModeAuto
	}
	return ModeAuto
}

// clampNumber parses value, falling back to def when it is not numeric, and
// clamps the result into [min, max].
func clampNumber(value string, def, min, max float64) float64 {
	n, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return def
	}
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}

// DefaultPolicy returns the documented defaults (mode auto).
func DefaultPolicy() Policy {
	return Policy{
		Mode:                         ModeAuto,
		SmartAPIConfirmThreshold:     2,
		SmartCreatorConfirmThreshold: 8,
		LowAPIBalanceThreshold:       2,
		LowCreatorBalanceThreshold:   20,
		AutoMaxAPIPerAction:          2,
		AutoMaxCreatorPerAction:      40,
		AutoMaxAPIPerMonth:           80,
		AutoMaxCreatorPerMonth:       400,
	}
}

// PolicyHolder is a swappable Policy, updated on config reload and read per
// authorization.
type PolicyHolder struct {
	mu     sync.RWMutex
	policy Policy
}

// NewPolicyHolder wraps an initial policy.
func NewPolicyHolder(policy Policy) *PolicyHolder {
	return &PolicyHolder{policy: policy}
}

// Get returns the current policy.
func (h *PolicyHolder) Get() Policy {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.policy
}

// Set replaces the policy.
func (h *PolicyHolder) Set(policy Policy) {
	h.mu.Lock()
	h.policy = policy
	h.mu.Unlock()
}

// PolicyFromEnv builds a Policy from WEB2LABS_* environment variables.
// Missing or malformed values silently fall back to defaults; out-of-range
// values are clamped.
func PolicyFromEnv(getenv Getenv) Policy {
	if getenv == nil {
		getenv = func(string) string { return "" }
	}
	return Policy{
		Mode:                         NormalizeMode(getenv("WEB2LABS_SPEND_POLICY")),
		SmartAPIConfirmThreshold:     clampNumber(getenv("WEB2LABS_SMART_CONFIRM_API_THRESHOLD"), 2, 1, 20),
		SmartCreatorConfirmThreshold: clampNumber(getenv("WEB2LABS_SMART_CONFIRM_CREATOR_THRESHOLD"), 8, 1, 10000),
		LowAPIBalanceThreshold:       clampNumber(getenv("WEB2LABS_SMART_CONFIRM_LOW_API_BALANCE"), 2, 0, 1000),
		LowCreatorBalanceThreshold:   clampNumber(getenv("WEB2LABS_SMART_CONFIRM_LOW_CREATOR_BALANCE"), 20, 0, 100000),
		AutoMaxAPIPerAction:          clampNumber(getenv("WEB2LABS_AUTO_SPEND_MAX_API_PER_ACTION"), 2, 1, 1000),
		AutoMaxCreatorPerAction:      clampNumber(getenv("WEB2LABS_AUTO_SPEND_MAX_CREATOR_PER_ACTION"), 40, 1, 100000),
		AutoMaxAPIPerMonth:           clampNumber(getenv("WEB2LABS_AUTO_SPEND_MAX_API_PER_MONTH"), 80, 1, 100000),
		AutoMaxCreatorPerMonth:       clampNumber(getenv("WEB2LABS_AUTO_SPEND_MAX_CREATOR_PER_MONTH"), 400, 1, 1000000),
	}
}
