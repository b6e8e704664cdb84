package spend

import (
	"strings"

	"github.com/tidwall/gjson"

	"github.com/web2labs/studio-gateway/internal/json"
)

// referralTag is appended to every outbound checkout URL.
const referralTag = "ref=openclaw"

// Bundle is one purchasable credit pack from the pricing catalog.
type Bundle struct {
	Credits int     `json:"credits"`
	Price   float64 `json:"price,omitempty"`
	URL     string  `json:"url"`
}

// PurchaseLinks points the caller at the cheapest way to cover a shortfall.
type PurchaseLinks struct {
	APICredits     *Bundle `json:"apiCredits,omitempty"`
	CreatorCredits *Bundle `json:"creatorCredits,omitempty"`
	Subscriptions  string  `json:"subscriptions,omitempty"`
}

// tagURL appends the referral marker to a checkout URL.
func tagURL(raw string) string {
	if raw == "" {
		return ""
	}
	if strings.Contains(raw, "?") {
		return raw + "&" + referralTag
	}
	return raw + "?" + referralTag
}

// parseBundles reads one bundle list from the pricing catalog.
func parseBundles(doc gjson.Result, path string) []Bundle {
	var bundles []Bundle
	doc.Get(path).ForEach(func(_, item gjson.Result) bool {
		url := item.Get("checkoutUrl").String()
		if url == "" {
			url = item.Get("url").String()
		}
		bundles = append(bundles, Bundle{
			Credits: int(item.Get("credits").Int()),
			Price:   item.Get("price").Float(),
			URL:     tagURL(url),
		})
		return true
	})
	return bundles
}

// recommendBundle picks the smallest bundle covering needed credits, or the
// largest available when none is big enough.
func recommendBundle(bundles []Bundle, needed int) *Bundle {
	if len(bundles) == 0 {
		return nil
	}
	var best *Bundle
	var largest *Bundle
	for i := range bundles {
		b := &bundles[i]
		if largest == nil || b.Credits > largest.Credits {
			largest = b
		}
		if b.Credits >= needed {
			if best == nil || b.Credits < best.Credits {
				best = b
			}
		}
	}
	if best == nil {
		best = largest
	}
	copied := *best
	return &copied
}

// PurchaseLinksFor builds purchase hints from a raw pricing catalog. A nil
// or unparseable catalog yields nil hints; authorization proceeds without
// them.
func PurchaseLinksFor(pricing json.RawMessage, needed Cost) *PurchaseLinks {
	if len(pricing) == 0 {
		return nil
	}
	doc := gjson.ParseBytes(pricing)
	if !doc.IsObject() {
		return nil
	}

	links := &PurchaseLinks{
		APICredits:     recommendBundle(parseBundles(doc, "bundles.apiCredits"), needed.APICredits),
		CreatorCredits: recommendBundle(parseBundles(doc, "bundles.creatorCredits"), needed.CreatorCredits),
		Subscriptions:  tagURL(doc.Get("subscriptions.creator.url").String()),
	}
	if links.APICredits == nil && links.CreatorCredits == nil && links.Subscriptions == "" {
		return nil
	}
	return links
}
