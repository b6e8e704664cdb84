package tools

import "github.com/tidwall/gjson"

// NextStep nudges the calling agent toward a sensible follow-up tool.
type NextStep struct {
	Tool    string `json:"tool"`
	Message string `json:"message"`
}

func nextStepsForUpload(webhookEnabled bool) []NextStep {
	var steps []NextStep
	if !webhookEnabled {
		steps = append(steps, NextStep{
			Tool:    "studio_poll",
			Message: "Track processing progress with studio_poll until completion.",
		})
	}
	return append(steps, NextStep{
		Tool:    "studio_estimate",
		Message: "Use studio_estimate before future uploads to preview costs.",
	})
}

func nextStepsForResults(results gjson.Result) []NextStep {
	var steps []NextStep
	if len(results.Get("thumbnails").Array()) == 0 {
		steps = append(steps, NextStep{
			Tool:    "studio_thumbnails",
			Message: "Generate thumbnail variants for this project with studio_thumbnails.",
		})
	}
	return append(steps,
		NextStep{
			Tool:    "studio_download",
			Message: "Download outputs to your local filesystem with studio_download.",
		},
		NextStep{
			Tool:    "studio_rerender",
			Message: "Need changes? Re-render with updated settings using studio_rerender (first re-render is free).",
		},
	)
}

func nextStepsForDownload(results gjson.Result) []NextStep {
	var steps []NextStep
	if len(results.Get("thumbnails").Array()) == 0 {
		steps = append(steps, NextStep{
			Tool:    "studio_thumbnails",
			Message: "Generate A/B/C thumbnail variants with studio_thumbnails (uses Creator Credits).",
		})
	}
	return append(steps,
		NextStep{
			Tool:    "studio_brand",
			Message: "Set up your brand kit with studio_brand so future videos match your style automatically.",
		},
		NextStep{
			Tool:    "studio_referral",
			Message: "Share your referral link to earn 5 free credits per signup. Use studio_referral to get your code.",
		},
	)
}

func nextStepsForCredits(credits gjson.Result) []NextStep {
	apiCredits := credits.Get("apiCredits.total").Float()
	if !credits.Get("apiCredits.total").Exists() {
		apiCredits = credits.Get("total").Float()
	}
	if apiCredits > 0 && apiCredits <= 2 {
		return []NextStep{{
			Tool:    "studio_referral",
			Message: "Earn 5 free credits per referral. Use studio_referral to get your shareable link.",
		}}
	}
	return nil
}
