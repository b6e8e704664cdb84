// Package preset holds the built-in editing configurations and the deep
// merge used to layer caller overrides on top of them.
package preset

import (
	"fmt"
	"sort"
	"strings"
)

// Preset is one named editing configuration.
type Preset struct {
	Name          string         `json:"name"`
	Title         string         `json:"title"`
	Description   string         `json:"description"`
	Configuration map[string]any `json:"configuration"`
}

var catalog = map[string]Preset{
	"quick": {
		Title:       "Quick Cleanup",
		Description: "Fast silence removal, no extras",
		Configuration: map[string]any{
			"subtitle":                   false,
			"shorts":                     false,
			"musicEnabled":               false,
			"zoom":                       true,
			"thumbnailVariantsRequested": 0,
		},
	},
	"youtube": {
		Title:       "YouTube Ready",
		Description: "Full production with subtitles, shorts, and music",
		Configuration: map[string]any{
			"subtitle":         true,
			"subtitlesOnVideo": true,
			"shorts":           true,
			"shortsConfig": map[string]any{
				"amount": 3, "minLength": 30, "maxLength": 60,
			},
			"musicEnabled":               true,
			"musicType":                  nil,
			"musicVolume":                15,
			"zoom":                       true,
			"thumbnailVariantsRequested": 2,
			"thumbnailAutoGenerate":      true,
		},
	},
	"shorts-only": {
		Title:       "Shorts Machine",
		Description: "Generate shorts only",
		Configuration: map[string]any{
			"onlyShorts":        true,
			"subtitle":          true,
			"subtitlesOnShorts": true,
			"shorts":            true,
			"shortsConfig": map[string]any{
				"amount": 5, "minLength": 15, "maxLength": 60,
			},
			"zoom":          true,
			"zoomsOnShorts": true,
			"musicEnabled":  true,
			"musicOnShorts": true,
		},
	},
	"podcast": {
		Title:       "Podcast Cleanup",
		Description: "Talking-head cleanup with soft cuts",
		Configuration: map[string]any{
			"subtitle":                   true,
			"subtitlesOnVideo":           true,
			"shorts":                     false,
			"musicEnabled":               false,
			"zoom":                       false,
			"cutHardness":                "soft",
			"thumbnailVariantsRequested": 0,
		},
	},
	"gaming": {
		Title:       "Gaming Montage",
		Description: "Fast cuts with dynamic zoom",
		Configuration: map[string]any{
			"gamingMode":        true,
			"subtitle":          true,
			"subtitlesOnShorts": true,
			"shorts":            true,
			"shortsLayout":      "split",
			"shortsConfig": map[string]any{
				"amount": 3, "minLength": 20, "maxLength": 45,
			},
			"zoom": true,
			"zoomConfig": map[string]any{
				"frequency": 3, "intensity": 3,
			},
			"musicEnabled": true,
			"musicType":    "upbeat",
		},
	},
	"tutorial": {
		Title:       "Tutorial",
		Description: "Educational workflow with gentle edits",
		Configuration: map[string]any{
			"subtitle":         true,
			"subtitlesOnVideo": true,
			"shorts":           false,
			"musicEnabled":     false,
			"zoom":             true,
			"zoomConfig": map[string]any{
				"frequency": 1, "intensity": 1,
			},
			"cutHardness":                "soft",
			"thumbnailVariantsRequested": 1,
		},
	},
	"vlog": {
		Title:       "Vlog Style",
		Description: "Balanced editing with shorts and music",
		Configuration: map[string]any{
			"subtitle": true,
			"shorts":   true,
			"shortsConfig": map[string]any{
				"amount": 3, "minLength": 30, "maxLength": 60,
			},
			"musicEnabled":               true,
			"musicType":                  "chill",
			"musicVolume":                10,
			"zoom":                       true,
			"thumbnailVariantsRequested": 1,
		},
	},
	"cinematic": {
		Title:       "Cinematic",
		Description: "High-production settings",
		Configuration: map[string]any{
			"premiumCut":       true,
			"subtitle":         true,
			"subtitlesOnVideo": true,
			"shorts":           true,
			"shortsConfig": map[string]any{
				"amount": 2, "minLength": 30, "maxLength": 60,
			},
			"musicEnabled": true,
			"musicType":    "cinematic",
			"musicVolume":  20,
			"zoom":         true,
			"zoomConfig": map[string]any{
				"frequency": 2, "intensity": 2, "animationDuration": 0.5,
			},
			"thumbnailVariantsRequested": 2,
			"thumbnailPremiumQuality":    true,
		},
	},
}

// List returns every preset sorted by name, with configurations omitted.
func List() []Preset {
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	sort.Strings(names)

	presets := make([]Preset, 0, len(names))
	for _, name := range names {
		p := catalog[name]
		presets = append(presets, Preset{
			Name:        name,
			Title:       p.Title,
			Description: p.Description,
		})
	}
	return presets
}

// Resolve returns a copy of the named preset's configuration. An empty name
// resolves to nil; an unknown name lists the available presets in the error.
func Resolve(name string) (map[string]any, error) {
	if name == "" {
		return nil, nil
	}
	p, ok := catalog[name]
	if !ok {
		names := make([]string, 0, len(catalog))
		for n := range catalog {
			names = append(names, n)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("unknown preset %q (available: %s)", name, strings.Join(names, ", "))
	}
	return cloneMap(p.Configuration), nil
}

// Merge layers override onto base: maps merge recursively, arrays and
// scalars replace. Neither input is mutated.
func Merge(base, override map[string]any) map[string]any {
	result := cloneMap(base)
	if result == nil {
		result = map[string]any{}
	}
	for key, value := range override {
		switch typed := value.(type) {
		case map[string]any:
			existing, _ := result[key].(map[string]any)
			result[key] = Merge(existing, typed)
		case []any:
			result[key] = append([]any(nil), typed...)
		default:
			result[key] = value
		}
	}
	return result
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		switch typed := value.(type) {
		case map[string]any:
			out[key] = cloneMap(typed)
		case []any:
			out[key] = append([]any(nil), typed...)
		default:
			out[key] = value
		}
	}
	return out
}
