package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/web2labs/studio-gateway/internal/json"
)

type downloadParams struct {
	ProjectID string   `json:"project_id"`
	Types     []string `json:"types"`
	OutputDir string   `json:"output_dir"`
}

// artifact is one downloadable output of a finished project.
type artifact struct {
	Kind     string
	URL      string
	FileName string
}

var unsafeNameRe = regexp.MustCompile(`[<>:"/\\|?*]+`)

func sanitizeName(value string) string {
	if value == "" {
		value = "project"
	}
	value = unsafeNameRe.ReplaceAllString(value, "-")
	value = regexp.MustCompile(`\s+`).ReplaceAllString(value, "-")
	value = strings.ToLower(value)
	if len(value) > 120 {
		value = value[:120]
	}
	return value
}

func expandHome(path string) string {
	if path == "~" {
		home, _ := os.UserHomeDir()
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

func typeEnabled(requested []string, candidate string) bool {
	for _, t := range requested {
		if t == "all" || t == candidate {
			return true
		}
	}
	return false
}

// collectArtifacts walks the results payload and picks out everything the
// caller asked for: main video, shorts, subtitles, transcription, timeline
// exports and thumbnails.
func collectArtifacts(results gjson.Result, requested []string) []artifact {
	var artifacts []artifact
	projectName := results.Get("name").String()
	if projectName == "" {
		projectName = "project"
	}

	if url := results.Get("mainVideo.url").String(); url != "" && typeEnabled(requested, "main") {
		fileName := results.Get("mainVideo.filename").String()
		if fileName == "" {
			fileName = projectName + ".mp4"
		}
		artifacts = append(artifacts, artifact{Kind: "main", URL: url, FileName: fileName})
	}

	if typeEnabled(requested, "shorts") {
		results.Get("shorts").ForEach(func(index, short gjson.Result) bool {
			url := short.Get("url").String()
			if url == "" {
				return true
			}
			fileName := short.Get("filename").String()
			if fileName == "" {
				fileName = fmt.Sprintf("%s-short-%d.mp4", projectName, index.Int()+1)
			}
			artifacts = append(artifacts, artifact{Kind: "shorts", URL: url, FileName: fileName})
			return true
		})
	}

	if url := results.Get("subtitles.url").String(); url != "" && typeEnabled(requested, "subtitles") {
		artifacts = append(artifacts, artifact{Kind: "subtitles", URL: url, FileName: "subtitles.srt"})
	}
	if url := results.Get("transcription.url").String(); url != "" && typeEnabled(requested, "transcription") {
		artifacts = append(artifacts, artifact{Kind: "transcription", URL: url, FileName: "transcription.json"})
	}

	timelineKinds := map[string]string{
		"timeline-edl":    "edl",
		"timeline-fcpxml": "fcpxml",
		"timeline-xml":    "premiere-xml",
	}
	for kind, format := range timelineKinds {
		if !typeEnabled(requested, kind) {
			continue
		}
		results.Get("timelineExports").ForEach(func(_, export gjson.Result) bool {
			if export.Get("format").String() != format {
				return true
			}
			url := export.Get("url").String()
			if url == "" {
				return true
			}
			fileName := export.Get("filename").String()
			if fileName == "" {
				fileName = "timeline." + strings.TrimPrefix(format, "premiere-")
			}
			artifacts = append(artifacts, artifact{Kind: kind, URL: url, FileName: fileName})
			return false
		})
	}

	if typeEnabled(requested, "thumbnails") {
		results.Get("thumbnails").ForEach(func(_, thumb gjson.Result) bool {
			url := thumb.Get("imageUrl").String()
			if url == "" {
				return true
			}
			variant := strings.ToLower(thumb.Get("variant").String())
			if variant == "" {
				variant = "x"
			}
			artifacts = append(artifacts, artifact{
				Kind:     "thumbnails",
				URL:      url,
				FileName: filepath.Join("thumbnails", "thumbnail-"+variant+".png"),
			})
			return true
		})
	}

	return artifacts
}

func runDownload(ctx context.Context, tc *Context, raw json.RawMessage) (any, error) {
	var params downloadParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	projectID := strings.TrimSpace(params.ProjectID)
	if projectID == "" {
		return nil, paramError("project_id is required")
	}

	resultsRaw, err := tc.Client.GetProjectResults(ctx, projectID)
	if err != nil {
		return nil, err
	}
	results := gjson.ParseBytes(resultsRaw)

	requested := params.Types
	if len(requested) == 0 {
		requested = []string{"all"}
	}

	baseDir := params.OutputDir
	if baseDir == "" {
		downloadDir := tc.DownloadDir
		if downloadDir == "" {
			downloadDir = "~/studio-exports"
		}
		slug := sanitizeName(results.Get("name").String())
		if slug == "project" {
			slug = sanitizeName(projectID)
		}
		baseDir = filepath.Join(downloadDir, slug)
	}
	outputDir := expandHome(baseDir)
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	artifacts := collectArtifacts(results, requested)
	downloaded := make([]map[string]any, 0, len(artifacts))
	for _, a := range artifacts {
		destination := filepath.Join(outputDir, a.FileName)
		if err := tc.Client.DownloadFile(ctx, a.URL, destination); err != nil {
			return nil, err
		}
		downloaded = append(downloaded, map[string]any{
			"kind":      a.Kind,
			"sourceUrl": a.URL,
			"localPath": destination,
		})
	}

	return map[string]any{
		"projectId":              projectID,
		"outputDir":              outputDir,
		"downloaded":             downloaded,
		"retentionTimeRemaining": results.Get("retentionTimeRemaining").Value(),
		"next_steps":             nextStepsForDownload(results),
	}, nil
}
