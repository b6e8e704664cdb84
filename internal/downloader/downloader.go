// Package downloader shells out to yt-dlp for fetching source videos from
// supported hosting platforms.
package downloader

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	log "github.com/web2labs/studio-gateway/internal/logging"
)

const (
	infoTimeout     = 30 * time.Second
	downloadTimeout = 10 * time.Minute
)

var supportedDomains = []string{
	"youtube.com",
	"youtu.be",
	"twitch.tv",
	"vimeo.com",
	"dailymotion.com",
	"streamable.com",
	"reddit.com",
}

// runner executes yt-dlp; swapped out in tests.
type runner func(ctx context.Context, args ...string) (stdout, stderr string, err error)

func execYtDlp(ctx context.Context, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, "yt-dlp", args...)
	var out, errOut strings.Builder
	cmd.Stdout = &out
	cmd.Stderr = &errOut
	err := cmd.Run()
	return out.String(), errOut.String(), err
}

// Downloader wraps the yt-dlp binary.
type Downloader struct {
	run runner
}

// New builds a Downloader using the yt-dlp on PATH.
func New() *Downloader {
	return &Downloader{run: execYtDlp}
}

// IsURL reports whether input parses as an http(s) URL.
func IsURL(input string) bool {
	parsed, err := url.Parse(strings.TrimSpace(input))
	if err != nil {
		return false
	}
	return (parsed.Scheme == "http" || parsed.Scheme == "https") && parsed.Hostname() != ""
}

// IsSupportedURL reports whether input points at a platform yt-dlp handles
// for us. Subdomains of a supported domain count.
func IsSupportedURL(input string) bool {
	parsed, err := url.Parse(strings.TrimSpace(input))
	if err != nil {
		return false
	}
	host := strings.ToLower(parsed.Hostname())
	for _, domain := range supportedDomains {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

// SupportedDomains lists the accepted platforms.
func SupportedDomains() []string {
	return append([]string(nil), supportedDomains...)
}

// Check probes for an installed yt-dlp binary.
func (d *Downloader) Check(ctx context.Context) (installed bool, version string) {
	stdout, _, err := d.run(ctx, "--version")
	if err != nil {
		return false, ""
	}
	return true, strings.TrimSpace(stdout)
}

// VideoInfo is yt-dlp's probe result for one video.
type VideoInfo struct {
	Title       string `json:"title"`
	Duration    int    `json:"duration"`
	Uploader    string `json:"uploader,omitempty"`
	UploadDate  string `json:"uploadDate,omitempty"`
	Description string `json:"description,omitempty"`
	Filesize    int64  `json:"filesize,omitempty"`
}

// Probe fetches metadata without downloading.
func (d *Downloader) Probe(ctx context.Context, videoURL string) (*VideoInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, infoTimeout)
	defer cancel()

	stdout, _, err := d.run(ctx, "--dump-json", "--no-download", videoURL)
	if err != nil {
		return nil, fmt.Errorf("probe video: %w", err)
	}

	doc := gjson.Parse(stdout)
	title := doc.Get("title").String()
	if title == "" {
		title = "Untitled"
	}
	return &VideoInfo{
		Title:       title,
		Duration:    int(doc.Get("duration").Int()),
		Uploader:    doc.Get("uploader").String(),
		UploadDate:  doc.Get("upload_date").String(),
		Description: doc.Get("description").String(),
		Filesize:    doc.Get("filesize_approx").Int(),
	}, nil
}

// DownloadOptions tunes a Download call.
type DownloadOptions struct {
	// MaxDuration skips videos longer than this many seconds.
	MaxDuration int
	Timeout     time.Duration
}

// DownloadResult points at the fetched file. The caller owns TmpDir and
// must Cleanup it when done with the file.
type DownloadResult struct {
	FilePath string
	FileName string
	FileSize int64
	TmpDir   string
}

var (
	mergeRe       = regexp.MustCompile(`\[Merger\] Merging formats into "(.+)"`)
	existingRe    = regexp.MustCompile(`\[download\] (.+\.mp4) has already been downloaded`)
	destinationRe = regexp.MustCompile(`\[download\] Destination: (.+)`)
)

// Download fetches videoURL at up to 1080p into a fresh temp directory.
func (d *Downloader) Download(ctx context.Context, videoURL string, opts DownloadOptions) (*DownloadResult, error) {
	tmpDir, err := os.MkdirTemp("", "w2l-dl-")
	if err != nil {
		return nil, fmt.Errorf("create download directory: %w", err)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = downloadTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{
		"-f", "bestvideo[height<=1080]+bestaudio/best[height<=1080]/best",
		"--merge-output-format", "mp4",
		"--no-playlist",
		"--no-overwrites",
		"--restrict-filenames",
		"--output", filepath.Join(tmpDir, "%(title)s.%(ext)s"),
	}
	if opts.MaxDuration > 0 {
		args = append(args, "--match-filter", fmt.Sprintf("duration<=%d", opts.MaxDuration))
	}
	args = append(args, videoURL)

	stdout, stderr, err := d.run(ctx, args...)
	if err != nil {
		Cleanup(tmpDir)
		return nil, fmt.Errorf("yt-dlp: %w", err)
	}

	filePath := discoverOutput(tmpDir, stdout, stderr)
	if filePath == "" {
		Cleanup(tmpDir)
		return nil, fmt.Errorf("download completed but output file was not found")
	}

	info, err := os.Stat(filePath)
	if err != nil {
		Cleanup(tmpDir)
		return nil, fmt.Errorf("stat downloaded file: %w", err)
	}
	return &DownloadResult{
		FilePath: filePath,
		FileName: filepath.Base(filePath),
		FileSize: info.Size(),
		TmpDir:   tmpDir,
	}, nil
}

// discoverOutput finds the produced file: the merger line is authoritative,
// then the already-downloaded and destination lines, then any mp4 left in
// the temp directory.
func discoverOutput(tmpDir, stdout, stderr string) string {
	if m := mergeRe.FindStringSubmatch(stderr); m != nil {
		return m[1]
	}
	if m := existingRe.FindStringSubmatch(stderr); m != nil {
		return m[1]
	}
	if m := destinationRe.FindStringSubmatch(stdout); m != nil {
		return strings.TrimSpace(m[1])
	}

	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		return ""
	}
	for _, entry := range entries {
		if strings.HasSuffix(strings.ToLower(entry.Name()), ".mp4") {
			return filepath.Join(tmpDir, entry.Name())
		}
	}
	return ""
}

// Cleanup removes a download's temp directory, best effort.
func Cleanup(tmpDir string) {
	if tmpDir == "" {
		return
	}
	if err := os.RemoveAll(tmpDir); err != nil {
		log.WithError(err).Debug("could not remove download directory")
	}
}

// ChannelVideo is one entry from a channel listing.
type ChannelVideo struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Date     string `json:"date,omitempty"`
	Duration int    `json:"duration"`
}

// ListChannelVideos returns the newest limit uploads of a channel without
// downloading anything.
func (d *Downloader) ListChannelVideos(ctx context.Context, channelURL string, limit int) ([]ChannelVideo, error) {
	if limit <= 0 {
		limit = 10
	}
	ctx, cancel := context.WithTimeout(ctx, infoTimeout)
	defer cancel()

	stdout, _, err := d.run(ctx,
		"--flat-playlist",
		"--print", "%(id)s\t%(title)s\t%(upload_date)s\t%(duration)s",
		"--playlist-end", strconv.Itoa(limit),
		channelURL,
	)
	if err != nil {
		return nil, fmt.Errorf("list channel videos: %w", err)
	}

	var videos []ChannelVideo
	for _, line := range strings.Split(strings.TrimSpace(stdout), "\n") {
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, "\t", 4)
		video := ChannelVideo{ID: fields[0]}
		if len(fields) > 1 {
			video.Title = fields[1]
		}
		if len(fields) > 2 && fields[2] != "NA" {
			video.Date = fields[2]
		}
		if len(fields) > 3 {
			if duration, err := strconv.ParseFloat(strings.TrimSpace(fields[3]), 64); err == nil {
				video.Duration = int(duration)
			}
		}
		videos = append(videos, video)
	}
	return videos, nil
}
