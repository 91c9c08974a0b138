package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lrstanley/go-ytdlp"

	"vidfetch/internal"
	"vidfetch/utils"
)

// progressInterval is how often yt-dlp progress is forwarded
const progressInterval = 500 * time.Millisecond

// allowedVideoExts are the containers listed by /api/info
var allowedVideoExts = map[string]bool{
	"mp4": true, "webm": true, "mkv": true, "avi": true, "mov": true, "flv": true, "3gp": true,
}

// YtDlpOptions configures the yt-dlp strategy
type YtDlpOptions struct {
	Executable  string
	CookiesFile string
	ProxyURL    string
	// RateLimit in bytes per second, 0 for unlimited
	RateLimit int64
}

// YtDlpStrategy delegates extraction and download to yt-dlp, which knows
// most video platforms.
type YtDlpStrategy struct {
	opts      YtDlpOptions
	validator *utils.URLValidator
	fileOps   *utils.FileOperations
}

// NewYtDlpStrategy creates the yt-dlp strategy
func NewYtDlpStrategy(opts YtDlpOptions) *YtDlpStrategy {
	if opts.Executable == "" {
		opts.Executable = "yt-dlp"
	}
	return &YtDlpStrategy{
		opts:      opts,
		validator: utils.NewURLValidator(),
		fileOps:   utils.NewFileOperations(),
	}
}

// Name implements internal.Strategy
func (y *YtDlpStrategy) Name() string { return "yt-dlp" }

// Supports accepts every http(s) URL; yt-dlp has a generic extractor
func (y *YtDlpStrategy) Supports(rawURL string) bool {
	return y.validator.ValidateURL(rawURL) == nil
}

func (y *YtDlpStrategy) command() *ytdlp.Command {
	cmd := ytdlp.New().
		SetExecutable(y.opts.Executable).
		NoPlaylist().
		NoWarnings()
	if y.opts.CookiesFile != "" {
		cmd = cmd.Cookies(y.opts.CookiesFile)
	}
	if y.opts.ProxyURL != "" {
		cmd = cmd.Proxy(y.opts.ProxyURL)
	}
	return cmd
}

// List runs yt-dlp in JSON dump mode and keeps the formats that carry video
func (y *YtDlpStrategy) List(ctx context.Context, rawURL string) (*internal.MediaInfo, error) {
	result, err := y.command().
		DumpSingleJSON().
		SkipDownload().
		Run(ctx, rawURL)
	if err != nil {
		return nil, classifyYtDlpError(ctx, err, stderrOf(result))
	}

	info, err := parseListing([]byte(result.Stdout))
	if err != nil {
		return nil, err
	}
	if platform := y.validator.DetectPlatform(rawURL); platform != "generic" && platform != "" {
		info.Platform = platform
	}
	return info, nil
}

// Fetch downloads the selected rendition to req.Dir/req.BaseName.<ext>
func (y *YtDlpStrategy) Fetch(ctx context.Context, req internal.FetchRequest, progress internal.ProgressFunc) (*internal.FetchResult, error) {
	if err := y.fileOps.EnsureDir(req.Dir); err != nil {
		return nil, internal.NewFetchError(internal.KindStorage, "cannot create storage directory").WithCause(err)
	}

	var mu sync.Mutex
	var title string

	cmd := y.command().
		Format(formatSpec(req.Selector)).
		Output(filepath.Join(req.Dir, req.BaseName+".%(ext)s")).
		ForceOverwrites().
		RestrictFilenames()
	if y.opts.RateLimit > 0 {
		cmd = cmd.LimitRate(strconv.FormatInt(y.opts.RateLimit, 10))
	}
	cmd.ProgressFunc(progressInterval, func(update ytdlp.ProgressUpdate) {
		if update.Info != nil && update.Info.Title != nil {
			mu.Lock()
			title = *update.Info.Title
			mu.Unlock()
		}
		progress(int64(update.DownloadedBytes), int64(update.TotalBytes))
	})

	result, err := cmd.Run(ctx, req.URL)
	if err != nil {
		return nil, classifyYtDlpError(ctx, err, stderrOf(result))
	}

	path, err := y.findOutput(result, req)
	if err != nil {
		return nil, err
	}

	kind := internal.KindForSelector(req.Selector)
	if audioExt(strings.TrimPrefix(filepath.Ext(path), ".")) {
		kind = internal.KindAudioOnly
	}

	mu.Lock()
	defer mu.Unlock()
	return &internal.FetchResult{Path: path, Kind: kind, Title: title}, nil
}

// findOutput locates the file yt-dlp wrote, preferring what it reported
func (y *YtDlpStrategy) findOutput(result *ytdlp.Result, req internal.FetchRequest) (string, error) {
	if infos, err := result.GetExtractedInfo(); err == nil {
		for _, info := range infos {
			if info.Filename != nil && y.fileOps.FileExists(*info.Filename) {
				return *info.Filename, nil
			}
		}
	}

	matches, err := y.fileOps.MatchingFiles(req.Dir, req.BaseName)
	if err != nil {
		return "", internal.NewFetchError(internal.KindStorage, "cannot list storage directory").WithCause(err)
	}
	for _, path := range matches {
		if isPartialFile(path) {
			continue
		}
		return path, nil
	}
	return "", internal.NewFetchError(internal.KindStorage, "yt-dlp finished without producing a file").
		WithContext("base", req.BaseName)
}

func isPartialFile(path string) bool {
	for _, suffix := range []string{partSuffix, ".ytdl", ".temp", ".tmp"} {
		if strings.HasSuffix(path, suffix) {
			return true
		}
	}
	return false
}

// formatSpec maps a selector onto a yt-dlp format expression. mp4 is
// preferred so the result plays everywhere.
func formatSpec(s internal.Selector) string {
	switch s {
	case internal.SelectorBest, internal.SelectorVideo, "":
		return "best[ext=mp4]/best"
	case internal.SelectorAudio:
		return "bestaudio[ext=m4a]/bestaudio"
	case internal.SelectorVideoOnly:
		return "bestvideo[ext=mp4]/bestvideo"
	default:
		return string(s)
	}
}

type ytdlpListing struct {
	Title        string        `json:"title"`
	Duration     float64       `json:"duration"`
	Thumbnail    string        `json:"thumbnail"`
	Uploader     string        `json:"uploader"`
	ExtractorKey string        `json:"extractor_key"`
	Formats      []ytdlpFormat `json:"formats"`

	// Set when the extractor returns a single format without a list
	ytdlpFormat
}

type ytdlpFormat struct {
	FormatID       string  `json:"format_id"`
	Ext            string  `json:"ext"`
	Filesize       float64 `json:"filesize"`
	FilesizeApprox float64 `json:"filesize_approx"`
	Height         int     `json:"height"`
	Width          int     `json:"width"`
	FormatNote     string  `json:"format_note"`
	VCodec         string  `json:"vcodec"`
	ACodec         string  `json:"acodec"`
}

func (f ytdlpFormat) rendition() internal.Rendition {
	size := f.Filesize
	if size <= 0 {
		size = f.FilesizeApprox
	}
	return internal.Rendition{
		FormatID:   f.FormatID,
		Ext:        f.Ext,
		Filesize:   int64(size),
		Height:     f.Height,
		Width:      f.Width,
		FormatNote: f.FormatNote,
		VCodec:     f.VCodec,
		ACodec:     f.ACodec,
		HasAudio:   f.ACodec != "none" && f.ACodec != "",
	}
}

// parseListing turns yt-dlp's JSON dump into MediaInfo. Audio-only formats
// and uncommon containers are skipped; if nothing is left the first video
// format is kept so the listing is never empty for a playable source.
func parseListing(data []byte) (*internal.MediaInfo, error) {
	var listing ytdlpListing
	if err := json.Unmarshal(data, &listing); err != nil {
		return nil, fmt.Errorf("failed to parse yt-dlp output: %w", err)
	}

	formats := listing.Formats
	if len(formats) == 0 && listing.FormatID != "" {
		formats = []ytdlpFormat{listing.ytdlpFormat}
	}

	info := &internal.MediaInfo{
		Title:     listing.Title,
		Duration:  listing.Duration,
		Thumbnail: listing.Thumbnail,
		Uploader:  listing.Uploader,
		Formats:   []internal.Rendition{},
	}
	if key := strings.ToLower(listing.ExtractorKey); key != "" && key != "generic" {
		info.Platform = key
	}

	for _, f := range formats {
		if f.VCodec == "none" {
			continue
		}
		if allowedVideoExts[f.Ext] {
			info.Formats = append(info.Formats, f.rendition())
		}
	}

	if len(info.Formats) == 0 {
		for _, f := range formats {
			if f.VCodec != "none" {
				info.Formats = append(info.Formats, f.rendition())
				break
			}
		}
	}

	return info, nil
}

func stderrOf(result *ytdlp.Result) string {
	if result == nil {
		return ""
	}
	return result.Stderr
}

// classifyYtDlpError maps a failed yt-dlp run onto a fetch error kind using
// its stderr text.
func classifyYtDlpError(ctx context.Context, err error, stderr string) error {
	if ctx.Err() != nil {
		return classifyContext(ctx, err)
	}

	if errors.Is(err, exec.ErrNotFound) {
		return internal.NewFetchError(internal.KindNetwork, "yt-dlp is not installed").
			WithCause(err).
			WithSuggestion("Install yt-dlp or point VIDFETCH_YTDLP at it")
	}

	text := strings.ToLower(stderr + " " + err.Error())
	detail := lastErrorLine(stderr)
	if detail == "" {
		detail = err.Error()
	}

	var kind internal.FetchKind
	switch {
	case strings.Contains(text, "requested format is not available"):
		kind = internal.KindUnsupportedRendition
	case strings.Contains(text, "unsupported url"):
		kind = internal.KindUnsupportedRendition
	case strings.Contains(text, "private video"),
		strings.Contains(text, "sign in"),
		strings.Contains(text, "login required"),
		strings.Contains(text, "http error 401"),
		strings.Contains(text, "http error 403"):
		kind = internal.KindAuth
	case strings.Contains(text, "http error 404"),
		strings.Contains(text, "video unavailable"),
		strings.Contains(text, "does not exist"):
		kind = internal.KindNotFound
	case strings.Contains(text, "timed out"):
		kind = internal.KindTimeout
	default:
		kind = internal.KindNetwork
	}

	return internal.NewFetchError(kind, "yt-dlp failed").WithCause(errors.New(detail))
}

// lastErrorLine returns the last "ERROR:" line yt-dlp printed
func lastErrorLine(stderr string) string {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if strings.HasPrefix(line, "ERROR:") {
			return strings.TrimSpace(strings.TrimPrefix(line, "ERROR:"))
		}
	}
	return ""
}
