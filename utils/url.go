package utils

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"

	"vidfetch/internal"
)

// URLInfo contains parsed information from a media page URL
type URLInfo struct {
	OriginalURL string
	Host        string
	Platform    string
	MediaID     string
	Ext         string
}

type platformPattern struct {
	name    string
	pattern *regexp.Regexp
}

// URLValidator handles URL validation and platform detection
type URLValidator struct {
	platforms       []platformPattern
	mediaExtensions map[string]bool
}

// NewURLValidator creates a new URL validator with predefined patterns
func NewURLValidator() *URLValidator {
	platforms := []platformPattern{
		{"instagram", regexp.MustCompile(`^https?://(?:www\.)?instagram\.com/(?:[^/]+/)?(?:p|reel|reels|tv)/([A-Za-z0-9_-]+)`)},
		{"youtube", regexp.MustCompile(`^https?://(?:www\.|m\.|music\.)?youtube\.com/(?:watch\?(?:.*&)?v=|shorts/|embed/|live/)([A-Za-z0-9_-]{6,})`)},
		{"youtube", regexp.MustCompile(`^https?://youtu\.be/([A-Za-z0-9_-]{6,})`)},
		{"tiktok", regexp.MustCompile(`^https?://(?:www\.|m\.)?tiktok\.com/@[^/]+/video/(\d+)`)},
		{"twitter", regexp.MustCompile(`^https?://(?:www\.|mobile\.)?(?:twitter|x)\.com/[^/]+/status/(\d+)`)},
		{"vimeo", regexp.MustCompile(`^https?://(?:www\.)?vimeo\.com/(\d+)`)},
		{"facebook", regexp.MustCompile(`^https?://(?:www\.|m\.)?facebook\.com/(?:watch/?\?v=|[^/]+/videos/|reel/)(\d+)`)},
	}

	exts := map[string]bool{}
	for _, ext := range []string{"mp4", "webm", "mkv", "mov", "avi", "flv", "3gp", "m4v", "m4a", "mp3", "ogg", "opus", "wav"} {
		exts[ext] = true
	}

	return &URLValidator{platforms: platforms, mediaExtensions: exts}
}

// ValidateURL checks that rawURL is an absolute http(s) URL with a host
func (v *URLValidator) ValidateURL(rawURL string) error {
	if strings.TrimSpace(rawURL) == "" {
		return internal.NewInvalidInputError("url", "URL is required")
	}

	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return internal.NewInvalidInputError("url", fmt.Sprintf("invalid URL format: %v", err))
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return internal.NewInvalidInputError("url", "URL must use http or https protocol").
			WithContext("scheme", parsedURL.Scheme)
	}

	if parsedURL.Hostname() == "" {
		return internal.NewInvalidInputError("url", "URL has no host")
	}

	return nil
}

// ParseURL validates rawURL and extracts platform and media id when known
func (v *URLValidator) ParseURL(rawURL string) (*URLInfo, error) {
	if err := v.ValidateURL(rawURL); err != nil {
		return nil, err
	}

	parsedURL, _ := url.Parse(rawURL)
	info := &URLInfo{
		OriginalURL: rawURL,
		Host:        strings.ToLower(parsedURL.Hostname()),
		Platform:    "generic",
		Ext:         strings.TrimPrefix(strings.ToLower(path.Ext(parsedURL.Path)), "."),
	}

	for _, p := range v.platforms {
		if matches := p.pattern.FindStringSubmatch(rawURL); len(matches) > 1 {
			info.Platform = p.name
			info.MediaID = matches[1]
			return info, nil
		}
	}

	if v.mediaExtensions[info.Ext] {
		info.Platform = "direct"
	}
	return info, nil
}

// DetectPlatform returns the platform name for rawURL, "generic" if unknown
func (v *URLValidator) DetectPlatform(rawURL string) string {
	info, err := v.ParseURL(rawURL)
	if err != nil {
		return ""
	}
	return info.Platform
}

// IsDirectMedia reports whether rawURL points straight at a media file
func (v *URLValidator) IsDirectMedia(rawURL string) bool {
	info, err := v.ParseURL(rawURL)
	return err == nil && info.Platform == "direct"
}

// IsMediaExtension reports whether ext (without dot) is a known media container
func (v *URLValidator) IsMediaExtension(ext string) bool {
	return v.mediaExtensions[strings.ToLower(strings.TrimPrefix(ext, "."))]
}

// String returns a string representation of the URLInfo
func (urlInfo *URLInfo) String() string {
	return fmt.Sprintf("URLInfo{Host: %s, Platform: %s, MediaID: %s}",
		urlInfo.Host, urlInfo.Platform, urlInfo.MediaID)
}
