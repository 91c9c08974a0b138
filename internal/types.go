package internal

import (
	"regexp"
	"strings"
	"time"
)

// Selector names the rendition a client asked for: one of the presets or an
// explicit format identifier returned by /api/info.
type Selector string

const (
	SelectorBest      Selector = "best"
	SelectorVideo     Selector = "video"
	SelectorAudio     Selector = "audio"
	SelectorVideoOnly Selector = "video_only"
)

var formatIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.+\-]{0,63}$`)

// ParseSelector validates a selector string. Empty input means best.
func ParseSelector(raw string) (Selector, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return SelectorBest, nil
	}
	switch s := Selector(raw); s {
	case SelectorBest, SelectorVideo, SelectorAudio, SelectorVideoOnly:
		return s, nil
	}
	if !formatIDPattern.MatchString(raw) {
		return "", NewInvalidInputError("format", "not a preset or format identifier").
			WithContext("value", raw).
			WithSuggestion("Use best, video, audio, video_only or a format_id from /api/info")
	}
	return Selector(raw), nil
}

// IsPreset reports whether s is one of the named presets
func (s Selector) IsPreset() bool {
	switch s {
	case SelectorBest, SelectorVideo, SelectorAudio, SelectorVideoOnly:
		return true
	}
	return false
}

// ArtifactKind tells whether a file carries video, audio or both
type ArtifactKind string

const (
	KindVideoAudio ArtifactKind = "video+audio"
	KindAudioOnly  ArtifactKind = "audio-only"
	KindVideoOnly  ArtifactKind = "video-only"
)

// KindForSelector returns the kind a preset selector is expected to produce
func KindForSelector(s Selector) ArtifactKind {
	switch s {
	case SelectorAudio:
		return KindAudioOnly
	case SelectorVideoOnly:
		return KindVideoOnly
	default:
		return KindVideoAudio
	}
}

// Rendition is one downloadable format of a media item
type Rendition struct {
	FormatID   string `json:"format_id"`
	Ext        string `json:"ext"`
	Filesize   int64  `json:"filesize,omitempty"`
	Height     int    `json:"height,omitempty"`
	Width      int    `json:"width,omitempty"`
	FormatNote string `json:"format_note,omitempty"`
	VCodec     string `json:"vcodec,omitempty"`
	ACodec     string `json:"acodec,omitempty"`
	HasAudio   bool   `json:"has_audio"`
}

// MediaInfo is the result of listing renditions for a URL
type MediaInfo struct {
	Title     string      `json:"title"`
	Duration  float64     `json:"duration,omitempty"`
	Thumbnail string      `json:"thumbnail,omitempty"`
	Uploader  string      `json:"uploader,omitempty"`
	Platform  string      `json:"platform,omitempty"`
	Formats   []Rendition `json:"formats"`
}

// State is the lifecycle phase of a download session
type State string

const (
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Terminal reports whether no further transitions are allowed
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// ProgressState is what pollers observe for a session
type ProgressState struct {
	Progress  int       `json:"progress"`
	Status    string    `json:"status"`
	State     State     `json:"state"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Session describes one download request
type Session struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Selector  Selector  `json:"format"`
	Title     string    `json:"title"`
	SafeTitle string    `json:"safe_title"`
	CreatedAt time.Time `json:"created_at"`
}

// Artifact is a completed file kept on disk until its retention expires
type Artifact struct {
	SessionID string       `json:"session_id"`
	Path      string       `json:"path"`
	Filename  string       `json:"filename"`
	Title     string       `json:"title"`
	Size      int64        `json:"size"`
	Kind      ArtifactKind `json:"kind"`
	CreatedAt time.Time    `json:"created_at"`
	ExpiresAt time.Time    `json:"expires_at"`
}

// FetchRequest tells a resolver what to download and where to put it.
// The resolver writes to Dir/BaseName.<ext>.
type FetchRequest struct {
	URL      string
	Selector Selector
	Dir      string
	BaseName string
}

// FetchResult reports the file a resolver produced
type FetchResult struct {
	Path  string
	Kind  ArtifactKind
	Title string
}

// ProgressFunc receives byte counts during a fetch. total is 0 when unknown.
type ProgressFunc func(done, total int64)
