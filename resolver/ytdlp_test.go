package resolver

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"testing"

	"vidfetch/internal"
)

const ytdlpDump = `{
  "title": "Test Video",
  "duration": 212.5,
  "thumbnail": "https://i.example.com/t.jpg",
  "uploader": "Someone",
  "extractor_key": "Instagram",
  "formats": [
    {"format_id": "140", "ext": "m4a", "vcodec": "none", "acodec": "mp4a.40.2", "filesize": 3400000},
    {"format_id": "137", "ext": "mp4", "vcodec": "avc1.640028", "acodec": "none", "height": 1080, "width": 1920, "filesize": 52000000},
    {"format_id": "18", "ext": "mp4", "vcodec": "avc1.42001E", "acodec": "mp4a.40.2", "height": 360, "width": 640, "filesize_approx": 9000000.5, "format_note": "360p"},
    {"format_id": "hls-1", "ext": "m3u8", "vcodec": "avc1", "acodec": "mp4a"},
    {"format_id": "248", "ext": "webm", "vcodec": "vp9", "acodec": "none", "height": null}
  ]
}`

func TestParseListing(t *testing.T) {
	info, err := parseListing([]byte(ytdlpDump))
	if err != nil {
		t.Fatalf("parseListing() error = %v", err)
	}

	if info.Title != "Test Video" || info.Duration != 212.5 || info.Uploader != "Someone" {
		t.Errorf("info = %+v", info)
	}
	if info.Platform != "instagram" {
		t.Errorf("Platform = %q", info.Platform)
	}

	want := []struct {
		id       string
		hasAudio bool
	}{
		{"137", false},
		{"18", true},
		{"248", false},
	}
	if len(info.Formats) != len(want) {
		t.Fatalf("got %d formats, want %d: %+v", len(info.Formats), len(want), info.Formats)
	}
	for i, w := range want {
		f := info.Formats[i]
		if f.FormatID != w.id || f.HasAudio != w.hasAudio {
			t.Errorf("format %d = %+v, want id %s has_audio %v", i, f, w.id, w.hasAudio)
		}
	}
	if info.Formats[1].Filesize != 9000000 {
		t.Errorf("approximate size not used: %d", info.Formats[1].Filesize)
	}
}

func TestParseListing_Fallback(t *testing.T) {
	dump := `{"title":"Only HLS","formats":[
		{"format_id":"a","ext":"m4a","vcodec":"none","acodec":"aac"},
		{"format_id":"hls","ext":"m3u8","vcodec":"avc1","acodec":"aac"}]}`

	info, err := parseListing([]byte(dump))
	if err != nil {
		t.Fatalf("parseListing() error = %v", err)
	}
	if len(info.Formats) != 1 || info.Formats[0].FormatID != "hls" {
		t.Errorf("Formats = %+v, want first video format as fallback", info.Formats)
	}
}

func TestParseListing_SingleFormat(t *testing.T) {
	dump := `{"title":"Single","extractor_key":"Generic","format_id":"0","ext":"mp4","vcodec":"h264","acodec":"aac"}`

	info, err := parseListing([]byte(dump))
	if err != nil {
		t.Fatalf("parseListing() error = %v", err)
	}
	if len(info.Formats) != 1 || info.Formats[0].FormatID != "0" {
		t.Errorf("Formats = %+v", info.Formats)
	}
	if info.Platform != "" {
		t.Errorf("generic extractor should leave platform empty, got %q", info.Platform)
	}
}

func TestParseListing_Invalid(t *testing.T) {
	if _, err := parseListing([]byte("not json")); err == nil {
		t.Error("invalid JSON should fail")
	}
}

func TestFormatSpec(t *testing.T) {
	tests := []struct {
		sel  internal.Selector
		want string
	}{
		{internal.SelectorBest, "best[ext=mp4]/best"},
		{internal.SelectorVideo, "best[ext=mp4]/best"},
		{internal.SelectorAudio, "bestaudio[ext=m4a]/bestaudio"},
		{internal.SelectorVideoOnly, "bestvideo[ext=mp4]/bestvideo"},
		{"137", "137"},
	}
	for _, tt := range tests {
		if got := formatSpec(tt.sel); got != tt.want {
			t.Errorf("formatSpec(%s) = %q, want %q", tt.sel, got, tt.want)
		}
	}
}

func TestClassifyYtDlpError(t *testing.T) {
	runErr := errors.New("exit status 1")
	tests := []struct {
		name   string
		stderr string
		want   internal.FetchKind
	}{
		{"format", "ERROR: [youtube] x: Requested format is not available", internal.KindUnsupportedRendition},
		{"unsupported", "ERROR: Unsupported URL: https://example.com", internal.KindUnsupportedRendition},
		{"private", "ERROR: [youtube] x: Private video. Sign in if you've been granted access", internal.KindAuth},
		{"forbidden", "ERROR: unable to download video data: HTTP Error 403: Forbidden", internal.KindAuth},
		{"missing", "ERROR: unable to download webpage: HTTP Error 404: Not Found", internal.KindNotFound},
		{"timeout", "ERROR: Read timed out.", internal.KindTimeout},
		{"other", "ERROR: something odd", internal.KindNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyYtDlpError(context.Background(), runErr, "WARNING: noise\n"+tt.stderr)
			if got := internal.KindOf(err); got != tt.want {
				t.Errorf("kind = %v, want %v (err %v)", got, tt.want, err)
			}
		})
	}
}

func TestClassifyYtDlpError_ContextAndMissingBinary(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if got := internal.KindOf(classifyYtDlpError(ctx, errors.New("killed"), "")); got != internal.KindCancelled {
		t.Errorf("cancelled run kind = %v", got)
	}

	missing := fmt.Errorf("start: %w", exec.ErrNotFound)
	err := classifyYtDlpError(context.Background(), missing, "")
	me, ok := internal.AsMediaError(err)
	if !ok || me.Suggestion == "" {
		t.Errorf("missing binary error = %v, want a suggestion", err)
	}
}

func TestLastErrorLine(t *testing.T) {
	stderr := "WARNING: a\nERROR: first\nsome trace\nERROR: second problem\n"
	if got := lastErrorLine(stderr); got != "second problem" {
		t.Errorf("lastErrorLine() = %q", got)
	}
	if got := lastErrorLine("nothing here"); got != "" {
		t.Errorf("lastErrorLine() = %q, want empty", got)
	}
}

func TestIsPartialFile(t *testing.T) {
	for path, want := range map[string]bool{
		"/d/x.mp4":       false,
		"/d/x.mp4.part":  true,
		"/d/x.f137.ytdl": true,
		"/d/x.m4a":       false,
	} {
		if got := isPartialFile(path); got != want {
			t.Errorf("isPartialFile(%q) = %v, want %v", path, got, want)
		}
	}
}
