package resolver

import (
	"context"
	"errors"
	"net/url"
	"path"
	"strings"

	"vidfetch/internal"
	"vidfetch/utils"
)

// directFormatID is the single rendition a direct media URL offers
const directFormatID = "direct"

// DirectStrategy handles URLs that point straight at a media file
type DirectStrategy struct {
	client    *utils.HTTPClient
	streamer  *streamer
	validator *utils.URLValidator
	segments  segmentPolicy
}

// NewDirectStrategy creates a strategy for direct media links
func NewDirectStrategy(client *utils.HTTPClient, limiter internal.RateLimiter) *DirectStrategy {
	return &DirectStrategy{
		client:    client,
		streamer:  newStreamer(client, limiter),
		validator: utils.NewURLValidator(),
		segments:  defaultSegmentPolicy(),
	}
}

// Name implements internal.Strategy
func (d *DirectStrategy) Name() string { return "direct" }

// Supports reports whether rawURL ends in a media file extension
func (d *DirectStrategy) Supports(rawURL string) bool {
	return d.validator.IsDirectMedia(rawURL)
}

// List probes the file with HEAD. Servers that refuse HEAD still get a
// listing with unknown size; a missing file is an error.
func (d *DirectStrategy) List(ctx context.Context, rawURL string) (*internal.MediaInfo, error) {
	info, err := d.validator.ParseURL(rawURL)
	if err != nil {
		return nil, err
	}

	rendition := internal.Rendition{
		FormatID:   directFormatID,
		Ext:        info.Ext,
		FormatNote: "original file",
		HasAudio:   true,
	}
	if audioExt(info.Ext) {
		rendition.VCodec = "none"
	}

	resp, err := d.client.Head(ctx, rawURL, nil)
	switch {
	case err == nil:
		if resp.ContentLength > 0 {
			rendition.Filesize = resp.ContentLength
		}
	case internal.IsNotFound(err) || ctx.Err() != nil:
		return nil, err
	default:
		internal.LogDebug("HEAD %s failed, listing without size: %v", rawURL, err)
	}

	return &internal.MediaInfo{
		Title:    titleFromPath(rawURL),
		Platform: info.Platform,
		Formats:  []internal.Rendition{rendition},
	}, nil
}

// Fetch streams the file. Only the file's own rendition is available:
// audio requires an audio file and video_only cannot be served.
func (d *DirectStrategy) Fetch(ctx context.Context, req internal.FetchRequest, progress internal.ProgressFunc) (*internal.FetchResult, error) {
	info, err := d.validator.ParseURL(req.URL)
	if err != nil {
		return nil, err
	}

	kind := internal.KindVideoAudio
	if audioExt(info.Ext) {
		kind = internal.KindAudioOnly
	}

	switch {
	case req.Selector == internal.SelectorVideoOnly,
		req.Selector == internal.SelectorAudio && kind != internal.KindAudioOnly,
		!req.Selector.IsPreset() && string(req.Selector) != directFormatID:
		return nil, internal.NewFetchError(internal.KindUnsupportedRendition, "rendition not offered by a direct file").
			WithContext("format", string(req.Selector))
	}

	path, err := d.download(ctx, req, info.Ext, progress)
	if err != nil {
		return nil, err
	}
	return &internal.FetchResult{Path: path, Kind: kind, Title: titleFromPath(req.URL)}, nil
}

// download splits large files into parallel ranges when the server
// advertises byte ranges, and streams everything else in one request.
func (d *DirectStrategy) download(ctx context.Context, req internal.FetchRequest, ext string, progress internal.ProgressFunc) (string, error) {
	resp, err := d.client.Head(ctx, req.URL, nil)
	if err == nil && resp.Header.Get("Accept-Ranges") == "bytes" &&
		!strings.HasPrefix(strings.ToLower(resp.Header.Get("Content-Type")), "text/html") {
		if segments := d.segments.plan(resp.ContentLength); len(segments) > 1 {
			ext = extensionFor(req.URL, resp.Header.Get("Content-Type"), ext)
			path, err := d.streamer.downloadSegmented(ctx, req.URL, req.Dir, req.BaseName, ext, resp.ContentLength, segments, nil, progress)
			if !errors.Is(err, errRangesIgnored) {
				return path, err
			}
			internal.LogDebug("Range requests refused for %s, streaming instead", req.URL)
		}
	}
	if ctx.Err() != nil {
		return "", classifyContext(ctx, ctx.Err())
	}
	return d.streamer.download(ctx, req.URL, req.Dir, req.BaseName, ext, nil, progress)
}

// titleFromPath turns the last path segment into a readable title
func titleFromPath(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	name := path.Base(u.Path)
	if unescaped, err := url.PathUnescape(name); err == nil {
		name = unescaped
	}
	name = strings.TrimSuffix(name, path.Ext(name))
	name = strings.NewReplacer("_", " ", "-", " ", "+", " ").Replace(name)
	name = strings.TrimSpace(name)
	if name == "." || name == "/" {
		return ""
	}
	return name
}
