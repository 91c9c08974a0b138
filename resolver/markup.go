package resolver

import (
	"context"
	"net/url"

	"vidfetch/internal"
	"vidfetch/utils"
)

// Staged progress for markup downloads: the page is resolved at 10% and the
// media transfer fills 10% to 90%.
const (
	stageResolved   = 10
	stageDownloaded = 90
)

// extraction is a video found in a page's metadata
type extraction struct {
	MediaURL  string
	Ext       string
	Rendition internal.Rendition
	Info      internal.MediaInfo
}

// extractFunc looks for a video in a parsed page. base is the final page URL.
type extractFunc func(page *pageMeta, base *url.URL) (*extraction, bool)

// markupResolver implements List and Fetch for strategies that read a video
// link out of page markup.
type markupResolver struct {
	name     string
	client   *utils.HTTPClient
	streamer *streamer
	extract  extractFunc
}

func newMarkupResolver(name string, client *utils.HTTPClient, limiter internal.RateLimiter, extract extractFunc) *markupResolver {
	return &markupResolver{
		name:     name,
		client:   client,
		streamer: newStreamer(client, limiter),
		extract:  extract,
	}
}

func (m *markupResolver) resolve(ctx context.Context, rawURL string) (*extraction, error) {
	body, final, err := m.client.GetPage(ctx, rawURL, nil)
	if err != nil {
		return nil, err
	}

	found, ok := m.extract(parsePage(body), final)
	if !ok {
		return nil, internal.NewFetchError(internal.KindUnsupportedRendition, "no "+m.name+" video found on page").
			WithURL(rawURL)
	}
	return found, nil
}

func (m *markupResolver) List(ctx context.Context, rawURL string) (*internal.MediaInfo, error) {
	found, err := m.resolve(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	info := found.Info
	info.Formats = []internal.Rendition{found.Rendition}
	return &info, nil
}

func (m *markupResolver) Fetch(ctx context.Context, req internal.FetchRequest, progress internal.ProgressFunc) (*internal.FetchResult, error) {
	switch req.Selector {
	case internal.SelectorBest, internal.SelectorVideo, internal.Selector(m.name):
	default:
		return nil, internal.NewFetchError(internal.KindUnsupportedRendition, "page offers a single combined rendition").
			WithContext("format", string(req.Selector))
	}

	found, err := m.resolve(ctx, req.URL)
	if err != nil {
		return nil, err
	}
	progress(stageResolved, 100)

	headers := map[string]string{"Referer": req.URL}
	path, err := m.streamer.download(ctx, found.MediaURL, req.Dir, req.BaseName, found.Ext, headers, stagedProgress(progress, stageResolved, stageDownloaded))
	if err != nil {
		return nil, err
	}
	progress(stageDownloaded, 100)

	return &internal.FetchResult{Path: path, Kind: internal.KindVideoAudio, Title: found.Info.Title}, nil
}

// stagedProgress maps byte progress into the from..to percent band. Unknown
// sizes pass through so the caller can show an indeterminate state.
func stagedProgress(progress internal.ProgressFunc, from, to int64) internal.ProgressFunc {
	return func(done, total int64) {
		if total <= 0 {
			progress(done, 0)
			return
		}
		if done > total {
			done = total
		}
		progress(from+(to-from)*done/total, 100)
	}
}
