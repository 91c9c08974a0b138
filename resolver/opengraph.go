package resolver

import (
	"mime"
	"net/url"
	"strconv"
	"strings"

	"vidfetch/internal"
	"vidfetch/utils"
)

// OpenGraphStrategy reads og:video tags, which most social platforms emit
// for link previews.
type OpenGraphStrategy struct {
	*markupResolver
	validator *utils.URLValidator
}

// NewOpenGraphStrategy creates the Open Graph strategy
func NewOpenGraphStrategy(client *utils.HTTPClient, limiter internal.RateLimiter) *OpenGraphStrategy {
	return &OpenGraphStrategy{
		markupResolver: newMarkupResolver("og", client, limiter, extractOpenGraph),
		validator:      utils.NewURLValidator(),
	}
}

// Name implements internal.Strategy
func (o *OpenGraphStrategy) Name() string { return "opengraph" }

// Supports accepts every page URL
func (o *OpenGraphStrategy) Supports(rawURL string) bool {
	return !o.validator.IsDirectMedia(rawURL)
}

func extractOpenGraph(page *pageMeta, base *url.URL) (*extraction, bool) {
	mediaType := page.first("og:video:type")
	if mediaType != "" && !strings.HasPrefix(strings.ToLower(mediaType), "video/") {
		// An embedded HTML player, not a file
		return nil, false
	}

	mediaURL := absolute(base, page.first("og:video:secure_url", "og:video:url", "og:video", "twitter:player:stream"))
	if mediaURL == "" {
		return nil, false
	}

	ext := ""
	if mediaType != "" {
		if parsed, _, err := mime.ParseMediaType(mediaType); err == nil {
			ext = contentTypeExt[parsed]
		}
	}
	ext = extensionFor(mediaURL, "", ext)

	width, _ := strconv.Atoi(page.first("og:video:width"))
	height, _ := strconv.Atoi(page.first("og:video:height"))
	duration, _ := strconv.ParseFloat(page.first("og:video:duration", "video:duration"), 64)

	title := page.first("og:title", "twitter:title")
	if title == "" {
		title = page.Title
	}

	return &extraction{
		MediaURL: mediaURL,
		Ext:      ext,
		Rendition: internal.Rendition{
			FormatID:   "og",
			Ext:        ext,
			Width:      width,
			Height:     height,
			FormatNote: "page preview video",
			HasAudio:   true,
		},
		Info: internal.MediaInfo{
			Title:     title,
			Duration:  duration,
			Thumbnail: absolute(base, page.first("og:image:secure_url", "og:image", "twitter:image")),
			Uploader:  page.first("og:site_name"),
		},
	}, true
}
