package resolver

import (
	"encoding/json"
	"mime"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"vidfetch/internal"
	"vidfetch/utils"
)

// StructuredDataStrategy reads schema.org VideoObject entries from
// application/ld+json blocks.
type StructuredDataStrategy struct {
	*markupResolver
	validator *utils.URLValidator
}

// NewStructuredDataStrategy creates the structured data strategy
func NewStructuredDataStrategy(client *utils.HTTPClient, limiter internal.RateLimiter) *StructuredDataStrategy {
	return &StructuredDataStrategy{
		markupResolver: newMarkupResolver("ld", client, limiter, extractStructuredData),
		validator:      utils.NewURLValidator(),
	}
}

// Name implements internal.Strategy
func (s *StructuredDataStrategy) Name() string { return "structured-data" }

// Supports accepts every page URL
func (s *StructuredDataStrategy) Supports(rawURL string) bool {
	return !s.validator.IsDirectMedia(rawURL)
}

func extractStructuredData(page *pageMeta, base *url.URL) (*extraction, bool) {
	for _, raw := range page.LinkedData {
		var doc interface{}
		if err := json.Unmarshal(raw, &doc); err != nil {
			continue
		}
		video := findVideoObject(doc)
		if video == nil {
			continue
		}

		mediaURL := absolute(base, stringField(video["contentUrl"]))
		if mediaURL == "" {
			continue
		}

		ext := ""
		if format := stringField(video["encodingFormat"]); format != "" {
			if parsed, _, err := mime.ParseMediaType(format); err == nil {
				ext = contentTypeExt[parsed]
			} else {
				ext = strings.TrimPrefix(strings.ToLower(format), ".")
			}
		}
		ext = extensionFor(mediaURL, "", ext)

		title := stringField(video["name"])
		if title == "" {
			title = page.Title
		}

		return &extraction{
			MediaURL: mediaURL,
			Ext:      ext,
			Rendition: internal.Rendition{
				FormatID:   "ld",
				Ext:        ext,
				Width:      intField(video["width"]),
				Height:     intField(video["height"]),
				FormatNote: "structured data video",
				HasAudio:   true,
			},
			Info: internal.MediaInfo{
				Title:     title,
				Duration:  parseISODuration(stringField(video["duration"])),
				Thumbnail: absolute(base, stringField(video["thumbnailUrl"])),
				Uploader:  stringField(video["author"]),
			},
		}, true
	}
	return nil, false
}

// findVideoObject searches a JSON-LD document, including arrays and @graph
// containers, for the first VideoObject.
func findVideoObject(doc interface{}) map[string]interface{} {
	switch v := doc.(type) {
	case []interface{}:
		for _, item := range v {
			if found := findVideoObject(item); found != nil {
				return found
			}
		}
	case map[string]interface{}:
		if hasType(v["@type"], "VideoObject") {
			return v
		}
		for _, key := range []string{"@graph", "video", "mainEntity"} {
			if nested, ok := v[key]; ok {
				if found := findVideoObject(nested); found != nil {
					return found
				}
			}
		}
	}
	return nil
}

func hasType(value interface{}, want string) bool {
	switch t := value.(type) {
	case string:
		return t == want
	case []interface{}:
		for _, item := range t {
			if s, ok := item.(string); ok && s == want {
				return true
			}
		}
	}
	return false
}

// stringField reads a schema.org text value, which may be a plain string, a
// list, or an object carrying url or name.
func stringField(value interface{}) string {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case []interface{}:
		for _, item := range v {
			if s := stringField(item); s != "" {
				return s
			}
		}
	case map[string]interface{}:
		if s := stringField(v["url"]); s != "" {
			return s
		}
		return stringField(v["name"])
	}
	return ""
}

func intField(value interface{}) int {
	switch v := value.(type) {
	case float64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(strings.TrimSuffix(strings.TrimSpace(v), "px"))
		return n
	case map[string]interface{}:
		return intField(v["value"])
	}
	return 0
}

var isoDurationPattern = regexp.MustCompile(`^P(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+(?:\.\d+)?)S)?)?$`)

// parseISODuration converts an ISO 8601 duration such as PT1M30S to seconds
func parseISODuration(s string) float64 {
	m := isoDurationPattern.FindStringSubmatch(strings.ToUpper(strings.TrimSpace(s)))
	if m == nil {
		return 0
	}
	var seconds float64
	units := []float64{86400, 3600, 60, 1}
	for i, unit := range units {
		if m[i+1] == "" {
			continue
		}
		n, err := strconv.ParseFloat(m[i+1], 64)
		if err != nil {
			return 0
		}
		seconds += n * unit
	}
	return seconds
}
