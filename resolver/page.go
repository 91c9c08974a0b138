package resolver

import (
	"bytes"
	"encoding/json"
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// pageMeta is what the markup strategies read from a document
type pageMeta struct {
	Title      string
	Meta       map[string]string
	LinkedData []json.RawMessage
}

// parsePage walks the document once and collects <meta property|name>
// values, the <title> text and every application/ld+json script body.
// The first value of a repeated meta key wins.
func parsePage(body []byte) *pageMeta {
	page := &pageMeta{Meta: make(map[string]string)}
	z := html.NewTokenizer(bytes.NewReader(body))

	var inTitle, inLinkedData bool
	var script bytes.Buffer

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return page

		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			switch tok.DataAtom {
			case atom.Meta:
				key := strings.ToLower(attr(tok, "property"))
				if key == "" {
					key = strings.ToLower(attr(tok, "name"))
				}
				if key == "" {
					continue
				}
				if _, seen := page.Meta[key]; !seen {
					page.Meta[key] = strings.TrimSpace(attr(tok, "content"))
				}
			case atom.Title:
				inTitle = tt == html.StartTagToken
			case atom.Script:
				if strings.EqualFold(strings.TrimSpace(attr(tok, "type")), "application/ld+json") && tt == html.StartTagToken {
					inLinkedData = true
					script.Reset()
				}
			}

		case html.TextToken:
			switch {
			case inTitle && page.Title == "":
				page.Title = strings.TrimSpace(string(z.Text()))
			case inLinkedData:
				script.Write(z.Text())
			}

		case html.EndTagToken:
			name, _ := z.TagName()
			switch atom.Lookup(name) {
			case atom.Title:
				inTitle = false
			case atom.Script:
				if inLinkedData {
					inLinkedData = false
					if raw := bytes.TrimSpace(script.Bytes()); json.Valid(raw) {
						page.LinkedData = append(page.LinkedData, json.RawMessage(append([]byte(nil), raw...)))
					}
				}
			}
		}
	}
}

func attr(tok html.Token, name string) string {
	for _, a := range tok.Attr {
		if strings.EqualFold(a.Key, name) {
			return a.Val
		}
	}
	return ""
}

// first returns the first non-empty meta value among keys
func (p *pageMeta) first(keys ...string) string {
	for _, key := range keys {
		if v := p.Meta[key]; v != "" {
			return v
		}
	}
	return ""
}

// absolute resolves ref against the page URL. Protocol-relative and relative
// links are common in og tags.
func absolute(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return u.String()
}
