package platform

import (
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
)

// firstText returns the trimmed text of the first element matching any of
// the selectors, tried in order.
func firstText(doc *goquery.Document, selectors ...string) string {
	for _, sel := range selectors {
		if s := doc.Find(sel).First(); s.Length() > 0 {
			if text := strings.TrimSpace(s.Text()); text != "" {
				return text
			}
		}
	}
	return ""
}

// metaContent returns the content attribute of <meta name=...> or
// <meta property=...>, whichever matches first.
func metaContent(doc *goquery.Document, key string) string {
	sel := `meta[name="` + key + `"], meta[property="` + key + `"]`
	if v, ok := doc.Find(sel).First().Attr("content"); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// pageTitle falls back to og:title and then the <title> tag, stripping a
// trailing site name after common separators.
func pageTitle(doc *goquery.Document) string {
	if t := metaContent(doc, "og:title"); t != "" {
		return t
	}
	title := strings.TrimSpace(doc.Find("title").First().Text())
	for _, sep := range []string{" | ", " - ", " :: "} {
		if i := strings.Index(title, sep); i > 0 {
			title = title[:i]
			break
		}
	}
	if title == "" {
		return "Untitled"
	}
	return title
}

// timeElement returns the first parsable <time datetime=...> value, then
// the article:published_time meta tag.
func publishedTime(doc *goquery.Document) *time.Time {
	if v, ok := doc.Find("time[datetime]").First().Attr("datetime"); ok {
		if t := parseISOTime(v); t != nil {
			return t
		}
	}
	if v := metaContent(doc, "article:published_time"); v != "" {
		return parseISOTime(v)
	}
	return nil
}

func parseISOTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

// jsonLDMeta is article metadata pulled from a JSON-LD script tag. JSON-LD
// is the most reliable source on Substack and WordPress.
type jsonLDMeta struct {
	Title       string
	Author      string
	PublishedAt *time.Time
}

func extractJSONLD(doc *goquery.Document) jsonLDMeta {
	var meta jsonLDMeta

	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		raw := s.Text()
		if raw == "" {
			return true
		}

		var payload any
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			return true
		}

		// A script tag may carry a single object or an array of them.
		objects, ok := payload.([]any)
		if !ok {
			objects = []any{payload}
		}

		for _, item := range objects {
			obj, ok := item.(map[string]any)
			if !ok {
				continue
			}
			switch obj["@type"] {
			case "Article", "NewsArticle", "BlogPosting", "WebPage":
			default:
				continue
			}

			if meta.Title == "" {
				meta.Title = stringField(obj, "headline", "name")
			}
			if meta.Author == "" {
				meta.Author = authorField(obj["author"])
			}
			if meta.PublishedAt == nil {
				if v := stringField(obj, "datePublished", "dateCreated"); v != "" {
					meta.PublishedAt = parseISOTime(v)
				}
			}
		}

		done := meta.Title != "" && meta.Author != "" && meta.PublishedAt != nil
		return !done
	})

	return meta
}

func stringField(obj map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := obj[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// authorField handles the three shapes JSON-LD authors come in: an object,
// an array of objects, or a bare string.
func authorField(v any) string {
	switch a := v.(type) {
	case map[string]any:
		return stringField(a, "name")
	case []any:
		if len(a) > 0 {
			return authorField(a[0])
		}
	case string:
		return a
	}
	return ""
}

// collectImageURLs gathers absolute image URLs referenced inside sel,
// checking src, lazy-load attributes, and srcset. Data URLs, blobs, and
// obvious tracking pixels are skipped.
func collectImageURLs(sel *goquery.Selection, pageURL string) []string {
	base, _ := url.Parse(pageURL)

	var urls []string
	seen := make(map[string]bool)
	add := func(raw string) {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "data:") || strings.HasPrefix(raw, "blob:") {
			return
		}
		lower := strings.ToLower(raw)
		for _, junk := range []string{"tracking", "pixel", "1x1", "spacer"} {
			if strings.Contains(lower, junk) {
				return
			}
		}
		if base != nil {
			if ref, err := url.Parse(raw); err == nil {
				raw = base.ResolveReference(ref).String()
			}
		}
		if !seen[raw] {
			seen[raw] = true
			urls = append(urls, raw)
		}
	}

	sel.Find("img").Each(func(_ int, img *goquery.Selection) {
		for _, attr := range []string{"src", "data-src", "data-lazy-src"} {
			if v, ok := img.Attr(attr); ok && v != "" {
				add(v)
				break
			}
		}
		if srcset, ok := img.Attr("srcset"); ok {
			for _, part := range strings.Split(srcset, ",") {
				fields := strings.Fields(strings.TrimSpace(part))
				if len(fields) > 0 {
					add(fields[0])
				}
			}
		}
	})

	return urls
}

// readableContent is the extraction fallback: when none of a platform's
// content selectors match, run go-readability over the whole page and use
// its article body.
func readableContent(html, pageURL string) (string, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		u = nil
	}
	article, err := readability.FromReader(strings.NewReader(html), u)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(article.Content) == "" {
		return "", ErrNoContent
	}
	return article.Content, nil
}

// innerHTML returns the inner HTML of the selection, or "" on error.
func innerHTML(s *goquery.Selection) string {
	html, err := s.Html()
	if err != nil {
		return ""
	}
	return html
}
