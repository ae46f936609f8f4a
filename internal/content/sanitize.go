// Package content holds the pure HTML transformations of the pipeline: the
// sanitizer that strips non-content markup after extraction, and the
// cross-reference rewriter that points links and images at local targets.
package content

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// junkSelectors remove whole elements: executable content, embeds, and the
// ad/subscribe containers common across the supported platforms.
const junkSelectors = "script, style, iframe, noscript, form, " +
	".subscribe-form, .subscription-widget, .subscribe-widget, " +
	".advertisement, .ad-container, .sidebar-ad, " +
	".share-buttons, .social-share, .related-posts, .comments, .comments-section"

// strippedAttrs are removed from every surviving element: event handlers
// and presentation that would break or phone home offline.
var strippedAttrs = []string{"onclick", "onload", "onerror", "style", "class", "id"}

// Sanitize strips non-content markup from an extracted article fragment.
// Surviving text, image tags, and hyperlink structure are not altered.
// The transformation is idempotent.
func Sanitize(fragment string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return "", fmt.Errorf("parsing article content: %w", err)
	}

	doc.Find(junkSelectors).Remove()

	// Tracking pixels: 1x1 images or sources with telltale names.
	doc.Find("img").Each(func(_ int, img *goquery.Selection) {
		w, _ := img.Attr("width")
		h, _ := img.Attr("height")
		if w == "1" || h == "1" {
			img.Remove()
			return
		}
		src, _ := img.Attr("src")
		lower := strings.ToLower(src)
		if strings.Contains(lower, "tracking") || strings.Contains(lower, "pixel") {
			img.Remove()
		}
	})

	doc.Find("*").Each(func(_ int, s *goquery.Selection) {
		for _, attr := range strippedAttrs {
			s.RemoveAttr(attr)
		}
	})

	body := doc.Find("body")
	if body.Length() == 0 {
		return doc.Html()
	}
	return body.Html()
}

// ImageURLs lists the absolute image URLs a sanitized fragment still
// references, in document order without duplicates. src, lazy-load
// attributes, and srcset entries all count. The fetch stage collects from
// here rather than from raw extraction output, so images the sanitizer
// removed are never downloaded or indexed.
func ImageURLs(fragment, pageURL string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return nil, fmt.Errorf("parsing article content: %w", err)
	}
	base, _ := url.Parse(pageURL)

	var urls []string
	seen := make(map[string]bool)
	add := func(raw string) {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "data:") || strings.HasPrefix(raw, "blob:") {
			return
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

	doc.Find("img").Each(func(_ int, img *goquery.Selection) {
		for _, attr := range []string{"src", "data-src", "data-lazy-src"} {
			if v, ok := img.Attr(attr); ok {
				add(v)
			}
		}
		if srcset, ok := img.Attr("srcset"); ok {
			for _, entry := range strings.Split(srcset, ",") {
				if fields := strings.Fields(entry); len(fields) > 0 {
					add(fields[0])
				}
			}
		}
	})

	return urls, nil
}
