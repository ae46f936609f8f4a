package platform

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	"github.com/timf34/blogpack/internal/archive"
)

// Substack supports Substack newsletters. Discovery reads sitemap.xml
// (following a sitemap index down to the posts sitemaps) and falls back to
// the RSS feed, which only carries the most recent posts. Paywalled posts
// are detected at extraction time and skipped.
type Substack struct{}

// substackSkipKeywords mark listing URLs that are not posts.
var substackSkipKeywords = []string{"about", "archive", "podcast", "subscribe", "recommendations"}

func (s *Substack) Name() string { return "substack" }

func (s *Substack) Detect(html string) bool {
	return containsAny(html, []string{
		"substack.com",
		"substackcdn.com",
		`content="substack"`,
		"substack-post",
	})
}

func (s *Substack) Discover(ctx context.Context, client *http.Client, baseURL string) ([]archive.PostRef, error) {
	refs, err := s.discoverFromSitemap(ctx, client, baseURL)
	if err != nil || len(refs) == 0 {
		refs, err = s.discoverFromFeed(ctx, client, baseURL)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoListing, err)
		}
	}
	return filterRefs(refs, isSubstackPost), nil
}

func (s *Substack) discoverFromSitemap(ctx context.Context, client *http.Client, baseURL string) ([]archive.PostRef, error) {
	data, err := fetchBytes(ctx, client, resolveURL(baseURL, "/sitemap.xml"))
	if err != nil {
		return nil, err
	}

	// A sitemap index points at child sitemaps; only the posts ones matter.
	if children := parseSitemapIndex(data); len(children) > 0 {
		var refs []archive.PostRef
		for _, child := range children {
			if !strings.Contains(strings.ToLower(child), "posts") {
				continue
			}
			childData, err := fetchBytes(ctx, client, child)
			if err != nil {
				continue
			}
			entries, err := parseSitemap(childData)
			if err != nil {
				continue
			}
			refs = append(refs, sitemapRefs(entries, substackSlug)...)
		}
		return refs, nil
	}

	entries, err := parseSitemap(data)
	if err != nil {
		return nil, err
	}
	return sitemapRefs(entries, substackSlug), nil
}

func (s *Substack) discoverFromFeed(ctx context.Context, client *http.Client, baseURL string) ([]archive.PostRef, error) {
	data, err := fetchBytes(ctx, client, resolveURL(baseURL, "/feed"))
	if err != nil {
		return nil, err
	}

	feed, err := gofeed.NewParser().ParseString(string(data))
	if err != nil {
		return nil, fmt.Errorf("parsing feed: %w", err)
	}

	var refs []archive.PostRef
	for _, item := range feed.Items {
		if item.Link == "" {
			continue
		}
		ref := archive.PostRef{URL: item.Link, Slug: substackSlug(item.Link)}
		if item.PublishedParsed != nil {
			t := *item.PublishedParsed
			ref.LastModified = &t
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// substackSlug strips the "p/" prefix Substack puts on post paths.
func substackSlug(rawURL string) string {
	slug := archive.SlugFromURL(rawURL)
	return strings.TrimPrefix(slug, "p-")
}

// isSubstackPost keeps only real post URLs: they carry /p/ in the path and
// none of the section keywords.
func isSubstackPost(ref archive.PostRef) bool {
	lower := strings.ToLower(ref.URL)
	if !strings.Contains(lower, "/p/") {
		return false
	}
	for _, kw := range substackSkipKeywords {
		if strings.Contains(lower, kw) {
			return false
		}
	}
	return true
}

func (s *Substack) Extract(html string, pageURL string) (*archive.Article, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parsing post page: %w", err)
	}

	if substackPaywalled(doc) {
		return nil, fmt.Errorf("paywalled post: %w", ErrNoContent)
	}

	meta := extractJSONLD(doc)

	title := meta.Title
	if title == "" {
		title = firstText(doc, "h1.post-title", "h2.post-title", "h1")
	}
	if title == "" {
		title = pageTitle(doc)
	}

	author := meta.Author
	if author == "" {
		author = metaContent(doc, "author")
	}
	if author == "" {
		author = "Unknown"
	}

	published := meta.PublishedAt
	if published == nil {
		published = publishedTime(doc)
	}

	contentSel := doc.Find("div.available-content").First()
	if contentSel.Length() == 0 {
		contentSel = doc.Find("div.body").First()
	}
	if contentSel.Length() == 0 {
		contentSel = doc.Find("article").First()
	}

	var content string
	var imageURLs []string
	if contentSel.Length() > 0 {
		contentSel.Find("script, style, .subscription-widget, .subscribe-widget, " +
			".post-ufi, .post-footer, .comments-section, .share-dialog").Remove()

		// Substack puts the subtitle outside the content body.
		if subtitle := firstText(doc, "h3.subtitle"); subtitle != "" {
			content = "<p><em>" + subtitle + "</em></p>\n"
		}
		content += innerHTML(contentSel)
		imageURLs = collectImageURLs(contentSel, pageURL)
	} else {
		content, err = readableContent(html, pageURL)
		if err != nil {
			return nil, fmt.Errorf("substack extraction: %w", ErrNoContent)
		}
		imageURLs = collectImageURLs(doc.Selection, pageURL)
	}

	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("substack extraction: %w", ErrNoContent)
	}

	return &archive.Article{
		URL:         pageURL,
		Slug:        substackSlug(pageURL),
		Title:       title,
		Author:      author,
		PublishedAt: published,
		Content:     content,
		ImageURLs:   imageURLs,
	}, nil
}

// substackPaywalled reports whether the post body is gated behind a
// subscription prompt.
func substackPaywalled(doc *goquery.Document) bool {
	if doc.Find("h2.paywall-title, div.paywall").Length() > 0 {
		return true
	}

	content := doc.Find("div.available-content").First()
	if content.Length() == 0 {
		return false
	}
	text := strings.ToLower(content.Text())
	for _, marker := range []string{
		"subscribe to continue",
		"this post is for paid subscribers",
		"upgrade to paid",
		"become a paid subscriber",
	} {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

// sitemapRefs converts sitemap entries into PostRefs using the given slug
// function.
func sitemapRefs(entries []sitemapURL, slugFn func(string) string) []archive.PostRef {
	refs := make([]archive.PostRef, 0, len(entries))
	for _, e := range entries {
		loc := strings.TrimSpace(e.Loc)
		if loc == "" {
			continue
		}
		refs = append(refs, archive.PostRef{
			URL:          loc,
			Slug:         slugFn(loc),
			LastModified: parseLastMod(e.LastMod),
		})
	}
	return refs
}

// filterRefs keeps the refs for which keep returns true, preserving order.
func filterRefs(refs []archive.PostRef, keep func(archive.PostRef) bool) []archive.PostRef {
	out := refs[:0:0]
	for _, ref := range refs {
		if keep(ref) {
			out = append(out, ref)
		}
	}
	return out
}
