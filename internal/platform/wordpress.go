package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	"github.com/timf34/blogpack/internal/archive"
)

// WordPress supports self-hosted and wordpress.com blogs. Discovery prefers
// the REST API (complete and paginated), then the sitemap variants common
// across WordPress SEO plugins, then the RSS feed.
type WordPress struct{}

// wpSkipKeywords mark listing URLs that are not posts.
var wpSkipKeywords = []string{
	"wp-admin", "wp-login", "wp-content", "attachment", "/page/", "/author/", "/category/", "/tag/",
}

var wpContentSelectors = []string{
	"article .entry-content",
	"div.entry-content",
	"div.post-content",
	"article .post-body",
	"div.single-content",
	".content-area article",
	"article",
}

func (w *WordPress) Name() string { return "wordpress" }

func (w *WordPress) Detect(html string) bool {
	return containsAny(html, []string{
		"/wp-content/",
		"/wp-includes/",
		"wp-json",
		`generator" content="wordpress`,
		"wp-block-",
		"wp-embed",
	})
}

func (w *WordPress) Discover(ctx context.Context, client *http.Client, baseURL string) ([]archive.PostRef, error) {
	if refs, err := w.discoverFromRESTAPI(ctx, client, baseURL); err == nil && len(refs) > 0 {
		return refs, nil
	}

	if refs := w.discoverFromSitemaps(ctx, client, baseURL); len(refs) > 0 {
		return filterRefs(refs, isWordPressPost), nil
	}

	refs, err := w.discoverFromFeed(ctx, client, baseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoListing, err)
	}
	return filterRefs(refs, isWordPressPost), nil
}

// wpAPIPost is the subset of the REST API post object we request via _fields.
type wpAPIPost struct {
	Link     string `json:"link"`
	Slug     string `json:"slug"`
	Modified string `json:"modified"`
}

// discoverFromRESTAPI pages through /wp-json/wp/v2/posts. The X-WP-TotalPages
// header announces how many pages exist; a 400 past the end also stops.
func (w *WordPress) discoverFromRESTAPI(ctx context.Context, client *http.Client, baseURL string) ([]archive.PostRef, error) {
	var refs []archive.PostRef

	for page := 1; ; page++ {
		apiURL := resolveURL(baseURL, fmt.Sprintf(
			"/wp-json/wp/v2/posts?per_page=100&page=%d&_fields=link,slug,modified", page))

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
		if err != nil {
			return nil, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return refs, err
		}

		if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusNotFound {
			resp.Body.Close()
			break
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return refs, fmt.Errorf("wordpress API: HTTP %d", resp.StatusCode)
		}

		var posts []wpAPIPost
		err = json.NewDecoder(resp.Body).Decode(&posts)
		totalPages, _ := strconv.Atoi(resp.Header.Get("X-WP-TotalPages"))
		resp.Body.Close()
		if err != nil {
			return refs, fmt.Errorf("decoding wordpress API response: %w", err)
		}
		if len(posts) == 0 {
			break
		}

		for _, p := range posts {
			if p.Link == "" {
				continue
			}
			slug := p.Slug
			if slug == "" {
				slug = wordpressSlug(p.Link)
			}
			refs = append(refs, archive.PostRef{
				URL:          p.Link,
				Slug:         slug,
				LastModified: parseISOTime(p.Modified),
			})
		}

		if totalPages > 0 && page >= totalPages {
			break
		}
	}

	return refs, nil
}

func (w *WordPress) discoverFromSitemaps(ctx context.Context, client *http.Client, baseURL string) []archive.PostRef {
	for _, path := range []string{"/sitemap.xml", "/sitemap_index.xml", "/post-sitemap.xml"} {
		data, err := fetchBytes(ctx, client, resolveURL(baseURL, path))
		if err != nil {
			continue
		}

		// Sitemap index: follow only the post sitemaps.
		if children := parseSitemapIndex(data); len(children) > 0 {
			var refs []archive.PostRef
			for _, child := range children {
				if !strings.Contains(strings.ToLower(child), "post") {
					continue
				}
				childData, err := fetchBytes(ctx, client, child)
				if err != nil {
					continue
				}
				if entries, err := parseSitemap(childData); err == nil {
					refs = append(refs, sitemapRefs(entries, wordpressSlug)...)
				}
			}
			if len(refs) > 0 {
				return refs
			}
		}

		if entries, err := parseSitemap(data); err == nil && len(entries) > 0 {
			return sitemapRefs(entries, wordpressSlug)
		}
	}
	return nil
}

func (w *WordPress) discoverFromFeed(ctx context.Context, client *http.Client, baseURL string) ([]archive.PostRef, error) {
	var lastErr error
	for _, path := range []string{"/feed/", "/feed", "/rss"} {
		data, err := fetchBytes(ctx, client, resolveURL(baseURL, path))
		if err != nil {
			lastErr = err
			continue
		}

		feed, err := gofeed.NewParser().ParseString(string(data))
		if err != nil {
			lastErr = fmt.Errorf("parsing feed: %w", err)
			continue
		}

		var refs []archive.PostRef
		for _, item := range feed.Items {
			if item.Link == "" {
				continue
			}
			ref := archive.PostRef{URL: item.Link, Slug: wordpressSlug(item.Link)}
			if item.PublishedParsed != nil {
				t := *item.PublishedParsed
				ref.LastModified = &t
			}
			refs = append(refs, ref)
		}
		if len(refs) > 0 {
			return refs, nil
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no feed found")
	}
	return nil, lastErr
}

// wordpressSlug takes the last path segment: WordPress permalinks are often
// /year/month/day/slug or /year/month/slug.html.
func wordpressSlug(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return archive.SlugFromURL(rawURL)
	}
	path := strings.Trim(u.Path, "/")
	if path == "" {
		return "index"
	}
	parts := strings.Split(path, "/")
	return archive.SlugFromPath(parts[len(parts)-1])
}

func isWordPressPost(ref archive.PostRef) bool {
	lower := strings.ToLower(ref.URL)
	for _, kw := range wpSkipKeywords {
		if strings.Contains(lower, kw) {
			return false
		}
	}
	u, err := url.Parse(ref.URL)
	if err != nil {
		return false
	}
	return u.Path != "" && u.Path != "/"
}

func (w *WordPress) Extract(html string, pageURL string) (*archive.Article, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parsing post page: %w", err)
	}

	if wordpressPaywalled(doc) {
		return nil, fmt.Errorf("members-only post: %w", ErrNoContent)
	}

	meta := extractJSONLD(doc)

	title := meta.Title
	if title == "" {
		title = firstText(doc, "h1.entry-title", "h1.post-title", "article h1", ".post-title", "h1")
	}
	if title == "" {
		title = pageTitle(doc)
	}

	author := meta.Author
	if author == "" {
		author = metaContent(doc, "author")
	}
	if author == "" {
		author = firstText(doc,
			".author-name", ".entry-author-name", ".post-author-name",
			`a[rel="author"]`, ".byline a", ".author a")
	}
	if author == "" {
		author = "Unknown"
	}

	published := meta.PublishedAt
	if published == nil {
		published = publishedTime(doc)
	}

	var contentSel *goquery.Selection
	for _, sel := range wpContentSelectors {
		if s := doc.Find(sel).First(); s.Length() > 0 {
			contentSel = s
			break
		}
	}

	var content string
	var imageURLs []string
	if contentSel != nil {
		contentSel.Find("script, style, nav, header, footer, " +
			".sidebar, .widget, .ad, .advertisement, " +
			".share-buttons, .social-share, .related-posts, " +
			".comments, .comment-form, .author-bio, " +
			".post-navigation, .pagination, .breadcrumbs, form").Remove()
		content = innerHTML(contentSel)
		imageURLs = collectImageURLs(contentSel, pageURL)
	} else {
		content, err = readableContent(html, pageURL)
		if err != nil {
			return nil, fmt.Errorf("wordpress extraction: %w", ErrNoContent)
		}
		imageURLs = collectImageURLs(doc.Selection, pageURL)
	}

	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("wordpress extraction: %w", ErrNoContent)
	}

	return &archive.Article{
		URL:         pageURL,
		Slug:        wordpressSlug(pageURL),
		Title:       title,
		Author:      author,
		PublishedAt: published,
		Content:     content,
		ImageURLs:   imageURLs,
	}, nil
}

// wordpressPaywalled checks for the class names membership plugins put on
// gated content.
func wordpressPaywalled(doc *goquery.Document) bool {
	for _, cls := range []string{
		"members-only", "protected-content", "paywall",
		"subscriber-only", "premium-content", "restricted-content",
	} {
		if doc.Find("."+cls).Length() > 0 {
			return true
		}
	}
	return false
}
