package platform

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/timf34/blogpack/internal/archive"
)

// Ghost supports blogs running the Ghost publishing engine. Ghost exposes a
// dedicated posts sitemap at /sitemap-posts.xml, which makes discovery a
// single fetch.
type Ghost struct{}

var ghostContentSelectors = []string{
	"div.single-content",
	"div.gh-content",
	"section.post-full-content .post-content",
	"section.post-full-content",
	"div.post-content",
	"article .post-content",
	"article .content",
}

func (g *Ghost) Name() string { return "ghost" }

func (g *Ghost) Detect(html string) bool {
	return containsAny(html, []string{
		"powered by ghost",
		`content="ghost"`,
		"ghost.org",
		`generator" content="ghost`,
	})
}

func (g *Ghost) Discover(ctx context.Context, client *http.Client, baseURL string) ([]archive.PostRef, error) {
	sitemapURL := resolveURL(baseURL, "/sitemap-posts.xml")

	data, err := fetchBytes(ctx, client, sitemapURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoListing, err)
	}

	entries, err := parseSitemap(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoListing, err)
	}

	refs := make([]archive.PostRef, 0, len(entries))
	for _, e := range entries {
		loc := strings.TrimSpace(e.Loc)
		if loc == "" {
			continue
		}
		refs = append(refs, archive.PostRef{
			URL:          loc,
			Slug:         archive.SlugFromURL(loc),
			LastModified: parseLastMod(e.LastMod),
		})
	}
	return refs, nil
}

func (g *Ghost) Extract(html string, pageURL string) (*archive.Article, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parsing post page: %w", err)
	}

	title := firstText(doc,
		"h1.post-full-title", "h1.article-title", "h1.post-title", "article h1", "h1")
	if title == "" {
		title = pageTitle(doc)
	}

	author := metaContent(doc, "author")
	if author == "" {
		if v := metaContent(doc, "twitter:creator"); v != "" {
			author = strings.TrimPrefix(v, "@")
		}
	}
	if author == "" {
		author = firstText(doc, `[rel="author"]`, ".byline-name", ".author-name", ".post-full-byline-content")
	}
	if author == "" {
		author = "Unknown"
	}

	var contentSel *goquery.Selection
	for _, sel := range ghostContentSelectors {
		if s := doc.Find(sel).First(); s.Length() > 0 {
			contentSel = s
			break
		}
	}

	var content string
	var imageURLs []string
	if contentSel != nil {
		contentSel.Find("script, style, nav, header, footer, .subscribe-form, " +
			".post-full-byline, .post-full-meta, .kg-signup-card, .related-posts, " +
			".comments, .share-buttons, .social-links, .post-full-header").Remove()
		content = innerHTML(contentSel)
		imageURLs = collectImageURLs(contentSel, pageURL)
	} else {
		content, err = readableContent(html, pageURL)
		if err != nil {
			return nil, fmt.Errorf("ghost extraction: %w", ErrNoContent)
		}
		imageURLs = collectImageURLs(doc.Selection, pageURL)
	}

	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("ghost extraction: %w", ErrNoContent)
	}

	return &archive.Article{
		URL:         pageURL,
		Slug:        archive.SlugFromURL(pageURL),
		Title:       title,
		Author:      author,
		PublishedAt: publishedTime(doc),
		Content:     content,
		ImageURLs:   imageURLs,
	}, nil
}
