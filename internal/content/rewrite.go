package content

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/timf34/blogpack/internal/archive"
)

// Target tells the rewriter what local references look like for one output
// format. Each exporter supplies its own: the page bundle wants
// "slug.html" and "images/name", EPUB wants "slug.xhtml" and its packaged
// image paths, print wants "#slug" anchors and absolute file paths.
type Target struct {
	LinkHref func(slug string) string
	ImageSrc func(asset *archive.ImageAsset) string
}

// PageBundleTarget is the Target for the standalone HTML page bundle.
func PageBundleTarget() Target {
	return Target{
		LinkHref: func(slug string) string { return slug + ".html" },
		ImageSrc: func(a *archive.ImageAsset) string { return "images/" + a.LocalName },
	}
}

// Rewriter redirects cross-references in article content at local targets:
// links to other archived posts and images that were downloaded. Links to
// posts outside the archive and external sites are left untouched.
//
// The mapping from URL to slug uses the same normalization as discovery
// dedup, so any spelling of a post's URL (scheme, www, trailing slash,
// fragment) resolves to the same slug.
type Rewriter struct {
	base   *url.URL
	slugs  map[string]string
	images *archive.ImageIndex
}

// NewRewriter builds a Rewriter over one archive's reference graph. refs
// must carry the final, disambiguated slugs assigned at discovery.
func NewRewriter(baseURL string, refs []archive.PostRef, images *archive.ImageIndex) (*Rewriter, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL %q: %w", baseURL, err)
	}

	slugs := make(map[string]string, len(refs))
	for _, ref := range refs {
		if key := archive.NormalizeURL(ref.URL); key != "" {
			slugs[key] = ref.Slug
		}
	}

	return &Rewriter{base: base, slugs: slugs, images: images}, nil
}

// Resolve maps a URL found in article content to the slug of an archived
// post. Relative URLs are resolved against the archive's base URL.
func (rw *Rewriter) Resolve(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	abs := rw.base.ResolveReference(u)
	if !sameHost(abs, rw.base) {
		return "", false
	}
	slug, ok := rw.slugs[archive.NormalizeURL(abs.String())]
	return slug, ok
}

// Rewrite redirects every matching link and image in one article fragment
// at the target's local form and returns the rewritten fragment. Malformed
// URLs produce a warning and are left untouched. The pass is idempotent:
// already-local references resolve to nothing and pass through unchanged.
func (rw *Rewriter) Rewrite(fragment string, target Target) (string, []string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return "", nil, fmt.Errorf("parsing article content: %w", err)
	}

	var warnings []string

	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		if _, err := url.Parse(href); err != nil {
			warnings = append(warnings, fmt.Sprintf("unparsable link %q left as-is", href))
			return
		}
		if slug, ok := rw.Resolve(href); ok {
			a.SetAttr("href", target.LinkHref(slug))
		}
	})

	doc.Find("img").Each(func(_ int, img *goquery.Selection) {
		src, _ := img.Attr("src")
		if src == "" {
			return
		}
		asset, ok := rw.lookupImage(src)
		if !ok {
			return
		}
		img.SetAttr("src", target.ImageSrc(asset))
		// Remote responsive variants would shadow the local file.
		img.RemoveAttr("srcset")
		img.RemoveAttr("data-src")
		img.RemoveAttr("data-lazy-src")
	})

	body := doc.Find("body")
	if body.Length() == 0 {
		out, err := doc.Html()
		return out, warnings, err
	}
	out, err := body.Html()
	return out, warnings, err
}

// lookupImage finds the downloaded asset for an img src. The index is keyed
// by the absolute URLs collected at extraction time, so a relative src is
// absolutized against the base URL before lookup.
func (rw *Rewriter) lookupImage(src string) (*archive.ImageAsset, bool) {
	if rw.images == nil {
		return nil, false
	}
	if asset := rw.images.Lookup(src); asset != nil {
		return asset, true
	}
	u, err := url.Parse(src)
	if err != nil || u.IsAbs() {
		return nil, false
	}
	asset := rw.images.Lookup(rw.base.ResolveReference(u).String())
	return asset, asset != nil
}

func sameHost(u, base *url.URL) bool {
	if u.Host == "" {
		return true
	}
	strip := func(h string) string {
		return strings.TrimPrefix(strings.ToLower(h), "www.")
	}
	return strip(u.Hostname()) == strip(base.Hostname())
}
