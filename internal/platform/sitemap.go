package platform

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// sitemapURLSet is the <urlset> document of the sitemaps.org schema.
type sitemapURLSet struct {
	XMLName xml.Name     `xml:"urlset"`
	URLs    []sitemapURL `xml:"url"`
}

type sitemapURL struct {
	Loc     string `xml:"loc"`
	LastMod string `xml:"lastmod"`
}

// sitemapIndex is the <sitemapindex> document pointing at child sitemaps.
type sitemapIndex struct {
	XMLName  xml.Name          `xml:"sitemapindex"`
	Sitemaps []sitemapIndexRef `xml:"sitemap"`
}

type sitemapIndexRef struct {
	Loc string `xml:"loc"`
}

// fetchBytes GETs the URL and returns the response body. Non-2xx statuses
// are errors.
func fetchBytes(ctx context.Context, client *http.Client, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request for %q: %w", rawURL, err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %q: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetching %q: HTTP %d", rawURL, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading body from %q: %w", rawURL, err)
	}
	return body, nil
}

// parseSitemap decodes a <urlset> sitemap into its URL entries.
func parseSitemap(data []byte) ([]sitemapURL, error) {
	var set sitemapURLSet
	if err := xml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("parsing sitemap: %w", err)
	}
	return set.URLs, nil
}

// parseSitemapIndex decodes a <sitemapindex> into its child sitemap URLs.
// Returns an empty slice when the document is not a sitemap index.
func parseSitemapIndex(data []byte) []string {
	var idx sitemapIndex
	if err := xml.Unmarshal(data, &idx); err != nil {
		return nil
	}
	var locs []string
	for _, s := range idx.Sitemaps {
		if s.Loc != "" {
			locs = append(locs, s.Loc)
		}
	}
	return locs
}

// parseLastMod parses a sitemap lastmod timestamp. Sitemaps carry either a
// bare date or a full RFC 3339 timestamp.
func parseLastMod(s string) *time.Time {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

// resolveURL joins a possibly-relative ref against base, returning ref
// unchanged when either side fails to parse.
func resolveURL(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}
