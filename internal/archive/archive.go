// Package archive defines the data model for one blog archive run: post
// references produced by discovery, articles produced by the fetch stage,
// and the content-hash image index shared by all exporters.
package archive

import (
	"net/url"
	"sort"
	"strings"
	"time"
)

// PostRef identifies a single post discovered from a blog's listing.
type PostRef struct {
	URL          string
	Slug         string
	LastModified *time.Time
}

// Article is a fetched, extracted, and sanitized blog post. It is immutable
// once produced by the fetch stage; the rewriter and exporters read it only.
type Article struct {
	URL         string
	Slug        string
	Title       string
	Author      string
	PublishedAt *time.Time
	Content     string
	ImageURLs   []string
}

// Archive aggregates everything one run produces prior to rendering. It is
// exclusively owned by the run and discarded when the run completes.
type Archive struct {
	Platform string
	BaseURL  string
	Title    string
	Author   string
	Articles []Article
	Images   *ImageIndex
}

// TitleFromURL derives a human-readable archive title from the blog's host,
// e.g. "https://www.cold-takes.com/" becomes "Cold Takes Archive".
func TitleFromURL(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil || u.Hostname() == "" {
		return "Blog Archive"
	}

	host := u.Hostname()
	for _, prefix := range []string{"www.", "blog.", "blogs."} {
		host = strings.TrimPrefix(host, prefix)
	}
	// Drop the TLD, keep the rest as words.
	if i := strings.LastIndex(host, "."); i > 0 {
		host = host[:i]
	}
	host = strings.NewReplacer(".", " ", "-", " ").Replace(host)

	words := strings.Fields(host)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	if len(words) == 0 {
		return "Blog Archive"
	}
	return strings.Join(words, " ") + " Archive"
}

// MostCommonAuthor returns the author name appearing most often across the
// given articles, ignoring empty and "Unknown" values. Ties are broken
// alphabetically so the result is deterministic.
func MostCommonAuthor(articles []Article) string {
	counts := make(map[string]int)
	for _, a := range articles {
		if a.Author == "" || a.Author == "Unknown" {
			continue
		}
		counts[a.Author]++
	}
	if len(counts) == 0 {
		return "Unknown"
	}

	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)

	best := names[0]
	for _, name := range names[1:] {
		if counts[name] > counts[best] {
			best = name
		}
	}
	return best
}
