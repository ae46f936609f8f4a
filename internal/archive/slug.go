package archive

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var unsafeSlugChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// SlugFromPath converts a URL path into a filesystem-safe slug. Path
// separators become hyphens and a trailing ".html" extension is dropped
// (some WordPress blogs use .html permalinks). An empty path yields "index".
func SlugFromPath(path string) string {
	path = strings.Trim(path, "/")
	path = strings.TrimSuffix(path, ".html")
	path = strings.ReplaceAll(path, "/", "-")
	path = unsafeSlugChars.ReplaceAllString(path, "-")
	path = strings.Trim(path, "-")
	if path == "" {
		return "index"
	}
	return path
}

// SlugFromURL derives a slug from a post's full URL path.
func SlugFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return SlugFromPath(rawURL)
	}
	return SlugFromPath(u.Path)
}

// NormalizeURL reduces a URL to host+path for identity comparison: scheme,
// fragment, query, and any trailing slash are dropped, and a leading "www."
// is ignored. Returns "" for unparsable input.
func NormalizeURL(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	host := strings.ToLower(strings.TrimPrefix(u.Hostname(), "www."))
	path := strings.TrimSuffix(u.EscapedPath(), "/")
	return host + path
}

// SlugSet assigns slugs that are pairwise unique within one archive.
// Colliding slugs are disambiguated deterministically by appending a
// counter: "my-post", "my-post-2", "my-post-3", ...
type SlugSet struct {
	seen map[string]int
}

// NewSlugSet returns an empty SlugSet.
func NewSlugSet() *SlugSet {
	return &SlugSet{seen: make(map[string]int)}
}

// Claim returns slug unchanged if it has not been claimed before, otherwise
// the first free "slug-N" variant. The returned value is recorded as claimed.
func (s *SlugSet) Claim(slug string) string {
	if _, ok := s.seen[slug]; !ok {
		s.seen[slug] = 1
		return slug
	}

	n := s.seen[slug] + 1
	for {
		candidate := fmt.Sprintf("%s-%d", slug, n)
		if _, ok := s.seen[candidate]; !ok {
			s.seen[slug] = n
			s.seen[candidate] = 1
			return candidate
		}
		n++
	}
}
