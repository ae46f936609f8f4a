// Package platform holds the closed set of supported blog-engine handles
// and the registry that detects which one a blog runs on.
//
// Each handle exposes three capabilities: Detect reports whether homepage
// HTML belongs to the platform, Discover lists the blog's posts from its
// canonical listing (sitemap, REST API, or feed), and Extract pulls a clean
// article out of a post page.
package platform

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/timf34/blogpack/internal/archive"
)

var (
	// ErrUnsupportedPlatform is returned when no handle matches the blog.
	ErrUnsupportedPlatform = errors.New("unsupported blog platform")

	// ErrAmbiguousPlatform is returned when more than one handle claims the
	// blog. The caller must resolve this with an explicit platform hint.
	ErrAmbiguousPlatform = errors.New("ambiguous platform detection")

	// ErrNoListing is returned by Discover when no post listing could be
	// located at all. This is fatal for a run.
	ErrNoListing = errors.New("no post listing found")

	// ErrNoContent is returned by Extract when the page holds no
	// recognizable article content (including paywalled posts).
	ErrNoContent = errors.New("no article content found")
)

// Handle is one supported blog engine.
type Handle interface {
	// Name is the stable identifier used in configuration and hints.
	Name() string

	// Detect reports whether the homepage HTML belongs to this platform.
	Detect(html string) bool

	// Discover fetches the platform's canonical post listing and returns
	// post references in the order the listing presents them.
	Discover(ctx context.Context, client *http.Client, baseURL string) ([]archive.PostRef, error)

	// Extract parses a post page into an Article. It returns ErrNoContent
	// (possibly wrapped) when the page has no usable article body.
	Extract(html string, pageURL string) (*archive.Article, error)
}

// Registry holds the handles in fixed priority order. It is stateless and
// safe for concurrent use.
type Registry struct {
	handles []Handle
}

// NewRegistry returns the registry with the full closed handle set.
func NewRegistry() *Registry {
	return &Registry{handles: []Handle{
		&Ghost{},
		&Substack{},
		&WordPress{},
	}}
}

// Detect runs every handle's detector against the homepage HTML. Exactly one
// match returns that handle; zero matches is ErrUnsupportedPlatform and more
// than one is ErrAmbiguousPlatform (a configuration problem that must be
// surfaced, not silently resolved by priority).
func (r *Registry) Detect(html string) (Handle, error) {
	var matches []Handle
	for _, h := range r.handles {
		if h.Detect(html) {
			matches = append(matches, h)
		}
	}

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: supported platforms are %s",
			ErrUnsupportedPlatform, strings.Join(r.Names(), ", "))
	case 1:
		return matches[0], nil
	default:
		names := make([]string, len(matches))
		for i, h := range matches {
			names[i] = h.Name()
		}
		return nil, fmt.Errorf("%w: %s all matched; pass an explicit platform",
			ErrAmbiguousPlatform, strings.Join(names, " and "))
	}
}

// Lookup returns the handle with the given name, bypassing detection.
func (r *Registry) Lookup(name string) (Handle, error) {
	for _, h := range r.handles {
		if h.Name() == name {
			return h, nil
		}
	}
	return nil, fmt.Errorf("%w: unknown platform %q (supported: %s)",
		ErrUnsupportedPlatform, name, strings.Join(r.Names(), ", "))
}

// Names lists the supported platform names in priority order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.handles))
	for i, h := range r.handles {
		names[i] = h.Name()
	}
	return names
}

// containsAny reports whether the lowercased haystack contains any of the
// given indicators. All handle detectors are substring checks over the
// homepage HTML.
func containsAny(html string, indicators []string) bool {
	lower := strings.ToLower(html)
	for _, ind := range indicators {
		if strings.Contains(lower, ind) {
			return true
		}
	}
	return false
}
