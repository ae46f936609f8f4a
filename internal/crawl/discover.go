package crawl

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/timf34/blogpack/internal/archive"
	"github.com/timf34/blogpack/internal/platform"
)

// DiscoverPosts asks the platform handle for the blog's post listing, then
// deduplicates by normalized URL, assigns pairwise-unique slugs, and caps
// the result at maxPosts (0 means no cap). The order returned by the
// listing is preserved; it becomes the archive order for every exporter.
//
// An error locating the listing is fatal. A listing that yields zero posts
// is not: it produces an empty archive.
func DiscoverPosts(ctx context.Context, client *http.Client, handle platform.Handle, baseURL string, maxPosts int) ([]archive.PostRef, error) {
	refs, err := handle.Discover(ctx, client, baseURL)
	if err != nil {
		return nil, fmt.Errorf("discovering posts on %s: %w", baseURL, err)
	}

	slugs := archive.NewSlugSet()
	seen := make(map[string]bool)
	out := make([]archive.PostRef, 0, len(refs))
	for _, ref := range refs {
		key := archive.NormalizeURL(ref.URL)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true

		ref.Slug = slugs.Claim(ref.Slug)
		out = append(out, ref)

		if maxPosts > 0 && len(out) >= maxPosts {
			break
		}
	}

	slog.Info("discovered posts",
		"platform", handle.Name(),
		"listed", len(refs),
		"selected", len(out),
	)
	return out, nil
}
