package crawl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/timf34/blogpack/internal/archive"
	"github.com/timf34/blogpack/internal/content"
	"github.com/timf34/blogpack/internal/platform"
)

// ErrNoPosts is returned when discovery succeeded but not a single post
// survived fetching and extraction. Partial failure is tolerated; total
// failure is not.
var ErrNoPosts = errors.New("no posts could be retrieved")

// FailedRef records one post or image that was dropped from the run.
type FailedRef struct {
	URL    string `json:"url"`
	Reason string `json:"reason"`
}

// Result is the outcome of fetching one discovery set. Articles are in
// discovery order regardless of fetch completion order. Failed posts and
// images are recorded, not fatal.
type Result struct {
	Articles     []archive.Article
	Images       *archive.ImageIndex
	FailedPosts  []FailedRef
	FailedImages []FailedRef
}

// Options configures a Fetcher. Workers bounds in-flight requests;
// RequestsPerSecond is the per-platform rate limit. ImagesDir, when set,
// enables image fetching and is where each unique asset is written once.
type Options struct {
	Workers           int
	RequestsPerSecond float64
	Retry             RetryPolicy
	ImagesDir         string
}

// Fetcher downloads post pages and images for one run under bounded
// concurrency, rate limiting, and the configured retry policy.
type Fetcher struct {
	client    *http.Client
	limiter   *rate.Limiter
	retry     RetryPolicy
	workers   int
	imagesDir string
}

// NewFetcher builds a Fetcher for one run.
func NewFetcher(client *http.Client, opts Options) *Fetcher {
	workers := opts.Workers
	if workers <= 0 {
		workers = 5
	}

	limit := rate.Limit(opts.RequestsPerSecond)
	if opts.RequestsPerSecond <= 0 {
		limit = rate.Inf
	}

	return &Fetcher{
		client:    client,
		limiter:   rate.NewLimiter(limit, 1),
		retry:     opts.Retry,
		workers:   workers,
		imagesDir: opts.ImagesDir,
	}
}

// FetchAll fetches every referenced post, extracts and sanitizes its
// article, then fetches the images those articles reference. Each article
// lands in its discovery-order slot as it completes, so fetch concurrency
// never reorders the archive. Returns ErrNoPosts if refs is non-empty but
// zero articles survive.
func (f *Fetcher) FetchAll(ctx context.Context, handle platform.Handle, refs []archive.PostRef) (*Result, error) {
	result := &Result{Images: archive.NewImageIndex()}

	slots := make([]*archive.Article, len(refs))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.workers)

	for i, ref := range refs {
		g.Go(func() error {
			art, err := f.fetchPost(gctx, handle, ref)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				slog.Warn("skipping post", "url", ref.URL, "error", err)
				mu.Lock()
				result.FailedPosts = append(result.FailedPosts, FailedRef{URL: ref.URL, Reason: err.Error()})
				mu.Unlock()
				return nil
			}
			slots[i] = art
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, art := range slots {
		if art != nil {
			result.Articles = append(result.Articles, *art)
		}
	}

	if len(refs) > 0 && len(result.Articles) == 0 {
		return nil, fmt.Errorf("%w: all %d posts failed", ErrNoPosts, len(refs))
	}

	if f.imagesDir != "" {
		if err := f.fetchImages(ctx, result); err != nil {
			return nil, err
		}
	}

	return result, nil
}

// fetchPost downloads one post page and runs the platform extractor and the
// sanitizer over it. The ref's slug (already disambiguated by discovery)
// overrides whatever the extractor derived.
func (f *Fetcher) fetchPost(ctx context.Context, handle platform.Handle, ref archive.PostRef) (*archive.Article, error) {
	body, err := f.get(ctx, ref.URL)
	if err != nil {
		return nil, err
	}

	art, err := handle.Extract(string(body), ref.URL)
	if err != nil {
		return nil, err
	}
	art.Slug = ref.Slug

	clean, err := content.Sanitize(art.Content)
	if err != nil {
		return nil, fmt.Errorf("sanitizing %s: %w", ref.URL, err)
	}
	art.Content = clean

	// Recollect after sanitizing: the index must hold exactly the images
	// the surviving content references, so anything the sanitizer dropped
	// is never fetched.
	urls, err := content.ImageURLs(clean, ref.URL)
	if err != nil {
		return nil, fmt.Errorf("collecting image urls from %s: %w", ref.URL, err)
	}
	art.ImageURLs = urls

	return art, nil
}

// fetchImages downloads every image URL referenced by the surviving
// articles, in first-reference order. Content is hashed on arrival: a hash
// already in the index aliases the new URL to the stored asset and the
// bytes are discarded; a new hash is written to disk exactly once.
func (f *Fetcher) fetchImages(ctx context.Context, result *Result) error {
	var urls []string
	seen := make(map[string]bool)
	for _, art := range result.Articles {
		for _, u := range art.ImageURLs {
			if !seen[u] {
				seen[u] = true
				urls = append(urls, u)
			}
		}
	}
	if len(urls) == 0 {
		return nil
	}

	if err := os.MkdirAll(f.imagesDir, 0o755); err != nil {
		return fmt.Errorf("creating images directory: %w", err)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.workers)

	for _, imgURL := range urls {
		g.Go(func() error {
			data, err := f.get(gctx, imgURL)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				slog.Warn("skipping image", "url", imgURL, "error", err)
				mu.Lock()
				result.FailedImages = append(result.FailedImages, FailedRef{URL: imgURL, Reason: err.Error()})
				mu.Unlock()
				return nil
			}

			hash := archive.HashContent(data)

			mu.Lock()
			defer mu.Unlock()

			if existing, ok := result.Images.Seen(hash); ok {
				result.Images.Alias(imgURL, existing)
				return nil
			}

			name := archive.LocalImageName(imgURL, hash)
			path := filepath.Join(f.imagesDir, name)
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return fmt.Errorf("writing image %s: %w", name, err)
			}
			result.Images.Insert(&archive.ImageAsset{
				OriginalURL: imgURL,
				ContentHash: hash,
				LocalName:   name,
				LocalPath:   path,
				Size:        int64(len(data)),
			})
			return nil
		})
	}

	return g.Wait()
}

// get performs one rate-limited GET with 429-aware retries and returns the
// response body.
func (f *Fetcher) get(ctx context.Context, rawURL string) ([]byte, error) {
	var body []byte

	err := f.retry.Do(ctx, func(ctx context.Context) error {
		if err := f.limiter.Wait(ctx); err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return fmt.Errorf("creating request for %q: %w", rawURL, err)
		}

		resp, err := f.client.Do(req)
		if err != nil {
			return fmt.Errorf("fetching %q: %w", rawURL, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			io.Copy(io.Discard, resp.Body)
			return fmt.Errorf("fetching %q: %w", rawURL, ErrRateLimited)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return fmt.Errorf("fetching %q: HTTP %d", rawURL, resp.StatusCode)
		}

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("reading body from %q: %w", rawURL, err)
		}
		return nil
	})

	return body, err
}
