// Package pipeline runs one archive end to end: detect the platform,
// discover posts, fetch and sanitize them, then render every requested
// output format off the shared reference graph.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/timf34/blogpack/internal/archive"
	"github.com/timf34/blogpack/internal/config"
	"github.com/timf34/blogpack/internal/content"
	"github.com/timf34/blogpack/internal/crawl"
	"github.com/timf34/blogpack/internal/export"
	"github.com/timf34/blogpack/internal/platform"
	"github.com/timf34/blogpack/internal/sysmem"
)

// Request describes one archive run.
type Request struct {
	URL          string
	OutputDir    string
	Formats      []string
	MaxPosts     int
	PlatformHint string
	SkipImages   bool
}

// Summary is what one completed run reports. Per-post, per-image, and
// per-format problems land here instead of failing the run.
type Summary struct {
	Platform        string            `json:"platform"`
	Title           string            `json:"title"`
	Author          string            `json:"author"`
	PostsDiscovered int               `json:"posts_discovered"`
	PostsFetched    int               `json:"posts_fetched"`
	ImagesStored    int               `json:"images_stored"`
	FailedPosts     []crawl.FailedRef `json:"failed_posts,omitempty"`
	FailedImages    []crawl.FailedRef `json:"failed_images,omitempty"`
	Formats         []export.Outcome  `json:"formats"`
	Elapsed         time.Duration     `json:"elapsed_ns"`
}

// Runner holds the collaborators one run needs. Memory and Renderer are
// injectable; nil selects the production implementations.
type Runner struct {
	Config   *config.Config
	Registry *platform.Registry
	Memory   sysmem.Reader
	Renderer export.PDFRenderer

	// Progress, when set, is called as the run moves between stages.
	Progress func(stage string)
}

func (r *Runner) progress(stage string) {
	if r.Progress != nil {
		r.Progress(stage)
	}
}

func (r *Runner) memory() sysmem.Reader {
	if r.Memory != nil {
		return r.Memory
	}
	return sysmem.Read
}

// Run executes one archive run. It fails only on an unusable URL, an
// unsupported or ambiguous platform, a failed discovery, or zero surviving
// posts; everything else degrades into the summary.
func (r *Runner) Run(ctx context.Context, req Request) (*Summary, error) {
	start := time.Now()

	baseURL, err := normalizeBaseURL(req.URL)
	if err != nil {
		return nil, err
	}

	cfg := r.Config
	if cfg == nil {
		cfg = config.Default()
	}
	registry := r.Registry
	if registry == nil {
		registry = platform.NewRegistry()
	}

	client := crawl.NewHTTPClient(cfg.Timeout(), cfg.Fetch.InsecureSkipVerify)

	r.progress("detecting platform")
	handle, err := r.detect(ctx, client, registry, baseURL, req.PlatformHint)
	if err != nil {
		return nil, err
	}
	slog.Info("platform detected", "platform", handle.Name(), "url", baseURL)

	r.progress("discovering posts")
	refs, err := crawl.DiscoverPosts(ctx, client, handle, baseURL, req.MaxPosts)
	if err != nil {
		return nil, err
	}

	limits := cfg.Limits(handle.Name())
	retry := crawl.DefaultRetryPolicy()
	retry.MaxRetries = cfg.Fetch.MaxRetries

	imagesDir := ""
	if !req.SkipImages {
		imagesDir = filepath.Join(req.OutputDir, "html", "images")
	}

	r.progress("fetching posts")
	fetcher := crawl.NewFetcher(client, crawl.Options{
		Workers:           limits.Workers,
		RequestsPerSecond: limits.RequestsPerSecond,
		Retry:             retry,
		ImagesDir:         imagesDir,
	})
	result, err := fetcher.FetchAll(ctx, handle, refs)
	if err != nil {
		return nil, err
	}

	arc := &archive.Archive{
		Platform: handle.Name(),
		BaseURL:  baseURL,
		Title:    archive.TitleFromURL(baseURL),
		Author:   archive.MostCommonAuthor(result.Articles),
		Articles: result.Articles,
		Images:   result.Images,
	}

	rw, err := content.NewRewriter(baseURL, refs, result.Images)
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		Platform:        arc.Platform,
		Title:           arc.Title,
		Author:          arc.Author,
		PostsDiscovered: len(refs),
		PostsFetched:    len(result.Articles),
		ImagesStored:    len(result.Images.Assets()),
		FailedPosts:     result.FailedPosts,
		FailedImages:    result.FailedImages,
	}

	r.progress("exporting")
	for _, format := range req.Formats {
		summary.Formats = append(summary.Formats, r.export(ctx, format, arc, rw, req.OutputDir, cfg))
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	summary.Elapsed = time.Since(start)
	return summary, nil
}

// export runs one format. Failures degrade into a skipped Outcome so the
// remaining formats still get their chance.
func (r *Runner) export(ctx context.Context, format string, arc *archive.Archive, rw *content.Rewriter, outDir string, cfg *config.Config) export.Outcome {
	var exporter export.Exporter
	switch format {
	case export.FormatHTML:
		exporter = export.HTMLExporter{}
	case export.FormatEPUB, export.FormatPDF:
		if reason, low := r.memoryLow(cfg); low {
			slog.Warn("skipping export under memory pressure", "format", format, "reason", reason)
			return export.Outcome{Format: format, Skipped: true, Reason: reason}
		}
		if format == export.FormatEPUB {
			exporter = export.EPUBExporter{}
		} else {
			exporter = export.PDFExporter{Renderer: r.Renderer}
		}
	default:
		return export.Outcome{Format: format, Skipped: true, Reason: "unknown format"}
	}

	outcome, err := exporter.Export(ctx, arc, rw, outDir)
	if err != nil {
		if errors.Is(err, export.ErrRendererUnavailable) {
			slog.Warn("pdf renderer unavailable, skipping", "error", err)
		} else {
			slog.Error("export failed", "format", format, "error", err)
		}
		outcome.Skipped = true
		outcome.Reason = err.Error()
		outcome.Path = ""
	}
	return outcome
}

// memoryLow reports whether available memory sits below the configured
// export floor.
func (r *Runner) memoryLow(cfg *config.Config) (string, bool) {
	floor := uint64(cfg.Server.ExportMemoryFloorMB) * 1024 * 1024
	if floor == 0 {
		return "", false
	}
	snap, err := r.memory()()
	if err != nil {
		slog.Warn("memory check failed, proceeding", "error", err)
		return "", false
	}
	if snap.Available < floor {
		return fmt.Sprintf("memory pressure: %d MB available, floor is %d MB",
			snap.Available/1024/1024, cfg.Server.ExportMemoryFloorMB), true
	}
	return "", false
}

// detect picks the platform handle, either from an explicit hint or by
// fetching the homepage and running detection.
func (r *Runner) detect(ctx context.Context, client *http.Client, registry *platform.Registry, baseURL, hint string) (platform.Handle, error) {
	if hint != "" {
		return registry.Lookup(strings.ToLower(hint))
	}

	html, err := fetchHomepage(ctx, client, baseURL)
	if err != nil {
		return nil, fmt.Errorf("fetching homepage for detection: %w", err)
	}
	return registry.Detect(html)
}

func fetchHomepage(ctx context.Context, client *http.Client, baseURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("homepage returned HTTP %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// normalizeBaseURL validates the blog URL and defaults a missing scheme to
// https.
func normalizeBaseURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("blog URL is required")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid blog URL %q: %w", raw, err)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("invalid blog URL %q: no host", raw)
	}
	u.Fragment = ""
	return strings.TrimSuffix(u.String(), "/"), nil
}
