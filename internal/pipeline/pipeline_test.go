package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/timf34/blogpack/internal/config"
	"github.com/timf34/blogpack/internal/export"
	"github.com/timf34/blogpack/internal/platform"
	"github.com/timf34/blogpack/internal/sysmem"
)

// fakeGhostBlog serves a minimal but complete Ghost blog: homepage with the
// generator marker, posts sitemap, two posts cross-linking each other, and
// one shared image.
func fakeGhostBlog(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	base := func(r *http.Request) string { return "http://" + r.Host }

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `<html><head><meta name="generator" content="Ghost 5.0"></head>
<body>Powered by Ghost</body></html>`)
	})

	mux.HandleFunc("/sitemap-posts.xml", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>%s/hello-world/</loc><lastmod>2023-01-05</lastmod></url>
  <url><loc>%s/second-thoughts/</loc></url>
</urlset>`, base(r), base(r))
	})

	post := func(title, body string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintf(w, `<html><head><title>%s</title><meta name="author" content="Pat Writer"></head>
<body><article>
<h1 class="post-full-title">%s</h1>
<section class="post-full-content">%s</section>
</article></body></html>`, title, title, body)
		}
	}

	mux.HandleFunc("/hello-world/", func(w http.ResponseWriter, r *http.Request) {
		post("Hello World", fmt.Sprintf(
			`<p>Welcome. See <a href="%s/second-thoughts/">part two</a>.</p>
<img src="%s/content/images/photo.png">`, base(r), base(r)))(w, r)
	})
	mux.HandleFunc("/second-thoughts/", func(w http.ResponseWriter, r *http.Request) {
		post("Second Thoughts", fmt.Sprintf(
			`<p>Back to <a href="%s/hello-world/">the intro</a>.</p>
<img src="%s/content/images/photo.png">`, base(r), base(r)))(w, r)
	})

	mux.HandleFunc("/content/images/photo.png", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("fake-png-bytes"))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// stubRenderer stands in for headless Chrome.
type stubRenderer struct{ err error }

func (s stubRenderer) Render(_ context.Context, htmlPath, pdfPath string) error {
	if s.err != nil {
		return s.err
	}
	return os.WriteFile(pdfPath, []byte("%PDF-1.4 stub"), 0o644)
}

func plentyOfMemory() (sysmem.Snapshot, error) {
	return sysmem.Snapshot{Total: 16 << 30, Available: 8 << 30}, nil
}

func TestRunEndToEnd(t *testing.T) {
	srv := fakeGhostBlog(t)
	outDir := t.TempDir()

	runner := &Runner{
		Config:   config.Default(),
		Memory:   plentyOfMemory,
		Renderer: stubRenderer{},
	}

	var stages []string
	runner.Progress = func(stage string) { stages = append(stages, stage) }

	summary, err := runner.Run(context.Background(), Request{
		URL:       srv.URL,
		OutputDir: outDir,
		Formats:   []string{"html", "epub", "pdf"},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.Platform != "ghost" {
		t.Errorf("platform = %q, want ghost", summary.Platform)
	}
	if summary.PostsDiscovered != 2 || summary.PostsFetched != 2 {
		t.Errorf("posts discovered/fetched = %d/%d, want 2/2",
			summary.PostsDiscovered, summary.PostsFetched)
	}
	if summary.Author != "Pat Writer" {
		t.Errorf("author = %q", summary.Author)
	}
	// Same bytes behind one URL: exactly one stored asset.
	if summary.ImagesStored != 1 {
		t.Errorf("images stored = %d, want 1", summary.ImagesStored)
	}
	if len(summary.FailedPosts) != 0 || len(summary.FailedImages) != 0 {
		t.Errorf("unexpected failures: %v / %v", summary.FailedPosts, summary.FailedImages)
	}

	if len(summary.Formats) != 3 {
		t.Fatalf("want 3 format outcomes, got %v", summary.Formats)
	}
	for _, o := range summary.Formats {
		if o.Skipped {
			t.Errorf("format %s skipped: %s", o.Format, o.Reason)
		}
	}

	// Cross-links point at local pages.
	page, err := os.ReadFile(filepath.Join(outDir, "html", "hello-world.html"))
	if err != nil {
		t.Fatalf("reading page: %v", err)
	}
	if !strings.Contains(string(page), `href="second-thoughts.html"`) {
		t.Errorf("cross-link not rewritten:\n%s", page)
	}
	if !strings.Contains(string(page), `src="images/`) {
		t.Errorf("image not rewritten:\n%s", page)
	}

	if len(stages) == 0 || stages[0] != "detecting platform" {
		t.Errorf("progress stages = %v", stages)
	}
}

func TestRunPlatformHintBypassesDetection(t *testing.T) {
	srv := fakeGhostBlog(t)

	runner := &Runner{Memory: plentyOfMemory}
	summary, err := runner.Run(context.Background(), Request{
		URL:          srv.URL,
		OutputDir:    t.TempDir(),
		Formats:      []string{"html"},
		PlatformHint: "ghost",
		SkipImages:   true,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.PostsFetched != 2 {
		t.Errorf("posts fetched = %d, want 2", summary.PostsFetched)
	}
	if summary.ImagesStored != 0 {
		t.Errorf("images stored = %d, want 0 with SkipImages", summary.ImagesStored)
	}
}

func TestRunUnsupportedPlatform(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><body>A hand-rolled blog</body></html>")
	}))
	defer srv.Close()

	runner := &Runner{Memory: plentyOfMemory}
	_, err := runner.Run(context.Background(), Request{
		URL:       srv.URL,
		OutputDir: t.TempDir(),
		Formats:   []string{"html"},
	})
	if !errors.Is(err, platform.ErrUnsupportedPlatform) {
		t.Fatalf("want ErrUnsupportedPlatform, got %v", err)
	}
}

func TestRunMemoryPressureSkipsHeavyFormats(t *testing.T) {
	srv := fakeGhostBlog(t)

	runner := &Runner{
		Memory: func() (sysmem.Snapshot, error) {
			return sysmem.Snapshot{Total: 16 << 30, Available: 64 << 20}, nil
		},
		Renderer: stubRenderer{},
	}
	summary, err := runner.Run(context.Background(), Request{
		URL:        srv.URL,
		OutputDir:  t.TempDir(),
		Formats:    []string{"html", "epub", "pdf"},
		SkipImages: true,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	byFormat := make(map[string]export.Outcome)
	for _, o := range summary.Formats {
		byFormat[o.Format] = o
	}
	if byFormat["html"].Skipped {
		t.Errorf("html should not be skipped: %s", byFormat["html"].Reason)
	}
	for _, f := range []string{"epub", "pdf"} {
		o := byFormat[f]
		if !o.Skipped || !strings.Contains(o.Reason, "memory pressure") {
			t.Errorf("%s outcome = %+v, want memory-pressure skip", f, o)
		}
	}
}

func TestRunMissingRendererDegradesPDFOnly(t *testing.T) {
	srv := fakeGhostBlog(t)

	runner := &Runner{
		Memory:   plentyOfMemory,
		Renderer: stubRenderer{err: export.ErrRendererUnavailable},
	}
	summary, err := runner.Run(context.Background(), Request{
		URL:        srv.URL,
		OutputDir:  t.TempDir(),
		Formats:    []string{"html", "pdf"},
		SkipImages: true,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	var pdf, html export.Outcome
	for _, o := range summary.Formats {
		switch o.Format {
		case "pdf":
			pdf = o
		case "html":
			html = o
		}
	}
	if html.Skipped {
		t.Errorf("html skipped: %s", html.Reason)
	}
	if !pdf.Skipped || !strings.Contains(pdf.Reason, "renderer unavailable") {
		t.Errorf("pdf outcome = %+v, want renderer-unavailable skip", pdf)
	}
}

func TestNormalizeBaseURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "https://blog.example.com/", want: "https://blog.example.com"},
		{in: "blog.example.com", want: "https://blog.example.com"},
		{in: "http://blog.example.com/path/", want: "http://blog.example.com/path"},
		{in: "", wantErr: true},
		{in: "https://", wantErr: true},
	}

	for _, tc := range tests {
		got, err := normalizeBaseURL(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("normalizeBaseURL(%q): want error, got %q", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("normalizeBaseURL(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("normalizeBaseURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
