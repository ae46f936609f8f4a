package export

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/timf34/blogpack/internal/archive"
	"github.com/timf34/blogpack/internal/content"
)

// ErrRendererUnavailable means no headless browser binary could be found.
// The PDF exporter reports it as a skipped format, not a run failure.
var ErrRendererUnavailable = errors.New("pdf renderer unavailable")

// PDFRenderer turns a local HTML file into a PDF file.
type PDFRenderer interface {
	Render(ctx context.Context, htmlPath, pdfPath string) error
}

// PDFExporter builds one combined print document (title page, table of
// contents with internal anchors, page break per article) and hands it to
// the renderer.
type PDFExporter struct {
	Renderer PDFRenderer
}

func (PDFExporter) Format() string { return FormatPDF }

func (e PDFExporter) Export(ctx context.Context, arc *archive.Archive, rw *content.Rewriter, outDir string) (Outcome, error) {
	outcome := Outcome{Format: FormatPDF}

	renderer := e.Renderer
	if renderer == nil {
		renderer = &ChromeRenderer{}
	}

	target := content.Target{
		LinkHref: func(slug string) string { return "#" + slug },
		ImageSrc: func(a *archive.ImageAsset) string {
			abs, err := filepath.Abs(a.LocalPath)
			if err != nil {
				abs = a.LocalPath
			}
			return "file://" + abs
		},
	}

	var doc strings.Builder
	doc.WriteString(fmt.Sprintf(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>%s</title>
    <style>%s%s</style>
</head>
<body>
<div class="title-page">
    <h1>%s</h1>
    <p class="author">by %s</p>
    <p class="count">%d articles</p>
    <p class="generated">Generated %s</p>
</div>
`, html.EscapeString(arc.Title), readerCSS, printCSS,
		html.EscapeString(arc.Title), html.EscapeString(arc.Author),
		len(arc.Articles), time.Now().Format("January 2, 2006")))

	doc.WriteString("<div class=\"toc\">\n<h2>Table of Contents</h2>\n<ol>\n")
	for _, art := range arc.Articles {
		doc.WriteString(`<li><a href="#` + art.Slug + `">` + html.EscapeString(art.Title) + `</a>`)
		if d := shortDate(art.PublishedAt); d != "" {
			doc.WriteString(` <span class="date">` + d + `</span>`)
		}
		doc.WriteString("</li>\n")
	}
	doc.WriteString("</ol>\n</div>\n")

	for _, art := range arc.Articles {
		if err := ctx.Err(); err != nil {
			return outcome, err
		}

		body, warnings, err := rw.Rewrite(art.Content, target)
		if err != nil {
			return outcome, fmt.Errorf("rewriting %s: %w", art.Slug, err)
		}
		outcome.Warnings = append(outcome.Warnings, warnings...)

		doc.WriteString(fmt.Sprintf(`<article id="%s">
<h1>%s</h1>
<p class="meta">%s</p>
%s
</article>
`, art.Slug, html.EscapeString(art.Title), metaLine(art.Author, art.PublishedAt), body))
	}
	doc.WriteString("</body>\n</html>\n")

	srcPath := filepath.Join(outDir, fileStem(arc.Title)+"-print.html")
	if err := os.WriteFile(srcPath, []byte(doc.String()), 0o644); err != nil {
		return outcome, fmt.Errorf("writing print source: %w", err)
	}
	defer os.Remove(srcPath)

	pdfPath := filepath.Join(outDir, fileStem(arc.Title)+".pdf")
	if err := renderer.Render(ctx, srcPath, pdfPath); err != nil {
		return outcome, fmt.Errorf("rendering pdf: %w", err)
	}

	slog.Info("pdf written", "path", pdfPath, "articles", len(arc.Articles))
	outcome.Path = pdfPath
	return outcome, nil
}

// chromeBinaries are tried in order when locating a browser for rendering.
var chromeBinaries = []string{
	"google-chrome",
	"google-chrome-stable",
	"chromium",
	"chromium-browser",
	"headless-shell",
}

// ChromeRenderer prints HTML to PDF through headless Chrome's DevTools
// protocol.
type ChromeRenderer struct {
	// ExecPath overrides browser discovery, mainly for tests.
	ExecPath string
}

func (r *ChromeRenderer) Render(ctx context.Context, htmlPath, pdfPath string) error {
	execPath := r.ExecPath
	if execPath == "" {
		for _, name := range chromeBinaries {
			if p, err := exec.LookPath(name); err == nil {
				execPath = p
				break
			}
		}
	}
	if execPath == "" {
		return fmt.Errorf("%w: no Chrome or Chromium binary on PATH", ErrRendererUnavailable)
	}

	abs, err := filepath.Abs(htmlPath)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", htmlPath, err)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.ExecPath(execPath),
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	taskCtx, cancelTask := chromedp.NewContext(allocCtx)
	defer cancelTask()

	var pdf []byte
	tasks := chromedp.Tasks{
		chromedp.Navigate("file://" + abs),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			pdf, _, err = page.PrintToPDF().WithPrintBackground(true).Do(ctx)
			return err
		}),
	}
	if err := chromedp.Run(taskCtx, tasks); err != nil {
		return fmt.Errorf("printing to pdf: %w", err)
	}

	if err := os.WriteFile(pdfPath, pdf, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", pdfPath, err)
	}
	return nil
}
