package export

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/timf34/blogpack/internal/archive"
	"github.com/timf34/blogpack/internal/content"
)

// HTMLExporter writes the standalone page bundle: html/<slug>.html per
// article plus html/index.html linking them in archive order. The shared
// html/images/ folder is populated by the fetch stage; this exporter only
// references it.
type HTMLExporter struct{}

func (HTMLExporter) Format() string { return FormatHTML }

func (HTMLExporter) Export(ctx context.Context, arc *archive.Archive, rw *content.Rewriter, outDir string) (Outcome, error) {
	outcome := Outcome{Format: FormatHTML}

	htmlDir := filepath.Join(outDir, "html")
	if err := os.MkdirAll(htmlDir, 0o755); err != nil {
		return outcome, fmt.Errorf("creating html directory: %w", err)
	}

	target := content.PageBundleTarget()
	for _, art := range arc.Articles {
		if err := ctx.Err(); err != nil {
			return outcome, err
		}

		body, warnings, err := rw.Rewrite(art.Content, target)
		if err != nil {
			return outcome, fmt.Errorf("rewriting %s: %w", art.Slug, err)
		}
		outcome.Warnings = append(outcome.Warnings, warnings...)

		page := wrapArticlePage(art, body)
		path := filepath.Join(htmlDir, art.Slug+".html")
		if err := os.WriteFile(path, []byte(page), 0o644); err != nil {
			return outcome, fmt.Errorf("writing %s: %w", path, err)
		}
	}

	index := indexPage(arc)
	if err := os.WriteFile(filepath.Join(htmlDir, "index.html"), []byte(index), 0o644); err != nil {
		return outcome, fmt.Errorf("writing index: %w", err)
	}

	slog.Info("html bundle written", "dir", htmlDir, "articles", len(arc.Articles))
	outcome.Path = htmlDir
	return outcome, nil
}

// wrapArticlePage wraps rewritten article content in a complete standalone
// HTML document with the reader stylesheet inlined.
func wrapArticlePage(art archive.Article, body string) string {
	title := html.EscapeString(art.Title)
	return fmt.Sprintf(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>%s</title>
    <style>%s</style>
</head>
<body>
    <article>
        <h1>%s</h1>
        <div class="meta">%s</div>
        %s
    </article>
</body>
</html>
`, title, readerCSS, title, metaLine(art.Author, art.PublishedAt), body)
}

// indexPage builds index.html: the archive title and a list of every post in
// archive order.
func indexPage(arc *archive.Archive) string {
	var items strings.Builder
	for _, art := range arc.Articles {
		items.WriteString(`<li><a href="` + art.Slug + `.html">` + html.EscapeString(art.Title) + `</a>`)
		if d := shortDate(art.PublishedAt); d != "" {
			items.WriteString(` <span class="date">(` + d + `)</span>`)
		}
		items.WriteString("</li>\n")
	}

	return fmt.Sprintf(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>%s</title>
    <style>%s%s</style>
</head>
<body>
    <h1>%s</h1>
    <p>%d articles</p>
    <ul>
%s    </ul>
</body>
</html>
`, html.EscapeString(arc.Title), readerCSS, indexCSS, html.EscapeString(arc.Title), len(arc.Articles), items.String())
}
