// Package export renders a fetched archive into its offline artifacts. The
// three exporters share one interface and one rewritten reference graph;
// each picks its own link and image targets.
package export

import (
	"context"
	"fmt"
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/timf34/blogpack/internal/archive"
	"github.com/timf34/blogpack/internal/content"
)

// Supported output formats.
const (
	FormatHTML = "html"
	FormatEPUB = "epub"
	FormatPDF  = "pdf"
)

// Outcome reports how one format fared. A skipped format carries the reason
// (memory pressure, missing renderer) instead of a path.
type Outcome struct {
	Format   string   `json:"format"`
	Path     string   `json:"path,omitempty"`
	Skipped  bool     `json:"skipped,omitempty"`
	Reason   string   `json:"reason,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Exporter renders one output format from the archive and its rewriter.
// outDir is the run's output root; exporters place their artifacts inside it.
type Exporter interface {
	Format() string
	Export(ctx context.Context, arc *archive.Archive, rw *content.Rewriter, outDir string) (Outcome, error)
}

// ParseFormats expands a format selector into the ordered list of formats to
// produce. "all" (and "") selects every format; otherwise a comma-separated
// subset of html, epub, pdf. Duplicates collapse, order is canonical.
func ParseFormats(selector string) ([]string, error) {
	selector = strings.TrimSpace(strings.ToLower(selector))
	if selector == "" || selector == "all" {
		return []string{FormatHTML, FormatEPUB, FormatPDF}, nil
	}

	want := make(map[string]bool)
	for _, part := range strings.Split(selector, ",") {
		part = strings.TrimSpace(part)
		switch part {
		case FormatHTML, FormatEPUB, FormatPDF:
			want[part] = true
		case "":
		default:
			return nil, fmt.Errorf("unknown format %q (expected all, html, epub, or pdf)", part)
		}
	}
	if len(want) == 0 {
		return nil, fmt.Errorf("no formats selected from %q", selector)
	}

	var out []string
	for _, f := range []string{FormatHTML, FormatEPUB, FormatPDF} {
		if want[f] {
			out = append(out, f)
		}
	}
	return out, nil
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// fileStem converts the archive title into a safe artifact filename stem.
func fileStem(title string) string {
	stem := nonAlnum.ReplaceAllString(strings.ToLower(title), "-")
	stem = strings.Trim(stem, "-")
	if stem == "" {
		return "archive"
	}
	return stem
}

// metaLine renders the author/date byline shown under each article title.
func metaLine(author string, published *time.Time) string {
	var parts []string
	if author != "" {
		parts = append(parts, html.EscapeString(author))
	}
	if published != nil {
		parts = append(parts, published.Format("January 2, 2006"))
	}
	return strings.Join(parts, " &bull; ")
}

func shortDate(published *time.Time) string {
	if published == nil {
		return ""
	}
	return published.Format("2006-01-02")
}
