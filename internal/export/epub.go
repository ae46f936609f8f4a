package export

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/bmaupin/go-epub"

	"github.com/timf34/blogpack/internal/archive"
	"github.com/timf34/blogpack/internal/content"
)

// EPUBExporter packages the archive as an e-book: one chapter per article in
// archive order, downloaded images embedded, the reader stylesheet attached
// to every chapter.
type EPUBExporter struct{}

func (EPUBExporter) Format() string { return FormatEPUB }

func (EPUBExporter) Export(ctx context.Context, arc *archive.Archive, rw *content.Rewriter, outDir string) (Outcome, error) {
	outcome := Outcome{Format: FormatEPUB}

	book := epub.NewEpub(arc.Title)
	book.SetAuthor(arc.Author)
	book.SetLang("en")
	book.SetDescription(fmt.Sprintf("Offline archive of %s (%d articles)", arc.BaseURL, len(arc.Articles)))

	// AddCSS reads from a file, so the stylesheet goes through a temp file.
	cssFile, err := os.CreateTemp("", "blogpack-*.css")
	if err != nil {
		return outcome, fmt.Errorf("creating stylesheet temp file: %w", err)
	}
	defer os.Remove(cssFile.Name())
	if _, err := cssFile.WriteString(readerCSS); err != nil {
		cssFile.Close()
		return outcome, fmt.Errorf("writing stylesheet: %w", err)
	}
	cssFile.Close()

	cssPath, err := book.AddCSS(cssFile.Name(), "style.css")
	if err != nil {
		return outcome, fmt.Errorf("adding stylesheet: %w", err)
	}

	// Embed each unique asset once; aliased URLs share the internal path.
	internal := make(map[string]string)
	if arc.Images != nil {
		for _, asset := range arc.Images.Assets() {
			p, err := book.AddImage(asset.LocalPath, asset.LocalName)
			if err != nil {
				outcome.Warnings = append(outcome.Warnings,
					fmt.Sprintf("image %s not embedded: %v", asset.LocalName, err))
				continue
			}
			internal[asset.ContentHash] = p
		}
	}

	target := content.Target{
		LinkHref: func(slug string) string { return slug + ".xhtml" },
		ImageSrc: func(a *archive.ImageAsset) string {
			if p, ok := internal[a.ContentHash]; ok {
				return p
			}
			return a.OriginalURL
		},
	}

	for _, art := range arc.Articles {
		if err := ctx.Err(); err != nil {
			return outcome, err
		}

		body, warnings, err := rw.Rewrite(art.Content, target)
		if err != nil {
			return outcome, fmt.Errorf("rewriting %s: %w", art.Slug, err)
		}
		outcome.Warnings = append(outcome.Warnings, warnings...)

		chapter := fmt.Sprintf(`<h1>%s</h1>
<p class="meta">%s</p>
%s`, html.EscapeString(art.Title), metaLine(art.Author, art.PublishedAt), body)

		if _, err := book.AddSection(chapter, art.Title, art.Slug+".xhtml", cssPath); err != nil {
			return outcome, fmt.Errorf("adding chapter %s: %w", art.Slug, err)
		}
	}

	path := filepath.Join(outDir, fileStem(arc.Title)+".epub")
	if err := book.Write(path); err != nil {
		return outcome, fmt.Errorf("writing epub: %w", err)
	}

	slog.Info("epub written", "path", path, "chapters", len(arc.Articles))
	outcome.Path = path
	return outcome, nil
}
