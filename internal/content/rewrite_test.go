package content

import (
	"strings"
	"testing"

	"github.com/timf34/blogpack/internal/archive"
)

func testRewriter(t *testing.T) *Rewriter {
	t.Helper()

	refs := []archive.PostRef{
		{URL: "https://blog.example.com/first-post", Slug: "first-post"},
		{URL: "https://blog.example.com/second-post/", Slug: "second-post"},
	}
	images := archive.NewImageIndex()
	images.Insert(&archive.ImageAsset{
		OriginalURL: "https://cdn.example.com/photo.png",
		ContentHash: "abcdef0123456789",
		LocalName:   "abcdef01.png",
		LocalPath:   "/tmp/images/abcdef01.png",
	})

	rw, err := NewRewriter("https://blog.example.com", refs, images)
	if err != nil {
		t.Fatalf("NewRewriter: %v", err)
	}
	return rw
}

func TestRewriteLinks(t *testing.T) {
	rw := testRewriter(t)

	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "absolute same-host archived",
			in:   `<a href="https://blog.example.com/first-post">go</a>`,
			want: `href="first-post.html"`,
		},
		{
			name: "www and trailing slash variants match",
			in:   `<a href="http://www.blog.example.com/second-post/">go</a>`,
			want: `href="second-post.html"`,
		},
		{
			name: "relative path archived",
			in:   `<a href="/first-post">go</a>`,
			want: `href="first-post.html"`,
		},
		{
			name: "same-host but not archived",
			in:   `<a href="https://blog.example.com/about">go</a>`,
			want: `href="https://blog.example.com/about"`,
		},
		{
			name: "external host untouched",
			in:   `<a href="https://other.example.org/first-post">go</a>`,
			want: `href="https://other.example.org/first-post"`,
		},
		{
			name: "fragment-only untouched",
			in:   `<a href="#section">go</a>`,
			want: `href="#section"`,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out, warnings, err := rw.Rewrite(tc.in, PageBundleTarget())
			if err != nil {
				t.Fatalf("Rewrite: %v", err)
			}
			if len(warnings) != 0 {
				t.Errorf("unexpected warnings: %v", warnings)
			}
			if !strings.Contains(out, tc.want) {
				t.Errorf("got %q, want it to contain %q", out, tc.want)
			}
		})
	}
}

func TestRewriteImages(t *testing.T) {
	rw := testRewriter(t)

	in := `<img src="https://cdn.example.com/photo.png" srcset="https://cdn.example.com/photo-2x.png 2x">` +
		`<img src="https://cdn.example.com/missing.png">`

	out, _, err := rw.Rewrite(in, PageBundleTarget())
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}

	if !strings.Contains(out, `src="images/abcdef01.png"`) {
		t.Errorf("downloaded image not rewritten: %s", out)
	}
	if strings.Contains(out, "srcset") {
		t.Errorf("srcset survived on rewritten image: %s", out)
	}
	if !strings.Contains(out, `src="https://cdn.example.com/missing.png"`) {
		t.Errorf("unfetched image should keep its remote src: %s", out)
	}
}

func TestRewriteIdempotent(t *testing.T) {
	rw := testRewriter(t)

	in := `<p><a href="https://blog.example.com/first-post">one</a>` +
		` and <a href="https://elsewhere.example.net/x">two</a>` +
		` <img src="https://cdn.example.com/photo.png"></p>`

	once, _, err := rw.Rewrite(in, PageBundleTarget())
	if err != nil {
		t.Fatalf("first pass: %v", err)
	}
	twice, _, err := rw.Rewrite(once, PageBundleTarget())
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if once != twice {
		t.Errorf("not idempotent:\nfirst:  %s\nsecond: %s", once, twice)
	}
}

func TestRewriteMalformedURLWarns(t *testing.T) {
	rw := testRewriter(t)

	in := `<a href=":/no-scheme">bad</a><a href="https://blog.example.com/first-post">good</a>`

	out, warnings, err := rw.Rewrite(in, PageBundleTarget())
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if len(warnings) != 1 {
		t.Fatalf("want 1 warning, got %v", warnings)
	}
	if !strings.Contains(out, `href=":/no-scheme"`) {
		t.Errorf("malformed href should be left as-is: %s", out)
	}
	if !strings.Contains(out, `href="first-post.html"`) {
		t.Errorf("good link should still be rewritten: %s", out)
	}
}

func TestRewriteCustomTarget(t *testing.T) {
	rw := testRewriter(t)

	target := Target{
		LinkHref: func(slug string) string { return "#" + slug },
		ImageSrc: func(a *archive.ImageAsset) string { return "file://" + a.LocalPath },
	}

	in := `<a href="/second-post">next</a><img src="https://cdn.example.com/photo.png">`
	out, _, err := rw.Rewrite(in, target)
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if !strings.Contains(out, `href="#second-post"`) {
		t.Errorf("print-style anchor missing: %s", out)
	}
	if !strings.Contains(out, `src="file:///tmp/images/abcdef01.png"`) {
		t.Errorf("file path src missing: %s", out)
	}
}
