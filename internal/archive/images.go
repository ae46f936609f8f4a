package archive

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"path"
	"strings"
)

// ImageAsset is an image stored once per unique byte content. LocalName is
// derived from the content hash so two different source URLs with identical
// bytes share one file on disk.
type ImageAsset struct {
	OriginalURL string
	ContentHash string
	LocalName   string
	LocalPath   string
	Size        int64
}

// ImageIndex maps every image URL referenced by at least one article to its
// stored asset. Multiple URLs may alias the same asset.
type ImageIndex struct {
	byURL  map[string]*ImageAsset
	byHash map[string]*ImageAsset
	order  []string
}

// NewImageIndex returns an empty ImageIndex.
func NewImageIndex() *ImageIndex {
	return &ImageIndex{
		byURL:  make(map[string]*ImageAsset),
		byHash: make(map[string]*ImageAsset),
	}
}

// HashContent returns the SHA-256 hex digest of the image bytes.
func HashContent(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// LocalImageName builds the on-disk filename for an image: the first 8 hex
// characters of its content hash plus the extension from its source URL
// (".jpg" when the URL carries none).
func LocalImageName(rawURL, contentHash string) string {
	ext := ".jpg"
	if u, err := url.Parse(rawURL); err == nil {
		if e := strings.ToLower(path.Ext(u.Path)); isImageExt(e) {
			ext = e
		}
	}
	return contentHash[:8] + ext
}

func isImageExt(ext string) bool {
	switch ext {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp", ".svg", ".avif", ".bmp", ".ico":
		return true
	}
	return false
}

// Seen reports whether an asset already exists for the given content hash.
// When it does, the asset is returned so the caller can alias a new URL to
// it without storing the bytes again.
func (ix *ImageIndex) Seen(contentHash string) (*ImageAsset, bool) {
	a, ok := ix.byHash[contentHash]
	return a, ok
}

// Insert records a newly stored asset under its source URL and content hash.
func (ix *ImageIndex) Insert(asset *ImageAsset) {
	if _, ok := ix.byURL[asset.OriginalURL]; !ok {
		ix.order = append(ix.order, asset.OriginalURL)
	}
	ix.byURL[asset.OriginalURL] = asset
	ix.byHash[asset.ContentHash] = asset
}

// Alias maps an additional URL to an existing asset. Used when a second URL
// resolves to byte-identical content.
func (ix *ImageIndex) Alias(rawURL string, asset *ImageAsset) {
	if _, ok := ix.byURL[rawURL]; !ok {
		ix.order = append(ix.order, rawURL)
	}
	ix.byURL[rawURL] = asset
}

// Lookup returns the asset for an image URL, or nil if the URL was never
// fetched successfully.
func (ix *ImageIndex) Lookup(rawURL string) *ImageAsset {
	return ix.byURL[rawURL]
}

// Len returns the number of indexed URLs (not unique assets).
func (ix *ImageIndex) Len() int {
	return len(ix.byURL)
}

// Assets returns the unique stored assets in first-seen order.
func (ix *ImageIndex) Assets() []*ImageAsset {
	var out []*ImageAsset
	seen := make(map[string]bool)
	for _, u := range ix.order {
		a := ix.byURL[u]
		if !seen[a.ContentHash] {
			seen[a.ContentHash] = true
			out = append(out, a)
		}
	}
	return out
}
