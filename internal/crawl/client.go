// Package crawl implements post discovery and the bounded-concurrency
// content fetcher for one archive run.
package crawl

import (
	"crypto/tls"
	"net/http"
	"time"
)

// NewHTTPClient builds the shared HTTP client for a run: redirect-following,
// a hard timeout, and browser-like headers on every request. Some blogs
// reject requests without an Accept header with a 406.
func NewHTTPClient(timeout time.Duration, insecureSkipVerify bool) *http.Client {
	base := http.DefaultTransport
	if insecureSkipVerify {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		base = t
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: &userAgentTransport{base: base},
	}
}

// userAgentTransport wraps an http.RoundTripper to inject browser-like
// headers on every request.
type userAgentTransport struct {
	base http.RoundTripper
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; blogpack/1.0; offline reader)")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	return t.base.RoundTrip(req)
}
