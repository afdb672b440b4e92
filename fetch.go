package offlinecache

import (
	"net/http"
	"net/url"
)

// Fetcher performs the actual network round trip for a request. It is an
// injected capability so strategies can be tested without a live network.
type Fetcher interface {
	Do(r *http.Request) (*http.Response, error)
}

// OriginFetcher fetches over HTTP, directing relative URLs to the configured
// origin server. Absolute third-party URLs are fetched as-is.
type OriginFetcher struct {
	origin *url.URL
	client http.Client
}

func NewOriginFetcher(origin *url.URL) *OriginFetcher {
	return &OriginFetcher{
		origin: origin,
		client: http.Client{
			// do not follow redirects
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (f *OriginFetcher) Do(r *http.Request) (*http.Response, error) {
	u := *r.URL
	if !u.IsAbs() {
		u.Scheme = f.origin.Scheme
		u.Host = f.origin.Host
	}
	req, err := http.NewRequestWithContext(r.Context(), r.Method, u.String(), r.Body)
	if err != nil {
		return nil, err
	}
	copyHeader(req.Header, r.Header)
	return f.client.Do(req)
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}
