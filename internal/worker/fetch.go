package worker

import (
	"context"
	"net/http"
	"time"
)

// Fetcher performs live network requests on behalf of the worker
type Fetcher interface {
	Fetch(ctx context.Context, req *http.Request) (*http.Response, error)
}

// ClientFetcher is a Fetcher backed by an http.Client. Redirects are not
// followed: they are handed back to the browser like any other response.
type ClientFetcher struct {
	client *http.Client
}

// NewClientFetcher creates a fetcher using transport. A zero timeout means
// requests may hang for as long as the transport lets them.
func NewClientFetcher(transport http.RoundTripper, timeout time.Duration) *ClientFetcher {
	return &ClientFetcher{
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

var hopHeaders = []string{
	"Proxy-Connection",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Connection",
	"Keep-Alive",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

func (f *ClientFetcher) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	out := req.Clone(ctx)
	// Server side requests carry a RequestURI, which clients refuse to send
	out.RequestURI = ""
	for _, h := range hopHeaders {
		out.Header.Del(h)
	}
	return f.client.Do(out)
}
