package httpcache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/iTrooz/offline-first-proxy/internal/cache"
)

// HTTPCache stores HTTP responses in a named store, keyed by request URL
type HTTPCache struct {
	cache cache.Store
}

func New(store cache.Store) *HTTPCache {
	return &HTTPCache{
		cache: store,
	}
}

// GenerateKey returns the store key for a URL. Keys are method-less: only the
// scheme, host, path and query take part, and the fragment is ignored.
// The path is taken as escaped, so distinct URLs never share a key.
func GenerateKey(u *url.URL) (string, error) {
	if u == nil || !u.IsAbs() || u.Host == "" {
		return "", fmt.Errorf("cannot generate cache key for non-absolute URL %v", u)
	}

	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Host)
	switch scheme {
	case "http":
		host = strings.TrimSuffix(host, ":80")
	case "https":
		host = strings.TrimSuffix(host, ":443")
	}

	// Build path: scheme/host/segments.../RESPONSE[_qhash].bin
	pathParts := []string{scheme, host}

	if p := strings.TrimPrefix(u.EscapedPath(), "/"); p != "" {
		for _, segment := range strings.Split(p, "/") {
			pathParts = append(pathParts, keySegment(segment))
		}
	}

	filename := "RESPONSE"
	if u.RawQuery != "" {
		hash := sha256.Sum256([]byte(u.RawQuery))
		filename += "_q" + hex.EncodeToString(hash[:])[:16]
	}
	filename += ".bin"

	pathParts = append(pathParts, filename)

	return strings.Join(pathParts, "/"), nil
}

// keySegment maps the path segments a store would collapse to names that never
// appear in an escaped path: a lone "%" is not a valid escape.
func keySegment(segment string) string {
	switch segment {
	case "":
		return "%"
	case ".", "..":
		return "%" + segment
	default:
		return segment
	}
}

func (d *HTTPCache) SetKey(requestKey string, resp *http.Response) error {
	data, err := Serialize(resp)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if err := d.cache.Set(requestKey, data); err != nil {
		return fmt.Errorf("failed to set cache: %w", err)
	}

	return nil
}

// GetURL looks up a URL; the returned response is associated with req
func (d *HTTPCache) GetURL(u *url.URL, req *http.Request) (*http.Response, error) {
	requestKey, err := GenerateKey(u)
	if err != nil {
		return nil, fmt.Errorf("failed to generate cache key: %w", err)
	}

	resp, err := d.GetKey(requestKey)
	if err != nil {
		return nil, err
	}
	// Handle no cache hit
	if resp == nil {
		return nil, nil
	}

	// Associate the original request with the response
	resp.Request = req
	return resp, nil
}

func (d *HTTPCache) GetKey(requestKey string) (*http.Response, error) {
	data, err := d.cache.Get(requestKey)
	if err != nil {
		return nil, fmt.Errorf("failed to get cache: %w", err)
	}
	if data == nil {
		return nil, nil // Cache miss
	}

	resp, err := Deserialize(data)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize response: %w", err)
	}
	return resp, nil
}
