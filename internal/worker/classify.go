package worker

import (
	"net/http"
	"net/url"
	"strings"
)

// Route is the strategy selected for an intercepted request
type Route int

const (
	// RoutePassthrough leaves the request to default network handling
	RoutePassthrough Route = iota
	// RouteNavigation serves the cached boot document
	RouteNavigation
	// RouteCacheFirst serves same-origin assets, 503 when offline
	RouteCacheFirst
	// RouteNetworkFallback serves cross-origin assets, 404 when offline
	RouteNetworkFallback
)

func (r Route) String() string {
	switch r {
	case RoutePassthrough:
		return "passthrough"
	case RouteNavigation:
		return "navigation"
	case RouteCacheFirst:
		return "cache-first"
	case RouteNetworkFallback:
		return "network-fallback"
	default:
		return "unknown"
	}
}

// Classify picks the strategy for req. origin is the application's origin.
func Classify(req *http.Request, origin *url.URL) Route {
	if req.Method != http.MethodGet {
		return RoutePassthrough
	}

	scheme := strings.ToLower(req.URL.Scheme)
	if scheme != "http" && scheme != "https" {
		return RoutePassthrough
	}

	if IsNavigation(req) {
		return RouteNavigation
	}

	if SameOrigin(req.URL, origin) {
		return RouteCacheFirst
	}
	return RouteNetworkFallback
}

// IsNavigation reports whether req is a top-level document load, as flagged
// by the browser's fetch metadata headers
func IsNavigation(req *http.Request) bool {
	if strings.EqualFold(req.Header.Get("Sec-Fetch-Mode"), "navigate") {
		return true
	}
	return req.Header.Get("Sec-Fetch-Mode") == "" && strings.EqualFold(req.Header.Get("Sec-Fetch-Dest"), "document")
}

// SameOrigin compares scheme, host and port, treating default ports as implicit
func SameOrigin(a, b *url.URL) bool {
	return strings.EqualFold(a.Scheme, b.Scheme) &&
		strings.EqualFold(a.Hostname(), b.Hostname()) &&
		effectivePort(a) == effectivePort(b)
}

func effectivePort(u *url.URL) string {
	if p := u.Port(); p != "" {
		return p
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		return "80"
	case "https":
		return "443"
	}
	return ""
}
