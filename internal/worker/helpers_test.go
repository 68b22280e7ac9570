package worker

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iTrooz/offline-first-proxy/internal/cache"
)

const testOrigin = "http://app.test"

var testAssets = []string{"/", "/index.html", "/manifest.json", "/icon-192.png", "/icon-512.png"}

var errOffline = errors.New("network unreachable")

// fakeNetwork answers fetches with an in-process handler and counts them
type fakeNetwork struct {
	handler http.Handler
	offline atomic.Bool
	calls   atomic.Int32

	mu   sync.Mutex
	seen []string
}

func (n *fakeNetwork) Fetch(_ context.Context, req *http.Request) (*http.Response, error) {
	n.calls.Add(1)
	n.mu.Lock()
	n.seen = append(n.seen, req.URL.String())
	n.mu.Unlock()
	if n.offline.Load() {
		return nil, errOffline
	}
	rec := httptest.NewRecorder()
	n.handler.ServeHTTP(rec, req)
	return rec.Result(), nil
}

// fixture_network serves "<host><path>" as the body of every asset, and
// 404 for paths starting with /missing
func fixture_network() *fakeNetwork {
	return &fakeNetwork{
		handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch {
			case r.URL.Path == "/missing" || r.URL.Path == "/missing.png":
				http.NotFound(w, r)
			case r.URL.Path == "/error":
				http.Error(w, "boom", http.StatusInternalServerError)
			default:
				w.Header().Set("Content-Type", "text/plain")
				_, _ = w.Write([]byte(r.URL.Host + r.URL.Path))
			}
		}),
	}
}

func fixture_worker(t *testing.T, version string, stores cache.Provider, network Fetcher, assets []string) *Worker {
	t.Helper()
	origin, err := url.Parse(testOrigin)
	require.NoError(t, err)

	w, err := New(Options{
		Origin:               origin,
		Generation:           Generation{Version: version},
		Assets:               assets,
		BootDocument:         "/index.html",
		SkipWaitingOnInstall: true,
		Stores:               stores,
		Fetcher:              network,
	})
	require.NoError(t, err)
	return w
}

// fixture_active returns a registration controlled by an installed and activated worker
func fixture_active(t *testing.T, stores cache.Provider, network *fakeNetwork) (*Registration, *Worker) {
	t.Helper()
	reg := NewRegistration()
	w := fixture_worker(t, "v1", stores, network, testAssets)
	require.NoError(t, reg.Register(context.Background(), w))
	require.Same(t, w, reg.Controller())
	network.calls.Store(0)
	return reg, w
}

func get(t *testing.T, target string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, target, nil)
	require.NoError(t, err)
	return req
}

func navigate(t *testing.T, target string) *http.Request {
	req := get(t, target)
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	req.Header.Set("Sec-Fetch-Dest", "document")
	return req
}

// failingRuntime fails every write to runtime stores
type failingRuntime struct {
	cache.Provider
}

func (f failingRuntime) Open(name string) (cache.Store, error) {
	if strings.HasPrefix(name, "runtime-") {
		return nil, errors.New("quota exceeded")
	}
	return f.Provider.Open(name)
}
