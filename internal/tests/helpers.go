package tests

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iTrooz/offline-first-proxy/internal/cache"
	"github.com/iTrooz/offline-first-proxy/internal/config"
	"github.com/iTrooz/offline-first-proxy/internal/proxy"
	"github.com/iTrooz/offline-first-proxy/internal/worker"
)

var fixture_assets = []string{"/", "/index.html", "/app.js"}

// upstream is a test origin counting the requests it answers
type upstream struct {
	*httptest.Server
	hits atomic.Int32
}

// fixture_upstream creates a test upstream server answering "<method> <path>"
func fixture_upstream(t *testing.T) *upstream {
	t.Helper()
	u := &upstream{}
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, requ *http.Request) {
		u.hits.Add(1)
		if requ.URL.Path == "/missing" {
			http.NotFound(w, requ)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(requ.Method + " " + requ.URL.Path))
	}))
	t.Cleanup(u.Close)
	return u
}

// fixture_config creates a test config persisting stores under folder
func fixture_config(origin, folder string) *config.Config {
	cfg := config.Default()
	cfg.Server.Origin = origin
	cfg.Cache.Backend = "disk"
	cfg.Cache.Folder = folder
	cfg.Precache.Version = "v1"
	cfg.Precache.Assets = fixture_assets
	return &cfg
}

// stack is a proxy with its registration and stores
type stack struct {
	cfg          *config.Config
	stores       cache.Provider
	registration *worker.Registration
	server       *proxy.Server
	client       *http.Client
}

// fixture_stack creates the proxy for cfg and a client sending every request through it
func fixture_stack(t *testing.T, cfg *config.Config) *stack {
	t.Helper()

	stores, err := cache.New(cfg.Cache.Backend, cfg.Cache.Folder, cfg.Cache.DBFile)
	require.NoError(t, err)
	require.NoError(t, stores.Init())

	reg := worker.NewRegistration()
	server, err := proxy.New(cfg, reg)
	require.NoError(t, err)

	proxyTestServer := httptest.NewServer(server.GetProxy())
	t.Cleanup(func() {
		proxyTestServer.Close()
		reg.Wait()
		_ = stores.Close()
	})

	proxyURL, err := url.Parse(proxyTestServer.URL)
	require.NoError(t, err)

	return &stack{
		cfg:          cfg,
		stores:       stores,
		registration: reg,
		server:       server,
		client: &http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyURL(proxyURL),
			},
			Timeout: 10 * time.Second,
		},
	}
}

// install registers a worker for the configured generation
func (s *stack) install(t *testing.T) *worker.Worker {
	t.Helper()
	origin, err := s.cfg.GetOrigin()
	require.NoError(t, err)

	w, err := worker.New(worker.Options{
		Origin:               origin,
		Generation:           worker.Generation{Version: s.cfg.Precache.Version},
		Assets:               s.cfg.Precache.Assets,
		BootDocument:         s.cfg.Precache.BootDocument,
		SkipWaitingOnInstall: s.cfg.Precache.SkipWaiting,
		Stores:               s.stores,
		Fetcher:              worker.NewClientFetcher(s.server.Transport(), 5*time.Second),
	})
	require.NoError(t, err)
	require.NoError(t, s.registration.Register(context.Background(), w))
	return w
}
