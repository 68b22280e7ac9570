package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iTrooz/offline-first-proxy/internal/config"
)

func fixture_origin(t *testing.T) *httptest.Server {
	t.Helper()
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(r.URL.Path))
	}))
	t.Cleanup(origin.Close)
	return origin
}

func fixture_app(t *testing.T, mutate func(*config.Config)) *app {
	t.Helper()
	origin := fixture_origin(t)

	cfg := config.Default()
	cfg.Server.Origin = origin.URL
	cfg.Cache.Backend = "sqlite"
	cfg.Cache.DBFile = filepath.Join(t.TempDir(), "cache.db")
	cfg.Precache.Assets = []string{"/", "/index.html"}
	if mutate != nil {
		mutate(&cfg)
	}
	require.NoError(t, cfg.Validate())

	a, err := setup(&cfg)
	require.NoError(t, err)
	t.Cleanup(a.close)
	return a
}

func TestInstallFromConfig(t *testing.T) {
	a := fixture_app(t, nil)
	a.install(context.Background())

	controller := a.registration.Controller()
	require.NotNil(t, controller)
	assert.Equal(t, "dentro-v3", controller.Generation().Version)

	names, err := a.stores.Names()
	require.NoError(t, err)
	assert.Equal(t, []string{"app-dentro-v3"}, names)
}

func TestInstallFromManifestFile(t *testing.T) {
	manifestPath := filepath.Join(t.TempDir(), "precache.yaml")
	require.NoError(t, os.WriteFile(manifestPath, []byte("version: build-42\nassets:\n  - /\n  - /index.html\n  - /app.js\n"), 0644))

	a := fixture_app(t, func(cfg *config.Config) {
		cfg.Precache.ManifestFile = manifestPath
	})
	a.install(context.Background())

	controller := a.registration.Controller()
	require.NotNil(t, controller)
	assert.Equal(t, "build-42", controller.Generation().Version)

	store, err := a.stores.Lookup("app-build-42")
	require.NoError(t, err)
	require.NotNil(t, store)
	keys, err := store.Keys()
	require.NoError(t, err)
	assert.Len(t, keys, 3)
}

func TestInstallFailureLeavesProxyPassingThrough(t *testing.T) {
	a := fixture_app(t, func(cfg *config.Config) {
		cfg.Precache.Assets = []string{"/", "/missing"}
	})
	a.install(context.Background())
	assert.Nil(t, a.registration.Controller())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	a.controlHandler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestNewWorkerWithBadManifest(t *testing.T) {
	a := fixture_app(t, func(cfg *config.Config) {
		cfg.Precache.ManifestFile = filepath.Join(t.TempDir(), "absent.yaml")
	})
	_, err := a.newWorker()
	assert.Error(t, err)

	a.install(context.Background())
	assert.Nil(t, a.registration.Controller())
}
