package tests

import (
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func doRequest(t *testing.T, client *http.Client, method, target string, header http.Header) (int, string) {
	t.Helper()
	req, err := http.NewRequest(method, target, strings.NewReader(""))
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

var navigation = http.Header{"Sec-Fetch-Mode": {"navigate"}}

func TestProxyIntegration(t *testing.T) {
	origin := fixture_upstream(t)
	s := fixture_stack(t, fixture_config(origin.URL, t.TempDir()))
	s.install(t)
	assert.EqualValues(t, len(fixture_assets), origin.hits.Load())

	t.Run("runtime asset is fetched once", func(t *testing.T) {
		status, body := doRequest(t, s.client, http.MethodGet, origin.URL+"/data.json", nil)
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, "GET /data.json", body)
		s.registration.Wait()
	})

	t.Run("non-GET requests pass through", func(t *testing.T) {
		before := origin.hits.Load()
		status, body := doRequest(t, s.client, http.MethodPost, origin.URL+"/submit", nil)
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, "POST /submit", body)
		assert.Equal(t, before+1, origin.hits.Load())
	})

	origin.Close()

	t.Run("navigation is answered with the boot document", func(t *testing.T) {
		for _, path := range []string{"/", "/patients/42", "/settings?tab=profile"} {
			status, body := doRequest(t, s.client, http.MethodGet, origin.URL+path, navigation)
			assert.Equal(t, http.StatusOK, status, path)
			assert.Equal(t, "GET /index.html", body, path)
		}
	})

	t.Run("precached asset", func(t *testing.T) {
		status, body := doRequest(t, s.client, http.MethodGet, origin.URL+"/app.js", nil)
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, "GET /app.js", body)
	})

	t.Run("runtime cached asset", func(t *testing.T) {
		status, body := doRequest(t, s.client, http.MethodGet, origin.URL+"/data.json", nil)
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, "GET /data.json", body)
	})

	t.Run("unknown asset", func(t *testing.T) {
		status, body := doRequest(t, s.client, http.MethodGet, origin.URL+"/never-seen.js", nil)
		assert.Equal(t, http.StatusServiceUnavailable, status)
		assert.Equal(t, "Offline", body)
	})
}

func TestProxyIntegrationCrossOrigin(t *testing.T) {
	origin := fixture_upstream(t)
	cdn := fixture_upstream(t)
	s := fixture_stack(t, fixture_config(origin.URL, t.TempDir()))
	s.install(t)

	status, body := doRequest(t, s.client, http.MethodGet, cdn.URL+"/font.woff2", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "GET /font.woff2", body)
	s.registration.Wait()

	status, _ = doRequest(t, s.client, http.MethodGet, cdn.URL+"/missing", nil)
	assert.Equal(t, http.StatusNotFound, status)

	cdn.Close()

	status, body = doRequest(t, s.client, http.MethodGet, cdn.URL+"/font.woff2", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "GET /font.woff2", body)
	assert.EqualValues(t, 2, cdn.hits.Load())

	status, body = doRequest(t, s.client, http.MethodGet, cdn.URL+"/other.woff2", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Empty(t, body)
}

func TestProxyIntegrationRestartOffline(t *testing.T) {
	origin := fixture_upstream(t)
	folder := t.TempDir()

	first := fixture_stack(t, fixture_config(origin.URL, folder))
	first.install(t)

	origin.Close()

	// Same generation, same stores, no network
	second := fixture_stack(t, fixture_config(origin.URL, folder))
	second.install(t)

	status, body := doRequest(t, second.client, http.MethodGet, origin.URL+"/deep/link", navigation)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "GET /index.html", body)
}

func TestProxyIntegrationGenerationUpdate(t *testing.T) {
	origin := fixture_upstream(t)
	folder := t.TempDir()

	cfg := fixture_config(origin.URL, folder)
	s := fixture_stack(t, cfg)
	s.install(t)

	_, _ = doRequest(t, s.client, http.MethodGet, origin.URL+"/data.json", nil)
	s.registration.Wait()

	cfg.Precache.Version = "v2"
	s.install(t)

	names, err := s.stores.Names()
	require.NoError(t, err)
	assert.Equal(t, []string{"app-v2"}, names)
	assert.Equal(t, "v2", s.registration.Controller().Generation().Version)
}
