package worker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/elazarl/goproxy"
	"github.com/sirupsen/logrus"

	"github.com/iTrooz/offline-first-proxy/internal/cache/httpcache"
)

const offlineBody = "Offline"

func (w *Worker) handleFetch(ctx context.Context, ev *Event) error {
	req := ev.Request
	route := Classify(req, w.origin)
	logrus.Debugf("%s %s -> %s", req.Method, req.URL, route)

	switch route {
	case RouteNavigation:
		resp, err := w.navigate(ctx, req)
		if err != nil {
			return err
		}
		ev.RespondWith(resp)
	case RouteCacheFirst:
		ev.RespondWith(w.cacheFirst(ctx, req, offlineResponse))
	case RouteNetworkFallback:
		ev.RespondWith(w.cacheFirst(ctx, req, notFoundResponse))
	}
	return nil
}

// navigate serves the cached boot document whatever path was requested, so
// client side routes resolve offline. The network is only used when the boot
// document is in no store.
func (w *Worker) navigate(ctx context.Context, req *http.Request) (*http.Response, error) {
	cached := w.match(w.bootDocument, req)
	if cached != nil {
		logrus.Debugf("Navigation to %s served with cached %s", req.URL, w.bootDocument)
		return cached, nil
	}

	resp, err := w.fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("navigation fetch of %s failed: %w", req.URL, err)
	}
	return resp, nil
}

// cacheFirst answers from any store, falling back to the network. Successful
// network responses are copied into the runtime store in the background;
// network failures are answered by onFailure.
func (w *Worker) cacheFirst(ctx context.Context, req *http.Request, onFailure func(*http.Request) *http.Response) *http.Response {
	if cached := w.match(req.URL, req); cached != nil {
		logrus.Debugf("Serving from cache: %s", req.URL)
		return cached
	}

	resp, err := w.fetcher.Fetch(ctx, req)
	if err != nil {
		logrus.Debugf("Network fetch of %s failed: %v", req.URL, err)
		return onFailure(req)
	}
	if resp.StatusCode != http.StatusOK {
		return resp
	}

	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		logrus.Debugf("Reading body of %s failed: %v", req.URL, err)
		return onFailure(req)
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	resp.TransferEncoding = nil

	stored := *resp
	stored.Header = resp.Header.Clone()
	stored.Body = io.NopCloser(bytes.NewReader(body))
	stored.Request = nil
	w.putRuntimeDetached(req.URL, &stored)

	return resp
}

// putRuntimeDetached writes resp to the runtime store without blocking the
// caller. Failures (quota, I/O) are logged and dropped: the runtime store is
// best effort.
func (w *Worker) putRuntimeDetached(u *url.URL, resp *http.Response) {
	w.detached.Add(1)
	go func() {
		defer w.detached.Done()
		if err := w.putRuntime(u, resp); err != nil {
			logrus.Debugf("Dropped runtime cache write for %s: %v", u, err)
		}
	}()
}

func (w *Worker) putRuntime(u *url.URL, resp *http.Response) error {
	w.writes.RLock()
	defer w.writes.RUnlock()
	if w.retired {
		return nil
	}

	key, err := httpcache.GenerateKey(u)
	if err != nil {
		return err
	}
	store, err := w.stores.Open(w.gen.RuntimeStore())
	if err != nil {
		return err
	}
	return httpcache.New(store).SetKey(key, resp)
}

// match looks u up in every store: the app store first, then the runtime
// store, then any other. Lookup errors count as misses.
func (w *Worker) match(u *url.URL, req *http.Request) *http.Response {
	names, err := w.stores.Names()
	if err != nil {
		logrus.Errorf("Failed to list stores: %v", err)
		return nil
	}

	ordered := make([]string, 0, len(names))
	for _, preferred := range []string{w.gen.AppStore(), w.gen.RuntimeStore()} {
		for _, n := range names {
			if n == preferred {
				ordered = append(ordered, n)
			}
		}
	}
	for _, n := range names {
		if !w.gen.Owns(n) {
			ordered = append(ordered, n)
		}
	}

	for _, name := range ordered {
		store, err := w.stores.Lookup(name)
		if err != nil {
			logrus.Errorf("Failed to open store %s: %v", name, err)
			continue
		}
		if store == nil {
			continue // deleted since listed
		}
		resp, err := httpcache.New(store).GetURL(u, req)
		if err != nil {
			logrus.Errorf("Failed to read %s from store %s: %v", u, name, err)
			continue
		}
		if resp != nil {
			return resp
		}
	}
	return nil
}

func offlineResponse(req *http.Request) *http.Response {
	return goproxy.NewResponse(req, goproxy.ContentTypeText, http.StatusServiceUnavailable, offlineBody)
}

func notFoundResponse(req *http.Request) *http.Response {
	return goproxy.NewResponse(req, goproxy.ContentTypeText, http.StatusNotFound, "")
}
