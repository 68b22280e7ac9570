package worker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/iTrooz/offline-first-proxy/internal/cache/httpcache"
)

// handleInstall precaches every manifest asset into the app store. Either all
// assets are fetched successfully and written, or the install fails.
func (w *Worker) handleInstall(ctx context.Context, _ *Event) error {
	if w.skipWaitingOnInstall {
		if err := w.SkipWaiting(ctx); err != nil {
			return err
		}
	}

	store, err := w.stores.Open(w.gen.AppStore())
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", w.gen.AppStore(), err)
	}

	responses := make([]*http.Response, len(w.assets))
	g, gctx := errgroup.WithContext(ctx)
	for i, asset := range w.assets {
		g.Go(func() error {
			resp, err := w.precacheFetch(gctx, asset.String())
			if err != nil {
				return err
			}
			responses[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	appCache := httpcache.New(store)
	for i, asset := range w.assets {
		key, err := httpcache.GenerateKey(asset)
		if err != nil {
			return err
		}
		if err := appCache.SetKey(key, responses[i]); err != nil {
			return fmt.Errorf("failed to store %s: %w", asset, err)
		}
	}

	logrus.Infof("Precached %d assets into %s", len(w.assets), w.gen.AppStore())
	return nil
}

// precacheFetch fetches one asset and buffers its body. Any status outside 2xx is an error.
func (w *Worker) precacheFetch(ctx context.Context, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", target, err)
	}

	resp, err := w.fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", target, err)
	}
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("failed to fetch %s: status %d", target, resp.StatusCode)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", target, err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	resp.TransferEncoding = nil
	resp.Request = nil

	logrus.Debugf("Fetched %s for precache", target)
	return resp, nil
}

// installed reports whether the app store already holds every asset, which is
// the case when a previous run installed this same generation
func (w *Worker) installed() (bool, error) {
	store, err := w.stores.Lookup(w.gen.AppStore())
	if err != nil || store == nil {
		return false, err
	}
	for _, asset := range w.assets {
		key, err := httpcache.GenerateKey(asset)
		if err != nil {
			return false, err
		}
		data, err := store.Get(key)
		if err != nil {
			return false, err
		}
		if data == nil {
			return false, nil
		}
	}
	return true, nil
}

// handleActivate deletes every store that does not belong to this
// generation, then takes control of the registration
func (w *Worker) handleActivate(ctx context.Context, _ *Event) error {
	names, err := w.stores.Names()
	if err != nil {
		return fmt.Errorf("failed to list stores: %w", err)
	}

	for _, name := range names {
		if w.gen.Owns(name) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := w.stores.Delete(name); err != nil {
			return fmt.Errorf("failed to delete stale store %s: %w", name, err)
		}
		logrus.Infof("Deleted stale store %s", name)
	}

	return w.claim()
}

func (w *Worker) claim() error {
	w.mu.Lock()
	reg := w.registration
	w.mu.Unlock()
	if reg == nil {
		return nil
	}
	reg.claim(w)
	return nil
}

func (w *Worker) handleMessage(ctx context.Context, ev *Event) error {
	if ev.Data != SkipWaitingMessage {
		logrus.Debugf("Ignoring message %q", ev.Data)
		return nil
	}
	logrus.Infof("Received %s for generation %s", SkipWaitingMessage, w.gen.Version)
	return w.SkipWaiting(ctx)
}
