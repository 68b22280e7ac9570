package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/iTrooz/offline-first-proxy/internal/cache"
	"github.com/iTrooz/offline-first-proxy/internal/config"
	"github.com/iTrooz/offline-first-proxy/internal/control"
	"github.com/iTrooz/offline-first-proxy/internal/manifest"
	"github.com/iTrooz/offline-first-proxy/internal/proxy"
	"github.com/iTrooz/offline-first-proxy/internal/worker"
)

// app holds the long-lived components of the process
type app struct {
	cfg          *config.Config
	stores       cache.Provider
	registration *worker.Registration
	server       *proxy.Server
	fetcher      worker.Fetcher
}

func setup(cfg *config.Config) (*app, error) {
	stores, err := cache.New(cfg.Cache.Backend, cfg.Cache.Folder, cfg.Cache.DBFile)
	if err != nil {
		return nil, fmt.Errorf("creating cache: %w", err)
	}
	if err := stores.Init(); err != nil {
		return nil, fmt.Errorf("initializing cache: %w", err)
	}

	reg := worker.NewRegistration()
	server, err := proxy.New(cfg, reg)
	if err != nil {
		_ = stores.Close()
		return nil, fmt.Errorf("creating proxy server: %w", err)
	}

	timeout, err := cfg.GetUpstreamTimeout()
	if err != nil {
		_ = stores.Close()
		return nil, err
	}

	return &app{
		cfg:          cfg,
		stores:       stores,
		registration: reg,
		server:       server,
		fetcher:      worker.NewClientFetcher(server.Transport(), timeout),
	}, nil
}

// newWorker builds a worker for the precache manifest currently configured.
// The manifest file, when set, takes precedence over the inline asset list.
func (a *app) newWorker() (*worker.Worker, error) {
	origin, err := a.cfg.GetOrigin()
	if err != nil {
		return nil, err
	}

	version, assets := a.cfg.Precache.Version, a.cfg.Precache.Assets
	if a.cfg.Precache.ManifestFile != "" {
		m, err := manifest.Load(a.cfg.Precache.ManifestFile)
		if err != nil {
			return nil, fmt.Errorf("loading precache manifest: %w", err)
		}
		version, assets = m.Version, m.Assets
	}

	return worker.New(worker.Options{
		Origin:               origin,
		Generation:           worker.Generation{Version: version},
		Assets:               assets,
		BootDocument:         a.cfg.Precache.BootDocument,
		SkipWaitingOnInstall: a.cfg.Precache.SkipWaiting,
		Stores:               a.stores,
		Fetcher:              a.fetcher,
	})
}

// install registers the initial worker. A failure leaves the proxy passing
// every request through to the network.
func (a *app) install(ctx context.Context) {
	w, err := a.newWorker()
	if err != nil {
		logrus.Errorf("Failed to create worker: %v", err)
		return
	}
	if err := a.registration.Register(ctx, w); err != nil {
		logrus.Errorf("Failed to install generation %s: %v", w.Generation().Version, err)
		return
	}
	logrus.Infof("Generation %s is in control", a.registration.Controller().Generation().Version)
}

func (a *app) controlHandler() http.Handler {
	return control.New(a.registration, a.stores, a.newWorker).Router()
}

func (a *app) close() {
	a.registration.Wait()
	if err := a.stores.Close(); err != nil {
		logrus.Errorf("Failed to close cache: %v", err)
	}
}

func main() {
	configPath := "configs/config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		logrus.Fatalf("Invalid configuration: %v", err)
	}

	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		logrus.Fatalf("Invalid log level: %v", err)
	}
	logrus.SetLevel(level)

	a, err := setup(cfg)
	if err != nil {
		logrus.Fatalf("Failed to start: %v", err)
	}
	defer a.close()

	a.install(context.Background())

	if cfg.Server.ControlPort != 0 {
		go func() {
			logrus.Infof("Starting control API on port %d", cfg.Server.ControlPort)
			if err := http.ListenAndServe(fmt.Sprintf(":%d", cfg.Server.ControlPort), a.controlHandler()); err != nil {
				logrus.Errorf("Control API stopped: %v", err)
			}
		}()
	}

	if err := a.server.Start(); err != nil {
		logrus.Errorf("Server failed: %v", err)
	}
}
