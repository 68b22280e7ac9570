// Package worker implements the offline-first request interceptor: precaching
// at install time, stale generation cleanup at activation time and the
// per-request caching strategies.
package worker

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/iTrooz/offline-first-proxy/internal/cache"
)

// SkipWaitingMessage is the only control payload a worker reacts to
const SkipWaitingMessage = "SKIP_WAITING"

// Generation tags the pair of named stores owned by one deployment
type Generation struct {
	Version string
}

func (g Generation) AppStore() string {
	return "app-" + g.Version
}

func (g Generation) RuntimeStore() string {
	return "runtime-" + g.Version
}

// Owns reports whether the named store belongs to this generation
func (g Generation) Owns(name string) bool {
	return name == g.AppStore() || name == g.RuntimeStore()
}

// State is the lifecycle state of a worker
type State int

const (
	StateParsed State = iota
	StateInstalling
	StateInstalled
	StateActivating
	StateActivated
	StateRedundant
)

func (s State) String() string {
	switch s {
	case StateParsed:
		return "parsed"
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateActivating:
		return "activating"
	case StateActivated:
		return "activated"
	case StateRedundant:
		return "redundant"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Options configures a Worker
type Options struct {
	// Origin of the hosted application; requests to it are same-origin
	Origin *url.URL
	// Generation whose stores the worker reads and writes
	Generation Generation
	// Assets precached at install time, as paths or absolute URLs
	Assets []string
	// BootDocument served for every navigation request
	BootDocument string
	// SkipWaitingOnInstall activates the worker as soon as it is installed
	SkipWaitingOnInstall bool
	Stores               cache.Provider
	Fetcher              Fetcher
}

// Worker handles lifecycle and fetch triggers for one generation.
// It is driven by a Registration.
type Worker struct {
	origin       *url.URL
	gen          Generation
	assets       []*url.URL
	bootDocument *url.URL
	stores       cache.Provider
	fetcher      Fetcher
	handlers     map[Trigger]Handler

	skipWaitingOnInstall bool

	mu           sync.Mutex
	state        State
	skipWaiting  bool
	registration *Registration

	// writes guards retired; detached writes hold it for reading
	writes   sync.RWMutex
	retired  bool
	detached sync.WaitGroup
}

// New creates a worker, resolving every asset against the origin
func New(opts Options) (*Worker, error) {
	if opts.Origin == nil || !opts.Origin.IsAbs() {
		return nil, fmt.Errorf("worker origin must be an absolute URL")
	}
	if opts.Generation.Version == "" {
		return nil, fmt.Errorf("worker generation version is required")
	}
	if opts.Stores == nil || opts.Fetcher == nil {
		return nil, fmt.Errorf("worker needs a store provider and a fetcher")
	}

	w := &Worker{
		origin:               opts.Origin,
		gen:                  opts.Generation,
		stores:               opts.Stores,
		fetcher:              opts.Fetcher,
		skipWaitingOnInstall: opts.SkipWaitingOnInstall,
	}

	for _, a := range opts.Assets {
		u, err := w.resolve(a)
		if err != nil {
			return nil, fmt.Errorf("invalid precache asset %q: %w", a, err)
		}
		w.assets = append(w.assets, u)
	}

	boot, err := w.resolve(opts.BootDocument)
	if err != nil {
		return nil, fmt.Errorf("invalid boot document %q: %w", opts.BootDocument, err)
	}
	w.bootDocument = boot

	w.handlers = map[Trigger]Handler{
		TriggerInstall:  w.handleInstall,
		TriggerActivate: w.handleActivate,
		TriggerFetch:    w.handleFetch,
		TriggerMessage:  w.handleMessage,
	}

	return w, nil
}

func (w *Worker) resolve(ref string) (*url.URL, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, err
	}
	return w.origin.ResolveReference(u), nil
}

func (w *Worker) Generation() Generation {
	return w.gen
}

func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state = s
}

// Handlers returns the dispatch table of the worker
func (w *Worker) Handlers() map[Trigger]Handler {
	return w.handlers
}

// Dispatch runs the handler registered for the event's trigger and returns
// once it has completed. Triggers without a handler are ignored.
func (w *Worker) Dispatch(ctx context.Context, ev *Event) error {
	h, ok := w.handlers[ev.Trigger]
	if !ok {
		return nil
	}
	return h(ctx, ev)
}

// SkipWaiting asks for the worker to be activated as soon as it is installed,
// even if another worker currently controls the registration
func (w *Worker) SkipWaiting(ctx context.Context) error {
	w.mu.Lock()
	w.skipWaiting = true
	waiting := w.state == StateInstalled
	reg := w.registration
	w.mu.Unlock()

	if waiting && reg != nil {
		return reg.activateWaiting(ctx, w)
	}
	return nil
}

func (w *Worker) skipWaitingRequested() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.skipWaiting
}

// retire stops the worker from writing to its stores. It returns once every
// in-flight write has completed.
func (w *Worker) retire() {
	w.writes.Lock()
	defer w.writes.Unlock()
	w.retired = true
}

// Wait blocks until every detached store write has finished
func (w *Worker) Wait() {
	w.detached.Wait()
}

// Fetch dispatches a fetch trigger for req. A nil response means the worker
// declined the request and it should go to the network untouched.
func (w *Worker) Fetch(req *http.Request) (*http.Response, error) {
	ev := FetchEvent(req)
	if err := w.Dispatch(req.Context(), ev); err != nil {
		return nil, err
	}
	resp, _ := ev.Response()
	return resp, nil
}
