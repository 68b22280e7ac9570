package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	ErrInstallFailed = errors.New("install failed")
	ErrRedundant     = errors.New("worker is redundant")
)

// Registration drives workers through their lifecycle and routes fetches to
// the worker in control. Install and activation cycles never overlap.
type Registration struct {
	// lifecycle serialises install and activate cycles
	lifecycle sync.Mutex

	mu         sync.RWMutex
	installing *Worker
	waiting    *Worker
	controller *Worker
}

func NewRegistration() *Registration {
	return &Registration{}
}

// Register installs w and, unless it has to wait for the current controller,
// activates it. The returned error wraps ErrInstallFailed when precaching failed;
// the previous controller then stays in place.
func (r *Registration) Register(ctx context.Context, w *Worker) error {
	w.mu.Lock()
	if w.state != StateParsed {
		w.mu.Unlock()
		return fmt.Errorf("%w: generation %s was already registered", ErrRedundant, w.gen.Version)
	}
	w.registration = r
	w.state = StateInstalling
	w.mu.Unlock()

	if err := r.install(ctx, w); err != nil {
		return err
	}

	r.mu.Lock()
	if r.waiting != nil && r.waiting != w {
		logrus.Infof("Generation %s replaced by %s before activating", r.waiting.gen.Version, w.gen.Version)
		r.waiting.setState(StateRedundant)
	}
	r.waiting = w
	activateNow := r.controller == nil || w.skipWaitingRequested()
	r.mu.Unlock()

	if !activateNow {
		logrus.Infof("Generation %s installed, waiting for %s", w.gen.Version, SkipWaitingMessage)
		return nil
	}
	return r.activateWaiting(ctx, w)
}

func (r *Registration) install(ctx context.Context, w *Worker) error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	r.mu.Lock()
	r.installing = w
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		if r.installing == w {
			r.installing = nil
		}
		r.mu.Unlock()
	}()

	done, err := w.installed()
	if err != nil {
		logrus.Warnf("Could not check existing %s, installing again: %v", w.gen.AppStore(), err)
	}

	if done {
		logrus.Infof("Generation %s is already installed", w.gen.Version)
		if w.skipWaitingOnInstall {
			w.mu.Lock()
			w.skipWaiting = true
			w.mu.Unlock()
		}
	} else if err := w.Dispatch(ctx, InstallEvent()); err != nil {
		w.setState(StateRedundant)
		return fmt.Errorf("%w for generation %s: %w", ErrInstallFailed, w.gen.Version, err)
	}

	w.setState(StateInstalled)
	return nil
}

// activateWaiting activates w if it is still the waiting worker
func (r *Registration) activateWaiting(ctx context.Context, w *Worker) error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	r.mu.RLock()
	waiting, previous := r.waiting, r.controller
	r.mu.RUnlock()
	if waiting != w {
		return nil
	}

	w.setState(StateActivating)
	// The previous controller keeps answering requests until the claim but
	// must not recreate the stores about to be deleted
	if previous != nil {
		previous.retire()
	}

	if err := w.Dispatch(ctx, ActivateEvent()); err != nil {
		w.setState(StateInstalled)
		return fmt.Errorf("activation of generation %s failed: %w", w.gen.Version, err)
	}

	w.setState(StateActivated)
	logrus.Infof("Generation %s activated", w.gen.Version)
	return nil
}

// claim makes w the controller: every later fetch is routed to it
func (r *Registration) claim(w *Worker) {
	r.mu.Lock()
	previous := r.controller
	r.controller = w
	if r.waiting == w {
		r.waiting = nil
	}
	r.mu.Unlock()

	if previous != nil && previous != w {
		previous.setState(StateRedundant)
	}
	logrus.Infof("Generation %s now controls requests", w.gen.Version)
}

// Controller returns the worker in control, or nil before the first activation
func (r *Registration) Controller() *Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.controller
}

// Waiting returns the installed worker waiting to activate, if any
func (r *Registration) Waiting() *Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.waiting
}

// Fetch routes req to the controller. A nil response without error means the
// request is declined and must go to the network untouched.
func (r *Registration) Fetch(req *http.Request) (*http.Response, error) {
	controller := r.Controller()
	if controller == nil {
		return nil, nil
	}
	return controller.Fetch(req)
}

// PostMessage delivers a control message to the newest worker: the waiting
// one, else the installing one, else the controller
func (r *Registration) PostMessage(ctx context.Context, data string) error {
	r.mu.RLock()
	target := r.waiting
	if target == nil {
		target = r.installing
	}
	if target == nil {
		target = r.controller
	}
	r.mu.RUnlock()

	if target == nil {
		logrus.Debugf("No worker to receive message %q", data)
		return nil
	}
	return target.Dispatch(ctx, MessageEvent(data))
}

// Wait blocks until the detached writes of every known worker are done
func (r *Registration) Wait() {
	r.mu.RLock()
	workers := []*Worker{r.installing, r.waiting, r.controller}
	r.mu.RUnlock()
	for _, w := range workers {
		if w != nil {
			w.Wait()
		}
	}
}

// WorkerStatus describes one worker for status reports
type WorkerStatus struct {
	Version      string `json:"version"`
	State        string `json:"state"`
	AppStore     string `json:"app_store"`
	RuntimeStore string `json:"runtime_store"`
}

type Status struct {
	Installing *WorkerStatus `json:"installing,omitempty"`
	Waiting    *WorkerStatus `json:"waiting,omitempty"`
	Controller *WorkerStatus `json:"controller,omitempty"`
}

func (r *Registration) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Status{
		Installing: describe(r.installing),
		Waiting:    describe(r.waiting),
		Controller: describe(r.controller),
	}
}

func describe(w *Worker) *WorkerStatus {
	if w == nil {
		return nil
	}
	return &WorkerStatus{
		Version:      w.gen.Version,
		State:        w.State().String(),
		AppStore:     w.gen.AppStore(),
		RuntimeStore: w.gen.RuntimeStore(),
	}
}
