// Package control serves the HTTP API used to inspect and drive the worker
// registration.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/iTrooz/offline-first-proxy/internal/cache"
	"github.com/iTrooz/offline-first-proxy/internal/worker"
)

const maxMessageSize = 4 << 10

// WorkerFactory builds a worker from the current precache manifest
type WorkerFactory func() (*worker.Worker, error)

type Server struct {
	registration *worker.Registration
	stores       cache.Provider
	newWorker    WorkerFactory
	updates      singleflight.Group
}

func New(reg *worker.Registration, stores cache.Provider, newWorker WorkerFactory) *Server {
	return &Server{
		registration: reg,
		stores:       stores,
		newWorker:    newWorker,
	}
}

// Router returns the HTTP handler of the control API
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Post("/messages", s.handleMessage)
	r.Post("/update", s.handleUpdate)

	return r
}

type statusResponse struct {
	worker.Status
	Stores []string `json:"stores"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.registration.Controller() == nil {
		http.Error(w, "no active worker", http.StatusServiceUnavailable)
		return
	}
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	names, err := s.stores.Names()
	if err != nil {
		logrus.Errorf("Failed to list stores: %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Status: s.registration.Status(),
		Stores: names,
	})
}

// handleMessage forwards the request body, trimmed, as a message payload
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxMessageSize))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.registration.PostMessage(r.Context(), strings.TrimSpace(string(data))); err != nil {
		logrus.Errorf("Failed to deliver message: %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleUpdate registers a worker built from the current manifest. The
// install runs detached from the HTTP request so a client disconnect does not
// abort it, and concurrent updates share a single install.
func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := context.WithoutCancel(r.Context())
	_, err, shared := s.updates.Do("update", func() (any, error) {
		return nil, s.update(ctx)
	})
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, errBadManifest):
			status = http.StatusBadRequest
		case errors.Is(err, worker.ErrInstallFailed):
			status = http.StatusBadGateway
		}
		http.Error(w, err.Error(), status)
		return
	}
	if shared {
		logrus.Debugf("Update request joined an install in progress")
	}

	writeJSON(w, http.StatusOK, s.registration.Status())
}

var errBadManifest = errors.New("invalid precache manifest")

func (s *Server) update(ctx context.Context) error {
	next, err := s.newWorker()
	if err != nil {
		return fmt.Errorf("%w: %w", errBadManifest, err)
	}
	if err := s.registration.Register(ctx, next); err != nil {
		logrus.Errorf("Update to generation %s failed: %v", next.Generation().Version, err)
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.Errorf("Failed to write response: %v", err)
	}
}
