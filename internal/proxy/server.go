package proxy

import (
	"crypto/tls"
	"fmt"
	"net/http"

	"github.com/elazarl/goproxy"
	"github.com/sirupsen/logrus"

	"github.com/iTrooz/offline-first-proxy/internal/config"
	"github.com/iTrooz/offline-first-proxy/internal/worker"
)

// Server is the forward proxy hosting the worker. Every request goes through
// the registration first; declined requests are forwarded by goproxy itself.
type Server struct {
	config       *config.Config
	proxy        *goproxy.ProxyHttpServer
	registration *worker.Registration
}

// New creates a new proxy server
func New(cfg *config.Config, reg *worker.Registration) (*Server, error) {
	s := &Server{
		config:       cfg,
		proxy:        goproxy.NewProxyHttpServer(),
		registration: reg,
	}
	s.proxy.Verbose = logrus.IsLevelEnabled(logrus.TraceLevel)
	s.proxy.CertStore = newCertStore()

	if cfg.Server.HTTPS.Enabled {
		if err := s.setupHTTPSProxyHandler(); err != nil {
			return nil, err
		}
	}

	s.proxy.OnRequest().DoFunc(s.onRequest)

	return s, nil
}

// GetProxy returns the HTTP handler of the proxy
func (s *Server) GetProxy() *goproxy.ProxyHttpServer {
	return s.proxy
}

// Transport is used both for forwarded requests and for the worker's own
// network fetches
func (s *Server) Transport() *http.Transport {
	if s.proxy.Tr == nil {
		s.proxy.Tr = &http.Transport{
			TLSClientConfig: &tls.Config{},
			Proxy:           http.ProxyFromEnvironment,
		}
	}
	return s.proxy.Tr
}

func (s *Server) onRequest(req *http.Request, ctx *goproxy.ProxyCtx) (*http.Request, *http.Response) {
	resp, err := s.registration.Fetch(req)
	if err != nil {
		logrus.Errorf("Worker failed to handle %s %s: %v", req.Method, req.URL, err)
		return req, goproxy.NewResponse(req, goproxy.ContentTypeText, http.StatusBadGateway, err.Error())
	}
	if resp == nil {
		logrus.Debugf("Passing through %s %s", req.Method, req.URL)
		return req, nil
	}

	logrus.Infof("Served by worker: %s %s -> %d", req.Method, req.URL, resp.StatusCode)
	return req, resp
}

// Start starts the proxy server, and the transparent HTTPS listener if configured
func (s *Server) Start() error {
	if addr := s.config.Server.HTTPS.TransparentAddr; addr != "" {
		go func() {
			if err := s.StartTransparentHTTPS(addr); err != nil {
				logrus.Errorf("Transparent HTTPS listener stopped: %v", err)
			}
		}()
	}

	logrus.Infof("Starting offline-first proxy on port %d", s.config.Server.Port)
	logrus.Infof("Application origin: %s", s.config.Server.Origin)
	logrus.Infof("Cache backend: %s", s.config.Cache.Backend)

	return http.ListenAndServe(fmt.Sprintf(":%d", s.config.Server.Port), s.proxy)
}
