// Package bridge exposes the plugin operations to the host web view as JSON
// over HTTP, plus a websocket stream of origin and asset events.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cordum/devserver/core/assets"
	"github.com/cordum/devserver/core/infra/bus"
	"github.com/cordum/devserver/core/infra/logging"
	"github.com/cordum/devserver/core/infra/metrics"
	"github.com/cordum/devserver/core/infra/queue"
	"github.com/cordum/devserver/core/infra/schema"
	"github.com/cordum/devserver/core/origin"
	"github.com/gorilla/websocket"
)

const (
	maxBodyBytes    = 1 << 20
	shutdownTimeout = 5 * time.Second
)

// Options configures the HTTP surface.
type Options struct {
	Addr           string
	APIKey         string
	AllowedOrigins []string
	EventSubject   string
}

// Broker reports the state of the outbound event connection.
type Broker interface {
	IsConnected() bool
	Status() string
}

// Deps are the components the bridge drives.
type Deps struct {
	State     *origin.State
	Store     *assets.Store
	Installer *assets.Installer
	Queue     *queue.Queue
	Hub       *bus.Hub
	Events    bus.Publisher
	Schemas   *schema.Registry
	Metrics   metrics.BridgeMetrics

	// Broker is optional; when set /health reports it.
	Broker Broker
}

// Server is the plugin bridge.
type Server struct {
	opts     Options
	deps     Deps
	metrics  metrics.BridgeMetrics
	policy   originPolicy
	upgrader websocket.Upgrader
	ops      map[string]operation
	handler  http.Handler

	mu      sync.Mutex
	httpSrv *http.Server
}

func New(opts Options, deps Deps) (*Server, error) {
	if deps.State == nil || deps.Store == nil || deps.Installer == nil || deps.Queue == nil {
		return nil, errors.New("bridge: state, store, installer and queue required")
	}
	if deps.Schemas == nil {
		reg, err := schema.Requests()
		if err != nil {
			return nil, fmt.Errorf("bridge: load request schemas: %w", err)
		}
		deps.Schemas = reg
	}
	if deps.Hub == nil {
		deps.Hub = bus.NewHub()
	}
	if deps.Events == nil {
		deps.Events = deps.Hub
	}
	s := &Server{
		opts:    opts,
		deps:    deps,
		metrics: deps.Metrics,
		policy:  newOriginPolicy(opts.AllowedOrigins),
	}
	if s.metrics == nil {
		s.metrics = metrics.Noop{}
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin:  s.policy.allows,
		Subprotocols: []string{wsAPIKeyProtocol},
	}
	s.ops = s.operations()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.instrumented("/health", s.handleHealth))
	mux.HandleFunc("POST /api/v1/plugin/{method}", s.instrumented("/api/v1/plugin", s.handlePlugin))
	mux.HandleFunc("GET /api/v1/stream", s.instrumented("/api/v1/stream", s.handleStream))
	s.handler = corsMiddleware(s.policy, apiKeyMiddleware(opts.APIKey, mux))
	return s, nil
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Run serves on opts.Addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.httpSrv = srv
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		logging.Info("bridge", "listening", "addr", s.opts.Addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		s.deps.Hub.Close()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			_ = srv.Close()
			return err
		}
		return nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "ok"}
	if b := s.deps.Broker; b != nil {
		body["nats"] = b.Status()
		if !b.IsConnected() {
			body["status"] = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) publish(eventType string, data map[string]any) {
	if err := s.deps.Events.Publish(s.opts.EventSubject, bus.NewEvent(eventType, data)); err != nil {
		logging.Warn("bridge", "event publish failed", "type", eventType, "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
