package localserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/cordum/devserver/core/infra/logging"
)

// Server is one running static server.
type Server interface {
	Addr() net.Addr
	Shutdown(ctx context.Context) error
	Close() error
}

// Backend binds addr and serves dir until the returned Server is stopped.
type Backend interface {
	Serve(dir, addr string) (Server, error)
}

// HTTPBackend serves directories with net/http.
type HTTPBackend struct {
	// Listen defaults to net.Listen.
	Listen func(network, addr string) (net.Listener, error)
}

func NewHTTPBackend() *HTTPBackend {
	return &HTTPBackend{Listen: net.Listen}
}

func (b *HTTPBackend) Serve(dir, addr string) (Server, error) {
	listen := b.Listen
	if listen == nil {
		listen = net.Listen
	}
	ln, err := listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	srv := &http.Server{
		Handler:           staticHandler(dir),
		ReadHeaderTimeout: 10 * time.Second,
	}
	hs := &httpServer{srv: srv, ln: ln, done: make(chan struct{})}
	go func() {
		defer close(hs.done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("localserver", "serve failed", "addr", ln.Addr().String(), "error", err)
		}
	}()
	return hs, nil
}

type httpServer struct {
	srv  *http.Server
	ln   net.Listener
	done chan struct{}
}

func (s *httpServer) Addr() net.Addr { return s.ln.Addr() }

func (s *httpServer) Shutdown(ctx context.Context) error {
	err := s.srv.Shutdown(ctx)
	if err == nil {
		<-s.done
	}
	return err
}

func (s *httpServer) Close() error {
	err := s.srv.Close()
	<-s.done
	return err
}
