// Package localserver runs at most one loopback static server for a bundle
// directory and switches it between directories without port races.
package localserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/cordum/devserver/core/infra/config"
	"github.com/cordum/devserver/core/infra/logging"
	"github.com/cordum/devserver/core/infra/metrics"
)

const (
	defaultHost        = "127.0.0.1"
	defaultRetryDelay  = 500 * time.Millisecond
	defaultSettleDelay = 300 * time.Millisecond
	bindAttempts       = 2
)

var (
	ErrBindFailed  = errors.New("bind_failed")
	ErrNotLoopback = errors.New("host_not_loopback")
)

// BindError reports a start that could not bind its address.
type BindError struct {
	Addr     string
	Attempts int
	Err      error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("bind %s failed after %d attempts: %v", e.Addr, e.Attempts, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

func (e *BindError) Is(target error) bool { return target == ErrBindFailed }

// Options configures a Controller. Zero values take defaults; Port 0 asks the
// OS for a free port.
type Options struct {
	Host        string
	Port        int
	RetryDelay  time.Duration
	SettleDelay time.Duration
	Backend     Backend
	Metrics     metrics.Metrics
}

// Status is a snapshot of the controller.
type Status struct {
	Running bool   `json:"running"`
	Dir     string `json:"dir,omitempty"`
	Port    int    `json:"port,omitempty"`
}

// Controller owns the single local server.
type Controller struct {
	opts Options

	mu   sync.Mutex
	srv  Server
	dir  string
	port int
}

func New(opts Options) (*Controller, error) {
	if opts.Host == "" {
		opts.Host = defaultHost
	}
	if !config.IsLoopback(opts.Host) {
		return nil, fmt.Errorf("%w: %s", ErrNotLoopback, opts.Host)
	}
	if opts.Port < 0 || opts.Port > 65535 {
		return nil, fmt.Errorf("invalid port %d", opts.Port)
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaultRetryDelay
	}
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = defaultSettleDelay
	}
	if opts.Backend == nil {
		opts.Backend = NewHTTPBackend()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Noop{}
	}
	return &Controller{opts: opts}, nil
}

func (c *Controller) addr() string {
	return net.JoinHostPort(c.opts.Host, strconv.Itoa(c.opts.Port))
}

// Start serves dir, replacing any running server. The mutex is held across
// the settle and retry pauses.
func (c *Controller) Start(ctx context.Context, dir string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.srv != nil {
		c.stopLocked(ctx)
		if err := sleep(ctx, c.opts.SettleDelay); err != nil {
			return err
		}
	}

	addr := c.addr()
	var lastErr error
	for attempt := 1; attempt <= bindAttempts; attempt++ {
		srv, err := c.opts.Backend.Serve(dir, addr)
		if err == nil {
			c.srv = srv
			c.dir = dir
			c.port = portOf(srv.Addr(), c.opts.Port)
			result := "ok"
			if attempt > 1 {
				result = "retried"
			}
			c.opts.Metrics.IncServerStarts(result)
			logging.Info("localserver", "server started", "dir", dir, "port", c.port, "attempt", attempt)
			return nil
		}
		lastErr = err
		logging.Warn("localserver", "bind failed", "addr", addr, "attempt", attempt, "error", err)
		if attempt < bindAttempts {
			if err := sleep(ctx, c.opts.RetryDelay); err != nil {
				return err
			}
		}
	}
	c.opts.Metrics.IncServerStarts("failed")
	return &BindError{Addr: addr, Attempts: bindAttempts, Err: lastErr}
}

// Stop shuts the server down. Stopping a stopped controller is a no-op.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked(ctx)
	return nil
}

func (c *Controller) stopLocked(ctx context.Context) {
	if c.srv == nil {
		return
	}
	srv, dir := c.srv, c.dir
	c.srv, c.dir, c.port = nil, "", 0
	if err := srv.Shutdown(ctx); err != nil {
		logging.Warn("localserver", "graceful shutdown failed, closing", "dir", dir, "error", err)
		if cerr := srv.Close(); cerr != nil {
			logging.Error("localserver", "close failed", "dir", dir, "error", cerr)
		}
	}
	logging.Info("localserver", "server stopped", "dir", dir)
}

func (c *Controller) State() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{Running: c.srv != nil, Dir: c.dir, Port: c.port}
}

func (c *Controller) Running() bool {
	return c.State().Running
}

// URL is the origin the host loads local content from.
func (c *Controller) URL() string {
	c.mu.Lock()
	port := c.port
	c.mu.Unlock()
	if port == 0 {
		port = c.opts.Port
	}
	return "http://localhost:" + strconv.Itoa(port)
}

func portOf(addr net.Addr, fallback int) int {
	if tcp, ok := addr.(*net.TCPAddr); ok && tcp.Port != 0 {
		return tcp.Port
	}
	return fallback
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
