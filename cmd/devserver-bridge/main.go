package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cordum/devserver/core/infra/buildinfo"
	"github.com/cordum/devserver/core/infra/config"
	"github.com/cordum/devserver/core/infra/logging"
	"github.com/cordum/devserver/core/infra/metrics"
)

func main() {
	log.Printf("devserver bridge starting (%s)", buildinfo.Info())
	buildinfo.Log("devserver-bridge")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	prom := metrics.NewProm("devserver")
	bridgeMetrics := metrics.NewBridgeProm("devserver")
	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr)
	}

	a, err := newApp(cfg, prom, bridgeMetrics)
	if err != nil {
		log.Fatalf("failed to start: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.restore(ctx)

	runErr := a.bridge.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	a.close(shutdownCtx)
	if runErr != nil {
		logging.Error("devserver-bridge", "bridge stopped", "error", runErr)
		os.Exit(1)
	}
	logging.Info("devserver-bridge", "shutdown complete")
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	logging.Info("devserver-bridge", "metrics listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logging.Error("devserver-bridge", "metrics server error", "error", err)
	}
}
