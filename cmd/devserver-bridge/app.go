package main

import (
	"context"
	"fmt"

	"github.com/cordum/devserver/core/assets"
	"github.com/cordum/devserver/core/bridge"
	"github.com/cordum/devserver/core/infra/bus"
	"github.com/cordum/devserver/core/infra/config"
	"github.com/cordum/devserver/core/infra/logging"
	"github.com/cordum/devserver/core/infra/metrics"
	"github.com/cordum/devserver/core/infra/prefs"
	"github.com/cordum/devserver/core/infra/queue"
	"github.com/cordum/devserver/core/localserver"
	"github.com/cordum/devserver/core/origin"
)

// app holds the one instance of each component the bridge process owns.
type app struct {
	prefs  prefs.Store
	store  *assets.Store
	ctrl   *localserver.Controller
	state  *origin.State
	queue  *queue.Queue
	hub    *bus.Hub
	nats   *bus.NatsBus
	bridge *bridge.Server
}

func newApp(cfg *config.Config, m metrics.Metrics, bm metrics.BridgeMetrics) (*app, error) {
	a := &app{hub: bus.NewHub()}

	p, err := prefs.Open(cfg.PrefsBackend, cfg.PrefsPath, cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("open prefs: %w", err)
	}
	a.prefs = p

	var events bus.Publisher = a.hub
	if cfg.NatsURL != "" {
		nb, err := bus.NewNatsBus(cfg.NatsURL)
		if err != nil {
			logging.Warn("devserver-bridge", "nats unavailable, events stay local", "url", cfg.NatsURL, "error", err)
		} else {
			a.nats = nb
			events = bus.Tee(a.hub, nb)
		}
	}

	a.store = assets.NewStore(cfg.AssetsDir)
	if _, err := a.store.EnsureRoot(); err != nil {
		a.close(context.Background())
		return nil, err
	}

	a.ctrl, err = localserver.New(localserver.Options{
		Host:        cfg.ServerHost,
		Port:        cfg.ServerPort,
		RetryDelay:  cfg.RetryDelay,
		SettleDelay: cfg.SettleDelay,
		Metrics:     m,
	})
	if err != nil {
		a.close(context.Background())
		return nil, err
	}

	a.state, err = origin.New(origin.Deps{
		Prefs:        a.prefs,
		Store:        a.store,
		Server:       a.ctrl,
		Reloader:     origin.BusReloader{Publisher: events, Subject: cfg.EventSubject},
		Events:       events,
		EventSubject: cfg.EventSubject,
		Metrics:      m,
	})
	if err != nil {
		a.close(context.Background())
		return nil, err
	}

	downloader := assets.NewHTTPDownloader(cfg.DownloadTimeout)
	installer := assets.NewInstaller(a.store, downloader, assets.Limits{
		MaxFiles:      cfg.MaxFiles,
		MaxFileBytes:  cfg.MaxFileBytes,
		MaxTotalBytes: cfg.MaxTotalBytes,
	}, m)

	a.queue = queue.New(0)
	deps := bridge.Deps{
		State:     a.state,
		Store:     a.store,
		Installer: installer,
		Queue:     a.queue,
		Hub:       a.hub,
		Events:    events,
		Metrics:   bm,
	}
	if a.nats != nil {
		deps.Broker = a.nats
	}
	a.bridge, err = bridge.New(bridge.Options{
		Addr:           cfg.HTTPAddr,
		APIKey:         cfg.APIKey,
		AllowedOrigins: cfg.AllowedOrigins,
		EventSubject:   cfg.EventSubject,
	}, deps)
	if err != nil {
		a.close(context.Background())
		return nil, err
	}
	return a, nil
}

// restore brings back a persisted local bundle. Failure leaves the host on
// its bundled content for this launch.
func (a *app) restore(ctx context.Context) {
	if err := a.state.RestoreOnLaunch(ctx); err != nil {
		logging.Warn("devserver-bridge", "launching without local override", "error", err)
	}
}

func (a *app) close(ctx context.Context) {
	if a.queue != nil {
		a.queue.Close()
	}
	if a.ctrl != nil {
		_ = a.ctrl.Stop(ctx)
	}
	if a.nats != nil {
		a.nats.Close()
	}
	if a.hub != nil {
		a.hub.Close()
	}
	if a.prefs != nil {
		if err := a.prefs.Close(); err != nil {
			logging.Error("devserver-bridge", "close prefs", "error", err)
		}
	}
}
