// Package origin tracks which origin the host loads: its bundled content, a
// remote URL, or a locally served bundle. A session override shadows the
// persisted choice until the next launch.
package origin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/cordum/devserver/core/assets"
	"github.com/cordum/devserver/core/infra/bus"
	"github.com/cordum/devserver/core/infra/logging"
	"github.com/cordum/devserver/core/infra/metrics"
	"github.com/cordum/devserver/core/infra/prefs"
)

// Persisted keys.
const (
	KeyServerURL   = "server_url"
	KeyActiveAsset = "active_asset"
	KeyDevEnabled  = "dev_enabled"
	KeyCleartext   = "server_cleartext"
	KeyScheme      = "server_scheme"
)

type Mode string

const (
	ModeDefault     Mode = "default"
	ModeRemoteURL   Mode = "remote_url"
	ModeLocalBundle Mode = "local_bundle"
)

// Effective is the origin in force right now.
type Effective struct {
	Mode         Mode   `json:"mode"`
	URL          string `json:"url"`
	ActiveBundle string `json:"activeAsset,omitempty"`
	Persist      bool   `json:"persist"`
}

// Server is the local static server the state drives.
type Server interface {
	Start(ctx context.Context, dir string) error
	Stop(ctx context.Context) error
	URL() string
}

// Bundles resolves installed bundle names to directories.
type Bundles interface {
	Resolve(name string) (string, error)
}

// Deps are the collaborators of a State.
type Deps struct {
	Prefs        prefs.Store
	Store        Bundles
	Server       Server
	Reloader     Reloader
	Events       bus.Publisher
	EventSubject string
	Metrics      metrics.Metrics
}

type override struct {
	url    string
	bundle string
}

// State owns the origin choice. Methods are safe for concurrent use.
type State struct {
	deps Deps

	mu      sync.Mutex
	session *override
	// served is the web root the local server was last started on.
	served string
	// localDown hides a local bundle origin whose server is not running.
	localDown bool
}

func New(deps Deps) (*State, error) {
	if deps.Prefs == nil {
		return nil, errors.New("origin: prefs store required")
	}
	if deps.Store == nil || deps.Server == nil {
		return nil, errors.New("origin: bundle store and server required")
	}
	if deps.Reloader == nil {
		deps.Reloader = noopReloader{}
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Noop{}
	}
	return &State{deps: deps}, nil
}

// SetRemoteURL points the host at url. An empty url changes nothing.
func (s *State) SetRemoteURL(ctx context.Context, url string, persist, autoRestart bool) (Effective, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return s.Effective(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.deps.Server.Stop(ctx); err != nil {
		logging.Warn("origin", "stop local server", "error", err)
	}
	s.served = ""
	if err := s.record(ctx, url, "", persist); err != nil {
		return Effective{}, err
	}
	eff := Effective{Mode: ModeRemoteURL, URL: url, Persist: persist}
	logging.Info("origin", "remote origin set", "url", url, "persist", persist)
	s.emit(bus.EventServerChanged, eff)
	if autoRestart {
		s.deps.Reloader.Reload(ctx, bus.EventServerChanged)
	}
	return eff, nil
}

// ActivateBundle serves an installed bundle and points the host at it.
// Nothing is recorded unless the server starts.
func (s *State) ActivateBundle(ctx context.Context, name string, persist bool) (Effective, error) {
	dir, err := s.deps.Store.Resolve(name)
	if err != nil {
		s.deps.Metrics.IncActivations("not_found")
		return Effective{}, err
	}
	root := assets.ResolveRoot(dir)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.deps.Server.Start(ctx, root); err != nil {
		s.deps.Metrics.IncActivations("failed")
		logging.Error("origin", "activate bundle failed", "name", name, "error", err)
		s.recoverLocked(ctx)
		return Effective{}, err
	}
	s.served = root
	url := s.deps.Server.URL()
	if err := s.record(ctx, url, name, persist); err != nil {
		return Effective{}, err
	}
	eff := Effective{Mode: ModeLocalBundle, URL: url, ActiveBundle: name, Persist: persist}
	logging.Info("origin", "bundle activated", "name", name, "root", root, "persist", persist)
	s.deps.Metrics.IncActivations("ok")
	s.emit(bus.EventServerChanged, eff)
	s.deps.Reloader.Reload(ctx, bus.EventServerChanged)
	return eff, nil
}

// recoverLocked brings back the previously served root after a failed
// switch. If that fails too, a local bundle origin is reported as
// unavailable until the next successful activation. Caller holds mu.
func (s *State) recoverLocked(ctx context.Context) {
	prev := s.served
	if prev == "" {
		return
	}
	if err := s.deps.Server.Start(ctx, prev); err != nil {
		s.served = ""
		s.localDown = true
		logging.Error("origin", "previous bundle not restarted", "root", prev, "error", err)
		return
	}
	logging.Info("origin", "previous bundle restarted", "root", prev)
}

// record writes the choice either to prefs or to the session. Caller holds mu.
func (s *State) record(ctx context.Context, url, bundle string, persist bool) error {
	p := s.deps.Prefs
	s.localDown = false
	if persist {
		if err := p.SetString(ctx, KeyServerURL, url); err != nil {
			return fmt.Errorf("persist server url: %w", err)
		}
		if bundle != "" {
			if err := p.SetString(ctx, KeyActiveAsset, bundle); err != nil {
				return fmt.Errorf("persist active asset: %w", err)
			}
		} else if err := p.Delete(ctx, KeyActiveAsset); err != nil {
			return fmt.Errorf("clear active asset: %w", err)
		}
		s.session = nil
		return nil
	}
	if err := p.Delete(ctx, KeyServerURL, KeyActiveAsset); err != nil {
		return fmt.Errorf("clear persisted origin: %w", err)
	}
	s.session = &override{url: url, bundle: bundle}
	return nil
}

// Effective returns the session override if any, else the persisted choice.
func (s *State) Effective(ctx context.Context) (Effective, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.effectiveLocked(ctx)
}

func (s *State) effectiveLocked(ctx context.Context) (Effective, error) {
	if s.session != nil {
		if s.session.bundle != "" && s.localDown {
			return Effective{Mode: ModeDefault}, nil
		}
		return effectiveOf(s.session.url, s.session.bundle, false), nil
	}
	url, ok, err := s.deps.Prefs.GetString(ctx, KeyServerURL)
	if err != nil {
		return Effective{}, fmt.Errorf("read server url: %w", err)
	}
	bundle, _, err := s.deps.Prefs.GetString(ctx, KeyActiveAsset)
	if err != nil {
		return Effective{}, fmt.Errorf("read active asset: %w", err)
	}
	if !ok || url == "" || (bundle != "" && s.localDown) {
		return Effective{Mode: ModeDefault}, nil
	}
	return effectiveOf(url, bundle, true), nil
}

func effectiveOf(url, bundle string, persist bool) Effective {
	mode := ModeRemoteURL
	if bundle != "" {
		mode = ModeLocalBundle
	}
	return Effective{Mode: mode, URL: url, ActiveBundle: bundle, Persist: persist}
}

// Clear reverts to the host's bundled content.
func (s *State) Clear(ctx context.Context, autoRestart bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.deps.Prefs.Delete(ctx, KeyServerURL, KeyActiveAsset, KeyCleartext, KeyScheme); err != nil {
		return fmt.Errorf("clear persisted origin: %w", err)
	}
	s.session = nil
	s.localDown = false
	if err := s.deps.Server.Stop(ctx); err != nil {
		logging.Warn("origin", "stop local server", "error", err)
	}
	s.served = ""
	logging.Info("origin", "origin cleared")
	s.emit(bus.EventServerChanged, Effective{Mode: ModeDefault})
	if autoRestart {
		s.deps.Reloader.Reload(ctx, "clear")
	}
	return nil
}

// Apply reports the effective origin and announces it to the host.
func (s *State) Apply(ctx context.Context) (Effective, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	eff, err := s.effectiveLocked(ctx)
	if err != nil {
		return Effective{}, err
	}
	s.emit(bus.EventServerApply, eff)
	return eff, nil
}

// RestoreOnLaunch restarts the local server for a persisted bundle. On
// failure the persisted record is kept, but this launch runs without an
// override.
func (s *State) RestoreOnLaunch(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	name, ok, err := s.deps.Prefs.GetString(ctx, KeyActiveAsset)
	if err != nil {
		return fmt.Errorf("read active asset: %w", err)
	}
	if !ok || name == "" {
		return nil
	}
	var root string
	dir, err := s.deps.Store.Resolve(name)
	if err == nil {
		root = assets.ResolveRoot(dir)
		err = s.deps.Server.Start(ctx, root)
	}
	if err != nil {
		s.localDown = true
		logging.Error("origin", "restore active bundle failed", "name", name, "error", err)
		return err
	}
	s.served = root
	logging.Info("origin", "active bundle restored", "name", name, "url", s.deps.Server.URL())
	return nil
}

// SetDevMode records whether the developer origin switcher is enabled.
func (s *State) SetDevMode(ctx context.Context, enabled bool) error {
	return s.deps.Prefs.SetBool(ctx, KeyDevEnabled, enabled)
}

func (s *State) DevMode(ctx context.Context) (bool, error) {
	v, _, err := s.deps.Prefs.GetBool(ctx, KeyDevEnabled)
	return v, err
}

func (s *State) emit(eventType string, eff Effective) {
	if s.deps.Events == nil {
		return
	}
	evt := bus.NewEvent(eventType, map[string]any{
		"url":         eff.URL,
		"persist":     eff.Persist,
		"mode":        string(eff.Mode),
		"activeAsset": eff.ActiveBundle,
	})
	if err := s.deps.Events.Publish(s.deps.EventSubject, evt); err != nil {
		logging.Warn("origin", "event publish failed", "type", eventType, "error", err)
	}
}
