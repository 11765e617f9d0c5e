package origin

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/cordum/devserver/core/assets"
	"github.com/cordum/devserver/core/infra/bus"
	"github.com/cordum/devserver/core/infra/prefs"
	"github.com/cordum/devserver/core/localserver"
)

type fakeServer struct {
	mu       sync.Mutex
	running  bool
	dir      string
	starts   int
	stops    int
	startErr error
	failDir  string
}

func (f *fakeServer) Start(_ context.Context, dir string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	if f.startErr != nil && (f.failDir == "" || f.failDir == dir) {
		f.running = false
		return f.startErr
	}
	f.running, f.dir = true, dir
	return nil
}

func (f *fakeServer) Stop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.running, f.dir = false, ""
	return nil
}

func (f *fakeServer) URL() string { return "http://localhost:8080" }

type reloadRecorder struct {
	mu      sync.Mutex
	reasons []string
}

func (r *reloadRecorder) Reload(_ context.Context, reason string) {
	r.mu.Lock()
	r.reasons = append(r.reasons, reason)
	r.mu.Unlock()
}

func (r *reloadRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reasons)
}

type fixture struct {
	prefs  prefs.Store
	store  *assets.Store
	server *fakeServer
	reload *reloadRecorder
	hub    *bus.Hub
	state  *State
}

func newFixture(t *testing.T, p prefs.Store, store *assets.Store) *fixture {
	t.Helper()
	if p == nil {
		p = prefs.NewMemoryStore()
	}
	if store == nil {
		store = assets.NewStore(filepath.Join(t.TempDir(), "assets"))
	}
	f := &fixture{prefs: p, store: store, server: &fakeServer{}, reload: &reloadRecorder{}, hub: bus.NewHub()}
	st, err := New(Deps{Prefs: p, Store: store, Server: f.server, Reloader: f.reload, Events: f.hub})
	if err != nil {
		t.Fatalf("new state: %v", err)
	}
	f.state = st
	return f
}

func installBundle(t *testing.T, store *assets.Store, name string, nested bool) string {
	t.Helper()
	root, err := store.EnsureRoot()
	if err != nil {
		t.Fatalf("ensure root: %v", err)
	}
	dir := filepath.Join(root, name)
	web := dir
	if nested {
		web = filepath.Join(dir, "www")
	}
	if err := os.MkdirAll(web, 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(web, "index.html"), []byte(name), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return web
}

func TestNewRequiresDeps(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Fatalf("expected error without prefs")
	}
	if _, err := New(Deps{Prefs: prefs.NewMemoryStore()}); err == nil {
		t.Fatalf("expected error without store/server")
	}
}

func TestSetRemoteURLSessionAndPersist(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, nil)
	events, cancel := f.hub.Subscribe(8)
	defer cancel()

	eff, err := f.state.SetRemoteURL(ctx, "http://10.0.2.2:3000", false, true)
	if err != nil {
		t.Fatalf("set session: %v", err)
	}
	if eff.Mode != ModeRemoteURL || eff.Persist {
		t.Fatalf("unexpected effective %+v", eff)
	}
	if _, ok, _ := f.prefs.GetString(ctx, KeyServerURL); ok {
		t.Fatalf("session url should not be persisted")
	}
	if f.reload.count() != 1 {
		t.Fatalf("expected reload")
	}
	if evt := <-events; evt.Type != bus.EventServerChanged || evt.Data["url"] != "http://10.0.2.2:3000" {
		t.Fatalf("unexpected event %+v", evt)
	}

	eff, err = f.state.SetRemoteURL(ctx, "https://dev.example.com", true, false)
	if err != nil {
		t.Fatalf("set persisted: %v", err)
	}
	got, err := f.state.Effective(ctx)
	if err != nil || got.URL != "https://dev.example.com" || !got.Persist {
		t.Fatalf("unexpected effective %+v %v", got, err)
	}
	if f.reload.count() != 1 {
		t.Fatalf("autoRestart=false should not reload")
	}

	before := got
	got, err = f.state.SetRemoteURL(ctx, "   ", true, true)
	if err != nil || got != before {
		t.Fatalf("empty url should be a no-op: %+v %v", got, err)
	}
}

func TestSessionShadowsPersisted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, nil)
	if err := f.prefs.SetString(ctx, KeyServerURL, "https://saved.example.com"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	eff, _ := f.state.Effective(ctx)
	if eff.URL != "https://saved.example.com" || !eff.Persist {
		t.Fatalf("expected persisted origin, got %+v", eff)
	}
	if _, err := f.state.SetRemoteURL(ctx, "http://session.local", false, false); err != nil {
		t.Fatalf("set: %v", err)
	}
	eff, _ = f.state.Effective(ctx)
	if eff.URL != "http://session.local" || eff.Persist {
		t.Fatalf("expected session origin, got %+v", eff)
	}
}

func TestSessionLostAcrossRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "prefs.yaml")
	open := func() prefs.Store {
		s, err := prefs.NewFileStore(path)
		if err != nil {
			t.Fatalf("open prefs: %v", err)
		}
		return s
	}
	store := assets.NewStore(filepath.Join(t.TempDir(), "assets"))

	first := newFixture(t, open(), store)
	if _, err := first.state.SetRemoteURL(ctx, "https://persisted.example.com", true, false); err != nil {
		t.Fatalf("persist: %v", err)
	}
	if _, err := first.state.SetRemoteURL(ctx, "http://session.local", false, false); err != nil {
		t.Fatalf("session: %v", err)
	}

	second := newFixture(t, open(), store)
	eff, err := second.state.Effective(ctx)
	if err != nil {
		t.Fatalf("effective: %v", err)
	}
	if eff.Mode != ModeDefault || eff.URL != "" {
		t.Fatalf("session write clears persisted url, expected default after restart, got %+v", eff)
	}

	if _, err := second.state.SetRemoteURL(ctx, "https://keep.example.com", true, false); err != nil {
		t.Fatalf("persist: %v", err)
	}
	third := newFixture(t, open(), store)
	eff, _ = third.state.Effective(ctx)
	if eff.URL != "https://keep.example.com" || !eff.Persist {
		t.Fatalf("expected persisted url after restart, got %+v", eff)
	}
}

func TestActivateBundle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, nil)
	web := installBundle(t, f.store, "app-v2", true)

	if _, err := f.state.ActivateBundle(ctx, "missing", true); !errors.Is(err, assets.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	eff, err := f.state.ActivateBundle(ctx, "app-v2", true)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if eff.Mode != ModeLocalBundle || eff.URL != "http://localhost:8080" || eff.ActiveBundle != "app-v2" {
		t.Fatalf("unexpected effective %+v", eff)
	}
	if f.server.dir != web {
		t.Fatalf("expected server rooted at %s, got %s", web, f.server.dir)
	}
	if v, _, _ := f.prefs.GetString(ctx, KeyActiveAsset); v != "app-v2" {
		t.Fatalf("expected active asset persisted, got %q", v)
	}
	if f.reload.count() != 1 {
		t.Fatalf("activation always reloads")
	}

	if _, err := f.state.SetRemoteURL(ctx, "https://remote.example.com", true, false); err != nil {
		t.Fatalf("switch remote: %v", err)
	}
	if _, ok, _ := f.prefs.GetString(ctx, KeyActiveAsset); ok {
		t.Fatalf("switching to remote must clear the active asset")
	}
	if f.server.running {
		t.Fatalf("switching to remote stops the local server")
	}
}

func TestActivateBindFailureRecordsNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, nil)
	installBundle(t, f.store, "app", false)
	f.server.startErr = &localserver.BindError{Addr: "127.0.0.1:8080", Attempts: 2, Err: errors.New("in use")}

	_, err := f.state.ActivateBundle(ctx, "app", true)
	if !errors.Is(err, localserver.ErrBindFailed) {
		t.Fatalf("expected bind failure, got %v", err)
	}
	if _, ok, _ := f.prefs.GetString(ctx, KeyActiveAsset); ok {
		t.Fatalf("nothing should be persisted on bind failure")
	}
	eff, _ := f.state.Effective(ctx)
	if eff.Mode != ModeDefault {
		t.Fatalf("expected default origin, got %+v", eff)
	}
	if f.reload.count() != 0 {
		t.Fatalf("no reload on failure")
	}
}

func TestFailedSwitchRestartsPreviousBundle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, nil)
	webA := installBundle(t, f.store, "a", false)
	webB := installBundle(t, f.store, "b", false)
	if _, err := f.state.ActivateBundle(ctx, "a", true); err != nil {
		t.Fatalf("activate a: %v", err)
	}
	f.server.startErr = &localserver.BindError{Addr: "127.0.0.1:8080", Attempts: 2, Err: errors.New("in use")}
	f.server.failDir = webB

	if _, err := f.state.ActivateBundle(ctx, "b", true); !errors.Is(err, localserver.ErrBindFailed) {
		t.Fatalf("expected bind failure, got %v", err)
	}
	if !f.server.running || f.server.dir != webA {
		t.Fatalf("expected previous bundle served again, got %+v", f.server)
	}
	eff, err := f.state.Effective(ctx)
	if err != nil || eff.Mode != ModeLocalBundle || eff.ActiveBundle != "a" {
		t.Fatalf("unexpected effective %+v %v", eff, err)
	}
}

func TestFailedSwitchHidesDeadLocalOrigin(t *testing.T) {
	ctx := context.Background()
	for _, persist := range []bool{true, false} {
		f := newFixture(t, nil, nil)
		installBundle(t, f.store, "a", false)
		installBundle(t, f.store, "b", false)
		if _, err := f.state.ActivateBundle(ctx, "a", persist); err != nil {
			t.Fatalf("activate a: %v", err)
		}
		f.server.startErr = &localserver.BindError{Addr: "127.0.0.1:8080", Attempts: 2, Err: errors.New("in use")}

		if _, err := f.state.ActivateBundle(ctx, "b", persist); !errors.Is(err, localserver.ErrBindFailed) {
			t.Fatalf("expected bind failure, got %v", err)
		}
		if f.server.running {
			t.Fatalf("server should be stopped")
		}
		eff, err := f.state.Effective(ctx)
		if err != nil || eff.Mode != ModeDefault || eff.URL != "" {
			t.Fatalf("persist=%v: expected no local origin while nothing serves it, got %+v %v", persist, eff, err)
		}
		opts, err := f.state.Options(ctx)
		if err != nil || opts.Server != nil {
			t.Fatalf("expected no server block, got %+v %v", opts, err)
		}

		f.server.startErr = nil
		if _, err := f.state.ActivateBundle(ctx, "b", persist); err != nil {
			t.Fatalf("activate b: %v", err)
		}
		if eff, _ := f.state.Effective(ctx); eff.ActiveBundle != "b" || eff.URL == "" {
			t.Fatalf("expected b active after recovery, got %+v", eff)
		}
	}
}

func TestRestoreOnLaunchRoundTrip(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	p, err := prefs.NewRedisStore("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("redis prefs: %v", err)
	}
	defer p.Close()
	store := assets.NewStore(filepath.Join(t.TempDir(), "assets"))
	web := installBundle(t, store, "site", false)

	first := newFixture(t, p, store)
	if _, err := first.state.ActivateBundle(ctx, "site", true); err != nil {
		t.Fatalf("activate: %v", err)
	}

	relaunch := newFixture(t, p, store)
	if err := relaunch.state.RestoreOnLaunch(ctx); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if !relaunch.server.running || relaunch.server.dir != web {
		t.Fatalf("expected server restarted on %s, got %+v", web, relaunch.server)
	}
	opts, err := relaunch.state.Options(ctx)
	if err != nil || opts.Server == nil || opts.Server.URL != "http://localhost:8080" {
		t.Fatalf("unexpected options %+v %v", opts, err)
	}
	if !opts.Server.Cleartext || opts.Server.AndroidScheme != "http" {
		t.Fatalf("expected cleartext http scheme, got %+v", opts.Server)
	}
}

func TestRestoreOnLaunchFailureKeepsRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, nil)
	if err := f.prefs.SetString(ctx, KeyServerURL, "http://localhost:8080"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := f.prefs.SetString(ctx, KeyActiveAsset, "gone"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := f.state.RestoreOnLaunch(ctx); !errors.Is(err, assets.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	opts, err := f.state.Options(ctx)
	if err != nil || opts.Server != nil {
		t.Fatalf("expected no server override after failed restore, got %+v %v", opts, err)
	}
	if v, _, _ := f.prefs.GetString(ctx, KeyActiveAsset); v != "gone" {
		t.Fatalf("persisted record should be intact, got %q", v)
	}

	empty := newFixture(t, nil, nil)
	if err := empty.state.RestoreOnLaunch(ctx); err != nil {
		t.Fatalf("nothing to restore: %v", err)
	}
	if empty.server.starts != 0 {
		t.Fatalf("no start expected")
	}
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, nil)
	installBundle(t, f.store, "app", false)
	if _, err := f.state.ActivateBundle(ctx, "app", false); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if err := f.prefs.SetString(ctx, KeyServerURL, "https://stale"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := f.state.Clear(ctx, true); err != nil {
		t.Fatalf("clear: %v", err)
	}
	eff, _ := f.state.Effective(ctx)
	if eff.Mode != ModeDefault || eff.URL != "" {
		t.Fatalf("expected empty origin, got %+v", eff)
	}
	if f.server.running {
		t.Fatalf("expected server stopped")
	}
	if f.reload.count() != 2 {
		t.Fatalf("expected activation and clear reloads, got %d", f.reload.count())
	}
}

func TestApplyAndDevMode(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, nil)
	events, cancel := f.hub.Subscribe(4)
	defer cancel()
	if _, err := f.state.Apply(ctx); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if evt := <-events; evt.Type != bus.EventServerApply {
		t.Fatalf("expected serverApply, got %s", evt.Type)
	}

	if on, err := f.state.DevMode(ctx); err != nil || on {
		t.Fatalf("dev mode default off: %v %v", on, err)
	}
	if err := f.state.SetDevMode(ctx, true); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if on, _ := f.state.DevMode(ctx); !on {
		t.Fatalf("expected dev mode on")
	}
}

func TestServerOptionsScheme(t *testing.T) {
	if o := serverOptions("https://x"); o.Cleartext || o.AndroidScheme != "https" {
		t.Fatalf("unexpected https options %+v", o)
	}
	if o := serverOptions("http://x"); !o.Cleartext || o.AndroidScheme != "http" {
		t.Fatalf("unexpected http options %+v", o)
	}
}

func TestBusReloader(t *testing.T) {
	hub := bus.NewHub()
	ch, cancel := hub.Subscribe(1)
	defer cancel()
	BusReloader{Publisher: hub, Subject: "devserver.events"}.Reload(context.Background(), "test")
	if evt := <-ch; evt.Type != bus.EventReload || evt.Data["reason"] != "test" {
		t.Fatalf("unexpected reload event %+v", evt)
	}
	BusReloader{}.Reload(context.Background(), "noop")
}

func TestActivateWithRealController(t *testing.T) {
	ctx := context.Background()
	store := assets.NewStore(filepath.Join(t.TempDir(), "assets"))
	installBundle(t, store, "real", false)
	ctrl, err := localserver.New(localserver.Options{Port: 0})
	if err != nil {
		t.Fatalf("controller: %v", err)
	}
	defer ctrl.Stop(ctx)
	st, err := New(Deps{Prefs: prefs.NewMemoryStore(), Store: store, Server: ctrl})
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	eff, err := st.ActivateBundle(ctx, "real", false)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if !ctrl.Running() || eff.URL != ctrl.URL() {
		t.Fatalf("expected running controller at %s, got %+v", ctrl.URL(), eff)
	}
	if err := st.Clear(ctx, false); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if ctrl.Running() {
		t.Fatalf("clear should stop the controller")
	}
}

func TestCleartextAndSchemeOverrides(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, nil)
	if _, err := f.state.SetRemoteURL(ctx, "https://dev.example.com", true, false); err != nil {
		t.Fatalf("set url: %v", err)
	}
	if v, err := f.state.Cleartext(ctx); err != nil || v {
		t.Fatalf("expected unset cleartext, got %v %v", v, err)
	}
	if err := f.state.SetCleartext(ctx, true); err != nil {
		t.Fatalf("set cleartext: %v", err)
	}
	if err := f.state.SetScheme(ctx, "capacitor"); err != nil {
		t.Fatalf("set scheme: %v", err)
	}
	if v, _ := f.state.Scheme(ctx); v != "capacitor" {
		t.Fatalf("unexpected scheme %q", v)
	}
	opts, err := f.state.Options(ctx)
	if err != nil || opts.Server == nil {
		t.Fatalf("options: %+v %v", opts, err)
	}
	if !opts.Server.Cleartext || opts.Server.AndroidScheme != "capacitor" {
		t.Fatalf("expected overrides to win, got %+v", opts.Server)
	}

	if err := f.state.SetCleartext(ctx, false); err != nil {
		t.Fatalf("set cleartext: %v", err)
	}
	if err := f.state.SetScheme(ctx, " "); err != nil {
		t.Fatalf("reset scheme: %v", err)
	}
	if _, err := f.state.SetRemoteURL(ctx, "http://10.0.2.2:3000", true, false); err != nil {
		t.Fatalf("set url: %v", err)
	}
	opts, _ = f.state.Options(ctx)
	if opts.Server.Cleartext || opts.Server.AndroidScheme != "http" {
		t.Fatalf("expected explicit cleartext=false and inferred scheme, got %+v", opts.Server)
	}

	if err := f.state.Clear(ctx, false); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, ok, _ := f.prefs.GetBool(ctx, KeyCleartext); ok {
		t.Fatalf("clear should drop the cleartext override")
	}
}
