package origin

import (
	"context"

	"github.com/cordum/devserver/core/infra/bus"
	"github.com/cordum/devserver/core/infra/logging"
)

// Reloader asks the host to reload its web view. Calls must not block on the
// reload completing.
type Reloader interface {
	Reload(ctx context.Context, reason string)
}

// ReloaderFunc adapts a function to Reloader.
type ReloaderFunc func(ctx context.Context, reason string)

func (f ReloaderFunc) Reload(ctx context.Context, reason string) { f(ctx, reason) }

// BusReloader publishes a reload event for the host shell to act on.
type BusReloader struct {
	Publisher bus.Publisher
	Subject   string
}

func (r BusReloader) Reload(_ context.Context, reason string) {
	if r.Publisher == nil {
		return
	}
	evt := bus.NewEvent(bus.EventReload, map[string]any{"reason": reason})
	if err := r.Publisher.Publish(r.Subject, evt); err != nil {
		logging.Warn("origin", "reload publish failed", "reason", reason, "error", err)
	}
}

type noopReloader struct{}

func (noopReloader) Reload(context.Context, string) {}
