// Package render gates app re-rendering behind each app's update interval
// and persists render outcomes back to the app record.
package render

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/tronbyt/server/internal/database"
	"github.com/tronbyt/server/internal/logging"
	"github.com/tronbyt/server/internal/storage"
)

// Renderer turns an app definition plus merged config into webp bytes.
// A nil byte slice with no error is not possible; zero-length bytes mean
// the app has nothing to show right now.
type Renderer interface {
	Render(ctx context.Context, app *database.App, config map[string]interface{}) ([]byte, error)
}

// Gate decides whether an app's cached image is stale and re-renders it
// when needed
type Gate struct {
	devices  *database.DeviceService
	images   *storage.ImageStore
	renderer Renderer
	clock    clockwork.Clock
}

func NewGate(devices *database.DeviceService, images *storage.ImageStore, renderer Renderer, clock clockwork.Clock) *Gate {
	return &Gate{devices: devices, images: images, renderer: renderer, clock: clock}
}

// stale reports whether the app is due for a re-render. An update interval
// of zero means the cache is never trusted.
func (g *Gate) stale(app *database.App) bool {
	if app.UInterval <= 0 {
		return true
	}
	if app.LastRender == nil {
		return true
	}
	return g.clock.Since(*app.LastRender) >= time.Duration(app.UInterval)*time.Minute
}

// EnsureRendered makes sure the app's cached image is current, rendering it
// if stale. The passed app is updated in place with the render outcome so
// callers see the new EmptyLastRender state without a re-fetch. Returns
// false only when the render call itself fails.
func (g *Gate) EnsureRendered(ctx context.Context, device *database.Device, app *database.App) bool {
	// Pushed images are externally supplied and authoritative
	if app.Pushed {
		return true
	}

	if !g.stale(app) {
		return true
	}

	merged := make(map[string]interface{}, len(app.Config)+2)
	for k, v := range app.Config {
		merged[k] = v
	}
	merged["$tz"] = device.Timezone
	merged["$2x"] = device.DoubleRes

	data, err := g.renderer.Render(ctx, app, merged)
	if err != nil {
		logging.ErrorWithComponent(logging.ComponentRender, "Render failed",
			"device", device.ID, "iname", app.Iname, "app", app.Name, "error", err)
		return false
	}

	now := g.clock.Now()
	empty := len(data) == 0

	if !empty {
		path := g.images.AppImagePath(device.ID, app.Iname)
		if err := g.images.SaveImage(path, data); err != nil {
			logging.ErrorWithComponent(logging.ComponentRender, "Failed to write rendered image",
				"device", device.ID, "iname", app.Iname, "error", err)
			return false
		}
	}

	fields := map[string]interface{}{
		"last_render":       now,
		"empty_last_render": empty,
	}
	if err := g.devices.UpdateAppFields(device.ID, app.Iname, fields); err != nil {
		// Best effort: the in-memory view still advances, the next cycle
		// will retry the write
		logging.WarnWithComponent(logging.ComponentRender, "Failed to persist render state",
			"device", device.ID, "iname", app.Iname, "error", err)
	}
	app.LastRender = &now
	app.EmptyLastRender = empty

	if app.Autopin && !empty && device.PinnedApp != app.Iname {
		if err := g.devices.SetPinnedApp(device.ID, app.Iname); err != nil {
			logging.WarnWithComponent(logging.ComponentRender, "Failed to autopin app",
				"device", device.ID, "iname", app.Iname, "error", err)
		} else {
			device.PinnedApp = app.Iname
		}
	}

	return true
}
