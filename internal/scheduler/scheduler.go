// Package scheduler decides which app a device displays next. It owns the
// rotation cursor, interstitial expansion, pinning and night-mode overrides,
// and skip-on-ineligible handling with a bounded loop.
package scheduler

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/tronbyt/server/internal/database"
	"github.com/tronbyt/server/internal/delivery"
	"github.com/tronbyt/server/internal/logging"
	"github.com/tronbyt/server/internal/render"
	"github.com/tronbyt/server/internal/schedule"
	"github.com/tronbyt/server/internal/storage"
	"github.com/tronbyt/server/internal/utils"
)

// Scheduler selects and renders the next frame for a device
type Scheduler struct {
	devices *database.DeviceService
	gate    *render.Gate
	images  *storage.ImageStore
	clock   clockwork.Clock
}

func New(devices *database.DeviceService, gate *render.Gate, images *storage.ImageStore, clock clockwork.Clock) *Scheduler {
	return &Scheduler{devices: devices, gate: gate, images: images, clock: clock}
}

// Selection describes one candidate pick from the rotation
type Selection struct {
	App          *database.App
	Index        int
	Pinned       bool
	NightMode    bool
	Interstitial bool
}

// slot is one position in the expanded rotation list
type slot struct {
	app          *database.App
	interstitial bool
}

// localNow returns the current time in the device's timezone
func (s *Scheduler) localNow(device *database.Device) time.Time {
	now := s.clock.Now()
	localized, err := utils.ConvertTimeToTimezone(now, device.Timezone)
	if err != nil {
		return now.UTC()
	}
	return localized
}

// findApp looks up an app on the device snapshot by iname
func findApp(device *database.Device, iname string) *database.App {
	if iname == "" {
		return nil
	}
	for i := range device.Apps {
		if device.Apps[i].Iname == iname {
			return &device.Apps[i]
		}
	}
	return nil
}

// expandedList builds the effective rotation. Apps come sorted by order
// from the device load. With an interstitial configured, its own regular
// slot is removed and it is inserted after every remaining app except the
// last, so it occupies every odd index. With the flag off it stays a
// regular app at its own order.
func expandedList(device *database.Device) []slot {
	var inter *database.App
	if device.InterstitialEnabled {
		inter = findApp(device, device.InterstitialApp)
	}

	base := make([]*database.App, 0, len(device.Apps))
	for i := range device.Apps {
		if inter != nil && device.Apps[i].Iname == inter.Iname {
			continue
		}
		base = append(base, &device.Apps[i])
	}

	if inter == nil {
		out := make([]slot, len(base))
		for i, a := range base {
			out[i] = slot{app: a}
		}
		return out
	}

	out := make([]slot, 0, 2*len(base))
	for i, a := range base {
		out = append(out, slot{app: a})
		if i < len(base)-1 {
			out = append(out, slot{app: inter, interstitial: true})
		}
	}
	return out
}

// SelectApp picks the candidate app for the given cursor without applying
// eligibility or render checks. Night mode wins over pinning, pinning wins
// over rotation order.
func (s *Scheduler) SelectApp(device *database.Device, lastIndex int, advance bool) (Selection, bool) {
	now := s.localNow(device)

	if delivery.NightActive(device, now) {
		if app := findApp(device, device.NightModeApp); app != nil {
			return Selection{App: app, Index: lastIndex, NightMode: true}, true
		}
	}

	if app := findApp(device, device.PinnedApp); app != nil {
		return Selection{App: app, Index: lastIndex, Pinned: true}, true
	}

	expanded := expandedList(device)
	if len(expanded) == 0 {
		return Selection{}, false
	}

	index := lastIndex
	if advance {
		index = (lastIndex + 1) % len(expanded)
	} else if index < 0 || index >= len(expanded) {
		// Cursor is stale relative to the current list
		index = 0
	}

	sl := expanded[index]
	return Selection{App: sl.app, Index: index, Interstitial: sl.interstitial}, true
}

// ComputeNextFrame runs the full selection pipeline and returns a frame the
// device can always display. advance controls whether the rotation cursor
// moves; the non-advancing path answers "what is showing right now".
func (s *Scheduler) ComputeNextFrame(ctx context.Context, device *database.Device, advance bool) *delivery.Frame {
	now := s.localNow(device)

	if len(device.Apps) == 0 {
		return delivery.NewDefaultFrame(device, now)
	}

	if delivery.NightActive(device, now) {
		if app := findApp(device, device.NightModeApp); app != nil {
			if frame := s.frameFor(ctx, device, app, now); frame != nil {
				return frame
			}
			// Night app cannot render, fall through to the normal rotation
		}
	}

	if app := findApp(device, device.PinnedApp); app != nil {
		if frame := s.frameFor(ctx, device, app, now); frame != nil {
			return frame
		}
		s.unpin(device)
	}

	expanded := expandedList(device)
	if len(expanded) == 0 {
		return delivery.NewDefaultFrame(device, now)
	}

	bound := len(expanded) + 1
	index := device.LastAppIndex
	if advance {
		index = (index + 1) % len(expanded)
	} else if index < 0 || index >= len(expanded) {
		index = 0
	}

	for depth := 0; depth <= bound; depth++ {
		sl := expanded[index]
		app := sl.app

		if !eligible(sl, expanded, index, now) {
			index = (index + 1) % len(expanded)
			continue
		}

		frame := s.frameFor(ctx, device, app, now)
		if frame == nil {
			if device.PinnedApp == app.Iname {
				s.unpin(device)
			}
			index = (index + 1) % len(expanded)
			continue
		}

		if advance {
			if err := s.devices.SetLastAppIndex(device.ID, index); err != nil {
				logging.WarnWithComponent(logging.ComponentScheduler, "Failed to persist rotation cursor",
					"device", device.ID, "index", index, "error", err)
			}
			device.LastAppIndex = index
		}
		return frame
	}

	logging.DebugWithComponent(logging.ComponentScheduler, "No eligible app, serving default image",
		"device", device.ID, "apps", len(device.Apps))
	return delivery.NewDefaultFrame(device, now)
}

// eligible applies the visibility gates for one rotation position
func eligible(sl slot, expanded []slot, index int, now time.Time) bool {
	if !sl.app.Enabled || !schedule.IsActive(sl.app, now) {
		return false
	}
	if sl.interstitial {
		// An interstitial never shows isolated: if the regular app just
		// before it would be skipped, the interstitial is skipped too.
		prev := expanded[index-1].app
		if !prev.Enabled || !schedule.IsActive(prev, now) || prev.EmptyLastRender {
			return false
		}
	}
	return true
}

// frameFor runs the render gate and on-disk checks for an app. Returns nil
// when the app has no image to show, which the caller treats as a skip.
func (s *Scheduler) frameFor(ctx context.Context, device *database.Device, app *database.App, now time.Time) *delivery.Frame {
	if !s.gate.EnsureRendered(ctx, device, app) {
		return nil
	}
	if app.EmptyLastRender {
		return nil
	}

	path := s.images.ImagePath(device.ID, app.Iname, app.Pushed)
	if s.images.ImageSize(path) == 0 {
		return nil
	}
	data, err := s.images.ReadImage(path)
	if err != nil || len(data) == 0 {
		return nil
	}

	return delivery.NewFrame(device, app, data, now)
}

func (s *Scheduler) unpin(device *database.Device) {
	if err := s.devices.SetPinnedApp(device.ID, ""); err != nil {
		logging.WarnWithComponent(logging.ComponentScheduler, "Failed to unpin app",
			"device", device.ID, "error", err)
	}
	device.PinnedApp = ""
}
