// Package delivery builds the outgoing image responses shared by the HTTP
// pull path and the websocket sender loop.
package delivery

import (
	"time"

	"github.com/tronbyt/server/internal/database"
	"github.com/tronbyt/server/internal/schedule"
)

// ImmediateDwellSecs is the dwell used for push-interrupt frames that
// bypass the scheduler.
const ImmediateDwellSecs = 5

// Frame is a fully assembled response for one display cycle
type Frame struct {
	Iname      string
	Bytes      []byte
	Brightness int
	DwellSecs  int
	// Immediate marks a push-interrupt frame the device should display
	// without waiting for the current dwell to finish
	Immediate bool
}

// defaultImage is the smallest valid webp, served whenever no app can
// produce an image so the device is never left without a frame.
var defaultImage = []byte{
	0x52, 0x49, 0x46, 0x46, 0x1a, 0x00, 0x00, 0x00, // RIFF
	0x57, 0x45, 0x42, 0x50, 0x56, 0x50, 0x38, 0x4c, // WEBPVP8L
	0x0d, 0x00, 0x00, 0x00, 0x2f, 0x00, 0x00, 0x00,
	0x10, 0x07, 0x10, 0x11, 0x11, 0x88, 0x88, 0xfe,
	0x07, 0x00,
}

// DefaultImage returns a copy of the placeholder image bytes
func DefaultImage() []byte {
	out := make([]byte, len(defaultImage))
	copy(out, defaultImage)
	return out
}

// NightActive reports whether the device's night-mode window covers the
// given local time
func NightActive(device *database.Device, now time.Time) bool {
	if !device.NightModeEnabled {
		return false
	}
	if device.NightStart == "" && device.NightEnd == "" {
		return false
	}
	return schedule.InClockWindow(device.NightStart, device.NightEnd, now)
}

// dimActive reports whether the dim window (dim time until end of day)
// covers the given local time
func dimActive(device *database.Device, now time.Time) bool {
	if device.DimTime == "" {
		return false
	}
	return schedule.InClockWindow(device.DimTime, "23:59", now)
}

// BrightnessFor selects the effective brightness. Night mode wins over dim
// mode, dim mode wins over the daytime setting.
func BrightnessFor(device *database.Device, now time.Time) int {
	switch {
	case NightActive(device, now):
		return clampPercent(device.NightBrightness)
	case dimActive(device, now):
		return clampPercent(device.DimBrightness)
	default:
		return clampPercent(device.Brightness)
	}
}

func clampPercent(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// DwellFor returns the seconds a frame of this app stays on screen
func DwellFor(device *database.Device, app *database.App) int {
	if app != nil && app.DisplayTime > 0 {
		return app.DisplayTime
	}
	if device.DefaultInterval > 0 {
		return device.DefaultInterval
	}
	return ImmediateDwellSecs
}

// NewFrame assembles a scheduled frame for an app
func NewFrame(device *database.Device, app *database.App, data []byte, now time.Time) *Frame {
	return &Frame{
		Iname:      app.Iname,
		Bytes:      data,
		Brightness: BrightnessFor(device, now),
		DwellSecs:  DwellFor(device, app),
	}
}

// NewDefaultFrame assembles the placeholder frame
func NewDefaultFrame(device *database.Device, now time.Time) *Frame {
	return &Frame{
		Bytes:      DefaultImage(),
		Brightness: BrightnessFor(device, now),
		DwellSecs:  DwellFor(device, nil),
	}
}

// NewImmediateFrame assembles a push-interrupt frame around externally
// supplied bytes
func NewImmediateFrame(device *database.Device, data []byte, now time.Time) *Frame {
	return &Frame{
		Bytes:      data,
		Brightness: BrightnessFor(device, now),
		DwellSecs:  ImmediateDwellSecs,
		Immediate:  true,
	}
}
