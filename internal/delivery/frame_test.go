package delivery

import (
	"bytes"
	"testing"
	"time"

	"golang.org/x/image/webp"

	"github.com/tronbyt/server/internal/database"
)

func at(t *testing.T, hhmm string) time.Time {
	t.Helper()
	parsed, err := time.Parse("2006-01-02 15:04", "2026-03-02 "+hhmm)
	if err != nil {
		t.Fatalf("bad time %q: %v", hhmm, err)
	}
	return parsed
}

func TestDefaultImageIsValidWebP(t *testing.T) {
	cfg, err := webp.DecodeConfig(bytes.NewReader(DefaultImage()))
	if err != nil {
		t.Fatalf("default image does not decode: %v", err)
	}
	if cfg.Width < 1 || cfg.Height < 1 {
		t.Errorf("degenerate dimensions %dx%d", cfg.Width, cfg.Height)
	}
}

func TestBrightnessFor(t *testing.T) {
	device := &database.Device{
		Brightness:       70,
		NightBrightness:  5,
		DimBrightness:    25,
		NightModeEnabled: true,
		NightStart:       "22:00",
		NightEnd:         "06:00",
		DimTime:          "19:00",
	}

	if got := BrightnessFor(device, at(t, "12:00")); got != 70 {
		t.Errorf("daytime brightness = %d, want 70", got)
	}
	if got := BrightnessFor(device, at(t, "20:00")); got != 25 {
		t.Errorf("dim brightness = %d, want 25", got)
	}
	if got := BrightnessFor(device, at(t, "23:30")); got != 5 {
		t.Errorf("night brightness = %d, want 5", got)
	}
	if got := BrightnessFor(device, at(t, "05:00")); got != 5 {
		t.Errorf("early-morning night brightness = %d, want 5", got)
	}
}

func TestBrightnessDisabledNightMode(t *testing.T) {
	device := &database.Device{
		Brightness:      60,
		NightBrightness: 5,
		NightStart:      "22:00",
		NightEnd:        "06:00",
	}
	if got := BrightnessFor(device, at(t, "23:30")); got != 60 {
		t.Errorf("night window without the flag changed brightness to %d", got)
	}
}

func TestBrightnessClamped(t *testing.T) {
	device := &database.Device{Brightness: 150}
	if got := BrightnessFor(device, at(t, "12:00")); got != 100 {
		t.Errorf("clamp high = %d", got)
	}
	device.Brightness = -3
	if got := BrightnessFor(device, at(t, "12:00")); got != 0 {
		t.Errorf("clamp low = %d", got)
	}
}

func TestDwellFor(t *testing.T) {
	device := &database.Device{DefaultInterval: 10}

	if got := DwellFor(device, &database.App{DisplayTime: 30}); got != 30 {
		t.Errorf("app dwell = %d, want 30", got)
	}
	if got := DwellFor(device, &database.App{}); got != 10 {
		t.Errorf("fallback dwell = %d, want 10", got)
	}
	if got := DwellFor(&database.Device{}, nil); got != ImmediateDwellSecs {
		t.Errorf("last-resort dwell = %d, want %d", got, ImmediateDwellSecs)
	}
}

func TestNewImmediateFrame(t *testing.T) {
	device := &database.Device{Brightness: 40, DefaultInterval: 10}
	frame := NewImmediateFrame(device, []byte("pushed"), at(t, "12:00"))

	if !frame.Immediate {
		t.Error("expected immediate flag")
	}
	if frame.DwellSecs != ImmediateDwellSecs {
		t.Errorf("dwell = %d, want %d", frame.DwellSecs, ImmediateDwellSecs)
	}
	if frame.Brightness != 40 {
		t.Errorf("brightness = %d, want 40", frame.Brightness)
	}
}
