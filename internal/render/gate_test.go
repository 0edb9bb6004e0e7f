package render

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tronbyt/server/internal/database"
	"github.com/tronbyt/server/internal/storage"
)

type recordingRenderer struct {
	calls  int
	config map[string]interface{}
	data   []byte
	err    error
}

func (r *recordingRenderer) Render(_ context.Context, _ *database.App, config map[string]interface{}) ([]byte, error) {
	r.calls++
	r.config = config
	return r.data, r.err
}

type gateEnv struct {
	devices  *database.DeviceService
	images   *storage.ImageStore
	renderer *recordingRenderer
	clock    *clockwork.FakeClock
	gate     *Gate
	device   *database.Device
	app      *database.App
}

func newGateEnv(t *testing.T) *gateEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := db.AutoMigrate(database.GetAllModels()...); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	user := &database.User{Username: "tester"}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed to create user: %v", err)
	}

	devices := database.NewDeviceService(db)
	apps := database.NewAppService(db)
	device, err := devices.CreateDevice(user.ID, "bench")
	if err != nil {
		t.Fatalf("CreateDevice: %v", err)
	}
	device.Timezone = "America/New_York"
	app, err := apps.AddApp(device.ID, "clock", map[string]interface{}{"format": "24h"})
	if err != nil {
		t.Fatalf("AddApp: %v", err)
	}

	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC))
	images := storage.NewImageStore(t.TempDir())
	renderer := &recordingRenderer{data: []byte("rendered")}

	return &gateEnv{
		devices:  devices,
		images:   images,
		renderer: renderer,
		clock:    clock,
		gate:     NewGate(devices, images, renderer, clock),
		device:   device,
		app:      app,
	}
}

func TestRenderWritesImageAndState(t *testing.T) {
	e := newGateEnv(t)

	if !e.gate.EnsureRendered(context.Background(), e.device, e.app) {
		t.Fatal("EnsureRendered = false")
	}

	data, err := e.images.ReadImage(e.images.AppImagePath(e.device.ID, e.app.Iname))
	if err != nil || string(data) != "rendered" {
		t.Errorf("cached image = %q, %v", data, err)
	}
	if e.app.LastRender == nil || !e.app.LastRender.Equal(e.clock.Now()) {
		t.Errorf("in-memory last render = %v", e.app.LastRender)
	}
	if e.app.EmptyLastRender {
		t.Error("non-empty render marked empty")
	}

	stored, err := e.devices.GetDeviceByID(e.device.ID)
	if err != nil {
		t.Fatalf("GetDeviceByID: %v", err)
	}
	if stored.Apps[0].LastRender == nil || stored.Apps[0].EmptyLastRender {
		t.Errorf("persisted state not updated: %+v", stored.Apps[0])
	}
}

func TestRenderConfigCarriesDeviceContext(t *testing.T) {
	e := newGateEnv(t)
	e.device.DoubleRes = true

	e.gate.EnsureRendered(context.Background(), e.device, e.app)

	if e.renderer.config["format"] != "24h" {
		t.Errorf("app config lost: %v", e.renderer.config)
	}
	if e.renderer.config["$tz"] != "America/New_York" {
		t.Errorf("$tz = %v", e.renderer.config["$tz"])
	}
	if e.renderer.config["$2x"] != true {
		t.Errorf("$2x = %v", e.renderer.config["$2x"])
	}
}

func TestFreshCacheSkipsRenderer(t *testing.T) {
	e := newGateEnv(t)
	e.app.UInterval = 10

	e.gate.EnsureRendered(context.Background(), e.device, e.app)
	e.clock.Advance(9 * time.Minute)
	e.gate.EnsureRendered(context.Background(), e.device, e.app)
	if e.renderer.calls != 1 {
		t.Errorf("renderer called %d times, want 1", e.renderer.calls)
	}

	e.clock.Advance(time.Minute)
	e.gate.EnsureRendered(context.Background(), e.device, e.app)
	if e.renderer.calls != 2 {
		t.Errorf("renderer called %d times after interval, want 2", e.renderer.calls)
	}
}

func TestZeroIntervalAlwaysRenders(t *testing.T) {
	e := newGateEnv(t)

	e.gate.EnsureRendered(context.Background(), e.device, e.app)
	e.gate.EnsureRendered(context.Background(), e.device, e.app)
	if e.renderer.calls != 2 {
		t.Errorf("renderer called %d times, want 2", e.renderer.calls)
	}
}

func TestPushedAppNeverRendered(t *testing.T) {
	e := newGateEnv(t)
	e.app.Pushed = true

	if !e.gate.EnsureRendered(context.Background(), e.device, e.app) {
		t.Fatal("EnsureRendered = false for pushed app")
	}
	if e.renderer.calls != 0 {
		t.Errorf("renderer called %d times for pushed app", e.renderer.calls)
	}
}

func TestEmptyRenderMarksAppEmpty(t *testing.T) {
	e := newGateEnv(t)
	e.renderer.data = []byte{}

	if !e.gate.EnsureRendered(context.Background(), e.device, e.app) {
		t.Fatal("empty render reported as failure")
	}
	if !e.app.EmptyLastRender {
		t.Error("EmptyLastRender not set")
	}
	if size := e.images.ImageSize(e.images.AppImagePath(e.device.ID, e.app.Iname)); size != 0 {
		t.Errorf("empty render wrote %d bytes", size)
	}
}

func TestRenderErrorReturnsFalse(t *testing.T) {
	e := newGateEnv(t)
	e.renderer.err = errors.New("renderer down")

	if e.gate.EnsureRendered(context.Background(), e.device, e.app) {
		t.Fatal("EnsureRendered = true despite render error")
	}
	if e.app.LastRender != nil {
		t.Error("failed render updated last render state")
	}
}

func TestAutopinOnSuccessfulRender(t *testing.T) {
	e := newGateEnv(t)
	e.app.Autopin = true

	e.gate.EnsureRendered(context.Background(), e.device, e.app)

	if e.device.PinnedApp != e.app.Iname {
		t.Errorf("in-memory pinned app = %q", e.device.PinnedApp)
	}
	stored, _ := e.devices.GetDeviceByID(e.device.ID)
	if stored.PinnedApp != e.app.Iname {
		t.Errorf("persisted pinned app = %q", stored.PinnedApp)
	}
}

func TestAutopinSkippedForEmptyRender(t *testing.T) {
	e := newGateEnv(t)
	e.app.Autopin = true
	e.renderer.data = nil

	e.gate.EnsureRendered(context.Background(), e.device, e.app)

	if e.device.PinnedApp != "" {
		t.Errorf("empty render pinned app %q", e.device.PinnedApp)
	}
}
