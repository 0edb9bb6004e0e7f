package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tronbyt/server/internal/database"
	"github.com/tronbyt/server/internal/notify"
	"github.com/tronbyt/server/internal/render"
	"github.com/tronbyt/server/internal/scheduler"
	"github.com/tronbyt/server/internal/storage"
)

type fixedRenderer struct{}

func (fixedRenderer) Render(_ context.Context, app *database.App, _ map[string]interface{}) ([]byte, error) {
	return []byte("webp-" + app.Iname), nil
}

type sessionEnv struct {
	devices  *database.DeviceService
	notifier *notify.MemoryNotifier
	registry *Registry
	server   *httptest.Server
	deviceID string
}

func newSessionEnv(t *testing.T) *sessionEnv {
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
	device, err := devices.CreateDevice(user.ID, "lab")
	if err != nil {
		t.Fatalf("failed to create device: %v", err)
	}
	for _, name := range []string{"clock", "weather"} {
		if _, err := apps.AddApp(device.ID, name, nil); err != nil {
			t.Fatalf("AddApp(%s): %v", name, err)
		}
	}
	// Park the cursor so the first advancing frame is app 001
	if err := devices.SetLastAppIndex(device.ID, 1); err != nil {
		t.Fatalf("SetLastAppIndex: %v", err)
	}

	clock := clockwork.NewRealClock()
	images := storage.NewImageStore(t.TempDir())
	gate := render.NewGate(devices, images, fixedRenderer{}, clock)
	sched := scheduler.New(devices, gate, images, clock)
	notifier := notify.NewMemoryNotifier(clock)
	registry := NewRegistry()

	upgr := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgr.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		NewSession(context.Background(), conn, device.ID, devices, sched, notifier, registry, clock).Run()
	}))
	t.Cleanup(server.Close)

	return &sessionEnv{
		devices:  devices,
		notifier: notifier,
		registry: registry,
		server:   server,
		deviceID: device.ID,
	}
}

func (e *sessionEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) (int, []byte) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	mt, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return mt, data
}

func expectJSON(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	mt, data := readMessage(t, conn)
	if mt != websocket.TextMessage {
		t.Fatalf("expected text message, got type %d: %q", mt, data)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("bad json %q: %v", data, err)
	}
	return m
}

// readFrameHeader consumes the dwell and optional brightness messages that
// precede a binary frame
func readFrameHeader(t *testing.T, conn *websocket.Conn) (dwell int, brightness *int, image []byte) {
	t.Helper()
	for {
		mt, data := readMessage(t, conn)
		if mt == websocket.BinaryMessage {
			return dwell, brightness, data
		}
		var m map[string]interface{}
		if err := json.Unmarshal(data, &m); err != nil {
			t.Fatalf("bad json %q: %v", data, err)
		}
		if v, ok := m["dwell_secs"]; ok {
			dwell = int(v.(float64))
		}
		if v, ok := m["brightness"]; ok {
			b := int(v.(float64))
			brightness = &b
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSessionStreamsFramesWithAckPacing(t *testing.T) {
	e := newSessionEnv(t)
	conn := e.dial(t)

	dwell, brightness, image := readFrameHeader(t, conn)
	if dwell != 10 {
		t.Errorf("dwell = %d, want device default 10", dwell)
	}
	if brightness == nil || *brightness != 50 {
		t.Errorf("expected initial brightness 50, got %v", brightness)
	}
	if string(image) != "webp-001" {
		t.Errorf("first frame = %q, want webp-001", image)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"displaying":1}`)); err != nil {
		t.Fatalf("ack write: %v", err)
	}

	_, brightness, image = readFrameHeader(t, conn)
	if brightness != nil {
		t.Error("brightness resent without change")
	}
	if string(image) != "webp-002" {
		t.Errorf("second frame = %q, want webp-002", image)
	}

	// The ack also identifies ack-capable firmware
	waitFor(t, "protocol version stamp", func() bool {
		device, err := e.devices.GetDeviceByID(e.deviceID)
		return err == nil && device.ProtocolVersion == 1
	})

	conn.Close()
	waitFor(t, "session teardown", func() bool { return e.registry.Count() == 0 })
}

func TestPushNotificationInterruptsFrame(t *testing.T) {
	e := newSessionEnv(t)
	conn := e.dial(t)
	readFrameHeader(t, conn)

	pushed := []byte("pushed-image")
	if err := e.notifier.Notify(context.Background(), e.deviceID, &notify.Notification{Image: pushed}); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	dwell, _, image := readFrameHeader(t, conn)
	if dwell != 5 {
		t.Errorf("immediate dwell = %d, want 5", dwell)
	}
	if string(image) != string(pushed) {
		t.Errorf("frame = %q, want pushed bytes", image)
	}

	// The immediate flag arrives after the image bytes
	m := expectJSON(t, conn)
	if m["immediate"] != true {
		t.Errorf("expected immediate flag, got %v", m)
	}
}

func TestBrightnessNotificationDoesNotAdvance(t *testing.T) {
	e := newSessionEnv(t)
	conn := e.dial(t)
	readFrameHeader(t, conn)

	level := 15
	if err := e.notifier.Notify(context.Background(), e.deviceID, &notify.Notification{Brightness: &level}); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	m := expectJSON(t, conn)
	if int(m["brightness"].(float64)) != 15 {
		t.Errorf("expected brightness 15, got %v", m)
	}

	// Only after the ack does the next frame go out
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"displaying":1}`)); err != nil {
		t.Fatalf("ack write: %v", err)
	}
	_, _, image := readFrameHeader(t, conn)
	if string(image) != "webp-002" {
		t.Errorf("next frame = %q, want webp-002", image)
	}
}

func TestClientInfoIsStored(t *testing.T) {
	e := newSessionEnv(t)
	conn := e.dial(t)
	readFrameHeader(t, conn)

	info := `{"client_info":{"firmware_version":"2.1.0","firmware_type":"esp32","protocol_version":2,"mac_address":"aa:bb:cc:dd:ee:ff"}}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(info)); err != nil {
		t.Fatalf("write: %v", err)
	}

	waitFor(t, "client info persisted", func() bool {
		device, err := e.devices.GetDeviceByID(e.deviceID)
		return err == nil && device.FirmwareVersion == "2.1.0" &&
			device.FirmwareType == "esp32" && device.ProtocolVersion == 2 &&
			device.MacAddress == "aa:bb:cc:dd:ee:ff"
	})
}

func TestMalformedFramesDoNotKillSession(t *testing.T) {
	e := newSessionEnv(t)
	conn := e.dial(t)
	readFrameHeader(t, conn)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{{{not json`)); err != nil {
		t.Fatalf("write: %v", err)
	}

	// The session keeps going: an ack still advances the rotation
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"displaying":1}`)); err != nil {
		t.Fatalf("ack write: %v", err)
	}
	_, _, image := readFrameHeader(t, conn)
	if string(image) != "webp-002" {
		t.Errorf("next frame = %q, want webp-002", image)
	}
}

func TestDuplicateDisplayingAckDoesNotAdvance(t *testing.T) {
	e := newSessionEnv(t)
	conn := e.dial(t)
	readFrameHeader(t, conn)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"displaying":7}`)); err != nil {
		t.Fatalf("ack write: %v", err)
	}
	_, _, image := readFrameHeader(t, conn)
	if string(image) != "webp-002" {
		t.Fatalf("frame after ack = %q, want webp-002", image)
	}

	// A retransmission of the same counter must not produce another frame
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"displaying":7}`)); err != nil {
		t.Fatalf("duplicate ack write: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2500 * time.Millisecond))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("duplicate displaying ack advanced the rotation")
	}
}

func TestSecondConnectionSupersedesFirst(t *testing.T) {
	e := newSessionEnv(t)

	first := e.dial(t)
	readFrameHeader(t, first)

	second := e.dial(t)
	readFrameHeader(t, second)

	// The first socket gets closed by the takeover
	first.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		if _, _, err := first.ReadMessage(); err != nil {
			break
		}
	}

	waitFor(t, "single active session", func() bool { return e.registry.Count() == 1 })
}
