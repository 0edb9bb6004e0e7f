// Package handlers wires the HTTP and websocket surface consumed by
// devices and integrations.
package handlers

import (
	"context"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/tronbyt/server/internal/database"
	"github.com/tronbyt/server/internal/imageprocessing"
	"github.com/tronbyt/server/internal/logging"
	"github.com/tronbyt/server/internal/notify"
	"github.com/tronbyt/server/internal/scheduler"
	"github.com/tronbyt/server/internal/storage"
	"github.com/tronbyt/server/internal/ws"
)

// pushedIname is the default instance name for pushed images without an
// explicit installation id
const pushedIname = "pushed"

// inamePattern bounds caller-chosen installation ids. Inames name files
// under the webp store and fill an 8-char column, so anything outside this
// set is rejected before it reaches either.
var inamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,8}$`)

// API bundles the long-lived services behind the device-facing routes
type API struct {
	Devices  *database.DeviceService
	Apps     *database.AppService
	Sched    *scheduler.Scheduler
	Images   *storage.ImageStore
	Notifier notify.Notifier
	Registry *ws.Registry
	Clock    clockwork.Clock
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// loadDevice resolves the deviceID route parameter, writing the error
// response itself when the id is bad or unknown
func (a *API) loadDevice(c *gin.Context) (*database.Device, bool) {
	deviceID := c.Param("deviceID")
	device, err := a.Devices.GetDeviceByID(deviceID)
	switch {
	case errors.Is(err, database.ErrInvalidDeviceID):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid device id"})
		return nil, false
	case errors.Is(err, database.ErrDeviceNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "device not found"})
		return nil, false
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load device"})
		return nil, false
	}
	return device, true
}

// NextHandler advances the rotation and serves the next frame
func (a *API) NextHandler(c *gin.Context) {
	device, ok := a.loadDevice(c)
	if !ok {
		return
	}

	if err := a.Devices.TouchLastSeen(device.ID); err != nil {
		logging.DebugWithComponent(logging.ComponentAPINext, "Failed to update last seen",
			"device", device.ID, "error", err)
	}

	frame := a.Sched.ComputeNextFrame(c.Request.Context(), device, true)
	c.Header("Tronbyt-Brightness", strconv.Itoa(frame.Brightness))
	c.Header("Tronbyt-Dwell-Secs", strconv.Itoa(frame.DwellSecs))
	c.Data(http.StatusOK, "image/webp", frame.Bytes)
}

// CurrentAppHandler serves the currently displaying frame without moving
// the rotation cursor. Supports conditional requests via ETag.
func (a *API) CurrentAppHandler(c *gin.Context) {
	device, ok := a.loadDevice(c)
	if !ok {
		return
	}

	frame := a.Sched.ComputeNextFrame(c.Request.Context(), device, false)

	sum := sha1.Sum(frame.Bytes)
	etag := `"` + hex.EncodeToString(sum[:]) + `"`
	if c.GetHeader("If-None-Match") == etag {
		c.Status(http.StatusNotModified)
		return
	}

	c.Header("ETag", etag)
	c.Header("Tronbyt-Brightness", strconv.Itoa(frame.Brightness))
	c.Header("Tronbyt-Dwell-Secs", strconv.Itoa(frame.DwellSecs))
	c.Data(http.StatusOK, "image/webp", frame.Bytes)
}

// AppWebPHandler serves a specific app's last rendered image irrespective
// of the rotation
func (a *API) AppWebPHandler(c *gin.Context) {
	device, ok := a.loadDevice(c)
	if !ok {
		return
	}

	app, err := a.Apps.GetApp(device.ID, c.Param("iname"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "app not found"})
		return
	}

	data, err := a.Images.ReadImage(a.Images.ImagePath(device.ID, app.Iname, app.Pushed))
	if err != nil || len(data) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no rendered image"})
		return
	}
	c.Data(http.StatusOK, "image/webp", data)
}

// WSHandler upgrades to the persistent device session. Protocol violations
// (bad id, unknown device) are reported with a policy-violation close so
// firmware can distinguish them from transient failures.
func (a *API) WSHandler(c *gin.Context) {
	deviceID := c.Param("deviceID")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		return
	}

	device, err := a.Devices.GetDeviceByID(deviceID)
	if err != nil {
		reason := "device not found"
		if errors.Is(err, database.ErrInvalidDeviceID) {
			reason = "invalid device id"
		}
		deadline := time.Now().Add(time.Second)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), deadline)
		conn.Close()
		return
	}

	session := ws.NewSession(context.Background(), conn, device.ID,
		a.Devices, a.Sched, a.Notifier, a.Registry, a.Clock)
	session.Run()
}

// PushHandler accepts an externally rendered image and interrupts the
// device's current frame with it. The body is either JSON with a base64
// image or raw webp bytes.
func (a *API) PushHandler(c *gin.Context) {
	device, ok := a.loadDevice(c)
	if !ok {
		return
	}

	data, iname, ok := a.readPushedImage(c)
	if !ok {
		return
	}

	width, height, err := imageprocessing.DecodeBounds(data)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "not a valid webp image"})
		return
	}

	// A doubled push means the display can take 2x renders from now on
	if imageprocessing.Is2x(width, height) && !device.DoubleRes {
		if err := a.Devices.UpdateDeviceFields(device.ID, map[string]interface{}{"double_res": true}); err != nil {
			logging.WarnWithComponent(logging.ComponentAPIPush, "Failed to mark device 2x",
				"device", device.ID, "error", err)
		}
	}

	app, err := a.Apps.AddPushedApp(device.ID, iname)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record pushed app"})
		return
	}
	path := a.Images.PushedImagePath(device.ID, app.Iname)
	if err := a.Images.SaveImage(path, data); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store image"})
		return
	}

	if err := a.Notifier.Notify(c.Request.Context(), device.ID, &notify.Notification{Image: data}); err != nil {
		logging.WarnWithComponent(logging.ComponentAPIPush, "Failed to notify session",
			"device", device.ID, "error", err)
	}

	c.JSON(http.StatusOK, gin.H{"status": "pushed", "iname": app.Iname})
}

func (a *API) readPushedImage(c *gin.Context) ([]byte, string, bool) {
	iname := pushedIname

	if c.ContentType() == "application/json" {
		var req struct {
			Image          string `json:"image" binding:"required"`
			InstallationID string `json:"installation_id"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return nil, "", false
		}
		if req.InstallationID != "" {
			if !inamePattern.MatchString(req.InstallationID) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid installation_id"})
				return nil, "", false
			}
			iname = req.InstallationID
		}
		data, err := base64.StdEncoding.DecodeString(req.Image)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid base64 image"})
			return nil, "", false
		}
		return data, iname, true
	}

	data, err := io.ReadAll(c.Request.Body)
	if err != nil || len(data) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty request body"})
		return nil, "", false
	}
	return data, iname, true
}

// BrightnessHandler sets the device brightness and nudges any live session
// so the change reaches the display without waiting for the next frame
func (a *API) BrightnessHandler(c *gin.Context) {
	device, ok := a.loadDevice(c)
	if !ok {
		return
	}

	var req struct {
		Brightness *int `json:"brightness" binding:"required,min=0,max=100"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := a.Devices.UpdateDeviceFields(device.ID, map[string]interface{}{"brightness": *req.Brightness}); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update brightness"})
		return
	}

	if err := a.Notifier.Notify(c.Request.Context(), device.ID, &notify.Notification{Brightness: req.Brightness}); err != nil {
		logging.WarnWithComponent(logging.ComponentAPIBrightness, "Failed to notify session",
			"device", device.ID, "error", err)
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok", "brightness": *req.Brightness})
}
