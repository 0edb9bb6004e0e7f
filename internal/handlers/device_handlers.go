package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tronbyt/server/internal/database"
	"github.com/tronbyt/server/internal/logging"
	"github.com/tronbyt/server/internal/storage"
	"github.com/tronbyt/server/internal/utils"
)

// GetDevicesHandler returns all devices for a user
func GetDevicesHandler(c *gin.Context) {
	username := c.Query("username")
	if username == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username is required"})
		return
	}

	db := database.GetDB()

	var user database.User
	if err := db.First(&user, "username = ?", username).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}

	deviceService := database.NewDeviceService(db)
	devices, err := deviceService.GetDevicesByUserID(user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch devices"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"devices": devices})
}

// CreateDeviceHandler creates a device, creating the owning user record on
// first use
func CreateDeviceHandler(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Name     string `json:"name" binding:"required"`
		Timezone string `json:"timezone"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.Timezone != "" && !utils.IsValidTimezone(req.Timezone) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid timezone"})
		return
	}

	db := database.GetDB()

	var user database.User
	if err := db.FirstOrCreate(&user, database.User{Username: req.Username}).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve user"})
		return
	}

	deviceService := database.NewDeviceService(db)
	device, err := deviceService.CreateDevice(user.ID, req.Name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create device"})
		return
	}

	if req.Timezone != "" {
		if err := deviceService.UpdateDeviceFields(device.ID, map[string]interface{}{"timezone": req.Timezone}); err == nil {
			device.Timezone = req.Timezone
		}
	}

	c.JSON(http.StatusCreated, gin.H{"device": device})
}

// GetDeviceHandler returns one device with its apps
func GetDeviceHandler(c *gin.Context) {
	deviceService := database.NewDeviceService(database.GetDB())
	device, err := deviceService.GetDeviceByID(c.Param("deviceID"))
	if err != nil {
		respondDeviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"device": device})
}

// UpdateDeviceHandler patches device settings
func UpdateDeviceHandler(c *gin.Context) {
	var req struct {
		Name                *string `json:"name"`
		Brightness          *int    `json:"brightness" binding:"omitempty,min=0,max=100"`
		NightBrightness     *int    `json:"night_brightness" binding:"omitempty,min=0,max=100"`
		DimBrightness       *int    `json:"dim_brightness" binding:"omitempty,min=0,max=100"`
		NightModeEnabled    *bool   `json:"night_mode_enabled"`
		NightStart          *string `json:"night_start"`
		NightEnd            *string `json:"night_end"`
		NightModeApp        *string `json:"night_mode_app"`
		DimTime             *string `json:"dim_time"`
		DefaultInterval     *int    `json:"default_interval" binding:"omitempty,min=1"`
		Timezone            *string `json:"timezone"`
		PinnedApp           *string `json:"pinned_app"`
		InterstitialEnabled *bool   `json:"interstitial_enabled"`
		InterstitialApp     *string `json:"interstitial_app"`
		DoubleRes           *bool   `json:"double_res"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.Timezone != nil && !utils.IsValidTimezone(*req.Timezone) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid timezone"})
		return
	}

	fields := map[string]interface{}{}
	setIf := func(key string, v interface{}, present bool) {
		if present {
			fields[key] = v
		}
	}
	setIf("name", deref(req.Name), req.Name != nil)
	setIf("brightness", derefInt(req.Brightness), req.Brightness != nil)
	setIf("night_brightness", derefInt(req.NightBrightness), req.NightBrightness != nil)
	setIf("dim_brightness", derefInt(req.DimBrightness), req.DimBrightness != nil)
	setIf("night_mode_enabled", derefBool(req.NightModeEnabled), req.NightModeEnabled != nil)
	setIf("night_start", deref(req.NightStart), req.NightStart != nil)
	setIf("night_end", deref(req.NightEnd), req.NightEnd != nil)
	setIf("night_mode_app", deref(req.NightModeApp), req.NightModeApp != nil)
	setIf("dim_time", deref(req.DimTime), req.DimTime != nil)
	setIf("default_interval", derefInt(req.DefaultInterval), req.DefaultInterval != nil)
	setIf("timezone", deref(req.Timezone), req.Timezone != nil)
	setIf("pinned_app", deref(req.PinnedApp), req.PinnedApp != nil)
	setIf("interstitial_enabled", derefBool(req.InterstitialEnabled), req.InterstitialEnabled != nil)
	setIf("interstitial_app", deref(req.InterstitialApp), req.InterstitialApp != nil)
	setIf("double_res", derefBool(req.DoubleRes), req.DoubleRes != nil)

	deviceService := database.NewDeviceService(database.GetDB())
	device, err := deviceService.GetDeviceByID(c.Param("deviceID"))
	if err != nil {
		respondDeviceError(c, err)
		return
	}

	if err := deviceService.UpdateDeviceFields(device.ID, fields); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update device"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

// DeleteDeviceHandler removes a device and purges its render cache
func DeleteDeviceHandler(c *gin.Context) {
	deviceService := database.NewDeviceService(database.GetDB())
	device, err := deviceService.GetDeviceByID(c.Param("deviceID"))
	if err != nil {
		respondDeviceError(c, err)
		return
	}

	if err := deviceService.DeleteDevice(device.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete device"})
		return
	}

	if err := storage.NewImageStoreFromEnv().PurgeDevice(device.ID); err != nil {
		logging.WarnWithComponent(logging.ComponentDevices, "Failed to purge render cache",
			"device", device.ID, "error", err)
	}

	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func respondDeviceError(c *gin.Context, err error) {
	switch err {
	case database.ErrInvalidDeviceID:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid device id"})
	case database.ErrDeviceNotFound:
		c.JSON(http.StatusNotFound, gin.H{"error": "device not found"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefInt(i *int) int {
	if i == nil {
		return 0
	}
	return *i
}

func derefBool(b *bool) bool {
	if b == nil {
		return false
	}
	return *b
}
