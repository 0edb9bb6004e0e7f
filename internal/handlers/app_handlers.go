package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"gorm.io/datatypes"

	"github.com/tronbyt/server/internal/database"
)

var validate = validator.New()

// appScheduleRequest covers the mutable schedule fields of an app
type appScheduleRequest struct {
	StartTime           *string                `json:"start_time" validate:"omitempty,len=5"`
	EndTime             *string                `json:"end_time" validate:"omitempty,len=5"`
	Days                []string               `json:"days" validate:"omitempty,dive,oneof=monday tuesday wednesday thursday friday saturday sunday"`
	UseCustomRecurrence *bool                  `json:"use_custom_recurrence"`
	RecurrenceType      *string                `json:"recurrence_type" validate:"omitempty,oneof=daily weekly monthly yearly"`
	RecurrenceInterval  *int                   `json:"recurrence_interval" validate:"omitempty,min=1"`
	RecurrencePattern   map[string]interface{} `json:"recurrence_pattern"`
	RecurrenceStart     *string                `json:"recurrence_start" validate:"omitempty,datetime=2006-01-02"`
	RecurrenceEnd       *string                `json:"recurrence_end" validate:"omitempty,datetime=2006-01-02"`
}

// parseRecurrenceDate turns a validated "YYYY-MM-DD" string into the value
// stored on the app record. An empty string clears the bound.
func parseRecurrenceDate(s string) (interface{}, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// AddAppHandler installs an app on a device
func AddAppHandler(c *gin.Context) {
	var req struct {
		Name   string                 `json:"name" binding:"required"`
		Config map[string]interface{} `json:"config"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	db := database.GetDB()
	deviceService := database.NewDeviceService(db)
	device, err := deviceService.GetDeviceByID(c.Param("deviceID"))
	if err != nil {
		respondDeviceError(c, err)
		return
	}

	app, err := database.NewAppService(db).AddApp(device.ID, req.Name, req.Config)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to add app"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"app": app})
}

// UpdateAppHandler patches an app's display and schedule settings
func UpdateAppHandler(c *gin.Context) {
	var req struct {
		Enabled     *bool                  `json:"enabled"`
		DisplayTime *int                   `json:"display_time" binding:"omitempty,min=0"`
		UInterval   *int                   `json:"uinterval" binding:"omitempty,min=0"`
		Autopin     *bool                  `json:"autopin"`
		Config      map[string]interface{} `json:"config"`
		appScheduleRequest
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := validate.Struct(req.appScheduleRequest); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	db := database.GetDB()
	deviceService := database.NewDeviceService(db)
	device, err := deviceService.GetDeviceByID(c.Param("deviceID"))
	if err != nil {
		respondDeviceError(c, err)
		return
	}

	appService := database.NewAppService(db)
	app, err := appService.GetApp(device.ID, c.Param("iname"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "app not found"})
		return
	}

	fields := map[string]interface{}{}
	if req.Enabled != nil {
		fields["enabled"] = *req.Enabled
	}
	if req.DisplayTime != nil {
		fields["display_time"] = *req.DisplayTime
	}
	if req.UInterval != nil {
		fields["uinterval"] = *req.UInterval
	}
	if req.Autopin != nil {
		fields["autopin"] = *req.Autopin
	}
	if req.Config != nil {
		fields["config"] = datatypes.JSONMap(req.Config)
	}
	if req.StartTime != nil {
		fields["start_time"] = *req.StartTime
	}
	if req.EndTime != nil {
		fields["end_time"] = *req.EndTime
	}
	if req.Days != nil {
		fields["days"] = datatypes.NewJSONSlice(req.Days)
	}
	if req.UseCustomRecurrence != nil {
		fields["use_custom_recurrence"] = *req.UseCustomRecurrence
	}
	if req.RecurrenceType != nil {
		fields["recurrence_type"] = *req.RecurrenceType
	}
	if req.RecurrenceInterval != nil {
		fields["recurrence_interval"] = *req.RecurrenceInterval
	}
	if req.RecurrencePattern != nil {
		fields["recurrence_pattern"] = datatypes.JSONMap(req.RecurrencePattern)
	}
	if req.RecurrenceStart != nil {
		start, err := parseRecurrenceDate(*req.RecurrenceStart)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid recurrence_start"})
			return
		}
		fields["recurrence_start"] = start
	}
	if req.RecurrenceEnd != nil {
		end, err := parseRecurrenceDate(*req.RecurrenceEnd)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid recurrence_end"})
			return
		}
		fields["recurrence_end"] = end
	}

	if err := deviceService.UpdateAppFields(device.ID, app.Iname, fields); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update app"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

// DeleteAppHandler removes an app and its cached image
func DeleteAppHandler(c *gin.Context) {
	db := database.GetDB()
	deviceService := database.NewDeviceService(db)
	device, err := deviceService.GetDeviceByID(c.Param("deviceID"))
	if err != nil {
		respondDeviceError(c, err)
		return
	}

	iname := c.Param("iname")
	if err := database.NewAppService(db).DeleteApp(device.ID, iname); err != nil {
		if err == database.ErrAppNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "app not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete app"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// ReorderAppsHandler renumbers a device's apps to the given iname order
func ReorderAppsHandler(c *gin.Context) {
	var req struct {
		Inames []string `json:"inames" binding:"required,min=1"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	db := database.GetDB()
	deviceService := database.NewDeviceService(db)
	device, err := deviceService.GetDeviceByID(c.Param("deviceID"))
	if err != nil {
		respondDeviceError(c, err)
		return
	}

	if err := database.NewAppService(db).ReorderApps(device.ID, req.Inames); err != nil {
		if err == database.ErrAppNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown iname in order"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to reorder apps"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "reordered"})
}

// MoveAppHandler shifts an app one position up or down
func MoveAppHandler(c *gin.Context) {
	var req struct {
		Direction string `json:"direction" binding:"required,oneof=up down"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	db := database.GetDB()
	deviceService := database.NewDeviceService(db)
	device, err := deviceService.GetDeviceByID(c.Param("deviceID"))
	if err != nil {
		respondDeviceError(c, err)
		return
	}

	if err := database.NewAppService(db).MoveApp(device.ID, c.Param("iname"), req.Direction == "up"); err != nil {
		if err == database.ErrAppNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "app not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to move app"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "moved"})
}
