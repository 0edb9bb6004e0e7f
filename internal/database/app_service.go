package database

import (
	"errors"
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AppService handles app lifecycle operations on a device
type AppService struct {
	db *gorm.DB
}

// NewAppService creates a new app service
func NewAppService(db *gorm.DB) *AppService {
	return &AppService{db: db}
}

// nextFreeIname returns the lowest unused 3-digit instance name for a device
func nextFreeIname(tx *gorm.DB, deviceID string) (string, error) {
	var inames []string
	if err := tx.Model(&App{}).Where("device_id = ?", deviceID).Pluck("iname", &inames).Error; err != nil {
		return "", err
	}
	used := make(map[string]bool, len(inames))
	for _, in := range inames {
		used[in] = true
	}
	for i := 1; i < 1000; i++ {
		candidate := fmt.Sprintf("%03d", i)
		if !used[candidate] {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no free iname on device %s", deviceID)
}

// AddApp installs an app on a device. The instance gets the next free
// 3-digit iname and an order equal to the current app count.
func (as *AppService) AddApp(deviceID, name string, config map[string]interface{}) (*App, error) {
	deviceID = NormalizeDeviceID(deviceID)

	var app *App
	err := as.db.Transaction(func(tx *gorm.DB) error {
		iname, err := nextFreeIname(tx, deviceID)
		if err != nil {
			return err
		}

		var count int64
		if err := tx.Model(&App{}).Where("device_id = ?", deviceID).Count(&count).Error; err != nil {
			return err
		}

		app = &App{
			DeviceID: deviceID,
			Iname:    iname,
			Name:     name,
			Order:    int(count),
			Enabled:  true,
			Config:   datatypes.JSONMap(config),
		}
		return tx.Create(app).Error
	})
	if err != nil {
		return nil, err
	}
	return app, nil
}

// AddPushedApp installs an ephemeral pushed app under a caller-chosen iname.
// If the iname already exists the existing record is reused.
func (as *AppService) AddPushedApp(deviceID, iname string) (*App, error) {
	deviceID = NormalizeDeviceID(deviceID)

	var existing App
	err := as.db.First(&existing, "device_id = ? AND iname = ?", deviceID, iname).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	var count int64
	if err := as.db.Model(&App{}).Where("device_id = ?", deviceID).Count(&count).Error; err != nil {
		return nil, err
	}

	app := &App{
		DeviceID: deviceID,
		Iname:    iname,
		Name:     "pushed",
		Order:    int(count),
		Enabled:  true,
		Pushed:   true,
	}
	if err := as.db.Create(app).Error; err != nil {
		return nil, err
	}
	return app, nil
}

// GetApp returns an app by (device id, iname)
func (as *AppService) GetApp(deviceID, iname string) (*App, error) {
	var app App
	err := as.db.First(&app, "device_id = ? AND iname = ?", NormalizeDeviceID(deviceID), iname).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAppNotFound
		}
		return nil, err
	}
	return &app, nil
}

// DeleteApp removes an app. Remaining apps are intentionally not
// renumbered; the scheduler sorts by order and tolerates gaps.
func (as *AppService) DeleteApp(deviceID, iname string) error {
	result := as.db.Delete(&App{}, "device_id = ? AND iname = ?", NormalizeDeviceID(deviceID), iname)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAppNotFound
	}
	return nil
}

// ReorderApps renumbers a device's apps to match the given iname order.
// Orders become unique and contiguous starting at 0.
func (as *AppService) ReorderApps(deviceID string, orderedInames []string) error {
	deviceID = NormalizeDeviceID(deviceID)
	return as.db.Transaction(func(tx *gorm.DB) error {
		for i, iname := range orderedInames {
			result := tx.Model(&App{}).
				Where("device_id = ? AND iname = ?", deviceID, iname).
				Update("app_order", i)
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				return ErrAppNotFound
			}
		}
		return nil
	})
}

// MoveApp shifts an app one position up or down and renumbers the whole
// list contiguously
func (as *AppService) MoveApp(deviceID, iname string, up bool) error {
	deviceID = NormalizeDeviceID(deviceID)
	return as.db.Transaction(func(tx *gorm.DB) error {
		var apps []App
		if err := tx.Where("device_id = ?", deviceID).Order("app_order ASC").Find(&apps).Error; err != nil {
			return err
		}

		pos := -1
		for i := range apps {
			if apps[i].Iname == iname {
				pos = i
				break
			}
		}
		if pos < 0 {
			return ErrAppNotFound
		}

		target := pos + 1
		if up {
			target = pos - 1
		}
		if target >= 0 && target < len(apps) {
			apps[pos], apps[target] = apps[target], apps[pos]
		}

		for i := range apps {
			if err := tx.Model(&apps[i]).Update("app_order", i).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
