package database

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var deviceIDPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}$`)

// ValidDeviceID reports whether id is exactly 8 hex characters
func ValidDeviceID(id string) bool {
	return deviceIDPattern.MatchString(id)
}

// NormalizeDeviceID lowercases a wire-format device id
func NormalizeDeviceID(id string) string {
	return strings.ToLower(id)
}

// DeviceService handles device-related database operations
type DeviceService struct {
	db *gorm.DB
}

// NewDeviceService creates a new device service
func NewDeviceService(db *gorm.DB) *DeviceService {
	return &DeviceService{db: db}
}

// generateDeviceID returns a random 8-character lowercase hex id
func generateDeviceID() (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate device id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// CreateDevice creates a device for a user with defaults
func (ds *DeviceService) CreateDevice(userID uuid.UUID, name string) (*Device, error) {
	id, err := generateDeviceID()
	if err != nil {
		return nil, err
	}

	device := &Device{
		ID:              id,
		UserID:          userID,
		Name:            name,
		Brightness:      50,
		NightBrightness: 10,
		DimBrightness:   20,
		DefaultInterval: 10,
		Timezone:        "UTC",
	}

	if err := ds.db.Create(device).Error; err != nil {
		return nil, err
	}
	return device, nil
}

// GetDeviceByID returns a device with its apps sorted by rotation order.
// The id is validated and normalized first.
func (ds *DeviceService) GetDeviceByID(id string) (*Device, error) {
	if !ValidDeviceID(id) {
		return nil, ErrInvalidDeviceID
	}

	var device Device
	err := ds.db.
		Preload("Apps", func(db *gorm.DB) *gorm.DB {
			return db.Order("app_order ASC")
		}).
		First(&device, "id = ?", NormalizeDeviceID(id)).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, err
	}
	return &device, nil
}

// GetDevicesByUserID returns all devices for a user
func (ds *DeviceService) GetDevicesByUserID(userID uuid.UUID) ([]Device, error) {
	var devices []Device
	err := ds.db.Where("user_id = ?", userID).Order("created_at ASC").Find(&devices).Error
	return devices, err
}

// DeleteDevice removes a device; apps cascade
func (ds *DeviceService) DeleteDevice(id string) error {
	result := ds.db.Delete(&Device{}, "id = ?", NormalizeDeviceID(id))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// UpdateDeviceFields atomically updates named fields on a device record.
// This is the single write primitive for device mutations: callers never
// read-modify-write a shared device object.
func (ds *DeviceService) UpdateDeviceFields(deviceID string, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}
	fields["updated_at"] = time.Now()
	return ds.db.Model(&Device{}).Where("id = ?", NormalizeDeviceID(deviceID)).Updates(fields).Error
}

// UpdateAppFields atomically updates named fields on an app record keyed by
// (device id, iname)
func (ds *DeviceService) UpdateAppFields(deviceID, iname string, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}
	fields["updated_at"] = time.Now()
	return ds.db.Model(&App{}).
		Where("device_id = ? AND iname = ?", NormalizeDeviceID(deviceID), iname).
		Updates(fields).Error
}

// SetLastAppIndex persists the rotation cursor
func (ds *DeviceService) SetLastAppIndex(deviceID string, index int) error {
	return ds.UpdateDeviceFields(deviceID, map[string]interface{}{"last_app_index": index})
}

// SetPinnedApp pins (or with "" unpins) an app on a device
func (ds *DeviceService) SetPinnedApp(deviceID, iname string) error {
	return ds.UpdateDeviceFields(deviceID, map[string]interface{}{"pinned_app": iname})
}

// TouchLastSeen records device activity
func (ds *DeviceService) TouchLastSeen(deviceID string) error {
	return ds.UpdateDeviceFields(deviceID, map[string]interface{}{"last_seen": time.Now()})
}

// MarkWSProtocol records that the device connected over the websocket
func (ds *DeviceService) MarkWSProtocol(deviceID string) error {
	return ds.UpdateDeviceFields(deviceID, map[string]interface{}{"ws_protocol": true})
}

// StampProtocolVersion sets the protocol version only if none is recorded
// yet. Used when a device first sends a queued/displaying ack, which
// identifies ack-capable firmware.
func (ds *DeviceService) StampProtocolVersion(deviceID string, version int) error {
	return ds.db.Model(&Device{}).
		Where("id = ? AND protocol_version = 0", NormalizeDeviceID(deviceID)).
		Updates(map[string]interface{}{"protocol_version": version, "updated_at": time.Now()}).Error
}

// UpdateClientInfo stores firmware/protocol/mac details reported by the
// device over the websocket
func (ds *DeviceService) UpdateClientInfo(deviceID, firmwareVersion, firmwareType, macAddress string, protocolVersion int) error {
	fields := map[string]interface{}{}
	if firmwareVersion != "" {
		fields["firmware_version"] = firmwareVersion
	}
	if firmwareType != "" {
		fields["firmware_type"] = firmwareType
	}
	if macAddress != "" {
		fields["mac_address"] = macAddress
	}
	if protocolVersion > 0 {
		fields["protocol_version"] = protocolVersion
	}
	if len(fields) == 0 {
		return nil
	}
	return ds.UpdateDeviceFields(deviceID, fields)
}
