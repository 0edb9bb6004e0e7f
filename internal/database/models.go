package database

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// User owns devices. Authentication is handled by an external layer; the
// record exists so device and app mutations can be keyed by owner.
type User struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Username string    `gorm:"uniqueIndex;not null" json:"username"`
	Timezone string    `gorm:"size:50;default:'UTC'" json:"timezone"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Devices []Device `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
}

// BeforeCreate sets UUID if not already set
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

// Device represents a Tronbyt display device. The ID is the 8-character
// hex identifier the device presents on the wire.
type Device struct {
	ID     string    `gorm:"size:8;primaryKey" json:"id"`
	UserID uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`
	Name   string    `gorm:"size:255" json:"name,omitempty"`

	// Brightness settings, percent 0-100
	Brightness      int `gorm:"default:50" json:"brightness"`
	NightBrightness int `gorm:"default:10" json:"night_brightness"`
	DimBrightness   int `gorm:"default:20" json:"dim_brightness"`

	// Night mode window, local time-of-day "HH:MM". A start later than the
	// end means the window wraps past midnight.
	NightModeEnabled bool   `gorm:"default:false" json:"night_mode_enabled"`
	NightStart       string `gorm:"size:5" json:"night_start,omitempty"`
	NightEnd         string `gorm:"size:5" json:"night_end,omitempty"`
	NightModeApp     string `gorm:"size:8" json:"night_mode_app,omitempty"`

	// DimTime is the local time-of-day after which brightness drops to
	// DimBrightness until the end of the day.
	DimTime string `gorm:"size:5" json:"dim_time,omitempty"`

	// DefaultInterval is the dwell time in seconds for apps that do not set
	// their own display time.
	DefaultInterval int    `gorm:"default:10" json:"default_interval"`
	Timezone        string `gorm:"size:50;default:'UTC'" json:"timezone"`

	// LastAppIndex is the rotation cursor into the expanded app list.
	// Out-of-range values are tolerated and reset to 0 by the scheduler.
	LastAppIndex int `gorm:"default:0" json:"last_app_index"`

	PinnedApp           string `gorm:"size:8" json:"pinned_app,omitempty"`
	InterstitialEnabled bool   `gorm:"default:false" json:"interstitial_enabled"`
	InterstitialApp     string `gorm:"size:8" json:"interstitial_app,omitempty"`

	// DoubleRes marks displays that take 128x64 images. Set explicitly or
	// inferred when a doubled image is pushed.
	DoubleRes bool `gorm:"default:false" json:"double_res"`

	// Protocol metadata reported by the device
	FirmwareVersion string     `gorm:"size:50" json:"firmware_version,omitempty"`
	FirmwareType    string     `gorm:"size:50" json:"firmware_type,omitempty"`
	ProtocolVersion int        `gorm:"default:0" json:"protocol_version"`
	WSProtocol      bool       `gorm:"default:false" json:"ws_protocol"`
	MacAddress      string     `gorm:"size:17" json:"mac_address,omitempty"`
	LastSeen        *time.Time `json:"last_seen,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Apps are loaded sorted by app_order
	Apps []App `gorm:"foreignKey:DeviceID;constraint:OnDelete:CASCADE" json:"apps,omitempty"`
}

// App represents an installed app instance on a device
type App struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	DeviceID string    `gorm:"size:8;not null;index;uniqueIndex:idx_device_iname" json:"device_id"`
	Iname    string    `gorm:"size:8;not null;uniqueIndex:idx_device_iname" json:"iname"`
	Name     string    `gorm:"size:255;not null" json:"name"`

	// Order defines the base rotation position. Renumbered contiguously on
	// explicit reorder/move; gaps from deletes are tolerated by the
	// scheduler, which sorts ascending.
	Order int `gorm:"column:app_order;not null" json:"order"`

	// UInterval is the minimum minutes between re-renders, 0 = always fresh
	UInterval int `gorm:"default:0" json:"uinterval"`
	// DisplayTime is the dwell in seconds, 0 falls back to the device default
	DisplayTime int `gorm:"default:0" json:"display_time"`

	Enabled bool `gorm:"default:true" json:"enabled"`
	// Pushed marks an ephemeral, externally supplied app: its bytes are
	// authoritative and the render gate never re-renders it.
	Pushed bool `gorm:"default:false" json:"pushed"`

	LastRender      *time.Time `json:"last_render,omitempty"`
	EmptyLastRender bool       `gorm:"default:false" json:"empty_last_render"`

	// Schedule window, "HH:MM". Missing values default to 00:00 / 23:59.
	StartTime string `gorm:"size:5" json:"start_time,omitempty"`
	EndTime   string `gorm:"size:5" json:"end_time,omitempty"`

	// Legacy weekday filter; empty means every day
	Days datatypes.JSONSlice[string] `json:"days,omitempty"`

	// Custom recurrence replaces the legacy day filter when enabled
	UseCustomRecurrence bool              `gorm:"default:false" json:"use_custom_recurrence"`
	RecurrenceType      string            `gorm:"size:10" json:"recurrence_type,omitempty"`
	RecurrenceInterval  int               `gorm:"default:1" json:"recurrence_interval"`
	RecurrencePattern   datatypes.JSONMap `json:"recurrence_pattern,omitempty"`
	RecurrenceStart     *time.Time        `json:"recurrence_start,omitempty"`
	RecurrenceEnd       *time.Time        `json:"recurrence_end,omitempty"`

	// Autopin pins this app to the device after its next successful
	// non-empty render
	Autopin bool `gorm:"default:false" json:"autopin"`

	// Config is the opaque key/value map passed to the renderer
	Config datatypes.JSONMap `json:"config,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (a *App) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

// GetAllModels returns all models for auto-migration
func GetAllModels() []interface{} {
	return []interface{}{
		&User{},
		&Device{},
		&App{},
	}
}
