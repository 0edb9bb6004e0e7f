package database

import (
	"fmt"

	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"

	"github.com/tronbyt/server/internal/logging"
)

// RunMigrations runs gormigrate migrations followed by auto-migration for
// any columns added to the models since the last tagged migration.
func RunMigrations() error {
	m := gormigrate.New(DB, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			// Initial schema: users, devices, apps
			ID: "202505010001",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&User{}, &Device{}, &App{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("apps", "devices", "users")
			},
		},
		{
			// Custom recurrence fields on apps
			ID: "202506120001",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&App{})
			},
			Rollback: func(tx *gorm.DB) error {
				for _, col := range []string{"use_custom_recurrence", "recurrence_type", "recurrence_interval", "recurrence_pattern", "recurrence_start", "recurrence_end"} {
					if err := tx.Migrator().DropColumn(&App{}, col); err != nil {
						return err
					}
				}
				return nil
			},
		},
		{
			// Protocol metadata on devices for the websocket ack flow
			ID: "202507030001",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&Device{})
			},
			Rollback: func(tx *gorm.DB) error {
				for _, col := range []string{"protocol_version", "ws_protocol", "firmware_type"} {
					if err := tx.Migrator().DropColumn(&Device{}, col); err != nil {
						return err
					}
				}
				return nil
			},
		},
	})

	if err := m.Migrate(); err != nil {
		return fmt.Errorf("gormigrate: %w", err)
	}

	// Catch-all for model fields without a dedicated migration
	for _, model := range GetAllModels() {
		if err := DB.AutoMigrate(model); err != nil {
			return fmt.Errorf("failed to migrate %T: %w", model, err)
		}
	}

	logging.InfoWithComponent(logging.ComponentDatabase, "Migrations completed")
	return nil
}
