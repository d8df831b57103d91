package db

import (
	"fmt"

	"github.com/rgould/conductor/internal/models"
	"gorm.io/gorm"
)

// AllModels returns every GORM model the core persists.
func AllModels() []interface{} {
	return []interface{}{
		&models.Event{},
		&models.Invocation{},
		&models.ToolCall{},
		&models.Approval{},
		&models.Project{},
		&models.HistoryEntry{},
	}
}

// AutoMigrate creates or updates all tables. Safe to call on an existing DB.
func AutoMigrate(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}
