package db

import (
	"allocator/internal/models"
)

func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}

	return db.Gorm.AutoMigrate(
		&models.StrategyHoldings{},
		&models.OpenOrder{},
		&models.ActivityLog{},
		&models.RuntimeConfig{},
	)
}
