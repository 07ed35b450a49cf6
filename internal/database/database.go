package database

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"one-percent-trader-go/internal/models"
)

// NewDatabase opens the engine's position store and migrates its schema.
// Existing rows are kept so a restarted engine can resume tracking open positions.
func NewDatabase(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := AutoMigrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// AutoMigrate creates or updates the tables for the current models.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.Position{}); err != nil {
		return fmt.Errorf("failed to auto-migrate database: %w", err)
	}
	return nil
}

// ActivePosition returns the tracked pending or open position for symbol, or nil.
func ActivePosition(db *gorm.DB, symbol string) (*models.Position, error) {
	var positions []models.Position
	active := []string{string(models.PositionPending), string(models.PositionOpen)}
	err := db.Where("symbol = ? AND status IN ?", symbol, active).
		Order("entry_time desc").
		Limit(1).
		Find(&positions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query active position for %s: %w", symbol, err)
	}
	if len(positions) == 0 {
		return nil, nil
	}
	return &positions[0], nil
}
