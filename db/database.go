package db

import (
	"context"
	"log/slog"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// InitDB opens the database at path and brings its schema up to date
func InitDB(path string) (*gorm.DB, error) {
	slog.Debug("Initializing database", "layer", "db", "path", path)

	db, err := InitDatabase(DBConfig{
		Path:     path,
		LogLevel: getGormLogLevel(),
	})
	if err != nil {
		return nil, err
	}

	if err := AutoMigrateAll(db); err != nil {
		return nil, err
	}

	slog.Debug("Database initialized successfully", "layer", "db", "path", path)
	return db, nil
}

// getGormLogLevel maps application log level to corresponding GORM log level
func getGormLogLevel() logger.LogLevel {
	log := slog.Default()
	ctx := context.Background()

	switch {
	case log.Enabled(ctx, slog.LevelDebug):
		return logger.Info // SQL queries only with debug logging
	case log.Enabled(ctx, slog.LevelWarn):
		return logger.Warn
	case log.Enabled(ctx, slog.LevelError):
		return logger.Error
	default:
		return logger.Silent
	}
}
