package db

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Migration is a schema change applied once, after the models are auto-migrated
type Migration struct {
	ID   int
	Name string
	Up   func(*gorm.DB) error
}

// allMigrations is applied in order; IDs are never reused
var allMigrations = []Migration{
	{
		ID:   1,
		Name: "0001_index_builds_project_status",
		Up: func(db *gorm.DB) error {
			return db.Exec("CREATE INDEX IF NOT EXISTS idx_builds_project_status ON builds (project_id, status)").Error
		},
	},
	{
		ID:   2,
		Name: "0002_index_logs_subject_created",
		Up: func(db *gorm.DB) error {
			return db.Exec("CREATE INDEX IF NOT EXISTS idx_logs_subject_created ON logs (subject_id, created_at)").Error
		},
	},
	{
		ID:   3,
		Name: "0003_index_jobs_status",
		Up: func(db *gorm.DB) error {
			return db.Exec("CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs (status, updated_at)").Error
		},
	},
}

// AllModels returns all the models that need to be migrated
func AllModels() []any {
	return []any{
		&MigrationModel{},
		&ProjectModel{},
		&JobModel{},
		&BuildModel{},
		&LogModel{},
	}
}

// AutoMigrateAll creates or updates tables for all models, then applies pending migrations
func AutoMigrateAll(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("failed to auto-migrate models: %w", err)
	}
	return RunMigrations(db, len(allMigrations))
}

// RunMigrations runs all migrations up to and including targetID.
// A targetID of 0 or less runs all migrations.
func RunMigrations(db *gorm.DB, targetID int) error {
	if targetID <= 0 {
		targetID = len(allMigrations)
	}

	for _, migration := range allMigrations {
		if migration.ID > targetID {
			break
		}

		applied, err := migrationApplied(db, migration.Name)
		if err != nil {
			return fmt.Errorf("failed to check migration %s: %w", migration.Name, err)
		}
		if applied {
			continue
		}

		err = db.Transaction(func(tx *gorm.DB) error {
			if err := migration.Up(tx); err != nil {
				return err
			}
			return tx.Create(&MigrationModel{Name: migration.Name, AppliedAt: time.Now()}).Error
		})
		if err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", migration.Name, err)
		}
	}

	return nil
}

func migrationApplied(db *gorm.DB, name string) (bool, error) {
	var count int64
	if err := db.Model(&MigrationModel{}).Where("name = ?", name).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// AppliedMigrations lists the names of applied migrations in application order
func AppliedMigrations(db *gorm.DB) ([]string, error) {
	var names []string
	err := db.Model(&MigrationModel{}).Order("id").Pluck("name", &names).Error
	return names, err
}
