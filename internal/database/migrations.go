package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationDropEffortCommentTables = "2026-07-14_drop_reporting_effort_comment_tables"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string { return "db_migrations" }

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationDropEffortCommentTables, apply: dropEffortCommentTables},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// dropEffortCommentTables retires the superseded per-discipline comment
// tables; tracker_comments is the authoritative comment store.
func dropEffortCommentTables(db *gorm.DB) error {
	for _, table := range []string{"reporting_effort_tracker_comments", "reporting_effort_comment_types"} {
		if err := db.Migrator().DropTable(table); err != nil {
			return err
		}
	}
	return nil
}
