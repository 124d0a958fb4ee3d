package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/commentwidget/internal/comments"
	"github.com/MarcoPoloResearchLab/commentwidget/internal/installs"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationNormalizeSortTokens = "2026-10-01_normalize_sort_tokens"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationNormalizeSortTokens, apply: normalizeSortTokens},
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

// Early installs stored sort keys without a direction prefix.
var legacySortTokens = map[string]comments.Sorting{
	"score":       comments.SortScoreDesc,
	"time":        comments.SortTimeDesc,
	"active":      comments.SortActiveDesc,
	"controversy": comments.SortControversyDesc,
}

func normalizeSortTokens(db *gorm.DB) error {
	return db.Transaction(func(tx *gorm.DB) error {
		for legacy, sorting := range legacySortTokens {
			if err := tx.Model(&installs.Install{}).
				Where("sort = ?", legacy).
				Update("sort", sorting.String()).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
