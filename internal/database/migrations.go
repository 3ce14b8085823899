package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationDedupeTeamMembers = "2026-08-12_dedupe_team_members"

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
		{name: migrationDedupeTeamMembers, apply: dedupeTeamMembers},
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

// dedupeTeamMembers keeps the earliest membership row per (team, user) pair.
// Databases written before memberships were unique may hold duplicates, which
// would block the unique index from building.
func dedupeTeamMembers(db *gorm.DB) error {
	if !db.Migrator().HasTable("team_members") {
		return nil
	}
	return db.Exec(
		"DELETE FROM team_members WHERE id NOT IN " +
			"(SELECT MIN(id) FROM team_members GROUP BY team_id, user_id);",
	).Error
}
