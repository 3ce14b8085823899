package database

import (
	"fmt"

	sqlite "github.com/glebarez/sqlite"
	"github.com/trackroom/backend/internal/accounts"
	"github.com/trackroom/backend/internal/library"
	"github.com/trackroom/backend/internal/teams"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OpenSQLite establishes a SQLite connection and performs schema migrations.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&migrationRecord{}); err != nil {
		return nil, err
	}

	// Data repairs run before the schema migration so new unique indexes can
	// build on databases that predate them.
	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(
		&accounts.User{},
		&teams.Team{},
		&teams.Member{},
		&teams.Upload{},
		&library.AudioFile{},
		&library.Loop{},
		&library.Note{},
		&library.Setting{},
	); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}
