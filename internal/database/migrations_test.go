package database

import (
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/trackroom/backend/internal/teams"
	"gorm.io/gorm"
)

func TestOpenSQLiteMigratesSchema(t *testing.T) {
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "trackroom.db"), nil)
	if err != nil {
		t.Fatalf("unexpected open error: %v", err)
	}

	for _, table := range []string{
		"users", "teams", "team_members", "team_uploads",
		"audio_files", "loops", "notes", "audio_settings", "db_migrations",
	} {
		if !db.Migrator().HasTable(table) {
			t.Fatalf("expected table %s to exist", table)
		}
	}

	var record migrationRecord
	if err := db.Where("name = ?", migrationDedupeTeamMembers).Take(&record).Error; err != nil {
		t.Fatalf("expected dedupe migration to be recorded: %v", err)
	}
}

func TestOpenSQLiteRequiresPath(t *testing.T) {
	if _, err := OpenSQLite("", nil); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestDedupeTeamMembersKeepsEarliestRow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.db")

	// Simulate a database written before memberships were unique: the table
	// exists without the composite index and holds duplicate rows.
	legacy, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := legacy.Exec(
		"CREATE TABLE team_members (id INTEGER PRIMARY KEY AUTOINCREMENT, team_id INTEGER NOT NULL, user_id INTEGER NOT NULL, joined_at DATETIME NOT NULL);",
	).Error; err != nil {
		t.Fatalf("failed to create legacy table: %v", err)
	}
	now := time.Now().UTC()
	for i := 0; i < 3; i++ {
		if err := legacy.Exec("INSERT INTO team_members (team_id, user_id, joined_at) VALUES (1, 1, ?);", now).Error; err != nil {
			t.Fatalf("failed to seed duplicate: %v", err)
		}
	}
	if err := legacy.Exec("INSERT INTO team_members (team_id, user_id, joined_at) VALUES (1, 2, ?);", now).Error; err != nil {
		t.Fatalf("failed to seed member: %v", err)
	}
	sqlDB, err := legacy.DB()
	if err != nil {
		t.Fatalf("failed to unwrap db: %v", err)
	}
	sqlDB.Close()

	db, err := OpenSQLite(path, nil)
	if err != nil {
		t.Fatalf("unexpected open error: %v", err)
	}

	var members []teams.Member
	if err := db.Order("id").Find(&members).Error; err != nil {
		t.Fatalf("unexpected find error: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("expected 2 rows after dedupe, got %d", len(members))
	}
	if members[0].ID != 1 || members[0].UserID != 1 {
		t.Fatalf("expected earliest duplicate to survive, got %+v", members[0])
	}
	if members[1].UserID != 2 {
		t.Fatalf("unexpected surviving member %+v", members[1])
	}
}
