package teams

import (
	"fmt"
	"time"
)

// Team is a named group of users sharing uploads, gated by a team password.
type Team struct {
	ID           uint      `gorm:"column:id;primaryKey;autoIncrement"`
	Name         string    `gorm:"column:name;size:100;not null;uniqueIndex"`
	PasswordHash string    `gorm:"column:password_hash;size:128;not null"`
	CreatedBy    uint      `gorm:"column:created_by;not null"`
	CreatedAt    time.Time `gorm:"column:created_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Team) TableName() string {
	return "teams"
}

// Member links a user to a team. A user holds at most one membership per team.
type Member struct {
	ID       uint      `gorm:"column:id;primaryKey;autoIncrement"`
	TeamID   uint      `gorm:"column:team_id;not null;uniqueIndex:idx_team_members_pair,priority:1"`
	UserID   uint      `gorm:"column:user_id;not null;uniqueIndex:idx_team_members_pair,priority:2"`
	JoinedAt time.Time `gorm:"column:joined_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Member) TableName() string {
	return "team_members"
}

// Upload is a file shared with a team, filed under a free-text folder label.
// UserID records the uploader, who alone may delete it.
type Upload struct {
	ID               uint      `gorm:"column:id;primaryKey;autoIncrement"`
	TeamID           uint      `gorm:"column:team_id;not null;index"`
	UserID           uint      `gorm:"column:user_id;not null;index"`
	Filename         string    `gorm:"column:filename;size:256;not null"`
	OriginalFilename string    `gorm:"column:original_filename;size:256;not null"`
	Folder           string    `gorm:"column:folder;size:100;not null;default:General"`
	UploadedAt       time.Time `gorm:"column:uploaded_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Upload) TableName() string {
	return "team_uploads"
}

// DefaultFolder is used when an upload does not name a folder.
const DefaultFolder = "General"

// UploadNamespace returns the blob-store collision domain for a team.
func UploadNamespace(teamID uint) string {
	return fmt.Sprintf("teams/%d", teamID)
}
