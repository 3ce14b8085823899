package library

import "time"

// AudioFile is a personal upload owned by a single user. Filename is the
// collision-free stored name assigned by the blob store; OriginalFilename is
// the name the user supplied.
type AudioFile struct {
	ID               uint      `gorm:"column:id;primaryKey;autoIncrement"`
	UserID           uint      `gorm:"column:user_id;not null;index"`
	Filename         string    `gorm:"column:filename;size:256;not null"`
	OriginalFilename string    `gorm:"column:original_filename;size:256;not null"`
	UploadDate       time.Time `gorm:"column:upload_date;not null"`
}

// TableName provides the explicit table binding for GORM.
func (AudioFile) TableName() string {
	return "audio_files"
}

// Loop marks a repeatable [StartTime, EndTime] region of an audio file,
// both in seconds.
type Loop struct {
	ID          uint    `gorm:"column:id;primaryKey;autoIncrement"`
	AudioFileID uint    `gorm:"column:audio_file_id;not null;index"`
	StartTime   float64 `gorm:"column:start_time;not null"`
	EndTime     float64 `gorm:"column:end_time;not null"`
	Label       string  `gorm:"column:label;size:128"`
}

// TableName provides the explicit table binding for GORM.
func (Loop) TableName() string {
	return "loops"
}

// Note is a timestamped annotation on an audio file.
type Note struct {
	ID          uint    `gorm:"column:id;primaryKey;autoIncrement"`
	AudioFileID uint    `gorm:"column:audio_file_id;not null;index"`
	Timestamp   float64 `gorm:"column:timestamp;not null"`
	Text        string  `gorm:"column:text;size:512;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Note) TableName() string {
	return "notes"
}

// Setting stores per-file playback preferences. At most one row per file.
type Setting struct {
	ID          uint    `gorm:"column:id;primaryKey;autoIncrement"`
	AudioFileID uint    `gorm:"column:audio_file_id;not null;uniqueIndex"`
	Speed       float64 `gorm:"column:speed;not null;default:1.0"`
}

// TableName provides the explicit table binding for GORM.
func (Setting) TableName() string {
	return "audio_settings"
}
