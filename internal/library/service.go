package library

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Namespace is the blob-store collision domain for personal uploads.
const Namespace = "library"

var (
	// ErrMissingFile indicates the upload had no payload or no filename.
	ErrMissingFile = errors.New("library: missing file")
	// ErrUnsupportedType indicates the upload extension is not allowed.
	ErrUnsupportedType = errors.New("library: unsupported file type")
	// ErrNotFound indicates the audio file (or a dependent record) does not
	// exist or is not owned by the requesting user.
	ErrNotFound = errors.New("library: not found")
	// ErrInvalidRange indicates a loop range, note timestamp or playback
	// speed outside its valid bounds.
	ErrInvalidRange = errors.New("library: invalid range")
	// ErrMissingFields indicates a required annotation field was blank.
	ErrMissingFields = errors.New("library: missing required fields")

	errMissingDatabase = errors.New("library: database connection required")
	errMissingStorage  = errors.New("library: blob store required")
)

const maxPlaybackSpeed = 4.0

// BlobStore is the slice of the storage manager the library needs.
type BlobStore interface {
	Store(namespace, requestedName string, content io.Reader) (string, error)
	Open(namespace, storedName string) (io.ReadCloser, error)
	Delete(namespace, storedName string) error
}

// ServiceConfig describes the dependencies for the library service.
type ServiceConfig struct {
	Database *gorm.DB
	Storage  BlobStore
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service owns personal audio files and their annotations.
type Service struct {
	db      *gorm.DB
	storage BlobStore
	clock   func() time.Time
	logger  *zap.Logger
}

// NewService constructs the library service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.Storage == nil {
		return nil, errMissingStorage
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, storage: cfg.Storage, clock: clock, logger: logger}, nil
}

// Upload validates, stores and records a personal audio file. When the row
// insert fails the stored blob is deleted again so no orphan remains.
func (s *Service) Upload(ctx context.Context, userID uint, originalName string, content io.Reader) (AudioFile, error) {
	if content == nil || strings.TrimSpace(originalName) == "" {
		return AudioFile{}, ErrMissingFile
	}
	if !hasAllowedExtension(originalName) {
		return AudioFile{}, ErrUnsupportedType
	}

	storedName, err := s.storage.Store(Namespace, originalName, content)
	if err != nil {
		return AudioFile{}, err
	}

	audio := AudioFile{
		UserID:           userID,
		Filename:         storedName,
		OriginalFilename: originalName,
		UploadDate:       s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&audio).Error; err != nil {
		if deleteErr := s.storage.Delete(Namespace, storedName); deleteErr != nil {
			s.logger.Warn("failed to clean up blob after insert failure",
				zap.String("stored_name", storedName), zap.Error(deleteErr))
		}
		return AudioFile{}, err
	}

	s.logger.Info("audio file uploaded",
		zap.Uint("user_id", userID),
		zap.Uint("audio_id", audio.ID),
		zap.String("stored_name", storedName))
	return audio, nil
}

// List returns the user's audio files, newest first.
func (s *Service) List(ctx context.Context, userID uint) ([]AudioFile, error) {
	var files []AudioFile
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("upload_date DESC, id DESC").
		Find(&files).Error
	if err != nil {
		return nil, err
	}
	return files, nil
}

// Get loads an audio file scoped by owner. Files owned by other users are
// indistinguishable from missing ones.
func (s *Service) Get(ctx context.Context, userID, audioID uint) (AudioFile, error) {
	var audio AudioFile
	err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", audioID, userID).
		First(&audio).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return AudioFile{}, ErrNotFound
	}
	if err != nil {
		return AudioFile{}, err
	}
	return audio, nil
}

// Open returns a reader over the stored blob together with its record.
func (s *Service) Open(ctx context.Context, userID, audioID uint) (io.ReadCloser, AudioFile, error) {
	audio, err := s.Get(ctx, userID, audioID)
	if err != nil {
		return nil, AudioFile{}, err
	}
	reader, err := s.storage.Open(Namespace, audio.Filename)
	if err != nil {
		return nil, AudioFile{}, err
	}
	return reader, audio, nil
}

// Delete removes an audio file, its loops, notes and settings, and the blob.
// Dependent rows and the owning row go in one transaction; the blob delete
// is idempotent and runs after the rows are gone.
func (s *Service) Delete(ctx context.Context, userID, audioID uint) error {
	audio, err := s.Get(ctx, userID, audioID)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("audio_file_id = ?", audio.ID).Delete(&Loop{}).Error; err != nil {
			return err
		}
		if err := tx.Where("audio_file_id = ?", audio.ID).Delete(&Note{}).Error; err != nil {
			return err
		}
		if err := tx.Where("audio_file_id = ?", audio.ID).Delete(&Setting{}).Error; err != nil {
			return err
		}
		return tx.Delete(&AudioFile{}, audio.ID).Error
	})
	if err != nil {
		return err
	}

	if err := s.storage.Delete(Namespace, audio.Filename); err != nil {
		s.logger.Warn("failed to delete blob for removed audio file",
			zap.Uint("audio_id", audio.ID), zap.Error(err))
	}

	s.logger.Info("audio file deleted", zap.Uint("user_id", userID), zap.Uint("audio_id", audio.ID))
	return nil
}

// AddLoop attaches a loop region to an owned audio file.
func (s *Service) AddLoop(ctx context.Context, userID, audioID uint, startTime, endTime float64, label string) (Loop, error) {
	if startTime < 0 || endTime < 0 || startTime >= endTime {
		return Loop{}, ErrInvalidRange
	}
	audio, err := s.Get(ctx, userID, audioID)
	if err != nil {
		return Loop{}, err
	}
	loop := Loop{AudioFileID: audio.ID, StartTime: startTime, EndTime: endTime, Label: strings.TrimSpace(label)}
	if err := s.db.WithContext(ctx).Create(&loop).Error; err != nil {
		return Loop{}, err
	}
	return loop, nil
}

// Loops lists the loops of an owned audio file.
func (s *Service) Loops(ctx context.Context, userID, audioID uint) ([]Loop, error) {
	audio, err := s.Get(ctx, userID, audioID)
	if err != nil {
		return nil, err
	}
	var loops []Loop
	if err := s.db.WithContext(ctx).Where("audio_file_id = ?", audio.ID).Order("start_time").Find(&loops).Error; err != nil {
		return nil, err
	}
	return loops, nil
}

// AddNote attaches a timestamped note to an owned audio file.
func (s *Service) AddNote(ctx context.Context, userID, audioID uint, timestamp float64, text string) (Note, error) {
	if strings.TrimSpace(text) == "" {
		return Note{}, ErrMissingFields
	}
	if timestamp < 0 {
		return Note{}, ErrInvalidRange
	}
	audio, err := s.Get(ctx, userID, audioID)
	if err != nil {
		return Note{}, err
	}
	note := Note{AudioFileID: audio.ID, Timestamp: timestamp, Text: strings.TrimSpace(text)}
	if err := s.db.WithContext(ctx).Create(&note).Error; err != nil {
		return Note{}, err
	}
	return note, nil
}

// Notes lists the notes of an owned audio file.
func (s *Service) Notes(ctx context.Context, userID, audioID uint) ([]Note, error) {
	audio, err := s.Get(ctx, userID, audioID)
	if err != nil {
		return nil, err
	}
	var notes []Note
	if err := s.db.WithContext(ctx).Where("audio_file_id = ?", audio.ID).Order("timestamp").Find(&notes).Error; err != nil {
		return nil, err
	}
	return notes, nil
}

// DeleteNote removes a note from an owned audio file.
func (s *Service) DeleteNote(ctx context.Context, userID, audioID, noteID uint) error {
	audio, err := s.Get(ctx, userID, audioID)
	if err != nil {
		return err
	}
	result := s.db.WithContext(ctx).Where("id = ? AND audio_file_id = ?", noteID, audio.ID).Delete(&Note{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Speed returns the playback speed for an owned audio file, defaulting to 1.0
// when no setting row exists.
func (s *Service) Speed(ctx context.Context, userID, audioID uint) (float64, error) {
	audio, err := s.Get(ctx, userID, audioID)
	if err != nil {
		return 0, err
	}
	var setting Setting
	err = s.db.WithContext(ctx).Where("audio_file_id = ?", audio.ID).First(&setting).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 1.0, nil
	}
	if err != nil {
		return 0, err
	}
	return setting.Speed, nil
}

// SetSpeed upserts the playback speed for an owned audio file.
func (s *Service) SetSpeed(ctx context.Context, userID, audioID uint, speed float64) error {
	if speed <= 0 || speed > maxPlaybackSpeed {
		return ErrInvalidRange
	}
	audio, err := s.Get(ctx, userID, audioID)
	if err != nil {
		return err
	}

	var setting Setting
	err = s.db.WithContext(ctx).Where("audio_file_id = ?", audio.ID).First(&setting).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.db.WithContext(ctx).Create(&Setting{AudioFileID: audio.ID, Speed: speed}).Error
	}
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Model(&setting).Update("speed", speed).Error
}

func hasAllowedExtension(filename string) bool {
	return strings.EqualFold(filepath.Ext(filename), ".mp3")
}
