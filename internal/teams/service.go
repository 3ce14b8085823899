package teams

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/trackroom/backend/internal/auth"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrConflict is the base error for duplicate unique fields.
	ErrConflict = errors.New("teams: conflict")
	// ErrNameTaken indicates the team name is already in use.
	ErrNameTaken = fmt.Errorf("%w: name taken", ErrConflict)
	// ErrAlreadyMember indicates the user already belongs to the team.
	ErrAlreadyMember = fmt.Errorf("%w: already a member", ErrConflict)
	// ErrMissingFields indicates a required field was blank.
	ErrMissingFields = errors.New("teams: name and password are required")
	// ErrInvalidTeamCredentials indicates an unknown team name or wrong team
	// password on join.
	ErrInvalidTeamCredentials = errors.New("teams: invalid team credentials")
	// ErrNotMember rejects team operations by non-members.
	ErrNotMember = errors.New("teams: not a member")
	// ErrNotUploader rejects upload deletion by anyone but the uploader.
	ErrNotUploader = errors.New("teams: only the uploader may delete")
	// ErrNotFound indicates the team or upload does not exist.
	ErrNotFound = errors.New("teams: not found")
	// ErrMissingFile indicates an upload had no payload or no filename.
	ErrMissingFile = errors.New("teams: missing file")
	// ErrUnsupportedType indicates the upload extension is not allowed.
	ErrUnsupportedType = errors.New("teams: unsupported file type")

	errMissingDatabase = errors.New("teams: database connection required")
	errMissingStorage  = errors.New("teams: blob store required")
)

// BlobStore is the slice of the storage manager the team service needs.
type BlobStore interface {
	Store(namespace, requestedName string, content io.Reader) (string, error)
	Open(namespace, storedName string) (io.ReadCloser, error)
	Delete(namespace, storedName string) error
}

// ServiceConfig describes the dependencies for the team service.
type ServiceConfig struct {
	Database *gorm.DB
	Storage  BlobStore
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service owns teams, memberships and shared uploads. Every team-scoped
// operation verifies membership before reading any team data.
type Service struct {
	db      *gorm.DB
	storage BlobStore
	clock   func() time.Time
	logger  *zap.Logger
}

// NewService constructs the team service.
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

// Create registers a new team and joins the creator as its first member.
func (s *Service) Create(ctx context.Context, userID uint, name, password string) (Team, error) {
	name = strings.TrimSpace(name)
	if name == "" || password == "" {
		return Team{}, ErrMissingFields
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&Team{}).Where("name = ?", name).Count(&count).Error; err != nil {
		return Team{}, err
	}
	if count > 0 {
		return Team{}, ErrNameTaken
	}

	passwordHash, err := auth.HashPassword(password)
	if err != nil {
		return Team{}, err
	}

	team := Team{Name: name, PasswordHash: passwordHash, CreatedBy: userID, CreatedAt: s.clock().UTC()}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&team).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrNameTaken
			}
			return err
		}
		return tx.Create(&Member{TeamID: team.ID, UserID: userID, JoinedAt: s.clock().UTC()}).Error
	})
	if err != nil {
		return Team{}, err
	}

	s.logger.Info("team created", zap.Uint("team_id", team.ID), zap.Uint("created_by", userID))
	return team, nil
}

// Join verifies the team password and adds the user as a member. Joining a
// team twice is a conflict.
func (s *Service) Join(ctx context.Context, userID uint, name, password string) (Team, error) {
	var team Team
	err := s.db.WithContext(ctx).Where("name = ?", strings.TrimSpace(name)).First(&team).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Team{}, ErrInvalidTeamCredentials
	}
	if err != nil {
		return Team{}, err
	}
	if !auth.CheckPassword(password, team.PasswordHash) {
		return Team{}, ErrInvalidTeamCredentials
	}

	if err := s.RequireMember(ctx, team.ID, userID); err == nil {
		return Team{}, ErrAlreadyMember
	} else if !errors.Is(err, ErrNotMember) {
		return Team{}, err
	}

	member := Member{TeamID: team.ID, UserID: userID, JoinedAt: s.clock().UTC()}
	if err := s.db.WithContext(ctx).Create(&member).Error; err != nil {
		// The composite unique index backs the pre-check under concurrency.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return Team{}, ErrAlreadyMember
		}
		return Team{}, err
	}

	s.logger.Info("team joined", zap.Uint("team_id", team.ID), zap.Uint("user_id", userID))
	return team, nil
}

// RequireMember returns ErrNotMember unless a membership row links the pair.
// It is the gate in front of every team-scoped read and write.
func (s *Service) RequireMember(ctx context.Context, teamID, userID uint) error {
	var count int64
	err := s.db.WithContext(ctx).Model(&Member{}).
		Where("team_id = ? AND user_id = ?", teamID, userID).
		Count(&count).Error
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrNotMember
	}
	return nil
}

// Get loads a team the user belongs to.
func (s *Service) Get(ctx context.Context, teamID, userID uint) (Team, error) {
	if err := s.RequireMember(ctx, teamID, userID); err != nil {
		return Team{}, err
	}
	var team Team
	err := s.db.WithContext(ctx).First(&team, teamID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Team{}, ErrNotFound
	}
	if err != nil {
		return Team{}, err
	}
	return team, nil
}

// ListForUser returns the teams the user belongs to.
func (s *Service) ListForUser(ctx context.Context, userID uint) ([]Team, error) {
	var memberTeams []Team
	err := s.db.WithContext(ctx).
		Joins("JOIN team_members ON team_members.team_id = teams.id").
		Where("team_members.user_id = ?", userID).
		Order("teams.name").
		Find(&memberTeams).Error
	if err != nil {
		return nil, err
	}
	return memberTeams, nil
}

// Members lists the membership rows of a team the user belongs to.
func (s *Service) Members(ctx context.Context, teamID, userID uint) ([]Member, error) {
	if err := s.RequireMember(ctx, teamID, userID); err != nil {
		return nil, err
	}
	var members []Member
	if err := s.db.WithContext(ctx).Where("team_id = ?", teamID).Order("joined_at").Find(&members).Error; err != nil {
		return nil, err
	}
	return members, nil
}

// Uploads lists a team's uploads, newest first, optionally filtered by folder.
func (s *Service) Uploads(ctx context.Context, teamID, userID uint, folder string) ([]Upload, error) {
	if err := s.RequireMember(ctx, teamID, userID); err != nil {
		return nil, err
	}
	query := s.db.WithContext(ctx).Where("team_id = ?", teamID)
	if folder = strings.TrimSpace(folder); folder != "" {
		query = query.Where("folder = ?", folder)
	}
	var uploads []Upload
	if err := query.Order("uploaded_at DESC, id DESC").Find(&uploads).Error; err != nil {
		return nil, err
	}
	return uploads, nil
}

// Folders returns the distinct folder labels of a team's uploads.
func (s *Service) Folders(ctx context.Context, teamID, userID uint) ([]string, error) {
	if err := s.RequireMember(ctx, teamID, userID); err != nil {
		return nil, err
	}
	var folders []string
	err := s.db.WithContext(ctx).Model(&Upload{}).
		Where("team_id = ?", teamID).
		Distinct("folder").
		Order("folder").
		Pluck("folder", &folders).Error
	if err != nil {
		return nil, err
	}
	return folders, nil
}

// Upload validates, stores and records a shared file in the team's namespace.
// A blank folder defaults to General. The stored blob is deleted again when
// the row insert fails.
func (s *Service) Upload(ctx context.Context, teamID, userID uint, originalName, folder string, content io.Reader) (Upload, error) {
	if err := s.RequireMember(ctx, teamID, userID); err != nil {
		return Upload{}, err
	}
	if content == nil || strings.TrimSpace(originalName) == "" {
		return Upload{}, ErrMissingFile
	}
	if !strings.EqualFold(filepath.Ext(originalName), ".mp3") {
		return Upload{}, ErrUnsupportedType
	}
	if folder = strings.TrimSpace(folder); folder == "" {
		folder = DefaultFolder
	}

	namespace := UploadNamespace(teamID)
	storedName, err := s.storage.Store(namespace, originalName, content)
	if err != nil {
		return Upload{}, err
	}

	upload := Upload{
		TeamID:           teamID,
		UserID:           userID,
		Filename:         storedName,
		OriginalFilename: originalName,
		Folder:           folder,
		UploadedAt:       s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&upload).Error; err != nil {
		if deleteErr := s.storage.Delete(namespace, storedName); deleteErr != nil {
			s.logger.Warn("failed to clean up blob after insert failure",
				zap.String("stored_name", storedName), zap.Error(deleteErr))
		}
		return Upload{}, err
	}

	s.logger.Info("team upload stored",
		zap.Uint("team_id", teamID),
		zap.Uint("user_id", userID),
		zap.Uint("upload_id", upload.ID),
		zap.String("folder", folder))
	return upload, nil
}

// Open returns a reader over a shared upload for any team member.
func (s *Service) Open(ctx context.Context, teamID, userID, uploadID uint) (io.ReadCloser, Upload, error) {
	upload, err := s.getUpload(ctx, teamID, userID, uploadID)
	if err != nil {
		return nil, Upload{}, err
	}
	reader, err := s.storage.Open(UploadNamespace(teamID), upload.Filename)
	if err != nil {
		return nil, Upload{}, err
	}
	return reader, upload, nil
}

// DeleteUpload removes a shared upload. Any member may download an upload,
// but only its original uploader may delete it.
func (s *Service) DeleteUpload(ctx context.Context, teamID, userID, uploadID uint) error {
	upload, err := s.getUpload(ctx, teamID, userID, uploadID)
	if err != nil {
		return err
	}
	if upload.UserID != userID {
		return ErrNotUploader
	}

	if err := s.db.WithContext(ctx).Delete(&Upload{}, upload.ID).Error; err != nil {
		return err
	}
	if err := s.storage.Delete(UploadNamespace(teamID), upload.Filename); err != nil {
		s.logger.Warn("failed to delete blob for removed team upload",
			zap.Uint("upload_id", upload.ID), zap.Error(err))
	}

	s.logger.Info("team upload deleted", zap.Uint("team_id", teamID), zap.Uint("upload_id", upload.ID))
	return nil
}

func (s *Service) getUpload(ctx context.Context, teamID, userID, uploadID uint) (Upload, error) {
	if err := s.RequireMember(ctx, teamID, userID); err != nil {
		return Upload{}, err
	}
	var upload Upload
	err := s.db.WithContext(ctx).Where("id = ? AND team_id = ?", uploadID, teamID).First(&upload).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Upload{}, ErrNotFound
	}
	if err != nil {
		return Upload{}, err
	}
	return upload, nil
}
