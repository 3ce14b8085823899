package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/trackroom/backend/internal/auth"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrConflict is the base error for duplicate unique fields.
	ErrConflict = errors.New("accounts: conflict")
	// ErrUsernameTaken indicates the username is already registered.
	ErrUsernameTaken = fmt.Errorf("%w: username taken", ErrConflict)
	// ErrEmailTaken indicates the email is already registered.
	ErrEmailTaken = fmt.Errorf("%w: email taken", ErrConflict)
	// ErrMissingFields indicates a required registration field was blank.
	ErrMissingFields = errors.New("accounts: username, email and password are required")
	// ErrInvalidCredentials indicates an unknown username or a bad password.
	ErrInvalidCredentials = errors.New("accounts: invalid credentials")
	// ErrNotFound indicates the user does not exist.
	ErrNotFound = errors.New("accounts: user not found")

	errMissingDatabase = errors.New("accounts: database connection required")
)

// ServiceConfig describes the dependencies for the account service.
type ServiceConfig struct {
	Database *gorm.DB
	Logger   *zap.Logger
}

// Service manages user registration and credential verification.
type Service struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewService constructs the account service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, logger: logger}, nil
}

// Register creates a new user. Duplicate usernames and emails fail with
// conflict errors and create no row.
func (s *Service) Register(ctx context.Context, username, email, password string) (User, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)
	if username == "" || email == "" || password == "" {
		return User{}, ErrMissingFields
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&User{}).Where("username = ?", username).Count(&count).Error; err != nil {
		return User{}, err
	}
	if count > 0 {
		return User{}, ErrUsernameTaken
	}
	if err := s.db.WithContext(ctx).Model(&User{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return User{}, err
	}
	if count > 0 {
		return User{}, ErrEmailTaken
	}

	passwordHash, err := auth.HashPassword(password)
	if err != nil {
		return User{}, err
	}

	user := User{Username: username, Email: email, PasswordHash: passwordHash}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		// The unique indexes back the pre-checks under concurrent registration.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return User{}, ErrConflict
		}
		return User{}, err
	}

	s.logger.Info("user registered", zap.Uint("user_id", user.ID), zap.String("username", user.Username))
	return user, nil
}

// Authenticate verifies the username/password pair and returns the user.
// Unknown usernames and bad passwords are indistinguishable to the caller.
func (s *Service) Authenticate(ctx context.Context, username, password string) (User, error) {
	var user User
	err := s.db.WithContext(ctx).Where("username = ?", strings.TrimSpace(username)).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrInvalidCredentials
	}
	if err != nil {
		return User{}, err
	}
	if !auth.CheckPassword(password, user.PasswordHash) {
		return User{}, ErrInvalidCredentials
	}
	return user, nil
}

// ByID loads a user by id.
func (s *Service) ByID(ctx context.Context, id uint) (User, error) {
	var user User
	err := s.db.WithContext(ctx).First(&user, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	return user, nil
}
