package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/elmo/internal/strava"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	errMissingAthlete  = errors.New("token response carries no athlete")
	errInvalidUserID   = errors.New("user identifier must be positive")
	errMissingTokens   = errors.New("access and refresh tokens are required")
)

// NotFoundError reports that no stored record exists for the requested user id.
type NotFoundError struct {
	UserID int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("users: user %d not found", e.UserID)
}

// ServiceError wraps storage failures with an operation.reason code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew         = "users.service.new"
	opUpsert             = "users.upsert"
	opGet                = "users.get"
	opList               = "users.list"
	opUpdateCredentials  = "users.update_credentials"
	userRowsNotAffected  = "no_rows_affected"
	reasonQueryFailed    = "query_failed"
	reasonWriteFailed    = "write_failed"
	reasonInvalidRequest = "invalid_request"
)

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// ServiceConfig describes the dependencies of the user store.
type ServiceConfig struct {
	Database *gorm.DB
	Logger   *zap.Logger
}

// Service persists users and their upstream credentials.
type Service struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewService constructs the user store.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, logger: logger}, nil
}

// Upsert creates or overwrites the user described by an authorization code exchange.
func (s *Service) Upsert(ctx context.Context, credentials strava.CredentialSet) (User, error) {
	if credentials.Athlete == nil {
		return User{}, newServiceError(opUpsert, reasonInvalidRequest, errMissingAthlete)
	}
	if credentials.Athlete.ID <= 0 {
		return User{}, newServiceError(opUpsert, reasonInvalidRequest, errInvalidUserID)
	}

	var user User
	user.Apply(credentials)

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"firstname", "lastname", "access_token", "refresh_token", "expires_at", "updated_at"}),
		}).
		Create(&user).Error
	if err != nil {
		s.logError(opUpsert, reasonWriteFailed, err, zap.Int64("user_id", user.ID))
		return User{}, newServiceError(opUpsert, reasonWriteFailed, err)
	}
	return s.Get(ctx, user.ID)
}

// Get loads one user or returns *NotFoundError.
func (s *Service) Get(ctx context.Context, userID int64) (User, error) {
	var user User
	err := s.db.WithContext(ctx).Where("id = ?", userID).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, &NotFoundError{UserID: userID}
	}
	if err != nil {
		s.logError(opGet, reasonQueryFailed, err, zap.Int64("user_id", userID))
		return User{}, newServiceError(opGet, reasonQueryFailed, err)
	}
	return user, nil
}

// List returns every stored user ordered by id.
func (s *Service) List(ctx context.Context) ([]User, error) {
	var users []User
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&users).Error; err != nil {
		s.logError(opList, reasonQueryFailed, err)
		return nil, newServiceError(opList, reasonQueryFailed, err)
	}
	return users, nil
}

// UpdateCredentials durably replaces the token triple of an existing user.
// Empty tokens are rejected so a stored refresh token is never erased.
func (s *Service) UpdateCredentials(ctx context.Context, userID int64, credentials strava.CredentialSet) error {
	if credentials.AccessToken == "" || credentials.RefreshToken == "" {
		return newServiceError(opUpdateCredentials, reasonInvalidRequest, errMissingTokens)
	}
	result := s.db.WithContext(ctx).
		Model(&User{}).
		Where("id = ?", userID).
		Updates(map[string]interface{}{
			"access_token":  credentials.AccessToken,
			"refresh_token": credentials.RefreshToken,
			"expires_at":    credentials.ExpiresAt,
		})
	if result.Error != nil {
		s.logError(opUpdateCredentials, reasonWriteFailed, result.Error, zap.Int64("user_id", userID))
		return newServiceError(opUpdateCredentials, reasonWriteFailed, result.Error)
	}
	if result.RowsAffected == 0 {
		return newServiceError(opUpdateCredentials, userRowsNotAffected, &NotFoundError{UserID: userID})
	}
	return nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("users service error", attrs...)
}
