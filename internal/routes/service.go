package routes

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var errMissingDatabase = errors.New("database handle is required")

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
	opServiceNew   = "routes.service.new"
	opInsertIgnore = "routes.insert_ignore"
	opList         = "routes.list"
	opCount        = "routes.count"
)

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// ServiceConfig describes the dependencies of the route store.
type ServiceConfig struct {
	Database *gorm.DB
	Logger   *zap.Logger
}

// Service persists and lists routes.
type Service struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewService constructs the route store.
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

// InsertIgnore stores a batch of routes, silently skipping rows whose id already exists.
// It returns the number of rows actually inserted.
func (s *Service) InsertIgnore(ctx context.Context, batch []Route) (int64, error) {
	if len(batch) == 0 {
		return 0, nil
	}
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(&batch)
	if result.Error != nil {
		s.logger.Error("routes service error",
			zap.String("operation", opInsertIgnore),
			zap.String("reason", "insert_failed"),
			zap.Int("batch_size", len(batch)),
			zap.Error(result.Error))
		return 0, newServiceError(opInsertIgnore, "insert_failed", result.Error)
	}
	return result.RowsAffected, nil
}

// ListFilter narrows a route listing. A zero RouteID lists everything.
type ListFilter struct {
	RouteID int64
}

// List returns a user's routes, newest first.
func (s *Service) List(ctx context.Context, userID int64, filter ListFilter) ([]Route, error) {
	query := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if filter.RouteID != 0 {
		query = query.Where("id = ?", filter.RouteID)
	}
	var routes []Route
	if err := query.Order("start_date DESC").Find(&routes).Error; err != nil {
		s.logger.Error("routes service error",
			zap.String("operation", opList),
			zap.String("reason", "query_failed"),
			zap.Int64("user_id", userID),
			zap.Error(err))
		return nil, newServiceError(opList, "query_failed", err)
	}
	return routes, nil
}

// Count returns how many routes are stored for a user.
func (s *Service) Count(ctx context.Context, userID int64) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&Route{}).Where("user_id = ?", userID).Count(&count).Error; err != nil {
		return 0, newServiceError(opCount, "query_failed", err)
	}
	return count, nil
}
