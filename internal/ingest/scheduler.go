package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/elmo/internal/users"
	"go.uber.org/zap"
)

// UserLister enumerates every stored user.
type UserLister interface {
	List(ctx context.Context) ([]users.User, error)
}

// Submitter accepts sync jobs.
type Submitter interface {
	Submit(userID int64, reason string) (Job, error)
}

// Scheduler periodically submits a sync job for every stored user.
type Scheduler struct {
	users  UserLister
	queue  Submitter
	logger *zap.Logger
}

// NewScheduler constructs a Scheduler.
func NewScheduler(lister UserLister, queue Submitter, logger *zap.Logger) (*Scheduler, error) {
	if lister == nil {
		return nil, errMissingLister
	}
	if queue == nil {
		return nil, errMissingSubmitter
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{users: lister, queue: queue, logger: logger}, nil
}

// Start runs one cycle immediately and then one per interval until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("sync scheduler started", zap.Duration("interval", interval))
	s.runLogged(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sync scheduler stopped")
			return
		case <-ticker.C:
			s.runLogged(ctx)
		}
	}
}

// RunOnce submits one job per stored user and returns how many were accepted.
// A full queue stops the cycle early.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	stored, err := s.users.List(ctx)
	if err != nil {
		return 0, err
	}
	submitted := 0
	for _, user := range stored {
		if _, err := s.queue.Submit(user.ID, ReasonScheduled); err != nil {
			if errors.Is(err, ErrQueueFull) || errors.Is(err, ErrQueueClosed) {
				return submitted, err
			}
			s.logger.Warn("scheduled sync not submitted", zap.Int64("user_id", user.ID), zap.Error(err))
			continue
		}
		submitted++
	}
	return submitted, nil
}

func (s *Scheduler) runLogged(ctx context.Context) {
	submitted, err := s.RunOnce(ctx)
	if err != nil {
		s.logger.Error("sync cycle failed", zap.Int("submitted", submitted), zap.Error(err))
		return
	}
	s.logger.Info("sync cycle submitted", zap.Int("submitted", submitted))
}
