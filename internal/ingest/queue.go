package ingest

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// JobStatus is the lifecycle state of a sync job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// Reasons a sync job was submitted.
const (
	ReasonAuthorized = "authorized"
	ReasonScheduled  = "scheduled"
	ReasonManual     = "manual"
)

const (
	defaultQueueWorkers   = 1
	defaultQueueCapacity  = 64
	defaultQueueRetention = time.Hour
)

// Job is a snapshot of one queued ingestion.
type Job struct {
	ID          string    `json:"id"`
	UserID      int64     `json:"user_id,string"`
	Reason      string    `json:"reason"`
	Status      JobStatus `json:"status"`
	Result      *Result   `json:"result,omitempty"`
	Error       string    `json:"error,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
	StartedAt   time.Time `json:"started_at,omitzero"`
	FinishedAt  time.Time `json:"finished_at,omitzero"`
}

// Finished reports whether the job reached a terminal state.
func (j Job) Finished() bool {
	return j.Status == JobStatusSucceeded || j.Status == JobStatusFailed
}

// Runner executes one ingestion.
type Runner interface {
	Ingest(ctx context.Context, userID int64) (Result, error)
}

// IDProvider issues job identifiers.
type IDProvider interface {
	NewID() (string, error)
}

// QueueConfig describes the sync queue.
type QueueConfig struct {
	Runner     Runner
	Workers    int
	Capacity   int
	Retention  time.Duration
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
	// Observer receives a snapshot after every job transition.
	Observer func(Job)
}

// Queue hands ingestion off to background workers and keeps each job's state observable.
type Queue struct {
	runner    Runner
	workers   int
	retention time.Duration
	clock     func() time.Time
	ids       IDProvider
	logger    *zap.Logger
	observer  func(Job)

	mu      sync.Mutex
	jobs    map[string]*Job
	pending chan string
	closed  bool
}

// NewQueue constructs a queue; call Run to start processing.
func NewQueue(cfg QueueConfig) (*Queue, error) {
	if cfg.Runner == nil {
		return nil, errMissingRunner
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultQueueWorkers
	}
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = defaultQueueCapacity
	}
	retention := cfg.Retention
	if retention <= 0 {
		retention = defaultQueueRetention
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	ids := cfg.IDProvider
	if ids == nil {
		ids = NewUUIDProvider()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	observer := cfg.Observer
	if observer == nil {
		observer = func(Job) {}
	}
	return &Queue{
		runner:    cfg.Runner,
		workers:   workers,
		retention: retention,
		clock:     clock,
		ids:       ids,
		logger:    logger,
		observer:  observer,
		jobs:      make(map[string]*Job),
		pending:   make(chan string, capacity),
	}, nil
}

// Submit enqueues an ingestion for userID.
func (q *Queue) Submit(userID int64, reason string) (Job, error) {
	id, err := q.ids.NewID()
	if err != nil {
		return Job{}, err
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return Job{}, ErrQueueClosed
	}
	q.pruneLocked()
	job := &Job{
		ID:          id,
		UserID:      userID,
		Reason:      reason,
		Status:      JobStatusPending,
		SubmittedAt: q.clock().UTC(),
	}
	select {
	case q.pending <- id:
	default:
		q.mu.Unlock()
		q.logger.Warn("sync queue full", zap.Int64("user_id", userID), zap.String("reason", reason))
		return Job{}, ErrQueueFull
	}
	q.jobs[id] = job
	snapshot := *job
	q.mu.Unlock()

	q.logger.Info("sync job submitted",
		zap.String("job_id", id),
		zap.Int64("user_id", userID),
		zap.String("reason", reason))
	q.observer(snapshot)
	return snapshot, nil
}

// Job returns a snapshot of the job with the given id.
func (q *Queue) Job(id string) (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// Run processes jobs with the configured number of workers until ctx is cancelled.
// Jobs still pending at shutdown are marked failed.
func (q *Queue) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for worker := 0; worker < q.workers; worker++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.work(ctx)
		}()
	}
	wg.Wait()

	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	for {
		select {
		case id := <-q.pending:
			q.finish(id, Result{}, ErrQueueClosed)
		default:
			return
		}
	}
}

func (q *Queue) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-q.pending:
			q.process(ctx, id)
		}
	}
}

func (q *Queue) process(ctx context.Context, id string) {
	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok {
		q.mu.Unlock()
		return
	}
	job.Status = JobStatusRunning
	job.StartedAt = q.clock().UTC()
	userID := job.UserID
	snapshot := *job
	q.mu.Unlock()
	q.observer(snapshot)

	result, err := q.runner.Ingest(ctx, userID)
	q.finish(id, result, err)
}

func (q *Queue) finish(id string, result Result, err error) {
	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok {
		q.mu.Unlock()
		return
	}
	job.FinishedAt = q.clock().UTC()
	if err != nil {
		job.Status = JobStatusFailed
		job.Error = err.Error()
	} else {
		job.Status = JobStatusSucceeded
		job.Result = &result
	}
	snapshot := *job
	q.mu.Unlock()

	fields := []zap.Field{
		zap.String("job_id", id),
		zap.Int64("user_id", snapshot.UserID),
		zap.String("status", string(snapshot.Status)),
	}
	if err != nil {
		level := q.logger.Warn
		if errors.Is(err, ErrQueueClosed) {
			level = q.logger.Info
		}
		level("sync job failed", append(fields, zap.Error(err))...)
	} else {
		q.logger.Info("sync job finished", append(fields, zap.Int64("inserted", result.Inserted))...)
	}
	q.observer(snapshot)
}

func (q *Queue) pruneLocked() {
	cutoff := q.clock().Add(-q.retention)
	for id, job := range q.jobs {
		if job.Finished() && job.FinishedAt.Before(cutoff) {
			delete(q.jobs, id)
		}
	}
}
