package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

type stubRunner struct {
	mu      sync.Mutex
	calls   []int64
	errs    map[int64]error
	release chan struct{}
}

func (r *stubRunner) Ingest(ctx context.Context, userID int64) (Result, error) {
	if r.release != nil {
		select {
		case <-r.release:
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
	r.mu.Lock()
	r.calls = append(r.calls, userID)
	err := r.errs[userID]
	r.mu.Unlock()
	if err != nil {
		return Result{UserID: userID}, err
	}
	return Result{UserID: userID, Pages: 1, Inserted: 3}, nil
}

type sequenceIDs struct {
	mu   sync.Mutex
	next int
}

func (s *sequenceIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	return fmt.Sprintf("job-%d", s.next), nil
}

type jobRecorder struct {
	mu   sync.Mutex
	seen []Job
}

func (r *jobRecorder) observe(job Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, job)
}

func (r *jobRecorder) statuses(jobID string) []JobStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	var statuses []JobStatus
	for _, job := range r.seen {
		if job.ID == jobID {
			statuses = append(statuses, job.Status)
		}
	}
	return statuses
}

func waitForJob(t *testing.T, queue *Queue, jobID string) Job {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		job, ok := queue.Job(jobID)
		if ok && job.Finished() {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish in time", jobID)
	return Job{}
}

func TestQueueRunsSubmittedJob(t *testing.T) {
	runner := &stubRunner{}
	recorder := &jobRecorder{}
	queue, err := NewQueue(QueueConfig{Runner: runner, IDProvider: &sequenceIDs{}, Observer: recorder.observe})
	if err != nil {
		t.Fatalf("failed to build queue: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go queue.Run(ctx)

	job, err := queue.Submit(42, ReasonAuthorized)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if job.Status != JobStatusPending || job.ID != "job-1" {
		t.Fatalf("unexpected submitted job %+v", job)
	}

	finished := waitForJob(t, queue, job.ID)
	if finished.Status != JobStatusSucceeded || finished.Result == nil || finished.Result.Inserted != 3 {
		t.Fatalf("unexpected finished job %+v", finished)
	}
	if finished.StartedAt.IsZero() || finished.FinishedAt.IsZero() {
		t.Fatalf("expected timestamps to be recorded, got %+v", finished)
	}

	statuses := recorder.statuses(job.ID)
	expected := []JobStatus{JobStatusPending, JobStatusRunning, JobStatusSucceeded}
	if len(statuses) != len(expected) {
		t.Fatalf("expected transitions %v, got %v", expected, statuses)
	}
	for index := range expected {
		if statuses[index] != expected[index] {
			t.Fatalf("expected transitions %v, got %v", expected, statuses)
		}
	}
}

func TestQueueRecordsFailure(t *testing.T) {
	runner := &stubRunner{errs: map[int64]error{7: &AuthRefreshError{UserID: 7, Err: errors.New("revoked")}}}
	queue, err := NewQueue(QueueConfig{Runner: runner})
	if err != nil {
		t.Fatalf("failed to build queue: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go queue.Run(ctx)

	job, err := queue.Submit(7, ReasonManual)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	finished := waitForJob(t, queue, job.ID)
	if finished.Status != JobStatusFailed || finished.Result != nil {
		t.Fatalf("expected failed job without result, got %+v", finished)
	}
	if finished.Error == "" {
		t.Fatalf("expected failure message to be recorded")
	}
}

func TestQueueRejectsWhenFull(t *testing.T) {
	queue, err := NewQueue(QueueConfig{Runner: &stubRunner{}, Capacity: 1})
	if err != nil {
		t.Fatalf("failed to build queue: %v", err)
	}
	if _, err := queue.Submit(1, ReasonManual); err != nil {
		t.Fatalf("first submit failed: %v", err)
	}
	if _, err := queue.Submit(2, ReasonManual); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

func TestQueueFailsPendingJobsOnShutdown(t *testing.T) {
	queue, err := NewQueue(QueueConfig{Runner: &stubRunner{}, Capacity: 4})
	if err != nil {
		t.Fatalf("failed to build queue: %v", err)
	}
	job, err := queue.Submit(9, ReasonScheduled)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	queue.Run(ctx)

	stored, ok := queue.Job(job.ID)
	if !ok {
		t.Fatalf("expected job to remain observable")
	}
	if stored.Status == JobStatusPending || stored.Status == JobStatusRunning {
		t.Fatalf("expected job to reach a terminal state, got %s", stored.Status)
	}
	if _, err := queue.Submit(10, ReasonManual); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed after shutdown, got %v", err)
	}
}

func TestQueuePrunesExpiredJobs(t *testing.T) {
	now := time.Unix(1700000000, 0)
	clock := func() time.Time { return now }
	queue, err := NewQueue(QueueConfig{Runner: &stubRunner{}, Retention: time.Minute, Clock: clock})
	if err != nil {
		t.Fatalf("failed to build queue: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go queue.Run(ctx)

	first, err := queue.Submit(1, ReasonManual)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	waitForJob(t, queue, first.ID)

	now = now.Add(2 * time.Minute)
	if _, err := queue.Submit(2, ReasonManual); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if _, ok := queue.Job(first.ID); ok {
		t.Fatalf("expected finished job past retention to be pruned")
	}
}

func TestNewQueueRequiresRunner(t *testing.T) {
	if _, err := NewQueue(QueueConfig{}); !errors.Is(err, errMissingRunner) {
		t.Fatalf("expected missing runner error, got %v", err)
	}
}
