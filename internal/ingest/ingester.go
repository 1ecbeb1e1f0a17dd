package ingest

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/MarcoPoloResearchLab/elmo/internal/routes"
	"github.com/MarcoPoloResearchLab/elmo/internal/strava"
	"github.com/MarcoPoloResearchLab/elmo/internal/users"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultPageSize is the number of activities requested per upstream page.
	DefaultPageSize = 100
	// DefaultRunTimeout bounds one shared ingestion run.
	DefaultRunTimeout = 10 * time.Minute
)

// Run outcomes reported to the Recorder.
const (
	OutcomeSucceeded     = "succeeded"
	OutcomeRefreshFailed = "refresh_failed"
	OutcomeFetchFailed   = "fetch_failed"
	OutcomeStorageFailed = "storage_failed"
)

// UserStore loads users and persists rotated credentials.
type UserStore interface {
	Get(ctx context.Context, userID int64) (users.User, error)
	UpdateCredentials(ctx context.Context, userID int64, credentials strava.CredentialSet) error
}

// RouteStore persists mapped routes with insert-or-ignore semantics.
type RouteStore interface {
	InsertIgnore(ctx context.Context, batch []routes.Route) (int64, error)
}

// Recorder receives ingestion measurements.
type Recorder interface {
	RecordTokenRefresh(success bool)
	RecordPageFetched()
	RecordRoutesInserted(count int64)
	RecordRun(outcome string, duration time.Duration)
}

// Result summarizes one ingestion run.
type Result struct {
	UserID    int64 `json:"user_id"`
	Refreshed bool  `json:"refreshed"`
	Pages     int   `json:"pages"`
	Records   int   `json:"records"`
	Inserted  int64 `json:"inserted"`
}

// IngesterConfig describes the dependencies of the ingestion routine.
type IngesterConfig struct {
	Client   strava.Client
	Users    UserStore
	Routes   RouteStore
	Recorder Recorder
	Clock    func() time.Time
	PageSize int
	// RunTimeout bounds a run independently of the callers waiting on it.
	RunTimeout time.Duration
	Logger     *zap.Logger
}

// Ingester pulls a user's upstream activity history into stored routes.
type Ingester struct {
	client     strava.Client
	users      UserStore
	routes     RouteStore
	recorder   Recorder
	clock      func() time.Time
	pageSize   int
	runTimeout time.Duration
	logger     *zap.Logger
	flights    singleflight.Group
}

// NewIngester validates dependencies and constructs the ingestion routine.
func NewIngester(cfg IngesterConfig) (*Ingester, error) {
	if cfg.Client == nil {
		return nil, errMissingClient
	}
	if cfg.Users == nil {
		return nil, errMissingUserStore
	}
	if cfg.Routes == nil {
		return nil, errMissingRouteStore
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	runTimeout := cfg.RunTimeout
	if runTimeout <= 0 {
		runTimeout = DefaultRunTimeout
	}
	recorder := cfg.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingester{
		client:     cfg.Client,
		users:      cfg.Users,
		routes:     cfg.Routes,
		recorder:   recorder,
		clock:      clock,
		pageSize:   pageSize,
		runTimeout: runTimeout,
		logger:     logger,
	}, nil
}

// Ingest refreshes the user's credentials when expired and stores every upstream
// activity page until an empty page is returned. Concurrent calls for the same user
// share a single run. The run is detached from the callers' cancellation and bounded
// by the run timeout; a caller whose ctx ends stops waiting without affecting the others.
func (i *Ingester) Ingest(ctx context.Context, userID int64) (Result, error) {
	runCtx := context.WithoutCancel(ctx)
	flight := i.flights.DoChan(strconv.FormatInt(userID, 10), func() (interface{}, error) {
		boundedCtx, cancel := context.WithTimeout(runCtx, i.runTimeout)
		defer cancel()
		return i.ingest(boundedCtx, userID)
	})

	select {
	case <-ctx.Done():
		i.logger.Debug("ingestion caller gave up waiting", zap.Int64("user_id", userID), zap.Error(ctx.Err()))
		return Result{UserID: userID}, ctx.Err()
	case outcome := <-flight:
		if outcome.Shared {
			i.logger.Debug("ingestion joined in-flight run", zap.Int64("user_id", userID))
		}
		result, _ := outcome.Val.(Result)
		return result, outcome.Err
	}
}

func (i *Ingester) ingest(ctx context.Context, userID int64) (Result, error) {
	started := i.clock()
	result := Result{UserID: userID}

	user, err := i.users.Get(ctx, userID)
	if err != nil {
		return result, err
	}

	if user.CredentialsExpired(i.clock()) {
		credentials, err := i.client.ExchangeToken(ctx, strava.RefreshRequest(user.RefreshToken))
		i.recorder.RecordTokenRefresh(err == nil)
		if err != nil {
			i.logger.Warn("credential refresh failed", zap.Int64("user_id", userID), zap.Error(err))
			i.recorder.RecordRun(OutcomeRefreshFailed, i.clock().Sub(started))
			return result, &AuthRefreshError{UserID: userID, Err: err}
		}
		if err := i.users.UpdateCredentials(ctx, userID, credentials); err != nil {
			i.logger.Error("refreshed credentials not persisted", zap.Int64("user_id", userID), zap.Error(err))
			i.recorder.RecordRun(OutcomeStorageFailed, i.clock().Sub(started))
			return result, fmt.Errorf("ingest: persist refreshed credentials for user %d: %w", userID, err)
		}
		user.Apply(credentials)
		result.Refreshed = true
		i.logger.Info("credentials refreshed", zap.Int64("user_id", userID), zap.Int64("expires_at", user.ExpiresAt))
	}

	for page := 1; ; page++ {
		records, err := i.client.FetchActivityPage(ctx, user.AccessToken, page, i.pageSize)
		result.Pages++
		if err != nil {
			i.logger.Warn("activity page fetch failed",
				zap.Int64("user_id", userID),
				zap.Int("page", page),
				zap.Error(err))
			i.recorder.RecordRun(OutcomeFetchFailed, i.clock().Sub(started))
			return result, &UpstreamFetchError{UserID: userID, Page: page, Err: err}
		}
		i.recorder.RecordPageFetched()
		if len(records) == 0 {
			break
		}

		inserted, err := i.routes.InsertIgnore(ctx, routes.FromActivities(user.ID, records))
		if err != nil {
			i.logger.Error("route batch not persisted",
				zap.Int64("user_id", userID),
				zap.Int("page", page),
				zap.Error(err))
			i.recorder.RecordRun(OutcomeStorageFailed, i.clock().Sub(started))
			return result, err
		}
		result.Records += len(records)
		result.Inserted += inserted
		i.recorder.RecordRoutesInserted(inserted)
		i.logger.Debug("activity page stored",
			zap.Int64("user_id", userID),
			zap.Int("page", page),
			zap.Int("records", len(records)),
			zap.Int64("inserted", inserted))
	}

	i.recorder.RecordRun(OutcomeSucceeded, i.clock().Sub(started))
	i.logger.Info("ingestion completed",
		zap.Int64("user_id", userID),
		zap.Int("pages", result.Pages),
		zap.Int("records", result.Records),
		zap.Int64("inserted", result.Inserted))
	return result, nil
}

type nopRecorder struct{}

func (nopRecorder) RecordTokenRefresh(bool)         {}
func (nopRecorder) RecordPageFetched()              {}
func (nopRecorder) RecordRoutesInserted(int64)      {}
func (nopRecorder) RecordRun(string, time.Duration) {}
