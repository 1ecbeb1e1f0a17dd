package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/elmo/internal/ingest"
	"github.com/MarcoPoloResearchLab/elmo/internal/routes"
	"github.com/MarcoPoloResearchLab/elmo/internal/strava"
	"github.com/MarcoPoloResearchLab/elmo/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	syncStartedMessage   = "Routes are now syncing in the background. This will take some time."
	syncDeferredMessage  = "Authorization stored. Routes will sync on the next scheduled run."
	defaultHeartbeatTime = 25 * time.Second
)

var (
	errMissingUserDirectory = errors.New("user directory dependency required")
	errMissingRouteReader   = errors.New("route reader dependency required")
	errMissingJobQueue      = errors.New("job queue dependency required")
	errMissingAuthorizer    = errors.New("authorizer dependency required")
	errMissingExchanger     = errors.New("token exchanger dependency required")
	errMissingEvents        = errors.New("sync event dispatcher dependency required")
)

type UserDirectory interface {
	Get(ctx context.Context, userID int64) (users.User, error)
	List(ctx context.Context) ([]users.User, error)
	Upsert(ctx context.Context, credentials strava.CredentialSet) (users.User, error)
}

type RouteReader interface {
	List(ctx context.Context, userID int64, filter routes.ListFilter) ([]routes.Route, error)
}

type Ingester interface {
	Ingest(ctx context.Context, userID int64) (ingest.Result, error)
}

type JobQueue interface {
	Submit(userID int64, reason string) (ingest.Job, error)
	Job(id string) (ingest.Job, bool)
}

type Authorizer interface {
	AuthorizeURL(state string) string
}

type TokenExchanger interface {
	ExchangeToken(ctx context.Context, request strava.TokenRequest) (strava.CredentialSet, error)
}

// StateManager signs and checks the OAuth state parameter.
type StateManager interface {
	Issue() (string, error)
	Validate(state string) error
}

type Dependencies struct {
	Users      UserDirectory
	Routes     RouteReader
	Ingester   Ingester
	Queue      JobQueue
	Authorizer Authorizer
	Exchanger  TokenExchanger
	// State is optional; without it the state parameter is not checked.
	State   StateManager
	Events  *SyncEventDispatcher
	Metrics http.Handler
	Logger  *zap.Logger
	// SyncOnRead runs ingestion before serving a user's routes.
	SyncOnRead bool
	Heartbeat  time.Duration
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Users == nil {
		return nil, errMissingUserDirectory
	}
	if deps.Routes == nil {
		return nil, errMissingRouteReader
	}
	if deps.Queue == nil {
		return nil, errMissingJobQueue
	}
	if deps.Authorizer == nil {
		return nil, errMissingAuthorizer
	}
	if deps.Exchanger == nil {
		return nil, errMissingExchanger
	}
	if deps.Events == nil {
		return nil, errMissingEvents
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	heartbeat := deps.Heartbeat
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatTime
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		users:      deps.Users,
		routes:     deps.Routes,
		ingester:   deps.Ingester,
		queue:      deps.Queue,
		authorizer: deps.Authorizer,
		exchanger:  deps.Exchanger,
		state:      deps.State,
		events:     deps.Events,
		logger:     logger,
		syncOnRead: deps.SyncOnRead && deps.Ingester != nil,
		heartbeat:  heartbeat,
	}

	router.GET("/healthz", handler.handleHealth)
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics))
	}
	router.GET("/users", handler.handleListUsers)
	router.GET("/start", handler.handleStart)
	router.GET("/user_token_exchange", handler.handleTokenExchange)
	router.GET("/sync/:job_id", handler.handleJobStatus)

	perUser := router.Group("/:user_id")
	perUser.Use(handler.resolveUser)
	perUser.GET("/routes", handler.handleListRoutes)
	perUser.GET("/geojson", handler.handleGeoJSON)
	perUser.GET("/sync/events", handler.handleSyncEvents)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodOptions},
		AllowHeaders: []string{"Content-Type", "Cache-Control", "Last-Event-ID"},
		MaxAge:       12 * time.Hour,
	})
}

const userContextKey = "elmo_user"

type httpHandler struct {
	users      UserDirectory
	routes     RouteReader
	ingester   Ingester
	queue      JobQueue
	authorizer Authorizer
	exchanger  TokenExchanger
	state      StateManager
	events     *SyncEventDispatcher
	logger     *zap.Logger
	syncOnRead bool
	heartbeat  time.Duration
}

type userSummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type exchangeResponse struct {
	Message string `json:"message"`
	JobID   string `json:"job_id,omitempty"`
	UserID  string `json:"user_id"`
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleListUsers(c *gin.Context) {
	stored, err := h.users.List(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to list users", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "user_list_failed"})
		return
	}
	response := make([]userSummary, 0, len(stored))
	for _, user := range stored {
		response = append(response, userSummary{ID: strconv.FormatInt(user.ID, 10), Name: user.FirstName})
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleStart(c *gin.Context) {
	state := ""
	if h.state != nil {
		issued, err := h.state.Issue()
		if err != nil {
			h.logger.Error("failed to issue oauth state", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "state_issue_failed"})
			return
		}
		state = issued
	}
	c.Redirect(http.StatusFound, h.authorizer.AuthorizeURL(state))
}

func (h *httpHandler) handleTokenExchange(c *gin.Context) {
	if h.state != nil {
		if err := h.state.Validate(c.Query("state")); err != nil {
			h.logger.Info("oauth state rejected", zap.Error(err))
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_state"})
			return
		}
	}
	code := strings.TrimSpace(c.Query("code"))
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_code"})
		return
	}

	credentials, err := h.exchanger.ExchangeToken(c.Request.Context(), strava.AuthorizationCodeRequest(code))
	if err != nil {
		h.logger.Warn("authorization code exchange failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "token_exchange_failed"})
		return
	}

	user, err := h.users.Upsert(c.Request.Context(), credentials)
	if err != nil {
		h.logger.Error("failed to store authorized user", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "user_store_failed"})
		return
	}

	response := exchangeResponse{Message: syncStartedMessage, UserID: strconv.FormatInt(user.ID, 10)}
	job, err := h.queue.Submit(user.ID, ingest.ReasonAuthorized)
	if err != nil {
		h.logger.Warn("initial sync not queued", zap.Int64("user_id", user.ID), zap.Error(err))
		response.Message = syncDeferredMessage
	} else {
		response.JobID = job.ID
	}
	c.JSON(http.StatusAccepted, response)
}

func (h *httpHandler) handleJobStatus(c *gin.Context) {
	job, ok := h.queue.Job(c.Param("job_id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job_not_found"})
		return
	}
	c.JSON(http.StatusOK, job)
}

// resolveUser parses :user_id and loads the user into the request context.
func (h *httpHandler) resolveUser(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_user_id"})
		return
	}
	user, err := h.users.Get(c.Request.Context(), userID)
	if err != nil {
		var notFound *users.NotFoundError
		if errors.As(err, &notFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "user_not_found"})
			return
		}
		h.logger.Error("failed to load user", zap.Int64("user_id", userID), zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "user_lookup_failed"})
		return
	}
	c.Set(userContextKey, user)
	c.Next()
}

func (h *httpHandler) handleListRoutes(c *gin.Context) {
	filter := routes.ListFilter{}
	if raw := strings.TrimSpace(c.Query("filter")); raw != "" {
		routeID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_filter"})
			return
		}
		filter.RouteID = routeID
	}
	stored, ok := h.loadRoutes(c, filter)
	if !ok {
		return
	}
	views := make([]routes.View, 0, len(stored))
	for _, route := range stored {
		view, err := routes.NewView(route)
		if err != nil {
			h.logger.Error("stored route not decodable", zap.Int64("route_id", route.ID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "route_decode_failed"})
			return
		}
		views = append(views, view)
	}
	c.JSON(http.StatusOK, views)
}

func (h *httpHandler) handleGeoJSON(c *gin.Context) {
	stored, ok := h.loadRoutes(c, routes.ListFilter{})
	if !ok {
		return
	}
	collection, err := routes.NewFeatureCollection(stored)
	if err != nil {
		h.logger.Error("stored route not decodable", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "route_decode_failed"})
		return
	}
	c.JSON(http.StatusOK, collection)
}

// loadRoutes refreshes the user's routes when sync-on-read is enabled and returns the stored set.
// A failed refresh is logged and the stored routes are served.
func (h *httpHandler) loadRoutes(c *gin.Context, filter routes.ListFilter) ([]routes.Route, bool) {
	user := c.MustGet(userContextKey).(users.User)
	if h.syncOnRead {
		if _, err := h.ingester.Ingest(c.Request.Context(), user.ID); err != nil {
			h.logger.Warn("sync on read failed; serving stored routes", zap.Int64("user_id", user.ID), zap.Error(err))
		}
	}
	stored, err := h.routes.List(c.Request.Context(), user.ID, filter)
	if err != nil {
		h.logger.Error("failed to list routes", zap.Int64("user_id", user.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "route_list_failed"})
		return nil, false
	}
	return stored, true
}

func (h *httpHandler) handleSyncEvents(c *gin.Context) {
	user := c.MustGet(userContextKey).(users.User)
	stream, cleanup := h.events.Subscribe(c.Request.Context(), user.ID)
	defer cleanup()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	c.SSEvent(syncEventHeartbeat, gin.H{"source": syncEventSource})
	c.Writer.Flush()
	c.Stream(func(_ io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case job, ok := <-stream:
			if !ok {
				return false
			}
			c.SSEvent(SyncEventJob, job)
			return true
		case <-heartbeat.C:
			c.SSEvent(syncEventHeartbeat, gin.H{"source": syncEventSource})
			return true
		}
	})
}
