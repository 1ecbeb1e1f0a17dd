package integration_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/elmo/internal/database"
	"github.com/MarcoPoloResearchLab/elmo/internal/ingest"
	"github.com/MarcoPoloResearchLab/elmo/internal/routes"
	"github.com/MarcoPoloResearchLab/elmo/internal/server"
	"github.com/MarcoPoloResearchLab/elmo/internal/strava"
	"github.com/MarcoPoloResearchLab/elmo/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	athleteID       = 4242
	activityCount   = 150
	upstreamSecret  = "client-secret"
	upstreamCode    = "authorization-code"
	samplePolyline  = "_p~iF~ps|U_ulLnnqC_mqNvxq`@"
	jsonContentType = "application/json"
)

func newFakeUpstream(t *testing.T, pageRequests *int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil || r.PostForm.Get("client_secret") != upstreamSecret || r.PostForm.Get("code") != upstreamCode {
			http.Error(w, `{"message":"Bad Request"}`, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", jsonContentType)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "access-1",
			"refresh_token": "refresh-1",
			"expires_at":    time.Now().Add(6 * time.Hour).Unix(),
			"athlete":       map[string]any{"id": athleteID, "firstname": "Elmo", "lastname": "Monster"},
		})
	})
	mux.HandleFunc("/athlete/activities", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(pageRequests, 1)
		if r.Header.Get("Authorization") != "Bearer access-1" {
			http.Error(w, `{"message":"Authorization Error"}`, http.StatusUnauthorized)
			return
		}
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
		first := (page - 1) * perPage
		activities := make([]map[string]any, 0, perPage)
		for index := first; index < first+perPage && index < activityCount; index++ {
			activities = append(activities, map[string]any{
				"id":                   1000 + index,
				"name":                 fmt.Sprintf("Ride %d", index),
				"distance":             12500.0,
				"start_date":           time.Unix(1700000000-int64(index)*3600, 0).UTC().Format(time.RFC3339),
				"average_speed":        5.0,
				"moving_time":          1800,
				"elapsed_time":         2000,
				"total_elevation_gain": 120.5,
				"athlete":              map[string]any{"id": athleteID},
				"map":                  map[string]any{"summary_polyline": samplePolyline},
			})
		}
		w.Header().Set("Content-Type", jsonContentType)
		_ = json.NewEncoder(w).Encode(activities)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestAuthorizeThenSyncThenServeRoutes(testContext *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	var pageRequests int32
	upstream := newFakeUpstream(testContext, &pageRequests)

	db, err := database.OpenSQLite(filepath.Join(testContext.TempDir(), "elmo.db"), logger)
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}
	userService, err := users.NewService(users.ServiceConfig{Database: db, Logger: logger})
	if err != nil {
		testContext.Fatalf("failed to build user service: %v", err)
	}
	routeService, err := routes.NewService(routes.ServiceConfig{Database: db, Logger: logger})
	if err != nil {
		testContext.Fatalf("failed to build route service: %v", err)
	}
	client, err := strava.NewHTTPClient(strava.ClientConfig{
		ClientID:       "client-id",
		ClientSecret:   upstreamSecret,
		RedirectURI:    "http://localhost/user_token_exchange",
		AuthorizeURL:   upstream.URL + "/oauth/authorize",
		TokenURL:       upstream.URL + "/oauth/token",
		APIBaseURL:     upstream.URL,
		RequestTimeout: 5 * time.Second,
	})
	if err != nil {
		testContext.Fatalf("failed to build upstream client: %v", err)
	}
	ingester, err := ingest.NewIngester(ingest.IngesterConfig{Client: client, Users: userService, Routes: routeService, Logger: logger})
	if err != nil {
		testContext.Fatalf("failed to build ingester: %v", err)
	}
	events := server.NewSyncEventDispatcher()
	queue, err := ingest.NewQueue(ingest.QueueConfig{Runner: ingester, Logger: logger, Observer: events.Publish})
	if err != nil {
		testContext.Fatalf("failed to build queue: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go queue.Run(ctx)

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Users:      userService,
		Routes:     routeService,
		Ingester:   ingester,
		Queue:      queue,
		Authorizer: client,
		Exchanger:  client,
		Events:     events,
		Logger:     logger,
		SyncOnRead: false,
	})
	if err != nil {
		testContext.Fatalf("failed to build handler: %v", err)
	}
	testServer := httptest.NewServer(handler)
	defer testServer.Close()

	exchangeResp, err := http.Get(testServer.URL + "/user_token_exchange?code=" + upstreamCode)
	if err != nil {
		testContext.Fatalf("exchange request failed: %v", err)
	}
	var exchange struct {
		JobID  string `json:"job_id"`
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(exchangeResp.Body).Decode(&exchange); err != nil {
		testContext.Fatalf("failed to decode exchange response: %v", err)
	}
	_ = exchangeResp.Body.Close()
	if exchangeResp.StatusCode != http.StatusAccepted || exchange.UserID != strconv.Itoa(athleteID) || exchange.JobID == "" {
		testContext.Fatalf("unexpected exchange response %d %+v", exchangeResp.StatusCode, exchange)
	}

	job := waitForJob(testContext, testServer.URL, exchange.JobID)
	if job.Status != ingest.JobStatusSucceeded {
		testContext.Fatalf("expected job to succeed, got %+v", job)
	}
	if job.Result == nil || job.Result.Inserted != activityCount || job.Result.Pages != 3 {
		testContext.Fatalf("unexpected job result %+v", job.Result)
	}
	if atomic.LoadInt32(&pageRequests) != 3 {
		testContext.Fatalf("expected 3 upstream page requests, got %d", pageRequests)
	}

	routesResp, err := http.Get(testServer.URL + "/" + exchange.UserID + "/routes")
	if err != nil {
		testContext.Fatalf("routes request failed: %v", err)
	}
	defer routesResp.Body.Close()
	var served []routes.View
	if err := json.NewDecoder(routesResp.Body).Decode(&served); err != nil {
		testContext.Fatalf("failed to decode routes: %v", err)
	}
	if len(served) != activityCount {
		testContext.Fatalf("expected %d routes, got %d", activityCount, len(served))
	}
	newest := served[0]
	if newest.ID != "1000" || newest.Distance != 12.5 || newest.AverageSpeed != 18.0 {
		testContext.Fatalf("unexpected newest route %+v", newest)
	}
	if newest.Bounds != "38.5,-126.453,43.252,-120.2" {
		testContext.Fatalf("unexpected bounds %q", newest.Bounds)
	}
}

func waitForJob(testContext *testing.T, baseURL, jobID string) ingest.Job {
	testContext.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(baseURL + "/sync/" + jobID)
		if err != nil {
			testContext.Fatalf("job status request failed: %v", err)
		}
		var job ingest.Job
		decodeErr := json.NewDecoder(resp.Body).Decode(&job)
		_ = resp.Body.Close()
		if decodeErr != nil {
			testContext.Fatalf("failed to decode job: %v", decodeErr)
		}
		if job.Finished() {
			return job
		}
		time.Sleep(20 * time.Millisecond)
	}
	testContext.Fatalf("job %s did not finish", jobID)
	return ingest.Job{}
}
