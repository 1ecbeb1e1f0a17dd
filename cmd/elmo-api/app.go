package main

import (
	"net/http"

	"github.com/MarcoPoloResearchLab/elmo/internal/auth"
	"github.com/MarcoPoloResearchLab/elmo/internal/config"
	"github.com/MarcoPoloResearchLab/elmo/internal/database"
	"github.com/MarcoPoloResearchLab/elmo/internal/ingest"
	"github.com/MarcoPoloResearchLab/elmo/internal/logging"
	"github.com/MarcoPoloResearchLab/elmo/internal/metrics"
	"github.com/MarcoPoloResearchLab/elmo/internal/routes"
	"github.com/MarcoPoloResearchLab/elmo/internal/server"
	"github.com/MarcoPoloResearchLab/elmo/internal/strava"
	"github.com/MarcoPoloResearchLab/elmo/internal/users"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const stateIssuerName = "elmo"

// application holds the wired components shared by the serve and sync commands.
type application struct {
	logger         *zap.Logger
	db             *gorm.DB
	users          *users.Service
	routes         *routes.Service
	upstream       *strava.HTTPClient
	ingester       *ingest.Ingester
	queue          *ingest.Queue
	events         *server.SyncEventDispatcher
	state          server.StateManager
	metricsHandler http.Handler
}

func newApplication(appConfig config.AppConfig) (*application, error) {
	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogEncoding)
	if err != nil {
		return nil, err
	}

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return nil, err
	}

	userService, err := users.NewService(users.ServiceConfig{Database: db, Logger: logger})
	if err != nil {
		return nil, err
	}
	routeService, err := routes.NewService(routes.ServiceConfig{Database: db, Logger: logger})
	if err != nil {
		return nil, err
	}

	upstream, err := strava.NewHTTPClient(strava.ClientConfig{
		ClientID:          appConfig.StravaClientID,
		ClientSecret:      appConfig.StravaClientSecret,
		RedirectURI:       appConfig.StravaRedirectURI,
		AuthorizeURL:      appConfig.StravaAuthorizeURL,
		TokenURL:          appConfig.StravaTokenURL,
		APIBaseURL:        appConfig.StravaAPIBaseURL,
		RequestTimeout:    appConfig.StravaRequestTimeout,
		RequestsPerSecond: appConfig.StravaRequestsPerSecond,
		Logger:            logger,
	})
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector, err := metrics.NewCollector(registry)
	if err != nil {
		return nil, err
	}

	ingester, err := ingest.NewIngester(ingest.IngesterConfig{
		Client:   upstream,
		Users:    userService,
		Routes:   routeService,
		Recorder: collector,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	events := server.NewSyncEventDispatcher()
	queue, err := ingest.NewQueue(ingest.QueueConfig{
		Runner:    ingester,
		Workers:   appConfig.SyncWorkers,
		Capacity:  appConfig.SyncQueueSize,
		Retention: appConfig.SyncJobRetention,
		Logger:    logger,
		Observer: func(job ingest.Job) {
			collector.ObserveJob(job)
			events.Publish(job)
		},
	})
	if err != nil {
		return nil, err
	}

	var state server.StateManager
	if appConfig.StateSigningSecret != "" {
		issuer, err := auth.NewStateIssuer(auth.StateIssuerConfig{
			SigningSecret: []byte(appConfig.StateSigningSecret),
			Issuer:        stateIssuerName,
		})
		if err != nil {
			return nil, err
		}
		state = issuer
	}

	return &application{
		logger:         logger,
		db:             db,
		users:          userService,
		routes:         routeService,
		upstream:       upstream,
		ingester:       ingester,
		queue:          queue,
		events:         events,
		state:          state,
		metricsHandler: metrics.Handler(registry),
	}, nil
}

func (a *application) Close() {
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	_ = a.logger.Sync()
}
