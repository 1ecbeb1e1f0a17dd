package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/elmo/internal/config"
	"github.com/MarcoPoloResearchLab/elmo/internal/ingest"
	"github.com/MarcoPoloResearchLab/elmo/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "elmo-api",
		Short: "Strava route sync and map backend",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and background sync workers (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	})
	rootCmd.AddCommand(newSyncCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-encoding", defaults.GetString("log.encoding"), "Log encoding (json, console)")
	cmd.PersistentFlags().String("strava-client-id", "", "Strava OAuth client ID")
	cmd.PersistentFlags().String("strava-client-secret", "", "Strava OAuth client secret (overrides env)")
	cmd.PersistentFlags().String("strava-redirect-uri", defaults.GetString("strava.redirect_uri"), "OAuth redirect URI")
	cmd.PersistentFlags().Duration("sync-interval", defaults.GetDuration("sync.interval"), "Interval between scheduled syncs (0 disables)")
	cmd.PersistentFlags().Int("sync-workers", defaults.GetInt("sync.workers"), "Number of background sync workers")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.encoding", "log-encoding")
	bindFlag(cmd, "strava.client_id", "strava-client-id")
	bindFlag(cmd, "strava.client_secret", "strava-client-secret")
	bindFlag(cmd, "strava.redirect_uri", "strava-redirect-uri")
	bindFlag(cmd, "sync.interval", "sync-interval")
	bindFlag(cmd, "sync.workers", "sync-workers")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	app, err := newApplication(appConfig)
	if err != nil {
		return err
	}
	defer app.Close()
	logger := app.logger

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Users:      app.users,
		Routes:     app.routes,
		Ingester:   app.ingester,
		Queue:      app.queue,
		Authorizer: app.upstream,
		Exchanger:  app.upstream,
		State:      app.state,
		Events:     app.events,
		Metrics:    app.metricsHandler,
		Logger:     logger,
		SyncOnRead: appConfig.SyncOnRead,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	workersDone := make(chan struct{})
	go func() {
		app.queue.Run(signalCtx)
		close(workersDone)
	}()

	if appConfig.SyncInterval > 0 {
		scheduler, err := ingest.NewScheduler(app.users, app.queue, logger)
		if err != nil {
			return err
		}
		go scheduler.Start(signalCtx, appConfig.SyncInterval)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		<-workersDone
		return err
	case err := <-errCh:
		stop()
		<-workersDone
		return err
	}
}
