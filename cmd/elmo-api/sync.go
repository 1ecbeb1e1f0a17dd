package main

import (
	"errors"

	"github.com/MarcoPoloResearchLab/elmo/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func newSyncCommand() *cobra.Command {
	var userID int64
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Pull one user's activities into the route store and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID <= 0 {
				return errors.New("--user-id must be a positive athlete id")
			}
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			app, err := newApplication(appConfig)
			if err != nil {
				return err
			}
			defer app.Close()

			result, err := app.ingester.Ingest(cmd.Context(), userID)
			if err != nil {
				app.logger.Error("sync failed", zap.Int64("user_id", userID), zap.Error(err))
				return err
			}
			app.logger.Info("sync finished",
				zap.Int64("user_id", result.UserID),
				zap.Bool("refreshed", result.Refreshed),
				zap.Int("pages", result.Pages),
				zap.Int64("inserted", result.Inserted))
			return nil
		},
	}
	cmd.Flags().Int64Var(&userID, "user-id", 0, "Athlete id of the stored user to sync")
	return cmd
}
