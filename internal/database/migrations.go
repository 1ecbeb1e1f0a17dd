package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/elmo/internal/routes"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationAddRouteBounds = "2023-11-19_add_route_bounds"
	backfillBatchSize       = 200
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB, *zap.Logger) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationAddRouteBounds, apply: backfillRouteBounds},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db, logger); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		logger.Info("database migration applied", zap.String("migration", migration.name))
	}
	return nil
}

// backfillRouteBounds computes bounds for routes stored before the column existed.
// Rows whose polyline does not decode keep an empty bounds value.
func backfillRouteBounds(db *gorm.DB, logger *zap.Logger) error {
	var pending []routes.Route
	return db.Model(&routes.Route{}).
		Where("bounds IS NULL OR bounds = ''").
		FindInBatches(&pending, backfillBatchSize, func(_ *gorm.DB, _ int) error {
			for _, route := range pending {
				bounds, err := routes.BoundsFromPolyline(route.Polyline)
				if err != nil {
					logger.Warn("route bounds not computed",
						zap.Int64("route_id", route.ID),
						zap.Error(err))
					continue
				}
				if bounds == "" {
					continue
				}
				if err := db.Model(&routes.Route{}).Where("id = ?", route.ID).Update("bounds", bounds).Error; err != nil {
					return err
				}
			}
			return nil
		}).Error
}
