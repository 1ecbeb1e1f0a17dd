package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/elmo/internal/routes"
	"github.com/MarcoPoloResearchLab/elmo/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

const samplePolyline = "_p~iF~ps|U_ulLnnqC_mqNvxq`@"

func TestApplyMigrationsBackfillsRouteBounds(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := database.AutoMigrate(&routes.Route{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	legacy := []routes.Route{
		{ID: 1, UserID: 5, StartDate: time.Unix(1700000000, 0).UTC(), Polyline: samplePolyline},
		{ID: 2, UserID: 5, StartDate: time.Unix(1700000100, 0).UTC(), Polyline: "~"},
		{ID: 3, UserID: 5, StartDate: time.Unix(1700000200, 0).UTC(), Polyline: samplePolyline, Bounds: "0.0,0.0,1.0,1.0"},
	}
	if err := database.Create(&legacy).Error; err != nil {
		testContext.Fatalf("failed to insert routes: %v", err)
	}

	core, logs := observer.New(zapcore.WarnLevel)
	if err := applyMigrations(database, zap.New(core)); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var stored []routes.Route
	if err := database.Order("id ASC").Find(&stored).Error; err != nil {
		testContext.Fatalf("failed to reload routes: %v", err)
	}
	if stored[0].Bounds != "38.5,-126.453,43.252,-120.2" {
		testContext.Fatalf("unexpected backfilled bounds %q", stored[0].Bounds)
	}
	if stored[1].Bounds != "" {
		testContext.Fatalf("expected undecodable route to keep empty bounds, got %q", stored[1].Bounds)
	}
	if stored[2].Bounds != "0.0,0.0,1.0,1.0" {
		testContext.Fatalf("expected existing bounds to be untouched, got %q", stored[2].Bounds)
	}
	if logs.FilterMessage("route bounds not computed").Len() != 1 {
		testContext.Fatalf("expected one decode warning, got %d", logs.Len())
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationAddRouteBounds).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}

	if err := applyMigrations(database, zap.New(core)); err != nil {
		testContext.Fatalf("expected second run to be a no-op: %v", err)
	}
	if logs.FilterMessage("route bounds not computed").Len() != 1 {
		testContext.Fatalf("expected recorded migration to be skipped")
	}
}

func TestOpenSQLiteCreatesSchema(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "elmo.db")

	database, err := OpenSQLite(databasePath, zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}
	for _, model := range []interface{}{&users.User{}, &routes.Route{}, &migrationRecord{}} {
		if !database.Migrator().HasTable(model) {
			testContext.Fatalf("expected table for %T", model)
		}
	}

	if _, err := OpenSQLite("", nil); err == nil {
		testContext.Fatalf("expected error for empty path")
	}
}

func TestOpenSQLiteRejectsRoutesWithoutOwner(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "elmo.db")

	database, err := OpenSQLite(databasePath, zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}

	orphan := routes.Route{ID: 1, UserID: 99, StartDate: time.Unix(1700000000, 0).UTC()}
	if err := database.Create(&orphan).Error; err == nil {
		testContext.Fatalf("expected route without a stored user to be rejected")
	}

	owner := users.User{ID: 99, AccessToken: "a1", RefreshToken: "r1", ExpiresAt: 1800000000}
	if err := database.Create(&owner).Error; err != nil {
		testContext.Fatalf("failed to create user: %v", err)
	}
	if err := database.Create(&orphan).Error; err != nil {
		testContext.Fatalf("expected route for a stored user to be accepted: %v", err)
	}
	if err := database.Delete(&owner).Error; err == nil {
		testContext.Fatalf("expected deleting a user that owns routes to be rejected")
	}
}
