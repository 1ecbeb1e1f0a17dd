package routes

import (
	"time"

	"github.com/MarcoPoloResearchLab/elmo/internal/strava"
	"github.com/MarcoPoloResearchLab/elmo/internal/users"
)

const (
	metersPerKilometer = 1000.0
	msToKmh            = 3.6
)

// Route is the persisted, unit-normalized form of one upstream activity.
// Distance is stored in kilometers and AverageSpeed in km/h.
type Route struct {
	ID           int64     `gorm:"column:id;primaryKey;autoIncrement:false"`
	UserID       int64     `gorm:"column:user_id;not null;index:idx_routes_user_start,priority:1"`
	StartDate    time.Time `gorm:"column:start_date;not null;index:idx_routes_user_start,priority:2,sort:desc"`
	Name         string    `gorm:"column:name;size:255"`
	ElapsedTime  int64     `gorm:"column:elapsed_time;not null;default:0"`
	MovingTime   int64     `gorm:"column:moving_time;not null;default:0"`
	Distance     float64   `gorm:"column:distance;not null;default:0"`
	AverageSpeed float64   `gorm:"column:average_speed;not null;default:0"`
	Elevation    float64   `gorm:"column:elevation;not null;default:0"`
	Polyline     string    `gorm:"column:route;type:text"`
	Bounds       string    `gorm:"column:bounds;size:1000"`

	// User is never loaded; it only declares the user_id foreign key.
	User *users.User `gorm:"foreignKey:UserID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
}

// TableName provides the explicit table binding for GORM.
func (Route) TableName() string {
	return "routes"
}

// FromActivity maps an upstream activity owned by userID into a Route. Units are
// converted here and nowhere else. An undecodable polyline leaves Bounds empty.
func FromActivity(userID int64, record strava.ActivityRecord) Route {
	bounds, _ := BoundsFromPolyline(record.Map.SummaryPolyline)
	return Route{
		ID:           record.ID,
		UserID:       userID,
		StartDate:    record.StartDate.UTC(),
		Name:         record.Name,
		ElapsedTime:  record.ElapsedTime,
		MovingTime:   record.MovingTime,
		Distance:     record.Distance / metersPerKilometer,
		AverageSpeed: record.AverageSpeed * msToKmh,
		Elevation:    record.TotalElevationGain,
		Polyline:     record.Map.SummaryPolyline,
		Bounds:       bounds,
	}
}

// FromActivities maps a whole upstream page.
func FromActivities(userID int64, records []strava.ActivityRecord) []Route {
	mapped := make([]Route, 0, len(records))
	for _, record := range records {
		mapped = append(mapped, FromActivity(userID, record))
	}
	return mapped
}
