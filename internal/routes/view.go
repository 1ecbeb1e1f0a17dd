package routes

import (
	"strconv"
)

// View is the JSON shape served to the front-end. StartDate is in epoch milliseconds
// and Path holds decoded [lat, lon] pairs.
type View struct {
	ID           string       `json:"id"`
	UserID       string       `json:"user_id"`
	Name         string       `json:"name"`
	StartDate    int64        `json:"start_date"`
	ElapsedTime  int64        `json:"elapsed_time"`
	MovingTime   int64        `json:"moving_time"`
	Distance     float64      `json:"distance"`
	AverageSpeed float64      `json:"average_speed"`
	Elevation    float64      `json:"elevation"`
	Path         [][2]float64 `json:"route"`
	Bounds       string       `json:"bounds"`
}

// NewView decodes the stored geometry and builds the serving representation.
func NewView(route Route) (View, error) {
	path, err := DecodePath(route.Polyline)
	if err != nil {
		return View{}, err
	}
	pairs := make([][2]float64, 0, len(path))
	for _, point := range path {
		pairs = append(pairs, [2]float64{point.Lat, point.Lon})
	}
	return View{
		ID:           strconv.FormatInt(route.ID, 10),
		UserID:       strconv.FormatInt(route.UserID, 10),
		Name:         route.Name,
		StartDate:    route.StartDate.UnixMilli(),
		ElapsedTime:  route.ElapsedTime,
		MovingTime:   route.MovingTime,
		Distance:     route.Distance,
		AverageSpeed: route.AverageSpeed,
		Elevation:    route.Elevation,
		Path:         pairs,
		Bounds:       route.Bounds,
	}, nil
}

// FeatureCollection is a GeoJSON feature collection of route line strings.
type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

// Feature is one GeoJSON feature.
type Feature struct {
	Type       string            `json:"type"`
	Geometry   LineString        `json:"geometry"`
	Properties FeatureProperties `json:"properties"`
}

// LineString holds GeoJSON positions, which are ordered [lon, lat].
type LineString struct {
	Type        string       `json:"type"`
	Coordinates [][2]float64 `json:"coordinates"`
}

type FeatureProperties struct {
	ID string `json:"id"`
}

// NewFeatureCollection projects routes into GeoJSON, swapping each point to [lon, lat].
func NewFeatureCollection(routes []Route) (FeatureCollection, error) {
	collection := FeatureCollection{Type: "FeatureCollection", Features: make([]Feature, 0, len(routes))}
	for _, route := range routes {
		path, err := DecodePath(route.Polyline)
		if err != nil {
			return FeatureCollection{}, err
		}
		coordinates := make([][2]float64, 0, len(path))
		for _, point := range path {
			coordinates = append(coordinates, [2]float64{point.Lon, point.Lat})
		}
		collection.Features = append(collection.Features, Feature{
			Type:       "Feature",
			Geometry:   LineString{Type: "LineString", Coordinates: coordinates},
			Properties: FeatureProperties{ID: strconv.FormatInt(route.ID, 10)},
		})
	}
	return collection, nil
}
