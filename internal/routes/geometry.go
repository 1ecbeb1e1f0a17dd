package routes

import (
	"strconv"
	"strings"

	polyline "github.com/twpayne/go-polyline"
)

// Point is a latitude/longitude pair.
type Point struct {
	Lat float64
	Lon float64
}

// DecodePath decodes an encoded polyline into its ordered points.
func DecodePath(encoded string) ([]Point, error) {
	if encoded == "" {
		return nil, nil
	}
	coords, _, err := polyline.DecodeCoords([]byte(encoded))
	if err != nil {
		return nil, err
	}
	points := make([]Point, 0, len(coords))
	for _, coord := range coords {
		if len(coord) < 2 {
			continue
		}
		points = append(points, Point{Lat: coord[0], Lon: coord[1]})
	}
	return points, nil
}

// ComputeBounds renders the bounding box of a path as "minLat,minLon,maxLat,maxLon".
// An empty path yields an empty string.
func ComputeBounds(path []Point) string {
	if len(path) == 0 {
		return ""
	}
	minLat, minLon := path[0].Lat, path[0].Lon
	maxLat, maxLon := minLat, minLon
	for _, point := range path[1:] {
		minLat = min(minLat, point.Lat)
		maxLat = max(maxLat, point.Lat)
		minLon = min(minLon, point.Lon)
		maxLon = max(maxLon, point.Lon)
	}
	return strings.Join([]string{
		formatCoordinate(minLat),
		formatCoordinate(minLon),
		formatCoordinate(maxLat),
		formatCoordinate(maxLon),
	}, ",")
}

// BoundsFromPolyline decodes an encoded polyline and computes its bounds.
func BoundsFromPolyline(encoded string) (string, error) {
	path, err := DecodePath(encoded)
	if err != nil {
		return "", err
	}
	return ComputeBounds(path), nil
}

// formatCoordinate prints the shortest round-trip decimal and keeps a trailing ".0"
// on integral values so 1 renders as "1.0".
func formatCoordinate(value float64) string {
	formatted := strconv.FormatFloat(value, 'g', -1, 64)
	if !strings.ContainsAny(formatted, ".e") {
		formatted += ".0"
	}
	return formatted
}
