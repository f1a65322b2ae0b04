package geo

import (
	"encoding/json"
	"fmt"
	"math"

	geom "github.com/peterstace/simplefeatures/geom"
)

// ParsePolyline decodes a track outline given as "[[lon,lat],...]". Points
// must be finite and lie within WGS84 bounds.
func ParsePolyline(input string) (geom.LineString, error) {
	var points [][]float64
	if err := json.Unmarshal([]byte(input), &points); err != nil {
		return geom.LineString{}, fmt.Errorf("decode track polyline: %w", err)
	}
	if len(points) < 2 {
		return geom.LineString{}, fmt.Errorf("%w: track polyline needs 2 points, has %d", ErrInvalidCoordinates, len(points))
	}

	flat := make([]float64, 0, 2*len(points))
	for i, p := range points {
		if len(p) != 2 || !validLonLat(p[0], p[1]) {
			return geom.LineString{}, fmt.Errorf("%w: track point %d is %v", ErrInvalidCoordinates, i, p)
		}
		flat = append(flat, p...)
	}
	ls, err := geom.NewLineString(geom.NewSequence(flat, geom.DimXY))
	if err != nil {
		return geom.LineString{}, fmt.Errorf("%w: %w", ErrInvalidCoordinates, err)
	}
	return ls, nil
}

func validLonLat(lon, lat float64) bool {
	if math.IsNaN(lon) || math.IsNaN(lat) {
		return false
	}
	return math.Abs(lon) <= 180 && math.Abs(lat) <= 90
}
