// Package geo maps distance along the lap to a GPS position.
//
// Track geometry is built and interpolated in EPSG:3857 so that distances are
// (locally) metric, then converted back to EPSG:4326 for output.
package geo

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/uvtwin/telemetry-sim/internal/config"
	"github.com/wroge/wgs84"
)

// ErrInvalidCoordinates is returned when the coordinates are invalid
var ErrInvalidCoordinates = errors.New("invalid coordinates provided")

// segmentsPerTurn is the number of straight segments approximating each
// semicircular end of the oval.
const segmentsPerTurn = 48

// Track is a closed circuit with a fixed nominal lap length.
type Track struct {
	line      geom.LineString
	lapLength float64
	toWGS84   func(a, b, c float64) (float64, float64, float64)
}

// ParseLatLon parses "lat,lon" into a validated coordinate pair.
func ParseLatLon(s string) (lat, lon float64, err error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return 0, 0, ErrInvalidCoordinates
	}
	lat, err = strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, ErrInvalidCoordinates
	}
	lon, err = strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, ErrInvalidCoordinates
	}
	if err := validate(lat, lon); err != nil {
		return 0, 0, err
	}
	return lat, lon, nil
}

func validate(lat, lon float64) error {
	// web mercator is undefined at the poles
	if math.IsNaN(lat) || math.IsNaN(lon) || lat < -85 || lat > 85 || lon < -180 || lon > 180 {
		return fmt.Errorf("%w: lat=%v lon=%v", ErrInvalidCoordinates, lat, lon)
	}
	return nil
}

// NewTrack builds the circuit described by the profile: the configured
// polyline when present, otherwise an oval at the track origin.
func NewTrack(cfg *config.Config) (*Track, error) {
	if cfg.Track.Polyline != "" {
		ls, err := ParsePolyline(cfg.Track.Polyline)
		if err != nil {
			return nil, err
		}
		return NewPolylineTrack(ls, cfg.LapLengthM)
	}
	return NewOvalTrack(cfg.Track.OriginLat, cfg.Track.OriginLon, cfg.LapLengthM)
}

// NewOvalTrack builds a stadium-shaped circuit of the given length whose start
// line sits at the origin. The straights are twice the turn radius.
func NewOvalTrack(originLat, originLon, lapLength float64) (*Track, error) {
	if err := validate(originLat, originLon); err != nil {
		return nil, err
	}
	if lapLength <= 0 {
		return nil, fmt.Errorf("lap length must be positive, got %v", lapLength)
	}

	epsg := wgs84.EPSG()
	ox, oy, _ := epsg.Transform(4326, 3857)(originLon, originLat, 0)
	// mercator metres per ground metre at this latitude
	scale := 1 / math.Cos(originLat*math.Pi/180)

	r := lapLength / (4 + 2*math.Pi)
	straight := 2 * r

	// local frame: start line at (0,0), first straight heads east
	local := make([]float64, 0, (2*segmentsPerTurn+4)*2)
	add := func(x, y float64) {
		local = append(local, ox+x*scale, oy+y*scale)
	}
	add(0, 0)
	add(straight/2, 0)
	for i := 1; i <= segmentsPerTurn; i++ {
		a := -math.Pi/2 + math.Pi*float64(i)/segmentsPerTurn
		add(straight/2+r*math.Cos(a), r+r*math.Sin(a))
	}
	add(-straight/2, 2*r)
	for i := 1; i <= segmentsPerTurn; i++ {
		a := math.Pi/2 + math.Pi*float64(i)/segmentsPerTurn
		add(-straight/2+r*math.Cos(a), r+r*math.Sin(a))
	}
	add(0, 0)

	line, err := geom.NewLineString(geom.NewSequence(local, geom.DimXY))
	if err != nil {
		return nil, fmt.Errorf("build oval outline: %w", err)
	}
	return &Track{
		line:      line,
		lapLength: lapLength,
		toWGS84:   epsg.Transform(3857, 4326),
	}, nil
}

// NewPolylineTrack builds a circuit from a lon/lat polyline. The ring is
// closed if the last point differs from the first.
func NewPolylineTrack(lonLat geom.LineString, lapLength float64) (*Track, error) {
	if lapLength <= 0 {
		return nil, fmt.Errorf("lap length must be positive, got %v", lapLength)
	}
	seq := lonLat.Coordinates()
	if seq.Length() < 2 {
		return nil, fmt.Errorf("track polyline needs at least 2 points, got %d", seq.Length())
	}

	epsg := wgs84.EPSG()
	to3857 := epsg.Transform(4326, 3857)

	flat := make([]float64, 0, (seq.Length()+1)*2)
	for i := 0; i < seq.Length(); i++ {
		xy := seq.GetXY(i)
		if err := validate(xy.Y, xy.X); err != nil {
			return nil, err
		}
		x, y, _ := to3857(xy.X, xy.Y, 0)
		flat = append(flat, x, y)
	}
	if first, last := seq.GetXY(0), seq.GetXY(seq.Length()-1); first != last {
		flat = append(flat, flat[0], flat[1])
	}

	line, err := geom.NewLineString(geom.NewSequence(flat, geom.DimXY))
	if err != nil {
		return nil, fmt.Errorf("build track outline: %w", err)
	}
	return &Track{
		line:      line,
		lapLength: lapLength,
		toWGS84:   epsg.Transform(3857, 4326),
	}, nil
}

// LapLength returns the nominal lap length in metres.
func (t *Track) LapLength() float64 {
	return t.lapLength
}

// Position returns lat/lon for a distance into the lap. The distance is
// mapped proportionally onto the track outline, so the result is the same for
// the same input.
func (t *Track) Position(distanceInLap float64) (lat, lon float64) {
	f := distanceInLap / t.lapLength
	f -= math.Floor(f)
	if math.IsNaN(f) {
		f = 0
	}
	pt := t.line.InterpolatePoint(f)
	c, ok := pt.Coordinates()
	if !ok {
		return 0, 0
	}
	lon, lat, _ = t.toWGS84(c.X, c.Y, 0)
	return lat, lon
}
