package geo

import (
	"errors"
	"math"
	"testing"

	"github.com/uvtwin/telemetry-sim/internal/config"
)

// haversine returns the great-circle distance in metres.
func haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const r = 6371000.0
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * r * math.Asin(math.Sqrt(a))
}

func TestParseLatLon_Valid(t *testing.T) {
	lat, lon, err := ParseLatLon("37.42198, -122.084")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lat != 37.42198 {
		t.Errorf("expected lat=37.42198, got %f", lat)
	}
	if lon != -122.084 {
		t.Errorf("expected lon=-122.084, got %f", lon)
	}
}

func TestParseLatLon_Invalid(t *testing.T) {
	for _, in := range []string{"", "37.4", "abc,1", "1,abc", "91,0", "0,181", "1,2,3"} {
		if _, _, err := ParseLatLon(in); !errors.Is(err, ErrInvalidCoordinates) {
			t.Errorf("ParseLatLon(%q): expected ErrInvalidCoordinates, got %v", in, err)
		}
	}
}

func TestOvalTrack_StartsAtOrigin(t *testing.T) {
	tr, err := NewOvalTrack(37.42198, -122.084, 5300)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	lat, lon := tr.Position(0)
	if d := haversine(lat, lon, 37.42198, -122.084); d > 0.01 {
		t.Errorf("start position %f,%f is %.3f m from origin", lat, lon, d)
	}

	lat, lon = tr.Position(5300)
	if d := haversine(lat, lon, 37.42198, -122.084); d > 0.01 {
		t.Errorf("full lap position is %.3f m from origin", d)
	}
}

func TestOvalTrack_Deterministic(t *testing.T) {
	tr, err := NewOvalTrack(48.1, 11.5, 4000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, d := range []float64{0, 12.5, 1000, 2999.9, 3999} {
		lat1, lon1 := tr.Position(d)
		lat2, lon2 := tr.Position(d)
		if lat1 != lat2 || lon1 != lon2 {
			t.Errorf("Position(%v) not deterministic", d)
		}
	}
}

func TestOvalTrack_GroundDistance(t *testing.T) {
	const length = 5300.0
	tr, err := NewOvalTrack(37.42198, -122.084, length)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// walking the lap in small steps should cover roughly the lap length
	var total float64
	prevLat, prevLon := tr.Position(0)
	for d := 10.0; d <= length; d += 10 {
		lat, lon := tr.Position(d)
		total += haversine(prevLat, prevLon, lat, lon)
		prevLat, prevLon = lat, lon
	}
	if math.Abs(total-length)/length > 0.01 {
		t.Errorf("expected ground distance ~%v, got %v", length, total)
	}
}

func TestOvalTrack_InvalidOrigin(t *testing.T) {
	if _, err := NewOvalTrack(89.9, 0, 1000); !errors.Is(err, ErrInvalidCoordinates) {
		t.Errorf("expected ErrInvalidCoordinates, got %v", err)
	}
	if _, err := NewOvalTrack(0, 0, 0); err == nil {
		t.Error("expected error for zero lap length")
	}
}

func TestNewTrack_FromPolyline(t *testing.T) {
	cfg := config.Reference()
	cfg.Track.Polyline = "[[11.0,48.0],[11.01,48.0],[11.01,48.01],[11.0,48.01]]"

	tr, err := NewTrack(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	lat, lon := tr.Position(0)
	if math.Abs(lat-48.0) > 1e-9 || math.Abs(lon-11.0) > 1e-9 {
		t.Errorf("expected start at 48,11, got %f,%f", lat, lon)
	}
	lat, lon = tr.Position(cfg.LapLengthM / 2)
	if math.Abs(lat-48.01) > 1e-6 || math.Abs(lon-11.01) > 1e-6 {
		t.Errorf("expected halfway at the opposite corner, got %f,%f", lat, lon)
	}
}

func TestNewTrack_DefaultsToOval(t *testing.T) {
	cfg := config.Reference()
	tr, err := NewTrack(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.LapLength() != cfg.LapLengthM {
		t.Errorf("expected lap length %v, got %v", cfg.LapLengthM, tr.LapLength())
	}
}
