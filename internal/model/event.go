package model

import (
	"encoding/json"
	"time"
)

// Event is the live telemetry payload published to brokers.
type Event struct {
	Schema       string            `json:"schema"`
	TS           time.Time         `json:"ts"`
	Lap          int               `json:"lap"`
	Tick         int               `json:"tick"`
	Vehicle      EventVehicle      `json:"vehicle"`
	Position     EventPosition     `json:"position"`
	Dynamics     EventDynamics     `json:"dynamics"`
	Temperatures EventTemperatures `json:"temperatures"`
	Battery      EventBattery      `json:"battery"`
	Wear         EventWear         `json:"wear"`
	Risk         EventRisk         `json:"risk"`
}

type EventVehicle struct {
	Model   string `json:"model"`
	Session string `json:"session,omitempty"`
}

type EventPosition struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type EventDynamics struct {
	SpeedKph  float64 `json:"speed_kph"`
	AccelMps2 float64 `json:"accel_mps2"`
	DistanceM float64 `json:"distance_m"`
}

type EventTemperatures struct {
	BrakeC float64 `json:"brake_c"`
}

type EventBattery struct {
	SOCPct float64 `json:"soc_pct"`
}

type EventWear struct {
	BrakePadFrac float64 `json:"brake_pad_frac"`
	TireFrac     float64 `json:"tire_frac"`
}

type EventRisk struct {
	Score   float64  `json:"score"`
	Reasons []string `json:"reasons"`
	Failure string   `json:"failure,omitempty"`
}

// NewEvent builds the live payload for a tick record.
func NewEvent(vehicleModel, session string, r TickRecord) Event {
	reasons := r.Reasons
	if reasons == nil {
		reasons = []string{}
	}
	return Event{
		Schema:       SchemaVersion,
		TS:           r.Timestamp,
		Lap:          r.Lap,
		Tick:         r.Tick,
		Vehicle:      EventVehicle{Model: vehicleModel, Session: session},
		Position:     EventPosition{Lat: r.Lat, Lon: r.Lon},
		Dynamics:     EventDynamics{SpeedKph: r.SpeedKph, AccelMps2: r.AccelMps2, DistanceM: r.DistanceM},
		Temperatures: EventTemperatures{BrakeC: r.BrakeTemp},
		Battery:      EventBattery{SOCPct: r.BatterySOC},
		Wear:         EventWear{BrakePadFrac: r.BrakePad, TireFrac: r.TireWear},
		Risk:         EventRisk{Score: r.Risk, Reasons: reasons, Failure: r.Failure},
	}
}

// Marshal encodes the event as JSON.
func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// ParseEvent decodes a live payload.
func ParseEvent(data []byte) (Event, error) {
	var e Event
	err := json.Unmarshal(data, &e)
	return e, err
}
