package model

import (
	"time"

	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

////////////////////////
// DATABASE STRUCTURES //
////////////////////////

// DatabaseModels is a list of all the structs exported here which represent tables in the database schema
var DatabaseModels = []interface{}{
	&Session{},
	&TickState{},
	&LapSummary{},
}

// Session is one simulator run
type Session struct {
	gorm.Model
	VehicleModel  string         `json:"vehicleModel" gorm:"size:127;index:idx_session_vehicle"`
	StartTime     time.Time      `json:"startTime" gorm:"index:idx_session_start"`
	EndTime       *time.Time     `json:"endTime"`
	Seed          int64          `json:"seed"`
	StopReason    string         `json:"stopReason" gorm:"size:64"`
	SchemaVersion string         `json:"schemaVersion" gorm:"size:64"`
	Profile       datatypes.JSON `json:"profile"` // full vehicle profile used for the run
	TickStates    []TickState
	LapSummaries  []LapSummary
}

func (*Session) TableName() string {
	return "sessions"
}

// TickState is one persisted simulation tick
type TickState struct {
	ID        uint      `json:"id" gorm:"primarykey;autoIncrement;"`
	Time      time.Time `json:"time" gorm:"index:idx_tickstate_time"`
	SessionID uint      `json:"sessionId" gorm:"index:idx_tickstate_session_id"`
	Session   Session   `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:SessionID;"`
	Lap       int       `json:"lap" gorm:"index:idx_tickstate_lap"`
	Tick      int       `json:"tick"`

	Position   geom.Point     `json:"position"` // lon/lat
	SpeedKph   float32        `json:"speedKph"`
	AccelMps2  float32        `json:"accelMps2"`
	DistanceM  float64        `json:"distanceM"`
	BatterySOC float32        `json:"batterySoc"`
	BrakePad   float32        `json:"brakePad"`
	BrakeTemp  float32        `json:"brakeTemp"`
	TireWear   float32        `json:"tireWear"`
	Risk       float32        `json:"risk"`
	Reasons    datatypes.JSON `json:"reasons"`
	Failure    string         `json:"failure" gorm:"size:32"`
}

func (*TickState) TableName() string {
	return "tick_states"
}

// LapSummary is one completed lap
type LapSummary struct {
	ID           uint      `json:"id" gorm:"primarykey;autoIncrement;"`
	Time         time.Time `json:"time"`
	SessionID    uint      `json:"sessionId" gorm:"uniqueIndex:idx_lapsummary_session_lap"`
	Session      Session   `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:SessionID;"`
	Lap          int       `json:"lap" gorm:"uniqueIndex:idx_lapsummary_session_lap"`
	LapTimeSec   float64   `json:"lapTimeSec"`
	SpeedMean    float64   `json:"speedMean"`
	SpeedMax     float64   `json:"speedMax"`
	BrakeTempMax float64   `json:"brakeTempMax"`
	SOCDrop      float64   `json:"socDrop"`
	PadWear      float64   `json:"padWear"`
	Ticks        int       `json:"ticks"`
}

func (*LapSummary) TableName() string {
	return "lap_summaries"
}
