// Package models contains data structures used throughout the application
package models

import "time"

// Trend arrow codes as delivered by the LibreLinkUp API (TrendArrow field).
const (
	TrendNone      = 0 // no data
	TrendDown      = 1
	TrendDownRight = 2
	TrendFlat      = 3
	TrendUpRight   = 4
	TrendUp        = 5
)

// GlucoseReading represents the current glucose measurement reported by the
// LibreLinkUp API. One instance is live at any time; it is overwritten on
// every poll cycle.
type GlucoseReading struct {
	Value            int    // mg/dL, 0-999
	TrendArrow       int    // trend code, see Trend* constants
	MeasurementColor int    // display hint from the API (1=green .. 4=red)
	TrendMessage     string // free text, may be empty or "null"
	Timestamp        string // raw server timestamp, "M/D/YYYY h:mm:ss AM|PM"
	Epoch            int64  // parsed timestamp, -1 if unparsable
}

// TrendSymbol returns the arrow character for the trend code
func (r *GlucoseReading) TrendSymbol() string {
	switch r.TrendArrow {
	case TrendDown:
		return "↓"
	case TrendDownRight:
		return "↘"
	case TrendFlat:
		return "→"
	case TrendUpRight:
		return "↗"
	case TrendUp:
		return "↑"
	}
	return "no Data"
}

// HasTrendMessage reports whether the API supplied a usable trend message.
// The API sends the literal string "null" when there is none.
func (r *GlucoseReading) HasTrendMessage() bool {
	return r.TrendMessage != "" && r.TrendMessage != "null"
}

// Time returns the reading time, or the zero time if the timestamp could
// not be parsed
func (r *GlucoseReading) Time() time.Time {
	if r.Epoch <= 0 {
		return time.Time{}
	}
	return time.Unix(r.Epoch, 0)
}

// Thresholds contains the glucose target range and alarm values reported
// by the API for the connection
type Thresholds struct {
	TargetLow  int `json:"targetLow"`
	TargetHigh int `json:"targetHigh"`
	AlarmLow   int `json:"alarmLow"`
	AlarmHigh  int `json:"alarmHigh"`
	FixedLow   int `json:"fixedLow"`
}

// Snapshot is the read-only state published after each update cycle for
// external consumers (MQTT, alerting, status queries).
type Snapshot struct {
	Glucose          int    `json:"glucoseMeasurement"`
	TrendArrow       int    `json:"trendArrow"`
	TrendSymbol      string `json:"trendSymbol"`
	Delta            int    `json:"delta"`
	MeasurementColor int    `json:"measurementColor"`
	TrendMessage     string `json:"trendMessage,omitempty"`
	Timestamp        int64  `json:"timestamp"`
	SensorState      string `json:"sensorState"`
	SensorDays       int    `json:"sensorValidDays"`
	SensorHours      int    `json:"sensorValidHours"`
	SensorMinutes    int    `json:"sensorValidMinutes"`
	SensorSeconds    int    `json:"sensorValidSeconds"`
	TimestampStatus  string `json:"timestampStatus"`
}
