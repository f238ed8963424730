package models

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Settings contains all daemon settings, persisted as a JSON file next to
// the daily log data
type Settings struct {
	// LibreLinkUp account credentials
	Email    string `json:"email"`
	Password string `json:"password"`

	// API settings
	BaseURL        string `json:"baseUrl"`
	CAFile         string `json:"caFile"`         // PEM trust anchor, empty = system pool
	TimezoneOffset int    `json:"timezoneOffset"` // hours relative to device clock
	PollInterval   int    `json:"pollInterval"`   // seconds (30-600)

	// Storage
	DataDir string `json:"dataDir"` // daily log files live here

	// Glucose thresholds (mg/dL)
	TargetLow  int `json:"targetLow"`
	TargetHigh int `json:"targetHigh"`
	UrgentLow  int `json:"urgentLow"`
	UrgentHigh int `json:"urgentHigh"`

	// Alert settings
	EnableHighAlert       bool `json:"enableHighAlert"`
	EnableLowAlert        bool `json:"enableLowAlert"`
	EnableUrgentHighAlert bool `json:"enableUrgentHighAlert"`
	EnableUrgentLowAlert  bool `json:"enableUrgentLowAlert"`
	RepeatAlertMinutes    int  `json:"repeatAlertMinutes"` // 0 = no repeat

	// MQTT settings
	MQTTEnabled  bool   `json:"mqttEnabled"`
	MQTTBroker   string `json:"mqttBroker"` // e.g. "mqtt://192.168.0.202:1883"
	MQTTUsername string `json:"mqttUsername"`
	MQTTPassword string `json:"mqttPassword"`
	MQTTBase     string `json:"mqttBase"` // base topic

	// DeviceID identifies this device in MQTT topics and client IDs.
	// Generated on first load and persisted.
	DeviceID string `json:"deviceId"`
}

// DefaultSettings returns settings with default values
func DefaultSettings() *Settings {
	return &Settings{
		BaseURL:        "https://api.libreview.io",
		TimezoneOffset: 1,
		PollInterval:   60,

		DataDir: "data",

		TargetLow:  70,
		TargetHigh: 180,
		UrgentLow:  55,
		UrgentHigh: 250,

		EnableHighAlert:       true,
		EnableLowAlert:        true,
		EnableUrgentHighAlert: true,
		EnableUrgentLowAlert:  true,
		RepeatAlertMinutes:    15,

		MQTTBase: "librelinkup",
	}
}

// LoadSettings reads settings from path. A missing file yields defaults.
// A device ID is generated and written back if the file had none.
func LoadSettings(path string) (*Settings, error) {
	s := DefaultSettings()

	data, err := os.ReadFile(path) //nolint:gosec // path comes from the -config flag
	if err != nil {
		if os.IsNotExist(err) {
			s.DeviceID = uuid.NewString()
			return s, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parsing settings %s: %w", path, err)
	}

	if s.DeviceID == "" {
		s.DeviceID = uuid.NewString()
		if err := s.Save(path); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Save writes the settings to path
func (s *Settings) Save(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return err
		}
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// IsConfigured returns true if minimum required settings are set
func (s *Settings) IsConfigured() bool {
	return s.Email != "" && s.Password != ""
}

// GetGlucoseStatus returns the status string for a glucose value
func (s *Settings) GetGlucoseStatus(mgdl int) string {
	switch {
	case mgdl <= s.UrgentLow:
		return "urgent_low"
	case mgdl <= s.TargetLow:
		return "low"
	case mgdl >= s.UrgentHigh:
		return "urgent_high"
	case mgdl >= s.TargetHigh:
		return "high"
	default:
		return "normal"
	}
}
