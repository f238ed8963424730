// Package alerts evaluates glucose readings against the configured
// thresholds and dispatches alert messages
package alerts

import (
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/mrcode/librelinkup-daemon/internal/models"
)

// Alert type constants
const (
	alertUrgentLow  = "urgent_low"
	alertLow        = "low"
	alertUrgentHigh = "urgent_high"
	alertHigh       = "high"
)

// Notifier delivers an alert message to an external channel
type Notifier interface {
	Notify(alertType, message string) error
}

// Manager checks readings against thresholds and rate-limits the
// resulting alerts
type Manager struct {
	settings      *models.Settings
	notifiers     []Notifier
	lastAlertTime map[string]time.Time
	mu            sync.Mutex
}

// NewManager creates a new alert manager
func NewManager(settings *models.Settings, notifiers ...Notifier) *Manager {
	return &Manager{
		settings:      settings,
		notifiers:     notifiers,
		lastAlertTime: make(map[string]time.Time),
	}
}

// UpdateSettings updates the settings reference
func (m *Manager) UpdateSettings(settings *models.Settings) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = settings
}

// Check evaluates a glucose value and dispatches an alert if its status
// warrants one. Alerts of the same type repeat at most every
// RepeatAlertMinutes; with repeats disabled each type fires once until
// cleared.
func (m *Manager) Check(value int, trendSymbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	alertType := m.shouldAlert(m.settings.GetGlucoseStatus(value))
	if alertType == "" {
		return nil
	}

	if lastTime, ok := m.lastAlertTime[alertType]; ok {
		if m.settings.RepeatAlertMinutes > 0 {
			repeatDuration := time.Duration(m.settings.RepeatAlertMinutes) * time.Minute
			if time.Since(lastTime) < repeatDuration {
				return nil
			}
		} else {
			return nil
		}
	}

	message := formatAlert(alertType, value, trendSymbol)
	glog.Warningf("glucose alert (%s): %s", alertType, message)

	var firstErr error
	for _, n := range m.notifiers {
		if err := n.Notify(alertType, message); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return firstErr
	}

	m.lastAlertTime[alertType] = time.Now()
	return nil
}

// shouldAlert maps a glucose status to an alert type, honoring the
// per-type enable flags
func (m *Manager) shouldAlert(status string) string {
	switch status {
	case alertUrgentLow:
		if m.settings.EnableUrgentLowAlert {
			return alertUrgentLow
		}
	case alertLow:
		if m.settings.EnableLowAlert {
			return alertLow
		}
	case alertUrgentHigh:
		if m.settings.EnableUrgentHighAlert {
			return alertUrgentHigh
		}
	case alertHigh:
		if m.settings.EnableHighAlert {
			return alertHigh
		}
	}
	return ""
}

// formatAlert creates the alert message text
func formatAlert(alertType string, value int, trendSymbol string) string {
	valueStr := fmt.Sprintf("%d mg/dL", value)

	switch alertType {
	case alertUrgentLow:
		return fmt.Sprintf("Glucose is critically low: %s %s", valueStr, trendSymbol)
	case alertLow:
		return fmt.Sprintf("Glucose is low: %s %s", valueStr, trendSymbol)
	case alertUrgentHigh:
		return fmt.Sprintf("Glucose is critically high: %s %s", valueStr, trendSymbol)
	case alertHigh:
		return fmt.Sprintf("Glucose is high: %s %s", valueStr, trendSymbol)
	}
	return ""
}

// ClearAlertState clears the alert state for a specific type, or all
// types when alertType is empty
func (m *Manager) ClearAlertState(alertType string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if alertType == "" {
		m.lastAlertTime = make(map[string]time.Time)
	} else {
		delete(m.lastAlertTime, alertType)
	}
}
