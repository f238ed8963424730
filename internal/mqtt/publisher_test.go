package mqtt

import (
	"encoding/json"
	"testing"

	"github.com/mrcode/librelinkup-daemon/internal/models"
)

func TestPublisher_TopicLayout(t *testing.T) {
	p := &Publisher{base: "librelinkup", device: "abc-123"}

	if got := p.topic(dataSubtopic); got != "librelinkup/abc-123/data" {
		t.Errorf("data topic = %s, want librelinkup/abc-123/data", got)
	}
	if got := p.topic(alertSubtopic); got != "librelinkup/abc-123/alert" {
		t.Errorf("alert topic = %s, want librelinkup/abc-123/alert", got)
	}
}

func TestSnapshotPayload(t *testing.T) {
	snap := models.Snapshot{
		Glucose:         123,
		TrendArrow:      3,
		TrendSymbol:     "→",
		Delta:           -2,
		Timestamp:       1741946100,
		SensorState:     "ready",
		SensorDays:      13,
		TimestampStatus: "valid",
	}

	payload, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["glucoseMeasurement"] != float64(123) {
		t.Errorf("glucoseMeasurement = %v, want 123", decoded["glucoseMeasurement"])
	}
	if decoded["sensorState"] != "ready" {
		t.Errorf("sensorState = %v, want ready", decoded["sensorState"])
	}
	if _, ok := decoded["trendMessage"]; ok {
		t.Error("empty trendMessage should be omitted")
	}
}

func TestAlertPayload(t *testing.T) {
	payload, err := json.Marshal(alertPayload{
		Alert:     "urgent_low",
		Message:   "Glucose is critically low: 50 mg/dL ↓",
		Timestamp: 1741946100,
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded alertPayload
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Alert != "urgent_low" {
		t.Errorf("Alert = %s, want urgent_low", decoded.Alert)
	}
}
