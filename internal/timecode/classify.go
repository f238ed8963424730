package timecode

import (
	"time"

	"github.com/golang/glog"
)

// Validity is the outcome of checking a server timestamp against the
// local device clock
type Validity uint8

const (
	TimecodeError      Validity = iota // unparsable server timestamp
	TimecodeValid                      // same day, drift within the timeout
	TimecodeOutOfRange                 // drift exceeds the timeout or day mismatch
	SensorNotActive                    // all-zero sentinel, no active reading upstream
	LocalTimeError                     // device clock unavailable
	Unclassified                       // none of the above; callers must treat as non-valid
)

func (v Validity) String() string {
	switch v {
	case TimecodeError:
		return "error"
	case TimecodeValid:
		return "valid"
	case TimecodeOutOfRange:
		return "out_of_range"
	case SensorNotActive:
		return "not_active"
	case LocalTimeError:
		return "local_time_error"
	}
	return "unclassified"
}

// SensorTimeout is the maximum accepted difference between the local
// millisecond-of-day and the server reading's millisecond-of-day.
const SensorTimeout = 120000 * time.Millisecond

// Clock supplies the local wall-clock time. Now reports false when no
// reliable time is available (NTP sync has not completed yet).
type Clock interface {
	Now() (time.Time, bool)
}

type systemClock struct{}

func (systemClock) Now() (time.Time, bool) {
	t := time.Now()
	// An unsynchronized embedded clock sits near the epoch.
	return t, t.Year() >= 2016
}

// SystemClock reads the operating system clock
var SystemClock Clock = systemClock{}

// Classifier compares server timestamps against local time shifted by a
// configured timezone offset
type Classifier struct {
	clock    Clock
	tzOffset int
	timeout  time.Duration
}

// NewClassifier creates a Classifier. tzOffset is the configured timezone
// offset in hours applied to the local clock before comparison.
func NewClassifier(clock Clock, tzOffset int) *Classifier {
	return &Classifier{
		clock:    clock,
		tzOffset: tzOffset,
		timeout:  SensorTimeout,
	}
}

// Classify checks the raw server timestamp for the latest reading. The
// returned skew is serverMs - localMs (millisecond of day) and is only
// meaningful when the validity is TimecodeValid; it feeds the poll
// schedule correction.
func (c *Classifier) Classify(raw string) (Validity, time.Duration) {
	now, ok := c.clock.Now()
	if !ok {
		glog.Warning("timecode: failed to obtain local time")
		return LocalTimeError, 0
	}

	day := now.Day()
	hour := now.Hour() + c.tzOffset
	// Hour overflow bumps the day-of-month without month rollover. Kept
	// bug-compatible with the original device firmware; see DESIGN.md.
	if hour == 24 {
		hour = 0
		day++
	}

	tc, err := Parse(raw)
	if err != nil {
		glog.V(1).Infof("timecode: %v", err)
		return TimecodeError, 0
	}

	if tc.IsZero() {
		glog.V(1).Info("timecode: all-zero server timestamp, no active reading")
		return SensorNotActive, 0
	}

	localMs := millisOfDay(hour, now.Minute(), now.Second())
	serverMs := tc.MillisOfDay()
	diff := localMs - serverMs
	skew := time.Duration(serverMs-localMs) * time.Millisecond

	switch {
	case day > tc.Day || diff > c.timeout.Milliseconds():
		glog.V(1).Infof("timecode: local-server difference %dms out of range", diff)
		return TimecodeOutOfRange, 0
	case day == tc.Day && diff <= c.timeout.Milliseconds():
		return TimecodeValid, skew
	}

	return Unclassified, 0
}
