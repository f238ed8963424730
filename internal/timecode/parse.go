// Package timecode parses LibreLinkUp timestamp strings and classifies
// them against the local device clock.
package timecode

import (
	"fmt"
	"strings"
	"time"
)

// EpochInvalid is returned by Epoch when the timecode cannot be converted.
const EpochInvalid int64 = -1

// Timecode holds the fields of a LibreLinkUp API timestamp after the
// 12-hour clock has been folded into 24-hour form.
type Timecode struct {
	Month  int
	Day    int
	Year   int
	Hour   int
	Minute int
	Second int
}

// IsZero reports whether every field is zero. The API sends an all-zero
// timestamp when the account has no active reading.
func (tc Timecode) IsZero() bool {
	return tc.Month == 0 && tc.Day == 0 && tc.Year == 0 &&
		tc.Hour == 0 && tc.Minute == 0 && tc.Second == 0
}

// Epoch converts the timecode to epoch seconds in local-naive
// interpretation. No timezone conversion is applied; the caller owns
// timezone reconciliation.
func (tc Timecode) Epoch() int64 {
	if tc.Year == 0 {
		return EpochInvalid
	}
	t := time.Date(tc.Year, time.Month(tc.Month), tc.Day,
		tc.Hour, tc.Minute, tc.Second, 0, time.Local)
	return t.Unix()
}

// MillisOfDay returns the absolute millisecond of day for the timecode's
// clock fields
func (tc Timecode) MillisOfDay() int64 {
	return millisOfDay(tc.Hour, tc.Minute, tc.Second)
}

func millisOfDay(hours, minutes, seconds int) int64 {
	return (int64(hours)*3600 + int64(minutes)*60 + int64(seconds)) * 1000
}

// Parse parses a vendor timestamp of the form "M/D/YYYY h:mm:ss AM|PM".
// The AM/PM marker is stripped before structural parsing and the 12-hour
// hour is folded afterwards: PM adds 12 unless the hour is 12, AM forces
// hour 12 to 0. A missing marker leaves the parsed hour untouched, which
// covers the all-zero "no active reading" sentinel.
func Parse(s string) (Timecode, error) {
	var tc Timecode

	trimmed := strings.TrimSpace(s)

	meridian := ""
	switch {
	case strings.HasSuffix(trimmed, "PM"):
		meridian = "PM"
	case strings.HasSuffix(trimmed, "AM"):
		meridian = "AM"
	}
	if meridian != "" {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, meridian))
	}

	n, err := fmt.Sscanf(trimmed, "%d/%d/%d %d:%d:%d",
		&tc.Month, &tc.Day, &tc.Year, &tc.Hour, &tc.Minute, &tc.Second)
	if err != nil || n != 6 {
		return Timecode{}, fmt.Errorf("parsing timestamp %q", s)
	}

	if meridian == "PM" && tc.Hour != 12 {
		tc.Hour += 12
	} else if meridian == "AM" && tc.Hour == 12 {
		tc.Hour = 0
	}

	return tc, nil
}

// ParseEpoch parses a vendor timestamp straight to epoch seconds,
// returning EpochInvalid on failure
func ParseEpoch(s string) int64 {
	tc, err := Parse(s)
	if err != nil {
		return EpochInvalid
	}
	return tc.Epoch()
}
