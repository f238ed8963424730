// Package dailylog persists glucose samples to per-calendar-day JSON
// files for multi-day statistics.
//
// Each file is a JSON array of {"timestamp", "glucose"} objects named
// after the sample's calendar date (2006-01-02.json). Files are
// capacity-bounded: once full, the oldest entry is evicted before a new
// one is appended.
package dailylog

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang/glog"
)

// MaxEntries bounds the number of samples per daily file
const MaxEntries = 300

// Entry is one persisted glucose sample
type Entry struct {
	Timestamp int64  `json:"timestamp"`
	Glucose   uint16 `json:"glucose"`
}

// Store manages the daily log files in a single directory
type Store struct {
	dir string
	max int
}

// NewStore creates a store rooted at dir, creating the directory if
// needed
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("creating log directory %s: %w", dir, err)
	}
	return &Store{dir: dir, max: MaxEntries}, nil
}

// FilenameFor returns the daily file name for a sample timestamp. The
// active day is derived solely from the sample's calendar date, so a
// sample written just before midnight lands in the file of the day it
// was measured.
func FilenameFor(ts int64) string {
	return time.Unix(ts, 0).Format("2006-01-02") + ".json"
}

// dateFromFilename parses the calendar date out of a daily file name.
// Non-date-named files (config.json, settings.json) report ok=false.
func dateFromFilename(name string) (time.Time, bool) {
	base := strings.TrimSuffix(filepath.Base(name), ".json")
	t, err := time.ParseInLocation("2006-01-02", base, time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Append stores a sample in the file for its calendar day. A value equal
// to the immediately preceding entry is skipped; a full file evicts its
// oldest entry first.
func (s *Store) Append(ts int64, glucose uint16) error {
	name := FilenameFor(ts)
	entries, err := s.Entries(name)
	if err != nil {
		return err
	}

	if n := len(entries); n > 0 && entries[n-1].Glucose == glucose {
		glog.V(1).Infof("dailylog: value %d equals last entry, skipping", glucose)
		return nil
	}

	if len(entries) >= s.max {
		entries = entries[1:]
	}
	entries = append(entries, Entry{Timestamp: ts, Glucose: glucose})

	return s.write(name, entries)
}

// Entries reads the named daily file. A missing file yields an empty
// slice.
func (s *Store) Entries(name string) ([]Entry, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, filepath.Base(name))) //nolint:gosec // confined to the store dir
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", name, err)
	}
	return entries, nil
}

func (s *Store) write(name string, entries []Entry) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	glog.V(1).Infof("dailylog: saved %s with %d entries", name, len(entries))
	return nil
}

// Files lists the date-named log files in the store directory
func (s *Store) Files() ([]string, error) {
	dirents, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, d := range dirents {
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".json") {
			continue
		}
		if _, ok := dateFromFilename(d.Name()); !ok {
			continue
		}
		names = append(names, d.Name())
	}
	return names, nil
}

// MeanFromFile computes the mean glucose over the named file, or over
// all date-named files for name "*". The count is returned alongside:
// a mean of 0 with count 0 means "no data", not a zero reading.
func (s *Store) MeanFromFile(name string) (float64, int, error) {
	var names []string
	if name == "*" {
		all, err := s.Files()
		if err != nil {
			return 0, 0, err
		}
		names = all
	} else {
		names = []string{name}
	}

	var sum int64
	count := 0
	for _, n := range names {
		fileSum, fileCount, err := s.sumFile(n)
		if err != nil {
			return 0, 0, err
		}
		sum += fileSum
		count += fileCount
	}

	if count == 0 {
		return 0, 0, nil
	}
	return float64(sum) / float64(count), count, nil
}

// MeanTrailing7Days computes the mean glucose over the files whose date
// is between now and seven days back, inclusive
func (s *Store) MeanTrailing7Days(now time.Time) (float64, int, error) {
	names, err := s.Files()
	if err != nil {
		return 0, 0, err
	}

	// Compare calendar dates, not instants, so a file from exactly seven
	// days ago still counts regardless of the time of day.
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.Local)

	var sum int64
	count := 0
	for _, n := range names {
		date, ok := dateFromFilename(n)
		if !ok {
			continue
		}
		diffDays := int(math.Round(today.Sub(date).Hours() / 24))
		if diffDays < 0 || diffDays > 7 {
			glog.V(1).Infof("dailylog: ignoring %s (%d days old)", n, diffDays)
			continue
		}
		fileSum, fileCount, err := s.sumFile(n)
		if err != nil {
			return 0, 0, err
		}
		sum += fileSum
		count += fileCount
	}

	if count == 0 {
		glog.V(1).Info("dailylog: no glucose data in the last 7 days")
		return 0, 0, nil
	}
	return float64(sum) / float64(count), count, nil
}

func (s *Store) sumFile(name string) (int64, int, error) {
	entries, err := s.Entries(name)
	if err != nil {
		return 0, 0, err
	}
	var sum int64
	for _, e := range entries {
		sum += int64(e.Glucose)
	}
	return sum, len(entries), nil
}
