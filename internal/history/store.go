// Package history holds the fixed-capacity in-memory glucose history.
//
// The store is not a ring buffer: every successful graph fetch replaces
// the whole snapshot. The final slot is reserved for the just-polled live
// reading.
package history

// Capacity is the number of server-provided samples: 12 hours of
// 5-minute intervals. One extra slot holds the live reading.
const (
	Capacity = 141
	Size     = Capacity + 1
)

// Sample is one (timestamp, value) pair. The zero value marks an
// unpopulated slot.
type Sample struct {
	Timestamp int64
	Value     uint16
}

// Store is a fixed-size snapshot of recent glucose samples, oldest
// first. It is owned by the API client's graph-fetch result; consumers
// treat it as read-only.
type Store struct {
	samples [Size]Sample
}

// ReplaceSnapshot zero-fills the store and repopulates it from the
// server samples, then places the live reading in the reserved final
// slot. A sample with value zero keeps a zero timestamp so that no stale
// timestamp survives against an empty reading.
func (s *Store) ReplaceSnapshot(samples []Sample, live Sample) {
	s.samples = [Size]Sample{}

	for i, smp := range samples {
		if i >= Capacity {
			break
		}
		if smp.Value == 0 {
			continue
		}
		s.samples[i] = smp
	}

	s.samples[Size-1] = live
}

// CountNonZero returns the number of populated slots. Sensors younger
// than the full window legitimately leave trailing slots empty.
func (s *Store) CountNonZero() int {
	count := 0
	for _, smp := range s.samples {
		if smp.Value != 0 {
			count++
		}
	}
	return count
}

// Samples returns a copy of the full snapshot, oldest first
func (s *Store) Samples() []Sample {
	out := make([]Sample, Size)
	copy(out, s.samples[:])
	return out
}

// Values returns a copy of just the glucose values, oldest first
func (s *Store) Values() []uint16 {
	out := make([]uint16, Size)
	for i, smp := range s.samples {
		out[i] = smp.Value
	}
	return out
}

// Live returns the reading in the reserved final slot
func (s *Store) Live() Sample {
	return s.samples[Size-1]
}
