package stats

import (
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 0.01
}

func TestMean(t *testing.T) {
	tests := []struct {
		name     string
		values   []uint16
		expected float64
	}{
		{"Excludes zero sentinel", []uint16{100, 100, 0, 140}, 340.0 / 3},
		{"Plain mean", []uint16{100, 140}, 120},
		{"Empty", nil, 0},
		{"All zero", []uint16{0, 0, 0}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Mean(tt.values); !almostEqual(got, tt.expected) {
				t.Errorf("Mean() = %.4f, want %.4f", got, tt.expected)
			}
		})
	}
}

func TestHbA1c(t *testing.T) {
	if got := HbA1c(120); !almostEqual(got, 5.81) {
		t.Errorf("HbA1c(120) = %.2f, want 5.81", got)
	}
	if got := HbA1c(154); !almostEqual(got, 6.99) {
		t.Errorf("HbA1c(154) = %.2f, want 6.99", got)
	}
}

func TestTimeInRange(t *testing.T) {
	tests := []struct {
		name     string
		values   []uint16
		low      int
		high     int
		expected float64
	}{
		{"All in range", []uint16{80, 120, 170}, 70, 180, 100},
		{"Half in range", []uint16{60, 120, 200, 100}, 70, 180, 50},
		{"Boundaries inclusive", []uint16{70, 180}, 70, 180, 100},
		{"Empty", nil, 70, 180, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TimeInRange(tt.values, tt.low, tt.high)
			if !almostEqual(got, tt.expected) {
				t.Errorf("TimeInRange() = %.2f, want %.2f", got, tt.expected)
			}
		})
	}
}

func TestStdDev(t *testing.T) {
	// Population standard deviation: divisor n, not n-1.
	if got := StdDev([]uint16{100, 140}, 120); !almostEqual(got, 20) {
		t.Errorf("StdDev() = %.4f, want 20", got)
	}
	if got := StdDev(nil, 0); got != 0 {
		t.Errorf("StdDev(nil) = %.4f, want 0", got)
	}
}

func TestCV(t *testing.T) {
	if got := CV(20, 120); !almostEqual(got, 16.67) {
		t.Errorf("CV(20, 120) = %.2f, want 16.67", got)
	}
	if got := CV(20, 0); got != 0 {
		t.Errorf("CV with zero mean = %.2f, want 0", got)
	}
}
