// Package stats provides pure numeric functions over glucose sample
// sets. A glucose value of zero is the "no data" sentinel and is
// excluded from the mean.
package stats

import "math"

// Mean returns the arithmetic mean of the non-zero values, or 0 when no
// non-zero value is present. Callers must check the sample count before
// treating 0 as a physiological mean.
func Mean(values []uint16) float64 {
	var sum float64
	n := 0
	for _, v := range values {
		if v != 0 {
			sum += float64(v)
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// HbA1c estimates the HbA1c percentage from a mean glucose value using
// the NGSP approximation. Display estimate only, not a medical claim.
func HbA1c(meanGlucose float64) float64 {
	return (meanGlucose + 46.7) / 28.7
}

// TimeInRange returns the percentage of values inside [low, high]
// inclusive, or 0 for an empty slice
func TimeInRange(values []uint16, low, high int) float64 {
	if len(values) == 0 {
		return 0
	}
	hits := 0
	for _, v := range values {
		if int(v) >= low && int(v) <= high {
			hits++
		}
	}
	return float64(hits) / float64(len(values)) * 100
}

// StdDev returns the population standard deviation (n divisor) of the
// values around the supplied mean
func StdDev(values []uint16, mean float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		d := float64(v) - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)))
}

// CV returns the coefficient of variation in percent, or 0 when the
// mean is 0
func CV(stdDev, mean float64) float64 {
	if mean == 0 {
		return 0
	}
	return stdDev / mean * 100
}
