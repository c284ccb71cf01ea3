package attest

import "math"

// Statistical helpers shared by the validators. All of them tolerate empty
// input and return zero values instead of NaN so callers can branch on the
// degraded-collection path without special-casing.

// Mean returns the arithmetic mean of samples, or 0 for empty input.
func Mean(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s
	}
	return sum / float64(len(samples))
}

// Stdev returns the population standard deviation, or 0 for fewer than
// two samples.
func Stdev(samples []float64) float64 {
	if len(samples) < 2 {
		return 0
	}
	m := Mean(samples)
	var sq float64
	for _, s := range samples {
		d := s - m
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(samples)))
}

// CV returns the coefficient of variation (stdev/mean). A zero mean yields
// 0: a clock that reads identically every time has no usable variation.
func CV(samples []float64) float64 {
	m := Mean(samples)
	if m == 0 {
		return 0
	}
	return Stdev(samples) / m
}

// ShannonEntropy computes the byte-level Shannon entropy of data in bits
// per byte (0..8). Informational only: it rides along in record detail as
// an entropy quality figure.
func ShannonEntropy(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}
	var counts [256]int
	for _, b := range data {
		counts[b]++
	}
	n := float64(len(data))
	var h float64
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / n
		h -= p * math.Log2(p)
	}
	return h
}

// ChiSquareUniform computes the chi-square statistic of observed bucket
// counts against a uniform expectation. Used by the parameter-uniformity
// tests: derived parameters should spread evenly across their range.
func ChiSquareUniform(counts []int) float64 {
	if len(counts) == 0 {
		return 0
	}
	var total int
	for _, c := range counts {
		total += c
	}
	if total == 0 {
		return 0
	}
	expected := float64(total) / float64(len(counts))
	var chi float64
	for _, c := range counts {
		d := float64(c) - expected
		chi += d * d / expected
	}
	return chi
}

// SamplesToBytes folds float64 timing samples into a byte stream for
// entropy estimation. Only the low mantissa byte carries jitter; the high
// bytes are mostly structure.
func SamplesToBytes(samples []float64) []byte {
	out := make([]byte, 0, len(samples))
	for _, s := range samples {
		out = append(out, byte(uint64(s)))
	}
	return out
}
