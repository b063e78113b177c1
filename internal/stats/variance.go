package stats

import "math"

// CoefficientOfVariation returns population stddev divided by mean for the
// supplied amounts. It returns 0 when the sequence has fewer than two
// elements or the mean is zero, so callers never divide by zero.
func CoefficientOfVariation(amounts []float64) float64 {
	if len(amounts) < 2 {
		return 0
	}

	var sum float64
	for _, v := range amounts {
		sum += v
	}
	mean := sum / float64(len(amounts))
	if mean == 0 {
		return 0
	}

	var sq float64
	for _, v := range amounts {
		d := v - mean
		sq += d * d
	}
	stddev := math.Sqrt(sq / float64(len(amounts)))

	return stddev / mean
}
