package stats

import (
	"math"
	"strconv"
)

// benfordAnomalyThreshold flags a digit whose observed frequency deviates from
// the theoretical one by more than five percentage points.
const benfordAnomalyThreshold = 0.05

// DigitDeviation describes one leading digit in a Benford comparison.
type DigitDeviation struct {
	Digit       int     `json:"digit"`
	ActualFreq  float64 `json:"actual_freq"`
	BenfordFreq float64 `json:"benford_freq"`
	Deviation   float64 `json:"deviation"`
	IsAnomaly   bool    `json:"is_anomaly"`
}

// BenfordReport holds one DigitDeviation per leading digit 1-9, in digit
// order. A nil report means the sample contained no usable digits.
type BenfordReport []DigitDeviation

// AnomalousDigits counts the digits flagged as anomalous.
func (r BenfordReport) AnomalousDigits() int {
	n := 0
	for _, d := range r {
		if d.IsAnomaly {
			n++
		}
	}
	return n
}

// AnalyzeBenford compares the leading-digit frequency of the amounts against
// the theoretical Benford distribution P(d) = log10(1 + 1/d). Values that
// reduce to no non-zero digit (exactly zero) are excluded from the sample;
// an empty sample yields a nil report, which callers must treat as
// "insufficient data", not as an error.
func AnalyzeBenford(amounts []float64) BenfordReport {
	counts := make(map[int]int, 9)
	total := 0
	for _, v := range amounts {
		d := LeadingDigit(v)
		if d == 0 {
			continue
		}
		counts[d]++
		total++
	}

	if total == 0 {
		return nil
	}

	report := make(BenfordReport, 0, 9)
	for digit := 1; digit <= 9; digit++ {
		actual := float64(counts[digit]) / float64(total)
		expected := math.Log10(1 + 1/float64(digit))
		deviation := math.Abs(actual - expected)
		report = append(report, DigitDeviation{
			Digit:       digit,
			ActualFreq:  actual,
			BenfordFreq: expected,
			Deviation:   deviation,
			IsAnomaly:   deviation > benfordAnomalyThreshold,
		})
	}
	return report
}

// LeadingDigit extracts the first non-zero decimal digit of v, ignoring sign
// and decimal point. It returns 0 when the value has no such digit.
func LeadingDigit(v float64) int {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	s := strconv.FormatFloat(math.Abs(v), 'f', -1, 64)
	for _, c := range s {
		if c >= '1' && c <= '9' {
			return int(c - '0')
		}
	}
	return 0
}
