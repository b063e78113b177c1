package stats

import "sort"

// minOutlierSample is the smallest sequence for which quartile estimates are
// meaningful. Below this the detector reports no outliers.
const minOutlierSample = 4

// iqrFence is the classic Tukey multiplier for the outlier fence.
const iqrFence = 1.5

// HasOutliers reports whether any amount falls outside
// [Q1 - 1.5*IQR, Q3 + 1.5*IQR]. Sequences shorter than four elements never
// produce outliers.
func HasOutliers(amounts []float64) bool {
	if len(amounts) < minOutlierSample {
		return false
	}

	sorted := make([]float64, len(amounts))
	copy(sorted, amounts)
	sort.Float64s(sorted)

	q1 := percentile(sorted, 0.25)
	q3 := percentile(sorted, 0.75)
	iqr := q3 - q1

	lower := q1 - iqrFence*iqr
	upper := q3 + iqrFence*iqr

	for _, v := range amounts {
		if v < lower || v > upper {
			return true
		}
	}
	return false
}

// percentile computes the p-th percentile of a sorted sample using linear
// interpolation between closest ranks.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := p * float64(len(sorted)-1)
	lo := int(rank)
	hi := lo + 1
	if hi >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}
