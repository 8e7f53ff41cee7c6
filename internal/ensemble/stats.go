package ensemble

import (
	"math"
	"sort"
)

// Agreement classification thresholds over the ensemble standard
// deviation. Fixed constants of the design, not configurable.
const (
	highAgreementStd   = 0.3
	mediumAgreementStd = 0.6
)

// Agreement bands.
const (
	AgreementHigh   = "high"
	AgreementMedium = "medium"
	AgreementLow    = "low"
)

func mean(xs []float64) float64 {
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func median(xs []float64) float64 {
	sorted := make([]float64, len(xs))
	copy(sorted, xs)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// popStd is the population standard deviation (divide by n, not n-1).
func popStd(xs []float64) float64 {
	m := mean(xs)
	sum := 0.0
	for _, x := range xs {
		d := x - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(xs)))
}

func minMax(xs []float64) (float64, float64) {
	lo, hi := xs[0], xs[0]
	for _, x := range xs[1:] {
		if x < lo {
			lo = x
		}
		if x > hi {
			hi = x
		}
	}
	return lo, hi
}

func agreementBand(std float64) string {
	switch {
	case std < highAgreementStd:
		return AgreementHigh
	case std < mediumAgreementStd:
		return AgreementMedium
	default:
		return AgreementLow
	}
}
