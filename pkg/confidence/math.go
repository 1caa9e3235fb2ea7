// Package confidence provides confidence score math utilities.
package confidence

import "math"

// Class is the coarse confidence bucket reported to callers.
type Class string

const (
	ClassLow    Class = "low"
	ClassMedium Class = "medium"
	ClassHigh   Class = "high"
)

// Aggregate combines multiple confidence scores.
// Uses geometric mean to penalize low-confidence components.
func Aggregate(scores []float64) float64 {
	if len(scores) == 0 {
		return 0
	}

	product := 1.0
	for _, s := range scores {
		if s <= 0 {
			return 0
		}
		product *= s
	}

	return math.Pow(product, 1.0/float64(len(scores)))
}

// Ratio returns part/whole clamped to [0, 1]. A zero whole yields 0.
func Ratio(part, whole int) float64 {
	if whole <= 0 {
		return 0
	}
	return Clamp(float64(part) / float64(whole))
}

// Clamp ensures confidence is in valid range [0, 1].
func Clamp(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// Classify buckets a score using the default thresholds.
func Classify(score float64) Class {
	switch {
	case score >= HighConfidence:
		return ClassHigh
	case score >= MediumConfidence:
		return ClassMedium
	default:
		return ClassLow
	}
}

// Spread is the relative half-width of the estimate interval for a class.
func Spread(c Class) float64 {
	switch c {
	case ClassHigh:
		return 0.1
	case ClassMedium:
		return 0.3
	default:
		return 0.5
	}
}

// DefaultConfidence values
const (
	HighConfidence   = 0.90
	MediumConfidence = 0.60
)
