// Package policy maps the positive-class probabilities of the two condition
// classifiers to one recommendation category.
package policy

import (
	"errors"
	"fmt"
	"math"
)

// Variant selects which decision table is applied.
type Variant string

const (
	// Comparative names the more likely condition.
	Comparative Variant = "comparative"
	// SeverityBanded grades urgency by the higher probability.
	SeverityBanded Variant = "severity"
)

// Category is a recommendation.
type Category string

const (
	Unlikely     Category = "unlikely"
	ALikely      Category = "a_likely"
	BLikely      Category = "b_likely"
	BothPossible Category = "both_possible"

	NoAction         Category = "no_action"
	SeekCareUrgently Category = "seek_care_urgently"
	ConsiderCheckup  Category = "consider_checkup"
)

const (
	DefaultPossibleThreshold = 0.3
	DefaultUrgentThreshold   = 0.6
)

var (
	ErrInvalidProbability = errors.New("probability must be within [0, 1]")
	ErrUnknownVariant     = errors.New("unknown policy variant")
)

// Policy is immutable once built; share it freely.
type Policy struct {
	Variant Variant `json:"variant"`
	// Possible is the inclusive lower bound of the "possible" band.
	Possible float64 `json:"possible_threshold"`
	// Urgent is the exclusive lower bound of the urgent band (severity only).
	Urgent float64 `json:"urgent_threshold"`
}

func Default() Policy {
	return Policy{Variant: Comparative, Possible: DefaultPossibleThreshold, Urgent: DefaultUrgentThreshold}
}

func New(variant Variant, possible, urgent float64) (Policy, error) {
	p := Policy{Variant: variant, Possible: possible, Urgent: urgent}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

func ParseVariant(s string) (Variant, error) {
	switch Variant(s) {
	case Comparative, SeverityBanded:
		return Variant(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownVariant, s)
	}
}

func (p Policy) Validate() error {
	if _, err := ParseVariant(string(p.Variant)); err != nil {
		return err
	}
	if !(p.Possible > 0 && p.Possible <= p.Urgent && p.Urgent <= 1) {
		return fmt.Errorf("thresholds must satisfy 0 < possible (%v) <= urgent (%v) <= 1", p.Possible, p.Urgent)
	}
	return nil
}

// Decide returns the category for the probabilities of condition A and B.
func (p Policy) Decide(probA, probB float64) (Category, error) {
	if !validProbability(probA) || !validProbability(probB) {
		return "", fmt.Errorf("%w: got %v and %v", ErrInvalidProbability, probA, probB)
	}
	switch p.Variant {
	case Comparative:
		return p.comparative(probA, probB), nil
	case SeverityBanded:
		return p.severity(probA, probB), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownVariant, p.Variant)
	}
}

func (p Policy) comparative(probA, probB float64) Category {
	switch {
	case probA < p.Possible && probB < p.Possible:
		return Unlikely
	case probA >= p.Possible && probA > probB:
		return ALikely
	case probB >= p.Possible && probB > probA:
		return BLikely
	default:
		// equal probabilities at or above the threshold
		return BothPossible
	}
}

func (p Policy) severity(probA, probB float64) Category {
	switch {
	case probA < p.Possible && probB < p.Possible:
		return NoAction
	case probA > p.Urgent || probB > p.Urgent:
		return SeekCareUrgently
	default:
		return ConsiderCheckup
	}
}

// Categories lists every category the variant can return.
func (p Policy) Categories() []Category {
	if p.Variant == SeverityBanded {
		return []Category{NoAction, ConsiderCheckup, SeekCareUrgently}
	}
	return []Category{Unlikely, ALikely, BLikely, BothPossible}
}

func validProbability(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}
