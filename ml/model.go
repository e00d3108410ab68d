package ml

import (
	"errors"
	"fmt"
	"math"
)

// Classifier is the contract of a pre-trained binary classifier artifact.
type Classifier interface {
	Predict(features []float64) (int, error)
	PredictProba(features []float64) ([]float64, error)
}

// MLModel is a classifier that can be loaded from a serialized artifact.
type MLModel interface {
	Classifier
	Load(path string) error
	// CheckFeatures reports whether the model can score vectors of length n.
	CheckFeatures(n int) error
}

// Result is the outcome of scoring one feature vector with one classifier.
type Result struct {
	Label       int     `json:"label"`
	Probability float64 `json:"probability"`
}

const probabilityTolerance = 1e-6

var ErrInvalidProbabilities = errors.New("classifier returned invalid probabilities")

// Score runs both predict and predict_proba and returns the label with the
// positive-class probability.
func Score(c Classifier, features []float64) (Result, error) {
	if c == nil {
		return Result{}, errors.New("classifier is nil")
	}
	label, err := c.Predict(features)
	if err != nil {
		return Result{}, fmt.Errorf("predict: %w", err)
	}
	if label != 0 && label != 1 {
		return Result{}, fmt.Errorf("predict: label %d is not binary", label)
	}
	proba, err := c.PredictProba(features)
	if err != nil {
		return Result{}, fmt.Errorf("predict proba: %w", err)
	}
	if len(proba) != 2 {
		return Result{}, fmt.Errorf("%w: expected 2 classes, got %d", ErrInvalidProbabilities, len(proba))
	}
	sum := 0.0
	for _, p := range proba {
		if math.IsNaN(p) || p < 0 || p > 1 {
			return Result{}, fmt.Errorf("%w: %v", ErrInvalidProbabilities, proba)
		}
		sum += p
	}
	if math.Abs(sum-1) > probabilityTolerance {
		return Result{}, fmt.Errorf("%w: sum is %f", ErrInvalidProbabilities, sum)
	}
	return Result{Label: label, Probability: proba[1]}, nil
}

func argmax(proba []float64) int {
	best := 0
	for i := 1; i < len(proba); i++ {
		if proba[i] > proba[best] {
			best = i
		}
	}
	return best
}

func normalize(counts []float64) ([]float64, error) {
	total := 0.0
	for _, c := range counts {
		if c < 0 || math.IsNaN(c) || math.IsInf(c, 0) {
			return nil, errors.New("class counts must be finite and non-negative")
		}
		total += c
	}
	if total == 0 {
		return nil, errors.New("class counts sum to zero")
	}
	out := make([]float64, len(counts))
	for i, c := range counts {
		out[i] = c / total
	}
	return out, nil
}
