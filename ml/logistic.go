package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
)

type LogisticRegression struct {
	Coef      []float64 `json:"coef"`
	Intercept float64   `json:"intercept"`
}

func (lr *LogisticRegression) Predict(features []float64) (int, error) {
	proba, err := lr.PredictProba(features)
	if err != nil {
		return 0, err
	}
	return argmax(proba), nil
}

func (lr *LogisticRegression) PredictProba(features []float64) ([]float64, error) {
	if len(lr.Coef) == 0 {
		return nil, errors.New("model not loaded")
	}
	if len(features) != len(lr.Coef) {
		return nil, fmt.Errorf("expected %d features, got %d", len(lr.Coef), len(features))
	}
	z := lr.Intercept
	for i, w := range lr.Coef {
		z += w * features[i]
	}
	p := sigmoid(z)
	return []float64{1 - p, p}, nil
}

func (lr *LogisticRegression) Load(path string) error {
	payload, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var model LogisticRegression
	if err := json.Unmarshal(payload, &model); err != nil {
		return err
	}
	if len(model.Coef) == 0 {
		return errors.New("coefficients are empty")
	}
	for i, w := range model.Coef {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return fmt.Errorf("coefficient %d is not finite", i)
		}
	}
	if math.IsNaN(model.Intercept) || math.IsInf(model.Intercept, 0) {
		return errors.New("intercept is not finite")
	}
	*lr = model
	return nil
}

func (lr *LogisticRegression) CheckFeatures(n int) error {
	if len(lr.Coef) != n {
		return fmt.Errorf("model has %d coefficients but %d features are defined", len(lr.Coef), n)
	}
	return nil
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}
