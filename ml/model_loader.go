package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

const (
	ModelDecisionTree       = "decision_tree"
	ModelRandomForest       = "random_forest"
	ModelLogisticRegression = "logistic_regression"
)

var ErrUnsupportedModel = errors.New("unsupported model type")

func newModel(modelType string) (MLModel, error) {
	switch modelType {
	case ModelDecisionTree:
		return &DecisionTree{}, nil
	case ModelRandomForest:
		return &RandomForest{}, nil
	case ModelLogisticRegression:
		return &LogisticRegression{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedModel, modelType)
	}
}

func LoadModel(modelType, path string) (MLModel, error) {
	model, err := newModel(modelType)
	if err != nil {
		return nil, err
	}
	if err := model.Load(path); err != nil {
		return nil, fmt.Errorf("load %s model %s: %w", modelType, path, err)
	}
	return model, nil
}

// LoadFeatureNames reads an ordered JSON array of feature names.
func LoadFeatureNames(path string) ([]string, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var names []string
	if err := json.Unmarshal(payload, &names); err != nil {
		return nil, fmt.Errorf("parse feature names %s: %w", path, err)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("feature names %s: list is empty", path)
	}
	seen := make(map[string]bool, len(names))
	for i, name := range names {
		if strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("feature names %s: entry %d is blank", path, i)
		}
		if seen[name] {
			return nil, fmt.Errorf("feature names %s: duplicate %q", path, name)
		}
		seen[name] = true
	}
	return names, nil
}
