package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// RandomForest averages the class probabilities of its trees.
type RandomForest struct {
	trees []*DecisionTree
}

type forestArtifact struct {
	Trees [][]TreeNode `json:"trees"`
}

func NewRandomForest(trees ...*DecisionTree) (*RandomForest, error) {
	if len(trees) == 0 {
		return nil, errors.New("forest has no trees")
	}
	return &RandomForest{trees: trees}, nil
}

func (rf *RandomForest) Predict(features []float64) (int, error) {
	proba, err := rf.PredictProba(features)
	if err != nil {
		return 0, err
	}
	return argmax(proba), nil
}

func (rf *RandomForest) PredictProba(features []float64) ([]float64, error) {
	if len(rf.trees) == 0 {
		return nil, errors.New("model not loaded")
	}
	mean := make([]float64, 2)
	for i, tree := range rf.trees {
		proba, err := tree.PredictProba(features)
		if err != nil {
			return nil, fmt.Errorf("tree %d: %w", i, err)
		}
		for c := range mean {
			mean[c] += proba[c]
		}
	}
	for c := range mean {
		mean[c] /= float64(len(rf.trees))
	}
	return mean, nil
}

func (rf *RandomForest) Load(path string) error {
	payload, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var artifact forestArtifact
	if err := json.Unmarshal(payload, &artifact); err != nil {
		return err
	}
	if len(artifact.Trees) == 0 {
		return errors.New("forest has no trees")
	}
	trees := make([]*DecisionTree, len(artifact.Trees))
	for i, nodes := range artifact.Trees {
		tree, err := NewDecisionTree(nodes)
		if err != nil {
			return fmt.Errorf("tree %d: %w", i, err)
		}
		trees[i] = tree
	}
	rf.trees = trees
	return nil
}

func (rf *RandomForest) CheckFeatures(n int) error {
	for i, tree := range rf.trees {
		if err := tree.CheckFeatures(n); err != nil {
			return fmt.Errorf("tree %d: %w", i, err)
		}
	}
	return nil
}
