package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

type DecisionTree struct {
	nodes    []TreeNode
	maxIndex int
}

// TreeNode is one node of a flattened tree. Children always sit after their
// parent, so a walk can never revisit a node.
type TreeNode struct {
	FeatureIdx int       `json:"feature_idx"`
	Threshold  float64   `json:"threshold"`
	LeftChild  int       `json:"left_child"`
	RightChild int       `json:"right_child"`
	IsLeaf     bool      `json:"is_leaf"`
	Value      []float64 `json:"value,omitempty"`
}

func NewDecisionTree(nodes []TreeNode) (*DecisionTree, error) {
	dt := &DecisionTree{}
	if err := dt.setNodes(nodes); err != nil {
		return nil, err
	}
	return dt, nil
}

func (dt *DecisionTree) Predict(features []float64) (int, error) {
	proba, err := dt.PredictProba(features)
	if err != nil {
		return 0, err
	}
	return argmax(proba), nil
}

func (dt *DecisionTree) PredictProba(features []float64) ([]float64, error) {
	if len(dt.nodes) == 0 {
		return nil, errors.New("model not loaded")
	}
	idx := 0
	for {
		node := dt.nodes[idx]
		if node.IsLeaf {
			return normalize(node.Value)
		}
		if node.FeatureIdx >= len(features) {
			return nil, fmt.Errorf("feature index %d out of range for %d features", node.FeatureIdx, len(features))
		}
		if features[node.FeatureIdx] <= node.Threshold {
			idx = node.LeftChild
		} else {
			idx = node.RightChild
		}
	}
}

func (dt *DecisionTree) Load(path string) error {
	payload, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var nodes []TreeNode
	if err := json.Unmarshal(payload, &nodes); err != nil {
		return err
	}
	return dt.setNodes(nodes)
}

func (dt *DecisionTree) CheckFeatures(n int) error {
	if dt.maxIndex >= n {
		return fmt.Errorf("tree reads feature %d but only %d features are defined", dt.maxIndex, n)
	}
	return nil
}

func (dt *DecisionTree) setNodes(nodes []TreeNode) error {
	if len(nodes) == 0 {
		return errors.New("tree has no nodes")
	}
	maxIndex := -1
	for i, node := range nodes {
		if node.IsLeaf {
			if len(node.Value) != 2 {
				return fmt.Errorf("leaf %d: expected 2 class counts, got %d", i, len(node.Value))
			}
			if _, err := normalize(node.Value); err != nil {
				return fmt.Errorf("leaf %d: %w", i, err)
			}
			continue
		}
		if node.FeatureIdx < 0 {
			return fmt.Errorf("node %d: negative feature index", i)
		}
		if !validChild(i, node.LeftChild, len(nodes)) || !validChild(i, node.RightChild, len(nodes)) {
			return fmt.Errorf("node %d: invalid children %d/%d", i, node.LeftChild, node.RightChild)
		}
		if node.FeatureIdx > maxIndex {
			maxIndex = node.FeatureIdx
		}
	}
	dt.nodes = nodes
	dt.maxIndex = maxIndex
	return nil
}

func validChild(parent, child, count int) bool {
	return child > parent && child < count
}
