package ml

import (
	"context"
	"errors"
	"fmt"
	"math"

	"flight-delay-demo/internal/common"
)

// Node is one node of a decision tree. Leaves have Left == Right == -1.
// Rows with x[Feature] <= Threshold go left.
type Node struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Left      int     `json:"left"`
	Right     int     `json:"right"`
	// Value is the positive-class probability of a leaf.
	Value float64 `json:"value"`
	// Cover is the (weighted) number of training samples reaching the node.
	Cover float64 `json:"cover"`
}

// IsLeaf reports whether n has no children.
func (n Node) IsLeaf() bool { return n.Left < 0 }

// Tree is a binary decision tree with the root at index 0.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// Forest is a fitted random forest classifier in native JSON form. Its
// probability is the mean of the leaf values reached in each tree.
type Forest struct {
	NFeatures   int       `json:"n_features"`
	Trees       []Tree    `json:"trees"`
	Importances []float64 `json:"feature_importances,omitempty"`
}

func (f *Forest) Name() string { return common.TreeModelName }

func (f *Forest) inputWidth() int { return f.NFeatures }

func (f *Forest) PredictProba(ctx context.Context, x [][]float64) ([]float64, error) {
	out := make([]float64, len(x))
	for i, row := range x {
		if len(row) != f.NFeatures {
			return nil, fmt.Errorf("row %d has %d features, model expects %d", i, len(row), f.NFeatures)
		}
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		var sum float64
		for t := range f.Trees {
			sum += f.Trees[t].leaf(row).Value
		}
		out[i] = sum / float64(len(f.Trees))
	}
	return out, nil
}

// FeatureImportances returns the stored impurity-based importances.
func (f *Forest) FeatureImportances(context.Context) ([]float64, error) {
	if len(f.Importances) == 0 {
		return nil, errors.New("forest has no stored feature importances")
	}
	out := make([]float64, len(f.Importances))
	copy(out, f.Importances)
	return out, nil
}

func (t *Tree) leaf(x []float64) Node {
	n := t.Nodes[0]
	for !n.IsLeaf() {
		if x[n.Feature] <= n.Threshold {
			n = t.Nodes[n.Left]
		} else {
			n = t.Nodes[n.Right]
		}
	}
	return n
}

// validate checks the structural invariants prediction relies on. Children
// must have a larger index than their parent, which rules out cycles.
func (f *Forest) validate() error {
	if f.NFeatures <= 0 {
		return errors.New("forest must declare n_features")
	}
	if len(f.Trees) == 0 {
		return errors.New("forest has no trees")
	}
	if len(f.Importances) != 0 && len(f.Importances) != f.NFeatures {
		return fmt.Errorf("forest has %d importances for %d features", len(f.Importances), f.NFeatures)
	}
	for ti, tree := range f.Trees {
		if len(tree.Nodes) == 0 {
			return fmt.Errorf("tree %d has no nodes", ti)
		}
		for ni, n := range tree.Nodes {
			if n.IsLeaf() {
				if n.Right >= 0 {
					return fmt.Errorf("tree %d node %d has only one child", ti, ni)
				}
				if math.IsNaN(n.Value) || n.Value < 0 || n.Value > 1 {
					return fmt.Errorf("tree %d leaf %d value %v is not a probability", ti, ni, n.Value)
				}
				continue
			}
			if n.Feature < 0 || n.Feature >= f.NFeatures {
				return fmt.Errorf("tree %d node %d splits on feature %d of %d", ti, ni, n.Feature, f.NFeatures)
			}
			for _, c := range []int{n.Left, n.Right} {
				if c <= ni || c >= len(tree.Nodes) {
					return fmt.Errorf("tree %d node %d has invalid child %d", ti, ni, c)
				}
			}
		}
	}
	return nil
}
