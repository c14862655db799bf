package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"

	"flight-delay-demo/internal/common"
	"flight-delay-demo/internal/ml"
	"flight-delay-demo/internal/table"
)

// featureNames match the quick-input fields of the single-row form.
var featureNames = []string{"DISTANCE", "dep_hour", "precip_in", "avg_wind_speed_kts", "origin_congestion"}

var carriers = []string{"AA", "DL", "UA", "WN", "B6", "AS"}

const minLeaf = 20

type options struct {
	outDir     string
	samplePath string
	rows       int
	sampleRows int
	trees      int
	depth      int
	seed       int64
}

func main() {
	var opts options
	flag.StringVar(&opts.outDir, "out", common.DefaultModelsDir, "directory for model artifacts")
	flag.StringVar(&opts.samplePath, "sample", filepath.Join(common.DefaultDataPath, "sample_flights.csv"), "sample input CSV to write")
	flag.IntVar(&opts.rows, "rows", 4000, "synthetic training rows")
	flag.IntVar(&opts.sampleRows, "sample-rows", 25, "rows in the sample CSV")
	flag.IntVar(&opts.trees, "trees", 40, "trees in the forest")
	flag.IntVar(&opts.depth, "depth", 3, "maximum tree depth")
	flag.Int64Var(&opts.seed, "seed", 7, "random seed")
	flag.Parse()

	fmt.Printf("Generating demo artifacts...\n")
	fmt.Printf("  Training rows: %d\n", opts.rows)
	fmt.Printf("  Trees: %d (depth %d)\n", opts.trees, opts.depth)
	fmt.Printf("  Output: %s\n", opts.outDir)

	if err := generate(opts); err != nil {
		log.Fatalf("Failed to generate artifacts: %v", err)
	}
	fmt.Printf("✓ Sample flights written to %s\n", opts.samplePath)
}

func generate(opts options) error {
	rng := rand.New(rand.NewSource(opts.seed))
	raw, _, y := simulate(rng, opts.rows)

	scaler := fitScaler(raw)
	x, err := scaler.Transform(raw)
	if err != nil {
		return fmt.Errorf("scale training data: %w", err)
	}

	forest := fitForest(rng, x, y, opts.trees, opts.depth)
	logistic := fitLogistic(x, y, 400, 0.1)

	if err := os.MkdirAll(opts.outDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	artifacts := map[string]any{
		common.DefaultTreeModelFile:       forest,
		common.DefaultTreeThresholdFile:   map[string]float64{"threshold": common.DefaultTreeThreshold},
		common.DefaultTreeFeaturesFile:    featureNames,
		common.DefaultLinearModelFile:     logistic,
		common.DefaultLinearThresholdFile: common.DefaultLinearThreshold,
		common.DefaultLinearFeaturesFile:  featureNames,
		common.DefaultScalerFile:          scaler,
	}
	for name, v := range artifacts {
		if err := writeJSON(filepath.Join(opts.outDir, name), v); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
		fmt.Printf("✓ %s\n", name)
	}

	if err := writeSample(rng, opts.samplePath, opts.sampleRows); err != nil {
		return fmt.Errorf("write sample: %w", err)
	}
	return nil
}

// simulate draws flights and labels them from a known delay model.
func simulate(rng *rand.Rand, n int) ([][]float64, []string, []int) {
	x := make([][]float64, n)
	carrier := make([]string, n)
	y := make([]int, n)
	for i := range x {
		row := []float64{
			100 + rng.Float64()*2400,
			float64(5 + rng.Intn(19)),
			0,
			math.Abs(rng.NormFloat64()*8 + 10),
			rng.Float64(),
		}
		if rng.Float64() < 0.25 {
			row[2] = rng.ExpFloat64() * 0.3
		}
		x[i] = row
		carrier[i] = carriers[rng.Intn(len(carriers))]

		logit := -2.2 +
			2.0*row[2] +
			0.05*(row[3]-10) +
			0.08*(row[1]-12) +
			1.8*(row[4]-0.5) +
			0.0002*(row[0]-1000)
		if rng.Float64() < sigmoid(logit) {
			y[i] = 1
		}
	}
	return x, carrier, y
}

func fitScaler(x [][]float64) *ml.StandardScaler {
	width := len(x[0])
	s := &ml.StandardScaler{Mean: make([]float64, width), Scale: make([]float64, width)}
	n := float64(len(x))
	for _, row := range x {
		for j, v := range row {
			s.Mean[j] += v / n
		}
	}
	for _, row := range x {
		for j, v := range row {
			d := v - s.Mean[j]
			s.Scale[j] += d * d / n
		}
	}
	for j := range s.Scale {
		s.Scale[j] = math.Sqrt(s.Scale[j])
	}
	return s
}

// fitForest grows bagged trees on random features with quantile splits.
// Importances are the normalized gini decrease per feature.
func fitForest(rng *rand.Rand, x [][]float64, y []int, nTrees, depth int) *ml.Forest {
	width := len(x[0])
	f := &ml.Forest{NFeatures: width, Importances: make([]float64, width)}
	for t := 0; t < nTrees; t++ {
		idx := make([]int, len(x))
		for i := range idx {
			idx[i] = rng.Intn(len(x))
		}
		var tree ml.Tree
		grow(&tree, rng, x, y, idx, depth, f.Importances)
		f.Trees = append(f.Trees, tree)
	}

	var total float64
	for _, v := range f.Importances {
		total += v
	}
	if total > 0 {
		for j := range f.Importances {
			f.Importances[j] /= total
		}
	}
	return f
}

func grow(t *ml.Tree, rng *rand.Rand, x [][]float64, y []int, idx []int, depth int, imp []float64) int {
	pos := len(t.Nodes)
	t.Nodes = append(t.Nodes, ml.Node{Left: -1, Right: -1, Value: rate(y, idx), Cover: float64(len(idx))})
	if depth == 0 || len(idx) < 2*minLeaf {
		return pos
	}

	feature := rng.Intn(len(x[0]))
	vals := make([]float64, len(idx))
	for i, r := range idx {
		vals[i] = x[r][feature]
	}
	sort.Float64s(vals)
	threshold := vals[len(vals)*(3+rng.Intn(5))/10]

	var left, right []int
	for _, r := range idx {
		if x[r][feature] <= threshold {
			left = append(left, r)
		} else {
			right = append(right, r)
		}
	}
	if len(left) < minLeaf || len(right) < minLeaf {
		return pos
	}

	n := float64(len(idx))
	imp[feature] += n*gini(y, idx) - float64(len(left))*gini(y, left) - float64(len(right))*gini(y, right)

	l := grow(t, rng, x, y, left, depth-1, imp)
	r := grow(t, rng, x, y, right, depth-1, imp)
	node := &t.Nodes[pos]
	node.Feature, node.Threshold, node.Left, node.Right = feature, threshold, l, r
	return pos
}

// rate is the smoothed positive rate of the rows in idx.
func rate(y []int, idx []int) float64 {
	pos := 0
	for _, r := range idx {
		pos += y[r]
	}
	return (float64(pos) + 1) / (float64(len(idx)) + 2)
}

func gini(y []int, idx []int) float64 {
	if len(idx) == 0 {
		return 0
	}
	pos := 0
	for _, r := range idx {
		pos += y[r]
	}
	p := float64(pos) / float64(len(idx))
	return 2 * p * (1 - p)
}

// fitLogistic runs batch gradient descent with balanced class weights.
func fitLogistic(x [][]float64, y []int, epochs int, lr float64) *ml.Logistic {
	width := len(x[0])
	m := &ml.Logistic{Coef: make([]float64, width)}

	positives := 0
	for _, v := range y {
		positives += v
	}
	n := float64(len(y))
	weight := [2]float64{n / (2 * (n - float64(positives))), n / (2 * float64(positives))}

	for e := 0; e < epochs; e++ {
		grad := make([]float64, width)
		var gradB float64
		for i, row := range x {
			z := m.Intercept
			for j, v := range row {
				z += m.Coef[j] * v
			}
			diff := weight[y[i]] * (sigmoid(z) - float64(y[i]))
			for j, v := range row {
				grad[j] += diff * v / n
			}
			gradB += diff / n
		}
		for j := range m.Coef {
			m.Coef[j] -= lr * grad[j]
		}
		m.Intercept -= lr * gradB
	}
	return m
}

func writeSample(rng *rand.Rand, path string, n int) error {
	x, carrier, _ := simulate(rng, n)

	t := table.New(append([]string{"carrier"}, featureNames...)...)
	for i, row := range x {
		values := []any{carrier[i]}
		for _, v := range row {
			values = append(values, math.Round(v*100)/100)
		}
		t.AppendRow(values...)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return t.WriteCSV(f)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}
