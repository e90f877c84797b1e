package ml

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"
)

// ForestConfig holds hyperparameters shared by the regression and
// classification forests.
type ForestConfig struct {
	NumTrees        int     `json:"num_trees"`
	MaxDepth        int     `json:"max_depth"`
	MinSamplesLeaf  int     `json:"min_samples_leaf"`
	FeatureFraction float64 `json:"feature_fraction"` // fraction of features per tree
}

// DefaultForestConfig returns the standard forest setup: 50 bootstrap trees,
// each split on an 80% feature subset.
func DefaultForestConfig() ForestConfig {
	return ForestConfig{
		NumTrees:        50,
		MaxDepth:        10,
		MinSamplesLeaf:  2,
		FeatureFraction: 0.8,
	}
}

func (c ForestConfig) withDefaults() ForestConfig {
	d := DefaultForestConfig()
	if c.NumTrees <= 0 {
		c.NumTrees = d.NumTrees
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = d.MaxDepth
	}
	if c.MinSamplesLeaf <= 0 {
		c.MinSamplesLeaf = d.MinSamplesLeaf
	}
	if c.FeatureFraction <= 0 || c.FeatureFraction > 1 {
		c.FeatureFraction = d.FeatureFraction
	}
	return c
}

// treeNode is a node in a single decision tree. Leaves carry the mean target
// (regression) or the positive-class fraction (classification).
type treeNode struct {
	feature   int
	threshold float64
	left      *treeNode
	right     *treeNode
	isLeaf    bool
	value     float64
}

func (n *treeNode) eval(x []float64) float64 {
	for n != nil && !n.isLeaf {
		if n.feature < len(x) && x[n.feature] < n.threshold {
			n = n.left
		} else {
			n = n.right
		}
	}
	if n == nil {
		return 0
	}
	return n.value
}

// RegressionForest is a bootstrap-aggregated forest predicting a continuous
// target as the mean over its trees.
type RegressionForest struct {
	cfg     ForestConfig
	trees   []*treeNode
	rng     *rand.Rand
	trained bool
}

// NewRegressionForest creates an untrained regression forest. The random
// source drives bootstrap sampling and feature subsetting; pass a seeded
// generator for reproducible training.
func NewRegressionForest(cfg ForestConfig, rng *rand.Rand) *RegressionForest {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &RegressionForest{cfg: cfg.withDefaults(), rng: rng}
}

// Fit trains the forest. Inputs must be non-empty and of equal length.
func (f *RegressionForest) Fit(X [][]float64, y []float64) error {
	if err := checkTrainingShape(len(X), len(y)); err != nil {
		return err
	}

	numFeatures := len(X[0])
	perTree := featuresPerTree(numFeatures, f.cfg.FeatureFraction)

	f.trees = make([]*treeNode, f.cfg.NumTrees)
	for i := range f.trees {
		idx := bootstrapIndices(f.rng, len(X))
		feats := selectFeatures(f.rng, numFeatures, perTree)
		f.trees[i] = buildRegressionNode(X, y, idx, feats, 0, f.cfg)
	}
	f.trained = true
	return nil
}

// Trained reports whether Fit has completed.
func (f *RegressionForest) Trained() bool { return f.trained }

// Predict returns the mean prediction across all trees.
func (f *RegressionForest) Predict(x []float64) float64 {
	if !f.trained || len(f.trees) == 0 {
		return 0
	}
	sum := 0.0
	for _, t := range f.trees {
		sum += t.eval(x)
	}
	return sum / float64(len(f.trees))
}

// ClassificationForest is a bootstrap-aggregated forest for binary targets,
// combining trees by majority vote.
type ClassificationForest struct {
	cfg     ForestConfig
	trees   []*treeNode
	rng     *rand.Rand
	trained bool
}

// NewClassificationForest creates an untrained binary classification forest.
func NewClassificationForest(cfg ForestConfig, rng *rand.Rand) *ClassificationForest {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &ClassificationForest{cfg: cfg.withDefaults(), rng: rng}
}

// Fit trains the forest on binary labels (0/1).
func (f *ClassificationForest) Fit(X [][]float64, y []int) error {
	if err := checkTrainingShape(len(X), len(y)); err != nil {
		return err
	}

	target := make([]float64, len(y))
	for i, label := range y {
		if label != 0 {
			target[i] = 1
		}
	}

	numFeatures := len(X[0])
	perTree := featuresPerTree(numFeatures, f.cfg.FeatureFraction)

	f.trees = make([]*treeNode, f.cfg.NumTrees)
	for i := range f.trees {
		idx := bootstrapIndices(f.rng, len(X))
		feats := selectFeatures(f.rng, numFeatures, perTree)
		f.trees[i] = buildClassificationNode(X, target, idx, feats, 0, f.cfg)
	}
	f.trained = true
	return nil
}

// Trained reports whether Fit has completed.
func (f *ClassificationForest) Trained() bool { return f.trained }

// Predict returns the majority-vote label and the fraction of trees voting
// positive.
func (f *ClassificationForest) Predict(x []float64) (int, float64) {
	if !f.trained || len(f.trees) == 0 {
		return 0, 0
	}
	positive := 0
	for _, t := range f.trees {
		if t.eval(x) >= 0.5 {
			positive++
		}
	}
	prob := float64(positive) / float64(len(f.trees))
	if prob >= 0.5 {
		return 1, prob
	}
	return 0, prob
}

func checkTrainingShape(nx, ny int) error {
	if nx == 0 {
		return fmt.Errorf("no training data")
	}
	if nx != ny {
		return fmt.Errorf("feature/target length mismatch: %d vs %d", nx, ny)
	}
	return nil
}

func featuresPerTree(numFeatures int, fraction float64) int {
	n := int(math.Ceil(fraction * float64(numFeatures)))
	if n < 1 {
		n = 1
	}
	if n > numFeatures {
		n = numFeatures
	}
	return n
}

// bootstrapIndices samples n indices with replacement.
func bootstrapIndices(rng *rand.Rand, n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = rng.Intn(n)
	}
	return idx
}

// selectFeatures picks count distinct feature indices via partial
// Fisher-Yates shuffle.
func selectFeatures(rng *rand.Rand, numFeatures, count int) []int {
	indices := make([]int, numFeatures)
	for i := range indices {
		indices[i] = i
	}
	if count >= numFeatures {
		return indices
	}
	for i := 0; i < count; i++ {
		j := i + rng.Intn(numFeatures-i)
		indices[i], indices[j] = indices[j], indices[i]
	}
	return indices[:count]
}

func buildRegressionNode(X [][]float64, y []float64, idx, feats []int, depth int, cfg ForestConfig) *treeNode {
	mean, sse := meanAndSSE(y, idx)

	if depth >= cfg.MaxDepth || len(idx) <= cfg.MinSamplesLeaf || sse == 0 {
		return &treeNode{isLeaf: true, value: mean}
	}

	bestFeature, bestThreshold, bestScore := -1, 0.0, sse
	for _, feature := range feats {
		for _, threshold := range candidateThresholds(X, idx, feature) {
			left, right := partition(X, idx, feature, threshold)
			if len(left) == 0 || len(right) == 0 {
				continue
			}
			_, lsse := meanAndSSE(y, left)
			_, rsse := meanAndSSE(y, right)
			if score := lsse + rsse; score < bestScore {
				bestScore = score
				bestFeature = feature
				bestThreshold = threshold
			}
		}
	}

	if bestFeature < 0 {
		return &treeNode{isLeaf: true, value: mean}
	}

	left, right := partition(X, idx, bestFeature, bestThreshold)
	return &treeNode{
		feature:   bestFeature,
		threshold: bestThreshold,
		left:      buildRegressionNode(X, y, left, feats, depth+1, cfg),
		right:     buildRegressionNode(X, y, right, feats, depth+1, cfg),
	}
}

func buildClassificationNode(X [][]float64, y []float64, idx, feats []int, depth int, cfg ForestConfig) *treeNode {
	frac := positiveFraction(y, idx)

	if depth >= cfg.MaxDepth || len(idx) <= cfg.MinSamplesLeaf || frac == 0 || frac == 1 {
		return &treeNode{isLeaf: true, value: frac}
	}

	currentGini := gini(frac)
	bestFeature, bestThreshold, bestGain := -1, 0.0, 0.0
	total := float64(len(idx))

	for _, feature := range feats {
		for _, threshold := range candidateThresholds(X, idx, feature) {
			left, right := partition(X, idx, feature, threshold)
			if len(left) == 0 || len(right) == 0 {
				continue
			}
			weighted := (float64(len(left))*gini(positiveFraction(y, left)) +
				float64(len(right))*gini(positiveFraction(y, right))) / total
			if gain := currentGini - weighted; gain > bestGain {
				bestGain = gain
				bestFeature = feature
				bestThreshold = threshold
			}
		}
	}

	if bestFeature < 0 {
		return &treeNode{isLeaf: true, value: frac}
	}

	left, right := partition(X, idx, bestFeature, bestThreshold)
	return &treeNode{
		feature:   bestFeature,
		threshold: bestThreshold,
		left:      buildClassificationNode(X, y, left, feats, depth+1, cfg),
		right:     buildClassificationNode(X, y, right, feats, depth+1, cfg),
	}
}

// candidateThresholds returns midpoints between distinct sorted values of a
// feature, thinned to at most 32 candidates to bound split-search cost.
func candidateThresholds(X [][]float64, idx []int, feature int) []float64 {
	values := make([]float64, len(idx))
	for i, j := range idx {
		values[i] = X[j][feature]
	}
	sort.Float64s(values)

	const maxCandidates = 32
	step := 1
	if len(values) > maxCandidates {
		step = len(values) / maxCandidates
	}

	var thresholds []float64
	for i := 0; i+step < len(values); i += step {
		if values[i] != values[i+step] {
			thresholds = append(thresholds, (values[i]+values[i+step])/2)
		}
	}
	return thresholds
}

func partition(X [][]float64, idx []int, feature int, threshold float64) (left, right []int) {
	for _, j := range idx {
		if X[j][feature] < threshold {
			left = append(left, j)
		} else {
			right = append(right, j)
		}
	}
	return left, right
}

func meanAndSSE(y []float64, idx []int) (float64, float64) {
	if len(idx) == 0 {
		return 0, 0
	}
	sum := 0.0
	for _, j := range idx {
		sum += y[j]
	}
	mean := sum / float64(len(idx))

	sse := 0.0
	for _, j := range idx {
		d := y[j] - mean
		sse += d * d
	}
	return mean, sse
}

func positiveFraction(y []float64, idx []int) float64 {
	if len(idx) == 0 {
		return 0
	}
	pos := 0.0
	for _, j := range idx {
		pos += y[j]
	}
	return pos / float64(len(idx))
}

func gini(p float64) float64 {
	return 1 - p*p - (1-p)*(1-p)
}
