package ml

import (
	"math"
	"math/rand"
	"testing"
)

// separableData builds a dataset where the first feature fully determines a
// low (~5) or high (~100) target.
func separableData(n int) (X [][]float64, days []float64, classes []int) {
	for i := 0; i < n; i++ {
		if i%2 == 0 {
			X = append(X, []float64{1, float64(i % 7)})
			days = append(days, 5+float64(i%3))
			classes = append(classes, 1)
		} else {
			X = append(X, []float64{100, float64(i % 7)})
			days = append(days, 100+float64(i%3))
			classes = append(classes, 0)
		}
	}
	return X, days, classes
}

func TestRegressionForest_Fit(t *testing.T) {
	X, days, _ := separableData(60)

	f := NewRegressionForest(DefaultForestConfig(), rand.New(rand.NewSource(1)))
	if f.Trained() {
		t.Error("Forest should not be trained before Fit")
	}
	if err := f.Fit(X, days); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}
	if !f.Trained() {
		t.Error("Forest should be trained after Fit")
	}

	low := f.Predict([]float64{1, 3})
	high := f.Predict([]float64{100, 3})
	if low > 30 {
		t.Errorf("Low-feature prediction should be near 5-ish, got %f", low)
	}
	if high < 70 {
		t.Errorf("High-feature prediction should be near 100-ish, got %f", high)
	}
}

func TestRegressionForest_RejectsBadShape(t *testing.T) {
	f := NewRegressionForest(DefaultForestConfig(), rand.New(rand.NewSource(1)))

	if err := f.Fit(nil, nil); err == nil {
		t.Error("Fit should reject empty training data")
	}
	if err := f.Fit([][]float64{{1}}, []float64{1, 2}); err == nil {
		t.Error("Fit should reject mismatched lengths")
	}
}

func TestClassificationForest_Fit(t *testing.T) {
	X, _, classes := separableData(60)

	f := NewClassificationForest(DefaultForestConfig(), rand.New(rand.NewSource(2)))
	if err := f.Fit(X, classes); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	label, prob := f.Predict([]float64{1, 3})
	if label != 1 {
		t.Errorf("Low-feature point should classify positive, got %d (prob %f)", label, prob)
	}
	label, prob = f.Predict([]float64{100, 3})
	if label != 0 {
		t.Errorf("High-feature point should classify negative, got %d (prob %f)", label, prob)
	}
	if prob < 0 || prob > 1 {
		t.Errorf("Vote fraction out of range: %f", prob)
	}
}

func TestForest_UntrainedPredicts(t *testing.T) {
	reg := NewRegressionForest(DefaultForestConfig(), rand.New(rand.NewSource(3)))
	if got := reg.Predict([]float64{1}); got != 0 {
		t.Errorf("Untrained regression forest should predict 0, got %f", got)
	}

	cls := NewClassificationForest(DefaultForestConfig(), rand.New(rand.NewSource(3)))
	if label, prob := cls.Predict([]float64{1}); label != 0 || prob != 0 {
		t.Errorf("Untrained classifier should predict (0, 0), got (%d, %f)", label, prob)
	}
}

func TestForest_Reproducibility(t *testing.T) {
	X, days, _ := separableData(40)

	f1 := NewRegressionForest(DefaultForestConfig(), rand.New(rand.NewSource(42)))
	f2 := NewRegressionForest(DefaultForestConfig(), rand.New(rand.NewSource(42)))
	if err := f1.Fit(X, days); err != nil {
		t.Fatal(err)
	}
	if err := f2.Fit(X, days); err != nil {
		t.Fatal(err)
	}

	for _, q := range [][]float64{{1, 0}, {50, 2}, {100, 6}} {
		if p1, p2 := f1.Predict(q), f2.Predict(q); math.Abs(p1-p2) > 1e-12 {
			t.Errorf("Same seed should give identical predictions: %f vs %f", p1, p2)
		}
	}
}

func TestForestConfig_Defaults(t *testing.T) {
	cfg := ForestConfig{}.withDefaults()
	if cfg.NumTrees != 50 {
		t.Errorf("Expected 50 trees, got %d", cfg.NumTrees)
	}
	if cfg.FeatureFraction != 0.8 {
		t.Errorf("Expected feature fraction 0.8, got %f", cfg.FeatureFraction)
	}
	if cfg.MaxDepth != 10 || cfg.MinSamplesLeaf != 2 {
		t.Errorf("Unexpected defaults: %+v", cfg)
	}

	custom := ForestConfig{NumTrees: 10, MaxDepth: 3, MinSamplesLeaf: 1, FeatureFraction: 0.5}.withDefaults()
	if custom.NumTrees != 10 || custom.FeatureFraction != 0.5 {
		t.Errorf("Explicit values must survive: %+v", custom)
	}
}

func TestFeaturesPerTree(t *testing.T) {
	// ceil(0.8 * 11) = 9 of the 11 features per tree.
	if got := featuresPerTree(11, 0.8); got != 9 {
		t.Errorf("Expected 9 features per tree, got %d", got)
	}
	if got := featuresPerTree(1, 0.1); got != 1 {
		t.Errorf("Should never select fewer than one feature, got %d", got)
	}
	if got := featuresPerTree(5, 1.0); got != 5 {
		t.Errorf("Full fraction should select all features, got %d", got)
	}
}

func TestSelectFeatures_Distinct(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	feats := selectFeatures(rng, 11, 9)
	if len(feats) != 9 {
		t.Fatalf("Expected 9 features, got %d", len(feats))
	}
	seen := make(map[int]bool)
	for _, f := range feats {
		if f < 0 || f >= 11 {
			t.Errorf("Feature index out of range: %d", f)
		}
		if seen[f] {
			t.Errorf("Duplicate feature index: %d", f)
		}
		seen[f] = true
	}
}
