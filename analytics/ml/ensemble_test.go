package ml

import (
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"
)

func testPatterns(n int) []Pattern {
	patterns := make([]Pattern, n)
	for i := range patterns {
		avg := 5.0 + float64(i)
		last := time.Now().AddDate(0, 0, -(i + 1))
		patterns[i] = Pattern{
			UserID:                 "u1",
			ItemName:               []string{"Milk", "Bread", "Eggs", "Yogurt", "Cheese"}[i%5],
			Category:               []string{"Dairy", "Bakery"}[i%2],
			AverageConsumptionDays: &avg,
			ConsumptionCount:       3 + i,
			LastConsumed:           &last,
		}
	}
	return patterns
}

func TestGenerateTrainingData_SixteenPerPattern(t *testing.T) {
	e := NewEnsemblePredictor(DefaultForestConfig(), rand.New(rand.NewSource(1)))
	patterns := testPatterns(3)

	examples := e.GenerateTrainingData(patterns, time.Now())
	if len(examples) != 48 {
		t.Fatalf("Expected 3 patterns x 16 examples = 48, got %d", len(examples))
	}

	for i, ex := range examples {
		if len(ex.Features) != NumFeatures {
			t.Errorf("Example %d has %d features", i, len(ex.Features))
		}
		if ex.DaysTarget < 1 || ex.DaysTarget > 180 {
			t.Errorf("Example %d target out of [1,180]: %f", i, ex.DaysTarget)
		}
		wantClass := 0
		if ex.DaysTarget <= 7 {
			wantClass = 1
		}
		if ex.ClassificationTarget != wantClass {
			t.Errorf("Example %d class %d does not match target %f", i, ex.ClassificationTarget, ex.DaysTarget)
		}
	}
}

func TestGenerateTrainingData_SkipsNeverConsumed(t *testing.T) {
	e := NewEnsemblePredictor(DefaultForestConfig(), rand.New(rand.NewSource(1)))

	patterns := testPatterns(2)
	patterns = append(patterns, Pattern{UserID: "u1", ItemName: "Salt", Category: "Pantry", ConsumptionCount: 0})

	examples := e.GenerateTrainingData(patterns, time.Now())
	if len(examples) != 32 {
		t.Errorf("Zero-count pattern should generate nothing; expected 32, got %d", len(examples))
	}
}

func TestCleanTrainingData_RederivesClass(t *testing.T) {
	examples := []TrainingExample{
		{Features: make([]float64, NumFeatures), DaysTarget: 3, ClassificationTarget: 0},
		{Features: make([]float64, NumFeatures), DaysTarget: 40, ClassificationTarget: 1},
		{Features: make([]float64, NumFeatures), DaysTarget: 500, ClassificationTarget: 7},
	}

	clean := CleanTrainingData(examples)
	if len(clean) != 3 {
		t.Fatalf("Expected 3 clean examples, got %d", len(clean))
	}

	for i, ex := range clean {
		wantClass := 0
		if ex.DaysTarget <= 7 {
			wantClass = 1
		}
		if ex.ClassificationTarget != wantClass {
			t.Errorf("Example %d: class %d not re-derived from target %f", i, ex.ClassificationTarget, ex.DaysTarget)
		}
	}
	if clean[2].DaysTarget != 365 {
		t.Errorf("Target should clamp to 365, got %f", clean[2].DaysTarget)
	}
}

func TestCleanTrainingData_DropsNonFiniteTargets(t *testing.T) {
	examples := []TrainingExample{
		{Features: make([]float64, NumFeatures), DaysTarget: math.NaN()},
		{Features: []float64{math.Inf(1)}, DaysTarget: 10}, // sanitized then kept
		{Features: make([]float64, NumFeatures), DaysTarget: 10},
	}

	clean := CleanTrainingData(examples)
	if len(clean) != 2 {
		t.Fatalf("NaN target should be dropped; expected 2, got %d", len(clean))
	}
	for _, ex := range clean {
		for i, v := range ex.Features {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				t.Errorf("Feature %d not sanitized: %f", i, v)
			}
		}
	}
}

func TestCleanTrainingData_TooFewSurvivors(t *testing.T) {
	e := NewEnsemblePredictor(DefaultForestConfig(), rand.New(rand.NewSource(1)))
	examples := e.GenerateTrainingData(testPatterns(3), time.Now())
	if len(examples) != 48 {
		t.Fatalf("Expected 48 raw examples, got %d", len(examples))
	}

	// Poison all but 2 examples; cleaning must leave too few to train on.
	for i := range examples[:46] {
		examples[i].DaysTarget = math.NaN()
	}
	clean := CleanTrainingData(examples)
	if len(clean) != 2 {
		t.Fatalf("Expected 2 survivors, got %d", len(clean))
	}
	if len(clean) >= MinTrainingExamples {
		t.Fatalf("%d survivors should be under the %d-example training floor", len(clean), MinTrainingExamples)
	}
}

func TestEnsemble_InsufficientData(t *testing.T) {
	e := NewEnsemblePredictor(DefaultForestConfig(), rand.New(rand.NewSource(1)))

	err := e.Train(nil, time.Now())
	if !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("Expected ErrInsufficientData, got %v", err)
	}
	if e.Trained() {
		t.Error("Failed training must not mark the predictor trained")
	}

	// One zero-count pattern yields zero examples as well.
	err = e.Train([]Pattern{{UserID: "u1", ItemName: "Salt", ConsumptionCount: 0}}, time.Now())
	if !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("Expected ErrInsufficientData, got %v", err)
	}
}

func TestEnsemble_TrainAndPredict(t *testing.T) {
	e := NewEnsemblePredictor(DefaultForestConfig(), rand.New(rand.NewSource(5)))
	now := time.Now()
	patterns := testPatterns(4)

	if err := e.Train(patterns, now); err != nil {
		t.Fatalf("Training failed: %v", err)
	}
	if !e.Trained() {
		t.Fatal("Predictor should be trained")
	}
	if !e.TrainedAt().Equal(now) {
		t.Errorf("TrainedAt should be the training time")
	}

	expiry := now.AddDate(0, 0, 4)
	items := []Item{
		{ID: "i1", Name: "milk", Category: "Dairy", ExpiryDate: &expiry, CreatedAt: now.AddDate(0, 0, -2)},
		{ID: "i2", Name: "Caviar", Category: "Luxury"},
	}

	preds, err := e.PredictInventory(items, patterns, now)
	if err != nil {
		t.Fatalf("PredictInventory failed: %v", err)
	}
	if len(preds) != 2 {
		t.Fatalf("Expected 2 predictions, got %d", len(preds))
	}

	// Case-insensitive name match against the "Milk" pattern.
	withHistory := preds[0]
	if !withHistory.HasHistory {
		t.Error("milk should match the Milk pattern case-insensitively")
	}
	if withHistory.DaysUntilConsumption == nil {
		t.Fatal("Matched item should carry a days estimate")
	}
	if *withHistory.DaysUntilConsumption < 0 {
		t.Errorf("Days estimate should be non-negative, got %d", *withHistory.DaysUntilConsumption)
	}
	if withHistory.Confidence != 0.8 {
		t.Errorf("Expected placeholder confidence 0.8, got %f", withHistory.Confidence)
	}

	noHistory := preds[1]
	if noHistory.HasHistory {
		t.Error("Caviar has no pattern and should be flagged accordingly")
	}
	if noHistory.DaysUntilConsumption != nil {
		t.Error("No-history prediction should not guess a day count")
	}
	if noHistory.WillConsumeWithin7Days {
		t.Error("No-history prediction should not claim consumption within 7 days")
	}
	if noHistory.Confidence != 0.1 {
		t.Errorf("Expected no-history confidence 0.1, got %f", noHistory.Confidence)
	}
}

func TestEnsemble_PredictRequiresTraining(t *testing.T) {
	e := NewEnsemblePredictor(DefaultForestConfig(), rand.New(rand.NewSource(1)))

	_, err := e.PredictInventory([]Item{{ID: "i1", Name: "Milk"}}, nil, time.Now())
	if !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("Untrained predictor should return ErrInsufficientData, got %v", err)
	}
}

func TestEnsemble_FailedRetrainKeepsState(t *testing.T) {
	e := NewEnsemblePredictor(DefaultForestConfig(), rand.New(rand.NewSource(9)))
	now := time.Now()

	if err := e.Train(testPatterns(4), now); err != nil {
		t.Fatalf("Training failed: %v", err)
	}
	encoder := e.extractor.Encoder()
	if encoder.Len() != 2 {
		t.Fatalf("Expected 2 fitted categories, got %d", encoder.Len())
	}
	dairyCode := encoder.Encode("Dairy")

	// Retraining on an empty dataset fails but must leave the trained models.
	if err := e.Train(nil, now.Add(time.Hour)); !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("Expected ErrInsufficientData, got %v", err)
	}
	if !e.Trained() {
		t.Error("Failed retrain must not discard the previous model")
	}
	if !e.TrainedAt().Equal(now) {
		t.Error("Failed retrain must not advance the training timestamp")
	}

	// The category encoding the surviving forests were fitted with must
	// survive too, or predictions would re-encode in encounter order.
	if got := e.extractor.Encoder(); got.Len() != 2 {
		t.Errorf("Failed retrain must not refit the encoder: %d categories, want 2", got.Len())
	}
	if got := e.extractor.Encoder().Encode("Dairy"); got != dairyCode {
		t.Errorf("Dairy code changed across failed retrain: %d -> %d", dairyCode, got)
	}
}

func TestEnsemble_ReproducibleWithSeed(t *testing.T) {
	now := time.Date(2026, time.May, 1, 0, 0, 0, 0, time.UTC)
	patterns := testPatterns(4)

	e1 := NewEnsemblePredictor(DefaultForestConfig(), rand.New(rand.NewSource(123)))
	e2 := NewEnsemblePredictor(DefaultForestConfig(), rand.New(rand.NewSource(123)))
	if err := e1.Train(patterns, now); err != nil {
		t.Fatal(err)
	}
	if err := e2.Train(patterns, now); err != nil {
		t.Fatal(err)
	}

	items := []Item{{ID: "i1", Name: "Milk", Category: "Dairy", CreatedAt: now.AddDate(0, 0, -1)}}
	p1, err := e1.PredictInventory(items, patterns, now)
	if err != nil {
		t.Fatal(err)
	}
	p2, err := e2.PredictInventory(items, patterns, now)
	if err != nil {
		t.Fatal(err)
	}

	if *p1[0].DaysUntilConsumption != *p2[0].DaysUntilConsumption {
		t.Errorf("Seeded training should be deterministic: %d vs %d",
			*p1[0].DaysUntilConsumption, *p2[0].DaysUntilConsumption)
	}
	if p1[0].WillConsumeWithin7Days != p2[0].WillConsumeWithin7Days {
		t.Error("Seeded training should give identical classifications")
	}
}
