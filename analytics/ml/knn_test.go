package ml

import (
	"math"
	"testing"
)

func knnExample(category string, count, lifespan float64, avg *float64, outcome Outcome) LifecycleExample {
	return LifecycleExample{
		Category:               category,
		ConsumptionCount:       count,
		AverageConsumptionDays: avg,
		LifespanDays:           lifespan,
		Outcome:                outcome,
	}
}

func TestKNN_EmptyTrainingSet(t *testing.T) {
	c := NewKNNClassifier(3)

	pred := c.Predict("Dairy", 5, nil)
	if pred.Outcome != OutcomeConsume {
		t.Errorf("Empty classifier should default to consume, got %s", pred.Outcome)
	}
	if pred.Confidence != 0 {
		t.Errorf("Empty classifier confidence should be 0, got %f", pred.Confidence)
	}
	if pred.EstimatedDays != 30 {
		t.Errorf("Empty classifier should estimate 30 days, got %d", pred.EstimatedDays)
	}
}

func TestKNN_DefaultK(t *testing.T) {
	if c := NewKNNClassifier(0); c.k != 3 {
		t.Errorf("Non-positive k should fall back to 3, got %d", c.k)
	}
	if c := NewKNNClassifier(-2); c.k != 3 {
		t.Errorf("Negative k should fall back to 3, got %d", c.k)
	}
}

func TestKNN_CategoryRestriction(t *testing.T) {
	avg := 5.0
	c := NewKNNClassifier(3)
	c.Train([]LifecycleExample{
		knnExample("Dairy", 6, 4, &avg, OutcomeConsume),
		knnExample("Dairy", 5, 6, &avg, OutcomeConsume),
		knnExample("Dairy", 7, 5, &avg, OutcomeConsume),
		// A much "closer" example in raw numbers but the wrong category.
		knnExample("Produce", 6, 90, &avg, OutcomeExpire),
	})

	pred := c.Predict("Dairy", 6, &avg)
	if pred.Outcome != OutcomeConsume {
		t.Errorf("Dairy query should only see Dairy neighbors, got %s", pred.Outcome)
	}
	if pred.EstimatedDays != 5 {
		t.Errorf("Expected mean lifespan 5 from Dairy neighbors, got %d", pred.EstimatedDays)
	}
	if pred.Confidence != 1 {
		t.Errorf("Unanimous vote should yield confidence 1, got %f", pred.Confidence)
	}
}

func TestKNN_FallbackToFullSet(t *testing.T) {
	avg := 10.0
	c := NewKNNClassifier(2)
	c.Train([]LifecycleExample{
		knnExample("Produce", 3, 12, &avg, OutcomeExpire),
		knnExample("Bakery", 4, 8, &avg, OutcomeConsume),
	})

	// No "Frozen" neighbors exist; the whole set becomes candidates.
	pred := c.Predict("Frozen", 3, &avg)
	if pred.EstimatedDays != 10 {
		t.Errorf("Expected mean of all lifespans 10, got %d", pred.EstimatedDays)
	}
}

func TestKNN_ConfidenceIsVoteFraction(t *testing.T) {
	avg := 10.0
	c := NewKNNClassifier(3)
	c.Train([]LifecycleExample{
		knnExample("Dairy", 5, 5, &avg, OutcomeConsume),
		knnExample("Dairy", 5, 6, &avg, OutcomeConsume),
		knnExample("Dairy", 5, 40, &avg, OutcomeExpire),
	})

	pred := c.Predict("Dairy", 5, &avg)
	if pred.Outcome != OutcomeConsume {
		t.Errorf("Majority outcome should win, got %s", pred.Outcome)
	}
	want := 2.0 / 3.0
	if math.Abs(pred.Confidence-want) > 1e-9 {
		t.Errorf("Expected confidence %f, got %f", want, pred.Confidence)
	}
}

func TestKNN_ConfidenceBounds(t *testing.T) {
	avg := 10.0
	c := NewKNNClassifier(4)
	examples := []LifecycleExample{
		knnExample("Dairy", 1, 3, &avg, OutcomeConsume),
		knnExample("Dairy", 2, 9, &avg, OutcomeExpire),
		knnExample("Dairy", 3, 15, &avg, OutcomeDiscard),
		knnExample("Dairy", 4, 21, &avg, OutcomeConsume),
		knnExample("Produce", 5, 27, &avg, OutcomeExpire),
	}
	c.Train(examples)

	for count := 0.0; count < 10; count++ {
		pred := c.Predict("Dairy", count, &avg)
		if pred.Confidence < 0 || pred.Confidence > 1 {
			t.Fatalf("Confidence out of [0,1]: %f", pred.Confidence)
		}
		// Confidence is always a multiple of 1/k.
		scaled := pred.Confidence * 4
		if math.Abs(scaled-math.Round(scaled)) > 1e-9 {
			t.Fatalf("Confidence %f is not a multiple of 1/4", pred.Confidence)
		}
	}
}

func TestKNN_KLargerThanTrainingSet(t *testing.T) {
	avg := 10.0
	c := NewKNNClassifier(10)
	c.Train([]LifecycleExample{
		knnExample("Dairy", 5, 4, &avg, OutcomeConsume),
		knnExample("Dairy", 5, 6, &avg, OutcomeConsume),
	})

	pred := c.Predict("Dairy", 5, &avg)
	if pred.EstimatedDays != 5 {
		t.Errorf("k should shrink to the candidate count; expected mean 5, got %d", pred.EstimatedDays)
	}
	if pred.Confidence != 1 {
		t.Errorf("Expected confidence 1 over 2 neighbors, got %f", pred.Confidence)
	}
}

func TestKNN_MissingAveragesUseDefault(t *testing.T) {
	c := NewKNNClassifier(1)
	c.Train([]LifecycleExample{
		knnExample("Dairy", 5, 7, nil, OutcomeConsume),
	})

	// Both sides default to 30; only the count term differs.
	pred := c.Predict("Dairy", 5, nil)
	if pred.Outcome != OutcomeConsume || pred.EstimatedDays != 7 {
		t.Errorf("Unexpected prediction: %+v", pred)
	}
}

func TestKNN_DistanceMetric(t *testing.T) {
	c := NewKNNClassifier(3)

	queryAvg := 30.0
	exAvg := 24.0
	ex := knnExample("Produce", 10, 0, &exAvg, OutcomeExpire)

	// Different category: sqrt(5^2 + (20/10)^2 + (6/3)^2) = sqrt(25+4+4).
	got := c.distance("Dairy", 30, &queryAvg, ex)
	want := math.Sqrt(33)
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("Expected distance %f, got %f", want, got)
	}

	// Same category drops the penalty term.
	ex.Category = "Dairy"
	got = c.distance("Dairy", 30, &queryAvg, ex)
	want = math.Sqrt(8)
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("Expected distance %f, got %f", want, got)
	}
}
