// Ensemble consumption predictor.
//
// Raw lifecycle rows are deleted once an item leaves the inventory, so there
// is no per-item history to fit on. The predictor instead synthesizes a
// training set from the aggregate consumption patterns, crossing
// days-since-last-consumed scenarios with fixed expiry horizons, then fits a
// regression forest (days until consumption) and a classification forest
// (consumed within 7 days) over the synthetic examples.
package ml

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"
)

// ErrInsufficientData signals that too few clean training examples exist to
// fit the ensemble. Callers should treat predictions as unavailable rather
// than retry immediately.
var ErrInsufficientData = errors.New("insufficient training data")

const (
	// MinTrainingExamples is the minimum number of clean synthetic examples
	// required to fit.
	MinTrainingExamples = 10

	consumeSoonDays   = 7
	maxSyntheticDays  = 180.0
	maxTargetDays     = 365.0
	frequentItemCount = 5
	frequentNoiseDays = 1.0
	sparseNoiseDays   = 5.0

	// placeholderConfidence is reported with every ensemble prediction. A
	// known simplification: no out-of-bag or interval estimate backs it.
	placeholderConfidence = 0.8

	// noHistoryConfidence is reported when an item has no matching pattern.
	noHistoryConfidence = 0.1
)

var expiryHorizons = []float64{30, 90, 180, 365}

// TrainingExample is a synthetic feature/target pair. Discarded after fitting.
type TrainingExample struct {
	Features             []float64
	DaysTarget           float64
	ClassificationTarget int
}

// EnsemblePrediction is the per-item output of the trained ensemble.
type EnsemblePrediction struct {
	ItemID                 string  `json:"item_id"`
	ItemName               string  `json:"item_name"`
	Category               string  `json:"category"`
	DaysUntilConsumption   *int    `json:"days_until_consumption"`
	WillConsumeWithin7Days bool    `json:"will_consume_within_7_days"`
	Confidence             float64 `json:"confidence"`
	HasHistory             bool    `json:"has_history"`
}

// EnsemblePredictor owns the two forests, the feature extractor and the
// category encoding they share. Training is all-or-nothing: a failed fit
// leaves any previously trained state in place.
type EnsemblePredictor struct {
	cfg       ForestConfig
	rng       *rand.Rand
	extractor *FeatureExtractor

	regressor  *RegressionForest
	classifier *ClassificationForest
	trained    bool
	trainedAt  time.Time
}

// NewEnsemblePredictor creates an untrained predictor. The random source
// drives both synthetic noise injection and forest sampling; seed it for
// reproducible training.
func NewEnsemblePredictor(cfg ForestConfig, rng *rand.Rand) *EnsemblePredictor {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &EnsemblePredictor{
		cfg:       cfg.withDefaults(),
		rng:       rng,
		extractor: NewFeatureExtractor(NewCategoryEncoder()),
	}
}

// Trained reports whether a successful fit has completed.
func (e *EnsemblePredictor) Trained() bool { return e.trained }

// TrainedAt returns the time of the last successful fit.
func (e *EnsemblePredictor) TrainedAt() time.Time { return e.trainedAt }

// Train synthesizes examples from the given patterns and fits both forests.
// Returns ErrInsufficientData when fewer than MinTrainingExamples clean
// examples survive validation.
func (e *EnsemblePredictor) Train(patterns []Pattern, now time.Time) error {
	categories := make([]string, 0, len(patterns))
	for _, p := range patterns {
		categories = append(categories, p.Category)
	}
	// Fit into a scratch extractor so a failed run cannot disturb the
	// encoding the current model was trained with.
	extractor := NewFeatureExtractor(NewCategoryEncoder())
	extractor.Encoder().Fit(categories)

	examples := e.generateTrainingData(extractor, patterns, now)
	examples = CleanTrainingData(examples)
	if len(examples) < MinTrainingExamples {
		return fmt.Errorf("%w: %d clean examples, need %d", ErrInsufficientData, len(examples), MinTrainingExamples)
	}

	X := make([][]float64, len(examples))
	days := make([]float64, len(examples))
	classes := make([]int, len(examples))
	for i, ex := range examples {
		X[i] = ex.Features
		days[i] = ex.DaysTarget
		classes[i] = ex.ClassificationTarget
	}

	regressor := NewRegressionForest(e.cfg, e.rng)
	if err := regressor.Fit(X, days); err != nil {
		return fmt.Errorf("fit regression forest: %w", err)
	}
	classifier := NewClassificationForest(e.cfg, e.rng)
	if err := classifier.Fit(X, classes); err != nil {
		return fmt.Errorf("fit classification forest: %w", err)
	}

	e.extractor = extractor
	e.regressor = regressor
	e.classifier = classifier
	e.trained = true
	e.trainedAt = now
	return nil
}

// GenerateTrainingData expands every consumed-at-least-once pattern into 16
// synthetic examples: 4 days-since-last-consumed scenarios crossed with 4
// expiry horizons.
func (e *EnsemblePredictor) GenerateTrainingData(patterns []Pattern, now time.Time) []TrainingExample {
	return e.generateTrainingData(e.extractor, patterns, now)
}

func (e *EnsemblePredictor) generateTrainingData(extractor *FeatureExtractor, patterns []Pattern, now time.Time) []TrainingExample {
	byUser := make(map[string][]Pattern)
	for _, p := range patterns {
		byUser[p.UserID] = append(byUser[p.UserID], p)
	}
	statsByUser := make(map[string]UserStats, len(byUser))
	for user, ps := range byUser {
		statsByUser[user] = ComputeUserStats(ps)
	}

	var examples []TrainingExample
	for _, p := range patterns {
		if p.ConsumptionCount <= 0 {
			continue
		}

		avg := DefaultAvgConsumptionDays
		if p.AverageConsumptionDays != nil && isFinite(*p.AverageConsumptionDays) {
			avg = *p.AverageConsumptionDays
		}
		scenarios := []float64{0, avg / 2, avg, avg * 1.5}
		stats := statsByUser[p.UserID]
		count := float64(p.ConsumptionCount)

		noiseAmp := sparseNoiseDays
		if p.ConsumptionCount > frequentItemCount {
			noiseAmp = frequentNoiseDays
		}

		for _, sinceLast := range scenarios {
			for _, horizon := range expiryHorizons {
				target := math.Max(1, avg-sinceLast)
				target += (e.rng.Float64()*2 - 1) * noiseAmp
				target = clamp(target, 1, maxSyntheticDays)

				class := 0
				if target <= consumeSoonDays {
					class = 1
				}

				sl, h, cc, ad := sinceLast, horizon, count, avg
				features := extractor.Vector(FeatureInput{
					AvgConsumptionDays:    &ad,
					ConsumptionCount:      &cc,
					DaysSinceLastConsumed: &sl,
					Category:              p.Category,
					AsOf:                  now,
					DaysUntilExpiry:       &h,
					Stats:                 stats,
				})

				examples = append(examples, TrainingExample{
					Features:             features,
					DaysTarget:           target,
					ClassificationTarget: class,
				})
			}
		}
	}
	return examples
}

// CleanTrainingData validates examples before fitting: non-finite features
// are replaced from the default table, targets are clamped to [1,365], the
// classification target is re-derived from the clamped days target when it is
// not already 0/1, and examples still carrying non-finite features are
// dropped.
func CleanTrainingData(examples []TrainingExample) []TrainingExample {
	clean := examples[:0]
	for _, ex := range examples {
		ex.Features = Sanitize(ex.Features)

		finite := true
		for _, v := range ex.Features {
			if !isFinite(v) {
				finite = false
				break
			}
		}
		if !finite || !isFinite(ex.DaysTarget) {
			continue
		}

		ex.DaysTarget = clamp(ex.DaysTarget, 1, maxTargetDays)
		if ex.ClassificationTarget != 0 && ex.ClassificationTarget != 1 {
			ex.ClassificationTarget = 0
		}
		if derived := deriveClass(ex.DaysTarget); ex.ClassificationTarget != derived {
			ex.ClassificationTarget = derived
		}

		clean = append(clean, ex)
	}
	return clean
}

func deriveClass(daysTarget float64) int {
	if daysTarget <= consumeSoonDays {
		return 1
	}
	return 0
}

// PredictInventory runs both forests over every active item. Items without a
// matching pattern (case-insensitive name match) get the documented
// no-historical-data result instead of a guess.
func (e *EnsemblePredictor) PredictInventory(items []Item, patterns []Pattern, now time.Time) ([]EnsemblePrediction, error) {
	if !e.trained {
		return nil, fmt.Errorf("%w: ensemble not trained", ErrInsufficientData)
	}

	stats := ComputeUserStats(patterns)
	predictions := make([]EnsemblePrediction, 0, len(items))

	for i := range items {
		item := items[i]
		pattern := matchPattern(patterns, item.Name)

		if pattern == nil {
			predictions = append(predictions, EnsemblePrediction{
				ItemID:     item.ID,
				ItemName:   item.Name,
				Category:   item.Category,
				Confidence: noHistoryConfidence,
			})
			continue
		}

		features := e.extractor.FromPattern(pattern, &item, stats, now)
		days := int(math.Round(math.Max(0, e.regressor.Predict(features))))
		label, _ := e.classifier.Predict(features)

		predictions = append(predictions, EnsemblePrediction{
			ItemID:                 item.ID,
			ItemName:               item.Name,
			Category:               item.Category,
			DaysUntilConsumption:   &days,
			WillConsumeWithin7Days: label == 1,
			Confidence:             placeholderConfidence,
			HasHistory:             true,
		})
	}
	return predictions, nil
}

func matchPattern(patterns []Pattern, name string) *Pattern {
	for i := range patterns {
		if strings.EqualFold(patterns[i].ItemName, name) {
			return &patterns[i]
		}
	}
	return nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
