package ml

import (
	"math"
	"sort"
)

// Outcome is the terminal fate of an inventory item.
type Outcome string

const (
	OutcomeConsume Outcome = "consume"
	OutcomeExpire  Outcome = "expire"
	OutcomeDiscard Outcome = "discard"
)

// Distance weights. These match the tuning of the original deployment and are
// kept as-is for behavioral compatibility.
const (
	categoryMismatchPenalty = 5.0
	consumptionCountScale   = 10.0
	averageDaysScale        = 3.0
)

const defaultNeighbors = 3

// LifecycleExample is one completed item lifecycle used as KNN training data.
type LifecycleExample struct {
	Category               string
	ConsumptionCount       float64
	AverageConsumptionDays *float64
	LifespanDays           float64
	Outcome                Outcome
}

// KNNPrediction is the classifier output for a single query.
type KNNPrediction struct {
	Outcome       Outcome `json:"outcome"`
	Confidence    float64 `json:"confidence"`
	EstimatedDays int     `json:"estimated_days"`
}

// KNNClassifier predicts an item's fate from its nearest historical
// lifecycles, weighting distance by category, consumption count and
// consumption cycle length. The training set is stored verbatim; at household
// scale no index structure is needed.
type KNNClassifier struct {
	k        int
	examples []LifecycleExample
}

// NewKNNClassifier creates a classifier selecting the k nearest neighbors.
// Non-positive k falls back to 3.
func NewKNNClassifier(k int) *KNNClassifier {
	if k <= 0 {
		k = defaultNeighbors
	}
	return &KNNClassifier{k: k}
}

// Train replaces the stored example set.
func (c *KNNClassifier) Train(examples []LifecycleExample) {
	c.examples = make([]LifecycleExample, len(examples))
	copy(c.examples, examples)
}

// Len returns the training set size.
func (c *KNNClassifier) Len() int { return len(c.examples) }

// Predict classifies a query item. With an empty training set it returns the
// fixed default {consume, 0, 30 days} rather than failing.
func (c *KNNClassifier) Predict(category string, consumptionCount float64, avgDays *float64) KNNPrediction {
	if len(c.examples) == 0 {
		return KNNPrediction{
			Outcome:       OutcomeConsume,
			Confidence:    0,
			EstimatedDays: 30,
		}
	}

	// Restrict to same-category neighbors; fall back to the full set when the
	// category has no history (the mismatch penalty only matters there).
	candidates := make([]LifecycleExample, 0, len(c.examples))
	for _, ex := range c.examples {
		if ex.Category == category {
			candidates = append(candidates, ex)
		}
	}
	if len(candidates) == 0 {
		candidates = c.examples
	}

	type scored struct {
		ex   LifecycleExample
		dist float64
	}
	ranked := make([]scored, len(candidates))
	for i, ex := range candidates {
		ranked[i] = scored{ex: ex, dist: c.distance(category, consumptionCount, avgDays, ex)}
	}
	// Stable sort keeps encounter order on ties.
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].dist < ranked[j].dist })

	k := c.k
	if k > len(ranked) {
		k = len(ranked)
	}
	nearest := ranked[:k]

	votes := make(map[Outcome]int, 3)
	daysSum := 0.0
	for _, n := range nearest {
		votes[n.ex.Outcome]++
		daysSum += n.ex.LifespanDays
	}

	winner := nearest[0].ex.Outcome
	best := 0
	for _, n := range nearest {
		if votes[n.ex.Outcome] > best {
			best = votes[n.ex.Outcome]
			winner = n.ex.Outcome
		}
	}

	return KNNPrediction{
		Outcome:       winner,
		Confidence:    float64(best) / float64(k),
		EstimatedDays: int(math.Round(daysSum / float64(k))),
	}
}

func (c *KNNClassifier) distance(category string, count float64, avgDays *float64, ex LifecycleExample) float64 {
	catTerm := 0.0
	if ex.Category != category {
		catTerm = categoryMismatchPenalty
	}

	queryAvg := DefaultAvgConsumptionDays
	if avgDays != nil && isFinite(*avgDays) {
		queryAvg = *avgDays
	}
	exAvg := DefaultAvgConsumptionDays
	if ex.AverageConsumptionDays != nil && isFinite(*ex.AverageConsumptionDays) {
		exAvg = *ex.AverageConsumptionDays
	}

	countTerm := (count - ex.ConsumptionCount) / consumptionCountScale
	avgTerm := (queryAvg - exAvg) / averageDaysScale

	return math.Sqrt(catTerm*catTerm + countTerm*countTerm + avgTerm*avgTerm)
}
