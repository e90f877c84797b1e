// Feature extraction for the consumption prediction models
package ml

import (
	"math"
	"sort"
	"time"
)

// NumFeatures is the fixed width of every feature vector consumed by the models.
const NumFeatures = 11

// Feature vector field order. Models rely on this layout staying fixed.
const (
	FeatAvgConsumptionDays = iota
	FeatConsumptionCount
	FeatDaysSinceLastConsumed
	FeatCategoryEncoded
	FeatDayOfWeek
	FeatMonth
	FeatIsWeekend
	FeatDaysUntilExpiry
	FeatItemAgeDays
	FeatUserTotalItems
	FeatUserAvgConsumptionFrequency
)

// Defaults substituted for missing or non-finite inputs.
const (
	DefaultAvgConsumptionDays = 30.0
	DefaultConsumptionCount   = 1.0
	// NeverConsumedDays flags "no consumption signal" to the models.
	NeverConsumedDays      = 999.0
	DefaultDaysUntilExpiry = 365.0
)

// Pattern is the numeric view of a consumption-pattern row. Nil pointer fields
// mean the statistic has never been observed.
type Pattern struct {
	UserID                 string
	ItemName               string
	Category               string
	AverageConsumptionDays *float64
	ConsumptionCount       int
	LastConsumed           *time.Time
}

// Item is the numeric view of an active inventory item.
type Item struct {
	ID         string
	Name       string
	Category   string
	ExpiryDate *time.Time
	CreatedAt  time.Time
}

// Event is a single lifecycle event (add/consume/expire/discard).
type Event struct {
	UserID    string
	ItemID    string
	ItemName  string
	Category  string
	EventType string
	EventDate time.Time
}

// UserStats holds per-user aggregates attached to every feature vector.
type UserStats struct {
	TotalItems              int
	AvgConsumptionFrequency float64
}

// ComputeUserStats derives aggregate statistics from a user's pattern rows.
func ComputeUserStats(patterns []Pattern) UserStats {
	stats := UserStats{
		TotalItems:              len(patterns),
		AvgConsumptionFrequency: DefaultAvgConsumptionDays,
	}

	sum := 0.0
	n := 0
	for _, p := range patterns {
		if p.AverageConsumptionDays != nil && isFinite(*p.AverageConsumptionDays) {
			sum += *p.AverageConsumptionDays
			n++
		}
	}
	if n > 0 {
		stats.AvgConsumptionFrequency = sum / float64(n)
	}
	return stats
}

// CategoryEncoder maps category strings to stable integer codes. Codes are
// assigned in sorted order when fitted at training time, so the encoding is
// deterministic across retrains over the same data; unseen categories at
// prediction time are appended on first sight.
type CategoryEncoder struct {
	indexes map[string]int
	names   []string
}

// NewCategoryEncoder creates an empty encoder.
func NewCategoryEncoder() *CategoryEncoder {
	return &CategoryEncoder{indexes: make(map[string]int)}
}

// Fit assigns codes to all distinct categories in sorted order, replacing any
// previous assignment.
func (e *CategoryEncoder) Fit(categories []string) {
	distinct := make(map[string]struct{}, len(categories))
	for _, c := range categories {
		distinct[c] = struct{}{}
	}

	sorted := make([]string, 0, len(distinct))
	for c := range distinct {
		sorted = append(sorted, c)
	}
	sort.Strings(sorted)

	e.indexes = make(map[string]int, len(sorted))
	e.names = sorted
	for i, c := range sorted {
		e.indexes[c] = i
	}
}

// Encode returns the code for a category, assigning the next free code on
// first sight. Exact string match only.
func (e *CategoryEncoder) Encode(category string) int {
	if idx, ok := e.indexes[category]; ok {
		return idx
	}
	idx := len(e.names)
	e.indexes[category] = idx
	e.names = append(e.names, category)
	return idx
}

// Name returns the category string for a code.
func (e *CategoryEncoder) Name(idx int) (string, bool) {
	if idx < 0 || idx >= len(e.names) {
		return "", false
	}
	return e.names[idx], true
}

// Len returns the number of known categories.
func (e *CategoryEncoder) Len() int { return len(e.names) }

// FeatureInput is the raw material for one feature vector. Nil pointer fields
// fall back to the documented defaults.
type FeatureInput struct {
	AvgConsumptionDays    *float64
	ConsumptionCount      *float64
	DaysSinceLastConsumed *float64
	Category              string
	AsOf                  time.Time
	DaysUntilExpiry       *float64
	ItemAgeDays           float64
	Stats                 UserStats
}

// FeatureExtractor assembles fixed-width feature vectors. It owns the category
// encoder so training and prediction share one encoding.
type FeatureExtractor struct {
	encoder *CategoryEncoder
}

// NewFeatureExtractor creates an extractor around the given encoder.
func NewFeatureExtractor(encoder *CategoryEncoder) *FeatureExtractor {
	if encoder == nil {
		encoder = NewCategoryEncoder()
	}
	return &FeatureExtractor{encoder: encoder}
}

// Encoder exposes the category encoder for training-time fitting.
func (fe *FeatureExtractor) Encoder() *CategoryEncoder { return fe.encoder }

// Vector builds the 11-dimensional feature vector. Output is always length 11
// and always finite; missing inputs are replaced by their defaults.
func (fe *FeatureExtractor) Vector(in FeatureInput) []float64 {
	v := make([]float64, NumFeatures)

	v[FeatAvgConsumptionDays] = finiteOr(in.AvgConsumptionDays, DefaultAvgConsumptionDays)
	v[FeatConsumptionCount] = finiteOr(in.ConsumptionCount, DefaultConsumptionCount)
	v[FeatDaysSinceLastConsumed] = finiteOr(in.DaysSinceLastConsumed, NeverConsumedDays)
	v[FeatCategoryEncoded] = float64(fe.encoder.Encode(in.Category))
	v[FeatDayOfWeek] = float64(in.AsOf.Weekday())
	v[FeatMonth] = float64(in.AsOf.Month())
	if wd := in.AsOf.Weekday(); wd == time.Saturday || wd == time.Sunday {
		v[FeatIsWeekend] = 1
	}
	v[FeatDaysUntilExpiry] = math.Max(0, finiteOr(in.DaysUntilExpiry, DefaultDaysUntilExpiry))
	v[FeatItemAgeDays] = math.Max(0, in.ItemAgeDays)
	v[FeatUserTotalItems] = float64(in.Stats.TotalItems)
	v[FeatUserAvgConsumptionFrequency] = in.Stats.AvgConsumptionFrequency
	if !isFinite(v[FeatUserAvgConsumptionFrequency]) || v[FeatUserAvgConsumptionFrequency] == 0 {
		v[FeatUserAvgConsumptionFrequency] = DefaultAvgConsumptionDays
	}

	return Sanitize(v)
}

// FromPattern builds a feature vector for a pattern and its (optional) active
// item as of the given date.
func (fe *FeatureExtractor) FromPattern(p *Pattern, item *Item, stats UserStats, asOf time.Time) []float64 {
	in := FeatureInput{AsOf: asOf, Stats: stats}

	if p != nil {
		in.Category = p.Category
		count := float64(p.ConsumptionCount)
		in.ConsumptionCount = &count
		in.AvgConsumptionDays = p.AverageConsumptionDays
		if p.LastConsumed != nil {
			days := asOf.Sub(*p.LastConsumed).Hours() / 24
			in.DaysSinceLastConsumed = &days
		}
	}

	if item != nil {
		if in.Category == "" {
			in.Category = item.Category
		}
		if item.ExpiryDate != nil {
			days := item.ExpiryDate.Sub(asOf).Hours() / 24
			in.DaysUntilExpiry = &days
		}
		if !item.CreatedAt.IsZero() {
			in.ItemAgeDays = asOf.Sub(item.CreatedAt).Hours() / 24
		}
	}

	return fe.Vector(in)
}

// featureDefaults is the index-aligned default table used when cleaning
// non-finite values out of a vector.
var featureDefaults = [NumFeatures]float64{
	FeatAvgConsumptionDays:          DefaultAvgConsumptionDays,
	FeatConsumptionCount:            DefaultConsumptionCount,
	FeatDaysSinceLastConsumed:       NeverConsumedDays,
	FeatCategoryEncoded:             0,
	FeatDayOfWeek:                   0,
	FeatMonth:                       1,
	FeatIsWeekend:                   0,
	FeatDaysUntilExpiry:             DefaultDaysUntilExpiry,
	FeatItemAgeDays:                 0,
	FeatUserTotalItems:              0,
	FeatUserAvgConsumptionFrequency: DefaultAvgConsumptionDays,
}

// Sanitize replaces every non-finite entry with its index-aligned default,
// in place. Vectors shorter than NumFeatures are padded with defaults.
func Sanitize(v []float64) []float64 {
	for len(v) < NumFeatures {
		v = append(v, featureDefaults[len(v)])
	}
	for i := range v {
		if i < NumFeatures && !isFinite(v[i]) {
			v[i] = featureDefaults[i]
		}
	}
	return v
}

func finiteOr(v *float64, fallback float64) float64 {
	if v == nil || !isFinite(*v) {
		return fallback
	}
	return *v
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
