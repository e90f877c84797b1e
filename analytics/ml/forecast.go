package ml

import (
	"math"
	"sort"
	"time"
)

// Category forecaster tuning.
const (
	topItemsPerCategory = 3
	// Confidence is min(consumption_count/10, 0.9): a capped linear function
	// of frequency, not a calibrated probability. Known simplification.
	confidencePerConsumption = 0.1
	confidenceCap            = 0.9
)

// Trend forecaster tuning.
const (
	TrendWindowDays  = 30
	trendHistoryDays = 14
	movingAvgWindow  = 7
	ForecastDays     = 7
	trendConfidence  = 0.6
)

// ItemForecast predicts when a single item is next likely to be consumed.
type ItemForecast struct {
	ItemName      string  `json:"item_name"`
	Category      string  `json:"category"`
	DaysUntilNext float64 `json:"days_until_next"`
	Confidence    float64 `json:"confidence"`
}

// CategoryForecast lists the most likely next-consumed items in one category.
type CategoryForecast struct {
	Category string         `json:"category"`
	Items    []ItemForecast `json:"items"`
}

// ConsumptionForecaster ranks items by consumption frequency within and
// across categories.
type ConsumptionForecaster struct{}

// NewConsumptionForecaster creates a forecaster.
func NewConsumptionForecaster() *ConsumptionForecaster {
	return &ConsumptionForecaster{}
}

// PredictCategory returns up to the top 3 most-consumed items in a category.
func (f *ConsumptionForecaster) PredictCategory(patterns []Pattern, category string) CategoryForecast {
	var matched []Pattern
	for _, p := range patterns {
		if p.Category == category {
			matched = append(matched, p)
		}
	}

	return CategoryForecast{
		Category: category,
		Items:    f.rankPatterns(matched, topItemsPerCategory),
	}
}

// PredictOverall takes the single most-consumed item from every category,
// sorted by confidence descending.
func (f *ConsumptionForecaster) PredictOverall(patterns []Pattern) []ItemForecast {
	byCategory := make(map[string][]Pattern)
	for _, p := range patterns {
		byCategory[p.Category] = append(byCategory[p.Category], p)
	}

	var top []ItemForecast
	for _, group := range byCategory {
		top = append(top, f.rankPatterns(group, 1)...)
	}
	sort.SliceStable(top, func(i, j int) bool { return top[i].Confidence > top[j].Confidence })
	return top
}

func (f *ConsumptionForecaster) rankPatterns(patterns []Pattern, limit int) []ItemForecast {
	ranked := make([]Pattern, len(patterns))
	copy(ranked, patterns)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].ConsumptionCount > ranked[j].ConsumptionCount
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	forecasts := make([]ItemForecast, len(ranked))
	for i, p := range ranked {
		days := DefaultAvgConsumptionDays
		if p.AverageConsumptionDays != nil && isFinite(*p.AverageConsumptionDays) {
			days = *p.AverageConsumptionDays
		}
		forecasts[i] = ItemForecast{
			ItemName:      p.ItemName,
			Category:      p.Category,
			DaysUntilNext: days,
			Confidence:    math.Min(float64(p.ConsumptionCount)*confidencePerConsumption, confidenceCap),
		}
	}
	return forecasts
}

// TrendForecast is a 7-day consumption-volume forecast extrapolated from a
// 7-day moving average over the last two weeks of consume events.
type TrendForecast struct {
	Daily         []int     `json:"daily"`
	MovingAverage []float64 `json:"moving_average"`
	Trend         float64   `json:"trend"`
	Confidence    float64   `json:"confidence"`
	Failed        bool      `json:"failed,omitempty"`
	Error         string    `json:"error,omitempty"`
}

// TrendForecaster extrapolates short-term consumption volume.
type TrendForecaster struct{}

// NewTrendForecaster creates a forecaster.
func NewTrendForecaster() *TrendForecaster {
	return &TrendForecaster{}
}

// Forecast builds the 7-day forecast from consume events within the 30-day
// window before now. Days with no events count as zero.
func (f *TrendForecaster) Forecast(events []Event, now time.Time) TrendForecast {
	cutoff := now.AddDate(0, 0, -TrendWindowDays)
	countsByDate := make(map[string]int)
	for _, ev := range events {
		if ev.EventDate.Before(cutoff) || ev.EventDate.After(now) {
			continue
		}
		countsByDate[ev.EventDate.Format("2006-01-02")]++
	}

	history := make([]float64, trendHistoryDays)
	for i := range history {
		date := now.AddDate(0, 0, i-trendHistoryDays+1).Format("2006-01-02")
		history[i] = float64(countsByDate[date])
	}

	points := trendHistoryDays - movingAvgWindow + 1
	movingAvg := make([]float64, points)
	for i := 0; i < points; i++ {
		sum := 0.0
		for j := i; j < i+movingAvgWindow; j++ {
			sum += history[j]
		}
		movingAvg[i] = sum / movingAvgWindow
	}

	last := movingAvg[points-1]
	trend := (last - movingAvg[0]) / float64(points-1)

	daily := make([]int, ForecastDays)
	for i := 1; i <= ForecastDays; i++ {
		daily[i-1] = int(math.Max(0, math.Round(last+trend*float64(i))))
	}

	return TrendForecast{
		Daily:         daily,
		MovingAverage: movingAvg,
		Trend:         trend,
		Confidence:    trendConfidence,
	}
}

// FailedForecast returns the zero-filled forecast used when the event history
// cannot be read. Failures are flagged, never propagated as exceptions.
func FailedForecast(err error) TrendForecast {
	msg := "trend computation failed"
	if err != nil {
		msg = err.Error()
	}
	return TrendForecast{
		Daily:      make([]int, ForecastDays),
		Confidence: trendConfidence,
		Failed:     true,
		Error:      msg,
	}
}
