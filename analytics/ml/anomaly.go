package ml

import (
	"math"
	"time"
)

// Anomaly detector tuning.
const (
	anomalyZScoreThreshold = 2.5
	anomalyMinHistoryDays  = 7
)

// ConsumptionAnomaly flags a day whose consumption volume deviates strongly
// from the user's recent baseline.
type ConsumptionAnomaly struct {
	Date     string  `json:"date"`
	Count    int     `json:"count"`
	Score    float64 `json:"score"`
	Expected float64 `json:"expected"`
}

// AnomalyDetector finds unusual daily consumption volumes with a z-score test
// over the trailing 30-day window.
type AnomalyDetector struct {
	threshold float64
}

// NewAnomalyDetector creates a detector with the default threshold.
func NewAnomalyDetector() *AnomalyDetector {
	return &AnomalyDetector{threshold: anomalyZScoreThreshold}
}

// Detect scores each day in the 30-day window against the window's mean and
// standard deviation. Fewer than 7 days with activity means no baseline;
// nothing is flagged.
func (d *AnomalyDetector) Detect(events []Event, now time.Time) []ConsumptionAnomaly {
	cutoff := now.AddDate(0, 0, -TrendWindowDays)
	countsByDate := make(map[string]int)
	for _, ev := range events {
		if ev.EventDate.Before(cutoff) || ev.EventDate.After(now) {
			continue
		}
		countsByDate[ev.EventDate.Format("2006-01-02")]++
	}
	if len(countsByDate) < anomalyMinHistoryDays {
		return nil
	}

	counts := make([]float64, TrendWindowDays)
	dates := make([]string, TrendWindowDays)
	for i := range counts {
		date := now.AddDate(0, 0, i-TrendWindowDays+1).Format("2006-01-02")
		dates[i] = date
		counts[i] = float64(countsByDate[date])
	}

	mean := 0.0
	for _, c := range counts {
		mean += c
	}
	mean /= float64(len(counts))

	variance := 0.0
	for _, c := range counts {
		variance += (c - mean) * (c - mean)
	}
	stdDev := math.Sqrt(variance / float64(len(counts)))
	if stdDev == 0 {
		return nil
	}

	var anomalies []ConsumptionAnomaly
	for i, c := range counts {
		score := math.Abs(c-mean) / stdDev
		if score > d.threshold {
			anomalies = append(anomalies, ConsumptionAnomaly{
				Date:     dates[i],
				Count:    int(c),
				Score:    score,
				Expected: mean,
			})
		}
	}
	return anomalies
}
