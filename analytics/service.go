// Package analytics composes the trained models into the per-user prediction
// operations exposed over HTTP.
package analytics

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/shad0409/myexpirekits-backend/analytics/ml"
	"github.com/shad0409/myexpirekits-backend/store"
)

// Store is the read-only persistence surface the analytics service needs.
type Store interface {
	ActiveItems(ctx context.Context, userID string) ([]store.Item, error)
	ItemByID(ctx context.Context, userID, itemID string) (*store.Item, error)
	Patterns(ctx context.Context, userID string) ([]store.ConsumptionPattern, error)
	AllPatterns(ctx context.Context) ([]store.ConsumptionPattern, error)
	EventsForUser(ctx context.Context, userID string) ([]store.ItemEvent, error)
	AllEvents(ctx context.Context) ([]store.ItemEvent, error)
	ConsumeEventsSince(ctx context.Context, userID string, since time.Time) ([]store.ItemEvent, error)
}

// Config tunes the analytics service.
type Config struct {
	// KNNNeighbors is k for the lifecycle classifier. Defaults to 5.
	KNNNeighbors int `json:"knn_neighbors"`
	// Forest configures both ensemble forests.
	Forest ml.ForestConfig `json:"forest"`
	// Seed fixes the training random source when non-zero.
	Seed int64 `json:"seed"`
}

const defaultServiceNeighbors = 5

// Risk score weights and bucket thresholds.
const (
	expireConfidenceWeight  = 0.7
	categoryRiskWeight      = 0.3
	consumeConfidenceCredit = 0.1

	highRiskThreshold   = 0.7
	mediumRiskThreshold = 0.4
)

// Risk buckets.
const (
	RiskHigh   = "high"
	RiskMedium = "medium"
	RiskLow    = "low"
)

// ItemPrediction is a single item's classifier output.
type ItemPrediction struct {
	ItemID   string `json:"item_id"`
	ItemName string `json:"item_name"`
	Category string `json:"category"`
	ml.KNNPrediction
}

// RankedPrediction is an item prediction with its composite waste-risk score.
type RankedPrediction struct {
	ItemPrediction
	RiskScore float64 `json:"risk_score"`
	RiskLevel string  `json:"risk_level"`
}

// InventorySummary aggregates an inventory analysis.
type InventorySummary struct {
	TotalItems       int     `json:"total_items"`
	HighRisk         int     `json:"high_risk"`
	MediumRisk       int     `json:"medium_risk"`
	LowRisk          int     `json:"low_risk"`
	OverallWasteRisk float64 `json:"overall_waste_risk"`
}

// InventoryAnalysis ranks a user's active items by waste risk.
type InventoryAnalysis struct {
	UserID      string             `json:"user_id"`
	GeneratedAt time.Time          `json:"generated_at"`
	Items       []RankedPrediction `json:"items"`
	Summary     InventorySummary   `json:"summary"`
}

// ConsumptionPrediction is the category-forecaster output, either for one
// category or across all of them.
type ConsumptionPrediction struct {
	Category string            `json:"category,omitempty"`
	Items    []ml.ItemForecast `json:"items"`
}

// ModelComparison pairs the two models' 7-day verdicts on one item.
type ModelComparison struct {
	ItemID       string `json:"item_id"`
	ItemName     string `json:"item_name"`
	KNNSaysSoon  bool   `json:"knn_says_soon"`
	EnsembleSoon bool   `json:"ensemble_says_soon"`
	Agree        bool   `json:"agree"`
}

// AgreementReport compares KNN and ensemble predictions across an inventory.
type AgreementReport struct {
	Items         []ModelComparison `json:"items"`
	AgreementRate float64           `json:"agreement_rate"`
}

// modelSnapshot is the immutable trained state swapped in atomically after
// each successful training run. Readers never see a half-trained model.
type modelSnapshot struct {
	knn       *ml.KNNClassifier
	ensemble  *ml.EnsemblePredictor
	trainedAt time.Time
}

// Service owns the trained model state and composes predictions. Construct one
// per process and share it; prediction methods retrain lazily on first use.
type Service struct {
	store Store
	log   *logrus.Logger
	cfg   Config
	rng   *rand.Rand

	forecaster *ml.ConsumptionForecaster
	trend      *ml.TrendForecaster
	anomalies  *ml.AnomalyDetector

	trainMu sync.Mutex   // serializes training runs
	mu      sync.RWMutex // guards model
	model   *modelSnapshot
}

// NewService creates an untrained analytics service.
func NewService(st Store, cfg Config, log *logrus.Logger) *Service {
	if cfg.KNNNeighbors <= 0 {
		cfg.KNNNeighbors = defaultServiceNeighbors
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Service{
		store:      st,
		log:        log,
		cfg:        cfg,
		rng:        rand.New(rand.NewSource(seed)),
		forecaster: ml.NewConsumptionForecaster(),
		trend:      ml.NewTrendForecaster(),
		anomalies:  ml.NewAnomalyDetector(),
	}
}

// Trained reports whether a model snapshot exists.
func (s *Service) Trained() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.model != nil
}

// TrainedAt returns the last successful training time, zero if untrained.
func (s *Service) TrainedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.model == nil {
		return time.Time{}
	}
	return s.model.trainedAt
}

// Train reloads all patterns and events and rebuilds both models, then swaps
// the snapshot in. An ensemble insufficient-data failure is recoverable: the
// KNN still trains, and any previously trained ensemble stays in place.
func (s *Service) Train(ctx context.Context) error {
	s.trainMu.Lock()
	defer s.trainMu.Unlock()

	start := time.Now()

	patterns, err := s.store.AllPatterns(ctx)
	if err != nil {
		trainingsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("load patterns: %w", err)
	}
	events, err := s.store.AllEvents(ctx)
	if err != nil {
		trainingsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("load events: %w", err)
	}

	mlPatterns := toMLPatterns(patterns)
	now := time.Now()

	knn := ml.NewKNNClassifier(s.cfg.KNNNeighbors)
	examples := buildLifecycleExamples(events, mlPatterns)
	knn.Train(examples)

	ensemble := ml.NewEnsemblePredictor(s.cfg.Forest, s.rng)
	if err := ensemble.Train(mlPatterns, now); err != nil {
		s.log.WithError(err).Warn("ensemble training skipped")
		s.mu.RLock()
		if s.model != nil {
			ensemble = s.model.ensemble
		}
		s.mu.RUnlock()
	}

	s.mu.Lock()
	s.model = &modelSnapshot{knn: knn, ensemble: ensemble, trainedAt: now}
	s.mu.Unlock()

	trainingsTotal.WithLabelValues("ok").Inc()
	trainingDuration.Observe(time.Since(start).Seconds())
	s.log.WithFields(logrus.Fields{
		"lifecycle_examples": len(examples),
		"patterns":           len(patterns),
		"ensemble_trained":   ensemble != nil && ensemble.Trained(),
		"duration":           time.Since(start),
	}).Info("models trained")
	return nil
}

// ensureTrained lazily trains on the first prediction request.
func (s *Service) ensureTrained(ctx context.Context) (*modelSnapshot, error) {
	s.mu.RLock()
	model := s.model
	s.mu.RUnlock()
	if model != nil {
		return model, nil
	}

	if err := s.Train(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.model, nil
}

// PredictItemOutcome classifies a single item's likely fate.
func (s *Service) PredictItemOutcome(ctx context.Context, userID, itemID string) (*ItemPrediction, error) {
	predictionsTotal.WithLabelValues("item").Inc()

	model, err := s.ensureTrained(ctx)
	if err != nil {
		return nil, err
	}

	item, err := s.store.ItemByID(ctx, userID, itemID)
	if err != nil {
		return nil, err
	}
	patterns, err := s.store.Patterns(ctx, userID)
	if err != nil {
		return nil, err
	}

	count := 0.0
	var avgDays *float64
	for _, p := range patterns {
		if strings.EqualFold(p.ItemName, item.Name) {
			count = float64(p.ConsumptionCount)
			avgDays = p.AverageConsumptionDays
			break
		}
	}

	pred := model.knn.Predict(item.Category, count, avgDays)
	return &ItemPrediction{
		ItemID:        item.ID,
		ItemName:      item.Name,
		Category:      item.Category,
		KNNPrediction: pred,
	}, nil
}

// AnalyzeInventory scores every active item's waste risk and ranks the
// inventory by it. No item is dropped: items without history still appear,
// scored from the classifier's default prediction.
func (s *Service) AnalyzeInventory(ctx context.Context, userID string) (*InventoryAnalysis, error) {
	predictionsTotal.WithLabelValues("inventory").Inc()

	model, err := s.ensureTrained(ctx)
	if err != nil {
		return nil, err
	}

	items, err := s.store.ActiveItems(ctx, userID)
	if err != nil {
		return nil, err
	}
	patterns, err := s.store.Patterns(ctx, userID)
	if err != nil {
		return nil, err
	}
	events, err := s.store.EventsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	categoryRisk := categoryWasteRisk(events)

	analysis := &InventoryAnalysis{
		UserID:      userID,
		GeneratedAt: time.Now(),
		Items:       make([]RankedPrediction, 0, len(items)),
	}

	riskSum := 0.0
	for _, item := range items {
		count := 0.0
		var avgDays *float64
		for _, p := range patterns {
			if strings.EqualFold(p.ItemName, item.Name) {
				count = float64(p.ConsumptionCount)
				avgDays = p.AverageConsumptionDays
				break
			}
		}

		pred := model.knn.Predict(item.Category, count, avgDays)
		score := riskScore(pred, categoryRisk[item.Category])

		analysis.Items = append(analysis.Items, RankedPrediction{
			ItemPrediction: ItemPrediction{
				ItemID:        item.ID,
				ItemName:      item.Name,
				Category:      item.Category,
				KNNPrediction: pred,
			},
			RiskScore: score,
			RiskLevel: riskLevel(score),
		})
		riskSum += score
	}

	sort.SliceStable(analysis.Items, func(i, j int) bool {
		return analysis.Items[i].RiskScore > analysis.Items[j].RiskScore
	})

	analysis.Summary.TotalItems = len(analysis.Items)
	for _, it := range analysis.Items {
		switch it.RiskLevel {
		case RiskHigh:
			analysis.Summary.HighRisk++
		case RiskMedium:
			analysis.Summary.MediumRisk++
		default:
			analysis.Summary.LowRisk++
		}
	}
	if len(analysis.Items) > 0 {
		analysis.Summary.OverallWasteRisk = riskSum / float64(len(analysis.Items))
	}
	return analysis, nil
}

// PredictConsumptionTrend forecasts the next 7 days of consumption volume. A
// store failure degrades to the flagged zero forecast instead of erroring.
func (s *Service) PredictConsumptionTrend(ctx context.Context, userID string) ml.TrendForecast {
	predictionsTotal.WithLabelValues("trend").Inc()

	now := time.Now()
	events, err := s.store.ConsumeEventsSince(ctx, userID, now.AddDate(0, 0, -ml.TrendWindowDays))
	if err != nil {
		s.log.WithError(err).Warn("trend forecast degraded: event history unavailable")
		return ml.FailedForecast(err)
	}
	return s.trend.Forecast(toMLEvents(events), now)
}

// DetectConsumptionAnomalies flags days in the trailing window whose
// consumption volume deviates strongly from the user's baseline.
func (s *Service) DetectConsumptionAnomalies(ctx context.Context, userID string) ([]ml.ConsumptionAnomaly, error) {
	predictionsTotal.WithLabelValues("anomalies").Inc()

	now := time.Now()
	events, err := s.store.ConsumeEventsSince(ctx, userID, now.AddDate(0, 0, -ml.TrendWindowDays))
	if err != nil {
		return nil, err
	}
	return s.anomalies.Detect(toMLEvents(events), now), nil
}

// PredictConsumptionByCategory ranks next-likely-consumed items, within one
// category or across all of them when category is empty.
func (s *Service) PredictConsumptionByCategory(ctx context.Context, userID, category string) (*ConsumptionPrediction, error) {
	predictionsTotal.WithLabelValues("consumption").Inc()

	if _, err := s.ensureTrained(ctx); err != nil {
		return nil, err
	}
	patterns, err := s.store.Patterns(ctx, userID)
	if err != nil {
		return nil, err
	}
	mlPatterns := toMLPatterns(patterns)

	if category != "" {
		forecast := s.forecaster.PredictCategory(mlPatterns, category)
		return &ConsumptionPrediction{Category: forecast.Category, Items: forecast.Items}, nil
	}
	return &ConsumptionPrediction{Items: s.forecaster.PredictOverall(mlPatterns)}, nil
}

// GetEnsemblePredictions runs the forest ensemble over the user's active
// inventory. Returns ErrInsufficientData when the ensemble has never had
// enough data to fit.
func (s *Service) GetEnsemblePredictions(ctx context.Context, userID string) ([]ml.EnsemblePrediction, error) {
	predictionsTotal.WithLabelValues("ensemble").Inc()

	model, err := s.ensureTrained(ctx)
	if err != nil {
		return nil, err
	}
	if model.ensemble == nil || !model.ensemble.Trained() {
		return nil, fmt.Errorf("%w: ensemble not trained", ml.ErrInsufficientData)
	}

	items, err := s.store.ActiveItems(ctx, userID)
	if err != nil {
		return nil, err
	}
	patterns, err := s.store.Patterns(ctx, userID)
	if err != nil {
		return nil, err
	}

	return model.ensemble.PredictInventory(toMLItems(items), toMLPatterns(patterns), time.Now())
}

// CompareModels reports per-item agreement between the KNN and the ensemble
// on the "consumed within 7 days" question.
func (s *Service) CompareModels(ctx context.Context, userID string) (*AgreementReport, error) {
	predictionsTotal.WithLabelValues("compare").Inc()

	analysis, err := s.AnalyzeInventory(ctx, userID)
	if err != nil {
		return nil, err
	}
	ensemble, err := s.GetEnsemblePredictions(ctx, userID)
	if err != nil {
		return nil, err
	}

	ensembleByID := make(map[string]ml.EnsemblePrediction, len(ensemble))
	for _, p := range ensemble {
		ensembleByID[p.ItemID] = p
	}

	report := &AgreementReport{Items: make([]ModelComparison, 0, len(analysis.Items))}
	agreed := 0
	for _, it := range analysis.Items {
		ep, ok := ensembleByID[it.ItemID]
		if !ok {
			continue
		}
		knnSoon := it.Outcome == ml.OutcomeConsume && it.EstimatedDays <= 7
		cmp := ModelComparison{
			ItemID:       it.ItemID,
			ItemName:     it.ItemName,
			KNNSaysSoon:  knnSoon,
			EnsembleSoon: ep.WillConsumeWithin7Days,
			Agree:        knnSoon == ep.WillConsumeWithin7Days,
		}
		if cmp.Agree {
			agreed++
		}
		report.Items = append(report.Items, cmp)
	}
	if len(report.Items) > 0 {
		report.AgreementRate = float64(agreed) / float64(len(report.Items))
	}
	return report, nil
}

// riskScore combines classifier confidence with the category waste ratio. An
// expire verdict weights confidence toward risk; a consume/discard verdict
// credits confidence against the category baseline.
func riskScore(pred ml.KNNPrediction, catRisk float64) float64 {
	var score float64
	if pred.Outcome == ml.OutcomeExpire {
		score = expireConfidenceWeight*pred.Confidence + categoryRiskWeight*catRisk
	} else {
		score = categoryRiskWeight*catRisk - consumeConfidenceCredit*pred.Confidence
	}
	if score < 0 {
		score = 0
	}
	return score
}

func riskLevel(score float64) string {
	switch {
	case score > highRiskThreshold:
		return RiskHigh
	case score > mediumRiskThreshold:
		return RiskMedium
	default:
		return RiskLow
	}
}

// categoryWasteRisk computes expired/(expired+consumed) per category from a
// user's event history. Categories with no terminal events score zero.
func categoryWasteRisk(events []store.ItemEvent) map[string]float64 {
	type tally struct{ expired, consumed int }
	counts := make(map[string]*tally)
	for _, ev := range events {
		switch ev.EventType {
		case store.EventExpire:
			t := counts[ev.Category]
			if t == nil {
				t = &tally{}
				counts[ev.Category] = t
			}
			t.expired++
		case store.EventConsume:
			t := counts[ev.Category]
			if t == nil {
				t = &tally{}
				counts[ev.Category] = t
			}
			t.consumed++
		}
	}

	risk := make(map[string]float64, len(counts))
	for cat, t := range counts {
		if total := t.expired + t.consumed; total > 0 {
			risk[cat] = float64(t.expired) / float64(total)
		}
	}
	return risk
}

// buildLifecycleExamples pairs each item's add event with its terminal event
// and joins the owning pattern for consumption context.
func buildLifecycleExamples(events []store.ItemEvent, patterns []ml.Pattern) []ml.LifecycleExample {
	type lifecycle struct {
		added    time.Time
		hasAdd   bool
		terminal *store.ItemEvent
	}
	byItem := make(map[string]*lifecycle)
	for i := range events {
		ev := events[i]
		lc := byItem[ev.ItemID]
		if lc == nil {
			lc = &lifecycle{}
			byItem[ev.ItemID] = lc
		}
		switch ev.EventType {
		case store.EventAdd:
			if !lc.hasAdd || ev.EventDate.Before(lc.added) {
				lc.added = ev.EventDate
				lc.hasAdd = true
			}
		case store.EventConsume, store.EventExpire, store.EventDiscard:
			if lc.terminal == nil {
				lc.terminal = &events[i]
			}
		}
	}

	type patternKey struct{ user, name string }
	patternIdx := make(map[patternKey]*ml.Pattern, len(patterns))
	for i := range patterns {
		p := &patterns[i]
		patternIdx[patternKey{p.UserID, strings.ToLower(p.ItemName)}] = p
	}

	var examples []ml.LifecycleExample
	for _, lc := range byItem {
		if !lc.hasAdd || lc.terminal == nil {
			continue
		}
		lifespan := lc.terminal.EventDate.Sub(lc.added).Hours() / 24
		if lifespan < 0 {
			continue
		}

		ex := ml.LifecycleExample{
			Category:     lc.terminal.Category,
			LifespanDays: lifespan,
			Outcome:      ml.Outcome(lc.terminal.EventType),
		}
		if p, ok := patternIdx[patternKey{lc.terminal.UserID, strings.ToLower(lc.terminal.ItemName)}]; ok {
			ex.ConsumptionCount = float64(p.ConsumptionCount)
			ex.AverageConsumptionDays = p.AverageConsumptionDays
			if ex.Category == "" {
				ex.Category = p.Category
			}
		}
		examples = append(examples, ex)
	}
	return examples
}

func toMLPatterns(patterns []store.ConsumptionPattern) []ml.Pattern {
	out := make([]ml.Pattern, len(patterns))
	for i, p := range patterns {
		out[i] = ml.Pattern{
			UserID:                 p.UserID,
			ItemName:               p.ItemName,
			Category:               p.Category,
			AverageConsumptionDays: p.AverageConsumptionDays,
			ConsumptionCount:       p.ConsumptionCount,
			LastConsumed:           p.LastConsumed,
		}
	}
	return out
}

func toMLItems(items []store.Item) []ml.Item {
	out := make([]ml.Item, len(items))
	for i, it := range items {
		out[i] = ml.Item{
			ID:         it.ID,
			Name:       it.Name,
			Category:   it.Category,
			ExpiryDate: it.ExpiryDate,
			CreatedAt:  it.CreatedAt,
		}
	}
	return out
}

func toMLEvents(events []store.ItemEvent) []ml.Event {
	out := make([]ml.Event, len(events))
	for i, ev := range events {
		out[i] = ml.Event{
			UserID:    ev.UserID,
			ItemID:    ev.ItemID,
			ItemName:  ev.ItemName,
			Category:  ev.Category,
			EventType: ev.EventType,
			EventDate: ev.EventDate,
		}
	}
	return out
}
