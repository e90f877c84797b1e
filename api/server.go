// Package api exposes the inventory and analytics operations over REST.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/shad0409/myexpirekits-backend/analytics"
	"github.com/shad0409/myexpirekits-backend/analytics/ml"
	"github.com/shad0409/myexpirekits-backend/cache"
	"github.com/shad0409/myexpirekits-backend/store"
)

// AnalyticsService is the prediction surface the API layer depends on.
type AnalyticsService interface {
	Train(ctx context.Context) error
	Trained() bool
	TrainedAt() time.Time
	PredictItemOutcome(ctx context.Context, userID, itemID string) (*analytics.ItemPrediction, error)
	AnalyzeInventory(ctx context.Context, userID string) (*analytics.InventoryAnalysis, error)
	PredictConsumptionTrend(ctx context.Context, userID string) ml.TrendForecast
	PredictConsumptionByCategory(ctx context.Context, userID, category string) (*analytics.ConsumptionPrediction, error)
	GetEnsemblePredictions(ctx context.Context, userID string) ([]ml.EnsemblePrediction, error)
	CompareModels(ctx context.Context, userID string) (*analytics.AgreementReport, error)
	DetectConsumptionAnomalies(ctx context.Context, userID string) ([]ml.ConsumptionAnomaly, error)
}

// ItemStore is the inventory read/write surface the API layer depends on.
type ItemStore interface {
	CreateItem(ctx context.Context, item *store.Item) error
	ActiveItems(ctx context.Context, userID string) ([]store.Item, error)
}

// EventRecorder applies lifecycle events.
type EventRecorder interface {
	Record(ctx context.Context, ev store.ItemEvent) error
	ItemAdded(ctx context.Context, item *store.Item) error
}

// Config contains the API server settings.
type Config struct {
	AuthEnabled       bool
	JWTSecret         string
	RateLimitEnabled  bool
	RequestsPerSecond float64
	Burst             int
}

// Server represents the HTTP API server
type Server struct {
	router    *mux.Router
	analytics AnalyticsService
	items     ItemStore
	events    EventRecorder
	cache     *cache.Cache
	log       *logrus.Logger
	cfg       Config
	limiters  *clientLimiters
}

// NewServer creates a new API server
func NewServer(svc AnalyticsService, items ItemStore, events EventRecorder, respCache *cache.Cache, cfg Config, log *logrus.Logger) *Server {
	server := &Server{
		router:    mux.NewRouter(),
		analytics: svc,
		items:     items,
		events:    events,
		cache:     respCache,
		log:       log,
		cfg:       cfg,
		limiters:  newClientLimiters(cfg.RequestsPerSecond, cfg.Burst),
	}
	server.setupRoutes()
	return server
}

// ServeHTTP implements the http.Handler interface
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-User-ID")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	s.router.ServeHTTP(w, r)
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.Use(s.loggingMiddleware)
	if s.cfg.RateLimitEnabled {
		s.router.Use(s.rateLimitMiddleware)
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(s.identityMiddleware)

	// Inventory endpoints
	api.HandleFunc("/items", s.createItem).Methods("POST")
	api.HandleFunc("/items", s.listItems).Methods("GET")
	api.HandleFunc("/events", s.recordEvent).Methods("POST")

	// Analytics endpoints
	api.HandleFunc("/analytics/train", s.trainModels).Methods("POST")
	api.HandleFunc("/analytics/inventory", s.analyzeInventory).Methods("GET")
	api.HandleFunc("/analytics/item/{id}", s.predictItem).Methods("GET")
	api.HandleFunc("/analytics/trend", s.predictTrend).Methods("GET")
	api.HandleFunc("/analytics/consumption", s.predictConsumption).Methods("GET")
	api.HandleFunc("/analytics/ensemble", s.ensemblePredictions).Methods("GET")
	api.HandleFunc("/analytics/compare", s.compareModels).Methods("GET")
	api.HandleFunc("/analytics/anomalies", s.consumptionAnomalies).Methods("GET")

	// System endpoints
	s.router.HandleFunc("/health", s.healthCheck).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	s.router.HandleFunc("/", s.rootHandler).Methods("GET")
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// handleServiceError maps service failures onto HTTP statuses.
func (s *Server) handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ml.ErrInsufficientData):
		respondError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, "not found")
	default:
		s.log.WithError(err).Error("request failed")
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

// CreateItemRequest represents an incoming item
type CreateItemRequest struct {
	Name       string `json:"name"`
	Category   string `json:"category"`
	ExpiryDate string `json:"expiry_date,omitempty"` // RFC 3339
}

// createItem adds an item to the user's inventory and records its add event.
func (s *Server) createItem(w http.ResponseWriter, r *http.Request) {
	var req CreateItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}

	item := store.Item{
		UserID:   UserID(r.Context()),
		Name:     req.Name,
		Category: req.Category,
	}
	if req.ExpiryDate != "" {
		expiry, err := time.Parse(time.RFC3339, req.ExpiryDate)
		if err != nil {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid expiry date: %v", err))
			return
		}
		item.ExpiryDate = &expiry
	}

	if err := s.items.CreateItem(r.Context(), &item); err != nil {
		s.handleServiceError(w, err)
		return
	}
	if err := s.events.ItemAdded(r.Context(), &item); err != nil {
		s.log.WithError(err).Warn("add event not recorded")
	}

	respondJSON(w, http.StatusCreated, item)
}

// listItems returns the user's active inventory.
func (s *Server) listItems(w http.ResponseWriter, r *http.Request) {
	items, err := s.items.ActiveItems(r.Context(), UserID(r.Context()))
	if err != nil {
		s.handleServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"items": items,
		"count": len(items),
	})
}

// EventRequest represents an incoming lifecycle event
type EventRequest struct {
	ItemID    string `json:"item_id"`
	EventType string `json:"event_type"`
	EventDate string `json:"event_date,omitempty"` // RFC 3339
}

// recordEvent applies a lifecycle event to one of the user's items.
func (s *Server) recordEvent(w http.ResponseWriter, r *http.Request) {
	var req EventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	ev := store.ItemEvent{
		UserID:    UserID(r.Context()),
		ItemID:    req.ItemID,
		EventType: req.EventType,
	}
	if req.EventDate != "" {
		date, err := time.Parse(time.RFC3339, req.EventDate)
		if err != nil {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid event date: %v", err))
			return
		}
		ev.EventDate = date
	}

	if err := s.events.Record(r.Context(), ev); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.invalidateAnalytics(r.Context(), ev.UserID)
	respondJSON(w, http.StatusCreated, map[string]string{"status": "recorded"})
}

// trainModels retrains all models and drops cached analytics responses.
func (s *Server) trainModels(w http.ResponseWriter, r *http.Request) {
	if err := s.analytics.Train(r.Context()); err != nil {
		s.handleServiceError(w, err)
		return
	}
	s.cache.InvalidatePrefix(r.Context(), "")

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "trained",
		"trained_at": s.analytics.TrainedAt().Format(time.RFC3339),
	})
}

// analyzeInventory returns the user's risk-ranked inventory analysis.
func (s *Server) analyzeInventory(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r.Context())
	cacheKey := "inventory:" + userID

	var cached analytics.InventoryAnalysis
	if s.cache.Get(r.Context(), cacheKey, &cached) {
		respondJSON(w, http.StatusOK, cached)
		return
	}

	analysis, err := s.analytics.AnalyzeInventory(r.Context(), userID)
	if err != nil {
		s.handleServiceError(w, err)
		return
	}
	s.cache.Set(r.Context(), cacheKey, analysis)
	respondJSON(w, http.StatusOK, analysis)
}

// predictItem classifies one item's likely fate.
func (s *Server) predictItem(w http.ResponseWriter, r *http.Request) {
	itemID := mux.Vars(r)["id"]
	pred, err := s.analytics.PredictItemOutcome(r.Context(), UserID(r.Context()), itemID)
	if err != nil {
		s.handleServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, pred)
}

// predictTrend returns the 7-day consumption-volume forecast.
func (s *Server) predictTrend(w http.ResponseWriter, r *http.Request) {
	forecast := s.analytics.PredictConsumptionTrend(r.Context(), UserID(r.Context()))
	respondJSON(w, http.StatusOK, forecast)
}

// predictConsumption ranks next-likely-consumed items, optionally scoped to
// the ?category= parameter.
func (s *Server) predictConsumption(w http.ResponseWriter, r *http.Request) {
	category := r.URL.Query().Get("category")
	pred, err := s.analytics.PredictConsumptionByCategory(r.Context(), UserID(r.Context()), category)
	if err != nil {
		s.handleServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, pred)
}

// ensemblePredictions runs the forest ensemble over the active inventory.
func (s *Server) ensemblePredictions(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r.Context())
	cacheKey := "ensemble:" + userID

	var cached []ml.EnsemblePrediction
	if s.cache.Get(r.Context(), cacheKey, &cached) {
		respondJSON(w, http.StatusOK, map[string]interface{}{"predictions": cached, "count": len(cached)})
		return
	}

	predictions, err := s.analytics.GetEnsemblePredictions(r.Context(), userID)
	if err != nil {
		s.handleServiceError(w, err)
		return
	}
	s.cache.Set(r.Context(), cacheKey, predictions)
	respondJSON(w, http.StatusOK, map[string]interface{}{"predictions": predictions, "count": len(predictions)})
}

// compareModels reports agreement between the KNN and the ensemble.
func (s *Server) compareModels(w http.ResponseWriter, r *http.Request) {
	report, err := s.analytics.CompareModels(r.Context(), UserID(r.Context()))
	if err != nil {
		s.handleServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

// consumptionAnomalies flags days with unusual consumption volume.
func (s *Server) consumptionAnomalies(w http.ResponseWriter, r *http.Request) {
	anomalies, err := s.analytics.DetectConsumptionAnomalies(r.Context(), UserID(r.Context()))
	if err != nil {
		s.handleServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"anomalies": anomalies, "count": len(anomalies)})
}

// invalidateAnalytics drops a user's cached analytics responses.
func (s *Server) invalidateAnalytics(ctx context.Context, userID string) {
	s.cache.InvalidatePrefix(ctx, "inventory:"+userID)
	s.cache.InvalidatePrefix(ctx, "ensemble:"+userID)
}

var startTime = time.Now()

// healthCheck returns health status
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(startTime).String(),
		"services": map[string]interface{}{
			"models_trained": s.analytics.Trained(),
			"cache_enabled":  s.cache.Enabled(),
		},
	})
}

// rootHandler provides API information
func (s *Server) rootHandler(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"name":        "MyExpireKits Backend",
		"version":     "0.1.0",
		"description": "Household inventory tracking with predictive consumption analytics",
		"endpoints": map[string]string{
			"POST /api/v1/items":                 "Add an inventory item",
			"GET  /api/v1/items":                 "List active inventory",
			"POST /api/v1/events":                "Record a lifecycle event",
			"POST /api/v1/analytics/train":       "Retrain prediction models",
			"GET  /api/v1/analytics/inventory":   "Risk-ranked inventory analysis",
			"GET  /api/v1/analytics/item/{id}":   "Predict one item's fate",
			"GET  /api/v1/analytics/trend":       "7-day consumption trend forecast",
			"GET  /api/v1/analytics/consumption": "Next-likely-consumed items",
			"GET  /api/v1/analytics/ensemble":    "Ensemble inventory predictions",
			"GET  /api/v1/analytics/compare":     "Model agreement report",
			"GET  /api/v1/analytics/anomalies":   "Unusual consumption days",
			"GET  /health":                       "Health check",
			"GET  /metrics":                      "Prometheus metrics",
		},
	})
}
