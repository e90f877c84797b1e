package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/shad0409/myexpirekits-backend/analytics"
	"github.com/shad0409/myexpirekits-backend/analytics/ml"
	"github.com/shad0409/myexpirekits-backend/api"
	"github.com/shad0409/myexpirekits-backend/cache"
	"github.com/shad0409/myexpirekits-backend/config"
	"github.com/shad0409/myexpirekits-backend/events"
	"github.com/shad0409/myexpirekits-backend/store"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	// Load configuration
	configManager, err := config.NewConfigManager("config.json")
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}
	cfg := configManager.GetConfig()

	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	// Relational store
	st, err := store.Open(store.Config{
		Driver: cfg.Database.Driver,
		DSN:    cfg.Database.DSN,
	}, log)
	if err != nil {
		log.WithError(err).Fatal("failed to open store")
	}

	// Optional Redis response cache
	respCache := cache.New(cache.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		TTL:      cfg.Redis.TTL.Duration,
	}, log)
	defer respCache.Close()

	// Event processing and analytics
	processor := events.NewProcessor(st, log)
	svc := analytics.NewService(st, analytics.Config{
		KNNNeighbors: cfg.Analytics.KNNNeighbors,
		Forest: ml.ForestConfig{
			NumTrees:        cfg.Analytics.NumTrees,
			MaxDepth:        cfg.Analytics.MaxTreeDepth,
			MinSamplesLeaf:  cfg.Analytics.MinSamplesLeaf,
			FeatureFraction: cfg.Analytics.FeatureFraction,
		},
		Seed: cfg.Analytics.Seed,
	}, log)

	// HTTP API
	apiServer := api.NewServer(svc, st, processor, respCache, api.Config{
		AuthEnabled:       cfg.Auth.Enabled,
		JWTSecret:         cfg.Auth.JWTSecret,
		RateLimitEnabled:  cfg.RateLimit.Enabled,
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
	}, log)

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      apiServer,
		ReadTimeout:  cfg.Server.ReadTimeout.Duration,
		WriteTimeout: cfg.Server.WriteTimeout.Duration,
		IdleTimeout:  cfg.Server.IdleTimeout.Duration,
	}

	go func() {
		log.WithField("addr", cfg.Server.Port).Info("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("HTTP server failed")
		}
	}()

	// Warm the models in the background so the first request does not pay the
	// training latency. Failures here are fine; prediction paths retrain lazily.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if err := svc.Train(ctx); err != nil {
			log.WithError(err).Warn("initial model training failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("server forced to shutdown")
	}
	log.Info("server stopped")
}
