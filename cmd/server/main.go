package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/hf-guideline-server/internal/api"
	"github.com/hf-guideline-server/internal/config"
	"github.com/hf-guideline-server/internal/guideline"
	"github.com/hf-guideline-server/internal/render"
	"github.com/hf-guideline-server/internal/service"
	"github.com/hf-guideline-server/internal/store"
)

func main() {
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}
	cfg := configManager.GetConfig()

	logger := newLogger(cfg.Logging)

	doc, err := loadGuidelines(cfg.Matching.GuidelinePath)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load guideline rules")
	}
	library := guideline.NewLibrary(logger, doc)
	logger.WithField("edition", doc.Metadata.Edition).Info("Guideline rules loaded")

	cases, err := newStore(cfg.Store)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open case store")
	}
	defer cases.Close()

	opts := service.Options{
		MandatoryFields: cfg.Matching.MandatoryFields,
		Store:           cases,
		CacheSize:       cfg.LLM.CacheSize,
		Workers:         cfg.Pipeline.Workers,
	}
	if cfg.LLM.Enabled {
		opts.Narrative = render.NewLLMClient(render.LLMConfig{
			BaseURL:   cfg.LLM.BaseURL,
			APIKey:    cfg.LLM.APIKey,
			Model:     cfg.LLM.Model,
			Timeout:   cfg.LLM.Timeout,
			RateLimit: cfg.LLM.RateLimit,
		})
		logger.WithField("model", cfg.LLM.Model).Info("Narrative rendering enabled")
	}

	pipeline := service.NewPipeline(logger, library, opts)
	server := api.NewServer(cfg, logger, pipeline)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	logger.WithFields(logrus.Fields{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Starting HF guideline server")

	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Server failed")
	}
	logger.Info("Server stopped")
}

func newLogger(cfg config.LoggingConfig) *logrus.Logger {
	logger := logrus.New()
	if strings.ToLower(cfg.Format) == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

func loadGuidelines(path string) (*guideline.Document, error) {
	if path == "" {
		return guideline.ParseEmbedded()
	}
	return guideline.ParseFile(path)
}

func newStore(cfg config.StoreConfig) (store.Store, error) {
	if cfg.Backend == "postgres" {
		return store.NewPostgresStoreFromURL(cfg.DatabaseURL)
	}
	return store.NewSQLiteStore(cfg.SQLitePath)
}
