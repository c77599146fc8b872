package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fraud-scoring/internal/api"
	"fraud-scoring/internal/cfg"
	"fraud-scoring/internal/client"
	"fraud-scoring/internal/fusion"
	"fraud-scoring/internal/metrics"
	"fraud-scoring/internal/ml"
	"fraud-scoring/internal/prediction"
	"fraud-scoring/internal/rules"
	"fraud-scoring/internal/storage"
	"fraud-scoring/internal/training"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	setupLogging(c)

	// Initialize components
	m := metrics.New()
	mw := metrics.NewWrapper(m)

	store, err := storage.New(c.DataPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", c.DataPath).Msg("storage initialization failed")
	}
	defer store.Close()

	models := ml.NewModelStore(store, mw)
	pipeline := training.NewPipeline(training.ConfigFromSettings(c), models, mw)
	engine := prediction.NewEngine(models, mw)
	evaluator := rules.NewEvaluator(mw)

	detector, err := fusion.NewDetector(fusionBackend(c, engine, models, evaluator), c.Fusion, store, mw)
	if err != nil {
		log.Fatal().Err(err).Msg("fusion detector initialization failed")
	}

	server := api.New(api.Options{
		Port:           c.Port,
		MaxUploadBytes: c.MaxUploadBytes,
		LabelColumn:    c.LabelColumn,
		RequestTimeout: c.RequestTimeout,
	}, api.Services{
		Trainer:   pipeline,
		Predictor: engine,
		Models:    models,
		Rules:     evaluator,
		Detector:  detector,
		Metrics:   mw,
	})

	errs := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()

	waitForShutdown(server, errs)
}

// setupLogging applies the configured level and, when requested, the
// human-readable console writer.
func setupLogging(c cfg.Settings) {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if c.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

// fusionBackend picks where the detector gets its per-tenant signals: the
// in-process components or a remote scoring service.
func fusionBackend(c cfg.Settings, engine *prediction.Engine, models *ml.ModelStore, evaluator *rules.Evaluator) fusion.Backend {
	if c.RemoteScoring {
		log.Info().Str("url", c.ServiceURL).Msg("Fusion uses remote scoring service")
		return client.New(c.ServiceURL, c.RequestTimeout)
	}
	return &fusion.LocalBackend{Engine: engine, Store: models, Rules: evaluator}
}

// waitForShutdown blocks until a signal or a server failure, then drains
// in-flight requests.
func waitForShutdown(server *api.Server, errs <-chan error) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Info().Msg("shutdown signal received")
	case err := <-errs:
		log.Error().Err(err).Msg("server failed")
	}

	log.Info().Msg("shutting down gracefully...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("shutdown timeout, forcing exit")
	}
}
