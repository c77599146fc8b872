// Package training fits a tenant's model bundle from a labeled dataset:
// schema derivation, a seeded train/test split, standard scaling, a random
// forest fit, hold-out evaluation and registration with the model store.
// Every stage is single-pass and fail-fast; nothing is registered unless all
// stages succeed.
package training

import (
	"context"
	"fmt"
	"math"
	"time"

	"fraud-scoring/internal/cfg"
	"fraud-scoring/internal/common"
	"fraud-scoring/internal/dataset"
	"fraud-scoring/internal/features"
	"fraud-scoring/internal/ml"

	"github.com/rs/zerolog/log"
)

// Log levels used in training log entries.
const (
	LevelInfo    = "info"
	LevelSuccess = "success"
)

const timestampLayout = "2006-01-02T15:04:05Z"

// LogEntry is one progress message reported to the caller.
type LogEntry struct {
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
}

// Observer receives log entries as they are produced.
type Observer func(LogEntry)

// Result is returned by a successful training run.
type Result struct {
	Logs              []LogEntry        `json:"logs"`
	Message           string            `json:"message"`
	Metrics           ml.MetricsRecord  `json:"metrics"`
	FeatureImportance []ml.FeatureStats `json:"featureImportance"`
}

// Config holds the training hyperparameters.
type Config struct {
	LabelColumn string
	Seed        int64
	Trees       int
	TestRatio   float64
	Workers     int
}

// ConfigFromSettings extracts the training configuration.
func ConfigFromSettings(s cfg.Settings) Config {
	return Config{
		LabelColumn: s.LabelColumn,
		Seed:        s.TrainingSeed,
		Trees:       s.Trees,
		TestRatio:   s.TestRatio,
		Workers:     s.TrainWorkers,
	}
}

// DefaultConfig returns the standard hyperparameters: label isFraud, seed 42,
// 100 trees and a 20% hold-out.
func DefaultConfig() Config {
	return Config{
		LabelColumn: common.DefaultLabelColumn,
		Seed:        common.DefaultTrainingSeed,
		Trees:       common.DefaultTrainingTrees,
		TestRatio:   common.DefaultTestRatio,
		Workers:     common.DefaultTrainWorkers,
	}
}

// Store registers a trained bundle.
type Store interface {
	Put(ctx context.Context, tenant string, bundle *ml.Bundle, record ml.MetricsRecord) error
}

// MetricsInterface records training outcomes.
type MetricsInterface interface {
	TrainingInc()
	TrainingFailureInc()
	TrainingDurationObserve(seconds float64)
	ModelAccuracyObserve(v float64)
}

// Pipeline trains tenant models and registers them with a Store.
type Pipeline struct {
	config  Config
	store   Store
	metrics MetricsInterface
	now     func() time.Time
}

// NewPipeline creates a pipeline. metrics may be nil.
func NewPipeline(config Config, store Store, metrics MetricsInterface) *Pipeline {
	return &Pipeline{
		config:  config,
		store:   store,
		metrics: metrics,
		now:     time.Now,
	}
}

type run struct {
	logs    []LogEntry
	observe Observer
	now     func() time.Time
}

func (r *run) emit(level, format string, args ...any) {
	entry := LogEntry{
		Message:   fmt.Sprintf(format, args...),
		Timestamp: r.now().UTC().Format(timestampLayout),
		Level:     level,
	}
	r.logs = append(r.logs, entry)
	if r.observe != nil {
		r.observe(entry)
	}
}

// Train fits and registers a new bundle for tenant from ds. observe may be nil.
// On error the tenant's previous bundle, if any, is left untouched.
func (p *Pipeline) Train(ctx context.Context, tenant string, ds *dataset.Dataset, observe Observer) (*Result, error) {
	start := p.now()
	res, err := p.train(ctx, tenant, ds, observe)
	elapsed := p.now().Sub(start)

	if err != nil {
		if p.metrics != nil {
			p.metrics.TrainingFailureInc()
		}
		log.Warn().Err(err).Str("tenant", tenant).Dur("duration", elapsed).Msg("Training failed")
		return nil, err
	}

	if p.metrics != nil {
		p.metrics.TrainingInc()
		p.metrics.TrainingDurationObserve(elapsed.Seconds())
		p.metrics.ModelAccuracyObserve(res.Metrics.Accuracy)
	}
	log.Info().
		Str("tenant", tenant).
		Int("rows", res.Metrics.DataVolume).
		Float64("accuracy", res.Metrics.Accuracy).
		Float64("auc", res.Metrics.AUC).
		Dur("duration", elapsed).
		Msg("Training completed")
	return res, nil
}

func (p *Pipeline) train(ctx context.Context, tenant string, ds *dataset.Dataset, observe Observer) (*Result, error) {
	if ds == nil || ds.Len() == 0 {
		return nil, fmt.Errorf("%w: dataset has no rows", common.ErrValidation)
	}

	r := &run{observe: observe, now: p.now}
	r.emit(LevelInfo, "Loading dataset for client %s", tenant)
	r.emit(LevelInfo, "Dataset loaded successfully: %d records", ds.Len())
	r.emit(LevelInfo, "Data preprocessing started")

	label := p.config.LabelColumn
	if !ds.HasColumn(label) {
		return nil, fmt.Errorf("%w: dataset must contain '%s' column", common.ErrValidation, label)
	}
	labels, err := binaryLabels(ds, label)
	if err != nil {
		return nil, err
	}

	schema, err := features.DeriveSchema(ds, label)
	if err != nil {
		return nil, err
	}
	r.emit(LevelInfo, "Selected %d numeric features", len(schema))

	trainIdx, testIdx, err := ml.TrainTestSplit(ds.Len(), p.config.TestRatio, p.config.Seed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrValidation, err)
	}
	testPct := int(math.Round(p.config.TestRatio * 100))
	r.emit(LevelInfo, "Data split: %d%% training, %d%% validation", 100-testPct, testPct)

	matrix, err := ds.Matrix(schema)
	if err != nil {
		return nil, err
	}
	xTrain, yTrain := ml.Take(matrix, labels, trainIdx)
	xTest, yTest := ml.Take(matrix, labels, testIdx)

	scaler, err := ml.FitScaler(xTrain)
	if err != nil {
		return nil, fmt.Errorf("fit scaler: %w", err)
	}
	if xTrain, err = scaler.TransformAll(xTrain); err != nil {
		return nil, err
	}
	if xTest, err = scaler.TransformAll(xTest); err != nil {
		return nil, err
	}
	r.emit(LevelInfo, "Features normalized")

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	forestCfg := ml.DefaultForestConfig()
	forestCfg.Trees = p.config.Trees
	forestCfg.Seed = p.config.Seed
	forestCfg.Workers = p.config.Workers
	r.emit(LevelInfo, "Training started with RandomForest (%d estimators)", forestCfg.Trees)

	forest, err := ml.FitForest(ctx, xTrain, yTrain, forestCfg)
	if err != nil {
		return nil, err
	}
	r.emit(LevelSuccess, "Training completed successfully")

	eval, err := ml.Evaluate(forest, xTest, yTest)
	if err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}
	r.emit(LevelSuccess, "Model evaluation complete")

	importance, err := ml.FeatureImportance(forest, schema)
	if err != nil {
		return nil, err
	}

	fraud := 0
	for _, v := range labels {
		fraud += v
	}
	trainedAt := p.now().UTC()
	record := ml.MetricsRecord{
		Accuracy:    eval.Accuracy,
		Precision:   eval.Precision,
		Recall:      eval.Recall,
		F1Score:     eval.F1Score,
		AUC:         eval.AUC,
		DataVolume:  ds.Len(),
		FraudRatio:  float64(fraud) / float64(ds.Len()),
		LastUpdated: trainedAt,
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bundle := &ml.Bundle{
		Classifier: forest,
		Scaler:     scaler,
		Schema:     schema,
		TrainedAt:  trainedAt,
	}
	if err := p.store.Put(ctx, tenant, bundle, record); err != nil {
		return nil, err
	}
	r.emit(LevelSuccess, "Model saved to client storage")

	return &Result{
		Logs:              r.logs,
		Message:           "Training completed successfully",
		Metrics:           record,
		FeatureImportance: importance,
	}, nil
}

// binaryLabels reads the label column, which must hold only 0 and 1. Unlike
// feature columns, missing label cells are rejected.
func binaryLabels(ds *dataset.Dataset, label string) ([]int, error) {
	if row := ds.FirstMissing(label); row >= 0 {
		return nil, fmt.Errorf("%w: label column %q row %d has no value", common.ErrValidation, label, row+1)
	}
	values, err := ds.Floats(label)
	if err != nil {
		return nil, fmt.Errorf("%w: label column %q must be numeric: %v", common.ErrValidation, label, err)
	}

	labels := make([]int, len(values))
	for i, v := range values {
		switch v {
		case 0:
		case 1:
			labels[i] = 1
		default:
			return nil, fmt.Errorf("%w: label column %q row %d holds %v, expected 0 or 1", common.ErrValidation, label, i+1, v)
		}
	}
	return labels, nil
}
