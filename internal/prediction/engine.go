// Package prediction scores single transactions against a tenant's trained
// model bundle.
package prediction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fraud-scoring/internal/common"
	"fraud-scoring/internal/features"
	"fraud-scoring/internal/ml"

	"github.com/rs/zerolog/log"
)

// Prediction is the scored outcome for one transaction.
type Prediction struct {
	TenantID    string  `json:"tenantId"`
	Probability float64 `json:"probability"`
	Label       string  `json:"label"`
}

// BundleSource resolves a tenant's active model bundle.
type BundleSource interface {
	Get(ctx context.Context, tenant string) (*ml.Bundle, error)
}

// MetricsInterface records prediction outcomes.
type MetricsInterface interface {
	PredictionInc()
	PredictionFailureInc()
	PredictionLatencyObserve(seconds float64)
	PredictionScoreObserve(p float64)
}

// Engine scores transactions. It holds no model state of its own.
type Engine struct {
	store   BundleSource
	metrics MetricsInterface
}

// NewEngine creates an engine over store. metrics may be nil.
func NewEngine(store BundleSource, metrics MetricsInterface) *Engine {
	return &Engine{store: store, metrics: metrics}
}

// Label maps a fraud probability to its label using the fixed 0.5 cut-off.
func Label(probability float64) string {
	if probability > common.FraudThreshold {
		return common.LabelFraud
	}
	return common.LabelLegitimate
}

// Predict returns the fraud probability and label of rec under the tenant's
// model. Missing fields are scored as 0. Failures outside the shared error
// taxonomy, including panics, are reported as ErrPrediction.
func (e *Engine) Predict(ctx context.Context, tenant string, rec features.Record) (pred *Prediction, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("tenant", tenant).Msg("Prediction panicked")
			pred, err = nil, fmt.Errorf("%w: %v", common.ErrPrediction, r)
		}
		e.observe(start, pred, err)
	}()

	if rec == nil {
		return nil, fmt.Errorf("%w: missing client_id or transaction data", common.ErrValidation)
	}

	bundle, err := e.store.Get(ctx, tenant)
	if err != nil {
		return nil, classify(err)
	}

	p, err := bundle.Score(rec)
	if err != nil {
		return nil, classify(err)
	}

	return &Prediction{
		TenantID:    tenant,
		Probability: p,
		Label:       Label(p),
	}, nil
}

func (e *Engine) observe(start time.Time, pred *Prediction, err error) {
	if e.metrics == nil {
		return
	}
	if err != nil {
		e.metrics.PredictionFailureInc()
		return
	}
	e.metrics.PredictionInc()
	e.metrics.PredictionLatencyObserve(time.Since(start).Seconds())
	e.metrics.PredictionScoreObserve(pred.Probability)
}

// classify keeps taxonomy and context errors as they are and wraps the rest.
func classify(err error) error {
	for _, known := range []error{
		common.ErrValidation,
		common.ErrFeatureType,
		common.ErrNoModel,
		common.ErrModelLoad,
		context.Canceled,
		context.DeadlineExceeded,
	} {
		if errors.Is(err, known) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", common.ErrPrediction, err)
}
