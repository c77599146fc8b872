package fusion

import (
	"context"

	"fraud-scoring/internal/features"
	"fraud-scoring/internal/ml"
	"fraud-scoring/internal/prediction"
	"fraud-scoring/internal/rules"
)

// Backend provides the per-tenant signals the detector combines. It is
// implemented in process by LocalBackend and remotely by the HTTP client.
type Backend interface {
	Predict(ctx context.Context, tenant string, rec features.Record) (*prediction.Prediction, error)
	Metrics(ctx context.Context, tenant string) (ml.MetricsRecord, error)
	Tenants(ctx context.Context) ([]string, error)
	ApplyRules(ctx context.Context, rec features.Record, score float64) (rules.Result, error)
}

// LocalBackend serves the detector from the in-process engine and store.
type LocalBackend struct {
	Engine *prediction.Engine
	Store  *ml.ModelStore
	Rules  *rules.Evaluator
}

func (b *LocalBackend) Predict(ctx context.Context, tenant string, rec features.Record) (*prediction.Prediction, error) {
	return b.Engine.Predict(ctx, tenant, rec)
}

func (b *LocalBackend) Metrics(_ context.Context, tenant string) (ml.MetricsRecord, error) {
	return b.Store.GetMetrics(tenant)
}

func (b *LocalBackend) Tenants(ctx context.Context) ([]string, error) {
	return b.Store.Tenants(ctx)
}

func (b *LocalBackend) ApplyRules(_ context.Context, rec features.Record, score float64) (rules.Result, error) {
	return b.Rules.Evaluate(rec, score)
}
