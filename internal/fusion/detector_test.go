package fusion

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"fraud-scoring/internal/cfg"
	"fraud-scoring/internal/common"
	"fraud-scoring/internal/dataset"
	"fraud-scoring/internal/features"
	"fraud-scoring/internal/ml"
	"fraud-scoring/internal/prediction"
	"fraud-scoring/internal/rules"
	"fraud-scoring/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend serves fixed probabilities and F1 scores per tenant.
type fakeBackend struct {
	probs      map[string]float64
	f1         map[string]float64
	failing    map[string]bool
	tenantsErr error
	ruleCalls  int
	ruleScores []float64
}

func (b *fakeBackend) Predict(_ context.Context, tenant string, _ features.Record) (*prediction.Prediction, error) {
	if b.failing[tenant] {
		return nil, errors.New("scoring unavailable")
	}
	p, ok := b.probs[tenant]
	if !ok {
		return nil, common.ErrNoModel
	}
	return &prediction.Prediction{TenantID: tenant, Probability: p, Label: prediction.Label(p)}, nil
}

func (b *fakeBackend) Metrics(_ context.Context, tenant string) (ml.MetricsRecord, error) {
	f1, ok := b.f1[tenant]
	if !ok {
		return ml.MetricsRecord{}, common.ErrNoMetrics
	}
	return ml.MetricsRecord{F1Score: f1, LastUpdated: time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)}, nil
}

func (b *fakeBackend) Tenants(context.Context) ([]string, error) {
	if b.tenantsErr != nil {
		return nil, b.tenantsErr
	}
	var out []string
	for t := range b.probs {
		out = append(out, t)
	}
	for t := range b.failing {
		out = append(out, t)
	}
	return out, nil
}

func (b *fakeBackend) ApplyRules(_ context.Context, rec features.Record, score float64) (rules.Result, error) {
	b.ruleCalls++
	b.ruleScores = append(b.ruleScores, score)
	return rules.Evaluate(rec, score)
}

type mockMetrics struct {
	decisions map[string]int
}

func (m *mockMetrics) DetectionInc(decision string) {
	if m.decisions == nil {
		m.decisions = make(map[string]int)
	}
	m.decisions[decision]++
}

var (
	drained = features.Record{"amount": 250000.0, "oldbalanceOrg": 100000.0, "newbalanceOrig": 0.0, "oldbalanceDest": 0.0, "newbalanceDest": 0.0}
	payment = features.Record{"amount": 50.0, "oldbalanceOrg": 1000.0, "newbalanceOrig": 950.0, "oldbalanceDest": 500.0, "newbalanceDest": 550.0}
)

func newDetector(t *testing.T, b Backend, mutate func(*cfg.FusionSettings)) *Detector {
	t.Helper()
	s := cfg.DefaultFusionSettings()
	if mutate != nil {
		mutate(&s)
	}
	d, err := NewDetector(b, s, nil, nil)
	require.NoError(t, err)
	return d
}

func TestDetect_DecisionBands(t *testing.T) {
	tests := []struct {
		name      string
		prob      float64
		rec       features.Record
		enableERS bool
		want      string
		wantRules bool
	}{
		{"confident fraud", 0.9, payment, true, common.LabelFraud, false},
		{"upper edge of band is ambiguous", 0.7, drained, true, common.LabelFraud, true},
		{"ambiguous, rules say fraud", 0.6, drained, true, common.LabelFraud, true},
		{"ambiguous, rules say legitimate", 0.6, payment, true, common.LabelLegitimate, true},
		{"lower edge of band", 0.45, drained, true, common.LabelFraud, true},
		{"below band", 0.44, drained, true, common.LabelLegitimate, false},
		{"ambiguous without ERS", 0.6, drained, false, common.LabelLegitimate, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &fakeBackend{probs: map[string]float64{"acme": tt.prob}}
			d := newDetector(t, b, func(s *cfg.FusionSettings) { s.EnableERS = tt.enableERS })

			det, err := d.Detect(context.Background(), tt.rec)
			require.NoError(t, err)

			assert.InDelta(t, tt.prob, det.AggregatedScore, 1e-12)
			assert.Equal(t, tt.want, det.FinalDecision)
			assert.Equal(t, tt.wantRules, det.ERSResult != nil)
			assert.Len(t, det.ClientPredictions, 1)
		})
	}
}

func TestDetect_RulesReceiveAggregate(t *testing.T) {
	b := &fakeBackend{probs: map[string]float64{"a": 0.5, "b": 0.6}}
	d := newDetector(t, b, func(s *cfg.FusionSettings) { s.Strategy = common.StrategyEqual })

	_, err := d.Detect(context.Background(), payment)
	require.NoError(t, err)
	require.Equal(t, 1, b.ruleCalls)
	assert.InDelta(t, 0.55, b.ruleScores[0], 1e-12)
}

func TestDetect_EqualWeights(t *testing.T) {
	b := &fakeBackend{
		probs: map[string]float64{"a": 0.2, "b": 0.8, "c": 0.5},
		f1:    map[string]float64{"a": 0.9, "b": 0.1},
	}
	d := newDetector(t, b, func(s *cfg.FusionSettings) { s.Strategy = common.StrategyEqual })

	det, err := d.Detect(context.Background(), payment)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, det.AggregatedScore, 1e-12)
}

func TestDetect_PerformanceWeights(t *testing.T) {
	b := &fakeBackend{
		// a: weight 0.8; b: F1 of 0 counts as 0.5; c: no metrics counts as 1.
		probs: map[string]float64{"a": 1.0, "b": 0.0, "c": 0.5},
		f1:    map[string]float64{"a": 0.8, "b": 0},
	}
	d := newDetector(t, b, nil)

	det, err := d.Detect(context.Background(), payment)
	require.NoError(t, err)

	want := (1.0*0.8 + 0.0*0.5 + 0.5*1) / (0.8 + 0.5 + 1)
	assert.InDelta(t, want, det.AggregatedScore, 1e-12)
}

func TestDetect_SkipsFailingTenants(t *testing.T) {
	b := &fakeBackend{
		probs:   map[string]float64{"ok": 0.9},
		failing: map[string]bool{"down": true},
	}
	d := newDetector(t, b, nil)

	det, err := d.Detect(context.Background(), payment)
	require.NoError(t, err)
	require.Len(t, det.ClientPredictions, 1)
	assert.Equal(t, "ok", det.ClientPredictions[0].TenantID)
	assert.Equal(t, common.LabelFraud, det.FinalDecision)
}

func TestDetect_NoTenants(t *testing.T) {
	metrics := &mockMetrics{}
	d, err := NewDetector(&fakeBackend{}, cfg.DefaultFusionSettings(), nil, metrics)
	require.NoError(t, err)

	det, err := d.Detect(context.Background(), drained)
	require.NoError(t, err)
	assert.Equal(t, 0.0, det.AggregatedScore)
	assert.Empty(t, det.ClientPredictions)
	assert.NotNil(t, det.ClientPredictions)
	assert.Nil(t, det.ERSResult)
	assert.Equal(t, common.LabelLegitimate, det.FinalDecision)
	assert.Equal(t, 1, metrics.decisions[common.LabelLegitimate])
}

func TestDetect_ConfiguredTenants(t *testing.T) {
	b := &fakeBackend{probs: map[string]float64{"a": 0.9, "b": 0.1}}
	d := newDetector(t, b, func(s *cfg.FusionSettings) { s.Tenants = []string{"b", "ghost"} })

	det, err := d.Detect(context.Background(), payment)
	require.NoError(t, err)
	require.Len(t, det.ClientPredictions, 1)
	assert.Equal(t, "b", det.ClientPredictions[0].TenantID)
}

func TestDetect_Errors(t *testing.T) {
	d := newDetector(t, &fakeBackend{}, nil)
	_, err := d.Detect(context.Background(), nil)
	assert.ErrorIs(t, err, common.ErrValidation)

	d = newDetector(t, &fakeBackend{tenantsErr: errors.New("db closed")}, nil)
	_, err = d.Detect(context.Background(), payment)
	assert.Error(t, err)
}

func TestDetectBatch(t *testing.T) {
	b := &fakeBackend{probs: map[string]float64{"acme": 0.6}}
	d := newDetector(t, b, func(s *cfg.FusionSettings) { s.BatchLimit = 3 })

	csv := "amount,oldbalanceOrg,newbalanceOrig,oldbalanceDest,newbalanceDest,type\n" +
		"250000,100000,0,0,0,TRANSFER\n" +
		"50,1000,950,500,550,PAYMENT\n" +
		"250000,100000,0,0,0,TRANSFER\n" +
		"50,1000,950,500,550,PAYMENT\n"
	ds, err := dataset.Parse(strings.NewReader(csv))
	require.NoError(t, err)

	results, err := d.DetectBatch(context.Background(), ds)
	require.NoError(t, err)
	require.Len(t, results, 3, "batch is capped at the limit")

	assert.Equal(t, common.LabelFraud, results[0].FinalDecision)
	assert.Equal(t, common.LabelLegitimate, results[1].FinalDecision)
	assert.Equal(t, common.LabelFraud, results[2].FinalDecision)
	assert.Equal(t, "TRANSFER", results[0].Transaction["type"])
	assert.Equal(t, 250000.0, results[0].Transaction["amount"])

	_, err = d.DetectBatch(context.Background(), nil)
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestUpdateSettings(t *testing.T) {
	db, err := storage.New(t.TempDir())
	require.NoError(t, err)
	defer db.Close()

	d, err := NewDetector(&fakeBackend{}, cfg.DefaultFusionSettings(), db, nil)
	require.NoError(t, err)

	strategy := common.StrategyEqual
	disabled := false
	updated, err := d.UpdateSettings(SettingsUpdate{
		Strategy:     &strategy,
		EnableERS:    &disabled,
		ERSThreshold: []float64{0.3, 0.9},
	})
	require.NoError(t, err)
	assert.Equal(t, common.StrategyEqual, updated.Strategy)
	assert.False(t, updated.EnableERS)
	assert.Equal(t, [2]float64{0.3, 0.9}, updated.ERSThreshold)
	assert.Equal(t, common.DefaultBatchLimit, updated.BatchLimit, "untouched fields are kept")
	assert.Equal(t, updated, d.Settings())

	// A new detector over the same storage starts from the saved settings.
	reloaded, err := NewDetector(&fakeBackend{}, cfg.DefaultFusionSettings(), db, nil)
	require.NoError(t, err)
	assert.Equal(t, updated, reloaded.Settings())
}

func TestUpdateSettings_Invalid(t *testing.T) {
	d := newDetector(t, &fakeBackend{}, nil)
	before := d.Settings()

	bad := "loudest"
	zero := 0
	tests := []struct {
		name string
		u    SettingsUpdate
	}{
		{"strategy", SettingsUpdate{Strategy: &bad}},
		{"threshold length", SettingsUpdate{ERSThreshold: []float64{0.5}}},
		{"threshold order", SettingsUpdate{ERSThreshold: []float64{0.8, 0.2}}},
		{"batch limit", SettingsUpdate{BatchLimit: &zero}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.UpdateSettings(tt.u)
			assert.ErrorIs(t, err, common.ErrValidation)
			assert.Equal(t, before, d.Settings())
		})
	}
}

func TestStatus(t *testing.T) {
	b := &fakeBackend{
		probs: map[string]float64{"b": 0.1, "a": 0.2},
		f1:    map[string]float64{"a": 0.75},
	}
	d := newDetector(t, b, func(s *cfg.FusionSettings) { s.Tenants = []string{"c", "a", "c"} })

	status, err := d.Status(context.Background())
	require.NoError(t, err)
	require.Len(t, status, 3)

	assert.Equal(t, "a", status[0].ClientID)
	assert.Equal(t, StatusTrained, status[0].ModelStatus)
	require.NotNil(t, status[0].Metrics)
	assert.Equal(t, 0.75, status[0].Metrics.F1Score)
	require.NotNil(t, status[0].LastSyncTime)
	assert.Equal(t, "2024-06-01T10:00:00Z", *status[0].LastSyncTime)

	assert.Equal(t, "b", status[1].ClientID)
	assert.Equal(t, StatusTrained, status[1].ModelStatus)
	assert.Nil(t, status[1].Metrics)

	assert.Equal(t, "c", status[2].ClientID)
	assert.Equal(t, StatusNotTrained, status[2].ModelStatus)
}
