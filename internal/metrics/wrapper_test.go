package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWrapper(t *testing.T) (*Metrics, *Wrapper) {
	t.Helper()
	m := NewWithRegistry(prometheus.NewRegistry())
	return m, NewWrapper(m)
}

func TestNewWrapper(t *testing.T) {
	m, w := newTestWrapper(t)
	require.NotNil(t, w)
	assert.Same(t, m, w.m)
}

func TestNewWithRegistry_Isolated(t *testing.T) {
	// Two registries must not collide on metric names.
	assert.NotPanics(t, func() {
		NewWithRegistry(prometheus.NewRegistry())
		NewWithRegistry(prometheus.NewRegistry())
	})
}

func TestWrapper_Counters(t *testing.T) {
	m, w := newTestWrapper(t)

	tests := []struct {
		name    string
		inc     func()
		counter prometheus.Counter
	}{
		{"cache hits", w.CacheHitInc, m.CacheHits},
		{"cache misses", w.CacheMissInc, m.CacheMisses},
		{"model load failures", w.ModelLoadFailureInc, m.ModelLoadFailures},
		{"trainings", w.TrainingInc, m.TrainingsTotal},
		{"training failures", w.TrainingFailureInc, m.TrainingFailures},
		{"predictions", w.PredictionInc, m.PredictionsTotal},
		{"prediction failures", w.PredictionFailureInc, m.PredictionFailures},
		{"rule evaluations", w.RuleEvaluationInc, m.RuleEvaluations},
		{"errors", w.ErrorsInc, m.ErrorsTotal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, 0.0, testutil.ToFloat64(tt.counter))
			tt.inc()
			tt.inc()
			assert.Equal(t, 2.0, testutil.ToFloat64(tt.counter))
		})
	}
}

func TestWrapper_LabelledCounters(t *testing.T) {
	m, w := newTestWrapper(t)

	w.RuleMatchInc("high_amount")
	w.RuleMatchInc("high_amount")
	w.RuleMatchInc("suspicious_pattern")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RuleMatches.WithLabelValues("high_amount")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RuleMatches.WithLabelValues("suspicious_pattern")))

	w.DetectionInc("fraud")
	w.DetectionInc("legitimate")
	w.DetectionInc("legitimate")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Detections.WithLabelValues("fraud")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Detections.WithLabelValues("legitimate")))
}

func TestWrapper_Gauges(t *testing.T) {
	m, w := newTestWrapper(t)

	w.CachedModelsSet(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.CachedModels))

	w.StreamsAdd(1)
	w.StreamsAdd(1)
	w.StreamsAdd(-1)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveStreams))
}

func TestWrapper_Histograms(t *testing.T) {
	m, w := newTestWrapper(t)

	w.TrainingDurationObserve(0.5)
	w.ModelAccuracyObserve(0.9)
	w.PredictionLatencyObserve(0.002)
	w.PredictionScoreObserve(0.7)
	w.PredictionScoreObserve(0.1)

	assert.Equal(t, 1, testutil.CollectAndCount(m.TrainingDuration))
	assert.Equal(t, 1, testutil.CollectAndCount(m.PredictionScores))
}

func TestErrorRate(t *testing.T) {
	_, w := newTestWrapper(t)

	assert.Equal(t, 0.0, w.ErrorRate(), "no traffic means no error rate")

	for i := 0; i < 3; i++ {
		w.PredictionInc()
	}
	w.PredictionFailureInc()

	assert.InDelta(t, 0.25, w.ErrorRate(), 1e-9)
}
