package ml

import (
	"context"
	"testing"
	"time"

	"fraud-scoring/internal/features"

	"github.com/stretchr/testify/require"
)

// separableData returns rows whose first column decides the label (>= 10 is
// fraud) and whose second column is noise.
func separableData(n int) ([][]float64, []int) {
	x := make([][]float64, n)
	y := make([]int, n)
	for i := 0; i < n; i++ {
		v := float64(i % 20)
		x[i] = []float64{v, float64((i * 7) % 13)}
		if v >= 10 {
			y[i] = 1
		}
	}
	return x, y
}

func smallForestConfig(seed int64) ForestConfig {
	cfg := DefaultForestConfig()
	cfg.Trees = 25
	cfg.Seed = seed
	return cfg
}

func trainedBundle(t *testing.T, seed int64) *Bundle {
	t.Helper()

	x, y := separableData(200)
	scaler, err := FitScaler(x)
	require.NoError(t, err)
	scaled, err := scaler.TransformAll(x)
	require.NoError(t, err)

	forest, err := FitForest(context.Background(), scaled, y, smallForestConfig(seed))
	require.NoError(t, err)

	return &Bundle{
		Classifier: forest,
		Scaler:     scaler,
		Schema:     features.Schema{"amount", "noise"},
		TrainedAt:  time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC),
	}
}
