package ml

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoClassifier scores a vector with its first component.
type echoClassifier struct{}

func (echoClassifier) PredictProba(v []float64) (float64, error) { return v[0], nil }

func (echoClassifier) Predict(v []float64) (int, error) {
	if v[0] > 0.5 {
		return 1, nil
	}
	return 0, nil
}

func TestEvaluate(t *testing.T) {
	x := [][]float64{{0.9}, {0.8}, {0.3}, {0.6}}
	y := []int{1, 0, 0, 1}

	e, err := Evaluate(echoClassifier{}, x, y)
	require.NoError(t, err)

	assert.InDelta(t, 0.75, e.Accuracy, 1e-12)
	assert.InDelta(t, 2.0/3.0, e.Precision, 1e-12)
	assert.InDelta(t, 1.0, e.Recall, 1e-12)
	assert.InDelta(t, 0.8, e.F1Score, 1e-12)
	assert.InDelta(t, 0.75, e.AUC, 1e-12)
}

func TestEvaluate_NoPositivePredictions(t *testing.T) {
	x := [][]float64{{0.1}, {0.1}}
	y := []int{1, 0}

	e, err := Evaluate(echoClassifier{}, x, y)
	require.NoError(t, err)

	assert.Equal(t, 0.5, e.Accuracy)
	assert.Equal(t, 0.0, e.Precision)
	assert.Equal(t, 0.0, e.Recall)
	assert.Equal(t, 0.0, e.F1Score)
	assert.Equal(t, 0.5, e.AUC)
}

func TestEvaluate_Errors(t *testing.T) {
	_, err := Evaluate(echoClassifier{}, nil, nil)
	assert.Error(t, err)

	_, err = Evaluate(echoClassifier{}, [][]float64{{0.2}}, []int{1, 0})
	assert.Error(t, err)
}

func TestRocAUC(t *testing.T) {
	tests := []struct {
		name   string
		y      []int
		scores []float64
		want   float64
	}{
		{"perfect", []int{0, 0, 1, 1}, []float64{0.1, 0.2, 0.8, 0.9}, 1},
		{"inverted", []int{1, 1, 0, 0}, []float64{0.1, 0.2, 0.8, 0.9}, 0},
		{"ties", []int{0, 1, 1, 0}, []float64{0.5, 0.5, 0.9, 0.1}, 0.875},
		{"single class", []int{0, 0, 0}, []float64{0.1, 0.5, 0.9}, 0.5},
		{"all positive", []int{1, 1}, []float64{0.3, 0.4}, 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, RocAUC(tt.y, tt.scores), 1e-12)
		})
	}
}
