package ml

import (
	"fmt"
	"math"
)

// StandardScaler standardizes features to zero mean and unit variance using
// statistics fit on the training partition only.
type StandardScaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// FitScaler computes per-column mean and population standard deviation.
// Constant columns get a scale of 1 so they transform to 0.
func FitScaler(x [][]float64) (*StandardScaler, error) {
	if len(x) == 0 {
		return nil, fmt.Errorf("cannot fit scaler on empty matrix")
	}

	dims := len(x[0])
	mean := make([]float64, dims)
	for _, row := range x {
		if len(row) != dims {
			return nil, fmt.Errorf("ragged matrix: expected %d columns, got %d", dims, len(row))
		}
		for j, v := range row {
			mean[j] += v
		}
	}
	n := float64(len(x))
	for j := range mean {
		mean[j] /= n
	}

	scale := make([]float64, dims)
	for _, row := range x {
		for j, v := range row {
			d := v - mean[j]
			scale[j] += d * d
		}
	}
	for j := range scale {
		std := math.Sqrt(scale[j] / n)
		if std <= 1e-12*math.Max(1, math.Abs(mean[j])) || math.IsNaN(std) {
			std = 1
		}
		scale[j] = std
	}

	return &StandardScaler{Mean: mean, Scale: scale}, nil
}

// Dims returns the number of features the scaler was fit on.
func (s *StandardScaler) Dims() int {
	return len(s.Mean)
}

// Transform standardizes a single vector into a new slice.
func (s *StandardScaler) Transform(v []float64) ([]float64, error) {
	if len(v) != len(s.Mean) {
		return nil, fmt.Errorf("scaler expects %d features, got %d", len(s.Mean), len(v))
	}
	out := make([]float64, len(v))
	for j, x := range v {
		out[j] = (x - s.Mean[j]) / s.Scale[j]
	}
	return out, nil
}

// TransformAll standardizes every row of x.
func (s *StandardScaler) TransformAll(x [][]float64) ([][]float64, error) {
	out := make([][]float64, len(x))
	for i, row := range x {
		scaled, err := s.Transform(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = scaled
	}
	return out, nil
}

func (s *StandardScaler) validate() error {
	if len(s.Mean) == 0 || len(s.Mean) != len(s.Scale) {
		return fmt.Errorf("scaler has %d means and %d scales", len(s.Mean), len(s.Scale))
	}
	for j, sc := range s.Scale {
		if sc == 0 || math.IsNaN(sc) || math.IsInf(sc, 0) {
			return fmt.Errorf("scaler has invalid scale %v at feature %d", sc, j)
		}
	}
	return nil
}
