package common

import "errors"

// Error taxonomy shared by the training, prediction and rule packages.
// Callers wrap these with context using fmt.Errorf("...: %w", ...) and the
// HTTP layer classifies them with errors.Is.
var (
	// ErrValidation marks malformed or missing request input.
	ErrValidation = errors.New("validation error")

	// ErrSchema marks a dataset whose shape cannot produce a feature schema.
	ErrSchema = errors.New("schema error")

	// ErrFeatureType marks a record field that cannot be cast to a number.
	ErrFeatureType = errors.New("feature type error")

	// ErrNoModel is returned when a tenant has no trained model in cache or on disk.
	ErrNoModel = errors.New("no model trained for this tenant")

	// ErrNoMetrics is returned when no metrics were recorded for a tenant in this process.
	ErrNoMetrics = errors.New("no metrics available for this tenant")

	// ErrModelLoad marks durable artifacts that exist but cannot be decoded.
	ErrModelLoad = errors.New("error loading model")

	// ErrPrediction wraps unexpected scoring failures.
	ErrPrediction = errors.New("error making prediction")
)
