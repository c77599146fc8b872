// Package ml provides the per-tenant model lifecycle for the fraud scoring
// service: the standard scaler and random forest classifier, hold-out
// evaluation, the artifact bundle codec and the tenant model store that keeps
// bundles cached in memory and durable in bbolt.
package ml

// Classifier scores a scaled feature vector.
type Classifier interface {
	// PredictProba returns the probability of the positive (fraud) class.
	PredictProba(features []float64) (float64, error)

	// Predict returns the predicted class, 1 for fraud and 0 otherwise.
	Predict(features []float64) (int, error)
}

var _ Classifier = (*RandomForest)(nil)
