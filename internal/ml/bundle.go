package ml

import (
	"encoding/json"
	"fmt"
	"time"

	"fraud-scoring/internal/features"
	"fraud-scoring/internal/storage"
)

// Bundle is one tenant's model generation. Its three parts are fit together
// and only ever stored, loaded and replaced as a unit; a Bundle is never
// mutated once handed to the ModelStore.
type Bundle struct {
	Classifier *RandomForest
	Scaler     *StandardScaler
	Schema     features.Schema
	TrainedAt  time.Time
}

// Validate checks that classifier, scaler and schema agree on the number of
// features.
func (b *Bundle) Validate() error {
	if b == nil || b.Classifier == nil || b.Scaler == nil {
		return fmt.Errorf("bundle is incomplete")
	}
	if len(b.Schema) == 0 {
		return fmt.Errorf("bundle has an empty feature schema")
	}
	seen := make(map[string]bool, len(b.Schema))
	for _, name := range b.Schema {
		if seen[name] {
			return fmt.Errorf("feature %q appears twice in schema", name)
		}
		seen[name] = true
	}
	if err := b.Scaler.validate(); err != nil {
		return err
	}
	if err := b.Classifier.validate(); err != nil {
		return err
	}
	if b.Scaler.Dims() != len(b.Schema) || b.Classifier.NFeatures != len(b.Schema) {
		return fmt.Errorf("bundle dimensions disagree: schema %d, scaler %d, classifier %d",
			len(b.Schema), b.Scaler.Dims(), b.Classifier.NFeatures)
	}
	return nil
}

// Score aligns rec to the schema, scales it and returns the fraud probability.
func (b *Bundle) Score(rec features.Record) (float64, error) {
	vector, err := features.AlignRecord(rec, b.Schema)
	if err != nil {
		return 0, err
	}
	scaled, err := b.Scaler.Transform(vector)
	if err != nil {
		return 0, err
	}
	return b.Classifier.PredictProba(scaled)
}

func encodeBundle(b *Bundle) (storage.Artifacts, error) {
	classifier, err := json.Marshal(b.Classifier)
	if err != nil {
		return storage.Artifacts{}, fmt.Errorf("encode classifier: %w", err)
	}
	scaler, err := json.Marshal(b.Scaler)
	if err != nil {
		return storage.Artifacts{}, fmt.Errorf("encode scaler: %w", err)
	}
	schema, err := json.Marshal(b.Schema)
	if err != nil {
		return storage.Artifacts{}, fmt.Errorf("encode features: %w", err)
	}

	return storage.Artifacts{
		Classifier: classifier,
		Scaler:     scaler,
		Features:   schema,
		TrainedAt:  b.TrainedAt,
	}, nil
}

func decodeBundle(a storage.Artifacts) (*Bundle, error) {
	b := &Bundle{TrainedAt: a.TrainedAt}

	if err := json.Unmarshal(a.Classifier, &b.Classifier); err != nil {
		return nil, fmt.Errorf("decode classifier: %w", err)
	}
	if err := json.Unmarshal(a.Scaler, &b.Scaler); err != nil {
		return nil, fmt.Errorf("decode scaler: %w", err)
	}
	if err := json.Unmarshal(a.Features, &b.Schema); err != nil {
		return nil, fmt.Errorf("decode features: %w", err)
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}
