package ml

import (
	"fmt"
	"sort"

	"fraud-scoring/internal/features"
)

// FeatureStats is the mean decrease in Gini impurity attributed to one feature.
type FeatureStats struct {
	Name            string  `json:"name"`
	ImportanceScore float64 `json:"importanceScore"`
}

// FeatureImportance averages the per-tree normalized impurity decrease of the
// forest and names each entry after the schema. The result is sorted by score,
// highest first, with ties broken by schema order.
func FeatureImportance(f *RandomForest, schema features.Schema) ([]FeatureStats, error) {
	if f.NFeatures != len(schema) {
		return nil, fmt.Errorf("forest has %d features but schema lists %d", f.NFeatures, len(schema))
	}

	scores := make([]float64, f.NFeatures)
	for _, t := range f.Trees {
		for j, v := range t.Importance {
			scores[j] += v
		}
	}

	out := make([]FeatureStats, len(schema))
	for j, name := range schema {
		score := 0.0
		if len(f.Trees) > 0 {
			score = scores[j] / float64(len(f.Trees))
		}
		out[j] = FeatureStats{Name: name, ImportanceScore: score}
	}

	sort.SliceStable(out, func(a, b int) bool {
		return out[a].ImportanceScore > out[b].ImportanceScore
	})
	return out, nil
}
