// Package features derives the ordered feature schema of a tenant's training
// dataset and aligns incoming transaction records to it.
package features

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"fraud-scoring/internal/common"
	"fraud-scoring/internal/dataset"
)

// Record is a single transaction as submitted by a client: field name to
// JSON-decoded value.
type Record map[string]any

// Schema is the ordered list of feature column names a model was trained on.
type Schema []string

// DeriveSchema returns every numeric column of ds except label, in the
// dataset's column order.
func DeriveSchema(ds *dataset.Dataset, label string) (Schema, error) {
	if !ds.HasColumn(label) {
		return nil, fmt.Errorf("%w: label column %q not found", common.ErrSchema, label)
	}

	var schema Schema
	for _, name := range ds.NumericColumns() {
		if name != label {
			schema = append(schema, name)
		}
	}
	if len(schema) == 0 {
		return nil, fmt.Errorf("%w: no numeric feature columns besides %q", common.ErrSchema, label)
	}
	return schema, nil
}

// AlignRecord builds the feature vector for rec in schema order. Fields the
// record does not carry are substituted with 0; fields that are present but
// not numeric fail with ErrFeatureType.
func AlignRecord(rec Record, schema Schema) ([]float64, error) {
	vector := make([]float64, len(schema))
	for i, name := range schema {
		raw, ok := rec[name]
		if !ok {
			continue
		}
		v, ok := Number(raw)
		if !ok {
			return nil, fmt.Errorf("%w: field %q has non-numeric value %v", common.ErrFeatureType, name, raw)
		}
		vector[i] = v
	}
	return vector, nil
}

// Record rebuilds a record from a vector aligned to s.
func (s Schema) Record(vector []float64) Record {
	rec := make(Record, len(s))
	for i, name := range s {
		if i < len(vector) {
			rec[name] = vector[i]
		}
	}
	return rec
}

// Equal reports whether both schemas list the same names in the same order.
func (s Schema) Equal(other Schema) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// Number casts a JSON-decoded value to float64. Numeric kinds, json.Number,
// numeric strings and booleans are accepted; NaN and infinities are not.
func Number(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int8:
		f = float64(x)
	case int16:
		f = float64(x)
	case int32:
		f = float64(x)
	case int64:
		f = float64(x)
	case uint:
		f = float64(x)
	case uint8:
		f = float64(x)
	case uint16:
		f = float64(x)
	case uint32:
		f = float64(x)
	case uint64:
		f = float64(x)
	case bool:
		if x {
			f = 1
		}
	case json.Number:
		parsed, err := x.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Field returns rec[name] as a number, 0 when the field is absent.
func (r Record) Field(name string) (float64, error) {
	raw, ok := r[name]
	if !ok {
		return 0, nil
	}
	v, ok := Number(raw)
	if !ok {
		return 0, fmt.Errorf("%w: field %q has non-numeric value %v", common.ErrFeatureType, name, raw)
	}
	return v, nil
}
