// Package fusion combines the fraud probabilities of several tenants' models
// with the expert rule decision into one final decision. It is a caller
// policy layered on top of the prediction engine and the rule system; neither
// of those components depends on it.
package fusion

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"fraud-scoring/internal/cfg"
	"fraud-scoring/internal/common"
	"fraud-scoring/internal/dataset"
	"fraud-scoring/internal/features"
	"fraud-scoring/internal/prediction"
	"fraud-scoring/internal/rules"

	"github.com/rs/zerolog/log"
)

const settingsKey = "fusion"

// Detection is the fused outcome for one transaction.
type Detection struct {
	Transaction       features.Record         `json:"transaction"`
	ClientPredictions []prediction.Prediction `json:"clientPredictions"`
	AggregatedScore   float64                 `json:"aggregatedScore"`
	ERSResult         *rules.Result           `json:"ersResult"`
	FinalDecision     string                  `json:"finalDecision"`
}

// SettingsStore persists fusion settings across restarts.
type SettingsStore interface {
	SaveSettings(name string, v any) error
	LoadSettings(name string, v any) (bool, error)
}

// MetricsInterface records fused decisions.
type MetricsInterface interface {
	DetectionInc(decision string)
}

// Detector aggregates tenant predictions under the current settings.
type Detector struct {
	backend Backend
	store   SettingsStore
	metrics MetricsInterface

	mu       sync.RWMutex
	settings cfg.FusionSettings
}

// NewDetector creates a detector starting from defaults, replaced by the
// settings persisted in store when there are any. store and metrics may be nil.
func NewDetector(backend Backend, defaults cfg.FusionSettings, store SettingsStore, metrics MetricsInterface) (*Detector, error) {
	d := &Detector{
		backend:  backend,
		store:    store,
		metrics:  metrics,
		settings: defaults,
	}

	if store != nil {
		var saved cfg.FusionSettings
		ok, err := store.LoadSettings(settingsKey, &saved)
		if err != nil {
			return nil, fmt.Errorf("failed to load fusion settings: %w", err)
		}
		if ok {
			if err := saved.Validate(); err != nil {
				log.Warn().Err(err).Msg("Ignoring invalid persisted fusion settings")
			} else {
				d.settings = saved
				log.Info().Msg("Fusion settings loaded from storage")
			}
		}
	}

	if err := d.settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid fusion settings: %w", err)
	}
	return d, nil
}

// Settings returns a copy of the current settings.
func (d *Detector) Settings() cfg.FusionSettings {
	d.mu.RLock()
	defer d.mu.RUnlock()

	s := d.settings
	s.Tenants = append([]string(nil), s.Tenants...)
	return s
}

// SettingsUpdate carries the fields of a settings change; nil fields are kept.
type SettingsUpdate struct {
	Tenants      []string  `json:"tenants,omitempty"`
	Strategy     *string   `json:"weightingStrategy,omitempty"`
	EnableERS    *bool     `json:"enableERS,omitempty"`
	ERSThreshold []float64 `json:"ersThreshold,omitempty"`
	BatchLimit   *int      `json:"batchLimit,omitempty"`
}

// UpdateSettings applies u, validates the result and persists it.
func (d *Detector) UpdateSettings(u SettingsUpdate) (cfg.FusionSettings, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	next := d.settings
	if u.Tenants != nil {
		next.Tenants = append([]string(nil), u.Tenants...)
	}
	if u.Strategy != nil {
		next.Strategy = *u.Strategy
	}
	if u.EnableERS != nil {
		next.EnableERS = *u.EnableERS
	}
	if u.ERSThreshold != nil {
		if len(u.ERSThreshold) != 2 {
			return d.settings, fmt.Errorf("%w: ERS threshold must be an array of 2 numbers", common.ErrValidation)
		}
		next.ERSThreshold = [2]float64{u.ERSThreshold[0], u.ERSThreshold[1]}
	}
	if u.BatchLimit != nil {
		next.BatchLimit = *u.BatchLimit
	}

	if err := next.Validate(); err != nil {
		return d.settings, fmt.Errorf("%w: %v", common.ErrValidation, err)
	}

	if d.store != nil {
		if err := d.store.SaveSettings(settingsKey, next); err != nil {
			return d.settings, fmt.Errorf("failed to save fusion settings: %w", err)
		}
	}
	d.settings = next
	log.Info().Str("strategy", next.Strategy).Bool("ers", next.EnableERS).Msg("Fusion settings updated")
	return next, nil
}

// Detect scores rec with every trained tenant, aggregates the probabilities
// and consults the rule system when the aggregate is ambiguous. Tenants whose
// prediction fails are left out of the aggregate.
func (d *Detector) Detect(ctx context.Context, rec features.Record) (*Detection, error) {
	if rec == nil {
		return nil, fmt.Errorf("%w: missing transaction data", common.ErrValidation)
	}

	settings := d.Settings()
	tenants, err := d.candidates(ctx, settings)
	if err != nil {
		return nil, err
	}

	return d.detect(ctx, settings, tenants, rec), nil
}

func (d *Detector) detect(ctx context.Context, settings cfg.FusionSettings, tenants []string, rec features.Record) *Detection {
	det := &Detection{
		Transaction:       rec,
		ClientPredictions: []prediction.Prediction{},
		FinalDecision:     common.LabelLegitimate,
	}

	var weightedSum, totalWeight float64
	for _, tenant := range tenants {
		pred, err := d.backend.Predict(ctx, tenant, rec)
		if err != nil {
			log.Debug().Err(err).Str("tenant", tenant).Msg("Skipping tenant prediction")
			continue
		}
		det.ClientPredictions = append(det.ClientPredictions, *pred)

		w := d.weight(ctx, settings.Strategy, tenant)
		weightedSum += pred.Probability * w
		totalWeight += w
	}
	if totalWeight > 0 {
		det.AggregatedScore = weightedSum / totalWeight
	}

	score := det.AggregatedScore
	if settings.EnableERS && score >= settings.ERSThreshold[0] && score <= settings.ERSThreshold[1] {
		res, err := d.backend.ApplyRules(ctx, rec, score)
		if err != nil {
			log.Warn().Err(err).Msg("Expert rules could not be applied")
		} else {
			det.ERSResult = &res
		}
	}

	switch {
	case score > common.FusionFraudAbove:
		det.FinalDecision = common.LabelFraud
	case score >= common.FusionAmbiguousFrom && det.ERSResult != nil:
		det.FinalDecision = det.ERSResult.Decision
	}

	if d.metrics != nil {
		d.metrics.DetectionInc(det.FinalDecision)
	}
	return det
}

// weight returns the tenant's aggregation weight: 1 under the equal strategy,
// otherwise its F1 score, 0.5 when that is 0 and 1 when no metrics exist.
func (d *Detector) weight(ctx context.Context, strategy, tenant string) float64 {
	if strategy == common.StrategyEqual {
		return 1
	}
	m, err := d.backend.Metrics(ctx, tenant)
	if err != nil {
		return 1
	}
	if m.F1Score == 0 {
		return 0.5
	}
	return m.F1Score
}

// DetectBatch runs Detect on the first BatchLimit rows of ds.
func (d *Detector) DetectBatch(ctx context.Context, ds *dataset.Dataset) ([]Detection, error) {
	if ds == nil {
		return nil, fmt.Errorf("%w: no file uploaded", common.ErrValidation)
	}

	settings := d.Settings()
	tenants, err := d.candidates(ctx, settings)
	if err != nil {
		return nil, err
	}

	n := ds.Len()
	if n > settings.BatchLimit {
		n = settings.BatchLimit
	}

	results := make([]Detection, 0, n)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		results = append(results, *d.detect(ctx, settings, tenants, ds.Record(i)))
	}
	return results, nil
}

// candidates returns the trained tenants taking part in detection: all of
// them, or the configured ones that have a model.
func (d *Detector) candidates(ctx context.Context, settings cfg.FusionSettings) ([]string, error) {
	trained, err := d.backend.Tenants(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	if len(settings.Tenants) == 0 {
		return trained, nil
	}

	have := make(map[string]bool, len(trained))
	for _, t := range trained {
		have[t] = true
	}
	var out []string
	for _, t := range settings.Tenants {
		if have[t] {
			out = append(out, t)
		}
	}
	return out, nil
}

// Model status values reported by Status.
const (
	StatusTrained    = "trained"
	StatusNotTrained = "not_trained"
)

// TenantStatus describes one tenant known to the detector.
type TenantStatus struct {
	ClientID     string           `json:"clientId"`
	ModelStatus  string           `json:"modelStatus"`
	Metrics      *MetricsSnapshot `json:"metrics"`
	LastSyncTime *string          `json:"lastSyncTime"`
}

// MetricsSnapshot is the subset of tenant metrics reported by Status.
type MetricsSnapshot struct {
	Accuracy   float64 `json:"accuracy"`
	Precision  float64 `json:"precision"`
	Recall     float64 `json:"recall"`
	F1Score    float64 `json:"f1Score"`
	AUC        float64 `json:"auc"`
	DataVolume int     `json:"dataVolume"`
	FraudRatio float64 `json:"fraudRatio"`
}

// Status lists configured and trained tenants with their model state and the
// metrics recorded for them, sorted by id.
func (d *Detector) Status(ctx context.Context) ([]TenantStatus, error) {
	trained, err := d.backend.Tenants(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}

	known := make(map[string]bool)
	for _, t := range trained {
		known[t] = true
	}
	ids := append([]string(nil), trained...)
	listed := make(map[string]bool)
	for _, t := range d.Settings().Tenants {
		if !known[t] && !listed[t] {
			listed[t] = true
			ids = append(ids, t)
		}
	}
	sort.Strings(ids)

	out := make([]TenantStatus, 0, len(ids))
	for _, id := range ids {
		st := TenantStatus{ClientID: id, ModelStatus: StatusNotTrained}
		if known[id] {
			st.ModelStatus = StatusTrained
		}
		if m, err := d.backend.Metrics(ctx, id); err == nil {
			st.Metrics = &MetricsSnapshot{
				Accuracy:   m.Accuracy,
				Precision:  m.Precision,
				Recall:     m.Recall,
				F1Score:    m.F1Score,
				AUC:        m.AUC,
				DataVolume: m.DataVolume,
				FraudRatio: m.FraudRatio,
			}
			synced := m.LastUpdated.UTC().Format("2006-01-02T15:04:05Z")
			st.LastSyncTime = &synced
		}
		out = append(out, st)
	}
	return out, nil
}
