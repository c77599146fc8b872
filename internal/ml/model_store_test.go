package ml

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"fraud-scoring/internal/common"
	"fraud-scoring/internal/features"
	"fraud-scoring/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T, dir string) *storage.Store {
	t.Helper()
	db, err := storage.New(dir)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func sampleRecord() MetricsRecord {
	return MetricsRecord{
		Accuracy:    0.95,
		Precision:   0.9,
		Recall:      0.8,
		F1Score:     0.847,
		AUC:         0.97,
		DataVolume:  200,
		FraudRatio:  0.5,
		LastUpdated: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC),
	}
}

// failingStore rejects writes but serves reads from the wrapped store.
type failingStore struct {
	ArtifactStore
}

func (failingStore) PutArtifacts(string, storage.Artifacts) error {
	return errors.New("disk full")
}

func TestModelStore_UnknownTenant(t *testing.T) {
	store := NewModelStore(openStore(t, t.TempDir()), nil)

	_, err := store.Get(context.Background(), "acme")
	assert.ErrorIs(t, err, common.ErrNoModel)

	_, err = store.GetMetrics("acme")
	assert.ErrorIs(t, err, common.ErrNoMetrics)

	exists, err := store.Exists(context.Background(), "acme")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestModelStore_UnknownTenantsLeaveNoLocks(t *testing.T) {
	metrics := &MockMetrics{}
	store := NewModelStore(openStore(t, t.TempDir()), metrics)

	for i := 0; i < 500; i++ {
		_, err := store.Get(context.Background(), fmt.Sprintf("unknown-%d", i))
		require.ErrorIs(t, err, common.ErrNoModel)
	}

	store.locksMu.Lock()
	assert.Empty(t, store.locks)
	store.locksMu.Unlock()

	_, misses, _ := metrics.Counts()
	assert.Equal(t, 500, misses)

	require.NoError(t, store.Put(context.Background(), "acme", trainedBundle(t, 1), sampleRecord()))
	assert.Len(t, store.locks, 1)
}

func TestModelStore_PutGet(t *testing.T) {
	metrics := &MockMetrics{}
	store := NewModelStore(openStore(t, t.TempDir()), metrics)
	bundle := trainedBundle(t, 1)

	require.NoError(t, store.Put(context.Background(), "acme", bundle, sampleRecord()))

	got, err := store.Get(context.Background(), "acme")
	require.NoError(t, err)
	assert.Same(t, bundle, got)

	rec, err := store.GetMetrics("acme")
	require.NoError(t, err)
	assert.Equal(t, sampleRecord(), rec)

	hits, misses, _ := metrics.Counts()
	assert.Equal(t, 1, hits)
	assert.Equal(t, 0, misses)
	assert.Equal(t, 1.0, metrics.Cached())
}

func TestModelStore_ReloadAfterRestart(t *testing.T) {
	dir := t.TempDir()
	bundle := trainedBundle(t, 1)

	db, err := storage.New(dir)
	require.NoError(t, err)
	require.NoError(t, NewModelStore(db, nil).Put(context.Background(), "acme", bundle, sampleRecord()))
	require.NoError(t, db.Close())

	metrics := &MockMetrics{}
	restarted := NewModelStore(openStore(t, dir), metrics)

	exists, err := restarted.Exists(context.Background(), "acme")
	require.NoError(t, err)
	assert.True(t, exists)

	loaded, err := restarted.Get(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, bundle.Schema, loaded.Schema)
	assert.Equal(t, bundle.Scaler, loaded.Scaler)
	assert.Equal(t, bundle.Classifier.Trees, loaded.Classifier.Trees)
	assert.True(t, bundle.TrainedAt.Equal(loaded.TrainedAt))

	rec := features.Record{"amount": 15.0, "noise": 4.0}
	want, err := bundle.Score(rec)
	require.NoError(t, err)
	got, err := loaded.Score(rec)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// Second lookup is served from the cache.
	again, err := restarted.Get(context.Background(), "acme")
	require.NoError(t, err)
	assert.Same(t, loaded, again)

	hits, misses, _ := metrics.Counts()
	assert.Equal(t, 1, hits)
	assert.Equal(t, 1, misses)

	// Metrics are not persisted alongside the model.
	_, err = restarted.GetMetrics("acme")
	assert.ErrorIs(t, err, common.ErrNoMetrics)
}

func TestModelStore_CorruptArtifacts(t *testing.T) {
	db := openStore(t, t.TempDir())
	metrics := &MockMetrics{}
	store := NewModelStore(db, metrics)

	require.NoError(t, db.PutArtifacts("acme", storage.Artifacts{
		Classifier: []byte("{not json"),
		Scaler:     []byte(`{"mean":[0],"scale":[1]}`),
		Features:   []byte(`["amount"]`),
	}))

	_, err := store.Get(context.Background(), "acme")
	assert.ErrorIs(t, err, common.ErrModelLoad)

	_, _, failures := metrics.Counts()
	assert.Equal(t, 1, failures)
}

func TestModelStore_InconsistentArtifacts(t *testing.T) {
	db := openStore(t, t.TempDir())
	bundle := trainedBundle(t, 1)

	artifacts, err := encodeBundle(bundle)
	require.NoError(t, err)
	artifacts.Features = []byte(`["amount","noise","extra"]`)
	require.NoError(t, db.PutArtifacts("acme", artifacts))

	_, err = NewModelStore(db, nil).Get(context.Background(), "acme")
	assert.ErrorIs(t, err, common.ErrModelLoad)
}

func TestModelStore_ReplaceOnRetrain(t *testing.T) {
	dir := t.TempDir()
	db := openStore(t, dir)
	store := NewModelStore(db, nil)

	first := trainedBundle(t, 1)
	second := trainedBundle(t, 2)
	record := sampleRecord()

	require.NoError(t, store.Put(context.Background(), "acme", first, record))
	record.Accuracy = 0.5
	require.NoError(t, store.Put(context.Background(), "acme", second, record))

	got, err := store.Get(context.Background(), "acme")
	require.NoError(t, err)
	assert.Same(t, second, got)

	rec, err := store.GetMetrics("acme")
	require.NoError(t, err)
	assert.Equal(t, 0.5, rec.Accuracy, "metrics are overwritten wholesale")

	// A fresh store over the same database sees the second generation.
	reloaded, err := NewModelStore(db, nil).Get(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, second.Classifier.Trees, reloaded.Classifier.Trees)
}

func TestModelStore_FailedPutKeepsPreviousBundle(t *testing.T) {
	db := openStore(t, t.TempDir())
	first := trainedBundle(t, 1)
	require.NoError(t, NewModelStore(db, nil).Put(context.Background(), "acme", first, sampleRecord()))

	store := NewModelStore(failingStore{db}, nil)
	err := store.Put(context.Background(), "acme", trainedBundle(t, 2), sampleRecord())
	require.Error(t, err)

	got, err := store.Get(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, first.Classifier.Trees, got.Classifier.Trees)

	_, err = store.GetMetrics("acme")
	assert.ErrorIs(t, err, common.ErrNoMetrics, "failed put must not register metrics")
}

func TestModelStore_RejectsInvalidBundle(t *testing.T) {
	store := NewModelStore(openStore(t, t.TempDir()), nil)
	bundle := trainedBundle(t, 1)
	bundle.Schema = features.Schema{"amount"}

	assert.Error(t, store.Put(context.Background(), "acme", bundle, sampleRecord()))
	assert.Error(t, store.Put(context.Background(), "acme", nil, sampleRecord()))

	_, err := store.Get(context.Background(), "acme")
	assert.ErrorIs(t, err, common.ErrNoModel)
}

func TestModelStore_ConcurrentReadersSeeWholeBundles(t *testing.T) {
	store := NewModelStore(openStore(t, t.TempDir()), nil)
	first := trainedBundle(t, 1)
	second := trainedBundle(t, 2)
	require.NoError(t, store.Put(context.Background(), "acme", first, sampleRecord()))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				got, err := store.Get(context.Background(), "acme")
				if assert.NoError(t, err) {
					assert.True(t, got == first || got == second)
				}
			}
		}()
	}

	for i := 0; i < 5; i++ {
		next := first
		if i%2 == 0 {
			next = second
		}
		require.NoError(t, store.Put(context.Background(), "acme", next, sampleRecord()))
	}
	wg.Wait()
}

func TestModelStore_Tenants(t *testing.T) {
	store := NewModelStore(openStore(t, t.TempDir()), nil)
	bundle := trainedBundle(t, 1)

	for _, id := range []string{"beta", "acme"} {
		require.NoError(t, store.Put(context.Background(), id, bundle, sampleRecord()))
	}

	tenants, err := store.Tenants(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"acme", "beta"}, tenants)
}

func TestModelStore_CanceledContext(t *testing.T) {
	store := NewModelStore(openStore(t, t.TempDir()), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, store.Put(ctx, "acme", trainedBundle(t, 1), sampleRecord()), context.Canceled)
	_, err := store.Get(ctx, "acme")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestValidateTenantID(t *testing.T) {
	id, err := ValidateTenantID("  acme ")
	require.NoError(t, err)
	assert.Equal(t, "acme", id)

	_, err = ValidateTenantID("   ")
	assert.ErrorIs(t, err, common.ErrValidation)

	_, err = ValidateTenantID(strings.Repeat("x", common.MaxTenantIDBytes))
	assert.NoError(t, err)

	_, err = ValidateTenantID(strings.Repeat("x", common.MaxTenantIDBytes+1))
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestFeatureImportance(t *testing.T) {
	bundle := trainedBundle(t, 1)

	stats, err := FeatureImportance(bundle.Classifier, bundle.Schema)
	require.NoError(t, err)
	require.Len(t, stats, 2)

	assert.Equal(t, "amount", stats[0].Name, "the informative column ranks first")
	assert.InDelta(t, 1.0, stats[0].ImportanceScore+stats[1].ImportanceScore, 1e-9)

	_, err = FeatureImportance(bundle.Classifier, features.Schema{"amount"})
	assert.Error(t, err)
}

func TestBundleValidate(t *testing.T) {
	bundle := trainedBundle(t, 1)
	require.NoError(t, bundle.Validate())

	dup := *bundle
	dup.Schema = features.Schema{"amount", "amount"}
	assert.Error(t, dup.Validate())

	empty := *bundle
	empty.Schema = nil
	assert.Error(t, empty.Validate())

	var missing *Bundle
	assert.Error(t, missing.Validate())
}
