package ml

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"fraud-scoring/internal/common"
	"fraud-scoring/internal/storage"

	"github.com/rs/zerolog/log"
)

// MetricsRecord is the evaluation snapshot of a tenant's latest training run.
type MetricsRecord struct {
	Accuracy    float64   `json:"accuracy"`
	Precision   float64   `json:"precision"`
	Recall      float64   `json:"recall"`
	F1Score     float64   `json:"f1Score"`
	AUC         float64   `json:"auc"`
	DataVolume  int       `json:"dataVolume"`
	FraudRatio  float64   `json:"fraudRatio"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// ArtifactStore is the durable side of the ModelStore.
type ArtifactStore interface {
	PutArtifacts(tenant string, a storage.Artifacts) error
	GetArtifacts(tenant string) (storage.Artifacts, bool, error)
	HasArtifacts(tenant string) (bool, error)
	ListTenants() ([]string, error)
}

// MetricsInterface records model cache behaviour.
type MetricsInterface interface {
	CacheHitInc()
	CacheMissInc()
	ModelLoadFailureInc()
	CachedModelsSet(float64)
}

// ModelStore owns every tenant's active Bundle: an in-memory cache in front
// of the durable artifact store. Metrics records are kept in memory only and
// are lost on restart while bundles survive.
type ModelStore struct {
	db      ArtifactStore
	metrics MetricsInterface

	mu      sync.RWMutex
	bundles map[string]*Bundle
	records map[string]MetricsRecord

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewModelStore creates a store over db. metrics may be nil.
func NewModelStore(db ArtifactStore, metrics MetricsInterface) *ModelStore {
	return &ModelStore{
		db:      db,
		metrics: metrics,
		bundles: make(map[string]*Bundle),
		records: make(map[string]MetricsRecord),
		locks:   make(map[string]*sync.Mutex),
	}
}

// ValidateTenantID trims id and rejects empty or overlong ids.
func ValidateTenantID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", fmt.Errorf("%w: client_id is required", common.ErrValidation)
	}
	if len(id) > common.MaxTenantIDBytes {
		return "", fmt.Errorf("%w: client_id exceeds %d bytes", common.ErrValidation, common.MaxTenantIDBytes)
	}
	return id, nil
}

func (s *ModelStore) tenantLock(tenant string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	l, ok := s.locks[tenant]
	if !ok {
		l = &sync.Mutex{}
		s.locks[tenant] = l
	}
	return l
}

// Put commits bundle and its metrics as the tenant's new generation. The
// artifacts are written in one durable transaction before the cached pointer
// is swapped, so concurrent readers see either the old or the new bundle.
func (s *ModelStore) Put(ctx context.Context, tenant string, bundle *Bundle, record MetricsRecord) error {
	if err := bundle.Validate(); err != nil {
		return fmt.Errorf("refusing to store invalid bundle: %w", err)
	}

	lock := s.tenantLock(tenant)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	artifacts, err := encodeBundle(bundle)
	if err != nil {
		return err
	}
	if err := s.db.PutArtifacts(tenant, artifacts); err != nil {
		return fmt.Errorf("failed to persist model for tenant %s: %w", tenant, err)
	}

	s.mu.Lock()
	s.bundles[tenant] = bundle
	s.records[tenant] = record
	cached := len(s.bundles)
	s.mu.Unlock()

	s.setCached(cached)
	log.Info().
		Str("tenant", tenant).
		Int("features", len(bundle.Schema)).
		Int("trees", len(bundle.Classifier.Trees)).
		Msg("Model bundle stored")
	return nil
}

// Get returns the tenant's bundle from memory or, on a miss, from durable
// storage. A tenant with no complete artifact set yields ErrNoModel; an
// artifact set that cannot be decoded yields ErrModelLoad.
func (s *ModelStore) Get(ctx context.Context, tenant string) (*Bundle, error) {
	if b := s.cached(tenant); b != nil {
		s.hit()
		return b, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Unknown tenants never get a writer lock.
	found, err := s.db.HasArtifacts(tenant)
	if err != nil {
		s.loadFailed()
		return nil, fmt.Errorf("%w: %v", common.ErrModelLoad, err)
	}
	if !found {
		s.miss()
		return nil, common.ErrNoModel
	}

	lock := s.tenantLock(tenant)
	lock.Lock()
	defer lock.Unlock()

	// Another caller may have loaded it while we waited for the lock.
	if b := s.cached(tenant); b != nil {
		s.hit()
		return b, nil
	}
	s.miss()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	artifacts, found, err := s.db.GetArtifacts(tenant)
	if err != nil {
		s.loadFailed()
		return nil, fmt.Errorf("%w: %v", common.ErrModelLoad, err)
	}
	if !found {
		return nil, common.ErrNoModel
	}

	bundle, err := decodeBundle(artifacts)
	if err != nil {
		s.loadFailed()
		log.Error().Err(err).Str("tenant", tenant).Msg("Stored model artifacts are unreadable")
		return nil, fmt.Errorf("%w: %v", common.ErrModelLoad, err)
	}

	s.mu.Lock()
	s.bundles[tenant] = bundle
	cached := len(s.bundles)
	s.mu.Unlock()

	s.setCached(cached)
	log.Debug().Str("tenant", tenant).Msg("Model bundle loaded from storage")
	return bundle, nil
}

// GetMetrics returns the metrics recorded by this process for the tenant.
func (s *ModelStore) GetMetrics(tenant string) (MetricsRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[tenant]
	if !ok {
		return MetricsRecord{}, common.ErrNoMetrics
	}
	return rec, nil
}

// Exists reports whether the tenant has a model in memory or on disk,
// without decoding it.
func (s *ModelStore) Exists(ctx context.Context, tenant string) (bool, error) {
	if s.cached(tenant) != nil {
		return true, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return s.db.HasArtifacts(tenant)
}

// Tenants lists every tenant with a durable model.
func (s *ModelStore) Tenants(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.db.ListTenants()
}

func (s *ModelStore) cached(tenant string) *Bundle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bundles[tenant]
}

func (s *ModelStore) hit() {
	if s.metrics != nil {
		s.metrics.CacheHitInc()
	}
}

func (s *ModelStore) miss() {
	if s.metrics != nil {
		s.metrics.CacheMissInc()
	}
}

func (s *ModelStore) loadFailed() {
	if s.metrics != nil {
		s.metrics.ModelLoadFailureInc()
	}
}

func (s *ModelStore) setCached(n int) {
	if s.metrics != nil {
		s.metrics.CachedModelsSet(float64(n))
	}
}
