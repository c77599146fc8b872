// Package storage provides durable persistence for the fraud scoring service.
// It uses BoltDB as the underlying storage engine to keep each tenant's model
// artifacts (classifier, scaler, feature schema) and the service settings.
//
// All artifacts of a tenant are written in a single BoltDB transaction, so a
// reader either sees the complete previous generation or the complete new one.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.etcd.io/bbolt"
)

const (
	tenantsBucket  = "tenants"  // Bucket holding one nested bucket per tenant
	settingsBucket = "settings" // Bucket for JSON encoded service settings

	classifierKey = "classifier"
	scalerKey     = "scaler"
	featuresKey   = "features"
	trainedAtKey  = "trained_at"

	dbFileName = "fraud-models.db"
)

// Artifacts are the encoded parts of one tenant's model bundle.
type Artifacts struct {
	Classifier []byte
	Scaler     []byte
	Features   []byte
	TrainedAt  time.Time
}

// Store provides persistent storage for tenant artifacts using BoltDB.
type Store struct {
	db *bbolt.DB // BoltDB database instance
}

// New creates a new storage instance under dataPath, creating the directory
// and the buckets when needed.
func New(dataPath string) (*Store, error) {
	if err := os.MkdirAll(dataPath, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	dbPath := filepath.Join(dataPath, dbFileName)

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(tenantsBucket)); err != nil {
			return fmt.Errorf("create tenants bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(settingsBucket)); err != nil {
			return fmt.Errorf("create settings bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database connection gracefully.
func (s *Store) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		return err
	}
	return nil
}

// PutArtifacts replaces all artifacts of tenant in one transaction. The
// tenant's previous bucket is dropped so no key of an older generation can
// survive next to the new ones.
func (s *Store) PutArtifacts(tenant string, a Artifacts) error {
	if len(a.Classifier) == 0 || len(a.Scaler) == 0 || len(a.Features) == 0 {
		return fmt.Errorf("refusing to store incomplete artifacts for tenant %q", tenant)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		root := tx.Bucket([]byte(tenantsBucket))

		if root.Bucket([]byte(tenant)) != nil {
			if err := root.DeleteBucket([]byte(tenant)); err != nil {
				return fmt.Errorf("drop previous artifacts: %w", err)
			}
		}
		b, err := root.CreateBucket([]byte(tenant))
		if err != nil {
			return fmt.Errorf("create tenant bucket: %w", err)
		}

		stamp, err := a.TrainedAt.UTC().MarshalText()
		if err != nil {
			return fmt.Errorf("marshal trained_at: %w", err)
		}

		for key, value := range map[string][]byte{
			classifierKey: a.Classifier,
			scalerKey:     a.Scaler,
			featuresKey:   a.Features,
			trainedAtKey:  stamp,
		} {
			if err := b.Put([]byte(key), value); err != nil {
				return fmt.Errorf("put %s: %w", key, err)
			}
		}
		return nil
	})
}

// GetArtifacts loads a tenant's artifacts. found is false when the tenant
// has no bucket or any of the three required artifacts is absent.
func (s *Store) GetArtifacts(tenant string) (a Artifacts, found bool, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(tenantsBucket)).Bucket([]byte(tenant))
		if b == nil {
			return nil
		}

		if !complete(b) {
			return nil
		}

		// Values returned by bbolt are only valid for the life of the transaction.
		a.Classifier = append([]byte(nil), b.Get([]byte(classifierKey))...)
		a.Scaler = append([]byte(nil), b.Get([]byte(scalerKey))...)
		a.Features = append([]byte(nil), b.Get([]byte(featuresKey))...)
		if stamp := b.Get([]byte(trainedAtKey)); stamp != nil {
			if err := a.TrainedAt.UnmarshalText(stamp); err != nil {
				return fmt.Errorf("unmarshal trained_at: %w", err)
			}
		}
		found = true
		return nil
	})
	return a, found, err
}

// HasArtifacts reports whether tenant has a complete artifact set without
// copying any of it.
func (s *Store) HasArtifacts(tenant string) (found bool, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(tenantsBucket)).Bucket([]byte(tenant))
		found = b != nil && complete(b)
		return nil
	})
	return found, err
}

func complete(b *bbolt.Bucket) bool {
	return b.Get([]byte(classifierKey)) != nil &&
		b.Get([]byte(scalerKey)) != nil &&
		b.Get([]byte(featuresKey)) != nil
}

// ListTenants returns, sorted, the tenants that have a complete artifact set.
func (s *Store) ListTenants() ([]string, error) {
	var tenants []string

	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(tenantsBucket)).ForEachBucket(func(name []byte) error {
			if complete(tx.Bucket([]byte(tenantsBucket)).Bucket(name)) {
				tenants = append(tenants, string(name))
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(tenants)
	return tenants, nil
}
