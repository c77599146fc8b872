package storage

import (
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"
)

// SaveSettings stores v as JSON under name in the settings bucket.
func (s *Store) SaveSettings(name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal settings %s: %w", name, err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(settingsBucket)).Put([]byte(name), data)
	})
}

// LoadSettings decodes the settings stored under name into v. It reports
// false without touching v when nothing was stored yet.
func (s *Store) LoadSettings(name string, v any) (bool, error) {
	var data []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		if raw := tx.Bucket([]byte(settingsBucket)).Get([]byte(name)); raw != nil {
			data = append([]byte(nil), raw...)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	if data == nil {
		return false, nil
	}

	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("unmarshal settings %s: %w", name, err)
	}
	return true, nil
}
