package ml

import "sync"

// MockMetrics implements MetricsInterface for testing
type MockMetrics struct {
	mu           sync.Mutex
	hits         int
	misses       int
	loadFailures int
	cached       float64
}

func (m *MockMetrics) CacheHitInc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hits++
}

func (m *MockMetrics) CacheMissInc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.misses++
}

func (m *MockMetrics) ModelLoadFailureInc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadFailures++
}

func (m *MockMetrics) CachedModelsSet(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cached = v
}

// Counts returns hits, misses and load failures recorded so far.
func (m *MockMetrics) Counts() (hits, misses, loadFailures int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hits, m.misses, m.loadFailures
}

// Cached returns the last cached-models value.
func (m *MockMetrics) Cached() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cached
}
