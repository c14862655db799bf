package ml

import "sync"

// MockMetrics implements MetricsInterface for testing
type MockMetrics struct {
	mu         sync.Mutex
	latencySum float64
	calls      int
	failures   int
	timeouts   int
	fetched    int
}

func (m *MockMetrics) BridgeLatencyObserve(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latencySum += v
	m.calls++
}

func (m *MockMetrics) BridgeFailuresInc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures++
}

func (m *MockMetrics) BridgeTimeoutsInc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeouts++
}

func (m *MockMetrics) ArtifactsFetchedInc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetched++
}

// Counts returns calls, failures, timeouts and fetches recorded so far.
func (m *MockMetrics) Counts() (calls, failures, timeouts, fetched int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls, m.failures, m.timeouts, m.fetched
}
