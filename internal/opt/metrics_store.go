package opt

import "sync"

// Recent run metrics, kept in process for the debug and run endpoints.

var (
	mu    sync.Mutex
	store = map[string]Metrics{}
)

func RecordMetrics(runID string, m Metrics) {
	mu.Lock()
	store[runID] = m
	mu.Unlock()
}

func GetMetrics(runID string) (Metrics, bool) {
	mu.Lock()
	defer mu.Unlock()
	m, ok := store[runID]
	return m, ok
}

// ForgetMetrics drops a run's metrics.
func ForgetMetrics(runID string) {
	mu.Lock()
	delete(store, runID)
	mu.Unlock()
}
