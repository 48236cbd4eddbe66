package store

import "sync"

// MetricsSnapshot is a point-in-time aggregate of processing counters.
type MetricsSnapshot struct {
	Processed       map[string]int64 `json:"processed"`
	WatermarksFound int64            `json:"watermarks_found"`
	ElementsRemoved int64            `json:"elements_removed"`
	NoMatch         int64            `json:"no_match"`
	Failures        int64            `json:"failures"`
}

// Metrics tracks service-lifetime processing counters.
type Metrics struct {
	mu        sync.Mutex
	processed map[string]int64
	found     int64
	removed   int64
	noMatch   int64
	failures  int64
}

func NewMetrics() *Metrics {
	return &Metrics{processed: make(map[string]int64)}
}

// RecordClean records the outcome of one successful clean pass.
func (m *Metrics) RecordClean(format string, found bool, removed int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processed[format]++
	if found {
		m.found++
		m.removed += int64(removed)
	} else {
		m.noMatch++
	}
}

// RecordFailure records a document that could not be processed.
func (m *Metrics) RecordFailure(format string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if format != "" {
		m.processed[format]++
	}
	m.failures++
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	processed := make(map[string]int64, len(m.processed))
	for k, v := range m.processed {
		processed[k] = v
	}
	return MetricsSnapshot{
		Processed:       processed,
		WatermarksFound: m.found,
		ElementsRemoved: m.removed,
		NoMatch:         m.noMatch,
		Failures:        m.failures,
	}
}
