package pipeline

import (
	"sync"
	"time"
)

// Metrics tracks call counts and latency of one pipeline.
type Metrics struct {
	TotalCalls      int64
	SuccessfulCalls int64
	FailedCalls     int64
	Sequences       int64
	LastLatency     time.Duration
	AverageLatency  time.Duration
	LastCall        time.Time
	Mu              sync.RWMutex
}

// Update records one finished call that started at start.
func (m *Metrics) Update(start time.Time, sequences int, success bool) {
	m.Mu.Lock()
	defer m.Mu.Unlock()

	duration := time.Since(start)
	m.TotalCalls++
	if success {
		m.SuccessfulCalls++
		m.Sequences += int64(sequences)
	} else {
		m.FailedCalls++
	}

	// Calculate rolling average
	if m.TotalCalls == 1 {
		m.AverageLatency = duration
	} else {
		m.AverageLatency = (m.AverageLatency*time.Duration(m.TotalCalls-1) + duration) / time.Duration(m.TotalCalls)
	}
	m.LastLatency = duration
	m.LastCall = time.Now()
}

// GetMetrics returns the counters as a map
func (m *Metrics) GetMetrics() map[string]interface{} {
	m.Mu.RLock()
	defer m.Mu.RUnlock()

	return map[string]interface{}{
		"total_calls":      m.TotalCalls,
		"successful_calls": m.SuccessfulCalls,
		"failed_calls":     m.FailedCalls,
		"sequences":        m.Sequences,
		"last_latency":     m.LastLatency,
		"average_latency":  m.AverageLatency,
		"last_call":        m.LastCall,
	}
}
