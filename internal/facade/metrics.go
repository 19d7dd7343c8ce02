package facade

import (
	"sync"
	"sync/atomic"
	"time"
)

// Metrics tracks the façade's own request/signal counters for /metrics.
type Metrics struct {
	mu sync.Mutex

	totalRequests uint64
	buyCount      uint64
	sellCount     uint64
	holdCount     uint64
	lastSignal    time.Time

	started time.Time
}

// NewMetrics builds a Metrics instance pinned to the given start time.
func NewMetrics(startedAt time.Time) *Metrics {
	return &Metrics{started: startedAt}
}

// IncrementRequest counts one inbound HTTP request.
func (m *Metrics) IncrementRequest() {
	atomic.AddUint64(&m.totalRequests, 1)
}

// RecordSignal counts one generated trade signal by action, and timestamps it.
func (m *Metrics) RecordSignal(action string, at time.Time) {
	switch action {
	case "BUY":
		atomic.AddUint64(&m.buyCount, 1)
	case "SELL":
		atomic.AddUint64(&m.sellCount, 1)
	default:
		atomic.AddUint64(&m.holdCount, 1)
	}
	m.mu.Lock()
	m.lastSignal = at
	m.mu.Unlock()
}

// Snapshot is the JSON shape returned by GET /metrics.
type Snapshot struct {
	TotalRequests   uint64         `json:"total_requests"`
	SignalsGenerated map[string]uint64 `json:"signals_generated"`
	LastSignalTime  *time.Time     `json:"last_signal_time"`
	UptimeSeconds   float64        `json:"uptime_seconds"`
}

// Snapshot returns a point-in-time view of the façade's counters, now meant
// as the current wall-clock time for uptime calculation.
func (m *Metrics) Snapshot(now time.Time) Snapshot {
	m.mu.Lock()
	last := m.lastSignal
	m.mu.Unlock()

	var lastPtr *time.Time
	if !last.IsZero() {
		lastPtr = &last
	}

	return Snapshot{
		TotalRequests: atomic.LoadUint64(&m.totalRequests),
		SignalsGenerated: map[string]uint64{
			"BUY":  atomic.LoadUint64(&m.buyCount),
			"SELL": atomic.LoadUint64(&m.sellCount),
			"HOLD": atomic.LoadUint64(&m.holdCount),
		},
		LastSignalTime: lastPtr,
		UptimeSeconds:  now.Sub(m.started).Seconds(),
	}
}
