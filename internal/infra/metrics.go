package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight observability without external dependencies.
// Uses atomic operations for thread-safety. All methods are safe on a nil receiver.
type Metrics struct {
	// Market data
	cacheHits        atomic.Uint64
	cacheMisses      atomic.Uint64
	upstreamRequests atomic.Uint64
	upstreamErrors   atomic.Uint64

	// Latency tracking (upstream HTTP)
	latencySumNs atomic.Int64
	latencyCount atomic.Uint64

	// Monitor
	logEvents      atomic.Uint64
	launches       atomic.Uint64
	trades         atomic.Uint64
	parseErrors    atomic.Uint64
	fetchErrors    atomic.Uint64
	droppedEvents  atomic.Uint64
	alertsFired    atomic.Uint64
	feedReconnects atomic.Uint64

	// Gauges
	streamClients atomic.Int32
	monitoring    atomic.Int32 // 1 = monitoring, 0 = stopped
}

// NewMetrics creates an empty metrics set
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordCacheHit records a response served from the cache
func (m *Metrics) RecordCacheHit() {
	if m != nil {
		m.cacheHits.Add(1)
	}
}

// RecordCacheMiss records a lookup that went upstream
func (m *Metrics) RecordCacheMiss() {
	if m != nil {
		m.cacheMisses.Add(1)
	}
}

// RecordUpstream records one upstream HTTP attempt with its latency.
func (m *Metrics) RecordUpstream(latency time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.upstreamRequests.Add(1)
	m.latencySumNs.Add(latency.Nanoseconds())
	m.latencyCount.Add(1)
	if failed {
		m.upstreamErrors.Add(1)
	}
}

// RecordLogEvent records one delivered log notification
func (m *Metrics) RecordLogEvent() {
	if m != nil {
		m.logEvents.Add(1)
	}
}

// RecordLaunch records a parsed launch
func (m *Metrics) RecordLaunch() {
	if m != nil {
		m.launches.Add(1)
	}
}

// RecordTrade records a parsed trade
func (m *Metrics) RecordTrade() {
	if m != nil {
		m.trades.Add(1)
	}
}

// RecordParseError records a transaction that could not be parsed
func (m *Metrics) RecordParseError() {
	if m != nil {
		m.parseErrors.Add(1)
	}
}

// RecordFetchError records a failed ledger fetch
func (m *Metrics) RecordFetchError() {
	if m != nil {
		m.fetchErrors.Add(1)
	}
}

// RecordDropped records an event dropped because the fetch pool was saturated
func (m *Metrics) RecordDropped() {
	if m != nil {
		m.droppedEvents.Add(1)
	}
}

// RecordAlert records a fired trade alert
func (m *Metrics) RecordAlert() {
	if m != nil {
		m.alertsFired.Add(1)
	}
}

// RecordReconnect records a log feed reconnect attempt
func (m *Metrics) RecordReconnect() {
	if m != nil {
		m.feedReconnects.Add(1)
	}
}

// IncrementStreamClients increments connected websocket clients by 1.
func (m *Metrics) IncrementStreamClients() {
	if m != nil {
		m.streamClients.Add(1)
	}
}

// DecrementStreamClients decrements connected websocket clients by 1.
func (m *Metrics) DecrementStreamClients() {
	if m != nil {
		m.streamClients.Add(-1)
	}
}

// SetMonitoring sets the monitor state gauge
func (m *Metrics) SetMonitoring(on bool) {
	if m == nil {
		return
	}
	if on {
		m.monitoring.Store(1)
	} else {
		m.monitoring.Store(0)
	}
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	CacheHits        uint64    `json:"cacheHits"`
	CacheMisses      uint64    `json:"cacheMisses"`
	UpstreamRequests uint64    `json:"upstreamRequests"`
	UpstreamErrors   uint64    `json:"upstreamErrors"`
	AvgLatencyNs     int64     `json:"avgLatencyNs"`
	LogEvents        uint64    `json:"logEvents"`
	Launches         uint64    `json:"launches"`
	Trades           uint64    `json:"trades"`
	ParseErrors      uint64    `json:"parseErrors"`
	FetchErrors      uint64    `json:"fetchErrors"`
	DroppedEvents    uint64    `json:"droppedEvents"`
	AlertsFired      uint64    `json:"alertsFired"`
	FeedReconnects   uint64    `json:"feedReconnects"`
	StreamClients    int32     `json:"streamClients"`
	Monitoring       bool      `json:"monitoring"`
	Timestamp        time.Time `json:"timestamp"`
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{Timestamp: time.Now()}
	}
	var avgLatency int64
	count := m.latencyCount.Load()
	if count > 0 {
		avgLatency = m.latencySumNs.Load() / int64(count)
	}

	return MetricsSnapshot{
		CacheHits:        m.cacheHits.Load(),
		CacheMisses:      m.cacheMisses.Load(),
		UpstreamRequests: m.upstreamRequests.Load(),
		UpstreamErrors:   m.upstreamErrors.Load(),
		AvgLatencyNs:     avgLatency,
		LogEvents:        m.logEvents.Load(),
		Launches:         m.launches.Load(),
		Trades:           m.trades.Load(),
		ParseErrors:      m.parseErrors.Load(),
		FetchErrors:      m.fetchErrors.Load(),
		DroppedEvents:    m.droppedEvents.Load(),
		AlertsFired:      m.alertsFired.Load(),
		FeedReconnects:   m.feedReconnects.Load(),
		StreamClients:    m.streamClients.Load(),
		Monitoring:       m.monitoring.Load() == 1,
		Timestamp:        time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	if m == nil {
		return
	}
	m.cacheHits.Store(0)
	m.cacheMisses.Store(0)
	m.upstreamRequests.Store(0)
	m.upstreamErrors.Store(0)
	m.latencySumNs.Store(0)
	m.latencyCount.Store(0)
	m.logEvents.Store(0)
	m.launches.Store(0)
	m.trades.Store(0)
	m.parseErrors.Store(0)
	m.fetchErrors.Store(0)
	m.droppedEvents.Store(0)
	m.alertsFired.Store(0)
	m.feedReconnects.Store(0)
	m.streamClients.Store(0)
	m.monitoring.Store(0)
}
