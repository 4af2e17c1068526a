package telemetry

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"
)

// StatsCollector records request and gateway metrics
type StatsCollector interface {
	TrackAPIRequest(method, route string, duration time.Duration, status int) error
	TrackGatewayAccess(operation string, duration time.Duration, success bool) error
	Export() Stats
	Stop()
}

// RequestMetrics tracks totals and the rolling window since the last calculation
type RequestMetrics struct {
	TotalCount     int
	RequestsPerMin int
	DurationP95    int // milliseconds

	currentCount     int
	currentDurations []int
}

type APIRequestStats struct {
	Method  string
	Route   string
	Status  int
	Metrics RequestMetrics
}

type GatewayAccessStats struct {
	Operation string
	Success   bool
	Metrics   RequestMetrics
}

type Stats struct {
	APIRequests   map[string]*APIRequestStats
	GatewayAccess map[string]*GatewayAccessStats
	Uptime        time.Duration
	GoRoutines    int
	MemoryUsage   string
	LastUpdated   time.Time
}

type statsCollectorConfig struct {
	autoStart bool
	interval  time.Duration
}

// StatsOption configures a StatsCollector
type StatsOption func(*statsCollectorConfig)

// WithAutoStart controls whether the recalculation ticker starts immediately
func WithAutoStart(autoStart bool) StatsOption {
	return func(c *statsCollectorConfig) {
		c.autoStart = autoStart
	}
}

// WithInterval sets the recalculation window
func WithInterval(interval time.Duration) StatsOption {
	return func(c *statsCollectorConfig) {
		c.interval = interval
	}
}

type inMemoryStatsCollector struct {
	mutex     sync.RWMutex
	stats     Stats
	startTime time.Time
	interval  time.Duration

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
}

func NewStatsCollector(options ...StatsOption) StatsCollector {
	config := statsCollectorConfig{
		autoStart: true,
		interval:  time.Minute,
	}
	for _, option := range options {
		option(&config)
	}

	ctx, cancel := context.WithCancel(context.Background())
	collector := &inMemoryStatsCollector{
		stats: Stats{
			APIRequests:   make(map[string]*APIRequestStats),
			GatewayAccess: make(map[string]*GatewayAccessStats),
		},
		startTime: time.Now(),
		interval:  config.interval,
		ctx:       ctx,
		cancel:    cancel,
	}

	if config.autoStart {
		go collector.run()
	}

	return collector
}

func (sc *inMemoryStatsCollector) TrackAPIRequest(method, route string, duration time.Duration, status int) error {
	if method == "" || route == "" {
		return fmt.Errorf("method and route are required")
	}

	key := fmt.Sprintf("%s-%s-%d", method, route, status)

	sc.mutex.Lock()
	defer sc.mutex.Unlock()

	entry, ok := sc.stats.APIRequests[key]
	if !ok {
		entry = &APIRequestStats{Method: method, Route: route, Status: status}
		sc.stats.APIRequests[key] = entry
	}
	entry.Metrics.record(duration)
	return nil
}

func (sc *inMemoryStatsCollector) TrackGatewayAccess(operation string, duration time.Duration, success bool) error {
	if operation == "" {
		return fmt.Errorf("operation is required")
	}

	key := fmt.Sprintf("%s-%t", operation, success)

	sc.mutex.Lock()
	defer sc.mutex.Unlock()

	entry, ok := sc.stats.GatewayAccess[key]
	if !ok {
		entry = &GatewayAccessStats{Operation: operation, Success: success}
		sc.stats.GatewayAccess[key] = entry
	}
	entry.Metrics.record(duration)
	return nil
}

func (m *RequestMetrics) record(duration time.Duration) {
	m.TotalCount++
	m.currentCount++
	m.currentDurations = append(m.currentDurations, int(duration.Milliseconds()))
}

// roll publishes the current window as the per-minute rate and p95, then resets it
func (m *RequestMetrics) roll(window time.Duration) {
	perMin := float64(m.currentCount)
	if window > 0 {
		perMin = float64(m.currentCount) * float64(time.Minute) / float64(window)
	}
	m.RequestsPerMin = int(perMin)
	m.DurationP95 = percentile(m.currentDurations, 0.95)
	m.currentCount = 0
	m.currentDurations = nil
}

func percentile(values []int, p float64) int {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]int(nil), values...)
	sort.Ints(sorted)
	idx := int(float64(len(sorted)-1) * p)
	return sorted[idx]
}

func (sc *inMemoryStatsCollector) calculateMetrics() {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()

	for _, entry := range sc.stats.APIRequests {
		entry.Metrics.roll(sc.interval)
	}
	for _, entry := range sc.stats.GatewayAccess {
		entry.Metrics.roll(sc.interval)
	}
	sc.stats.LastUpdated = time.Now()
}

func (sc *inMemoryStatsCollector) run() {
	ticker := time.NewTicker(sc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-sc.ctx.Done():
			return
		case <-ticker.C:
			sc.calculateMetrics()
		}
	}
}

// Export returns a deep copy of the current stats
func (sc *inMemoryStatsCollector) Export() Stats {
	sc.mutex.RLock()
	defer sc.mutex.RUnlock()

	exported := Stats{
		APIRequests:   make(map[string]*APIRequestStats, len(sc.stats.APIRequests)),
		GatewayAccess: make(map[string]*GatewayAccessStats, len(sc.stats.GatewayAccess)),
		Uptime:        time.Since(sc.startTime),
		GoRoutines:    runtime.NumGoroutine(),
		LastUpdated:   sc.stats.LastUpdated,
	}

	for key, entry := range sc.stats.APIRequests {
		copied := *entry
		copied.Metrics.currentDurations = append([]int(nil), entry.Metrics.currentDurations...)
		exported.APIRequests[key] = &copied
	}
	for key, entry := range sc.stats.GatewayAccess {
		copied := *entry
		copied.Metrics.currentDurations = append([]int(nil), entry.Metrics.currentDurations...)
		exported.GatewayAccess[key] = &copied
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	exported.MemoryUsage = formatBytes(m.Alloc)

	return exported
}

// Stop gracefully shuts down the stats collector
func (sc *inMemoryStatsCollector) Stop() {
	sc.stopOnce.Do(sc.cancel)
}

func formatBytes(b uint64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}
