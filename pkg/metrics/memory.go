package metrics

import (
	"context"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/auditdesk/portal/pkg/logger"
)

// Snapshot is a point-in-time copy of a Memory sink.
type Snapshot struct {
	Counters map[string]int64         `json:"counters"`
	Gauges   map[string]float64       `json:"gauges"`
	Timings  map[string]TimingSummary `json:"timings"`
}

// TimingSummary aggregates observed durations for one timer key.
type TimingSummary struct {
	Count int64         `json:"count"`
	Total time.Duration `json:"total"`
	Max   time.Duration `json:"max"`
}

// Memory keeps aggregates in process. It backs the stats endpoint and tests.
type Memory struct {
	mu       sync.Mutex
	counters map[string]int64
	gauges   map[string]float64
	timings  map[string]TimingSummary
	slow     time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// MemoryOption configures a Memory sink.
type MemoryOption func(*Memory)

// WithSlowThreshold logs a warning for timers that exceed d.
func WithSlowThreshold(d time.Duration, log *slog.Logger) MemoryOption {
	return func(m *Memory) {
		m.slow = d
		if log != nil {
			m.logger = log
		}
	}
}

// WithClock overrides the time source used by timers.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMemory creates an empty in-memory sink.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		counters: make(map[string]int64),
		gauges:   make(map[string]float64),
		timings:  make(map[string]TimingSummary),
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) Increment(name string, tags Tags) {
	k := key(name, tags)
	m.mu.Lock()
	m.counters[k]++
	m.mu.Unlock()
}

func (m *Memory) SetGauge(name string, value float64, tags Tags) {
	k := key(name, tags)
	m.mu.Lock()
	m.gauges[k] = value
	m.mu.Unlock()
}

func (m *Memory) StartTimer(name string, tags Tags) StopFunc {
	k := key(name, tags)
	start := m.now()
	var once sync.Once
	return func() {
		once.Do(func() {
			d := m.now().Sub(start)
			m.mu.Lock()
			s := m.timings[k]
			s.Count++
			s.Total += d
			if d > s.Max {
				s.Max = d
			}
			m.timings[k] = s
			m.mu.Unlock()

			if m.slow > 0 && d > m.slow {
				m.logger.LogAttrs(context.Background(), slog.LevelWarn, "slow operation",
					logger.Component("metrics"),
					slog.String("timer", k),
					logger.Duration(d),
				)
			}
		})
	}
}

// Counter returns the value of a counter, 0 if never incremented.
func (m *Memory) Counter(name string, tags Tags) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[key(name, tags)]
}

// Gauge returns the last value set for a gauge.
func (m *Memory) Gauge(name string, tags Tags) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.gauges[key(name, tags)]
	return v, ok
}

// Snapshot copies all aggregates.
func (m *Memory) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		Counters: maps.Clone(m.counters),
		Gauges:   maps.Clone(m.gauges),
		Timings:  maps.Clone(m.timings),
	}
}
