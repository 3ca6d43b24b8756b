package metrics

import (
	"context"
	"log/slog"
	"time"
)

// Logged writes every observation as a debug record. Useful when no metrics
// backend is deployed but the numbers should still reach the log pipeline.
type Logged struct {
	logger *slog.Logger
	level  slog.Level
	now    func() time.Time
}

// LoggedOption configures a Logged sink.
type LoggedOption func(*Logged)

// WithLoggedClock overrides the time source used by timers.
func WithLoggedClock(now func() time.Time) LoggedOption {
	return func(l *Logged) {
		if now != nil {
			l.now = now
		}
	}
}

// NewLogged creates a sink that logs at level.
func NewLogged(log *slog.Logger, level slog.Level, opts ...LoggedOption) *Logged {
	if log == nil {
		log = slog.Default()
	}
	l := &Logged{logger: log, level: level, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Logged) Increment(name string, tags Tags) {
	l.logger.LogAttrs(context.Background(), l.level, "metric",
		slog.String("metric", key(name, tags)),
		slog.String("type", "counter"),
	)
}

func (l *Logged) SetGauge(name string, value float64, tags Tags) {
	l.logger.LogAttrs(context.Background(), l.level, "metric",
		slog.String("metric", key(name, tags)),
		slog.String("type", "gauge"),
		slog.Float64("value", value),
	)
}

func (l *Logged) StartTimer(name string, tags Tags) StopFunc {
	start := l.now()
	return func() {
		l.logger.LogAttrs(context.Background(), l.level, "metric",
			slog.String("metric", key(name, tags)),
			slog.String("type", "timer"),
			slog.Duration("value", l.now().Sub(start)),
		)
	}
}

// Fanout forwards every observation to each sink in order.
type Fanout []Sink

func (f Fanout) Increment(name string, tags Tags) {
	for _, s := range f {
		s.Increment(name, tags)
	}
}

func (f Fanout) SetGauge(name string, value float64, tags Tags) {
	for _, s := range f {
		s.SetGauge(name, value, tags)
	}
}

func (f Fanout) StartTimer(name string, tags Tags) StopFunc {
	stops := make([]StopFunc, len(f))
	for i, s := range f {
		stops[i] = s.StartTimer(name, tags)
	}
	return func() {
		for _, stop := range stops {
			stop()
		}
	}
}
