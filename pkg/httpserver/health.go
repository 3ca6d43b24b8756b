package httpserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/auditdesk/portal/pkg/logger"
)

// Check is a named dependency probe.
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

// HealthReport is the body written by HealthHandler.
type HealthReport struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

const (
	StatusOK          = "ok"
	StatusUnavailable = "unavailable"
)

// HealthHandler runs every check with timeout and answers 200 when all pass,
// 503 otherwise. Without checks it acts as a liveness probe.
func HealthHandler(log *slog.Logger, timeout time.Duration, checks ...Check) http.HandlerFunc {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		report := HealthReport{Status: StatusOK}
		if len(checks) > 0 {
			report.Checks = make(map[string]string, len(checks))
		}
		for _, c := range checks {
			if err := c.Fn(ctx); err != nil {
				log.LogAttrs(ctx, slog.LevelError, "readiness check failed",
					slog.String("check", c.Name), logger.Error(err))
				report.Status = StatusUnavailable
				report.Checks[c.Name] = err.Error()
				continue
			}
			report.Checks[c.Name] = StatusOK
		}

		code := http.StatusOK
		if report.Status != StatusOK {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(report)
	}
}
