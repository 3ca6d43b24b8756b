package notification

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// TypeLimit caps how many notifications of one type a sender may create.
type TypeLimit struct {
	MaxPerHour         int        `yaml:"maxPerHour"`
	MaxPerDay          int        `yaml:"maxPerDay"`
	PriorityExceptions []Priority `yaml:"priorityExceptions"`
}

// Exempt reports whether p bypasses the limit.
func (l TypeLimit) Exempt(p Priority) bool {
	return p != "" && slices.Contains(l.PriorityExceptions, p)
}

// DefaultLimits returns the built-in per-type limits.
func DefaultLimits() map[Type]TypeLimit {
	urgent := []Priority{PriorityUrgent}
	return map[Type]TypeLimit{
		TypeClientAssignment:  {MaxPerHour: 50, MaxPerDay: 200, PriorityExceptions: urgent},
		TypeAuditAssignment:   {MaxPerHour: 30, MaxPerDay: 150, PriorityExceptions: urgent},
		TypeAuditStageUpdate:  {MaxPerHour: 100, MaxPerDay: 500, PriorityExceptions: urgent},
		TypeAuditStatusUpdate: {MaxPerHour: 100, MaxPerDay: 500, PriorityExceptions: urgent},
	}
}

// Config is the environment-driven engine configuration.
type Config struct {
	PreventSelfNotification bool          `env:"PREVENT_SELF_NOTIFICATION" envDefault:"true"`
	DedupEnabled            bool          `env:"DEDUP_ENABLED" envDefault:"true"`
	DedupWindowMinutes      int           `env:"DEDUP_WINDOW_MINUTES" envDefault:"30"`
	RateLimitsFile          string        `env:"RATE_LIMITS_FILE"`
	BaseURL                 string        `env:"APP_BASE_URL" envDefault:"http://localhost:8080"`
	UnreadCacheTTL          time.Duration `env:"UNREAD_CACHE_TTL" envDefault:"5m"`
	UnreadCacheSize         int           `env:"UNREAD_CACHE_SIZE" envDefault:"10000"`

	// Limits is not read from env. It starts at DefaultLimits and is
	// overridden by RateLimitsFile.
	Limits map[Type]TypeLimit
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		PreventSelfNotification: true,
		DedupEnabled:            true,
		DedupWindowMinutes:      30,
		BaseURL:                 "http://localhost:8080",
		UnreadCacheTTL:          5 * time.Minute,
		UnreadCacheSize:         10000,
		Limits:                  DefaultLimits(),
	}
}

// DedupWindow returns the dedup window as a duration.
func (c Config) DedupWindow() time.Duration {
	return time.Duration(c.DedupWindowMinutes) * time.Minute
}

// Limit returns the effective limit for t. Zero fields fall back to the defaults.
func (c Config) Limit(t Type) TypeLimit {
	def := DefaultLimits()[t]
	l, ok := c.Limits[t]
	if !ok {
		return def
	}
	if l.MaxPerHour <= 0 {
		l.MaxPerHour = def.MaxPerHour
	}
	if l.MaxPerDay <= 0 {
		l.MaxPerDay = def.MaxPerDay
	}
	if l.PriorityExceptions == nil {
		l.PriorityExceptions = def.PriorityExceptions
	}
	return l
}

// LoadRateLimits merges RateLimitsFile, when set, over the current limits.
func (c *Config) LoadRateLimits() error {
	if c.RateLimitsFile == "" {
		return nil
	}
	f, err := os.Open(c.RateLimitsFile)
	if err != nil {
		return errors.Join(ErrInvalidRateLimits, err)
	}
	defer f.Close()
	return c.MergeRateLimits(f)
}

// MergeRateLimits reads a YAML document keyed by notification type:
//
//	audit_assignment:
//	  maxPerHour: 10
//	  maxPerDay: 40
//	  priorityExceptions: [urgent, high]
func (c *Config) MergeRateLimits(r io.Reader) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		return errors.Join(ErrInvalidRateLimits, err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}

	var overrides map[Type]TypeLimit
	if err := yaml.Unmarshal(raw, &overrides); err != nil {
		return errors.Join(ErrInvalidRateLimits, err)
	}

	if c.Limits == nil {
		c.Limits = DefaultLimits()
	}
	for t, l := range overrides {
		if !t.Valid() {
			return errors.Join(ErrInvalidRateLimits, fmt.Errorf("unknown type %q", t))
		}
		if l.MaxPerHour < 0 || l.MaxPerDay < 0 {
			return errors.Join(ErrInvalidRateLimits, fmt.Errorf("%s: negative limit", t))
		}
		if l.MaxPerDay > 0 && l.MaxPerHour > l.MaxPerDay {
			return errors.Join(ErrInvalidRateLimits, fmt.Errorf("%s: maxPerHour exceeds maxPerDay", t))
		}
		cur := c.Limits[t]
		if l.MaxPerHour > 0 {
			cur.MaxPerHour = l.MaxPerHour
		}
		if l.MaxPerDay > 0 {
			cur.MaxPerDay = l.MaxPerDay
		}
		if l.PriorityExceptions != nil {
			cur.PriorityExceptions = l.PriorityExceptions
		}
		c.Limits[t] = cur
	}
	return nil
}
