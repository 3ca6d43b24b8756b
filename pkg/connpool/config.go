package connpool

import "time"

// Config holds pool limits and heartbeat timing.
type Config struct {
	MaxConnections      int `env:"MAX_CONNECTIONS" envDefault:"1000"`
	HeartbeatIntervalMS int `env:"HEARTBEAT_INTERVAL_MS" envDefault:"30000"`
	PongWaitMS          int `env:"PONG_WAIT_MS" envDefault:"5000"`
	// HeartbeatConcurrency bounds parallel pings per heartbeat round.
	HeartbeatConcurrency int `env:"HEARTBEAT_CONCURRENCY" envDefault:"64"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxConnections:       1000,
		HeartbeatIntervalMS:  30000,
		PongWaitMS:           5000,
		HeartbeatConcurrency: 64,
	}
}

func (c Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalMS) * time.Millisecond
}

func (c Config) PongWait() time.Duration {
	return time.Duration(c.PongWaitMS) * time.Millisecond
}

// Validate reports whether the config can drive a pool.
func (c Config) Validate() error {
	if c.MaxConnections <= 0 {
		return ErrInvalidConfig
	}
	if c.HeartbeatIntervalMS <= 0 || c.PongWaitMS <= 0 {
		return ErrInvalidConfig
	}
	return nil
}
