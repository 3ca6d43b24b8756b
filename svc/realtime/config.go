package realtime

import "time"

// Config tunes the WebSocket endpoint.
type Config struct {
	HandshakeTimeout time.Duration `env:"REALTIME_HANDSHAKE_TIMEOUT" envDefault:"10s"`
	WriteTimeout     time.Duration `env:"REALTIME_WRITE_TIMEOUT" envDefault:"10s"`
	ReadLimit        int64         `env:"REALTIME_READ_LIMIT" envDefault:"4096"`
	SendBuffer       int           `env:"REALTIME_SEND_BUFFER" envDefault:"64"`
	AllowedOrigins   []string      `env:"REALTIME_ALLOWED_ORIGINS" envSeparator:","`
	CleanupInterval  time.Duration `env:"BROADCAST_CLEANUP_INTERVAL" envDefault:"1m"`
}

// DefaultConfig mirrors the env defaults.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		ReadLimit:        4096,
		SendBuffer:       64,
		CleanupInterval:  time.Minute,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = def.ReadLimit
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = def.SendBuffer
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = def.CleanupInterval
	}
	return c
}
