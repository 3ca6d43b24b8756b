package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var defaultEnvLoaded sync.Once

type loadOptions struct {
	prefix   string
	envFiles []string
}

// Option tunes a single Load call.
type Option func(*loadOptions)

// WithPrefix prepends prefix to every env key of the struct, e.g. "PORTAL_".
func WithPrefix(prefix string) Option {
	return func(o *loadOptions) { o.prefix = prefix }
}

// WithEnvFiles loads the given .env files before parsing. Missing files are an error.
// Values already present in the process environment win.
func WithEnvFiles(files ...string) Option {
	return func(o *loadOptions) { o.envFiles = append(o.envFiles, files...) }
}

// Load parses environment variables into v.
//
// The default .env file in the working directory is read once per process
// if it exists; its absence is not an error.
//
// Example:
//
//	type PoolConfig struct {
//		MaxConnections int `env:"MAX_CONNECTIONS" envDefault:"1000"`
//	}
//
//	var cfg PoolConfig
//	err := config.Load(&cfg)
func Load[T any](v *T, opts ...Option) error {
	if v == nil {
		return ErrNilPointer
	}

	defaultEnvLoaded.Do(func() {
		_ = godotenv.Load()
	})

	o := loadOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	if len(o.envFiles) > 0 {
		if err := godotenv.Load(o.envFiles...); err != nil {
			return errors.Join(ErrLoadingEnvFile, err)
		}
	}

	if err := env.ParseWithOptions(v, env.Options{Prefix: o.prefix}); err != nil {
		return errors.Join(ErrParsingConfig, err)
	}
	return nil
}

// MustLoad works like Load but panics on failure.
// Use it for configuration the process cannot start without.
func MustLoad[T any](v *T, opts ...Option) {
	if err := Load(v, opts...); err != nil {
		panic(fmt.Sprintf("failed to load required configuration: %v", err))
	}
}
