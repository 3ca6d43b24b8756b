// Package config loads typed configuration structs from the environment.
//
// It wraps github.com/joho/godotenv (optional .env files) and
// github.com/caarlos0/env/v11 (struct tag parsing). Unlike a process-wide
// cache, every call parses afresh so the host application owns the
// configuration lifecycle and passes the result to constructors explicitly:
//
//	var cfg connpool.Config
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
//	pool := connpool.New(cfg, connpool.WithLogger(log))
package config
