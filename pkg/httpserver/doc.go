// Package httpserver runs the portal's HTTP listener with graceful shutdown.
//
// Shutdown happens in three steps. Drain hooks run first, while the listener
// still accepts; the realtime layer uses one to send reconnect notices and
// close WebSocket sessions, which http.Server.Shutdown does not track once
// hijacked. Then the listener closes and in-flight requests finish within
// ShutdownTimeout. Stop hooks run last.
//
//	srv := httpserver.NewFromConfig(cfg,
//		httpserver.WithLogger(log),
//		httpserver.WithDrainHook("websocket", pool.Shutdown),
//	)
//	if err := srv.Run(ctx, router); err != nil {
//		log.Error("server stopped", logger.Error(err))
//	}
//
// Run returns when ctx is cancelled, on SIGINT or SIGTERM, or when the
// listener fails. Listen failures are wrapped with ErrStart and shutdown
// failures with ErrShutdown.
//
// HealthHandler reports named dependency checks as JSON for readiness probes.
package httpserver
