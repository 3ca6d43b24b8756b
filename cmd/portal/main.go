// Command portal serves the audit portal's notification API and realtime
// endpoint.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/auditdesk/portal/migrations"
	"github.com/auditdesk/portal/pkg/broadcast"
	"github.com/auditdesk/portal/pkg/clientip"
	"github.com/auditdesk/portal/pkg/config"
	"github.com/auditdesk/portal/pkg/connpool"
	"github.com/auditdesk/portal/pkg/email"
	"github.com/auditdesk/portal/pkg/httpserver"
	"github.com/auditdesk/portal/pkg/jwt"
	"github.com/auditdesk/portal/pkg/logger"
	"github.com/auditdesk/portal/pkg/metrics"
	"github.com/auditdesk/portal/pkg/pg"
	"github.com/auditdesk/portal/pkg/redis"
	"github.com/auditdesk/portal/pkg/requestid"
	"github.com/auditdesk/portal/svc/directory"
	"github.com/auditdesk/portal/svc/notification"
	"github.com/auditdesk/portal/svc/portal"
	"github.com/auditdesk/portal/svc/realtime"
)

type appConfig struct {
	Logger       logger.Config
	HTTP         httpserver.Config
	PG           pg.Config
	Redis        redis.Config
	Email        email.Config
	JWT          jwt.Config
	Pool         connpool.Config
	Realtime     realtime.Config
	Notification notification.Config
	ClientIP     clientip.Config

	RedisEnabled       bool `env:"REDIS_ENABLED" envDefault:"true"`
	EmailMirrorEnabled bool `env:"EMAIL_MIRROR_ENABLED" envDefault:"true"`
}

func main() {
	if err := run(); err != nil {
		slog.Error("portal stopped", logger.Error(err))
		os.Exit(1)
	}
}

func run() error {
	var cfg appConfig
	if err := config.Load(&cfg); err != nil {
		return err
	}

	log := logger.New(append(logger.FromConfig(cfg.Logger),
		logger.WithContextExtractors(requestid.LoggerExtractor(), logger.ConnectionExtractor()),
	)...)
	logger.SetAsDefault(log)

	if err := cfg.Pool.Validate(); err != nil {
		return err
	}
	if err := cfg.Notification.LoadRateLimits(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := pg.Connect(ctx, cfg.PG)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := pg.Migrate(ctx, db, cfg.PG, migrations.FS, log); err != nil {
		return err
	}
	checks := []httpserver.Check{{Name: "postgres", Fn: pg.Healthcheck(db)}}

	sink := metrics.NewLogged(log, slog.LevelDebug)

	var counts notification.CountCache = notification.NewMemoryCountCache(
		cfg.Notification.UnreadCacheSize, cfg.Notification.UnreadCacheTTL)
	if cfg.RedisEnabled {
		rdb, err := redis.Connect(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer rdb.Close()
		counts = notification.NewRedisCountCache(rdb, cfg.Notification.UnreadCacheTTL, notification.WithCacheLogger(log))
		checks = append(checks, httpserver.Check{Name: "redis", Fn: redis.Healthcheck(rdb)})
	}

	pool := connpool.New(cfg.Pool, connpool.WithLogger(log), connpool.WithMetrics(sink))
	bc := broadcast.New(
		broadcast.WithLogger(log),
		broadcast.WithMetrics(sink),
		broadcast.WithConnectionCounter(pool.ConnectionCount),
	)

	deliverers := []notification.Deliverer{notification.NewBroadcastDeliverer(bc)}
	if cfg.EmailMirrorEnabled {
		mailer, err := email.New(cfg.Email, log)
		if err != nil {
			return err
		}
		deliverers = append(deliverers, notification.NewEmailDeliverer(mailer))
	}

	svc := notification.NewService(notification.NewPgStore(db), directory.NewPostgres(db),
		notification.WithConfig(cfg.Notification),
		notification.WithLogger(log),
		notification.WithMetrics(sink),
		notification.WithPublisher(bc),
		notification.WithDeliverer(notification.NewMultiDeliverer(log, deliverers...)),
		notification.WithCountCache(counts),
	)

	tokens, err := jwt.New(cfg.JWT)
	if err != nil {
		return err
	}
	ws, err := realtime.NewHandler(pool, bc, realtime.NewJWTAuthenticator(tokens),
		realtime.WithConfig(cfg.Realtime),
		realtime.WithLogger(log),
		realtime.WithUnreadCounter(svc),
	)
	if err != nil {
		return err
	}

	router := portal.NewRouter(portal.Deps{
		Notifications: svc,
		Pool:          pool,
		Realtime:      ws,
		Tokens:        tokens,
		IPResolver:    clientip.New(cfg.ClientIP),
		HealthChecks:  checks,
		Logger:        log,
	})

	srv := httpserver.NewFromConfig(cfg.HTTP,
		httpserver.WithLogger(log),
		httpserver.WithDrainHook("websocket", pool.Shutdown),
	)
	maintenance := realtime.NewMaintenance(pool, bc, cfg.Realtime.CleanupInterval, log)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return maintenance.Run(ctx) })
	g.Go(func() error { return srv.Run(ctx, router) })
	return g.Wait()
}
