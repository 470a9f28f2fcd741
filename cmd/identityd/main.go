// Command identityd serves the identity engine over HTTP.
//
// Configuration comes from an optional YAML file (-config), a .env file and
// IDENTITY_* environment variables. Runtime tunables such as lockout limits
// are read per call from the same environment.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/MrEthical07/goIdentity/config"
	"github.com/MrEthical07/goIdentity/notify"
	"github.com/MrEthical07/goIdentity/store/sqlstore"
)

func main() {
	configPath := flag.String("config", "", "optional YAML config file")
	flag.Parse()

	_ = godotenv.Load()

	svc, err := config.LoadService(*configPath)
	if err != nil {
		slog.Error("identityd: load config", "error", err)
		os.Exit(1)
	}
	logger := newLogger(svc.LogLevel)

	if svc.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              svc.SentryDSN,
			Environment:      svc.Environment,
			AttachStacktrace: true,
		}); err != nil {
			logger.Error("identityd: init sentry", "error", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	if err := run(svc, logger); err != nil {
		logger.Error("identityd: exit", "error", err)
		sentry.CaptureException(err)
		sentry.Flush(2 * time.Second)
		os.Exit(1)
	}
}

func run(svc *config.Service, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sqlstore.Open(sqlstore.Dialect(svc.DBDriver), svc.DBURL)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Ping(ctx); err != nil {
		return err
	}
	if err := db.Migrate(ctx); err != nil {
		return err
	}

	cfg := goIdentity.DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = []byte(svc.JWTSecret)
	cfg.JWT.Issuer = svc.Issuer
	cfg.JWT.AccessTTL = svc.AccessTTL
	cfg.Session.SweepSchedule = svc.SweepSchedule
	cfg.Audit.Enabled = true
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true

	builder := goIdentity.New().
		WithConfig(cfg).
		WithStore(db).
		WithConfigProvider(svc.Provider()).
		WithFailureReporter(notify.SentryReporter{}).
		WithAuditSink(goIdentity.NewSlogSink(logger.With("component", "audit"))).
		WithLogger(logger)

	var rdb redis.UniversalClient
	if svc.RedisAddr != "" {
		rdb = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{svc.RedisAddr},
			Password: svc.RedisPassword,
			DB:       svc.RedisDB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return err
		}
		builder = builder.WithRedis(rdb)
	}

	engine, err := builder.Build()
	if err != nil {
		return err
	}
	engine.Start()
	defer engine.Close()

	srv := &http.Server{
		Addr:              svc.ListenAddr,
		Handler:           newRouter(engine, db, rdb, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("identityd: listening", "addr", svc.ListenAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
