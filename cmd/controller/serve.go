package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/KatsuhideAsanuma/lambda-microservice/internal/artifactcache"
	"github.com/KatsuhideAsanuma/lambda-microservice/internal/cache"
	"github.com/KatsuhideAsanuma/lambda-microservice/internal/catalog"
	"github.com/KatsuhideAsanuma/lambda-microservice/internal/compiler"
	"github.com/KatsuhideAsanuma/lambda-microservice/internal/config"
	"github.com/KatsuhideAsanuma/lambda-microservice/internal/dispatch"
	"github.com/KatsuhideAsanuma/lambda-microservice/internal/executionlog"
	"github.com/KatsuhideAsanuma/lambda-microservice/internal/httpapi"
	"github.com/KatsuhideAsanuma/lambda-microservice/internal/logging"
	"github.com/KatsuhideAsanuma/lambda-microservice/internal/metrics"
	"github.com/KatsuhideAsanuma/lambda-microservice/internal/observability"
	"github.com/KatsuhideAsanuma/lambda-microservice/internal/registry"
	"github.com/KatsuhideAsanuma/lambda-microservice/internal/runtimeclient"
	"github.com/KatsuhideAsanuma/lambda-microservice/internal/session"
	"github.com/KatsuhideAsanuma/lambda-microservice/internal/store"
)

func loadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if configFile != "" {
		var err error
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}
	config.LoadFromEnv(cfg)
	if err := config.ResolveSecrets(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("resolve secrets: %w", err)
	}
	return cfg, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the controller's HTTP surface and background tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			logging.InitStructured(cfg.Observability.Logging.Format, cfg.Observability.Logging.Level)

			if err := observability.Init(context.Background(), observability.Config{
				Enabled:     cfg.Observability.Tracing.Enabled,
				Exporter:    cfg.Observability.Tracing.Exporter,
				Endpoint:    cfg.Observability.Tracing.Endpoint,
				ServiceName: cfg.Observability.Tracing.ServiceName,
				SampleRate:  cfg.Observability.Tracing.SampleRate,
			}); err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			defer observability.Shutdown(context.Background())

			var collector *metrics.Collector
			if cfg.Observability.Metrics.Enabled {
				collector = metrics.New(cfg.Observability.Metrics.Namespace, time.Now())
			}

			pg, err := store.NewPostgresStore(context.Background(), cfg.Postgres.DSN)
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			defer pg.Close()

			sessStore := store.PostgresSessions{PostgresStore: pg}
			funcStore := store.PostgresFunctions{PostgresStore: pg}

			l1 := cache.NewInMemoryCache()
			var backingCache cache.Cache = l1
			if cfg.Redis.CacheURL != "" {
				opts, err := redis.ParseURL(cfg.Redis.CacheURL)
				if err != nil {
					return fmt.Errorf("parse REDIS_CACHE_URL: %w", err)
				}
				redisClient := redis.NewClient(opts)
				l2 := cache.NewRedisCacheFromClient(redisClient, "lambda:artifact:")
				backingCache = cache.NewTieredCache(l1, l2, 10*time.Second)

				invalidator := cache.NewCacheInvalidator(l1, redisClient)
				invalidatorCtx, cancel := context.WithCancel(context.Background())
				defer cancel()
				go invalidator.Start(invalidatorCtx)
			}
			ac := artifactcache.New(backingCache, time.Duration(cfg.ArtifactCache.TTLSeconds)*time.Second)

			comp := compiler.New(compiler.DefaultImages())

			sessions := session.New(sessStore, ac, comp.Build, session.Config{
				DefaultTTL:    time.Duration(cfg.Session.ExpirySeconds) * time.Second,
				MaxScriptSize: cfg.Session.MaxScriptSize,
			})

			reg := registry.New(registry.Strategy(cfg.Runtime.SelectionStrategy), cfg.RuntimeEndpoints())

			runtimeCfg := runtimeclient.DefaultConfig()
			runtimeCfg.MaxRetries = cfg.Runtime.MaxRetries
			runtimeCfg.AttemptTimeout = time.Duration(cfg.Runtime.TimeoutSeconds) * time.Second
			runtimeCfg.OuterTimeout = time.Duration(cfg.Runtime.FallbackTimeoutSeconds) * time.Second
			var clientMetrics runtimeclient.Metrics
			if collector != nil {
				clientMetrics = collector
			}
			client := runtimeclient.New(runtimeCfg, runtimeclient.NewHTTPTransport(), runtimeclient.NewGRPCTransport(), clientMetrics)

			execLog := executionlog.New(pg, executionlog.Config{
				BatchSize:     cfg.ExecutionLog.BatchSize,
				BufferSize:    cfg.ExecutionLog.BufferSize,
				FlushInterval: cfg.ExecutionLog.FlushInterval,
				Timeout:       cfg.ExecutionLog.Timeout,
				MaxRetries:    cfg.ExecutionLog.MaxRetries,
				RetryInterval: cfg.ExecutionLog.RetryInterval,
			})
			defer execLog.Shutdown(10 * time.Second)

			cat := catalog.New(funcStore)

			var engineMetrics dispatch.Metrics
			if collector != nil {
				engineMetrics = collector
			}
			engine := dispatch.New(reg, sessions, ac, comp.Build, client, execLog, cat, engineMetrics)

			handler := &httpapi.Handler{Engine: engine, Catalog: cat}
			srv := httpapi.NewServer(cfg.Addr(), handler)
			httpapi.ListenAndServe(srv)
			logging.Op().Info("controller HTTP surface started", "addr", cfg.Addr())

			if collector != nil {
				metricsSrv := &http.Server{Addr: ":9100", Handler: collector.Handler()}
				go func() {
					if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						logging.Op().Error("metrics server error", "error", err)
					}
				}()
				defer metricsSrv.Close()
			}

			sweepCtx, cancelSweep := context.WithCancel(context.Background())
			defer cancelSweep()
			go runExpirySweeper(sweepCtx, sessions)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh
			logging.Op().Info("shutdown signal received")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}

// runExpirySweeper runs the single per-process expiry sweep (§5: "a
// single expiry sweeper per process runs Session Manager expire_sweep
// every 60s").
func runExpirySweeper(ctx context.Context, sessions *session.Manager) {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := sessions.ExpireSweep(ctx)
			if err != nil {
				logging.Op().Error("expire sweep failed", "error", err)
				continue
			}
			if n > 0 {
				logging.Op().Info("expire sweep completed", "expired", n)
			}
		}
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Ensure the Postgres schema exists and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			pg, err := store.NewPostgresStore(context.Background(), cfg.Postgres.DSN)
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			defer pg.Close()
			fmt.Println("schema is up to date")
			return nil
		},
	}
}

func sweepNowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep-now",
		Short: "Run one expiry sweep pass and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			pg, err := store.NewPostgresStore(context.Background(), cfg.Postgres.DSN)
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			defer pg.Close()

			ac := artifactcache.New(cache.NewInMemoryCache(), time.Duration(cfg.ArtifactCache.TTLSeconds)*time.Second)
			sessions := session.New(store.PostgresSessions{PostgresStore: pg}, ac, nil, session.Config{
				DefaultTTL:    time.Duration(cfg.Session.ExpirySeconds) * time.Second,
				MaxScriptSize: cfg.Session.MaxScriptSize,
			})
			n, err := sessions.ExpireSweep(context.Background())
			if err != nil {
				return fmt.Errorf("sweep: %w", err)
			}
			fmt.Printf("expired %d sessions\n", n)
			return nil
		},
	}
}
