// Main entry point for the space-weather alert service
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go-spacewx/internal/clients"
	"go-spacewx/internal/config"
	"go-spacewx/internal/domain"
	"go-spacewx/internal/handlers"
	"go-spacewx/internal/logger"
	"go-spacewx/internal/repo"
	"go-spacewx/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

type app struct {
	cfg   *config.AppConfig
	log   *zap.Logger
	clock domain.Clock
	pool  *pgxpool.Pool
	redis *repo.RedisStore
	svc   *services.Services
}

// newApp loads configuration and connects the optional backends. A backend
// that cannot be reached is logged and left for the tier fallback to cover.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	log.Info("configuration loaded", zap.String("http_addr", cfg.HTTPAddr))

	a := &app{cfg: cfg, log: log, clock: domain.RealClock{}}
	backends := services.Backends{
		Memory: repo.NewMemoryStore(cfg.Pipeline.MemorySnapshots, a.clock.Now),
	}

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("unable to create database pool: %w", err)
		}
		a.pool = pool
		if err := pool.Ping(ctx); err != nil {
			log.Warn("database unreachable at startup", zap.Error(err))
		} else if err := repo.Migrate(pool); err != nil {
			log.Warn("database migration failed", zap.Error(err))
		} else {
			log.Info("database schema migrated")
		}
		backends.Postgres = repo.NewPostgresStore(pool)
	}

	if cfg.Redis.Addr != "" {
		a.redis = repo.NewRedisStore(repo.RedisOpts{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Timeout:  cfg.Redis.Timeout(),
			TTL:      cfg.Redis.TTL(),
		})
		if err := a.redis.Ping(ctx); err != nil {
			log.Warn("redis unreachable at startup", zap.Error(err))
		}
		backends.Redis = a.redis
	}

	pusher := clients.NewPushClient(cfg.Push.URL, cfg.Push.AccessToken, cfg.Pipeline.FetchTimeout())
	a.svc = services.New(cfg, backends, services.NewFeeds(cfg), pusher, a.clock, domain.UUIDGenerator{}, log)
	return a, nil
}

func (a *app) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
	_ = a.log.Sync()
}

var rootCmd = &cobra.Command{
	Use:          "spacewx",
	Short:        "Space-weather telemetry and alert service",
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the scheduled tick loop",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if noScheduler, _ := cmd.Flags().GetBool("no-scheduler"); !noScheduler {
			go a.svc.Orchestrator.Run(ctx)
			a.log.Info("tick loop started", zap.Duration("interval", a.cfg.Pipeline.TickInterval()))
		}

		gin.SetMode(gin.ReleaseMode)
		r := gin.New()
		r.Use(gin.Recovery())
		r.Use(logger.GinMiddleware(a.log.Named("http")))
		handlers.SetupRoutes(r, handlers.NewHandler(a.svc, a.clock))

		srv := &http.Server{Addr: a.cfg.HTTPAddr, Handler: r}
		errCh := make(chan error, 1)
		go func() {
			a.log.Info("spacewx service listening", zap.String("addr", a.cfg.HTTPAddr))
			errCh <- srv.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("failed to start server: %w", err)
			}
			return nil
		case <-ctx.Done():
		}

		a.log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Run one fetch, persist and notify tick and print its report",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.svc.Orchestrator.RunTick(cmd.Context())
		if err != nil {
			return fmt.Errorf("tick failed: %w", err)
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return err
		}
		if cfg.DatabaseURL == "" {
			return errors.New("DATABASE_URL is not set")
		}
		pool, err := pgxpool.New(cmd.Context(), cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("unable to create database pool: %w", err)
		}
		defer pool.Close()

		if err := repo.Migrate(pool); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Database schema is up to date")
		return nil
	},
}

func init() {
	serveCmd.Flags().Bool("no-scheduler", false, "Serve HTTP only, without the tick loop")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(tickCmd)
	rootCmd.AddCommand(migrateCmd)
}
