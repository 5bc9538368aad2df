package main // entry point of the HTTP API

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/personal-health-manager/internal/config"
	"github.com/iliyamo/personal-health-manager/internal/database"
	"github.com/iliyamo/personal-health-manager/internal/logging"
	"github.com/iliyamo/personal-health-manager/internal/queue"
	"github.com/iliyamo/personal-health-manager/internal/repository"
	"github.com/iliyamo/personal-health-manager/internal/router"
	"github.com/iliyamo/personal-health-manager/internal/service"
	"github.com/iliyamo/personal-health-manager/internal/storage"
	"github.com/iliyamo/personal-health-manager/internal/utils"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "server:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE:  func(cmd *cobra.Command, _ []string) error { return runServe(cmd.Context()) },
	}
	root := &cobra.Command{
		Use:           "server",
		Short:         "Personal Health Manager API",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serveCmd.RunE,
	}
	root.AddCommand(serveCmd, migrateCmd())
	return root
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "migrate", Short: "Manage the database schema"}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			RunE: func(c *cobra.Command, _ []string) error {
				return withDB(c.Context(), "migrate", database.Migrate)
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Print migration status",
			RunE: func(c *cobra.Command, _ []string) error {
				return withDB(c.Context(), "migrate", database.MigrationStatus)
			},
		},
	)
	return cmd
}

// withDB opens the database from the environment, runs fn and closes it.
func withDB(ctx context.Context, component string, fn func(context.Context, *sql.DB) error) error {
	cfg := config.Load()
	log := logging.New(cfg.Env, cfg.LogLevel, component)

	db, err := database.Open(ctx, cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Error().Err(err).Msg("open database")
		return err
	}
	defer db.Close()

	if err := fn(ctx, db); err != nil {
		log.Error().Err(err).Msg("migration failed")
		return err
	}
	return nil
}

func runServe(ctx context.Context) error {
	cfg := config.Load()
	log := logging.New(cfg.Env, cfg.LogLevel, "api")

	db, err := database.Open(ctx, cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Error().Err(err).Msg("open database")
		return err
	}
	defer db.Close()

	rdb := config.NewRedisClient(config.LoadRedisConfig())
	if rdb == nil {
		log.Warn().Msg("redis unavailable; rate limiting and caching disabled")
	} else {
		defer rdb.Close()
	}

	docs, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		log.Error().Err(err).Msg("configure document storage")
		return err
	}

	events := queue.NewPublisher(cfg.AMQPURL, log)
	auth, err := service.NewAuthService(service.AuthDeps{
		Users:  repository.NewUserRepo(db),
		Tokens: repository.NewTokenRepo(db),
		Hasher: utils.NewPasswordHasher(cfg.BcryptCost),
		Issuer: utils.NewTokenIssuer(utils.TokenConfig{
			Secret:     []byte(cfg.JWTSecret),
			AccessTTL:  cfg.AccessTTL(),
			RefreshTTL: cfg.RefreshTTL(),
			ResetTTL:   cfg.ResetTTL(),
		}),
		Events: events,
		Log:    log,
		Debug:  cfg.Debug,
	})
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	e := router.New(router.Deps{
		Config:    cfg,
		RateLimit: config.LoadRateLimitConfig(),
		Cache:     config.LoadCacheConfig(),
		Log:       log,
		Auth:      auth,
		Documents: docs,
		Redis:     rdb,
		Registry:  reg,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return events.Run(gctx) })
	g.Go(func() error {
		log.Info().Str("addr", ":"+cfg.Port).Str("env", cfg.Env).Msg("listening")
		if err := e.Start(":" + cfg.Port); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("server stopped")
		return err
	}
	log.Info().Msg("server stopped")
	return nil
}
