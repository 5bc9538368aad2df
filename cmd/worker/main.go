package main // entry point of the background worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/personal-health-manager/internal/config"
	"github.com/iliyamo/personal-health-manager/internal/database"
	"github.com/iliyamo/personal-health-manager/internal/jobs"
	"github.com/iliyamo/personal-health-manager/internal/logging"
	"github.com/iliyamo/personal-health-manager/internal/queue"
	"github.com/iliyamo/personal-health-manager/internal/repository"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		concurrency int
		logDir      string
	)
	cmd := &cobra.Command{
		Use:           "worker",
		Short:         "Run background jobs and the auth event consumer",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(c *cobra.Command, _ []string) error {
			return run(c.Context(), concurrency, logDir)
		},
	}
	cmd.Flags().IntVar(&concurrency, "concurrency", 8, "number of jobs processed in parallel")
	cmd.Flags().StringVar(&logDir, "log-dir", "logs", "directory of the auth audit log")

	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "worker:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, concurrency int, logDir string) error {
	cfg := config.Load()
	log := logging.New(cfg.Env, cfg.LogLevel, "worker")

	db, err := database.Open(ctx, cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Error().Err(err).Msg("open database")
		return err
	}
	defer db.Close()

	rc := config.LoadRedisConfig()
	redisOpts := asynq.RedisClientOpt{
		Addr:      rc.Addr,
		Password:  rc.Password,
		DB:        rc.DB,
		TLSConfig: rc.TLSConfig(),
	}

	schedule, err := jobs.DefaultSchedule()
	if err != nil {
		return err
	}
	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   redisOpts,
		Concurrency: concurrency,
		Handlers:    jobs.NewHandlers(repository.NewTokenRepo(db), log),
		Cron:        schedule,
		Log:         log,
	})
	if err != nil {
		return err
	}

	client := jobs.NewClient(redisOpts)
	defer client.Close()

	consumer := &queue.Consumer{
		URL:      cfg.AMQPURL,
		LogDir:   logDir,
		Notifier: client,
		Log:      log,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return worker.Run(gctx) })
	g.Go(func() error { return consumer.Run(gctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("worker stopped")
		return err
	}
	log.Info().Msg("worker stopped")
	return nil
}
