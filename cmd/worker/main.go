package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tiagomennab/ensaio-fotos-sub002/internal/bootstrap"
	"github.com/tiagomennab/ensaio-fotos-sub002/internal/infra"
	"github.com/tiagomennab/ensaio-fotos-sub002/internal/poller"
)

func main() {
	once := flag.Bool("once", false, "run a single polling cycle and exit")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv).With().Str("component", "worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := bootstrap.New(ctx, cfg, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to build services")
	}
	defer svc.Close()

	if *once {
		summary, err := svc.Sweeper.Run(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("worker: poll cycle failed")
			os.Exit(1)
		}
		logger.Info().Interface("summary", summary).Msg("worker: single cycle done")
		return
	}

	scheduler := poller.NewScheduler(svc.Sweeper, cfg.PollBudget+time.Minute, &logger)
	if err := scheduler.Start(cfg.PollSchedule); err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to start scheduler")
	}
	logger.Info().Str("schedule", cfg.PollSchedule).Msg("worker started")

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.PollBudget+time.Minute)
	defer cancel()
	scheduler.Stop(shutdownCtx)
	logger.Info().Msg("worker stopped")
}
