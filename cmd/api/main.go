package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tiagomennab/ensaio-fotos-sub002/internal/bootstrap"
	"github.com/tiagomennab/ensaio-fotos-sub002/internal/http/handlers"
	"github.com/tiagomennab/ensaio-fotos-sub002/internal/http/httpapi"
	"github.com/tiagomennab/ensaio-fotos-sub002/internal/infra"
	"github.com/tiagomennab/ensaio-fotos-sub002/internal/poller"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()
	svc, err := bootstrap.New(ctx, cfg, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build services")
	}
	defer svc.Close()

	app := handlers.NewApp(logger)
	app.Store = svc.Store
	app.Jobs = svc.Jobs
	app.Reconciler = svc.Reconciler
	app.Sweeper = svc.Sweeper
	app.EventsBus = svc.Bus
	app.Files = svc.Files
	app.WebhookSecret = svc.WebhookSecret
	app.CronSecret = cfg.CronSecret
	app.AllowedOrigins = cfg.CORSOrigins

	router := httpapi.NewRouter(app, httpapi.Options{
		JWTSecret:       cfg.JWTSecret,
		DefaultLocale:   cfg.DefaultLocale,
		RateLimitPerMin: cfg.RateLimitPerMin,
		CORSOrigins:     cfg.CORSOrigins,
		Logger:          logger,
	})
	server := infra.NewHTTPServer(cfg, router)

	var scheduler *poller.Scheduler
	if cfg.PollInProcess {
		scheduler = poller.NewScheduler(svc.Sweeper, cfg.PollBudget+time.Minute, &logger)
		if err := scheduler.Start(cfg.PollSchedule); err != nil {
			logger.Fatal().Err(err).Msg("failed to start poll scheduler")
		}
	}

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if scheduler != nil {
		scheduler.Stop(shutdownCtx)
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
