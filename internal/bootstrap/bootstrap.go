// Package bootstrap assembles the reconciliation services shared by the api
// and worker binaries.
package bootstrap

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/tiagomennab/ensaio-fotos-sub002/internal/adapter/repo"
	"github.com/tiagomennab/ensaio-fotos-sub002/internal/events"
	"github.com/tiagomennab/ensaio-fotos-sub002/internal/infra"
	"github.com/tiagomennab/ensaio-fotos-sub002/internal/infra/credentials"
	"github.com/tiagomennab/ensaio-fotos-sub002/internal/jobs"
	"github.com/tiagomennab/ensaio-fotos-sub002/internal/lock"
	"github.com/tiagomennab/ensaio-fotos-sub002/internal/materialize"
	"github.com/tiagomennab/ensaio-fotos-sub002/internal/poller"
	"github.com/tiagomennab/ensaio-fotos-sub002/internal/providers/replicate"
	"github.com/tiagomennab/ensaio-fotos-sub002/internal/reconcile"
	"github.com/tiagomennab/ensaio-fotos-sub002/internal/storage"
)

// Services holds the wired components. Close releases the connections.
type Services struct {
	Pool          *pgxpool.Pool
	Redis         *redis.Client
	Store         *repo.Store
	Files         storage.ObjectStore
	Provider      *replicate.Client
	Bus           events.Bus
	Reconciler    *reconcile.Reconciler
	Jobs          *jobs.Service
	Sweeper       *poller.Sweeper
	WebhookSecret string
}

// New connects to Postgres (and Redis when configured) and builds every
// service. Without Redis, locks and events stay in-process, which is only
// correct for a single replica.
func New(ctx context.Context, cfg *infra.Config, logger *infra.Logger) (*Services, error) {
	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s := &Services{Pool: pool}
	runner := infra.NewSQLRunner(pool, *logger)
	s.Store = repo.NewStore(runner)

	s.Redis, err = infra.NewRedisClient(ctx, cfg)
	if err != nil {
		s.Close()
		return nil, err
	}

	var locker lock.Locker
	if s.Redis != nil {
		locker = lock.NewRedisLocker(s.Redis, cfg.LockTTL, cfg.LockWait, logger)
		s.Bus = events.NewRedisBus(s.Redis, logger)
	} else {
		logger.Warn().Msg("REDIS_URL not set: job locks and events are process-local")
		locker = lock.NewLocalLocker(cfg.LockWait)
		s.Bus = events.NewMemoryBus()
	}

	s.Files, err = buildStorage(cfg, logger)
	if err != nil {
		s.Close()
		return nil, err
	}
	mat, err := materialize.New(materialize.Options{
		Store:           s.Files,
		Concurrency:     cfg.MaterializeConcurrency,
		MaxBytes:        cfg.MaterializeMaxBytes,
		MaxTotalBytes:   cfg.MaterializeMaxTotal,
		DownloadTimeout: cfg.DownloadTimeout,
		ThumbnailWidth:  cfg.ThumbnailWidth,
		Logger:          logger,
	})
	if err != nil {
		s.Close()
		return nil, err
	}

	creds := credentials.NewStore(runner)
	token, err := creds.Resolve(ctx, credentials.ProviderReplicate, cfg.ReplicateAPIToken)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to load replicate token from store")
	}
	s.WebhookSecret, err = creds.Resolve(ctx, credentials.ProviderReplicateWebhook, cfg.ReplicateWebhookSecret)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to load webhook secret from store")
	}
	if s.WebhookSecret == "" {
		logger.Warn().Msg("webhook secret not configured: signatures are not verified")
	}
	s.Provider, err = replicate.NewClient(replicate.Options{
		APIToken:            token,
		BaseURL:             cfg.ReplicateBaseURL,
		GenerationVersion:   cfg.GenerationModelVersion,
		UpscaleVersion:      cfg.UpscaleModelVersion,
		TrainingVersion:     cfg.TrainingModelVersion,
		TrainingDestination: cfg.TrainingDestination,
		RequestsPerSecond:   cfg.ProviderRPS,
		Logger:              logger,
	})
	if err != nil {
		s.Close()
		return nil, err
	}
	if !s.Provider.HasCredentials() {
		logger.Warn().Msg("replicate token missing: submissions and polling will fail")
	}

	s.Reconciler, err = reconcile.New(reconcile.Options{
		Store:        s.Store,
		Locker:       locker,
		Materializer: mat,
		Publisher:    s.Bus,
		Logger:       logger,
	})
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Jobs = jobs.NewService(jobs.Options{
		Store:      s.Store,
		Provider:   s.Provider,
		Reconciler: s.Reconciler,
		WebhookURL: cfg.WebhookURL(),
		Logger:     logger,
	})
	s.Sweeper = poller.NewSweeper(poller.Options{
		Jobs:       s.Store.Jobs(),
		Provider:   s.Provider,
		Reconciler: s.Reconciler,
		MinAge:     cfg.PollMinAge,
		MaxAge:     cfg.PollMaxAge,
		BatchSize:  cfg.PollBatchSize,
		Budget:     cfg.PollBudget,
		ItemDelay:  cfg.PollItemDelay,
		Logger:     logger,
	})
	return s, nil
}

func buildStorage(cfg *infra.Config, logger *infra.Logger) (storage.ObjectStore, error) {
	storagePath := cfg.StoragePath
	if !filepath.IsAbs(storagePath) {
		if abs, err := filepath.Abs(storagePath); err == nil {
			storagePath = abs
		}
	}
	local, err := storage.NewFileStore(storagePath, cfg.StorageBaseURL)
	if err != nil {
		return nil, fmt.Errorf("configure local storage: %w", err)
	}
	if !cfg.SupabaseEnabled() {
		return storage.NewTiered(logger, local), nil
	}
	remote, err := storage.NewSupabaseStore(cfg.SupabaseURL, cfg.SupabaseServiceKey, cfg.SupabaseBucket)
	if err != nil {
		return nil, fmt.Errorf("configure supabase storage: %w", err)
	}
	return storage.NewTiered(logger, remote, local), nil
}

// Close releases Redis and the database pool.
func (s *Services) Close() {
	if s.Redis != nil {
		_ = s.Redis.Close()
	}
	if s.Pool != nil {
		s.Pool.Close()
	}
}
