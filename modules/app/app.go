package app

import (
	"context"
	"log"

	"github.com/redis/go-redis/v9"

	"eventlens-server/modules/broadcast"
	"eventlens-server/modules/cleanup"
	"eventlens-server/modules/common/config"
	"eventlens-server/modules/common/database"
	"eventlens-server/modules/common/queue"
	redisconn "eventlens-server/modules/common/redis"
	"eventlens-server/modules/common/storage"
	"eventlens-server/modules/variants"
)

// App - every shared dependency, built once at startup and passed by
// reference. Modules receive the pieces they need instead of reaching for
// globals.
type App struct {
	Cfg     *config.Config
	Rdb     *redis.Client
	Queue   *queue.Queue
	DB      *database.Client
	Storage *storage.Client
	Hub     *broadcast.Hub
}

func New(cfg *config.Config) (*App, error) {
	rdb, err := redisconn.Connect(cfg)
	if err != nil {
		return nil, err
	}

	db, err := database.NewClient(cfg)
	if err != nil {
		return nil, err
	}

	return &App{
		Cfg: cfg,
		Rdb: rdb,
		Queue: queue.New(rdb, queue.Settings{
			BaseBackoff:  cfg.QueueBaseBackoff,
			StallTimeout: cfg.QueueStallTimeout,
		}),
		DB:      db,
		Storage: storage.New(cfg.SupabaseURL, cfg.SupabaseServiceKey, cfg.StorageBucket),
		Hub:     broadcast.NewHub(),
	}, nil
}

// StartWorkers - launch both queue consumers. Variant processing scales with
// the host, cleanup stays single-flight so deletion bursts cannot starve
// image work.
func (a *App) StartWorkers(ctx context.Context) {
	variantWorker := variants.NewWorker(a.DB, a.Storage, a.Hub)
	cleanupWorker := cleanup.NewWorker(a.Storage, a.Rdb, a.Hub, a.Cfg.CleanupBatchSize, a.Cfg.CleanupBatchDelay)

	go a.Queue.Consume(ctx, queue.VariantQueue, a.Cfg.VariantConcurrency, variantWorker.Handle)
	go a.Queue.Consume(ctx, queue.CleanupQueue, 1, cleanupWorker.Handle)

	log.Printf("👷 Workers started: %s x%d, %s x1", queue.VariantQueue, a.Cfg.VariantConcurrency, queue.CleanupQueue)
}

// Close - release shared connections
func (a *App) Close() {
	if a.Rdb != nil {
		a.Rdb.Close()
	}
}
