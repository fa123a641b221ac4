package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/bgeels/tsds-services/cache"
	"github.com/bgeels/tsds-services/common"
	"github.com/bgeels/tsds-services/config"
	"github.com/bgeels/tsds-services/lock"
	"github.com/bgeels/tsds-services/queue"
	"github.com/bgeels/tsds-services/store"
	"github.com/bgeels/tsds-services/tsds"
)

// writerCmd runs the ingestion writer: the consumer loop that commits
// batched measurement updates to the document store.
var writerCmd = &cobra.Command{
	Use:   "writer",
	Short: "run the time-series ingestion writer",
	Long: `Run the time-series ingestion writer.

The writer consumes batched measurement updates from the configured
RabbitMQ queue and commits them idempotently to MongoDB. Bucket mutation is
serialized across worker processes through Redis locks; memcached
short-circuits existence checks. Batches that fail on a backend error are
rejected back onto the queue and redelivered.

SIGTERM triggers a graceful shutdown: the in-flight batch completes and is
acknowledged or rejected before the process exits. SIGHUP is logged and
ignored.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			common.Logger.WithError(err).Fatal("invalid configuration")
		}
		runWriter(cfg)
	},
}

func init() {
	RootCmd.AddCommand(writerCmd)
}

// runWriter wires the writer's backends and runs the consumer loop until a
// termination signal arrives. A failed store connection at boot is fatal.
func runWriter(cfg *config.Config) {
	ctx := context.Background()

	mongoStore, err := store.Connect(ctx, cfg.Mongo.URI())
	if err != nil {
		common.Logger.WithError(err).Fatal("failed to connect to store")
	}
	defer mongoStore.Close(ctx)

	locker, err := lock.NewRedisLocker(cfg.Redis.Addr())
	if err != nil {
		common.Logger.WithError(err).Fatal("failed to connect to lock service")
	}
	defer locker.Close()

	kv := cache.NewMemcached(cfg.Memcache.Addr())

	registry := tsds.NewRegistry(mongoStore, cfg.IgnoreDatabases)
	if err := registry.Refresh(ctx); err != nil {
		common.Logger.WithError(err).Fatal("failed to load data types")
	}
	common.Logger.WithFields(logrus.Fields{
		"data_types": registry.Len(),
	}).Info("loaded data types")

	writer := tsds.NewWriter(registry, mongoStore, kv, locker)

	consumer := queue.NewConsumer(queue.Config{
		URL:   cfg.Rabbit.URL(),
		Queue: cfg.Rabbit.Queue,
	}, writer)

	if err := consumer.Connect(); err != nil {
		common.Logger.WithError(err).Fatal("failed to connect to broker")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	go func() {
		for sig := range sigChan {
			if sig == syscall.SIGHUP {
				common.Logger.Info("ignoring SIGHUP")
				continue
			}
			common.Logger.WithFields(logrus.Fields{
				"signal": sig.String(),
			}).Info("shutting down")
			consumer.Stop()
			return
		}
	}()

	if err := consumer.Run(ctx); err != nil {
		common.Logger.WithError(err).Error("consumer exited with error")
	}
}
