package main

import (
	"context"
	"flag"
	"time"

	"os"
	"os/signal"
	"syscall"

	"github.com/ThreeDotsLabs/watermill/message/router/middleware"

	"opencr/cmd/worker/controllers"
	"opencr/internal"
	"opencr/pkg/dedup"
	"opencr/pkg/poster"
	"opencr/pkg/registry"
	"opencr/pkg/scm"
	"opencr/pkg/worker"
)

func main() {
	logger := internal.NewLogger("worker")
	configPath := flag.String("config", "config.yaml", "Path to config file")
	driver := flag.String("driver", "", "Override log driver (amqp|nats|kafka|sql|gochannel)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	config, err := internal.LoadConfig(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if *driver != "" {
		config.Watermill.Driver = *driver
		config.Watermill.Drivers = nil
	}

	reg, err := registry.Load(config.AppsFile)
	if err != nil {
		logger.Fatalf("load apps: %v", err)
	}

	store, err := openDedupStore(config.Dedup)
	if err != nil {
		logger.Fatalf("dedup store: %v", err)
	}
	defer store.Close()

	publisher, err := internal.NewPublisher(config.Watermill)
	if err != nil {
		logger.Fatalf("publisher: %v", err)
	}
	defer publisher.Close()

	adapters := scm.NewFactory(config.Providers, config.Poster.CommandPrefix)
	results := poster.New(adapters, reg, config.Poster, internal.NewLogger("poster"))

	topics := append([]string{}, config.Consumer.Topics...)
	topics = append(topics, controllers.ResultsTopic)

	wk, err := worker.NewFromConfig(config.Watermill, config.Consumer.Group,
		worker.WithTopics(topics...),
		worker.WithShards(config.Consumer.Concurrency),
		worker.WithDedup(store, config.Consumer.Group),
		worker.WithMaxAttempts(config.Consumer.MaxAttempts),
		worker.WithHandlerTimeout(time.Duration(config.Consumer.HandlerTimeoutMS)*time.Millisecond),
		worker.WithBackoff(worker.Backoff{
			Initial: time.Duration(config.Consumer.BackoffInitialMS) * time.Millisecond,
			Max:     time.Duration(config.Consumer.BackoffMaxMS) * time.Millisecond,
		}),
		worker.WithMiddleware(worker.MiddlewareFromWatermill(middleware.Recoverer)),
	)
	if err != nil {
		logger.Fatalf("worker: %v", err)
	}
	defer wk.Close()

	controllers.NewPullRequestController(reg, adapters, publisher, results, logger).Register(wk)
	controllers.NewCommentController(publisher, config.Poster.CommandPrefix, logger).Register(wk)
	controllers.NewResultsController(results, logger).Register(wk)

	startPurger(ctx, store, config.Dedup, logger)

	logger.Printf("consuming group=%s topics=%v", config.Consumer.Group, topics)
	if err := wk.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Fatalf("run: %v", err)
	}
}

func openDedupStore(cfg internal.DedupConfig) (dedup.Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return dedup.NewMemoryStore(), nil
	default:
		return dedup.Open(dedup.Config{
			Driver:      cfg.Driver,
			DSN:         cfg.DSN,
			Table:       cfg.Table,
			AutoMigrate: cfg.AutoMigrate,
		})
	}
}

// startPurger prunes resolved consumption records past the retention window.
func startPurger(ctx context.Context, store dedup.Store, cfg internal.DedupConfig, logger interface{ Printf(string, ...interface{}) }) {
	if cfg.RetentionHours <= 0 {
		return
	}
	retention := time.Duration(cfg.RetentionHours) * time.Hour
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed, err := store.Purge(ctx, time.Now().Add(-retention))
				if err != nil {
					logger.Printf("purge: %v", err)
					continue
				}
				if removed > 0 {
					logger.Printf("purged %d consumption records", removed)
				}
			}
		}
	}()
}
