package cmd

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"

	"olx-watcher/config"
	"olx-watcher/metrics"
	"olx-watcher/scheduler"
	"olx-watcher/scraper/olx"
	"olx-watcher/services"
	"olx-watcher/storage"
	"olx-watcher/utils"
)

// openStore opens the store selected by store.driver.
func openStore(ctx context.Context, cfg *config.Config, logger *utils.Logger) (storage.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		logger.Info("[app] Using PostgreSQL store at %s:%s/%s", cfg.Postgres.Host, cfg.Postgres.Port, cfg.Postgres.DB)
		return storage.OpenPostgres(ctx, cfg.DSN(), logger)
	case "file":
		logger.Info("[app] Using file store at %s", cfg.Store.FilePath)
		return storage.NewMemoryStore(logger, storage.WithFile(cfg.Store.FilePath))
	case "memory":
		logger.Warn("[app] Using in-memory store, listings are lost on exit")
		return storage.NewMemoryStore(logger)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// openHistory returns a Redis-backed run history when redis.addr is set and
// an in-process one otherwise. The returned func releases resources.
func openHistory(ctx context.Context, cfg *config.Config, logger *utils.Logger) (storage.RunHistory, func(), error) {
	if cfg.Redis.Addr == "" {
		return storage.NewMemoryRunHistory(cfg.Scheduler.HistorySize), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, eris.Wrapf(err, "redis ping %s", cfg.Redis.Addr)
	}
	logger.Info("[app] Run history in Redis at %s", cfg.Redis.Addr)
	return storage.NewRedisRunHistory(client, cfg.Scheduler.HistorySize, logger), func() { _ = client.Close() }, nil
}

func newMetrics() *metrics.Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return metrics.New(reg)
}

func newScheduler(cfg *config.Config, store storage.Store, history storage.RunHistory, m *metrics.Metrics, logger *utils.Logger) *scheduler.Scheduler {
	browser := olx.NewChromeBrowser(olx.ChromeOptions{
		ChromeBin: cfg.Source.ChromeBin,
		UserAgent: cfg.Source.UserAgent,
	}, logger)
	fetcher := olx.New(browser, logger, olx.WithPageDelay(cfg.Source.PageDelay))
	parser := services.NewNormalizer(logger, services.DefaultSelectors())

	return scheduler.New(fetcher, parser, store, history, m, logger, cfg.Source.Query(), scheduler.Config{
		Interval:   cfg.Scheduler.Interval,
		RunTimeout: cfg.Scheduler.RunTimeout,
	})
}
