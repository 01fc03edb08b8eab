// Command worker pulls tasks from the shared queue and runs them with the
// built-in plugins.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/xraph/coord"
	"github.com/xraph/coord/worker"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML config file")
	concurrency := flag.Int("concurrency", 0, "worker goroutines (overrides the config file)")
	maxAttempts := flag.Int("max-attempts", 3, "attempts per task before it is failed")
	workerID := flag.String("id", "", "worker id (generated when empty)")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	cfg, err := coord.LoadConfig(*configPath)
	if err != nil {
		logger.Error("load config failed", "err", err)
		os.Exit(1)
	}
	if *concurrency > 0 {
		cfg.Concurrency = *concurrency
	}

	plugins := registry()
	opts := []worker.PoolOption{
		worker.WithLogger(logger),
		worker.WithMaxAttempts(*maxAttempts),
		worker.WithAttributes(map[string]string{"plugins": strings.Join(plugins.Names(), ",")}),
	}
	if *workerID != "" {
		opts = append(opts, worker.WithWorkerID(*workerID))
	}
	pool, err := worker.NewPool(cfg, plugins, opts...)
	if err != nil {
		logger.Error("create worker pool failed", "err", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	logger.Info("worker starting",
		"worker_id", pool.WorkerID(),
		"queue", cfg.Queue,
		"concurrency", cfg.Concurrency,
	)
	if err := pool.Run(ctx); err != nil {
		logger.Error("worker exited", "err", err)
		os.Exit(1)
	}
	logger.Info("worker stopped", "processed", pool.Processed())
}
