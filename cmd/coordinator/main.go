// Command coordinator runs the orphan-recovery monitor and the HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/coord"
	"github.com/xraph/coord/api"
	"github.com/xraph/coord/engine"
	"github.com/xraph/coord/kv"
	redisstore "github.com/xraph/coord/store/redis"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	if err := run(*configPath, logger); err != nil {
		logger.Error("coordinator exited", "err", err)
		os.Exit(1)
	}
}

func run(configPath string, logger *slog.Logger) error {
	cfg, err := coord.LoadConfig(configPath)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// The monitor and the API each get their own connection.
	monitorClient, monitorEng, err := connect(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer monitorClient.Disconnect() //nolint:errcheck // best-effort on exit

	apiClient, apiEng, err := connect(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer apiClient.Disconnect() //nolint:errcheck // best-effort on exit

	monitor := engine.NewMonitor(monitorEng, cfg.RecoveryInterval.Duration,
		engine.WithReconnect(monitorClient.Reconnect),
		engine.WithMonitorLogger(logger),
	)

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.New(apiEng, api.WithLogger(logger)).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return monitor.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("http api listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http api: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received, stopping http api")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	apiEng.Shutdown(context.Background())
	logger.Info("coordinator stopped")
	return err
}

func connect(ctx context.Context, cfg coord.Config, logger *slog.Logger) (*kv.Client, *engine.Engine, error) {
	client := kv.New(
		kv.WithLogger(logger),
		kv.WithPassword(cfg.RedisPassword),
		kv.WithDB(cfg.RedisDB),
	)
	logger.Info("connecting to redis", "addr", cfg.RedisAddr())
	if err := client.Connect(ctx, cfg.RedisHost, cfg.RedisPort); err != nil {
		return nil, nil, err
	}
	eng, err := engine.New(redisstore.New(client),
		engine.WithConfig(cfg),
		engine.WithLogger(logger),
	)
	if err != nil {
		_ = client.Disconnect()
		return nil, nil, err
	}
	return client, eng, nil
}
