package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/xraph/coord"
	"github.com/xraph/coord/engine"
	"github.com/xraph/coord/kv"
	redisstore "github.com/xraph/coord/store/redis"
)

// conn is an engine over a single store connection.
type conn struct {
	client *kv.Client
	eng    *engine.Engine
}

func (c *conn) Close() {
	_ = c.client.Disconnect()
}

// configFlag registers the shared -config flag on fs.
func configFlag(fs *flag.FlagSet) *string {
	return fs.String("config", "", "path to a TOML config file")
}

func newConn(ctx context.Context, configPath string) (*conn, error) {
	cfg, err := coord.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	// Engine and store logs stay out of the command output.
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))

	client := kv.New(
		kv.WithLogger(quiet),
		kv.WithPassword(cfg.RedisPassword),
		kv.WithDB(cfg.RedisDB),
	)
	if err := client.Connect(ctx, cfg.RedisHost, cfg.RedisPort); err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.RedisAddr(), err)
	}
	eng, err := engine.New(redisstore.New(client), engine.WithConfig(cfg), engine.WithLogger(quiet))
	if err != nil {
		_ = client.Disconnect()
		return nil, err
	}
	return &conn{client: client, eng: eng}, nil
}

// mustConn opens a connection or exits.
func mustConn(ctx context.Context, cmd, configPath string) *conn {
	c, err := newConn(ctx, configPath)
	if err != nil {
		fatalf(cmd, err)
	}
	return c
}

func fatalf(cmd string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", cmd, err)
	os.Exit(1)
}
