package coord

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds configuration shared by coordinators and workers.
type Config struct {
	// RedisHost and RedisPort locate the backing store.
	RedisHost string `toml:"redis_host"`
	RedisPort int    `toml:"redis_port"`

	// RedisPassword and RedisDB select the logical database.
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`

	// Queue is the task queue workers poll.
	Queue string `toml:"queue"`

	// DequeueTimeout bounds each blocking dequeue.
	DequeueTimeout Duration `toml:"dequeue_timeout"`

	// HeartbeatInterval is how often workers stamp last_heartbeat. It must
	// be strictly shorter than LivenessTimeout.
	HeartbeatInterval Duration `toml:"heartbeat_interval"`

	// LivenessTimeout is the maximum heartbeat age of an active worker.
	LivenessTimeout Duration `toml:"liveness_timeout"`

	// RecoveryInterval is how often the coordinator re-enqueues tasks held
	// by dead workers.
	RecoveryInterval Duration `toml:"recovery_interval"`

	// RetentionTTL expires finished jobs and their tasks. Zero keeps them
	// until explicit cleanup.
	RetentionTTL Duration `toml:"retention_ttl"`

	// Concurrency is the number of worker goroutines per process.
	Concurrency int `toml:"concurrency"`

	// MaxTasksPerSecond throttles task pulls per process. Zero disables it.
	MaxTasksPerSecond float64 `toml:"max_tasks_per_second"`

	// HTTPAddr is the coordinator API listen address.
	HTTPAddr string `toml:"http_addr"`

	// WorkerPort is advertised in the worker registry.
	WorkerPort int `toml:"worker_port"`
}

// Duration wraps time.Duration so TOML files can use "30s" style values.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("coord: parse duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		RedisHost:         "localhost",
		RedisPort:         6379,
		Queue:             "tasks:pending",
		DequeueTimeout:    Duration{5 * time.Second},
		HeartbeatInterval: Duration{10 * time.Second},
		LivenessTimeout:   Duration{30 * time.Second},
		RecoveryInterval:  Duration{15 * time.Second},
		Concurrency:       1,
		HTTPAddr:          ":8080",
		WorkerPort:        9090,
	}
}

// RedisAddr returns host:port of the backing store.
func (c Config) RedisAddr() string {
	return net.JoinHostPort(c.RedisHost, strconv.Itoa(c.RedisPort))
}

// Validate reports configuration that would break liveness or polling.
func (c Config) Validate() error {
	if c.RedisHost == "" || c.RedisPort <= 0 {
		return fmt.Errorf("%w: redis address %q", ErrInvalidArgument, c.RedisAddr())
	}
	if c.Queue == "" {
		return fmt.Errorf("%w: empty queue name", ErrInvalidArgument)
	}
	if c.DequeueTimeout.Duration < time.Second {
		return fmt.Errorf("%w: dequeue timeout %s below one second", ErrInvalidArgument, c.DequeueTimeout)
	}
	if c.HeartbeatInterval.Duration <= 0 || c.HeartbeatInterval.Duration >= c.LivenessTimeout.Duration {
		return fmt.Errorf("%w: heartbeat interval %s must be positive and shorter than liveness timeout %s",
			ErrInvalidArgument, c.HeartbeatInterval, c.LivenessTimeout)
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("%w: concurrency %d", ErrInvalidArgument, c.Concurrency)
	}
	return nil
}

// LoadConfig reads a TOML file on top of DefaultConfig. An empty path
// returns the defaults. COORD_REDIS_HOST and COORD_REDIS_PORT override the
// file.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("coord: load config %s: %w", path, err)
		}
	}
	if v := os.Getenv("COORD_REDIS_HOST"); v != "" {
		cfg.RedisHost = v
	}
	if v := os.Getenv("COORD_REDIS_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("coord: COORD_REDIS_PORT %q: %w", v, err)
		}
		cfg.RedisPort = port
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
