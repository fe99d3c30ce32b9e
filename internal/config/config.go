// Package config loads process configuration with viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jdziat/jobflow/pkg/consumer"
	"github.com/jdziat/jobflow/pkg/queue"
	"github.com/jdziat/jobflow/pkg/storage"
)

// EnvPrefix prefixes environment overrides, e.g. JOBFLOW_DATABASE_DSN.
const EnvPrefix = "JOBFLOW"

// Config is the full process configuration.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Consumer  ConsumerConfig  `mapstructure:"consumer"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// DatabaseConfig selects the storage backend.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
	// Pool fields left at zero take the driver default.
	Pool storage.PoolConfig `mapstructure:"pool"`
}

// WorkerConfig configures the job worker.
type WorkerConfig struct {
	ID                string         `mapstructure:"id"`
	Queues            map[string]int `mapstructure:"queues"`
	PollInterval      time.Duration  `mapstructure:"poll_interval"`
	JobTimeout        time.Duration  `mapstructure:"job_timeout"`
	HeartbeatInterval time.Duration  `mapstructure:"heartbeat_interval"`
	StaleLockAfter    time.Duration  `mapstructure:"stale_lock_after"`
	Scheduler         bool           `mapstructure:"scheduler"`
}

// ConsumerConfig configures job dispatch.
type ConsumerConfig struct {
	MissPolicy string `mapstructure:"miss_policy"`
}

// SchedulerConfig configures run bookkeeping.
type SchedulerConfig struct {
	// TaskQueue receives every graph task job. It must be a worker queue.
	TaskQueue string `mapstructure:"task_queue"`
	RunRetention  time.Duration `mapstructure:"run_retention"`
	PruneInterval time.Duration `mapstructure:"prune_interval"`
}

// LoggingConfig contains logging-related configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from configPath. If configPath is empty it looks
// for jobflow.yaml in ./config and the working directory, and a missing file
// is not an error. Environment variables with the JOBFLOW_ prefix override
// file values.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "jobflow.db")
	v.SetDefault("database.pool.max_open_conns", 0)
	v.SetDefault("database.pool.max_idle_conns", 0)
	v.SetDefault("database.pool.conn_max_lifetime", 0)
	v.SetDefault("database.pool.conn_max_idle_time", 0)
	v.SetDefault("worker.id", "")
	v.SetDefault("worker.poll_interval", 100*time.Millisecond)
	v.SetDefault("worker.job_timeout", 0)
	v.SetDefault("worker.heartbeat_interval", time.Minute)
	v.SetDefault("worker.stale_lock_after", 10*time.Minute)
	v.SetDefault("worker.scheduler", false)
	v.SetDefault("consumer.miss_policy", "fail")
	v.SetDefault("scheduler.task_queue", queue.DefaultQueue)
	v.SetDefault("scheduler.run_retention", time.Hour)
	v.SetDefault("scheduler.prune_interval", time.Minute)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("jobflow")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	// Map defaults would be merged key by key with the file, so the default
	// queue is applied only when none is configured.
	if len(cfg.Worker.Queues) == 0 {
		cfg.Worker.Queues = map[string]int{queue.DefaultQueue: 10}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values viper cannot type-check.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case storage.DriverSQLite, storage.DriverPostgres:
	default:
		return fmt.Errorf("config: unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.New("config: database.dsn is required")
	}
	if len(c.Worker.Queues) == 0 {
		return errors.New("config: worker.queues must name at least one queue")
	}
	if _, ok := c.Worker.Queues[c.Scheduler.TaskQueue]; !ok {
		return fmt.Errorf("config: scheduler.task_queue %q is not among worker.queues", c.Scheduler.TaskQueue)
	}
	if _, ok := consumer.ParseMissPolicy(c.Consumer.MissPolicy); !ok {
		return fmt.Errorf("config: unknown consumer.miss_policy %q", c.Consumer.MissPolicy)
	}
	return nil
}

// MissPolicy returns the parsed consumer miss policy.
func (c *Config) MissPolicy() consumer.MissPolicy {
	p, _ := consumer.ParseMissPolicy(c.Consumer.MissPolicy)
	return p
}
