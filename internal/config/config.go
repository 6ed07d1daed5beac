package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/example/sourced-repo/internal/repository"
)

const envPrefix = "SOURCED_"

// Storage backends
const (
	BackendMemory   = "memory"
	BackendDynamoDB = "dynamodb"
	BackendPostgres = "postgres"
)

// Config is the configuration shared by the binaries.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Log        LogConfig        `koanf:"log"`
	Storage    StorageConfig    `koanf:"storage"`
	DynamoDB   DynamoDBConfig   `koanf:"dynamodb"`
	Postgres   PostgresConfig   `koanf:"postgres"`
	Repository RepositoryConfig `koanf:"repository"`
	Kafka      KafkaConfig      `koanf:"kafka"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
}

type ServerConfig struct {
	Addr string `koanf:"addr"`
	Mode string `koanf:"mode"` // debug | release
}

type LogConfig struct {
	Level string `koanf:"level"` // debug | info | warn | error
}

type StorageConfig struct {
	Backend      string `koanf:"backend"`
	TablePrefix  string `koanf:"table_prefix"`
	EnsureSchema bool   `koanf:"ensure_schema"` // postgres only
}

type DynamoDBConfig struct {
	Region   string `koanf:"region"`
	Endpoint string `koanf:"endpoint"` // e.g. DynamoDB Local
}

type PostgresConfig struct {
	DSN string `koanf:"dsn"`
}

type RepositoryConfig struct {
	SnapshotFrequency int  `koanf:"snapshot_frequency"`
	AppendConcurrency int  `koanf:"append_concurrency"`
	ConditionalAppend bool `koanf:"conditional_append"`
}

// KafkaConfig is optional; notifications are only relayed when brokers are set.
type KafkaConfig struct {
	Brokers []string `koanf:"brokers"`
	Topic   string   `koanf:"topic"`
	GroupID string   `koanf:"group_id"`
}

type TelemetryConfig struct {
	Stdout      bool   `koanf:"stdout"`
	ServiceName string `koanf:"service_name"`
}

// Enabled reports whether a Kafka cluster is configured
func (c KafkaConfig) Enabled() bool {
	return len(c.Brokers) > 0
}

// Options translates the repository settings into repository options
func (c RepositoryConfig) Options(logger *slog.Logger) []repository.Option {
	opts := []repository.Option{
		repository.WithSnapshotFrequency(c.SnapshotFrequency),
		repository.WithAppendConcurrency(c.AppendConcurrency),
		repository.WithLogger(logger),
	}
	if c.ConditionalAppend {
		opts = append(opts, repository.WithConditionalAppend())
	}
	return opts
}

// SlogLevel parses the configured log level
func (c LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		return 0, fmt.Errorf("invalid log.level %q: %w", c.Level, err)
	}
	return level, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.Addr) == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Server.Mode != "debug" && c.Server.Mode != "release" {
		return fmt.Errorf("invalid server.mode %q (must be debug or release)", c.Server.Mode)
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}

	switch c.Storage.Backend {
	case BackendMemory:
	case BackendDynamoDB:
		if strings.TrimSpace(c.DynamoDB.Region) == "" {
			return fmt.Errorf("dynamodb.region is required for the dynamodb backend")
		}
	case BackendPostgres:
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			return fmt.Errorf("postgres.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unsupported storage.backend %q (must be memory, dynamodb or postgres)", c.Storage.Backend)
	}

	if c.Repository.SnapshotFrequency <= 0 {
		return fmt.Errorf("repository.snapshot_frequency must be > 0")
	}
	if c.Repository.AppendConcurrency < 0 {
		return fmt.Errorf("repository.append_concurrency must be >= 0")
	}

	if c.Kafka.Enabled() && strings.TrimSpace(c.Kafka.Topic) == "" {
		return fmt.Errorf("kafka.topic is required when kafka.brokers is set")
	}
	if strings.TrimSpace(c.Telemetry.ServiceName) == "" {
		return fmt.Errorf("telemetry.service_name is required")
	}
	return nil
}

// Load reads defaults, then the optional YAML file, then SOURCED_ environment
// variables, and validates the result.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"server.addr":                   ":8080",
		"server.mode":                   "release",
		"log.level":                     "info",
		"storage.backend":               BackendMemory,
		"storage.table_prefix":          "",
		"storage.ensure_schema":         true,
		"dynamodb.region":               "us-east-1",
		"dynamodb.endpoint":             "",
		"postgres.dsn":                  "",
		"repository.snapshot_frequency": 10,
		"repository.append_concurrency": 0,
		"repository.conditional_append": false,
		"kafka.brokers":                 []string{},
		"kafka.topic":                   "entity-notifications",
		"kafka.group_id":                "notifier",
		"telemetry.stdout":              false,
		"telemetry.service_name":        "sourced-repo",
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// SOURCED_STORAGE__BACKEND=postgres overrides storage.backend
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
