// Package config loads budgetstore settings from YAML, environment and defaults
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the complete server configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Journal JournalConfig `yaml:"journal"`
	Log     LogConfig     `yaml:"log"`
	Engine  EngineConfig  `yaml:"engine"`
}

type ServerConfig struct {
	GRPCPort    int `yaml:"grpc_port" validate:"min=1,max=65535"`
	MetricsPort int `yaml:"metrics_port" validate:"min=1,max=65535,nefield=GRPCPort"`
}

type StorageConfig struct {
	Path       string        `yaml:"path" validate:"required_unless=InMemory true"`
	InMemory   bool          `yaml:"in_memory"`
	SyncWrites bool          `yaml:"sync_writes"`
	GCInterval time.Duration `yaml:"gc_interval" validate:"gte=0"`
}

type JournalConfig struct {
	Path        string `yaml:"path" validate:"required"`
	MaxFileSize int64  `yaml:"max_file_size" validate:"gte=0"`
	SyncWrites  bool   `yaml:"sync_writes"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Pretty bool   `yaml:"pretty"`
}

// EngineConfig tunes reconstruction and session behavior
type EngineConfig struct {
	SeverityThreshold float64       `yaml:"severity_threshold" validate:"gt=0,lte=1"`
	PriceFloorRatio   float64       `yaml:"price_floor_ratio" validate:"gte=0,lt=1"`
	SessionTimeout    time.Duration `yaml:"session_timeout" validate:"gt=0"`
	SweepInterval     time.Duration `yaml:"sweep_interval" validate:"gt=0"`
	FeedConcurrency   int           `yaml:"feed_concurrency" validate:"min=1"`
	FeedRatePerSecond float64       `yaml:"feed_rate_per_second" validate:"gte=0"`
	FeedBurst         int           `yaml:"feed_burst" validate:"min=1"`
}

var validate = validator.New()

// DefaultConfig returns the settings used when nothing else is given
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			GRPCPort:    50051,
			MetricsPort: 9090,
		},
		Storage: StorageConfig{
			Path:       "./budgetstore.db",
			GCInterval: 10 * time.Minute,
		},
		Journal: JournalConfig{
			Path:        "./budgetstore.journal",
			MaxFileSize: 64 * 1024 * 1024,
		},
		Log: LogConfig{
			Level: "info",
		},
		Engine: EngineConfig{
			SeverityThreshold: 0.7,
			PriceFloorRatio:   0.05,
			SessionTimeout:    30 * time.Minute,
			SweepInterval:     time.Minute,
			FeedConcurrency:   4,
			FeedRatePerSecond: 0,
			FeedBurst:         1,
		},
	}
}

// Load reads path (if non-empty) over the defaults, applies BUDGETSTORE_*
// environment overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every section against its struct tags
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			first := verrs[0]
			return fmt.Errorf("invalid config: %s failed on %q", first.Namespace(), first.Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

type lookupFunc func(string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) error {
	ints := map[string]*int{
		"BUDGETSTORE_GRPC_PORT":        &cfg.Server.GRPCPort,
		"BUDGETSTORE_METRICS_PORT":     &cfg.Server.MetricsPort,
		"BUDGETSTORE_FEED_CONCURRENCY": &cfg.Engine.FeedConcurrency,
	}
	for key, dst := range ints {
		if v, ok := lookup(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", key, err)
			}
			*dst = n
		}
	}

	strs := map[string]*string{
		"BUDGETSTORE_DB_PATH":      &cfg.Storage.Path,
		"BUDGETSTORE_JOURNAL_PATH": &cfg.Journal.Path,
		"BUDGETSTORE_LOG_LEVEL":    &cfg.Log.Level,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}

	bools := map[string]*bool{
		"BUDGETSTORE_IN_MEMORY":  &cfg.Storage.InMemory,
		"BUDGETSTORE_LOG_PRETTY": &cfg.Log.Pretty,
	}
	for key, dst := range bools {
		if v, ok := lookup(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", key, err)
			}
			*dst = b
		}
	}

	if v, ok := lookup("BUDGETSTORE_SESSION_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid BUDGETSTORE_SESSION_TIMEOUT: %w", err)
		}
		cfg.Engine.SessionTimeout = d
	}
	return nil
}
