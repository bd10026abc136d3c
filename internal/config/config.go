// Package config loads datastore settings from defaults, an optional YAML
// file and ISAAC_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"isaac/internal/blob"
	"isaac/pkg/domain"
)

// Config is the full runtime configuration.
type Config struct {
	Storage   StorageConfig `yaml:"storage"`
	Blob      BlobConfig    `yaml:"blob"`
	NATS      NATSConfig    `yaml:"nats"`
	Metrics   MetricsConfig `yaml:"metrics"`
	Workers   int           `yaml:"workers" validate:"min=1,max=256"`
	LogLevel  string        `yaml:"log_level" validate:"oneof=debug info warn error"`
	LogFormat string        `yaml:"log_format" validate:"oneof=text json"`
}

// StorageConfig selects the state store.
type StorageConfig struct {
	Driver      domain.StorageDriver `yaml:"driver" validate:"oneof=memory sqlite postgres badger"`
	SQLitePath  string               `yaml:"sqlite_path" validate:"required_if=Driver sqlite"`
	PostgresDSN string               `yaml:"postgres_dsn" validate:"required_if=Driver postgres"`
	BadgerPath  string               `yaml:"badger_path"`
}

// BlobConfig selects where change-set files are written and read.
type BlobConfig struct {
	blob.Config `yaml:",inline"`
	Prefix      string `yaml:"prefix" validate:"required"`
}

// NATSConfig enables commit notifications when URL is set.
type NATSConfig struct {
	URL     string `yaml:"url" validate:"omitempty,url"`
	Subject string `yaml:"subject" validate:"required"`
}

// MetricsConfig publishes operation counters through expvar when Expvar
// is set.
type MetricsConfig struct {
	Expvar     bool   `yaml:"expvar"`
	ExpvarName string `yaml:"expvar_name" validate:"required_if=Expvar true"`
}

// Default returns the settings used when nothing overrides them.
func Default() Config {
	return Config{
		Storage: StorageConfig{
			Driver:     domain.StorageSQLite,
			SQLitePath: "isaac.db",
		},
		Blob: BlobConfig{
			Config: blob.Config{Driver: blob.DriverFilesystem, FSRoot: "changesets"},
			Prefix: "changesets",
		},
		NATS:      NATSConfig{Subject: "isaac.commits"},
		Metrics:   MetricsConfig{ExpvarName: "isaac_operations"},
		Workers:   4,
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load applies path (when non-empty) and the environment over Default and
// validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	var storage, blobDriver string
	str("ISAAC_STORAGE_DRIVER", &storage)
	if storage != "" {
		c.Storage.Driver = domain.StorageDriver(storage)
	}
	str("ISAAC_SQLITE_PATH", &c.Storage.SQLitePath)
	str("ISAAC_POSTGRES_DSN", &c.Storage.PostgresDSN)
	str("ISAAC_BADGER_PATH", &c.Storage.BadgerPath)

	str("ISAAC_BLOB_DRIVER", &blobDriver)
	if blobDriver != "" {
		c.Blob.Driver = blob.Driver(blobDriver)
	}
	str("ISAAC_BLOB_FS_ROOT", &c.Blob.FSRoot)
	str("ISAAC_BLOB_PREFIX", &c.Blob.Prefix)
	str("ISAAC_BLOB_S3_BUCKET", &c.Blob.S3.Bucket)
	str("ISAAC_BLOB_S3_REGION", &c.Blob.S3.Region)
	str("ISAAC_BLOB_S3_ENDPOINT", &c.Blob.S3.Endpoint)
	str("ISAAC_BLOB_S3_ACCESS_KEY_ID", &c.Blob.S3.AccessKeyID)
	str("ISAAC_BLOB_S3_SECRET_ACCESS_KEY", &c.Blob.S3.SecretAccessKey)
	str("ISAAC_BLOB_S3_SESSION_TOKEN", &c.Blob.S3.SessionToken)
	if v, ok := lookup("ISAAC_BLOB_S3_PATH_STYLE"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("ISAAC_BLOB_S3_PATH_STYLE: %w", err)
		}
		c.Blob.S3.PathStyle = b
	}

	if v, ok := lookup("ISAAC_METRICS_EXPVAR"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("ISAAC_METRICS_EXPVAR: %w", err)
		}
		c.Metrics.Expvar = b
	}
	str("ISAAC_METRICS_EXPVAR_NAME", &c.Metrics.ExpvarName)

	str("ISAAC_NATS_URL", &c.NATS.URL)
	str("ISAAC_NATS_SUBJECT", &c.NATS.Subject)
	if v, ok := lookup("ISAAC_WORKERS"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("ISAAC_WORKERS: %w", err)
		}
		c.Workers = n
	}
	str("ISAAC_LOG_LEVEL", &c.LogLevel)
	c.LogLevel = strings.ToLower(c.LogLevel)
	str("ISAAC_LOG_FORMAT", &c.LogFormat)
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints, including the S3 settings when S3 is
// the selected blob driver.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %s", domain.ErrInvalidArgument, describe(err))
	}
	if c.Blob.Driver == blob.DriverS3 {
		if err := validate.Struct(c.Blob.S3); err != nil {
			return fmt.Errorf("%w: blob.s3: %s", domain.ErrInvalidArgument, describe(err))
		}
	}
	return nil
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s failed %s=%s", field, fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s failed %s", field, fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}

// SlogLevel maps LogLevel onto slog.
func (c Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
