// Package config loads petri settings from defaults, an optional petri.toml or
// petri.yaml file and PETRI_* environment variables, in that precedence order.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces every environment override (PETRI_STORAGE_DRIVER, ...).
const EnvPrefix = "PETRI"

// Config is the full runtime configuration.
type Config struct {
	API     APIConfig     `mapstructure:"api"`
	Storage StorageConfig `mapstructure:"storage"`
	Blob    BlobConfig    `mapstructure:"blob"`
	Log     LogConfig     `mapstructure:"log"`
}

// APIConfig configures the remote tree service client.
type APIConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	RateLimit float64       `mapstructure:"rate_limit"` // requests per second, 0 disables
}

// StorageConfig selects the key-value backend for overlays and session.
type StorageConfig struct {
	Driver        string `mapstructure:"driver"`
	SQLitePath    string `mapstructure:"sqlite_path"`
	PostgresDSN   string `mapstructure:"postgres_dsn"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	RedisPrefix   string `mapstructure:"redis_prefix"`
	BadgerPath    string `mapstructure:"badger_path"`
}

// BlobConfig selects the photo blob backend.
type BlobConfig struct {
	Driver      string `mapstructure:"driver"`
	FSRoot      string `mapstructure:"fs_root"`
	S3Bucket    string `mapstructure:"s3_bucket"`
	S3Region    string `mapstructure:"s3_region"`
	S3Endpoint  string `mapstructure:"s3_endpoint"`
	S3PathStyle bool   `mapstructure:"s3_path_style"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	JSON  bool   `mapstructure:"json"`
	Level string `mapstructure:"level"`
}

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("api.base_url", "http://localhost:8000/api")
	v.SetDefault("api.timeout", 15*time.Second)
	v.SetDefault("api.rate_limit", 0.0)

	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.sqlite_path", defaultDataPath("petri.db"))
	v.SetDefault("storage.postgres_dsn", "")
	v.SetDefault("storage.redis_addr", "localhost:6379")
	v.SetDefault("storage.redis_password", "")
	v.SetDefault("storage.redis_db", 0)
	v.SetDefault("storage.redis_prefix", "petri:")
	v.SetDefault("storage.badger_path", defaultDataPath("badger"))

	v.SetDefault("blob.driver", "fs")
	v.SetDefault("blob.fs_root", defaultDataPath("photos"))
	v.SetDefault("blob.s3_bucket", "")
	v.SetDefault("blob.s3_region", "us-east-1")
	v.SetDefault("blob.s3_endpoint", "")
	v.SetDefault("blob.s3_path_style", false)

	v.SetDefault("log.json", false)
	v.SetDefault("log.level", "info")
}

// NewViper returns a viper instance bound to PETRI_* variables with defaults applied.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// Load reads configuration. An explicit path must exist; without one, petri.toml
// or petri.yaml is looked up in the working directory and the user config dir.
func Load(path string) (*Config, error) {
	v := NewViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config file %s", path)
		}
	} else {
		v.SetConfigName("petri")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "petri"))
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, errors.Wrap(err, "read config")
			}
		}
	}
	return LoadWithViper(v)
}

// LoadWithViper unmarshals and validates configuration from v.
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var (
	storageDrivers = map[string]bool{"memory": true, "sqlite": true, "postgres": true, "redis": true, "badger": true}
	blobDrivers    = map[string]bool{"fs": true, "s3": true, "memory": true}
)

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errors.WithHint(errors.Newf("invalid api.base_url %q", c.API.BaseURL), "use an absolute URL such as http://localhost:8000/api")
	}
	if c.API.Timeout < 0 {
		return errors.Newf("api.timeout must not be negative")
	}
	if c.API.RateLimit < 0 {
		return errors.Newf("api.rate_limit must not be negative")
	}
	if !storageDrivers[c.Storage.Driver] {
		return errors.WithHint(errors.Newf("unknown storage driver %q", c.Storage.Driver), "use memory, sqlite, postgres, redis or badger")
	}
	if !blobDrivers[c.Blob.Driver] {
		return errors.WithHint(errors.Newf("unknown blob driver %q", c.Blob.Driver), "use fs, s3 or memory")
	}
	if c.Blob.Driver == "s3" && c.Blob.S3Bucket == "" {
		return fmt.Errorf("blob.s3_bucket required for s3 driver")
	}
	return nil
}

func defaultDataPath(name string) string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "petri", name)
	}
	return name
}
