package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. ORTHOFLOW_DATABASE_URL.
const EnvPrefix = "ORTHOFLOW"

var tablePrefixPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*_$`)

// defaults lists every known key. Keys without a meaningful default are
// registered with a zero value so environment variables can populate them.
var defaults = map[string]any{
	"server.port":               8080,
	"server.log_level":          "info",
	"database.url":              "",
	"database.table_prefix":     "v1_",
	"database.max_open_conns":   25,
	"database.max_idle_conns":   25,
	"auth.jwt_secret":           "",
	"auth.token_lifetime":       time.Hour,
	"auth.processor_user_id":    "",
	"storage.base_dir":          "/data",
	"storage.processing_dir":    "/data/processing",
	"remote.driver":             "sftp",
	"remote.host":               "",
	"remote.port":               22,
	"remote.user":               "",
	"remote.key_path":           "",
	"remote.passphrase":         "",
	"remote.known_hosts":        "",
	"remote.data_root":          "/data",
	"remote.local_root":         "",
	"scheduler.concurrency":     2,
	"scheduler.poll_interval":   60 * time.Second,
	"scheduler.stale_claim_age": 6 * time.Hour,
	"scheduler.embedded":        false,
	"scheduler.metrics_port":    9102,
	"tools.gdalwarp":            "gdalwarp",
	"tools.gdal_translate":      "gdal_translate",
	"tools.gdalinfo":            "gdalinfo",
	"tools.gdaltransform":       "gdaltransform",
	"tools.segmentation":        "",
	"tools.threads":             "ALL_CPUS",
	"dev_mode":                  false,
}

// Load configuration from environment variables and optionally config files.
// .env files are read first, then an optional config.yaml in the working
// directory; environment variables take precedence over both.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	if err := loadEnvFiles(); err != nil {
		return nil, err
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cfg against its struct tags.
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.RegisterValidation("tableprefix", func(fl validator.FieldLevel) bool {
		return tablePrefixPattern.MatchString(fl.Field().String())
	}); err != nil {
		return fmt.Errorf("failed to register validation: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// loadEnvFiles loads .env, then .env.<ORTHOFLOW_ENV>, then .env.local. Later
// files override earlier ones; variables already set in the process win over .env.
func loadEnvFiles() error {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return fmt.Errorf("failed to load .env: %w", err)
		}
	}

	if env := os.Getenv(EnvPrefix + "_ENV"); env != "" {
		envFile := ".env." + env
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Overload(envFile); err != nil {
				return fmt.Errorf("failed to load %s: %w", envFile, err)
			}
		}
	}

	if _, err := os.Stat(".env.local"); err == nil {
		if err := godotenv.Overload(".env.local"); err != nil {
			return fmt.Errorf("failed to load .env.local: %w", err)
		}
	}
	return nil
}
