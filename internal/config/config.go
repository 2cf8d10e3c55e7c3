package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" validate:"required"`
	Database  DatabaseConfig  `mapstructure:"database" validate:"required"`
	Auth      AuthConfig      `mapstructure:"auth" validate:"required"`
	Storage   StorageConfig   `mapstructure:"storage" validate:"required"`
	Remote    RemoteConfig    `mapstructure:"remote" validate:"required"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" validate:"required"`
	Tools     ToolsConfig     `mapstructure:"tools" validate:"required"`

	// DevMode keeps scratch directories and turns remote pushes into no-ops.
	DevMode bool `mapstructure:"dev_mode"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required,url"`
	// TablePrefix selects the environment-scoped table set, e.g. "v1_" or "dev_".
	TablePrefix  string `mapstructure:"table_prefix" validate:"tableprefix"`
	MaxOpenConns int    `mapstructure:"max_open_conns" validate:"gte=1"`
	MaxIdleConns int    `mapstructure:"max_idle_conns" validate:"gte=0"`
}

// AuthConfig contains all authentication and authorization settings.
type AuthConfig struct {
	JWTSecret     string        `mapstructure:"jwt_secret" validate:"required,min=32"`
	TokenLifetime time.Duration `mapstructure:"token_lifetime" validate:"gt=0"`
	// ProcessorUserID is the identity the worker authenticates as.
	ProcessorUserID string `mapstructure:"processor_user_id" validate:"required,uuid"`
}

// StorageConfig locates the local working directories.
type StorageConfig struct {
	// BaseDir holds the local archive copy of every dataset.
	BaseDir string `mapstructure:"base_dir" validate:"required"`
	// ProcessingDir holds per-task scratch directories.
	ProcessingDir string `mapstructure:"processing_dir" validate:"required"`
}

// RemoteConfig describes the remote object store.
type RemoteConfig struct {
	Driver     string `mapstructure:"driver" validate:"required,oneof=sftp local"`
	Host       string `mapstructure:"host" validate:"required_if=Driver sftp"`
	Port       int    `mapstructure:"port" validate:"gt=0,lt=65536"`
	User       string `mapstructure:"user" validate:"required_if=Driver sftp"`
	KeyPath    string `mapstructure:"key_path" validate:"required_if=Driver sftp"`
	Passphrase string `mapstructure:"passphrase"`
	// KnownHosts is a known_hosts file. Host keys are not verified when empty.
	KnownHosts string `mapstructure:"known_hosts"`
	// DataRoot is the remote directory containing archive/, cogs/ and thumbnails/.
	DataRoot string `mapstructure:"data_root" validate:"required"`
	// LocalRoot is the mount point used by the local driver.
	LocalRoot string `mapstructure:"local_root" validate:"required_if=Driver local"`
}

// SchedulerConfig tunes the processing loop.
type SchedulerConfig struct {
	Concurrency   int           `mapstructure:"concurrency" validate:"gte=1"`
	PollInterval  time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	StaleClaimAge time.Duration `mapstructure:"stale_claim_age" validate:"gt=0"`
	// Embedded runs the scheduler inside the HTTP server process.
	Embedded bool `mapstructure:"embedded"`
	// MetricsPort is where the standalone processor serves /metrics.
	// Zero disables the listener.
	MetricsPort int `mapstructure:"metrics_port" validate:"gte=0,lte=65535"`
}

// ToolsConfig names the external raster tools.
type ToolsConfig struct {
	Gdalwarp      string `mapstructure:"gdalwarp" validate:"required"`
	GdalTranslate string `mapstructure:"gdal_translate" validate:"required"`
	Gdalinfo      string `mapstructure:"gdalinfo" validate:"required"`
	Gdaltransform string `mapstructure:"gdaltransform" validate:"required"`
	// Segmentation is a command line with {input} and {output} placeholders.
	// Segmentation tasks fail when it is empty.
	Segmentation string `mapstructure:"segmentation"`
	// Threads is passed to the converters as NUM_THREADS.
	Threads string `mapstructure:"threads" validate:"required"`
}
