// Package config loads the bridge configuration from defaults, an optional
// YAML file and environment variables, in increasing order of precedence.
package config

import (
	"time"
)

// Config is the complete bridge configuration.
type Config struct {
	// Env is the deployment environment name.
	Env string `koanf:"env" validate:"required"`

	Store      StoreConfig      `koanf:"store"`
	Credential CredentialConfig `koanf:"credential"`
	Output     OutputConfig     `koanf:"output"`
	Sync       SyncConfig       `koanf:"sync"`
	Retry      RetryConfig      `koanf:"retry"`
	Server     ServerConfig     `koanf:"server"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
	Log        LogConfig        `koanf:"log"`
	Mirror     MirrorConfig     `koanf:"mirror"`
	Notify     NotifyConfig     `koanf:"notify"`
}

// StoreConfig locates the realtime database and the collection to mirror.
type StoreConfig struct {
	Address        string        `koanf:"address" validate:"required,url"`
	CollectionPath string        `koanf:"collection_path" validate:"required,startswith=/"`
	Timeout        time.Duration `koanf:"timeout" validate:"min=1s"`
}

// CredentialConfig points at the service-account key file.
type CredentialConfig struct {
	Path string `koanf:"path" validate:"required"`
}

// OutputConfig describes the snapshot file.
type OutputConfig struct {
	// Path is the output file; .xlsx or .csv.
	Path string `koanf:"path" validate:"required"`

	// Sheet names the worksheet of XLSX output.
	Sheet string `koanf:"sheet" validate:"required,max=31"`

	// WriteEmpty writes a header-only table when the store is empty instead
	// of keeping the previous file.
	WriteEmpty bool `koanf:"write_empty"`
}

// SyncConfig controls the polling cadence.
type SyncConfig struct {
	PollInterval time.Duration `koanf:"poll_interval" validate:"min=1s"`
}

// RetryConfig controls backoff after consecutive failed cycles.
type RetryConfig struct {
	Enabled         bool          `koanf:"enabled"`
	InitialInterval time.Duration `koanf:"initial_interval" validate:"min=1ms"`
	MaxInterval     time.Duration `koanf:"max_interval" validate:"gtefield=InitialInterval"`
	Multiplier      float64       `koanf:"multiplier" validate:"gte=1"`
}

// ServerConfig controls the status server.
type ServerConfig struct {
	Enabled bool `koanf:"enabled"`
	Port    int  `koanf:"port" validate:"min=1,max=65535"`
}

// TelemetryConfig controls OpenTelemetry export.
type TelemetryConfig struct {
	Enabled      bool   `koanf:"enabled"`
	OTLPEndpoint string `koanf:"otlp_endpoint" validate:"required_if=Enabled true"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal panic disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

// MirrorConfig controls the optional Postgres mirror of the latest snapshot.
type MirrorConfig struct {
	Enabled bool   `koanf:"enabled"`
	DSN     string `koanf:"dsn" validate:"required_if=Enabled true"`
	Table   string `koanf:"table" validate:"required,max=63"`
}

// NotifyConfig controls the optional Pub/Sub notification and trigger
// subscription.
type NotifyConfig struct {
	Enabled   bool   `koanf:"enabled"`
	ProjectID string `koanf:"project_id" validate:"required_if=Enabled true,required_with=Subscription"`
	Topic     string `koanf:"topic" validate:"required_if=Enabled true"`

	// Subscription receives sync_now triggers. It works with Enabled false.
	Subscription string `koanf:"subscription"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Env: "development",
		Store: StoreConfig{
			CollectionPath: "/measurements",
			Timeout:        15 * time.Second,
		},
		Credential: CredentialConfig{
			Path: "serviceAccountKey.json",
		},
		Output: OutputConfig{
			Path:  "measurements.xlsx",
			Sheet: "measurements",
		},
		Sync: SyncConfig{
			PollInterval: 60 * time.Second,
		},
		Retry: RetryConfig{
			Enabled:         true,
			InitialInterval: 5 * time.Second,
			MaxInterval:     5 * time.Minute,
			Multiplier:      2,
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8080,
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: "localhost:4317",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Mirror: MirrorConfig{
			Table: "measurement_snapshot",
		},
	}
}
