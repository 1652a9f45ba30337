package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/breatheroute/sensorbridge/internal/output"
	"github.com/breatheroute/sensorbridge/internal/syncerr"
)

// PathEnvVar overrides the config file location.
const PathEnvVar = "CONFIG_PATH"

// DefaultPaths are searched in order when no config file is given.
var DefaultPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/sensorbridge/config.yaml",
}

// envKeys maps environment variables to config keys. Unlisted variables are
// ignored.
var envKeys = map[string]string{
	"APP_ENV":                     "env",
	"STORE_ADDRESS":               "store.address",
	"STORE_COLLECTION_PATH":       "store.collection_path",
	"STORE_TIMEOUT":               "store.timeout",
	"CREDENTIAL_PATH":             "credential.path",
	"OUTPUT_PATH":                 "output.path",
	"OUTPUT_SHEET":                "output.sheet",
	"OUTPUT_WRITE_EMPTY":          "output.write_empty",
	"POLL_INTERVAL":               "sync.poll_interval",
	"POLL_INTERVAL_SECONDS":       "sync.poll_interval",
	"RETRY_ENABLED":               "retry.enabled",
	"RETRY_INITIAL_INTERVAL":      "retry.initial_interval",
	"RETRY_MAX_INTERVAL":          "retry.max_interval",
	"RETRY_MULTIPLIER":            "retry.multiplier",
	"SERVER_ENABLED":              "server.enabled",
	"APP_PORT":                    "server.port",
	"OTEL_ENABLED":                "telemetry.enabled",
	"OTEL_EXPORTER_OTLP_ENDPOINT": "telemetry.otlp_endpoint",
	"LOG_LEVEL":                   "log.level",
	"LOG_FORMAT":                  "log.format",
	"MIRROR_ENABLED":              "mirror.enabled",
	"MIRROR_DSN":                  "mirror.dsn",
	"MIRROR_TABLE":                "mirror.table",
	"NOTIFY_ENABLED":              "notify.enabled",
	"NOTIFY_PROJECT_ID":           "notify.project_id",
	"NOTIFY_TOPIC":                "notify.topic",
	"NOTIFY_SUBSCRIPTION":         "notify.subscription",
}

// secondsKeys accept a bare number, read as seconds.
var secondsKeys = []string{
	"sync.poll_interval",
}

// Load builds the configuration. Layers, lowest precedence first: Default(),
// the YAML file at path (or the first of CONFIG_PATH and DefaultPaths that
// exists), environment variables. The result is validated. Every failure is
// a configuration error.
func Load(path string) (*Config, error) {
	cfg, err := load(path)
	if err != nil {
		return nil, syncerr.Ensure(syncerr.KindConfiguration, "load config", err)
	}
	return cfg, nil
}

func load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path == "" {
		path = findFile()
	} else if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file: %w", err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if err := normalizeSeconds(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func findFile() string {
	if p := os.Getenv(PathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func envTransform(key string) string {
	return envKeys[key]
}

// normalizeSeconds rewrites bare numbers under secondsKeys as durations.
func normalizeSeconds(k *koanf.Koanf) error {
	for _, key := range secondsKeys {
		var seconds float64
		switch v := k.Get(key).(type) {
		case int:
			seconds = float64(v)
		case int64:
			seconds = float64(v)
		case float64:
			seconds = v
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				continue
			}
			seconds = f
		default:
			continue
		}
		if err := k.Set(key, time.Duration(seconds*float64(time.Second))); err != nil {
			return fmt.Errorf("set %s: %w", key, err)
		}
	}
	return nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("koanf"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks field constraints, the output format and the presence of
// the credential file.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return syncerr.WrapWithContext(syncerr.KindConfiguration, "validate config", errors.New(describe(verrs)), map[string]any{
				"fields": len(verrs),
			})
		}
		return syncerr.Wrap(syncerr.KindConfiguration, "validate config", err)
	}

	format, err := output.FormatFromPath(c.Output.Path)
	if err != nil {
		return syncerr.WrapWithContext(syncerr.KindConfiguration, "validate config", err, map[string]any{
			"output.path": c.Output.Path,
		})
	}
	if format == output.FormatXLSX {
		if err := output.ValidateSheetName(c.Output.Sheet); err != nil {
			return syncerr.WrapWithContext(syncerr.KindConfiguration, "validate config",
				fmt.Errorf("output.sheet: %w", err), map[string]any{"output.sheet": c.Output.Sheet})
		}
	}

	info, err := os.Stat(c.Credential.Path)
	switch {
	case err != nil:
		return syncerr.WrapWithContext(syncerr.KindConfiguration, "validate config",
			fmt.Errorf("credential file: %w", err), map[string]any{"credential.path": c.Credential.Path})
	case info.IsDir():
		return syncerr.WrapWithContext(syncerr.KindConfiguration, "validate config",
			fmt.Errorf("credential file %s is a directory", c.Credential.Path), map[string]any{"credential.path": c.Credential.Path})
	}

	return nil
}

// describe renders validation errors as "key: rule" pairs using config keys.
func describe(verrs validator.ValidationErrors) string {
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		key := fe.Namespace()
		if i := strings.IndexByte(key, '.'); i >= 0 {
			key = key[i+1:]
		}
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		msgs = append(msgs, key+": "+rule)
	}
	return strings.Join(msgs, "; ")
}
