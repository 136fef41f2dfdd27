// Package app resolves flags, the config file and the environment into an
// engine configuration.
package app

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/DrSkyle/eviid/pkg/config"
	"github.com/DrSkyle/eviid/pkg/engine"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "EVIID"

// legacyEnv maps config keys to the unprefixed variables older pipelines
// still export.
var legacyEnv = map[string]string{
	"window_sec": "WINDOW_SEC",
	"release":    "RELEASE_ID",
}

// Configure registers defaults and environment bindings on v. It must run
// before flags are bound so flag defaults do not shadow the environment.
func Configure(v *viper.Viper) {
	v.SetDefault("root", ".")
	v.SetDefault("catalog", "traceability/traceability.yaml")
	v.SetDefault("release", config.DefaultRelease)
	v.SetDefault("window_sec", config.DefaultWindowSec)
	v.SetDefault("timestamp_policy", string(config.TimestampNow))
	v.SetDefault("max_windows", config.DefaultMaxWindows)
	v.SetDefault("as_of", "")
	v.SetDefault("publish", "")
	v.SetDefault("json_logs", false)
	v.SetDefault("verbose", false)
	v.SetDefault("otel_endpoint", "")
	v.SetDefault("skip_telemetry", false)
	for _, k := range []string{"evidence_dir", "oscal_dir", "metrics_dir", "bundle_file"} {
		v.SetDefault("layout."+k, "")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		_ = v.BindEnv(key, EnvPrefix+"_"+strings.ToUpper(key), legacy)
	}
}

// LoadConfig turns the resolved settings into an engine configuration.
func LoadConfig(v *viper.Viper) (engine.Config, error) {
	var s config.Settings
	if err := v.Unmarshal(&s); err != nil {
		return engine.Config{}, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}

	root := s.Root
	if root == "" {
		root = "."
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return engine.Config{}, fmt.Errorf("%w: root: %v", config.ErrInvalidConfig, err)
	}

	cfg := engine.DefaultConfig(root)
	cfg.Paths = s.Layout.Apply(cfg.Paths)
	if s.Catalog != "" {
		cfg.CatalogPath = s.Catalog
	}
	if v.IsSet("window_sec") {
		cfg.Window.WindowSec = s.WindowSec
	}
	if v.IsSet("max_windows") {
		cfg.Window.MaxWindows = s.MaxWindows
	}
	if s.TimestampPolicy != "" {
		cfg.Window.TimestampPolicy = config.TimestampPolicy(s.TimestampPolicy)
	}
	if s.AsOf != "" {
		asOf, err := ParseAsOf(s.AsOf)
		if err != nil {
			return engine.Config{}, err
		}
		cfg.AsOf = &asOf
	}
	cfg.Publish = s.Publish
	cfg.JSONLogs = s.JSONLogs
	cfg.Verbose = s.Verbose
	cfg.OtelEndpoint = s.OtelEndpoint
	cfg.SkipTelemetry = s.SkipTelemetry

	if err := cfg.Validate(); err != nil {
		return engine.Config{}, err
	}
	return cfg, nil
}

// Release returns the configured release id.
func Release(v *viper.Viper) (string, error) {
	id := v.GetString("release")
	if err := config.ValidateRelease(id); err != nil {
		return "", err
	}
	return id, nil
}

// ParseAsOf accepts RFC 3339 or integer Unix seconds.
func ParseAsOf(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if sec, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(sec, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: as-of %q is neither RFC 3339 nor Unix seconds", config.ErrInvalidConfig, s)
	}
	return t.UTC(), nil
}
