/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/lucasb-eyer/go-colorful"
	gojsonschema "github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"wallnewspaper/internal/orientation"
)

// AppConfig is the user-editable configuration persisted to a YAML file in the user scope.
// Environment variables are treated as read-only overrides at runtime.
// The replication token is never written to the file; it lives in the OS keychain.

type NewspaperConfig struct {
	URL      string `yaml:"url"`
	Instance string `yaml:"instance"`
}

// CalibrationConfig is one calibration point; Color is "#rrggbb".
type CalibrationConfig struct {
	X     int    `yaml:"x"`
	Y     int    `yaml:"y"`
	Color string `yaml:"color"`
}

type OrientationConfig struct {
	Runtime     string              `yaml:"runtime"` // "auto" | "true" | "false"
	Window      int                 `yaml:"window"`
	Threshold   int                 `yaml:"threshold"`
	Calibration []CalibrationConfig `yaml:"calibration"`
}

type ReplicationConfig struct {
	Mode              string `yaml:"mode"` // "local" | "remote"
	BaseURL           string `yaml:"base_url"`
	TimeoutMs         int    `yaml:"timeout_ms"`
	PollMs            int    `yaml:"poll_ms"`
	PublishIntervalMs int    `yaml:"publish_interval_ms"`
}

type CacheConfig struct {
	Disabled bool   `yaml:"disabled"`
	Path     string `yaml:"path"`
	MaxBytes int64  `yaml:"max_bytes"`
}

type TelemetryConfig struct {
	OptIn     bool   `yaml:"opt_in"`
	EventsURL string `yaml:"events_url"`
	CrashURL  string `yaml:"crash_url"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Source bool   `yaml:"source"`
	File   string `yaml:"file"`
}

type AppConfig struct {
	ConfigVersion int               `yaml:"config_version"`
	Newspaper     NewspaperConfig   `yaml:"newspaper"`
	Orientation   OrientationConfig `yaml:"orientation"`
	Replication   ReplicationConfig `yaml:"replication"`
	Cache         CacheConfig       `yaml:"cache"`
	Telemetry     TelemetryConfig   `yaml:"telemetry"`
	Logging       LoggingConfig     `yaml:"logging"`
}

// Defaults returns the application defaults.
func Defaults() AppConfig {
	return AppConfig{
		ConfigVersion: 1,
		Newspaper:     NewspaperConfig{Instance: "default"},
		Orientation: OrientationConfig{
			Runtime:   "auto",
			Window:    orientation.DefaultWindow,
			Threshold: orientation.DefaultThreshold,
		},
		Replication: ReplicationConfig{Mode: "local", BaseURL: "http://localhost:8080", TimeoutMs: 15000, PollMs: 1000, PublishIntervalMs: 500},
		Cache:       CacheConfig{MaxBytes: 64 * 1024 * 1024},
		Logging:     LoggingConfig{Level: "info", Format: "console"},
	}
}

// Env var names used as overrides.
const (
	EnvNewspaperURL       = "WNP_NEWSPAPER_URL"
	EnvInstance           = "WNP_INSTANCE"
	EnvOrientationRuntime = "WNP_ORIENTATION_RUNTIME"
	EnvReplicationMode    = "WNP_REPLICATION_MODE"
	EnvBackendURL         = "WNP_BACKEND_URL"
	EnvBackendTimeoutMs   = "WNP_BACKEND_TIMEOUT_MS"
	EnvCachePath          = "WNP_CACHE_PATH"
	EnvCacheMaxBytes      = "WNP_CACHE_MAX_BYTES"
	EnvTelemetryOptIn     = "WNP_TELEMETRY_OPT_IN"
	EnvLogLevel           = "WNP_LOG_LEVEL"
	EnvLogFormat          = "WNP_LOG_FORMAT"
	EnvLogSource          = "WNP_LOG_SOURCE"
	EnvLogFile            = "WNP_LOG_FILE"
)

var envKeys = map[string]string{
	"newspaper.url":          EnvNewspaperURL,
	"newspaper.instance":     EnvInstance,
	"orientation.runtime":    EnvOrientationRuntime,
	"replication.mode":       EnvReplicationMode,
	"replication.base_url":   EnvBackendURL,
	"replication.timeout_ms": EnvBackendTimeoutMs,
	"cache.path":             EnvCachePath,
	"cache.max_bytes":        EnvCacheMaxBytes,
	"telemetry.opt_in":       EnvTelemetryOptIn,
	"logging.level":          EnvLogLevel,
	"logging.format":         EnvLogFormat,
	"logging.source":         EnvLogSource,
	"logging.file":           EnvLogFile,
}

//go:embed schema.json
var schemaJSON []byte

// ConfigPath returns the per-user config file path.
func ConfigPath() (string, error) {
	var base string
	switch runtime.GOOS {
	case "windows":
		base = os.Getenv("AppData")
		if base == "" {
			base = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		base = filepath.Join(base, "WallNewspaper")
	case "darwin":
		base = filepath.Join(os.Getenv("HOME"), "Library", "Application Support", "WallNewspaper")
	default:
		home := os.Getenv("HOME")
		if home == "" {
			return "", errors.New("cannot resolve config directory")
		}
		base = filepath.Join(home, ".config", "wallnewspaper")
	}
	return filepath.Join(base, "config.yaml"), nil
}

// Load reads the user config file (if present), applies defaults, merges
// environment overrides and validates the result. The replication token is
// read from the keychain and returned separately.
func Load() (AppConfig, string, error) {
	path, err := ConfigPath()
	if err != nil {
		return Defaults(), "", err
	}
	cfg, err := LoadFile(path)
	if err != nil {
		return cfg, "", err
	}
	tok, _ := tokenStore.Get(keyringService, keyringToken)
	return cfg, tok, nil
}

// LoadFile is Load for an explicit path. A missing file yields the defaults.
func LoadFile(path string) (AppConfig, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return cfg, fmt.Errorf("read config: %w", err)
	default:
		if err := validateDocument(data); err != nil {
			return cfg, fmt.Errorf("%s: %w", path, err)
		}
		var fileCfg AppConfig
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
		mergeInto(&cfg, &fileCfg)
	}
	applyEnvOverrides(&cfg)
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Save writes the user config YAML and persists the token into the OS keyring (if non-empty).
func Save(cfg AppConfig, token string) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := SaveFile(path, cfg); err != nil {
		return err
	}
	if token != "" {
		if err := tokenStore.Set(keyringService, keyringToken, token); err != nil {
			return fmt.Errorf("store token: %w", err)
		}
	}
	return nil
}

// SaveFile validates cfg and writes it to path.
func SaveFile(path string, cfg AppConfig) error {
	if err := Validate(cfg); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// Validate checks cfg against the embedded JSON schema and parses its calibration colors.
func Validate(cfg AppConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := validateDocument(data); err != nil {
		return err
	}
	_, err = cfg.Orientation.CalibrationPoints()
	return err
}

func validateDocument(yamlDoc []byte) error {
	var doc map[string]any
	if err := yaml.Unmarshal(yamlDoc, &doc); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	if doc == nil {
		return nil
	}
	res, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(schemaJSON), gojsonschema.NewGoLoader(doc))
	if err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	if res.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// CalibrationPoints converts the configured points, falling back to the
// compiled-in defaults when none are configured.
func (o OrientationConfig) CalibrationPoints() ([]orientation.CalibrationPoint, error) {
	if len(o.Calibration) == 0 {
		return orientation.DefaultCalibration, nil
	}
	out := make([]orientation.CalibrationPoint, 0, len(o.Calibration))
	for i, c := range o.Calibration {
		hex := c.Color
		if !strings.HasPrefix(hex, "#") {
			hex = "#" + hex
		}
		col, err := colorful.Hex(hex)
		if err != nil {
			return nil, fmt.Errorf("calibration[%d]: %w", i, err)
		}
		r, g, b := col.RGB255()
		out = append(out, orientation.CalibrationPoint{X: c.X, Y: c.Y, Expected: orientation.RGB{R: r, G: g, B: b}})
	}
	return out, nil
}

// Affected resolves the runtime mode to the capability flag.
func (o OrientationConfig) Affected() bool { return orientation.AffectedRuntime(o.Runtime) }

func (r ReplicationConfig) Timeout() time.Duration {
	return msOr(r.TimeoutMs, Defaults().Replication.TimeoutMs)
}

func (r ReplicationConfig) PollInterval() time.Duration {
	return msOr(r.PollMs, Defaults().Replication.PollMs)
}

func (r ReplicationConfig) PublishInterval() time.Duration {
	return msOr(r.PublishIntervalMs, Defaults().Replication.PublishIntervalMs)
}

func msOr(v, def int) time.Duration {
	if v <= 0 {
		v = def
	}
	return time.Duration(v) * time.Millisecond
}

func mergeInto(dst *AppConfig, src *AppConfig) {
	if src.ConfigVersion != 0 {
		dst.ConfigVersion = src.ConfigVersion
	}
	setStr(&dst.Newspaper.URL, src.Newspaper.URL)
	setStr(&dst.Newspaper.Instance, src.Newspaper.Instance)

	setStr(&dst.Orientation.Runtime, strings.ToLower(src.Orientation.Runtime))
	setInt(&dst.Orientation.Window, src.Orientation.Window)
	setInt(&dst.Orientation.Threshold, src.Orientation.Threshold)
	if len(src.Orientation.Calibration) > 0 {
		dst.Orientation.Calibration = append([]CalibrationConfig(nil), src.Orientation.Calibration...)
	}

	setStr(&dst.Replication.Mode, strings.ToLower(src.Replication.Mode))
	setStr(&dst.Replication.BaseURL, src.Replication.BaseURL)
	setInt(&dst.Replication.TimeoutMs, src.Replication.TimeoutMs)
	setInt(&dst.Replication.PollMs, src.Replication.PollMs)
	setInt(&dst.Replication.PublishIntervalMs, src.Replication.PublishIntervalMs)

	// booleans: copy directly from the file so user preferences persist
	dst.Cache.Disabled = src.Cache.Disabled
	setStr(&dst.Cache.Path, src.Cache.Path)
	if src.Cache.MaxBytes > 0 {
		dst.Cache.MaxBytes = src.Cache.MaxBytes
	}

	dst.Telemetry.OptIn = src.Telemetry.OptIn
	setStr(&dst.Telemetry.EventsURL, src.Telemetry.EventsURL)
	setStr(&dst.Telemetry.CrashURL, src.Telemetry.CrashURL)

	setStr(&dst.Logging.Level, strings.ToLower(src.Logging.Level))
	setStr(&dst.Logging.Format, strings.ToLower(src.Logging.Format))
	dst.Logging.Source = src.Logging.Source
	setStr(&dst.Logging.File, src.Logging.File)
}

func setStr(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func parseBool(v string) bool {
	lv := strings.ToLower(strings.TrimSpace(v))
	return lv == "1" || lv == "true" || lv == "on" || lv == "yes"
}

func applyEnvOverrides(cfg *AppConfig) {
	env := func(k string) string { return strings.TrimSpace(os.Getenv(k)) }

	setStr(&cfg.Newspaper.URL, env(EnvNewspaperURL))
	setStr(&cfg.Newspaper.Instance, env(EnvInstance))
	setStr(&cfg.Orientation.Runtime, strings.ToLower(env(EnvOrientationRuntime)))
	setStr(&cfg.Replication.Mode, strings.ToLower(env(EnvReplicationMode)))
	setStr(&cfg.Replication.BaseURL, env(EnvBackendURL))
	if n, err := strconv.Atoi(env(EnvBackendTimeoutMs)); err == nil {
		cfg.Replication.TimeoutMs = n
	}
	setStr(&cfg.Cache.Path, env(EnvCachePath))
	if n, err := strconv.ParseInt(env(EnvCacheMaxBytes), 10, 64); err == nil && n > 0 {
		cfg.Cache.MaxBytes = n
	}
	if v := env(EnvTelemetryOptIn); v != "" {
		cfg.Telemetry.OptIn = parseBool(v)
	}
	setStr(&cfg.Logging.Level, strings.ToLower(env(EnvLogLevel)))
	setStr(&cfg.Logging.Format, strings.ToLower(env(EnvLogFormat)))
	if v := env(EnvLogSource); v != "" {
		cfg.Logging.Source = parseBool(v)
	}
	setStr(&cfg.Logging.File, env(EnvLogFile))
}

// EnvOverrideFor returns the env var name if the field is overridden by environment variables.
func EnvOverrideFor(key string) (string, bool) {
	name, ok := envKeys[key]
	if !ok || os.Getenv(name) == "" {
		return "", false
	}
	return name, true
}

// Overrides lists the keys currently overridden by environment variables, sorted.
func Overrides() []string {
	var keys []string
	for k := range envKeys {
		if _, ok := EnvOverrideFor(k); ok {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys
}
