// Copyright 2026 © The Waspnest Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads waspnest settings from defaults, YAML files, the
// environment and command-line overrides.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/jllopis/waspnest/pkg/errors"
	"github.com/jllopis/waspnest/pkg/hooks"
	"github.com/jllopis/waspnest/pkg/telemetry"
)

// EnvPrefix is the prefix of environment overrides: WASPNEST_LLM_MODEL sets
// llm.model.
const EnvPrefix = "WASPNEST_"

type Config struct {
	Log       LogConfig       `koanf:"log"`
	LLM       LLMConfig       `koanf:"llm"`
	Agent     AgentConfig     `koanf:"agent"`
	Hooks     HooksConfig     `koanf:"hooks"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Audit     AuditConfig     `koanf:"audit"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type LLMConfig struct {
	Provider    string        `koanf:"provider"` // any gollm provider: openai, anthropic, ollama...
	Model       string        `koanf:"model"`
	APIKey      string        `koanf:"api_key"`
	Temperature float64       `koanf:"temperature"`
	MaxTokens   int           `koanf:"max_tokens"`
	Timeout     time.Duration `koanf:"timeout"`
}

type AgentConfig struct {
	Name        string `koanf:"name"`
	StepContext bool   `koanf:"step_context"`
}

type HooksConfig struct {
	FailurePolicy string `koanf:"failure_policy"` // log, abort
}

type TelemetryConfig struct {
	Enabled      bool   `koanf:"enabled"`
	Exporter     string `koanf:"exporter"` // none, stdout, otlp
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	OTLPInsecure bool   `koanf:"otlp_insecure"`
}

type AuditConfig struct {
	Enabled bool   `koanf:"enabled"`
	Driver  string `koanf:"driver"` // memory, sqlite
	DSN     string `koanf:"dsn"`
}

var defaults = map[string]any{
	"log.level":               "info",
	"log.format":              "text",
	"llm.provider":            "openai",
	"llm.model":               "gpt-4o-mini",
	"llm.temperature":         0.7,
	"llm.max_tokens":          4096,
	"llm.timeout":             "60s",
	"agent.name":              "agent",
	"agent.step_context":      false,
	"hooks.failure_policy":    string(hooks.FailLog),
	"telemetry.enabled":       false,
	"telemetry.exporter":      telemetry.ExporterNone,
	"telemetry.otlp_insecure": true,
	"audit.enabled":           false,
	"audit.driver":            "memory",
}

// Load reads the configuration at path (optional) and environment overrides.
func Load(path string) (*Config, error) {
	return LoadWithProfile(path, "")
}

// LoadWithProfile is like Load and additionally overlays
// <name>.<profile>.<ext> next to path when it exists.
func LoadWithProfile(path, profile string) (*Config, error) {
	return load(path, profile, nil)
}

// LoadWithCLI loads the configuration selected by args. Recognized flags are
// --config <path>, --profile <name> and repeated --set key=value; --set
// values are parsed as JSON when possible and win over everything else.
func LoadWithCLI(args []string) (*Config, error) {
	opts, overrides, err := parseCLIOverrides(args)
	if err != nil {
		return nil, err
	}
	return load(opts.path, opts.profile, overrides)
}

func load(path, profile string, overrides map[string]any) (*Config, error) {
	k := koanf.New(".")
	for key, value := range defaults {
		if err := k.Set(key, value); err != nil {
			return nil, errors.New(errors.CodeConfiguration, "set default "+key, err)
		}
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, errors.New(errors.CodeConfiguration, "load config file", err).
				WithContext("path", path)
		}
		if profile != "" {
			overlay := ProfilePath(path, profile)
			if _, err := os.Stat(overlay); err == nil {
				if err := k.Load(file.Provider(overlay), yaml.Parser()); err != nil {
					return nil, errors.New(errors.CodeConfiguration, "load profile config", err).
						WithContext("path", overlay).
						WithContext("profile", profile)
				}
			}
		}
	}

	// WASPNEST_LLM_API_KEY -> llm.api_key
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "_", ".", 1)
	}), nil); err != nil {
		return nil, errors.New(errors.CodeConfiguration, "load environment", err)
	}

	for key, value := range overrides {
		if err := k.Set(key, value); err != nil {
			return nil, errors.New(errors.CodeConfiguration, "apply override "+key, err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, errors.New(errors.CodeConfiguration, "decode config", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ProfilePath returns the overlay file for profile next to path:
// config.yaml with profile "dev" is config.dev.yaml.
func ProfilePath(path, profile string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "." + profile + ext
}

// Validate reports the first invalid setting as a CONFIGURATION_ERROR.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return invalid("log.level", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return invalid("log.format", c.Log.Format)
	}
	if c.LLM.Provider == "" {
		return invalid("llm.provider", c.LLM.Provider)
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return invalid("llm.temperature", c.LLM.Temperature)
	}
	if c.LLM.MaxTokens < 0 {
		return invalid("llm.max_tokens", c.LLM.MaxTokens)
	}
	if c.LLM.Timeout < 0 {
		return invalid("llm.timeout", c.LLM.Timeout)
	}
	if _, err := hooks.ParseFailurePolicy(c.Hooks.FailurePolicy); err != nil {
		return err
	}
	switch c.Telemetry.Exporter {
	case telemetry.ExporterNone, telemetry.ExporterStdout:
	case telemetry.ExporterOTLP:
		if c.Telemetry.OTLPEndpoint == "" {
			return errors.Configuration("telemetry.otlp_endpoint is required for the otlp exporter")
		}
	default:
		return invalid("telemetry.exporter", c.Telemetry.Exporter)
	}
	switch c.Audit.Driver {
	case "memory":
	case "sqlite":
		if c.Audit.Enabled && c.Audit.DSN == "" {
			return errors.Configuration("audit.dsn is required for the sqlite driver")
		}
	default:
		return invalid("audit.driver", c.Audit.Driver)
	}
	return nil
}

// TelemetryExporter returns the exporter to initialize, "none" when
// telemetry is disabled.
func (c *Config) TelemetryExporter() telemetry.Config {
	if !c.Telemetry.Enabled {
		return telemetry.Config{Exporter: telemetry.ExporterNone}
	}
	return telemetry.Config{
		Exporter:     c.Telemetry.Exporter,
		OTLPEndpoint: c.Telemetry.OTLPEndpoint,
		OTLPInsecure: c.Telemetry.OTLPInsecure,
	}
}

func invalid(key string, value any) error {
	return errors.Configurationf("invalid value %v for %s", value, key).
		WithContext("key", key)
}

type cliOptions struct {
	path    string
	profile string
}

func parseCLIOverrides(args []string) (cliOptions, map[string]any, error) {
	var opts cliOptions
	overrides := make(map[string]any)
	for i := 0; i < len(args); i++ {
		flag, value, inline := strings.Cut(args[i], "=")
		switch flag {
		case "--config", "--profile", "--set":
		default:
			continue
		}
		if !inline {
			if i+1 >= len(args) {
				return opts, nil, errors.Configurationf("missing value for %s", flag)
			}
			i++
			value = args[i]
		}
		switch flag {
		case "--config":
			opts.path = value
		case "--profile":
			opts.profile = value
		case "--set":
			key, raw, ok := strings.Cut(value, "=")
			if !ok || key == "" {
				return opts, nil, errors.Configurationf("invalid --set value %q, want key=value", value)
			}
			overrides[key] = parseValue(raw)
		}
	}
	return opts, overrides, nil
}

func parseValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}
