// Package config defines the engine's configuration surface: a
// YAML-tagged struct parsed from a file and optionally overridden from the
// environment, following the same "no underscores in yaml names" and
// PREFIX_FIELD environment convention as the corpus's registry
// configuration.
package config

import (
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v2"

	flashpack "github.com/flashpack/flashpack"
	"github.com/flashpack/flashpack/internal/compressutil"
)

// EnvPrefix is prepended to every field name (uppercased) to form the
// environment variable FromEnv checks, e.g. Concurrency -> FLASHPACK_CONCURRENCY.
const EnvPrefix = "FLASHPACK"

// Compression configures the store's compression behavior.
//
// Note that yaml field names should never include _ characters, since
// that is the separator used in environment variable names.
type Compression struct {
	Enabled bool   `yaml:"enabled"`
	Format  string `yaml:"format,omitempty"` // "gzip" or "brotli"
	Level   int    `yaml:"level,omitempty"`
}

// Configuration is the engine's full parsed configuration.
type Configuration struct {
	Concurrency    int         `yaml:"concurrency,omitempty"`
	Compression    Compression `yaml:"compression,omitempty"`
	Integrity      bool        `yaml:"integrity,omitempty"`
	Hardlink       bool        `yaml:"hardlink,omitempty"`
	Streaming      bool        `yaml:"streaming,omitempty"`
	CacheTimeout   int         `yaml:"cachetimeout,omitempty"` // seconds
	RegistryURL    string      `yaml:"registryurl,omitempty"`
	Offline        bool        `yaml:"offline,omitempty"`
	AllowFallbacks bool        `yaml:"allowfallbacks,omitempty"`
	StoreRoot      string      `yaml:"storeroot,omitempty"`
	SnapshotPath   string      `yaml:"snapshotpath,omitempty"`
}

// Default returns the configuration's documented defaults.
func Default() Configuration {
	home, _ := os.UserHomeDir()
	return Configuration{
		Concurrency: 0, // resolved to workerpool.DefaultConcurrency() by Engine.Concurrency()
		Compression: Compression{
			Enabled: true,
			Format:  string(compressutil.Gzip),
			Level:   compressutil.DefaultLevel,
		},
		Integrity:      true,
		Hardlink:       true,
		Streaming:      true,
		CacheTimeout:   30,
		RegistryURL:    "https://registry.npmjs.org",
		AllowFallbacks: true,
		StoreRoot:      home + "/.flash-install/cache",
	}
}

// Parse reads a YAML configuration from r, starting from Default() so
// unset fields keep their documented defaults.
func Parse(r io.Reader) (Configuration, error) {
	cfg := Default()
	data, err := io.ReadAll(r)
	if err != nil {
		return cfg, flashpack.IoError{Path: "<config>", Err: err}
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, flashpack.ConfigError{Field: "<root>", Reason: err.Error()}
	}
	return cfg, nil
}

// FromMap overlays cfg with loosely-typed parameters, the same shape a
// storage driver factory takes (map[string]interface{} decoded from
// whatever untyped source produced it — CLI --set flags, a parent tool's
// own config format). Unknown keys are ignored; type mismatches surface as
// a ConfigError naming the offending field.
func FromMap(cfg Configuration, params map[string]interface{}) (Configuration, error) {
	if len(params) == 0 {
		return cfg, nil
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
		ErrorUnused:      false,
	})
	if err != nil {
		return cfg, flashpack.ConfigError{Field: "<root>", Reason: err.Error()}
	}
	if err := decoder.Decode(params); err != nil {
		return cfg, flashpack.ConfigError{Field: "<params>", Reason: err.Error()}
	}
	return cfg, nil
}

// FromEnv applies environment variable overrides on top of cfg, following
// the PREFIX_FIELDNAME convention (all upper-case, no separators within a
// field name).
func FromEnv(cfg Configuration) Configuration {
	if v, ok := lookupEnv("CONCURRENCY"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Concurrency = n
		}
	}
	if v, ok := lookupEnv("COMPRESSION_ENABLED"); ok {
		cfg.Compression.Enabled = parseBool(v, cfg.Compression.Enabled)
	}
	if v, ok := lookupEnv("COMPRESSION_FORMAT"); ok {
		cfg.Compression.Format = v
	}
	if v, ok := lookupEnv("COMPRESSION_LEVEL"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Compression.Level = n
		}
	}
	if v, ok := lookupEnv("INTEGRITY"); ok {
		cfg.Integrity = parseBool(v, cfg.Integrity)
	}
	if v, ok := lookupEnv("HARDLINK"); ok {
		cfg.Hardlink = parseBool(v, cfg.Hardlink)
	}
	if v, ok := lookupEnv("STREAMING"); ok {
		cfg.Streaming = parseBool(v, cfg.Streaming)
	}
	if v, ok := lookupEnv("CACHETIMEOUT"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CacheTimeout = n
		}
	}
	if v, ok := lookupEnv("REGISTRYURL"); ok {
		cfg.RegistryURL = v
	}
	if v, ok := lookupEnv("OFFLINE"); ok {
		cfg.Offline = parseBool(v, cfg.Offline)
	}
	if v, ok := lookupEnv("ALLOWFALLBACKS"); ok {
		cfg.AllowFallbacks = parseBool(v, cfg.AllowFallbacks)
	}
	if v, ok := lookupEnv("STOREROOT"); ok {
		cfg.StoreRoot = v
	}
	if v, ok := lookupEnv("SNAPSHOTPATH"); ok {
		cfg.SnapshotPath = v
	}
	return cfg
}

func lookupEnv(suffix string) (string, bool) {
	return os.LookupEnv(EnvPrefix + "_" + strings.ToUpper(suffix))
}

func parseBool(v string, fallback bool) bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// Validate rejects values that the engine cannot act on, surfacing a
// ConfigError naming the offending field.
func (c Configuration) Validate() error {
	if c.Concurrency < 0 {
		return flashpack.ConfigError{Field: "concurrency", Reason: "must be >= 0"}
	}
	if c.Compression.Enabled {
		switch compressutil.Format(c.Compression.Format) {
		case compressutil.Gzip, compressutil.Brotli:
		default:
			return flashpack.ConfigError{Field: "compression.format", Reason: "must be \"gzip\" or \"brotli\""}
		}
		if c.Compression.Level < 0 || c.Compression.Level > 11 {
			return flashpack.ConfigError{Field: "compression.level", Reason: "must be between 0 and 11"}
		}
	}
	if c.CacheTimeout < 0 {
		return flashpack.ConfigError{Field: "cachetimeout", Reason: "must be >= 0"}
	}
	if c.RegistryURL == "" {
		return flashpack.ConfigError{Field: "registryurl", Reason: "must not be empty"}
	}
	return nil
}
