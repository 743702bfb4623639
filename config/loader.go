package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix marks environment variables that feed the configuration.
	EnvPrefix = "SAGAFLOW_"
	// Delimiter separates nested keys, e.g. "server.port".
	Delimiter = "."
)

// Loader layers configuration sources onto a koanf instance. Precedence,
// lowest to highest: built-in defaults, config file, environment variables,
// explicit overrides (typically command line flags).
type Loader struct {
	k *koanf.Koanf
}

// NewLoader returns an empty Loader.
func NewLoader() *Loader {
	return &Loader{k: koanf.New(Delimiter)}
}

// Load merges all sources and returns the validated Config. When configPath
// is empty, well-known locations are probed; a missing file is not an error
// in that case.
func (l *Loader) Load(configPath string, overrides map[string]any) (*Config, error) {
	if err := l.loadDefaults(); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if configPath == "" {
		configPath = discoverConfigFile()
	}
	if configPath != "" {
		if err := l.loadFile(configPath); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := l.loadEnv(); err != nil {
		return nil, fmt.Errorf("load env vars: %w", err)
	}

	if len(overrides) > 0 {
		if err := l.k.Load(confmap.Provider(overrides, Delimiter), nil); err != nil {
			return nil, fmt.Errorf("apply overrides: %w", err)
		}
	}

	// A file that sets only part of a nested section wipes the section's
	// remaining defaults in koanf, so restore any key the merge lost.
	if err := l.fillDefaults(); err != nil {
		return nil, fmt.Errorf("fill defaults: %w", err)
	}

	var cfg Config
	if err := l.k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "mapstructure"}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := ValidateWithDetails(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (l *Loader) loadDefaults() error {
	d := DefaultConfig()
	return l.k.Load(confmap.Provider(map[string]any{
		"app":     d.App,
		"server":  d.Server,
		"log":     d.Log,
		"saga":    d.Saga,
		"storage": d.Storage,
		"metrics": d.Metrics,
		"tracing": d.Tracing,
	}, Delimiter), nil)
}

// loadFile parses a YAML or JSON config file, chosen by extension.
func (l *Loader) loadFile(path string) error {
	var parser koanf.Parser
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return fmt.Errorf("unsupported config file format: %s", filepath.Ext(path))
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", path)
	}
	return l.k.Load(file.Provider(path), parser)
}

// discoverConfigFile returns the first config file found in the well-known
// locations, or "" when none exists.
func discoverConfigFile() string {
	for _, path := range []string{
		"config.yaml",
		"config.yml",
		"config.json",
		"configs/config.yaml",
		"/etc/sagaflow/config.yaml",
	} {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// loadEnv binds SAGAFLOW_* environment variables to config keys, e.g.
// SAGAFLOW_SERVER_PORT becomes server.port. Multi-word leaf keys such as
// saga.recover_on_start are not addressable this way; use a config file
// for those.
func (l *Loader) loadEnv() error {
	return l.k.Load(env.Provider(EnvPrefix, Delimiter, func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "_", Delimiter)
	}), nil)
}

// Get returns the raw value at key, or nil when unset.
func (l *Loader) Get(key string) any {
	return l.k.Get(key)
}

// GetString returns the value at key coerced to a string.
func (l *Loader) GetString(key string) string {
	return l.k.String(key)
}

// GetInt returns the value at key coerced to an int.
func (l *Loader) GetInt(key string) int {
	return l.k.Int(key)
}

// GetBool returns the value at key coerced to a bool.
func (l *Loader) GetBool(key string) bool {
	return l.k.Bool(key)
}

// Set writes a value directly into the loaded key space.
func (l *Loader) Set(key string, value any) error {
	return l.k.Set(key, value)
}

// fillDefaults re-applies any default whose key went missing during source
// merging. Keys the user set are left alone.
func (l *Loader) fillDefaults() error {
	for key, value := range structToMap(DefaultConfig(), "") {
		if l.k.Get(key) != nil {
			continue
		}
		if err := l.k.Set(key, value); err != nil {
			return fmt.Errorf("set default for %s: %w", key, err)
		}
	}
	return nil
}

// structToMap flattens a config struct into dot-separated keys keyed by
// mapstructure tags, so defaults can be compared per leaf rather than per
// section. Non-struct inputs yield an empty map.
func structToMap(v any, prefix string) map[string]any {
	result := make(map[string]any)

	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	if val.Kind() != reflect.Struct {
		return result
	}

	typ := val.Type()
	for i := 0; i < val.NumField(); i++ {
		field := typ.Field(i)
		fieldVal := val.Field(i)

		if !field.IsExported() {
			continue
		}
		key := field.Tag.Get("mapstructure")
		if key == "" || key == "-" {
			continue
		}
		if prefix != "" {
			key = prefix + Delimiter + key
		}

		switch fieldVal.Kind() {
		case reflect.Ptr:
			if !fieldVal.IsNil() {
				for k, nested := range structToMap(fieldVal.Elem().Interface(), key) {
					result[k] = nested
				}
			}
		case reflect.Struct:
			for k, nested := range structToMap(fieldVal.Interface(), key) {
				result[k] = nested
			}
		default:
			result[key] = fieldVal.Interface()
		}
	}
	return result
}

// Print renders the merged key space for debugging.
func (l *Loader) Print() string {
	return l.k.Sprint()
}

// Load builds a one-shot Loader and loads the configuration.
func Load(configPath string, overrides map[string]any) (*Config, error) {
	return NewLoader().Load(configPath, overrides)
}

// LoadOrDie is Load for program startup paths where a bad configuration
// should stop the process immediately.
func LoadOrDie(configPath string, overrides map[string]any) *Config {
	cfg, err := Load(configPath, overrides)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}
