package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	// Test App defaults
	if cfg.App.Name != "sagaflow" {
		t.Errorf("expected app name 'sagaflow', got %s", cfg.App.Name)
	}
	if cfg.App.Environment != "development" {
		t.Errorf("expected environment 'development', got %s", cfg.App.Environment)
	}

	// Test Server defaults
	if cfg.Server.Port != 8080 {
		t.Errorf("expected server port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Server.HTTP.ShutdownTimeout != 15*time.Second {
		t.Errorf("expected shutdown timeout 15s, got %v", cfg.Server.HTTP.ShutdownTimeout)
	}

	// Test Log defaults
	if cfg.Log.Level != "info" {
		t.Errorf("expected log level 'info', got %s", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("expected log format 'json', got %s", cfg.Log.Format)
	}

	// Test Saga defaults
	if cfg.Saga.MaxConcurrent != 100 {
		t.Errorf("expected saga.max_concurrent 100, got %d", cfg.Saga.MaxConcurrent)
	}
	if cfg.Saga.HistorySize != 100 {
		t.Errorf("expected saga.history_size 100, got %d", cfg.Saga.HistorySize)
	}
	if !cfg.Saga.RecoverOnStart {
		t.Error("expected saga.recover_on_start to be true")
	}

	// Test Storage defaults
	if cfg.Storage.Type != "memory" {
		t.Errorf("expected storage type 'memory', got %s", cfg.Storage.Type)
	}
	if cfg.Storage.Redis.KeyPrefix != "sagaflow:" {
		t.Errorf("expected redis key prefix 'sagaflow:', got %s", cfg.Storage.Redis.KeyPrefix)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid defaults",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:    "missing app name",
			mutate:  func(c *Config) { c.App.Name = "" },
			wantErr: true,
		},
		{
			name:    "invalid environment",
			mutate:  func(c *Config) { c.App.Environment = "testing" },
			wantErr: true,
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: true,
		},
		{
			name:    "invalid log level",
			mutate:  func(c *Config) { c.Log.Level = "verbose" },
			wantErr: true,
		},
		{
			name:    "invalid storage type",
			mutate:  func(c *Config) { c.Storage.Type = "sqlite" },
			wantErr: true,
		},
		{
			name:    "zero saga concurrency",
			mutate:  func(c *Config) { c.Saga.MaxConcurrent = 0 },
			wantErr: true,
		},
		{
			name:    "sample rate over one",
			mutate:  func(c *Config) { c.Tracing.SampleRate = 1.5 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.App.Name != "sagaflow" {
		t.Errorf("expected default app name, got %s", cfg.App.Name)
	}
	if cfg.Saga.EventBuffer != 64 {
		t.Errorf("expected default event buffer 64, got %d", cfg.Saga.EventBuffer)
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
app:
  name: orders
  environment: production
server:
  port: 9000
saga:
  max_concurrent: 25
  timeout: 2m
storage:
  type: badger
  badger:
    path: /var/lib/sagaflow
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile error = %v", err)
	}

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.App.Name != "orders" || cfg.App.Environment != "production" {
		t.Errorf("file values not applied: %+v", cfg.App)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Server.Port)
	}
	if cfg.Saga.MaxConcurrent != 25 {
		t.Errorf("expected max_concurrent 25, got %d", cfg.Saga.MaxConcurrent)
	}
	if cfg.Saga.Timeout != 2*time.Minute {
		t.Errorf("expected timeout 2m, got %v", cfg.Saga.Timeout)
	}
	if cfg.Storage.Type != "badger" || cfg.Storage.Badger.Path != "/var/lib/sagaflow" {
		t.Errorf("storage not applied: %+v", cfg.Storage)
	}
	// untouched values keep their defaults
	if cfg.Log.Level != "info" {
		t.Errorf("default log level lost, got %s", cfg.Log.Level)
	}
}

func TestLoad_JSONFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{"server": {"port": 8888}, "log": {"level": "debug"}}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile error = %v", err)
	}

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8888 {
		t.Errorf("expected port 8888, got %d", cfg.Server.Port)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.Log.Level)
	}
}

func TestLoad_UnsupportedFormat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("port = 1"), 0o644); err != nil {
		t.Fatalf("WriteFile error = %v", err)
	}
	if _, err := Load(path, nil); err == nil {
		t.Error("expected error for unsupported format")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml", nil); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SAGAFLOW_SERVER_PORT", "7777")
	t.Setenv("SAGAFLOW_LOG_LEVEL", "warn")
	t.Setenv("SAGAFLOW_STORAGE_TYPE", "redis")

	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 7777 {
		t.Errorf("env override for port not applied, got %d", cfg.Server.Port)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("env override for log level not applied, got %s", cfg.Log.Level)
	}
	if cfg.Storage.Type != "redis" {
		t.Errorf("env override for storage type not applied, got %s", cfg.Storage.Type)
	}
}

func TestLoad_OverridesBeatEnvAndFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 9000\n"), 0o644); err != nil {
		t.Fatalf("WriteFile error = %v", err)
	}
	t.Setenv("SAGAFLOW_SERVER_PORT", "9100")

	cfg, err := Load(path, map[string]interface{}{"server.port": 9200})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 9200 {
		t.Errorf("explicit override lost, got %d", cfg.Server.Port)
	}
}

func TestLoad_InvalidConfigRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("log:\n  level: loud\n"), 0o644); err != nil {
		t.Fatalf("WriteFile error = %v", err)
	}
	if _, err := Load(path, nil); err == nil {
		t.Error("expected validation error")
	}
}

func TestLoaderAccessors(t *testing.T) {
	loader := NewLoader()
	if _, err := loader.Load("", nil); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := loader.GetString("app.name"); got != "sagaflow" {
		t.Errorf("GetString(app.name) = %s", got)
	}
	if got := loader.GetInt("server.port"); got != 8080 {
		t.Errorf("GetInt(server.port) = %d", got)
	}
	if got := loader.GetBool("metrics.enabled"); !got {
		t.Error("GetBool(metrics.enabled) = false")
	}
	if err := loader.Set("server.port", 1234); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if got := loader.GetInt("server.port"); got != 1234 {
		t.Errorf("Set not visible, got %d", got)
	}
}
