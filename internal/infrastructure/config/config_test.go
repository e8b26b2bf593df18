package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
site:
  id: "lab"
database:
  path: "/tmp/sentinel-test.db"
  wal_mode: true
mqtt:
  enabled: true
  broker:
    host: "broker.local"
    port: 8883
  qos: 1
api:
  port: 9090
sync:
  resync_backoff: 250ms
  histogram_window: 1h
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Site.ID != "lab" {
		t.Errorf("Site.ID = %q, want %q", cfg.Site.ID, "lab")
	}
	if cfg.MQTT.Broker.Host != "broker.local" || cfg.MQTT.Broker.Port != 8883 {
		t.Errorf("MQTT.Broker = %+v", cfg.MQTT.Broker)
	}
	if cfg.API.Port != 9090 {
		t.Errorf("API.Port = %d, want 9090", cfg.API.Port)
	}
	if cfg.Sync.ResyncBackoff != 250*time.Millisecond {
		t.Errorf("Sync.ResyncBackoff = %v, want 250ms", cfg.Sync.ResyncBackoff)
	}
	if cfg.Sync.HistogramWindow != time.Hour {
		t.Errorf("Sync.HistogramWindow = %v, want 1h", cfg.Sync.HistogramWindow)
	}
	// Unset keys keep their defaults.
	if cfg.Sync.PendingLimit != defaultConfig().Sync.PendingLimit {
		t.Errorf("Sync.PendingLimit = %d, want default", cfg.Sync.PendingLimit)
	}
	if cfg.MQTT.Broker.ClientID != "sentinel-core" {
		t.Errorf("MQTT.Broker.ClientID = %q", cfg.MQTT.Broker.ClientID)
	}
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error = %v", err)
	}
	if cfg.Database.Path != "./data/sentinel.db" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/config.yaml"); err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, "invalid: [yaml: content")
	if _, err := Load(configPath); err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	configPath := writeConfig(t, `
site:
  id: ""
`)
	if _, err := Load(configPath); err == nil {
		t.Error("Load() expected validation error for empty site.id, got nil")
	}
}

func TestLoad_BadEnvOverride(t *testing.T) {
	t.Setenv("SENTINEL_API_PORT", "eighty")
	_, err := Load("")
	if err == nil || !strings.Contains(err.Error(), "SENTINEL_API_PORT") {
		t.Errorf("Load() error = %v, want SENTINEL_API_PORT parse error", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"in-memory database", func(c *Config) { c.Database.Path = "" }, false},
		{"missing site ID", func(c *Config) { c.Site.ID = "" }, true},
		{"invalid QoS", func(c *Config) { c.MQTT.QoS = 3 }, true},
		{"mqtt enabled without host", func(c *Config) { c.MQTT.Enabled = true; c.MQTT.Broker.Host = "" }, true},
		{"mqtt disabled without host", func(c *Config) { c.MQTT.Broker.Host = "" }, false},
		{"invalid port low", func(c *Config) { c.API.Port = 0 }, true},
		{"invalid port high", func(c *Config) { c.API.Port = 70000 }, true},
		{"influx enabled without url", func(c *Config) { c.InfluxDB.Enabled = true }, true},
		{"zero broker buffer", func(c *Config) { c.Sync.BrokerBuffer = 0 }, true},
		{"zero resync attempts", func(c *Config) { c.Sync.ResyncAttempts = 0 }, true},
		{"zero pending limit", func(c *Config) { c.Sync.PendingLimit = 0 }, true},
		{"zero histogram window", func(c *Config) { c.Sync.HistogramWindow = 0 }, true},
		{"zero signal queue", func(c *Config) { c.Sync.SignalQueue = 0 }, true},
		{"unknown log level", func(c *Config) { c.Logging.Level = "verbose" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_ValidateReportsAllErrors(t *testing.T) {
	cfg := defaultConfig()
	cfg.Site.ID = ""
	cfg.API.Port = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil, want error")
	}
	for _, want := range []string{"site.id", "api.port"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Validate() error %q does not mention %s", err, want)
		}
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := &Config{
		API: APIConfig{
			Timeouts: APITimeoutConfig{Read: 30, Write: 45, Idle: 60},
		},
	}

	if got := cfg.API.ReadTimeout().Seconds(); got != 30 {
		t.Errorf("ReadTimeout() = %v, want 30", got)
	}
	if got := cfg.API.WriteTimeout().Seconds(); got != 45 {
		t.Errorf("WriteTimeout() = %v, want 45", got)
	}
	if got := cfg.API.IdleTimeout().Seconds(); got != 60 {
		t.Errorf("IdleTimeout() = %v, want 60", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("SENTINEL_DATABASE_PATH", "/custom/path.db")
	t.Setenv("SENTINEL_MQTT_ENABLED", "true")
	t.Setenv("SENTINEL_MQTT_HOST", "mqtt.example.com")
	t.Setenv("SENTINEL_MQTT_PORT", "8883")
	t.Setenv("SENTINEL_MQTT_USERNAME", "testuser")
	t.Setenv("SENTINEL_MQTT_PASSWORD", "testpass")
	t.Setenv("SENTINEL_API_HOST", "192.168.1.1")
	t.Setenv("SENTINEL_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("SENTINEL_LOG_LEVEL", "debug")

	if err := applyEnvOverrides(cfg); err != nil {
		t.Fatalf("applyEnvOverrides() error = %v", err)
	}

	if cfg.Database.Path != "/custom/path.db" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
	if !cfg.MQTT.Enabled {
		t.Error("MQTT.Enabled = false, want true")
	}
	if cfg.MQTT.Broker.Host != "mqtt.example.com" || cfg.MQTT.Broker.Port != 8883 {
		t.Errorf("MQTT.Broker = %+v", cfg.MQTT.Broker)
	}
	if cfg.MQTT.Auth.Username != "testuser" || cfg.MQTT.Auth.Password != "testpass" {
		t.Errorf("MQTT.Auth = %+v", cfg.MQTT.Auth)
	}
	if cfg.API.Host != "192.168.1.1" {
		t.Errorf("API.Host = %q", cfg.API.Host)
	}
	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q", cfg.InfluxDB.Token)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q", cfg.Logging.Level)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if err := cfg.Validate(); err != nil {
		t.Errorf("defaultConfig does not validate: %v", err)
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.API.Port != 8080 {
		t.Errorf("API.Port = %d, want 8080", cfg.API.Port)
	}
	if cfg.Sync.ResyncAttempts < 1 || cfg.Sync.HistogramWindow <= 0 {
		t.Errorf("Sync defaults = %+v", cfg.Sync)
	}
}
