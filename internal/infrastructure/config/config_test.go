package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
provider:
  url: "https://auth.example.test/auth/v1"
  api_key: "anon-key"
storage:
  path: "/tmp/kestrel-test.db"
  wal_mode: true
  busy_timeout: 5
events:
  transport: "mqtt"
  mqtt:
    host: "localhost"
    port: 1883
    qos: 1
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Provider.URL != "https://auth.example.test/auth/v1" {
		t.Errorf("Provider.URL = %q, want %q", cfg.Provider.URL, "https://auth.example.test/auth/v1")
	}

	if cfg.Storage.Path != "/tmp/kestrel-test.db" {
		t.Errorf("Storage.Path = %q, want %q", cfg.Storage.Path, "/tmp/kestrel-test.db")
	}

	if cfg.Events.MQTT.Host != "localhost" {
		t.Errorf("Events.MQTT.Host = %q, want %q", cfg.Events.MQTT.Host, "localhost")
	}
}

func TestLoad_Defaults(t *testing.T) {
	content := `
provider:
  url: "https://auth.example.test/auth/v1"
  api_key: "anon-key"
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Provider.TimeoutSeconds != 15 {
		t.Errorf("Provider.TimeoutSeconds = %d, want 15", cfg.Provider.TimeoutSeconds)
	}

	if !cfg.Provider.AutoRefresh {
		t.Error("Provider.AutoRefresh should default to true")
	}

	if cfg.Events.Transport != "none" {
		t.Errorf("Events.Transport = %q, want %q", cfg.Events.Transport, "none")
	}

	if cfg.Routes.SignIn != "/signin" {
		t.Errorf("Routes.SignIn = %q, want %q", cfg.Routes.SignIn, "/signin")
	}

	if cfg.Routes.Dashboard != "/dashboard" {
		t.Errorf("Routes.Dashboard = %q, want %q", cfg.Routes.Dashboard, "/dashboard")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	content := `
provider:
  url: "https://auth.example.test/auth/v1"
  api_key: "file-key"
`
	t.Setenv("KESTREL_PROVIDER_API_KEY", "env-key")
	t.Setenv("KESTREL_STORAGE_PATH", "/tmp/env-override.db")

	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Provider.APIKey != "env-key" {
		t.Errorf("Provider.APIKey = %q, want env override %q", cfg.Provider.APIKey, "env-key")
	}

	if cfg.Storage.Path != "/tmp/env-override.db" {
		t.Errorf("Storage.Path = %q, want env override %q", cfg.Storage.Path, "/tmp/env-override.db")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := defaultConfig()
		cfg.Provider.URL = "https://auth.example.test/auth/v1"
		cfg.Provider.APIKey = "anon-key"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"missing provider url", func(c *Config) { c.Provider.URL = "" }, true},
		{"non-http provider url", func(c *Config) { c.Provider.URL = "ftp://x" }, true},
		{"missing api key", func(c *Config) { c.Provider.APIKey = "" }, true},
		{"zero timeout", func(c *Config) { c.Provider.TimeoutSeconds = 0 }, true},
		{"missing storage path", func(c *Config) { c.Storage.Path = "" }, true},
		{"unknown transport", func(c *Config) { c.Events.Transport = "carrier-pigeon" }, true},
		{"websocket without url", func(c *Config) { c.Events.Transport = "websocket" }, true},
		{"mqtt bad port", func(c *Config) {
			c.Events.Transport = "mqtt"
			c.Events.MQTT.Port = 70000
		}, true},
		{"mqtt bad qos", func(c *Config) {
			c.Events.Transport = "mqtt"
			c.Events.MQTT.QoS = 3
		}, true},
		{"telemetry enabled without url", func(c *Config) { c.Telemetry.Enabled = true }, true},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
