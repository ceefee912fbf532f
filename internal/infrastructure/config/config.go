package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Kestrel.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Client    ClientConfig    `yaml:"client"`
	Provider  ProviderConfig  `yaml:"provider"`
	Storage   StorageConfig   `yaml:"storage"`
	Events    EventsConfig    `yaml:"events"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Routes    RoutesConfig    `yaml:"routes"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ClientConfig contains client instance information.
type ClientConfig struct {
	// ID identifies this client instance in event feeds and telemetry.
	// Generated and persisted on first run if empty.
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// ProviderConfig contains hosted identity provider settings.
type ProviderConfig struct {
	// URL is the base URL of the GoTrue-compatible auth endpoint,
	// e.g. "https://xyz.supabase.co/auth/v1".
	URL string `yaml:"url"`

	// APIKey is the public (anon) API key sent with every provider request.
	APIKey string `yaml:"api_key"`

	// TimeoutSeconds is the per-request timeout for provider calls.
	TimeoutSeconds int `yaml:"timeout_seconds"`

	// AutoRefresh enables proactive token rotation ahead of expiry.
	AutoRefresh bool `yaml:"auto_refresh"`

	// RefreshMarginSeconds is how long before expiry a proactive
	// refresh is scheduled. Ignored when AutoRefresh is false.
	RefreshMarginSeconds int `yaml:"refresh_margin_seconds"`

	OAuth OAuthConfig `yaml:"oauth"`
}

// OAuthConfig contains settings for browser-based OAuth sign-in.
type OAuthConfig struct {
	// CallbackHost is the loopback address the callback server binds to.
	CallbackHost string `yaml:"callback_host"`

	// CallbackPort is the loopback port. 0 selects a free port.
	CallbackPort int `yaml:"callback_port"`

	// TimeoutSeconds is how long to wait for the browser round-trip.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// StorageConfig contains local credential storage settings.
type StorageConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// EventsConfig contains out-of-band session event feed settings.
type EventsConfig struct {
	// Transport selects the feed implementation: "websocket", "mqtt", or "none".
	Transport string `yaml:"transport"`

	WebSocket WSFeedConfig   `yaml:"websocket"`
	MQTT      MQTTFeedConfig `yaml:"mqtt"`
}

// WSFeedConfig contains WebSocket event feed settings.
type WSFeedConfig struct {
	// URL is the realtime endpoint, e.g. "wss://xyz.supabase.co/realtime/v1/auth".
	URL            string          `yaml:"url"`
	PingInterval   int             `yaml:"ping_interval"`
	PongTimeout    int             `yaml:"pong_timeout"`
	MaxMessageSize int             `yaml:"max_message_size"`
	Reconnect      ReconnectConfig `yaml:"reconnect"`
}

// MQTTFeedConfig contains MQTT event feed settings.
type MQTTFeedConfig struct {
	Host      string          `yaml:"host"`
	Port      int             `yaml:"port"`
	TLS       bool            `yaml:"tls"`
	ClientID  string          `yaml:"client_id"`
	Username  string          `yaml:"username"`
	Password  string          `yaml:"password"`
	QoS       int             `yaml:"qos"`
	TopicRoot string          `yaml:"topic_root"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
}

// ReconnectConfig contains reconnection backoff settings shared by event feeds.
type ReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// TelemetryConfig contains InfluxDB observability settings.
type TelemetryConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// RoutesConfig contains the navigation targets used by guards and sign-out.
type RoutesConfig struct {
	SignIn         string `yaml:"sign_in"`
	Dashboard      string `yaml:"dashboard"`
	VerifyEmail    string `yaml:"verify_email"`
	ForgotPassword string `yaml:"forgot_password"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: KESTREL_SECTION_KEY
// For example: KESTREL_PROVIDER_URL, KESTREL_STORAGE_PATH
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Client: ClientConfig{
			Name: "kestrel",
		},
		Provider: ProviderConfig{
			TimeoutSeconds:       15,
			AutoRefresh:          true,
			RefreshMarginSeconds: 60,
			OAuth: OAuthConfig{
				CallbackHost:   "127.0.0.1",
				CallbackPort:   0,
				TimeoutSeconds: 180,
			},
		},
		Storage: StorageConfig{
			Path:        "./data/kestrel.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Events: EventsConfig{
			Transport: "none",
			WebSocket: WSFeedConfig{
				PingInterval:   30,
				PongTimeout:    10,
				MaxMessageSize: 8192,
				Reconnect: ReconnectConfig{
					InitialDelay: 1,
					MaxDelay:     60,
					MaxAttempts:  0,
				},
			},
			MQTT: MQTTFeedConfig{
				Host:      "localhost",
				Port:      1883,
				QoS:       1,
				TopicRoot: "kestrel",
				Reconnect: ReconnectConfig{
					InitialDelay: 1,
					MaxDelay:     60,
					MaxAttempts:  0,
				},
			},
		},
		Telemetry: TelemetryConfig{
			Enabled:       false,
			BatchSize:     100,
			FlushInterval: 10,
		},
		Routes: RoutesConfig{
			SignIn:         "/signin",
			Dashboard:      "/dashboard",
			VerifyEmail:    "/verify-email",
			ForgotPassword: "/forgot-password",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: KESTREL_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Provider
	if v := os.Getenv("KESTREL_PROVIDER_URL"); v != "" {
		cfg.Provider.URL = v
	}
	if v := os.Getenv("KESTREL_PROVIDER_API_KEY"); v != "" {
		cfg.Provider.APIKey = v
	}

	// Storage
	if v := os.Getenv("KESTREL_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}

	// Events
	if v := os.Getenv("KESTREL_EVENTS_TRANSPORT"); v != "" {
		cfg.Events.Transport = v
	}
	if v := os.Getenv("KESTREL_MQTT_HOST"); v != "" {
		cfg.Events.MQTT.Host = v
	}
	if v := os.Getenv("KESTREL_MQTT_USERNAME"); v != "" {
		cfg.Events.MQTT.Username = v
	}
	if v := os.Getenv("KESTREL_MQTT_PASSWORD"); v != "" {
		cfg.Events.MQTT.Password = v
	}
	if v := os.Getenv("KESTREL_EVENTS_WS_URL"); v != "" {
		cfg.Events.WebSocket.URL = v
	}

	// Telemetry
	if v := os.Getenv("KESTREL_TELEMETRY_TOKEN"); v != "" {
		cfg.Telemetry.Token = v
	}
	if v := os.Getenv("KESTREL_TELEMETRY_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Telemetry.Enabled = b
		}
	}

	// Logging
	if v := os.Getenv("KESTREL_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Describing the first validation failure, or nil if valid
func (c *Config) Validate() error {
	if c.Provider.URL == "" {
		return fmt.Errorf("provider.url is required")
	}
	if !strings.HasPrefix(c.Provider.URL, "http://") && !strings.HasPrefix(c.Provider.URL, "https://") {
		return fmt.Errorf("provider.url must be an http(s) URL, got %q", c.Provider.URL)
	}
	if c.Provider.APIKey == "" {
		return fmt.Errorf("provider.api_key is required")
	}
	if c.Provider.TimeoutSeconds <= 0 {
		return fmt.Errorf("provider.timeout_seconds must be positive, got %d", c.Provider.TimeoutSeconds)
	}
	if c.Provider.AutoRefresh && c.Provider.RefreshMarginSeconds <= 0 {
		return fmt.Errorf("provider.refresh_margin_seconds must be positive when auto_refresh is enabled")
	}

	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}
	if c.Storage.BusyTimeout < 0 {
		return fmt.Errorf("storage.busy_timeout must not be negative, got %d", c.Storage.BusyTimeout)
	}

	switch c.Events.Transport {
	case "none", "":
	case "websocket":
		if c.Events.WebSocket.URL == "" {
			return fmt.Errorf("events.websocket.url is required when transport is websocket")
		}
	case "mqtt":
		if c.Events.MQTT.Host == "" {
			return fmt.Errorf("events.mqtt.host is required when transport is mqtt")
		}
		if c.Events.MQTT.Port <= 0 || c.Events.MQTT.Port > 65535 {
			return fmt.Errorf("events.mqtt.port must be 1-65535, got %d", c.Events.MQTT.Port)
		}
		if c.Events.MQTT.QoS < 0 || c.Events.MQTT.QoS > 2 {
			return fmt.Errorf("events.mqtt.qos must be 0, 1, or 2, got %d", c.Events.MQTT.QoS)
		}
	default:
		return fmt.Errorf("events.transport must be websocket, mqtt, or none, got %q", c.Events.Transport)
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.URL == "" {
			return fmt.Errorf("telemetry.url is required when telemetry is enabled")
		}
		if c.Telemetry.Token == "" {
			return fmt.Errorf("telemetry.token is required when telemetry is enabled")
		}
		if c.Telemetry.Bucket == "" {
			return fmt.Errorf("telemetry.bucket is required when telemetry is enabled")
		}
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}

	return nil
}
