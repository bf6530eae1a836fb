package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the agent.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Device     DeviceConfig     `yaml:"device"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	TimeSource TimeSourceConfig `yaml:"timesource"`
	Database   DatabaseConfig   `yaml:"database"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	API        APIConfig        `yaml:"api"`
	WebSocket  WebSocketConfig  `yaml:"websocket"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Logging    LoggingConfig    `yaml:"logging"`
	Security   SecurityConfig   `yaml:"security"`
}

// DeviceConfig identifies this device against its IoT hub.
// These values come from the hub's device registry and are immutable
// for the lifetime of the process.
type DeviceConfig struct {
	// HubID is the short hub name; the connection host is derived from it
	// as <hub_id>.azure-devices.net.
	HubID string `yaml:"hub_id"`

	// DeviceID is the device's registry identifier on the hub.
	DeviceID string `yaml:"device_id"`

	// APIVersion is the hub REST/MQTT api-version string sent in the
	// connection username.
	APIVersion string `yaml:"api_version"`

	// Key is the base64-encoded shared access key provisioned for the device.
	// Prefer setting this via AZIOT_DEVICE_KEY rather than the file.
	Key string `yaml:"key"`

	// TokenLifetime is the SAS token validity in minutes.
	TokenLifetime int `yaml:"token_lifetime"`
}

// MQTTConfig contains transport-level connection settings.
type MQTTConfig struct {
	// Host overrides the derived <hub_id>.azure-devices.net broker host.
	// Leave empty outside of local-broker testing.
	Host string `yaml:"host"`

	// Port is the broker port. The hub listens on 8883 only.
	Port int `yaml:"port"`

	// TLS enables the TLS dialer. Required by the hub; disable only
	// against a local test broker.
	TLS bool `yaml:"tls"`

	// KeepAlive is the MQTT keepalive interval in seconds.
	KeepAlive int `yaml:"keepalive"`

	// QoS is the quality-of-service level for all traffic. The hub
	// supports 0 and 1 only.
	QoS int `yaml:"qos"`

	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTReconnectConfig contains reconnection backoff settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// TimeSourceConfig selects where the agent obtains epoch timestamps for
// token signing. Constrained deployments without a trustworthy RTC use the
// http mode against a JSON time endpoint.
type TimeSourceConfig struct {
	// Mode is "system" (local clock) or "http" (remote JSON endpoint).
	Mode string `yaml:"mode"`

	// URL is the endpoint queried in http mode.
	URL string `yaml:"url"`

	// EpochField is the dotted path of the epoch-seconds field in the
	// endpoint's JSON response, e.g. "now.epoch".
	EpochField string `yaml:"epoch_field"`

	// Timeout is the request timeout in seconds.
	Timeout int `yaml:"timeout"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// InfluxDBConfig contains the optional local telemetry history sink.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// APIConfig contains the local HTTP status server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings for the local API.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains the local live-stream settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// TelemetryConfig controls the periodic event publisher.
type TelemetryConfig struct {
	Enabled bool `yaml:"enabled"`

	// PublishPeriod is the default sampling period in seconds. The hub can
	// change it at runtime through the desired twin's publish_period field.
	PublishPeriod int `yaml:"publish_period"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings for the local API.
type SecurityConfig struct {
	JWT      JWTConfig      `yaml:"jwt"`
	Operator OperatorConfig `yaml:"operator"`
}

// JWTConfig contains JWT token settings.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"`
}

// OperatorConfig is the single local user allowed to log in to the API.
type OperatorConfig struct {
	Username string `yaml:"username"`

	// Password is the operator's login password. Prefer setting it via
	// AZIOT_OPERATOR_PASSWORD rather than the file.
	Password string `yaml:"password"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: AZIOT_SECTION_KEY
// For example: AZIOT_DEVICE_KEY, AZIOT_DATABASE_PATH
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default device and transport values.
const (
	// DefaultAPIVersion is the hub api-version the agent speaks when the
	// config does not pin one.
	DefaultAPIVersion = "2017-06-30"

	defaultTokenLifetime = 60   // minutes
	defaultKeepAlive     = 60   // seconds
	defaultHubPort       = 8883 // MQTT over TLS
)

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			APIVersion:    DefaultAPIVersion,
			TokenLifetime: defaultTokenLifetime,
		},
		MQTT: MQTTConfig{
			Port:      defaultHubPort,
			TLS:       true,
			KeepAlive: defaultKeepAlive,
			QoS:       1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		TimeSource: TimeSourceConfig{
			Mode:       "system",
			EpochField: "now.epoch",
			Timeout:    5,
		},
		Database: DatabaseConfig{
			Path:        "./data/aziot.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Telemetry: TelemetryConfig{
			Enabled:       true,
			PublishPeriod: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 15,
			},
			Operator: OperatorConfig{
				Username: "admin",
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: AZIOT_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Device identity (key is secret material: keep it out of the file)
	if v := os.Getenv("AZIOT_HUB_ID"); v != "" {
		cfg.Device.HubID = v
	}
	if v := os.Getenv("AZIOT_DEVICE_ID"); v != "" {
		cfg.Device.DeviceID = v
	}
	if v := os.Getenv("AZIOT_DEVICE_KEY"); v != "" {
		cfg.Device.Key = v
	}

	// Database
	if v := os.Getenv("AZIOT_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Time source
	if v := os.Getenv("AZIOT_TIMESOURCE_URL"); v != "" {
		cfg.TimeSource.URL = v
	}

	// InfluxDB
	if v := os.Getenv("AZIOT_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Security - JWT secret (IMPORTANT: always override in production)
	if v := os.Getenv("AZIOT_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
	if v := os.Getenv("AZIOT_OPERATOR_PASSWORD"); v != "" {
		cfg.Security.Operator.Password = v
	}
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Device identity validation
	if c.Device.HubID == "" {
		errs = append(errs, "device.hub_id is required")
	}
	if c.Device.DeviceID == "" {
		errs = append(errs, "device.device_id is required")
	}
	if c.Device.Key == "" {
		errs = append(errs, "device.key is required (set AZIOT_DEVICE_KEY environment variable)")
	}
	if c.Device.TokenLifetime <= 0 {
		errs = append(errs, "device.token_lifetime must be positive")
	}

	// Transport validation
	if c.MQTT.Port < 1 || c.MQTT.Port > 65535 {
		errs = append(errs, "mqtt.port must be between 1 and 65535")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 1 {
		errs = append(errs, "mqtt.qos must be 0 or 1 (the hub rejects QoS 2)")
	}
	if c.MQTT.KeepAlive <= 0 {
		errs = append(errs, "mqtt.keepalive must be positive")
	}

	// Time source validation
	switch c.TimeSource.Mode {
	case "system":
	case "http":
		if c.TimeSource.URL == "" {
			errs = append(errs, "timesource.url is required when timesource.mode is http")
		}
	default:
		errs = append(errs, "timesource.mode must be system or http")
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// API validation (only enforced when the local API is on)
	if c.API.Enabled {
		if c.API.Port < 1 || c.API.Port > 65535 {
			errs = append(errs, "api.port must be between 1 and 65535")
		}

		// A forgeable bearer token on the status API exposes twin reports
		// and event publishing to anything on the local network.
		const minJWTSecretLength = 32
		if c.Security.JWT.Secret == "" {
			errs = append(errs, "security.jwt.secret is required when api.enabled (set AZIOT_JWT_SECRET environment variable)")
		} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
			errs = append(errs, "security.jwt.secret must be at least 32 characters")
		}

		if c.Security.Operator.Username == "" {
			errs = append(errs, "security.operator.username is required when api.enabled")
		}
		if c.Security.Operator.Password == "" {
			errs = append(errs, "security.operator.password is required when api.enabled (set AZIOT_OPERATOR_PASSWORD environment variable)")
		}
	}

	// Telemetry validation
	if c.Telemetry.Enabled && c.Telemetry.PublishPeriod <= 0 {
		errs = append(errs, "telemetry.publish_period must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// BrokerHost returns the MQTT broker host: the configured override if set,
// otherwise the host derived from the hub identifier.
func (c *Config) BrokerHost() string {
	if c.MQTT.Host != "" {
		return c.MQTT.Host
	}
	return c.Device.HubID + ".azure-devices.net"
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
