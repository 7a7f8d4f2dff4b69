package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the perimeter core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Redis      RedisConfig      `yaml:"redis"`
	Database   DatabaseConfig   `yaml:"database"`
	Discovery  DiscoveryConfig  `yaml:"discovery"`
	Handshake  HandshakeConfig  `yaml:"handshake"`
	Events     EventsConfig     `yaml:"events"`
	Alarms     AlarmsConfig     `yaml:"alarms"`
	Thresholds ThresholdsConfig `yaml:"thresholds"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	API        APIConfig        `yaml:"api"`
	WebSocket  WebSocketConfig  `yaml:"websocket"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// RedisConfig contains device registry connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// DatabaseConfig contains SQLite database settings for the event and device logs.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// DiscoveryConfig contains UDP probe listener settings.
type DiscoveryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Port        int    `yaml:"port"`
	ServiceName string `yaml:"service_name"`
}

// HandshakeConfig contains settings for the outbound TCP credential
// handshake performed after a valid discovery probe.
type HandshakeConfig struct {
	Password   string `yaml:"password"`
	ClientPort int    `yaml:"client_port"`
	Timeout    int    `yaml:"timeout"` // seconds
}

// EventsConfig contains event bus settings.
type EventsConfig struct {
	BufferSize int `yaml:"buffer_size"`
}

// AlarmsConfig contains alarm relay command settings.
type AlarmsConfig struct {
	Cooldown       int `yaml:"cooldown"`        // seconds after silencing before a relay may re-trigger
	CommandTimeout int `yaml:"command_timeout"` // seconds per relay HTTP command
}

// ThresholdsConfig contains default temperature grading thresholds,
// seeded into the registry on first start.
type ThresholdsConfig struct {
	Warning  float64 `yaml:"warning"`
	Critical float64 `yaml:"critical"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings.
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

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
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
// Environment variables follow the pattern: PERIMETER_SECTION_KEY
// For example: PERIMETER_DATABASE_PATH, PERIMETER_REDIS_ADDR
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

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			DB:       0,
			PoolSize: 10,
		},
		Database: DatabaseConfig{
			Path:        "./data/perimeter.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Discovery: DiscoveryConfig{
			Enabled:     true,
			Port:        41234,
			ServiceName: "perimeter",
		},
		Handshake: HandshakeConfig{
			ClientPort: 31337,
			Timeout:    10,
		},
		Events: EventsConfig{
			BufferSize: 256,
		},
		Alarms: AlarmsConfig{
			Cooldown:       30,
			CommandTimeout: 5,
		},
		Thresholds: ThresholdsConfig{
			Warning:  40,
			Critical: 60,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "perimeter-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: PERIMETER_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Redis
	if v := os.Getenv("PERIMETER_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("PERIMETER_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}

	// Database
	if v := os.Getenv("PERIMETER_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Discovery / handshake
	if v := os.Getenv("PERIMETER_DISCOVERY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Discovery.Port = port
		}
	}
	if v := os.Getenv("PERIMETER_HANDSHAKE_PASSWORD"); v != "" {
		cfg.Handshake.Password = v
	}

	// MQTT
	if v := os.Getenv("PERIMETER_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("PERIMETER_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("PERIMETER_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("PERIMETER_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("PERIMETER_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Registry validation
	if c.Redis.Addr == "" {
		errs = append(errs, "redis.addr is required")
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// Discovery validation
	if c.Discovery.Enabled {
		if c.Discovery.Port < 1 || c.Discovery.Port > 65535 {
			errs = append(errs, "discovery.port must be between 1 and 65535")
		}
		if c.Discovery.ServiceName == "" {
			errs = append(errs, "discovery.service_name is required")
		}

		// Handshake validation - the credential is REQUIRED when discovery runs.
		// An empty password would be written verbatim to every device that
		// probes, silently provisioning the whole fleet with no credential.
		if c.Handshake.Password == "" {
			errs = append(errs, "handshake.password is required (set PERIMETER_HANDSHAKE_PASSWORD environment variable)")
		}
		if c.Handshake.ClientPort < 1 || c.Handshake.ClientPort > 65535 {
			errs = append(errs, "handshake.client_port must be between 1 and 65535")
		}
	}

	// Threshold validation
	if c.Thresholds.Warning >= c.Thresholds.Critical {
		errs = append(errs, "thresholds.warning must be below thresholds.critical")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// API validation
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
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

// GetHandshakeTimeout returns the TCP handshake deadline as a Duration.
func (c *Config) GetHandshakeTimeout() time.Duration {
	return time.Duration(c.Handshake.Timeout) * time.Second
}

// GetAlarmCooldown returns the alarm re-trigger cooldown as a Duration.
func (c *Config) GetAlarmCooldown() time.Duration {
	return time.Duration(c.Alarms.Cooldown) * time.Second
}
