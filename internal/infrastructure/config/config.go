package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Home Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Database  DatabaseConfig  `yaml:"database"`
	Scada     ScadaConfig     `yaml:"scada"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// ScadaConfig contains connection settings for the remote tag broker.
type ScadaConfig struct {
	// Target is the broker host:port, e.g. "broker.example.io:6443".
	Target string `yaml:"target"`

	// Login and Password are the broker account credentials used for the
	// full token exchange when no cached token is accepted.
	Login    string `yaml:"login"`
	Password string `yaml:"password"`

	// Token is an optional pre-shared broker token. It is probed for
	// liveness before use; a rejected token falls back to the login
	// exchange. Never logged.
	Token string `yaml:"token"`

	// VerifyTLS controls certificate verification for both the REST
	// token endpoints and the streaming connection. Field brokers
	// commonly run self-signed certificates, hence the toggle.
	VerifyTLS bool `yaml:"verify_tls"`

	// Tags is the initial tag subscription set.
	Tags []string `yaml:"tags"`

	// MeterTags are metering tags whose numeric values are additionally
	// written to InfluxDB. They ride the same broker session and are
	// merged into the subscription set.
	MeterTags []string `yaml:"meter_tags"`

	Reconnect ScadaReconnectConfig `yaml:"reconnect"`
}

// ScadaReconnectConfig contains reconnection backoff settings (seconds).
type ScadaReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains subscriber session settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
	SendBuffer     int    `yaml:"send_buffer"`
}

// InfluxDBConfig contains InfluxDB connection settings for meter telemetry.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// MQTTConfig contains settings for the optional MQTT event egress.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTReconnectConfig controls the paho auto-reconnect backoff, in
// seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
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

// SchedulerConfig contains automation scheduler settings.
type SchedulerConfig struct {
	Enabled bool        `yaml:"enabled"`
	Solar   SolarConfig `yaml:"solar"`
}

// SolarConfig controls how the observer location for sunrise/sunset
// computation is resolved.
type SolarConfig struct {
	// Mode is "fixed" (use Latitude/Longitude below) or "lookup"
	// (resolve coordinates by IP geolocation at recompute time).
	Mode      string  `yaml:"mode"`
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT token validation settings. Token issuance is
// handled by the external accounts service; Home Core only validates.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: HOMECORE_SECTION_KEY
// For example: HOMECORE_DATABASE_PATH, HOMECORE_SCADA_PASSWORD
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
		Site: SiteConfig{
			ID:       "home-001",
			Name:     "Home Core",
			Timezone: "UTC",
		},
		Database: DatabaseConfig{
			Path:        "./data/homecore.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Scada: ScadaConfig{
			Reconnect: ScadaReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
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
			SendBuffer:     256,
		},
		InfluxDB: InfluxDBConfig{
			URL:           "http://localhost:8086",
			Org:           "homecore",
			Bucket:        "meter_readings",
			BatchSize:     100,
			FlushInterval: 10,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "homecore",
			},
			QoS:         1,
			TopicPrefix: "homecore",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Scheduler: SchedulerConfig{
			Enabled: true,
			Solar: SolarConfig{
				Mode: "lookup",
			},
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
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: HOMECORE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("HOMECORE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Broker credentials - prefer env over file for secrets
	if v := os.Getenv("HOMECORE_SCADA_TARGET"); v != "" {
		cfg.Scada.Target = v
	}
	if v := os.Getenv("HOMECORE_SCADA_LOGIN"); v != "" {
		cfg.Scada.Login = v
	}
	if v := os.Getenv("HOMECORE_SCADA_PASSWORD"); v != "" {
		cfg.Scada.Password = v
	}
	if v := os.Getenv("HOMECORE_SCADA_TOKEN"); v != "" {
		cfg.Scada.Token = v
	}

	// API
	if v := os.Getenv("HOMECORE_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("HOMECORE_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// InfluxDB
	if v := os.Getenv("HOMECORE_INFLUXDB_URL"); v != "" {
		cfg.InfluxDB.URL = v
	}
	if v := os.Getenv("HOMECORE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// MQTT
	if v := os.Getenv("HOMECORE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("HOMECORE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("HOMECORE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Security - JWT secret (IMPORTANT: always override in production)
	if v := os.Getenv("HOMECORE_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.Scada.Target == "" {
		errs = append(errs, "scada.target is required")
	}
	if c.Scada.Login == "" && c.Scada.Token == "" {
		errs = append(errs, "scada.login or scada.token is required")
	}
	if c.Scada.Reconnect.InitialDelay < 1 {
		errs = append(errs, "scada.reconnect.initial_delay must be at least 1 second")
	}
	if c.Scada.Reconnect.MaxDelay < c.Scada.Reconnect.InitialDelay {
		errs = append(errs, "scada.reconnect.max_delay must not be below initial_delay")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.MQTT.Enabled && (c.MQTT.QoS < 0 || c.MQTT.QoS > 2) {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	switch c.Scheduler.Solar.Mode {
	case "fixed", "lookup":
	default:
		errs = append(errs, "scheduler.solar.mode must be \"fixed\" or \"lookup\"")
	}

	// JWT secret is REQUIRED. The API exposes physical device control;
	// a forgeable token means a stranger can switch the house off.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set HOMECORE_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// SubscriptionTags returns the merged subscription set: device tags plus
// metering tags, deduplicated, order preserved.
func (c *ScadaConfig) SubscriptionTags() []string {
	seen := make(map[string]struct{}, len(c.Tags)+len(c.MeterTags))
	merged := make([]string, 0, len(c.Tags)+len(c.MeterTags))
	for _, t := range append(append([]string{}, c.Tags...), c.MeterTags...) {
		if _, dup := seen[t]; dup || t == "" {
			continue
		}
		seen[t] = struct{}{}
		merged = append(merged, t)
	}
	return merged
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

// GetInitialReconnectDelay returns the broker reconnect initial delay as a Duration.
func (c *ScadaConfig) GetInitialReconnectDelay() time.Duration {
	return time.Duration(c.Reconnect.InitialDelay) * time.Second
}

// GetMaxReconnectDelay returns the broker reconnect delay cap as a Duration.
func (c *ScadaConfig) GetMaxReconnectDelay() time.Duration {
	return time.Duration(c.Reconnect.MaxDelay) * time.Second
}
