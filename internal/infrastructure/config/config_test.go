package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestLoad_ValidConfig(t *testing.T) {
	// Create a temporary config file
	content := `
site:
  id: "test-site"
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
scada:
  target: "broker.example.io:6443"
  login: "homeowner"
  password: "hunter2hunter2"
  tags:
    - "home.lounge_light"
api:
  host: "0.0.0.0"
  port: 8080
security:
  jwt:
    secret: "test-secret-key-at-least-32-chars!"
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Site.ID != "test-site" {
		t.Errorf("Site.ID = %q, want %q", cfg.Site.ID, "test-site")
	}

	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}

	if cfg.Scada.Target != "broker.example.io:6443" {
		t.Errorf("Scada.Target = %q, want %q", cfg.Scada.Target, "broker.example.io:6443")
	}

	// Defaults survive a partial file
	if cfg.Scada.Reconnect.InitialDelay != 1 {
		t.Errorf("Scada.Reconnect.InitialDelay = %d, want 1", cfg.Scada.Reconnect.InitialDelay)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("invalid: [yaml: content"), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
site:
  id: ""
database:
  path: "/tmp/test.db"
api:
  port: 8080
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected validation error for empty site.id, got nil")
	}
}

// validTestConfig returns a config that passes Validate; tests mutate
// single fields to provoke specific failures.
func validTestConfig() *Config {
	cfg := defaultConfig()
	cfg.Scada.Target = "broker.example.io:6443"
	cfg.Scada.Login = "homeowner"
	cfg.Security.JWT.Secret = "test-secret-key-at-least-32-chars!"
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "missing site ID",
			mutate:  func(c *Config) { c.Site.ID = "" },
			wantErr: true,
		},
		{
			name:    "missing database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: true,
		},
		{
			name:    "missing scada target",
			mutate:  func(c *Config) { c.Scada.Target = "" },
			wantErr: true,
		},
		{
			name: "no login and no token",
			mutate: func(c *Config) {
				c.Scada.Login = ""
				c.Scada.Token = ""
			},
			wantErr: true,
		},
		{
			name: "token alone is enough",
			mutate: func(c *Config) {
				c.Scada.Login = ""
				c.Scada.Token = "cached-broker-token"
			},
			wantErr: false,
		},
		{
			name:    "zero initial reconnect delay",
			mutate:  func(c *Config) { c.Scada.Reconnect.InitialDelay = 0 },
			wantErr: true,
		},
		{
			name: "max reconnect delay below initial",
			mutate: func(c *Config) {
				c.Scada.Reconnect.InitialDelay = 10
				c.Scada.Reconnect.MaxDelay = 5
			},
			wantErr: true,
		},
		{
			name:    "invalid port low",
			mutate:  func(c *Config) { c.API.Port = 0 },
			wantErr: true,
		},
		{
			name:    "invalid port high",
			mutate:  func(c *Config) { c.API.Port = 70000 },
			wantErr: true,
		},
		{
			name: "invalid QoS when MQTT enabled",
			mutate: func(c *Config) {
				c.MQTT.Enabled = true
				c.MQTT.QoS = 3
			},
			wantErr: true,
		},
		{
			name: "invalid QoS ignored when MQTT disabled",
			mutate: func(c *Config) {
				c.MQTT.Enabled = false
				c.MQTT.QoS = 3
			},
			wantErr: false,
		},
		{
			name:    "invalid solar mode",
			mutate:  func(c *Config) { c.Scheduler.Solar.Mode = "astral" },
			wantErr: true,
		},
		{
			name:    "missing JWT secret",
			mutate:  func(c *Config) { c.Security.JWT.Secret = "" },
			wantErr: true,
		},
		{
			name:    "JWT secret too short",
			mutate:  func(c *Config) { c.Security.JWT.Secret = "short" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validTestConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := &Config{
		API: APIConfig{
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 45,
				Idle:  60,
			},
		},
	}

	if got := cfg.GetReadTimeout().Seconds(); got != 30 {
		t.Errorf("GetReadTimeout() = %v, want 30", got)
	}

	if got := cfg.GetWriteTimeout().Seconds(); got != 45 {
		t.Errorf("GetWriteTimeout() = %v, want 45", got)
	}

	if got := cfg.GetIdleTimeout().Seconds(); got != 60 {
		t.Errorf("GetIdleTimeout() = %v, want 60", got)
	}
}

func TestScadaConfig_SubscriptionTags(t *testing.T) {
	cfg := ScadaConfig{
		Tags:      []string{"home.lounge_light", "home.kitchen_fan", ""},
		MeterTags: []string{"home.meter_power", "home.lounge_light"},
	}

	got := cfg.SubscriptionTags()
	want := []string{"home.lounge_light", "home.kitchen_fan", "home.meter_power"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("SubscriptionTags() = %v, want %v", got, want)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	// Set environment variables
	t.Setenv("HOMECORE_DATABASE_PATH", "/custom/path.db")
	t.Setenv("HOMECORE_SCADA_TARGET", "other.example.io:6443")
	t.Setenv("HOMECORE_SCADA_PASSWORD", "env-password")
	t.Setenv("HOMECORE_SCADA_TOKEN", "env-token")
	t.Setenv("HOMECORE_MQTT_HOST", "mqtt.example.com")
	t.Setenv("HOMECORE_MQTT_USERNAME", "testuser")
	t.Setenv("HOMECORE_MQTT_PASSWORD", "testpass")
	t.Setenv("HOMECORE_API_HOST", "192.168.1.1")
	t.Setenv("HOMECORE_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("HOMECORE_JWT_SECRET", "jwt-secret")

	applyEnvOverrides(cfg)

	if cfg.Database.Path != "/custom/path.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/custom/path.db")
	}

	if cfg.Scada.Target != "other.example.io:6443" {
		t.Errorf("Scada.Target = %q, want %q", cfg.Scada.Target, "other.example.io:6443")
	}

	if cfg.Scada.Password != "env-password" {
		t.Errorf("Scada.Password = %q, want %q", cfg.Scada.Password, "env-password")
	}

	if cfg.Scada.Token != "env-token" {
		t.Errorf("Scada.Token = %q, want %q", cfg.Scada.Token, "env-token")
	}

	if cfg.MQTT.Broker.Host != "mqtt.example.com" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "mqtt.example.com")
	}

	if cfg.MQTT.Auth.Username != "testuser" {
		t.Errorf("MQTT.Auth.Username = %q, want %q", cfg.MQTT.Auth.Username, "testuser")
	}

	if cfg.API.Host != "192.168.1.1" {
		t.Errorf("API.Host = %q, want %q", cfg.API.Host, "192.168.1.1")
	}

	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q, want %q", cfg.InfluxDB.Token, "secret-token")
	}

	if cfg.Security.JWT.Secret != "jwt-secret" {
		t.Errorf("Security.JWT.Secret = %q, want %q", cfg.Security.JWT.Secret, "jwt-secret")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Site.ID == "" {
		t.Error("defaultConfig should have non-empty Site.ID")
	}

	if cfg.Database.Path == "" {
		t.Error("defaultConfig should have non-empty Database.Path")
	}

	if cfg.Scada.Reconnect.MaxDelay != 60 {
		t.Errorf("defaultConfig Scada.Reconnect.MaxDelay = %d, want 60", cfg.Scada.Reconnect.MaxDelay)
	}

	if cfg.API.Port != 8080 {
		t.Errorf("defaultConfig API.Port = %d, want 8080", cfg.API.Port)
	}

	if cfg.Scheduler.Solar.Mode != "lookup" {
		t.Errorf("defaultConfig Scheduler.Solar.Mode = %q, want %q", cfg.Scheduler.Solar.Mode, "lookup")
	}
}
