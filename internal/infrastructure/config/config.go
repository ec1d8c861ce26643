package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Gray Logic Gateway.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site       SiteConfig       `yaml:"site"`
	Database   DatabaseConfig   `yaml:"database"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	Logging    LoggingConfig    `yaml:"logging"`
	DoorAccess DoorAccessConfig `yaml:"door_access"`
	Monitor    MonitorConfig    `yaml:"monitor"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
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

// DoorAccessConfig contains door-access controller settings.
type DoorAccessConfig struct {
	// DefaultTimeoutMs applies to controllers without their own timeout.
	// Default: 5000
	DefaultTimeoutMs int `yaml:"default_timeout_ms"`

	// PublishEvents forwards access events to MQTT.
	PublishEvents bool `yaml:"publish_events"`

	// AuditEvents records access events in the audit log.
	AuditEvents bool `yaml:"audit_events"`

	// SuperviseInterval is how often controllers are reconnected and their
	// event stores read (seconds).
	// Default: 15
	SuperviseInterval int `yaml:"supervise_interval"`

	Controllers []ControllerConfig `yaml:"controllers"`
}

// ControllerConfig describes one physical or logical door controller.
type ControllerConfig struct {
	ID           string `yaml:"id"`
	Manufacturer string `yaml:"manufacturer"` // e.g. "HIK", "DAHUA", "ZKTECO"
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`

	// Username and Password fall back to vendor defaults when empty.
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	TimeoutMs int               `yaml:"timeout_ms"`
	Params    map[string]string `yaml:"params"`
}

// MonitorConfig contains facility-monitoring protocol settings.
type MonitorConfig struct {
	// PollInterval is how often connected devices are sampled (seconds).
	// Default: 30
	PollInterval int `yaml:"poll_interval"`

	Protocols []ProtocolConfig `yaml:"protocols"`
}

// ProtocolConfig describes one monitor protocol instance.
type ProtocolConfig struct {
	// Name is the registry key (e.g. "SENSOR-A"). Defaults to the upper-cased type.
	Name string `yaml:"name"`

	// Type selects the plugin: snmp, modbus, bms, sensor, firehost, custom.
	Type string `yaml:"type"`

	// Config is passed verbatim to the plugin's Init.
	Config map[string]any `yaml:"config"`

	Devices []MonitorDeviceConfig `yaml:"devices"`
}

// MonitorDeviceConfig describes one monitored device.
type MonitorDeviceConfig struct {
	ID     string         `yaml:"id"`
	Host   string         `yaml:"host"`
	Port   int            `yaml:"port"`
	Params map[string]any `yaml:"params"`

	// Metrics limits what the poller samples. Empty samples everything.
	Metrics []string `yaml:"metrics"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
// For example: GRAYLOGIC_DATABASE_PATH, GRAYLOGIC_MQTT_HOST
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
			ID:   "site-001",
			Name: "Gray Logic",
		},
		Database: DatabaseConfig{
			Path:        "./data/gateway.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Enabled: true,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graylogic-gateway",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		DoorAccess: DoorAccessConfig{
			DefaultTimeoutMs:  5000,
			PublishEvents:     true,
			AuditEvents:       true,
			SuperviseInterval: 15,
		},
		Monitor: MonitorConfig{
			PollInterval: 30,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("GRAYLOGIC_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("GRAYLOGIC_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("GRAYLOGIC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("GRAYLOGIC_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Controller passwords: GRAYLOGIC_CONTROLLER_<ID>_PASSWORD
	for i := range cfg.DoorAccess.Controllers {
		c := &cfg.DoorAccess.Controllers[i]
		key := "GRAYLOGIC_CONTROLLER_" + envKey(c.ID) + "_PASSWORD"
		if v := os.Getenv(key); v != "" {
			c.Password = v
		}
	}
}

// envKey converts an identifier to its environment variable form.
func envKey(id string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_", " ", "_").Replace(id))
}

// Validate checks the configuration for errors.
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

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.DoorAccess.DefaultTimeoutMs < 0 {
		errs = append(errs, "door_access.default_timeout_ms must not be negative")
	}

	if c.DoorAccess.SuperviseInterval < 1 {
		errs = append(errs, "door_access.supervise_interval must be at least 1 second")
	}

	controllerIDs := make(map[string]bool)
	for i, ctrl := range c.DoorAccess.Controllers {
		prefix := fmt.Sprintf("door_access.controllers[%d]", i)
		if ctrl.ID == "" {
			errs = append(errs, prefix+".id is required")
		} else if controllerIDs[ctrl.ID] {
			errs = append(errs, fmt.Sprintf("%s.id %q is duplicated", prefix, ctrl.ID))
		}
		controllerIDs[ctrl.ID] = true
		if ctrl.Manufacturer == "" {
			errs = append(errs, prefix+".manufacturer is required")
		}
		if ctrl.Host == "" {
			errs = append(errs, prefix+".host is required")
		}
		if ctrl.Port < 1 || ctrl.Port > 65535 {
			errs = append(errs, prefix+".port must be between 1 and 65535")
		}
	}

	if c.Monitor.PollInterval < 1 {
		errs = append(errs, "monitor.poll_interval must be at least 1 second")
	}

	protocolNames := make(map[string]bool)
	for i, p := range c.Monitor.Protocols {
		prefix := fmt.Sprintf("monitor.protocols[%d]", i)
		if p.Type == "" {
			errs = append(errs, prefix+".type is required")
			continue
		}
		name := p.RegistryName()
		if protocolNames[name] {
			errs = append(errs, fmt.Sprintf("%s.name %q is duplicated", prefix, name))
		}
		protocolNames[name] = true
		for j, d := range p.Devices {
			if d.ID == "" {
				errs = append(errs, fmt.Sprintf("%s.devices[%d].id is required", prefix, j))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// RegistryName returns the protocol registry key for this instance.
func (p ProtocolConfig) RegistryName() string {
	if p.Name != "" {
		return p.Name
	}
	return strings.ToUpper(p.Type)
}

// ControllerTimeout returns the controller timeout, falling back to the door-access default.
func (c *Config) ControllerTimeout(ctrl ControllerConfig) time.Duration {
	ms := ctrl.TimeoutMs
	if ms <= 0 {
		ms = c.DoorAccess.DefaultTimeoutMs
	}
	return time.Duration(ms) * time.Millisecond
}

// GetSuperviseInterval returns the door controller supervision interval as a Duration.
func (c *Config) GetSuperviseInterval() time.Duration {
	return time.Duration(c.DoorAccess.SuperviseInterval) * time.Second
}

// GetPollInterval returns the monitor poll interval as a Duration.
func (c *Config) GetPollInterval() time.Duration {
	return time.Duration(c.Monitor.PollInterval) * time.Second
}

// StringParams returns the device params with every value formatted as a string.
func (d MonitorDeviceConfig) StringParams() map[string]string {
	out := make(map[string]string, len(d.Params))
	for k, v := range d.Params {
		out[k] = fmt.Sprint(v)
	}
	return out
}
