package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	mu sync.RWMutex `yaml:"-"`

	MQTT        MQTTConfig        `yaml:"mqtt"`
	Protocol    ProtocolConfig    `yaml:"protocol"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Health      HealthConfig      `yaml:"health"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	Redis       RedisConfig       `yaml:"redis"`
	Database    DatabaseConfig    `yaml:"database"`
	API         APIConfig         `yaml:"api"`
}

type MQTTConfig struct {
	Host          string   `yaml:"host"`
	Port          int      `yaml:"port"`
	FallbackHosts []string `yaml:"fallback_hosts"` // host:port, tried in order after host
	TLS           bool     `yaml:"tls"`
	Username      string   `yaml:"username"`
	Password      string   `yaml:"password"`
	ClientID      string   `yaml:"client_id"`
	CleanSession  bool     `yaml:"clean_session"`

	KeepAlive      time.Duration `yaml:"keep_alive"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	AutoReconnect        bool          `yaml:"auto_reconnect"`
	ReconnectDelay       time.Duration `yaml:"reconnect_delay"`
	ReconnectMaxDelay    time.Duration `yaml:"reconnect_max_delay"`    // 0 = fixed delay, no backoff
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"` // 0 = unlimited

	DefaultQoS        int           `yaml:"default_qos"`
	RetainByDefault   bool          `yaml:"retain_by_default"`
	PendingBufferSize int           `yaml:"pending_buffer_size"`
	DisconnectQuiesce time.Duration `yaml:"disconnect_quiesce"`
}

// BrokerURLs returns the primary and fallback broker URLs in connection
// order.
func (m *MQTTConfig) BrokerURLs() []string {
	scheme := "tcp"
	if m.TLS {
		scheme = "ssl"
	}
	urls := []string{fmt.Sprintf("%s://%s:%d", scheme, m.Host, m.Port)}
	for _, h := range m.FallbackHosts {
		urls = append(urls, fmt.Sprintf("%s://%s", scheme, h))
	}
	return urls
}

type ProtocolConfig struct {
	BasePrefix   string `yaml:"base_prefix"`
	Version      string `yaml:"version"`
	Manufacturer string `yaml:"manufacturer"`
}

type PersistenceConfig struct {
	Directory   string        `yaml:"directory"`
	MaxMessages int           `yaml:"max_messages"`
	Expiration  time.Duration `yaml:"expiration"`
}

type HealthConfig struct {
	CheckInterval    time.Duration `yaml:"check_interval"`
	LatencyThreshold time.Duration `yaml:"latency_threshold"`
	FailureThreshold int           `yaml:"failure_threshold"`
	OpenTimeout      time.Duration `yaml:"open_timeout"`
}

type MaintenanceConfig struct {
	Interval time.Duration `yaml:"interval"`
}

type RedisConfig struct {
	Address  string `yaml:"address"` // empty disables the fleet state mirror
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type DatabaseConfig struct {
	Driver   string         `yaml:"driver"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

type APIConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	PasswordHash string `yaml:"password_hash"` // bcrypt; empty disables auth
}

func Defaults() *Config {
	return &Config{
		MQTT: MQTTConfig{
			Host:              "localhost",
			Port:              1883,
			ClientID:          "fleetlink",
			CleanSession:      true,
			KeepAlive:         30 * time.Second,
			ConnectTimeout:    10 * time.Second,
			AutoReconnect:     true,
			ReconnectDelay:    5 * time.Second,
			DefaultQoS:        1,
			PendingBufferSize: 10000,
			DisconnectQuiesce: 250 * time.Millisecond,
		},
		Protocol: ProtocolConfig{
			BasePrefix:   "vda5050/v2",
			Version:      "2.0.0",
			Manufacturer: "fleetlink",
		},
		Persistence: PersistenceConfig{
			Directory:   "pending",
			MaxMessages: 10000,
			Expiration:  24 * time.Hour,
		},
		Health: HealthConfig{
			CheckInterval:    30 * time.Second,
			LatencyThreshold: time.Second,
			FailureThreshold: 5,
			OpenTimeout:      60 * time.Second,
		},
		Maintenance: MaintenanceConfig{
			Interval: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Address:  "localhost:6379",
			Password: "",
			DB:       0,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{Path: "fleetlink.db"},
			Postgres: PostgresConfig{
				Host:     "localhost",
				Port:     5432,
				Database: "fleetlink",
				User:     "fleetlink",
				Password: "",
				SSLMode:  "disable",
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8083,
		},
	}
}

func Load(path string) (*Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the loaded configuration. A validation error is the one
// condition that must abort startup.
func (c *Config) Validate() error {
	if c.MQTT.Host == "" {
		return fmt.Errorf("mqtt.host is required")
	}
	if c.MQTT.Port < 1 || c.MQTT.Port > 65535 {
		return fmt.Errorf("mqtt.port %d out of range", c.MQTT.Port)
	}
	if c.MQTT.ClientID == "" {
		return fmt.Errorf("mqtt.client_id is required")
	}
	if c.MQTT.DefaultQoS < 0 || c.MQTT.DefaultQoS > 2 {
		return fmt.Errorf("mqtt.default_qos %d out of range (0-2)", c.MQTT.DefaultQoS)
	}
	if c.MQTT.PendingBufferSize < 1 {
		return fmt.Errorf("mqtt.pending_buffer_size must be positive")
	}
	if c.MQTT.AutoReconnect && c.MQTT.ReconnectDelay <= 0 {
		return fmt.Errorf("mqtt.reconnect_delay must be positive when auto_reconnect is on")
	}
	if c.MQTT.MaxReconnectAttempts < 0 {
		return fmt.Errorf("mqtt.max_reconnect_attempts must not be negative")
	}
	if c.Protocol.BasePrefix == "" {
		return fmt.Errorf("protocol.base_prefix is required")
	}
	if c.Protocol.Version == "" {
		return fmt.Errorf("protocol.version is required")
	}
	if c.Protocol.Manufacturer == "" {
		return fmt.Errorf("protocol.manufacturer is required")
	}
	if c.Persistence.Directory == "" {
		return fmt.Errorf("persistence.directory is required")
	}
	if c.Persistence.MaxMessages < 1 {
		return fmt.Errorf("persistence.max_messages must be positive")
	}
	if c.Persistence.Expiration <= 0 {
		return fmt.Errorf("persistence.expiration must be positive")
	}
	if c.Health.CheckInterval <= 0 {
		return fmt.Errorf("health.check_interval must be positive")
	}
	if c.Health.LatencyThreshold <= 0 {
		return fmt.Errorf("health.latency_threshold must be positive")
	}
	if c.Health.FailureThreshold < 1 {
		return fmt.Errorf("health.failure_threshold must be positive")
	}
	if c.Health.OpenTimeout <= 0 {
		return fmt.Errorf("health.open_timeout must be positive")
	}
	if c.Maintenance.Interval <= 0 {
		return fmt.Errorf("maintenance.interval must be positive")
	}
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown database driver: %s", c.Database.Driver)
	}
	if c.API.Port < 1 || c.API.Port > 65535 {
		return fmt.Errorf("api.port %d out of range", c.API.Port)
	}
	return nil
}

func (c *Config) Save(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
