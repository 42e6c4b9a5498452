package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// envPrefix is prepended to every environment override.
const envPrefix = "TASMOTA_BRIDGE_"

// Config is the root configuration for the Tasmota bridge.
// Values come from defaults, then the YAML file, then environment variables.
type Config struct {
	Bridge       BridgeConfig       `yaml:"bridge"`
	Database     DatabaseConfig     `yaml:"database"`
	MQTT         MQTTConfig         `yaml:"mqtt"`
	InfluxDB     InfluxDBConfig     `yaml:"influxdb"`
	Redis        RedisConfig        `yaml:"redis"`
	API          APIConfig          `yaml:"api"`
	VersionCheck VersionCheckConfig `yaml:"version_check"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// BridgeConfig controls device polling, discovery and transport liveness.
// Interval fields are whole seconds unless the field comment says otherwise.
type BridgeConfig struct {
	Debug                 bool     `yaml:"debug"`
	CheckInterval         int      `yaml:"check_interval"`
	TickResolution        int      `yaml:"tick_resolution"`
	StabilizationInterval int      `yaml:"stabilization_interval"`
	PairingTimeout        int      `yaml:"pairing_timeout"`
	UpdateInterval        int      `yaml:"update_interval"` // minutes
	AnswerTimeout         int      `yaml:"answer_timeout"`
	ZigbeeTimeout         int      `yaml:"zigbee_timeout"` // minutes, 0 disables expiry
	WatchdogTimeout       int      `yaml:"watchdog_timeout"`
	WatchdogInterval      int      `yaml:"watchdog_interval"`
	GroupTopics           []string `yaml:"group_topics"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
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

// RedisConfig contains settings for the capability value cache.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	TTL      int    `yaml:"ttl"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// VersionCheckConfig controls the firmware release notifier.
type VersionCheckConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Owner        string `yaml:"owner"`
	Repo         string `yaml:"repo"`
	InitialDelay int    `yaml:"initial_delay"`
	Interval     int    `yaml:"interval"`
	Token        string `yaml:"token"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The loading order is:
//  1. Default values
//  2. YAML file values
//  3. Environment variables (TASMOTA_BRIDGE_SECTION_KEY)
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
		Bridge: BridgeConfig{
			CheckInterval:         30,
			TickResolution:        1,
			StabilizationInterval: 2,
			PairingTimeout:        30,
			UpdateInterval:        1,
			AnswerTimeout:         40,
			WatchdogTimeout:       600,
			WatchdogInterval:      60,
			GroupTopics:           []string{"sonoffs", "tasmotas"},
		},
		Database: DatabaseConfig{
			Path:        "./data/tasmota-bridge.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "tasmota-bridge",
			},
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
			TTL:  86400,
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
		VersionCheck: VersionCheckConfig{
			Enabled:      true,
			Owner:        "arendst",
			Repo:         "tasmota",
			InitialDelay: 300,
			Interval:     86400,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	overrides := []struct {
		key    string
		target *string
	}{
		{"DATABASE_PATH", &cfg.Database.Path},
		{"MQTT_HOST", &cfg.MQTT.Broker.Host},
		{"MQTT_USERNAME", &cfg.MQTT.Auth.Username},
		{"MQTT_PASSWORD", &cfg.MQTT.Auth.Password},
		{"API_HOST", &cfg.API.Host},
		{"INFLUXDB_TOKEN", &cfg.InfluxDB.Token},
		{"REDIS_ADDR", &cfg.Redis.Addr},
		{"REDIS_PASSWORD", &cfg.Redis.Password},
		{"GITHUB_TOKEN", &cfg.VersionCheck.Token},
	}
	for _, o := range overrides {
		if v := os.Getenv(envPrefix + o.key); v != "" {
			*o.target = v
		}
	}

	// Any non-empty value enables debug.
	if os.Getenv(envPrefix+"DEBUG") != "" {
		cfg.Bridge.Debug = true
	}
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []string

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	b := c.Bridge
	if b.CheckInterval <= 0 {
		errs = append(errs, "bridge.check_interval must be positive")
	}
	if b.TickResolution <= 0 {
		errs = append(errs, "bridge.tick_resolution must be positive")
	}
	if b.StabilizationInterval <= 0 {
		errs = append(errs, "bridge.stabilization_interval must be positive")
	}
	if b.PairingTimeout < b.StabilizationInterval {
		errs = append(errs, "bridge.pairing_timeout must not be shorter than bridge.stabilization_interval")
	}
	if b.UpdateInterval <= 0 {
		errs = append(errs, "bridge.update_interval must be positive")
	}
	if b.AnswerTimeout <= 0 {
		errs = append(errs, "bridge.answer_timeout must be positive")
	}
	if b.ZigbeeTimeout < 0 {
		errs = append(errs, "bridge.zigbee_timeout must not be negative")
	}
	if b.WatchdogTimeout <= 0 || b.WatchdogInterval <= 0 {
		errs = append(errs, "bridge.watchdog_timeout and bridge.watchdog_interval must be positive")
	}
	if len(b.GroupTopics) == 0 {
		errs = append(errs, "bridge.group_topics needs at least one topic")
	}

	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when influxdb is enabled")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, "redis.addr is required when redis is enabled")
	}

	if c.VersionCheck.Enabled {
		if c.VersionCheck.Owner == "" || c.VersionCheck.Repo == "" {
			errs = append(errs, "version_check.owner and version_check.repo are required")
		}
		if c.VersionCheck.Interval <= 0 {
			errs = append(errs, "version_check.interval must be positive")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration { return seconds(c.API.Timeouts.Read) }

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration { return seconds(c.API.Timeouts.Write) }

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration { return seconds(c.API.Timeouts.Idle) }

// CheckPeriod is how often every device gets a status check.
func (b BridgeConfig) CheckPeriod() time.Duration { return seconds(b.CheckInterval) }

// Tick is the scheduler resolution of the bridge event loop.
func (b BridgeConfig) Tick() time.Duration { return seconds(b.TickResolution) }

// StabilizationPeriod is the discovery sampling interval.
func (b BridgeConfig) StabilizationPeriod() time.Duration { return seconds(b.StabilizationInterval) }

// PairingWindow bounds a discovery session that never converges.
func (b BridgeConfig) PairingWindow() time.Duration { return seconds(b.PairingTimeout) }

// AnswerWindow is how long a device has to answer a command.
func (b BridgeConfig) AnswerWindow() time.Duration { return seconds(b.AnswerTimeout) }

// WatchdogWindow is the silence tolerated before the MQTT connection is reset.
func (b BridgeConfig) WatchdogWindow() time.Duration { return seconds(b.WatchdogTimeout) }

// WatchdogPeriod is how often the watchdog looks at the last message time.
func (b BridgeConfig) WatchdogPeriod() time.Duration { return seconds(b.WatchdogInterval) }

// InitialDelayDuration is the wait before the first release check.
func (v VersionCheckConfig) InitialDelayDuration() time.Duration { return seconds(v.InitialDelay) }

// IntervalDuration is the wait between release checks.
func (v VersionCheckConfig) IntervalDuration() time.Duration { return seconds(v.Interval) }

// TTLDuration is the expiry applied to cached capability values.
func (r RedisConfig) TTLDuration() time.Duration { return seconds(r.TTL) }
