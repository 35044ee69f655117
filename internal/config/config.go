package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Bridge          BridgeConfig      `yaml:"bridge"`
	Refresh         RefreshConfig     `yaml:"refresh"`
	Lights          LightsConfig      `yaml:"lights"`
	Ramps           RampsConfig       `yaml:"ramps"`
	Tracking        TrackingConfig    `yaml:"tracking"`
	Database        DatabaseConfig    `yaml:"database"`
	Log             LogConfig         `yaml:"log"`
	Ledger          LedgerConfig      `yaml:"ledger"`
	Healthcheck     HealthcheckConfig `yaml:"healthcheck"`
	EventBus        EventBusConfig    `yaml:"eventbus"`
	API             APIConfig         `yaml:"api"`
	MQTT            MQTTConfig        `yaml:"mqtt"`
	InfluxDB        InfluxDBConfig    `yaml:"influxdb"`
	Script          string            `yaml:"script"`
	ShutdownTimeout Duration          `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// BridgeConfig contains Hue bridge connection settings
type BridgeConfig struct {
	Address      string   `yaml:"address"`  // Host or IP; discovered when empty
	Username     string   `yaml:"username"` // Whitelisted user; read from the credentials store when empty
	UseHTTPS     bool     `yaml:"use_https"`
	Timeout      Duration `yaml:"timeout"`        // HTTP timeout for bridge requests
	RateLimitRPS float64  `yaml:"rate_limit_rps"` // Max bridge requests per second (0 = unlimited)
	AppName      string   `yaml:"app_name"`       // Used when pairing
	DeviceName   string   `yaml:"device_name"`
}

// RefreshConfig controls how the local mirror follows the bridge
type RefreshConfig struct {
	Interval          Duration `yaml:"interval"` // 0 disables the periodic refresh
	Parts             []string `yaml:"parts"`    // bridge, lights, groups, scenes
	BridgeMinuteOfDay *int     `yaml:"bridge_minute_of_day"`
	SortOrder         string   `yaml:"sort_order"` // name or id
}

// GetBridgeMinuteOfDay returns the daily config refresh minute, -1 when disabled
func (c *RefreshConfig) GetBridgeMinuteOfDay() int {
	if c.BridgeMinuteOfDay == nil {
		return 180
	}
	return *c.BridgeMinuteOfDay
}

// LightsConfig contains light command defaults
type LightsConfig struct {
	DefaultTransitionTime *int `yaml:"default_transition_time"` // Deciseconds, -1 = bridge default
}

// GetDefaultTransitionTime returns the client-wide transition time with default
func (c *LightsConfig) GetDefaultTransitionTime() int {
	if c.DefaultTransitionTime == nil {
		return -1
	}
	return *c.DefaultTransitionTime
}

// RampsConfig contains the full-sweep duration of each ramp kind
type RampsConfig struct {
	Raise    Duration `yaml:"raise"`
	Lower    Duration `yaml:"lower"`
	CycleDim Duration `yaml:"cycle_dim"`
	CycleHue Duration `yaml:"cycle_hue"`
	CycleSat Duration `yaml:"cycle_sat"`
	CycleCT  Duration `yaml:"cycle_ct"`
}

// TrackingConfig contains poll intervals and timeouts of long-running bridge operations
type TrackingConfig struct {
	UpdateCheckInterval Duration `yaml:"update_check_interval"`
	UpdateCheckTimeout  Duration `yaml:"update_check_timeout"`
	UpdateApplyInterval Duration `yaml:"update_apply_interval"`
	UpdateApplyTimeout  Duration `yaml:"update_apply_timeout"`
	SearchInterval      Duration `yaml:"search_interval"`
	SearchTimeout       Duration `yaml:"search_timeout"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Colors bool   `yaml:"colors"`
	JSON   bool   `yaml:"json"`
}

// LedgerConfig contains event ledger settings
type LedgerConfig struct {
	CleanupInterval Duration `yaml:"cleanup_interval"`
	RetentionDays   int      `yaml:"retention_days"`
}

// HealthcheckConfig contains health check server settings
type HealthcheckConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// EventBusConfig contains event bus settings
type EventBusConfig struct {
	Workers   int `yaml:"workers"`    // Number of worker goroutines (default: 4)
	QueueSize int `yaml:"queue_size"` // Event queue size (default: 100)
}

// GetWorkers returns worker count with default
func (c *EventBusConfig) GetWorkers() int {
	if c.Workers <= 0 {
		return 4
	}
	return c.Workers
}

// GetQueueSize returns queue size with default
func (c *EventBusConfig) GetQueueSize() int {
	if c.QueueSize <= 0 {
		return 100
	}
	return c.QueueSize
}

// APIConfig contains the control API server settings
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// GetPort returns the API port with default
func (c *APIConfig) GetPort() int {
	if c.Port <= 0 {
		return 8080
	}
	return c.Port
}

// MQTTConfig contains MQTT broker settings for event publishing
type MQTTConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	TLS         bool     `yaml:"tls"`
	ClientID    string   `yaml:"client_id"`
	Username    string   `yaml:"username"`
	Password    string   `yaml:"password"`
	QoS         int      `yaml:"qos"`
	TopicPrefix string   `yaml:"topic_prefix"`
	RetryDelay  Duration `yaml:"retry_delay"`     // Initial reconnect delay
	MaxDelay    Duration `yaml:"max_retry_delay"` // Reconnect backoff cap
}

// GetPort returns the broker port with default
func (c *MQTTConfig) GetPort() int {
	if c.Port <= 0 {
		if c.TLS {
			return 8883
		}
		return 1883
	}
	return c.Port
}

// InfluxDBConfig contains InfluxDB settings for light state metrics
type InfluxDBConfig struct {
	Enabled       bool     `yaml:"enabled"`
	URL           string   `yaml:"url"`
	Token         string   `yaml:"token"`
	Org           string   `yaml:"org"`
	Bucket        string   `yaml:"bucket"`
	BatchSize     int      `yaml:"batch_size"`
	FlushInterval Duration `yaml:"flush_interval"`
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse expands environment variables in data, unmarshals it and applies
// defaults
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./huesync.sqlite"
	}
	if cfg.Script == "" {
		cfg.Script = "main.lua"
	}

	// Bridge defaults
	if cfg.Bridge.Timeout == 0 {
		cfg.Bridge.Timeout = Duration(30 * time.Second)
	}
	if cfg.Bridge.RateLimitRPS == 0 {
		cfg.Bridge.RateLimitRPS = 10.0 // The bridge handles about ten light commands per second
	}
	if cfg.Bridge.AppName == "" {
		cfg.Bridge.AppName = "huesync"
	}
	if cfg.Bridge.DeviceName == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "daemon"
		}
		cfg.Bridge.DeviceName = host
	}

	// Refresh defaults
	if len(cfg.Refresh.Parts) == 0 {
		cfg.Refresh.Parts = []string{"lights", "groups", "scenes"}
	}
	if cfg.Refresh.SortOrder == "" {
		cfg.Refresh.SortOrder = "name"
	}
	if m := cfg.Refresh.GetBridgeMinuteOfDay(); m >= 24*60 {
		return nil, fmt.Errorf("refresh.bridge_minute_of_day must be below %d, got %d", 24*60, m)
	}

	// Ramp defaults
	defaultDuration(&cfg.Ramps.Raise, 2*time.Second)
	defaultDuration(&cfg.Ramps.Lower, 2*time.Second)
	defaultDuration(&cfg.Ramps.CycleDim, 2*time.Second)
	defaultDuration(&cfg.Ramps.CycleHue, 10*time.Second)
	defaultDuration(&cfg.Ramps.CycleSat, 2*time.Second)
	defaultDuration(&cfg.Ramps.CycleCT, 2*time.Second)

	// Tracking defaults
	defaultDuration(&cfg.Tracking.UpdateCheckInterval, 5*time.Second)
	defaultDuration(&cfg.Tracking.UpdateCheckTimeout, 5*time.Minute)
	defaultDuration(&cfg.Tracking.UpdateApplyInterval, 1*time.Second)
	defaultDuration(&cfg.Tracking.UpdateApplyTimeout, 15*time.Minute)
	defaultDuration(&cfg.Tracking.SearchInterval, 1*time.Second)
	defaultDuration(&cfg.Tracking.SearchTimeout, 65*time.Second)

	// Ledger defaults
	if cfg.Ledger.CleanupInterval == 0 {
		cfg.Ledger.CleanupInterval = Duration(24 * time.Hour)
	}
	if cfg.Ledger.RetentionDays == 0 {
		cfg.Ledger.RetentionDays = 30
	}

	// Healthcheck defaults
	if cfg.Healthcheck.Port == 0 {
		cfg.Healthcheck.Port = 9090
	}
	if cfg.Healthcheck.Host == "" {
		cfg.Healthcheck.Host = "0.0.0.0"
	}

	// API defaults
	if cfg.API.Host == "" {
		cfg.API.Host = "0.0.0.0"
	}

	// MQTT defaults
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "huesync"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "huesync"
	}
	if cfg.MQTT.QoS < 0 || cfg.MQTT.QoS > 2 {
		return nil, fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", cfg.MQTT.QoS)
	}
	defaultDuration(&cfg.MQTT.RetryDelay, 1*time.Second)
	defaultDuration(&cfg.MQTT.MaxDelay, 2*time.Minute)

	// InfluxDB defaults
	if cfg.InfluxDB.BatchSize <= 0 {
		cfg.InfluxDB.BatchSize = 100
	}
	defaultDuration(&cfg.InfluxDB.FlushInterval, 10*time.Second)

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}

	return &cfg, nil
}

func defaultDuration(d *Duration, def time.Duration) {
	if *d == 0 {
		*d = Duration(def)
	}
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}

// ExpandEnvString expands a single string with environment variables
func ExpandEnvString(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		return expandEnvVars(s)
	}
	return s
}
