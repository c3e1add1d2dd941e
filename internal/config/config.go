// ABOUTME: Configuration loading and parsing for the loopgate bridge.
// ABOUTME: Supports YAML files with environment variable expansion, env overlay, and duration parsing.

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Transport names accepted in the transport field.
const (
	TransportConsole = "console"
	TransportSocket  = "socket"
	TransportRedis   = "redis"
	TransportMQTT    = "mqtt"
)

// Config represents the complete loopgate configuration.
type Config struct {
	TaskID      string `yaml:"task_id" env:"LOOPGATE_TASK_ID"`
	Transport   string `yaml:"transport" env:"LOOPGATE_TRANSPORT"`
	UploadsRoot string `yaml:"uploads_root" env:"LOOPGATE_UPLOADS_ROOT"`

	Timeout time.Duration `yaml:"-"`
	// Raw string value for YAML unmarshaling
	TimeoutRaw string `yaml:"timeout" env:"LOOPGATE_TIMEOUT"`

	Logging LoggingConfig `yaml:"logging"`
	Socket  SocketConfig  `yaml:"socket"`
	Redis   RedisConfig   `yaml:"redis"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LOOPGATE_LOG_LEVEL"`
	Format string `yaml:"format" env:"LOOPGATE_LOG_FORMAT"`
}

// SocketConfig holds WebSocket backend configuration. Exactly one of URL
// (dial out) or Listen (accept one session) is used.
type SocketConfig struct {
	URL    string `yaml:"url" env:"LOOPGATE_SOCKET_URL"`
	Listen string `yaml:"listen" env:"LOOPGATE_SOCKET_LISTEN"`
}

// RedisConfig holds the pub/sub + stream-log backend configuration.
type RedisConfig struct {
	Addr         string `yaml:"addr" env:"LOOPGATE_REDIS_ADDR"`
	Password     string `yaml:"password" env:"LOOPGATE_REDIS_PASSWORD"`
	DB           int    `yaml:"db" env:"LOOPGATE_REDIS_DB"`
	StreamMaxLen int64  `yaml:"stream_max_len" env:"LOOPGATE_REDIS_STREAM_MAX_LEN"`

	Retention time.Duration `yaml:"-"`
	// Raw string value for YAML unmarshaling
	RetentionRaw string `yaml:"retention" env:"LOOPGATE_REDIS_RETENTION"`
}

// MQTTConfig holds the broker-topic backend configuration.
type MQTTConfig struct {
	Broker   string `yaml:"broker" env:"LOOPGATE_MQTT_BROKER"`
	ClientID string `yaml:"client_id" env:"LOOPGATE_MQTT_CLIENT_ID"`
	Username string `yaml:"username" env:"LOOPGATE_MQTT_USERNAME"`
	Password string `yaml:"password" env:"LOOPGATE_MQTT_PASSWORD"`

	QoS byte `yaml:"-"`
	// Raw pointer value for YAML unmarshaling; absence (nil) selects the
	// default of 1, so an explicit qos: 0 stays selectable.
	QoSRaw *byte `yaml:"qos" env:"LOOPGATE_MQTT_QOS"`

	LedgerPath string `yaml:"ledger_path" env:"LOOPGATE_MQTT_LEDGER_PATH"`
}

// Load reads a configuration file from the given path and returns a parsed
// Config. Environment variables in the format ${VAR_NAME} are expanded, the
// LOOPGATE_ environment overlay is applied, and duration strings are parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse builds a Config from raw YAML bytes. See Load.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("applying env overlay: %w", err)
	}

	cfg.applyDefaults()

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Default returns the configuration used when no file is given: a console
// transport with standard timeouts.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.Timeout = 120 * time.Second
	cfg.Redis.Retention = 24 * time.Hour
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Transport == "" {
		c.Transport = TransportConsole
	}
	if c.TimeoutRaw == "" {
		c.TimeoutRaw = "120s"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.StreamMaxLen == 0 {
		c.Redis.StreamMaxLen = 1000
	}
	if c.Redis.RetentionRaw == "" {
		c.Redis.RetentionRaw = "24h"
	}
	if c.MQTT.Broker == "" {
		c.MQTT.Broker = "tcp://localhost:1883"
	}
	if c.MQTT.QoSRaw != nil {
		c.MQTT.QoS = *c.MQTT.QoSRaw
	} else {
		c.MQTT.QoS = 1
	}
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables expand to the empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and
// valid. Returns an error describing the first validation failure.
func (c *Config) Validate() error {
	switch c.Transport {
	case TransportConsole:
	case TransportSocket:
		if c.Socket.URL == "" && c.Socket.Listen == "" {
			return fmt.Errorf("socket.url or socket.listen is required for the socket transport")
		}
		if c.Socket.URL != "" && c.Socket.Listen != "" {
			return fmt.Errorf("socket.url and socket.listen are mutually exclusive")
		}
	case TransportRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required for the redis transport")
		}
	case TransportMQTT:
		if c.MQTT.Broker == "" {
			return fmt.Errorf("mqtt.broker is required for the mqtt transport")
		}
		if c.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt.qos must be 0, 1, or 2")
		}
	default:
		return fmt.Errorf("unknown transport %q", c.Transport)
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values.
func parseDurations(cfg *Config) error {
	var err error

	cfg.Timeout, err = time.ParseDuration(cfg.TimeoutRaw)
	if err != nil {
		return fmt.Errorf("parsing timeout %q: %w", cfg.TimeoutRaw, err)
	}

	cfg.Redis.Retention, err = time.ParseDuration(cfg.Redis.RetentionRaw)
	if err != nil {
		return fmt.Errorf("parsing redis retention %q: %w", cfg.Redis.RetentionRaw, err)
	}

	return nil
}
