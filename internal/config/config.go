package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultLoggerAttributes is the attribute list used when none is configured.
const DefaultLoggerAttributes = "time,position,speed,course,accuracy,result"

type SinkConfig struct {
	URL       string        `yaml:"url"`
	Timeout   time.Duration `yaml:"timeout"`
	Workers   int           `yaml:"workers"`
	QueueSize int           `yaml:"queueSize"`
}

type StoreConfig struct {
	Driver        string        `yaml:"driver"`
	Timeout       time.Duration `yaml:"timeout"`
	MongoURI      string        `yaml:"mongoUri"`
	MongoDatabase string        `yaml:"mongoDatabase"`
	SQLitePath    string        `yaml:"sqlitePath"`
	RedisURL      string        `yaml:"redisUrl"`
	CacheTTL      time.Duration `yaml:"cacheTtl"`
}

type BusConfig struct {
	NATSURL     string `yaml:"natsUrl"`
	NATSSubject string `yaml:"natsSubject"`
	MQTTBroker  string `yaml:"mqttBroker"`
	MQTTTopic   string `yaml:"mqttTopic"`
}

type BatteryConfig struct {
	MinVoltage   float64 `yaml:"minVoltage"`
	VoltageRange float64 `yaml:"voltageRange"`
}

// Config is built once at startup and shared read-only by every connection.
type Config struct {
	Host        string        `yaml:"host"`
	TCPPort     int           `yaml:"tcpPort"`
	UDPPort     int           `yaml:"udpPort"`
	HTTPPort    int           `yaml:"httpPort"`
	LogLevel    string        `yaml:"logLevel"`
	LogFormat   string        `yaml:"logFormat"`
	IdleTimeout time.Duration `yaml:"idleTimeout"`
	TestMode    bool          `yaml:"testMode"`

	// Comma or space separated, mirrors the logger.attributes and
	// status.ignoreOffline settings of the device server.
	LoggerAttributes        string `yaml:"loggerAttributes"`
	ConnectionlessProtocols string `yaml:"connectionlessProtocols"`

	Sink    SinkConfig    `yaml:"sink"`
	Store   StoreConfig   `yaml:"store"`
	Bus     BusConfig     `yaml:"bus"`
	Battery BatteryConfig `yaml:"battery"`
}

func defaults() *Config {
	return &Config{
		Host:             "0.0.0.0",
		TCPPort:          5013,
		UDPPort:          5014,
		HTTPPort:         8000,
		LogLevel:         "info",
		LogFormat:        "text",
		IdleTimeout:      10 * time.Minute,
		LoggerAttributes: DefaultLoggerAttributes,
		Sink: SinkConfig{
			Timeout:   5 * time.Second,
			Workers:   16,
			QueueSize: 1024,
		},
		Store: StoreConfig{
			Driver:        "mongo",
			Timeout:       5 * time.Second,
			MongoDatabase: "tracking",
			SQLitePath:    "tracking.db",
			CacheTTL:      5 * time.Minute,
		},
		Bus: BusConfig{
			NATSSubject: "gpsrelay.reports",
			MQTTTopic:   "gpsrelay/reports",
		},
		Battery: BatteryConfig{
			MinVoltage:   3.3,
			VoltageRange: 0.9,
		},
	}
}

// LoadConfig builds the configuration from defaults, the optional YAML file
// named by CONFIG_FILE, and finally the environment.
func LoadConfig() (*Config, error) {
	cfg := defaults()

	if path := getEnv("CONFIG_FILE", ""); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.Host = getEnv("HOST", c.Host)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)
	c.LoggerAttributes = getEnv("LOGGER_ATTRIBUTES", c.LoggerAttributes)
	c.ConnectionlessProtocols = getEnv("STATUS_IGNORE_OFFLINE", c.ConnectionlessProtocols)
	c.TestMode = strings.EqualFold(getEnv("TEST_MODE", strconv.FormatBool(c.TestMode)), "true")

	c.Sink.URL = getEnv("SINK_URL", c.Sink.URL)

	c.Store.Driver = getEnv("STORE_DRIVER", c.Store.Driver)
	c.Store.MongoURI = getEnv("MONGODB_URI", c.Store.MongoURI)
	c.Store.MongoDatabase = getEnv("MONGODB_DATABASE", c.Store.MongoDatabase)
	c.Store.SQLitePath = getEnv("SQLITE_PATH", c.Store.SQLitePath)
	c.Store.RedisURL = getEnv("REDIS_URL", c.Store.RedisURL)

	c.Bus.NATSURL = getEnv("NATS_URL", c.Bus.NATSURL)
	c.Bus.NATSSubject = getEnv("NATS_SUBJECT", c.Bus.NATSSubject)
	c.Bus.MQTTBroker = getEnv("MQTT_BROKER", c.Bus.MQTTBroker)
	c.Bus.MQTTTopic = getEnv("MQTT_TOPIC", c.Bus.MQTTTopic)

	ints := []struct {
		key string
		dst *int
	}{
		{"TCP_PORT", &c.TCPPort},
		{"UDP_PORT", &c.UDPPort},
		{"HTTP_PORT", &c.HTTPPort},
		{"SINK_WORKERS", &c.Sink.Workers},
		{"SINK_QUEUE", &c.Sink.QueueSize},
	}
	for _, v := range ints {
		if err := envInt(v.key, v.dst); err != nil {
			return err
		}
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"SINK_TIMEOUT", &c.Sink.Timeout},
		{"STORE_TIMEOUT", &c.Store.Timeout},
		{"IDLE_TIMEOUT", &c.IdleTimeout},
		{"CACHE_TTL", &c.Store.CacheTTL},
	}
	for _, v := range durations {
		if err := envDuration(v.key, v.dst); err != nil {
			return err
		}
	}

	floats := []struct {
		key string
		dst *float64
	}{
		{"BATTERY_MIN_VOLTAGE", &c.Battery.MinVoltage},
		{"BATTERY_VOLTAGE_RANGE", &c.Battery.VoltageRange},
	}
	for _, v := range floats {
		if err := envFloat(v.key, v.dst); err != nil {
			return err
		}
	}
	return nil
}

// Validate reports the first setting that would prevent the server from running.
func (c *Config) Validate() error {
	if c.Sink.URL == "" {
		return fmt.Errorf("%w: SINK_URL", ErrMissingConfig)
	}
	if !strings.HasPrefix(c.Sink.URL, "http://") && !strings.HasPrefix(c.Sink.URL, "https://") {
		return fmt.Errorf("%w: SINK_URL must be an http(s) URL, got %q", ErrInvalidConfig, c.Sink.URL)
	}
	if c.Sink.Timeout <= 0 || c.Store.Timeout <= 0 {
		return fmt.Errorf("%w: timeouts must be positive", ErrInvalidConfig)
	}
	switch c.Store.Driver {
	case "memory", "sqlite":
	case "mongo":
		if c.Store.MongoURI == "" && !c.TestMode {
			return fmt.Errorf("%w: MONGODB_URI is required when not in test mode", ErrMissingConfig)
		}
	default:
		return fmt.Errorf("%w: unknown store driver %q", ErrInvalidConfig, c.Store.Driver)
	}
	if c.Battery.VoltageRange <= 0 {
		return fmt.Errorf("%w: battery voltage range must be positive", ErrInvalidConfig)
	}
	return nil
}

// LogAttributes returns the ordered attribute names rendered in position log lines.
func (c *Config) LogAttributes() []string {
	return splitList(c.LoggerAttributes)
}

// Connectionless returns the protocol names that never clear the active device marker.
func (c *Config) Connectionless() []string {
	return splitList(c.ConnectionlessProtocols)
}

func splitList(value string) []string {
	fields := strings.FieldsFunc(value, func(r rune) bool {
		return r == ',' || r == ' '
	})
	seen := make(map[string]struct{}, len(fields))
	result := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		result = append(result, f)
	}
	return result
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return strings.TrimSpace(value)
}

func envInt(key string, dst *int) error {
	raw := getEnv(key, "")
	if raw == "" {
		return nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("%w: %s=%q: %v", ErrInvalidConfig, key, raw, err)
	}
	*dst = v
	return nil
}

func envDuration(key string, dst *time.Duration) error {
	raw := getEnv(key, "")
	if raw == "" {
		return nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("%w: %s=%q: %v", ErrInvalidConfig, key, raw, err)
	}
	*dst = v
	return nil
}

func envFloat(key string, dst *float64) error {
	raw := getEnv(key, "")
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("%w: %s=%q: %v", ErrInvalidConfig, key, raw, err)
	}
	*dst = v
	return nil
}
