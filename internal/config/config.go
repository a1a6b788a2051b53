// Package config loads the service configuration: an optional YAML file,
// then environment overrides, then defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	UserID     string           `yaml:"user_id"`
	HTTP       HTTPConfig       `yaml:"http"`
	Backend    BackendConfig    `yaml:"backend"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Influx     InfluxConfig     `yaml:"influx"`
	Reconciler ReconcilerConfig `yaml:"reconciler"`
	Registry   RegistryConfig   `yaml:"registry"`
	Alerts     AlertsConfig     `yaml:"alerts"`
	Simulator  SimulatorConfig  `yaml:"simulator"`
}

type HTTPConfig struct {
	Addr     string `yaml:"addr"`
	GRPCAddr string `yaml:"grpc_addr"`
}

type BackendConfig struct {
	Kind  string      `yaml:"kind"` // memory | redis
	Redis RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type MQTTConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	User        string   `yaml:"user"`
	Password    string   `yaml:"password"`
	ClientID    string   `yaml:"client_id"`
	TopicPrefix string   `yaml:"topic_prefix"`
	Devices     []string `yaml:"devices"`
}

type InfluxConfig struct {
	URL    string `yaml:"url"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

// Enabled reports whether an archive is configured.
func (c InfluxConfig) Enabled() bool { return c.URL != "" && c.Bucket != "" }

type ReconcilerConfig struct {
	PollInterval   time.Duration `yaml:"poll_interval"`
	HistoryLimit   int           `yaml:"history_limit"`
	AnalyticsLimit int           `yaml:"analytics_limit"`
	OnlineWindow   time.Duration `yaml:"online_window"`
	PendingTimeout time.Duration `yaml:"pending_timeout"`
}

type RegistryConfig struct {
	LoadTimeout time.Duration `yaml:"load_timeout"`
}

type AlertsConfig struct {
	Interval time.Duration `yaml:"interval"`
}

type SimulatorConfig struct {
	DeviceID string        `yaml:"device_id"`
	Interval time.Duration `yaml:"interval"`
	// Moisture is the starting soil moisture in percent.
	Moisture    float64 `yaml:"moisture"`
	DecayPerMin float64 `yaml:"decay_per_min"`
}

// Load reads path when it is not empty, applies environment overrides and
// fills defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	c.UserID = env("DRIP_USER_ID", c.UserID)
	c.HTTP.Addr = env("HTTP_ADDR", c.HTTP.Addr)
	c.HTTP.GRPCAddr = env("GRPC_ADDR", c.HTTP.GRPCAddr)

	c.Backend.Kind = env("BACKEND", c.Backend.Kind)
	c.Backend.Redis.Addr = env("REDIS_ADDR", c.Backend.Redis.Addr)
	c.Backend.Redis.Password = env("REDIS_PASSWORD", c.Backend.Redis.Password)
	c.Backend.Redis.DB = envInt("REDIS_DB", c.Backend.Redis.DB)

	c.MQTT.Enabled = envBool("MQTT_ENABLED", c.MQTT.Enabled)
	c.MQTT.Host = env("MQTT_HOST", c.MQTT.Host)
	c.MQTT.Port = envInt("MQTT_PORT", c.MQTT.Port)
	c.MQTT.User = env("MQTT_USERNAME", c.MQTT.User)
	c.MQTT.Password = env("MQTT_PASSWORD", c.MQTT.Password)
	c.MQTT.ClientID = env("MQTT_CLIENT_ID", c.MQTT.ClientID)
	c.MQTT.TopicPrefix = env("MQTT_TOPIC_PREFIX", c.MQTT.TopicPrefix)
	c.MQTT.Devices = envList("DEVICE_IDS", c.MQTT.Devices)

	c.Influx.URL = env("INFLUX_URL", c.Influx.URL)
	c.Influx.Token = env("INFLUX_TOKEN", c.Influx.Token)
	c.Influx.Org = env("INFLUX_ORG", c.Influx.Org)
	c.Influx.Bucket = env("INFLUX_BUCKET", c.Influx.Bucket)

	c.Reconciler.PollInterval = envDuration("POLL_INTERVAL", c.Reconciler.PollInterval)
	c.Reconciler.HistoryLimit = envInt("HISTORY_LIMIT", c.Reconciler.HistoryLimit)
	c.Reconciler.AnalyticsLimit = envInt("ANALYTICS_LIMIT", c.Reconciler.AnalyticsLimit)
	c.Reconciler.OnlineWindow = envDuration("ONLINE_WINDOW", c.Reconciler.OnlineWindow)
	c.Reconciler.PendingTimeout = envDuration("PENDING_TIMEOUT", c.Reconciler.PendingTimeout)
	c.Registry.LoadTimeout = envDuration("LOAD_TIMEOUT", c.Registry.LoadTimeout)
	c.Alerts.Interval = envDuration("ALERT_INTERVAL", c.Alerts.Interval)

	c.Simulator.DeviceID = env("SIM_DEVICE_ID", c.Simulator.DeviceID)
	c.Simulator.Interval = envDuration("SIM_INTERVAL", c.Simulator.Interval)
	c.Simulator.Moisture = envFloat("SIM_MOISTURE", c.Simulator.Moisture)
	c.Simulator.DecayPerMin = envFloat("SIM_DECAY_PER_MIN", c.Simulator.DecayPerMin)
}

func (c *Config) applyDefaults() {
	if c.UserID == "" {
		c.UserID = "local"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.HTTP.GRPCAddr == "" {
		c.HTTP.GRPCAddr = ":50051"
	}
	if c.Backend.Kind == "" {
		c.Backend.Kind = "memory"
	}
	if c.Backend.Redis.Addr == "" {
		c.Backend.Redis.Addr = "localhost:6379"
	}
	if c.MQTT.Host == "" {
		c.MQTT.Host = "localhost"
	}
	if c.MQTT.Port == 0 {
		c.MQTT.Port = 1883
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "drip-bridge"
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "drip"
	}
	if c.Influx.Org == "" {
		c.Influx.Org = "drip"
	}
	if c.Reconciler.PollInterval == 0 {
		c.Reconciler.PollInterval = 10 * time.Second
	}
	if c.Reconciler.HistoryLimit == 0 {
		c.Reconciler.HistoryLimit = 20
	}
	if c.Reconciler.AnalyticsLimit == 0 {
		c.Reconciler.AnalyticsLimit = 100
	}
	if c.Reconciler.OnlineWindow == 0 {
		c.Reconciler.OnlineWindow = 120 * time.Second
	}
	if c.Reconciler.PendingTimeout == 0 {
		c.Reconciler.PendingTimeout = 30 * time.Second
	}
	if c.Registry.LoadTimeout == 0 {
		c.Registry.LoadTimeout = 10 * time.Second
	}
	if c.Alerts.Interval == 0 {
		c.Alerts.Interval = time.Minute
	}
	if c.Simulator.DeviceID == "" {
		c.Simulator.DeviceID = "esp32-sim"
	}
	if c.Simulator.Interval == 0 {
		c.Simulator.Interval = 30 * time.Second
	}
	if c.Simulator.Moisture == 0 {
		c.Simulator.Moisture = 55
	}
	if c.Simulator.DecayPerMin == 0 {
		c.Simulator.DecayPerMin = 0.5
	}
}

func (c *Config) validate() error {
	var errs []error
	switch c.Backend.Kind {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("backend.kind must be memory or redis, got %q", c.Backend.Kind))
	}
	if c.Reconciler.PollInterval < 0 || c.Reconciler.OnlineWindow < 0 || c.Reconciler.PendingTimeout < 0 {
		errs = append(errs, errors.New("reconciler durations must not be negative"))
	}
	if c.Reconciler.HistoryLimit < 0 || c.Reconciler.AnalyticsLimit < 0 {
		errs = append(errs, errors.New("reconciler limits must not be negative"))
	}
	if c.MQTT.Port < 0 || c.MQTT.Port > 65535 {
		errs = append(errs, fmt.Errorf("mqtt.port out of range: %d", c.MQTT.Port))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

func env(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envInt(k string, d int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return d
}

func envFloat(k string, d float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return d
}

func envBool(k string, d bool) bool {
	if v := os.Getenv(k); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return d
}

// envDuration accepts Go durations ("15s") or plain seconds.
func envDuration(k string, d time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return d
	}
	if dur, err := time.ParseDuration(v); err == nil {
		return dur
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return d
}

func envList(k string, d []string) []string {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
