package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTPAddr string `yaml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr"` // empty disables the health endpoint

	Env      string `yaml:"env"`     // "dev" | "prod"
	Storage  string `yaml:"storage"` // "sqlite" | "memory"
	DBPath   string `yaml:"db_path"`
	SeedDev  bool   `yaml:"seed_dev"`
	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`

	// Venue wall clock used for time-slot policies and daily counts when a
	// tenant has no zone of its own.
	DefaultTimezone string `yaml:"default_timezone"`

	SessionSecret string `yaml:"session_secret"`

	Monitor   MonitorConfig   `yaml:"monitor"`
	Actuation ActuationConfig `yaml:"actuation"`

	// Device status report retention
	StatusRetentionDays int `yaml:"status_retention_days"` // 0 = keep forever
	PruneIntervalHours  int `yaml:"prune_interval_hours"`

	RedisAddr     string `yaml:"redis_addr"` // empty = in-process scan lock
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	AMQPURL   string `yaml:"amqp_url"` // empty = events not published
	AMQPQueue string `yaml:"amqp_queue"`

	MQTTBroker      string `yaml:"mqtt_broker"` // empty = no task nudges
	MQTTTopicPrefix string `yaml:"mqtt_topic_prefix"`
}

type MonitorConfig struct {
	Interval      time.Duration `yaml:"interval"`
	PublicBacklog int           `yaml:"public_backlog"`
	StreamBacklog int           `yaml:"stream_backlog"`
	BatchSize     int           `yaml:"batch_size"`
}

type ActuationConfig struct {
	LocalTimeout time.Duration `yaml:"local_timeout"`
	CloudTimeout time.Duration `yaml:"cloud_timeout"`
	PulseLength  time.Duration `yaml:"pulse_length"`
}

func Defaults() Config {
	return Config{
		HTTPAddr:        ":8080",
		GRPCAddr:        ":9090",
		Env:             "dev",
		Storage:         "sqlite",
		DBPath:          "./data/venuegate.db",
		LogLevel:        "info",
		DefaultTimezone: "Europe/Berlin",
		Monitor: MonitorConfig{
			Interval:      2 * time.Second,
			PublicBacklog: 50,
			StreamBacklog: 100,
			BatchSize:     200,
		},
		Actuation: ActuationConfig{
			LocalTimeout: 3 * time.Second,
			CloudTimeout: 5 * time.Second,
			PulseLength:  3 * time.Second,
		},
		StatusRetentionDays: 30,
		PruneIntervalHours:  6,
		AMQPQueue:           "venuegate.scans",
		MQTTTopicPrefix:     "venuegate",
	}
}

// Load builds the configuration from defaults, an optional YAML file and
// VENUEGATE_* environment variables, in that order of precedence. A .env
// file in the working directory is loaded into the environment first.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Defaults()

	if path == "" {
		path = os.Getenv("VENUEGATE_CONFIG")
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(c *Config) {
	c.HTTPAddr = getenvDefault("VENUEGATE_HTTP_ADDR", c.HTTPAddr)
	c.GRPCAddr = getenvDefault("VENUEGATE_GRPC_ADDR", c.GRPCAddr)
	c.Env = strings.ToLower(getenvDefault("VENUEGATE_ENV", c.Env))
	if c.Env != "dev" && c.Env != "prod" {
		// fail-soft: treat unknown as dev
		c.Env = "dev"
	}
	c.Storage = strings.ToLower(getenvDefault("VENUEGATE_STORAGE", c.Storage))
	c.DBPath = getenvDefault("VENUEGATE_DB_PATH", c.DBPath)
	c.SeedDev = getenvBool("VENUEGATE_SEED_DEV", c.SeedDev)
	c.LogLevel = getenvDefault("VENUEGATE_LOG_LEVEL", c.LogLevel)
	c.LogJSON = getenvBool("VENUEGATE_LOG_JSON", c.LogJSON)
	c.DefaultTimezone = getenvDefault("VENUEGATE_TIMEZONE", c.DefaultTimezone)
	c.SessionSecret = getenvDefault("VENUEGATE_SESSION_SECRET", c.SessionSecret)

	c.Monitor.Interval = getenvDuration("VENUEGATE_MONITOR_INTERVAL", c.Monitor.Interval)
	c.Monitor.PublicBacklog = getenvInt("VENUEGATE_MONITOR_PUBLIC_BACKLOG", c.Monitor.PublicBacklog)
	c.Monitor.StreamBacklog = getenvInt("VENUEGATE_MONITOR_STREAM_BACKLOG", c.Monitor.StreamBacklog)
	c.Monitor.BatchSize = getenvInt("VENUEGATE_MONITOR_BATCH_SIZE", c.Monitor.BatchSize)

	c.Actuation.LocalTimeout = getenvDuration("VENUEGATE_RELAY_LOCAL_TIMEOUT", c.Actuation.LocalTimeout)
	c.Actuation.CloudTimeout = getenvDuration("VENUEGATE_RELAY_CLOUD_TIMEOUT", c.Actuation.CloudTimeout)
	c.Actuation.PulseLength = getenvDuration("VENUEGATE_RELAY_PULSE", c.Actuation.PulseLength)

	c.StatusRetentionDays = getenvInt("VENUEGATE_STATUS_RETENTION_DAYS", c.StatusRetentionDays)
	c.PruneIntervalHours = getenvInt("VENUEGATE_PRUNE_INTERVAL_HOURS", c.PruneIntervalHours)

	c.RedisAddr = getenvDefault("VENUEGATE_REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = getenvDefault("VENUEGATE_REDIS_PASSWORD", c.RedisPassword)
	c.RedisDB = getenvInt("VENUEGATE_REDIS_DB", c.RedisDB)

	c.AMQPURL = getenvDefault("VENUEGATE_AMQP_URL", c.AMQPURL)
	c.AMQPQueue = getenvDefault("VENUEGATE_AMQP_QUEUE", c.AMQPQueue)

	c.MQTTBroker = getenvDefault("VENUEGATE_MQTT_BROKER", c.MQTTBroker)
	c.MQTTTopicPrefix = getenvDefault("VENUEGATE_MQTT_TOPIC_PREFIX", c.MQTTTopicPrefix)
}

func (c Config) validate() error {
	if c.Storage != "sqlite" && c.Storage != "memory" {
		return fmt.Errorf("config: unknown storage %q", c.Storage)
	}
	if _, err := time.LoadLocation(c.DefaultTimezone); err != nil {
		return fmt.Errorf("config: default timezone: %w", err)
	}
	if c.Monitor.Interval <= 0 {
		return errors.New("config: monitor interval must be positive")
	}
	if c.Env == "prod" && c.SessionSecret == "" {
		return errors.New("config: session secret is required in prod")
	}
	return nil
}

// Location returns the parsed default venue time zone.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.DefaultTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func getenvBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
