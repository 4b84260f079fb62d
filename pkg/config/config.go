package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/medrex/healthon/pkg/types"
)

// Config holds all configuration for the reminder agent
type Config struct {
	// Server configuration
	Server ServerConfig `mapstructure:"server"`

	// Record store configuration
	Database DatabaseConfig `mapstructure:"database"`

	// Redis configuration, shared by the queue bridge and the fired log
	Redis RedisConfig `mapstructure:"redis"`

	// Local persisted state
	State StateConfig `mapstructure:"state"`

	// Runtime host description
	Host HostConfig `mapstructure:"host"`

	// Push delivery configuration
	Firebase FirebaseConfig `mapstructure:"firebase"`

	// Reminder engine tuning
	Reminders RemindersConfig `mapstructure:"reminders"`

	// Logging configuration
	LogLevel string `mapstructure:"log_level"`

	// Monitoring configuration
	Monitoring MonitoringConfig `mapstructure:"monitoring"`

	// Tracing configuration
	Tracing TracingConfig `mapstructure:"tracing"`
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
	IdleTimeout  int    `mapstructure:"idle_timeout"`
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Name            string `mapstructure:"name"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	SSLMode         string `mapstructure:"ssl_mode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// Addr returns host:port, or empty when Redis is not configured
func (r RedisConfig) Addr() string {
	if r.Host == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// StateConfig holds the embedded state store configuration
type StateConfig struct {
	Path string `mapstructure:"path"`
}

// HostConfig describes the runtime the agent is embedded in
type HostConfig struct {
	// Platform is ios, android, web or auto
	Platform string `mapstructure:"platform"`
	// QueueBridge enables the durable native bridge backed by Redis
	QueueBridge bool   `mapstructure:"queue_bridge"`
	Queue       string `mapstructure:"queue"`
}

// FirebaseConfig holds push delivery configuration
type FirebaseConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	ProjectID       string `mapstructure:"project_id"`
	CredentialsFile string `mapstructure:"credentials_file"`
	DeviceToken     string `mapstructure:"device_token"`
	WebPushToken    string `mapstructure:"web_push_token"`
	Icon            string `mapstructure:"icon"`
}

// RemindersConfig tunes the synchronizer and proximity engine
type RemindersConfig struct {
	PatientID      string        `mapstructure:"patient_id"`
	Timezone       string        `mapstructure:"timezone"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	JoinWindow     time.Duration `mapstructure:"join_window"`
	FiredLog       string        `mapstructure:"fired_log"`
	FiredTTL       time.Duration `mapstructure:"fired_ttl"`
	FiredCacheSize int           `mapstructure:"fired_cache_size"`
	PromptTimeout  time.Duration `mapstructure:"prompt_timeout"`
}

// Location resolves the configured timezone, falling back to local time
func (r RemindersConfig) Location() *time.Location {
	if r.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// MonitoringConfig holds monitoring configuration
type MonitoringConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	MetricsPath string `mapstructure:"metrics_path"`
	HealthPath  string `mapstructure:"health_path"`
}

// TracingConfig holds tracing configuration
type TracingConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	JaegerEndpoint string  `mapstructure:"jaeger_endpoint"`
	Environment    string  `mapstructure:"environment"`
	SamplingRate   float64 `mapstructure:"sampling_rate"`
}

// Fired log backends
const (
	FiredLogMemory = "memory"
	FiredLogSQLite = "sqlite"
	FiredLogRedis  = "redis"
)

// Load loads configuration from environment variables and config files
func Load() (*Config, error) {
	return LoadFrom(viper.New())
}

// LoadFrom loads configuration using the supplied viper instance
func LoadFrom(v *viper.Viper) (*Config, error) {
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/healthon")

	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	overrideWithEnv(&config)

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8095)
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 30)
	v.SetDefault("server.idle_timeout", 120)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "healthon")
	v.SetDefault("database.user", "healthon")
	v.SetDefault("database.ssl_mode", "require")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", 300)

	// Redis defaults
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)

	// State defaults
	v.SetDefault("state.path", "healthon-reminders.db")

	// Host defaults
	v.SetDefault("host.platform", "auto")
	v.SetDefault("host.queue_bridge", false)
	v.SetDefault("host.queue", "reminders")

	// Reminder defaults
	v.SetDefault("reminders.poll_interval", time.Minute)
	v.SetDefault("reminders.join_window", types.DefaultJoinWindow)
	v.SetDefault("reminders.fired_log", FiredLogSQLite)
	v.SetDefault("reminders.fired_ttl", 48*time.Hour)
	v.SetDefault("reminders.fired_cache_size", 4096)
	v.SetDefault("reminders.prompt_timeout", 2*time.Minute)

	// Monitoring defaults
	v.SetDefault("monitoring.enabled", true)
	v.SetDefault("monitoring.metrics_path", "/metrics")
	v.SetDefault("monitoring.health_path", "/health")

	// Tracing defaults
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.environment", "development")
	v.SetDefault("tracing.sampling_rate", 0.1)

	// Logging defaults
	v.SetDefault("log_level", "info")
}

// overrideWithEnv overrides configuration with environment variables
func overrideWithEnv(config *Config) {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if patientID := os.Getenv("HEALTHON_PATIENT_ID"); patientID != "" {
		config.Reminders.PatientID = patientID
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		config.LogLevel = logLevel
	}
}

// validate validates the configuration
func validate(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	switch config.Host.Platform {
	case "auto", "ios", "android", "web":
	default:
		return fmt.Errorf("invalid host platform: %q", config.Host.Platform)
	}

	switch config.Reminders.FiredLog {
	case FiredLogMemory, FiredLogSQLite:
	case FiredLogRedis:
		if config.Redis.Addr() == "" {
			return fmt.Errorf("redis fired log requires redis.host")
		}
	default:
		return fmt.Errorf("invalid fired log backend: %q", config.Reminders.FiredLog)
	}

	if config.Host.QueueBridge && config.Redis.Addr() == "" {
		return fmt.Errorf("queue bridge requires redis.host")
	}

	if config.Reminders.PollInterval < time.Second {
		return fmt.Errorf("poll interval must be at least 1s, got %s", config.Reminders.PollInterval)
	}

	if config.Reminders.JoinWindow < types.VideoVisitReminderLead || config.Reminders.JoinWindow > time.Hour {
		return fmt.Errorf("join window must be within [%s, 1h], got %s", types.VideoVisitReminderLead, config.Reminders.JoinWindow)
	}

	if config.Firebase.Enabled && config.Firebase.CredentialsFile == "" {
		return fmt.Errorf("firebase credentials file is required when firebase is enabled")
	}

	return nil
}
