package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Execution ExecutionConfig `mapstructure:"execution"`
	MQTT      MQTTConfig      `mapstructure:"mqtt"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Security  SecurityConfig  `mapstructure:"security"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Host string `mapstructure:"host"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	Path           string `mapstructure:"path"`
	MigrationsPath string `mapstructure:"migrations_path"`
	MaxConnections int    `mapstructure:"max_connections"`
	AutoMigrate    bool   `mapstructure:"auto_migrate"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type WebSocketConfig struct {
	PingInterval   int   `mapstructure:"ping_interval"`
	PongTimeout    int   `mapstructure:"pong_timeout"`
	WriteTimeout   int   `mapstructure:"write_timeout"`
	MaxMessageSize int64 `mapstructure:"max_message_size"`
	BufferSize     int   `mapstructure:"buffer_size"`
}

// ExecutionConfig controls how plans are driven.
type ExecutionConfig struct {
	// SettleDelay is applied after every directly executed step.
	SettleDelay    time.Duration `mapstructure:"settle_delay"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
	// DialTimeout bounds opening TCP, UDP and SSH connections.
	DialTimeout    time.Duration `mapstructure:"dial_timeout"`
	AttachmentsDir string        `mapstructure:"attachments_dir"`
	ResultWorkers  int           `mapstructure:"result_workers"`
	MaxConcurrent  int           `mapstructure:"max_concurrent"`
}

// MQTTConfig tunes the pub/sub adapter's inbound message queue.
type MQTTConfig struct {
	QueueCapacity  int           `mapstructure:"queue_capacity"`
	QueueMaxAge    time.Duration `mapstructure:"queue_max_age"`
	SweepSpec      string        `mapstructure:"sweep_spec"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	KeepAlive      time.Duration `mapstructure:"keep_alive"`
}

type DiscoveryConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Services      []string      `mapstructure:"services"`
	Domain        string        `mapstructure:"domain"`
	BrowseTimeout time.Duration `mapstructure:"browse_timeout"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type SecurityConfig struct {
	EnableCORS     bool     `mapstructure:"enable_cors"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	// Set defaults
	setDefaults()

	// Read environment variables
	viper.SetEnvPrefix("DEVTEST")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Override specific values from env
	viper.BindEnv("server.port", "PORT")
	viper.BindEnv("database.path", "DATABASE_PATH")
	viper.BindEnv("logging.level", "LOG_LEVEL")
	viper.BindEnv("execution.attachments_dir", "DEVTEST_ATTACHMENTS_DIR")
	viper.BindEnv("security.allowed_origins", "DEVTEST_ALLOWED_ORIGINS")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	var errors []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errors = append(errors, "server.port must be between 1 and 65535")
	}
	if c.Server.Host == "" {
		errors = append(errors, "server.host is required")
	}

	if c.Database.Path == "" {
		errors = append(errors, "database.path is required")
	}
	if c.Database.MaxConnections <= 0 {
		errors = append(errors, "database.max_connections must be greater than 0")
	}

	if c.Execution.SettleDelay < 0 {
		errors = append(errors, "execution.settle_delay must not be negative")
	}
	if c.Execution.DefaultTimeout <= 0 {
		errors = append(errors, "execution.default_timeout must be greater than 0")
	}
	if c.Execution.DialTimeout < 0 {
		errors = append(errors, "execution.dial_timeout must not be negative")
	}
	if c.Execution.AttachmentsDir == "" {
		errors = append(errors, "execution.attachments_dir is required")
	}
	if c.Execution.ResultWorkers <= 0 {
		errors = append(errors, "execution.result_workers must be greater than 0")
	}

	if c.MQTT.QueueCapacity <= 0 {
		errors = append(errors, "mqtt.queue_capacity must be greater than 0")
	}
	if c.MQTT.QueueMaxAge <= 0 {
		errors = append(errors, "mqtt.queue_max_age must be greater than 0")
	}
	if c.MQTT.SweepSpec == "" {
		errors = append(errors, "mqtt.sweep_spec is required")
	}

	if c.Discovery.Enabled && len(c.Discovery.Services) == 0 {
		errors = append(errors, "discovery.services must list at least one service when discovery is enabled")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func setDefaults() {
	// Server defaults
	viper.SetDefault("server.port", 3001)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.mode", "development")

	// Database defaults
	viper.SetDefault("database.path", "./data/devtest.db")
	viper.SetDefault("database.migrations_path", "./migrations")
	viper.SetDefault("database.max_connections", 25)
	viper.SetDefault("database.auto_migrate", true)

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	// WebSocket defaults
	viper.SetDefault("websocket.ping_interval", 30)
	viper.SetDefault("websocket.pong_timeout", 60)
	viper.SetDefault("websocket.write_timeout", 10)
	viper.SetDefault("websocket.max_message_size", 512*1024)
	viper.SetDefault("websocket.buffer_size", 256)

	// Execution defaults
	viper.SetDefault("execution.settle_delay", "1s")
	viper.SetDefault("execution.default_timeout", "10s")
	viper.SetDefault("execution.dial_timeout", "10s")
	viper.SetDefault("execution.attachments_dir", "./plans")
	viper.SetDefault("execution.result_workers", 4)
	viper.SetDefault("execution.max_concurrent", 8)

	// MQTT adapter defaults
	viper.SetDefault("mqtt.queue_capacity", 1000)
	viper.SetDefault("mqtt.queue_max_age", "60s")
	viper.SetDefault("mqtt.sweep_spec", "@every 10s")
	viper.SetDefault("mqtt.connect_timeout", "10s")
	viper.SetDefault("mqtt.keep_alive", "60s")

	// Discovery defaults
	viper.SetDefault("discovery.enabled", true)
	viper.SetDefault("discovery.services", []string{"_ssh._tcp", "_sftp-ssh._tcp", "_mqtt._tcp"})
	viper.SetDefault("discovery.domain", "local.")
	viper.SetDefault("discovery.browse_timeout", "5s")

	// Metrics defaults
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")

	// Security defaults
	viper.SetDefault("security.enable_cors", true)
	viper.SetDefault("security.allowed_origins", []string{"*"})
}
