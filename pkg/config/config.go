package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Processor ProcessorConfig `mapstructure:"processor"`
	Generator GeneratorConfig `mapstructure:"generator"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	History   HistoryConfig   `mapstructure:"history"`
	Client    ClientConfig    `mapstructure:"client"`
}

type AppConfig struct {
	Port string `mapstructure:"port"`
	Env  string `mapstructure:"env"` // e.g., "local", "prod"
}

type LoggerConfig struct {
	Level       string `mapstructure:"level"`
	Encoding    string `mapstructure:"encoding"` // "json" or "console"
	Development bool   `mapstructure:"development"`
}

type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	Enabled      bool          `mapstructure:"enabled"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type KafkaConfig struct {
	Brokers        []string      `mapstructure:"brokers"`
	TickTopic      string        `mapstructure:"tick_topic"`
	SnapshotTopic  string        `mapstructure:"snapshot_topic"`
	GroupID        string        `mapstructure:"group_id"`
	GatewayGroupID string        `mapstructure:"gateway_group_id"`
	MaxWait        time.Duration `mapstructure:"max_wait"`
}

type ProcessorConfig struct {
	NumWorkers   int           `mapstructure:"num_workers"`
	QueueSize    int           `mapstructure:"queue_size"`
	Window       time.Duration `mapstructure:"window"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

type GeneratorConfig struct {
	Tickers  []string      `mapstructure:"tickers"`
	Interval time.Duration `mapstructure:"interval"`
}

type GatewayConfig struct {
	SendBuffer    int `mapstructure:"send_buffer"`
	PublishBuffer int `mapstructure:"publish_buffer"`
}

type HistoryConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Driver        string        `mapstructure:"driver"` // "sqlite" or "postgres"
	DSN           string        `mapstructure:"dsn"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

type ClientConfig struct {
	URL                  string        `mapstructure:"url"`
	HistoryCap           int           `mapstructure:"history_cap"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts"`
	ReconnectDelay       time.Duration `mapstructure:"reconnect_delay"`
	ReadTimeout          time.Duration `mapstructure:"read_timeout"`
}

// LoadConfig reads configuration from .env file, environment variables, and defaults.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// .env is optional; real env vars always win over it
	if err := godotenv.Load(); err != nil {
		log.Println("Note: No .env file found, relying on System Env Vars")
	}

	setDefaults(v)

	// "kafka.tick_topic" -> "KAFKA_TICK_TOPIC"
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal only sees env values for keys that are explicitly bound
	bindEnv(v, "app.port", "app.env")
	bindEnv(v, "logger.level", "logger.encoding", "logger.development")
	bindEnv(v, "redis.addr", "redis.password", "redis.db", "redis.enabled", "redis.write_timeout")
	bindEnv(v, "kafka.brokers", "kafka.tick_topic", "kafka.snapshot_topic", "kafka.group_id", "kafka.gateway_group_id", "kafka.max_wait")
	bindEnv(v, "processor.num_workers", "processor.queue_size", "processor.window", "processor.retry_backoff")
	bindEnv(v, "generator.tickers", "generator.interval")
	bindEnv(v, "gateway.send_buffer", "gateway.publish_buffer")
	bindEnv(v, "history.enabled", "history.driver", "history.dsn", "history.batch_size", "history.flush_interval")
	bindEnv(v, "client.url", "client.history_cap", "client.max_reconnect_attempts", "client.reconnect_delay", "client.read_timeout")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.port", ":8080")
	v.SetDefault("app.env", "local")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.encoding", "json")
	v.SetDefault("logger.development", false)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.write_timeout", "2s")

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.tick_topic", "asset-price")
	v.SetDefault("kafka.snapshot_topic", "asset-analytics")
	v.SetDefault("kafka.group_id", "trading-aggregator")
	v.SetDefault("kafka.gateway_group_id", "trading-gateway")
	v.SetDefault("kafka.max_wait", "200ms")

	v.SetDefault("processor.num_workers", 4)
	v.SetDefault("processor.queue_size", 100)
	v.SetDefault("processor.window", "5s")
	v.SetDefault("processor.retry_backoff", "1s")

	v.SetDefault("generator.tickers", []string{"BTC", "ETH", "AAPL", "TSLA"})
	v.SetDefault("generator.interval", "50ms")

	v.SetDefault("gateway.send_buffer", 256)
	v.SetDefault("gateway.publish_buffer", 1024)

	v.SetDefault("history.enabled", true)
	v.SetDefault("history.driver", "sqlite")
	v.SetDefault("history.dsn", "file:history.db?_pragma=journal_mode(WAL)")
	v.SetDefault("history.batch_size", 100)
	v.SetDefault("history.flush_interval", "1s")

	v.SetDefault("client.url", "ws://localhost:8080/ws")
	v.SetDefault("client.history_cap", 100)
	v.SetDefault("client.max_reconnect_attempts", 5)
	v.SetDefault("client.reconnect_delay", "1s")
	// Longer than the gateway's 50s ping interval
	v.SetDefault("client.read_timeout", "60s")
}

// Validate checks the invariants the binaries rely on
func (c *Config) Validate() error {
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka brokers cannot be empty")
	}
	if c.Processor.NumWorkers <= 0 {
		return fmt.Errorf("processor.num_workers must be positive, got %d", c.Processor.NumWorkers)
	}
	if c.Processor.Window <= 0 {
		return fmt.Errorf("processor.window must be positive, got %v", c.Processor.Window)
	}
	if c.Client.HistoryCap <= 0 {
		return fmt.Errorf("client.history_cap must be positive, got %d", c.Client.HistoryCap)
	}
	switch c.History.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported history driver %q", c.History.Driver)
	}
	return nil
}

// bindEnv is a helper to bind multiple keys at once
func bindEnv(v *viper.Viper, keys ...string) {
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			log.Printf("Could not bind env var for key %s: %v", key, err)
		}
	}
}
