// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/polite-crawler/internal/dispatcher"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Rate     RateConfig     `mapstructure:"rate"`
	Robots   RobotsConfig   `mapstructure:"robots"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	Retry    RetryConfig    `mapstructure:"retry"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Store    StoreConfig    `mapstructure:"store"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Events   EventsConfig   `mapstructure:"events"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// RateConfig sets the global and default per-domain request budgets.
type RateConfig struct {
	Global          int           `mapstructure:"global"`
	PerDomain       int           `mapstructure:"per_domain"`
	Interval        time.Duration `mapstructure:"interval"`
	Mode            string        `mapstructure:"mode"`
	DomainCacheSize int           `mapstructure:"domain_cache_size"`
}

// RobotsConfig controls robots.txt fetching and caching.
type RobotsConfig struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	CacheSize int           `mapstructure:"cache_size"`
}

// CrawlerConfig governs page fetching.
type CrawlerConfig struct {
	UserAgent    string        `mapstructure:"user_agent"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
	MaxBodyBytes int           `mapstructure:"max_body_bytes"`
}

// RetryPolicyConfig is one attempt budget with its delay schedule.
type RetryPolicyConfig struct {
	MaxAttempts int             `mapstructure:"max_attempts"`
	Schedule    []time.Duration `mapstructure:"schedule"`
}

// RetryConfig separates per-URL fetch retries from whole-job redelivery.
type RetryConfig struct {
	Fetch RetryPolicyConfig `mapstructure:"fetch"`
	Job   RetryPolicyConfig `mapstructure:"job"`
}

// WorkerConfig sizes the worker pool.
type WorkerConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

// QueueConfig selects the job queue backend.
type QueueConfig struct {
	Backend      string        `mapstructure:"backend"`
	Depth        int           `mapstructure:"depth"`
	Name         string        `mapstructure:"name"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// Recover moves items abandoned in the Redis processing list back to
	// the ready list when a worker process starts. Enable it only when a
	// single worker process consumes the queue.
	Recover bool `mapstructure:"recover"`
}

// RedisConfig locates the Redis server. URL wins over Addr when set.
type RedisConfig struct {
	URL      string `mapstructure:"url"`
	Addr     string `mapstructure:"addr"`
	DB       int    `mapstructure:"db"`
	Password string `mapstructure:"password"`
}

// KafkaConfig locates the Kafka topic used as a queue.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
}

// StoreConfig selects the result and status store backend.
type StoreConfig struct {
	Backend string        `mapstructure:"backend"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// PostgresConfig controls the Postgres store.
type PostgresConfig struct {
	DSN           string        `mapstructure:"dsn"`
	MaxConns      int32         `mapstructure:"max_conns"`
	MinConns      int32         `mapstructure:"min_conns"`
	Migrate       bool          `mapstructure:"migrate"`
	PurgeInterval time.Duration `mapstructure:"purge_interval"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// EventsConfig selects where job events go.
type EventsConfig struct {
	Backend string `mapstructure:"backend"`
	Topic   string `mapstructure:"topic"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	// Plain PORT and REDIS_URL are honoured for existing deployments.
	if err := v.BindEnv("server.port", "CRAWLER_SERVER_PORT", "PORT"); err != nil {
		return Config{}, fmt.Errorf("bind env: %w", err)
	}
	if err := v.BindEnv("redis.url", "CRAWLER_REDIS_URL", "REDIS_URL"); err != nil {
		return Config{}, fmt.Errorf("bind env: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.request_timeout", "60s")
	v.SetDefault("logging.development", true)
	v.SetDefault("rate.global", 10)
	v.SetDefault("rate.per_domain", 5)
	v.SetDefault("rate.interval", "1s")
	v.SetDefault("rate.mode", "fixed")
	v.SetDefault("rate.domain_cache_size", 10000)
	v.SetDefault("robots.timeout", "5s")
	v.SetDefault("robots.cache_size", 10000)
	v.SetDefault("crawler.user_agent", "NodeCrawler")
	v.SetDefault("crawler.fetch_timeout", "10s")
	v.SetDefault("crawler.max_body_bytes", 10*1024*1024)
	v.SetDefault("retry.fetch.max_attempts", 4)
	v.SetDefault("retry.fetch.schedule", []string{"10s", "20s", "60s"})
	v.SetDefault("retry.job.max_attempts", 4)
	v.SetDefault("retry.job.schedule", []string{"10s", "20s", "60s"})
	v.SetDefault("worker.concurrency", dispatcher.DefaultConcurrency())
	v.SetDefault("queue.backend", "memory")
	v.SetDefault("queue.depth", 1024)
	v.SetDefault("queue.name", "crawlQueue")
	v.SetDefault("queue.poll_interval", "1s")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("kafka.topic", "crawl-jobs")
	v.SetDefault("kafka.group_id", "crawler-workers")
	v.SetDefault("store.backend", "memory")
	v.SetDefault("store.ttl", "24h")
	v.SetDefault("postgres.migrate", true)
	v.SetDefault("postgres.purge_interval", "1h")
	v.SetDefault("events.backend", "log")
	v.SetDefault("events.topic", "crawl-events")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Rate.Global <= 0 || c.Rate.PerDomain <= 0 {
		return fmt.Errorf("rate.global and rate.per_domain must be > 0")
	}
	if c.Rate.Mode != "fixed" && c.Rate.Mode != "smooth" {
		return fmt.Errorf("rate.mode must be fixed or smooth, got %q", c.Rate.Mode)
	}
	if c.Retry.Fetch.MaxAttempts <= 0 || c.Retry.Job.MaxAttempts <= 0 {
		return fmt.Errorf("retry max_attempts must be > 0")
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be > 0")
	}
	if c.Store.TTL <= 0 {
		return fmt.Errorf("store.ttl must be > 0")
	}
	switch c.Queue.Backend {
	case "memory", "redis":
	case "kafka":
		if len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "" {
			return fmt.Errorf("kafka.brokers and kafka.topic are required for the kafka queue")
		}
	default:
		return fmt.Errorf("unknown queue.backend %q", c.Queue.Backend)
	}
	switch c.Store.Backend {
	case "memory", "redis":
	case "postgres":
		if c.Postgres.DSN == "" {
			return fmt.Errorf("postgres.dsn is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown store.backend %q", c.Store.Backend)
	}
	switch c.Events.Backend {
	case "none", "memory", "log":
	case "pubsub":
		if c.PubSub.ProjectID == "" || c.PubSub.TopicName == "" {
			return fmt.Errorf("pubsub.project_id and pubsub.topic_name are required for pubsub events")
		}
	default:
		return fmt.Errorf("unknown events.backend %q", c.Events.Backend)
	}
	return nil
}

// UsesRedis reports whether any backend needs a Redis client.
func (c Config) UsesRedis() bool {
	return c.Queue.Backend == "redis" || c.Store.Backend == "redis"
}
