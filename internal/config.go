package internal

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the full configuration shared by the receiver and the worker.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	AppsFile  string          `yaml:"apps_file"`
	Platforms PlatformsConfig `yaml:"platforms"`
	Watermill WatermillConfig `yaml:"watermill"`
	Routes    []Route         `yaml:"routes"`
	Consumer  ConsumerConfig  `yaml:"consumer"`
	Dedup     DedupConfig     `yaml:"dedup"`
	Poster    PosterConfig    `yaml:"poster"`
	Providers ProvidersConfig `yaml:"providers"`
}

// ServerConfig holds receiver HTTP settings.
type ServerConfig struct {
	Port             int    `yaml:"port"`
	ReadTimeoutMS    int64  `yaml:"read_timeout_ms"`
	WriteTimeoutMS   int64  `yaml:"write_timeout_ms"`
	IdleTimeoutMS    int64  `yaml:"idle_timeout_ms"`
	ReadHeaderMS     int64  `yaml:"read_header_timeout_ms"`
	MaxBodyBytes     int64  `yaml:"max_body_bytes"`
	WebhookTimeoutMS int64  `yaml:"webhook_timeout_ms"`
	RateLimitRPS     int64  `yaml:"rate_limit_rps"`
	RateLimitBurst   int    `yaml:"rate_limit_burst"`
	MetricsEnabled   bool   `yaml:"metrics_enabled"`
	MetricsPath      string `yaml:"metrics_path"`
}

// PlatformsConfig enables the per-platform webhook endpoints.
type PlatformsConfig struct {
	GitHub    PlatformConfig `yaml:"github"`
	GitLab    PlatformConfig `yaml:"gitlab"`
	Bitbucket PlatformConfig `yaml:"bitbucket"`
}

// PlatformConfig configures one inbound webhook endpoint. The app id is
// carried in the request path below Path, not in configuration.
type PlatformConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// ProvidersConfig holds outbound API settings per platform. Tokens live on
// the app records in the registry; this only carries endpoint and GitHub App
// identity.
type ProvidersConfig struct {
	GitHub    GitHubProviderConfig `yaml:"github"`
	GitLab    ProviderConfig       `yaml:"gitlab"`
	Bitbucket ProviderConfig       `yaml:"bitbucket"`
}

// ProviderConfig is the shared provider shape.
type ProviderConfig struct {
	BaseURL string `yaml:"base_url"`
}

// GitHubProviderConfig optionally authenticates as a GitHub App instead of
// the per-app API token.
type GitHubProviderConfig struct {
	BaseURL        string `yaml:"base_url"`
	AppID          int64  `yaml:"app_id"`
	PrivateKeyPath string `yaml:"private_key_path"`
}

// WatermillConfig configures the durable-log drivers.
type WatermillConfig struct {
	Driver       string             `yaml:"driver"`
	Drivers      []string           `yaml:"drivers"`
	GoChannel    GoChannelConfig    `yaml:"gochannel"`
	Kafka        KafkaConfig        `yaml:"kafka"`
	NATS         NATSConfig         `yaml:"nats"`
	AMQP         AMQPConfig         `yaml:"amqp"`
	SQL          SQLConfig          `yaml:"sql"`
	HTTP         HTTPConfig         `yaml:"http"`
	RiverQueue   RiverQueueConfig   `yaml:"riverqueue"`
	PublishRetry PublishRetryConfig `yaml:"publish_retry"`
}

// GoChannelConfig holds configuration for the GoChannel pub/sub.
type GoChannelConfig struct {
	OutputChannelBuffer            int64 `yaml:"output_buffer"`
	Persistent                     bool  `yaml:"persistent"`
	BlockPublishUntilSubscriberAck bool  `yaml:"block_publish_until_subscriber_ack"`
}

// KafkaConfig holds configuration for the Kafka pub/sub.
type KafkaConfig struct {
	Brokers       []string `yaml:"brokers"`
	ConsumerGroup string   `yaml:"consumer_group"`
}

// NATSConfig holds configuration for the NATS streaming pub/sub.
type NATSConfig struct {
	ClusterID      string `yaml:"cluster_id"`
	ClientID       string `yaml:"client_id"`
	ClientIDSuffix string `yaml:"client_id_suffix"`
	URL            string `yaml:"url"`
	Durable        string `yaml:"durable"`
}

// AMQPConfig holds configuration for the AMQP pub/sub.
type AMQPConfig struct {
	URL  string `yaml:"url"`
	Mode string `yaml:"mode"`
}

// SQLConfig holds configuration for the SQL pub/sub.
type SQLConfig struct {
	Driver               string `yaml:"driver"`
	DSN                  string `yaml:"dsn"`
	Dialect              string `yaml:"dialect"`
	ConsumerGroup        string `yaml:"consumer_group"`
	InitializeSchema     bool   `yaml:"initialize_schema"`
	AutoInitializeSchema bool   `yaml:"auto_initialize_schema"`
}

// HTTPConfig holds configuration for the HTTP forwarding publisher.
type HTTPConfig struct {
	BaseURL string `yaml:"base_url"`
	Mode    string `yaml:"mode"`
}

// RiverQueueConfig holds configuration for the River job-queue publisher.
type RiverQueueConfig struct {
	DSN         string `yaml:"dsn"`
	Queue       string `yaml:"queue"`
	Kind        string `yaml:"kind"`
	MaxAttempts int    `yaml:"max_attempts"`
	Priority    int    `yaml:"priority"`
}

// PublishRetryConfig bounds the publish-side retry loop.
type PublishRetryConfig struct {
	Attempts int `yaml:"attempts"`
	DelayMS  int `yaml:"delay_ms"`
}

// Route fans a validated event onto an extra topic when its expression
// matches. Drivers restricts the fan-out to specific log drivers.
type Route struct {
	When    string   `yaml:"when"`
	Emit    string   `yaml:"emit"`
	Drivers []string `yaml:"drivers"`
}

// ConsumerConfig holds the idempotent-consumer settings.
type ConsumerConfig struct {
	Group            string   `yaml:"group"`
	Topics           []string `yaml:"topics"`
	Concurrency      int      `yaml:"concurrency"`
	MaxAttempts      int      `yaml:"max_attempts"`
	HandlerTimeoutMS int64    `yaml:"handler_timeout_ms"`
	BackoffInitialMS int64    `yaml:"backoff_initial_ms"`
	BackoffMaxMS     int64    `yaml:"backoff_max_ms"`
}

// DedupConfig configures the consumption-record store.
type DedupConfig struct {
	Driver         string `yaml:"driver"`
	DSN            string `yaml:"dsn"`
	Table          string `yaml:"table"`
	AutoMigrate    bool   `yaml:"auto_migrate"`
	RetentionHours int    `yaml:"retention_hours"`
}

// PosterConfig configures the result poster and command parsing.
type PosterConfig struct {
	CommandPrefix    string `yaml:"command_prefix"`
	CacheSize        int    `yaml:"cache_size"`
	CacheTTLMS       int64  `yaml:"cache_ttl_ms"`
	MaxAttempts      int    `yaml:"max_attempts"`
	BackoffInitialMS int64  `yaml:"backoff_initial_ms"`
}

// LoadConfig loads configuration from a YAML file. Environment variables in
// the file are expanded before unmarshalling and defaults are applied.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return cfg, err
	}

	applyDefaults(&cfg)
	if err := validateRoutes(cfg.Routes); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeoutMS == 0 {
		cfg.Server.ReadTimeoutMS = 5000
	}
	if cfg.Server.WriteTimeoutMS == 0 {
		cfg.Server.WriteTimeoutMS = 10000
	}
	if cfg.Server.IdleTimeoutMS == 0 {
		cfg.Server.IdleTimeoutMS = 60000
	}
	if cfg.Server.ReadHeaderMS == 0 {
		cfg.Server.ReadHeaderMS = 5000
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = 1 << 20
	}
	if cfg.Server.WebhookTimeoutMS == 0 {
		// GitHub fails deliveries after 10s; leave headroom for the response.
		cfg.Server.WebhookTimeoutMS = 8000
	}
	if cfg.Server.MetricsPath == "" {
		cfg.Server.MetricsPath = "/metrics"
	}
	if cfg.AppsFile == "" {
		cfg.AppsFile = "apps.yaml"
	}
	if cfg.Platforms.GitHub.Path == "" {
		cfg.Platforms.GitHub.Path = "/webhooks/github"
	}
	if cfg.Platforms.GitLab.Path == "" {
		cfg.Platforms.GitLab.Path = "/webhooks/gitlab"
	}
	if cfg.Platforms.Bitbucket.Path == "" {
		cfg.Platforms.Bitbucket.Path = "/webhooks/bitbucket"
	}
	if cfg.Watermill.Driver == "" && len(cfg.Watermill.Drivers) == 0 {
		cfg.Watermill.Driver = "gochannel"
	}
	if cfg.Watermill.GoChannel.OutputChannelBuffer == 0 {
		cfg.Watermill.GoChannel.OutputChannelBuffer = 64
	}
	if cfg.Watermill.HTTP.Mode == "" {
		cfg.Watermill.HTTP.Mode = "topic_url"
	}
	if cfg.Watermill.RiverQueue.Queue == "" {
		cfg.Watermill.RiverQueue.Queue = "default"
	}
	if cfg.Watermill.RiverQueue.Kind == "" {
		cfg.Watermill.RiverQueue.Kind = "opencr.event"
	}
	if cfg.Watermill.RiverQueue.MaxAttempts == 0 {
		cfg.Watermill.RiverQueue.MaxAttempts = 25
	}
	if cfg.Watermill.PublishRetry.Attempts == 0 {
		cfg.Watermill.PublishRetry.Attempts = 3
	}
	if cfg.Watermill.PublishRetry.DelayMS == 0 {
		cfg.Watermill.PublishRetry.DelayMS = 200
	}
	if cfg.Consumer.Group == "" {
		cfg.Consumer.Group = "git-integration"
	}
	if len(cfg.Consumer.Topics) == 0 {
		cfg.Consumer.Topics = []string{
			ValidatedTopic("github"),
			ValidatedTopic("gitlab"),
			ValidatedTopic("bitbucket"),
		}
	}
	if cfg.Consumer.Concurrency == 0 {
		cfg.Consumer.Concurrency = 8
	}
	if cfg.Consumer.MaxAttempts == 0 {
		cfg.Consumer.MaxAttempts = 5
	}
	if cfg.Consumer.HandlerTimeoutMS == 0 {
		cfg.Consumer.HandlerTimeoutMS = 120000
	}
	if cfg.Consumer.BackoffInitialMS == 0 {
		cfg.Consumer.BackoffInitialMS = 500
	}
	if cfg.Consumer.BackoffMaxMS == 0 {
		cfg.Consumer.BackoffMaxMS = 30000
	}
	if cfg.Dedup.Driver == "" {
		cfg.Dedup.Driver = "memory"
	}
	if cfg.Dedup.Table == "" {
		cfg.Dedup.Table = "opencr_consumption_records"
	}
	if cfg.Dedup.RetentionHours == 0 {
		cfg.Dedup.RetentionHours = 72
	}
	if cfg.Poster.CommandPrefix == "" {
		cfg.Poster.CommandPrefix = "@opencr"
	}
	if cfg.Poster.CacheSize == 0 {
		cfg.Poster.CacheSize = 4096
	}
	if cfg.Poster.CacheTTLMS == 0 {
		cfg.Poster.CacheTTLMS = 3600000
	}
	if cfg.Poster.MaxAttempts == 0 {
		cfg.Poster.MaxAttempts = 4
	}
	if cfg.Poster.BackoffInitialMS == 0 {
		cfg.Poster.BackoffInitialMS = 250
	}
}

func validateRoutes(routes []Route) error {
	for i := range routes {
		when := strings.TrimSpace(routes[i].When)
		emit := strings.TrimSpace(routes[i].Emit)
		if when == "" || emit == "" {
			return fmt.Errorf("route %d is missing when or emit", i)
		}
	}
	return nil
}
