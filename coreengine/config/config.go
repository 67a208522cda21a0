// Package config loads service configuration.
//
// Values come from, in increasing priority:
//   - built-in defaults
//   - an optional YAML file (config.yaml in . or /etc/leadflow, or an explicit path)
//   - LEADFLOW_* environment variables, with "." in keys replaced by "_"
//     (LEADFLOW_DISPATCHER_CONCURRENCY overrides dispatcher.concurrency)
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "LEADFLOW"

// Config is the full service configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Generator  GeneratorConfig  `mapstructure:"generator"`
	Bus        BusConfig        `mapstructure:"bus"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher"`
	Tools      ToolsConfig      `mapstructure:"tools"`
	Extract    ExtractConfig    `mapstructure:"extract"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
}

type ServerConfig struct {
	HTTPPort        int           `mapstructure:"http_port"`
	GRPCPort        int           `mapstructure:"grpc_port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
}

type GeneratorConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	APIKey            string        `mapstructure:"api_key"`
	Model             string        `mapstructure:"model"`
	Temperature       float64       `mapstructure:"temperature"`
	MaxTokens         int           `mapstructure:"max_tokens"`
	Timeout           time.Duration `mapstructure:"timeout"`
	MaxToolTurns      int           `mapstructure:"max_tool_turns"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
}

// BusConfig selects and tunes the message bus. Kind is "memory" or "nats".
type BusConfig struct {
	Kind          string               `mapstructure:"kind"`
	NATSURL       string               `mapstructure:"nats_url"`
	NATSName      string               `mapstructure:"nats_name"`
	NATSToken     string               `mapstructure:"nats_token"`
	OutputTopic   string               `mapstructure:"output_topic"`
	QueueGroup    string               `mapstructure:"queue_group"`
	// DeliveryTopic, when set, makes the send stage publish batches there
	// instead of logging them.
	DeliveryTopic string               `mapstructure:"delivery_topic"`
	PendingLimit  int                  `mapstructure:"pending_limit"`
	Breaker       CircuitBreakerConfig `mapstructure:"circuit_breaker"`
}

type CircuitBreakerConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	ResetTimeout     time.Duration `mapstructure:"reset_timeout"`
}

type DispatcherConfig struct {
	Concurrency int `mapstructure:"concurrency"`
	QueueSize   int `mapstructure:"queue_size"`
}

// ToolsConfig configures the lookup tools. Lookups is keyed by tool name.
type ToolsConfig struct {
	WebsiteTimeout time.Duration           `mapstructure:"website_timeout"`
	HTTPTimeout    time.Duration           `mapstructure:"http_timeout"`
	Lookups        map[string]LookupConfig `mapstructure:"lookups"`
	Cache          CacheConfig             `mapstructure:"cache"`
}

// LookupConfig selects how one tool is realised: "synthetic", "fake" or "http".
type LookupConfig struct {
	Mode    string `mapstructure:"mode"`
	BaseURL string `mapstructure:"base_url"`
	Token   string `mapstructure:"token"`
}

type CacheConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	RedisURL string        `mapstructure:"redis_url"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type ExtractConfig struct {
	Mode string `mapstructure:"mode"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
}

// lookupTools are the tools whose realisation is configurable. Defaults are
// registered per tool so environment overrides reach them.
var lookupTools = []string{
	"get_salesforce_data",
	"get_enriched_lead_data",
	"get_recent_linkedin_posts",
	"find_relevant_content",
}

// Load reads configuration. An empty path searches the default locations; a
// missing file there is not an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/leadflow")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if len(cfg.Pipeline.Stages) == 0 {
		cfg.Pipeline = DefaultPipeline()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_port", 8000)
	v.SetDefault("server.grpc_port", 50051)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.max_body_bytes", 10<<20)

	v.SetDefault("generator.base_url", "https://api.anthropic.com")
	v.SetDefault("generator.api_key", "")
	v.SetDefault("generator.model", "claude-3-5-haiku-20241022")
	v.SetDefault("generator.temperature", 0.7)
	v.SetDefault("generator.max_tokens", 4096)
	v.SetDefault("generator.timeout", "120s")
	v.SetDefault("generator.max_tool_turns", 8)
	v.SetDefault("generator.requests_per_minute", 50)

	v.SetDefault("bus.kind", "memory")
	v.SetDefault("bus.nats_url", "nats://127.0.0.1:4222")
	v.SetDefault("bus.nats_name", "leadflow")
	v.SetDefault("bus.nats_token", "")
	v.SetDefault("bus.output_topic", "agent-output")
	v.SetDefault("bus.queue_group", "leadflow")
	v.SetDefault("bus.delivery_topic", "")
	v.SetDefault("bus.pending_limit", 4096)
	v.SetDefault("bus.circuit_breaker.enabled", false)
	v.SetDefault("bus.circuit_breaker.failure_threshold", 5)
	v.SetDefault("bus.circuit_breaker.reset_timeout", "30s")

	v.SetDefault("dispatcher.concurrency", 16)
	v.SetDefault("dispatcher.queue_size", 1024)

	v.SetDefault("tools.website_timeout", "10s")
	v.SetDefault("tools.http_timeout", "10s")
	for _, name := range lookupTools {
		v.SetDefault("tools.lookups."+name+".mode", "synthetic")
		v.SetDefault("tools.lookups."+name+".base_url", "")
		v.SetDefault("tools.lookups."+name+".token", "")
	}
	v.SetDefault("tools.cache.enabled", false)
	v.SetDefault("tools.cache.redis_url", "redis://localhost:6379/0")
	v.SetDefault("tools.cache.ttl", "1h")

	v.SetDefault("extract.mode", "balanced")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4317")
	v.SetDefault("tracing.service_name", "leadflow")
}

// Validate checks values that would otherwise fail late at wiring time.
func (c *Config) Validate() error {
	switch c.Bus.Kind {
	case "memory", "nats":
	default:
		return fmt.Errorf("bus.kind must be memory or nats, got %q", c.Bus.Kind)
	}
	if c.Bus.OutputTopic == "" {
		return fmt.Errorf("bus.output_topic is required")
	}
	if c.Dispatcher.Concurrency <= 0 {
		return fmt.Errorf("dispatcher.concurrency must be positive, got %d", c.Dispatcher.Concurrency)
	}
	if c.Dispatcher.QueueSize <= 0 {
		return fmt.Errorf("dispatcher.queue_size must be positive, got %d", c.Dispatcher.QueueSize)
	}
	if c.Server.HTTPPort <= 0 || c.Server.GRPCPort <= 0 {
		return fmt.Errorf("server ports must be positive")
	}
	for name, l := range c.Tools.Lookups {
		if l.Mode == "http" && l.BaseURL == "" {
			return fmt.Errorf("tools.lookups.%s: http mode requires base_url", name)
		}
	}
	if c.Tools.Cache.Enabled && c.Tools.Cache.RedisURL == "" {
		return fmt.Errorf("tools.cache.redis_url is required when the cache is enabled")
	}
	return c.Pipeline.Validate(nil)
}

// HTTPAddr returns the HTTP listen address.
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.Server.HTTPPort)
}

// GRPCAddr returns the gRPC listen address.
func (c *Config) GRPCAddr() string {
	return fmt.Sprintf(":%d", c.Server.GRPCPort)
}
