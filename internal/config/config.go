// Package config handles configuration loading for Cortex.
// It supports a YAML config file, CORTEX_-prefixed environment variables,
// and sane defaults, in that order of precedence (env wins).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for Cortex.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Planner       PlannerConfig       `mapstructure:"planner"`
	Collaborators CollaboratorsConfig `mapstructure:"collaborators"`
	Orchestrator  OrchestratorConfig  `mapstructure:"orchestrator"`
	Hub           HubConfig           `mapstructure:"hub"`
	Session       SessionConfig       `mapstructure:"session"`
	Archive       ArchiveConfig       `mapstructure:"archive"`
	Log           LogConfig           `mapstructure:"log"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string `mapstructure:"addr"`
	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// PlannerConfig holds settings for the LLM-backed planner.
type PlannerConfig struct {
	// APIKey is the Anthropic API key. Falls back to ANTHROPIC_API_KEY.
	APIKey string `mapstructure:"api_key"`
	// Model is the model identifier used for planning and synthesis.
	Model string `mapstructure:"model"`
	// Timeout bounds a single planner consultation.
	Timeout time.Duration `mapstructure:"timeout"`
}

// CollaboratorsConfig holds the addresses of the external services.
type CollaboratorsConfig struct {
	// ToolExecutorURL is the base URL of the Tool Executor service.
	ToolExecutorURL string `mapstructure:"tool_executor_url"`
	// DataCollectorURL is the base URL of the Data Collector service.
	DataCollectorURL string `mapstructure:"data_collector_url"`
	// Timeout bounds a single collaborator call. A timeout is treated
	// exactly like a collaborator error: it fails only the calling node.
	Timeout time.Duration `mapstructure:"timeout"`
	// ToolRoutes is the path of the YAML file mapping tool names to
	// collaborator endpoints. Empty uses the built-in routes.
	ToolRoutes string `mapstructure:"tool_routes"`
}

// OrchestratorConfig holds execution guardrails.
type OrchestratorConfig struct {
	// MaxDepth caps the task tree depth; expansion beyond it fails the node
	// with a depth-exceeded payload instead of growing further.
	MaxDepth int `mapstructure:"max_depth"`
	// MaxTasksPerPlan bounds how many child descriptors a single planner
	// answer may contribute. The planner is never trusted to self-limit.
	MaxTasksPerPlan int `mapstructure:"max_tasks_per_plan"`
}

// HubConfig holds broadcast settings.
type HubConfig struct {
	// QueueBound is the per-subscriber delivery queue capacity. Overflow
	// drops the subscriber, never backpressures the orchestrator.
	QueueBound int `mapstructure:"queue_bound"`
}

// SessionConfig holds session registry lifecycle settings.
type SessionConfig struct {
	// IdleTimeout reaps sessions with no active workflow and no subscribers.
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
}

// ArchiveConfig selects where finished workflow event logs are kept for
// late subscribers.
type ArchiveConfig struct {
	// Backend is "memory" or "redis".
	Backend string `mapstructure:"backend"`
	// RedisAddr is the Redis address when Backend is "redis".
	RedisAddr string `mapstructure:"redis_addr"`
	// RedisDB is the Redis database number.
	RedisDB int `mapstructure:"redis_db"`
	// TTL bounds how long a finished workflow's log stays replayable.
	TTL time.Duration `mapstructure:"ttl"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `mapstructure:"level"`
	// JSON switches the handler from text to JSON output.
	JSON bool `mapstructure:"json"`
}

// Load reads configuration from the optional file at path, the environment,
// and defaults. A missing file is only an error when the path was explicit.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("CORTEX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("cortex")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the core cannot run with.
func (c *Config) Validate() error {
	if c.Orchestrator.MaxDepth < 1 {
		return fmt.Errorf("orchestrator.max_depth must be at least 1, got %d", c.Orchestrator.MaxDepth)
	}
	if c.Orchestrator.MaxTasksPerPlan < 1 {
		return fmt.Errorf("orchestrator.max_tasks_per_plan must be at least 1, got %d", c.Orchestrator.MaxTasksPerPlan)
	}
	if c.Hub.QueueBound < 1 {
		return fmt.Errorf("hub.queue_bound must be at least 1, got %d", c.Hub.QueueBound)
	}
	switch c.Archive.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("archive.backend must be memory or redis, got %q", c.Archive.Backend)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", 5*time.Second)

	// Every key needs a default: AutomaticEnv only surfaces env overrides
	// for keys viper already knows about at Unmarshal time.
	v.SetDefault("planner.api_key", "")
	v.SetDefault("planner.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("planner.timeout", 60*time.Second)

	v.SetDefault("collaborators.tool_executor_url", "http://localhost:8001")
	v.SetDefault("collaborators.data_collector_url", "http://localhost:8002")
	v.SetDefault("collaborators.timeout", 30*time.Second)
	v.SetDefault("collaborators.tool_routes", "")

	v.SetDefault("orchestrator.max_depth", 3)
	v.SetDefault("orchestrator.max_tasks_per_plan", 8)

	v.SetDefault("hub.queue_bound", 64)

	v.SetDefault("session.idle_timeout", 10*time.Minute)

	v.SetDefault("archive.backend", "memory")
	v.SetDefault("archive.redis_addr", "localhost:6379")
	v.SetDefault("archive.redis_db", 0)
	v.SetDefault("archive.ttl", 30*time.Minute)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
}
