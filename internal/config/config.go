package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
)

// Config is the top-level configuration structure.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Reasoner  ReasonerConfig  `json:"reasoner"`
	Loop      LoopConfig      `json:"loop"`
	Dispatch  DispatchConfig  `json:"dispatch"`
	SelfHeal  SelfHealConfig  `json:"self_heal"`
	Database  DatabaseConfig  `json:"database"`
	Embedding EmbeddingConfig `json:"embedding"`
	Notify    NotifyConfig    `json:"notify"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

// ReasonerConfig selects the reasoning providers consulted by the loop.
type ReasonerConfig struct {
	Providers []ProviderConfig `json:"providers"`
	Default   string           `json:"default"`
	Fallbacks []string         `json:"fallbacks,omitempty"`
	MockMode  bool             `json:"mock_mode"`
}

type ProviderConfig struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Name     string `json:"name"`
	Endpoint string `json:"endpoint"`
	APIKey   string `json:"api_key"`
	Model    string `json:"model"`
}

type LoopConfig struct {
	MaxDepth   int `json:"max_depth"`   // recursion circuit breaker, default 5
	ContextCap int `json:"context_cap"` // chars, default 10000
	MaxTurns   int `json:"max_turns"`   // multi-turn ceiling, default 3
}

// DispatchConfig controls the skill dispatch mediator.
type DispatchConfig struct {
	Mode             string `json:"mode"` // "local" or "mediated"
	DefaultTimeoutMS int    `json:"default_timeout_ms"`
	MaxTimeoutMS     int    `json:"max_timeout_ms"`
	ProjectRoot      string `json:"project_root"`
	RegistryDir      string `json:"registry_dir"`
}

type SelfHealConfig struct {
	ApprovalDir    string `json:"approval_dir"`
	PollIntervalMS int    `json:"poll_interval_ms"`
	PollTimeoutMS  int    `json:"poll_timeout_ms"`
	AutoEvolve     bool   `json:"auto_evolve"`
	ForceTestFail  bool   `json:"force_test_fail"`
	AuditLog       string `json:"audit_log"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Redis    RedisConfig    `json:"redis"`
	Qdrant   QdrantConfig   `json:"qdrant"`
}

type PostgresConfig struct {
	DSN string `json:"dsn"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

type QdrantConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

type EmbeddingConfig struct {
	Provider  string `json:"provider"` // "api" or "local"
	Endpoint  string `json:"endpoint"`
	Model     string `json:"model"`
	APIKey    string `json:"api_key"`
	Dimension int    `json:"dimension"`
}

type NotifyConfig struct {
	Slack   SlackNotifyConfig   `json:"slack"`
	Discord DiscordNotifyConfig `json:"discord"`
}

type SlackNotifyConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	Channel  string `json:"channel"`
}

type DiscordNotifyConfig struct {
	Enabled   bool   `json:"enabled"`
	BotToken  string `json:"bot_token"`
	ChannelID string `json:"channel_id"`
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file and substitutes environment variable references.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	// Substitute ${VAR} and ${VAR:default} with environment values.
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	var cfg Config
	if err := json.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Loop.MaxDepth <= 0 {
		c.Loop.MaxDepth = 5
	}
	if c.Loop.ContextCap <= 0 {
		c.Loop.ContextCap = 10000
	}
	if c.Loop.MaxTurns <= 0 {
		c.Loop.MaxTurns = 3
	}
	if c.Dispatch.Mode == "" {
		c.Dispatch.Mode = "local"
	}
	if c.Dispatch.DefaultTimeoutMS <= 0 {
		c.Dispatch.DefaultTimeoutMS = 10000
	}
	if c.Dispatch.MaxTimeoutMS <= 0 {
		c.Dispatch.MaxTimeoutMS = 60000
	}
	if c.SelfHeal.PollIntervalMS <= 0 {
		c.SelfHeal.PollIntervalMS = 500
	}
	if c.SelfHeal.PollTimeoutMS <= 0 {
		c.SelfHeal.PollTimeoutMS = 10000
	}
	if c.Embedding.Dimension <= 0 {
		c.Embedding.Dimension = 1536
	}
}
