package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LLM          LLMConfig          `yaml:"llm"`
	Agents       AgentsConfig       `yaml:"agents"`
	Capabilities CapabilitiesConfig `yaml:"capabilities"`
	Modes        ModesConfig        `yaml:"modes"`
	Memory       MemoryConfig       `yaml:"memory"`
	Engine       EngineConfig       `yaml:"engine"`
	Breaker      BreakerConfig      `yaml:"breaker"`
	Store        StoreConfig        `yaml:"store"`
	NATS         NATSConfig         `yaml:"nats"`
	Web          WebConfig          `yaml:"web"`
	Telegram     TelegramConfig     `yaml:"telegram"`
	Scheduler    SchedulerConfig    `yaml:"scheduler"`
	Vault        VaultConfig        `yaml:"vault"`
	Tracing      TracingConfig      `yaml:"tracing"`
	Notify       NotifyConfig       `yaml:"notify"`
	Log          LogConfig          `yaml:"log"`
}

// LLMConfig carries everything needed to resolve a text-generation backend.
// Model mirrors LLM_MODEL; when empty the provider is chosen from whichever
// API key is present.
type LLMConfig struct {
	Model           string        `yaml:"model"`
	GeminiModel     string        `yaml:"gemini_model"`
	OpenAIModel     string        `yaml:"openai_model"`
	AnthropicModel  string        `yaml:"anthropic_model"`
	EmbeddingModel  string        `yaml:"embedding_model"`
	GoogleAPIKey    string        `yaml:"google_api_key"`
	GeminiAPIKey    string        `yaml:"gemini_api_key"`
	OpenAIAPIKey    string        `yaml:"openai_api_key"`
	AnthropicAPIKey string        `yaml:"anthropic_api_key"`
	GeminiBaseURL   string        `yaml:"gemini_base_url"`
	OpenAIBaseURL   string        `yaml:"openai_base_url"`
	MaxTokens       int           `yaml:"max_tokens"`
	Timeout         time.Duration `yaml:"timeout"`
}

type AgentsConfig struct {
	MaxRPM    int                      `yaml:"max_rpm"`
	Overrides map[string]AgentOverride `yaml:"overrides"`
}

// AgentOverride adjusts a built-in role. A nil Capabilities keeps the
// role's default picks.
type AgentOverride struct {
	RateLimit    int      `yaml:"rate_limit"`
	Capabilities []string `yaml:"capabilities"`
}

type CapabilitiesConfig struct {
	Disabled []string `yaml:"disabled"`
}

type ModesConfig struct {
	SafeMode      bool `yaml:"safe_mode"`
	SurvivalMode  bool `yaml:"survival_mode"`
	MemoryEnabled bool `yaml:"memory_enabled"`
}

type MemoryConfig struct {
	Dir         string `yaml:"dir"`
	RecallLimit int    `yaml:"recall_limit"`
}

// EngineConfig tunes the orchestration engine. Delegate maps a work item
// key to the agent ids the coordinator may hand it to in normal mode.
type EngineConfig struct {
	MaxParallel  int                 `yaml:"max_parallel"`
	ItemTimeout  time.Duration       `yaml:"item_timeout"`
	MaxRetries   int                 `yaml:"max_retries"`
	RetryBackoff time.Duration       `yaml:"retry_backoff"`
	Delegate     map[string][]string `yaml:"delegate"`
}

type BreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type NATSConfig struct {
	Port    int    `yaml:"port"`
	DataDir string `yaml:"data_dir"`
}

type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Auth    string `yaml:"auth"`
}

type TelegramConfig struct {
	Token      string  `yaml:"token"`
	AllowFrom  []int64 `yaml:"allow_from"`
	MainChatID int64   `yaml:"main_chat_id"`
}

type SchedulerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

type VaultConfig struct {
	Passphrase string `yaml:"passphrase"`
}

type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
}

type NotifyConfig struct {
	SlackWebhook string `yaml:"slack_webhook"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func defaults() Config {
	return Config{
		LLM: LLMConfig{
			GeminiModel:    "gemini-1.5-flash",
			OpenAIModel:    "gpt-4o-mini",
			AnthropicModel: "claude-sonnet-4-5-20250929",
			EmbeddingModel: "gemini-embedding-001",
			MaxTokens:      2048,
			Timeout:        2 * time.Minute,
		},
		Modes: ModesConfig{
			MemoryEnabled: true,
		},
		Memory: MemoryConfig{
			Dir:         "data/memory",
			RecallLimit: 3,
		},
		Engine: EngineConfig{
			MaxParallel:  4,
			ItemTimeout:  5 * time.Minute,
			MaxRetries:   2,
			RetryBackoff: 5 * time.Second,
		},
		Breaker: BreakerConfig{
			MaxFailures: 5,
			Timeout:     30 * time.Second,
			Interval:    60 * time.Second,
		},
		Store: StoreConfig{
			Path: "data/warroom.db",
		},
		NATS: NATSConfig{
			Port:    4222,
			DataDir: "data/nats",
		},
		Web: WebConfig{
			Enabled: true,
			Port:    8080,
		},
		Scheduler: SchedulerConfig{
			PollInterval: 30 * time.Second,
		},
		Tracing: TracingConfig{
			Exporter: "noop",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func Load() (*Config, error) {
	cfg := defaults()

	path := os.Getenv("WARROOM_CONFIG")
	if path == "" {
		path = "config/warroom.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file not found, use defaults + env
	} else {
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)

	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("OPENAI_MODEL"); v != "" {
		cfg.LLM.OpenAIModel = v
	}
	if v := os.Getenv("GOOGLE_API_KEY"); v != "" {
		cfg.LLM.GoogleAPIKey = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.LLM.GeminiAPIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.LLM.OpenAIAPIKey = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.LLM.AnthropicAPIKey = v
	}
	if v := os.Getenv("AGENT_MAX_RPM"); v != "" {
		if rpm, err := strconv.Atoi(v); err == nil {
			cfg.Agents.MaxRPM = rpm
		}
	}
	if v := os.Getenv("MEMORY_ENABLED"); v != "" {
		cfg.Modes.MemoryEnabled = Truthy(v)
	}
	if v := os.Getenv("SAFE_MODE"); v != "" {
		cfg.Modes.SafeMode = Truthy(v)
	}
	if v := os.Getenv("SURVIVAL_MODE"); v != "" {
		cfg.Modes.SurvivalMode = Truthy(v)
	}
	if v := os.Getenv("WARROOM_MEMORY_DIR"); v != "" {
		cfg.Memory.Dir = v
	}
	if v := os.Getenv("WARROOM_TELEGRAM_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("WARROOM_MAIN_CHAT_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Telegram.MainChatID = id
		}
	}
	if v := os.Getenv("WARROOM_WEB_PASSWORD"); v != "" {
		cfg.Web.Auth = v
	}
	if v := os.Getenv("WARROOM_WEB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Web.Port = port
		}
	}
	if v := os.Getenv("WARROOM_NATS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.NATS.Port = port
		}
	}
	if v := os.Getenv("WARROOM_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("WARROOM_VAULT_PASSPHRASE"); v != "" {
		cfg.Vault.Passphrase = v
	}
	if v := os.Getenv("WARROOM_SLACK_WEBHOOK"); v != "" {
		cfg.Notify.SlackWebhook = v
	}
	if v := os.Getenv("WARROOM_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

// Truthy reports whether v is one of 1, true, yes, y (case-insensitive).
func Truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y":
		return true
	}
	return false
}
