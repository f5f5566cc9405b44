package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// PlaceholderToken is the sample bearer token shipped in example env files.
// A remote token equal to it counts as "not configured".
const PlaceholderToken = "your_bearer_token_here"

// Config holds all application configuration for notionqa.
// It is loaded from ~/.notionqa/config.yaml and can be overridden by environment variables.
type Config struct {
	LLM       LLMConfig       `mapstructure:"llm" yaml:"llm"`
	Notion    NotionConfig    `mapstructure:"notion" yaml:"notion"`
	Remote    RemoteConfig    `mapstructure:"remote" yaml:"remote"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline" yaml:"pipeline"`
	History   HistoryConfig   `mapstructure:"history" yaml:"history"`
	Redis     RedisConfig     `mapstructure:"redis" yaml:"redis"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	A2A       A2AConfig       `mapstructure:"a2a" yaml:"a2a"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" yaml:"scheduler"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
}

// LLMConfig selects the chat-completion provider for the local pipeline.
type LLMConfig struct {
	DefaultProvider string                    `mapstructure:"default_provider" yaml:"default_provider"` // openai or ollama
	Providers       map[string]ProviderConfig `mapstructure:"providers" yaml:"providers"`
}

type ProviderConfig struct {
	Endpoint    string  `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	APIKey      string  `mapstructure:"api_key" yaml:"api_key,omitempty"`
	Model       string  `mapstructure:"model" yaml:"model,omitempty"`
	Temperature float64 `mapstructure:"temperature" yaml:"temperature,omitempty"`
	// MaxTokens caps each completion; zero uses the provider default
	MaxTokens int `mapstructure:"max_tokens" yaml:"max_tokens,omitempty"`
	// TimeoutSec bounds a single chat completion
	TimeoutSec int `mapstructure:"timeout_sec" yaml:"timeout_sec,omitempty"`
}

// NotionConfig configures the workspace adapter.
type NotionConfig struct {
	Token    string `mapstructure:"token" yaml:"token,omitempty"`
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
	Version  string `mapstructure:"version" yaml:"version"`
	// Timeout bounds each workspace API call
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// RemoteConfig configures the managed execution service.
type RemoteConfig struct {
	// Transport is "crewai" (CrewAI Enterprise MCP HTTP API) or "a2a"
	Transport string `mapstructure:"transport" yaml:"transport"`
	URL       string `mapstructure:"url" yaml:"url"`
	Token     string `mapstructure:"token" yaml:"token,omitempty"`
	// Timeout bounds every backend call
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	// DefaultUnit is the question-answering unit id targeted on the remote path
	DefaultUnit string `mapstructure:"default_unit" yaml:"default_unit"`
}

// HasCredential reports whether a usable remote token is configured.
func (r RemoteConfig) HasCredential() bool {
	return r.Token != "" && r.Token != PlaceholderToken
}

// PipelineConfig bounds the local three-stage pipeline.
type PipelineConfig struct {
	RetrievalRounds int `mapstructure:"retrieval_rounds" yaml:"retrieval_rounds"`
	SynthesisRounds int `mapstructure:"synthesis_rounds" yaml:"synthesis_rounds"`
	// ToolTimeout bounds a single workspace tool call
	ToolTimeout time.Duration `mapstructure:"tool_timeout" yaml:"tool_timeout"`
}

// HistoryConfig controls conversation history persistence.
type HistoryConfig struct {
	Persist   bool          `mapstructure:"persist" yaml:"persist"`
	DBPath    string        `mapstructure:"db_path" yaml:"db_path"`
	Retention time.Duration `mapstructure:"retention" yaml:"retention"`
}

// RedisConfig configures the optional history mirror stream.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password,omitempty"`
	DB       int    `mapstructure:"db" yaml:"db"`
	Stream   string `mapstructure:"stream" yaml:"stream"`
	MaxLen   int64  `mapstructure:"max_len" yaml:"max_len"`
}

// ServerConfig configures the HTTP/WebSocket API.
type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
}

// Addr returns host:port for net/http.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// A2AConfig configures the A2A protocol listener. Empty Addr disables it.
type A2AConfig struct {
	Addr      string `mapstructure:"addr" yaml:"addr"`
	PublicURL string `mapstructure:"public_url" yaml:"public_url"`
}

// SchedulerConfig holds cron specs for background jobs. Empty spec disables a job.
type SchedulerConfig struct {
	StatusProbe      string `mapstructure:"status_probe" yaml:"status_probe"`
	HistoryRetention string `mapstructure:"history_retention" yaml:"history_retention"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level" yaml:"level"` // debug, info, warn or error
	File  string `mapstructure:"file" yaml:"file"`   // JSON lines, empty disables
}

// Default is the configuration written on first run.
func Default() *Config {
	dataDir := DataDir()

	return &Config{
		LLM: LLMConfig{
			DefaultProvider: "openai",
			Providers: map[string]ProviderConfig{
				"openai": {
					Endpoint:    "https://api.openai.com/v1",
					Model:       "gpt-4o-mini",
					Temperature: 0.7,
					TimeoutSec:  120,
				},
				"ollama": {
					Endpoint:    "http://127.0.0.1:11434",
					Model:       "llama3.2",
					Temperature: 0.7,
					TimeoutSec:  300,
				},
			},
		},
		Notion: NotionConfig{
			Endpoint: "https://api.notion.com/v1",
			Version:  "2022-06-28",
			Timeout:  30 * time.Second,
		},
		Remote: RemoteConfig{
			Transport:   "crewai",
			URL:         "https://app.crewai.com",
			Timeout:     30 * time.Second,
			DefaultUnit: "notion_qa_crew",
		},
		Pipeline: PipelineConfig{
			RetrievalRounds: 3,
			SynthesisRounds: 2,
			ToolTimeout:     30 * time.Second,
		},
		History: HistoryConfig{
			Persist:   false,
			DBPath:    filepath.Join(dataDir, "history.db"),
			Retention: 30 * 24 * time.Hour,
		},
		Redis: RedisConfig{
			Enabled: false,
			Addr:    "127.0.0.1:6379",
			Stream:  "notionqa:turns",
			MaxLen:  10000,
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8420,
		},
		A2A: A2AConfig{
			Addr: "",
		},
		Scheduler: SchedulerConfig{
			StatusProbe:      "@every 5m",
			HistoryRetention: "@daily",
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  filepath.Join(dataDir, "logs", "notionqa.log"),
		},
	}
}

// DataDir returns the notionqa data directory (~/.notionqa).
func DataDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".notionqa")
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(DataDir(), "config.yaml")
}

// LoadFromPath reads the YAML file at path, writing Default there first when
// it is missing, and overlays NOTIONQA_* and the legacy environment names.
func LoadFromPath(path string) (*Config, error) {
	v, err := newViper(path)
	if err != nil {
		return nil, err
	}
	return decode(v)
}

func newViper(path string) (*viper.Viper, error) {
	path = expandPath(path)

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if err := writeConfigFile(path, Default()); err != nil {
			return nil, fmt.Errorf("write default config: %w", err)
		}
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Example: NOTIONQA_REMOTE_URL, NOTIONQA_LLM_PROVIDERS_OPENAI_API_KEY
	v.SetEnvPrefix("NOTIONQA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Conventional variable names used by the CrewAI and Notion tooling.
	legacy := map[string]string{
		"remote.url":                    "MCP_CREWAI_ENTERPRISE_SERVER_URL",
		"remote.token":                  "MCP_CREWAI_ENTERPRISE_BEARER_TOKEN",
		"notion.token":                  "NOTION_TOKEN",
		"llm.providers.openai.api_key": "OPENAI_API_KEY",
	}
	for key, env := range legacy {
		prefixed := "NOTIONQA_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.History.DBPath = expandPath(cfg.History.DBPath)
	cfg.Logging.File = expandPath(cfg.Logging.File)
	cfg.applyDefaults()

	return &cfg, nil
}

// applyDefaults fills zero values left by partial config files.
func (c *Config) applyDefaults() {
	d := Default()

	if c.Remote.Transport == "" {
		c.Remote.Transport = d.Remote.Transport
	}
	if c.Remote.URL == "" {
		c.Remote.URL = d.Remote.URL
	}
	if c.Remote.Timeout == 0 {
		c.Remote.Timeout = d.Remote.Timeout
	}
	if c.Remote.DefaultUnit == "" {
		c.Remote.DefaultUnit = d.Remote.DefaultUnit
	}
	if c.Notion.Endpoint == "" {
		c.Notion.Endpoint = d.Notion.Endpoint
	}
	if c.Notion.Version == "" {
		c.Notion.Version = d.Notion.Version
	}
	if c.Notion.Timeout == 0 {
		c.Notion.Timeout = d.Notion.Timeout
	}
	if c.Pipeline.RetrievalRounds == 0 {
		c.Pipeline.RetrievalRounds = d.Pipeline.RetrievalRounds
	}
	if c.Pipeline.SynthesisRounds == 0 {
		c.Pipeline.SynthesisRounds = d.Pipeline.SynthesisRounds
	}
	if c.Pipeline.ToolTimeout == 0 {
		c.Pipeline.ToolTimeout = d.Pipeline.ToolTimeout
	}
	if c.LLM.Providers == nil {
		c.LLM.Providers = d.LLM.Providers
	}
}

// Watch starts watching the config file at path and calls onChange with the
// re-decoded configuration after every write. Decode failures are passed as err.
func Watch(path string, onChange func(cfg *Config, err error)) error {
	v, err := newViper(path)
	if err != nil {
		return err
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		onChange(decode(v))
	})
	v.WatchConfig()
	return nil
}

// SaveToPath writes c as YAML, creating parent directories.
func (c *Config) SaveToPath(path string) error {
	return writeConfigFile(expandPath(path), c)
}

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	provider, providerKnown := c.LLM.Providers[c.LLM.DefaultProvider]
	checks := []struct {
		ok  bool
		msg string
	}{
		{c.LLM.DefaultProvider != "", "llm.default_provider is required"},
		{providerKnown, fmt.Sprintf("llm.default_provider %q not found in llm.providers", c.LLM.DefaultProvider)},
		{provider.MaxTokens >= 0, "llm max_tokens must not be negative"},
		{c.Remote.Transport == "crewai" || c.Remote.Transport == "a2a", fmt.Sprintf("remote.transport %q must be crewai or a2a", c.Remote.Transport)},
		{c.Remote.Timeout > 0, "remote.timeout must be positive"},
		{c.Remote.DefaultUnit != "", "remote.default_unit is required"},
		{c.Pipeline.RetrievalRounds >= 1, "pipeline.retrieval_rounds must be at least 1"},
		{c.Pipeline.SynthesisRounds >= 1, "pipeline.synthesis_rounds must be at least 1"},
		{c.Server.Port >= 0 && c.Server.Port <= 65535, "server.port must be between 0 and 65535"},
		{!c.Redis.Enabled || c.Redis.Addr != "", "redis.addr is required when redis.enabled is set"},
		{slices.Contains([]string{"debug", "info", "warn", "error"}, c.Logging.Level), fmt.Sprintf("log level %q must be debug, info, warn or error", c.Logging.Level)},
	}
	for _, chk := range checks {
		if !chk.ok {
			return errors.New(chk.msg)
		}
	}
	return nil
}

func writeConfigFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	// 0600: the file may hold API tokens.
	return os.WriteFile(path, data, 0o600)
}

// expandPath resolves a leading ~ against the home directory.
func expandPath(path string) string {
	rest, ok := strings.CutPrefix(path, "~")
	if !ok {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, rest)
}
