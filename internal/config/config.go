// Package config loads and manages nabd configuration.
// Sources, highest priority first:
//  1. Environment variables (NABD_*, plus LLM_API_KEY, LLM_BASE_URL, ANTHROPIC_API_KEY)
//  2. The file given by --config
//  3. ~/.config/nabd/config.yaml
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultHomeURL is the address new sessions open when none is given.
	DefaultHomeURL = "https://www.google.com"
	// BlankPage never enters history.
	BlankPage = "about:blank"

	defaultSearchURL        = "https://www.google.com/search?q=%s"
	defaultUserAgent        = "Mozilla/5.0 (Linux; Android 10; SM-G975F) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36"
	defaultDesktopUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// ProviderConfig holds credentials for one LLM provider.
type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// AssistantConfig bounds what the AI panel sends to the provider.
type AssistantConfig struct {
	MaxTokens int `yaml:"max_tokens"`

	// PageLimit caps page text for summaries and questions (characters).
	PageLimit int `yaml:"page_limit"`

	// ContextLimit caps the page context sent with a selection to explain.
	ContextLimit int `yaml:"context_limit"`

	// QuestionLimit caps page text embedded in a question prompt.
	QuestionLimit int `yaml:"question_limit"`

	// Language the assistant answers in.
	Language string `yaml:"language"`

	// HistoryMessages is how many previous panel messages a question carries.
	HistoryMessages int `yaml:"history_messages"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
	// File receives log output; empty means <data_dir>/nabd.log.
	File string `yaml:"file"`
}

// Config is the complete nabd configuration.
type Config struct {
	HomeURL          string `yaml:"home_url"`
	SearchURL        string `yaml:"search_url"`
	UserAgent        string `yaml:"user_agent"`
	DesktopUserAgent string `yaml:"desktop_user_agent"`

	DataDir     string `yaml:"data_dir"`
	DownloadDir string `yaml:"download_dir"`

	// Provider is the active LLM provider name ("anthropic", "openai", "deepseek", ...).
	Provider  string                     `yaml:"provider"`
	Model     string                     `yaml:"model"`
	Providers map[string]*ProviderConfig `yaml:"providers"`

	Assistant AssistantConfig `yaml:"assistant"`
	Log       LogConfig       `yaml:"log"`

	// StrictSurfaces panics on use of a disposed render surface instead of
	// logging and returning an error.
	StrictSurfaces bool `yaml:"strict_surfaces"`
}

// envOverrides mirrors the NABD_* environment variables.
type envOverrides struct {
	HomeURL     string `envconfig:"HOME_URL"`
	SearchURL   string `envconfig:"SEARCH_URL"`
	DataDir     string `envconfig:"DATA_DIR"`
	DownloadDir string `envconfig:"DOWNLOAD_DIR"`
	Provider    string `envconfig:"PROVIDER"`
	Model       string `envconfig:"MODEL"`
	LogLevel    string `envconfig:"LOG_LEVEL"`
	Strict      bool   `envconfig:"STRICT_SURFACES"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	dataDir := ""
	downloadDir := ""
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".local", "share", "nabd")
		downloadDir = filepath.Join(home, "Downloads")
	}
	return &Config{
		HomeURL:          DefaultHomeURL,
		SearchURL:        defaultSearchURL,
		UserAgent:        defaultUserAgent,
		DesktopUserAgent: defaultDesktopUserAgent,
		DataDir:          dataDir,
		DownloadDir:      downloadDir,
		Provider:         "anthropic",
		Providers:        make(map[string]*ProviderConfig),
		Assistant: AssistantConfig{
			MaxTokens:       1024,
			PageLimit:       15000,
			ContextLimit:    5000,
			QuestionLimit:   10000,
			HistoryMessages: 6,
			Language:        "Arabic",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// DefaultPath returns ~/.config/nabd/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "nabd", "config.yaml"), nil
}

// Load reads the config file (a missing file is not an error) and applies
// environment overrides.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath == "" {
		if p, err := DefaultPath(); err == nil {
			configPath = p
		}
	}

	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
		}
	}

	if cfg.Providers == nil {
		cfg.Providers = make(map[string]*ProviderConfig)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	cfg.fillDefaults()
	return cfg, nil
}

// GetProviderConfig returns the named provider's config, or an empty one.
func (c *Config) GetProviderConfig(name string) *ProviderConfig {
	if pc, ok := c.Providers[name]; ok && pc != nil {
		return pc
	}
	return &ProviderConfig{}
}

// DatabasePath is where the records store lives.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "nabd.db")
}

// LogPath is where the logger writes when no file is configured.
func (c *Config) LogPath() string {
	if c.Log.File != "" {
		return c.Log.File
	}
	return filepath.Join(c.DataDir, "nabd.log")
}

// fillDefaults restores zero values a partial config file may have left.
func (c *Config) fillDefaults() {
	def := DefaultConfig()
	if c.HomeURL == "" {
		c.HomeURL = def.HomeURL
	}
	if c.SearchURL == "" {
		c.SearchURL = def.SearchURL
	}
	if c.UserAgent == "" {
		c.UserAgent = def.UserAgent
	}
	if c.DesktopUserAgent == "" {
		c.DesktopUserAgent = def.DesktopUserAgent
	}
	if c.Assistant.MaxTokens <= 0 {
		c.Assistant.MaxTokens = def.Assistant.MaxTokens
	}
	if c.Assistant.PageLimit <= 0 {
		c.Assistant.PageLimit = def.Assistant.PageLimit
	}
	if c.Assistant.ContextLimit <= 0 {
		c.Assistant.ContextLimit = def.Assistant.ContextLimit
	}
	if c.Assistant.QuestionLimit <= 0 {
		c.Assistant.QuestionLimit = def.Assistant.QuestionLimit
	}
	if c.Assistant.HistoryMessages <= 0 {
		c.Assistant.HistoryMessages = def.Assistant.HistoryMessages
	}
	if c.Assistant.Language == "" {
		c.Assistant.Language = def.Assistant.Language
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
}

func applyEnvOverrides(cfg *Config) error {
	var env envOverrides
	if err := envconfig.Process("NABD", &env); err != nil {
		return fmt.Errorf("failed to load environment: %w", err)
	}

	if env.HomeURL != "" {
		cfg.HomeURL = env.HomeURL
	}
	if env.SearchURL != "" {
		cfg.SearchURL = env.SearchURL
	}
	if env.DataDir != "" {
		cfg.DataDir = env.DataDir
	}
	if env.DownloadDir != "" {
		cfg.DownloadDir = env.DownloadDir
	}
	if env.Provider != "" {
		cfg.Provider = env.Provider
	}
	if env.Model != "" {
		cfg.Model = env.Model
	}
	if env.LogLevel != "" {
		cfg.Log.Level = env.LogLevel
	}
	if env.Strict {
		cfg.StrictSurfaces = true
	}

	// Generic keys apply to whichever provider is active.
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		providerEntry(cfg, cfg.Provider).APIKey = v
	}
	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		providerEntry(cfg, cfg.Provider).BaseURL = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		providerEntry(cfg, "anthropic").APIKey = v
	}
	return nil
}

func providerEntry(cfg *Config, name string) *ProviderConfig {
	if cfg.Providers[name] == nil {
		cfg.Providers[name] = &ProviderConfig{}
	}
	return cfg.Providers[name]
}

// Save writes cfg as YAML to path, creating parent directories.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}
