package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig `json:"basic_config"`
	Model       ModelConfig `json:"model"`
	Chat        ChatConfig  `json:"chat"`
	Log         LogConfig   `json:"log"`
}

type BasicConfig struct {
	ServerAddress      string `json:"server_address"`
	SessionIdleMinutes int    `json:"session_idle_minutes"`
	SweepIntervalMins  int    `json:"sweep_interval_minutes"`
	MinWorkers         int    `json:"min_workers"`
	MaxWorkers         int    `json:"max_workers"`
	QueueSize          int    `json:"queue_size"`
	WorkerIdleTimeout  int    `json:"worker_idle_timeout"` // seconds
}

// ModelConfig describes the local model server and the closed set of models
// a session may select.
type ModelConfig struct {
	Provider              string   `json:"provider"`
	BaseURL               string   `json:"base_url"`
	APIKey                string   `json:"api_key"`
	Models                []string `json:"models"`
	DefaultModel          string   `json:"default_model"`
	Temperature           float64  `json:"temperature"`
	RequestTimeoutSeconds int      `json:"request_timeout_seconds"`
}

type ChatConfig struct {
	SystemPrompt   string   `json:"system_prompt"`
	Greeting       string   `json:"greeting"`
	ReasoningStart string   `json:"reasoning_start"`
	ReasoningEnd   string   `json:"reasoning_end"`
	Title          string   `json:"title"`
	Caption        string   `json:"caption"`
	Capabilities   []string `json:"capabilities"`
}

type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	File   string `json:"file"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		BasicConfig: BasicConfig{
			ServerAddress:      ":8501",
			SessionIdleMinutes: 60,
			SweepIntervalMins:  5,
			MinWorkers:         0,
			MaxWorkers:         2,
			QueueSize:          16,
			WorkerIdleTimeout:  60,
		},
		Model: ModelConfig{
			Provider:              ProviderOllama,
			BaseURL:               "http://localhost:11434",
			Models:                []string{"deepseek-r1:1.5b", "deepseek-r1:3b", "qwen2.5:1.5b"},
			DefaultModel:          "deepseek-r1:1.5b",
			Temperature:           0.3,
			RequestTimeoutSeconds: 120,
		},
		Chat: ChatConfig{
			SystemPrompt: "You are an expert AI coding assistant. Provide concise, correct solutions " +
				"with strategic print statements for debugging. Always respond in English.",
			Greeting:       "Hi! I am DeepSeek. How can I help you code today?",
			ReasoningStart: "<think>",
			ReasoningEnd:   "</think>",
			Title:          "DeepSeek Code Companion",
			Caption:        "Your AI Pair Programmer with Debugging Superpowers",
			Capabilities:   []string{"Python Expert", "Debugging Assistant", "Code Documentation", "Solution Design"},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads configuration from the provided path (defaults to config.json).
// When no path is given and config.json does not exist, defaults are used.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	cfg := Default()
	file, err := os.Open(absPath)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	// derived from the model list unless the file names one
	cfg.Model.DefaultModel = ""
	if err := json.NewDecoder(file).Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if cfg.Log.File != "" && !filepath.IsAbs(cfg.Log.File) {
		cfg.Log.File = filepath.Join(filepath.Dir(absPath), cfg.Log.File)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate fills derived defaults and rejects inconsistent settings.
func (c *Config) Validate() error {
	c.Model.Provider = strings.ToLower(strings.TrimSpace(c.Model.Provider))
	switch c.Model.Provider {
	case "":
		c.Model.Provider = ProviderOllama
	case ProviderOllama, ProviderOpenAI:
	default:
		return fmt.Errorf("unsupported model provider: %s", c.Model.Provider)
	}
	if strings.TrimSpace(c.Model.BaseURL) == "" {
		return errors.New("model.base_url must be configured")
	}
	if len(c.Model.Models) == 0 {
		return errors.New("model.models must list at least one model")
	}
	if c.Model.DefaultModel == "" {
		c.Model.DefaultModel = c.Model.Models[0]
	}
	if !slices.Contains(c.Model.Models, c.Model.DefaultModel) {
		return fmt.Errorf("default_model %q is not in model.models", c.Model.DefaultModel)
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 2 {
		return fmt.Errorf("model.temperature %.2f out of range [0, 2]", c.Model.Temperature)
	}
	if c.Model.RequestTimeoutSeconds <= 0 {
		c.Model.RequestTimeoutSeconds = 120
	}
	if c.Chat.ReasoningStart == "" || c.Chat.ReasoningEnd == "" {
		return errors.New("chat reasoning markers must not be empty")
	}
	if c.BasicConfig.ServerAddress == "" {
		c.BasicConfig.ServerAddress = ":8501"
	}
	if c.BasicConfig.MaxWorkers <= 0 {
		c.BasicConfig.MaxWorkers = 1
	}
	if c.BasicConfig.MinWorkers < 0 || c.BasicConfig.MinWorkers > c.BasicConfig.MaxWorkers {
		return fmt.Errorf("min_workers %d must be between 0 and max_workers %d",
			c.BasicConfig.MinWorkers, c.BasicConfig.MaxWorkers)
	}
	if c.BasicConfig.QueueSize <= 0 {
		c.BasicConfig.QueueSize = 16
	}
	return nil
}
