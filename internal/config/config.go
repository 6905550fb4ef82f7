// Package config loads vegaflow settings from defaults, an optional YAML file
// and VEGAFLOW_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/everydev1618/vegaflow/tools"
)

type LLMConfig struct {
	APIKey    string `mapstructure:"api_key"`
	Model     string `mapstructure:"model"`
	BaseURL   string `mapstructure:"base_url"`
	MaxTokens int    `mapstructure:"max_tokens"`
}

type TracingConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type MCPConfig struct {
	Servers []tools.MCPServer `mapstructure:"servers"`
}

type Config struct {
	DatabasePath string        `mapstructure:"database_path"`
	LogLevel     string        `mapstructure:"log_level"`
	LogFormat    string        `mapstructure:"log_format"`
	RunTimeout   time.Duration `mapstructure:"run_timeout"`
	ToolTimeout  time.Duration `mapstructure:"tool_timeout"` // per tool call; 0 disables
	MaxSteps     int           `mapstructure:"max_steps"`
	LLM          LLMConfig     `mapstructure:"llm"`
	Tracing      TracingConfig `mapstructure:"tracing"`
	MCP          MCPConfig     `mapstructure:"mcp"`
}

func DefaultConfig() *Config {
	return &Config{
		DatabasePath: DefaultDBPath(),
		LogLevel:     "info",
		LogFormat:    "text",
		RunTimeout:   5 * time.Minute,
		MaxSteps:     1000,
		LLM: LLMConfig{
			MaxTokens: 4096,
		},
	}
}

// Load reads the configuration. An empty path searches for vegaflow.yaml in
// the working directory and the vegaflow home; a missing file is not an
// error unless path names it explicitly.
func Load(path string) (*Config, error) {
	config := DefaultConfig()
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("vegaflow")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(Home())
	}

	v.SetEnvPrefix("VEGAFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("database_path", config.DatabasePath)
	v.SetDefault("log_level", config.LogLevel)
	v.SetDefault("log_format", config.LogFormat)
	v.SetDefault("run_timeout", config.RunTimeout)
	v.SetDefault("tool_timeout", config.ToolTimeout)
	v.SetDefault("max_steps", config.MaxSteps)

	// LLM defaults; the model and base URL fall back to the client's own.
	v.SetDefault("llm.api_key", config.LLM.APIKey)
	v.SetDefault("llm.model", config.LLM.Model)
	v.SetDefault("llm.base_url", config.LLM.BaseURL)
	v.SetDefault("llm.max_tokens", config.LLM.MaxTokens)

	v.SetDefault("tracing.enabled", config.Tracing.Enabled)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read configuration file: %w", err)
		}
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

func validateConfig(config *Config) error {
	if config.DatabasePath == "" {
		return fmt.Errorf("the database path cannot be empty")
	}

	if config.RunTimeout < 0 {
		return fmt.Errorf("the run timeout cannot be negative")
	}

	if config.ToolTimeout < 0 {
		return fmt.Errorf("the tool timeout cannot be negative")
	}

	if config.MaxSteps < 0 {
		return fmt.Errorf("max steps cannot be negative")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[config.LogLevel] {
		return fmt.Errorf("invalid log level: %s", config.LogLevel)
	}

	validLogFormats := map[string]bool{
		"json": true, "text": true,
	}
	if !validLogFormats[config.LogFormat] {
		return fmt.Errorf("invalid log format: %s", config.LogFormat)
	}

	for i, s := range config.MCP.Servers {
		if s.Name == "" {
			return fmt.Errorf("mcp server %d has no name", i)
		}
		if _, ok := s.Resolve(); !ok {
			return fmt.Errorf("mcp server %s needs a command or a url", s.Name)
		}
	}

	return nil
}
