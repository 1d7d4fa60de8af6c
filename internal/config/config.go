// Package config loads padchat settings from defaults, an optional config
// file, a .env file, PADCHAT_* environment variables and command-line flags,
// in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "PADCHAT"

type Config struct {
	Provider     string `mapstructure:"provider"`
	BaseURL      string `mapstructure:"base_url"`
	APIKey       string `mapstructure:"api_key"`
	Model        string `mapstructure:"model"`
	SystemPrompt string `mapstructure:"system_prompt"`
	Encoding     string `mapstructure:"encoding"`

	MaxTurns         int           `mapstructure:"max_turns"`
	MaxContextLength int           `mapstructure:"max_context_length"`
	ReplyReserve     int           `mapstructure:"reply_reserve"`
	GenerateTimeout  time.Duration `mapstructure:"generate_timeout"`
	ExitKeywords     []string      `mapstructure:"exit_keywords"`
	RecoverTurns     bool          `mapstructure:"recover_turns"`

	DBPath string `mapstructure:"db_path"`
	Listen string `mapstructure:"listen"`
	Debug  bool   `mapstructure:"debug"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("provider", "openai")
	v.SetDefault("base_url", "http://localhost:11434/v1/")
	v.SetDefault("api_key", "")
	v.SetDefault("model", "llama3.1:8b")
	v.SetDefault("system_prompt", "")
	v.SetDefault("encoding", "cl100k_base")
	v.SetDefault("max_turns", 10)
	v.SetDefault("max_context_length", 1000)
	v.SetDefault("reply_reserve", 64)
	v.SetDefault("generate_timeout", 30*time.Second)
	v.SetDefault("exit_keywords", []string{"exit", "quit"})
	v.SetDefault("recover_turns", false)
	v.SetDefault("db_path", "")
	v.SetDefault("listen", ":8100")
	v.SetDefault("debug", false)
}

// RegisterFlags adds the settings shared by every entrypoint to flags.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String("config", "", "Path to a config file (yaml, json or toml)")
	flags.String("provider", "openai", "LLM provider: openai or ollama")
	flags.String("base-url", "http://localhost:11434/v1/", "LLM API base URL")
	flags.String("model", "llama3.1:8b", "Model name")
	flags.String("system-prompt", "", "System prompt sent before the conversation")
	flags.String("encoding", "cl100k_base", "Tokenizer encoding")
	flags.Int("max-turns", 10, "Maximum number of turns per session")
	flags.Int("max-context-length", 1000, "Token ceiling for input plus reply")
	flags.Int("reply-reserve", 64, "Tokens kept free for the reply when old turns are evicted")
	flags.Duration("generate-timeout", 30*time.Second, "Timeout for one generation call")
	flags.StringSlice("exit-keywords", []string{"exit", "quit"}, "Words that end the session (case-insensitive)")
	flags.Bool("recover-turns", false, "Report failed turns and keep the session going")
	flags.String("db", "", "SQLite transcript path; empty disables the transcript")
	flags.Bool("debug", false, "Enable debug logging")
}

var flagKeys = map[string]string{
	"provider":           "provider",
	"base-url":           "base_url",
	"model":              "model",
	"system-prompt":      "system_prompt",
	"encoding":           "encoding",
	"max-turns":          "max_turns",
	"max-context-length": "max_context_length",
	"reply-reserve":      "reply_reserve",
	"generate-timeout":   "generate_timeout",
	"exit-keywords":      "exit_keywords",
	"recover-turns":      "recover_turns",
	"db":                 "db_path",
	"listen":             "listen",
	"debug":              "debug",
}

// Load builds a Config. flags may be nil.
func Load(flags *pflag.FlagSet) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	// OPENAI_API_KEY is honoured as well
	if err := v.BindEnv("api_key", envPrefix+"_API_KEY", "OPENAI_API_KEY"); err != nil {
		return nil, err
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
		if f := flags.Lookup("config"); f != nil && f.Value.String() != "" {
			v.SetConfigFile(f.Value.String())
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch {
	case c.MaxTurns < 0:
		return fmt.Errorf("max_turns must not be negative, got %d", c.MaxTurns)
	case c.MaxContextLength < 2:
		return fmt.Errorf("max_context_length must be at least 2, got %d", c.MaxContextLength)
	case c.ReplyReserve < 1 || c.ReplyReserve >= c.MaxContextLength:
		return fmt.Errorf("reply_reserve must be between 1 and %d, got %d", c.MaxContextLength-1, c.ReplyReserve)
	case c.Provider != "openai" && c.Provider != "ollama":
		return fmt.Errorf("unsupported provider %q", c.Provider)
	case len(c.ExitKeywords) == 0:
		return errors.New("at least one exit keyword is required")
	}
	return nil
}
