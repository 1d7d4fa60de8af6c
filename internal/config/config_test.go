package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(flags)
	require.NoError(t, flags.Parse(args))
	return flags
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.MaxTurns)
	assert.Equal(t, 1000, cfg.MaxContextLength)
	assert.Equal(t, 64, cfg.ReplyReserve)
	assert.Equal(t, 30*time.Second, cfg.GenerateTimeout)
	assert.Equal(t, []string{"exit", "quit"}, cfg.ExitKeywords)
	assert.Equal(t, "openai", cfg.Provider)
	assert.Equal(t, "cl100k_base", cfg.Encoding)
	assert.Equal(t, ":8100", cfg.Listen)
	assert.Empty(t, cfg.DBPath)
}

func TestLoadEnvironment(t *testing.T) {
	t.Setenv("PADCHAT_MAX_TURNS", "3")
	t.Setenv("PADCHAT_PROVIDER", "ollama")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.MaxTurns)
	assert.Equal(t, "ollama", cfg.Provider)
	assert.Equal(t, "sk-test", cfg.APIKey)
}

func TestFlagsOverrideEnvironment(t *testing.T) {
	t.Setenv("PADCHAT_MAX_CONTEXT_LENGTH", "500")

	cfg, err := Load(newFlags(t, "--max-context-length", "200", "--recover-turns", "--exit-keywords", "bye,stop"))
	require.NoError(t, err)
	assert.Equal(t, 200, cfg.MaxContextLength)
	assert.True(t, cfg.RecoverTurns)
	assert.Equal(t, []string{"bye", "stop"}, cfg.ExitKeywords)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "padchat.yaml")
	require.NoError(t, os.WriteFile(path, []byte("model: tiny\nmax_turns: 4\n"), 0o644))

	cfg, err := Load(newFlags(t, "--config", path))
	require.NoError(t, err)
	assert.Equal(t, "tiny", cfg.Model)
	assert.Equal(t, 4, cfg.MaxTurns)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Provider:         "openai",
			MaxTurns:         10,
			MaxContextLength: 1000,
			ReplyReserve:     64,
			ExitKeywords:     []string{"exit"},
		}
	}
	valid := base()
	require.NoError(t, valid.Validate())

	tests := map[string]func(*Config){
		"negative turns":  func(c *Config) { c.MaxTurns = -1 },
		"tiny context":    func(c *Config) { c.MaxContextLength = 1 },
		"reserve too big": func(c *Config) { c.ReplyReserve = 1000 },
		"zero reserve":    func(c *Config) { c.ReplyReserve = 0 },
		"bad provider":    func(c *Config) { c.Provider = "smoke-signals" },
		"no exit words":   func(c *Config) { c.ExitKeywords = nil },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			c := base()
			mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}
