// Package config loads coda settings.
//
// Load order: defaults, then <project>/.coda/config.yaml, then .env in the
// project root (never overriding variables already set), then environment
// overrides. Command-line flags are applied last by the cli package.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// DirName is the per-project directory holding coda's own files.
	DirName          = ".coda"
	configFileName   = "config.yaml"
	gitignoreContent = "*\n"
)

// Environment variables read by Load.
const (
	EnvProvider  = "CODA_PROVIDER"
	EnvModel     = "CODA_MODEL"
	EnvAnthropic = "ANTHROPIC_API_KEY"
	EnvOpenAI    = "OPENAI_API_KEY"
	EnvGemini    = "GEMINI_API_KEY"
)

var apiKeyEnv = map[string]string{
	"anthropic": EnvAnthropic,
	"openai":    EnvOpenAI,
	"gemini":    EnvGemini,
}

type GenerationConfig struct {
	Strategy    string        `yaml:"strategy"`
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
}

type PatchConfig struct {
	FuzzWindow int `yaml:"fuzz_window"`
}

type ReviewerConfig struct {
	Command    []string `yaml:"command"`
	DisableTUI bool     `yaml:"disable_tui"`
}

type ContextConfig struct {
	Include  []string `yaml:"include"`
	MaxBytes int      `yaml:"max_bytes"`
}

type NvimConfig struct {
	Refresh bool `yaml:"refresh"`
}

// Config is the resolved configuration for one project.
type Config struct {
	Provider        string           `yaml:"provider"`
	Model           string           `yaml:"model"`
	BaseURL         string           `yaml:"base_url"`
	APIKey          string           `yaml:"api_key"`
	MaxOutputTokens int              `yaml:"max_output_tokens"`
	Generation      GenerationConfig `yaml:"generation"`
	Patch           PatchConfig      `yaml:"patch"`
	Reviewer        ReviewerConfig   `yaml:"reviewer"`
	Context         ContextConfig    `yaml:"context"`
	Nvim            NvimConfig       `yaml:"nvim"`

	// Root is the project directory. It is never read from the file.
	Root    string `yaml:"-"`
	Verbose bool   `yaml:"-"`
}

// Default returns the built-in configuration for root.
func Default(root string) Config {
	return Config{
		Provider: "anthropic",
		Generation: GenerationConfig{
			Strategy:    "batched",
			MaxAttempts: 3,
			BaseDelay:   time.Second,
		},
		Patch:   PatchConfig{FuzzWindow: 3},
		Context: ContextConfig{MaxBytes: 400000},
		Nvim:    NvimConfig{Refresh: true},
		Root:    root,
	}
}

// Load resolves the configuration for the project at root.
func Load(root string) (Config, error) {
	cfg := Default(root)

	path := filepath.Join(root, DirName, configFileName)
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
		}
	case !errors.Is(err, os.ErrNotExist):
		return Config{}, err
	}
	cfg.Root = root

	if err := godotenv.Load(filepath.Join(root, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("invalid .env: %w", err)
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv(EnvProvider)); v != "" {
		c.Provider = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvModel)); v != "" {
		c.Model = v
	}
	c.Provider = strings.ToLower(strings.TrimSpace(c.Provider))
	if c.APIKey == "" {
		c.APIKey = APIKeyFromEnv(c.Provider)
	}
}

// APIKeyFromEnv returns the key the environment holds for provider.
func APIKeyFromEnv(provider string) string {
	if name, ok := apiKeyEnv[provider]; ok {
		return strings.TrimSpace(os.Getenv(name))
	}
	return ""
}

// Validate checks values that would otherwise fail deep inside a run.
func (c Config) Validate() error {
	if _, ok := apiKeyEnv[c.Provider]; !ok {
		return fmt.Errorf("unknown provider %q", c.Provider)
	}
	switch strings.ToLower(c.Generation.Strategy) {
	case "", "batched", "per_file", "per-file":
	default:
		return fmt.Errorf("unknown generation strategy %q", c.Generation.Strategy)
	}
	if c.Generation.MaxAttempts < 1 {
		return errors.New("generation.max_attempts must be at least 1")
	}
	if c.Generation.BaseDelay < 0 {
		return errors.New("generation.base_delay must not be negative")
	}
	if c.Context.MaxBytes < 0 {
		return errors.New("context.max_bytes must not be negative")
	}
	return nil
}

// Dir is the project's .coda directory.
func (c Config) Dir() string { return filepath.Join(c.Root, DirName) }

// ConversationPath is the conversation log.
func (c Config) ConversationPath() string { return filepath.Join(c.Dir(), "conversation.jsonl") }

// FailureLogPath is the patch failure log.
func (c Config) FailureLogPath() string { return filepath.Join(c.Dir(), "patch-failures.jsonl") }

// HistoryPath is the run history database.
func (c Config) HistoryPath() string { return filepath.Join(c.Dir(), "history.db") }

// LogDir holds diagnostic logs.
func (c Config) LogDir() string { return filepath.Join(c.Dir(), "logs") }

// EnsureDir creates the .coda directory with a .gitignore that hides all of
// its contents from git.
func EnsureDir(root string) error {
	dir := filepath.Join(root, DirName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("could not create %s: %w", dir, err)
	}
	ignore := filepath.Join(dir, ".gitignore")
	if _, err := os.Stat(ignore); errors.Is(err, os.ErrNotExist) {
		if err := os.WriteFile(ignore, []byte(gitignoreContent), 0644); err != nil {
			return fmt.Errorf("could not write %s: %w", ignore, err)
		}
	}
	return nil
}
