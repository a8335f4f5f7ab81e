// Package config provides configuration loading and management.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultFile is the config file LoadDefault looks for.
const DefaultFile = "hackmate.toml"

// Config represents the hackmate configuration.
type Config struct {
	LLM       LLMConfig       `toml:"llm"`
	Router    RouterConfig    `toml:"router"`
	Storage   StorageConfig   `toml:"storage"`
	Tools     ToolsConfig     `toml:"tools"`
	Events    EventsConfig    `toml:"events"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Guard     GuardConfig     `toml:"guard"`
	Skills    SkillsConfig    `toml:"skills"`
}

// LLMConfig contains LLM provider settings.
type LLMConfig struct {
	Provider  string `toml:"provider"`
	Model     string `toml:"model"`
	APIKeyEnv string `toml:"api_key_env"`
	MaxTokens int    `toml:"max_tokens"`
	BaseURL   string `toml:"base_url"` // Custom API endpoint (OpenRouter, LiteLLM, Ollama, LMStudio)
}

// Router modes.
const (
	RouterRules = "rules" // deterministic stage order
	RouterLLM   = "llm"   // model suggests, rules validate
)

// RouterConfig controls how the next stage is chosen.
type RouterConfig struct {
	Mode     string `toml:"mode"`
	MaxSteps int    `toml:"max_steps"` // router visits before forcing FINISH
}

// Storage backends.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// StorageConfig selects the checkpoint backend.
type StorageConfig struct {
	Backend string      `toml:"backend"`
	Path    string      `toml:"path"` // directory for file, database file for sqlite
	Redis   RedisConfig `toml:"redis"`
}

// RedisConfig contains Redis connection settings.
type RedisConfig struct {
	Address   string `toml:"address"`
	Password  string `toml:"password"`
	DB        int    `toml:"db"`
	KeyPrefix string `toml:"key_prefix"`
	TTL       string `toml:"ttl"` // empty = keep forever
}

// ToolsConfig contains settings for the stage tools.
type ToolsConfig struct {
	RepoPath      string `toml:"repo_path"`
	AuthorName    string `toml:"author_name"`
	AuthorEmail   string `toml:"author_email"`
	DeployHookEnv string `toml:"deploy_hook_env"`
	DeployTimeout string `toml:"deploy_timeout"`
}

// EventsConfig contains pipeline event publishing settings.
type EventsConfig struct {
	NATSURL string `toml:"nats_url"` // empty = log only
	Subject string `toml:"subject"`  // prefix; the session id is appended
}

// TelemetryConfig contains telemetry settings.
type TelemetryConfig struct {
	Enabled  bool   `toml:"enabled"`
	Endpoint string `toml:"endpoint"` // OTLP endpoint (e.g., localhost:4317)
	Protocol string `toml:"protocol"` // grpc, http or noop
}

// GuardConfig bounds each worker call.
type GuardConfig struct {
	Timeout          string `toml:"timeout"`
	FailureThreshold int    `toml:"failure_threshold"`
	OpenTimeout      string `toml:"open_timeout"`
	MaxConcurrent    int    `toml:"max_concurrent"`
}

// SkillsConfig points at stage skill overrides.
type SkillsConfig struct {
	Dir string `toml:"dir"`
}

// New creates a new config with defaults.
func New() *Config {
	return &Config{
		LLM: LLMConfig{
			MaxTokens: 4096,
		},
		Router: RouterConfig{
			Mode:     RouterRules,
			MaxSteps: 25,
		},
		Storage: StorageConfig{
			Backend: BackendFile,
			Path:    "~/.local/hackmate/checkpoints",
			Redis: RedisConfig{
				Address:   "localhost:6379",
				KeyPrefix: "hackmate:",
			},
		},
		Tools: ToolsConfig{
			AuthorName:    "hackmate",
			AuthorEmail:   "hackmate@localhost",
			DeployHookEnv: "VERCEL_DEPLOY_HOOK_URL",
			DeployTimeout: "30s",
		},
		Events: EventsConfig{
			Subject: "hackmate.pipeline",
		},
		Telemetry: TelemetryConfig{
			Protocol: "noop",
		},
		Guard: GuardConfig{
			Timeout:          "2m",
			FailureThreshold: 5,
			OpenTimeout:      "30s",
			MaxConcurrent:    8,
		},
	}
}

// Default returns a default configuration.
func Default() *Config {
	return New()
}

// LoadFile loads configuration from a TOML file.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault loads configuration from hackmate.toml in the current directory.
// A missing file yields the defaults.
func LoadDefault() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current directory: %w", err)
	}

	path := filepath.Join(cwd, DefaultFile)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return New(), nil
	}
	return LoadFile(path)
}

// Validate checks enumerated values and durations.
func (c *Config) Validate() error {
	switch c.Router.Mode {
	case RouterRules, RouterLLM:
	default:
		return fmt.Errorf("router.mode must be %q or %q, got %q", RouterRules, RouterLLM, c.Router.Mode)
	}
	if c.Router.MaxSteps <= 0 {
		return fmt.Errorf("router.max_steps must be positive")
	}
	switch c.Storage.Backend {
	case BackendMemory, BackendFile, BackendSQLite, BackendRedis:
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	for name, v := range map[string]string{
		"storage.redis.ttl":    c.Storage.Redis.TTL,
		"tools.deploy_timeout": c.Tools.DeployTimeout,
		"guard.timeout":        c.Guard.Timeout,
		"guard.open_timeout":   c.Guard.OpenTimeout,
	} {
		if _, err := parseDuration(v); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}
	return nil
}

// GetAPIKey returns the API key from the configured environment variable.
// If api_key_env is not set, uses the default env var for the provider.
func (c *Config) GetAPIKey() string {
	envVar := c.LLM.APIKeyEnv
	if envVar == "" {
		envVar = DefaultAPIKeyEnv(c.LLM.Provider)
	}
	if envVar == "" {
		return ""
	}
	return os.Getenv(envVar)
}

// DefaultAPIKeyEnv returns the default environment variable name for a provider.
func DefaultAPIKeyEnv(provider string) string {
	switch provider {
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	case "openai":
		return "OPENAI_API_KEY"
	case "google":
		return "GOOGLE_API_KEY"
	case "mistral":
		return "MISTRAL_API_KEY"
	case "groq":
		return "GROQ_API_KEY"
	default:
		return ""
	}
}

// StoragePath returns Storage.Path with a leading ~ expanded.
func (c *Config) StoragePath() string {
	return ExpandHome(c.Storage.Path)
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if len(path) == 0 || path[0] != '~' {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

// TTLDuration returns the parsed Redis TTL (zero when unset).
func (r RedisConfig) TTLDuration() time.Duration {
	d, _ := parseDuration(r.TTL)
	return d
}

// DeployTimeoutDuration returns the parsed deploy hook timeout.
func (t ToolsConfig) DeployTimeoutDuration() time.Duration {
	d, _ := parseDuration(t.DeployTimeout)
	return d
}

// TimeoutDuration returns the parsed per-call worker timeout.
func (g GuardConfig) TimeoutDuration() time.Duration {
	d, _ := parseDuration(g.Timeout)
	return d
}

// OpenTimeoutDuration returns how long the breaker stays open.
func (g GuardConfig) OpenTimeoutDuration() time.Duration {
	d, _ := parseDuration(g.OpenTimeout)
	return d
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}
